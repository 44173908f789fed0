package regmap

// DefaultBlob 出厂配置: 1MHz 时钟, 两个插槽各一颗真 SID, LED/RGB 呼吸, 全部协议开启
func DefaultBlob() []byte {
	b := NewBlob()
	b[7], b[8], b[9] = EncodeClockRate(clockRates[0])
	b[10] = 1 // socket_one_enabled
	b[20] = 1 // socket_two_enabled
	b[30] = 1
	b[31] = 1
	b[40] = 1
	b[41] = 1
	b[42] = 0x7F // 一半亮度
	b[43] = 1
	for off := 51; off <= 54; off++ {
		b[off] = 1
	}
	return b
}
