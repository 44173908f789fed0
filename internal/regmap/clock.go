package regmap

import "fmt"

const clockMask = 0xFFFFFF

// 锁定时钟时设备保存的是下标而不是频率, 下标顺序与 ClockRates 一致
var clockRates = [...]uint32{1000000, 985248, 1022727, 1023440, 1022730}

// EncodeClockRate 将频率拆成大端序的三个字节, 超出 24 位的部分被丢弃
func EncodeClockRate(hz uint32) (h, m, l byte) {
	hz &= clockMask
	return byte(hz >> 16), byte(hz >> 8), byte(hz)
}

// DecodeClockRate 是 EncodeClockRate 的逆运算
func DecodeClockRate(h, m, l byte) uint32 {
	return uint32(h)<<16 | uint32(m)<<8 | uint32(l)
}

// ClockIDFor 返回标准频率对应的时钟 id
func ClockIDFor(hz uint32) (byte, error) {
	for i, r := range clockRates {
		if r == hz {
			return byte(i), nil
		}
	}
	return 0, fmt.Errorf("%d Hz: %w", hz, ErrUnsupportedClock)
}

// ClockRateFor 返回 id 对应的频率
func ClockRateFor(id byte) (uint32, error) {
	if int(id) >= len(clockRates) {
		return 0, fmt.Errorf("clock id %d: %w", id, ErrOutOfRange)
	}
	return clockRates[id], nil
}

// ClockRateList 返回全部标准频率
func ClockRateList() []uint32 {
	return append([]uint32(nil), clockRates[:]...)
}

// ClockLabel 标准频率返回带名字的显示值, 否则返回数字本身
func ClockLabel(hz uint32) string {
	if id, err := ClockIDFor(hz); err == nil {
		label, _ := ClockRates.Lookup(int(id))
		return label
	}
	return fmt.Sprintf("%d", hz)
}
