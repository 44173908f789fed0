package regmap

import (
	"fmt"
	"sort"
)

const (
	// BlobSize 配置块长度, 即一个 USB 全速包
	BlobSize = 64
	// ConfigEcho 配置块首字节回显 READ_CONFIG
	ConfigEcho = 0x30
	// MinFirmware 支持写操作的最低固件版本
	MinFirmware = "0.2.4"
)

// SetMode 描述 SET_CONFIG 帧中 item 和 value 两个字节怎么填
type SetMode int

const (
	// SetValue item 为组内下标, value 为新值
	SetValue SetMode = iota
	// SetItemIsValue 新值放在 item 字节, value 固定为 0
	SetItemIsValue
	// SetClockLock 特例: item 放当前时钟频率的 id, value 为开关
	SetClockLock
	// ReadOnly 只读
	ReadOnly
)

func (m SetMode) String() string {
	switch m {
	case SetValue:
		return "value"
	case SetItemIsValue:
		return "item-is-value"
	case SetClockLock:
		return "clock-lock"
	case ReadOnly:
		return "read-only"
	}
	return fmt.Sprintf("SetMode(%d)", int(m))
}

// FieldSpec 一个命名字段在配置块中的位置和取值范围
type FieldSpec struct {
	Name   string
	Group  string  // 所属分组, 与 Profile 的段落一致
	Offset int     // 字节偏移
	Domain *Enum   // nil 表示原始字节 0-255
	Mode   SetMode // 写入方式
	Item   byte    // SetValue 模式下的组内下标
	Clock  bool    // 24 位时钟频率 (offset, offset+1, offset+2)
}

// Writable 字段是否接受 SET_CONFIG
func (f FieldSpec) Writable() bool { return f.Mode != ReadOnly }

// Bound 原始值的上限 (不含)
func (f FieldSpec) Bound() int {
	if f.Domain != nil {
		return f.Domain.Len()
	}
	return 256
}

var fieldTable = []FieldSpec{
	{Name: "clock_lock", Group: "General", Offset: 5, Domain: TrueFalse, Mode: SetClockLock},
	{Name: "external_clock", Group: "General", Offset: 6, Domain: IntExt, Mode: ReadOnly},
	{Name: "clock_rate", Group: "General", Offset: 7, Mode: SetItemIsValue, Clock: true},
	{Name: "clock_rate_mid", Group: "General", Offset: 8, Mode: ReadOnly},
	{Name: "clock_rate_low", Group: "General", Offset: 9, Mode: ReadOnly},

	{Name: "socket_one_enabled", Group: "SocketOne", Offset: 10, Domain: TrueFalse, Item: 0},
	{Name: "socket_one_dualsid", Group: "SocketOne", Offset: 11, Domain: Enabled, Item: 1},
	{Name: "socket_one_chiptype", Group: "SocketOne", Offset: 12, Domain: ChipTypes, Item: 2},
	{Name: "socket_one_clonetype", Group: "SocketOne", Offset: 13, Domain: CloneTypes, Item: 3},
	{Name: "socket_one_sid1type", Group: "SocketOne", Offset: 14, Domain: SIDTypes, Item: 4},
	{Name: "socket_one_sid2type", Group: "SocketOne", Offset: 15, Domain: SIDTypes, Item: 5},

	{Name: "socket_two_enabled", Group: "SocketTwo", Offset: 20, Domain: TrueFalse, Item: 0},
	{Name: "socket_two_dualsid", Group: "SocketTwo", Offset: 21, Domain: Enabled, Item: 1},
	{Name: "socket_two_act_as_one", Group: "SocketTwo", Offset: 22, Domain: Enabled, Item: 6},
	{Name: "socket_two_chiptype", Group: "SocketTwo", Offset: 23, Domain: ChipTypes, Item: 2},
	{Name: "socket_two_clonetype", Group: "SocketTwo", Offset: 24, Domain: CloneTypes, Item: 3},
	{Name: "socket_two_sid1type", Group: "SocketTwo", Offset: 25, Domain: SIDTypes, Item: 4},
	{Name: "socket_two_sid2type", Group: "SocketTwo", Offset: 26, Domain: SIDTypes, Item: 5},

	{Name: "led_enabled", Group: "LED", Offset: 30, Domain: Enabled, Item: 0},
	{Name: "led_breathe", Group: "LED", Offset: 31, Domain: Enabled, Item: 1},

	{Name: "rgbled_enabled", Group: "RGBLED", Offset: 40, Domain: Enabled, Item: 0},
	{Name: "rgbled_breathe", Group: "RGBLED", Offset: 41, Domain: Enabled, Item: 1},
	{Name: "rgbled_brightness", Group: "RGBLED", Offset: 42, Item: 2},
	{Name: "rgbled_sidno", Group: "RGBLED", Offset: 43, Item: 3},

	{Name: "cdc_enabled", Group: "Protocols", Offset: 51, Domain: Enabled},
	{Name: "webusb_enabled", Group: "Protocols", Offset: 52, Domain: Enabled},
	{Name: "asid_enabled", Group: "Protocols", Offset: 53, Domain: Enabled},
	{Name: "midi_enabled", Group: "Protocols", Offset: 54, Domain: Enabled},

	{Name: "fmopl_enabled", Group: "FMOpl", Offset: 55, Domain: Enabled, Mode: SetItemIsValue},
	{Name: "fmopl_sidno", Group: "FMOpl", Offset: 56, Mode: ReadOnly},

	{Name: "audio_switch", Group: "AudioSwitch", Offset: 57, Domain: MonoStereo, Mode: SetItemIsValue},
}

var fieldIndex = func() map[string]int {
	m := make(map[string]int, len(fieldTable))
	seen := make(map[int]string, len(fieldTable))
	for i, f := range fieldTable {
		if other, dup := seen[f.Offset]; dup {
			panic(fmt.Sprintf("regmap: offset %d used by %s and %s", f.Offset, other, f.Name))
		}
		if f.Offset >= BlobSize {
			panic(fmt.Sprintf("regmap: offset %d of %s outside blob", f.Offset, f.Name))
		}
		seen[f.Offset] = f.Name
		m[f.Name] = i
	}
	return m
}()

// Lookup 按名字查找字段
func Lookup(name string) (FieldSpec, error) {
	i, ok := fieldIndex[name]
	if !ok {
		return FieldSpec{}, fmt.Errorf("%q: %w", name, ErrUnknownField)
	}
	return fieldTable[i], nil
}

// FieldOffset 返回字段的字节偏移
func FieldOffset(name string) (int, error) {
	f, err := Lookup(name)
	if err != nil {
		return 0, err
	}
	return f.Offset, nil
}

// Fields 按偏移顺序返回全部字段
func Fields() []FieldSpec {
	res := append([]FieldSpec(nil), fieldTable...)
	sort.Slice(res, func(i, j int) bool { return res[i].Offset < res[j].Offset })
	return res
}

// Names 全部字段名
func Names() []string {
	res := make([]string, 0, len(fieldTable))
	for _, f := range Fields() {
		res = append(res, f.Name)
	}
	return res
}
