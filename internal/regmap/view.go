package regmap

import (
	"fmt"
	"strconv"
	"strings"
)

// DisplayValue 一个字段解码后的值
type DisplayValue struct {
	Name string `json:"name"`
	Raw  int    `json:"raw"`  // 原始值, clock_rate 为 Hz
	Text string `json:"text"` // 显示值
}

func checkBlob(blob []byte) error {
	if len(blob) != BlobSize {
		return fmt.Errorf("got %d bytes, want %d: %w", len(blob), BlobSize, ErrBlobSize)
	}
	return nil
}

func decodeSpec(blob []byte, f FieldSpec) (DisplayValue, error) {
	if f.Clock {
		hz := DecodeClockRate(blob[f.Offset], blob[f.Offset+1], blob[f.Offset+2])
		return DisplayValue{Name: f.Name, Raw: int(hz), Text: ClockLabel(hz)}, nil
	}
	raw := int(blob[f.Offset])
	if f.Domain == nil {
		return DisplayValue{Name: f.Name, Raw: raw, Text: strconv.Itoa(raw)}, nil
	}
	text, err := f.Domain.Lookup(raw)
	if err != nil {
		return DisplayValue{}, fmt.Errorf("%s: %w", f.Name, err)
	}
	return DisplayValue{Name: f.Name, Raw: raw, Text: text}, nil
}

// DecodeField 解码单个字段, 枚举越界返回 ErrOutOfRange, 原始字节不会失败
func DecodeField(blob []byte, name string) (DisplayValue, error) {
	f, err := Lookup(name)
	if err != nil {
		return DisplayValue{}, err
	}
	if err := checkBlob(blob); err != nil {
		return DisplayValue{}, err
	}
	return decodeSpec(blob, f)
}

// EncodeField 原地写入一个字段, clock_rate 的 raw 为 Hz
func EncodeField(blob []byte, name string, raw int) error {
	f, err := Lookup(name)
	if err != nil {
		return err
	}
	if err := checkBlob(blob); err != nil {
		return err
	}
	if f.Clock {
		if raw < 0 || raw > clockMask {
			return fmt.Errorf("%s=%d: %w", name, raw, ErrOutOfRange)
		}
		blob[f.Offset], blob[f.Offset+1], blob[f.Offset+2] = EncodeClockRate(uint32(raw))
		return nil
	}
	if raw < 0 || raw >= f.Bound() {
		return fmt.Errorf("%s=%d: %w", name, raw, ErrOutOfRange)
	}
	blob[f.Offset] = byte(raw)
	return nil
}

// ResolveClock 接受时钟 id 或者标准频率, 返回两者
func ResolveClock(v int) (byte, uint32, error) {
	if v >= 0 && v < len(clockRates) {
		return byte(v), clockRates[v], nil
	}
	if v < 0 || v > clockMask {
		return 0, 0, fmt.Errorf("clock %d: %w", v, ErrUnsupportedClock)
	}
	id, err := ClockIDFor(uint32(v))
	if err != nil {
		return 0, 0, err
	}
	return id, uint32(v), nil
}

// ParseValue 将用户输入 (显示值或数字) 转成字段原始值
func ParseValue(name, text string) (int, error) {
	f, err := Lookup(name)
	if err != nil {
		return 0, err
	}
	text = strings.TrimSpace(text)
	if f.Domain != nil {
		if idx, err := f.Domain.Index(text); err == nil {
			return int(idx), nil
		}
		// 常用别名
		switch strings.ToLower(text) {
		case "true", "on", "yes":
			return 1, nil
		case "false", "off", "no":
			return 0, nil
		}
	}
	if f.Clock {
		if id, err := ClockRates.Index(text); err == nil {
			return int(clockRates[id]), nil
		}
		if i := strings.IndexByte(text, ' '); i > 0 {
			text = text[:i]
		}
	}
	v, err := strconv.Atoi(text)
	if err != nil {
		return 0, fmt.Errorf("%s: %q: %w", name, text, ErrOutOfRange)
	}
	if v < 0 || (!f.Clock && v >= f.Bound()) {
		return 0, fmt.Errorf("%s=%d: %w", name, v, ErrOutOfRange)
	}
	return v, nil
}

// FieldValues 按偏移顺序解码全部字段
func FieldValues(blob []byte) ([]DisplayValue, error) {
	if err := checkBlob(blob); err != nil {
		return nil, err
	}
	fields := Fields()
	res := make([]DisplayValue, 0, len(fields))
	for _, f := range fields {
		v, err := decodeSpec(blob, f)
		if err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, nil
}

type General struct {
	ClockLock     bool   `json:"clock_lock"`
	ExternalClock bool   `json:"external_clock"`
	ClockRate     uint32 `json:"clock_rate"`
	ClockLabel    string `json:"clock_label"`
}

type Socket struct {
	Enabled   bool   `json:"enabled"`
	DualSID   bool   `json:"dualsid"`
	ActAsOne  bool   `json:"act_as_one,omitempty"`
	ChipType  string `json:"chiptype"`
	CloneType string `json:"clonetype"`
	SID1Type  string `json:"sid1type"`
	SID2Type  string `json:"sid2type"`
}

type LED struct {
	Enabled bool `json:"enabled"`
	Breathe bool `json:"breathe"`
}

type RGBLED struct {
	Enabled    bool `json:"enabled"`
	Breathe    bool `json:"breathe"`
	Brightness int  `json:"brightness"`
	SIDNo      int  `json:"sidno"`
}

type Protocols struct {
	CDC    bool `json:"cdc"`
	WebUSB bool `json:"webusb"`
	ASID   bool `json:"asid"`
	MIDI   bool `json:"midi"`
}

type FMOpl struct {
	Enabled bool `json:"enabled"`
	SIDNo   int  `json:"sidno"`
}

// View 配置块的只读解码视图, 调用方拿不到会话内部的缓冲
type View struct {
	General     General   `json:"general"`
	SocketOne   Socket    `json:"socket_one"`
	SocketTwo   Socket    `json:"socket_two"`
	LED         LED       `json:"led"`
	RGBLED      RGBLED    `json:"rgbled"`
	Protocols   Protocols `json:"protocols"`
	FMOpl       FMOpl     `json:"fmopl"`
	AudioSwitch string    `json:"audio_switch"`
	Raw         []byte    `json:"-"`
}

// Decode 解码完整配置块, 任何枚举越界都会失败
func Decode(blob []byte) (View, error) {
	values, err := FieldValues(blob)
	if err != nil {
		return View{}, err
	}
	m := make(map[string]DisplayValue, len(values))
	for _, v := range values {
		m[v.Name] = v
	}
	on := func(name string) bool { return m[name].Raw != 0 }
	text := func(name string) string { return m[name].Text }
	num := func(name string) int { return m[name].Raw }

	return View{
		General: General{
			ClockLock:     on("clock_lock"),
			ExternalClock: on("external_clock"),
			ClockRate:     uint32(num("clock_rate")),
			ClockLabel:    text("clock_rate"),
		},
		SocketOne: Socket{
			Enabled:   on("socket_one_enabled"),
			DualSID:   on("socket_one_dualsid"),
			ChipType:  text("socket_one_chiptype"),
			CloneType: text("socket_one_clonetype"),
			SID1Type:  text("socket_one_sid1type"),
			SID2Type:  text("socket_one_sid2type"),
		},
		SocketTwo: Socket{
			Enabled:   on("socket_two_enabled"),
			DualSID:   on("socket_two_dualsid"),
			ActAsOne:  on("socket_two_act_as_one"),
			ChipType:  text("socket_two_chiptype"),
			CloneType: text("socket_two_clonetype"),
			SID1Type:  text("socket_two_sid1type"),
			SID2Type:  text("socket_two_sid2type"),
		},
		LED:    LED{Enabled: on("led_enabled"), Breathe: on("led_breathe")},
		RGBLED: RGBLED{Enabled: on("rgbled_enabled"), Breathe: on("rgbled_breathe"), Brightness: num("rgbled_brightness"), SIDNo: num("rgbled_sidno")},
		Protocols: Protocols{
			CDC:    on("cdc_enabled"),
			WebUSB: on("webusb_enabled"),
			ASID:   on("asid_enabled"),
			MIDI:   on("midi_enabled"),
		},
		FMOpl:       FMOpl{Enabled: on("fmopl_enabled"), SIDNo: num("fmopl_sidno")},
		AudioSwitch: text("audio_switch"),
		Raw:         append([]byte(nil), blob...),
	}, nil
}

// NewBlob 返回只带回显字节的空配置块
func NewBlob() []byte {
	b := make([]byte, BlobSize)
	b[0] = ConfigEcho
	return b
}
