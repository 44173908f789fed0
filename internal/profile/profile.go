// Package profile 以显示值的形式导出/导入设备配置, 文件格式为 YAML。
//
// 导入不会整块覆盖设备配置: Overlay 只修改 Profile 中出现的可写字段,
// 其余字节 (包括保留字节) 保持读回时的样子。
package profile

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"sidgate/internal/regmap"
)

var (
	// ErrEmptyProfile 导入的文件中没有任何内容
	ErrEmptyProfile = errors.New("empty profile")
	// ErrInvalidProfile YAML 语法错误或者包含未知字段
	ErrInvalidProfile = errors.New("invalid profile")
)

type General struct {
	ClockLock     string `yaml:"clock_lock"`
	ExternalClock string `yaml:"external_clock,omitempty"`
	ClockRate     string `yaml:"clock_rate"`
}

type Socket struct {
	Enabled   string `yaml:"enabled"`
	DualSID   string `yaml:"dualsid"`
	ActAsOne  string `yaml:"act_as_one,omitempty"`
	ChipType  string `yaml:"chiptype"`
	CloneType string `yaml:"clonetype"`
	SID1Type  string `yaml:"sid1type"`
	SID2Type  string `yaml:"sid2type"`
}

type LED struct {
	Enabled string `yaml:"enabled"`
	Breathe string `yaml:"breathe"`
}

type RGBLED struct {
	Enabled    string `yaml:"enabled"`
	Breathe    string `yaml:"breathe"`
	Brightness string `yaml:"brightness"`
	SIDNo      string `yaml:"sidno"`
}

type Protocols struct {
	CDC    string `yaml:"cdc"`
	WebUSB string `yaml:"webusb"`
	ASID   string `yaml:"asid"`
	MIDI   string `yaml:"midi"`
}

type FMOpl struct {
	Enabled string `yaml:"enabled"`
	SIDNo   string `yaml:"sidno,omitempty"`
}

// Profile 一份完整的配置, 所有值都是显示字符串
type Profile struct {
	General     General   `yaml:"general"`
	SocketOne   Socket    `yaml:"socket_one"`
	SocketTwo   Socket    `yaml:"socket_two"`
	LED         LED       `yaml:"led"`
	RGBLED      RGBLED    `yaml:"rgbled"`
	Protocols   Protocols `yaml:"protocols"`
	FMOpl       FMOpl     `yaml:"fmopl"`
	AudioSwitch string    `yaml:"audio_switch"`
}

type binding struct {
	field string
	val   *string
}

// bindings 字段名与 Profile 成员的对应关系
func (p *Profile) bindings() []binding {
	return []binding{
		{"clock_lock", &p.General.ClockLock},
		{"external_clock", &p.General.ExternalClock},
		{"clock_rate", &p.General.ClockRate},

		{"socket_one_enabled", &p.SocketOne.Enabled},
		{"socket_one_dualsid", &p.SocketOne.DualSID},
		{"socket_one_chiptype", &p.SocketOne.ChipType},
		{"socket_one_clonetype", &p.SocketOne.CloneType},
		{"socket_one_sid1type", &p.SocketOne.SID1Type},
		{"socket_one_sid2type", &p.SocketOne.SID2Type},

		{"socket_two_enabled", &p.SocketTwo.Enabled},
		{"socket_two_dualsid", &p.SocketTwo.DualSID},
		{"socket_two_act_as_one", &p.SocketTwo.ActAsOne},
		{"socket_two_chiptype", &p.SocketTwo.ChipType},
		{"socket_two_clonetype", &p.SocketTwo.CloneType},
		{"socket_two_sid1type", &p.SocketTwo.SID1Type},
		{"socket_two_sid2type", &p.SocketTwo.SID2Type},

		{"led_enabled", &p.LED.Enabled},
		{"led_breathe", &p.LED.Breathe},

		{"rgbled_enabled", &p.RGBLED.Enabled},
		{"rgbled_breathe", &p.RGBLED.Breathe},
		{"rgbled_brightness", &p.RGBLED.Brightness},
		{"rgbled_sidno", &p.RGBLED.SIDNo},

		{"cdc_enabled", &p.Protocols.CDC},
		{"webusb_enabled", &p.Protocols.WebUSB},
		{"asid_enabled", &p.Protocols.ASID},
		{"midi_enabled", &p.Protocols.MIDI},

		{"fmopl_enabled", &p.FMOpl.Enabled},
		{"fmopl_sidno", &p.FMOpl.SIDNo},

		{"audio_switch", &p.AudioSwitch},
	}
}

// FromBlob 从 64 字节配置块生成 Profile
func FromBlob(blob []byte) (*Profile, error) {
	p := &Profile{}
	for _, b := range p.bindings() {
		v, err := regmap.DecodeField(blob, b.field)
		if err != nil {
			return nil, err
		}
		*b.val = v.Text
	}
	return p, nil
}

// FromView 从解码视图生成 Profile
func FromView(view regmap.View) (*Profile, error) {
	return FromBlob(view.Raw)
}

// Default 出厂配置
func Default() *Profile {
	p, err := FromBlob(regmap.DefaultBlob())
	if err != nil {
		panic(fmt.Sprintf("profile: default blob: %v", err))
	}
	return p
}

func is(value string, enum *regmap.Enum, want string) bool {
	idx, err := enum.Index(value)
	if err != nil {
		return false
	}
	w, _ := enum.Index(want)
	return idx == w
}

func truthy(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "enabled", "true", "on", "yes", "1":
		return true
	}
	return false
}

// normalizeSocket 与固件应用配置时的插槽修正一致
func normalizeSocket(s *Socket) {
	if !truthy(s.Enabled) {
		return
	}
	switch {
	case truthy(s.DualSID):
		s.ChipType = "Clone"
		if s.CloneType == "" || is(s.CloneType, regmap.CloneTypes, "Disabled") {
			s.CloneType = "Other"
		}
	case is(s.ChipType, regmap.ChipTypes, "Clone"):
		if s.CloneType == "" || is(s.CloneType, regmap.CloneTypes, "Disabled") {
			s.CloneType = "Other"
		}
	case is(s.ChipType, regmap.ChipTypes, "Real"):
		s.CloneType = "Disabled"
	}
}

// Normalize 修正互相矛盾的插槽设置:
// 双 SID 强制为 Clone 芯片, Clone 芯片必须有 clone 类型, Real 芯片没有 clone 类型
func (p *Profile) Normalize() {
	normalizeSocket(&p.SocketOne)
	normalizeSocket(&p.SocketTwo)
}

// Overlay 把 Profile 中的可写字段写到 blob 的副本上, 空值和只读字段跳过
//
// 输入:
//   - blob: 之前从设备读回的配置块
//
// 输出:
//   - []byte: 新的配置块, 未涉及的字节与 blob 相同
//   - error: 字段值无法解析
func (p *Profile) Overlay(blob []byte) ([]byte, error) {
	if len(blob) != regmap.BlobSize {
		return nil, fmt.Errorf("overlay onto %d bytes: %w", len(blob), regmap.ErrBlobSize)
	}
	out := append([]byte(nil), blob...)
	for _, b := range p.bindings() {
		if strings.TrimSpace(*b.val) == "" {
			continue
		}
		spec, err := regmap.Lookup(b.field)
		if err != nil {
			return nil, err
		}
		if !spec.Writable() {
			continue
		}
		raw, err := regmap.ParseValue(b.field, *b.val)
		if err != nil {
			return nil, fmt.Errorf("解析 %s 失败: %w", b.field, err)
		}
		if err := regmap.EncodeField(out, b.field, raw); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Export 以 YAML 写出
func (p *Profile) Export(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(p); err != nil {
		return fmt.Errorf("导出配置失败: %w", err)
	}
	return enc.Close()
}

// Import 读取 YAML, 不认识的键视为错误
func Import(r io.Reader) (*Profile, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	p := &Profile{}
	if err := dec.Decode(p); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrEmptyProfile
		}
		return nil, fmt.Errorf("导入配置失败: %w: %w", ErrInvalidProfile, err)
	}
	return p, nil
}
