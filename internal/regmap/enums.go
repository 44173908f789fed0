package regmap

import (
	"fmt"
	"strings"
)

// Enum 有序的显示字符串表, 下标即设备上的原始字节
type Enum struct {
	name   string
	values []string
}

func newEnum(name string, values ...string) *Enum {
	return &Enum{name: name, values: values}
}

// Name 枚举名
func (e *Enum) Name() string { return e.name }

// Len 取值个数
func (e *Enum) Len() int { return len(e.values) }

// Values 返回全部显示值的副本
func (e *Enum) Values() []string {
	return append([]string(nil), e.values...)
}

// Lookup 按下标取显示值, 越界返回 ErrOutOfRange
func (e *Enum) Lookup(idx int) (string, error) {
	if idx < 0 || idx >= len(e.values) {
		return "", fmt.Errorf("%s[%d]: %w", e.name, idx, ErrOutOfRange)
	}
	return e.values[idx], nil
}

// Index 按显示值反查下标, 忽略大小写
func (e *Enum) Index(text string) (byte, error) {
	text = strings.TrimSpace(text)
	for i, v := range e.values {
		if strings.EqualFold(v, text) {
			return byte(i), nil
		}
	}
	return 0, fmt.Errorf("%s: %q: %w", e.name, text, ErrOutOfRange)
}

var (
	Enabled     = newEnum("Enabled", "Disabled", "Enabled")
	TrueFalse   = newEnum("TrueFalse", "False", "True")
	OnOff       = newEnum("OnOff", "Off", "On")
	IntExt      = newEnum("IntExt", "Internal", "External")
	MonoStereo  = newEnum("MonoStereo", "Mono", "Stereo")
	SocketMode  = newEnum("SocketMode", "Single SID", "Dual SID")
	ChipTypes   = newEnum("ChipTypes", "Real", "Clone")
	SIDTypes    = newEnum("SIDTypes", "Unknown", "N/A", "MOS8580", "MOS6581", "FMopl")
	CloneTypes  = newEnum("CloneTypes", "Disabled", "Other", "SKPico", "ARMSID", "FPGASID", "RedipSID")
	RGBSIDToUse = newEnum("RGBSIDToUse", "Choose", "1", "2", "3", "4")
	ClockRates  = newEnum("ClockRates", "1000000 (DEFAULT)", "985248 (PAL)", "1022727 (NTSC)", "1023440 (DREAN)", "1022730 (NTSC2)")
)

// Enums 按名字索引的全部枚举, 供 CLI 和管理接口列出可选值
func Enums() map[string]*Enum {
	res := make(map[string]*Enum)
	for _, e := range []*Enum{Enabled, TrueFalse, OnOff, IntExt, MonoStereo, SocketMode,
		ChipTypes, SIDTypes, CloneTypes, RGBSIDToUse, ClockRates} {
		res[e.name] = e
	}
	return res
}
