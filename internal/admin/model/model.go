package model

import (
	"sidgate/internal/link"
	"sidgate/internal/regmap"
)

// DeviceState GET /api/v1/device 的返回
type DeviceState struct {
	State     string         `json:"state"`              // Disconnected / Found / Connected
	Identity  *link.Identity `json:"identity,omitempty"` // 当前选中的设备
	Version   string         `json:"version,omitempty"`
	Supported bool           `json:"supported"` // 固件是否满足最低要求
	Session   string         `json:"session"`   // Idle / Writing
	Playback  bool           `json:"playback"`
	Muted     bool           `json:"muted"`
}

// ApplyRequest 整块写入, raw 为 128 个十六进制字符
type ApplyRequest struct {
	Raw string `json:"raw" binding:"required"`
}

// SetFieldRequest value 与 text 二选一, text 为显示值, 例如 "Clone" 或 "985248 (PAL)"
type SetFieldRequest struct {
	Value *int   `json:"value"`
	Text  string `json:"text"`
}

type SaveRequest struct {
	Reboot bool `json:"reboot"`
}

type ClockRequest struct {
	Value int `json:"value"`
}

// FieldInfo 字段说明, 有配置缓存时带上当前值
type FieldInfo struct {
	Name     string               `json:"name"`
	Group    string               `json:"group"`
	Offset   int                  `json:"offset"`
	Mode     string               `json:"mode"`
	Writable bool                 `json:"writable"`
	Values   []string             `json:"values,omitempty"`
	Current  *regmap.DisplayValue `json:"current,omitempty"`
}

// ImportResult POST /config/import 的返回
type ImportResult struct {
	View  regmap.View `json:"view"`
	Saved bool        `json:"saved"`
}
