package codec

import (
	"errors"
	"fmt"
	"strings"

	"sidgate/internal/regmap"
)

const (
	// ConfigFrameSize CONFIG 帧固定长度
	ConfigFrameSize = 6
	// SimpleFrameSize 简单命令帧固定长度
	SimpleFrameSize = 3
	// Reserved 未使用的负载字节
	Reserved byte = 0
	// MaxFunctionCode 功能码只有低 6 位
	MaxFunctionCode = 0x3F
)

var (
	ErrInvalidFunctionCode   = errors.New("invalid function code")
	ErrPayloadTooLong        = errors.New("payload too long")
	ErrMalformedVersionFrame = errors.New("malformed version frame")
	ErrMalformedConfigFrame  = errors.New("malformed config frame")
)

// Opcode 将通道放在高两位, 功能码放在低六位
func Opcode(ch Channel, fn byte) (byte, error) {
	if fn > MaxFunctionCode {
		return 0, fmt.Errorf("fn 0x%02x: %w", fn, ErrInvalidFunctionCode)
	}
	if ch > ChannelCommand {
		return 0, fmt.Errorf("channel %d: %w", ch, ErrInvalidFunctionCode)
	}
	return byte(ch)<<6 | fn, nil
}

// SplitOpcode 是 Opcode 的逆运算
func SplitOpcode(op byte) (Channel, byte) {
	return Channel(op >> 6), op & MaxFunctionCode
}

// EncodeConfigCommand 生成 6 字节的命令帧, 未使用的负载补 Reserved
func EncodeConfigCommand(fn byte, payload []byte) ([]byte, error) {
	op, err := Opcode(ChannelCommand, fn)
	if err != nil {
		return nil, err
	}
	if len(payload) > ConfigFrameSize-1 {
		return nil, fmt.Errorf("%d bytes: %w", len(payload), ErrPayloadTooLong)
	}
	frame := make([]byte, ConfigFrameSize)
	frame[0] = op
	copy(frame[1:], payload)
	return frame, nil
}

// EncodeSimpleCommand 生成 3 字节的命令帧
func EncodeSimpleCommand(fn byte) ([]byte, error) {
	return EncodeSimpleCommandArg(fn, Reserved)
}

// EncodeSimpleCommandArg 第二个字节带一个参数
func EncodeSimpleCommandArg(fn, arg byte) ([]byte, error) {
	op, err := Opcode(ChannelCommand, fn)
	if err != nil {
		return nil, err
	}
	return []byte{op, arg, Reserved}, nil
}

// ConfigFrame CONFIG 功能码 + 子命令 + 参数
func ConfigFrame(sub byte, args ...byte) ([]byte, error) {
	return EncodeConfigCommand(Config, append([]byte{sub}, args...))
}

// MustConfigFrame 参数固定时使用
func MustConfigFrame(sub byte, args ...byte) []byte {
	frame, err := ConfigFrame(sub, args...)
	if err != nil {
		panic(err)
	}
	return frame
}

// SetConfigFrame [0xD2, 0x32, offset, item, value, 0]
func SetConfigFrame(offset int, item, value byte) ([]byte, error) {
	if offset < 0 || offset >= regmap.BlobSize {
		return nil, fmt.Errorf("offset %d: %w", offset, regmap.ErrOutOfRange)
	}
	return ConfigFrame(SetConfig, byte(offset), item, value)
}

// WriteConfigFrame WRITE_CONFIG 头部后接完整配置块, 作为一次写入发出
func WriteConfigFrame(blob []byte) ([]byte, error) {
	if _, err := DecodeConfig(blob); err != nil {
		return nil, err
	}
	head, err := ConfigFrame(WriteConfig)
	if err != nil {
		return nil, err
	}
	return append(head, blob...), nil
}

// DecodeVersion 解析版本帧: [echo, N, ascii * N]
func DecodeVersion(frame []byte) (string, error) {
	if len(frame) < 2 {
		return "", fmt.Errorf("%d bytes: %w", len(frame), ErrMalformedVersionFrame)
	}
	n := int(frame[1])
	if n == 0 {
		return "", fmt.Errorf("zero length: %w", ErrMalformedVersionFrame)
	}
	if 2+n > len(frame) {
		return "", fmt.Errorf("declared %d, have %d: %w", n, len(frame)-2, ErrMalformedVersionFrame)
	}
	return string(frame[2 : 2+n]), nil
}

// EncodeVersion 生成版本帧, 模拟设备使用
func EncodeVersion(version string) []byte {
	if len(version) > 255 {
		version = version[:255]
	}
	frame := make([]byte, regmap.BlobSize)
	frame[0] = USBSIDVersion
	frame[1] = byte(len(version))
	copy(frame[2:], version)
	return frame
}

// DecodeConfig 校验长度和回显字节, 返回副本
func DecodeConfig(frame []byte) ([]byte, error) {
	if len(frame) != regmap.BlobSize {
		return nil, fmt.Errorf("got %d bytes, want %d: %w", len(frame), regmap.BlobSize, ErrMalformedConfigFrame)
	}
	if frame[0] != regmap.ConfigEcho {
		return nil, fmt.Errorf("echo 0x%02x: %w", frame[0], ErrMalformedConfigFrame)
	}
	return append([]byte(nil), frame...), nil
}

// VersionAtLeast 按字典序比较, 忽略开头的 v
func VersionAtLeast(version, baseline string) bool {
	version = strings.TrimPrefix(strings.TrimSpace(version), "v")
	baseline = strings.TrimPrefix(strings.TrimSpace(baseline), "v")
	return version >= baseline
}
