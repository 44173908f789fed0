package regmap

import "errors"

var (
	// ErrUnknownField 字段名没有注册
	ErrUnknownField = errors.New("unknown config field")
	// ErrOutOfRange 枚举下标越界, 不做截断
	ErrOutOfRange = errors.New("value out of range")
	// ErrUnsupportedClock 频率不在锁定时钟支持的列表中
	ErrUnsupportedClock = errors.New("unsupported clock rate")
	// ErrReadOnlyField 字段只能读取, 设备不接受单独写入
	ErrReadOnlyField = errors.New("read-only config field")
	// ErrBlobSize 配置块长度不正确
	ErrBlobSize = errors.New("config blob has wrong size")
)
