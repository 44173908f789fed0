package link

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"sidgate/internal/pkg"
)

// Identity 一个可连接设备的标识, 会被持久化以便下次免交互连接
type Identity struct {
	Transport    string `yaml:"transport" json:"transport"`
	Port         string `yaml:"port" json:"port"`
	VendorID     string `yaml:"vendor_id" json:"vendor_id"`
	ProductID    string `yaml:"product_id" json:"product_id"`
	SerialNumber string `yaml:"serial_number,omitempty" json:"serial_number,omitempty"`
	Product      string `yaml:"product,omitempty" json:"product,omitempty"`
}

// Name 设备名, 优先使用序列号
func (i Identity) Name() string {
	if i.SerialNumber != "" {
		return i.SerialNumber
	}
	return i.Port
}

// Same 判断是否为同一台设备
func (i Identity) Same(o Identity) bool {
	if i.SerialNumber != "" && o.SerialNumber != "" {
		return i.SerialNumber == o.SerialNumber
	}
	return i.Port == o.Port
}

// Transport 面向字节的原生句柄
type Transport interface {
	// Write 写出完整的一帧
	Write(ctx context.Context, p []byte) error
	// Read 读取一个分片, 超时返回 0, nil
	Read(ctx context.Context, buf []byte, timeout time.Duration) (int, error)
	// Flush 丢弃两个方向上的缓冲
	Flush() error
	Close() error
}

// Driver 负责发现设备和打开原生句柄
type Driver interface {
	GetType() string
	Discover(ctx context.Context) ([]Identity, error)
	Open(ctx context.Context, id Identity) (Transport, error)
}

// FactoryFunc 根据设备配置构造驱动
type FactoryFunc func(ctx context.Context, cfg pkg.DeviceConfig) (Driver, error)

// Factories 全局工厂映射，用于注册不同传输类型的构造函数
var Factories = make(map[string]FactoryFunc)

// Register 注册一个传输驱动
func Register(transportType string, factory FactoryFunc) {
	Factories[transportType] = factory
}

// NewDriver 按 context 中的配置创建驱动
var NewDriver = func(ctx context.Context) (Driver, error) {
	cfg := pkg.ConfigFromContext(ctx).Device.WithDefaults()
	factoryTypes := make([]string, 0, len(Factories))
	for key := range Factories {
		factoryTypes = append(factoryTypes, key)
	}
	sort.Strings(factoryTypes)
	pkg.LoggerFromContext(ctx).Debug("Transport Factory:", zap.Strings("Factories", factoryTypes))
	pkg.LoggerFromContext(ctx).Debug(fmt.Sprintf("===正在初始化传输: %s===", cfg.Transport))
	factory, ok := Factories[cfg.Transport]
	if !ok {
		return nil, fmt.Errorf("未找到传输类型: %s", cfg.Transport)
	}
	d, err := factory(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("初始化传输失败: %w", err)
	}
	return d, nil
}
