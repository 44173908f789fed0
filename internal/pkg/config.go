package pkg

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// StrategyConfig 描述一个快照下游 (sink) 的配置
type StrategyConfig struct {
	Type   string                 `mapstructure:"type"`    // 策略类型
	Enable bool                   `mapstructure:"enable"`  // 是否启用
	Filter []string               `mapstructure:"filter"`  // 字段名过滤 (正则)
	Para   map[string]interface{} `mapstructure:",remain"` // 自定义配置项
}

// LogConfig 日志配置
type LogConfig struct {
	LogPath    string `mapstructure:"log_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
	Level      string `mapstructure:"level"`
}

// SettleConfig 写入后等待设备响应的时间 (设备本身没有应答协议)
type SettleConfig struct {
	Read         time.Duration `mapstructure:"read"`
	Version      time.Duration `mapstructure:"version"`
	Write        time.Duration `mapstructure:"write"`
	ChunkTimeout time.Duration `mapstructure:"chunk_timeout"`
}

// DeviceConfig 设备连接配置
type DeviceConfig struct {
	Transport    string                 `mapstructure:"transport"` // serial|sim
	Port         string                 `mapstructure:"port"`      // 为空时按 VID/PID 自动发现
	VendorID     uint16                 `mapstructure:"vendor_id"`
	ProductID    uint16                 `mapstructure:"product_id"`
	BaudRate     int                    `mapstructure:"baud_rate"`
	IdentityFile string                 `mapstructure:"identity_file"`
	MinFirmware  string                 `mapstructure:"min_firmware"`
	Settle       SettleConfig           `mapstructure:"settle"`
	Para         map[string]interface{} `mapstructure:",remain"`
}

// AdminConfig 管理接口配置
type AdminConfig struct {
	Enable bool   `mapstructure:"enable"`
	Listen string `mapstructure:"listen"`
}

// RuleConfig 配置检查规则
type RuleConfig struct {
	Name  string `mapstructure:"name"`
	Expr  string `mapstructure:"expr"`
	Level string `mapstructure:"level"`
}

type Config struct {
	Version  string           `mapstructure:"version"`
	Log      LogConfig        `mapstructure:"log"`
	Device   DeviceConfig     `mapstructure:"device"`
	Admin    AdminConfig      `mapstructure:"admin"`
	Strategy []StrategyConfig `mapstructure:"strategy"`
	Rules    []RuleConfig     `mapstructure:"rules"`
}

const (
	DefaultVendorID  uint16 = 0xCAFE
	DefaultProductID uint16 = 0x4011
)

// WithDefaults 补全未配置的设备项
func (d DeviceConfig) WithDefaults() DeviceConfig {
	if d.Transport == "" {
		d.Transport = "serial"
	}
	if d.VendorID == 0 {
		d.VendorID = DefaultVendorID
	}
	if d.ProductID == 0 {
		d.ProductID = DefaultProductID
	}
	if d.BaudRate == 0 {
		d.BaudRate = 115200
	}
	if d.IdentityFile == "" {
		d.IdentityFile = filepath.Join(os.TempDir(), "sidgate-identity.yaml")
	}
	if d.MinFirmware == "" {
		d.MinFirmware = "0.2.4"
	}
	if d.Settle.Read == 0 {
		d.Settle.Read = 100 * time.Millisecond
	}
	if d.Settle.Version == 0 {
		d.Settle.Version = 200 * time.Millisecond
	}
	if d.Settle.ChunkTimeout == 0 {
		d.Settle.ChunkTimeout = 250 * time.Millisecond
	}
	return d
}

// InitCommon 用于初始化全局配置
func InitCommon(configDir string) (*Config, *viper.Viper, error) {
	v := viper.NewWithOptions(viper.KeyDelimiter("::")) // 设置 key 分隔符为 ::，避免和端口/地址里的 . 冲突
	v.AddConfigPath(configDir)
	v.AutomaticEnv() // 读取环境变量
	// 遍历配置目录及其子目录中的所有文件
	err := filepath.WalkDir(configDir, func(filePath string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("访问路径 %s 失败: %w", filePath, err)
		}
		if d.IsDir() {
			return nil
		}

		ext := filepath.Ext(filePath)
		// 只处理 .yaml 或 .yml 文件
		if ext == ".yaml" || ext == ".yml" {
			v.SetConfigFile(filePath)
			// 读取并合并配置文件 (会覆盖之前的配置)
			if err := v.MergeInConfig(); err != nil {
				return fmt.Errorf("读取配置文件失败 %s: %w", filePath, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	var common Config
	if err := v.Unmarshal(&common); err != nil {
		return nil, nil, fmt.Errorf("反序列化配置失败: %w", err)
	}
	common.Device = common.Device.WithDefaults()
	return &common, v, nil
}
