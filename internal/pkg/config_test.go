package pkg

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// TestInitCommon 测试 InitCommon 函数
func TestInitCommon(t *testing.T) {
	tempDir := t.TempDir()

	configContent := `
version: "1.0.0"
log:
  log_path: ./logs/sidgate.log
  max_size: 512
  max_backups: 10
  max_age: 30
  compress: true
  level: debug
device:
  transport: sim
  port: /dev/ttyACM0
  settle:
    read: 150ms
    version: 300ms
admin:
  enable: true
  listen: ":8081"
strategy:
  - type: prometheus
    enable: true
    filter:
      - "socket_.*"
    port: 9100
    endpoint: /metrics
rules:
  - name: led
    expr: "LED.Enabled"
    level: info
`
	if err := os.WriteFile(filepath.Join(tempDir, "sidgate.yaml"), []byte(configContent), 0644); err != nil {
		t.Fatalf("创建配置文件失败: %v", err)
	}
	// 子目录中的文件会被合并
	sub := filepath.Join(tempDir, "override")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sub, "z.yml"), []byte("device:\n  baud_rate: 9600\n"), 0644); err != nil {
		t.Fatal(err)
	}

	config, _, err := InitCommon(tempDir)
	if err != nil {
		t.Fatalf("InitCommon 函数调用失败: %v", err)
	}

	if config.Version != "1.0.0" {
		t.Errorf("期望版本为 1.0.0，但得到的是 %s", config.Version)
	}
	if config.Log.MaxSize != 512 || config.Log.Level != "debug" {
		t.Errorf("日志配置解析错误: %+v", config.Log)
	}
	if config.Device.Transport != "sim" || config.Device.Port != "/dev/ttyACM0" {
		t.Errorf("设备配置解析错误: %+v", config.Device)
	}
	if config.Device.BaudRate != 9600 {
		t.Errorf("期望子目录配置被合并, baud_rate=%d", config.Device.BaudRate)
	}
	if config.Device.Settle.Read != 150*time.Millisecond || config.Device.Settle.Version != 300*time.Millisecond {
		t.Errorf("settle 解析错误: %+v", config.Device.Settle)
	}
	// 未配置的项使用默认值
	if config.Device.VendorID != DefaultVendorID || config.Device.ProductID != DefaultProductID {
		t.Errorf("期望默认 VID/PID, 得到 %04x:%04x", config.Device.VendorID, config.Device.ProductID)
	}
	if config.Device.Settle.ChunkTimeout != 250*time.Millisecond {
		t.Errorf("期望默认 chunk_timeout, 得到 %s", config.Device.Settle.ChunkTimeout)
	}
	if len(config.Strategy) != 1 || config.Strategy[0].Type != "prometheus" || !config.Strategy[0].Enable {
		t.Fatalf("策略解析错误: %+v", config.Strategy)
	}
	if config.Strategy[0].Para["endpoint"] != "/metrics" {
		t.Errorf("期望 remain 字段收集自定义配置, 得到 %+v", config.Strategy[0].Para)
	}
	if len(config.Rules) != 1 || config.Rules[0].Expr != "LED.Enabled" {
		t.Errorf("规则解析错误: %+v", config.Rules)
	}
}

// TestWithConfigAndConfigFromContext 测试 WithConfig 和 ConfigFromContext 函数
func TestWithConfigAndConfigFromContext(t *testing.T) {
	testConfig := &Config{Version: "1.0.0", Device: DeviceConfig{Transport: "sim"}}
	ctx := WithConfig(context.Background(), testConfig)

	extracted := ConfigFromContext(ctx)
	if extracted.Version != "1.0.0" || extracted.Device.Transport != "sim" {
		t.Errorf("提取到的配置不一致: %+v", extracted)
	}

	if ConfigFromContext(context.Background()) == nil {
		t.Errorf("没有配置时应返回空配置而不是 nil")
	}
}

// TestInitCommonConfigFileNotFound 测试 InitCommon 函数当配置目录不存在时的错误处理
func TestInitCommonConfigFileNotFound(t *testing.T) {
	_, _, err := InitCommon("/invalid/path")
	if err == nil {
		t.Fatal("期望出现错误，但未得到错误")
	}
	expectedErrPrefix := "访问路径 /invalid/path"
	if !strings.HasPrefix(err.Error(), expectedErrPrefix) {
		t.Errorf("期望错误信息以 '%s' 开头，但得到的是 '%s'", expectedErrPrefix, err.Error())
	}
}

func TestUnmarshalConfig(t *testing.T) {
	tempDir := t.TempDir()
	invalidConfigContent := `
log:
  max_age: "not_a_number"
`
	if err := os.WriteFile(filepath.Join(tempDir, "invalid_config.yaml"), []byte(invalidConfigContent), 0644); err != nil {
		t.Fatalf("创建配置文件失败: %v", err)
	}
	if _, _, err := InitCommon(tempDir); err == nil {
		t.Fatal("期望类型不匹配时反序列化失败")
	}
}
