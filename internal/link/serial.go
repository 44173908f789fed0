package link

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
	"go.uber.org/zap"

	"sidgate/internal/pkg"
)

func init() {
	Register("serial", func(ctx context.Context, cfg pkg.DeviceConfig) (Driver, error) {
		return &SerialDriver{
			cfg:    cfg,
			logger: pkg.LoggerFromContext(ctx).With(zap.String("transport", "serial")),
		}, nil
	})
}

// SerialDriver 通过 CDC 串口访问设备
type SerialDriver struct {
	cfg    pkg.DeviceConfig
	logger *zap.Logger
}

func (d *SerialDriver) GetType() string { return "serial" }

func hexID(v uint16) string { return fmt.Sprintf("%04X", v) }

// Discover 列出 VID/PID 匹配的 USB 串口; 显式配置了端口时只返回该端口
func (d *SerialDriver) Discover(ctx context.Context) ([]Identity, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("枚举串口失败: %w", err)
	}
	vid, pid := hexID(d.cfg.VendorID), hexID(d.cfg.ProductID)
	var res []Identity
	for _, p := range ports {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if d.cfg.Port != "" && p.Name != d.cfg.Port {
			continue
		}
		if !p.IsUSB || !strings.EqualFold(p.VID, vid) || !strings.EqualFold(p.PID, pid) {
			d.logger.Debug("跳过不匹配的串口", zap.String("port", p.Name), zap.String("vid", p.VID), zap.String("pid", p.PID))
			continue
		}
		res = append(res, Identity{
			Transport:    "serial",
			Port:         p.Name,
			VendorID:     strings.ToUpper(p.VID),
			ProductID:    strings.ToUpper(p.PID),
			SerialNumber: p.SerialNumber,
			Product:      p.Product,
		})
	}
	// 有些平台枚举不到 USB 信息, 显式配置的端口直接使用
	if len(res) == 0 && d.cfg.Port != "" {
		res = append(res, Identity{Transport: "serial", Port: d.cfg.Port, VendorID: vid, ProductID: pid})
	}
	return res, nil
}

// Open 打开串口
func (d *SerialDriver) Open(_ context.Context, id Identity) (Transport, error) {
	port, err := serial.Open(id.Port, &serial.Mode{
		BaudRate: d.cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("打开串口 %s 失败: %w", id.Port, describePortError(err))
	}
	// CDC 设备需要 DTR 才会开始发送
	if err := port.SetDTR(true); err != nil {
		d.logger.Warn("设置 DTR 失败", zap.Error(err))
	}
	return &serialTransport{port: port, name: id.Port}, nil
}

func describePortError(err error) error {
	var portErr *serial.PortError
	if !errors.As(err, &portErr) {
		return err
	}
	switch portErr.Code() {
	case serial.PortNotFound:
		return fmt.Errorf("端口不存在: %w", err)
	case serial.PortBusy:
		return fmt.Errorf("端口被占用: %w", err)
	case serial.PermissionDenied:
		return fmt.Errorf("没有权限: %w", err)
	}
	return err
}

type serialTransport struct {
	port serial.Port
	name string
	mu   sync.Mutex // 串行化写
}

func (t *serialTransport) Write(ctx context.Context, p []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for len(p) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := t.port.Write(p)
		if err != nil {
			return err
		}
		p = p[n:]
	}
	return nil
}

func (t *serialTransport) Read(ctx context.Context, buf []byte, timeout time.Duration) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := t.port.SetReadTimeout(timeout); err != nil {
		return 0, err
	}
	return t.port.Read(buf)
}

func (t *serialTransport) Flush() error {
	if err := t.port.ResetInputBuffer(); err != nil {
		return err
	}
	return t.port.ResetOutputBuffer()
}

func (t *serialTransport) Close() error {
	return t.port.Close()
}
