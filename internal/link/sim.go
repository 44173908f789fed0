package link

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"

	"sidgate/internal/codec"
	"sidgate/internal/pkg"
	"sidgate/internal/regmap"
)

func init() {
	Register("sim", func(ctx context.Context, cfg pkg.DeviceConfig) (Driver, error) {
		var simCfg SimConfig
		if err := mapstructure.Decode(cfg.Para, &simCfg); err != nil {
			return nil, fmt.Errorf("解析 sim 配置失败: %w", err)
		}
		dev := NewSimDevice(simCfg)
		dev.logger = pkg.LoggerFromContext(ctx).With(zap.String("transport", "sim"))
		return NewSimDriver(dev), nil
	})
}

// SimConfig 模拟设备的配置, 来自 device 段的额外字段
type SimConfig struct {
	Version   string `mapstructure:"sim_version"`
	Serial    string `mapstructure:"sim_serial"`
	ChunkSize int    `mapstructure:"sim_chunk_size"` // 响应被拆成多大的分片
}

// SimDevice 内存中的 USBSID-Pico, 实现配置协议的主要子命令
type SimDevice struct {
	cfg    SimConfig
	logger *zap.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	blob    []byte
	saved   []byte
	outbox  []byte
	frames  [][]byte
	muted   bool
	open    bool
	failErr error
	gate    chan struct{} // 非 nil 时写入会阻塞直到关闭
}

// NewSimDevice 以出厂配置创建模拟设备
func NewSimDevice(cfg SimConfig) *SimDevice {
	if cfg.Version == "" {
		cfg.Version = "v0.2.6-SIM"
	}
	if cfg.Serial == "" {
		cfg.Serial = "SIM0001"
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 24
	}
	d := &SimDevice{
		cfg:    cfg,
		logger: zap.NewNop(),
		blob:   regmap.DefaultBlob(),
		saved:  regmap.DefaultBlob(),
	}
	d.cond = sync.NewCond(&d.mu)
	return d
}

// Blob 当前配置的副本
func (d *SimDevice) Blob() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.blob...)
}

// SetBlob 直接替换设备上的配置
func (d *SimDevice) SetBlob(blob []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.blob = append([]byte(nil), blob...)
}

// Saved 最近一次保存到 flash 的配置
func (d *SimDevice) Saved() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.saved...)
}

// Frames 设备收到的全部帧
func (d *SimDevice) Frames() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	res := make([][]byte, len(d.frames))
	for i, f := range d.frames {
		res[i] = append([]byte(nil), f...)
	}
	return res
}

// WriteCount 设备收到的写入次数
func (d *SimDevice) WriteCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.frames)
}

// Muted 最近一次静音命令的结果
func (d *SimDevice) Muted() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.muted
}

// Fail 之后的读写都返回 err, 传 nil 恢复
func (d *SimDevice) Fail(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failErr = err
	d.cond.Broadcast()
}

// Hold 让之后的写入阻塞, 返回的函数放行
func (d *SimDevice) Hold() (release func()) {
	gate := make(chan struct{})
	d.mu.Lock()
	d.gate = gate
	d.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			d.gate = nil
			d.mu.Unlock()
			close(gate)
		})
	}
}

func (d *SimDevice) identity() Identity {
	return Identity{
		Transport:    "sim",
		Port:         "sim://" + d.cfg.Serial,
		VendorID:     hexID(pkg.DefaultVendorID),
		ProductID:    hexID(pkg.DefaultProductID),
		SerialNumber: d.cfg.Serial,
		Product:      "USBSID-Pico",
	}
}

func (d *SimDevice) write(ctx context.Context, p []byte) error {
	d.mu.Lock()
	gate := d.gate
	d.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return errors.New("sim: port closed")
	}
	if d.failErr != nil {
		return d.failErr
	}
	d.frames = append(d.frames, append([]byte(nil), p...))
	d.handle(p)
	d.cond.Broadcast()
	return nil
}

// handle 调用时已持有锁
func (d *SimDevice) handle(p []byte) {
	if len(p) == 0 {
		return
	}
	ch, fn := codec.SplitOpcode(p[0])
	if ch != codec.ChannelCommand {
		return
	}
	switch fn {
	case codec.Mute, codec.Pause:
		d.muted = true
		return
	case codec.Unmute, codec.Unpause:
		d.muted = false
		return
	case codec.Config:
	default:
		return
	}
	if len(p) < codec.ConfigFrameSize {
		return
	}
	sub := p[1]
	switch sub {
	case codec.ReadConfig, codec.DetectSIDs:
		if sub == codec.DetectSIDs {
			d.detect()
		}
		d.outbox = append(d.outbox, d.blob...)
	case codec.USBSIDVersion:
		d.outbox = append(d.outbox, codec.EncodeVersion(d.cfg.Version)...)
	case codec.WriteConfig:
		body := p[codec.ConfigFrameSize:]
		if blob, err := codec.DecodeConfig(body); err == nil {
			d.blob = blob
		} else {
			d.logger.Warn("sim: 丢弃无效的配置块", zap.Error(err))
		}
	case codec.SetConfig:
		d.setConfig(int(p[2]), p[3], p[4])
	case codec.SaveConfig, codec.SaveNoReset:
		d.saved = append([]byte(nil), d.blob...)
	case codec.ReloadConfig:
		d.blob = append([]byte(nil), d.saved...)
	case codec.ResetConfig:
		d.blob = regmap.DefaultBlob()
	case codec.ToggleAudio:
		d.blob[57] ^= 1
	case codec.SetClock:
		if hz, err := regmap.ClockRateFor(p[2]); err == nil {
			_ = regmap.EncodeField(d.blob, "clock_rate", int(hz))
		}
	default:
		if sub >= codec.SingleSID && sub <= codec.FlipSockets {
			d.preset(sub)
		}
	}
}

func (d *SimDevice) setConfig(offset int, item, value byte) {
	for _, f := range regmap.Fields() {
		if f.Offset != offset {
			continue
		}
		switch f.Mode {
		case regmap.SetValue:
			_ = regmap.EncodeField(d.blob, f.Name, int(value))
		case regmap.SetItemIsValue:
			if f.Clock {
				if hz, err := regmap.ClockRateFor(item); err == nil {
					_ = regmap.EncodeField(d.blob, f.Name, int(hz))
				}
				return
			}
			_ = regmap.EncodeField(d.blob, f.Name, int(item))
		case regmap.SetClockLock:
			// item 为时钟 id, 锁定时同时切换频率
			if hz, err := regmap.ClockRateFor(item); err == nil && value == 1 {
				_ = regmap.EncodeField(d.blob, "clock_rate", int(hz))
			}
			_ = regmap.EncodeField(d.blob, f.Name, int(value))
		}
		return
	}
}

type socketBytes struct{ enabled, dual, actAsOne, chip, clone int }

var (
	simSocketOne = socketBytes{10, 11, -1, 12, 13}
	simSocketTwo = socketBytes{20, 21, 22, 23, 24}
)

func (d *SimDevice) setSocket(s socketBytes, enabled, dual bool) {
	b2i := func(b bool) byte {
		if b {
			return 1
		}
		return 0
	}
	d.blob[s.enabled] = b2i(enabled)
	d.blob[s.dual] = b2i(dual)
	if dual {
		d.blob[s.chip] = 1
		if d.blob[s.clone] == 0 {
			d.blob[s.clone] = 1
		}
	}
	if s.actAsOne >= 0 {
		d.blob[s.actAsOne] = 0
	}
}

func (d *SimDevice) preset(sub byte) {
	switch sub {
	case codec.SingleSID:
		d.setSocket(simSocketOne, true, false)
		d.setSocket(simSocketTwo, false, false)
	case codec.DualSID:
		d.setSocket(simSocketOne, true, false)
		d.setSocket(simSocketTwo, true, false)
	case codec.QuadSID:
		d.setSocket(simSocketOne, true, true)
		d.setSocket(simSocketTwo, true, true)
	case codec.TripleSID:
		d.setSocket(simSocketOne, true, true)
		d.setSocket(simSocketTwo, true, false)
	case codec.TripleSIDTwo:
		d.setSocket(simSocketOne, true, false)
		d.setSocket(simSocketTwo, true, true)
	case codec.MirroredSID:
		d.setSocket(simSocketOne, true, false)
		d.setSocket(simSocketTwo, true, false)
		d.blob[simSocketTwo.actAsOne] = 1
	case codec.DualSocket1:
		d.setSocket(simSocketOne, true, true)
		d.setSocket(simSocketTwo, false, false)
	case codec.DualSocket2:
		d.setSocket(simSocketOne, false, false)
		d.setSocket(simSocketTwo, true, true)
	case codec.FlipSockets:
		// 两个插槽的 enabled/dualsid/chip/clone/sid1/sid2 互换
		one := []int{10, 11, 12, 13, 14, 15}
		two := []int{20, 21, 23, 24, 25, 26}
		for i := range one {
			d.blob[one[i]], d.blob[two[i]] = d.blob[two[i]], d.blob[one[i]]
		}
	}
}

func (d *SimDevice) detect() {
	for _, s := range []struct{ enabled, sid1, sid2, dual int }{{10, 14, 15, 11}, {20, 25, 26, 21}} {
		if d.blob[s.enabled] == 0 {
			continue
		}
		d.blob[s.sid1] = 2 // MOS8580
		if d.blob[s.dual] == 1 {
			d.blob[s.sid2] = 2
		} else {
			d.blob[s.sid2] = 1 // N/A
		}
	}
}

func (d *SimDevice) read(ctx context.Context, buf []byte, timeout time.Duration) (int, error) {
	deadline := time.Now().Add(timeout)
	// cond 没有超时, 用定时器唤醒
	timer := time.AfterFunc(timeout, func() {
		d.mu.Lock()
		d.cond.Broadcast()
		d.mu.Unlock()
	})
	defer timer.Stop()
	stop := context.AfterFunc(ctx, func() {
		d.mu.Lock()
		d.cond.Broadcast()
		d.mu.Unlock()
	})
	defer stop()

	d.mu.Lock()
	defer d.mu.Unlock()
	for len(d.outbox) == 0 {
		if !d.open {
			return 0, errors.New("sim: port closed")
		}
		if d.failErr != nil {
			return 0, d.failErr
		}
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if !time.Now().Before(deadline) {
			return 0, nil
		}
		d.cond.Wait()
	}
	n := copy(buf, d.outbox[:min(len(d.outbox), d.cfg.ChunkSize)])
	d.outbox = d.outbox[n:]
	return n, nil
}

// SimDriver 只会发现一台模拟设备
type SimDriver struct {
	dev *SimDevice
}

func NewSimDriver(dev *SimDevice) *SimDriver {
	return &SimDriver{dev: dev}
}

// Device 驱动背后的模拟设备
func (s *SimDriver) Device() *SimDevice { return s.dev }

func (s *SimDriver) GetType() string { return "sim" }

func (s *SimDriver) Discover(context.Context) ([]Identity, error) {
	return []Identity{s.dev.identity()}, nil
}

func (s *SimDriver) Open(_ context.Context, id Identity) (Transport, error) {
	if !id.Same(s.dev.identity()) {
		return nil, fmt.Errorf("sim: 未知设备 %s", id.Name())
	}
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	if s.dev.failErr != nil {
		return nil, s.dev.failErr
	}
	s.dev.open = true
	return &simTransport{dev: s.dev}, nil
}

type simTransport struct {
	dev *SimDevice
}

func (t *simTransport) Write(ctx context.Context, p []byte) error {
	return t.dev.write(ctx, p)
}

func (t *simTransport) Read(ctx context.Context, buf []byte, timeout time.Duration) (int, error) {
	return t.dev.read(ctx, buf, timeout)
}

func (t *simTransport) Flush() error {
	t.dev.mu.Lock()
	defer t.dev.mu.Unlock()
	t.dev.outbox = nil
	return t.dev.failErr
}

func (t *simTransport) Close() error {
	t.dev.mu.Lock()
	defer t.dev.mu.Unlock()
	t.dev.open = false
	t.dev.outbox = nil
	t.dev.cond.Broadcast()
	return nil
}
