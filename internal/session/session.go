package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"sidgate/internal/codec"
	"sidgate/internal/link"
	"sidgate/internal/pkg"
	"sidgate/internal/regmap"
)

var (
	// ErrBusy 已经有一个命令在路上
	ErrBusy = errors.New("device busy")
	// ErrPlaybackActive 播放中不允许写配置
	ErrPlaybackActive = errors.New("playback active")
	// ErrNoConfig 需要先读取一次配置
	ErrNoConfig = errors.New("no config retrieved yet")
	// ErrUnknownCommand 预设或命令名不存在
	ErrUnknownCommand = errors.New("unknown command")
)

// State 会话状态
type State int32

const (
	Idle State = iota
	Writing
)

func (s State) String() string {
	if s == Writing {
		return "Writing"
	}
	return "Idle"
}

// Device 会话依赖的设备能力, *link.Link 实现了它
type Device interface {
	Write(ctx context.Context, frame []byte) error
	Exchange(ctx context.Context, frame []byte, settle time.Duration, expect link.Expect) ([]byte, error)
	Settling() pkg.SettleConfig
	PlaybackActive() bool
}

// Session 一个设备连接上唯一的配置会话
// 同一时刻最多一个命令: 写操作占用 Writing 状态, 读操作占用 reading 标记
type Session struct {
	dev    Device
	logger *zap.Logger

	state   atomic.Int32
	reading atomic.Bool
	muted   atomic.Bool

	mu   sync.RWMutex
	blob []byte // 最近一次读回或写入的配置
}

// New 创建会话
func New(ctx context.Context, dev Device) *Session {
	return &Session{
		dev:    dev,
		logger: pkg.LoggerFromContext(ctx).With(zap.String("module", "Session")),
	}
}

// State 当前状态
func (s *Session) State() State { return State(s.state.Load()) }

// Blob 缓存配置的副本, 没有读取过时为 nil
func (s *Session) Blob() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.blob == nil {
		return nil
	}
	return append([]byte(nil), s.blob...)
}

// View 缓存配置的只读视图
func (s *Session) View() (regmap.View, error) {
	blob := s.Blob()
	if blob == nil {
		return regmap.View{}, ErrNoConfig
	}
	return regmap.Decode(blob)
}

func (s *Session) setBlob(blob []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if blob == nil {
		s.blob = nil
		return
	}
	s.blob = append([]byte(nil), blob...)
}

func (s *Session) patchBlob(fn func(b []byte) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.blob == nil {
		return
	}
	if err := fn(s.blob); err != nil {
		s.logger.Warn("更新缓存配置失败, 丢弃缓存", zap.Error(err))
		s.blob = nil
	}
}

// writeOp 一个写操作
type writeOp struct {
	name  string
	frame []byte
	allow bool   // 播放中也允许
	after func() // 写入成功后调用
}

func (s *Session) write(ctx context.Context, op writeOp) error {
	pm := pkg.GetPerformanceMetrics()
	if !s.state.CompareAndSwap(int32(Idle), int32(Writing)) {
		pm.Inc(pkg.StatRejected, op.name)
		return ErrBusy
	}
	if s.reading.Load() {
		s.state.Store(int32(Idle))
		pm.Inc(pkg.StatRejected, op.name)
		return ErrBusy
	}
	defer s.state.Store(int32(Idle))

	if !op.allow && s.dev.PlaybackActive() {
		pm.Inc(pkg.StatRejected, op.name)
		return ErrPlaybackActive
	}
	if err := s.dev.Write(ctx, op.frame); err != nil {
		pm.Inc(pkg.StatErrors, op.name)
		s.logger.Error("写入失败", zap.String("op", op.name), zap.Error(err))
		return err
	}
	pm.Inc(pkg.StatSent, op.name)
	s.logger.Debug("写入完成", zap.String("op", op.name), zap.Binary("frame", op.frame))
	if op.after != nil {
		op.after()
	}
	return nil
}

func (s *Session) read(ctx context.Context, name string, frame []byte, settle time.Duration, expect link.Expect) ([]byte, error) {
	pm := pkg.GetPerformanceMetrics()
	if s.State() == Writing || !s.reading.CompareAndSwap(false, true) {
		pm.Inc(pkg.StatRejected, name)
		return nil, ErrBusy
	}
	defer s.reading.Store(false)
	if s.State() == Writing {
		pm.Inc(pkg.StatRejected, name)
		return nil, ErrBusy
	}
	resp, err := s.dev.Exchange(ctx, frame, settle, expect)
	if err != nil {
		pm.Inc(pkg.StatErrors, name)
		return nil, err
	}
	pm.Inc(pkg.StatSent, name)
	return resp, nil
}

func (s *Session) decodeConfig(resp []byte) (regmap.View, error) {
	blob, err := codec.DecodeConfig(resp)
	if err != nil {
		return regmap.View{}, err
	}
	view, err := regmap.Decode(blob)
	if err != nil {
		return regmap.View{}, err
	}
	s.setBlob(blob)
	return view, nil
}

// ReadConfig 读取并解码设备配置, 成功后替换缓存
func (s *Session) ReadConfig(ctx context.Context) (regmap.View, error) {
	resp, err := s.read(ctx, "read_config", codec.MustConfigFrame(codec.ReadConfig), s.dev.Settling().Read, link.ExpectLen(regmap.BlobSize))
	if err != nil {
		return regmap.View{}, err
	}
	return s.decodeConfig(resp)
}

// ReadVersion 读取固件版本
func (s *Session) ReadVersion(ctx context.Context) (string, error) {
	resp, err := s.read(ctx, "read_version", codec.MustConfigFrame(codec.USBSIDVersion), s.dev.Settling().Version, link.ExpectVersion)
	if err != nil {
		return "", err
	}
	return codec.DecodeVersion(resp)
}

// DetectSIDs 让设备重新检测 SID 类型, 返回检测后的配置
func (s *Session) DetectSIDs(ctx context.Context) (regmap.View, error) {
	if s.dev.PlaybackActive() {
		pkg.GetPerformanceMetrics().Inc(pkg.StatRejected, "detect_sids")
		return regmap.View{}, ErrPlaybackActive
	}
	resp, err := s.read(ctx, "detect_sids", codec.MustConfigFrame(codec.DetectSIDs), s.dev.Settling().Version, link.ExpectLen(regmap.BlobSize))
	if err != nil {
		return regmap.View{}, err
	}
	return s.decodeConfig(resp)
}

// SetConfigItem 写入单个字段, raw 为原始值 (clock_rate 可以是时钟 id 或者频率)
func (s *Session) SetConfigItem(ctx context.Context, name string, raw int) error {
	f, err := regmap.Lookup(name)
	if err != nil {
		return err
	}
	var item, value byte
	cached := raw
	switch f.Mode {
	case regmap.ReadOnly:
		return fmt.Errorf("%s: %w", name, regmap.ErrReadOnlyField)
	case regmap.SetValue:
		if raw < 0 || raw >= f.Bound() {
			return fmt.Errorf("%s=%d: %w", name, raw, regmap.ErrOutOfRange)
		}
		item, value = f.Item, byte(raw)
	case regmap.SetItemIsValue:
		if f.Clock {
			id, hz, err := regmap.ResolveClock(raw)
			if err != nil {
				return err
			}
			item, cached = id, int(hz)
			break
		}
		if raw < 0 || raw >= f.Bound() {
			return fmt.Errorf("%s=%d: %w", name, raw, regmap.ErrOutOfRange)
		}
		item = byte(raw)
	case regmap.SetClockLock:
		if raw < 0 || raw >= f.Bound() {
			return fmt.Errorf("%s=%d: %w", name, raw, regmap.ErrOutOfRange)
		}
		// 设备保存的是当前时钟的 id, 不是频率
		id, err := s.currentClockID()
		if err != nil {
			return err
		}
		item, value = id, byte(raw)
	}

	frame, err := codec.SetConfigFrame(f.Offset, item, value)
	if err != nil {
		return err
	}
	return s.write(ctx, writeOp{
		name:  "set_config",
		frame: frame,
		after: func() {
			s.patchBlob(func(b []byte) error { return regmap.EncodeField(b, name, cached) })
		},
	})
}

func (s *Session) currentClockID() (byte, error) {
	blob := s.Blob()
	if blob == nil {
		return 0, ErrNoConfig
	}
	v, err := regmap.DecodeField(blob, "clock_rate")
	if err != nil {
		return 0, err
	}
	return regmap.ClockIDFor(uint32(v.Raw))
}

// ApplyConfig 原样写入完整配置块, 调用方应当在读回的配置上做修改
func (s *Session) ApplyConfig(ctx context.Context, blob []byte) error {
	frame, err := codec.WriteConfigFrame(blob)
	if err != nil {
		return err
	}
	blob = append([]byte(nil), blob...)
	return s.write(ctx, writeOp{
		name:  "apply_config",
		frame: frame,
		after: func() { s.setBlob(blob) },
	})
}

// SaveConfig 保存到 flash, reboot 为 true 时设备随后重启
func (s *Session) SaveConfig(ctx context.Context, reboot bool) error {
	sub := codec.SaveNoReset
	if reboot {
		sub = codec.SaveConfig
	}
	return s.write(ctx, writeOp{name: "save_config", frame: codec.MustConfigFrame(sub)})
}

// ResetConfig 恢复出厂配置, 缓存失效
func (s *Session) ResetConfig(ctx context.Context) error {
	return s.write(ctx, writeOp{
		name:  "reset_config",
		frame: codec.MustConfigFrame(codec.ResetConfig),
		after: func() { s.setBlob(nil) },
	})
}

// ReloadConfig 从 flash 重新载入, 缓存失效
func (s *Session) ReloadConfig(ctx context.Context) error {
	return s.write(ctx, writeOp{
		name:  "reload_config",
		frame: codec.MustConfigFrame(codec.ReloadConfig),
		after: func() { s.setBlob(nil) },
	})
}

// SetClock 切换 SID 时钟, v 为时钟 id 或者标准频率
func (s *Session) SetClock(ctx context.Context, v int) error {
	id, hz, err := regmap.ResolveClock(v)
	if err != nil {
		return err
	}
	return s.write(ctx, writeOp{
		name:  "set_clock",
		frame: codec.MustConfigFrame(codec.SetClock, id),
		after: func() {
			s.patchBlob(func(b []byte) error { return regmap.EncodeField(b, "clock_rate", int(hz)) })
		},
	})
}

// ApplyPreset 应用拓扑预设, flip 在播放中也允许
func (s *Session) ApplyPreset(ctx context.Context, name string) error {
	sub, ok := codec.Presets[name]
	if !ok {
		return fmt.Errorf("preset %q: %w", name, ErrUnknownCommand)
	}
	return s.write(ctx, writeOp{
		name:  "preset_" + name,
		frame: codec.MustConfigFrame(sub),
		allow: sub == codec.FlipSockets,
		after: func() { s.setBlob(nil) },
	})
}

// RunCommand 执行一个按钮类命令或者简单命令
func (s *Session) RunCommand(ctx context.Context, name string) error {
	if sub, ok := codec.ConfigButtons[name]; ok {
		return s.write(ctx, writeOp{
			name:  "cmd_" + name,
			frame: codec.MustConfigFrame(sub),
			allow: sub == codec.ToggleAudio,
		})
	}
	fn, ok := codec.SimpleCommands[name]
	if !ok {
		return fmt.Errorf("command %q: %w", name, ErrUnknownCommand)
	}
	var arg byte
	if fn == codec.ResetSID {
		arg = 1
	}
	frame, err := codec.EncodeSimpleCommandArg(fn, arg)
	if err != nil {
		return err
	}
	return s.write(ctx, writeOp{
		name:  "cmd_" + name,
		frame: frame,
		allow: fn == codec.Mute || fn == codec.Unmute,
	})
}

// ToggleAudio 切换单声道/立体声, 播放中允许
func (s *Session) ToggleAudio(ctx context.Context) error {
	return s.write(ctx, writeOp{
		name:  "toggle_audio",
		frame: codec.MustConfigFrame(codec.ToggleAudio),
		allow: true,
		after: func() {
			s.patchBlob(func(b []byte) error {
				v, err := regmap.DecodeField(b, "audio_switch")
				if err != nil {
					return err
				}
				return regmap.EncodeField(b, "audio_switch", v.Raw^1)
			})
		},
	})
}

// FlipSockets 交换两个插槽, 播放中允许
func (s *Session) FlipSockets(ctx context.Context) error {
	return s.ApplyPreset(ctx, "flip")
}

// ToggleMute 静音开关, 播放中允许
func (s *Session) ToggleMute(ctx context.Context) error {
	fn := codec.Mute
	if s.muted.Load() {
		fn = codec.Unmute
	}
	frame, err := codec.EncodeSimpleCommand(fn)
	if err != nil {
		return err
	}
	return s.write(ctx, writeOp{
		name:  "toggle_mute",
		frame: frame,
		allow: true,
		after: func() { s.muted.Store(fn == codec.Mute) },
	})
}

// Muted 最近一次 ToggleMute 之后的状态
func (s *Session) Muted() bool { return s.muted.Load() }
