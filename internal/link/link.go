package link

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"sidgate/internal/codec"
	"sidgate/internal/pkg"
)

var (
	// ErrTransport 底层传输出错或设备已断开
	ErrTransport = errors.New("transport failure")
	// ErrNotConnected 设备还没有连接
	ErrNotConnected = fmt.Errorf("device not connected: %w", ErrTransport)
	// ErrNoUserGesture 交互式发现必须由用户操作触发
	ErrNoUserGesture = errors.New("device discovery requires a user gesture")
	// ErrNoSavedIdentity 没有保存过设备
	ErrNoSavedIdentity = errors.New("no saved device identity")
	// ErrNotFound 没有找到匹配的设备
	ErrNotFound = errors.New("device not found")
)

// ConnState 连接状态, 只由 Link 修改
type ConnState int32

const (
	Disconnected ConnState = iota
	Found
	Connected
)

func (s ConnState) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Found:
		return "Found"
	case Connected:
		return "Connected"
	}
	return fmt.Sprintf("ConnState(%d)", int32(s))
}

// UserGesture 一次用户发起的操作 (按钮, CLI 命令, HTTP 请求)
type UserGesture struct {
	Source string
	At     time.Time
}

func NewUserGesture(source string) *UserGesture {
	return &UserGesture{Source: source, At: time.Now()}
}

// Expect 返回已收到字节中完整响应的长度, 还不完整时返回 0.
// 完整响应之后多出的字节 (设备可能一次回多个 64 字节包) 被丢弃
type Expect func(buf []byte) int

// ExpectLen 收满 n 字节
func ExpectLen(n int) Expect {
	return func(buf []byte) int {
		if len(buf) >= n {
			return n
		}
		return 0
	}
}

// ExpectVersion 收到版本帧声明的长度
func ExpectVersion(buf []byte) int {
	if len(buf) < 2 || buf[1] == 0 || len(buf) < 2+int(buf[1]) {
		return 0
	}
	return 2 + int(buf[1])
}

// Link 管理设备连接的生命周期, 并提供给播放方使用的控制信号
type Link struct {
	cfg    pkg.DeviceConfig
	driver Driver
	store  *IdentityStore
	logger *zap.Logger

	mu       sync.Mutex // 保护 state / identity / tr
	state    ConnState
	identity *Identity
	tr       Transport

	xmu     sync.Mutex // 同一时刻只有一次交换
	playing atomic.Bool
}

// New 从 context 中的配置创建 Link
func New(ctx context.Context) (*Link, error) {
	driver, err := NewDriver(ctx)
	if err != nil {
		return nil, err
	}
	cfg := pkg.ConfigFromContext(ctx).Device.WithDefaults()
	return NewWithDriver(ctx, cfg, driver), nil
}

// NewWithDriver 使用指定驱动创建 Link
func NewWithDriver(ctx context.Context, cfg pkg.DeviceConfig, driver Driver) *Link {
	cfg = cfg.WithDefaults()
	return &Link{
		cfg:    cfg,
		driver: driver,
		store:  NewIdentityStore(cfg.IdentityFile),
		logger: pkg.LoggerFromContext(ctx).With(zap.String("transport", driver.GetType())),
	}
}

// State 当前连接状态
func (l *Link) State() ConnState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Identity 当前选中的设备
func (l *Link) Identity() (Identity, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.identity == nil {
		return Identity{}, false
	}
	return *l.identity, true
}

// DeviceName 当前设备名, 未选中时为空
func (l *Link) DeviceName() string {
	id, ok := l.Identity()
	if !ok {
		return ""
	}
	return id.Name()
}

// Settling 写入后等待设备的时间
func (l *Link) Settling() pkg.SettleConfig { return l.cfg.Settle }

// Driver 底层驱动
func (l *Link) Driver() Driver { return l.driver }

// Discover 列出可用设备, 不改变状态
func (l *Link) Discover(ctx context.Context) ([]Identity, error) {
	return l.driver.Discover(ctx)
}

// RequestDevice 交互式选择设备, 必须带有用户操作
func (l *Link) RequestDevice(ctx context.Context, gesture *UserGesture) (Identity, error) {
	if gesture == nil {
		return Identity{}, ErrNoUserGesture
	}
	ids, err := l.driver.Discover(ctx)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	if len(ids) == 0 {
		return Identity{}, ErrNotFound
	}
	id := ids[0]
	if err := l.store.Save(id); err != nil {
		l.logger.Warn("保存设备标识失败", zap.Error(err))
	}
	l.found(id)
	l.logger.Info("已选择设备", zap.String("device", id.Name()), zap.String("port", id.Port), zap.String("gesture", gesture.Source))
	return id, nil
}

// AutoConnect 根据保存的标识找到设备, 不弹出交互
func (l *Link) AutoConnect(ctx context.Context) (Identity, error) {
	saved, err := l.store.Load()
	if err != nil {
		return Identity{}, err
	}
	ids, err := l.driver.Discover(ctx)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	for _, id := range ids {
		if id.Same(saved) {
			l.found(id)
			l.logger.Info("已找到保存的设备", zap.String("device", id.Name()))
			return id, nil
		}
	}
	return Identity{}, fmt.Errorf("%s: %w", saved.Name(), ErrNotFound)
}

func (l *Link) found(id Identity) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.tr != nil {
		_ = l.tr.Close()
		l.tr = nil
	}
	l.identity = &id
	l.state = Found
}

// Connect 打开原生句柄并清空缓冲; 已连接时只做 flush 和清总线
func (l *Link) Connect(ctx context.Context) error {
	l.mu.Lock()
	state, id := l.state, l.identity
	l.mu.Unlock()

	switch state {
	case Connected:
		l.Flush()
		l.Clear(ctx)
		return nil
	case Disconnected:
		return fmt.Errorf("no device selected: %w", ErrNotFound)
	}

	tr, err := l.driver.Open(ctx, *id)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	if err := tr.Flush(); err != nil {
		_ = tr.Close()
		return fmt.Errorf("initial flush: %w: %w", ErrTransport, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != Found || l.identity == nil || !l.identity.Same(*id) {
		_ = tr.Close()
		return fmt.Errorf("device changed while connecting: %w", ErrTransport)
	}
	l.tr = tr
	l.state = Connected
	l.logger.Info("设备已连接", zap.String("device", id.Name()))
	return nil
}

// Disconnect 关闭句柄, 回到 Disconnected
func (l *Link) Disconnect() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var err error
	if l.tr != nil {
		err = l.tr.Close()
		l.tr = nil
	}
	l.state = Disconnected
	l.playing.Store(false)
	l.logger.Info("设备已断开")
	return err
}

// Forget 断开并删除保存的设备标识
func (l *Link) Forget() error {
	_ = l.Disconnect()
	l.mu.Lock()
	l.identity = nil
	l.mu.Unlock()
	return l.store.Forget()
}

func (l *Link) transport() (Transport, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != Connected || l.tr == nil {
		return nil, ErrNotConnected
	}
	return l.tr, nil
}

func (l *Link) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Write 写出一帧, 返回即表示写入完成
func (l *Link) Write(ctx context.Context, frame []byte) error {
	tr, err := l.transport()
	if err != nil {
		return err
	}
	l.xmu.Lock()
	defer l.xmu.Unlock()
	if err := tr.Write(ctx, frame); err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	pkg.GetPerformanceMetrics().AddFrameOut()
	return l.sleep(ctx, l.cfg.Settle.Write)
}

// Exchange 写出一帧, 等待 settle 后按分片读取, 直到 expect 满足或者分片超时
func (l *Link) Exchange(ctx context.Context, frame []byte, settle time.Duration, expect Expect) ([]byte, error) {
	tr, err := l.transport()
	if err != nil {
		return nil, err
	}
	l.xmu.Lock()
	defer l.xmu.Unlock()

	timer := pkg.GetPerformanceMetrics().NewTimer("exchange")
	defer timer.StopAndLog(l.logger)

	// 丢弃上一次交换残留的字节
	if err := tr.Flush(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	if err := tr.Write(ctx, frame); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	pkg.GetPerformanceMetrics().AddFrameOut()
	if err := l.sleep(ctx, settle); err != nil {
		return nil, err
	}

	asm := pkg.NewResponseAssembler()
	defer asm.Reset()
	for {
		buf := pkg.ReadBufPool.Get()
		n, err := tr.Read(ctx, buf, l.cfg.Settle.ChunkTimeout)
		if n > 0 {
			asm.Append(buf[:n])
			pkg.GetPerformanceMetrics().AddBytesIn(n)
		}
		pkg.ReadBufPool.Put(buf)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrTransport, err)
		}
		if n == 0 {
			break
		}
		if expect == nil {
			continue
		}
		resp := asm.Materialize()
		if n := expect(resp); n > 0 {
			return resp[:n], nil
		}
	}
	return asm.Materialize(), nil
}

func (l *Link) signal(ctx context.Context, name string, fn, arg byte) {
	frame, err := codec.EncodeSimpleCommandArg(fn, arg)
	if err == nil {
		err = l.Write(ctx, frame)
	}
	if err != nil {
		l.logger.Warn("控制信号发送失败", zap.String("signal", name), zap.Error(err))
		return
	}
	l.logger.Debug("控制信号", zap.String("signal", name))
}

// Mute 静音
func (l *Link) Mute(ctx context.Context) { l.signal(ctx, "mute", codec.Mute, 0) }

// UnMute 取消静音
func (l *Link) UnMute(ctx context.Context) { l.signal(ctx, "unmute", codec.Unmute, 0) }

// Reset 复位 SID
func (l *Link) Reset(ctx context.Context) { l.signal(ctx, "reset", codec.ResetSID, 1) }

// Clear 清总线
func (l *Link) Clear(ctx context.Context) { l.signal(ctx, "clear", codec.ClearBus, 0) }

// Flush 清空传输缓冲
func (l *Link) Flush() {
	tr, err := l.transport()
	if err == nil {
		err = tr.Flush()
	}
	if err != nil {
		l.logger.Warn("flush 失败", zap.Error(err))
	}
}

// PlaybackActive 播放方是否正在使用通道
func (l *Link) PlaybackActive() bool { return l.playing.Load() }

// OnPlay 播放开始
func (l *Link) OnPlay(ctx context.Context) {
	l.UnMute(ctx)
	l.playing.Store(true)
}

// OnResume 恢复播放
func (l *Link) OnResume(ctx context.Context) { l.OnPlay(ctx) }

// OnPause 暂停
func (l *Link) OnPause(ctx context.Context) {
	l.Mute(ctx)
	l.playing.Store(false)
}

// OnStop 停止
func (l *Link) OnStop(ctx context.Context) { l.OnPause(ctx) }

// OnLoad 载入新曲目
func (l *Link) OnLoad(ctx context.Context) {
	l.Flush()
	l.Reset(ctx)
}
