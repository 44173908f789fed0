package internal

import (
	"context"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"sidgate/internal/codec"
	"sidgate/internal/link"
	"sidgate/internal/pkg"
	"sidgate/internal/profile"
	"sidgate/internal/regmap"
	"sidgate/internal/rules"
	"sidgate/internal/session"
	"sidgate/internal/sink"
)

// Report 一次 Retrieve 的结果
type Report struct {
	View       regmap.View           `json:"view"`
	Fields     []regmap.DisplayValue `json:"fields"`
	Raw        string                `json:"raw"`
	Version    string                `json:"version"`
	Supported  bool                  `json:"supported"`
	Findings   []rules.Finding       `json:"findings"`
	SnapshotID string                `json:"snapshot_id"`
}

// Gateway 组合设备连接、配置会话、固件版本门限、规则检查和快照下游
type Gateway struct {
	link        *link.Link
	session     *session.Session
	sinks       *sink.Collection
	rules       *rules.Engine
	logger      *zap.Logger
	minFirmware string

	mu      sync.RWMutex
	version string // 为空表示还没有读到版本
}

// NewGateway 创建 Gateway, sinks 可以为 nil
func NewGateway(ctx context.Context, l *link.Link, sinks *sink.Collection) (*Gateway, error) {
	cfg := pkg.ConfigFromContext(ctx)
	engine, err := rules.Compile(cfg.Rules)
	if err != nil {
		return nil, err
	}
	logger := pkg.LoggerFromContext(ctx)
	if sinks == nil {
		sinks = sink.NewCollection(logger)
	}
	return &Gateway{
		link:        l,
		session:     session.New(ctx, l),
		sinks:       sinks,
		rules:       engine,
		logger:      logger,
		minFirmware: cfg.Device.WithDefaults().MinFirmware,
	}, nil
}

// StartGateway 按 ctx 中的配置创建连接和 sink, 有保存的设备时自动连接
func StartGateway(ctx context.Context) (*Gateway, error) {
	l, err := link.New(pkg.WithLoggerAndModule(ctx, pkg.LoggerFromContext(ctx), "Link"))
	if err != nil {
		return nil, fmt.Errorf("failed to create link: %w", err)
	}
	sinks, err := sink.New(pkg.WithLoggerAndModule(ctx, pkg.LoggerFromContext(ctx), "Sink"))
	if err != nil {
		return nil, fmt.Errorf("failed to create sinks: %w", err)
	}
	sinks.Start()

	g, err := NewGateway(pkg.WithLoggerAndModule(ctx, pkg.LoggerFromContext(ctx), "Gateway"), l, sinks)
	if err != nil {
		return nil, err
	}
	if id, err := l.AutoConnect(ctx); err != nil {
		g.logger.Info("没有可自动连接的设备, 等待用户选择", zap.Error(err))
	} else if err := l.Connect(ctx); err != nil {
		g.logger.Warn("自动连接失败", zap.String("device", id.Name()), zap.Error(err))
	} else {
		g.logger.Info("已自动连接设备", zap.String("device", id.Name()))
	}
	return g, nil
}

func (g *Gateway) Link() *link.Link {
	return g.link
}

func (g *Gateway) Session() *session.Session {
	return g.session
}

func (g *Gateway) Sinks() *sink.Collection {
	return g.sinks
}

// Version 最近读到的固件版本和是否满足最低要求
func (g *Gateway) Version() (string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.version, g.version != "" && codec.VersionAtLeast(g.version, g.minFirmware)
}

// ForgetVersion 设备变化后需要重新读取版本
func (g *Gateway) ForgetVersion() {
	g.mu.Lock()
	g.version = ""
	g.mu.Unlock()
}

// gate 写操作的固件版本门限, 版本未知时关闭
// 播放控制在固件版本未知或过低时也可以发送
var playbackControls = map[string]bool{
	"mute":    true,
	"unmute":  true,
	"pause":   true,
	"unpause": true,
}

func (g *Gateway) gate(op string) error {
	version, ok := g.Version()
	if ok {
		return nil
	}
	pkg.GetPerformanceMetrics().Inc(pkg.StatRejected, op)
	if version == "" {
		return fmt.Errorf("%s: firmware version unknown, retrieve first: %w", op, session.ErrUnsupportedFirmware)
	}
	return fmt.Errorf("%s: firmware %s < %s: %w", op, version, g.minFirmware, session.ErrUnsupportedFirmware)
}

// Connect 已连接时只清缓冲; 否则先找保存的设备, 找不到且有 gesture 时交互选择.
// 连接后立即读取固件版本
func (g *Gateway) Connect(ctx context.Context, gesture *link.UserGesture) (link.Identity, error) {
	if g.link.State() == link.Connected {
		id, _ := g.link.Identity()
		return id, g.link.Connect(ctx)
	}
	id, err := g.link.AutoConnect(ctx)
	if err != nil {
		if gesture == nil {
			return link.Identity{}, err
		}
		g.logger.Debug("自动连接失败, 改为交互选择", zap.Error(err))
		if id, err = g.link.RequestDevice(ctx, gesture); err != nil {
			return link.Identity{}, err
		}
	}
	g.ForgetVersion()
	if err := g.link.Connect(ctx); err != nil {
		return id, err
	}
	if _, err := g.RefreshVersion(ctx); err != nil {
		g.logger.Warn("读取固件版本失败", zap.String("device", id.Name()), zap.Error(err))
	}
	return id, nil
}

// Disconnect 断开设备, 版本需要重新读取
func (g *Gateway) Disconnect() error {
	g.ForgetVersion()
	return g.link.Disconnect()
}

// Playback 播放方事件: play, resume, pause, stop, load
func (g *Gateway) Playback(ctx context.Context, event string) error {
	switch event {
	case "play":
		g.link.OnPlay(ctx)
	case "resume":
		g.link.OnResume(ctx)
	case "pause":
		g.link.OnPause(ctx)
	case "stop":
		g.link.OnStop(ctx)
	case "load":
		g.link.OnLoad(ctx)
	default:
		return fmt.Errorf("playback event %q: %w", event, session.ErrUnknownCommand)
	}
	g.logger.Debug("播放事件", zap.String("event", event))
	return nil
}

// RefreshVersion 重新读取固件版本
func (g *Gateway) RefreshVersion(ctx context.Context) (string, error) {
	v, err := g.session.ReadVersion(ctx)
	if err != nil {
		return "", err
	}
	g.mu.Lock()
	g.version = v
	g.mu.Unlock()
	if !codec.VersionAtLeast(v, g.minFirmware) {
		g.logger.Warn("固件版本过低, 写操作已关闭", zap.String("version", v), zap.String("min", g.minFirmware))
	}
	return v, nil
}

// Retrieve 读取配置 (第一次同时读取版本), 检查规则并发布快照
//
// 输入:
//   - ctx: 上下文
//
// 输出:
//   - *Report: 解码后的配置、版本和规则检查结果
//   - error: 播放中、设备忙或者通信失败
func (g *Gateway) Retrieve(ctx context.Context) (*Report, error) {
	if g.link.PlaybackActive() {
		pkg.GetPerformanceMetrics().Inc(pkg.StatRejected, "retrieve")
		return nil, fmt.Errorf("retrieve: %w", session.ErrPlaybackActive)
	}
	view, err := g.session.ReadConfig(ctx)
	if err != nil {
		return nil, err
	}
	if version, _ := g.Version(); version == "" {
		if _, err := g.RefreshVersion(ctx); err != nil {
			return nil, err
		}
	}
	return g.report(view)
}

func (g *Gateway) report(view regmap.View) (*Report, error) {
	findings, err := g.rules.Check(view)
	if err != nil {
		return nil, err
	}
	fields, err := regmap.FieldValues(view.Raw)
	if err != nil {
		return nil, err
	}
	version, supported := g.Version()
	snapshot := pkg.NewSnapshot(g.link.DeviceName(), version, view.Raw)
	for _, f := range fields {
		snapshot.Set(f.Name, f.Raw, f.Text)
	}
	g.sinks.Publish(snapshot)
	for _, f := range findings {
		g.logger.Info("配置检查", zap.String("rule", f.Rule), zap.String("level", f.Level))
	}
	return &Report{
		View:       view,
		Fields:     fields,
		Raw:        snapshot.RawHex(),
		Version:    version,
		Supported:  supported,
		Findings:   findings,
		SnapshotID: snapshot.ID.String(),
	}, nil
}

// SetConfigItem 修改单个字段
func (g *Gateway) SetConfigItem(ctx context.Context, name string, raw int) error {
	if err := g.gate("set_config"); err != nil {
		return err
	}
	return g.session.SetConfigItem(ctx, name, raw)
}

// SetConfigText 以显示值修改单个字段, 例如 "Clone" 或 "985248 (PAL)"
func (g *Gateway) SetConfigText(ctx context.Context, name, text string) error {
	raw, err := regmap.ParseValue(name, text)
	if err != nil {
		return err
	}
	return g.SetConfigItem(ctx, name, raw)
}

func (g *Gateway) ApplyConfig(ctx context.Context, blob []byte) error {
	if err := g.gate("apply_config"); err != nil {
		return err
	}
	return g.session.ApplyConfig(ctx, blob)
}

func (g *Gateway) SaveConfig(ctx context.Context, reboot bool) error {
	if err := g.gate("save_config"); err != nil {
		return err
	}
	if err := g.session.SaveConfig(ctx, reboot); err != nil {
		return err
	}
	if reboot {
		// 设备重启后版本需要重新确认
		g.ForgetVersion()
	}
	return nil
}

func (g *Gateway) ResetConfig(ctx context.Context) error {
	if err := g.gate("reset_config"); err != nil {
		return err
	}
	return g.session.ResetConfig(ctx)
}

func (g *Gateway) ReloadConfig(ctx context.Context) error {
	if err := g.gate("reload_config"); err != nil {
		return err
	}
	return g.session.ReloadConfig(ctx)
}

func (g *Gateway) SetClock(ctx context.Context, v int) error {
	if err := g.gate("set_clock"); err != nil {
		return err
	}
	return g.session.SetClock(ctx, v)
}

func (g *Gateway) ApplyPreset(ctx context.Context, name string) error {
	if err := g.gate("preset"); err != nil {
		return err
	}
	return g.session.ApplyPreset(ctx, name)
}

// RunCommand 除静音/暂停等播放控制外, 所有命令都受版本门限限制
func (g *Gateway) RunCommand(ctx context.Context, name string) error {
	if _, known := codec.ConfigButtons[name]; !known {
		if _, known = codec.SimpleCommands[name]; !known {
			return g.session.RunCommand(ctx, name)
		}
	}
	if !playbackControls[name] {
		if err := g.gate("cmd_" + name); err != nil {
			return err
		}
	}
	return g.session.RunCommand(ctx, name)
}

func (g *Gateway) ToggleAudio(ctx context.Context) error {
	if err := g.gate("toggle_audio"); err != nil {
		return err
	}
	return g.session.ToggleAudio(ctx)
}

func (g *Gateway) FlipSockets(ctx context.Context) error {
	if err := g.gate("flip_sockets"); err != nil {
		return err
	}
	return g.session.FlipSockets(ctx)
}

func (g *Gateway) ToggleMute(ctx context.Context) error {
	return g.session.ToggleMute(ctx)
}

// DetectSIDs 让设备重新检测 SID 类型并返回新的配置
func (g *Gateway) DetectSIDs(ctx context.Context) (*Report, error) {
	if err := g.gate("detect_sids"); err != nil {
		return nil, err
	}
	view, err := g.session.DetectSIDs(ctx)
	if err != nil {
		return nil, err
	}
	return g.report(view)
}

// ImportProfile 把 YAML 配置叠加到最近读回的配置上并写入设备, save 为 true 时保存 (不重启)
func (g *Gateway) ImportProfile(ctx context.Context, r io.Reader, save bool) (regmap.View, error) {
	if err := g.gate("import_profile"); err != nil {
		return regmap.View{}, err
	}
	blob := g.session.Blob()
	if blob == nil {
		return regmap.View{}, fmt.Errorf("import: %w", session.ErrNoConfig)
	}
	p, err := profile.Import(r)
	if err != nil {
		return regmap.View{}, err
	}
	p.Normalize()
	out, err := p.Overlay(blob)
	if err != nil {
		return regmap.View{}, err
	}
	view, err := regmap.Decode(out)
	if err != nil {
		return regmap.View{}, err
	}
	if err := g.session.ApplyConfig(ctx, out); err != nil {
		return regmap.View{}, err
	}
	if save {
		if err := g.session.SaveConfig(ctx, false); err != nil {
			return view, err
		}
	}
	g.logger.Info("已导入配置", zap.Bool("saved", save))
	return view, nil
}

// ExportProfile 导出最近读回的配置
func (g *Gateway) ExportProfile(w io.Writer) error {
	view, err := g.session.View()
	if err != nil {
		return err
	}
	p, err := profile.FromView(view)
	if err != nil {
		return err
	}
	return p.Export(w)
}

// Close 断开设备并关闭 sink
func (g *Gateway) Close() error {
	g.sinks.Close()
	return g.link.Disconnect()
}
