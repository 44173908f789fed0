package command

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"sidgate/internal"
	"sidgate/internal/link"
	"sidgate/internal/pkg"
)

// App 在多次命令之间保持同一个设备连接 (REPL 模式)
type App struct {
	ConfigDir string
	Verbose   bool

	cfg    *pkg.Config
	ctx    context.Context
	cancel context.CancelFunc
	gw     *internal.Gateway
	out    io.Writer
}

func NewApp(out io.Writer) *App {
	return &App{ConfigDir: "yaml", out: out}
}

// WithConfig 使用给定配置, 不再读取配置目录
func (a *App) WithConfig(cfg *pkg.Config) *App {
	a.cfg = cfg
	return a
}

func (a *App) config() *pkg.Config {
	if a.cfg != nil {
		return a.cfg
	}
	cfg, _, err := pkg.InitCommon(a.ConfigDir)
	if err != nil {
		fmt.Fprintf(a.out, "[cli] 加载配置失败, 使用默认配置: %s\n", err)
		cfg = &pkg.Config{}
		cfg.Device = cfg.Device.WithDefaults()
	}
	a.cfg = cfg
	return cfg
}

// gateway 第一次使用时创建, CLI 不启动 sink
func (a *App) gateway() (*internal.Gateway, error) {
	if a.gw != nil {
		return a.gw, nil
	}
	cfg := a.config()
	log := zap.NewNop()
	if a.Verbose {
		log, _ = pkg.NewLogger(&pkg.LogConfig{Level: "debug"})
	}
	ctx, cancel := context.WithCancel(context.Background())
	ctx = pkg.WithErrChan(ctx, make(chan error, 10))
	ctx = pkg.WithConfig(ctx, cfg)
	ctx = pkg.WithLogger(ctx, log)

	l, err := link.New(ctx)
	if err != nil {
		cancel()
		return nil, err
	}
	gw, err := internal.NewGateway(ctx, l, nil)
	if err != nil {
		cancel()
		return nil, err
	}
	a.ctx, a.cancel, a.gw = ctx, cancel, gw
	return gw, nil
}

// connected 返回已连接的 Gateway, CLI 命令本身就是一次用户操作
func (a *App) connected() (*internal.Gateway, error) {
	gw, err := a.gateway()
	if err != nil {
		return nil, err
	}
	if gw.Link().State() == link.Connected {
		return gw, nil
	}
	if _, err := gw.Connect(a.ctx, link.NewUserGesture("cli")); err != nil {
		return nil, err
	}
	return gw, nil
}

// retrieved 导入导出需要先读取配置
func (a *App) retrieved() (*internal.Gateway, error) {
	gw, err := a.connected()
	if err != nil {
		return nil, err
	}
	if gw.Session().Blob() == nil {
		if _, err := gw.Retrieve(a.ctx); err != nil {
			return nil, err
		}
	}
	return gw, nil
}

// Close 断开设备
func (a *App) Close() {
	if a.gw == nil {
		return
	}
	_ = a.gw.Close()
	a.cancel()
	a.gw = nil
}
