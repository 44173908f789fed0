package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"sidgate/internal"
	"sidgate/internal/admin/api"
	"sidgate/internal/admin/router"
	"sidgate/internal/pkg"
	"sidgate/internal/sink"
)

// syncLog 安全地同步日志，忽略与标准输出相关的错误
func syncLog(log *zap.Logger) {
	// Windows平台上，同步标准输出时会出现"The handle is invalid"错误
	err := log.Sync()
	if err != nil && !strings.Contains(err.Error(), "The handle is invalid") && !strings.Contains(err.Error(), "invalid argument") {
		log.Error("程序退出时同步日志失败", zap.Error(err))
	}
}

// startAdmin 启动管理接口, 返回的 server 用于退出时关闭
func startAdmin(ctx context.Context, gw *internal.Gateway) *http.Server {
	cfg := pkg.ConfigFromContext(ctx)
	log := pkg.LoggerFromContext(ctx)
	if !cfg.Admin.Enable {
		log.Info("管理接口未启用")
		return nil
	}
	listen := cfg.Admin.Listen
	if listen == "" {
		listen = ":8081"
	}

	// prometheus sink 不单独监听时挂载到管理接口
	var metrics http.Handler
	if t, ok := gw.Sinks().Get("prometheus"); ok {
		if p, ok := t.(*sink.PrometheusSink); ok {
			metrics = p.Handler()
		}
	}

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:              listen,
		Handler:           router.SetupRouter(api.NewHandler(ctx, gw), metrics),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("管理接口启动", zap.String("listen", listen))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			pkg.ReportErr(ctx, fmt.Errorf("admin http server: %w", err))
		}
	}()
	return srv
}

// logPerf 定期输出设备操作统计
func logPerf(ctx context.Context, interval time.Duration) {
	log := pkg.LoggerFromContext(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pkg.GetPerformanceMetrics().LogMetrics(log)
		}
	}
}

func main() {
	configDir := flag.String("config", "yaml", "配置目录")
	flag.Parse()

	// 1. 初始化配置
	config, _, err := pkg.InitCommon(*configDir)
	if err != nil {
		fmt.Printf("[main] 加载配置失败: %s\n", err)
		os.Exit(1)
	}

	// 2. 初始化log
	log, stopLog := pkg.NewLogger(&config.Log)

	log.Info("程序启动", zap.String("version", config.Version))
	log.Info("配置信息", zap.Any("device", config.Device), zap.Int("strategies", len(config.Strategy)), zap.Int("rules", len(config.Rules)))

	// 3. 创建上下文
	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 10)
	ctx = pkg.WithErrChan(ctx, errChan)
	ctx = pkg.WithConfig(ctx, config)
	ctx = pkg.WithLogger(ctx, log)

	// 4. 设备连接、sink 和规则
	gw, err := internal.StartGateway(ctx)
	if err != nil {
		log.Error("启动网关失败", zap.Error(err))
		cancel()
		syncLog(log)
		stopLog()
		os.Exit(1)
	}
	srv := startAdmin(ctx, gw)
	go logPerf(ctx, time.Minute)
	printStartupLogo()

	shutdown := func() {
		cancel()
		if srv != nil {
			sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := srv.Shutdown(sctx); err != nil {
				log.Warn("关闭管理接口失败", zap.Error(err))
			}
			scancel()
		}
		if err := gw.Close(); err != nil {
			log.Warn("断开设备时出错", zap.Error(err))
		}
		time.Sleep(500 * time.Millisecond) // 给 sink 协程时间刷新
		syncLog(log)
		stopLog()
	}

	// 5. 主线程监听终止信号
	si := make(chan os.Signal, 1)
	signal.Notify(si, os.Interrupt, syscall.SIGTERM)
	select {
	case <-si:
		log.Info("Caught exit signal, exiting sidgate...")
		shutdown()
		os.Exit(0)
	case bad := <-errChan:
		log.Error("Error occurred", zap.Error(bad))
		shutdown()
		os.Exit(1)
	}
}

func printStartupLogo() {
	logo := `
   _____ ________  ______  ___  ____________
  / ___//  _/ __ \/ ____/ /   |/_  __/ ____/
  \__ \ / // / / / / __  / /| | / / / __/
 ___/ // // /_/ / /_/ / / ___ |/ / / /___
/____/___/_____/\____/ /_/  |_/_/ /_____/

`
	fmt.Print(logo)
}
