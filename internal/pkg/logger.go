package pkg

import (
	"os"

	"github.com/shengyanli1982/law"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger 根据日志配置创建 zap.Logger
// 返回的 stop 函数用于在退出前刷新异步写入的日志文件
func NewLogger(cfg *LogConfig) (*zap.Logger, func()) {
	if cfg == nil {
		cfg = &LogConfig{}
	}
	// 创建编码器配置
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "log",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "trace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,     // ISO8601时间格式
		EncodeDuration: zapcore.SecondsDurationEncoder, // 时间格式
		EncodeCaller:   zapcore.ShortCallerEncoder,     // 简短的调用者编码器 (文件名和行号)
	}
	encoder := zapcore.NewJSONEncoder(encoderConfig)

	// 解析日志级别
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zap.InfoLevel // 默认日志级别为 InfoLevel
	}

	syncers := []zapcore.WriteSyncer{zapcore.AddSync(os.Stdout)}
	stop := func() {}
	if cfg.LogPath != "" {
		lumberJackLogger := &lumberjack.Logger{
			Filename:   cfg.LogPath,    // 日志文件路径
			MaxSize:    cfg.MaxSize,    // megabytes
			MaxBackups: cfg.MaxBackups, // number of backups
			MaxAge:     cfg.MaxAge,     // days
			Compress:   cfg.Compress,   // compress old logs
			LocalTime:  true,
		}
		// 文件写入走异步队列，避免设备 I/O 路径被磁盘阻塞
		aw := law.NewWriteAsyncer(lumberJackLogger, nil)
		syncers = append(syncers, zapcore.AddSync(aw))
		stop = func() {
			aw.Stop()
			_ = lumberJackLogger.Close()
		}
	}

	core := zapcore.NewCore(encoder, zapcore.NewMultiWriteSyncer(syncers...), level)
	// 创建 Logger 并添加调用者信息和堆栈跟踪
	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return logger, stop
}
