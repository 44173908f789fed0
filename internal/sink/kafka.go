package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"sidgate/internal/pkg"
)

// 初始化时注册 Kafka sink
func init() {
	Register("kafka", NewKafkaSink)
}

// KafkaSinkConfig 包含 Kafka Sink 特定的配置
type KafkaSinkConfig struct {
	Brokers         []string `mapstructure:"brokers"`
	Topic           string   `mapstructure:"topic"`
	Async           bool     `mapstructure:"async"`
	WriteTimeoutSec int      `mapstructure:"writeTimeoutSec"`
	ReadTimeoutSec  int      `mapstructure:"readTimeoutSec"`
	RequiredAcks    int      `mapstructure:"requiredAcks"` // -1 全部 ISR, 0 不确认, 其他为 leader 确认
}

// messageWriter *kafka.Writer 中用到的方法
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink 每个快照一条消息, key 为设备标识
type KafkaSink struct {
	writer messageWriter
	config KafkaSinkConfig
	logger *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

func newKafkaSink(ctx context.Context, cfg KafkaSinkConfig, w messageWriter) *KafkaSink {
	sinkCtx, cancel := context.WithCancel(ctx)
	return &KafkaSink{
		writer: w,
		config: cfg,
		logger: pkg.LoggerFromContext(ctx).With(zap.String("sink_type", "kafka"), zap.String("topic", cfg.Topic)),
		ctx:    sinkCtx,
		cancel: cancel,
	}
}

// NewKafkaSink 是创建 KafkaSink 的工厂函数
func NewKafkaSink(ctx context.Context) (Template, error) {
	var cfg KafkaSinkConfig
	if _, err := decodePara(ctx, "kafka", &cfg); err != nil {
		return nil, err
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka config validation failed: 'brokers' is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka config validation failed: 'topic' is required")
	}
	if cfg.WriteTimeoutSec == 0 {
		cfg.WriteTimeoutSec = 10
	}
	if cfg.ReadTimeoutSec == 0 {
		cfg.ReadTimeoutSec = 10
	}
	acks := kafka.RequireOne
	switch cfg.RequiredAcks {
	case -1:
		acks = kafka.RequireAll
	case 0:
		acks = kafka.RequireNone
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{}, // 同一设备的快照落在同一分区, 保持顺序
		WriteTimeout: time.Duration(cfg.WriteTimeoutSec) * time.Second,
		ReadTimeout:  time.Duration(cfg.ReadTimeoutSec) * time.Second,
		RequiredAcks: acks,
		Async:        cfg.Async,
	}
	ks := newKafkaSink(ctx, cfg, writer)
	ks.logger.Info("Kafka sink initialized",
		zap.Strings("brokers", cfg.Brokers),
		zap.Bool("async", cfg.Async),
		zap.Int("acks", int(acks)),
	)
	return ks, nil
}

// GetType 返回 sink 的类型
func (ks *KafkaSink) GetType() string {
	return "kafka"
}

// Message 由快照生成 Kafka 消息
func (ks *KafkaSink) Message(s *pkg.Snapshot) (kafka.Message, error) {
	data, err := json.Marshal(payload(s))
	if err != nil {
		return kafka.Message{}, fmt.Errorf("序列化快照失败: %w", err)
	}
	return kafka.Message{Key: []byte(s.Device), Value: data, Time: s.Ts}, nil
}

// Start 开始监听通道并将数据发送到 Kafka
func (ks *KafkaSink) Start(ch chan *pkg.Snapshot) {
	metrics := pkg.GetPerformanceMetrics()
	ks.logger.Info("===KafkaSink Started===")

	defer func() {
		if err := ks.writer.Close(); err != nil {
			ks.logger.Error("Failed to close Kafka writer cleanly", zap.Error(err))
		}
		ks.logger.Info("Kafka writer closed")
	}()

OuterLoop:
	for {
		select {
		case <-ks.ctx.Done():
			break OuterLoop
		case s, ok := <-ch:
			if !ok {
				ks.logger.Info("Input channel closed, stopping KafkaSink")
				break OuterLoop
			}
			msg, err := ks.Message(s)
			if err != nil {
				metrics.Inc(pkg.StatErrors, "sink_kafka")
				ks.logger.Error("生成 Kafka 消息失败", zap.Error(err))
				continue
			}
			sendTimer := metrics.NewTimer("kafka_write")
			err = ks.writer.WriteMessages(ks.ctx, msg)
			sendDuration := sendTimer.StopAndLog(ks.logger)
			if err != nil {
				if ks.ctx.Err() != nil {
					ks.logger.Warn("Kafka write context canceled, likely during shutdown", zap.Error(ks.ctx.Err()))
					continue
				}
				metrics.Inc(pkg.StatErrors, "sink_kafka")
				ks.logger.Error("Failed to write snapshot to Kafka", zap.Error(err), zap.Duration("duration", sendDuration), zap.String("device", s.Device))
				continue
			}
			metrics.Inc(pkg.StatSent, "sink_kafka")
		}
	}
	ks.logger.Info("===KafkaSink Finished===")
}

// Stop 通过取消上下文停止, 清理在 Start 的 defer 中完成
func (ks *KafkaSink) Stop() {
	ks.cancel()
}
