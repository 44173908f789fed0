package sink

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"sidgate/internal/pkg"
)

// 初始化函数，注册 Prometheus sink
func init() {
	Register("prometheus", NewPrometheusSink)
}

// PrometheusInfo Prometheus 的专属配置
type PrometheusInfo struct {
	Port     int    `mapstructure:"port"` // 0 表示不单独监听, 由管理接口挂载 Handler
	Endpoint string `mapstructure:"endpoint"`
}

// PrometheusSink 将最近一次快照的字段值暴露为 gauge
type PrometheusSink struct {
	info      PrometheusInfo
	ctx       context.Context
	logger    *zap.Logger
	registry  *prometheus.Registry
	fields    *prometheus.GaugeVec
	snapshots *prometheus.CounterVec
	server    *http.Server
}

// perfCollector 在采集时读取 pkg.PerformanceMetrics
type perfCollector struct {
	ops    *prometheus.Desc
	frames *prometheus.Desc
	bytes  *prometheus.Desc
}

func newPerfCollector() *perfCollector {
	return &perfCollector{
		ops:    prometheus.NewDesc("sidgate_device_operations_total", "Device operations by outcome", []string{"op", "stat"}, nil),
		frames: prometheus.NewDesc("sidgate_frames_out_total", "Frames written to the device", nil, nil),
		bytes:  prometheus.NewDesc("sidgate_bytes_in_total", "Bytes read from the device", nil, nil),
	}
}

func (c *perfCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.ops
	ch <- c.frames
	ch <- c.bytes
}

func (c *perfCollector) Collect(ch chan<- prometheus.Metric) {
	pm := pkg.GetPerformanceMetrics()
	for _, s := range pm.Each() {
		ch <- prometheus.MustNewConstMetric(c.ops, prometheus.CounterValue, float64(s.Value), s.Op, s.Stat)
	}
	ch <- prometheus.MustNewConstMetric(c.frames, prometheus.CounterValue, float64(atomic.LoadInt64(&pm.FramesOut)))
	ch <- prometheus.MustNewConstMetric(c.bytes, prometheus.CounterValue, float64(atomic.LoadInt64(&pm.BytesIn)))
}

func newPrometheusSink(ctx context.Context, info PrometheusInfo) *PrometheusSink {
	if info.Endpoint == "" {
		info.Endpoint = "/metrics"
	}
	p := &PrometheusSink{
		info:     info,
		ctx:      ctx,
		logger:   pkg.LoggerFromContext(ctx).With(zap.String("sink_type", "prometheus")),
		registry: prometheus.NewRegistry(),
		fields: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sidgate_config_field",
			Help: "Raw value of a USBSID-Pico configuration field",
		}, []string{"device", "field"}),
		snapshots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sidgate_snapshots_total",
			Help: "Configuration snapshots read from the device",
		}, []string{"device"}),
	}
	p.registry.MustRegister(p.fields, p.snapshots, newPerfCollector())
	return p
}

// NewPrometheusSink Step.0 构造函数
func NewPrometheusSink(ctx context.Context) (Template, error) {
	var info PrometheusInfo
	if _, err := decodePara(ctx, "prometheus", &info); err != nil {
		return nil, fmt.Errorf("[NewPrometheusSink] %w", err)
	}
	p := newPrometheusSink(ctx, info)
	if info.Port > 0 {
		mux := http.NewServeMux()
		mux.Handle(info.Endpoint, p.Handler())
		p.server = &http.Server{Addr: fmt.Sprintf(":%d", info.Port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			p.logger.Info("Starting Prometheus HTTP server", zap.Int("port", info.Port), zap.String("endpoint", info.Endpoint))
			if err := p.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				p.logger.Error("Prometheus HTTP server failed", zap.Error(err))
				pkg.ReportErr(ctx, fmt.Errorf("prometheus http server: %w", err))
			}
		}()
	}
	return p, nil
}

// GetType Step.1
func (p *PrometheusSink) GetType() string {
	return "prometheus"
}

// Handler 返回本 sink 注册表的 HTTP 处理器
func (p *PrometheusSink) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Start Step.2
func (p *PrometheusSink) Start(ch chan *pkg.Snapshot) {
	metrics := pkg.GetPerformanceMetrics()
	p.logger.Info("===PrometheusSink started===")
	defer p.Stop()

OuterLoop:
	for {
		select {
		case <-p.ctx.Done():
			break OuterLoop
		case s, ok := <-ch:
			if !ok {
				break OuterLoop
			}
			p.Publish(s)
			metrics.Inc(pkg.StatSent, "sink_prometheus")
		}
	}
	p.logger.Info("===PrometheusSink stopped===")
}

// Publish 更新 gauge
func (p *PrometheusSink) Publish(s *pkg.Snapshot) {
	for name, v := range s.Fields {
		p.fields.WithLabelValues(s.Device, name).Set(float64(v))
	}
	p.snapshots.WithLabelValues(s.Device).Inc()
	p.logger.Debug("[PrometheusSink] 发布指标", zap.String("device", s.Device), zap.Int("fields", len(s.Fields)))
}

// Stop 关闭单独监听的 HTTP 服务
func (p *PrometheusSink) Stop() {
	if p.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.server.Shutdown(ctx); err != nil {
		p.logger.Warn("关闭 Prometheus HTTP 服务失败", zap.Error(err))
	}
}
