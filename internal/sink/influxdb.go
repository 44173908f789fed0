package sink

import (
	"context"
	"strconv"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.uber.org/zap"

	"sidgate/internal/pkg"
)

// 拓展 sink 步骤
func init() {
	Register("influxdb", NewInfluxDbSink)
}

// measurement 名称
const influxMeasurement = "usbsid_config"

// InfluxDbInfo InfluxDB的专属配置
type InfluxDbInfo struct {
	URL       string   `mapstructure:"url"`
	Org       string   `mapstructure:"org"`
	Token     string   `mapstructure:"token"`
	Bucket    string   `mapstructure:"bucket"`
	BatchSize uint     `mapstructure:"batch_size"`
	Tags      []string `mapstructure:"tags"`   // 作为 tag 写入而不是 field 的字段名
	Labels    bool     `mapstructure:"labels"` // 同时写入显示值, 字段名加 _label 后缀
}

// pointWriter api.WriteAPI 中用到的方法
type pointWriter interface {
	WritePoint(point *write.Point)
	Flush()
}

// InfluxDbSink 每个快照写一个点
type InfluxDbSink struct {
	client   influxdb2.Client
	writeAPI pointWriter
	info     InfluxDbInfo
	ctx      context.Context
	logger   *zap.Logger
}

// NewInfluxDbSink Step.0 构造函数
func NewInfluxDbSink(ctx context.Context) (Template, error) {
	var info InfluxDbInfo
	if _, err := decodePara(ctx, "influxdb", &info); err != nil {
		return nil, err
	}
	// 为零时 SDK 内部会出现除零
	if info.BatchSize == 0 {
		info.BatchSize = 100
	}
	log := pkg.LoggerFromContext(ctx)
	log.Debug("InfluxDB配置", zap.String("url", info.URL), zap.String("bucket", info.Bucket))
	client := influxdb2.NewClientWithOptions(info.URL, info.Token, influxdb2.DefaultOptions().SetBatchSize(info.BatchSize))
	writeAPI := client.WriteAPI(info.Org, info.Bucket)
	errorsCh := writeAPI.Errors()
	go func() {
		for err := range errorsCh {
			pkg.GetPerformanceMetrics().Inc(pkg.StatErrors, "sink_influxdb")
			log.Error("InfluxDB 写入失败", zap.Error(err))
		}
	}()
	return &InfluxDbSink{
		client:   client,
		writeAPI: writeAPI,
		info:     info,
		ctx:      ctx,
		logger:   log.With(zap.String("sink_type", "influxdb")),
	}, nil
}

// GetType Step.1
func (b *InfluxDbSink) GetType() string {
	return "influxdb"
}

// Start Step.2
func (b *InfluxDbSink) Start(ch chan *pkg.Snapshot) {
	metrics := pkg.GetPerformanceMetrics()
	defer b.Stop()
	b.logger.Debug("===InfluxDbSink started===")
	for {
		select {
		case <-b.ctx.Done():
			b.logger.Debug("===InfluxDbSink stopped===")
			return
		case s, ok := <-ch:
			if !ok {
				return
			}
			b.writeAPI.WritePoint(b.Point(s))
			metrics.Inc(pkg.StatSent, "sink_influxdb")
		}
	}
}

// Point 由快照生成数据点
func (b *InfluxDbSink) Point(s *pkg.Snapshot) *write.Point {
	tagsSet := make(map[string]struct{}, len(b.info.Tags))
	for _, tag := range b.info.Tags {
		tagsSet[tag] = struct{}{}
	}
	tags := map[string]string{
		"device":  s.Device,
		"version": s.Version,
	}
	fields := make(map[string]interface{}, len(s.Fields))
	for name, v := range s.Fields {
		if _, isTag := tagsSet[name]; isTag {
			if label, ok := s.Labels[name]; ok {
				tags[name] = label
			} else {
				tags[name] = strconv.Itoa(v)
			}
			continue
		}
		fields[name] = v
		if b.info.Labels {
			if label, ok := s.Labels[name]; ok {
				fields[name+"_label"] = label
			}
		}
	}
	return influxdb2.NewPoint(influxMeasurement, tags, fields, s.Ts)
}

// Stop 刷新并关闭客户端
func (b *InfluxDbSink) Stop() {
	b.writeAPI.Flush()
	if b.client != nil {
		b.client.Close()
	}
}
