package sink

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"sidgate/internal/pkg"
)

func init() {
	Register("mongodb", NewMongoSink)
}

// MongoInfo MongoDB 归档配置
type MongoInfo struct {
	URI        string        `mapstructure:"uri"`
	Database   string        `mapstructure:"database"`
	Collection string        `mapstructure:"collection"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// docInserter *mongo.Collection 中用到的方法
type docInserter interface {
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
}

// MongoSink 每个快照归档为一个文档, 用于回溯配置变更历史
type MongoSink struct {
	client *mongo.Client
	coll   docInserter
	info   MongoInfo
	ctx    context.Context
	logger *zap.Logger
}

// NewMongoSink 连接 MongoDB 并检查连通性
func NewMongoSink(ctx context.Context) (Template, error) {
	var info MongoInfo
	if _, err := decodePara(ctx, "mongodb", &info); err != nil {
		return nil, err
	}
	if info.URI == "" {
		return nil, fmt.Errorf("mongodb config validation failed: 'uri' is required")
	}
	if info.Database == "" {
		info.Database = "sidgate"
	}
	if info.Collection == "" {
		info.Collection = "snapshots"
	}
	if info.Timeout == 0 {
		info.Timeout = 10 * time.Second
	}

	connCtx, cancel := context.WithTimeout(ctx, info.Timeout)
	defer cancel()
	client, err := mongo.Connect(connCtx, options.Client().ApplyURI(info.URI))
	if err != nil {
		return nil, fmt.Errorf("连接 MongoDB 失败: %w", err)
	}
	if err = client.Ping(connCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping MongoDB 失败: %w", err)
	}
	s := newMongoSink(ctx, info, client.Database(info.Database).Collection(info.Collection))
	s.client = client
	s.logger.Info("成功连接到 MongoDB", zap.String("database", info.Database), zap.String("collection", info.Collection))
	return s, nil
}

func newMongoSink(ctx context.Context, info MongoInfo, coll docInserter) *MongoSink {
	if info.Timeout == 0 {
		info.Timeout = 10 * time.Second
	}
	return &MongoSink{
		coll:   coll,
		info:   info,
		ctx:    ctx,
		logger: pkg.LoggerFromContext(ctx).With(zap.String("sink_type", "mongodb")),
	}
}

func (m *MongoSink) GetType() string {
	return "mongodb"
}

// Document 快照对应的归档文档
func (m *MongoSink) Document(s *pkg.Snapshot) bson.M {
	return bson.M{
		"_id":     s.ID.String(),
		"device":  s.Device,
		"version": s.Version,
		"fields":  s.Fields,
		"labels":  s.Labels,
		"raw":     s.RawHex(),
		"ts":      s.Ts,
	}
}

// Archive 写入一个快照
func (m *MongoSink) Archive(s *pkg.Snapshot) error {
	ctx, cancel := context.WithTimeout(m.ctx, m.info.Timeout)
	defer cancel()
	if _, err := m.coll.InsertOne(ctx, m.Document(s)); err != nil {
		return fmt.Errorf("归档快照 %s 失败: %w", s.ID, err)
	}
	return nil
}

func (m *MongoSink) Start(ch chan *pkg.Snapshot) {
	metrics := pkg.GetPerformanceMetrics()
	m.logger.Info("===MongoSink started===")
	defer m.Stop()

OuterLoop:
	for {
		select {
		case <-m.ctx.Done():
			break OuterLoop
		case s, ok := <-ch:
			if !ok {
				break OuterLoop
			}
			if err := m.Archive(s); err != nil {
				metrics.Inc(pkg.StatErrors, "sink_mongodb")
				m.logger.Error("MongoDB 归档失败", zap.Error(err))
				continue
			}
			metrics.Inc(pkg.StatSent, "sink_mongodb")
		}
	}
	m.logger.Info("===MongoSink stopped===")
}

// Stop 关闭 MongoDB 连接
func (m *MongoSink) Stop() {
	if m.client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.client.Disconnect(ctx); err != nil {
		m.logger.Warn("关闭 MongoDB 连接失败", zap.Error(err))
	}
}
