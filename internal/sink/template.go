package sink

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"

	"sidgate/internal/pkg"
)

// 每个 sink 的缓冲长度
const bufferSize = 16

// Template 定义了所有 sink 的通用接口
type Template interface {
	GetType() string          // Step:1 类型名, 与配置中的 type 一致
	Start(chan *pkg.Snapshot) // Step:2 阻塞运行直到通道关闭或 ctx 结束
}

// FactoryFunc 代表一个 sink 的工厂函数
type FactoryFunc func(context.Context) (Template, error)

// Factories 全局工厂映射, 这里面可能包含了没有启用的 sink
var Factories = make(map[string]FactoryFunc)

// Register 注册一个 sink
func Register(sinkType string, factory FactoryFunc) {
	Factories[sinkType] = factory
}

// decodePara 找到启用的 typ 配置并解码 Para
func decodePara(ctx context.Context, typ string, out interface{}) (pkg.StrategyConfig, error) {
	for _, sc := range pkg.ConfigFromContext(ctx).Strategy {
		if !sc.Enable || sc.Type != typ {
			continue
		}
		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:           out,
			TagName:          "mapstructure",
			WeaklyTypedInput: true,
			DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		})
		if err != nil {
			return sc, fmt.Errorf("创建 %s 配置解码器失败: %w", typ, err)
		}
		if err := decoder.Decode(sc.Para); err != nil {
			return sc, fmt.Errorf("解析 %s 配置失败: %w", typ, err)
		}
		return sc, nil
	}
	return pkg.StrategyConfig{}, fmt.Errorf("no enabled %s strategy configuration found", typ)
}

// payload mqtt 和 kafka 共用的消息体
func payload(s *pkg.Snapshot) map[string]interface{} {
	return map[string]interface{}{
		"tags": map[string]string{
			"id":      s.ID.String(),
			"device":  s.Device,
			"version": s.Version,
		},
		"fields": s.Fields,
		"labels": s.Labels,
		"ts":     s.Ts.UnixNano(),
	}
}

type entry struct {
	tpl     Template
	ch      chan *pkg.Snapshot
	filters []*regexp.Regexp
}

// Collection 已启用的 sink 集合
type Collection struct {
	mu      sync.RWMutex
	entries map[string]*entry
	logger  *zap.Logger
}

// NewCollection 创建空集合
func NewCollection(logger *zap.Logger) *Collection {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collection{entries: make(map[string]*entry), logger: logger}
}

// Add 加入一个 sink, filters 为字段名正则
func (c *Collection) Add(t Template, filters []string) error {
	res, err := pkg.CompileFilters(filters)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[t.GetType()] = &entry{tpl: t, ch: make(chan *pkg.Snapshot, bufferSize), filters: res}
	return nil
}

// Types 已启用的 sink 类型
func (c *Collection) Types() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	res := make([]string, 0, len(c.entries))
	for k := range c.entries {
		res = append(res, k)
	}
	sort.Strings(res)
	return res
}

// Get 按类型取 sink
func (c *Collection) Get(typ string) (Template, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[typ]
	if !ok {
		return nil, false
	}
	return e.tpl, true
}

// Len sink 数量
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Start 为每个 sink 启动一个 goroutine
func (c *Collection) Start() {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, e := range c.entries {
		go e.tpl.Start(e.ch)
	}
}

// Publish 非阻塞分发, 通道满时丢弃并计数
func (c *Collection) Publish(s *pkg.Snapshot) {
	if s == nil {
		return
	}
	metrics := pkg.GetPerformanceMetrics()
	c.mu.RLock()
	defer c.mu.RUnlock()
	for typ, e := range c.entries {
		select {
		case e.ch <- s.Filtered(e.filters):
		default:
			metrics.Inc(pkg.StatRejected, "sink_"+typ)
			c.logger.Warn("sink 缓冲已满, 丢弃快照", zap.String("sink", typ), zap.String("device", s.Device))
		}
	}
}

// Close 关闭所有通道, sink 的 Start 随之退出
func (c *Collection) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		close(e.ch)
	}
	c.entries = make(map[string]*entry)
}

// New 按配置初始化所有启用的 sink
var New = func(ctx context.Context) (*Collection, error) {
	log := pkg.LoggerFromContext(ctx)
	factoryTypes := make([]string, 0, len(Factories))
	for key := range Factories {
		factoryTypes = append(factoryTypes, key)
	}
	log.Debug("Template Factory:", zap.Strings("Factories", factoryTypes))

	c := NewCollection(log)
	for _, sc := range pkg.ConfigFromContext(ctx).Strategy {
		if !sc.Enable {
			continue
		}
		factory, exists := Factories[sc.Type]
		if !exists {
			log.Warn("未知的 sink 类型, 已忽略", zap.String("type", sc.Type))
			continue
		}
		log.Info(fmt.Sprintf("===正在启动Sink: %s===", sc.Type))
		t, err := factory(ctx)
		if err != nil {
			return nil, fmt.Errorf("初始化 sink %s 失败: %w", sc.Type, err)
		}
		if err := c.Add(t, sc.Filter); err != nil {
			return nil, fmt.Errorf("初始化 sink %s 失败: %w", sc.Type, err)
		}
	}
	return c, nil
}
