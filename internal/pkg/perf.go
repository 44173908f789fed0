package pkg

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// 计数类别
const (
	StatSent     = "sent"     // 已写入设备的帧
	StatRejected = "rejected" // 被 Busy / PlaybackActive / 固件版本拦截
	StatErrors   = "errors"   // 传输或解码失败
)

// PerformanceMetrics 按操作名统计设备交互
type PerformanceMetrics struct {
	StartTime time.Time

	FramesOut int64 // 写出的帧数
	BytesIn   int64 // 读到的字节数
	Elapsed   int64 // 纳秒, 累计交互耗时
	Exchanges int64

	stats sync.Map // "<stat>/<op>" -> *int64
}

var (
	perfMetrics *PerformanceMetrics
	once        sync.Once
)

// GetPerformanceMetrics 返回进程内唯一的统计实例
func GetPerformanceMetrics() *PerformanceMetrics {
	once.Do(func() {
		perfMetrics = &PerformanceMetrics{StartTime: time.Now()}
	})
	return perfMetrics
}

func (pm *PerformanceMetrics) counter(stat, op string) *int64 {
	key := stat + "/" + op
	if val, ok := pm.stats.Load(key); ok {
		return val.(*int64)
	}
	c := new(int64)
	if actual, loaded := pm.stats.LoadOrStore(key, c); loaded {
		return actual.(*int64)
	}
	return c
}

// Inc 增加某操作某类别的计数并返回当前值
func (pm *PerformanceMetrics) Inc(stat, op string) int64 {
	return atomic.AddInt64(pm.counter(stat, op), 1)
}

// Count 读取某操作某类别的计数
func (pm *PerformanceMetrics) Count(stat, op string) int64 {
	if val, ok := pm.stats.Load(stat + "/" + op); ok {
		return atomic.LoadInt64(val.(*int64))
	}
	return 0
}

// AddFrameOut 记录一次写出
func (pm *PerformanceMetrics) AddFrameOut() int64 {
	return atomic.AddInt64(&pm.FramesOut, 1)
}

// AddBytesIn 记录读到的字节
func (pm *PerformanceMetrics) AddBytesIn(n int) int64 {
	return atomic.AddInt64(&pm.BytesIn, int64(n))
}

// OpStat 一条计数记录
type OpStat struct {
	Stat  string
	Op    string
	Value int64
}

// Each 按 key 排序遍历所有计数
func (pm *PerformanceMetrics) Each() []OpStat {
	var out []OpStat
	pm.stats.Range(func(k, v any) bool {
		key := k.(string)
		for i := 0; i < len(key); i++ {
			if key[i] == '/' {
				out = append(out, OpStat{Stat: key[:i], Op: key[i+1:], Value: atomic.LoadInt64(v.(*int64))})
				break
			}
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Op == out[j].Op {
			return out[i].Stat < out[j].Stat
		}
		return out[i].Op < out[j].Op
	})
	return out
}

// LogMetrics 将统计写入日志
func (pm *PerformanceMetrics) LogMetrics(logger *zap.Logger) {
	var avg time.Duration
	if n := atomic.LoadInt64(&pm.Exchanges); n > 0 {
		avg = time.Duration(atomic.LoadInt64(&pm.Elapsed) / n)
	}
	fields := []zap.Field{
		zap.Duration("uptime", time.Since(pm.StartTime)),
		zap.Int64("frames_out", atomic.LoadInt64(&pm.FramesOut)),
		zap.Int64("bytes_in", atomic.LoadInt64(&pm.BytesIn)),
		zap.Duration("avg_exchange", avg),
	}
	for _, s := range pm.Each() {
		fields = append(fields, zap.Int64(s.Op+"_"+s.Stat, s.Value))
	}
	logger.Info("设备交互统计", fields...)
}

// Timer 简单的计时器结构体
type Timer struct {
	start   time.Time
	metrics *PerformanceMetrics
	name    string
}

// NewTimer 创建一个新的计时器
func (pm *PerformanceMetrics) NewTimer(name string) *Timer {
	return &Timer{start: time.Now(), metrics: pm, name: name}
}

// Stop 停止计时器并记录时间
func (t *Timer) Stop() time.Duration {
	d := time.Since(t.start)
	atomic.AddInt64(&t.metrics.Elapsed, int64(d))
	atomic.AddInt64(&t.metrics.Exchanges, 1)
	return d
}

// StopAndLog 停止计时器并记录到日志
func (t *Timer) StopAndLog(logger *zap.Logger) time.Duration {
	d := t.Stop()
	logger.Debug("操作计时", zap.String("operation", t.name), zap.Duration("duration", d))
	return d
}
