package pkg

import (
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Snapshot 代表某一时刻从设备读回的完整配置, 是 Gateway 和 Sink 之间传递的数据结构
type Snapshot struct {
	ID      uuid.UUID         `json:"id"`
	Device  string            `json:"device"`  // 设备标识, 一般为序列号
	Version string            `json:"version"` // 固件版本
	Fields  map[string]int    `json:"fields"`  // 字段名 -> 原始值
	Labels  map[string]string `json:"labels"`  // 字段名 -> 显示值
	Raw     []byte            `json:"-"`
	Ts      time.Time         `json:"ts"`
}

// NewSnapshot 创建一个新的快照, Raw 会被复制
func NewSnapshot(device, version string, raw []byte) *Snapshot {
	id, err := uuid.NewUUID()
	if err != nil {
		id = uuid.New()
	}
	return &Snapshot{
		ID:      id,
		Device:  device,
		Version: version,
		Fields:  make(map[string]int),
		Labels:  make(map[string]string),
		Raw:     append([]byte(nil), raw...),
		Ts:      time.Now(),
	}
}

// Set 设置一个字段
func (s *Snapshot) Set(name string, raw int, label string) {
	s.Fields[name] = raw
	if label != "" {
		s.Labels[name] = label
	}
}

// RawHex 返回原始配置的十六进制表示
func (s *Snapshot) RawHex() string {
	return hex.EncodeToString(s.Raw)
}

// Filtered 返回只包含匹配字段的副本, filters 为空时返回自身
func (s *Snapshot) Filtered(filters []*regexp.Regexp) *Snapshot {
	if len(filters) == 0 {
		return s
	}
	out := *s
	out.Fields = make(map[string]int)
	out.Labels = make(map[string]string)
	for name, v := range s.Fields {
		for _, re := range filters {
			if re.MatchString(name) {
				out.Fields[name] = v
				if l, ok := s.Labels[name]; ok {
					out.Labels[name] = l
				}
				break
			}
		}
	}
	return &out
}

// CompileFilters 编译字段过滤正则
func CompileFilters(patterns []string) ([]*regexp.Regexp, error) {
	res := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile("^(?:" + p + ")$")
		if err != nil {
			return nil, fmt.Errorf("无效的过滤条件 %q: %w", p, err)
		}
		res = append(res, re)
	}
	return res, nil
}

// String 方法实现
func (s *Snapshot) String() string {
	keys := make([]string, 0, len(s.Fields))
	for k := range s.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %d", k, s.Fields[k]))
	}
	return fmt.Sprintf("Snapshot(Device=%s, Version=%s, Field={%s}, Ts=%s)",
		s.Device, s.Version, strings.Join(parts, ", "), s.Ts.Format(time.RFC3339))
}
