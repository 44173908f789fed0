package rules

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"sidgate/internal/pkg"
	"sidgate/internal/regmap"
)

// 检查级别
const (
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Finding 一条不满足的规则
type Finding struct {
	Rule    string `json:"rule"`
	Level   string `json:"level"`
	Message string `json:"message"`
}

type rule struct {
	name    string
	level   string
	source  string
	program *vm.Program
}

// Engine 对解码后的配置执行一组规则, 表达式为 true 表示通过
type Engine struct {
	rules []*rule
}

// BuildRuleExprOptions 返回用于编译规则表达式的 expr 选项。
// 环境为 regmap.View, 结果必须是 bool。
//
// 输入: 无
// 输出:
//   - []expr.Option: 编译选项切片
func BuildRuleExprOptions() []expr.Option {
	return []expr.Option{
		expr.Env(regmap.View{}),
		expr.AsBool(),
	}
}

func socketRules(prefix, field string) []pkg.RuleConfig {
	s := field
	return []pkg.RuleConfig{
		{
			Name:  prefix + "_dualsid_requires_clone",
			Expr:  fmt.Sprintf(`!%s.Enabled || !%s.DualSID || %s.ChipType == "Clone"`, s, s, s),
			Level: LevelError,
		},
		{
			Name:  prefix + "_clone_requires_clonetype",
			Expr:  fmt.Sprintf(`!%s.Enabled || %s.ChipType != "Clone" || %s.CloneType != "Disabled"`, s, s, s),
			Level: LevelError,
		},
		{
			Name:  prefix + "_real_has_no_clonetype",
			Expr:  fmt.Sprintf(`!%s.Enabled || %s.ChipType != "Real" || %s.CloneType == "Disabled"`, s, s, s),
			Level: LevelWarn,
		},
	}
}

// DefaultRules 插槽配置的基本约束, 与固件应用配置前的修正一致
func DefaultRules() []pkg.RuleConfig {
	res := append(socketRules("socket_one", "SocketOne"), socketRules("socket_two", "SocketTwo")...)
	return append(res,
		pkg.RuleConfig{
			Name:  "act_as_one_requires_both_sockets",
			Expr:  `!SocketTwo.ActAsOne || (SocketOne.Enabled && SocketTwo.Enabled)`,
			Level: LevelWarn,
		},
		pkg.RuleConfig{
			Name:  "clock_lock_requires_standard_rate",
			Expr:  `!General.ClockLock || General.ClockLabel endsWith ")"`,
			Level: LevelWarn,
		},
	)
}

// Compile 编译默认规则和配置中的规则, 同名规则以配置为准
//
// 输入:
//   - cfgs: 配置中的规则
//
// 输出:
//   - *Engine: 规则引擎
//   - error: 编译失败
func Compile(cfgs []pkg.RuleConfig) (*Engine, error) {
	all := DefaultRules()
	index := make(map[string]int, len(all))
	for i, r := range all {
		index[r.Name] = i
	}
	for _, r := range cfgs {
		if i, ok := index[r.Name]; ok {
			all[i] = r
			continue
		}
		index[r.Name] = len(all)
		all = append(all, r)
	}

	e := &Engine{}
	for _, r := range all {
		if r.Expr == "" {
			// 空表达式用于关闭默认规则
			continue
		}
		program, err := expr.Compile(r.Expr, BuildRuleExprOptions()...)
		if err != nil {
			return nil, fmt.Errorf("编译规则 %s 失败: %w", r.Name, err)
		}
		level := r.Level
		if level == "" {
			level = LevelWarn
		}
		e.rules = append(e.rules, &rule{name: r.Name, level: level, source: r.Expr, program: program})
	}
	return e, nil
}

// Len 规则数量
func (e *Engine) Len() int { return len(e.rules) }

// Check 执行全部规则, 返回不满足的规则
func (e *Engine) Check(view regmap.View) ([]Finding, error) {
	var findings []Finding
	for _, r := range e.rules {
		out, err := expr.Run(r.program, view)
		if err != nil {
			return nil, fmt.Errorf("执行规则 %s 失败: %w", r.name, err)
		}
		if ok, _ := out.(bool); !ok {
			findings = append(findings, Finding{
				Rule:    r.name,
				Level:   r.level,
				Message: fmt.Sprintf("规则 %s 不满足: %s", r.name, r.source),
			})
		}
	}
	return findings, nil
}
