// Package dsl 使用 CEL (Common Expression Language) 实现输入行准入规则。
//
// 表达式中可用的变量：
//   - row：输入行（训练列名 -> 值），列名含空格时用下标访问：row["Fuel type"]
//   - now_year：当前年份（int）
//
// 示例：
//   - `row.Engine > 0.0 && row.Engine < 10.0`
//   - `row.Registration_Year <= double(now_year) + 1.0`
//   - `row["Previous Owners"] >= 0.0`
//   - `row.Brand != ""`
package dsl

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/rushteam/carprice/core"
)

var (
	// celEnv 是全局的 CEL 环境，线程安全，可复用
	celEnv     *cel.Env
	celEnvErr  error
	celEnvOnce sync.Once
)

func getCELEnv() (*cel.Env, error) {
	celEnvOnce.Do(func() {
		celEnv, celEnvErr = cel.NewEnv(
			cel.Variable("row", cel.MapType(cel.StringType, cel.DynType)),
			cel.Variable("now_year", cel.IntType),
		)
	})
	return celEnv, celEnvErr
}

// Rule 一条准入规则：Expr 为 true 时放行
type Rule struct {
	Name    string `koanf:"name" json:"name"`
	Expr    string `koanf:"expr" json:"expr"`
	Message string `koanf:"message" json:"message,omitempty"`
}

type compiledRule struct {
	Rule
	prg cel.Program
}

// RuleSet 是编译好的规则集合，编译后只读，可并发调用 Evaluate
type RuleSet struct {
	rules []compiledRule
	now   func() time.Time
}

// Compile 编译全部规则，任何一条编译失败或返回值不是 bool 都会报错
func Compile(rules []Rule) (*RuleSet, error) {
	env, err := getCELEnv()
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}
	rs := &RuleSet{now: time.Now}
	for i, r := range rules {
		if r.Expr == "" {
			continue
		}
		if r.Name == "" {
			r.Name = fmt.Sprintf("rule_%d", i)
		}
		ast, issues := env.Compile(r.Expr)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("rule %q: compile error: %v", r.Name, issues.Err())
		}
		if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
			return nil, fmt.Errorf("rule %q: expression must return bool, got %v", r.Name, out)
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("rule %q: program error: %v", r.Name, err)
		}
		rs.rules = append(rs.rules, compiledRule{Rule: r, prg: prg})
	}
	return rs, nil
}

// Len 返回规则数量
func (rs *RuleSet) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.rules)
}

// Evaluate 依次执行规则，返回第一条未通过的规则错误（RULE_VIOLATION）。
// 访问不存在的列会导致求值错误，同样视为未通过。
func (rs *RuleSet) Evaluate(row map[string]any) error {
	if rs.Len() == 0 {
		return nil
	}
	input := map[string]any{
		"row":      row,
		"now_year": int64(rs.now().Year()),
	}
	for _, r := range rs.rules {
		out, _, err := r.prg.Eval(input)
		if err != nil {
			return violation(r.Rule, fmt.Sprintf("rule %q: eval error: %v", r.Name, err))
		}
		ok, isBool := out.Value().(bool)
		if !isBool {
			return violation(r.Rule, fmt.Sprintf("rule %q: expression must return boolean, got %T", r.Name, out.Value()))
		}
		if !ok {
			msg := r.Message
			if msg == "" {
				msg = fmt.Sprintf("rule %q rejected the row", r.Name)
			}
			return violation(r.Rule, msg)
		}
	}
	return nil
}

func violation(r Rule, msg string) error {
	return &core.DomainError{
		Module:  "rules",
		Code:    core.ErrorCodeRuleViolation,
		Column:  r.Name,
		Message: msg,
	}
}
