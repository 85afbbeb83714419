// internal/service/coupon/infrastructure/rule/cel_engine.go
package rule

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"nexus-coupon/internal/service/coupon/domain"
	"nexus-coupon/internal/service/coupon/port"
)

// CELRuleEngineAdapter 是 port.RuleEngine 接口的一个具体实现。
// 规则是一个返回 bool 的 CEL 表达式，可以引用以下变量：
//
//	email         string    顾客邮箱，匿名时为空串
//	email_domain  string    邮箱 @ 之后的部分
//	anonymous     bool      是否匿名领取
//	now           timestamp 当前时间
//
// 例如 `email_domain == "example.com" && now < timestamp("2030-01-01T00:00:00Z")`。
type CELRuleEngineAdapter struct {
	env *cel.Env

	mu       sync.RWMutex
	programs map[string]cel.Program
}

// NewCELRuleEngineAdapter 创建一个新的规则引擎适配器实例。
func NewCELRuleEngineAdapter() (*CELRuleEngineAdapter, error) {
	env, err := cel.NewEnv(
		cel.Variable("email", cel.StringType),
		cel.Variable("email_domain", cel.StringType),
		cel.Variable("anonymous", cel.BoolType),
		cel.Variable("now", cel.TimestampType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &CELRuleEngineAdapter{env: env, programs: make(map[string]cel.Program)}, nil
}

// Compile 实现了 port.RuleEngine 接口，只做语法和类型检查。
func (a *CELRuleEngineAdapter) Compile(rule string) error {
	_, err := a.program(rule)
	return err
}

// Evaluate 实现了 port.RuleEngine 接口。编译结果按规则文本缓存。
func (a *CELRuleEngineAdapter) Evaluate(rule string, facts domain.EligibilityFacts) (bool, error) {
	prg, err := a.program(rule)
	if err != nil {
		return false, err
	}

	out, _, err := prg.Eval(map[string]any{
		"email":        facts.Email,
		"email_domain": facts.EmailDomain,
		"anonymous":    facts.Anonymous,
		"now":          facts.Now,
	})
	if err != nil {
		return false, fmt.Errorf("failed to evaluate rule: %w", err)
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("rule returned %T, want bool", out.Value())
	}
	return result, nil
}

func (a *CELRuleEngineAdapter) program(rule string) (cel.Program, error) {
	a.mu.RLock()
	prg, ok := a.programs[rule]
	a.mu.RUnlock()
	if ok {
		return prg, nil
	}

	ast, iss := a.env.Compile(rule)
	if iss != nil && iss.Err() != nil {
		return nil, iss.Err()
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("rule must evaluate to bool, got %s", ast.OutputType())
	}
	prg, err := a.env.Program(ast)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.programs[rule] = prg
	a.mu.Unlock()
	return prg, nil
}

var _ port.RuleEngine = (*CELRuleEngineAdapter)(nil)
