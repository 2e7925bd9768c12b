// Package policy is the CEL admission engine. Accounts install it as
// their admission hook: every proposal step is evaluated against an
// ordered rule set, and any rule returning false keeps the action out of
// the intent. Rules see the step as plain variables (account, actor,
// role, kind), so operators can express constraints like "deps updates
// only through the config role" without touching engine code.
package policy

import (
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/Covault-Labs/covault/core/pkg/account"
	"github.com/Covault-Labs/covault/core/pkg/fault"
)

// Engine evaluates admission rules. Compiled programs are cached per
// expression; the zero rule set admits everything.
type Engine struct {
	env *cel.Env

	mu       sync.RWMutex
	programs map[string]cel.Program
	rules    []string
}

// NewEngine compiles the rule set eagerly so malformed expressions
// surface at configuration time, not at the first proposal.
func NewEngine(rules ...string) (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("account", cel.StringType),
		cel.Variable("actor", cel.StringType),
		cel.Variable("role", cel.StringType),
		cel.Variable("kind", cel.StringType),
	)
	if err != nil {
		return nil, fault.Wrap(fault.KindPolicy, fault.CodeInvalidConfig,
			"admission environment", err)
	}
	e := &Engine{
		env:      env,
		programs: make(map[string]cel.Program, len(rules)),
		rules:    append([]string(nil), rules...),
	}
	for _, rule := range rules {
		if _, err := e.program(rule); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Rules returns the rule expressions in evaluation order.
func (e *Engine) Rules() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]string(nil), e.rules...)
}

// AddRule appends one rule, compiling it first.
func (e *Engine) AddRule(rule string) error {
	if _, err := e.program(rule); err != nil {
		return err
	}
	e.mu.Lock()
	e.rules = append(e.rules, rule)
	e.mu.Unlock()
	return nil
}

// Admit evaluates every rule against the proposal step. The first rule
// that denies or fails stops evaluation; the engine is fail-closed on
// evaluation errors.
func (e *Engine) Admit(ad account.Admission) error {
	input := map[string]any{
		"account": ad.AccountID,
		"actor":   ad.Actor,
		"role":    ad.Role,
		"kind":    ad.Kind,
	}
	e.mu.RLock()
	rules := e.rules
	e.mu.RUnlock()
	for _, rule := range rules {
		prg, err := e.program(rule)
		if err != nil {
			return err
		}
		out, _, err := prg.Eval(input)
		if err != nil {
			return fault.Wrap(fault.KindPolicy, fault.CodeAdmissionDenied,
				"admission rule failed to evaluate", err)
		}
		allowed, ok := out.Value().(bool)
		if !ok {
			return fault.Newf(fault.KindPolicy, fault.CodeAdmissionDenied,
				"admission rule %q did not produce a boolean", rule)
		}
		if !allowed {
			return fault.Newf(fault.KindPolicy, fault.CodeAdmissionDenied,
				"admission rule %q denied %s by %s", rule, ad.Kind, ad.Actor)
		}
	}
	return nil
}

func (e *Engine) program(rule string) (cel.Program, error) {
	e.mu.RLock()
	prg, hit := e.programs[rule]
	e.mu.RUnlock()
	if hit {
		return prg, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if prg, hit = e.programs[rule]; hit {
		return prg, nil
	}
	if err := Lint(rule); err != nil {
		return nil, err
	}
	ast, issues := e.env.Compile(rule)
	if issues != nil && issues.Err() != nil {
		return nil, fault.Wrap(fault.KindPolicy, fault.CodeInvalidConfig,
			"admission rule does not compile", issues.Err())
	}
	prg, err := e.env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return nil, fault.Wrap(fault.KindPolicy, fault.CodeInvalidConfig,
			"admission rule does not build", err)
	}
	e.programs[rule] = prg
	return prg, nil
}
