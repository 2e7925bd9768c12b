package policy

import (
	"github.com/google/cel-go/cel"
	exprpb "google.golang.org/genproto/googleapis/api/expr/v1alpha1"

	"github.com/Covault-Labs/covault/core/pkg/fault"
)

// Admission rules run again on replay, against the same recorded inputs,
// and must reach the same verdict. The linter rejects rule constructs that
// can break that: wall-clock reads, floating point literals, and map
// iteration, whose order the runtime does not fix.

// Issue is one determinism violation found in a rule.
type Issue struct {
	Message string `json:"message"`
}

// Lint parses the rule and walks its AST for non-deterministic
// constructs. A nil error means the rule is replay-safe.
func Lint(rule string) error {
	env, err := cel.NewEnv()
	if err != nil {
		return fault.Wrap(fault.KindPolicy, fault.CodeInvalidConfig, "lint environment", err)
	}
	parsed, issues := env.Parse(rule)
	if issues != nil && issues.Err() != nil {
		return fault.Wrap(fault.KindPolicy, fault.CodeInvalidConfig,
			"admission rule does not parse", issues.Err())
	}

	var found []Issue
	expr := parsed.Expr() //nolint:staticcheck // no non-deprecated AST traversal yet
	walkExpr(expr, &found)
	if len(found) > 0 {
		return fault.Newf(fault.KindPolicy, fault.CodeInvalidConfig,
			"admission rule %q is not replay-safe: %s", rule, found[0].Message)
	}
	return nil
}

func walkExpr(e *exprpb.Expr, found *[]Issue) {
	if e == nil {
		return
	}

	switch k := e.ExprKind.(type) {
	case *exprpb.Expr_ConstExpr:
		if _, isFloat := k.ConstExpr.ConstantKind.(*exprpb.Constant_DoubleValue); isFloat {
			*found = append(*found, Issue{Message: "floating point literals are forbidden"})
		}

	case *exprpb.Expr_CallExpr:
		call := k.CallExpr
		switch call.Function {
		case "now":
			*found = append(*found, Issue{Message: "now() is forbidden, the engine never reads the clock"})
		case "keys", "values":
			*found = append(*found, Issue{Message: "map iteration (keys/values) has no fixed order"})
		}
		if call.Target != nil {
			walkExpr(call.Target, found)
		}
		for _, arg := range call.Args {
			walkExpr(arg, found)
		}

	case *exprpb.Expr_SelectExpr:
		walkExpr(k.SelectExpr.Operand, found)

	case *exprpb.Expr_IdentExpr:
		// Leaf.

	case *exprpb.Expr_ListExpr:
		for _, el := range k.ListExpr.Elements {
			walkExpr(el, found)
		}

	case *exprpb.Expr_StructExpr:
		for _, entry := range k.StructExpr.Entries {
			if entry.GetMapKey() != nil {
				walkExpr(entry.GetMapKey(), found)
			}
			walkExpr(entry.Value, found)
		}

	case *exprpb.Expr_ComprehensionExpr:
		comp := k.ComprehensionExpr
		walkExpr(comp.IterRange, found)
		walkExpr(comp.AccuInit, found)
		walkExpr(comp.LoopCondition, found)
		walkExpr(comp.LoopStep, found)
		walkExpr(comp.Result, found)
	}
}
