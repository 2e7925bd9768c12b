package policy

import (
	"testing"

	"github.com/Covault-Labs/covault/core/pkg/fault"
)

func TestLintAcceptsPlainRules(t *testing.T) {
	for _, rule := range []string{
		`actor == "alice"`,
		`kind != "upgrades.upgrade" || role == "upgrades::upgrade"`,
		`account in ["treasury", "ops"]`,
		`size(actor) > 0 && size(actor) < 64`,
	} {
		if err := Lint(rule); err != nil {
			t.Fatalf("Lint(%q): %v", rule, err)
		}
	}
}

func TestLintRejectsNondeterminism(t *testing.T) {
	for _, rule := range []string{
		`now() > timestamp("2026-01-01T00:00:00Z")`,
		`1.5 < 2.0`,
		`{"a": 1}.keys() == ["a"]`,
		`actor == "x" || now() != now()`,
	} {
		err := Lint(rule)
		if !fault.IsCode(err, fault.CodeInvalidConfig) {
			t.Fatalf("Lint(%q): want %s, got %v", rule, fault.CodeInvalidConfig, err)
		}
	}
}

func TestEngineRejectsUnsafeRules(t *testing.T) {
	if _, err := NewEngine(`1.0 == 1.0`); !fault.IsCode(err, fault.CodeInvalidConfig) {
		t.Fatalf("want %s, got %v", fault.CodeInvalidConfig, err)
	}

	eng, err := NewEngine()
	if err != nil {
		t.Fatal(err)
	}
	if err := eng.AddRule(`actor == "x" && 0.5 < 1.0`); err == nil {
		t.Fatal("AddRule must refuse a float-literal rule")
	}
}
