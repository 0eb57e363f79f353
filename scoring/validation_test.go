package scoring

import (
	"strings"
	"testing"

	"github.com/adityaaa08012006/decivue-sub006/decisions"
)

func TestValidateIdentifier(t *testing.T) {
	valid := []string{"budget", "_private", "max_cost_2026", strings.Repeat("a", 100)}
	for _, name := range valid {
		if err := ValidateIdentifier(name); err != nil {
			t.Errorf("Expected %q to be valid, got: %v", name, err)
		}
	}

	invalid := map[string]string{
		"":                      "empty",
		strings.Repeat("a", 101): "100",
		"2fast":                 "pattern",
		"has space":             "pattern",
		"dash-name":             "pattern",
		"in":                    "reserved",
		"null":                  "reserved",
	}
	for name, want := range invalid {
		err := ValidateIdentifier(name)
		if err == nil {
			t.Errorf("Expected error for %q, got nil", name)
			continue
		}
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Expected error for %q to mention %q, got: %v", name, want, err)
		}
	}
}

func TestValidateConstraint(t *testing.T) {
	engine := newEngine(t)

	ok := decisions.Constraint{Name: "healthy_deps", RuleExpression: `dependencies.all(d, d.lifecycle != "INVALIDATED")`}
	if err := engine.ValidateConstraint(ok); err != nil {
		t.Errorf("Expected valid constraint, got: %v", err)
	}

	tests := []struct {
		name       string
		constraint decisions.Constraint
		want       string
	}{
		{"bad name", decisions.Constraint{Name: "bad name", RuleExpression: `true`}, "constraint name"},
		{"empty expression", decisions.Constraint{Name: "x", RuleExpression: "  "}, "empty"},
		{"syntax error", decisions.Constraint{Name: "x", RuleExpression: `decision.health >`}, "compile error"},
		{"non boolean", decisions.Constraint{Name: "x", RuleExpression: `1 + 2`}, "bool"},
		{"unknown variable", decisions.Constraint{Name: "x", RuleExpression: `user.age > 3`}, "compile error"},
		{"too long", decisions.Constraint{Name: "x", RuleExpression: strings.Repeat("t", MaxExpressionLength+1)}, "exceeds"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := engine.ValidateConstraint(tt.constraint)
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error mentioning %q, got: %v", tt.want, err)
			}
		})
	}
}
