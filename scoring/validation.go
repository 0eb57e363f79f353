package scoring

import (
	"fmt"
	"regexp"

	"github.com/adityaaa08012006/decivue-sub006/decisions"
)

// MaxExpressionLength bounds a stored rule expression
const MaxExpressionLength = 4096

var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidateConstraint checks a constraint before it is stored: the name must
// be a plain identifier and the expression must compile to a boolean
func (en *Engine) ValidateConstraint(c decisions.Constraint) error {
	if err := ValidateIdentifier(c.Name); err != nil {
		return fmt.Errorf("invalid constraint name %q: %w", c.Name, err)
	}
	if len(c.RuleExpression) > MaxExpressionLength {
		return fmt.Errorf("rule expression length %d exceeds maximum of %d characters", len(c.RuleExpression), MaxExpressionLength)
	}
	if err := en.ValidateExpression(c.RuleExpression); err != nil {
		return fmt.Errorf("invalid rule expression: %w", err)
	}
	return nil
}

// ValidateIdentifier checks name is 1-100 characters, matches
// ^[a-zA-Z_][a-zA-Z0-9_]*$ and is not a CEL reserved word
func ValidateIdentifier(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("identifier cannot be empty")
	}
	if len(name) > 100 {
		return fmt.Errorf("identifier length %d exceeds maximum of 100 characters", len(name))
	}
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("must match pattern ^[a-zA-Z_][a-zA-Z0-9_]*$ (start with letter or underscore, followed by letters, digits, or underscores)")
	}
	if reservedKeywords[name] {
		return fmt.Errorf("cannot use reserved keyword %q as identifier", name)
	}
	return nil
}

var reservedKeywords = map[string]bool{
	"true": true, "false": true, "null": true,
	"if": true, "else": true, "for": true, "while": true,
	"break": true, "continue": true, "return": true,
	"var": true, "let": true, "const": true, "function": true,
	"in": true, "as": true, "import": true, "package": true,
	"namespace": true, "loop": true, "void": true,
}
