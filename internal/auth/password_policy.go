package auth

import (
	"strconv"
	"unicode"
	"unicode/utf8"
)

const (
	// MinPasswordLength is the minimum required password length in runes
	MinPasswordLength = 8
	// MaxPasswordLength caps the input handed to the hasher
	MaxPasswordLength = 128
)

// Rule names reported in violations
const (
	RuleRequired  = "required"
	RuleMinLength = "min_length"
	RuleMaxLength = "max_length"
	RuleUppercase = "uppercase"
	RuleLowercase = "lowercase"
	RuleDigit     = "digit"
	RuleSymbol    = "symbol"
)

// Violation represents a single rule a secret failed
type Violation struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// Rule is a composable predicate over a candidate secret
type Rule struct {
	Name    string
	Message string
	Check   func(secret string) bool
}

// PasswordPolicy validates secrets against an ordered list of rules
type PasswordPolicy struct {
	rules []Rule
}

// NewPasswordPolicy creates a policy from the given rules, evaluated in order
func NewPasswordPolicy(rules ...Rule) *PasswordPolicy {
	return &PasswordPolicy{rules: rules}
}

// DefaultPolicy returns the standard policy: length bounds plus the four
// character classes
func DefaultPolicy() *PasswordPolicy {
	return NewPasswordPolicy(
		MinLength(MinPasswordLength),
		MaxLength(MaxPasswordLength),
		RequireClass(RuleUppercase, "Password must contain at least one uppercase letter", unicode.IsUpper),
		RequireClass(RuleLowercase, "Password must contain at least one lowercase letter", unicode.IsLower),
		RequireClass(RuleDigit, "Password must contain at least one number", unicode.IsDigit),
		RequireClass(RuleSymbol, "Password must contain at least one special character", isSymbol),
	)
}

// MinLength requires at least n runes
func MinLength(n int) Rule {
	return Rule{
		Name:    RuleMinLength,
		Message: "Password must be at least " + strconv.Itoa(n) + " characters long",
		Check:   func(s string) bool { return utf8.RuneCountInString(s) >= n },
	}
}

// MaxLength allows at most n runes
func MaxLength(n int) Rule {
	return Rule{
		Name:    RuleMaxLength,
		Message: "Password must be at most " + strconv.Itoa(n) + " characters long",
		Check:   func(s string) bool { return utf8.RuneCountInString(s) <= n },
	}
}

// RequireClass requires at least one rune matching class
func RequireClass(name, message string, class func(rune) bool) Rule {
	return Rule{
		Name:    name,
		Message: message,
		Check: func(s string) bool {
			for _, r := range s {
				if class(r) {
					return true
				}
			}
			return false
		},
	}
}

// Validate returns every violated rule. An empty secret yields only the
// required violation.
func (p *PasswordPolicy) Validate(secret string) (bool, []Violation) {
	if secret == "" {
		return false, []Violation{{Field: "password", Rule: RuleRequired, Message: "Password is required"}}
	}

	var violations []Violation
	for _, rule := range p.rules {
		if !rule.Check(secret) {
			violations = append(violations, Violation{
				Field:   "password",
				Rule:    rule.Name,
				Message: rule.Message,
			})
		}
	}
	return len(violations) == 0, violations
}

func isSymbol(r rune) bool {
	return unicode.IsPunct(r) || unicode.IsSymbol(r)
}
