package auth

import (
	"strconv"
	"unicode"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

// MaxIdentifierLength bounds identifiers in characters
const MaxIdentifierLength = 254

// Validator instance for request validation
var validate = validator.New()

// GetValidator returns the validator instance
func GetValidator() *validator.Validate {
	return validate
}

// ValidateIdentifier checks the shape of an identifier at registration.
// Identifiers are case-sensitive and stored exactly as given, so the rules
// only reject values that could not be typed back unambiguously.
func ValidateIdentifier(identifier string) []Violation {
	if err := validate.Var(identifier, "required"); err != nil {
		return []Violation{{Field: "identifier", Rule: RuleRequired, Message: "Identifier is required"}}
	}

	var violations []Violation
	if err := validate.Var(identifier, "max="+strconv.Itoa(MaxIdentifierLength)); err != nil {
		violations = append(violations, Violation{
			Field:   "identifier",
			Rule:    RuleMaxLength,
			Message: "Identifier must be at most " + strconv.Itoa(MaxIdentifierLength) + " characters long",
		})
	}
	if !utf8.ValidString(identifier) {
		violations = append(violations, Violation{
			Field:   "identifier",
			Rule:    "encoding",
			Message: "Identifier must be valid UTF-8",
		})
	}

	for _, r := range identifier {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			violations = append(violations, Violation{
				Field:   "identifier",
				Rule:    "printable",
				Message: "Identifier must not contain whitespace or control characters",
			})
			break
		}
	}

	return violations
}
