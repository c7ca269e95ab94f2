package auth

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Auth service errors
var (
	ErrPolicyViolation    = errors.New("policy violation")
	ErrIdentifierTaken    = errors.New("identifier already taken")
	ErrInvalidCredentials = errors.New("invalid identifier or secret")
	ErrLockedOut          = errors.New("too many failed login attempts")
	ErrNotAuthenticated   = errors.New("not authenticated")
	ErrInternal           = errors.New("internal error")
	ErrBusy               = errors.New("authentication capacity exhausted, retry later")
	ErrInvalidAttributes  = errors.New("invalid session attributes")
)

// Error codes for API responses
const (
	CodeValidationError    = "VALIDATION_ERROR"
	CodeIdentifierTaken    = "IDENTIFIER_TAKEN"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeLockedOut          = "TOO_MANY_ATTEMPTS"
	CodeNotAuthenticated   = "NOT_AUTHENTICATED"
	CodeBusy               = "SERVICE_BUSY"
	CodeInternal           = "INTERNAL_ERROR"
)

// PolicyViolationError lists every rule a registration request broke
type PolicyViolationError struct {
	Violations []Violation
}

func (e *PolicyViolationError) Error() string {
	msgs := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		msgs = append(msgs, v.Message)
	}
	return fmt.Sprintf("%s: %s", ErrPolicyViolation, strings.Join(msgs, "; "))
}

// Is makes errors.Is(err, ErrPolicyViolation) hold
func (e *PolicyViolationError) Is(target error) bool {
	return target == ErrPolicyViolation
}

// LockedOutError is returned when the (identifier, origin) pair is locked
type LockedOutError struct {
	RetryAfter time.Duration
}

func (e *LockedOutError) Error() string {
	return fmt.Sprintf("%s: retry after %ds", ErrLockedOut, e.RetryAfterSeconds())
}

// Is makes errors.Is(err, ErrLockedOut) hold
func (e *LockedOutError) Is(target error) bool {
	return target == ErrLockedOut
}

// RetryAfterSeconds rounds up so a locked caller is never told to retry in 0s
func (e *LockedOutError) RetryAfterSeconds() int64 {
	secs := int64(math.Ceil(e.RetryAfter.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

func internalError(cause error) error {
	return fmt.Errorf("%w: %w", ErrInternal, cause)
}
