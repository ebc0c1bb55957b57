package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation marks caller mistakes rejected before any state mutation.
	ErrValidation = errors.New("validation error")
	// ErrDomain marks domain-rule violations (quota exceeded, insufficient credits).
	ErrDomain = errors.New("domain rule violation")
	// ErrConfiguration marks missing or inconsistent configuration.
	ErrConfiguration = errors.New("configuration error")
	// ErrNotFound marks lookups of rows or catalog entries that do not exist.
	ErrNotFound = errors.New("not found")
	// ErrTransient marks failures that may succeed on retry.
	ErrTransient = errors.New("transient failure")
	// ErrGateway marks hard failures from the parser gateway after retries exhaust.
	ErrGateway = errors.New("gateway error")
)

// Wrap builds an error message that includes component context while tagging
// it with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// IsRecoverable reports whether the error should be rejected at the boundary
// that detected it instead of failing the run.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrDomain)
}

// ErrorCode maps a pipeline error to the machine-readable code persisted on a
// failed run.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation_failed"
	case errors.Is(err, ErrDomain):
		return "domain_rule_violation"
	case errors.Is(err, ErrConfiguration):
		return "misconfigured"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrGateway):
		return "gateway_failed"
	default:
		return "internal_error"
	}
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
