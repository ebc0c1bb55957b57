package services_test

import (
	"errors"
	"fmt"
	"testing"

	"stitchsentry/internal/services"
)

func TestWrapTagsMarker(t *testing.T) {
	cause := errors.New("boom")
	err := services.Wrap(services.ErrDomain, "credits", "debit", "insufficient balance", cause)
	if !errors.Is(err, services.ErrDomain) {
		t.Fatalf("expected domain marker, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped cause, got %v", err)
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "gateway", "parse", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
}

func TestIsRecoverable(t *testing.T) {
	cases := []struct {
		marker error
		want   bool
	}{
		{services.ErrValidation, true},
		{services.ErrDomain, true},
		{services.ErrTransient, false},
		{services.ErrGateway, false},
		{services.ErrConfiguration, false},
	}
	for _, tc := range cases {
		err := fmt.Errorf("wrapped: %w", tc.marker)
		if got := services.IsRecoverable(err); got != tc.want {
			t.Errorf("IsRecoverable(%v) = %v, want %v", tc.marker, got, tc.want)
		}
	}
}

func TestErrorCode(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{services.Wrap(services.ErrValidation, "gate", "check", "bad size", nil), "validation_failed"},
		{services.Wrap(services.ErrDomain, "gate", "check", "quota", nil), "domain_rule_violation"},
		{services.Wrap(services.ErrGateway, "parser", "parse", "http 500", nil), "gateway_failed"},
		{services.Wrap(services.ErrConfiguration, "parser", "parse", "no secret", nil), "misconfigured"},
		{services.Wrap(services.ErrNotFound, "store", "run", "missing", nil), "not_found"},
		{errors.New("unknown"), "internal_error"},
	}
	for _, tc := range cases {
		if got := services.ErrorCode(tc.err); got != tc.want {
			t.Errorf("ErrorCode(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
