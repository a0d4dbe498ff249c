package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/textproto"
	"strings"
)

// category describes one sentinel: its name, API status and whether a
// caller may retry it. Order matters where sentinels could overlap.
type category struct {
	sentinel  error
	name      string
	status    int
	retryable bool
}

var categories = []category{
	{ErrInvalidTransition, "ErrInvalidTransition", http.StatusConflict, false},
	{ErrDuplicateCategory, "ErrDuplicateCategory", http.StatusConflict, false},
	{ErrInvalidInput, "ErrInvalidInput", http.StatusBadRequest, false},
	{ErrNotFound, "ErrNotFound", http.StatusNotFound, false},
	{ErrConflict, "ErrConflict", http.StatusConflict, true},
	{ErrPermissionDenied, "ErrPermissionDenied", http.StatusForbidden, false},
	{ErrTransient, "ErrTransient", http.StatusServiceUnavailable, true},
	{ErrInvalidModelOutput, "ErrInvalidModelOutput", http.StatusBadGateway, false},
	{ErrInternal, "ErrInternal", http.StatusInternalServerError, false},
}

func lookup(err error) (category, bool) {
	for _, c := range categories {
		if errors.Is(err, c.sentinel) {
			return c, true
		}
	}
	return category{}, false
}

// textRules classify uncategorized errors by message, first match wins.
var textRules = []struct {
	label    string
	sentinel error
	needles  []string
}{
	{"resource not found", ErrNotFound, []string{"not found", "does not exist", "no such"}},
	{"access denied", ErrPermissionDenied, []string{"authentication failed", "invalid credentials", "unauthorized", "forbidden", "permission denied"}},
	{"rate limited", ErrTransient, []string{"rate limit", "quota", "too many requests"}},
	{"invalid model output", ErrInvalidModelOutput, []string{"malformed json", "invalid json", "invalid model output"}},
	{"request timeout", ErrTransient, []string{"timeout", "deadline exceeded"}},
	{"network error", ErrTransient, []string{"network", "connection", "unreachable", "eof", "database is locked"}},
	{"conflict", ErrConflict, []string{"already exists", "unique constraint"}},
}

// MapError maps collaborator errors (IMAP, SMTP, model providers, sqlite)
// onto the tally error taxonomy. Errors already carrying a category pass through.
func MapError(err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return err
	}
	if _, ok := lookup(err); ok {
		return err
	}
	if mapped := mapTyped(err); mapped != nil {
		return mapped
	}

	msg := strings.ToLower(err.Error())
	for _, rule := range textRules {
		for _, needle := range rule.needles {
			if strings.Contains(msg, needle) {
				return fmt.Errorf("%s: %w", rule.label, rule.sentinel)
			}
		}
	}
	return fmt.Errorf("%s: %w", err.Error(), ErrInternal)
}

// mapTyped handles errors whose type says more than their text: deadlines,
// network timeouts and SMTP reply codes.
func mapTyped(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("request timeout: %w", ErrTransient)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("request timeout: %w", ErrTransient)
	}

	var reply *textproto.Error
	if errors.As(err, &reply) {
		switch {
		case reply.Code == 530 || reply.Code == 535:
			return fmt.Errorf("smtp %d: %w", reply.Code, ErrPermissionDenied)
		case reply.Code >= 400 && reply.Code < 500:
			return fmt.Errorf("smtp %d: %w", reply.Code, ErrTransient)
		}
	}
	return nil
}

// Category returns the taxonomy name for an error.
func Category(err error) string {
	if err == nil {
		return ""
	}
	if c, ok := lookup(err); ok {
		return c.name
	}
	return "Unknown"
}

// HTTPStatus maps an error category onto the operator API status code.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if c, ok := lookup(err); ok {
		return c.status
	}
	return http.StatusInternalServerError
}

// Wrap wraps an error with context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%s: %w", message, err)
}

// WrapWithCategory wraps an error with a specific category, keeping its text
func WrapWithCategory(err error, message string, category error) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%s: %v: %w", message, err, category)
}

// NotFound wraps error as not found
func NotFound(message string) error {
	return fmt.Errorf("%s: %w", message, ErrNotFound)
}

// InvalidInput wraps error as invalid input
func InvalidInput(message string) error {
	return fmt.Errorf("%s: %w", message, ErrInvalidInput)
}

// Transient wraps error as transient
func Transient(message string) error {
	return fmt.Errorf("%s: %w", message, ErrTransient)
}

// Conflict wraps error as conflict
func Conflict(message string) error {
	return fmt.Errorf("%s: %w", message, ErrConflict)
}

// Internal wraps error as internal
func Internal(message string) error {
	return fmt.Errorf("%s: %w", message, ErrInternal)
}

// InvalidModelOutput wraps error as invalid model output
func InvalidModelOutput(message string) error {
	return fmt.Errorf("%s: %w", message, ErrInvalidModelOutput)
}

// IsRetryable reports whether a caller may retry err: transient and conflict
// failures and deadlines are, cancellation is not.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	c, ok := lookup(err)
	return ok && c.retryable
}
