package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/textproto"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want error
	}{
		{"deadline", context.DeadlineExceeded, ErrTransient},
		{"imap auth", errors.New("Authentication failed: invalid credentials"), ErrPermissionDenied},
		{"rate limit", errors.New("429 Too Many Requests"), ErrTransient},
		{"dial", errors.New("dial tcp: connection refused"), ErrTransient},
		{"sqlite busy", errors.New("database is locked"), ErrTransient},
		{"model json", errors.New("malformed JSON in response"), ErrInvalidModelOutput},
		{"unknown", errors.New("boom"), ErrInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, MapError(tt.in), tt.want)
		})
	}
}

func TestMapErrorKeepsCategorizedErrors(t *testing.T) {
	err := fmt.Errorf("case a@b/2025-01-02: %w", ErrInvalidTransition)
	assert.Same(t, err, MapError(err))
	assert.ErrorIs(t, MapError(context.Canceled), context.Canceled)
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "read: operation stalled" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestMapErrorTypedFailures(t *testing.T) {
	assert.ErrorIs(t, MapError(&net.OpError{Op: "read", Err: timeoutErr{}}), ErrTransient)
	assert.ErrorIs(t, MapError(&textproto.Error{Code: 535, Msg: "5.7.8 bad login"}), ErrPermissionDenied)
	assert.ErrorIs(t, MapError(&textproto.Error{Code: 421, Msg: "try later"}), ErrTransient)
	assert.ErrorIs(t, MapError(&textproto.Error{Code: 550, Msg: "mailbox unavailable"}), ErrInternal)
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusForbidden, HTTPStatus(MapError(errors.New("invalid credentials"))))
	assert.Equal(t, http.StatusBadGateway, HTTPStatus(InvalidModelOutput("verdict")))
	assert.Equal(t, http.StatusConflict, HTTPStatus(Wrap(ErrInvalidTransition, "escalate")))
	assert.Equal(t, http.StatusConflict, HTTPStatus(ErrDuplicateCategory))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(NotFound("case")))
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(InvalidInput("date")))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("x")))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(Transient("imap fetch")))
	assert.True(t, IsRetryable(context.DeadlineExceeded))
	assert.False(t, IsRetryable(context.Canceled))
	assert.False(t, IsRetryable(NotFound("case")))
	assert.False(t, IsRetryable(nil))
	assert.True(t, IsRetryable(Conflict("workspace lock")))
}
