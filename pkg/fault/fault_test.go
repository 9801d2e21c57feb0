package fault

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeString(t *testing.T) {
	tests := []struct {
		code Code
		want string
	}{
		{CodeNotFound, "NotFound"},
		{CodeInvalid, "Invalid"},
		{CodeConflict, "Conflict"},
		{CodePermissionDenied, "PermissionDenied"},
		{CodeResourceExhausted, "ResourceExhausted"},
		{CodeUnavailable, "Unavailable"},
		{CodeIntegrity, "Integrity"},
		{CodeCancelled, "Cancelled"},
		{CodeUnknown, "Unknown"},
		{Code(99), "Unknown(99)"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.code.String())
		})
	}
}

func TestErrorMessage(t *testing.T) {
	t.Run("WithRef", func(t *testing.T) {
		err := NewNotFound("navigator/2.4.1/linux-amd64/navigator.tar.gz", "artifact")
		assert.Equal(t, "NotFound: artifact not found (ref: navigator/2.4.1/linux-amd64/navigator.tar.gz)", err.Error())
	})

	t.Run("WithoutRef", func(t *testing.T) {
		err := NewInvalid("chunk sequence must start at 1")
		assert.Equal(t, "Invalid: chunk sequence must start at 1", err.Error())
	})
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewUnavailable("backend unreachable", cause)

	assert.True(t, errors.Is(err, cause))

	// Wrapping with fmt.Errorf keeps the code reachable
	wrapped := fmt.Errorf("upload chunk 3: %w", err)
	assert.Equal(t, CodeUnavailable, CodeOf(wrapped))
	assert.True(t, IsUnavailable(wrapped))
}

func TestCodeOf(t *testing.T) {
	t.Run("Nil", func(t *testing.T) {
		assert.Equal(t, Code(0), CodeOf(nil))
	})

	t.Run("TypedError", func(t *testing.T) {
		err := NewConflict("sess-1", "session already committed")
		assert.Equal(t, CodeConflict, CodeOf(err))
	})

	t.Run("ContextCanceled", func(t *testing.T) {
		assert.Equal(t, CodeCancelled, CodeOf(context.Canceled))
	})

	t.Run("ContextDeadline", func(t *testing.T) {
		assert.Equal(t, CodeCancelled, CodeOf(context.DeadlineExceeded))
	})

	t.Run("PlainError", func(t *testing.T) {
		assert.Equal(t, CodeUnknown, CodeOf(errors.New("boom")))
	})
}

func TestPredicates(t *testing.T) {
	tests := []struct {
		name string
		err  error
		pred func(error) bool
	}{
		{"NotFound", NewNotFound("k", "object"), IsNotFound},
		{"Invalid", NewInvalid("bad offset"), IsInvalid},
		{"Conflict", NewConflict("sess-1", "already exists"), IsConflict},
		{"PermissionDenied", NewPermissionDenied("k"), IsPermissionDenied},
		{"ResourceExhausted", NewResourceExhausted("session limit reached"), IsResourceExhausted},
		{"Unavailable", NewUnavailable("throttled", nil), IsUnavailable},
		{"Integrity", NewIntegrity("sess-1", "sha256:aa", "sha256:bb"), IsIntegrity},
		{"Cancelled", NewCancelled("client went away"), IsCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.pred(tt.err))
			assert.False(t, tt.pred(errors.New("unrelated")))
			assert.False(t, tt.pred(nil))
		})
	}
}

func TestRetryable(t *testing.T) {
	assert.True(t, CodeUnavailable.Retryable())
	assert.False(t, CodeNotFound.Retryable())
	assert.False(t, CodeInvalid.Retryable())
	assert.False(t, CodeIntegrity.Retryable())
}

func TestIntegrityMessage(t *testing.T) {
	err := NewIntegrity("sess-9", "sha256:abc", "sha256:def")
	require.Equal(t, CodeIntegrity, err.Code)
	assert.Contains(t, err.Error(), "expected sha256:abc")
	assert.Contains(t, err.Error(), "got sha256:def")
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("NoSuchUpload")
	err := Wrap(CodeNotFound, "multipart upload expired", cause)

	assert.Equal(t, CodeNotFound, CodeOf(err))
	assert.True(t, errors.Is(err, cause))
}
