package apperr_test

import (
	"errors"
	"fmt"
	"testing"

	"taskchat/internal/apperr"
)

func TestErrorIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("toggle: %w", &apperr.Error{Kind: apperr.SessionExpired, Status: 403, Detail: "forbidden"})

	if !errors.Is(err, apperr.ErrSessionExpired) {
		t.Error("expected wrapped error to match ErrSessionExpired")
	}
	if errors.Is(err, apperr.ErrRequestFailed) {
		t.Error("did not expect match against ErrRequestFailed")
	}
	if !errors.Is(err, &apperr.Error{Kind: apperr.SessionExpired, Status: 403}) {
		t.Error("expected match with status 403")
	}
	if errors.Is(err, &apperr.Error{Kind: apperr.SessionExpired, Status: 401}) {
		t.Error("did not expect match with status 401")
	}
}

func TestKindOfAndMessageOf(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		kind    apperr.Kind
		message string
	}{
		{"nil", nil, apperr.Unknown, ""},
		{"plain", errors.New("boom"), apperr.Unknown, "boom"},
		{"detail", apperr.New(apperr.RequestFailed, "Task not found"), apperr.RequestFailed, "Task not found"},
		{"cause only", apperr.Wrap(apperr.NetworkUnavailable, errors.New("dial tcp: refused"), ""), apperr.NetworkUnavailable, "dial tcp: refused"},
		{"bare", &apperr.Error{Kind: apperr.NotAuthenticated}, apperr.NotAuthenticated, "not authenticated"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := apperr.KindOf(tt.err); got != tt.kind {
				t.Errorf("expected kind %v, got %v", tt.kind, got)
			}
			if got := apperr.MessageOf(tt.err); got != tt.message {
				t.Errorf("expected message %q, got %q", tt.message, got)
			}
		})
	}
}

func TestErrorString(t *testing.T) {
	err := apperr.Newf(apperr.ValidationError, "title must be at most %d characters", 255)
	if err.Error() != "validation error: title must be at most 255 characters" {
		t.Errorf("unexpected error string %q", err.Error())
	}
}
