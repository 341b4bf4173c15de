package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestIsPermanent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want bool
	}{
		{&PushError{StatusCode: http.StatusGone}, true},
		{&PushError{StatusCode: http.StatusNotFound}, true},
		{fmt.Errorf("wrapped: %w", &PushError{StatusCode: http.StatusGone}), true},
		{&PushError{StatusCode: http.StatusTooManyRequests}, false},
		{&PushError{StatusCode: http.StatusInternalServerError}, false},
		{errors.New("dial tcp: timeout"), false},
		{nil, false},
	}
	for _, tt := range tests {
		if got := IsPermanent(tt.err); got != tt.want {
			t.Fatalf("IsPermanent(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestSendersWithoutCredentials(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	if err := NewResendSender("", "from@example.com").Send(ctx, "to@example.com", "s", "<p>b</p>"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured from email sender, got %v", err)
	}
	if err := NewWebPushSender("", "", "mailto:a@example.com").Send(ctx, PushTarget{Endpoint: "https://push.example"}, []byte("{}")); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured from push sender, got %v", err)
	}
}
