// Package notify delivers rendered notifications over email and web push.
package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrNotConfigured is returned by a sender whose credentials are missing.
var ErrNotConfigured = errors.New("notification channel not configured")

type EmailSender interface {
	Send(ctx context.Context, to, subject, html string) error
}

// PushTarget is a browser push subscription.
type PushTarget struct {
	Endpoint string
	P256dh   string
	Auth     string
}

type PushSender interface {
	Send(ctx context.Context, target PushTarget, payload []byte) error
}

// PushError reports a push service answer outside 2xx.
type PushError struct {
	StatusCode int
	Body       string
}

func (e *PushError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("push service responded %d", e.StatusCode)
	}
	return fmt.Sprintf("push service responded %d: %s", e.StatusCode, e.Body)
}

// IsPermanent reports whether the subscription behind err is gone for good
// and should be removed.
func IsPermanent(err error) bool {
	var pe *PushError
	if !errors.As(err, &pe) {
		return false
	}
	return pe.StatusCode == http.StatusNotFound || pe.StatusCode == http.StatusGone
}
