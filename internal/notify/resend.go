package notify

import (
	"context"
	"fmt"

	"github.com/resend/resend-go/v2"
)

// ResendSender sends HTML mail through the Resend API.
type ResendSender struct {
	client *resend.Client
	from   string
}

// NewResendSender returns a sender that fails every call with
// ErrNotConfigured when apiKey is empty.
func NewResendSender(apiKey, from string) *ResendSender {
	s := &ResendSender{from: from}
	if apiKey != "" {
		s.client = resend.NewClient(apiKey)
	}
	return s
}

func (s *ResendSender) Send(ctx context.Context, to, subject, html string) error {
	if s.client == nil {
		return ErrNotConfigured
	}
	_, err := s.client.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    s.from,
		To:      []string{to},
		Subject: subject,
		Html:    html,
	})
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}
