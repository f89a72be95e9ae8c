package notify

import (
	"context"
	"errors"
	"fmt"
)

// Notification channels.
const (
	ChannelTelegram = "telegram"
	ChannelEmail    = "email"
	ChannelSMS      = "sms"
)

// Template keys used by the dispatcher sweeps.
const (
	TemplateUpcomingReminder = "upcoming_reminder"
	TemplateSessionRecovery  = "session_recovery"
	TemplateRetentionNudge   = "retention_nudge"
)

// Notifier delivers a templated message to a recipient over a channel.
// Implementations return delivery failures to the caller; they never swallow
// them, because the dispatcher uses the error to decide whether to keep the
// sent-guard.
type Notifier interface {
	Send(ctx context.Context, recipient, channel, templateKey string, data map[string]string) error
}

// APIError is a typed delivery error carrying the upstream status code and,
// for throttling responses, the advised retry delay in seconds.
type APIError struct {
	Code       int
	Message    string
	RetryAfter int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("notify api error %d: %s", e.Code, e.Message)
}

// AsAPIError extracts an APIError from an error chain.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// ErrUnsupportedChannel is returned when a notifier cannot serve the
// requested channel.
var ErrUnsupportedChannel = errors.New("unsupported notification channel")
