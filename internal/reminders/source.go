package reminders

import (
	"context"
	"time"
)

// Candidate is a single (subject, rule) pair due for a notification. The
// subject key and rule id identify the durable guard; recipient, channel and
// template describe the delivery.
type Candidate struct {
	SubjectID   int64
	RuleID      int64
	Recipient   string
	Channel     string
	TemplateKey string
	Data        map[string]string
}

// Source supplies due candidates for one sweep flavor and owns the guard
// protocol around each send.
//
// Claim must be atomic: of two concurrent claims for the same candidate, at
// most one returns true. Confirm finalizes the guard after a successful
// delivery. Unclaim releases the guard after a failed delivery so the
// candidate is retried on the next sweep.
type Source interface {
	Name() string
	Collect(ctx context.Context, now time.Time) ([]Candidate, error)
	Claim(ctx context.Context, c Candidate, now time.Time) (bool, error)
	Confirm(ctx context.Context, c Candidate, sentAt time.Time) error
	Unclaim(ctx context.Context, c Candidate) error
}
