package reminders

import (
	"context"
	"strconv"
	"time"

	"glowdesk/internal/models"
	"glowdesk/internal/notify"
)

// DefaultHalfWindow is the tolerance around a rule's fire instant. It should
// cover at least half the sweep interval so no fire instant falls between two
// sweeps.
const DefaultHalfWindow = 15 * time.Minute

// UpcomingStore is the persistence surface for the upcoming-booking sweep.
type UpcomingStore interface {
	ListEnabledReminderRules(ctx context.Context) ([]models.ReminderRule, error)
	ListActiveBookingsBetweenDates(ctx context.Context, from, to time.Time) ([]models.Booking, error)
	ClaimReminder(ctx context.Context, bookingID, ruleID int64, now time.Time) (bool, error)
	ConfirmReminder(ctx context.Context, bookingID, ruleID int64, sentAt time.Time) error
	UnclaimReminder(ctx context.Context, bookingID, ruleID int64) error
}

// UpcomingSource emits one candidate per (active booking, enabled rule) pair
// whose fire instant falls within the tolerance window around now. The
// durable guard is the reminder_sent row.
type UpcomingSource struct {
	store      UpcomingStore
	location   *time.Location
	halfWindow time.Duration
}

// NewUpcomingSource creates the rule-table source. A non-positive halfWindow
// falls back to DefaultHalfWindow.
func NewUpcomingSource(store UpcomingStore, location *time.Location, halfWindow time.Duration) *UpcomingSource {
	if halfWindow <= 0 {
		halfWindow = DefaultHalfWindow
	}
	return &UpcomingSource{store: store, location: location, halfWindow: halfWindow}
}

func (s *UpcomingSource) Name() string { return "upcoming" }

// Collect matches every active booking against every enabled rule. A pair is
// due iff now lies in [fireAt−halfWindow, fireAt+halfWindow]; rows already
// guarded are filtered at claim time, not here.
func (s *UpcomingSource) Collect(ctx context.Context, now time.Time) ([]Candidate, error) {
	rules, err := s.store.ListEnabledReminderRules(ctx)
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return nil, nil
	}

	var maxOffset time.Duration
	for _, r := range rules {
		if off := r.Offset(); off > maxOffset {
			maxOffset = off
		}
	}

	// A booking can only be due if its day lies between today and the
	// farthest fire horizon.
	from := dateOnly(now.In(s.location))
	to := dateOnly(now.Add(maxOffset + s.halfWindow).In(s.location))

	bookings, err := s.store.ListActiveBookingsBetweenDates(ctx, from, to)
	if err != nil {
		return nil, err
	}

	var due []Candidate
	for _, b := range bookings {
		if b.ClientChatID == 0 {
			continue
		}
		start := b.StartAt(s.location)
		for _, r := range rules {
			fireAt := r.FireAt(start)
			if now.Before(fireAt.Add(-s.halfWindow)) || now.After(fireAt.Add(s.halfWindow)) {
				continue
			}
			due = append(due, Candidate{
				SubjectID:   b.ID,
				RuleID:      r.ID,
				Recipient:   strconv.FormatInt(b.ClientChatID, 10),
				Channel:     r.Channel,
				TemplateKey: notify.TemplateUpcomingReminder,
				Data: map[string]string{
					"service": b.ServiceName,
					"date":    b.Date.Format("02.01"),
					"time":    b.StartTime,
				},
			})
		}
	}
	return due, nil
}

func (s *UpcomingSource) Claim(ctx context.Context, c Candidate, now time.Time) (bool, error) {
	return s.store.ClaimReminder(ctx, c.SubjectID, c.RuleID, now)
}

func (s *UpcomingSource) Confirm(ctx context.Context, c Candidate, sentAt time.Time) error {
	return s.store.ConfirmReminder(ctx, c.SubjectID, c.RuleID, sentAt)
}

func (s *UpcomingSource) Unclaim(ctx context.Context, c Candidate) error {
	return s.store.UnclaimReminder(ctx, c.SubjectID, c.RuleID)
}

// dateOnly truncates t to midnight in its own location.
func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
