package reminders

import (
	"context"
	"strconv"
	"time"

	"glowdesk/internal/models"
	"glowdesk/internal/notify"
)

// DefaultRecoveryDelay is how long a session must sit idle before a recovery
// nudge is considered.
const DefaultRecoveryDelay = 30 * time.Minute

// RecoveryStore is the persistence surface for the abandoned-session sweep.
type RecoveryStore interface {
	ListAbandonedSessions(ctx context.Context, from, to time.Time) ([]models.ChatSession, error)
	ClaimSessionRecovery(ctx context.Context, sessionID int64) (bool, error)
	UnclaimSessionRecovery(ctx context.Context, sessionID int64) error
}

// RecoverySource emits at most one candidate per abandoned conversational
// session. The guard is the session's recovery flag, flipped by a conditional
// update.
type RecoverySource struct {
	store RecoveryStore
	delay time.Duration
}

// NewRecoverySource creates the abandoned-session source. A non-positive
// delay falls back to DefaultRecoveryDelay.
func NewRecoverySource(store RecoveryStore, delay time.Duration) *RecoverySource {
	if delay <= 0 {
		delay = DefaultRecoveryDelay
	}
	return &RecoverySource{store: store, delay: delay}
}

func (s *RecoverySource) Name() string { return "recovery" }

// Collect returns sessions whose last activity falls in the trailing window
// [now−delay−2h, now−delay]. Sessions older than the window floor never get a
// nudge; re-scanning them every sweep would only churn the table.
func (s *RecoverySource) Collect(ctx context.Context, now time.Time) ([]Candidate, error) {
	to := now.Add(-s.delay)
	from := to.Add(-2 * time.Hour)

	sessions, err := s.store.ListAbandonedSessions(ctx, from, to)
	if err != nil {
		return nil, err
	}

	var due []Candidate
	for _, sess := range sessions {
		if sess.ChatID == 0 {
			continue
		}
		due = append(due, Candidate{
			SubjectID:   sess.ID,
			Recipient:   strconv.FormatInt(sess.ChatID, 10),
			Channel:     notify.ChannelTelegram,
			TemplateKey: notify.TemplateSessionRecovery,
		})
	}
	return due, nil
}

// Claim flips the recovery flag; flipping it is the whole guard, so Confirm
// has nothing left to do.
func (s *RecoverySource) Claim(ctx context.Context, c Candidate, now time.Time) (bool, error) {
	return s.store.ClaimSessionRecovery(ctx, c.SubjectID)
}

func (s *RecoverySource) Confirm(ctx context.Context, c Candidate, sentAt time.Time) error {
	return nil
}

func (s *RecoverySource) Unclaim(ctx context.Context, c Candidate) error {
	return s.store.UnclaimSessionRecovery(ctx, c.SubjectID)
}
