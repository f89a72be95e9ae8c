package reminders

import (
	"context"
	"strconv"
	"sync"
	"time"

	"glowdesk/internal/models"
	"glowdesk/internal/notify"
)

// Retention sweep policy constants.
const (
	// DefaultRetentionDelay is how long after a completed visit a client
	// counts as dormant.
	DefaultRetentionDelay = 45 * 24 * time.Hour

	// retentionLookback bounds how far past the delay the sweep still
	// considers a client; beyond it the client is written off.
	retentionLookback = 60 * 24 * time.Hour

	// retentionDedupeHorizon is the minimum gap between two retention
	// messages to the same client.
	retentionDedupeHorizon = 30 * 24 * time.Hour
)

// RetentionStore is the persistence surface for the dormant-client sweep.
type RetentionStore interface {
	ListDormantClients(ctx context.Context, from, to, remindedBefore, now time.Time) ([]models.Client, error)
	ClaimRetention(ctx context.Context, clientID int64, now, remindedBefore time.Time) (bool, error)
	UnclaimRetention(ctx context.Context, clientID int64, prev *time.Time) error
}

// RetentionSource emits candidates for clients whose last completed visit
// fell long enough ago, who hold no future booking, and who were not already
// nudged within the dedupe horizon. The guard is the client's retention
// timestamp, advanced by a conditional update.
type RetentionSource struct {
	store RetentionStore
	delay time.Duration

	// prev remembers each claimed client's prior retention timestamp so a
	// failed delivery can restore it. Rebuilt on every Collect; the
	// dispatcher guarantees sweeps of one source never overlap.
	mu   sync.Mutex
	prev map[int64]*time.Time
}

// NewRetentionSource creates the dormant-client source. A non-positive delay
// falls back to DefaultRetentionDelay.
func NewRetentionSource(store RetentionStore, delay time.Duration) *RetentionSource {
	if delay <= 0 {
		delay = DefaultRetentionDelay
	}
	return &RetentionSource{store: store, delay: delay, prev: make(map[int64]*time.Time)}
}

func (s *RetentionSource) Name() string { return "retention" }

// Collect returns clients whose most recent completed booking day lies in
// [now−delay−60d, now−delay] and who pass the no-future-booking and dedupe
// predicates.
func (s *RetentionSource) Collect(ctx context.Context, now time.Time) ([]Candidate, error) {
	to := now.Add(-s.delay)
	from := to.Add(-retentionLookback)
	remindedBefore := now.Add(-retentionDedupeHorizon)

	clients, err := s.store.ListDormantClients(ctx, from, to, remindedBefore, now)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.prev = make(map[int64]*time.Time, len(clients))
	var due []Candidate
	for _, c := range clients {
		if c.ChatID == 0 {
			continue
		}
		s.prev[c.ID] = c.LastRetentionSentAt
		due = append(due, Candidate{
			SubjectID:   c.ID,
			Recipient:   strconv.FormatInt(c.ChatID, 10),
			Channel:     notify.ChannelTelegram,
			TemplateKey: notify.TemplateRetentionNudge,
		})
	}
	s.mu.Unlock()
	return due, nil
}

// Claim advances the retention timestamp; the timestamp itself is the guard,
// so Confirm has nothing left to do.
func (s *RetentionSource) Claim(ctx context.Context, c Candidate, now time.Time) (bool, error) {
	return s.store.ClaimRetention(ctx, c.SubjectID, now, now.Add(-retentionDedupeHorizon))
}

func (s *RetentionSource) Confirm(ctx context.Context, c Candidate, sentAt time.Time) error {
	return nil
}

// Unclaim restores the timestamp the client carried before the claim.
func (s *RetentionSource) Unclaim(ctx context.Context, c Candidate) error {
	s.mu.Lock()
	prev := s.prev[c.SubjectID]
	s.mu.Unlock()
	return s.store.UnclaimRetention(ctx, c.SubjectID, prev)
}
