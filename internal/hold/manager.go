package hold

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"glowdesk/internal/metrics"
	"glowdesk/internal/models"
)

// DefaultTTL is how long a hold protects its slot before self-expiring.
const DefaultTTL = 10 * time.Minute

// Store is the persistence surface the manager needs. The acquire operation
// must be atomic with respect to the existence check (unique-constrained
// upsert or equivalent compare-and-swap).
type Store interface {
	AcquireOrRefreshHold(ctx context.Context, h *models.BookingHold, now time.Time) (bool, error)
	GetHold(ctx context.Context, providerID int64, date time.Time, startTime string) (*models.BookingHold, error)
	ReleaseHold(ctx context.Context, providerID int64, date time.Time, startTime, holderRef string) error
	DeleteExpiredHolds(ctx context.Context, now time.Time) (int64, error)
	CountLiveHolds(ctx context.Context, now time.Time) (int64, error)
}

// Manager serializes slot claims through short-lived soft-locks. A hold is
// refreshed only by its own holder and expires after the TTL; it narrows but
// does not eliminate the booking race, so confirmation still re-checks the
// ledger.
type Manager struct {
	store  Store
	ttl    time.Duration
	logger *zerolog.Logger
	now    func() time.Time
}

// NewManager creates a hold manager. A non-positive ttl falls back to
// DefaultTTL.
func NewManager(store Store, ttl time.Duration, logger *zerolog.Logger) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{store: store, ttl: ttl, logger: logger, now: time.Now}
}

// AcquireOrRefresh claims the (provider, date, start) key for holderRef, or
// extends the TTL when holderRef already owns it. Returns false when another
// holder has a live hold on the key. Storage errors fail closed: the slot is
// reported unavailable.
func (m *Manager) AcquireOrRefresh(ctx context.Context, serviceID, providerID int64, date time.Time, startTime, holderRef string) (bool, error) {
	now := m.now()
	h := &models.BookingHold{
		ServiceID:  serviceID,
		ProviderID: providerID,
		Date:       date,
		StartTime:  startTime,
		HolderRef:  holderRef,
		ExpiresAt:  now.Add(m.ttl),
	}

	acquired, err := m.store.AcquireOrRefreshHold(ctx, h, now)
	if err != nil {
		m.logger.Error().Err(err).
			Int64("provider_id", providerID).
			Str("start_time", startTime).
			Msg("hold acquire failed, reporting slot unavailable")
		metrics.IncHoldAcquire("error")
		return false, err
	}
	if !acquired {
		metrics.IncHoldAcquire("conflict")
		return false, nil
	}

	metrics.IncHoldAcquire("ok")
	m.logger.Debug().
		Int64("provider_id", providerID).
		Str("date", date.Format("2006-01-02")).
		Str("start_time", startTime).
		Str("holder", holderRef).
		Msg("hold acquired")
	return true, nil
}

// IsHeldByOther reports whether a live hold by a different holder covers the
// key. Expired holds are treated as absent. Storage errors fail closed: the
// key is reported held.
func (m *Manager) IsHeldByOther(ctx context.Context, providerID int64, date time.Time, startTime, holderRef string) (bool, error) {
	h, err := m.store.GetHold(ctx, providerID, date, startTime)
	if err != nil {
		m.logger.Error().Err(err).Msg("hold lookup failed, reporting key held")
		return true, err
	}
	if h == nil {
		return false, nil
	}
	if h.IsExpired(m.now()) {
		return false, nil
	}
	return h.HolderRef != holderRef, nil
}

// Release frees the key early when the holder abandons the flow. Releasing a
// key held by someone else is a no-op.
func (m *Manager) Release(ctx context.Context, providerID int64, date time.Time, startTime, holderRef string) error {
	return m.store.ReleaseHold(ctx, providerID, date, startTime, holderRef)
}

// StartSweep runs the opportunistic expired-hold GC until the context ends.
// Correctness never depends on the sweep; reads already ignore expired rows.
func (m *Manager) StartSweep(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := m.now()
			deleted, err := m.store.DeleteExpiredHolds(ctx, now)
			if err != nil {
				m.logger.Error().Err(err).Msg("hold sweep failed")
				continue
			}
			if deleted > 0 {
				m.logger.Debug().Int64("deleted", deleted).Msg("expired holds removed")
			}
			if live, err := m.store.CountLiveHolds(ctx, now); err == nil {
				metrics.SetLiveHolds(live)
			}
		}
	}
}
