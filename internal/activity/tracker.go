package activity

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultInterval is the minimum gap between two persisted activity writes
// for the same client.
const DefaultInterval = 60 * time.Second

// Store receives the throttled write-through.
type Store interface {
	TouchClientActivity(ctx context.Context, ref string, at time.Time) error
}

// Tracker debounces last-activity writes: at most one store write per client
// per interval. The gate is a redis SET NX EX key so separate processes share
// one debounce window; without redis an in-process map with expiry takes over.
type Tracker struct {
	store    Store
	rdb      *redis.Client
	interval time.Duration
	logger   *zerolog.Logger
	now      func() time.Time

	mu    sync.Mutex
	local map[string]time.Time
}

// NewTracker creates a tracker. rdb may be nil. A non-positive interval
// falls back to DefaultInterval.
func NewTracker(store Store, rdb *redis.Client, interval time.Duration, logger *zerolog.Logger) *Tracker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Tracker{
		store:    store,
		rdb:      rdb,
		interval: interval,
		logger:   logger,
		now:      time.Now,
		local:    make(map[string]time.Time),
	}
}

// Touch records activity for the client ref. The write reaches the store
// only when the debounce gate opens; suppressed touches are free.
func (t *Tracker) Touch(ctx context.Context, ref string) error {
	if ref == "" {
		return nil
	}
	now := t.now()
	if !t.acquireGate(ctx, ref, now) {
		return nil
	}
	if err := t.store.TouchClientActivity(ctx, ref, now); err != nil {
		t.logger.Error().Err(err).Str("client_ref", ref).Msg("activity write failed")
		return err
	}
	return nil
}

// acquireGate reports whether this touch owns the debounce window. Redis
// errors degrade to the local gate so activity tracking survives a cache
// outage.
func (t *Tracker) acquireGate(ctx context.Context, ref string, now time.Time) bool {
	if t.rdb != nil {
		ok, err := t.rdb.SetNX(ctx, "activity:"+ref, "1", t.interval).Result()
		if err == nil {
			return ok
		}
		t.logger.Warn().Err(err).Msg("redis activity gate unavailable, using local gate")
	}
	return t.acquireLocal(ref, now)
}

func (t *Tracker) acquireLocal(ref string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if until, ok := t.local[ref]; ok && now.Before(until) {
		return false
	}
	t.local[ref] = now.Add(t.interval)

	// Opportunistic cleanup keeps the map from growing with one-off refs.
	if len(t.local) > 10000 {
		for k, until := range t.local {
			if !now.Before(until) {
				delete(t.local, k)
			}
		}
	}
	return true
}
