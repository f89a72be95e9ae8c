package reminders

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"glowdesk/internal/notify"
)

// Config holds dispatcher tuning.
type Config struct {
	// QuietHoursStart and QuietHoursEnd bound the no-send window in salon
	// local time. The window may wrap midnight (23 → 8).
	QuietHoursStart int
	QuietHoursEnd   int

	// MaxConcurrentSends bounds the per-sweep fan-out.
	MaxConcurrentSends int

	// SendTimeout is the wall-clock budget for one notification call.
	SendTimeout time.Duration

	// RatePerSecond and Burst feed the outbound rate limiter.
	RatePerSecond float64
	Burst         int
}

// DefaultConfig returns the default dispatcher configuration.
func DefaultConfig() Config {
	return Config{
		QuietHoursStart:    23,
		QuietHoursEnd:      8,
		MaxConcurrentSends: 10,
		SendTimeout:        30 * time.Second,
		RatePerSecond:      20,
		Burst:              30,
	}
}

// sourceState pairs a source with its non-overlap guard.
type sourceState struct {
	source Source
	mu     sync.Mutex
}

// Dispatcher runs the reminder sweep over a set of candidate sources. Each
// source is swept independently: a slow or failing source never blocks the
// others, and two sweeps of the same source never overlap.
type Dispatcher struct {
	config   Config
	sources  []*sourceState
	notifier notify.Notifier
	limiter  *rate.Limiter
	location *time.Location
	logger   *zerolog.Logger
	metrics  *Metrics
	now      func() time.Time
}

// NewDispatcher creates a dispatcher over the given sources. metrics may be
// nil.
func NewDispatcher(config Config, sources []Source, notifier notify.Notifier, location *time.Location, logger *zerolog.Logger, metrics *Metrics) *Dispatcher {
	if config.MaxConcurrentSends <= 0 {
		config.MaxConcurrentSends = 10
	}
	if config.SendTimeout <= 0 {
		config.SendTimeout = 30 * time.Second
	}
	if config.RatePerSecond <= 0 {
		config.RatePerSecond = 20
	}
	if config.Burst <= 0 {
		config.Burst = 30
	}

	states := make([]*sourceState, len(sources))
	for i, src := range sources {
		states[i] = &sourceState{source: src}
	}

	return &Dispatcher{
		config:   config,
		sources:  states,
		notifier: notifier,
		limiter:  rate.NewLimiter(rate.Limit(config.RatePerSecond), config.Burst),
		location: location,
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
	}
}

// RunSweep executes one sweep over every source. Quiet hours are evaluated
// once per invocation; a sweep landing inside them sends nothing.
func (d *Dispatcher) RunSweep(ctx context.Context) {
	now := d.now()

	if d.inQuietHours(now) {
		d.logger.Debug().Time("now", now).Msg("sweep inside quiet hours, skipping")
		for _, st := range d.sources {
			d.metrics.IncSweep(st.source.Name(), "skipped_quiet_hours")
		}
		return
	}

	for _, st := range d.sources {
		d.sweepSource(ctx, st, now)
	}
}

// sweepSource runs one source sweep under its non-overlap guard.
func (d *Dispatcher) sweepSource(ctx context.Context, st *sourceState, now time.Time) {
	if !st.mu.TryLock() {
		d.logger.Warn().Str("source", st.source.Name()).Msg("previous sweep still running, skipping")
		d.metrics.IncSweep(st.source.Name(), "skipped_overlap")
		return
	}
	defer st.mu.Unlock()

	name := st.source.Name()
	start := time.Now()

	candidates, err := st.source.Collect(ctx, now)
	if err != nil {
		d.logger.Error().Err(err).Str("source", name).Msg("candidate collection failed")
		d.metrics.IncSweep(name, "error")
		return
	}
	d.metrics.SetDue(name, len(candidates))
	if len(candidates) == 0 {
		d.metrics.IncSweep(name, "ok")
		return
	}

	d.logger.Info().Str("source", name).Int("due", len(candidates)).Msg("sweep found due candidates")

	sem := make(chan struct{}, d.config.MaxConcurrentSends)
	var wg sync.WaitGroup

	for _, c := range candidates {
		select {
		case <-ctx.Done():
			d.logger.Info().Str("source", name).Msg("sweep interrupted")
			wg.Wait()
			d.metrics.IncSweep(name, "error")
			return
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(c Candidate) {
			defer wg.Done()
			defer func() { <-sem }()
			d.processCandidate(ctx, st.source, c, now)
		}(c)
	}

	wg.Wait()
	d.metrics.IncSweep(name, "ok")
	d.logger.Debug().Str("source", name).Dur("took", time.Since(start)).Msg("sweep finished")
}

// processCandidate runs the claim-send-confirm protocol for one candidate.
// The guard is claimed before the send; a failed delivery releases it so the
// candidate comes back on the next sweep. One candidate's failure never
// affects its siblings.
func (d *Dispatcher) processCandidate(ctx context.Context, src Source, c Candidate, now time.Time) {
	name := src.Name()

	claimed, err := src.Claim(ctx, c, now)
	if err != nil {
		d.logger.Error().Err(err).
			Str("source", name).
			Int64("subject_id", c.SubjectID).
			Int64("rule_id", c.RuleID).
			Msg("guard claim failed")
		d.metrics.IncSent(name, "claim_error")
		return
	}
	if !claimed {
		// Already sent, or claimed by a concurrent sweep.
		d.metrics.IncSent(name, "duplicate")
		return
	}

	if err := d.limiter.Wait(ctx); err != nil {
		d.unclaim(ctx, src, c)
		return
	}

	sendStart := time.Now()
	sendCtx, cancel := context.WithTimeout(ctx, d.config.SendTimeout)
	err = d.notifier.Send(sendCtx, c.Recipient, c.Channel, c.TemplateKey, c.Data)
	cancel()
	d.metrics.ObserveSendDuration(time.Since(sendStart).Seconds())

	if err != nil {
		d.logger.Error().Err(err).
			Str("source", name).
			Int64("subject_id", c.SubjectID).
			Int64("rule_id", c.RuleID).
			Msg("delivery failed, releasing guard for retry")
		if apiErr, ok := notify.AsAPIError(err); ok && apiErr.RetryAfter > 0 {
			// Throttled upstream; drain the local bucket so the rest of the
			// sweep backs off instead of hammering the API.
			d.limiter.ReserveN(d.now(), d.limiter.Burst())
		}
		d.metrics.IncSent(name, "error")
		d.unclaim(ctx, src, c)
		return
	}

	if err := src.Confirm(ctx, c, d.now()); err != nil {
		// Delivered but not finalized; the claim row still blocks a resend.
		d.logger.Error().Err(err).
			Str("source", name).
			Int64("subject_id", c.SubjectID).
			Int64("rule_id", c.RuleID).
			Msg("guard confirm failed after delivery")
		d.metrics.IncSent(name, "confirm_error")
		return
	}

	d.metrics.IncSent(name, "ok")
	d.logger.Info().
		Str("source", name).
		Int64("subject_id", c.SubjectID).
		Int64("rule_id", c.RuleID).
		Str("template", c.TemplateKey).
		Msg("reminder sent")
}

func (d *Dispatcher) unclaim(ctx context.Context, src Source, c Candidate) {
	if err := src.Unclaim(ctx, c); err != nil {
		d.logger.Error().Err(err).
			Str("source", src.Name()).
			Int64("subject_id", c.SubjectID).
			Int64("rule_id", c.RuleID).
			Msg("guard release failed, candidate may be stuck until manual cleanup")
	}
}

// inQuietHours reports whether t falls inside the configured no-send window
// in salon local time. A start equal to the end disables the window.
func (d *Dispatcher) inQuietHours(t time.Time) bool {
	start, end := d.config.QuietHoursStart, d.config.QuietHoursEnd
	if start == end {
		return false
	}
	h := t.In(d.location).Hour()
	if start > end {
		return h >= start || h < end
	}
	return h >= start && h < end
}
