package reminders

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultSweepInterval is how often the scheduler triggers RunSweep.
const DefaultSweepInterval = time.Minute

// Scheduler drives the dispatcher on a fixed interval.
type Scheduler struct {
	dispatcher *Dispatcher
	interval   time.Duration
	logger     *zerolog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewScheduler creates a scheduler. A non-positive interval falls back to
// DefaultSweepInterval.
func NewScheduler(dispatcher *Dispatcher, interval time.Duration, logger *zerolog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Scheduler{
		dispatcher: dispatcher,
		interval:   interval,
		logger:     logger,
		stopCh:     make(chan struct{}),
	}
}

// Start begins the sweep loop. The first sweep runs immediately.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Info().Dur("interval", s.interval).Msg("reminder scheduler started")

	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop halts the loop and waits for an in-flight sweep to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info().Msg("reminder scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	s.dispatcher.RunSweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.dispatcher.RunSweep(ctx)
		}
	}
}

// IsRunning reports whether the loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
