package audit

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"glowdesk/internal/models"
)

// minRetentionDays keeps guard rows alive past every dedupe horizon; the
// retention sweep checks 30 days back, so cleanup must never cut below 35.
const minRetentionDays = 35

// Config holds audit service settings.
type Config struct {
	// RetentionDays is how long confirmed guard rows survive. Values below
	// the dedupe floor are raised to it.
	RetentionDays int

	// ExportDir receives the monthly xlsx reports.
	ExportDir string

	// ExportOnStart runs an export immediately on Start.
	ExportOnStart bool
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		RetentionDays: 60,
		ExportDir:     "exports",
	}
}

// Store is the persistence surface the audit service needs.
type Store interface {
	ListSentRemindersBetween(ctx context.Context, from, to time.Time) ([]models.ReminderSent, error)
	DeleteSentRemindersBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Service writes a monthly notification-log report and prunes old guard
// rows.
type Service struct {
	config *Config
	store  Store
	logger *zerolog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewService creates the audit service.
func NewService(config *Config, store Store, logger *zerolog.Logger) *Service {
	if config == nil {
		config = DefaultConfig()
	}
	if config.RetentionDays < minRetentionDays {
		config.RetentionDays = minRetentionDays
	}

	return &Service{
		config: config,
		store:  store,
		logger: logger,
		stopCh: make(chan struct{}),
	}
}

// Start begins the monthly schedule.
func (s *Service) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	if s.config.ExportOnStart {
		go s.RunExportAndCleanup()
	}

	s.wg.Add(1)
	go s.loop()

	s.logger.Info().Int("retention_days", s.config.RetentionDays).Msg("audit service started")
}

// Stop halts the schedule and waits for an in-flight run.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info().Msg("audit service stopped")
}

func (s *Service) loop() {
	defer s.wg.Done()

	nextRun := nextFirstOfMonth(time.Now())
	timer := time.NewTimer(time.Until(nextRun))
	defer timer.Stop()

	s.logger.Info().Time("next_run", nextRun).Msg("next audit scheduled")

	for {
		select {
		case <-s.stopCh:
			return
		case <-timer.C:
			s.RunExportAndCleanup()
			nextRun = nextFirstOfMonth(time.Now())
			timer.Reset(time.Until(nextRun))
			s.logger.Info().Time("next_run", nextRun).Msg("next audit scheduled")
		}
	}
}

// nextFirstOfMonth returns 00:01 on the first day of the month after t.
func nextFirstOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month()+1, 1, 0, 1, 0, 0, t.Location())
}

// RunExportAndCleanup performs one export and cleanup immediately.
func (s *Service) RunExportAndCleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	if err := s.exportPreviousMonth(ctx); err != nil {
		s.logger.Error().Err(err).Msg("audit export failed")
	}
	if err := s.cleanup(ctx); err != nil {
		s.logger.Error().Err(err).Msg("guard row cleanup failed")
	}
}

// exportPreviousMonth writes the previous month's notification log to an
// xlsx file under ExportDir.
func (s *Service) exportPreviousMonth(ctx context.Context) error {
	now := time.Now()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	prevStart := monthStart.AddDate(0, -1, 0)

	sent, err := s.store.ListSentRemindersBetween(ctx, prevStart, monthStart)
	if err != nil {
		return fmt.Errorf("list sent reminders: %w", err)
	}

	path := filepath.Join(s.config.ExportDir, reportFilename(prevStart))
	if err := writeReport(path, prevStart, sent); err != nil {
		return err
	}

	s.logger.Info().
		Str("file", path).
		Int("rows", len(sent)).
		Msg("monthly notification report written")
	return nil
}

func reportFilename(month time.Time) string {
	return fmt.Sprintf("notifications-%s.xlsx", month.Format("2006-01"))
}

func (s *Service) cleanup(ctx context.Context) error {
	cutoff := time.Now().AddDate(0, 0, -s.config.RetentionDays)
	deleted, err := s.store.DeleteSentRemindersBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	if deleted > 0 {
		s.logger.Info().
			Int64("deleted", deleted).
			Int("retention_days", s.config.RetentionDays).
			Msg("old guard rows removed")
	}
	return nil
}
