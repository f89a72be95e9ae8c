package sheets

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"glowdesk/internal/models"
)

// Config holds the spreadsheet export settings.
type Config struct {
	// CredentialsFile is the service-account JSON key path.
	CredentialsFile string

	// SpreadsheetID is the target spreadsheet.
	SpreadsheetID string

	// SheetName is the tab receiving the snapshot.
	SheetName string

	// DaysAhead bounds the snapshot horizon.
	DaysAhead int

	// Interval is how often the snapshot refreshes.
	Interval time.Duration
}

// Store supplies the bookings for the snapshot.
type Store interface {
	ListUpcomingActiveBookings(ctx context.Context, today time.Time, days int) ([]models.Booking, error)
}

// Service pushes a periodic snapshot of upcoming bookings to a Google
// spreadsheet the salon administrators watch.
type Service struct {
	config Config
	store  Store
	api    *sheets.Service
	logger *zerolog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New creates the exporter from a service-account key.
func New(ctx context.Context, config Config, store Store, logger *zerolog.Logger) (*Service, error) {
	if config.SpreadsheetID == "" {
		return nil, fmt.Errorf("spreadsheet id is required")
	}
	if config.SheetName == "" {
		config.SheetName = "Bookings"
	}
	if config.DaysAhead <= 0 {
		config.DaysAhead = 14
	}
	if config.Interval <= 0 {
		config.Interval = 15 * time.Minute
	}

	creds, err := os.ReadFile(config.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	jwt, err := google.JWTConfigFromJSON(creds, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	api, err := sheets.NewService(ctx, option.WithHTTPClient(jwt.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("create sheets client: %w", err)
	}

	return &Service{
		config: config,
		store:  store,
		api:    api,
		logger: logger,
		stopCh: make(chan struct{}),
	}, nil
}

// Start begins the snapshot loop.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(ctx)

	s.logger.Info().
		Str("spreadsheet", s.config.SpreadsheetID).
		Dur("interval", s.config.Interval).
		Msg("sheets exporter started")
}

// Stop halts the loop.
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
	s.logger.Info().Msg("sheets exporter stopped")
}

func (s *Service) loop(ctx context.Context) {
	defer s.wg.Done()

	if err := s.Snapshot(ctx); err != nil {
		s.logger.Error().Err(err).Msg("initial snapshot failed")
	}

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if err := s.Snapshot(ctx); err != nil {
				s.logger.Error().Err(err).Msg("snapshot failed")
			}
		}
	}
}

// Snapshot replaces the sheet contents with the current upcoming bookings.
func (s *Service) Snapshot(ctx context.Context) error {
	now := time.Now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	bookings, err := s.store.ListUpcomingActiveBookings(ctx, today, s.config.DaysAhead)
	if err != nil {
		return fmt.Errorf("load upcoming bookings: %w", err)
	}
	active := filterActiveBookings(bookings)

	values := [][]interface{}{
		{"ID", "Date", "Time", "Service", "Master", "Client", "Status"},
	}
	for i := range active {
		values = append(values, bookingRowValues(&active[i]))
	}

	clearRange := fmt.Sprintf("%s!A:G", s.config.SheetName)
	if _, err := s.api.Spreadsheets.Values.Clear(s.config.SpreadsheetID, clearRange, &sheets.ClearValuesRequest{}).Context(ctx).Do(); err != nil {
		return fmt.Errorf("clear sheet: %w", err)
	}

	_, err = s.api.Spreadsheets.Values.Update(s.config.SpreadsheetID, fmt.Sprintf("%s!A1", s.config.SheetName), &sheets.ValueRange{
		Values: values,
	}).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("update sheet: %w", err)
	}

	s.logger.Debug().Int("rows", len(active)).Msg("snapshot pushed")
	return nil
}

// filterActiveBookings drops rows that no longer occupy a slot.
func filterActiveBookings(bookings []models.Booking) []models.Booking {
	active := make([]models.Booking, 0, len(bookings))
	for _, b := range bookings {
		if b.Status == models.BookingStatusCancelled {
			continue
		}
		active = append(active, b)
	}
	return active
}

// bookingRowValues renders one booking as a sheet row.
func bookingRowValues(b *models.Booking) []interface{} {
	return []interface{}{
		b.ID,
		b.Date.Format("2006-01-02"),
		b.StartTime,
		b.ServiceName,
		b.ProviderID,
		b.ClientRef,
		b.Status,
	}
}
