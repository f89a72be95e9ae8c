package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"glowdesk/internal/availability"
	"glowdesk/internal/metrics"
)

// AvailabilityService resolves offerable slots.
type AvailabilityService interface {
	FindSlots(ctx context.Context, req availability.Request) ([]availability.Slot, error)
}

// HoldService manages slot soft-locks.
type HoldService interface {
	AcquireOrRefresh(ctx context.Context, serviceID, providerID int64, date time.Time, startTime, holderRef string) (bool, error)
	Release(ctx context.Context, providerID int64, date time.Time, startTime, holderRef string) error
	IsHeldByOther(ctx context.Context, providerID int64, date time.Time, startTime, holderRef string) (bool, error)
}

// SweepRunner triggers one dispatcher sweep.
type SweepRunner interface {
	RunSweep(ctx context.Context)
}

// ActivityTracker records booking-flow interaction instants.
type ActivityTracker interface {
	Touch(ctx context.Context, ref string) error
}

// HTTPServer exposes the booking core over HTTP for the conversational
// front-ends.
type HTTPServer struct {
	server       *http.Server
	availability AvailabilityService
	holds        HoldService
	sweeper      SweepRunner
	activity     ActivityTracker
	apiKey       string
	log          *zerolog.Logger
}

// NewHTTPServer wires the handlers. An empty apiKey disables authentication
// (local deployments behind a private network).
func NewHTTPServer(addr string, avail AvailabilityService, holds HoldService, sweeper SweepRunner, activity ActivityTracker, apiKey string, log *zerolog.Logger) *HTTPServer {
	s := &HTTPServer{
		availability: avail,
		holds:        holds,
		sweeper:      sweeper,
		activity:     activity,
		apiKey:       apiKey,
		log:          log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/availability", s.withRequestID(s.handleAvailability))
	mux.HandleFunc("/api/holds", s.withRequestID(s.handleHolds))
	mux.HandleFunc("/api/holds/check", s.withRequestID(s.handleHoldCheck))
	mux.HandleFunc("/api/sweep", s.withRequestID(s.handleSweep))

	s.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Start blocks serving requests until the listener fails or Shutdown is
// called.
func (s *HTTPServer) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("http api listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler returns the routed handler, used by tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

// withRequestID authenticates the request and threads a request id through
// the logger.
func (s *HTTPServer) withRequestID(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey != "" && r.Header.Get("X-API-Key") != s.apiKey {
			writeError(w, http.StatusUnauthorized, "invalid api key")
			return
		}

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		s.log.Debug().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("http request")

		next(w, r)
	}
}

// handleSweep triggers one dispatcher sweep out of schedule.
// POST /api/sweep
func (s *HTTPServer) handleSweep(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("sweep")
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use POST")
		return
	}
	s.sweeper.RunSweep(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func parseID(s, field string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("%s is required", field)
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s", field)
	}
	return id, nil
}

func parseDate(s, field string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("%s is required", field)
	}
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s format; expected YYYY-MM-DD", field)
	}
	return d, nil
}
