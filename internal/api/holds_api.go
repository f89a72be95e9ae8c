package api

import (
	"encoding/json"
	"net/http"
	"time"

	"glowdesk/internal/metrics"
)

// HoldRequest is the request body for POST and DELETE /api/holds.
type HoldRequest struct {
	ServiceID  int64  `json:"service_id,omitempty"`
	ProviderID int64  `json:"provider_id"`
	Date       string `json:"date"`       // Format: YYYY-MM-DD
	StartTime  string `json:"start_time"` // Format: HH:MM
	HolderRef  string `json:"holder_ref"`
}

// HoldResponse is the response for hold operations.
type HoldResponse struct {
	Acquired bool   `json:"acquired,omitempty"`
	Released bool   `json:"released,omitempty"`
	Error    string `json:"error,omitempty"`
}

// handleHolds claims or releases a slot soft-lock.
// POST /api/holds, DELETE /api/holds
func (s *HTTPServer) handleHolds(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleAcquireHold(w, r)
	case http.MethodDelete:
		s.handleReleaseHold(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use POST or DELETE")
	}
}

func (s *HTTPServer) handleAcquireHold(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("hold_acquire")

	req, date, ok := s.decodeHoldRequest(w, r)
	if !ok {
		return
	}
	if req.ServiceID <= 0 {
		writeError(w, http.StatusBadRequest, "service_id is required")
		return
	}

	_ = s.activity.Touch(r.Context(), req.HolderRef)

	acquired, err := s.holds.AcquireOrRefresh(r.Context(), req.ServiceID, req.ProviderID, date, req.StartTime, req.HolderRef)
	if err != nil {
		s.log.Error().Err(err).
			Int64("provider_id", req.ProviderID).
			Str("start_time", req.StartTime).
			Msg("hold acquire failed")
		writeJSON(w, http.StatusInternalServerError, HoldResponse{Error: "hold storage unavailable"})
		return
	}
	if !acquired {
		writeJSON(w, http.StatusConflict, HoldResponse{Acquired: false, Error: "slot held by another client"})
		return
	}
	writeJSON(w, http.StatusOK, HoldResponse{Acquired: true})
}

func (s *HTTPServer) handleReleaseHold(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("hold_release")

	req, date, ok := s.decodeHoldRequest(w, r)
	if !ok {
		return
	}

	if err := s.holds.Release(r.Context(), req.ProviderID, date, req.StartTime, req.HolderRef); err != nil {
		s.log.Error().Err(err).
			Int64("provider_id", req.ProviderID).
			Str("start_time", req.StartTime).
			Msg("hold release failed")
		writeJSON(w, http.StatusInternalServerError, HoldResponse{Error: "hold storage unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, HoldResponse{Released: true})
}

// handleHoldCheck reports whether another client holds the key.
// GET /api/holds/check?provider_id=&date=&start_time=&holder_ref=
func (s *HTTPServer) handleHoldCheck(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("hold_check")

	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use GET")
		return
	}

	q := r.URL.Query()
	providerID, err := parseID(q.Get("provider_id"), "provider_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	date, err := parseDate(q.Get("date"), "date")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	startTime := q.Get("start_time")
	if startTime == "" {
		writeError(w, http.StatusBadRequest, "start_time is required")
		return
	}

	held, err := s.holds.IsHeldByOther(r.Context(), providerID, date, startTime, q.Get("holder_ref"))
	if err != nil {
		// Fail closed: the caller treats the slot as taken.
		writeJSON(w, http.StatusOK, map[string]any{"held": true, "degraded": true})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"held": held})
}

func (s *HTTPServer) decodeHoldRequest(w http.ResponseWriter, r *http.Request) (HoldRequest, time.Time, bool) {
	var req HoldRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return req, time.Time{}, false
	}
	if req.ProviderID <= 0 {
		writeError(w, http.StatusBadRequest, "provider_id is required")
		return req, time.Time{}, false
	}
	if req.StartTime == "" {
		writeError(w, http.StatusBadRequest, "start_time is required")
		return req, time.Time{}, false
	}
	if req.HolderRef == "" {
		writeError(w, http.StatusBadRequest, "holder_ref is required")
		return req, time.Time{}, false
	}
	date, err := parseDate(req.Date, "date")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return req, time.Time{}, false
	}
	return req, date, true
}
