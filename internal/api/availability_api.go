package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"glowdesk/internal/availability"
	"glowdesk/internal/metrics"
)

// AvailabilityRequest is the request body for POST /api/availability.
type AvailabilityRequest struct {
	ServiceID   int64  `json:"service_id"`
	ProviderID  *int64 `json:"provider_id,omitempty"` // optional: narrow to one master
	DateFrom    string `json:"date_from"`             // Format: YYYY-MM-DD
	DaysAhead   int    `json:"days_ahead"`
	Granularity int    `json:"granularity_minutes,omitempty"`
	Limit       int    `json:"limit,omitempty"`
	ClientRef   string `json:"client_ref,omitempty"`
}

// SlotResponse is one offerable slot in the response.
type SlotResponse struct {
	ProviderID int64  `json:"provider_id"`
	Date       string `json:"date"`
	Start      string `json:"start"`
	End        string `json:"end"`
}

// AvailabilityResponse is the response for POST /api/availability.
type AvailabilityResponse struct {
	Slots  []SlotResponse `json:"slots"`
	Period struct {
		Start string `json:"start"`
		Days  int    `json:"days"`
	} `json:"period"`
}

// handleAvailability resolves offerable slots for a service.
// POST /api/availability
func (s *HTTPServer) handleAvailability(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("availability")

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use POST")
		return
	}

	var req AvailabilityRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.ServiceID <= 0 {
		writeError(w, http.StatusBadRequest, "service_id is required")
		return
	}
	dateFrom, err := parseDate(req.DateFrom, "date_from")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.ClientRef != "" {
		_ = s.activity.Touch(r.Context(), req.ClientRef)
	}

	slots, err := s.availability.FindSlots(r.Context(), availability.Request{
		ServiceID:   req.ServiceID,
		ProviderID:  req.ProviderID,
		DateFrom:    dateFrom,
		DaysAhead:   req.DaysAhead,
		Granularity: time.Duration(req.Granularity) * time.Minute,
		Limit:       req.Limit,
	})
	if err != nil {
		switch {
		case errors.Is(err, availability.ErrInvalidDateRange),
			errors.Is(err, availability.ErrInvalidServiceDuration):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			s.log.Error().Err(err).Int64("service_id", req.ServiceID).Msg("slot resolution failed")
			writeError(w, http.StatusInternalServerError, "slot resolution failed")
		}
		return
	}

	metrics.ObserveSlotsReturned(len(slots))

	resp := AvailabilityResponse{Slots: make([]SlotResponse, 0, len(slots))}
	for _, slot := range slots {
		resp.Slots = append(resp.Slots, SlotResponse{
			ProviderID: slot.ProviderID,
			Date:       slot.Date.Format("2006-01-02"),
			Start:      slot.Start.Format("15:04"),
			End:        slot.End.Format("15:04"),
		})
	}
	resp.Period.Start = req.DateFrom
	resp.Period.Days = req.DaysAhead

	writeJSON(w, http.StatusOK, resp)
}
