package models

import (
	"strconv"
	"strings"
	"time"
)

// Service represents a bookable salon service.
type Service struct {
	ID              int64     `json:"id"`
	Name            string    `json:"name"`
	DurationMinutes int       `json:"duration_minutes"`
	IsActive        bool      `json:"is_active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Duration returns the service duration as a time.Duration.
func (s *Service) Duration() time.Duration {
	return time.Duration(s.DurationMinutes) * time.Minute
}

// ProviderSchedule is the recurring weekly working interval for a provider.
// At most one active row exists per (provider, weekday).
type ProviderSchedule struct {
	ID         int64     `json:"id"`
	ProviderID int64     `json:"provider_id"`
	Weekday    int       `json:"weekday"`    // 0 = Sunday .. 6 = Saturday
	StartTime  string    `json:"start_time"` // "10:00"
	EndTime    string    `json:"end_time"`   // "18:00"
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TimeOff is a one-off unavailability window overriding the weekly schedule.
// Overlapping rows are honored as a union of unavailability.
type TimeOff struct {
	ID         int64     `json:"id"`
	ProviderID int64     `json:"provider_id"`
	DateFrom   time.Time `json:"date_from"`
	DateTo     time.Time `json:"date_to"`
	Reason     string    `json:"reason"`
	Type       string    `json:"type"` // vacation, sick, training, other
	CreatedAt  time.Time `json:"created_at"`
}

// Covers reports whether the time-off window intersects [start, end).
func (t *TimeOff) Covers(start, end time.Time) bool {
	return t.DateFrom.Before(end) && start.Before(t.DateTo)
}

// SalonHoliday is a salon-wide closure keyed uniquely by date.
// Providers listed in MasterExceptions keep working despite the closure.
type SalonHoliday struct {
	ID               int64     `json:"id"`
	Date             time.Time `json:"date"`
	Name             string    `json:"name"`
	IsClosed         bool      `json:"is_closed"`
	MasterExceptions []int64   `json:"master_exceptions,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// AppliesTo reports whether the holiday closes the salon for the given provider.
func (h *SalonHoliday) AppliesTo(providerID int64) bool {
	if !h.IsClosed {
		return false
	}
	for _, id := range h.MasterExceptions {
		if id == providerID {
			return false
		}
	}
	return true
}

// ServiceEligibility maps a provider to a service it may perform.
// A provider without a row is ineligible regardless of schedule.
type ServiceEligibility struct {
	ID                     int64     `json:"id"`
	ProviderID             int64     `json:"provider_id"`
	ServiceID              int64     `json:"service_id"`
	IsOnlineBookingEnabled bool      `json:"is_online_booking_enabled"`
	CreatedAt              time.Time `json:"created_at"`
}

// Booking statuses. Only pending and confirmed bookings block slots.
const (
	BookingStatusPending   = "pending"
	BookingStatusConfirmed = "confirmed"
	BookingStatusCompleted = "completed"
	BookingStatusCancelled = "cancelled"
)

// Booking represents a confirmed or in-flight appointment.
type Booking struct {
	ID              int64     `json:"id"`
	ProviderID      int64     `json:"provider_id"`
	ServiceID       int64     `json:"service_id"`
	ServiceName     string    `json:"service_name"`
	Date            time.Time `json:"date"`       // midnight of the booking day, salon tz
	StartTime       string    `json:"start_time"` // "14:00"
	DurationMinutes int       `json:"duration_minutes"`
	Status          string    `json:"status"`
	ClientRef       string    `json:"client_ref"`
	ClientChatID    int64     `json:"client_chat_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// IsActiveStatus reports whether the booking blocks its slot.
func (b *Booking) IsActiveStatus() bool {
	return b.Status == BookingStatusPending || b.Status == BookingStatusConfirmed
}

// StartAt returns the booking start as an absolute time in loc.
func (b *Booking) StartAt(loc *time.Location) time.Time {
	h, m := parseClock(b.StartTime)
	return time.Date(b.Date.Year(), b.Date.Month(), b.Date.Day(), h, m, 0, 0, loc)
}

// EndAt returns the booking end as an absolute time in loc.
func (b *Booking) EndAt(loc *time.Location) time.Time {
	return b.StartAt(loc).Add(time.Duration(b.DurationMinutes) * time.Minute)
}

// OverlapsInterval reports whether the booking occupies any part of [start, end).
func (b *Booking) OverlapsInterval(start, end time.Time) bool {
	bs := b.StartAt(start.Location())
	be := b.EndAt(start.Location())
	return bs.Before(end) && start.Before(be)
}

// BookingHold is a short-lived soft-lock on a (provider, date, start) key.
// At most one live hold exists per key; expired holds are treated as absent.
type BookingHold struct {
	ID         int64     `json:"id"`
	ServiceID  int64     `json:"service_id"`
	ProviderID int64     `json:"provider_id"`
	Date       time.Time `json:"date"`
	StartTime  string    `json:"start_time"`
	HolderRef  string    `json:"holder_ref"`
	ExpiresAt  time.Time `json:"expires_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// IsExpired reports whether the hold is dead at the given instant.
func (h *BookingHold) IsExpired(now time.Time) bool {
	return !h.ExpiresAt.After(now)
}

// ReminderRule is a configured offset before a booking start at which a
// reminder should fire.
type ReminderRule struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	DaysBefore  int       `json:"days_before"`
	HoursBefore int       `json:"hours_before"`
	IsEnabled   bool      `json:"is_enabled"`
	Channel     string    `json:"channel"`
	CreatedAt   time.Time `json:"created_at"`
}

// Offset returns the rule offset as a duration before booking start.
func (r *ReminderRule) Offset() time.Duration {
	return time.Duration(r.DaysBefore)*24*time.Hour + time.Duration(r.HoursBefore)*time.Hour
}

// FireAt returns the instant the rule should fire for a booking start.
func (r *ReminderRule) FireAt(bookingStart time.Time) time.Time {
	return bookingStart.Add(-r.Offset())
}

// Reminder guard statuses.
const (
	ReminderSentStatusSending = "sending"
	ReminderSentStatusSent    = "sent"
)

// ReminderSent is the durable guard row proving a rule already fired for a
// booking. Unique on (booking_id, rule_id).
type ReminderSent struct {
	ID        int64     `json:"id"`
	BookingID int64     `json:"booking_id"`
	RuleID    int64     `json:"rule_id"`
	SentAt    time.Time `json:"sent_at"`
	Status    string    `json:"status"`
}

// ChatSession is an in-progress conversational booking session. Abandoned
// sessions receive at most one recovery message.
type ChatSession struct {
	ID             int64     `json:"id"`
	ClientRef      string    `json:"client_ref"`
	ChatID         int64     `json:"chat_id"`
	Step           string    `json:"step"`
	LastActivityAt time.Time `json:"last_activity_at"`
	RecoverySent   bool      `json:"recovery_sent"`
	CreatedAt      time.Time `json:"created_at"`
}

// Client is a salon customer as seen by the retention sweep.
type Client struct {
	ID                   int64      `json:"id"`
	Ref                  string     `json:"ref"`
	ChatID               int64      `json:"chat_id,omitempty"`
	LastCompletedAt      *time.Time `json:"last_completed_at,omitempty"`
	LastRetentionSentAt  *time.Time `json:"last_retention_sent_at,omitempty"`
	HasUpcomingBooking   bool       `json:"has_upcoming_booking"`
	CreatedAt            time.Time  `json:"created_at"`
}

func parseClock(s string) (hour, minute int) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0
	}
	hour, _ = strconv.Atoi(parts[0])
	minute, _ = strconv.Atoi(parts[1])
	return hour, minute
}
