package availability

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"glowdesk/internal/models"
)

const (
	// MaxDaysAhead caps the availability scan window.
	MaxDaysAhead = 90

	// DefaultGranularity is the slot walking step when the caller does not
	// supply one.
	DefaultGranularity = 30 * time.Minute

	// DefaultLimit bounds the result set when the caller does not supply one.
	DefaultLimit = 200
)

var (
	ErrInvalidServiceDuration = errors.New("service has no usable duration")
	ErrInvalidDateRange       = errors.New("invalid date range")
)

// Store is the read-only persistence view the resolver consumes.
type Store interface {
	GetService(ctx context.Context, id int64) (*models.Service, error)
	EligibleProviders(ctx context.Context, serviceID int64, providerFilter *int64) ([]int64, error)
	GetScheduleByDay(ctx context.Context, providerID int64, weekday int) (*models.ProviderSchedule, error)
	GetHoliday(ctx context.Context, date time.Time) (*models.SalonHoliday, error)
	ListTimeOff(ctx context.Context, providerID int64, from, to time.Time) ([]models.TimeOff, error)
	GetActiveBookingsOnDate(ctx context.Context, providerID int64, date time.Time) ([]models.Booking, error)
	GetLiveHoldsOnDate(ctx context.Context, providerID int64, date time.Time, now time.Time) ([]models.BookingHold, error)
}

// Request describes one availability query.
type Request struct {
	ServiceID   int64
	ProviderID  *int64 // optional narrowing
	DateFrom    time.Time
	DaysAhead   int
	Granularity time.Duration
	Limit       int
}

// Slot is one offerable (provider, date, start, end) interval.
type Slot struct {
	ProviderID int64     `json:"provider_id"`
	Date       time.Time `json:"date"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
}

// Resolver computes offerable slots from schedules, time-off, holidays,
// bookings and live holds.
type Resolver struct {
	store    Store
	location *time.Location
	now      func() time.Time
}

// NewResolver creates a resolver operating in the salon timezone.
func NewResolver(store Store, location *time.Location) *Resolver {
	if location == nil {
		location = time.Local
	}
	return &Resolver{store: store, location: location, now: time.Now}
}

// FindSlots returns offerable slots ordered by (date, start, provider) and
// truncated to the request limit. An empty result is a legitimate business
// state, not an error.
func (r *Resolver) FindSlots(ctx context.Context, req Request) ([]Slot, error) {
	if req.DaysAhead < 0 || req.DaysAhead > MaxDaysAhead {
		return nil, fmt.Errorf("%w: days ahead must be in [0, %d]", ErrInvalidDateRange, MaxDaysAhead)
	}
	if req.Granularity <= 0 {
		req.Granularity = DefaultGranularity
	}
	if req.Limit <= 0 {
		req.Limit = DefaultLimit
	}

	service, err := r.store.GetService(ctx, req.ServiceID)
	if err != nil {
		return nil, fmt.Errorf("load service: %w", err)
	}
	if service.DurationMinutes <= 0 {
		return nil, ErrInvalidServiceDuration
	}

	providers, err := r.store.EligibleProviders(ctx, req.ServiceID, req.ProviderID)
	if err != nil {
		return nil, fmt.Errorf("load eligibility: %w", err)
	}
	if len(providers) == 0 {
		return []Slot{}, nil
	}

	now := r.now().In(r.location)
	duration := service.Duration()

	var slots []Slot
	for _, providerID := range providers {
		for offset := 0; offset <= req.DaysAhead; offset++ {
			date := req.DateFrom.AddDate(0, 0, offset)
			daySlots, err := r.slotsForDay(ctx, providerID, date, duration, req.Granularity, now)
			if err != nil {
				return nil, err
			}
			slots = append(slots, daySlots...)
		}
	}

	sort.Slice(slots, func(i, j int) bool {
		if !slots[i].Start.Equal(slots[j].Start) {
			return slots[i].Start.Before(slots[j].Start)
		}
		return slots[i].ProviderID < slots[j].ProviderID
	})

	if len(slots) > req.Limit {
		slots = slots[:req.Limit]
	}
	if slots == nil {
		slots = []Slot{}
	}
	return slots, nil
}

func (r *Resolver) slotsForDay(ctx context.Context, providerID int64, date time.Time, duration, granularity time.Duration, now time.Time) ([]Slot, error) {
	holiday, err := r.store.GetHoliday(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("load holiday: %w", err)
	}
	if holiday != nil && holiday.AppliesTo(providerID) {
		return nil, nil
	}

	sched, err := r.store.GetScheduleByDay(ctx, providerID, int(date.Weekday()))
	if err != nil {
		return nil, fmt.Errorf("load schedule: %w", err)
	}
	if sched == nil {
		return nil, nil
	}

	dayStart, err := parseTimeOnDate(date, sched.StartTime, r.location)
	if err != nil {
		return nil, fmt.Errorf("parse schedule start: %w", err)
	}
	dayEnd, err := parseTimeOnDate(date, sched.EndTime, r.location)
	if err != nil {
		return nil, fmt.Errorf("parse schedule end: %w", err)
	}
	if !dayStart.Before(dayEnd) {
		return nil, nil
	}

	free := []Interval{{Start: dayStart, End: dayEnd}}

	// Union of time-off windows; each overlapping window is subtracted in
	// full, partial-day windows only carve out their span.
	offs, err := r.store.ListTimeOff(ctx, providerID, dayStart, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("load time off: %w", err)
	}
	for _, off := range offs {
		free = Subtract(free, Interval{Start: off.DateFrom.In(r.location), End: off.DateTo.In(r.location)})
	}

	bookings, err := r.store.GetActiveBookingsOnDate(ctx, providerID, date)
	if err != nil {
		return nil, fmt.Errorf("load bookings: %w", err)
	}
	for i := range bookings {
		b := &bookings[i]
		free = Subtract(free, Interval{Start: b.StartAt(r.location), End: b.EndAt(r.location)})
	}

	// Live holds reserve capacity before a booking row exists. The blocked
	// span is the queried service duration, at least one granularity step.
	holds, err := r.store.GetLiveHoldsOnDate(ctx, providerID, date, now)
	if err != nil {
		return nil, fmt.Errorf("load holds: %w", err)
	}
	for i := range holds {
		h := &holds[i]
		start, err := parseTimeOnDate(date, h.StartTime, r.location)
		if err != nil {
			continue
		}
		length := duration
		if length < granularity {
			length = granularity
		}
		free = Subtract(free, Interval{Start: start, End: start.Add(length)})
	}

	var slots []Slot
	for _, iv := range free {
		for cursor := iv.Start; !cursor.Add(duration).After(iv.End); cursor = cursor.Add(granularity) {
			// Never offer a start already in the past.
			if cursor.Before(now) {
				continue
			}
			slots = append(slots, Slot{
				ProviderID: providerID,
				Date:       date,
				Start:      cursor,
				End:        cursor.Add(duration),
			})
		}
	}
	return slots, nil
}

func parseTimeOnDate(date time.Time, timeStr string, loc *time.Location) (time.Time, error) {
	parts := strings.Split(timeStr, ":")
	if len(parts) < 2 {
		return time.Time{}, fmt.Errorf("invalid time format: %s", timeStr)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid hour: %w", err)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid minute: %w", err)
	}
	return time.Date(date.Year(), date.Month(), date.Day(), hour, minute, 0, 0, loc), nil
}
