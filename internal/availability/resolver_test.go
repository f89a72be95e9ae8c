package availability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"glowdesk/internal/models"
)

// mockStore is an in-memory Store for resolver tests.
type mockStore struct {
	services  map[int64]*models.Service
	eligible  map[int64][]int64 // serviceID -> provider ids
	schedules map[int64]map[int]*models.ProviderSchedule
	holidays  map[string]*models.SalonHoliday // yyyy-mm-dd
	timeOff   map[int64][]models.TimeOff
	bookings  map[int64][]models.Booking
	holds     map[int64][]models.BookingHold
	failWith  error
}

func newMockStore() *mockStore {
	return &mockStore{
		services:  make(map[int64]*models.Service),
		eligible:  make(map[int64][]int64),
		schedules: make(map[int64]map[int]*models.ProviderSchedule),
		holidays:  make(map[string]*models.SalonHoliday),
		timeOff:   make(map[int64][]models.TimeOff),
		bookings:  make(map[int64][]models.Booking),
		holds:     make(map[int64][]models.BookingHold),
	}
}

func (m *mockStore) GetService(ctx context.Context, id int64) (*models.Service, error) {
	if m.failWith != nil {
		return nil, m.failWith
	}
	s, ok := m.services[id]
	if !ok {
		return nil, errors.New("service not found")
	}
	return s, nil
}

func (m *mockStore) EligibleProviders(ctx context.Context, serviceID int64, filter *int64) ([]int64, error) {
	var out []int64
	for _, id := range m.eligible[serviceID] {
		if filter != nil && id != *filter {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

func (m *mockStore) GetScheduleByDay(ctx context.Context, providerID int64, weekday int) (*models.ProviderSchedule, error) {
	byDay, ok := m.schedules[providerID]
	if !ok {
		return nil, nil
	}
	return byDay[weekday], nil
}

func (m *mockStore) GetHoliday(ctx context.Context, date time.Time) (*models.SalonHoliday, error) {
	return m.holidays[date.Format("2006-01-02")], nil
}

func (m *mockStore) ListTimeOff(ctx context.Context, providerID int64, from, to time.Time) ([]models.TimeOff, error) {
	var out []models.TimeOff
	for _, t := range m.timeOff[providerID] {
		if t.Covers(from, to) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *mockStore) GetActiveBookingsOnDate(ctx context.Context, providerID int64, date time.Time) ([]models.Booking, error) {
	var out []models.Booking
	for _, b := range m.bookings[providerID] {
		if b.Date.Format("2006-01-02") == date.Format("2006-01-02") && b.IsActiveStatus() {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *mockStore) GetLiveHoldsOnDate(ctx context.Context, providerID int64, date time.Time, now time.Time) ([]models.BookingHold, error) {
	var out []models.BookingHold
	for _, h := range m.holds[providerID] {
		if h.Date.Format("2006-01-02") == date.Format("2006-01-02") && !h.IsExpired(now) {
			out = append(out, h)
		}
	}
	return out, nil
}

// nextMonday returns a Monday at least a week in the future, so past-slot
// suppression never interferes with day-wide expectations.
func nextMonday() time.Time {
	d := time.Now().AddDate(0, 0, 8)
	for d.Weekday() != time.Monday {
		d = d.AddDate(0, 0, 1)
	}
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
}

func setupResolver(t *testing.T) (*Resolver, *mockStore, time.Time) {
	t.Helper()
	store := newMockStore()
	store.services[1] = &models.Service{ID: 1, Name: "Haircut", DurationMinutes: 60, IsActive: true}
	store.eligible[1] = []int64{10}

	monday := nextMonday()
	store.schedules[10] = map[int]*models.ProviderSchedule{
		int(time.Monday): {ProviderID: 10, Weekday: int(time.Monday), StartTime: "10:00", EndTime: "18:00", IsActive: true},
	}

	return NewResolver(store, time.UTC), store, monday
}

func TestFindSlotsFullDay(t *testing.T) {
	resolver, _, monday := setupResolver(t)

	slots, err := resolver.FindSlots(context.Background(), Request{
		ServiceID:   1,
		DateFrom:    monday,
		Granularity: 30 * time.Minute,
	})
	require.NoError(t, err)

	// 10:00 through 17:00 inclusive at 30-minute steps; a 60-minute service
	// cannot start later than 17:00.
	require.Len(t, slots, 15)
	assert.Equal(t, "10:00", slots[0].Start.Format("15:04"))
	assert.Equal(t, "11:00", slots[0].End.Format("15:04"))
	assert.Equal(t, "17:00", slots[len(slots)-1].Start.Format("15:04"))
	for _, s := range slots {
		assert.False(t, s.Start.Format("15:04") > "17:00", "slot %s starts too late", s.Start)
		assert.Equal(t, int64(10), s.ProviderID)
	}
}

func TestFindSlotsAroundBooking(t *testing.T) {
	resolver, store, monday := setupResolver(t)

	store.bookings[10] = []models.Booking{
		{ProviderID: 10, ServiceID: 1, Date: monday, StartTime: "12:00", DurationMinutes: 60, Status: models.BookingStatusConfirmed},
	}

	slots, err := resolver.FindSlots(context.Background(), Request{
		ServiceID:   1,
		DateFrom:    monday,
		Granularity: 30 * time.Minute,
	})
	require.NoError(t, err)

	starts := make(map[string]bool)
	for _, s := range slots {
		starts[s.Start.Format("15:04")] = true
	}

	// 11:00 is the last start before the gap, 13:00 the first after.
	assert.True(t, starts["11:00"])
	assert.False(t, starts["11:30"], "11:30 start would run into the booking")
	assert.False(t, starts["12:00"])
	assert.False(t, starts["12:30"])
	assert.True(t, starts["13:00"])

	for _, s := range slots {
		assert.False(t, s.Start.Before(monday.Add(13*time.Hour)) && s.End.After(monday.Add(12*time.Hour)),
			"slot %s-%s overlaps the booking", s.Start.Format("15:04"), s.End.Format("15:04"))
	}
}

func TestFindSlotsHolidayClosure(t *testing.T) {
	resolver, store, monday := setupResolver(t)

	store.holidays[monday.Format("2006-01-02")] = &models.SalonHoliday{
		Date: monday, Name: "Renovation day", IsClosed: true,
	}

	slots, err := resolver.FindSlots(context.Background(), Request{ServiceID: 1, DateFrom: monday})
	require.NoError(t, err)
	assert.Empty(t, slots)

	// A master exception keeps working through the closure.
	store.holidays[monday.Format("2006-01-02")].MasterExceptions = []int64{10}
	slots, err = resolver.FindSlots(context.Background(), Request{ServiceID: 1, DateFrom: monday})
	require.NoError(t, err)
	assert.NotEmpty(t, slots)
}

func TestFindSlotsTimeOffRoundTrip(t *testing.T) {
	resolver, store, monday := setupResolver(t)

	req := Request{ServiceID: 1, DateFrom: monday, Granularity: 30 * time.Minute}

	before, err := resolver.FindSlots(context.Background(), req)
	require.NoError(t, err)
	require.NotEmpty(t, before)

	// A window covering the whole day removes every slot.
	store.timeOff[10] = []models.TimeOff{{
		ProviderID: 10,
		DateFrom:   monday,
		DateTo:     monday.AddDate(0, 0, 1),
		Type:       "vacation",
	}}
	during, err := resolver.FindSlots(context.Background(), req)
	require.NoError(t, err)
	assert.Empty(t, during)

	// Removing the window restores the exact same slots.
	store.timeOff[10] = nil
	after, err := resolver.FindSlots(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestFindSlotsPartialTimeOff(t *testing.T) {
	resolver, store, monday := setupResolver(t)

	// Time off 10:00-14:00 carves out only its span.
	store.timeOff[10] = []models.TimeOff{{
		ProviderID: 10,
		DateFrom:   monday.Add(10 * time.Hour),
		DateTo:     monday.Add(14 * time.Hour),
		Type:       "training",
	}}

	slots, err := resolver.FindSlots(context.Background(), Request{
		ServiceID: 1, DateFrom: monday, Granularity: 30 * time.Minute,
	})
	require.NoError(t, err)
	require.NotEmpty(t, slots)
	assert.Equal(t, "14:00", slots[0].Start.Format("15:04"))
}

func TestFindSlotsOverlappingTimeOffUnion(t *testing.T) {
	resolver, store, monday := setupResolver(t)

	// Overlapping windows 10-13 and 12-15 block 10-15 as a union.
	store.timeOff[10] = []models.TimeOff{
		{ProviderID: 10, DateFrom: monday.Add(10 * time.Hour), DateTo: monday.Add(13 * time.Hour)},
		{ProviderID: 10, DateFrom: monday.Add(12 * time.Hour), DateTo: monday.Add(15 * time.Hour)},
	}

	slots, err := resolver.FindSlots(context.Background(), Request{
		ServiceID: 1, DateFrom: monday, Granularity: 30 * time.Minute,
	})
	require.NoError(t, err)
	require.NotEmpty(t, slots)
	assert.Equal(t, "15:00", slots[0].Start.Format("15:04"))
}

func TestFindSlotsLiveHoldBlocks(t *testing.T) {
	resolver, store, monday := setupResolver(t)

	store.holds[10] = []models.BookingHold{{
		ProviderID: 10, ServiceID: 1, Date: monday, StartTime: "14:00",
		HolderRef: "client-a", ExpiresAt: time.Now().Add(10 * time.Minute),
	}}

	slots, err := resolver.FindSlots(context.Background(), Request{
		ServiceID: 1, DateFrom: monday, Granularity: 30 * time.Minute,
	})
	require.NoError(t, err)

	for _, s := range slots {
		assert.NotEqual(t, "14:00", s.Start.Format("15:04"), "held slot must not be offered")
		assert.NotEqual(t, "14:30", s.Start.Format("15:04"), "start inside held span must not be offered")
	}

	// An expired hold no longer blocks anything.
	store.holds[10][0].ExpiresAt = time.Now().Add(-time.Minute)
	slots, err = resolver.FindSlots(context.Background(), Request{
		ServiceID: 1, DateFrom: monday, Granularity: 30 * time.Minute,
	})
	require.NoError(t, err)
	starts := make(map[string]bool)
	for _, s := range slots {
		starts[s.Start.Format("15:04")] = true
	}
	assert.True(t, starts["14:00"])
}

func TestFindSlotsZeroDuration(t *testing.T) {
	resolver, store, monday := setupResolver(t)
	store.services[2] = &models.Service{ID: 2, Name: "Consultation", DurationMinutes: 0}
	store.eligible[2] = []int64{10}

	_, err := resolver.FindSlots(context.Background(), Request{ServiceID: 2, DateFrom: monday})
	assert.ErrorIs(t, err, ErrInvalidServiceDuration)
}

func TestFindSlotsNoEligibleProviders(t *testing.T) {
	resolver, store, monday := setupResolver(t)
	store.services[3] = &models.Service{ID: 3, Name: "Phone-only thing", DurationMinutes: 30}

	slots, err := resolver.FindSlots(context.Background(), Request{ServiceID: 3, DateFrom: monday})
	require.NoError(t, err)
	assert.NotNil(t, slots)
	assert.Empty(t, slots)
}

func TestFindSlotsDateRangeValidation(t *testing.T) {
	resolver, _, monday := setupResolver(t)

	_, err := resolver.FindSlots(context.Background(), Request{ServiceID: 1, DateFrom: monday, DaysAhead: MaxDaysAhead + 1})
	assert.ErrorIs(t, err, ErrInvalidDateRange)

	_, err = resolver.FindSlots(context.Background(), Request{ServiceID: 1, DateFrom: monday, DaysAhead: -1})
	assert.ErrorIs(t, err, ErrInvalidDateRange)
}

func TestFindSlotsDeterministicOrder(t *testing.T) {
	resolver, store, monday := setupResolver(t)
	store.eligible[1] = []int64{10, 11}
	store.schedules[11] = map[int]*models.ProviderSchedule{
		int(time.Monday): {ProviderID: 11, Weekday: int(time.Monday), StartTime: "10:00", EndTime: "18:00", IsActive: true},
	}

	slots, err := resolver.FindSlots(context.Background(), Request{
		ServiceID: 1, DateFrom: monday, Granularity: 30 * time.Minute,
	})
	require.NoError(t, err)
	require.NotEmpty(t, slots)

	for i := 1; i < len(slots); i++ {
		prev, cur := slots[i-1], slots[i]
		ok := prev.Start.Before(cur.Start) || (prev.Start.Equal(cur.Start) && prev.ProviderID < cur.ProviderID)
		assert.True(t, ok, "slots out of order at %d", i)
	}
}

func TestSubtract(t *testing.T) {
	base := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	at := func(h int) time.Time { return base.Add(time.Duration(h) * time.Hour) }

	free := []Interval{{Start: at(10), End: at(18)}}

	mid := Subtract(free, Interval{Start: at(12), End: at(13)})
	require.Len(t, mid, 2)
	assert.Equal(t, at(10), mid[0].Start)
	assert.Equal(t, at(12), mid[0].End)
	assert.Equal(t, at(13), mid[1].Start)
	assert.Equal(t, at(18), mid[1].End)

	head := Subtract(free, Interval{Start: at(9), End: at(11)})
	require.Len(t, head, 1)
	assert.Equal(t, at(11), head[0].Start)

	all := Subtract(free, Interval{Start: at(9), End: at(19)})
	assert.Empty(t, all)

	none := Subtract(free, Interval{Start: at(18), End: at(19)})
	require.Len(t, none, 1)
	assert.Equal(t, free[0], none[0])
}
