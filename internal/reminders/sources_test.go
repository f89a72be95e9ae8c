package reminders

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"glowdesk/internal/models"
)

// ---- upcoming ----

type mockUpcomingStore struct {
	mu       sync.Mutex
	rules    []models.ReminderRule
	bookings []models.Booking
	guards   map[string]string
}

func newMockUpcomingStore() *mockUpcomingStore {
	return &mockUpcomingStore{guards: make(map[string]string)}
}

func reminderKey(bookingID, ruleID int64) string {
	return fmt.Sprintf("%d/%d", bookingID, ruleID)
}

func (m *mockUpcomingStore) ListEnabledReminderRules(ctx context.Context) ([]models.ReminderRule, error) {
	return m.rules, nil
}

func (m *mockUpcomingStore) ListActiveBookingsBetweenDates(ctx context.Context, from, to time.Time) ([]models.Booking, error) {
	var out []models.Booking
	for _, b := range m.bookings {
		if !b.IsActiveStatus() {
			continue
		}
		if b.Date.Before(from) || b.Date.After(to) {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

func (m *mockUpcomingStore) ClaimReminder(ctx context.Context, bookingID, ruleID int64, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := reminderKey(bookingID, ruleID)
	if _, ok := m.guards[k]; ok {
		return false, nil
	}
	m.guards[k] = models.ReminderSentStatusSending
	return true, nil
}

func (m *mockUpcomingStore) ConfirmReminder(ctx context.Context, bookingID, ruleID int64, sentAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.guards[reminderKey(bookingID, ruleID)] = models.ReminderSentStatusSent
	return nil
}

func (m *mockUpcomingStore) UnclaimReminder(ctx context.Context, bookingID, ruleID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := reminderKey(bookingID, ruleID)
	if m.guards[k] == models.ReminderSentStatusSending {
		delete(m.guards, k)
	}
	return nil
}

func TestUpcomingWindowMatching(t *testing.T) {
	store := newMockUpcomingStore()
	store.rules = []models.ReminderRule{
		{ID: 1, Name: "1 day before", DaysBefore: 1, IsEnabled: true, Channel: "telegram"},
	}
	store.bookings = []models.Booking{{
		ID:           10,
		ProviderID:   1,
		ServiceID:    1,
		ServiceName:  "Маникюр",
		Date:         time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC),
		StartTime:    "14:00",
		Status:       models.BookingStatusConfirmed,
		ClientChatID: 777,
	}}
	src := NewUpcomingSource(store, time.UTC, 15*time.Minute)
	ctx := context.Background()

	// 14:05 the day before: inside the ±15 min window around the fire
	// instant.
	now := time.Date(2025, 6, 9, 14, 5, 0, 0, time.UTC)
	due, err := src.Collect(ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, int64(10), due[0].SubjectID)
	assert.Equal(t, int64(1), due[0].RuleID)
	assert.Equal(t, "777", due[0].Recipient)

	claimed, err := src.Claim(ctx, due[0], now)
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, src.Confirm(ctx, due[0], now))

	// 14:20: past the window, and the guard exists anyway.
	later := time.Date(2025, 6, 9, 14, 20, 0, 0, time.UTC)
	due, err = src.Collect(ctx, later)
	require.NoError(t, err)
	assert.Empty(t, due)

	// A sweep still inside the window cannot double-send: the guard wins.
	inWindow := time.Date(2025, 6, 9, 14, 10, 0, 0, time.UTC)
	due, err = src.Collect(ctx, inWindow)
	require.NoError(t, err)
	require.Len(t, due, 1)
	claimed, err = src.Claim(ctx, due[0], inWindow)
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestUpcomingBeforeWindow(t *testing.T) {
	store := newMockUpcomingStore()
	store.rules = []models.ReminderRule{
		{ID: 1, Name: "2 hours before", HoursBefore: 2, IsEnabled: true, Channel: "telegram"},
	}
	store.bookings = []models.Booking{{
		ID:           11,
		Date:         time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC),
		StartTime:    "18:00",
		Status:       models.BookingStatusPending,
		ClientChatID: 778,
	}}
	src := NewUpcomingSource(store, time.UTC, 15*time.Minute)

	// Fire instant is 16:00; 15:00 is too early, 16:10 is due.
	due, err := src.Collect(context.Background(), time.Date(2025, 6, 10, 15, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = src.Collect(context.Background(), time.Date(2025, 6, 10, 16, 10, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Len(t, due, 1)
}

func TestUpcomingMultipleRulesIndependent(t *testing.T) {
	store := newMockUpcomingStore()
	store.rules = []models.ReminderRule{
		{ID: 1, Name: "1 day before", DaysBefore: 1, IsEnabled: true, Channel: "telegram"},
		{ID: 2, Name: "2 hours before", HoursBefore: 2, IsEnabled: true, Channel: "telegram"},
	}
	store.bookings = []models.Booking{{
		ID:           12,
		Date:         time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC),
		StartTime:    "14:00",
		Status:       models.BookingStatusConfirmed,
		ClientChatID: 779,
	}}
	src := NewUpcomingSource(store, time.UTC, 15*time.Minute)

	// Only the day-before rule fires the day before.
	due, err := src.Collect(context.Background(), time.Date(2025, 6, 9, 14, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, int64(1), due[0].RuleID)

	// Only the two-hour rule fires on the day.
	due, err = src.Collect(context.Background(), time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, int64(2), due[0].RuleID)
}

func TestUpcomingSkipsBookingsWithoutChat(t *testing.T) {
	store := newMockUpcomingStore()
	store.rules = []models.ReminderRule{
		{ID: 1, Name: "1 day before", DaysBefore: 1, IsEnabled: true, Channel: "telegram"},
	}
	store.bookings = []models.Booking{{
		ID:        13,
		Date:      time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC),
		StartTime: "14:00",
		Status:    models.BookingStatusConfirmed,
	}}
	src := NewUpcomingSource(store, time.UTC, 15*time.Minute)

	due, err := src.Collect(context.Background(), time.Date(2025, 6, 9, 14, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Empty(t, due)
}

// ---- recovery ----

type mockRecoveryStore struct {
	mu       sync.Mutex
	sessions []models.ChatSession
}

func (m *mockRecoveryStore) ListAbandonedSessions(ctx context.Context, from, to time.Time) ([]models.ChatSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ChatSession
	for _, s := range m.sessions {
		if s.RecoverySent || s.Step == "" {
			continue
		}
		if s.LastActivityAt.Before(from) || !s.LastActivityAt.Before(to) {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (m *mockRecoveryStore) ClaimSessionRecovery(ctx context.Context, sessionID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.sessions {
		if m.sessions[i].ID == sessionID && !m.sessions[i].RecoverySent {
			m.sessions[i].RecoverySent = true
			return true, nil
		}
	}
	return false, nil
}

func (m *mockRecoveryStore) UnclaimSessionRecovery(ctx context.Context, sessionID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.sessions {
		if m.sessions[i].ID == sessionID {
			m.sessions[i].RecoverySent = false
		}
	}
	return nil
}

func TestRecoveryTrailingWindow(t *testing.T) {
	now := time.Date(2025, 6, 9, 15, 0, 0, 0, time.UTC)
	store := &mockRecoveryStore{sessions: []models.ChatSession{
		{ID: 1, ChatID: 100, Step: "pick_time", LastActivityAt: now.Add(-45 * time.Minute)},
		{ID: 2, ChatID: 101, Step: "pick_time", LastActivityAt: now.Add(-10 * time.Minute)},  // too recent
		{ID: 3, ChatID: 102, Step: "pick_time", LastActivityAt: now.Add(-3 * time.Hour)},     // past the window floor
		{ID: 4, ChatID: 103, Step: "", LastActivityAt: now.Add(-45 * time.Minute)},           // nothing to recover
		{ID: 5, ChatID: 0, Step: "pick_time", LastActivityAt: now.Add(-45 * time.Minute)},    // no chat
	}}
	src := NewRecoverySource(store, 30*time.Minute)

	due, err := src.Collect(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, int64(1), due[0].SubjectID)
	assert.Equal(t, "100", due[0].Recipient)
}

func TestRecoveryAtMostOnce(t *testing.T) {
	now := time.Date(2025, 6, 9, 15, 0, 0, 0, time.UTC)
	store := &mockRecoveryStore{sessions: []models.ChatSession{
		{ID: 1, ChatID: 100, Step: "pick_time", LastActivityAt: now.Add(-45 * time.Minute)},
	}}
	src := NewRecoverySource(store, 30*time.Minute)
	ctx := context.Background()

	due, err := src.Collect(ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 1)

	claimed, err := src.Claim(ctx, due[0], now)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = src.Claim(ctx, due[0], now)
	require.NoError(t, err)
	assert.False(t, claimed, "flag is flipped, second claim must lose")

	// Claimed sessions drop out of the next collect.
	due, err = src.Collect(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, due)

	// A failed delivery re-opens the session.
	require.NoError(t, src.Unclaim(ctx, Candidate{SubjectID: 1}))
	due, err = src.Collect(ctx, now)
	require.NoError(t, err)
	assert.Len(t, due, 1)
}

// ---- retention ----

type mockRetentionStore struct {
	mu      sync.Mutex
	clients []models.Client
}

func (m *mockRetentionStore) ListDormantClients(ctx context.Context, from, to, remindedBefore, now time.Time) ([]models.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Client
	for _, c := range m.clients {
		if c.LastCompletedAt == nil || c.HasUpcomingBooking {
			continue
		}
		if c.LastCompletedAt.Before(from) || !c.LastCompletedAt.Before(to) {
			continue
		}
		if c.LastRetentionSentAt != nil && !c.LastRetentionSentAt.Before(remindedBefore) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (m *mockRetentionStore) ClaimRetention(ctx context.Context, clientID int64, now, remindedBefore time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.clients {
		c := &m.clients[i]
		if c.ID != clientID {
			continue
		}
		if c.LastRetentionSentAt != nil && !c.LastRetentionSentAt.Before(remindedBefore) {
			return false, nil
		}
		stamp := now
		c.LastRetentionSentAt = &stamp
		return true, nil
	}
	return false, nil
}

func (m *mockRetentionStore) UnclaimRetention(ctx context.Context, clientID int64, prev *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.clients {
		if m.clients[i].ID == clientID {
			m.clients[i].LastRetentionSentAt = prev
		}
	}
	return nil
}

func TestRetentionPredicates(t *testing.T) {
	now := time.Date(2025, 6, 9, 12, 0, 0, 0, time.UTC)
	delay := 45 * 24 * time.Hour
	inWindow := now.Add(-50 * 24 * time.Hour)
	tooOld := now.Add(-120 * 24 * time.Hour)
	tooRecent := now.Add(-10 * 24 * time.Hour)
	recentNudge := now.Add(-5 * 24 * time.Hour)

	store := &mockRetentionStore{clients: []models.Client{
		{ID: 1, Ref: "a", ChatID: 100, LastCompletedAt: &inWindow},
		{ID: 2, Ref: "b", ChatID: 101, LastCompletedAt: &tooOld},
		{ID: 3, Ref: "c", ChatID: 102, LastCompletedAt: &tooRecent},
		{ID: 4, Ref: "d", ChatID: 103, LastCompletedAt: &inWindow, HasUpcomingBooking: true},
		{ID: 5, Ref: "e", ChatID: 104, LastCompletedAt: &inWindow, LastRetentionSentAt: &recentNudge},
	}}
	src := NewRetentionSource(store, delay)

	due, err := src.Collect(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, int64(1), due[0].SubjectID)
}

func TestRetentionClaimAndUnclaimRestoresStamp(t *testing.T) {
	now := time.Date(2025, 6, 9, 12, 0, 0, 0, time.UTC)
	inWindow := now.Add(-50 * 24 * time.Hour)
	oldNudge := now.Add(-90 * 24 * time.Hour)

	store := &mockRetentionStore{clients: []models.Client{
		{ID: 1, Ref: "a", ChatID: 100, LastCompletedAt: &inWindow, LastRetentionSentAt: &oldNudge},
	}}
	src := NewRetentionSource(store, 45*24*time.Hour)
	ctx := context.Background()

	due, err := src.Collect(ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 1)

	claimed, err := src.Claim(ctx, due[0], now)
	require.NoError(t, err)
	require.True(t, claimed)
	require.NotNil(t, store.clients[0].LastRetentionSentAt)
	assert.True(t, store.clients[0].LastRetentionSentAt.Equal(now))

	claimed, err = src.Claim(ctx, due[0], now)
	require.NoError(t, err)
	assert.False(t, claimed, "fresh stamp must block a second claim")

	// A failed delivery puts the old stamp back so the client stays eligible.
	require.NoError(t, src.Unclaim(ctx, due[0]))
	require.NotNil(t, store.clients[0].LastRetentionSentAt)
	assert.True(t, store.clients[0].LastRetentionSentAt.Equal(oldNudge))
}
