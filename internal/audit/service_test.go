package audit

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"glowdesk/internal/models"
)

type mockAuditStore struct {
	sent           []models.ReminderSent
	deletedBefore  *time.Time
	deleteAffected int64
}

func (m *mockAuditStore) ListSentRemindersBetween(ctx context.Context, from, to time.Time) ([]models.ReminderSent, error) {
	var out []models.ReminderSent
	for _, r := range m.sent {
		if !r.SentAt.Before(from) && r.SentAt.Before(to) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockAuditStore) DeleteSentRemindersBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.deletedBefore = &cutoff
	return m.deleteAffected, nil
}

func TestExportWritesWorkbook(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	prevMonth := monthStart.AddDate(0, -1, 0).Add(12 * time.Hour)

	store := &mockAuditStore{sent: []models.ReminderSent{
		{ID: 1, BookingID: 10, RuleID: 1, Status: models.ReminderSentStatusSent, SentAt: prevMonth},
		{ID: 2, BookingID: 11, RuleID: 1, Status: models.ReminderSentStatusSent, SentAt: prevMonth},
		{ID: 3, BookingID: 12, RuleID: 2, Status: models.ReminderSentStatusSent, SentAt: prevMonth},
	}}
	logger := zerolog.Nop()
	svc := NewService(&Config{RetentionDays: 60, ExportDir: dir}, store, &logger)

	require.NoError(t, svc.exportPreviousMonth(context.Background()))

	path := filepath.Join(dir, reportFilename(monthStart.AddDate(0, -1, 0)))
	_, err := os.Stat(path)
	require.NoError(t, err, "report file must exist")

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Notifications")
	require.NoError(t, err)
	assert.Len(t, rows, 4, "header plus three log rows")

	total, err := f.GetCellValue("Summary", "B2")
	require.NoError(t, err)
	assert.Equal(t, "3", total)
}

func TestCleanupRespectsDedupeFloor(t *testing.T) {
	store := &mockAuditStore{deleteAffected: 5}
	logger := zerolog.Nop()

	// 10 days is below the floor; the service must refuse to cut that deep.
	svc := NewService(&Config{RetentionDays: 10, ExportDir: t.TempDir()}, store, &logger)
	require.NoError(t, svc.cleanup(context.Background()))

	require.NotNil(t, store.deletedBefore)
	minCutoff := time.Now().AddDate(0, 0, -minRetentionDays)
	assert.False(t, store.deletedBefore.After(minCutoff.Add(time.Minute)),
		"cutoff must be at least %d days back", minRetentionDays)
}

func TestNextFirstOfMonth(t *testing.T) {
	at := time.Date(2025, 6, 15, 13, 0, 0, 0, time.UTC)
	next := nextFirstOfMonth(at)
	assert.Equal(t, time.Date(2025, 7, 1, 0, 1, 0, 0, time.UTC), next)

	dec := time.Date(2025, 12, 31, 23, 59, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC), nextFirstOfMonth(dec))
}
