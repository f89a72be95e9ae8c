package database

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"glowdesk/internal/models"
)

// DefaultScheduleConfig provides default working hours for onboarding.
var DefaultScheduleConfig = struct {
	StartTime string
	EndTime   string
}{
	StartTime: "10:00",
	EndTime:   "19:00",
}

// GetService returns a service by id.
func (db *DB) GetService(ctx context.Context, id int64) (*models.Service, error) {
	var s models.Service
	err := db.QueryRowContext(ctx, `
		SELECT id, name, duration_minutes, is_active, created_at, updated_at
		FROM services WHERE id = ?`,
		id,
	).Scan(&s.ID, &s.Name, &s.DurationMinutes, &s.IsActive, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetScheduleByDay returns the active weekly interval for (provider, weekday),
// or nil when the provider does not work that day.
func (db *DB) GetScheduleByDay(ctx context.Context, providerID int64, weekday int) (*models.ProviderSchedule, error) {
	var s models.ProviderSchedule
	err := db.QueryRowContext(ctx, `
		SELECT id, provider_id, weekday, start_time, end_time, is_active, created_at, updated_at
		FROM provider_schedules
		WHERE provider_id = ? AND weekday = ? AND is_active = 1
		LIMIT 1`,
		providerID, weekday,
	).Scan(&s.ID, &s.ProviderID, &s.Weekday, &s.StartTime, &s.EndTime, &s.IsActive, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// UpsertSchedule creates or replaces the weekly interval for (provider, weekday).
func (db *DB) UpsertSchedule(ctx context.Context, s *models.ProviderSchedule) error {
	now := time.Now()
	_, err := db.ExecContext(ctx, `
		INSERT INTO provider_schedules (provider_id, weekday, start_time, end_time, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(provider_id, weekday) DO UPDATE SET
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at`,
		s.ProviderID, s.Weekday, s.StartTime, s.EndTime, s.IsActive, now, now,
	)
	return err
}

// DeactivateSchedule marks a weekly interval inactive without deleting it.
func (db *DB) DeactivateSchedule(ctx context.Context, providerID int64, weekday int) error {
	_, err := db.ExecContext(ctx, `
		UPDATE provider_schedules SET is_active = 0, updated_at = ?
		WHERE provider_id = ? AND weekday = ?`,
		time.Now(), providerID, weekday,
	)
	return err
}

// ListTimeOff returns every time-off window for a provider intersecting
// [from, to). Overlapping windows are all returned; the caller subtracts the
// union.
func (db *DB) ListTimeOff(ctx context.Context, providerID int64, from, to time.Time) ([]models.TimeOff, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, provider_id, date_from, date_to, reason, type, created_at
		FROM time_off
		WHERE provider_id = ? AND date_from < ? AND date_to > ?
		ORDER BY date_from`,
		providerID, to, from,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []models.TimeOff
	for rows.Next() {
		var t models.TimeOff
		var reason sql.NullString
		if err := rows.Scan(&t.ID, &t.ProviderID, &t.DateFrom, &t.DateTo, &reason, &t.Type, &t.CreatedAt); err != nil {
			return nil, err
		}
		if reason.Valid {
			t.Reason = reason.String
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

// CreateTimeOff records an unavailability window for a provider.
func (db *DB) CreateTimeOff(ctx context.Context, t *models.TimeOff) error {
	if !t.DateFrom.Before(t.DateTo) {
		return fmt.Errorf("time off range is empty")
	}
	res, err := db.ExecContext(ctx, `
		INSERT INTO time_off (provider_id, date_from, date_to, reason, type)
		VALUES (?, ?, ?, ?, ?)`,
		t.ProviderID, t.DateFrom, t.DateTo, t.Reason, t.Type,
	)
	if err != nil {
		return err
	}
	t.ID, err = res.LastInsertId()
	return err
}

// DeleteTimeOff removes a time-off window.
func (db *DB) DeleteTimeOff(ctx context.Context, id int64) error {
	_, err := db.ExecContext(ctx, `DELETE FROM time_off WHERE id = ?`, id)
	return err
}

// GetHoliday returns the salon holiday for a calendar date, or nil when the
// date has none.
func (db *DB) GetHoliday(ctx context.Context, date time.Time) (*models.SalonHoliday, error) {
	var h models.SalonHoliday
	var exceptions sql.NullString
	err := db.QueryRowContext(ctx, `
		SELECT id, date, name, is_closed, master_exceptions, created_at
		FROM salon_holidays
		WHERE date(date) = date(?)
		LIMIT 1`,
		date,
	).Scan(&h.ID, &h.Date, &h.Name, &h.IsClosed, &exceptions, &h.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if exceptions.Valid {
		h.MasterExceptions = parseIDList(exceptions.String)
	}
	return &h, nil
}

// UpsertHoliday creates or updates the holiday row for its date.
func (db *DB) UpsertHoliday(ctx context.Context, h *models.SalonHoliday) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO salon_holidays (date, name, is_closed, master_exceptions)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			name = excluded.name,
			is_closed = excluded.is_closed,
			master_exceptions = excluded.master_exceptions`,
		h.Date, h.Name, h.IsClosed, formatIDList(h.MasterExceptions),
	)
	return err
}

// DeleteHoliday removes the holiday row for a date.
func (db *DB) DeleteHoliday(ctx context.Context, date time.Time) error {
	_, err := db.ExecContext(ctx, `DELETE FROM salon_holidays WHERE date(date) = date(?)`, date)
	return err
}

// EligibleProviders returns provider ids that may perform the service with
// online booking enabled, optionally narrowed to a single provider.
func (db *DB) EligibleProviders(ctx context.Context, serviceID int64, providerFilter *int64) ([]int64, error) {
	query := `
		SELECT provider_id FROM service_eligibility
		WHERE service_id = ? AND is_online_booking_enabled = 1`
	args := []interface{}{serviceID}
	if providerFilter != nil {
		query += ` AND provider_id = ?`
		args = append(args, *providerFilter)
	}
	query += ` ORDER BY provider_id`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SetEligibility creates or updates a (provider, service) eligibility row.
func (db *DB) SetEligibility(ctx context.Context, e *models.ServiceEligibility) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO service_eligibility (provider_id, service_id, is_online_booking_enabled)
		VALUES (?, ?, ?)
		ON CONFLICT(provider_id, service_id) DO UPDATE SET
			is_online_booking_enabled = excluded.is_online_booking_enabled`,
		e.ProviderID, e.ServiceID, e.IsOnlineBookingEnabled,
	)
	return err
}

// EnsureDefaultSchedules seeds Monday-Saturday defaults for a provider that
// has no schedule rows yet. Used at provider onboarding.
func (db *DB) EnsureDefaultSchedules(ctx context.Context, providerID int64) error {
	for weekday := 1; weekday <= 6; weekday++ {
		var count int
		err := db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM provider_schedules WHERE provider_id = ? AND weekday = ?`,
			providerID, weekday,
		).Scan(&count)
		if err != nil {
			return fmt.Errorf("check schedule: %w", err)
		}
		if count > 0 {
			continue
		}
		sched := &models.ProviderSchedule{
			ProviderID: providerID,
			Weekday:    weekday,
			StartTime:  DefaultScheduleConfig.StartTime,
			EndTime:    DefaultScheduleConfig.EndTime,
			IsActive:   true,
		}
		if err := db.UpsertSchedule(ctx, sched); err != nil {
			return fmt.Errorf("create schedule for provider %d day %d: %w", providerID, weekday, err)
		}
	}
	return nil
}

func parseIDList(s string) []int64 {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

func formatIDList(ids []int64) string {
	if len(ids) == 0 {
		return ""
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}
