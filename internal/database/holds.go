package database

import (
	"context"
	"database/sql"
	"time"

	"glowdesk/internal/models"
)

// AcquireOrRefreshHold claims the (provider, date, start) key for holderRef.
// The single upsert statement is the compare-and-swap: it wins when no row
// exists, when the existing row belongs to the same holder (refresh), or when
// the existing hold has expired. A live hold by another holder makes the
// conditional update match nothing and the call reports false.
func (db *DB) AcquireOrRefreshHold(ctx context.Context, h *models.BookingHold, now time.Time) (bool, error) {
	res, err := db.ExecContext(ctx, `
		INSERT INTO booking_holds (service_id, provider_id, date, start_time, holder_ref, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(provider_id, date, start_time) DO UPDATE SET
			service_id = excluded.service_id,
			holder_ref = excluded.holder_ref,
			expires_at = excluded.expires_at
		WHERE booking_holds.holder_ref = excluded.holder_ref
		   OR booking_holds.expires_at <= ?`,
		h.ServiceID, h.ProviderID, h.Date, h.StartTime, h.HolderRef, h.ExpiresAt, now,
	)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// GetHold returns the hold row for a key regardless of expiry, or nil when
// the key has no row.
func (db *DB) GetHold(ctx context.Context, providerID int64, date time.Time, startTime string) (*models.BookingHold, error) {
	var h models.BookingHold
	err := db.QueryRowContext(ctx, `
		SELECT id, service_id, provider_id, date, start_time, holder_ref, expires_at, created_at
		FROM booking_holds
		WHERE provider_id = ? AND date(date) = date(?) AND start_time = ?`,
		providerID, date, startTime,
	).Scan(&h.ID, &h.ServiceID, &h.ProviderID, &h.Date, &h.StartTime, &h.HolderRef, &h.ExpiresAt, &h.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// GetLiveHoldsOnDate returns non-expired holds for a provider on a date.
// Used by availability to reserve capacity before a booking row exists.
func (db *DB) GetLiveHoldsOnDate(ctx context.Context, providerID int64, date time.Time, now time.Time) ([]models.BookingHold, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, service_id, provider_id, date, start_time, holder_ref, expires_at, created_at
		FROM booking_holds
		WHERE provider_id = ? AND date(date) = date(?) AND expires_at > ?
		ORDER BY start_time`,
		providerID, date, now,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var holds []models.BookingHold
	for rows.Next() {
		var h models.BookingHold
		if err := rows.Scan(&h.ID, &h.ServiceID, &h.ProviderID, &h.Date, &h.StartTime, &h.HolderRef, &h.ExpiresAt, &h.CreatedAt); err != nil {
			return nil, err
		}
		holds = append(holds, h)
	}
	return holds, rows.Err()
}

// ReleaseHold deletes the hold for a key if it belongs to holderRef.
func (db *DB) ReleaseHold(ctx context.Context, providerID int64, date time.Time, startTime, holderRef string) error {
	_, err := db.ExecContext(ctx, `
		DELETE FROM booking_holds
		WHERE provider_id = ? AND date(date) = date(?) AND start_time = ? AND holder_ref = ?`,
		providerID, date, startTime, holderRef,
	)
	return err
}

// DeleteExpiredHolds removes dead hold rows. Opportunistic housekeeping;
// every read already treats expired holds as absent.
func (db *DB) DeleteExpiredHolds(ctx context.Context, now time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM booking_holds WHERE expires_at <= ?`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountLiveHolds returns the number of non-expired holds, exported as a
// gauge by the hold sweep.
func (db *DB) CountLiveHolds(ctx context.Context, now time.Time) (int64, error) {
	var count int64
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM booking_holds WHERE expires_at > ?`, now).Scan(&count)
	return count, err
}
