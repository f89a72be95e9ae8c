package database

import (
	"context"
	"database/sql"
	"time"

	"glowdesk/internal/models"
)

// CreateBooking inserts a booking row. The booking-creation flow lives
// outside the core; this is the ledger primitive it uses.
func (db *DB) CreateBooking(ctx context.Context, b *models.Booking) error {
	now := time.Now()
	res, err := db.ExecContext(ctx, `
		INSERT INTO bookings (provider_id, service_id, service_name, date, start_time,
			duration_minutes, status, client_ref, client_chat_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ProviderID, b.ServiceID, b.ServiceName, b.Date, b.StartTime,
		b.DurationMinutes, b.Status, b.ClientRef, b.ClientChatID, now, now,
	)
	if err != nil {
		return err
	}
	b.ID, err = res.LastInsertId()
	return err
}

// UpdateBookingStatus transitions a booking to a new status.
func (db *DB) UpdateBookingStatus(ctx context.Context, id int64, status string) error {
	res, err := db.ExecContext(ctx, `
		UPDATE bookings SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now(), id,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetActiveBookingsOnDate returns pending/confirmed bookings occupying a
// provider on a calendar date, ordered by start time. Used for conflict
// subtraction in availability.
func (db *DB) GetActiveBookingsOnDate(ctx context.Context, providerID int64, date time.Time) ([]models.Booking, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, provider_id, service_id, service_name, date, start_time,
		       duration_minutes, status, client_ref, client_chat_id, created_at, updated_at
		FROM bookings
		WHERE provider_id = ? AND date(date) = date(?)
		AND status IN ('pending', 'confirmed')
		ORDER BY start_time`,
		providerID, date,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBookings(rows)
}

// ListActiveBookingsBetweenDates returns pending/confirmed bookings whose day
// falls in [from, to]. Reminder matching against exact start instants happens
// in the dispatcher; this keeps the scan narrow.
func (db *DB) ListActiveBookingsBetweenDates(ctx context.Context, from, to time.Time) ([]models.Booking, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, provider_id, service_id, service_name, date, start_time,
		       duration_minutes, status, client_ref, client_chat_id, created_at, updated_at
		FROM bookings
		WHERE date(date) >= date(?) AND date(date) <= date(?)
		AND status IN ('pending', 'confirmed')
		ORDER BY date, start_time`,
		from, to,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBookings(rows)
}

func scanBookings(rows *sql.Rows) ([]models.Booking, error) {
	var bookings []models.Booking
	for rows.Next() {
		var b models.Booking
		if err := rows.Scan(
			&b.ID, &b.ProviderID, &b.ServiceID, &b.ServiceName, &b.Date, &b.StartTime,
			&b.DurationMinutes, &b.Status, &b.ClientRef, &b.ClientChatID, &b.CreatedAt, &b.UpdatedAt,
		); err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

// ListEnabledReminderRules returns the enabled rule set for the upcoming
// booking sweep.
func (db *DB) ListEnabledReminderRules(ctx context.Context) ([]models.ReminderRule, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, name, days_before, hours_before, is_enabled, channel, created_at
		FROM reminder_rules
		WHERE is_enabled = 1
		ORDER BY id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []models.ReminderRule
	for rows.Next() {
		var r models.ReminderRule
		if err := rows.Scan(&r.ID, &r.Name, &r.DaysBefore, &r.HoursBefore, &r.IsEnabled, &r.Channel, &r.CreatedAt); err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// CreateReminderRule inserts a rule.
func (db *DB) CreateReminderRule(ctx context.Context, r *models.ReminderRule) error {
	res, err := db.ExecContext(ctx, `
		INSERT INTO reminder_rules (name, days_before, hours_before, is_enabled, channel)
		VALUES (?, ?, ?, ?, ?)`,
		r.Name, r.DaysBefore, r.HoursBefore, r.IsEnabled, r.Channel,
	)
	if err != nil {
		return err
	}
	r.ID, err = res.LastInsertId()
	return err
}

// ClaimReminder atomically claims the (booking, rule) pair by inserting the
// guard row. Returns false when the pair was already claimed or sent. The
// unique index makes check-and-insert a single operation, so two concurrent
// sweeps cannot both win.
func (db *DB) ClaimReminder(ctx context.Context, bookingID, ruleID int64, now time.Time) (bool, error) {
	res, err := db.ExecContext(ctx, `
		INSERT OR IGNORE INTO reminder_sent (booking_id, rule_id, sent_at, status)
		VALUES (?, ?, ?, ?)`,
		bookingID, ruleID, now, models.ReminderSentStatusSending,
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

// ConfirmReminder marks a claimed guard row as delivered.
func (db *DB) ConfirmReminder(ctx context.Context, bookingID, ruleID int64, sentAt time.Time) error {
	_, err := db.ExecContext(ctx, `
		UPDATE reminder_sent SET status = ?, sent_at = ?
		WHERE booking_id = ? AND rule_id = ?`,
		models.ReminderSentStatusSent, sentAt, bookingID, ruleID,
	)
	return err
}

// UnclaimReminder releases a claimed guard row after a delivery failure so
// the candidate is retried on the next sweep. Rows already confirmed as sent
// are never touched.
func (db *DB) UnclaimReminder(ctx context.Context, bookingID, ruleID int64) error {
	_, err := db.ExecContext(ctx, `
		DELETE FROM reminder_sent
		WHERE booking_id = ? AND rule_id = ? AND status = ?`,
		bookingID, ruleID, models.ReminderSentStatusSending,
	)
	return err
}

// DeleteSentRemindersBefore removes confirmed guard rows older than the
// cutoff. Used by the audit cleanup; the cutoff must stay beyond every dedupe
// horizon.
func (db *DB) DeleteSentRemindersBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, `
		DELETE FROM reminder_sent WHERE status = ? AND sent_at < ?`,
		models.ReminderSentStatusSent, cutoff,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListSentRemindersBetween returns confirmed guard rows in [from, to) for the
// audit export.
func (db *DB) ListSentRemindersBetween(ctx context.Context, from, to time.Time) ([]models.ReminderSent, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, booking_id, rule_id, sent_at, status
		FROM reminder_sent
		WHERE status = ? AND sent_at >= ? AND sent_at < ?
		ORDER BY sent_at`,
		models.ReminderSentStatusSent, from, to,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sent []models.ReminderSent
	for rows.Next() {
		var s models.ReminderSent
		if err := rows.Scan(&s.ID, &s.BookingID, &s.RuleID, &s.SentAt, &s.Status); err != nil {
			return nil, err
		}
		sent = append(sent, s)
	}
	return sent, rows.Err()
}

// ListAbandonedSessions returns in-progress sessions whose last activity is
// inside [from, to) and that have not been recovery-messaged yet.
func (db *DB) ListAbandonedSessions(ctx context.Context, from, to time.Time) ([]models.ChatSession, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, client_ref, chat_id, step, last_activity_at, recovery_sent, created_at
		FROM chat_sessions
		WHERE last_activity_at >= ? AND last_activity_at < ?
		AND recovery_sent = 0 AND step != ''
		ORDER BY last_activity_at`,
		from, to,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []models.ChatSession
	for rows.Next() {
		var s models.ChatSession
		if err := rows.Scan(&s.ID, &s.ClientRef, &s.ChatID, &s.Step, &s.LastActivityAt, &s.RecoverySent, &s.CreatedAt); err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// ClaimSessionRecovery flips the recovery flag if it is still clear. The
// conditional update is the compare-and-swap guaranteeing one recovery
// message per session.
func (db *DB) ClaimSessionRecovery(ctx context.Context, sessionID int64) (bool, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE chat_sessions SET recovery_sent = 1
		WHERE id = ? AND recovery_sent = 0`,
		sessionID,
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

// UnclaimSessionRecovery clears the recovery flag after a delivery failure.
func (db *DB) UnclaimSessionRecovery(ctx context.Context, sessionID int64) error {
	_, err := db.ExecContext(ctx, `
		UPDATE chat_sessions SET recovery_sent = 0 WHERE id = ?`,
		sessionID,
	)
	return err
}

// UpsertSession creates or refreshes a conversational session row.
func (db *DB) UpsertSession(ctx context.Context, s *models.ChatSession) error {
	if s.ID == 0 {
		res, err := db.ExecContext(ctx, `
			INSERT INTO chat_sessions (client_ref, chat_id, step, last_activity_at, recovery_sent)
			VALUES (?, ?, ?, ?, ?)`,
			s.ClientRef, s.ChatID, s.Step, s.LastActivityAt, s.RecoverySent,
		)
		if err != nil {
			return err
		}
		s.ID, err = res.LastInsertId()
		return err
	}
	_, err := db.ExecContext(ctx, `
		UPDATE chat_sessions SET step = ?, last_activity_at = ?, recovery_sent = ?
		WHERE id = ?`,
		s.Step, s.LastActivityAt, s.RecoverySent, s.ID,
	)
	return err
}

// ListDormantClients returns clients whose most recent completed booking day
// falls inside [from, to), who have no future pending/confirmed booking, and
// who were not retention-reminded after remindedBefore.
func (db *DB) ListDormantClients(ctx context.Context, from, to, remindedBefore, now time.Time) ([]models.Client, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT c.id, c.ref, c.chat_id, c.last_retention_sent_at, c.created_at, lc.last_completed
		FROM clients c
		JOIN (
			SELECT client_ref, MAX(date) AS last_completed
			FROM bookings WHERE status = 'completed'
			GROUP BY client_ref
		) lc ON lc.client_ref = c.ref
		WHERE lc.last_completed >= ? AND lc.last_completed < ?
		AND (c.last_retention_sent_at IS NULL OR c.last_retention_sent_at < ?)
		AND NOT EXISTS (
			SELECT 1 FROM bookings f
			WHERE f.client_ref = c.ref
			AND f.status IN ('pending', 'confirmed')
			AND f.date >= date(?)
		)
		ORDER BY c.id`,
		from, to, remindedBefore, now,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clients []models.Client
	for rows.Next() {
		var c models.Client
		var retentionAt, lastCompleted sql.NullTime
		if err := rows.Scan(&c.ID, &c.Ref, &c.ChatID, &retentionAt, &c.CreatedAt, &lastCompleted); err != nil {
			return nil, err
		}
		if retentionAt.Valid {
			t := retentionAt.Time
			c.LastRetentionSentAt = &t
		}
		if lastCompleted.Valid {
			t := lastCompleted.Time
			c.LastCompletedAt = &t
		}
		clients = append(clients, c)
	}
	return clients, rows.Err()
}

// ClaimRetention stamps the retention-reminder timestamp if the client was
// not reminded after remindedBefore. The conditional update is the
// compare-and-swap keeping retention messages at most one per horizon.
func (db *DB) ClaimRetention(ctx context.Context, clientID int64, now, remindedBefore time.Time) (bool, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE clients SET last_retention_sent_at = ?
		WHERE id = ? AND (last_retention_sent_at IS NULL OR last_retention_sent_at < ?)`,
		now, clientID, remindedBefore,
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

// UnclaimRetention restores the previous retention timestamp after a delivery
// failure.
func (db *DB) UnclaimRetention(ctx context.Context, clientID int64, prev *time.Time) error {
	var val interface{}
	if prev != nil {
		val = *prev
	}
	_, err := db.ExecContext(ctx, `
		UPDATE clients SET last_retention_sent_at = ? WHERE id = ?`,
		val, clientID,
	)
	return err
}

// UpsertClient creates or updates a client row keyed by ref.
func (db *DB) UpsertClient(ctx context.Context, c *models.Client) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO clients (ref, chat_id) VALUES (?, ?)
		ON CONFLICT(ref) DO UPDATE SET chat_id = excluded.chat_id`,
		c.Ref, c.ChatID,
	)
	return err
}

// TouchClientActivity records the last interaction instant for a client.
// Callers throttle through the activity tracker so this is not hit on every
// request.
func (db *DB) TouchClientActivity(ctx context.Context, ref string, at time.Time) error {
	_, err := db.ExecContext(ctx, `
		UPDATE clients SET last_activity_at = ? WHERE ref = ?`,
		at, ref,
	)
	return err
}

// ListUpcomingActiveBookings returns pending/confirmed bookings with a day in
// [today, today+days]. Used by the spreadsheet snapshot export.
func (db *DB) ListUpcomingActiveBookings(ctx context.Context, today time.Time, days int) ([]models.Booking, error) {
	return db.ListActiveBookingsBetweenDates(ctx, today, today.AddDate(0, 0, days))
}
