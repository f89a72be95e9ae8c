package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

// DB wraps the sqlite connection used by the scheduling core.
type DB struct {
	*sql.DB
	logger *zerolog.Logger
}

var ErrNotFound = errors.New("not found")

// NewDB opens the database, tunes the pool and creates missing tables.
func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// WAL mode and busy timeout keep concurrent request handlers from
	// tripping over SQLITE_BUSY during hold upserts.
	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	instance := &DB{DB: db, logger: logger}

	if err := instance.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("Database initialized")
	return instance, nil
}

func (db *DB) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS services (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT UNIQUE NOT NULL,
			duration_minutes INTEGER NOT NULL DEFAULT 0,
			is_active BOOLEAN NOT NULL DEFAULT 1,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		// At most one active interval per (provider, weekday); rows are
		// deactivated, never deleted.
		`CREATE TABLE IF NOT EXISTS provider_schedules (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			provider_id INTEGER NOT NULL,
			weekday INTEGER NOT NULL,
			start_time TEXT NOT NULL,
			end_time TEXT NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT 1,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(provider_id, weekday)
		)`,

		`CREATE TABLE IF NOT EXISTS time_off (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			provider_id INTEGER NOT NULL,
			date_from DATETIME NOT NULL,
			date_to DATETIME NOT NULL,
			reason TEXT,
			type TEXT NOT NULL DEFAULT 'other',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS salon_holidays (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			date DATETIME UNIQUE NOT NULL,
			name TEXT NOT NULL,
			is_closed BOOLEAN NOT NULL DEFAULT 1,
			master_exceptions TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS service_eligibility (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			provider_id INTEGER NOT NULL,
			service_id INTEGER NOT NULL,
			is_online_booking_enabled BOOLEAN NOT NULL DEFAULT 1,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(provider_id, service_id)
		)`,

		`CREATE TABLE IF NOT EXISTS bookings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			provider_id INTEGER NOT NULL,
			service_id INTEGER NOT NULL,
			service_name TEXT NOT NULL DEFAULT '',
			date DATETIME NOT NULL,
			start_time TEXT NOT NULL,
			duration_minutes INTEGER NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			client_ref TEXT NOT NULL,
			client_chat_id INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY(service_id) REFERENCES services(id)
		)`,

		// The unique key is the compare-and-swap primitive for slot claims:
		// two concurrent acquisitions of the same key collide here.
		`CREATE TABLE IF NOT EXISTS booking_holds (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			service_id INTEGER NOT NULL,
			provider_id INTEGER NOT NULL,
			date DATETIME NOT NULL,
			start_time TEXT NOT NULL,
			holder_ref TEXT NOT NULL,
			expires_at DATETIME NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(provider_id, date, start_time)
		)`,

		`CREATE TABLE IF NOT EXISTS reminder_rules (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			days_before INTEGER NOT NULL DEFAULT 0,
			hours_before INTEGER NOT NULL DEFAULT 0,
			is_enabled BOOLEAN NOT NULL DEFAULT 1,
			channel TEXT NOT NULL DEFAULT 'chat',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		// Guard table; the unique key makes claiming a (booking, rule) pair
		// atomic across concurrent sweeps.
		`CREATE TABLE IF NOT EXISTS reminder_sent (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			booking_id INTEGER NOT NULL,
			rule_id INTEGER NOT NULL,
			sent_at DATETIME NOT NULL,
			status TEXT NOT NULL DEFAULT 'sending',
			UNIQUE(booking_id, rule_id)
		)`,

		`CREATE TABLE IF NOT EXISTS chat_sessions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			client_ref TEXT NOT NULL,
			chat_id INTEGER NOT NULL,
			step TEXT NOT NULL DEFAULT '',
			last_activity_at DATETIME NOT NULL,
			recovery_sent BOOLEAN NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS clients (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ref TEXT UNIQUE NOT NULL,
			chat_id INTEGER NOT NULL DEFAULT 0,
			last_activity_at DATETIME,
			last_retention_sent_at DATETIME,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE INDEX IF NOT EXISTS idx_schedules_provider ON provider_schedules(provider_id, weekday)`,
		`CREATE INDEX IF NOT EXISTS idx_time_off_provider ON time_off(provider_id, date_from, date_to)`,
		`CREATE INDEX IF NOT EXISTS idx_eligibility_service ON service_eligibility(service_id)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_provider_date ON bookings(provider_id, date, status)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_date_status ON bookings(date, status)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_client ON bookings(client_ref, status)`,
		`CREATE INDEX IF NOT EXISTS idx_holds_expires ON booking_holds(expires_at)`,
		`CREATE INDEX IF NOT EXISTS idx_reminder_sent_booking ON reminder_sent(booking_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_activity ON chat_sessions(last_activity_at, recovery_sent)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

// PingContext reports storage reachability for readiness probes.
func (db *DB) PingContext(ctx context.Context) error {
	return db.DB.PingContext(ctx)
}

func (db *DB) Close() error {
	return db.DB.Close()
}
