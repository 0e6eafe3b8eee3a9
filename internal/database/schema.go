package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// schema lists the DDL statements in dependency order. {{ts}} is replaced
// with the dialect's timestamp column type.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS staff (
		id VARCHAR(64) PRIMARY KEY,
		email VARCHAR(255) NOT NULL UNIQUE,
		name VARCHAR(255) NOT NULL,
		password_hash VARCHAR(255) NOT NULL,
		role VARCHAR(16) NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at {{ts}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS refresh_tokens (
		id VARCHAR(64) PRIMARY KEY,
		staff_id VARCHAR(64) NOT NULL,
		token_hash VARCHAR(64) NOT NULL UNIQUE,
		expires_at {{ts}} NOT NULL,
		revoked_at {{ts}} NULL,
		created_at {{ts}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS customers (
		id VARCHAR(64) PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		birth_date {{ts}} NULL,
		membership_number VARCHAR(64) NULL,
		membership_expires_at {{ts}} NULL,
		past_due_balance_cents INT NOT NULL DEFAULT 0,
		primary_language VARCHAR(8) NULL,
		created_at {{ts}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS lanes (
		id VARCHAR(64) PRIMARY KEY,
		created_at {{ts}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS rooms (
		id VARCHAR(64) PRIMARY KEY,
		number INT NOT NULL UNIQUE,
		type VARCHAR(16) NOT NULL,
		status VARCHAR(16) NOT NULL,
		assigned_to_customer_id VARCHAR(64) NULL,
		updated_at {{ts}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS lockers (
		id VARCHAR(64) PRIMARY KEY,
		number INT NOT NULL UNIQUE,
		status VARCHAR(16) NOT NULL,
		assigned_to_customer_id VARCHAR(64) NULL,
		updated_at {{ts}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS visits (
		id VARCHAR(64) PRIMARY KEY,
		customer_id VARCHAR(64) NOT NULL,
		started_at {{ts}} NOT NULL,
		ended_at {{ts}} NULL
	)`,
	`CREATE TABLE IF NOT EXISTS checkin_blocks (
		id VARCHAR(64) PRIMARY KEY,
		visit_id VARCHAR(64) NOT NULL,
		session_id VARCHAR(64) NULL,
		block_type VARCHAR(16) NOT NULL,
		rental_type VARCHAR(16) NOT NULL,
		room_id VARCHAR(64) NULL,
		locker_id VARCHAR(64) NULL,
		starts_at {{ts}} NOT NULL,
		ends_at {{ts}} NOT NULL,
		agreement_ref VARCHAR(255) NULL,
		created_at {{ts}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS lane_sessions (
		id VARCHAR(64) PRIMARY KEY,
		lane_id VARCHAR(64) NOT NULL,
		status VARCHAR(24) NOT NULL,
		staff_id VARCHAR(64) NOT NULL,
		customer_id VARCHAR(64) NULL,
		mode VARCHAR(16) NOT NULL,
		renewal_hours INT NULL,
		renewal_visit_id VARCHAR(64) NULL,
		customer_language VARCHAR(8) NULL,
		past_due_bypassed BOOLEAN NOT NULL DEFAULT FALSE,
		desired_rental_type VARCHAR(16) NULL,
		proposed_rental_type VARCHAR(16) NULL,
		proposed_by VARCHAR(16) NULL,
		selection_confirmed BOOLEAN NOT NULL DEFAULT FALSE,
		selection_confirmed_by VARCHAR(16) NULL,
		selection_locked_at {{ts}} NULL,
		assigned_resource_id VARCHAR(64) NULL,
		assigned_resource_type VARCHAR(8) NULL,
		customer_confirmation_pending BOOLEAN NOT NULL DEFAULT FALSE,
		waitlist_desired_type VARCHAR(16) NULL,
		backup_rental_type VARCHAR(16) NULL,
		payment_intent_id VARCHAR(64) NULL,
		price_quote_json TEXT NULL,
		visit_id VARCHAR(64) NULL,
		created_at {{ts}} NOT NULL,
		updated_at {{ts}} NOT NULL
	)`,
	`CREATE INDEX idx_lane_sessions_lane_status ON lane_sessions (lane_id, status)`,
	`CREATE INDEX idx_lane_sessions_resource ON lane_sessions (assigned_resource_id, status)`,
	`CREATE TABLE IF NOT EXISTS payment_intents (
		id VARCHAR(64) PRIMARY KEY,
		session_id VARCHAR(64) NOT NULL,
		amount_cents INT NOT NULL,
		quote_json TEXT NOT NULL,
		status VARCHAR(16) NOT NULL,
		method VARCHAR(16) NULL,
		provider_ref VARCHAR(255) NULL,
		paid_at {{ts}} NULL,
		created_at {{ts}} NOT NULL,
		updated_at {{ts}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS waitlist (
		id VARCHAR(64) PRIMARY KEY,
		visit_id VARCHAR(64) NOT NULL,
		checkin_block_id VARCHAR(64) NOT NULL,
		desired_tier VARCHAR(16) NOT NULL,
		backup_tier VARCHAR(16) NOT NULL,
		status VARCHAR(16) NOT NULL,
		room_id VARCHAR(64) NULL,
		claim_ref VARCHAR(64) NULL,
		offered_at {{ts}} NULL,
		offer_expires_at {{ts}} NULL,
		completed_at {{ts}} NULL,
		created_at {{ts}} NOT NULL,
		updated_at {{ts}} NOT NULL
	)`,
	`CREATE INDEX idx_waitlist_tier_status ON waitlist (desired_tier, status, created_at)`,
	`CREATE INDEX idx_checkin_blocks_ends ON checkin_blocks (ends_at)`,
}

// Migrate applies the schema. Index creation tolerates "already exists"
// errors so the function can run on every startup.
func Migrate(ctx context.Context, db *sql.DB, d Dialect) error {
	ts := "DATETIME(6)"
	if d == SQLite {
		ts = "DATETIME"
	}
	for _, stmt := range schema {
		stmt = strings.ReplaceAll(stmt, "{{ts}}", ts)
		if strings.HasPrefix(stmt, "CREATE INDEX") && d == SQLite {
			stmt = strings.Replace(stmt, "CREATE INDEX", "CREATE INDEX IF NOT EXISTS", 1)
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			if strings.HasPrefix(stmt, "CREATE INDEX") && isDuplicateIndex(err) {
				continue
			}
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func isDuplicateIndex(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "1061") || strings.Contains(msg, "duplicate key name") || strings.Contains(msg, "already exists")
}
