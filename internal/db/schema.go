package db

import (
	"context"
	"database/sql"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS campaigns (
		id SERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		owner_id TEXT NOT NULL DEFAULT '',
		sender_first_name TEXT NOT NULL DEFAULT '',
		sender_last_name TEXT NOT NULL DEFAULT '',
		sender_email TEXT NOT NULL DEFAULT '',
		sender_phone TEXT NOT NULL DEFAULT '',
		sender_company TEXT NOT NULL DEFAULT '',
		sender_country TEXT NOT NULL DEFAULT '',
		sender_address TEXT NOT NULL DEFAULT '',
		message_template TEXT NOT NULL DEFAULT '',
		subject TEXT NOT NULL DEFAULT '',
		queued_count INTEGER NOT NULL DEFAULT 0,
		completed_count INTEGER NOT NULL DEFAULT 0,
		failed_count INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS companies (
		id SERIAL PRIMARY KEY,
		campaign_id INTEGER NOT NULL REFERENCES campaigns(id),
		company_name TEXT NOT NULL,
		website_url TEXT NOT NULL,
		contact_email TEXT NOT NULL DEFAULT '',
		contact_person TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		error_reason TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT '',
		contact_method TEXT NOT NULL DEFAULT '',
		emails_found TEXT NOT NULL DEFAULT '[]',
		contact_page_url TEXT NOT NULL DEFAULT '',
		screenshot_ref TEXT NOT NULL DEFAULT '',
		fields_filled INTEGER NOT NULL DEFAULT 0,
		processed_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_companies_campaign_status ON companies (campaign_id, status)`,
	`CREATE TABLE IF NOT EXISTS outreach_usage (
		caller_id TEXT NOT NULL,
		day TEXT NOT NULL,
		used INTEGER NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ,
		PRIMARY KEY (caller_id, day)
	)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS campaigns (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		owner_id TEXT NOT NULL DEFAULT '',
		sender_first_name TEXT NOT NULL DEFAULT '',
		sender_last_name TEXT NOT NULL DEFAULT '',
		sender_email TEXT NOT NULL DEFAULT '',
		sender_phone TEXT NOT NULL DEFAULT '',
		sender_company TEXT NOT NULL DEFAULT '',
		sender_country TEXT NOT NULL DEFAULT '',
		sender_address TEXT NOT NULL DEFAULT '',
		message_template TEXT NOT NULL DEFAULT '',
		subject TEXT NOT NULL DEFAULT '',
		queued_count INTEGER NOT NULL DEFAULT 0,
		completed_count INTEGER NOT NULL DEFAULT 0,
		failed_count INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME
	)`,
	`CREATE TABLE IF NOT EXISTS companies (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		campaign_id INTEGER NOT NULL REFERENCES campaigns(id),
		company_name TEXT NOT NULL,
		website_url TEXT NOT NULL,
		contact_email TEXT NOT NULL DEFAULT '',
		contact_person TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		error_reason TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT '',
		contact_method TEXT NOT NULL DEFAULT '',
		emails_found TEXT NOT NULL DEFAULT '[]',
		contact_page_url TEXT NOT NULL DEFAULT '',
		screenshot_ref TEXT NOT NULL DEFAULT '',
		fields_filled INTEGER NOT NULL DEFAULT 0,
		processed_at DATETIME,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_companies_campaign_status ON companies (campaign_id, status)`,
	`CREATE TABLE IF NOT EXISTS outreach_usage (
		caller_id TEXT NOT NULL,
		day TEXT NOT NULL,
		used INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME,
		PRIMARY KEY (caller_id, day)
	)`,
}

// Migrate applies the schema for driver. Every statement is idempotent.
func Migrate(ctx context.Context, conn *sql.DB, driver string) error {
	stmts := postgresSchema
	if DriverName(driver) == DriverSQLite {
		stmts = sqliteSchema
	}
	for i, stmt := range stmts {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return eris.Wrapf(err, "apply schema statement %d", i+1)
		}
	}
	zap.L().Info("schema applied", zap.String("driver", DriverName(driver)), zap.Int("statements", len(stmts)))
	return nil
}
