package db

import (
	"fmt"

	"gorm.io/gorm"
)

var migrationStatements = []string{
	`CREATE TABLE IF NOT EXISTS authorised_plates (
		id          BIGSERIAL PRIMARY KEY,
		plate       TEXT NOT NULL,
		name        TEXT NOT NULL,
		colour      TEXT,
		make        TEXT,
		model       TEXT,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_authorised_plates_plate ON authorised_plates(plate);`,
	`CREATE TABLE IF NOT EXISTS access_schedules (
		id          BIGSERIAL PRIMARY KEY,
		day_of_week TEXT NOT NULL,
		start_time  TEXT NOT NULL,
		end_time    TEXT NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE TABLE IF NOT EXISTS gate_log (
		id             TEXT PRIMARY KEY,
		decided_at     TIMESTAMPTZ NOT NULL,
		reason         TEXT NOT NULL,
		raw_plate      TEXT NOT NULL,
		score          INT NOT NULL,
		matched_plate  TEXT,
		owner_name     TEXT,
		vehicle_make   TEXT,
		vehicle_model  TEXT,
		vehicle_colour TEXT,
		fuzzy_match    BOOLEAN NOT NULL,
		gate_opened    BOOLEAN NOT NULL,
		image_path     TEXT,
		raw_payload    JSONB,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_gate_log_decided_at ON gate_log(decided_at);`,
	`CREATE INDEX IF NOT EXISTS idx_gate_log_matched_plate ON gate_log(matched_plate);`,
}

// RunMigrations creates the mirror-side tables. Statements are idempotent
// and run in order.
func RunMigrations(db *gorm.DB) error {
	for _, stmt := range migrationStatements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}
