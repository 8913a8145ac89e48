package storage

import (
	"database/sql"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS devices (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL DEFAULT '',
		hmac_key TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS sensor_configurations (
		equipment_id TEXT NOT NULL,
		sensor_type TEXT NOT NULL,
		org_id TEXT NOT NULL DEFAULT '',
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		gain DOUBLE PRECISION NOT NULL DEFAULT 1,
		offset_value DOUBLE PRECISION NOT NULL DEFAULT 0,
		min_valid DOUBLE PRECISION,
		max_valid DOUBLE PRECISION,
		deadband DOUBLE PRECISION,
		warn_hi DOUBLE PRECISION,
		warn_lo DOUBLE PRECISION,
		crit_hi DOUBLE PRECISION,
		crit_lo DOUBLE PRECISION,
		hysteresis DOUBLE PRECISION,
		ema_alpha DOUBLE PRECISION,
		PRIMARY KEY (equipment_id, sensor_type, org_id)
	)`,
	`CREATE TABLE IF NOT EXISTS sensor_states (
		equipment_id TEXT NOT NULL,
		sensor_type TEXT NOT NULL,
		org_id TEXT NOT NULL DEFAULT '',
		last_value DOUBLE PRECISION,
		ema DOUBLE PRECISION,
		last_ts_ms BIGINT NOT NULL,
		PRIMARY KEY (equipment_id, sensor_type, org_id)
	)`,
	`CREATE TABLE IF NOT EXISTS telemetry_readings (
		id TEXT PRIMARY KEY,
		equipment_id TEXT NOT NULL,
		sensor_type TEXT NOT NULL,
		value DOUBLE PRECISION,
		unit TEXT NOT NULL DEFAULT '',
		ts_ms BIGINT NOT NULL,
		org_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		flags_json JSONB NOT NULL,
		ema DOUBLE PRECISION,
		received_ms BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_readings_equipment_ts ON telemetry_readings(equipment_id, sensor_type, ts_ms)`,
	`CREATE TABLE IF NOT EXISTS alert_configurations (
		id BIGSERIAL PRIMARY KEY,
		equipment_id TEXT NOT NULL,
		sensor_type TEXT NOT NULL,
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		warning_threshold DOUBLE PRECISION,
		critical_threshold DOUBLE PRECISION
	)`,
	`CREATE INDEX IF NOT EXISTS idx_alert_configs_equipment ON alert_configurations(equipment_id)`,
	`CREATE TABLE IF NOT EXISTS alert_suppressions (
		id BIGSERIAL PRIMARY KEY,
		equipment_id TEXT NOT NULL,
		sensor_type TEXT NOT NULL,
		alert_type TEXT,
		until_ms BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS alert_notifications (
		id TEXT PRIMARY KEY,
		equipment_id TEXT NOT NULL,
		sensor_type TEXT NOT NULL,
		alert_type TEXT NOT NULL,
		message TEXT NOT NULL,
		value DOUBLE PRECISION NOT NULL,
		threshold DOUBLE PRECISION NOT NULL,
		acknowledged BOOLEAN NOT NULL DEFAULT FALSE,
		created_ms BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_alert_notifications_key ON alert_notifications(equipment_id, sensor_type, alert_type, created_ms)`,
	`CREATE TABLE IF NOT EXISTS maintenance_schedules (
		id TEXT PRIMARY KEY,
		equipment_id TEXT NOT NULL,
		auto_generated BOOLEAN NOT NULL DEFAULT FALSE,
		status TEXT NOT NULL,
		priority INTEGER NOT NULL,
		health_score DOUBLE PRECISION NOT NULL,
		created_ms BIGINT NOT NULL,
		scheduled_ms BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_maintenance_equipment ON maintenance_schedules(equipment_id, created_ms)`,
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/fleetpulse?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &sqlStore{db: db, dollar: true, schema: postgresSchema}, nil
}
