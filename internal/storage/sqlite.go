package storage

import (
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS devices (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL DEFAULT '',
		hmac_key TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS sensor_configurations (
		equipment_id TEXT NOT NULL,
		sensor_type TEXT NOT NULL,
		org_id TEXT NOT NULL DEFAULT '',
		enabled INTEGER NOT NULL DEFAULT 1,
		gain REAL NOT NULL DEFAULT 1,
		offset_value REAL NOT NULL DEFAULT 0,
		min_valid REAL,
		max_valid REAL,
		deadband REAL,
		warn_hi REAL,
		warn_lo REAL,
		crit_hi REAL,
		crit_lo REAL,
		hysteresis REAL,
		ema_alpha REAL,
		PRIMARY KEY (equipment_id, sensor_type, org_id)
	)`,
	`CREATE TABLE IF NOT EXISTS sensor_states (
		equipment_id TEXT NOT NULL,
		sensor_type TEXT NOT NULL,
		org_id TEXT NOT NULL DEFAULT '',
		last_value REAL,
		ema REAL,
		last_ts_ms INTEGER NOT NULL,
		PRIMARY KEY (equipment_id, sensor_type, org_id)
	)`,
	`CREATE TABLE IF NOT EXISTS telemetry_readings (
		id TEXT PRIMARY KEY,
		equipment_id TEXT NOT NULL,
		sensor_type TEXT NOT NULL,
		value REAL,
		unit TEXT NOT NULL DEFAULT '',
		ts_ms INTEGER NOT NULL,
		org_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		flags_json TEXT NOT NULL,
		ema REAL,
		received_ms INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_readings_equipment_ts ON telemetry_readings(equipment_id, sensor_type, ts_ms)`,
	`CREATE TABLE IF NOT EXISTS alert_configurations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		equipment_id TEXT NOT NULL,
		sensor_type TEXT NOT NULL,
		enabled INTEGER NOT NULL DEFAULT 1,
		warning_threshold REAL,
		critical_threshold REAL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_alert_configs_equipment ON alert_configurations(equipment_id)`,
	`CREATE TABLE IF NOT EXISTS alert_suppressions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		equipment_id TEXT NOT NULL,
		sensor_type TEXT NOT NULL,
		alert_type TEXT,
		until_ms INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS alert_notifications (
		id TEXT PRIMARY KEY,
		equipment_id TEXT NOT NULL,
		sensor_type TEXT NOT NULL,
		alert_type TEXT NOT NULL,
		message TEXT NOT NULL,
		value REAL NOT NULL,
		threshold REAL NOT NULL,
		acknowledged INTEGER NOT NULL DEFAULT 0,
		created_ms INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_alert_notifications_key ON alert_notifications(equipment_id, sensor_type, alert_type, created_ms)`,
	`CREATE TABLE IF NOT EXISTS maintenance_schedules (
		id TEXT PRIMARY KEY,
		equipment_id TEXT NOT NULL,
		auto_generated INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		priority INTEGER NOT NULL,
		health_score REAL NOT NULL,
		created_ms INTEGER NOT NULL,
		scheduled_ms INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_maintenance_equipment ON maintenance_schedules(equipment_id, created_ms)`,
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:fleetpulse.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// one writer connection; also keeps in-memory databases alive across calls
	db.SetMaxOpenConns(1)
	return &sqlStore{db: db, schema: sqliteSchema}, nil
}
