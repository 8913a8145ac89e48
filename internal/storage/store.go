package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"fleetpulse/internal/config"
	"fleetpulse/internal/model"
)

type Store interface {
	Init(ctx context.Context) error
	Close() error
	Ping(ctx context.Context) error

	GetDevice(ctx context.Context, id string) (*model.Device, error)
	UpsertDevice(ctx context.Context, dev model.Device) error

	GetSensorConfiguration(ctx context.Context, equipmentID, sensorType, orgID string) (*model.SensorConfiguration, error)
	UpsertSensorConfiguration(ctx context.Context, cfg model.SensorConfiguration) error
	GetSensorState(ctx context.Context, equipmentID, sensorType, orgID string) (*model.SensorState, error)
	UpsertSensorState(ctx context.Context, state model.SensorState) error

	SaveReading(ctx context.Context, reading *model.TelemetryReading) error

	GetAlertConfigurations(ctx context.Context, equipmentID string) ([]model.AlertConfiguration, error)
	SaveAlertConfiguration(ctx context.Context, cfg model.AlertConfiguration) (int64, error)
	SaveAlertSuppression(ctx context.Context, s model.AlertSuppression) error
	IsAlertSuppressed(ctx context.Context, equipmentID, sensorType string, alertType model.AlertType) (bool, error)
	HasRecentAlert(ctx context.Context, equipmentID, sensorType string, alertType model.AlertType, since time.Time) (bool, error)
	CreateAlertNotification(ctx context.Context, n *model.AlertNotification) error
	ListAlertNotifications(ctx context.Context, limit int) ([]model.AlertNotification, error)
	AcknowledgeAlert(ctx context.Context, id string) (bool, error)

	GetMaintenanceSchedules(ctx context.Context, equipmentID string) ([]model.MaintenanceSchedule, error)
	CreateMaintenanceSchedule(ctx context.Context, s *model.MaintenanceSchedule) error
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, errors.New("unsupported storage driver")
	}
}

// sqlStore holds every query; dialects differ only in schema and placeholders.
type sqlStore struct {
	db      *sql.DB
	dollar  bool
	schema  []string
	nowFunc func() time.Time
}

func (s *sqlStore) Init(ctx context.Context) error {
	for _, stmt := range s.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqlStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *sqlStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// q rewrites ? placeholders to $n for postgres.
func (s *sqlStore) q(query string) string {
	if !s.dollar {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}

func (s *sqlStore) now() time.Time {
	if s.nowFunc != nil {
		return s.nowFunc()
	}
	return time.Now().UTC()
}

func (s *sqlStore) GetDevice(ctx context.Context, id string) (*model.Device, error) {
	var dev model.Device
	var key sql.NullString
	err := s.db.QueryRowContext(ctx, s.q(`SELECT id, org_id, hmac_key FROM devices WHERE id = ?`), id).
		Scan(&dev.ID, &dev.OrgID, &key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if key.Valid {
		dev.HMACKey = &key.String
	}
	return &dev, nil
}

func (s *sqlStore) UpsertDevice(ctx context.Context, dev model.Device) error {
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO devices (id, org_id, hmac_key) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET org_id = excluded.org_id, hmac_key = excluded.hmac_key`),
		dev.ID, dev.OrgID, nullString(dev.HMACKey))
	return err
}

func (s *sqlStore) GetSensorConfiguration(ctx context.Context, equipmentID, sensorType, orgID string) (*model.SensorConfiguration, error) {
	cfg := model.SensorConfiguration{EquipmentID: equipmentID, SensorType: sensorType, OrgID: orgID}
	var minValid, maxValid, deadband, warnHi, warnLo, critHi, critLo, hyst, alpha sql.NullFloat64
	err := s.db.QueryRowContext(ctx, s.q(`SELECT enabled, gain, offset_value, min_valid, max_valid, deadband,
		warn_hi, warn_lo, crit_hi, crit_lo, hysteresis, ema_alpha
		FROM sensor_configurations WHERE equipment_id = ? AND sensor_type = ? AND org_id = ?`),
		equipmentID, sensorType, orgID).
		Scan(&cfg.Enabled, &cfg.Gain, &cfg.Offset, &minValid, &maxValid, &deadband,
			&warnHi, &warnLo, &critHi, &critLo, &hyst, &alpha)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	cfg.MinValid = floatPtr(minValid)
	cfg.MaxValid = floatPtr(maxValid)
	cfg.Deadband = floatPtr(deadband)
	cfg.WarnHi = floatPtr(warnHi)
	cfg.WarnLo = floatPtr(warnLo)
	cfg.CritHi = floatPtr(critHi)
	cfg.CritLo = floatPtr(critLo)
	cfg.Hysteresis = floatPtr(hyst)
	cfg.EMAAlpha = floatPtr(alpha)
	return &cfg, nil
}

func (s *sqlStore) UpsertSensorConfiguration(ctx context.Context, cfg model.SensorConfiguration) error {
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO sensor_configurations
		(equipment_id, sensor_type, org_id, enabled, gain, offset_value, min_valid, max_valid, deadband,
		 warn_hi, warn_lo, crit_hi, crit_lo, hysteresis, ema_alpha)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (equipment_id, sensor_type, org_id) DO UPDATE SET
		 enabled = excluded.enabled, gain = excluded.gain, offset_value = excluded.offset_value,
		 min_valid = excluded.min_valid, max_valid = excluded.max_valid, deadband = excluded.deadband,
		 warn_hi = excluded.warn_hi, warn_lo = excluded.warn_lo, crit_hi = excluded.crit_hi,
		 crit_lo = excluded.crit_lo, hysteresis = excluded.hysteresis, ema_alpha = excluded.ema_alpha`),
		cfg.EquipmentID, cfg.SensorType, cfg.OrgID, cfg.Enabled, cfg.Gain, cfg.Offset,
		nullFloat(cfg.MinValid), nullFloat(cfg.MaxValid), nullFloat(cfg.Deadband),
		nullFloat(cfg.WarnHi), nullFloat(cfg.WarnLo), nullFloat(cfg.CritHi), nullFloat(cfg.CritLo),
		nullFloat(cfg.Hysteresis), nullFloat(cfg.EMAAlpha))
	return err
}

func (s *sqlStore) GetSensorState(ctx context.Context, equipmentID, sensorType, orgID string) (*model.SensorState, error) {
	st := model.SensorState{EquipmentID: equipmentID, SensorType: sensorType, OrgID: orgID}
	var last, ema sql.NullFloat64
	var tsMs int64
	err := s.db.QueryRowContext(ctx, s.q(`SELECT last_value, ema, last_ts_ms FROM sensor_states
		WHERE equipment_id = ? AND sensor_type = ? AND org_id = ?`), equipmentID, sensorType, orgID).
		Scan(&last, &ema, &tsMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	st.LastValue = floatPtr(last)
	st.EMA = floatPtr(ema)
	st.LastTimestamp = time.UnixMilli(tsMs).UTC()
	return &st, nil
}

// UpsertSensorState is a single statement, so the row write is atomic per key.
func (s *sqlStore) UpsertSensorState(ctx context.Context, st model.SensorState) error {
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO sensor_states (equipment_id, sensor_type, org_id, last_value, ema, last_ts_ms)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (equipment_id, sensor_type, org_id) DO UPDATE SET
		 last_value = excluded.last_value, ema = excluded.ema, last_ts_ms = excluded.last_ts_ms`),
		st.EquipmentID, st.SensorType, st.OrgID, nullFloat(st.LastValue), nullFloat(st.EMA), st.LastTimestamp.UnixMilli())
	return err
}

func (s *sqlStore) SaveReading(ctx context.Context, r *model.TelemetryReading) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO telemetry_readings
		(id, equipment_id, sensor_type, value, unit, ts_ms, org_id, status, flags_json, ema, received_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		r.ID, r.EquipmentID, r.SensorType, nullFloat(r.Value), r.Unit, r.Timestamp.UnixMilli(),
		r.OrgID, string(r.Status), encodeJSON(r.Flags), nullFloat(r.EMA), s.now().UnixMilli())
	return err
}

func (s *sqlStore) GetAlertConfigurations(ctx context.Context, equipmentID string) ([]model.AlertConfiguration, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT id, equipment_id, sensor_type, enabled, warning_threshold, critical_threshold
		FROM alert_configurations WHERE equipment_id = ?`), equipmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.AlertConfiguration
	for rows.Next() {
		var c model.AlertConfiguration
		var warn, crit sql.NullFloat64
		if err := rows.Scan(&c.ID, &c.EquipmentID, &c.SensorType, &c.Enabled, &warn, &crit); err != nil {
			return nil, err
		}
		c.WarningThreshold = floatPtr(warn)
		c.CriticalThreshold = floatPtr(crit)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *sqlStore) SaveAlertConfiguration(ctx context.Context, c model.AlertConfiguration) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, s.q(`INSERT INTO alert_configurations
		(equipment_id, sensor_type, enabled, warning_threshold, critical_threshold)
		VALUES (?, ?, ?, ?, ?) RETURNING id`),
		c.EquipmentID, c.SensorType, c.Enabled, nullFloat(c.WarningThreshold), nullFloat(c.CriticalThreshold)).Scan(&id)
	return id, err
}

func (s *sqlStore) SaveAlertSuppression(ctx context.Context, sup model.AlertSuppression) error {
	var alertType any
	if sup.AlertType != nil {
		alertType = string(*sup.AlertType)
	}
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO alert_suppressions (equipment_id, sensor_type, alert_type, until_ms)
		VALUES (?, ?, ?, ?)`), sup.EquipmentID, sup.SensorType, alertType, sup.Until.UnixMilli())
	return err
}

func (s *sqlStore) IsAlertSuppressed(ctx context.Context, equipmentID, sensorType string, alertType model.AlertType) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, s.q(`SELECT 1 FROM alert_suppressions
		WHERE equipment_id = ? AND lower(sensor_type) = lower(?)
		AND (alert_type IS NULL OR alert_type = ?) AND until_ms > ? LIMIT 1`),
		equipmentID, strings.TrimSpace(sensorType), string(alertType), s.now().UnixMilli()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (s *sqlStore) HasRecentAlert(ctx context.Context, equipmentID, sensorType string, alertType model.AlertType, since time.Time) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, s.q(`SELECT 1 FROM alert_notifications
		WHERE equipment_id = ? AND lower(trim(sensor_type)) = lower(?) AND alert_type = ? AND acknowledged = ? AND created_ms >= ? LIMIT 1`),
		equipmentID, strings.TrimSpace(sensorType), string(alertType), false, since.UnixMilli()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (s *sqlStore) CreateAlertNotification(ctx context.Context, n *model.AlertNotification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO alert_notifications
		(id, equipment_id, sensor_type, alert_type, message, value, threshold, acknowledged, created_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		n.ID, n.EquipmentID, n.SensorType, string(n.AlertType), n.Message, n.Value, n.Threshold,
		n.Acknowledged, n.CreatedAt.UnixMilli())
	return err
}

func (s *sqlStore) ListAlertNotifications(ctx context.Context, limit int) ([]model.AlertNotification, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT id, equipment_id, sensor_type, alert_type, message, value, threshold, acknowledged, created_ms
		FROM alert_notifications ORDER BY created_ms DESC LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.AlertNotification, 0)
	for rows.Next() {
		var n model.AlertNotification
		var alertType string
		var createdMs int64
		if err := rows.Scan(&n.ID, &n.EquipmentID, &n.SensorType, &alertType, &n.Message, &n.Value,
			&n.Threshold, &n.Acknowledged, &createdMs); err != nil {
			return nil, err
		}
		n.AlertType = model.AlertType(alertType)
		n.CreatedAt = time.UnixMilli(createdMs).UTC()
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *sqlStore) AcknowledgeAlert(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE alert_notifications SET acknowledged = ? WHERE id = ?`), true, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *sqlStore) GetMaintenanceSchedules(ctx context.Context, equipmentID string) ([]model.MaintenanceSchedule, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT id, equipment_id, auto_generated, status, priority, health_score, created_ms, scheduled_ms
		FROM maintenance_schedules WHERE equipment_id = ? ORDER BY created_ms DESC`), equipmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.MaintenanceSchedule
	for rows.Next() {
		var m model.MaintenanceSchedule
		var createdMs, scheduledMs int64
		if err := rows.Scan(&m.ID, &m.EquipmentID, &m.AutoGenerated, &m.Status, &m.Priority, &m.HealthScore,
			&createdMs, &scheduledMs); err != nil {
			return nil, err
		}
		m.CreatedAt = time.UnixMilli(createdMs).UTC()
		m.ScheduledFor = time.UnixMilli(scheduledMs).UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *sqlStore) CreateMaintenanceSchedule(ctx context.Context, m *model.MaintenanceSchedule) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO maintenance_schedules
		(id, equipment_id, auto_generated, status, priority, health_score, created_ms, scheduled_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		m.ID, m.EquipmentID, m.AutoGenerated, m.Status, m.Priority, m.HealthScore,
		m.CreatedAt.UnixMilli(), m.ScheduledFor.UnixMilli())
	return err
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}
