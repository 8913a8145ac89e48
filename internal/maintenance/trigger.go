// Package maintenance turns health telemetry into automatic maintenance
// schedules, at most one per equipment per day.
package maintenance

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"fleetpulse/internal/metrics"
	"fleetpulse/internal/model"
)

const (
	ChannelMaintenance = "maintenance"
	EventScheduled     = "maintenance_schedule_created"
	dedupeWindow       = 24 * time.Hour
)

type Store interface {
	GetMaintenanceSchedules(ctx context.Context, equipmentID string) ([]model.MaintenanceSchedule, error)
	AutoScheduleMaintenance(ctx context.Context, equipmentID string, healthScore float64) (*model.MaintenanceSchedule, error)
}

type Broadcaster interface {
	Broadcast(channel string, eventType string, payload any)
}

type Trigger struct {
	store       Store
	broadcaster Broadcaster
	logger      *slog.Logger
	now         func() time.Time
}

func NewTrigger(store Store, broadcaster Broadcaster, logger *slog.Logger) *Trigger {
	return &Trigger{
		store:       store,
		broadcaster: broadcaster,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// HealthScore maps a health-like reading onto 0..100, 100 being healthiest.
// ok is false for sensors outside the health whitelist.
func HealthScore(sensorType string, value float64) (score float64, ok bool) {
	switch strings.ToLower(strings.TrimSpace(sensorType)) {
	case "failure_risk":
		return clamp((1 - value) * 100), true
	case "pdm_score":
		if value <= 1 {
			return clamp((1 - value) * 100), true
		}
		return clamp(value), true
	case "health_index", "condition_score":
		return clamp(value), true
	}
	return 0, false
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// Process schedules maintenance when the reading warrants it. Failures are
// logged only.
func (t *Trigger) Process(ctx context.Context, reading model.TelemetryReading) {
	if reading.Value == nil {
		return
	}
	score, ok := HealthScore(reading.SensorType, *reading.Value)
	if !ok {
		return
	}
	schedules, err := t.store.GetMaintenanceSchedules(ctx, reading.EquipmentID)
	if err != nil {
		t.fail("load maintenance schedules", reading, err)
		return
	}
	cutoff := t.now().Add(-dedupeWindow)
	for _, s := range schedules {
		if s.AutoGenerated && s.Status == model.ScheduleStatusScheduled && s.CreatedAt.After(cutoff) {
			if t.logger != nil {
				t.logger.Debug("maintenance already scheduled", "equipment_id", reading.EquipmentID, "schedule_id", s.ID)
			}
			return
		}
	}
	schedule, err := t.store.AutoScheduleMaintenance(ctx, reading.EquipmentID, score)
	if err != nil {
		t.fail("auto schedule maintenance", reading, err)
		return
	}
	metrics.SchedulesCreated.Inc()
	if t.logger != nil {
		t.logger.Info("maintenance scheduled",
			"equipment_id", reading.EquipmentID,
			"health_score", score,
			"priority", schedule.Priority,
			"scheduled_for", schedule.ScheduledFor,
		)
	}
	if t.broadcaster != nil {
		t.broadcaster.Broadcast(ChannelMaintenance, EventScheduled, schedule)
	}
}

func (t *Trigger) fail(msg string, reading model.TelemetryReading, err error) {
	metrics.FanoutFailed.WithLabelValues("maintenance").Inc()
	if t.logger != nil {
		t.logger.Error(msg, "equipment_id", reading.EquipmentID, "sensor_type", reading.SensorType, "err", err)
	}
}
