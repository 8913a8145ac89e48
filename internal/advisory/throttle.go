// Package advisory gates requests for generated maintenance advisories.
package advisory

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"fleetpulse/internal/metrics"
	"fleetpulse/internal/model"
)

const (
	ChannelAdvisories = "advisories"
	EventAdvisory     = "advisory"
)

type SettingsProvider interface {
	Settings() model.Settings
}

type ThresholdStore interface {
	GetAlertConfigurations(ctx context.Context, equipmentID string) ([]model.AlertConfiguration, error)
}

type Broadcaster interface {
	Broadcast(channel string, eventType string, payload any)
}

type Throttle struct {
	kv            KV
	generator     Generator
	settings      SettingsProvider
	thresholds    ThresholdStore
	broadcaster   Broadcaster
	defaultWindow time.Duration
	logger        *slog.Logger
}

func NewThrottle(kv KV, generator Generator, settings SettingsProvider, thresholds ThresholdStore, broadcaster Broadcaster, defaultWindow time.Duration, logger *slog.Logger) *Throttle {
	if kv == nil {
		kv = NewMemoryKV()
	}
	if defaultWindow <= 0 {
		defaultWindow = 2 * time.Minute
	}
	return &Throttle{
		kv:            kv,
		generator:     generator,
		settings:      settings,
		thresholds:    thresholds,
		broadcaster:   broadcaster,
		defaultWindow: defaultWindow,
		logger:        logger,
	}
}

// ShouldTrigger reports whether the reading is high-signal enough for an
// advisory. threshold is the configured vibration threshold, if any.
func ShouldTrigger(reading model.TelemetryReading, threshold *float64) bool {
	sensor := strings.ToLower(reading.SensorType)
	switch {
	case reading.Status == model.StatusCritical:
		return true
	case reading.Status == model.StatusWarning && strings.Contains(sensor, "temperature"):
		return true
	case strings.Contains(sensor, "vibration") && aboveVibrationLimit(reading.Value, threshold):
		return true
	case strings.Contains(sensor, "pressure") && reading.Status != "" && reading.Status != model.StatusNormal:
		return true
	}
	return false
}

func aboveVibrationLimit(value, threshold *float64) bool {
	if value == nil || threshold == nil {
		return false
	}
	limit := 0.8 * *threshold
	return *value > limit
}

func (t *Throttle) window(s model.Settings) time.Duration {
	if s.AdvisoryThrottleMinutes > 0 {
		return time.Duration(s.AdvisoryThrottleMinutes) * time.Minute
	}
	return t.defaultWindow
}

// Process requests an advisory when the reading warrants one and the
// (equipment, sensor) key is outside its throttle window. Failures are
// logged and never retried.
func (t *Throttle) Process(ctx context.Context, reading model.TelemetryReading) {
	settings := t.settings.Settings()
	if !settings.AdvisoryEnabled || t.generator == nil {
		return
	}
	if !ShouldTrigger(reading, t.vibrationThreshold(ctx, reading)) {
		return
	}
	key := "advisory:" + reading.EquipmentID + "|" + strings.ToLower(strings.TrimSpace(reading.SensorType))
	fresh, err := t.kv.SetNX(ctx, key, t.window(settings))
	if err != nil {
		metrics.AdvisoryRequests.WithLabelValues("throttle_error").Inc()
		t.log(slog.LevelError, "advisory throttle unavailable", reading, "err", err)
		return
	}
	if !fresh {
		metrics.AdvisoryRequests.WithLabelValues("throttled").Inc()
		return
	}
	adv, err := t.generator.GenerateAdvisory(ctx, buildRequest(reading))
	if err != nil {
		metrics.AdvisoryRequests.WithLabelValues("failed").Inc()
		metrics.FanoutFailed.WithLabelValues("advisory").Inc()
		t.log(slog.LevelError, "advisory generation failed", reading, "err", err)
		return
	}
	metrics.AdvisoryRequests.WithLabelValues("generated").Inc()
	t.log(slog.LevelInfo, "advisory generated", reading, "severity", adv.Severity, "title", adv.Title)
	switch strings.ToLower(adv.Severity) {
	case "critical", "high":
		if t.broadcaster != nil {
			t.broadcaster.Broadcast(ChannelAdvisories, EventAdvisory, map[string]any{
				"equipmentId": reading.EquipmentID,
				"sensorType":  reading.SensorType,
				"advisory":    adv,
			})
		}
	}
}

func (t *Throttle) vibrationThreshold(ctx context.Context, reading model.TelemetryReading) *float64 {
	if t.thresholds == nil || !strings.Contains(strings.ToLower(reading.SensorType), "vibration") {
		return nil
	}
	cfgs, err := t.thresholds.GetAlertConfigurations(ctx, reading.EquipmentID)
	if err != nil {
		t.log(slog.LevelWarn, "load vibration threshold", reading, "err", err)
		return nil
	}
	sensor := strings.ToLower(strings.TrimSpace(reading.SensorType))
	for _, c := range cfgs {
		if !c.Enabled || strings.ToLower(strings.TrimSpace(c.SensorType)) != sensor {
			continue
		}
		if c.WarningThreshold != nil {
			return c.WarningThreshold
		}
		if c.CriticalThreshold != nil {
			return c.CriticalThreshold
		}
	}
	return nil
}

func buildRequest(reading model.TelemetryReading) Request {
	kind := string(reading.Status)
	if kind == "" || reading.Status == model.StatusNormal {
		kind = "threshold"
	}
	return Request{
		AlertKind:   kind,
		EquipmentID: reading.EquipmentID,
		SensorContext: SensorContext{
			SensorType: reading.SensorType,
			Value:      reading.Value,
			Unit:       reading.Unit,
			Status:     reading.Status,
			Flags:      reading.Flags,
			Timestamp:  reading.Timestamp,
		},
		VesselContext: VesselContext{OrgID: reading.OrgID},
	}
}

func (t *Throttle) log(level slog.Level, msg string, reading model.TelemetryReading, args ...any) {
	if t.logger == nil {
		return
	}
	args = append([]any{"equipment_id", reading.EquipmentID, "sensor_type", reading.SensorType}, args...)
	t.logger.Log(context.Background(), level, msg, args...)
}
