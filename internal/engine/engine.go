// Package engine raises threshold alerts for stored readings.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"fleetpulse/internal/config"
	"fleetpulse/internal/metrics"
	"fleetpulse/internal/model"
)

type Store interface {
	GetAlertConfigurations(ctx context.Context, equipmentID string) ([]model.AlertConfiguration, error)
	IsAlertSuppressed(ctx context.Context, equipmentID, sensorType string, alertType model.AlertType) (bool, error)
	HasRecentAlert(ctx context.Context, equipmentID, sensorType string, alertType model.AlertType, since time.Time) (bool, error)
	CreateAlertNotification(ctx context.Context, n *model.AlertNotification) error
}

type Broadcaster interface {
	BroadcastAlert(payload any)
}

type Engine struct {
	logger      *slog.Logger
	store       Store
	broadcaster Broadcaster
	cfg         atomic.Value
	now         func() time.Time
}

func NewEngine(cfg config.AlertsConfig, store Store, broadcaster Broadcaster, logger *slog.Logger) *Engine {
	e := &Engine{
		logger:      logger,
		store:       store,
		broadcaster: broadcaster,
		now:         func() time.Time { return time.Now().UTC() },
	}
	e.cfg.Store(cfg)
	return e
}

func (e *Engine) UpdateConfig(cfg config.AlertsConfig) {
	e.cfg.Store(cfg)
}

func (e *Engine) config() config.AlertsConfig {
	cfg, _ := e.cfg.Load().(config.AlertsConfig)
	def := config.DefaultConfig().Alerts
	if cfg.DedupeWindow <= 0 {
		cfg.DedupeWindow = def.DedupeWindow
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	return cfg
}

// Process evaluates the reading and retries once on a transient failure.
// Errors are logged, never returned.
func (e *Engine) Process(ctx context.Context, reading model.TelemetryReading) {
	_, err := e.Evaluate(ctx, reading)
	if err != nil && isTransient(err) {
		e.warn("alert evaluation failed, retrying", reading, err)
		if sleepErr := sleepCtx(ctx, e.config().RetryDelay); sleepErr != nil {
			err = sleepErr
		} else {
			_, err = e.Evaluate(ctx, reading)
		}
	}
	if err != nil {
		metrics.FanoutFailed.WithLabelValues("alerts").Inc()
		if e.logger != nil {
			e.logger.Error("alert evaluation failed",
				"equipment_id", reading.EquipmentID,
				"sensor_type", reading.SensorType,
				"err", err,
			)
		}
	}
}

// Evaluate checks every enabled configuration matching the reading and
// creates at most one notification per configuration.
func (e *Engine) Evaluate(ctx context.Context, reading model.TelemetryReading) ([]model.AlertNotification, error) {
	if reading.Value == nil {
		return nil, nil
	}
	cfgs, err := e.store.GetAlertConfigurations(ctx, reading.EquipmentID)
	if err != nil {
		return nil, fmt.Errorf("load alert configurations: %w", err)
	}
	value := *reading.Value
	sensor := NormalizeSensor(reading.SensorType)
	var created []model.AlertNotification
	for _, ac := range cfgs {
		if !ac.Enabled || NormalizeSensor(ac.SensorType) != sensor {
			continue
		}
		alertType, threshold, ok := e.classify(ac, value)
		if !ok {
			continue
		}
		n, err := e.raise(ctx, reading, alertType, value, threshold)
		if err != nil {
			return created, err
		}
		if n != nil {
			created = append(created, *n)
		}
	}
	return created, nil
}

func (e *Engine) classify(ac model.AlertConfiguration, v float64) (model.AlertType, float64, bool) {
	dir, mismatch := InferDirection(ac.SensorType, ac.WarningThreshold, ac.CriticalThreshold)
	if mismatch && e.logger != nil {
		e.logger.Warn("threshold order disagrees with sensor catalog",
			"equipment_id", ac.EquipmentID,
			"sensor_type", ac.SensorType,
			"direction", dir.String(),
		)
	}
	crossed := func(th float64) bool {
		if dir == LowIsBad {
			return v <= th
		}
		return v >= th
	}
	if ac.CriticalThreshold != nil && crossed(*ac.CriticalThreshold) {
		return model.AlertCritical, *ac.CriticalThreshold, true
	}
	if ac.WarningThreshold != nil && crossed(*ac.WarningThreshold) {
		return model.AlertWarning, *ac.WarningThreshold, true
	}
	return "", 0, false
}

func (e *Engine) raise(ctx context.Context, reading model.TelemetryReading, alertType model.AlertType, value, threshold float64) (*model.AlertNotification, error) {
	suppressed, err := e.store.IsAlertSuppressed(ctx, reading.EquipmentID, reading.SensorType, alertType)
	if err != nil {
		return nil, fmt.Errorf("check suppression: %w", err)
	}
	if suppressed {
		if e.logger != nil {
			e.logger.Info("alert suppressed",
				"equipment_id", reading.EquipmentID,
				"sensor_type", reading.SensorType,
				"alert_type", string(alertType),
			)
		}
		return nil, nil
	}
	since := e.now().Add(-e.config().DedupeWindow)
	recent, err := e.store.HasRecentAlert(ctx, reading.EquipmentID, reading.SensorType, alertType, since)
	if err != nil {
		return nil, fmt.Errorf("check recent alerts: %w", err)
	}
	if recent {
		metrics.AlertsSkipped.WithLabelValues("duplicate").Inc()
		return nil, nil
	}
	n := &model.AlertNotification{
		EquipmentID: reading.EquipmentID,
		SensorType:  reading.SensorType,
		AlertType:   alertType,
		Message:     alertMessage(reading, alertType, value, threshold),
		Value:       value,
		Threshold:   threshold,
	}
	if err := e.store.CreateAlertNotification(ctx, n); err != nil {
		return nil, fmt.Errorf("create alert notification: %w", err)
	}
	metrics.AlertsGenerated.WithLabelValues(string(alertType)).Inc()
	if e.logger != nil {
		e.logger.Warn("alert triggered",
			"equipment_id", n.EquipmentID,
			"sensor_type", n.SensorType,
			"alert_type", string(n.AlertType),
			"value", n.Value,
			"threshold", n.Threshold,
		)
	}
	if e.broadcaster != nil {
		e.broadcaster.BroadcastAlert(*n)
	}
	return n, nil
}

func alertMessage(reading model.TelemetryReading, alertType model.AlertType, value, threshold float64) string {
	unit := ""
	if reading.Unit != "" {
		unit = " " + reading.Unit
	}
	return fmt.Sprintf("%s alert: %s on %s is %g%s (threshold %g%s)",
		strings.ToUpper(string(alertType[:1]))+string(alertType[1:]),
		reading.SensorType, reading.EquipmentID, value, unit, threshold, unit)
}

func (e *Engine) warn(msg string, reading model.TelemetryReading, err error) {
	if e.logger == nil {
		return
	}
	e.logger.Warn(msg,
		"equipment_id", reading.EquipmentID,
		"sensor_type", reading.SensorType,
		"err", err,
	)
}
