// Package ingest accepts readings over HTTP and Kafka and runs them through
// conditioning, storage and fan-out.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"fleetpulse/internal/conditioner"
	"fleetpulse/internal/metrics"
	"fleetpulse/internal/model"
	"fleetpulse/internal/normalize"
)

type ReadingStore interface {
	SaveReading(ctx context.Context, reading *model.TelemetryReading) error
}

type Conditioner interface {
	Process(ctx context.Context, in conditioner.Input) (conditioner.Result, error)
}

type Dispatcher interface {
	Dispatch(reading model.TelemetryReading)
}

type SettingsProvider interface {
	Settings() model.Settings
}

type Service struct {
	store       ReadingStore
	conditioner Conditioner
	dispatcher  Dispatcher
	latest      *metrics.Store
	settings    SettingsProvider
	logger      *slog.Logger
	now         func() time.Time
}

func NewService(store ReadingStore, cond Conditioner, dispatcher Dispatcher, latest *metrics.Store, settings SettingsProvider, logger *slog.Logger) *Service {
	return &Service{
		store:       store,
		conditioner: cond,
		dispatcher:  dispatcher,
		latest:      latest,
		settings:    settings,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Ingest validates, conditions and stores one reading, then hands it to the
// fan-out without waiting. authenticated, when set, must match the reading's
// equipment.
func (s *Service) Ingest(ctx context.Context, fields normalize.ReadingFields, authenticated string) (model.TelemetryReading, error) {
	tolerance := 5 * time.Minute
	if s.settings != nil {
		if m := s.settings.Settings().TimestampToleranceMinutes; m > 0 {
			tolerance = time.Duration(m) * time.Minute
		}
	}
	reading, err := normalize.Normalize(fields, s.now(), tolerance)
	if err != nil {
		raw := model.TelemetryReading{EquipmentID: fields.EquipmentID, SensorType: fields.SensorType}
		return s.reject(raw, &ValidationError{Err: err})
	}
	if authenticated != "" && reading.EquipmentID != authenticated {
		return s.reject(reading, &ValidationError{Err: fmt.Errorf("equipmentId %q does not match authenticated device", reading.EquipmentID)})
	}

	res, err := s.conditioner.Process(ctx, conditioner.Input{
		EquipmentID: reading.EquipmentID,
		SensorType:  reading.SensorType,
		Value:       reading.Value,
		Unit:        reading.Unit,
		OrgID:       reading.OrgID,
	})
	if err != nil {
		return s.reject(reading, &PersistenceError{Op: "condition reading", Err: err})
	}
	if !res.ShouldKeep {
		code := CodeDeadband
		if res.HasFlag(model.FlagDisabled) {
			code = CodeSensorDisabled
		}
		metrics.ReadingsIngested.WithLabelValues("skipped").Inc()
		return reading, &FilterSkip{Code: code}
	}

	reading.Value = res.ProcessedValue
	reading.Flags = res.Flags
	reading.EMA = res.EMA
	reading.Status = conditioner.StatusFromFlags(res.Flags, reading.Status)
	if err := s.store.SaveReading(ctx, &reading); err != nil {
		return s.reject(reading, &PersistenceError{Op: "save reading", Err: err})
	}
	metrics.ReadingsIngested.WithLabelValues("stored").Inc()
	if s.latest != nil {
		s.latest.Update(reading)
	}
	if s.dispatcher != nil {
		s.dispatcher.Dispatch(reading)
	}
	return reading, nil
}

func (s *Service) reject(reading model.TelemetryReading, err error) (model.TelemetryReading, error) {
	outcome := "invalid"
	if _, ok := err.(*PersistenceError); ok {
		outcome = "failed"
	}
	metrics.ReadingsIngested.WithLabelValues(outcome).Inc()
	if s.logger != nil {
		level := slog.LevelWarn
		if outcome == "failed" {
			level = slog.LevelError
		}
		s.logger.Log(context.Background(), level, "reading rejected",
			"equipment_id", reading.EquipmentID,
			"sensor_type", reading.SensorType,
			"err", err,
		)
	}
	return reading, err
}
