// Package normalize validates raw reading fields into a TelemetryReading.
package normalize

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"fleetpulse/internal/model"
)

// ReadingFields is a reading as received, before validation.
type ReadingFields struct {
	EquipmentID string
	SensorType  string
	Value       *float64
	Unit        string
	Timestamp   string
	OrgID       string
	Status      string
}

var (
	ErrMissingEquipment = errors.New("equipmentId is required")
	ErrMissingSensor    = errors.New("sensorType is required")
	ErrMissingTimestamp = errors.New("timestamp is required")
	ErrFutureTimestamp  = errors.New("timestamp is too far in the future")
	ErrNonFiniteValue   = errors.New("value must be a finite number")
)

// Normalize checks the fields and builds a reading. The timestamp is
// required and may not be later than now+tolerance.
func Normalize(fields ReadingFields, now time.Time, tolerance time.Duration) (model.TelemetryReading, error) {
	equipment := strings.TrimSpace(fields.EquipmentID)
	if equipment == "" {
		return model.TelemetryReading{}, ErrMissingEquipment
	}
	sensor := strings.TrimSpace(fields.SensorType)
	if sensor == "" {
		return model.TelemetryReading{}, ErrMissingSensor
	}
	if fields.Value != nil && !IsFinite(*fields.Value) {
		return model.TelemetryReading{}, ErrNonFiniteValue
	}

	if strings.TrimSpace(fields.Timestamp) == "" {
		return model.TelemetryReading{}, ErrMissingTimestamp
	}
	parsed, err := ParseTimestamp(fields.Timestamp)
	if err != nil {
		return model.TelemetryReading{}, fmt.Errorf("parse timestamp: %w", err)
	}
	ts := parsed.UTC()
	if ts.After(now.Add(tolerance)) {
		return model.TelemetryReading{}, fmt.Errorf("%w: %s", ErrFutureTimestamp, ts.Format(time.RFC3339))
	}

	return model.TelemetryReading{
		EquipmentID: equipment,
		SensorType:  sensor,
		Value:       fields.Value,
		Unit:        strings.TrimSpace(fields.Unit),
		Timestamp:   ts,
		OrgID:       strings.TrimSpace(fields.OrgID),
		Status:      ParseStatus(fields.Status),
	}, nil
}

func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// ParseStatus accepts a device-reported status; unknown values are dropped.
func ParseStatus(status string) model.Status {
	switch s := model.Status(strings.ToLower(strings.TrimSpace(status))); s {
	case model.StatusNormal, model.StatusWarning, model.StatusCritical, model.StatusOffline:
		return s
	}
	return ""
}

// ParseValue parses a textual value. Empty and "null" mean no value.
func ParseValue(value string) (*float64, error) {
	value = strings.TrimSpace(value)
	if value == "" || strings.EqualFold(value, "null") {
		return nil, nil
	}
	v, err := strconv.ParseFloat(value, 64)
	if err != nil || !IsFinite(v) {
		return nil, ErrNonFiniteValue
	}
	return &v, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05Z0700",
}

// ParseTimestamp accepts RFC3339 and common variants, or unix seconds or
// milliseconds. Zone-less layouts are read as UTC.
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if isNumeric(value) {
		if ts, err := parseUnix(value); err == nil {
			return ts, nil
		}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", value)
}

func isNumeric(value string) bool {
	for _, ch := range value {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return len(value) > 0
}

func parseUnix(value string) (time.Time, error) {
	if len(value) >= 13 {
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		return time.UnixMilli(ms).UTC(), nil
	}
	sec, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0).UTC(), nil
}
