package normalize

import (
	"errors"
	"math"
	"testing"
	"time"

	"fleetpulse/internal/model"
)

func TestNormalizeKeepsZeroAndStatus(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	v := 0.0
	r, err := Normalize(ReadingFields{EquipmentID: " pump-1 ", SensorType: "temp", Value: &v, Timestamp: "2026-03-01T11:59:00Z", Status: "WARNING"}, now, 5*time.Minute)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if r.EquipmentID != "pump-1" || !r.Timestamp.Equal(now.Add(-time.Minute)) || r.Status != model.StatusWarning {
		t.Fatalf("unexpected reading: %+v", r)
	}
	if r.Value == nil || *r.Value != 0 {
		t.Fatalf("zero value lost")
	}
}

func TestNormalizeRequiresTimestamp(t *testing.T) {
	v := 1.0
	_, err := Normalize(ReadingFields{EquipmentID: "e1", SensorType: "temp", Value: &v, Timestamp: "  "}, time.Now(), time.Minute)
	if !errors.Is(err, ErrMissingTimestamp) {
		t.Fatalf("expected missing timestamp error, got %v", err)
	}
}

func TestNormalizeRejectsFutureTimestamp(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	_, err := Normalize(ReadingFields{EquipmentID: "e1", SensorType: "temp", Timestamp: "2026-03-01T12:06:00Z"}, now, 5*time.Minute)
	if !errors.Is(err, ErrFutureTimestamp) {
		t.Fatalf("expected future timestamp error, got %v", err)
	}
	if _, err := Normalize(ReadingFields{EquipmentID: "e1", SensorType: "temp", Timestamp: "2026-03-01T12:04:00Z"}, now, 5*time.Minute); err != nil {
		t.Fatalf("within tolerance rejected: %v", err)
	}
}

func TestNormalizeRejectsNonFinite(t *testing.T) {
	v := math.Inf(1)
	_, err := Normalize(ReadingFields{EquipmentID: "e1", SensorType: "temp", Value: &v}, time.Now(), time.Minute)
	if !errors.Is(err, ErrNonFiniteValue) {
		t.Fatalf("expected non-finite error, got %v", err)
	}
}

func TestNormalizeRequiresIdentity(t *testing.T) {
	if _, err := Normalize(ReadingFields{SensorType: "temp"}, time.Now(), time.Minute); !errors.Is(err, ErrMissingEquipment) {
		t.Fatalf("expected missing equipment, got %v", err)
	}
	if _, err := Normalize(ReadingFields{EquipmentID: "e1"}, time.Now(), time.Minute); !errors.Is(err, ErrMissingSensor) {
		t.Fatalf("expected missing sensor, got %v", err)
	}
}

func TestParseTimestamp(t *testing.T) {
	cases := []string{"2026-02-23T12:34:56Z", "2026-02-23 12:34:56", "1771850096", "1771850096000"}
	for _, c := range cases {
		ts, err := ParseTimestamp(c)
		if err != nil {
			t.Fatalf("%s: %v", c, err)
		}
		if ts.Year() != 2026 {
			t.Fatalf("%s parsed as %s", c, ts)
		}
	}
	if _, err := ParseTimestamp("yesterday"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestParseValue(t *testing.T) {
	if v, err := ParseValue(""); err != nil || v != nil {
		t.Fatalf("empty should be null")
	}
	if v, err := ParseValue("0"); err != nil || v == nil || *v != 0 {
		t.Fatalf("zero mismatch")
	}
	if _, err := ParseValue("NaN"); err == nil {
		t.Fatalf("NaN accepted")
	}
	if _, err := ParseValue("abc"); err == nil {
		t.Fatalf("text accepted")
	}
}
