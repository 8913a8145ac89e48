package metrics

import (
	"testing"
	"time"

	"fleetpulse/internal/model"
)

func TestStoreKeepsLatestPerSensor(t *testing.T) {
	s := NewStore(10)
	v1, v2 := 1.0, 2.0
	s.Update(model.TelemetryReading{EquipmentID: "e1", SensorType: "temp", Value: &v1})
	s.Update(model.TelemetryReading{EquipmentID: "e1", SensorType: "temp", Value: &v2})
	s.Update(model.TelemetryReading{EquipmentID: "e1", SensorType: "rpm", Value: &v1})
	got, updated, ok := s.Get("e1")
	if !ok || len(got) != 2 || updated.IsZero() {
		t.Fatalf("unexpected readings: %+v", got)
	}
	for _, r := range got {
		if r.SensorType == "temp" && *r.Value != 2 {
			t.Fatalf("stale temp reading kept")
		}
	}
}

func TestStoreEvictsOldestEquipment(t *testing.T) {
	s := NewStore(2)
	for _, id := range []string{"e1", "e2", "e3"} {
		s.Update(model.TelemetryReading{EquipmentID: id, SensorType: "temp"})
		time.Sleep(2 * time.Millisecond)
	}
	if s.Count() != 2 {
		t.Fatalf("count: %d", s.Count())
	}
	if _, _, ok := s.Get("e1"); ok {
		t.Fatalf("oldest equipment not evicted")
	}
	s.Clear()
	if s.Count() != 0 {
		t.Fatalf("clear failed")
	}
}
