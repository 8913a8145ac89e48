package maintenance

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"fleetpulse/internal/model"
	"fleetpulse/internal/storage"
)

type recorder struct {
	events []string
}

func (r *recorder) Broadcast(channel string, eventType string, payload any) {
	r.events = append(r.events, channel+"/"+eventType)
}

func newSQLite(t *testing.T) storage.Store {
	t.Helper()
	st, err := storage.NewSQLite(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := st.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func val(v float64) *float64 { return &v }

func TestHealthScore(t *testing.T) {
	cases := []struct {
		sensor string
		value  float64
		want   float64
	}{
		{"failure_risk", 0.9, 10},
		{"pdm_score", 0.2, 80},
		{"pdm_score", 60, 60},
		{"pdm_score", 140, 100},
		{"health_index", -5, 0},
		{"Condition_Score", 42, 42},
	}
	for _, tc := range cases {
		got, ok := HealthScore(tc.sensor, tc.value)
		if !ok {
			t.Fatalf("%s should be a health sensor", tc.sensor)
		}
		if diff := got - tc.want; diff > 1e-9 || diff < -1e-9 {
			t.Fatalf("%s(%v) = %v, want %v", tc.sensor, tc.value, got, tc.want)
		}
	}
	if _, ok := HealthScore("temperature", 50); ok {
		t.Fatalf("temperature is not a health sensor")
	}
}

func TestPriority(t *testing.T) {
	if p, lead := Priority(10); p != 1 || lead != 24*time.Hour {
		t.Fatalf("score 10: %d %s", p, lead)
	}
	if p, _ := Priority(45); p != 2 {
		t.Fatalf("score 45: %d", p)
	}
	if p, _ := Priority(69.9); p != 3 {
		t.Fatalf("score 69.9: %d", p)
	}
	if p, lead := Priority(90); p != 4 || lead != 14*24*time.Hour {
		t.Fatalf("score 90: %d %s", p, lead)
	}
}

func TestTriggerSchedulesOncePerDay(t *testing.T) {
	st := newSQLite(t)
	rec := &recorder{}
	trig := NewTrigger(NewStoreScheduler(st), rec, nil)
	ctx := context.Background()
	r := model.TelemetryReading{EquipmentID: "pump-1", SensorType: "failure_risk", Value: val(0.9)}
	trig.Process(ctx, r)
	trig.Process(ctx, r)
	list, err := st.GetMaintenanceSchedules(ctx, "pump-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected one schedule, got %d", len(list))
	}
	if list[0].Priority != 1 || list[0].HealthScore < 9.99 || list[0].HealthScore > 10.01 {
		t.Fatalf("schedule mismatch: %+v", list[0])
	}
	if len(rec.events) != 1 || rec.events[0] != "maintenance/maintenance_schedule_created" {
		t.Fatalf("broadcast mismatch: %v", rec.events)
	}
}

func TestTriggerIgnoresOldAndManualSchedules(t *testing.T) {
	st := newSQLite(t)
	ctx := context.Background()
	old := &model.MaintenanceSchedule{EquipmentID: "e1", AutoGenerated: true, Status: model.ScheduleStatusScheduled, CreatedAt: time.Now().Add(-25 * time.Hour)}
	manual := &model.MaintenanceSchedule{EquipmentID: "e1", AutoGenerated: false, Status: model.ScheduleStatusScheduled}
	for _, s := range []*model.MaintenanceSchedule{old, manual} {
		if err := st.CreateMaintenanceSchedule(ctx, s); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	trig := NewTrigger(NewStoreScheduler(st), nil, nil)
	trig.Process(ctx, model.TelemetryReading{EquipmentID: "e1", SensorType: "health_index", Value: val(55)})
	list, _ := st.GetMaintenanceSchedules(ctx, "e1")
	if len(list) != 3 {
		t.Fatalf("expected a new schedule, got %d", len(list))
	}
}

type failingStore struct{}

func (failingStore) GetMaintenanceSchedules(ctx context.Context, equipmentID string) ([]model.MaintenanceSchedule, error) {
	return nil, nil
}

func (failingStore) AutoScheduleMaintenance(ctx context.Context, equipmentID string, healthScore float64) (*model.MaintenanceSchedule, error) {
	return nil, errors.New("scheduler unavailable")
}

func TestTriggerSwallowsErrors(t *testing.T) {
	rec := &recorder{}
	trig := NewTrigger(failingStore{}, rec, nil)
	trig.Process(context.Background(), model.TelemetryReading{EquipmentID: "e1", SensorType: "pdm_score", Value: val(0.5)})
	if len(rec.events) != 0 {
		t.Fatalf("failed schedule must not broadcast")
	}
}
