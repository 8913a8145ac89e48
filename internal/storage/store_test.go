package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"fleetpulse/internal/model"
)

func newTestStore(t *testing.T) *sqlStore {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	st, err := NewSQLite(dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	s := st.(*sqlStore)
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func f(v float64) *float64 { return &v }

func TestPlaceholderRewrite(t *testing.T) {
	s := &sqlStore{dollar: true}
	got := s.q("SELECT 1 WHERE a = ? AND b = ?")
	if got != "SELECT 1 WHERE a = $1 AND b = $2" {
		t.Fatalf("rewrite: %s", got)
	}
}

func TestDeviceRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := "secret"
	if err := s.UpsertDevice(ctx, model.Device{ID: "pump-1", OrgID: "org", HMACKey: &key}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	dev, err := s.GetDevice(ctx, "pump-1")
	if err != nil || dev == nil {
		t.Fatalf("get device: %v", err)
	}
	if dev.HMACKey == nil || *dev.HMACKey != "secret" {
		t.Fatalf("hmac key mismatch")
	}
	missing, err := s.GetDevice(ctx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("expected nil device, got %v %v", missing, err)
	}
}

func TestSensorStateUpsertKeepsZero(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	st := model.SensorState{EquipmentID: "e1", SensorType: "temp", OrgID: "o", LastValue: f(0), EMA: f(0), LastTimestamp: now}
	if err := s.UpsertSensorState(ctx, st); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	st.LastValue = f(0)
	st.EMA = nil
	if err := s.UpsertSensorState(ctx, st); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	got, err := s.GetSensorState(ctx, "e1", "temp", "o")
	if err != nil || got == nil {
		t.Fatalf("get state: %v", err)
	}
	if got.LastValue == nil || *got.LastValue != 0 {
		t.Fatalf("zero last value lost: %v", got.LastValue)
	}
	if got.EMA != nil {
		t.Fatalf("expected nil ema after overwrite")
	}
	if !got.LastTimestamp.Equal(now) {
		t.Fatalf("timestamp mismatch: %s vs %s", got.LastTimestamp, now)
	}
}

func TestConcurrentStateUpserts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.UpsertSensorState(ctx, model.SensorState{EquipmentID: "e1", SensorType: "p", LastValue: f(float64(i)), LastTimestamp: time.Now()})
		}(i)
	}
	wg.Wait()
	got, err := s.GetSensorState(ctx, "e1", "p", "")
	if err != nil || got == nil || got.LastValue == nil {
		t.Fatalf("state missing: %v", err)
	}
}

func TestSensorConfigurationRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	cfg := model.SensorConfiguration{EquipmentID: "e1", SensorType: "temp", Enabled: true, Gain: 2, Offset: -1, CritHi: f(90), Hysteresis: f(5)}
	if err := s.UpsertSensorConfiguration(ctx, cfg); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, err := s.GetSensorConfiguration(ctx, "e1", "temp", "")
	if err != nil || got == nil {
		t.Fatalf("get: %v", err)
	}
	if got.Gain != 2 || got.Offset != -1 || got.CritHi == nil || *got.CritHi != 90 || got.WarnHi != nil {
		t.Fatalf("config mismatch: %+v", got)
	}
}

func TestRecentAlertAndAcknowledge(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	n := &model.AlertNotification{EquipmentID: "e1", SensorType: "temp", AlertType: model.AlertCritical, Message: "hot", Value: 95, Threshold: 90}
	if err := s.CreateAlertNotification(ctx, n); err != nil {
		t.Fatalf("create: %v", err)
	}
	since := time.Now().Add(-10 * time.Minute)
	ok, err := s.HasRecentAlert(ctx, "e1", "temp", model.AlertCritical, since)
	if err != nil || !ok {
		t.Fatalf("expected recent alert: %v", err)
	}
	ok, _ = s.HasRecentAlert(ctx, "e1", "temp", model.AlertWarning, since)
	if ok {
		t.Fatalf("warning should not match critical")
	}
	acked, err := s.AcknowledgeAlert(ctx, n.ID)
	if err != nil || !acked {
		t.Fatalf("ack: %v", err)
	}
	ok, _ = s.HasRecentAlert(ctx, "e1", "temp", model.AlertCritical, since)
	if ok {
		t.Fatalf("acknowledged alerts must not dedupe")
	}
	list, err := s.ListAlertNotifications(ctx, 10)
	if err != nil || len(list) != 1 || !list[0].Acknowledged {
		t.Fatalf("list mismatch: %v %+v", err, list)
	}
}

func TestRecentAlertIgnoresSensorCase(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	n := &model.AlertNotification{EquipmentID: "e1", SensorType: "Pressure", AlertType: model.AlertCritical, Message: "low", Value: 15, Threshold: 20}
	if err := s.CreateAlertNotification(ctx, n); err != nil {
		t.Fatalf("create: %v", err)
	}
	ok, err := s.HasRecentAlert(ctx, "e1", " pressure ", model.AlertCritical, time.Now().Add(-10*time.Minute))
	if err != nil || !ok {
		t.Fatalf("case variant should match recent alert: %v", err)
	}
}

func TestSuppression(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	crit := model.AlertCritical
	if err := s.SaveAlertSuppression(ctx, model.AlertSuppression{EquipmentID: "e1", SensorType: "Temp", AlertType: &crit, Until: time.Now().Add(time.Hour)}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if ok, err := s.IsAlertSuppressed(ctx, "e1", " temp ", model.AlertCritical); err != nil || !ok {
		t.Fatalf("expected suppression: %v", err)
	}
	if ok, _ := s.IsAlertSuppressed(ctx, "e1", "temp", model.AlertWarning); ok {
		t.Fatalf("warning should not be suppressed")
	}
	if err := s.SaveAlertSuppression(ctx, model.AlertSuppression{EquipmentID: "e2", SensorType: "flow", Until: time.Now().Add(-time.Minute)}); err != nil {
		t.Fatalf("save expired: %v", err)
	}
	if ok, _ := s.IsAlertSuppressed(ctx, "e2", "flow", model.AlertWarning); ok {
		t.Fatalf("expired suppression still active")
	}
}

func TestAlertConfigurationsAndSchedules(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id, err := s.SaveAlertConfiguration(ctx, model.AlertConfiguration{EquipmentID: "e1", SensorType: "pressure", Enabled: true, WarningThreshold: f(30), CriticalThreshold: f(20)})
	if err != nil || id == 0 {
		t.Fatalf("save config: %v %d", err, id)
	}
	cfgs, err := s.GetAlertConfigurations(ctx, "e1")
	if err != nil || len(cfgs) != 1 || *cfgs[0].CriticalThreshold != 20 {
		t.Fatalf("configs mismatch: %v %+v", err, cfgs)
	}
	m := &model.MaintenanceSchedule{EquipmentID: "e1", AutoGenerated: true, Status: model.ScheduleStatusScheduled, Priority: 1, HealthScore: 10, ScheduledFor: time.Now().Add(24 * time.Hour)}
	if err := s.CreateMaintenanceSchedule(ctx, m); err != nil {
		t.Fatalf("create schedule: %v", err)
	}
	list, err := s.GetMaintenanceSchedules(ctx, "e1")
	if err != nil || len(list) != 1 || !list[0].AutoGenerated {
		t.Fatalf("schedules mismatch: %v %+v", err, list)
	}
}

func TestSaveReadingNullValue(t *testing.T) {
	s := newTestStore(t)
	r := &model.TelemetryReading{EquipmentID: "e1", SensorType: "temp", Timestamp: time.Now(), Status: model.StatusOffline, Flags: []string{model.FlagNullValue}}
	if err := s.SaveReading(context.Background(), r); err != nil {
		t.Fatalf("save: %v", err)
	}
	if r.ID == "" {
		t.Fatalf("id not assigned")
	}
}
