package fanout

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"fleetpulse/internal/config"
	"fleetpulse/internal/model"
)

func testConfig() config.FanoutConfig {
	return config.FanoutConfig{
		Alerts:       config.BranchConfig{Workers: 2, QueueSize: 16},
		Maintenance:  config.BranchConfig{Workers: 2, QueueSize: 16},
		Advisory:     config.BranchConfig{Workers: 2, QueueSize: 16},
		DrainTimeout: 2 * time.Second,
	}
}

func TestDispatchReachesEveryBranch(t *testing.T) {
	var alerts, maint, adv atomic.Int32
	c := New(testConfig(),
		BranchFunc(func(ctx context.Context, r model.TelemetryReading) { alerts.Add(1) }),
		BranchFunc(func(ctx context.Context, r model.TelemetryReading) { maint.Add(1) }),
		BranchFunc(func(ctx context.Context, r model.TelemetryReading) { adv.Add(1) }),
		nil)
	c.Start()
	for i := 0; i < 5; i++ {
		c.Dispatch(model.TelemetryReading{EquipmentID: "e1", SensorType: "temp"})
	}
	if !c.Shutdown() {
		t.Fatalf("shutdown should drain cleanly")
	}
	if alerts.Load() != 5 || maint.Load() != 5 || adv.Load() != 5 {
		t.Fatalf("branch counts: %d %d %d", alerts.Load(), maint.Load(), adv.Load())
	}
}

func TestDispatchDoesNotWaitForSlowBranch(t *testing.T) {
	release := make(chan struct{})
	var fast atomic.Int32
	c := New(testConfig(),
		BranchFunc(func(ctx context.Context, r model.TelemetryReading) { fast.Add(1) }),
		nil,
		BranchFunc(func(ctx context.Context, r model.TelemetryReading) { <-release }),
		nil)
	c.Start()
	start := time.Now()
	c.Dispatch(model.TelemetryReading{EquipmentID: "e1", SensorType: "temp"})
	if time.Since(start) > 100*time.Millisecond {
		t.Fatalf("dispatch blocked on a branch")
	}
	close(release)
	c.Shutdown()
	if fast.Load() != 1 {
		t.Fatalf("alert branch did not run")
	}
}

func TestFullQueueDrops(t *testing.T) {
	cfg := testConfig()
	cfg.Alerts = config.BranchConfig{Workers: 1, QueueSize: 1}
	block := make(chan struct{})
	started := make(chan struct{}, 1)
	var ran atomic.Int32
	c := New(cfg, BranchFunc(func(ctx context.Context, r model.TelemetryReading) {
		ran.Add(1)
		select {
		case started <- struct{}{}:
		default:
		}
		<-block
	}), nil, nil, nil)
	c.Start()
	r := model.TelemetryReading{EquipmentID: "e1", SensorType: "temp"}
	c.Dispatch(r)
	<-started
	c.Dispatch(r) // queued
	c.Dispatch(r) // dropped
	close(block)
	c.Shutdown()
	if ran.Load() != 2 {
		t.Fatalf("expected 2 runs with one drop, got %d", ran.Load())
	}
}

func TestSameKeyRunsSerially(t *testing.T) {
	var mu sync.Mutex
	active := 0
	overlap := false
	c := New(testConfig(), BranchFunc(func(ctx context.Context, r model.TelemetryReading) {
		mu.Lock()
		active++
		if active > 1 {
			overlap = true
		}
		mu.Unlock()
		time.Sleep(time.Millisecond)
		mu.Lock()
		active--
		mu.Unlock()
	}), nil, nil, nil)
	c.Start()
	for i := 0; i < 10; i++ {
		c.Dispatch(model.TelemetryReading{EquipmentID: "e1", SensorType: "Temp"})
	}
	c.Shutdown()
	if overlap {
		t.Fatalf("alert branch ran concurrently for one key")
	}
}

func TestDispatchAfterShutdown(t *testing.T) {
	var ran atomic.Int32
	c := New(testConfig(), BranchFunc(func(ctx context.Context, r model.TelemetryReading) { ran.Add(1) }), nil, nil, nil)
	c.Start()
	c.Shutdown()
	c.Dispatch(model.TelemetryReading{EquipmentID: "e1"})
	if ran.Load() != 0 {
		t.Fatalf("dispatch after shutdown ran")
	}
}
