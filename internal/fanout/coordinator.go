// Package fanout runs the post-storage branches for each reading on
// independent bounded queues.
package fanout

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"fleetpulse/internal/config"
	"fleetpulse/internal/metrics"
	"fleetpulse/internal/model"
	"fleetpulse/internal/workqueue"
)

const (
	BranchAlerts      = "alerts"
	BranchMaintenance = "maintenance"
	BranchAdvisory    = "advisory"
)

// Branch is a downstream effect of a stored reading. Implementations handle
// their own errors.
type Branch interface {
	Process(ctx context.Context, reading model.TelemetryReading)
}

type BranchFunc func(ctx context.Context, reading model.TelemetryReading)

func (f BranchFunc) Process(ctx context.Context, reading model.TelemetryReading) {
	f(ctx, reading)
}

type branch struct {
	name    string
	handler Branch
	pool    *workqueue.Pool
	key     func(model.TelemetryReading) string
}

type Coordinator struct {
	branches     []*branch
	drainTimeout time.Duration
	logger       *slog.Logger
}

func New(cfg config.FanoutConfig, alerts, maintenance, advisory Branch, logger *slog.Logger) *Coordinator {
	c := &Coordinator{drainTimeout: cfg.DrainTimeout, logger: logger}
	c.add(BranchAlerts, alerts, cfg.Alerts, sensorKey)
	c.add(BranchMaintenance, maintenance, cfg.Maintenance, equipmentKey)
	c.add(BranchAdvisory, advisory, cfg.Advisory, sensorKey)
	return c
}

func (c *Coordinator) add(name string, handler Branch, bc config.BranchConfig, key func(model.TelemetryReading) string) {
	if handler == nil {
		return
	}
	c.branches = append(c.branches, &branch{
		name:    name,
		handler: handler,
		pool:    workqueue.New("fanout_"+name, bc.Workers, bc.QueueSize, c.logger),
		key:     key,
	})
}

func sensorKey(r model.TelemetryReading) string {
	return r.EquipmentID + "|" + strings.ToLower(strings.TrimSpace(r.SensorType))
}

func equipmentKey(r model.TelemetryReading) string {
	return r.EquipmentID
}

func (c *Coordinator) Start() {
	for _, b := range c.branches {
		b.pool.Start()
	}
}

// Dispatch hands the reading to every branch without waiting. A branch whose
// queue is full drops the reading.
func (c *Coordinator) Dispatch(reading model.TelemetryReading) {
	for _, b := range c.branches {
		handler := b.handler
		err := b.pool.Submit(b.key(reading), func(ctx context.Context) {
			handler.Process(ctx, reading)
		})
		if err == nil {
			continue
		}
		metrics.FanoutDropped.WithLabelValues(b.name).Inc()
		if c.logger != nil {
			level := slog.LevelWarn
			if errors.Is(err, workqueue.ErrClosed) {
				level = slog.LevelInfo
			}
			c.logger.Log(context.Background(), level, "fan-out task dropped",
				"branch", b.name,
				"equipment_id", reading.EquipmentID,
				"sensor_type", reading.SensorType,
				"err", err,
			)
		}
	}
}

// Pending returns queued tasks per branch.
func (c *Coordinator) Pending() map[string]int {
	out := make(map[string]int, len(c.branches))
	for _, b := range c.branches {
		out[b.name] = b.pool.Len()
	}
	return out
}

// Shutdown stops accepting work and drains every branch concurrently within
// the drain timeout. It reports false when any branch was cut short.
func (c *Coordinator) Shutdown() bool {
	results := make(chan bool, len(c.branches))
	for _, b := range c.branches {
		go func(b *branch) {
			results <- b.pool.Stop(c.drainTimeout)
		}(b)
	}
	clean := true
	for range c.branches {
		if !<-results {
			clean = false
		}
	}
	return clean
}
