package conditioner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"fleetpulse/internal/model"
	"fleetpulse/internal/workqueue"
)

type Store interface {
	GetSensorConfiguration(ctx context.Context, equipmentID, sensorType, orgID string) (*model.SensorConfiguration, error)
	GetSensorState(ctx context.Context, equipmentID, sensorType, orgID string) (*model.SensorState, error)
	UpsertSensorState(ctx context.Context, state model.SensorState) error
}

// Conditioner owns SensorState. Each (equipment, sensor, org) key is handled
// by exactly one shard of the pool, so the read-modify-write never races.
type Conditioner struct {
	store  Store
	pool   *workqueue.Pool
	logger *slog.Logger
	now    func() time.Time
}

func New(store Store, pool *workqueue.Pool, logger *slog.Logger) *Conditioner {
	return &Conditioner{
		store:  store,
		pool:   pool,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

var errTaskAborted = errors.New("conditioner task aborted")

type outcome struct {
	res Result
	err error
}

func (c *Conditioner) Process(ctx context.Context, in Input) (Result, error) {
	if in.Value == nil {
		res, _ := Evaluate(nil, nil, in, c.now())
		return res, nil
	}
	if c.pool == nil {
		return c.apply(ctx, in)
	}
	reply := make(chan outcome, 1)
	err := c.pool.SubmitWait(ctx, stateKey(in), func(taskCtx context.Context) {
		out := outcome{err: errTaskAborted}
		defer func() { reply <- out }()
		out.res, out.err = c.apply(taskCtx, in)
	})
	if err != nil {
		return Result{}, fmt.Errorf("enqueue conditioner task: %w", err)
	}
	// The task will write state whether or not the caller is still waiting,
	// so its outcome is the reading's outcome.
	out := <-reply
	return out.res, out.err
}

func (c *Conditioner) apply(ctx context.Context, in Input) (Result, error) {
	cfg, err := c.store.GetSensorConfiguration(ctx, in.EquipmentID, in.SensorType, in.OrgID)
	if err != nil {
		return Result{}, fmt.Errorf("load sensor configuration: %w", err)
	}
	if cfg != nil && !cfg.Enabled {
		res, _ := Evaluate(cfg, nil, in, c.now())
		return res, nil
	}
	prev, err := c.store.GetSensorState(ctx, in.EquipmentID, in.SensorType, in.OrgID)
	if err != nil {
		return Result{}, fmt.Errorf("load sensor state: %w", err)
	}
	res, next := Evaluate(cfg, prev, in, c.now())
	if next != nil {
		if err := c.store.UpsertSensorState(ctx, *next); err != nil {
			return Result{}, fmt.Errorf("store sensor state: %w", err)
		}
	}
	if c.logger != nil && res.HasFlag(model.FlagDeadband) {
		c.logger.Debug("reading inside deadband", "equipment_id", in.EquipmentID, "sensor_type", in.SensorType)
	}
	return res, nil
}

func stateKey(in Input) string {
	return in.EquipmentID + "|" + in.SensorType + "|" + in.OrgID
}
