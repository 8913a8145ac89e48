// Package workqueue runs tasks on a fixed set of single-goroutine shards.
// Tasks submitted with the same key always land on the same shard and run
// in submission order, so per-key state needs no further locking.
package workqueue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"fleetpulse/internal/metrics"
)

type Task func(ctx context.Context)

var (
	ErrClosed = errors.New("workqueue: pool closed")
	ErrFull   = errors.New("workqueue: queue full")
)

type Pool struct {
	name   string
	logger *slog.Logger
	shards []chan Task

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds a pool with the given number of shards. queueSize is the total
// buffered capacity, split evenly across shards.
func New(name string, shards, queueSize int, logger *slog.Logger) *Pool {
	if shards <= 0 {
		shards = 1
	}
	perShard := queueSize / shards
	if perShard <= 0 {
		perShard = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		name:   name,
		logger: logger,
		shards: make([]chan Task, shards),
		ctx:    ctx,
		cancel: cancel,
	}
	for i := range p.shards {
		p.shards[i] = make(chan Task, perShard)
	}
	return p
}

func (p *Pool) Start() {
	for i := range p.shards {
		p.wg.Add(1)
		go p.run(p.shards[i])
	}
}

func (p *Pool) run(queue <-chan Task) {
	defer p.wg.Done()
	for task := range queue {
		p.exec(task)
		metrics.QueueDepth.WithLabelValues(p.name).Dec()
	}
}

func (p *Pool) exec(task Task) {
	defer func() {
		if r := recover(); r != nil && p.logger != nil {
			p.logger.Error("task panicked", "pool", p.name, "panic", r)
		}
	}()
	task(p.ctx)
}

func (p *Pool) shardFor(key string) chan Task {
	return p.shards[xxhash.Sum64String(key)%uint64(len(p.shards))]
}

// Submit enqueues without blocking. It returns ErrFull when the key's shard is
// at capacity and ErrClosed after Stop.
func (p *Pool) Submit(key string, task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.shardFor(key) <- task:
		metrics.QueueDepth.WithLabelValues(p.name).Inc()
		return nil
	default:
		return ErrFull
	}
}

// SubmitWait blocks until the task is enqueued or ctx is done.
func (p *Pool) SubmitWait(ctx context.Context, key string, task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.shardFor(key) <- task:
		metrics.QueueDepth.WithLabelValues(p.name).Inc()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop refuses new work and waits for queued tasks to finish. When timeout
// elapses first, the task context is cancelled and Stop returns false; tasks
// still queued are abandoned.
func (p *Pool) Stop(timeout time.Duration) bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return true
	}
	p.closed = true
	for _, q := range p.shards {
		close(q)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	if timeout <= 0 {
		<-done
		p.cancel()
		return true
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-done:
		p.cancel()
		return true
	case <-t.C:
		p.cancel()
		if p.logger != nil {
			p.logger.Warn("pool drain timed out", "pool", p.name, "pending", p.Len())
		}
		return false
	}
}

func (p *Pool) Len() int {
	n := 0
	for _, q := range p.shards {
		n += len(q)
	}
	return n
}

func (p *Pool) Name() string {
	return p.name
}
