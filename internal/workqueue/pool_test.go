package workqueue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestSameKeyRunsInOrder(t *testing.T) {
	p := New("test", 4, 64, nil)
	p.Start()
	var mu sync.Mutex
	var got []int
	for i := 0; i < 20; i++ {
		i := i
		if err := p.Submit("equipment-1|temp", func(context.Context) {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	if !p.Stop(time.Second) {
		t.Fatalf("drain timed out")
	}
	if len(got) != 20 {
		t.Fatalf("expected 20 tasks, got %d", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("out of order at %d: %v", i, got)
		}
	}
}

func TestSubmitFullQueue(t *testing.T) {
	p := New("test", 1, 1, nil)
	// not started: nothing drains the queue
	if err := p.Submit("k", func(context.Context) {}); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if err := p.Submit("k", func(context.Context) {}); !errors.Is(err, ErrFull) {
		t.Fatalf("expected ErrFull, got %v", err)
	}
}

func TestSubmitAfterStop(t *testing.T) {
	p := New("test", 2, 4, nil)
	p.Start()
	p.Stop(time.Second)
	if err := p.Submit("k", func(context.Context) {}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestPanicDoesNotKillShard(t *testing.T) {
	p := New("test", 1, 4, nil)
	p.Start()
	ran := make(chan struct{})
	_ = p.Submit("k", func(context.Context) { panic("boom") })
	_ = p.Submit("k", func(context.Context) { close(ran) })
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatalf("second task did not run")
	}
	p.Stop(time.Second)
}

func TestStopTimeoutCancelsContext(t *testing.T) {
	p := New("test", 1, 4, nil)
	p.Start()
	cancelled := make(chan struct{})
	_ = p.Submit("k", func(ctx context.Context) {
		<-ctx.Done()
		close(cancelled)
	})
	if p.Stop(20 * time.Millisecond) {
		t.Fatalf("expected drain timeout")
	}
	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatalf("task context not cancelled")
	}
}
