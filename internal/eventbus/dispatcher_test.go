package eventbus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kilianp07/planboard/infra/logger"
)

func TestDispatcherRunsAllEvents(t *testing.T) {
	var n atomic.Int64
	d := NewDispatcher(4, 0, func(context.Context, Event) error {
		n.Add(1)
		return nil
	}, logger.NopLogger{})
	defer d.Close()
	for i := 0; i < 100; i++ {
		if !d.Submit(i) {
			t.Fatalf("submit %d refused", i)
		}
	}
	d.Wait()
	if n.Load() != 100 {
		t.Fatalf("expected 100 handled got %d", n.Load())
	}
}

func TestDispatcherBoundsConcurrency(t *testing.T) {
	var cur, peak atomic.Int64
	d := NewDispatcher(2, 0, func(context.Context, Event) error {
		v := cur.Add(1)
		for {
			p := peak.Load()
			if v <= p || peak.CompareAndSwap(p, v) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		cur.Add(-1)
		return nil
	}, logger.NopLogger{})
	defer d.Close()
	for i := 0; i < 20; i++ {
		d.Submit(i)
	}
	d.Wait()
	if peak.Load() > 2 {
		t.Fatalf("expected at most 2 concurrent handlers got %d", peak.Load())
	}
}

func TestDispatcherFollowUps(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []int
		d    *Dispatcher
	)
	d = NewDispatcher(2, 0, func(_ context.Context, e Event) error {
		v := e.(int)
		mu.Lock()
		seen = append(seen, v)
		mu.Unlock()
		if v < 3 {
			d.Submit(v + 1)
		}
		return nil
	}, logger.NopLogger{})
	defer d.Close()
	d.Submit(0)
	d.Wait()
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 4 {
		t.Fatalf("expected chain of 4 got %v", seen)
	}
}

func TestDispatcherSurvivesPanicsAndErrors(t *testing.T) {
	var ok atomic.Int64
	d := NewDispatcher(1, 0, func(_ context.Context, e Event) error {
		switch e {
		case "panic":
			panic("boom")
		case "error":
			return errors.New("failed")
		}
		ok.Add(1)
		return nil
	}, logger.NopLogger{})
	defer d.Close()
	d.Submit("panic")
	d.Submit("error")
	d.Submit("fine")
	d.Wait()
	if ok.Load() != 1 {
		t.Fatalf("expected the pool to keep running")
	}
}

func TestDispatcherRefusesAfterClose(t *testing.T) {
	d := NewDispatcher(1, 0, func(context.Context, Event) error { return nil }, logger.NopLogger{})
	d.Close()
	if d.Submit(1) {
		t.Fatal("expected submit to be refused after close")
	}
	d.Close()
}

func TestDispatcherCloseKeepsFollowUps(t *testing.T) {
	var (
		d        *Dispatcher
		accepted atomic.Bool
		handled  atomic.Bool
	)
	started := make(chan struct{})
	release := make(chan struct{})
	d = NewDispatcher(1, 0, func(_ context.Context, e Event) error {
		switch e {
		case "commit":
			close(started)
			<-release
			accepted.Store(d.Submit("send"))
		case "send":
			handled.Store(true)
		}
		return nil
	}, logger.NopLogger{})
	d.Submit("commit")
	<-started

	closed := make(chan struct{})
	go func() {
		d.Close()
		close(closed)
	}()
	deadline := time.Now().Add(time.Second)
	for !d.isDraining() {
		if time.Now().After(deadline) {
			t.Fatal("close never started draining")
		}
		time.Sleep(time.Millisecond)
	}
	close(release)

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("close did not return")
	}
	if !accepted.Load() || !handled.Load() {
		t.Fatalf("follow-up lost during close: accepted=%v handled=%v", accepted.Load(), handled.Load())
	}
	if d.Submit("late") {
		t.Fatal("expected submit to be refused after close")
	}
}

func (d *Dispatcher) isDraining() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.draining
}
