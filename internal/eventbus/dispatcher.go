package eventbus

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/kilianp07/planboard/core/logger"
	"github.com/kilianp07/planboard/core/monitoring"
)

// Handler processes one submitted event.
type Handler func(ctx context.Context, e Event) error

// Dispatcher runs submitted events on a bounded pool of workers. Submit never
// blocks and never drops: pending events wait in an unbounded queue.
type Dispatcher struct {
	handler Handler
	log     logger.Logger
	sem     *semaphore.Weighted
	warnAt  int

	mu       sync.Mutex
	pending  []Event
	active   int
	idle     *sync.Cond
	draining bool
	closed   bool
	wake     chan struct{}

	loopDone chan struct{}
	cancel   context.CancelFunc
}

// NewDispatcher starts a dispatcher with the given number of workers. A
// warning is logged whenever the backlog grows past warnAt events.
func NewDispatcher(workers int64, warnAt int, h Handler, log logger.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		handler:  h,
		log:      log,
		sem:      semaphore.NewWeighted(workers),
		warnAt:   warnAt,
		wake:     make(chan struct{}, 1),
		loopDone: make(chan struct{}),
		cancel:   cancel,
	}
	d.idle = sync.NewCond(&d.mu)
	go d.loop(ctx)
	return d
}

// Submit queues e. While Close drains, follow-ups keep being accepted until
// no event is queued or running. Submit reports false once the dispatcher
// is closed.
func (d *Dispatcher) Submit(e Event) bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return false
	}
	d.active++
	d.pending = append(d.pending, e)
	backlog := len(d.pending)
	d.mu.Unlock()
	if d.warnAt > 0 && backlog > d.warnAt {
		d.log.Warnf("dispatcher backlog at %d events", backlog)
	}
	select {
	case d.wake <- struct{}{}:
	default:
	}
	return true
}

// Wait blocks until every submitted event, including follow-ups submitted by
// handlers, has been handled.
func (d *Dispatcher) Wait() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for d.active > 0 {
		d.idle.Wait()
	}
}

// Close lets queued and running events finish, together with the follow-ups
// they submit, then stops accepting events and stops the loop.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.draining {
		d.mu.Unlock()
		return
	}
	d.draining = true
	for d.active > 0 {
		d.idle.Wait()
	}
	d.closed = true
	d.mu.Unlock()
	d.cancel()
	<-d.loopDone
}

func (d *Dispatcher) done() {
	d.mu.Lock()
	d.active--
	if d.active == 0 {
		d.idle.Broadcast()
	}
	d.mu.Unlock()
}

func (d *Dispatcher) next() (Event, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.pending) == 0 {
		return nil, false
	}
	e := d.pending[0]
	d.pending[0] = nil
	d.pending = d.pending[1:]
	return e, true
}

func (d *Dispatcher) loop(ctx context.Context) {
	defer close(d.loopDone)
	for {
		e, ok := d.next()
		if !ok {
			select {
			case <-d.wake:
				continue
			case <-ctx.Done():
				return
			}
		}
		if err := d.sem.Acquire(ctx, 1); err != nil {
			d.done()
			return
		}
		go func(e Event) {
			defer d.sem.Release(1)
			defer d.done()
			d.run(e)
		}(e)
	}
}

func (d *Dispatcher) run(e Event) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("handler panic on %T: %v", e, r)
			d.log.Errorf("%v", err)
			monitoring.CaptureException(err, map[string]string{"event": fmt.Sprintf("%T", e)})
		}
	}()
	if err := d.handler(context.Background(), e); err != nil {
		d.log.Errorf("event %T failed: %v", e, err)
		monitoring.CaptureException(err, map[string]string{"event": fmt.Sprintf("%T", e)})
	}
}
