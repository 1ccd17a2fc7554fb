package eventbus

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/planboard/core/events"
	"github.com/kilianp07/planboard/core/model"
)

type warnLog struct {
	mu    sync.Mutex
	warns []string
}

func (l *warnLog) Debugf(string, ...any)         {}
func (l *warnLog) Debugw(string, map[string]any) {}
func (l *warnLog) Infof(string, ...any)          {}
func (l *warnLog) Errorf(string, ...any)         {}
func (l *warnLog) Warnf(format string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, format)
}

func TestBusFansOutNotifications(t *testing.T) {
	bus := New()
	a, b := bus.Subscribe(), bus.Subscribe()
	note := events.DocumentEvent{Workflow: events.WorkflowCreatePrognosis, Type: model.TypePrognosis, Status: model.StatusSent}
	bus.Publish(note)
	assert.Equal(t, Event(note), <-a)
	assert.Equal(t, Event(note), <-b)
	bus.Unsubscribe(a)
	_, ok := <-a
	assert.False(t, ok, "unsubscribed channel is closed")
	bus.Close()
	_, ok = <-b
	assert.False(t, ok)
}

func TestBusCountsDroppedNotifications(t *testing.T) {
	log := &warnLog{}
	bus := New(WithBuffer(2), WithLogger(log))
	sub := bus.Subscribe()
	for i := 0; i < 6; i++ {
		bus.Publish(events.WorkflowEvent{Workflow: events.WorkflowExpireDocuments})
	}
	assert.Len(t, sub, 2)
	assert.Equal(t, uint64(4), bus.Dropped())
	log.mu.Lock()
	defer log.mu.Unlock()
	require.Len(t, log.warns, 3, "drops 1, 2 and 4 are reported")
}

func TestBusIgnoresInvalidBuffer(t *testing.T) {
	bus := New(WithBuffer(0))
	assert.Equal(t, DefaultBuffer, cap(bus.Subscribe()))
}

func TestBusAfterClose(t *testing.T) {
	bus := New()
	ch := bus.Subscribe()
	bus.Close()
	bus.Close()
	bus.Publish(events.WorkflowEvent{})
	assert.Zero(t, bus.Dropped())
	assert.NotPanics(t, func() { bus.Unsubscribe(ch) })
	_, ok := <-bus.Subscribe()
	assert.False(t, ok, "subscribing to a closed bus yields a closed channel")
}
