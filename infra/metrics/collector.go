package metrics

import (
	"context"
	"time"

	"github.com/kilianp07/planboard/core/events"
	coremetrics "github.com/kilianp07/planboard/core/metrics"
	"github.com/kilianp07/planboard/core/model"
	"github.com/kilianp07/planboard/infra/logger"
	"github.com/kilianp07/planboard/internal/eventbus"
)

// StartEventCollector subscribes to the event bus and records metrics for events.
// It stops when the context is canceled or the bus is closed. The returned
// channel is closed once the collector has stopped.
func StartEventCollector(ctx context.Context, bus eventbus.EventBus, sink coremetrics.MetricsSink) <-chan struct{} {
	done := make(chan struct{})
	if bus == nil || sink == nil {
		close(done)
		return done
	}
	log := logger.New("metrics-collector")
	sub := bus.Subscribe()
	go func() {
		defer close(done)
		defer bus.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub:
				if !ok {
					return
				}
				if err := record(sink, ev, time.Now()); err != nil {
					log.Warnf("record %T: %v", ev, err)
				}
			}
		}
	}()
	return done
}

func record(sink coremetrics.MetricsSink, ev eventbus.Event, now time.Time) error {
	switch e := ev.(type) {
	case events.WorkflowEvent:
		return sink.RecordWorkflowRun(coremetrics.WorkflowRun{Workflow: e.Workflow, Failed: e.Err != nil, Time: now})
	case events.DocumentEvent:
		if r, ok := sink.(coremetrics.DocumentRecorder); ok {
			return r.RecordDocument(coremetrics.DocumentEvent{
				Workflow: e.Workflow, Type: e.Type, Status: e.Status, Group: e.Group, Time: now,
			})
		}
	case events.DeliveryEvent:
		if r, ok := sink.(coremetrics.DeliveryRecorder); ok {
			return r.RecordDelivery(coremetrics.DeliveryEvent{
				Type:        e.Record.Type,
				Destination: e.Record.Destination,
				Attempts:    e.Record.Attempts,
				Delivered:   e.Record.Status == model.DeliveryDelivered,
				Time:        e.Record.Time,
			})
		}
	case events.SettlementEvent:
		if r, ok := sink.(coremetrics.SettlementRecorder); ok {
			return r.RecordSettlement(coremetrics.SettlementEvent{
				Participant: e.Participant, Orders: e.Orders, Disputed: e.Disputed, Penalty: e.Penalty, Time: now,
			})
		}
	}
	return nil
}
