package metrics

import (
	"time"

	"github.com/kilianp07/planboard/core/model"
)

// WorkflowRun is one coordinator run.
type WorkflowRun struct {
	Workflow string
	Failed   bool
	Time     time.Time
}

// MetricsSink records workflow runs for observability purposes.
type MetricsSink interface {
	RecordWorkflowRun(ev WorkflowRun) error
}

// DocumentEvent is a document created or moved to a new status.
type DocumentEvent struct {
	Workflow string
	Type     model.DocumentType
	Status   model.Status
	Group    string
	Time     time.Time
}

// DocumentRecorder records document status changes.
type DocumentRecorder interface {
	RecordDocument(ev DocumentEvent) error
}

// DeliveryEvent is the outcome of one reliable send.
type DeliveryEvent struct {
	Type        model.DocumentType
	Destination string
	Attempts    int
	Delivered   bool
	Time        time.Time
}

// DeliveryRecorder records send outcomes.
type DeliveryRecorder interface {
	RecordDelivery(ev DeliveryEvent) error
}

// SettlementEvent summarises one settlement document.
type SettlementEvent struct {
	Participant string
	Orders      int
	Disputed    int
	Penalty     float64
	Time        time.Time
}

// SettlementRecorder records issued settlements.
type SettlementRecorder interface {
	RecordSettlement(ev SettlementEvent) error
}

// NopSink implements every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordWorkflowRun(WorkflowRun) error    { return nil }
func (NopSink) RecordDocument(DocumentEvent) error     { return nil }
func (NopSink) RecordDelivery(DeliveryEvent) error     { return nil }
func (NopSink) RecordSettlement(SettlementEvent) error { return nil }
