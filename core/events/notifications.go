package events

import "github.com/kilianp07/planboard/core/model"

// DocumentEvent is published after a coordinator committed a document in a
// new status.
type DocumentEvent struct {
	Workflow string
	Type     model.DocumentType
	Status   model.Status
	Group    string
}

// DeliveryEvent is published for each reliable send outcome.
type DeliveryEvent struct {
	Record model.DeliveryRecord
}

// SettlementEvent is published when a settlement run committed.
type SettlementEvent struct {
	Participant string
	Orders      int
	Disputed    int
	Penalty     float64
}

// WorkflowEvent is published when a coordinator run ends. Err is nil on
// success.
type WorkflowEvent struct {
	Workflow string
	Err      error
}
