package events

import (
	"time"

	"github.com/kilianp07/planboard/core/model"
)

// Event is a unit of work handled by exactly one coordinator.
type Event interface {
	// Workflow names the coordinator handling the event.
	Workflow() string
}

const (
	WorkflowCreatePrognosis         = "create_prognosis"
	WorkflowReCreatePrognosis       = "recreate_prognosis"
	WorkflowCreateFlexRequest       = "create_flex_request"
	WorkflowReceiveFlexOffer        = "receive_flex_offer"
	WorkflowPlaceFlexOrders         = "place_flex_orders"
	WorkflowPlaceFlexOrdersForGroup = "place_flex_orders_for_group"
	WorkflowInitiateSettlement      = "initiate_settlement"
	WorkflowSettlementResponse      = "settlement_response"
	WorkflowAcknowledgement         = "acknowledgement"
	WorkflowRecreationRequest       = "prognosis_recreation_request"
	WorkflowExpireDocuments         = "expire_documents"
	WorkflowDeliveryFailed          = "delivery_failed"
	WorkflowSend                    = "send"
)

// CreatePrognosis asks for a new prognosis of group for the day period.
type CreatePrognosis struct {
	Period time.Time
	Group  string
}

func (CreatePrognosis) Workflow() string { return WorkflowCreatePrognosis }

// ReCreatePrognosis asks to restore a current prognosis for every active
// group on period.
type ReCreatePrognosis struct {
	Period time.Time
}

func (ReCreatePrognosis) Workflow() string { return WorkflowReCreatePrognosis }

// CreateFlexRequest asks for a flex request towards the aggregator of group.
// An empty group means every active congestion point.
type CreateFlexRequest struct {
	Period time.Time
	Group  string
}

func (CreateFlexRequest) Workflow() string { return WorkflowCreateFlexRequest }

// FlexOfferReceived carries an inbound offer. Offer.OriginSequence
// references the flex request it answers.
type FlexOfferReceived struct {
	Offer model.Document
}

func (FlexOfferReceived) Workflow() string { return WorkflowReceiveFlexOffer }

// PlaceFlexOrders is the scheduled run over every group with orderable
// offers for period.
type PlaceFlexOrders struct {
	Period time.Time
}

func (PlaceFlexOrders) Workflow() string { return WorkflowPlaceFlexOrders }

// PlaceFlexOrdersForGroup places orders for one group and period.
type PlaceFlexOrdersForGroup struct {
	Period time.Time
	Group  string
}

func (PlaceFlexOrdersForGroup) Workflow() string { return WorkflowPlaceFlexOrdersForGroup }

// InitiateSettlement settles the accepted orders of the month starting at
// Month.
type InitiateSettlement struct {
	Month time.Time
}

func (InitiateSettlement) Workflow() string { return WorkflowInitiateSettlement }

// OrderDisposition is the counter-party verdict on one settled order.
type OrderDisposition struct {
	OrderSequence int64
	Code          string
}

// SettlementResponseReceived answers a settlement message.
type SettlementResponseReceived struct {
	SettlementSequence int64
	Participant        string
	Code               string
	Orders             []OrderDisposition
	Reason             string
}

func (SettlementResponseReceived) Workflow() string { return WorkflowSettlementResponse }

// AcknowledgementReceived is an accepted/rejected response to a document
// this participant sent.
type AcknowledgementReceived struct {
	Type        model.DocumentType
	Sequence    int64
	Participant string
	Code        string
	Reason      string
}

func (AcknowledgementReceived) Workflow() string { return WorkflowAcknowledgement }

// PrognosisRecreationRequested is a counter-party request to re-issue the
// prognoses of group for period.
type PrognosisRecreationRequested struct {
	Period time.Time
	Group  string
}

func (PrognosisRecreationRequested) Workflow() string { return WorkflowRecreationRequest }

// ExpireDocuments moves requests and offers past their expiration to
// EXPIRED.
type ExpireDocuments struct{}

func (ExpireDocuments) Workflow() string { return WorkflowExpireDocuments }

// DeliveryFailed is raised when the sender exhausted its retry budget.
type DeliveryFailed struct {
	Document model.Document
	Record   model.DeliveryRecord
}

func (DeliveryFailed) Workflow() string { return WorkflowDeliveryFailed }

// Send hands a committed document to the reliable sender. Response carries
// the disposition answering an inbound message instead of a document.
type Send struct {
	Document model.Document
	Response *Response
}

func (Send) Workflow() string { return WorkflowSend }

// Response is an outbound disposition answering an inbound document.
type Response struct {
	Type           model.DocumentType
	Sequence       int64
	Participant    string
	Role           model.Role
	ConversationID string
	Disposition    model.Disposition
	Reason         string
}
