// Package status holds the per-family document transition tables and the
// adapters between wire disposition codes and transition triggers.
package status

import (
	"fmt"

	"github.com/kilianp07/planboard/core/model"
)

// Trigger is a protocol event that may move a document to another status.
type Trigger string

const (
	Accepted           Trigger = "accepted"
	Rejected           Trigger = "rejected"
	Disputed           Trigger = "disputed"
	Processed          Trigger = "processed"
	Superseded         Trigger = "superseded"
	RecreateRequested  Trigger = "recreate-requested"
	Recreated          Trigger = "recreated"
	OfferReceived      Trigger = "offer-received"
	EmptyOfferReceived Trigger = "empty-offer-received"
	Ordered            Trigger = "ordered"
	Expired            Trigger = "expired"
)

// Triggers lists every trigger.
var Triggers = []Trigger{
	Accepted, Rejected, Disputed, Processed, Superseded, RecreateRequested,
	Recreated, OfferReceived, EmptyOfferReceived, Ordered, Expired,
}

type edge struct {
	from model.Status
	on   Trigger
}

type table map[edge]model.Status

func (t table) add(to model.Status, on Trigger, from ...model.Status) table {
	for _, f := range from {
		t[edge{from: f, on: on}] = to
	}
	return t
}

var tables = map[model.DocumentType]table{
	model.TypePrognosis: table{}.
		add(model.StatusAccepted, Accepted, model.StatusSent).
		add(model.StatusRejected, Rejected, model.StatusSent).
		add(model.StatusArchived, Superseded, model.StatusSent, model.StatusAccepted, model.StatusRejected, model.StatusToBeRecreated).
		add(model.StatusToBeRecreated, RecreateRequested, model.StatusSent, model.StatusAccepted, model.StatusRejected).
		add(model.StatusArchived, Recreated, model.StatusToBeRecreated),

	model.TypeFlexRequest: table{}.
		add(model.StatusAccepted, Accepted, model.StatusSent).
		add(model.StatusRejected, Rejected, model.StatusSent).
		add(model.StatusReceivedOffer, OfferReceived, model.StatusSent, model.StatusAccepted, model.StatusReceivedEmptyOffer, model.StatusReceivedOffer).
		add(model.StatusReceivedEmptyOffer, EmptyOfferReceived, model.StatusSent, model.StatusAccepted, model.StatusReceivedEmptyOffer).
		add(model.StatusReceivedOffer, EmptyOfferReceived, model.StatusReceivedOffer).
		add(model.StatusExpired, Expired, model.StatusSent, model.StatusAccepted),

	model.TypeFlexOffer: table{}.
		add(model.StatusAccepted, Accepted, model.StatusSent).
		add(model.StatusRejected, Rejected, model.StatusSent).
		add(model.StatusProcessed, Ordered, model.StatusReceived, model.StatusSent, model.StatusAccepted).
		add(model.StatusExpired, Expired, model.StatusReceived, model.StatusSent, model.StatusAccepted),

	model.TypeFlexOrder: table{}.
		add(model.StatusAccepted, Accepted, model.StatusSent).
		add(model.StatusRejected, Rejected, model.StatusSent).
		add(model.StatusProcessed, Processed, model.StatusAccepted),

	model.TypeFlexSettlement: table{}.
		add(model.StatusAccepted, Accepted, model.StatusSent).
		add(model.StatusDisputed, Disputed, model.StatusSent),
}

// Next returns the status reached from `from` on trigger `on` for documents
// of type t.
func Next(t model.DocumentType, from model.Status, on Trigger) (model.Status, error) {
	tbl, ok := tables[t]
	if !ok {
		return "", fmt.Errorf("%w: no transition table for %s", model.ErrConfiguration, t)
	}
	to, ok := tbl[edge{from: from, on: on}]
	if !ok {
		return "", fmt.Errorf("%w: %s %s on %s", model.ErrIllegalTransition, t, from, on)
	}
	return to, nil
}

// Allowed reports whether the transition exists.
func Allowed(t model.DocumentType, from model.Status, on Trigger) bool {
	_, err := Next(t, from, on)
	return err == nil
}

// Apply moves doc to its next status in place.
func Apply(doc *model.Document, on Trigger) error {
	to, err := Next(doc.Type, doc.Status, on)
	if err != nil {
		return fmt.Errorf("document %d: %w", doc.Sequence, err)
	}
	doc.Status = to
	return nil
}

// Terminal reports whether no trigger leaves status s for type t.
func Terminal(t model.DocumentType, s model.Status) bool {
	for e := range tables[t] {
		if e.from == s {
			return false
		}
	}
	return true
}
