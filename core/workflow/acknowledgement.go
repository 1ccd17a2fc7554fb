package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/kilianp07/planboard/core/events"
	"github.com/kilianp07/planboard/core/model"
	"github.com/kilianp07/planboard/core/monitoring"
	"github.com/kilianp07/planboard/core/planboard"
	"github.com/kilianp07/planboard/core/sender"
	"github.com/kilianp07/planboard/core/status"
)

// ProcessAcknowledgement applies an accepted/rejected response to the
// document it answers. Responses for unknown documents or for documents that
// already moved on are logged and dropped.
func (c *Coordinator) ProcessAcknowledgement(ctx context.Context, a events.AcknowledgementReceived) error {
	return c.run(ctx, events.WorkflowAcknowledgement, "", func(tx planboard.Tx, out *outbox) error {
		d, err := status.AcceptedRejected(a.Code)
		if err != nil {
			return err
		}
		trigger, err := status.TriggerFor(d)
		if err != nil {
			return err
		}
		doc, err := tx.FindBySequence(ctx, a.Type, a.Participant, a.Sequence)
		if errors.Is(err, model.ErrNotFound) {
			c.log.Warnf("%s response for unknown %s %d from %s", d, a.Type, a.Sequence, a.Participant)
			return nil
		}
		if err != nil {
			return err
		}
		if !status.Allowed(doc.Type, doc.Status, trigger) {
			c.log.Warnf("%s response for %s %d ignored in status %s", d, doc.Type, doc.Sequence, doc.Status)
			return nil
		}
		if d == model.DispositionRejected {
			c.log.Warnf("%s %d rejected by %s: %s", doc.Type, doc.Sequence, a.Participant, a.Reason)
		}
		return transition(ctx, tx, out, events.WorkflowAcknowledgement, &doc, trigger)
	})
}

// HandleDeliveryFailure resolves a document the sender gave up on. A
// prognosis is marked TO_BE_RECREATED so the recovery run re-issues it;
// requests and orders are escalated; settlements are only logged.
func (c *Coordinator) HandleDeliveryFailure(ctx context.Context, f events.DeliveryFailed) error {
	doc := f.Document
	switch doc.Type {
	case model.TypePrognosis:
		return c.run(ctx, events.WorkflowDeliveryFailed, lockKey("prognosis", doc.Group), func(tx planboard.Tx, out *outbox) error {
			cur, err := tx.FindBySequence(ctx, doc.Type, doc.Participant, doc.Sequence)
			if err != nil {
				return err
			}
			if !status.Allowed(cur.Type, cur.Status, status.RecreateRequested) {
				c.log.Warnf("undelivered prognosis %d already %s", cur.Sequence, cur.Status)
				return nil
			}
			c.log.Warnf("prognosis %d for %s not delivered, marked for recreation", cur.Sequence, cur.Group)
			return transition(ctx, tx, out, events.WorkflowDeliveryFailed, &cur, status.RecreateRequested)
		})
	case model.TypeFlexRequest, model.TypeFlexOrder, model.TypeFlexOffer:
		err := fmt.Errorf("%s %d to %s not delivered after %d attempts: %s",
			doc.Type, doc.Sequence, doc.Participant, f.Record.Attempts, f.Record.LastError)
		c.log.Errorf("%v", err)
		monitoring.Escalate(err, events.WorkflowDeliveryFailed, doc.Group)
		return nil
	case model.TypeFlexSettlement:
		c.log.Warnf("settlement %d to %s not delivered: %s", doc.Sequence, doc.Participant, f.Record.LastError)
		return nil
	}
	return fmt.Errorf("%w: delivery failure for unknown document type %q", model.ErrConfiguration, doc.Type)
}

// Send hands a committed document or a response to the reliable sender.
// Delivery failures are recorded by the sender and resolved through
// HandleDeliveryFailure.
func (c *Coordinator) Send(ctx context.Context, s events.Send) error {
	var msg sender.Message
	if s.Response != nil {
		msg = sender.ForResponse(c.cfg.Self, *s.Response, c.now())
	} else {
		msg = sender.ForDocument(c.cfg.Self, s.Document, c.now())
		if s.Document.Type == model.TypeFlexSettlement {
			sets, err := c.store.FindSettlements(ctx, planboard.SettlementQuery{SettlementSequence: s.Document.Sequence})
			if err != nil {
				return err
			}
			msg.Settlements = sets
		}
	}
	_, err := c.out.Send(ctx, msg)
	if errors.Is(err, sender.ErrNoResponse) || errors.Is(err, sender.ErrRefused) {
		return nil
	}
	return err
}
