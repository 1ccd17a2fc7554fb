package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/kilianp07/planboard/core/events"
	"github.com/kilianp07/planboard/core/model"
	"github.com/kilianp07/planboard/core/planboard"
	"github.com/kilianp07/planboard/core/settlement"
	"github.com/kilianp07/planboard/core/status"
	"github.com/kilianp07/planboard/core/step"
)

// MonthStart returns local midnight of the first day of t's month.
func (c *Coordinator) MonthStart(t time.Time) time.Time {
	t = t.In(c.clock.Location())
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, c.clock.Location())
}

// InitiateSettlement settles the accepted orders of the month containing
// month. Orders that already have a settlement are skipped, so running it
// twice before any response creates nothing new.
func (c *Coordinator) InitiateSettlement(ctx context.Context, month time.Time) error {
	from := c.MonthStart(month)
	to := from.AddDate(0, 1, 0)
	return c.run(ctx, events.WorkflowInitiateSettlement, lockKey("settlement", from.Format("2006-01")), func(tx planboard.Tx, out *outbox) error {
		orders, err := tx.FindDocuments(ctx, planboard.Query{Type: model.TypeFlexOrder, From: from, To: to,
			Statuses: []model.Status{model.StatusAccepted}})
		if err != nil {
			return err
		}
		existing, err := tx.FindSettlements(ctx, planboard.SettlementQuery{From: from, To: to})
		if err != nil {
			return err
		}
		settled := map[int64]bool{}
		for _, s := range existing {
			settled[s.OrderSequence] = true
		}
		pending := map[int64]model.Document{}
		var pendingList []model.Document
		for _, o := range orders {
			if !settled[o.Sequence] {
				pending[o.Sequence] = o
				pendingList = append(pendingList, o)
			}
		}
		if len(pendingList) == 0 {
			c.log.Infof("no orders to settle for %s", from.Format("2006-01"))
			return nil
		}

		in := step.Params{
			step.PeriodStart: from,
			step.PeriodEnd:   to,
			step.Orders:      pendingList,
		}
		for _, q := range []struct {
			p step.Param
			t model.DocumentType
		}{{step.Prognoses, model.TypePrognosis}, {step.Requests, model.TypeFlexRequest}, {step.Offers, model.TypeFlexOffer}} {
			docs, err := tx.FindDocuments(ctx, planboard.Query{Type: q.t, From: from, To: to})
			if err != nil {
				return err
			}
			in[q.p] = docs
		}
		res, err := c.steps.Run(ctx, step.InitiateSettlement, in)
		if err != nil {
			return err
		}
		results, err := step.Get[[]step.OrderSettlement](res, step.OrderSettlements)
		if err != nil {
			return err
		}

		byParticipant := map[string][]step.OrderSettlement{}
		for _, r := range results {
			o, ok := pending[r.OrderSequence]
			if !ok {
				return fmt.Errorf("%w: %s returned unknown or settled order %d", model.ErrConfiguration, step.InitiateSettlement, r.OrderSequence)
			}
			delete(pending, r.OrderSequence)
			byParticipant[o.Participant] = append(byParticipant[o.Participant], r)
		}
		for seq := range pending {
			c.log.Warnf("order %d left unsettled for %s", seq, from.Format("2006-01"))
		}

		participants := make([]string, 0, len(byParticipant))
		for p := range byParticipant {
			participants = append(participants, p)
		}
		sort.Strings(participants)
		orderIndex := ordersBySeq(orders)
		for _, p := range participants {
			doc := c.newDocument(model.TypeFlexSettlement, from, "", model.RoleAGR, p)
			var sets []model.FlexOrderSettlement
			for _, r := range byParticipant[p] {
				order := orderIndex[r.OrderSequence]
				set, err := settlement.Reconcile(order, r, c.clock.Count(order.Period), doc.Sequence)
				if err != nil {
					return err
				}
				if err := tx.SaveSettlement(ctx, set); err != nil {
					return err
				}
				sets = append(sets, set)
			}
			if err := tx.SaveDocument(ctx, doc); err != nil {
				return err
			}
			sum := settlement.Summarize(sets)
			out.note(events.DocumentEvent{Workflow: events.WorkflowInitiateSettlement, Type: doc.Type, Status: doc.Status})
			out.note(events.SettlementEvent{Participant: p, Orders: sum.Orders, Disputed: sum.Disputed, Penalty: sum.Penalty.InexactFloat64()})
			c.log.Infof("settlement %d for %s: %d orders, %d disputed", doc.Sequence, p, sum.Orders, sum.Disputed)
			out.send(doc)
		}
		return nil
	})
}

func ordersBySeq(orders []model.Document) map[int64]model.Document {
	m := make(map[int64]model.Document, len(orders))
	for _, o := range orders {
		m[o.Sequence] = o
	}
	return m
}

// ProcessSettlementResponse applies the counter-party verdict to a sent
// settlement. Unknown or already answered settlements and unmatched orders
// are logged and ignored.
func (c *Coordinator) ProcessSettlementResponse(ctx context.Context, r events.SettlementResponseReceived) error {
	return c.run(ctx, events.WorkflowSettlementResponse, lockKey("settlement", r.Participant), func(tx planboard.Tx, out *outbox) error {
		overall, err := status.AcceptedDisputed(r.Code)
		if err != nil {
			return err
		}
		doc, err := tx.FindBySequence(ctx, model.TypeFlexSettlement, r.Participant, r.SettlementSequence)
		if errors.Is(err, model.ErrNotFound) {
			c.log.Warnf("settlement response for unknown settlement %d from %s", r.SettlementSequence, r.Participant)
			return nil
		}
		if err != nil {
			return err
		}
		if doc.Status != model.StatusSent {
			c.log.Warnf("late settlement response for %d: already %s", doc.Sequence, doc.Status)
			return nil
		}
		sets, err := tx.FindSettlements(ctx, planboard.SettlementQuery{SettlementSequence: doc.Sequence})
		if err != nil {
			return err
		}
		byOrder := map[int64]model.FlexOrderSettlement{}
		for _, s := range sets {
			byOrder[s.OrderSequence] = s
		}
		for _, od := range r.Orders {
			d, err := status.AcceptedDisputed(od.Code)
			if err != nil {
				return err
			}
			set, ok := byOrder[od.OrderSequence]
			if !ok {
				c.log.Warnf("settlement %d: response names unmatched order %d", doc.Sequence, od.OrderSequence)
				continue
			}
			set.Disposition = d
			set.Confirmed = true
			if err := tx.SaveSettlement(ctx, set); err != nil {
				return err
			}
			order, err := tx.FindBySequence(ctx, model.TypeFlexOrder, r.Participant, od.OrderSequence)
			if errors.Is(err, model.ErrNotFound) {
				c.log.Warnf("settlement %d: order %d missing from planboard", doc.Sequence, od.OrderSequence)
				continue
			}
			if err != nil {
				return err
			}
			if order.Status == model.StatusAccepted {
				if err := transition(ctx, tx, out, events.WorkflowSettlementResponse, &order, status.Processed); err != nil {
					return err
				}
			}
		}
		trigger, err := status.TriggerFor(overall)
		if err != nil {
			return err
		}
		return transition(ctx, tx, out, events.WorkflowSettlementResponse, &doc, trigger)
	})
}
