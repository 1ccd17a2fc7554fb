package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kilianp07/planboard/core/events"
	"github.com/kilianp07/planboard/core/logger"
	"github.com/kilianp07/planboard/core/model"
	"github.com/kilianp07/planboard/core/planboard"
	"github.com/kilianp07/planboard/core/status"
	"github.com/kilianp07/planboard/core/step"
)

// CreateFlexRequest asks the aggregator of group for flexibility on period.
// An empty group fans out over every active group served by an aggregator.
func (c *Coordinator) CreateFlexRequest(ctx context.Context, period time.Time, group string) error {
	period = c.clock.Day(period)
	if group == "" {
		return c.run(ctx, events.WorkflowCreateFlexRequest, "", func(tx planboard.Tx, out *outbox) error {
			groups, err := tx.ActiveGroups(ctx, period)
			if err != nil {
				return err
			}
			for _, g := range groups {
				if role, err := g.Counterparty(c.cfg.Self.Role); err == nil && role == model.RoleAGR {
					out.raise(events.CreateFlexRequest{Period: period, Group: g.ID})
				}
			}
			return nil
		})
	}
	return c.run(ctx, events.WorkflowCreateFlexRequest, lockKey("flex", group), func(tx planboard.Tx, out *outbox) error {
		g, err := tx.FindGroup(ctx, group)
		if err != nil {
			return err
		}
		role, err := g.Counterparty(c.cfg.Self.Role)
		if err != nil {
			return err
		}
		count := c.clock.Count(period)
		res, err := c.steps.Run(ctx, step.CreateFlexRequest, step.Params{
			step.Period:   period,
			step.Group:    group,
			step.PTUCount: count,
		})
		if err != nil {
			return err
		}
		power, err := step.Get[[]int64](res, step.Power)
		if err != nil {
			return err
		}
		if len(power) != count {
			return fmt.Errorf("%w: %s returned %d slices, want %d", model.ErrConfiguration, step.CreateFlexRequest, len(power), count)
		}
		doc := c.newDocument(model.TypeFlexRequest, period, group, role, g.Participant)
		doc.Expires = c.now().Add(c.cfg.FlexRequestValidity)
		doc.PTUs = make([]model.PTU, count)
		for i, p := range power {
			doc.PTUs[i] = model.PTU{Index: i + 1, Power: p}
		}
		if err := tx.SaveDocument(ctx, doc); err != nil {
			return err
		}
		out.note(events.DocumentEvent{Workflow: events.WorkflowCreateFlexRequest, Type: doc.Type, Status: doc.Status, Group: group})
		out.send(doc)
		return nil
	})
}

// validateOffer checks offer against the request it answers.
func (c *Coordinator) validateOffer(offer, req model.Document) error {
	now := c.now()
	if req.Expired(now) {
		return model.Invalid("flex request %d expired at %s", req.Sequence, req.Expires.Format(time.RFC3339))
	}
	switch req.Status {
	case model.StatusRejected, model.StatusExpired:
		return model.Invalid("flex request %d is %s", req.Sequence, req.Status)
	}
	if !offer.Period.Equal(req.Period) || offer.Group != req.Group {
		return model.Invalid("offer period/group %s/%s does not match request %s/%s",
			offer.Period.Format(time.DateOnly), offer.Group, req.Period.Format(time.DateOnly), req.Group)
	}
	if offer.Currency != c.cfg.Currency {
		return model.Invalid("currency %q, want %q", offer.Currency, c.cfg.Currency)
	}
	if offer.TimeZone != c.clock.Location().String() {
		return model.Invalid("time zone %q, want %q", offer.TimeZone, c.clock.Location().String())
	}
	if offer.PTUDuration != c.clock.Duration() {
		return model.Invalid("PTU duration %d, want %d", offer.PTUDuration, c.clock.Duration())
	}
	if len(offer.PTUs) == 0 {
		return nil
	}
	count := c.clock.Count(offer.Period)
	if len(offer.PTUs) != count {
		return model.Invalid("offer has %d slices, want %d", len(offer.PTUs), count)
	}
	seen := make([]bool, count+1)
	for _, p := range offer.PTUs {
		if p.Index < 1 || p.Index > count || seen[p.Index] {
			return model.Invalid("slice index %d out of range or duplicated", p.Index)
		}
		seen[p.Index] = true
	}
	frozen := c.frozenThrough(offer.Period)
	for _, p := range offer.PTUs {
		if p.Power != 0 && p.Index <= frozen {
			return model.Invalid("slice %d is past gate closure", p.Index)
		}
	}
	return nil
}

// ReceiveFlexOffer validates and stores an inbound offer. An invalid offer is
// answered with a rejection and nothing is persisted. When no other request
// for the same period and group is still waiting, order placement starts.
func (c *Coordinator) ReceiveFlexOffer(ctx context.Context, offer model.Document) error {
	period := c.clock.Day(offer.Period)
	offer.Period = period
	return c.run(ctx, events.WorkflowReceiveFlexOffer, lockKey("flex", offer.Group), func(tx planboard.Tx, out *outbox) error {
		respond := func(d model.Disposition, reason string) {
			out.respond(events.Response{
				Type:           model.TypeFlexOffer,
				Sequence:       offer.Sequence,
				Participant:    offer.Participant,
				Role:           offer.Role,
				ConversationID: offer.ConversationID,
				Disposition:    d,
				Reason:         reason,
			})
		}
		reject := func(err error) error {
			c.log.Warnf("offer %d from %s rejected: %v", offer.Sequence, offer.Participant, err)
			respond(model.DispositionRejected, err.Error())
			return nil
		}

		if offer.Type != model.TypeFlexOffer {
			return reject(model.Invalid("document type %s is not an offer", offer.Type))
		}
		if _, err := tx.FindBySequence(ctx, model.TypeFlexOffer, offer.Participant, offer.Sequence); err == nil {
			return reject(model.Invalid("offer %d already received", offer.Sequence))
		} else if !errors.Is(err, model.ErrNotFound) {
			return err
		}
		req, err := tx.FindBySequence(ctx, model.TypeFlexRequest, offer.Participant, offer.OriginSequence)
		if errors.Is(err, model.ErrNotFound) {
			return reject(model.Invalid("unknown flex request %d", offer.OriginSequence))
		}
		if err != nil {
			return err
		}
		if err := c.validateOffer(offer, req); err != nil {
			if model.IsValidation(err) {
				return reject(err)
			}
			return err
		}

		trigger := status.OfferReceived
		if len(offer.PTUs) == 0 {
			trigger = status.EmptyOfferReceived
		}
		if err := transition(ctx, tx, out, events.WorkflowReceiveFlexOffer, &req, trigger); err != nil {
			return err
		}
		offer.Status = model.StatusReceived
		if err := tx.SaveDocument(ctx, offer); err != nil {
			return err
		}
		out.note(events.DocumentEvent{Workflow: events.WorkflowReceiveFlexOffer, Type: offer.Type, Status: offer.Status, Group: offer.Group})
		respond(model.DispositionAccepted, "")
		c.log.Debugw("offer received", logger.Fields(events.WorkflowReceiveFlexOffer, offer.Group, offer.Sequence))

		waiting, err := tx.FindDocuments(ctx, c.dayQuery(model.TypeFlexRequest, period, offer.Group,
			model.StatusSent, model.StatusAccepted))
		if err != nil {
			return err
		}
		now := c.now()
		for _, w := range waiting {
			if !w.Expired(now) {
				return nil
			}
		}
		out.raise(events.PlaceFlexOrdersForGroup{Period: period, Group: offer.Group})
		return nil
	})
}

// orderable filters offers that carry slices and have not expired.
func orderable(offers []model.Document, now time.Time) []model.Document {
	var out []model.Document
	for _, o := range offers {
		if len(o.PTUs) > 0 && !o.Expired(now) {
			out = append(out, o)
		}
	}
	return out
}

// PlaceFlexOrders raises one PlaceFlexOrdersForGroup event per group with
// orderable offers on period.
func (c *Coordinator) PlaceFlexOrders(ctx context.Context, period time.Time) error {
	period = c.clock.Day(period)
	return c.run(ctx, events.WorkflowPlaceFlexOrders, "", func(tx planboard.Tx, out *outbox) error {
		offers, err := tx.FindDocuments(ctx, c.dayQuery(model.TypeFlexOffer, period, "", model.StatusReceived))
		if err != nil {
			return err
		}
		seen := map[string]bool{}
		for _, o := range orderable(offers, c.now()) {
			if !seen[o.Group] {
				seen[o.Group] = true
				out.raise(events.PlaceFlexOrdersForGroup{Period: period, Group: o.Group})
			}
		}
		return nil
	})
}

// PlaceFlexOrdersForGroup asks the place_flex_orders step which offers to
// accept and issues one order per accepted offer. Offers not chosen stay
// RECEIVED for the next run.
func (c *Coordinator) PlaceFlexOrdersForGroup(ctx context.Context, period time.Time, group string) error {
	period = c.clock.Day(period)
	return c.run(ctx, events.WorkflowPlaceFlexOrdersForGroup, lockKey("flex", group), func(tx planboard.Tx, out *outbox) error {
		offers, err := tx.FindDocuments(ctx, c.dayQuery(model.TypeFlexOffer, period, group, model.StatusReceived))
		if err != nil {
			return err
		}
		offers = orderable(offers, c.now())
		if len(offers) == 0 {
			return nil
		}
		res, err := c.steps.Run(ctx, step.PlaceFlexOrders, step.Params{
			step.Period: period,
			step.Group:  group,
			step.Offers: offers,
		})
		if err != nil {
			return err
		}
		accepted, err := step.Get[[]int64](res, step.AcceptedOffers)
		if err != nil {
			return err
		}
		bySeq := make(map[int64]model.Document, len(offers))
		for _, o := range offers {
			bySeq[o.Sequence] = o
		}
		for _, seq := range accepted {
			offer, ok := bySeq[seq]
			if !ok {
				return fmt.Errorf("%w: %s accepted unknown offer %d", model.ErrConfiguration, step.PlaceFlexOrders, seq)
			}
			delete(bySeq, seq)
			role := offer.Role
			if role == "" {
				role = model.RoleAGR
			}
			order := c.newDocument(model.TypeFlexOrder, period, group, role, offer.Participant)
			order.OriginSequence = offer.Sequence
			order.Currency = offer.Currency
			order.PTUs = append([]model.PTU(nil), offer.PTUs...)
			if err := tx.SaveDocument(ctx, order); err != nil {
				return err
			}
			if err := transition(ctx, tx, out, events.WorkflowPlaceFlexOrdersForGroup, &offer, status.Ordered); err != nil {
				return err
			}
			c.log.Debugw("order placed", logger.Fields(events.WorkflowPlaceFlexOrdersForGroup, group, order.Sequence))
			out.note(events.DocumentEvent{Workflow: events.WorkflowPlaceFlexOrdersForGroup, Type: order.Type, Status: order.Status, Group: group})
			out.send(order)
		}
		return nil
	})
}

// ExpireDocuments moves requests and offers past their expiration to
// EXPIRED.
func (c *Coordinator) ExpireDocuments(ctx context.Context) error {
	return c.run(ctx, events.WorkflowExpireDocuments, lockKey("expire", ""), func(tx planboard.Tx, out *outbox) error {
		now := c.now()
		targets := []planboard.Query{
			{Type: model.TypeFlexRequest, Statuses: []model.Status{model.StatusSent, model.StatusAccepted}},
			{Type: model.TypeFlexOffer, Statuses: []model.Status{model.StatusReceived, model.StatusSent, model.StatusAccepted}},
		}
		expired := 0
		for _, q := range targets {
			docs, err := tx.FindDocuments(ctx, q)
			if err != nil {
				return err
			}
			for i := range docs {
				if !docs[i].Expired(now) {
					continue
				}
				if err := transition(ctx, tx, out, events.WorkflowExpireDocuments, &docs[i], status.Expired); err != nil {
					return err
				}
				expired++
			}
		}
		if expired > 0 {
			c.log.Infof("expired %d documents", expired)
		}
		return nil
	})
}
