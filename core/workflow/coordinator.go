// Package workflow holds the coordinators that turn timer and inbound
// events into planboard changes, outbound messages and follow-up events.
//
// Every coordinator run is one store transaction. Follow-up events and
// outbound sends are collected while the transaction runs and handed to the
// dispatcher only after it committed.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/planboard/core/events"
	"github.com/kilianp07/planboard/core/logger"
	"github.com/kilianp07/planboard/core/model"
	"github.com/kilianp07/planboard/core/planboard"
	"github.com/kilianp07/planboard/core/ptu"
	"github.com/kilianp07/planboard/core/sender"
	"github.com/kilianp07/planboard/core/sequence"
	"github.com/kilianp07/planboard/core/status"
	"github.com/kilianp07/planboard/core/step"
)

// Config holds the market parameters resolved once at startup.
type Config struct {
	Self                sender.Party
	Currency            string
	GateClosurePTUs     int
	FlexRequestValidity time.Duration
}

// Deliverer is the reliable outbound path.
type Deliverer interface {
	Send(ctx context.Context, msg sender.Message) (sender.Response, error)
}

// Coordinator runs the planboard workflows.
type Coordinator struct {
	cfg    Config
	clock  ptu.Clock
	store  planboard.Store
	steps  *step.Registry
	seq    sequence.Generator
	out    Deliverer
	locks  *KeyedLocks
	log    logger.Logger
	submit func(events.Event) bool
	notify func(any)
	now    func() time.Time
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithNotify publishes notifications after each commit.
func WithNotify(f func(any)) Option { return func(c *Coordinator) { c.notify = f } }

// WithNow replaces the wall clock.
func WithNow(f func() time.Time) Option { return func(c *Coordinator) { c.now = f } }

// New builds a Coordinator. Follow-up events are handed to submit.
func New(cfg Config, clock ptu.Clock, store planboard.Store, steps *step.Registry, seq sequence.Generator,
	out Deliverer, submit func(events.Event) bool, log logger.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		cfg:    cfg,
		clock:  clock,
		store:  store,
		steps:  steps,
		seq:    seq,
		out:    out,
		locks:  NewKeyedLocks(),
		log:    log,
		submit: submit,
		notify: func(any) {},
		now:    time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// outbox collects what a run produces until it committed.
type outbox struct {
	follow []events.Event
	notes  []any
}

func (o *outbox) raise(e events.Event) { o.follow = append(o.follow, e) }

func (o *outbox) send(d model.Document) {
	o.follow = append(o.follow, events.Send{Document: d})
}

func (o *outbox) respond(r events.Response) {
	o.follow = append(o.follow, events.Send{Response: &r})
}

func (o *outbox) note(n any) { o.notes = append(o.notes, n) }

// commitAttempts bounds how often a run is repeated after a status conflict.
const commitAttempts = 3

// run executes fn under its lock in one transaction and releases its outbox
// on commit. A run that lost a status race to another run is repeated.
func (c *Coordinator) run(ctx context.Context, workflow, lock string, fn func(tx planboard.Tx, out *outbox) error) error {
	defer c.acquire(lock)()
	var (
		out outbox
		err error
	)
	for attempt := 1; ; attempt++ {
		err = c.store.Atomic(ctx, func(tx planboard.Tx) error {
			out = outbox{}
			return fn(tx, &out)
		})
		if !errors.Is(err, planboard.ErrConflict) || attempt == commitAttempts {
			break
		}
		c.log.Warnf("%s: %v, retrying", workflow, err)
	}
	c.notify(events.WorkflowEvent{Workflow: workflow, Err: err})
	if err != nil {
		if errors.Is(err, model.ErrConfiguration) {
			c.log.Errorf("%s aborted: %v", workflow, err)
		}
		return fmt.Errorf("%s: %w", workflow, err)
	}
	for _, e := range out.follow {
		if !c.submit(e) {
			c.log.Warnf("%s: follow-up %s dropped, dispatcher closed", workflow, e.Workflow())
		}
	}
	for _, n := range out.notes {
		c.notify(n)
	}
	return nil
}

// acquire takes the lock of a run. Runs for one group share their family
// and exclude each other; a family-wide run excludes every group.
func (c *Coordinator) acquire(lock string) func() {
	if lock == "" {
		return func() {}
	}
	family, group, _ := strings.Cut(lock, "|")
	if group == "" || group == "*" {
		return c.locks.Lock(family)
	}
	unlockFamily := c.locks.RLock(family)
	unlock := c.locks.Lock(lock)
	return func() {
		unlock()
		unlockFamily()
	}
}

// transition applies the trigger to d inside tx.
func transition(ctx context.Context, tx planboard.Tx, out *outbox, workflow string, d *model.Document, on status.Trigger) error {
	if err := status.Apply(d, on); err != nil {
		return err
	}
	if err := tx.UpdateStatus(ctx, d.Key(), d.Status); err != nil {
		return err
	}
	out.note(events.DocumentEvent{Workflow: workflow, Type: d.Type, Status: d.Status, Group: d.Group})
	return nil
}

// newDocument allocates identity for a document created by this participant.
func (c *Coordinator) newDocument(t model.DocumentType, period time.Time, group string, to model.Role, participant string) model.Document {
	return model.Document{
		Type:           t,
		Sequence:       c.seq.Next(),
		Period:         period,
		Group:          group,
		Participant:    participant,
		Role:           to,
		Status:         model.StatusSent,
		Created:        c.now(),
		MessageID:      uuid.NewString(),
		ConversationID: uuid.NewString(),
		Currency:       c.cfg.Currency,
		TimeZone:       c.clock.Location().String(),
		PTUDuration:    c.clock.Duration(),
	}
}

// dayQuery selects documents of type t whose period is the given day.
func (c *Coordinator) dayQuery(t model.DocumentType, day time.Time, group string, st ...model.Status) planboard.Query {
	return planboard.Query{Type: t, From: day, To: c.nextDay(day), Group: group, Statuses: st}
}

func (c *Coordinator) nextDay(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, c.clock.Location())
}

// frozenThrough returns the highest PTU index of period that may no longer
// change: everything up to the current PTU plus the gate-closure window.
func (c *Coordinator) frozenThrough(period time.Time) int {
	now := c.now()
	today := c.clock.Day(now)
	count := c.clock.Count(period)
	switch {
	case period.Before(today):
		return count
	case period.Equal(today):
		return min(c.clock.Index(now)+c.cfg.GateClosurePTUs, count)
	}
	return 0
}

// Handle routes an event to its coordinator.
func (c *Coordinator) Handle(ctx context.Context, e any) error {
	switch ev := e.(type) {
	case events.CreatePrognosis:
		return c.CreatePrognosis(ctx, ev.Period, ev.Group)
	case events.ReCreatePrognosis:
		return c.ReCreatePrognosis(ctx, ev.Period)
	case events.PrognosisRecreationRequested:
		return c.RequestPrognosisRecreation(ctx, ev.Period, ev.Group)
	case events.CreateFlexRequest:
		return c.CreateFlexRequest(ctx, ev.Period, ev.Group)
	case events.FlexOfferReceived:
		return c.ReceiveFlexOffer(ctx, ev.Offer)
	case events.PlaceFlexOrders:
		return c.PlaceFlexOrders(ctx, ev.Period)
	case events.PlaceFlexOrdersForGroup:
		return c.PlaceFlexOrdersForGroup(ctx, ev.Period, ev.Group)
	case events.InitiateSettlement:
		return c.InitiateSettlement(ctx, ev.Month)
	case events.SettlementResponseReceived:
		return c.ProcessSettlementResponse(ctx, ev)
	case events.AcknowledgementReceived:
		return c.ProcessAcknowledgement(ctx, ev)
	case events.ExpireDocuments:
		return c.ExpireDocuments(ctx)
	case events.DeliveryFailed:
		return c.HandleDeliveryFailure(ctx, ev)
	case events.Send:
		return c.Send(ctx, ev)
	}
	return fmt.Errorf("%w: no coordinator for %T", model.ErrConfiguration, e)
}
