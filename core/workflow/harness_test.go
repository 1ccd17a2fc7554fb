package workflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kilianp07/planboard/core/events"
	"github.com/kilianp07/planboard/core/model"
	"github.com/kilianp07/planboard/core/planboard"
	"github.com/kilianp07/planboard/core/ptu"
	"github.com/kilianp07/planboard/core/sender"
	"github.com/kilianp07/planboard/core/step"
	"github.com/kilianp07/planboard/infra/logger"
)

type counter struct {
	mu sync.Mutex
	n  int64
}

func (c *counter) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return 1000 + c.n
}

type fakeDeliverer struct {
	mu   sync.Mutex
	msgs []sender.Message
	err  error
}

func (f *fakeDeliverer) Send(_ context.Context, m sender.Message) (sender.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, m)
	return sender.Response{Code: 200}, f.err
}

type harness struct {
	t      *testing.T
	coord  *Coordinator
	store  *planboard.MemoryStore
	steps  *step.Registry
	out    *fakeDeliverer
	clock  ptu.Clock
	now    time.Time
	mu     sync.Mutex
	queued []events.Event
	notes  []any
}

const (
	dso = "dso.example.com"
	agr = "agr.example.com"
)

// today is the harness' default wall clock: 10:00 UTC, PTU index 41.
var today = time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)

func newHarness(t *testing.T, self model.Role) *harness {
	t.Helper()
	h := &harness{
		t:     t,
		store: planboard.NewMemoryStore(),
		steps: step.NewRegistry(),
		out:   &fakeDeliverer{},
		clock: ptu.MustClock(15, time.UTC),
		now:   today,
	}
	domain := dso
	if self == model.RoleAGR {
		domain = agr
	}
	cfg := Config{
		Self:                sender.Party{Domain: domain, Role: self},
		Currency:            "EUR",
		GateClosurePTUs:     4,
		FlexRequestValidity: 6 * time.Hour,
	}
	h.coord = New(cfg, h.clock, h.store, h.steps, &counter{}, h.out,
		func(e events.Event) bool {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.queued = append(h.queued, e)
			return true
		},
		logger.NopLogger{},
		WithNow(func() time.Time { return h.now }),
		WithNotify(func(n any) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.notes = append(h.notes, n)
		}),
	)
	return h
}

func (h *harness) group(id string, kind model.GroupKind, participant string) {
	h.t.Helper()
	err := h.store.SaveGroupState(context.Background(), model.GroupState{
		Connection: "conn-" + id,
		Group:      model.ConnectionGroup{ID: id, Kind: kind, Participant: participant},
		ValidFrom:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		h.t.Fatalf("save group: %v", err)
	}
}

func (h *harness) bind(name step.Name, f step.Func) { h.steps.Bind(name, f) }

// take returns and clears the queued follow-up events.
func (h *harness) take() []events.Event {
	q := h.queued
	h.queued = nil
	return q
}

// drain handles queued events until none are left, sends included.
func (h *harness) drain() {
	h.t.Helper()
	for len(h.queued) > 0 {
		e := h.queued[0]
		h.queued = h.queued[1:]
		if err := h.coord.Handle(context.Background(), e); err != nil {
			h.t.Fatalf("handle %T: %v", e, err)
		}
	}
}

func (h *harness) docs(q planboard.Query) []model.Document {
	h.t.Helper()
	d, err := h.store.FindDocuments(context.Background(), q)
	if err != nil {
		h.t.Fatalf("find: %v", err)
	}
	return d
}

func (h *harness) save(d model.Document) {
	h.t.Helper()
	if err := h.store.SaveDocument(context.Background(), d); err != nil {
		h.t.Fatalf("save: %v", err)
	}
}

func flat(power int64) step.Func {
	return func(_ context.Context, in step.Params) (step.Params, error) {
		n, err := step.Get[int](in, step.PTUCount)
		if err != nil {
			return nil, err
		}
		out := make([]int64, n)
		for i := range out {
			out[i] = power
		}
		return step.Params{step.Power: out}, nil
	}
}

func acceptAll(_ context.Context, in step.Params) (step.Params, error) {
	offers, err := step.Get[[]model.Document](in, step.Offers)
	if err != nil {
		return nil, err
	}
	seqs := make([]int64, len(offers))
	for i, o := range offers {
		seqs[i] = o.Sequence
	}
	return step.Params{step.AcceptedOffers: seqs}, nil
}

func ptus(n int, power int64) []model.PTU {
	out := make([]model.PTU, n)
	for i := range out {
		out[i] = model.PTU{Index: i + 1, Power: power}
	}
	return out
}

func (h *harness) cfgValidity(d time.Duration) { h.coord.cfg.FlexRequestValidity = d }
