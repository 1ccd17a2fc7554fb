package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/planboard/core/events"
	"github.com/kilianp07/planboard/core/model"
	"github.com/kilianp07/planboard/core/planboard"
	"github.com/kilianp07/planboard/core/step"
)

var march = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func acceptedOrder(h *harness, seq int64, participant string, p ...model.PTU) {
	h.save(model.Document{Type: model.TypeFlexOrder, Sequence: seq, Period: time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC),
		Group: "ean.1", Participant: participant, Role: model.RoleAGR, Status: model.StatusAccepted, PTUs: p})
}

// deliver reports the given delivery for slice 1 of every order it is handed.
func deliver(power int64) step.Func {
	return func(_ context.Context, in step.Params) (step.Params, error) {
		orders, err := step.Get[[]model.Document](in, step.Orders)
		if err != nil {
			return nil, err
		}
		var out []step.OrderSettlement
		for _, o := range orders {
			out = append(out, step.OrderSettlement{OrderSequence: o.Sequence, Delivered: []int64{power}})
		}
		return step.Params{step.OrderSettlements: out}, nil
	}
}

func TestInitiateSettlement(t *testing.T) {
	h := newHarness(t, model.RoleDSO)
	acceptedOrder(h, 1, agr, model.PTU{Index: 1, Power: 10, Price: decimal.NewFromInt(10)})
	h.bind(step.InitiateSettlement, deliver(5))

	require.NoError(t, h.coord.InitiateSettlement(context.Background(), march.AddDate(0, 0, 12)))
	docs := h.docs(planboard.Query{Type: model.TypeFlexSettlement})
	require.Len(t, docs, 1)
	assert.Equal(t, agr, docs[0].Participant)
	assert.True(t, docs[0].Period.Equal(march))
	assert.Equal(t, model.StatusSent, docs[0].Status)

	sets, err := h.store.FindSettlements(context.Background(), planboard.SettlementQuery{SettlementSequence: docs[0].Sequence})
	require.NoError(t, err)
	require.Len(t, sets, 1)
	s := sets[0]
	assert.Equal(t, int64(1), s.OrderSequence)
	require.Len(t, s.Lines, 96)
	assert.Equal(t, int64(10), s.Lines[0].Ordered)
	assert.Equal(t, int64(5), s.Lines[0].Delivered)
	assert.Equal(t, int64(5), s.Lines[0].PowerDeficiency)
	assert.True(t, s.Lines[0].Price.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, model.DispositionDisputed, s.Disposition)

	var found bool
	for _, n := range h.notes {
		if se, ok := n.(events.SettlementEvent); ok {
			found = true
			assert.Equal(t, 1, se.Disputed)
		}
	}
	assert.True(t, found, "settlement notification published")

	h.drain()
	require.Len(t, h.out.msgs, 1)
	assert.Len(t, h.out.msgs[0].Settlements, 1)
}

func TestInitiateSettlementIsIdempotent(t *testing.T) {
	h := newHarness(t, model.RoleDSO)
	acceptedOrder(h, 1, agr, model.PTU{Index: 1, Power: 10})
	h.bind(step.InitiateSettlement, deliver(10))

	require.NoError(t, h.coord.InitiateSettlement(context.Background(), march))
	require.NoError(t, h.coord.InitiateSettlement(context.Background(), march))
	assert.Len(t, h.docs(planboard.Query{Type: model.TypeFlexSettlement}), 1)
	sets, err := h.store.FindSettlements(context.Background(), planboard.SettlementQuery{})
	require.NoError(t, err)
	assert.Len(t, sets, 1)
}

func TestInitiateSettlementOneDocumentPerParticipant(t *testing.T) {
	h := newHarness(t, model.RoleDSO)
	acceptedOrder(h, 1, agr)
	acceptedOrder(h, 2, agr)
	acceptedOrder(h, 3, "agr2.example.com")
	h.bind(step.InitiateSettlement, deliver(0))
	require.NoError(t, h.coord.InitiateSettlement(context.Background(), march))
	docs := h.docs(planboard.Query{Type: model.TypeFlexSettlement})
	require.Len(t, docs, 2)
	sets, err := h.store.FindSettlements(context.Background(), planboard.SettlementQuery{Participant: agr})
	require.NoError(t, err)
	assert.Len(t, sets, 2)
}

func TestInitiateSettlementUnknownOrder(t *testing.T) {
	h := newHarness(t, model.RoleDSO)
	acceptedOrder(h, 1, agr)
	h.bind(step.InitiateSettlement, func(context.Context, step.Params) (step.Params, error) {
		return step.Params{step.OrderSettlements: []step.OrderSettlement{{OrderSequence: 77}}}, nil
	})
	err := h.coord.InitiateSettlement(context.Background(), march)
	assert.True(t, errors.Is(err, model.ErrConfiguration))
	assert.Empty(t, h.docs(planboard.Query{Type: model.TypeFlexSettlement}))
}

func settled(t *testing.T, h *harness) model.Document {
	t.Helper()
	acceptedOrder(h, 1, agr, model.PTU{Index: 1, Power: 10})
	acceptedOrder(h, 2, agr, model.PTU{Index: 1, Power: 10})
	h.bind(step.InitiateSettlement, deliver(10))
	require.NoError(t, h.coord.InitiateSettlement(context.Background(), march))
	h.take()
	docs := h.docs(planboard.Query{Type: model.TypeFlexSettlement})
	require.Len(t, docs, 1)
	return docs[0]
}

func TestProcessSettlementResponse(t *testing.T) {
	h := newHarness(t, model.RoleDSO)
	doc := settled(t, h)

	err := h.coord.ProcessSettlementResponse(context.Background(), events.SettlementResponseReceived{
		SettlementSequence: doc.Sequence,
		Participant:        agr,
		Code:               "Disputed",
		Orders: []events.OrderDisposition{
			{OrderSequence: 1, Code: "Accepted"},
			{OrderSequence: 2, Code: "Disputed"},
			{OrderSequence: 9, Code: "Accepted"},
		},
	})
	require.NoError(t, err)

	got, err := h.store.FindBySequence(context.Background(), model.TypeFlexSettlement, agr, doc.Sequence)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDisputed, got.Status)

	sets, err := h.store.FindSettlements(context.Background(), planboard.SettlementQuery{SettlementSequence: doc.Sequence})
	require.NoError(t, err)
	want := map[int64]model.Disposition{1: model.DispositionAccepted, 2: model.DispositionDisputed}
	for _, s := range sets {
		assert.True(t, s.Confirmed)
		assert.Equal(t, want[s.OrderSequence], s.Disposition)
	}
	for _, seq := range []int64{1, 2} {
		o, err := h.store.FindBySequence(context.Background(), model.TypeFlexOrder, agr, seq)
		require.NoError(t, err)
		assert.Equal(t, model.StatusProcessed, o.Status)
	}
}

func TestProcessSettlementResponseLateIsIgnored(t *testing.T) {
	h := newHarness(t, model.RoleDSO)
	doc := settled(t, h)
	resp := events.SettlementResponseReceived{SettlementSequence: doc.Sequence, Participant: agr, Code: "Accepted"}
	require.NoError(t, h.coord.ProcessSettlementResponse(context.Background(), resp))
	resp.Code = "Disputed"
	require.NoError(t, h.coord.ProcessSettlementResponse(context.Background(), resp))

	got, err := h.store.FindBySequence(context.Background(), model.TypeFlexSettlement, agr, doc.Sequence)
	require.NoError(t, err)
	assert.Equal(t, model.StatusAccepted, got.Status)
}

func TestProcessSettlementResponseUnknown(t *testing.T) {
	h := newHarness(t, model.RoleDSO)
	err := h.coord.ProcessSettlementResponse(context.Background(), events.SettlementResponseReceived{
		SettlementSequence: 5, Participant: agr, Code: "Accepted"})
	assert.NoError(t, err)
}

func TestProcessSettlementResponseUnmappedCode(t *testing.T) {
	h := newHarness(t, model.RoleDSO)
	doc := settled(t, h)
	err := h.coord.ProcessSettlementResponse(context.Background(), events.SettlementResponseReceived{
		SettlementSequence: doc.Sequence, Participant: agr, Code: "Rejected"})
	assert.True(t, errors.Is(err, model.ErrConfiguration))
	got, err := h.store.FindBySequence(context.Background(), model.TypeFlexSettlement, agr, doc.Sequence)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSent, got.Status)
}

func TestMonthStart(t *testing.T) {
	h := newHarness(t, model.RoleDSO)
	assert.True(t, h.coord.MonthStart(time.Date(2024, 3, 31, 23, 59, 0, 0, time.UTC)).Equal(march))
}
