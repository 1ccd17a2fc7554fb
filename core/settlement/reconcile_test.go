package settlement

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/planboard/core/model"
	"github.com/kilianp07/planboard/core/step"
)

func TestDeficiency(t *testing.T) {
	cases := []struct {
		ordered, delivered, want int64
	}{
		{10, 5, 5},
		{10, 10, 0},
		{10, 12, 0},
		{-10, -4, 6},
		{-10, -12, 0},
		{0, 3, 0},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Deficiency(c.ordered, c.delivered), "ordered %d delivered %d", c.ordered, c.delivered)
	}
}

func TestLineDeficiencyExact(t *testing.T) {
	l := Line(1, 10, 5, decimal.NewFromInt(10), decimal.RequireFromString("25"))
	assert.Equal(t, int64(5), l.PowerDeficiency)
	assert.Equal(t, model.DispositionDisputed, l.Disposition)
	assert.True(t, l.Price.Equal(decimal.NewFromInt(10)))
}

func order(ptus ...model.PTU) model.Document {
	return model.Document{
		Type:        model.TypeFlexOrder,
		Sequence:    77,
		Period:      time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC),
		Group:       "ean.1",
		Participant: "agr.example.com",
		Status:      model.StatusAccepted,
		PTUs:        ptus,
	}
}

func TestReconcileSizesLinesToPTUCount(t *testing.T) {
	o := order(model.PTU{Index: 2, Power: 10, Price: decimal.NewFromInt(10)})
	res := step.OrderSettlement{
		OrderSequence: 77,
		Delivered:     []int64{0, 5},
		Penalty:       []decimal.Decimal{decimal.Zero, decimal.NewFromInt(50)},
	}
	set, err := Reconcile(o, res, 96, 500)
	require.NoError(t, err)
	require.Len(t, set.Lines, 96)
	assert.Equal(t, int64(500), set.SettlementSequence)
	assert.Equal(t, int64(77), set.OrderSequence)
	assert.Equal(t, model.DispositionDisputed, set.Disposition)
	assert.Equal(t, int64(5), set.Lines[1].PowerDeficiency)
	assert.Equal(t, model.DispositionAccepted, set.Lines[0].Disposition)
	assert.True(t, set.Penalty().Equal(decimal.NewFromInt(50)))
	for i, l := range set.Lines {
		assert.Equal(t, i+1, l.Index)
	}
}

func TestReconcileRejectsOversizedResult(t *testing.T) {
	_, err := Reconcile(order(), step.OrderSettlement{Delivered: make([]int64, 5)}, 4, 1)
	assert.True(t, errors.Is(err, model.ErrConfiguration))
	_, err = Reconcile(model.Document{Type: model.TypeFlexOffer}, step.OrderSettlement{}, 4, 1)
	assert.True(t, errors.Is(err, model.ErrConfiguration))
}

func TestSummarize(t *testing.T) {
	a, err := Reconcile(order(model.PTU{Index: 1, Power: 10}), step.OrderSettlement{Delivered: []int64{5}, Penalty: []decimal.Decimal{decimal.RequireFromString("1.5")}}, 2, 1)
	require.NoError(t, err)
	b, err := Reconcile(order(model.PTU{Index: 1, Power: 4}), step.OrderSettlement{Delivered: []int64{4}}, 2, 1)
	require.NoError(t, err)
	s := Summarize([]model.FlexOrderSettlement{a, b})
	assert.Equal(t, 2, s.Orders)
	assert.Equal(t, 1, s.Disputed)
	assert.InDelta(t, 14, s.Ordered, 1e-9)
	assert.InDelta(t, 9, s.Delivered, 1e-9)
	assert.InDelta(t, 5, s.Deficiency, 1e-9)
	assert.InDelta(t, 5, s.MaxDeficit, 1e-9)
	assert.True(t, s.Penalty.Equal(decimal.RequireFromString("1.5")))

	empty := Summarize(nil)
	assert.Equal(t, 0, empty.Orders)
	assert.True(t, empty.Penalty.IsZero())
}
