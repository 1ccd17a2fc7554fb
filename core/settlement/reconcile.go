// Package settlement reconciles ordered against delivered flexible power.
package settlement

import (
	"fmt"

	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/floats"

	"github.com/kilianp07/planboard/core/model"
	"github.com/kilianp07/planboard/core/step"
)

// Deficiency is the part of the ordered power that was not delivered. For a
// negative order the deficiency is how far delivery stayed above it. It never
// goes below zero.
func Deficiency(ordered, delivered int64) int64 {
	var d int64
	if ordered >= 0 {
		d = ordered - delivered
	} else {
		d = delivered - ordered
	}
	if d < 0 {
		return 0
	}
	return d
}

// Line builds the settlement line for one PTU. The local disposition is
// Accepted when the order was met and Disputed otherwise.
func Line(index int, ordered, delivered int64, price, penalty decimal.Decimal) model.SettlementLine {
	def := Deficiency(ordered, delivered)
	disp := model.DispositionAccepted
	if def > 0 {
		disp = model.DispositionDisputed
	}
	return model.SettlementLine{
		Index:           index,
		Ordered:         ordered,
		Delivered:       delivered,
		PowerDeficiency: def,
		Price:           price,
		Penalty:         penalty,
		Disposition:     disp,
	}
}

// Reconcile settles order against the step result. The settlement carries
// exactly ptuCount lines; results longer than that are rejected as a
// configuration error.
func Reconcile(order model.Document, res step.OrderSettlement, ptuCount int, settlementSeq int64) (model.FlexOrderSettlement, error) {
	if order.Type != model.TypeFlexOrder {
		return model.FlexOrderSettlement{}, fmt.Errorf("%w: cannot settle %s %d", model.ErrConfiguration, order.Type, order.Sequence)
	}
	if len(res.Delivered) > ptuCount || len(res.Penalty) > ptuCount {
		return model.FlexOrderSettlement{}, fmt.Errorf("%w: settlement of order %d has more than %d slices",
			model.ErrConfiguration, order.Sequence, ptuCount)
	}
	ordered := order.Power(ptuCount)
	prices := make([]decimal.Decimal, ptuCount)
	for _, p := range order.PTUs {
		if p.Index >= 1 && p.Index <= ptuCount {
			prices[p.Index-1] = p.Price
		}
	}
	out := model.FlexOrderSettlement{
		SettlementSequence: settlementSeq,
		OrderSequence:      order.Sequence,
		Participant:        order.Participant,
		Period:             order.Period,
		Group:              order.Group,
		Disposition:        model.DispositionAccepted,
		Lines:              make([]model.SettlementLine, ptuCount),
	}
	for i := 0; i < ptuCount; i++ {
		var delivered int64
		if i < len(res.Delivered) {
			delivered = res.Delivered[i]
		}
		penalty := decimal.Zero
		if i < len(res.Penalty) {
			penalty = res.Penalty[i]
		}
		l := Line(i+1, ordered[i], delivered, prices[i], penalty)
		if l.Disposition == model.DispositionDisputed {
			out.Disposition = model.DispositionDisputed
		}
		out.Lines[i] = l
	}
	return out, nil
}

// Summary aggregates a batch of settlements.
type Summary struct {
	Orders     int
	Disputed   int
	Ordered    float64
	Delivered  float64
	Deficiency float64
	MaxDeficit float64
	Penalty    decimal.Decimal
}

// Summarize totals the power columns and penalties of sets.
func Summarize(sets []model.FlexOrderSettlement) Summary {
	s := Summary{Orders: len(sets), Penalty: decimal.Zero}
	var ordered, delivered, deficiency []float64
	for _, set := range sets {
		if set.Disposition == model.DispositionDisputed {
			s.Disputed++
		}
		for _, l := range set.Lines {
			ordered = append(ordered, float64(l.Ordered))
			delivered = append(delivered, float64(l.Delivered))
			deficiency = append(deficiency, float64(l.PowerDeficiency))
		}
		s.Penalty = s.Penalty.Add(set.Penalty())
	}
	if len(deficiency) == 0 {
		return s
	}
	s.Ordered = floats.Sum(ordered)
	s.Delivered = floats.Sum(delivered)
	s.Deficiency = floats.Sum(deficiency)
	s.MaxDeficit = floats.Max(deficiency)
	return s
}
