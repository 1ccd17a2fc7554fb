package plugins

import (
	"context"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/kilianp07/planboard/core/model"
	"github.com/kilianp07/planboard/core/settlement"
	"github.com/kilianp07/planboard/core/step"
)

// AsOrderedConfig configures the as_ordered settlement.
type AsOrderedConfig struct {
	// DeliveryRatio scales the ordered power into the delivered power.
	DeliveryRatio float64 `json:"delivery_ratio"`
	// PenaltyFactor multiplies deficiency times price.
	PenaltyFactor float64 `json:"penalty_factor"`
}

// AsOrdered settles every order as if DeliveryRatio of it was delivered.
type AsOrdered struct {
	ratio  float64
	factor decimal.Decimal
}

// NewAsOrdered validates c.
func NewAsOrdered(c AsOrderedConfig) (*AsOrdered, error) {
	if c.DeliveryRatio < 0 || c.PenaltyFactor < 0 {
		return nil, fmt.Errorf("%w: as_ordered: delivery_ratio and penalty_factor must not be negative", model.ErrConfiguration)
	}
	return &AsOrdered{ratio: c.DeliveryRatio, factor: decimal.NewFromFloat(c.PenaltyFactor)}, nil
}

// Invoke implements step.Step.
func (a *AsOrdered) Invoke(_ context.Context, in step.Params) (step.Params, error) {
	orders, err := step.Get[[]model.Document](in, step.Orders)
	if err != nil {
		return nil, err
	}
	out := make([]step.OrderSettlement, 0, len(orders))
	for _, o := range orders {
		n := 0
		for _, p := range o.PTUs {
			n = max(n, p.Index)
		}
		res := step.OrderSettlement{
			OrderSequence: o.Sequence,
			Delivered:     make([]int64, n),
			Penalty:       make([]decimal.Decimal, n),
		}
		for i := range res.Penalty {
			res.Penalty[i] = decimal.Zero
		}
		for _, p := range o.PTUs {
			if p.Index < 1 {
				continue
			}
			delivered := int64(math.Round(float64(p.Power) * a.ratio))
			def := settlement.Deficiency(p.Power, delivered)
			res.Delivered[p.Index-1] = delivered
			res.Penalty[p.Index-1] = a.factor.Mul(decimal.NewFromInt(def)).Mul(p.Price)
		}
		out = append(out, res)
	}
	return step.Params{step.OrderSettlements: out}, nil
}
