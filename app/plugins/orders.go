package plugins

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/kilianp07/planboard/core/model"
	"github.com/kilianp07/planboard/core/step"
)

// AcceptAll orders every offer it is handed.
func AcceptAll(_ context.Context, in step.Params) (step.Params, error) {
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

// CheapestConfig configures the cheapest-first selection.
type CheapestConfig struct {
	MaxOrders int `json:"max_orders"`
}

// Cheapest orders offers by ascending total price and keeps the first
// MaxOrders.
type Cheapest struct {
	max int
}

// NewCheapest validates c.
func NewCheapest(c CheapestConfig) (*Cheapest, error) {
	if c.MaxOrders <= 0 {
		return nil, fmt.Errorf("%w: cheapest: max_orders must be positive", model.ErrConfiguration)
	}
	return &Cheapest{max: c.MaxOrders}, nil
}

// OfferPrice sums the slice prices of an offer.
func OfferPrice(o model.Document) decimal.Decimal {
	total := decimal.Zero
	for _, p := range o.PTUs {
		total = total.Add(p.Price)
	}
	return total
}

// Invoke implements step.Step.
func (c *Cheapest) Invoke(_ context.Context, in step.Params) (step.Params, error) {
	offers, err := step.Get[[]model.Document](in, step.Offers)
	if err != nil {
		return nil, err
	}
	sorted := append([]model.Document(nil), offers...)
	sort.SliceStable(sorted, func(i, j int) bool {
		pi, pj := OfferPrice(sorted[i]), OfferPrice(sorted[j])
		if !pi.Equal(pj) {
			return pi.LessThan(pj)
		}
		return sorted[i].Sequence < sorted[j].Sequence
	})
	n := min(c.max, len(sorted))
	seqs := make([]int64, n)
	for i := range seqs {
		seqs[i] = sorted[i].Sequence
	}
	return step.Params{step.AcceptedOffers: seqs}, nil
}
