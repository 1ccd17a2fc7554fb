// Package step defines the contract of the pluggable business steps invoked
// by the workflow coordinators. A step receives a flat map of named
// parameters and returns another; every declared output must be present.
package step

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/kilianp07/planboard/core/factory"
	"github.com/kilianp07/planboard/core/model"
)

// Name identifies the workflow hook a step is plugged into.
type Name string

const (
	CreatePrognosis    Name = "create_prognosis"
	CreateFlexRequest  Name = "create_flex_request"
	PlaceFlexOrders    Name = "place_flex_orders"
	InitiateSettlement Name = "initiate_settlement"
)

// Param is a named step parameter.
type Param string

const (
	Period           Param = "PERIOD"
	Group            Param = "GROUP"
	PTUCount         Param = "PTU_COUNT"
	PTUDuration      Param = "PTU_DURATION"
	Power            Param = "POWER"
	Offers           Param = "OFFERS"
	AcceptedOffers   Param = "ACCEPTED_OFFERS"
	PeriodStart      Param = "PERIOD_START"
	PeriodEnd        Param = "PERIOD_END"
	Orders           Param = "ORDERS"
	Prognoses        Param = "PROGNOSES"
	Requests         Param = "REQUESTS"
	OrderSettlements Param = "ORDER_SETTLEMENTS"
)

// Params is the flat parameter map exchanged with a step.
type Params map[Param]any

// OrderSettlement is the per-order result of the initiate_settlement step.
// Delivered and Penalty are indexed by PTU, starting at index 1.
type OrderSettlement struct {
	OrderSequence int64
	Delivered     []int64
	Penalty       []decimal.Decimal
}

// Step is a pluggable business computation.
type Step interface {
	Invoke(ctx context.Context, in Params) (Params, error)
}

// Func adapts a function to Step.
type Func func(ctx context.Context, in Params) (Params, error)

// Invoke calls f.
func (f Func) Invoke(ctx context.Context, in Params) (Params, error) { return f(ctx, in) }

// Outputs lists the parameters each hook must return.
var Outputs = map[Name][]Param{
	CreatePrognosis:    {Power},
	CreateFlexRequest:  {Power},
	PlaceFlexOrders:    {AcceptedOffers},
	InitiateSettlement: {OrderSettlements},
}

// Get returns the parameter name from p as T. A missing or mistyped value is
// a configuration error.
func Get[T any](p Params, name Param) (T, error) {
	var zero T
	raw, ok := p[name]
	if !ok {
		return zero, fmt.Errorf("%w: missing parameter %s", model.ErrConfiguration, name)
	}
	v, ok := raw.(T)
	if !ok {
		return zero, fmt.Errorf("%w: parameter %s is %T, want %T", model.ErrConfiguration, name, raw, zero)
	}
	return v, nil
}

// Registry binds hook names to step instances.
type Registry struct {
	mu    sync.RWMutex
	steps map[Name]Step
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry { return &Registry{steps: map[Name]Step{}} }

// Bind plugs s into the hook, replacing any previous binding.
func (r *Registry) Bind(name Name, s Step) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps[name] = s
}

// Run invokes the step bound to name and checks its declared outputs.
func (r *Registry) Run(ctx context.Context, name Name, in Params) (Params, error) {
	r.mu.RLock()
	s, ok := r.steps[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: no step bound to %s", model.ErrConfiguration, name)
	}
	out, err := s.Invoke(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("step %s: %w", name, err)
	}
	for _, p := range Outputs[name] {
		if _, ok := out[p]; !ok {
			return nil, fmt.Errorf("%w: step %s did not return %s", model.ErrConfiguration, name, p)
		}
	}
	return out, nil
}

// Factories builds steps from configuration. Built-in plugins register
// themselves in app/plugins.
var Factories = factory.NewRegistry[Step]()

// Build binds every configured hook using Factories.
func Build(conf map[Name]factory.ModuleConfig) (*Registry, error) {
	r := NewRegistry()
	for name, mc := range conf {
		if _, ok := Outputs[name]; !ok {
			return nil, fmt.Errorf("%w: unknown step hook %s", model.ErrConfiguration, name)
		}
		s, err := Factories.Create(mc)
		if err != nil {
			return nil, fmt.Errorf("step %s: %w", name, err)
		}
		r.Bind(name, s)
	}
	return r, nil
}
