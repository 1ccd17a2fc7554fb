// Package plugins registers the built-in business steps. Importing it for
// side effects makes the step types below available to configuration.
package plugins

import (
	"github.com/kilianp07/planboard/core/factory"
	"github.com/kilianp07/planboard/core/step"
)

func init() {
	must(step.Factories.Register("flat", func(conf map[string]any) (step.Step, error) {
		var c FlatConfig
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		return Flat(c), nil
	}))
	must(step.Factories.Register("profile", func(conf map[string]any) (step.Step, error) {
		var c ProfileConfig
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		return LoadProfile(c.Path)
	}))
	must(step.Factories.Register("accept_all", func(conf map[string]any) (step.Step, error) {
		if err := factory.Decode(conf, &struct{}{}); err != nil {
			return nil, err
		}
		return step.Func(AcceptAll), nil
	}))
	must(step.Factories.Register("cheapest", func(conf map[string]any) (step.Step, error) {
		var c CheapestConfig
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		return NewCheapest(c)
	}))
	must(step.Factories.Register("as_ordered", func(conf map[string]any) (step.Step, error) {
		c := AsOrderedConfig{DeliveryRatio: 1}
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		return NewAsOrdered(c)
	}))
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
