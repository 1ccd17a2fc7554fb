// Package factory provides a small generic registry used to instantiate modules
// from configuration. Modules are defined by a type string and a map of raw
// settings. Factories decode the settings into typed structs and return the
// concrete implementation. Business steps, metrics sinks and transports are
// all built this way.
//
// Example usage:
//
//	reg := factory.NewRegistry[step.Step]()
//	reg.Register("flat", func(conf map[string]any) (step.Step, error) {
//	    var c struct{ Power int64 `json:"power"` }
//	    if err := factory.Decode(conf, &c); err != nil {
//	        return nil, err
//	    }
//	    return flatStep{power: c.Power}, nil
//	})
//	s, err := reg.Create(factory.ModuleConfig{Type: "flat", Conf: map[string]any{"power": 100}})
package factory
