package factory

import (
	"errors"
	"testing"
	"time"

	"github.com/kilianp07/planboard/core/model"
)

type sample struct{ A int }

type sampleConf struct {
	A       int           `json:"a"`
	Timeout time.Duration `json:"timeout"`
}

// Test registry registration and instantiation using Decode.
func TestRegistry_Create(t *testing.T) {
	reg := NewRegistry[*sample]()
	if err := reg.Register("s", func(conf map[string]any) (*sample, error) {
		var c sampleConf
		if err := Decode(conf, &c); err != nil {
			return nil, err
		}
		return &sample{A: c.A}, nil
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	inst, err := reg.Create(ModuleConfig{Type: "s", Conf: map[string]any{"a": 3}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if inst.A != 3 {
		t.Fatalf("expected 3 got %d", inst.A)
	}
	if names := reg.Names(); len(names) != 1 || names[0] != "s" {
		t.Fatalf("unexpected names %v", names)
	}
}

// Test duplicate registration and unknown type errors.
func TestRegistry_Errors(t *testing.T) {
	reg := NewRegistry[int]()
	if err := reg.Register("x", func(map[string]any) (int, error) { return 1, nil }); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Register("x", nil); err == nil {
		t.Fatal("expected duplicate error")
	}
	_, err := reg.Create(ModuleConfig{Type: "y"})
	if !errors.Is(err, model.ErrConfiguration) {
		t.Fatalf("expected configuration error got %v", err)
	}
}

func TestDecode(t *testing.T) {
	var c sampleConf
	if err := Decode(map[string]any{"a": "7", "timeout": "1m30s"}, &c); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if c.A != 7 || c.Timeout != 90*time.Second {
		t.Fatalf("unexpected %+v", c)
	}
	err := Decode(map[string]any{"b": 1}, &c)
	if !errors.Is(err, model.ErrConfiguration) {
		t.Fatalf("expected configuration error for unknown key got %v", err)
	}
}
