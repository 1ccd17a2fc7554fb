package plugins

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kilianp07/planboard/core/model"
	"github.com/kilianp07/planboard/core/step"
)

// FlatConfig configures the flat forecast.
type FlatConfig struct {
	Power int64 `json:"power"`
}

// Flat returns the same power for every slice of the period.
func Flat(c FlatConfig) step.Step {
	return step.Func(func(_ context.Context, in step.Params) (step.Params, error) {
		n, err := step.Get[int](in, step.PTUCount)
		if err != nil {
			return nil, err
		}
		out := make([]int64, n)
		for i := range out {
			out[i] = c.Power
		}
		return step.Params{step.Power: out}, nil
	})
}

// ProfileConfig points at a profile file.
type ProfileConfig struct {
	Path string `json:"path"`
}

// Range sets Power on slices From..To, both inclusive.
type Range struct {
	From  int   `yaml:"from"`
	To    int   `yaml:"to"`
	Power int64 `yaml:"power"`
}

// Profile is a per-slice power profile. Slices not covered by a range get
// Default.
type Profile struct {
	Default int64   `yaml:"default"`
	Ranges  []Range `yaml:"ranges"`
}

// LoadProfile reads a YAML profile from path.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: profile: %v", model.ErrConfiguration, err)
	}
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: profile %s: %v", model.ErrConfiguration, path, err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("profile %s: %w", path, err)
	}
	return &p, nil
}

// Validate rejects empty or inverted ranges.
func (p *Profile) Validate() error {
	for i, r := range p.Ranges {
		if r.From < 1 || r.To < r.From {
			return fmt.Errorf("%w: range %d is %d..%d", model.ErrConfiguration, i, r.From, r.To)
		}
	}
	return nil
}

// Power expands the profile to count slices. Ranges past count are cut.
func (p *Profile) Power(count int) []int64 {
	out := make([]int64, count)
	for i := range out {
		out[i] = p.Default
	}
	for _, r := range p.Ranges {
		for i := r.From; i <= r.To && i <= count; i++ {
			out[i-1] = r.Power
		}
	}
	return out
}

// Invoke implements step.Step.
func (p *Profile) Invoke(_ context.Context, in step.Params) (step.Params, error) {
	n, err := step.Get[int](in, step.PTUCount)
	if err != nil {
		return nil, err
	}
	return step.Params{step.Power: p.Power(n)}, nil
}
