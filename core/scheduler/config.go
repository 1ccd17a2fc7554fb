package scheduler

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// JobConfig describes one daily job. Workflow names the event raised when it
// fires; DayOffset selects the period relative to the firing day.
type JobConfig struct {
	Name       string `json:"name" yaml:"name"`
	Workflow   string `json:"workflow" yaml:"workflow"`
	At         string `json:"at" yaml:"at"`
	OffsetPTUs int    `json:"offset_ptus" yaml:"offset_ptus"`
	DayOffset  int    `json:"day_offset" yaml:"day_offset"`
}

// Config is the content of a schedule file.
type Config struct {
	Jobs []JobConfig `json:"jobs" yaml:"jobs"`
}

// Validate checks names are unique and times parse.
func (c Config) Validate() error {
	seen := map[string]bool{}
	for _, j := range c.Jobs {
		if j.Name == "" || j.Workflow == "" {
			return fmt.Errorf("job %q: name and workflow are required", j.Name)
		}
		if seen[j.Name] {
			return fmt.Errorf("duplicate job %s", j.Name)
		}
		seen[j.Name] = true
		if _, err := ParseTimeOfDay(j.At); err != nil {
			return fmt.Errorf("job %s: %w", j.Name, err)
		}
		if j.OffsetPTUs < 0 {
			return fmt.Errorf("job %s: offset_ptus must not be negative", j.Name)
		}
	}
	return nil
}

// LoadConfig loads a schedule from a JSON or YAML file.
func LoadConfig(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	ext := strings.ToLower(filepath.Ext(path))
	var cfg Config
	switch ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &cfg)
	case ".json":
		err = json.Unmarshal(b, &cfg)
	default:
		return Config{}, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// DecodeConfig reads a schedule from r.
func DecodeConfig(r io.Reader, format string) (Config, error) {
	var cfg Config
	switch strings.ToLower(format) {
	case "yaml", "yml":
		dec := yaml.NewDecoder(r)
		if err := dec.Decode(&cfg); err != nil {
			return cfg, err
		}
	case "json":
		dec := json.NewDecoder(r)
		if err := dec.Decode(&cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported format: %s", format)
	}
	return cfg, cfg.Validate()
}
