package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/planboard/core/factory"
	"github.com/kilianp07/planboard/core/metrics"
	"github.com/kilianp07/planboard/core/sender"
	"github.com/kilianp07/planboard/core/step"
)

type Config struct {
	Participant ParticipantConfig                  `json:"participant"`
	PTU         PTUConfig                          `json:"ptu"`
	Market      MarketConfig                       `json:"market"`
	Sender      SenderConfig                       `json:"sender"`
	Transport   TransportConfig                    `json:"transport"`
	Store       StoreConfig                        `json:"store"`
	Scheduler   SchedulerConfig                    `json:"scheduler"`
	Workers     WorkersConfig                      `json:"workers"`
	Sequence    SequenceConfig                     `json:"sequence"`
	Steps       map[step.Name]factory.ModuleConfig `json:"steps"`
	Groups      []GroupConfig                      `json:"groups"`
	Metrics     metrics.Config                     `json:"metrics"`
	Logging     LoggingConfig                      `json:"logging"`
	Sentry      SentryConfig                       `json:"sentry"`
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides
	if err := k.Load(env.Provider("K_", "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "k_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults fills every section's defaults.
func (c *Config) SetDefaults() {
	c.PTU.SetDefaults()
	c.Market.SetDefaults()
	c.Sender.SetDefaults()
	c.Transport.SetDefaults()
	c.Store.SetDefaults()
	c.Workers.SetDefaults()
	c.Logging.SetDefaults()
}

// Validate checks every section.
func (c Config) Validate() error {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"participant", c.Participant.Validate},
		{"ptu", c.PTU.Validate},
		{"market", c.Market.Validate},
		{"sender", c.Sender.Validate},
		{"transport", c.Transport.Validate},
		{"store", c.Store.Validate},
		{"scheduler", c.Scheduler.Validate},
		{"workers", c.Workers.Validate},
		{"sequence", c.Sequence.Validate},
		{"logging", c.Logging.Validate},
	}
	for _, ch := range checks {
		if err := ch.fn(); err != nil {
			return fmt.Errorf("%s: %w", ch.name, err)
		}
	}
	for i, g := range c.Groups {
		if _, err := g.State(time.UTC); err != nil {
			return fmt.Errorf("groups[%d]: %w", i, err)
		}
	}
	return nil
}

// SenderPolicy is the sender's retry policy. It warns on every send when the
// selected transport skips certificate checks.
func (c Config) SenderPolicy() sender.Policy {
	p := c.Sender.Policy()
	p.InsecureSkipVerify = c.Transport.InsecureSkipVerify()
	return p
}
