package config

import (
	"fmt"
	"time"

	"github.com/kilianp07/planboard/core/model"
	"github.com/kilianp07/planboard/core/ptu"
	"github.com/kilianp07/planboard/core/scheduler"
	"github.com/kilianp07/planboard/core/sender"
	"github.com/kilianp07/planboard/infra/mqtt"
	"github.com/kilianp07/planboard/infra/natsx"
	"github.com/kilianp07/planboard/infra/transport/httpx"
)

// ParticipantConfig identifies the participant owning this planboard.
type ParticipantConfig struct {
	Domain string     `json:"domain"`
	Role   model.Role `json:"role"`
}

func (c ParticipantConfig) Validate() error {
	if c.Domain == "" {
		return fmt.Errorf("domain is required")
	}
	switch c.Role {
	case model.RoleDSO, model.RoleAGR, model.RoleBRP:
		return nil
	}
	return fmt.Errorf("unsupported role %q", c.Role)
}

// Party returns the sending side of outbound messages.
func (c ParticipantConfig) Party() sender.Party {
	return sender.Party{Domain: c.Domain, Role: c.Role}
}

type PTUConfig struct {
	DurationMinutes int    `json:"duration_minutes"`
	TimeZone        string `json:"time_zone"`
}

func (c *PTUConfig) SetDefaults() {
	if c.DurationMinutes == 0 {
		c.DurationMinutes = 15
	}
	if c.TimeZone == "" {
		c.TimeZone = "Europe/Amsterdam"
	}
}

func (c PTUConfig) Validate() error {
	_, err := c.Clock()
	return err
}

// Clock builds the PTU clock. A duration that does not divide an hour is
// rejected here, at startup.
func (c PTUConfig) Clock() (ptu.Clock, error) {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return ptu.Clock{}, fmt.Errorf("time_zone: %w", err)
	}
	return ptu.NewClock(c.DurationMinutes, loc)
}

type MarketConfig struct {
	Currency                   string `json:"currency"`
	GateClosurePTUs            int    `json:"gate_closure_ptus"`
	FlexRequestValidityMinutes int    `json:"flex_request_validity_minutes"`
	// SettlementDay is the day of the month the settlement job runs.
	SettlementDay int `json:"settlement_day"`
}

func (c *MarketConfig) SetDefaults() {
	if c.Currency == "" {
		c.Currency = "EUR"
	}
	if c.FlexRequestValidityMinutes == 0 {
		c.FlexRequestValidityMinutes = 360
	}
	if c.SettlementDay == 0 {
		c.SettlementDay = 1
	}
}

func (c MarketConfig) Validate() error {
	if len(c.Currency) != 3 {
		return fmt.Errorf("currency %q is not an ISO 4217 code", c.Currency)
	}
	if c.GateClosurePTUs < 0 {
		return fmt.Errorf("gate_closure_ptus must not be negative")
	}
	if c.FlexRequestValidityMinutes <= 0 {
		return fmt.Errorf("flex_request_validity_minutes must be positive")
	}
	if c.SettlementDay < 1 || c.SettlementDay > 28 {
		return fmt.Errorf("settlement_day must be within 1..28")
	}
	return nil
}

// FlexRequestValidity is how long a sent flex request stays open.
func (c MarketConfig) FlexRequestValidity() time.Duration {
	return time.Duration(c.FlexRequestValidityMinutes) * time.Minute
}

type SenderConfig struct {
	InitialIntervalMS int     `json:"initial_interval_ms"`
	MaxIntervalMS     int     `json:"max_interval_ms"`
	Multiplier        float64 `json:"multiplier"`
	MaxRetries        int     `json:"max_retries"`
	RetryCodes        []int   `json:"retry_codes"`
	RetryAlways       bool    `json:"retry_always"`
}

func (c *SenderConfig) SetDefaults() {
	if c.InitialIntervalMS == 0 {
		c.InitialIntervalMS = 500
	}
	if c.Multiplier == 0 {
		c.Multiplier = 2
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 5
	}
	if len(c.RetryCodes) == 0 && !c.RetryAlways {
		c.RetryCodes = []int{408, 429, 500, 502, 503, 504}
	}
}

func (c SenderConfig) Validate() error {
	if c.InitialIntervalMS <= 0 {
		return fmt.Errorf("initial_interval_ms must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}
	if c.Multiplier < 1 {
		return fmt.Errorf("multiplier must be at least 1")
	}
	return nil
}

// Policy converts the section into the sender's retry policy. Certificate
// checks belong to the transport, see Config.SenderPolicy.
func (c SenderConfig) Policy() sender.Policy {
	return sender.Policy{
		InitialInterval: time.Duration(c.InitialIntervalMS) * time.Millisecond,
		MaxInterval:     time.Duration(c.MaxIntervalMS) * time.Millisecond,
		Multiplier:      c.Multiplier,
		MaxRetries:      c.MaxRetries,
		RetryCodes:      c.RetryCodes,
		RetryAlways:     c.RetryAlways,
	}
}

// TransportConfig selects how messages leave this participant.
type TransportConfig struct {
	Type string       `json:"type"`
	HTTP httpx.Config `json:"http"`
	MQTT mqtt.Config  `json:"mqtt"`
	NATS natsx.Config `json:"nats"`
}

func (c *TransportConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "http"
	}
}

// InsecureSkipVerify reports whether the selected transport skips
// certificate checks.
func (c TransportConfig) InsecureSkipVerify() bool {
	switch c.Type {
	case "http":
		return c.HTTP.InsecureSkipVerify
	case "mqtt":
		return c.MQTT.InsecureSkipVerify
	}
	return false
}

func (c TransportConfig) Validate() error {
	switch c.Type {
	case "http":
		return nil
	case "mqtt":
		if c.MQTT.Broker == "" {
			return fmt.Errorf("mqtt.broker is required")
		}
		return nil
	case "nats":
		return nil
	}
	return fmt.Errorf("unknown transport type %q", c.Type)
}

type StoreConfig struct {
	Backend string `json:"backend"`
	Path    string `json:"path"`
}

func (c *StoreConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "sqlite"
	}
	if c.Backend == "sqlite" && c.Path == "" {
		c.Path = "planboard.db"
	}
}

func (c StoreConfig) Validate() error {
	switch c.Backend {
	case "memory":
		return nil
	case "sqlite":
		if c.Path == "" {
			return fmt.Errorf("path is required")
		}
		return nil
	}
	return fmt.Errorf("unknown backend %s", c.Backend)
}

// SchedulerConfig lists daily jobs inline or in a separate schedule file.
// Jobs from the file are appended to the inline ones.
type SchedulerConfig struct {
	File string                `json:"file"`
	Jobs []scheduler.JobConfig `json:"jobs"`
}

func (c SchedulerConfig) Validate() error {
	return scheduler.Config{Jobs: c.Jobs}.Validate()
}

// AllJobs returns the inline jobs followed by those of File.
func (c SchedulerConfig) AllJobs() ([]scheduler.JobConfig, error) {
	jobs := append([]scheduler.JobConfig(nil), c.Jobs...)
	if c.File == "" {
		return jobs, nil
	}
	fc, err := scheduler.LoadConfig(c.File)
	if err != nil {
		return nil, fmt.Errorf("schedule file: %w", err)
	}
	jobs = append(jobs, fc.Jobs...)
	return jobs, scheduler.Config{Jobs: jobs}.Validate()
}

type WorkersConfig struct {
	Size int64 `json:"size"`
	// WarnQueue logs a warning once this many events are waiting.
	WarnQueue int `json:"warn_queue"`
	// NotifyBuffer is how many notifications each observer may lag behind
	// before further ones are dropped for it.
	NotifyBuffer int `json:"notify_buffer"`
}

func (c *WorkersConfig) SetDefaults() {
	if c.Size == 0 {
		c.Size = 4
	}
	if c.WarnQueue == 0 {
		c.WarnQueue = 100
	}
	if c.NotifyBuffer == 0 {
		c.NotifyBuffer = 256
	}
}

func (c WorkersConfig) Validate() error {
	if c.Size < 1 {
		return fmt.Errorf("size must be positive")
	}
	if c.NotifyBuffer < 0 {
		return fmt.Errorf("notify_buffer must not be negative")
	}
	return nil
}

type SequenceConfig struct {
	Node int64 `json:"node"`
}

func (c SequenceConfig) Validate() error {
	if c.Node < 0 || c.Node > 1023 {
		return fmt.Errorf("node must be within 0..1023")
	}
	return nil
}

// GroupConfig seeds one connection group membership at startup. Dates use
// the YYYY-MM-DD layout.
type GroupConfig struct {
	Connection  string          `json:"connection"`
	Group       string          `json:"group"`
	Kind        model.GroupKind `json:"kind"`
	Participant string          `json:"participant"`
	ValidFrom   string          `json:"valid_from"`
	ValidUntil  string          `json:"valid_until"`
}

// State converts the entry into a group state with dates at midnight in loc.
func (g GroupConfig) State(loc *time.Location) (model.GroupState, error) {
	if g.Connection == "" || g.Group == "" || g.Participant == "" {
		return model.GroupState{}, fmt.Errorf("connection, group and participant are required")
	}
	switch g.Kind {
	case model.GroupCongestionPoint, model.GroupBRP, model.GroupAggregator:
	default:
		return model.GroupState{}, fmt.Errorf("group %s: unknown kind %q", g.Group, g.Kind)
	}
	s := model.GroupState{
		Connection: g.Connection,
		Group:      model.ConnectionGroup{ID: g.Group, Kind: g.Kind, Participant: g.Participant},
	}
	var err error
	if g.ValidFrom != "" {
		if s.ValidFrom, err = time.ParseInLocation(time.DateOnly, g.ValidFrom, loc); err != nil {
			return model.GroupState{}, fmt.Errorf("valid_from: %w", err)
		}
	}
	if g.ValidUntil != "" {
		if s.ValidUntil, err = time.ParseInLocation(time.DateOnly, g.ValidUntil, loc); err != nil {
			return model.GroupState{}, fmt.Errorf("valid_until: %w", err)
		}
	}
	return s, nil
}
