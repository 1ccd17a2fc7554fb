package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	_ "github.com/kilianp07/planboard/app/plugins"
	"github.com/kilianp07/planboard/config"
	"github.com/kilianp07/planboard/core/events"
	coremetrics "github.com/kilianp07/planboard/core/metrics"
	coremon "github.com/kilianp07/planboard/core/monitoring"
	"github.com/kilianp07/planboard/core/planboard"
	"github.com/kilianp07/planboard/core/scheduler"
	"github.com/kilianp07/planboard/core/sender"
	"github.com/kilianp07/planboard/core/sequence"
	"github.com/kilianp07/planboard/core/step"
	"github.com/kilianp07/planboard/core/workflow"
	"github.com/kilianp07/planboard/infra/logger"
	"github.com/kilianp07/planboard/infra/metrics"
	"github.com/kilianp07/planboard/infra/monitoring"
	"github.com/kilianp07/planboard/infra/mqtt"
	"github.com/kilianp07/planboard/infra/natsx"
	"github.com/kilianp07/planboard/infra/store/sqlite"
	"github.com/kilianp07/planboard/infra/transport/httpx"
	"github.com/kilianp07/planboard/internal/eventbus"
)

// Service wires the planboard store, coordinators, scheduler and outbound
// path of one participant.
type Service struct {
	Coordinator *workflow.Coordinator
	Store       planboard.Store

	bus        *eventbus.Bus
	dispatcher *eventbus.Dispatcher
	sched      *scheduler.Scheduler
	jobs       []scheduler.JobConfig
	sink       coremetrics.MetricsSink
	closers    []func()
	promAddr   string
	log        logger.Logger
}

// New creates a Service from the configuration.
func New(cfg *config.Config) (*Service, error) {
	logger.SetDefaultLevel(cfg.Logging.Level)
	log := logger.New("service")

	mon, err := monitoring.NewSentryMonitor(cfg.Sentry, cfg.Participant.Domain)
	if err != nil {
		return nil, fmt.Errorf("sentry: %w", err)
	}
	coremon.Init(mon)

	clock, err := cfg.PTU.Clock()
	if err != nil {
		return nil, err
	}
	jobs, err := cfg.Scheduler.AllJobs()
	if err != nil {
		return nil, err
	}
	steps, err := step.Build(cfg.Steps)
	if err != nil {
		return nil, err
	}
	seq, err := sequence.New(cfg.Sequence.Node)
	if err != nil {
		return nil, err
	}
	sink, err := coremetrics.NewMetricsSink(cfg.Metrics.Sinks)
	if err != nil {
		return nil, fmt.Errorf("metrics sink: %w", err)
	}

	svc := &Service{
		bus:      eventbus.New(eventbus.WithBuffer(cfg.Workers.NotifyBuffer), eventbus.WithLogger(logger.New("bus"))),
		jobs:     jobs,
		sink:     sink,
		promAddr: cfg.Metrics.PrometheusAddr,
		log:      log,
	}
	if svc.Store, err = openStore(cfg.Store); err != nil {
		return nil, err
	}
	if err := seedGroups(context.Background(), svc.Store, cfg); err != nil {
		_ = svc.Store.Close()
		return nil, err
	}
	transport, closeTransport, err := newTransport(cfg.Transport)
	if err != nil {
		_ = svc.Store.Close()
		return nil, err
	}
	svc.closers = append(svc.closers, closeTransport)

	svc.dispatcher = eventbus.NewDispatcher(cfg.Workers.Size, cfg.Workers.WarnQueue,
		func(ctx context.Context, e eventbus.Event) error {
			return svc.Coordinator.Handle(ctx, e)
		}, logger.New("dispatcher"))
	notify := func(n any) { svc.bus.Publish(n) }

	out := sender.New(transport, cfg.SenderPolicy(), svc.Store, logger.New("sender"),
		sender.WithNotify(notify),
		sender.WithFailureHandler(func(f events.DeliveryFailed) { svc.dispatcher.Submit(f) }),
	)
	wcfg := workflow.Config{
		Self:                cfg.Participant.Party(),
		Currency:            cfg.Market.Currency,
		GateClosurePTUs:     cfg.Market.GateClosurePTUs,
		FlexRequestValidity: cfg.Market.FlexRequestValidity(),
	}
	svc.Coordinator = workflow.New(wcfg, clock, svc.Store, steps, seq, out, svc.Submit, logger.New("workflow"),
		workflow.WithNotify(notify))
	svc.sched = scheduler.New(clock, logger.New("scheduler"))
	return svc, nil
}

func openStore(cfg config.StoreConfig) (planboard.Store, error) {
	switch cfg.Backend {
	case "memory":
		return planboard.NewMemoryStore(), nil
	case "sqlite":
		s, err := sqlite.Open(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown store backend %s", cfg.Backend)
}

func seedGroups(ctx context.Context, store planboard.Store, cfg *config.Config) error {
	clock, err := cfg.PTU.Clock()
	if err != nil {
		return err
	}
	return store.Atomic(ctx, func(tx planboard.Tx) error {
		for _, g := range cfg.Groups {
			st, err := g.State(clock.Location())
			if err != nil {
				return err
			}
			if err := tx.SaveGroupState(ctx, st); err != nil {
				return err
			}
		}
		return nil
	})
}

func newTransport(cfg config.TransportConfig) (sender.Transport, func(), error) {
	switch cfg.Type {
	case "http":
		t, err := httpx.New(cfg.HTTP, logger.New("http_transport"))
		if err != nil {
			return nil, nil, err
		}
		return t, func() {}, nil
	case "mqtt":
		t, err := mqtt.NewTransport(cfg.MQTT)
		if err != nil {
			return nil, nil, fmt.Errorf("mqtt transport: %w", err)
		}
		return t, t.Disconnect, nil
	case "nats":
		t, err := natsx.New(cfg.NATS)
		if err != nil {
			return nil, nil, fmt.Errorf("nats transport: %w", err)
		}
		return t, t.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown transport type %q", cfg.Type)
}

// Submit hands an event to the dispatcher. Inbound adapters use it for
// received offers, acknowledgements and settlement responses.
func (s *Service) Submit(e events.Event) bool { return s.dispatcher.Submit(e) }

// Run registers the daily jobs and blocks until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if err := s.Coordinator.Schedule(s.sched, s.jobs); err != nil {
		return fmt.Errorf("schedule: %w", err)
	}
	for _, name := range s.sched.Names() {
		if next, ok := s.sched.Next(name); ok {
			s.log.Infof("job %s next at %s", name, next.Format(time.RFC3339))
		}
	}
	g, ctx := errgroup.WithContext(ctx)
	collected := metrics.StartEventCollector(ctx, s.bus, s.sink)
	g.Go(func() error {
		<-collected
		return nil
	})
	if s.promAddr != "" {
		g.Go(func() error {
			if err := metrics.StartPromServer(ctx, s.promAddr); err != nil {
				return fmt.Errorf("prom server: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		s.sched.Stop()
		return nil
	})
	return g.Wait()
}

// Close drains pending events and releases resources held by the service.
func (s *Service) Close() error {
	s.sched.Stop()
	s.dispatcher.Close()
	s.bus.Close()
	for _, c := range s.closers {
		c()
	}
	if c, ok := s.sink.(interface{ Close() }); ok {
		c.Close()
	}
	coremon.Flush(2 * time.Second)
	return s.Store.Close()
}

// Wait blocks until every submitted event and its follow-ups were handled.
func (s *Service) Wait() { s.dispatcher.Wait() }
