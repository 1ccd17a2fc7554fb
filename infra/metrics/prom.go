package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/kilianp07/planboard/core/metrics"
)

// PromSink records planboard activity in Prometheus metrics.
type PromSink struct {
	runs        *prometheus.CounterVec
	documents   *prometheus.CounterVec
	deliveries  *prometheus.CounterVec
	attempts    *prometheus.HistogramVec
	settlements *prometheus.CounterVec
	disputed    *prometheus.CounterVec
	penalty     *prometheus.CounterVec
}

// NewPromSink registers planboard metrics on the default Prometheus registerer.
// The /metrics endpoint is started separately with StartPromServer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PromSink{}
	var err error
	if s.runs, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "planboard_workflow_runs_total",
		Help: "Coordinator runs by workflow and result",
	}, []string{"workflow", "result"})); err != nil {
		return nil, err
	}
	if s.documents, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "planboard_documents_total",
		Help: "Documents committed by workflow, type and status",
	}, []string{"workflow", "type", "status"})); err != nil {
		return nil, err
	}
	if s.deliveries, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "planboard_deliveries_total",
		Help: "Outbound sends by message type and result",
	}, []string{"type", "result"})); err != nil {
		return nil, err
	}
	if s.attempts, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "planboard_delivery_attempts",
		Help:    "Attempts needed per outbound send",
		Buckets: prometheus.LinearBuckets(1, 1, 10),
	}, []string{"type"})); err != nil {
		return nil, err
	}
	if s.settlements, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "planboard_settled_orders_total",
		Help: "Orders settled per participant",
	}, []string{"participant"})); err != nil {
		return nil, err
	}
	if s.disputed, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "planboard_disputed_orders_total",
		Help: "Settled orders with a deficiency per participant",
	}, []string{"participant"})); err != nil {
		return nil, err
	}
	if s.penalty, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "planboard_settlement_penalty_total",
		Help: "Summed settlement penalties per participant",
	}, []string{"participant"})); err != nil {
		return nil, err
	}
	return s, nil
}

// register returns the already registered collector when c was registered
// before, so sinks can be rebuilt on the same registry.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		var zero T
		return zero, err
	}
	return c, nil
}

func result(failed bool) string {
	if failed {
		return "error"
	}
	return "ok"
}

// RecordWorkflowRun counts a coordinator run.
func (s *PromSink) RecordWorkflowRun(ev coremetrics.WorkflowRun) error {
	s.runs.WithLabelValues(ev.Workflow, result(ev.Failed)).Inc()
	return nil
}

// RecordDocument counts a document status change.
func (s *PromSink) RecordDocument(ev coremetrics.DocumentEvent) error {
	s.documents.WithLabelValues(ev.Workflow, string(ev.Type), string(ev.Status)).Inc()
	return nil
}

// RecordDelivery counts a send and observes its attempts.
func (s *PromSink) RecordDelivery(ev coremetrics.DeliveryEvent) error {
	t := string(ev.Type)
	if t == "" {
		t = "response"
	}
	s.deliveries.WithLabelValues(t, result(!ev.Delivered)).Inc()
	s.attempts.WithLabelValues(t).Observe(float64(ev.Attempts))
	return nil
}

// RecordSettlement counts settled and disputed orders and sums penalties.
func (s *PromSink) RecordSettlement(ev coremetrics.SettlementEvent) error {
	s.settlements.WithLabelValues(ev.Participant).Add(float64(ev.Orders))
	s.disputed.WithLabelValues(ev.Participant).Add(float64(ev.Disputed))
	if ev.Penalty > 0 {
		s.penalty.WithLabelValues(ev.Participant).Add(ev.Penalty)
	}
	return nil
}
