package metrics

import "errors"

// MultiSink fans records out to several sinks. Sinks that do not implement
// an optional recorder are skipped for it.
type MultiSink struct {
	Sinks []MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordWorkflowRun forwards to every sink and joins their errors.
func (m *MultiSink) RecordWorkflowRun(ev WorkflowRun) error {
	var errs []error
	for _, s := range m.Sinks {
		errs = append(errs, s.RecordWorkflowRun(ev))
	}
	return errors.Join(errs...)
}

// RecordDocument forwards document events.
func (m *MultiSink) RecordDocument(ev DocumentEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		if r, ok := s.(DocumentRecorder); ok {
			errs = append(errs, r.RecordDocument(ev))
		}
	}
	return errors.Join(errs...)
}

// RecordDelivery forwards delivery events.
func (m *MultiSink) RecordDelivery(ev DeliveryEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		if r, ok := s.(DeliveryRecorder); ok {
			errs = append(errs, r.RecordDelivery(ev))
		}
	}
	return errors.Join(errs...)
}

// RecordSettlement forwards settlement events.
func (m *MultiSink) RecordSettlement(ev SettlementEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		if r, ok := s.(SettlementRecorder); ok {
			errs = append(errs, r.RecordSettlement(ev))
		}
	}
	return errors.Join(errs...)
}
