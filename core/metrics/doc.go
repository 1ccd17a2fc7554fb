// Package metrics defines the sinks that record planboard activity. A sink
// implements MetricsSink and any of the optional recorders; NewMetricsSink
// builds them from configuration and wraps several in a MultiSink.
package metrics
