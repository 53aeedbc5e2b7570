// Package otel publishes twofa.Engine metrics through an OpenTelemetry Meter.
//
// Each counter becomes an Int64ObservableCounter. The latency histogram is
// published as a cumulative Int64ObservableGauge with one series per "le"
// bound, plus a _count gauge. One callback reads Engine.MetricsSnapshot per
// collection; callers own the MeterProvider.
package otel
