// Package prometheus serves twofa.Engine metrics in the Prometheus text
// exposition format.
//
// Counters are named twofa_*_total. The single histogram,
// twofa_verify_latency_seconds, covers challenge verification. Nothing is
// registered globally; callers mount [Exporter.Handler] themselves.
package prometheus
