// Package metrics exposes Prometheus collectors for the alarm engine and the
// notification dispatcher. A nil *Metrics is valid and records nothing.
package metrics
