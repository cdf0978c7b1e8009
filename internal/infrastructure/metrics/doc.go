// Package metrics exposes lightweight expvar counters for routing and
// lifecycle activity. Counters are published once at init and safe for
// concurrent use.
package metrics
