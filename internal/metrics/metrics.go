// Package metrics holds the engine's runtime counters: cache hits and
// misses, surface commits, and pacing stalls, surfaced through the
// daemon's status response.
package metrics

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/generic"
)

// Engine bundles the counters one running engine accumulates over its
// lifetime. Build one with New: the zero value's counters are nil.
// Counters built by New are safe for concurrent Add the same way
// generic.Counter is (lock-protected).
type Engine struct {
	CacheHits      metrics.Counter
	CacheMisses    metrics.Counter
	Commits        metrics.Counter
	PacingStalls   metrics.Counter
	FinalizePasses metrics.Counter
}

// New builds a fresh set of zeroed counters.
func New() *Engine {
	return &Engine{
		CacheHits:      generic.NewCounter("gesso_cache_hits_total"),
		CacheMisses:    generic.NewCounter("gesso_cache_misses_total"),
		Commits:        generic.NewCounter("gesso_commits_total"),
		PacingStalls:   generic.NewCounter("gesso_pacing_stalls_total"),
		FinalizePasses: generic.NewCounter("gesso_finalize_passes_total"),
	}
}

// Snapshot is a point-in-time, JSON-friendly read of every counter,
// for the daemon's status response.
type Snapshot struct {
	CacheHits      float64 `json:"cache_hits"`
	CacheMisses    float64 `json:"cache_misses"`
	Commits        float64 `json:"commits"`
	PacingStalls   float64 `json:"pacing_stalls"`
	FinalizePasses float64 `json:"finalize_passes"`
}

// Snapshot reads every counter's current value through generic.Counter's
// Value() extension.
func (e *Engine) Snapshot() Snapshot {
	return Snapshot{
		CacheHits:      value(e.CacheHits),
		CacheMisses:    value(e.CacheMisses),
		Commits:        value(e.Commits),
		PacingStalls:   value(e.PacingStalls),
		FinalizePasses: value(e.FinalizePasses),
	}
}

// value reads a counter's accumulated total if it exposes one via the
// generic.Counter concrete type (every counter New builds does);
// counters swapped in by a test double that don't expose Value simply
// report zero.
func value(c metrics.Counter) float64 {
	if gc, ok := c.(*generic.Counter); ok {
		return gc.Value()
	}
	return 0
}
