package stats

import (
	"sync"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/wesleyorama2/kpcbench/internal/session"
)

// Aggregator summarises the deltas of repeated measurements using one HDR
// histogram per event.
//
// # Thread Safety
//
// Aggregator is safe for concurrent use. HDR histograms are not, so every
// access goes through the mutex.
type Aggregator struct {
	mu      sync.Mutex
	entries map[string]*entry
	order   []string
	config  AggregatorConfig
}

// AggregatorConfig contains histogram settings.
type AggregatorConfig struct {
	// HistogramMax is the largest recordable count (default: 1e12).
	// Larger deltas are clamped and reported as saturated.
	HistogramMax int64

	// HistogramSigFigs is the number of significant figures (default: 3)
	HistogramSigFigs int
}

// DefaultAggregatorConfig returns the default configuration.
func DefaultAggregatorConfig() AggregatorConfig {
	return AggregatorConfig{
		HistogramMax:     1_000_000_000_000,
		HistogramSigFigs: 3,
	}
}

type entry struct {
	name      string
	key       string
	hist      *hdrhistogram.Histogram
	saturated int64
}

// NewAggregator creates an aggregator with default configuration.
func NewAggregator() *Aggregator {
	return NewAggregatorWithConfig(DefaultAggregatorConfig())
}

// NewAggregatorWithConfig creates an aggregator with custom configuration.
func NewAggregatorWithConfig(config AggregatorConfig) *Aggregator {
	return &Aggregator{
		entries: make(map[string]*entry),
		config:  config,
	}
}

// Record adds one measurement. Events are tracked by display name and key,
// in the order they are first seen.
func (a *Aggregator) Record(deltas []session.Delta) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, d := range deltas {
		id := d.Name + "\x00" + d.Key
		e, ok := a.entries[id]
		if !ok {
			e = &entry{
				name: d.Name,
				key:  d.Key,
				hist: hdrhistogram.New(1, a.config.HistogramMax, a.config.HistogramSigFigs),
			}
			a.entries[id] = e
			a.order = append(a.order, id)
		}

		v := a.config.HistogramMax
		if d.Count < uint64(a.config.HistogramMax) {
			v = int64(d.Count)
		} else {
			e.saturated++
		}
		// RecordValue only fails for values above the trackable range.
		_ = e.hist.RecordValue(v)
	}
}

// Stats returns the summary of every event, in first-seen order.
func (a *Aggregator) Stats() []EventStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	result := make([]EventStats, 0, len(a.order))
	for _, id := range a.order {
		e := a.entries[id]
		result = append(result, EventStats{
			Name:      e.name,
			Key:       e.key,
			Samples:   e.hist.TotalCount(),
			Saturated: e.saturated,
			Min:       e.hist.Min(),
			Max:       e.hist.Max(),
			Mean:      e.hist.Mean(),
			StdDev:    e.hist.StdDev(),
			P50:       e.hist.ValueAtQuantile(50),
			P90:       e.hist.ValueAtQuantile(90),
			P99:       e.hist.ValueAtQuantile(99),
		})
	}
	return result
}

// Reset discards every recorded value.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.entries = make(map[string]*entry)
	a.order = nil
}

// EventStats contains count statistics for one event.
type EventStats struct {
	Name      string  `json:"name" yaml:"name"`
	Key       string  `json:"key" yaml:"key"`
	Samples   int64   `json:"samples" yaml:"samples"`
	Saturated int64   `json:"saturated,omitempty" yaml:"saturated,omitempty"`
	Min       int64   `json:"min" yaml:"min"`
	Max       int64   `json:"max" yaml:"max"`
	Mean      float64 `json:"mean" yaml:"mean"`
	StdDev    float64 `json:"stddev" yaml:"stddev"`
	P50       int64   `json:"p50" yaml:"p50"`
	P90       int64   `json:"p90" yaml:"p90"`
	P99       int64   `json:"p99" yaml:"p99"`
}
