// Package memdiag samples Go heap usage while the pipeline runs and keeps the
// peak, which the run report surfaces as "peak memory observed".
//
// Periodic debug logging is enabled with VENDASAGG_MEM_DEBUG=1; peak tracking
// via Observe is always on.
package memdiag

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config holds configuration for memory diagnostics.
type Config struct {
	// Enabled turns on periodic memory logging.
	Enabled bool

	// LogInterval is the interval for periodic sampling.
	LogInterval time.Duration
}

// DefaultConfig returns the default configuration, reading from environment.
func DefaultConfig() Config {
	return Config{
		Enabled:     os.Getenv("VENDASAGG_MEM_DEBUG") == "1",
		LogInterval: 5 * time.Second,
	}
}

// Stats holds memory statistics from runtime.
type Stats struct {
	HeapAlloc uint64
	HeapInuse uint64
	HeapSys   uint64
	Sys       uint64
	NumGC     uint32
}

// Read reads current memory statistics.
func Read() Stats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return Stats{
		HeapAlloc: m.HeapAlloc,
		HeapInuse: m.HeapInuse,
		HeapSys:   m.HeapSys,
		Sys:       m.Sys,
		NumGC:     m.NumGC,
	}
}

// FormatMB formats bytes as megabytes.
func FormatMB(b uint64) string {
	return fmt.Sprintf("%.1fMB", float64(b)/(1024*1024))
}

// Tracker records peak heap usage across a run.
// It is safe for concurrent use.
type Tracker struct {
	config Config
	log    zerolog.Logger

	mu       sync.Mutex
	phase    string
	peakHeap uint64
	samples  int64
}

// NewTracker creates a new memory tracker.
func NewTracker(config Config, log zerolog.Logger) *Tracker {
	if config.LogInterval <= 0 {
		config.LogInterval = 5 * time.Second
	}
	return &Tracker{
		config: config,
		log:    log,
		phase:  "init",
	}
}

// Run samples memory every LogInterval until ctx is cancelled. It returns nil
// on cancellation so it can run beside the pipeline in an errgroup.
func (t *Tracker) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.config.LogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.Observe("shutdown")
			return nil
		case <-ticker.C:
			t.Observe("periodic")
		}
	}
}

// SetPhase sets the current phase for logging context.
func (t *Tracker) SetPhase(phase string) {
	t.mu.Lock()
	t.phase = phase
	t.mu.Unlock()
	t.Observe("phase_change")
}

// Observe samples memory now, updates the peak and logs at debug level
// when diagnostics are enabled.
func (t *Tracker) Observe(reason string) Stats {
	stats := Read()

	t.mu.Lock()
	if stats.HeapAlloc > t.peakHeap {
		t.peakHeap = stats.HeapAlloc
	}
	t.samples++
	phase, peak := t.phase, t.peakHeap
	t.mu.Unlock()

	if t.config.Enabled {
		t.log.Debug().
			Str("reason", reason).
			Str("phase", phase).
			Str("heap_alloc", FormatMB(stats.HeapAlloc)).
			Str("heap_inuse", FormatMB(stats.HeapInuse)).
			Str("sys_total", FormatMB(stats.Sys)).
			Str("peak_heap", FormatMB(peak)).
			Uint32("num_gc", stats.NumGC).
			Msg("memory stats")
	}
	return stats
}

// WarnIfOverBudget logs a warning when the live heap exceeds budget bytes.
func (t *Tracker) WarnIfOverBudget(stats Stats, budget uint64) {
	if budget == 0 || stats.HeapAlloc <= budget {
		return
	}
	t.log.Warn().
		Str("heap_alloc", FormatMB(stats.HeapAlloc)).
		Str("budget", FormatMB(budget)).
		Msg("heap usage exceeds memory budget")
}

// PeakHeap returns the peak heap allocation seen.
func (t *Tracker) PeakHeap() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.peakHeap
}

// Samples returns how many observations were taken.
func (t *Tracker) Samples() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.samples
}
