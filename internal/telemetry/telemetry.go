// Package telemetry provides the structured logger constructor and a
// rolling counter recorder. The simulation engine keeps its own tick
// statistics (sim.Stats) and does not use Recorder.
package telemetry

import (
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger builds the process-wide zerolog.Logger. debug selects the
// human-readable console writer (grounded on OCAP2's package-level
// defs.Logger); production deployments want plain JSON on stdout instead,
// since that's what a log shipper expects.
func NewLogger(component string, debug bool) zerolog.Logger {
	var w zerolog.ConsoleWriter
	if debug {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
		return zerolog.New(w).With().Timestamp().Str("component", component).Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Str("component", component).Logger()
}

// Recorder accumulates periodic samples (tick durations, queue depths,
// connection counts) and logs a summary at most once per interval. It
// replaces unconditional per-sample logging with an aggregated report, the
// way a busy simulation loop wants: one line every few seconds, not one per
// tick.
type Recorder struct {
	log      zerolog.Logger
	interval time.Duration

	mu         sync.Mutex
	lastReport time.Time
	samples    int
	counters   map[string]int64
}

// NewRecorder returns a Recorder that reports through log at most once per
// interval.
func NewRecorder(log zerolog.Logger, interval time.Duration) *Recorder {
	return &Recorder{
		log:        log,
		interval:   interval,
		lastReport: time.Time{},
		counters:   make(map[string]int64),
	}
}

// Count increments a named counter (e.g. "ticks", "handler_errors",
// "skipped_ticks").
func (r *Recorder) Count(name string, delta int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[name] += delta
	r.samples++
}

// MaybeReport logs and resets the accumulated counters if interval has
// elapsed since the last report. Safe to call every tick; it's a cheap
// no-op most of the time.
func (r *Recorder) MaybeReport(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.samples == 0 {
		return
	}
	if !r.lastReport.IsZero() && now.Sub(r.lastReport) < r.interval {
		return
	}

	ev := r.log.Info()
	for name, count := range r.counters {
		ev = ev.Int64(name, count)
	}
	ev.Msg("telemetry summary")

	r.counters = make(map[string]int64)
	r.samples = 0
	r.lastReport = now
}
