package sim

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vrui-vr/nck/internal/geom"
	"github.com/vrui-vr/nck/internal/unittype"
)

// Engine owns the authoritative State and runs the simulation thread S
// (spec §5): a single goroutine that steps the state on a fixed tick,
// drains the request queue every step, and publishes a snapshot to a
// TripleBuffer for readers on other goroutines. Modelled on x-cells'
// GameTicker: context+cancel for shutdown, a buffered pauseChan for
// pause/resume, recovered per-request panics, and rolling per-tick metrics.
type Engine struct {
	logger zerolog.Logger

	tickDuration time.Duration

	state  *State
	queue  *Queue
	buffer *TripleBuffer

	runningMu sync.Mutex
	running   bool
	cancel    context.CancelFunc

	pauseChan chan bool

	statsMu sync.Mutex
	stats   Stats
}

// Stats is the rolling performance snapshot exposed by Engine.Stats: whole
// tick timings and counters, modelled on x-cells' PerformanceMonitor
// (SPEC_FULL §7).
type Stats struct {
	TickCount       uint64
	LastTickTime    time.Duration
	AverageTickTime time.Duration
	MaxTickTime     time.Duration
	SkippedTicks    uint64
	HandlerErrors   uint64
}

// NewEngine constructs an Engine around an already-initialised State,
// publishing its initial snapshot as the TripleBuffer's first slot.
func NewEngine(state *State, queueCapacity int, tickRate int, logger zerolog.Logger) *Engine {
	if tickRate <= 0 {
		tickRate = 60
	}
	return &Engine{
		logger:       logger,
		tickDuration: time.Second / time.Duration(tickRate),
		state:        state,
		queue:        NewQueue(queueCapacity),
		buffer:       NewTripleBuffer(state.Snapshot()),
		pauseChan:    make(chan bool, 1),
	}
}

// Queue returns the engine's request queue, the one surface producer
// goroutines (the server's connection handlers) use to submit UIRequests.
func (e *Engine) Queue() *Queue { return e.queue }

// Buffer returns the engine's published-snapshot triple buffer, the one
// surface reader goroutines use to observe simulation state.
func (e *Engine) Buffer() *TripleBuffer { return e.buffer }

// Run starts the simulation thread. It blocks until ctx is cancelled or
// Stop is called; callers typically invoke it via `go engine.Run(ctx)`.
func (e *Engine) Run(ctx context.Context) {
	e.runningMu.Lock()
	if e.running {
		e.runningMu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.running = true
	e.runningMu.Unlock()

	e.logger.Info().Dur("tick_duration", e.tickDuration).Msg("simulation loop starting")

	ticker := time.NewTicker(e.tickDuration)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-runCtx.Done():
			e.logger.Info().Uint64("ticks", e.stats.TickCount).Msg("simulation loop stopped")
			return

		case pause := <-e.pauseChan:
			for pause {
				select {
				case <-runCtx.Done():
					return
				case pause = <-e.pauseChan:
				}
			}
			last = time.Now()

		case tickTime := <-ticker.C:
			e.executeTick(tickTime, tickTime.Sub(last))
			last = tickTime
		}
	}
}

// Stop cancels the running loop, if any. Safe to call more than once.
func (e *Engine) Stop() {
	e.runningMu.Lock()
	defer e.runningMu.Unlock()
	if !e.running {
		return
	}
	e.cancel()
	e.running = false
}

// Pause suspends tick execution until Resume is called. The server pauses
// the engine when its last client disconnects, and cmd/nckserver pauses it
// at startup until the first client connects.
func (e *Engine) Pause() {
	select {
	case <-e.pauseChan: // replace a Resume the loop has not consumed yet
	default:
	}
	select {
	case e.pauseChan <- true:
	default:
	}
}

// Resume undoes a prior Pause.
func (e *Engine) Resume() {
	select {
	case <-e.pauseChan: // replace a Pause the loop has not consumed yet
	default:
	}
	select {
	case e.pauseChan <- false:
	default:
	}
}

// executeTick drains the queue, steps the state, publishes the new
// snapshot, and updates the rolling performance metrics. Errors from
// individual requests are already recovered inside State.Step; executeTick
// only tallies them.
func (e *Engine) executeTick(tickTime time.Time, delta time.Duration) {
	start := time.Now()

	if delta > e.tickDuration*2 {
		e.statsMu.Lock()
		e.stats.SkippedTicks++
		e.statsMu.Unlock()
		e.logger.Warn().Dur("delta", delta).Dur("expected", e.tickDuration).Msg("large gap between ticks")
	}

	pending := e.queue.Drain()
	results := e.state.Step(float32(delta.Seconds()), pending)

	errCount := 0
	for _, r := range results {
		if r.Err != nil {
			errCount++
			e.logger.Error().Err(r.Err).Int("request_kind", int(r.Request.Kind)).Msg("request handler failed")
		}
	}

	*e.buffer.StageSlot() = e.state.Snapshot()
	e.buffer.Publish()

	elapsed := time.Since(start)
	e.recordTick(elapsed, errCount)
}

func (e *Engine) recordTick(elapsed time.Duration, errCount int) {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	e.stats.TickCount++
	e.stats.LastTickTime = elapsed
	if elapsed > e.stats.MaxTickTime {
		e.stats.MaxTickTime = elapsed
	}
	e.stats.HandlerErrors += uint64(errCount)
	if e.stats.AverageTickTime == 0 {
		e.stats.AverageTickTime = elapsed
	} else {
		const weight = 20 // ~last 20 ticks, matching OCAP2's exponential moving average style
		e.stats.AverageTickTime += (elapsed - e.stats.AverageTickTime) / weight
	}
}

// Stats returns a copy of the current rolling performance metrics.
func (e *Engine) Stats() Stats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	return e.stats
}

// SessionDomain returns the domain box of the engine's current session.
// Only safe to call from within a Request.Done callback (which runs on
// the engine's own goroutine, synchronously within applyRequests) or once the
// engine has been stopped — any other caller would race a concurrent
// LoadState swap.
func (e *Engine) SessionDomain() geom.Box {
	return e.state.Session.Domain
}

// SessionUnitTypes returns the unit-type registry of the engine's current
// session, under the same Done-callback-only calling constraint as
// SessionDomain.
func (e *Engine) SessionUnitTypes() *unittype.Registry {
	return e.state.Session.UnitTypes
}
