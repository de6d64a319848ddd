package monitor

import (
	"context"
	"sync"
	"time"

	"codeberg.org/mutker/nvidiamon/internal/alert"
	"codeberg.org/mutker/nvidiamon/internal/gpu"
	"codeberg.org/mutker/nvidiamon/internal/logger"
)

// EventSink consumes alert lifecycle events. Implementations must not
// block: anything slow belongs on the sink's own goroutine.
type EventSink interface {
	Handle(event alert.Event)
}

// Recorder persists snapshots for history consumers. Optional.
type Recorder interface {
	RecordSnapshot(ctx context.Context, snapshot gpu.Snapshot) error
}

// Settings are the engine knobs that may change at runtime
type Settings struct {
	Interval         time.Duration
	FailureThreshold int
}

// Engine drives the poll → evaluate → observe pipeline on a fixed
// cadence. One goroutine (Run) owns every cycle and all alert-state
// mutation; config and events cross goroutine boundaries only as
// immutable copies.
type Engine struct {
	source     gpu.Source
	thresholds *alert.Store
	state      *alert.StateMachine
	sink       EventSink
	recorder   Recorder

	mu       sync.RWMutex
	settings Settings
	failures int
	degraded bool
	latest   map[gpu.DeviceID]gpu.Snapshot
	procs    map[gpu.DeviceID][]gpu.ProcessInfo
}

func New(source gpu.Source, thresholds *alert.Store, state *alert.StateMachine, sink EventSink, settings Settings) *Engine {
	if settings.Interval <= 0 {
		settings.Interval = time.Second
	}
	if settings.FailureThreshold <= 0 {
		settings.FailureThreshold = 3
	}

	return &Engine{
		source:     source,
		thresholds: thresholds,
		state:      state,
		sink:       sink,
		settings:   settings,
		latest:     map[gpu.DeviceID]gpu.Snapshot{},
		procs:      map[gpu.DeviceID][]gpu.ProcessInfo{},
	}
}

// SetRecorder attaches an optional snapshot recorder. Must be called
// before Run.
func (e *Engine) SetRecorder(recorder Recorder) {
	e.recorder = recorder
}

// UpdateSettings applies new cadence settings; the next cycle picks
// them up
func (e *Engine) UpdateSettings(settings Settings) {
	if settings.Interval <= 0 || settings.FailureThreshold <= 0 {
		return
	}

	e.mu.Lock()
	e.settings = settings
	e.mu.Unlock()
}

// Run blocks until ctx is cancelled. A cycle in progress completes
// before Run returns, so alert state is never left half-applied.
func (e *Engine) Run(ctx context.Context) error {
	interval := e.currentSettings().Interval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info().Msgf("Monitoring started, polling every %s", interval)

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("Monitoring stopped")
			return nil
		case <-ticker.C:
			settings := e.currentSettings()
			if settings.Interval != interval {
				interval = settings.Interval
				ticker.Reset(interval)
				logger.Info().Msgf("Poll interval changed to %s", interval)
			}

			e.RunOnce(ctx)
		}
	}
}

// RunOnce executes a single poll/evaluate/observe cycle. A poll not
// finished within one interval is abandoned; ticker coalescing means
// missed ticks are skipped, never queued.
func (e *Engine) RunOnce(ctx context.Context) {
	settings := e.currentSettings()

	pollCtx, cancel := context.WithTimeout(ctx, settings.Interval)
	defer cancel()

	devices, err := e.source.Devices()
	if err != nil {
		logger.Warn().Err(err).Msg("Device enumeration failed, skipping cycle")
		e.recordFailure(settings)
		return
	}

	if len(devices) == 0 {
		e.recordSuccess()
		return
	}

	succeeded := 0
	for _, id := range devices {
		if !e.sampleDevice(pollCtx, id) {
			continue
		}
		succeeded++
	}

	if succeeded == 0 {
		e.recordFailure(settings)
		return
	}

	e.recordSuccess()
}

// sampleDevice polls one device and feeds the result through the
// evaluator and state machine. Returns false on a source error; a
// failed read never touches alert state.
func (e *Engine) sampleDevice(ctx context.Context, id gpu.DeviceID) bool {
	snapshot, err := e.source.ReadSnapshot(ctx, id)
	if err != nil {
		logger.Warn().Err(err).Str("device", string(id)).Msg("Snapshot read failed")
		return false
	}

	e.mu.Lock()
	e.latest[id] = snapshot
	e.mu.Unlock()

	if procs, err := e.source.ListProcesses(ctx, id); err == nil {
		e.mu.Lock()
		e.procs[id] = procs
		e.mu.Unlock()
	} else {
		logger.Debug().Err(err).Str("device", string(id)).Msg("Process listing failed")
	}

	violations := alert.Evaluate(snapshot, e.thresholds.Load())
	events := e.state.Observe(id, violations, snapshot.Timestamp)
	for _, event := range events {
		e.sink.Handle(event)
	}

	if e.recorder != nil {
		if err := e.recorder.RecordSnapshot(ctx, snapshot); err != nil {
			logger.Debug().Err(err).Msg("Snapshot recording failed")
		}
	}

	logger.Debug().
		Str("device", string(id)).
		Str("name", e.source.DeviceName(id)).
		Float64("temperature", snapshot.TemperatureC).
		Float64("utilization", snapshot.UtilizationPct).
		Float64("power", snapshot.PowerDrawW).
		Int("violations", len(violations)).
		Int("events", len(events)).
		Msg("Cycle complete")

	return true
}

func (e *Engine) recordFailure(settings Settings) {
	e.mu.Lock()
	e.failures++
	failures := e.failures
	crossed := !e.degraded && failures >= settings.FailureThreshold
	if crossed {
		e.degraded = true
	}
	e.mu.Unlock()

	if crossed {
		logger.Warn().Int("failures", failures).Msg("Monitoring degraded")
		e.sink.Handle(alert.Event{
			Kind:      alert.EventDegraded,
			Timestamp: time.Now(),
			Failures:  failures,
		})
	}
}

func (e *Engine) recordSuccess() {
	e.mu.Lock()
	wasDegraded := e.degraded
	e.failures = 0
	e.degraded = false
	e.mu.Unlock()

	if wasDegraded {
		logger.Info().Msg("Monitoring recovered")
		e.sink.Handle(alert.Event{
			Kind:      alert.EventRecovered,
			Timestamp: time.Now(),
		})
	}
}

// ConsecutiveFailures reports how many polls in a row have failed,
// letting a presentation layer distinguish a transient error from a
// disconnected source
func (e *Engine) ConsecutiveFailures() int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.failures
}

// LatestSnapshots returns a copy of the most recent snapshot per device
func (e *Engine) LatestSnapshots() map[gpu.DeviceID]gpu.Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make(map[gpu.DeviceID]gpu.Snapshot, len(e.latest))
	for id, snapshot := range e.latest {
		out[id] = snapshot
	}

	return out
}

// Processes returns the most recent process listing for a device
func (e *Engine) Processes(id gpu.DeviceID) []gpu.ProcessInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()

	procs := make([]gpu.ProcessInfo, len(e.procs[id]))
	copy(procs, e.procs[id])

	return procs
}

func (e *Engine) currentSettings() Settings {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.settings
}
