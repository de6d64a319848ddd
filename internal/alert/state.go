package alert

import (
	"sync"
	"time"

	"codeberg.org/mutker/nvidiamon/internal/gpu"
)

// DefaultCooldown is the minimum gap between repeated notifications
// for the same ongoing alert condition.
const DefaultCooldown = 30 * time.Second

// Key identifies one tracked alert condition
type Key struct {
	DeviceID gpu.DeviceID
	Metric   Metric
}

// Record tracks the lifecycle of one (device, metric) alert condition.
// Created lazily on first violation and kept for the process lifetime.
type Record struct {
	Active         bool
	FirstRaisedAt  time.Time
	LastClearedAt  time.Time
	LastNotifiedAt time.Time
}

// StateMachine converts per-cycle violation sets into alert lifecycle
// events. Raising an already-active alert is suppressed until the
// cooldown elapses; clearing is immediate and never debounced. The
// state machine is the single owner of all record mutation — Observe
// and ClearAlerts must be called from one goroutine (the sampling
// cycle); read accessors return copies and are safe from any
// goroutine.
type StateMachine struct {
	mu       sync.RWMutex
	cooldown time.Duration
	records  map[Key]*Record
}

// NewStateMachine creates a state machine with the given cooldown.
// A non-positive cooldown falls back to DefaultCooldown.
func NewStateMachine(cooldown time.Duration) *StateMachine {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}

	return &StateMachine{
		cooldown: cooldown,
		records:  map[Key]*Record{},
	}
}

// SetCooldown updates the cooldown for subsequent observations
func (m *StateMachine) SetCooldown(cooldown time.Duration) {
	if cooldown <= 0 {
		return
	}

	m.mu.Lock()
	m.cooldown = cooldown
	m.mu.Unlock()
}

// Observe applies one evaluation cycle for one device and returns the
// events it produced. violations must be the complete violation set
// for the device at instant now; any active condition absent from it
// clears. A cycle that never reached evaluation (failed poll) must not
// call Observe, so missing data cannot fake a clear.
func (m *StateMachine) Observe(device gpu.DeviceID, violations []Violation, now time.Time) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	var events []Event

	violated := make(map[Metric]bool, len(violations))

	for _, v := range violations {
		violated[v.Metric] = true
		key := Key{DeviceID: device, Metric: v.Metric}

		record, ok := m.records[key]
		if !ok {
			record = &Record{}
			m.records[key] = record
		}

		if !record.Active {
			record.Active = true
			record.FirstRaisedAt = now
			record.LastNotifiedAt = now
			events = append(events, raisedEvent(v, now))

			continue
		}

		if now.Sub(record.LastNotifiedAt) >= m.cooldown {
			record.LastNotifiedAt = now
			events = append(events, raisedEvent(v, now))
		}
	}

	for key, record := range m.records {
		if key.DeviceID != device || !record.Active || violated[key.Metric] {
			continue
		}

		record.Active = false
		record.LastClearedAt = now
		events = append(events, Event{
			Kind:      EventCleared,
			DeviceID:  device,
			Metric:    key.Metric,
			Timestamp: now,
		})
	}

	return events
}

// ClearAlerts resets all records. This is a user action wiping
// bookkeeping, not an observation of recovery, so no cleared events
// are emitted; the next violation raises immediately.
func (m *StateMachine) ClearAlerts() {
	m.mu.Lock()
	m.records = map[Key]*Record{}
	m.mu.Unlock()
}

// Records returns a copy of the current alert records for read-only
// consumers such as a status view
func (m *StateMachine) Records() map[Key]Record {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[Key]Record, len(m.records))
	for key, record := range m.records {
		out[key] = *record
	}

	return out
}

// ActiveCount returns the number of currently active alerts
func (m *StateMachine) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, record := range m.records {
		if record.Active {
			count++
		}
	}

	return count
}

func raisedEvent(v Violation, now time.Time) Event {
	return Event{
		Kind:      EventRaised,
		DeviceID:  v.DeviceID,
		Metric:    v.Metric,
		Value:     v.Value,
		Limit:     v.Limit,
		Timestamp: now,
	}
}
