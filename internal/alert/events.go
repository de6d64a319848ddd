package alert

import (
	"time"

	"codeberg.org/mutker/nvidiamon/internal/gpu"
)

// EventKind discriminates alert lifecycle events
type EventKind string

const (
	// EventRaised signals a metric crossing above its limit, or an
	// ongoing violation re-notified after the cooldown elapsed.
	EventRaised EventKind = "alert_raised"

	// EventCleared signals a metric returning to or below its limit.
	EventCleared EventKind = "alert_cleared"

	// EventDegraded signals repeated consecutive poll failures.
	// Informational; carries Failures instead of metric fields.
	EventDegraded EventKind = "monitoring_degraded"

	// EventRecovered signals the first successful poll after a
	// degraded period.
	EventRecovered EventKind = "monitoring_recovered"
)

// Event is one alert lifecycle event handed to sinks. Immutable.
type Event struct {
	Kind      EventKind
	DeviceID  gpu.DeviceID
	Metric    Metric
	Value     float64
	Limit     float64
	Timestamp time.Time
	Failures  int
}

// Violation records a single metric exceeding its limit in one
// evaluation cycle. Transient; consumed by the state machine.
type Violation struct {
	DeviceID  gpu.DeviceID
	Metric    Metric
	Value     float64
	Limit     float64
	Timestamp time.Time
}
