package sink

import (
	"codeberg.org/mutker/nvidiamon/internal/alert"
	"codeberg.org/mutker/nvidiamon/internal/logger"
)

// LogSink writes every event to the structured log
type LogSink struct{}

func NewLogSink() *LogSink {
	return &LogSink{}
}

func (*LogSink) Handle(event alert.Event) {
	switch event.Kind {
	case alert.EventRaised:
		logger.Warn().
			Str("device", string(event.DeviceID)).
			Str("metric", string(event.Metric)).
			Float64("value", event.Value).
			Float64("limit", event.Limit).
			Time("at", event.Timestamp).
			Msg("Alert raised")
	case alert.EventCleared:
		logger.Info().
			Str("device", string(event.DeviceID)).
			Str("metric", string(event.Metric)).
			Time("at", event.Timestamp).
			Msg("Alert cleared")
	case alert.EventDegraded:
		logger.Warn().
			Int("consecutive_failures", event.Failures).
			Msg("Monitoring degraded")
	case alert.EventRecovered:
		logger.Info().Msg("Monitoring recovered")
	}
}
