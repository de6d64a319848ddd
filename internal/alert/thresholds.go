package alert

import "sync/atomic"

// Metric identifies one monitored reading
type Metric string

const (
	MetricTemperature       Metric = "temperature_c"
	MetricUtilization       Metric = "utilization_pct"
	MetricMemoryUtilization Metric = "memory_utilization_pct"
	MetricPowerDraw         Metric = "power_draw_w"
)

// Default limits, matching the tool's historical CLI defaults
const (
	DefaultTemperatureC         = 80.0
	DefaultUtilizationPct       = 90.0
	DefaultMemoryUtilizationPct = 90.0
	DefaultPowerDrawW           = 250.0
)

// ThresholdConfig maps each metric to its limit. A limit of zero or
// below disables that metric. Values are copied whole between
// goroutines; fields are never mutated in place after publication.
type ThresholdConfig struct {
	TemperatureC         float64
	UtilizationPct       float64
	MemoryUtilizationPct float64
	PowerDrawW           float64
}

// DefaultThresholds returns the standard limits
func DefaultThresholds() ThresholdConfig {
	return ThresholdConfig{
		TemperatureC:         DefaultTemperatureC,
		UtilizationPct:       DefaultUtilizationPct,
		MemoryUtilizationPct: DefaultMemoryUtilizationPct,
		PowerDrawW:           DefaultPowerDrawW,
	}
}

// Store publishes threshold updates to the evaluation loop via atomic
// copy-on-write swaps. Readers always observe one complete config.
type Store struct {
	current atomic.Pointer[ThresholdConfig]
}

// NewStore creates a store holding the given initial config
func NewStore(cfg ThresholdConfig) *Store {
	s := &Store{}
	s.current.Store(&cfg)

	return s
}

// Load returns the current config as a value copy
func (s *Store) Load() ThresholdConfig {
	return *s.current.Load()
}

// Swap replaces the published config
func (s *Store) Swap(cfg ThresholdConfig) {
	s.current.Store(&cfg)
}
