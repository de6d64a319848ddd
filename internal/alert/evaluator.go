package alert

import "codeberg.org/mutker/nvidiamon/internal/gpu"

const percentScale = 100.0

// Evaluate compares one snapshot against the given thresholds and
// returns the set of violations. Pure and deterministic: no state, no
// side effects, no error path. A metric violates only on strict
// greater-than; a value equal to its limit is in bounds. Metrics with
// non-positive limits are disabled. Anomalous snapshot values
// (negative readings, used > total) are evaluated as-is; validation is
// the source's concern, not the evaluator's.
func Evaluate(snapshot gpu.Snapshot, cfg ThresholdConfig) []Violation {
	var violations []Violation

	check := func(metric Metric, value, limit float64) {
		if limit > 0 && value > limit {
			violations = append(violations, Violation{
				DeviceID:  snapshot.DeviceID,
				Metric:    metric,
				Value:     value,
				Limit:     limit,
				Timestamp: snapshot.Timestamp,
			})
		}
	}

	check(MetricTemperature, snapshot.TemperatureC, cfg.TemperatureC)
	check(MetricUtilization, snapshot.UtilizationPct, cfg.UtilizationPct)

	// Memory utilization is derived; with no reported total the ratio
	// is undefined and the metric is skipped for this cycle.
	if snapshot.MemoryTotalMB != 0 {
		memUtil := snapshot.MemoryUsedMB / snapshot.MemoryTotalMB * percentScale
		check(MetricMemoryUtilization, memUtil, cfg.MemoryUtilizationPct)
	}

	check(MetricPowerDraw, snapshot.PowerDrawW, cfg.PowerDrawW)

	return violations
}
