package alert_test

import (
	"testing"
	"time"

	"codeberg.org/mutker/nvidiamon/internal/alert"
	"codeberg.org/mutker/nvidiamon/internal/gpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const device = gpu.DeviceID("GPU-test-0")

var t0 = time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)

func tempViolation(value float64, at time.Time) alert.Violation {
	return alert.Violation{
		DeviceID:  device,
		Metric:    alert.MetricTemperature,
		Value:     value,
		Limit:     80,
		Timestamp: at,
	}
}

func TestFirstViolationRaises(t *testing.T) {
	m := alert.NewStateMachine(30 * time.Second)

	events := m.Observe(device, []alert.Violation{tempViolation(85, t0)}, t0)
	require.Len(t, events, 1)

	e := events[0]
	assert.Equal(t, alert.EventRaised, e.Kind)
	assert.Equal(t, device, e.DeviceID)
	assert.Equal(t, alert.MetricTemperature, e.Metric)
	assert.InDelta(t, 85.0, e.Value, 0.001)
	assert.InDelta(t, 80.0, e.Limit, 0.001)
	assert.Equal(t, t0, e.Timestamp)

	record := m.Records()[alert.Key{DeviceID: device, Metric: alert.MetricTemperature}]
	assert.True(t, record.Active)
	assert.Equal(t, t0, record.FirstRaisedAt)
	assert.Equal(t, t0, record.LastNotifiedAt)
}

func TestRepeatedViolationSuppressedWithinCooldown(t *testing.T) {
	m := alert.NewStateMachine(30 * time.Second)

	m.Observe(device, []alert.Violation{tempViolation(85, t0)}, t0)

	at := t0.Add(5 * time.Second)
	events := m.Observe(device, []alert.Violation{tempViolation(85, at)}, at)
	assert.Empty(t, events, "violation inside cooldown must not re-notify")

	record := m.Records()[alert.Key{DeviceID: device, Metric: alert.MetricTemperature}]
	assert.True(t, record.Active, "state stays active during suppression")
	assert.Equal(t, t0, record.LastNotifiedAt, "suppressed cycle must not touch notification time")
}

func TestClearIsImmediate(t *testing.T) {
	m := alert.NewStateMachine(30 * time.Second)

	m.Observe(device, []alert.Violation{tempViolation(85, t0)}, t0)

	at := t0.Add(1 * time.Second)
	events := m.Observe(device, nil, at)
	require.Len(t, events, 1)
	assert.Equal(t, alert.EventCleared, events[0].Kind)
	assert.Equal(t, at, events[0].Timestamp)

	record := m.Records()[alert.Key{DeviceID: device, Metric: alert.MetricTemperature}]
	assert.False(t, record.Active)
	assert.Equal(t, at, record.LastClearedAt)
}

// The raise-suppress-clear shape from the property list: two violating
// cycles then one clean cycle, cooldown wider than the cycle spacing.
func TestRaiseThenClearSequence(t *testing.T) {
	m := alert.NewStateMachine(time.Minute)

	var kinds []alert.EventKind
	steps := []struct {
		at        time.Time
		violating bool
	}{
		{t0, true},
		{t0.Add(2 * time.Second), true},
		{t0.Add(4 * time.Second), false},
	}

	for _, step := range steps {
		var violations []alert.Violation
		if step.violating {
			violations = []alert.Violation{tempViolation(85, step.at)}
		}
		for _, e := range m.Observe(device, violations, step.at) {
			kinds = append(kinds, e.Kind)
		}
	}

	assert.Equal(t, []alert.EventKind{alert.EventRaised, alert.EventCleared}, kinds)
}

// Scenario from the monitoring contract: temp=85 at t=0 raises, t=5 is
// inside the 30s cooldown, t=40 re-raises, temp=70 at t=45 clears.
func TestCooldownScenario(t *testing.T) {
	m := alert.NewStateMachine(30 * time.Second)

	type observed struct {
		kind alert.EventKind
		at   time.Time
	}
	var got []observed

	observe := func(offset time.Duration, temp float64) {
		at := t0.Add(offset)
		var violations []alert.Violation
		if temp > 80 {
			violations = []alert.Violation{tempViolation(temp, at)}
		}
		for _, e := range m.Observe(device, violations, at) {
			got = append(got, observed{kind: e.Kind, at: e.Timestamp})
		}
	}

	observe(0, 85)
	observe(5*time.Second, 85)
	observe(40*time.Second, 85)
	observe(45*time.Second, 70)

	require.Len(t, got, 3)
	assert.Equal(t, observed{alert.EventRaised, t0}, got[0])
	assert.Equal(t, observed{alert.EventRaised, t0.Add(40 * time.Second)}, got[1])
	assert.Equal(t, observed{alert.EventCleared, t0.Add(45 * time.Second)}, got[2])
}

func TestEventsAlternatePerKey(t *testing.T) {
	m := alert.NewStateMachine(time.Second)

	var kinds []alert.EventKind
	at := t0
	for cycle := 0; cycle < 20; cycle++ {
		var violations []alert.Violation
		if cycle%3 != 2 { // two violating cycles, one clean, repeat
			violations = []alert.Violation{tempViolation(85, at)}
		}
		for _, e := range m.Observe(device, violations, at) {
			kinds = append(kinds, e.Kind)
		}
		at = at.Add(10 * time.Second)
	}

	require.NotEmpty(t, kinds)
	for i := 1; i < len(kinds); i++ {
		if kinds[i] == alert.EventCleared {
			assert.Equal(t, alert.EventRaised, kinds[i-1],
				"cleared must follow a raise, never another clear")
		}
	}
}

func TestInactiveKeyStaysQuiet(t *testing.T) {
	m := alert.NewStateMachine(30 * time.Second)

	events := m.Observe(device, nil, t0)
	assert.Empty(t, events)
	assert.Empty(t, m.Records(), "no record is created without a violation")
}

func TestDevicesTrackedIndependently(t *testing.T) {
	m := alert.NewStateMachine(30 * time.Second)
	other := gpu.DeviceID("GPU-test-1")

	m.Observe(device, []alert.Violation{tempViolation(85, t0)}, t0)

	otherViolation := tempViolation(90, t0)
	otherViolation.DeviceID = other
	events := m.Observe(other, []alert.Violation{otherViolation}, t0)
	require.Len(t, events, 1)
	assert.Equal(t, alert.EventRaised, events[0].Kind)

	// Clearing one device must not clear the other.
	at := t0.Add(time.Second)
	events = m.Observe(other, nil, at)
	require.Len(t, events, 1)
	assert.Equal(t, other, events[0].DeviceID)
	assert.Equal(t, 1, m.ActiveCount())
}

// A failed poll never reaches Observe, so alert state must be exactly
// as the last evaluated cycle left it.
func TestSkippedCycleLeavesStateUntouched(t *testing.T) {
	m := alert.NewStateMachine(30 * time.Second)

	m.Observe(device, []alert.Violation{tempViolation(85, t0)}, t0)
	before := m.Records()

	// Poll failure: no Observe call for this device this cycle.

	at := t0.Add(40 * time.Second)
	events := m.Observe(device, []alert.Violation{tempViolation(85, at)}, at)
	require.Len(t, events, 1, "cooldown elapsed, re-raise expected")
	assert.Equal(t, alert.EventRaised, events[0].Kind)

	record := m.Records()[alert.Key{DeviceID: device, Metric: alert.MetricTemperature}]
	assert.Equal(t, before[alert.Key{DeviceID: device, Metric: alert.MetricTemperature}].FirstRaisedAt,
		record.FirstRaisedAt, "missed cycle must not reset the raise time")
}

func TestClearAlertsResetsRecords(t *testing.T) {
	m := alert.NewStateMachine(30 * time.Second)

	m.Observe(device, []alert.Violation{tempViolation(85, t0)}, t0)
	require.Equal(t, 1, m.ActiveCount())

	m.ClearAlerts()
	assert.Empty(t, m.Records())

	// Next violation raises immediately, cooldown notwithstanding.
	at := t0.Add(time.Second)
	events := m.Observe(device, []alert.Violation{tempViolation(85, at)}, at)
	require.Len(t, events, 1)
	assert.Equal(t, alert.EventRaised, events[0].Kind)
}

func TestSetCooldownAppliesToSubsequentCycles(t *testing.T) {
	m := alert.NewStateMachine(time.Hour)

	m.Observe(device, []alert.Violation{tempViolation(85, t0)}, t0)

	m.SetCooldown(10 * time.Second)

	at := t0.Add(15 * time.Second)
	events := m.Observe(device, []alert.Violation{tempViolation(85, at)}, at)
	require.Len(t, events, 1)
	assert.Equal(t, alert.EventRaised, events[0].Kind)
}

func TestStoreSwapPublishesWholeConfig(t *testing.T) {
	store := alert.NewStore(alert.DefaultThresholds())
	assert.InDelta(t, alert.DefaultTemperatureC, store.Load().TemperatureC, 0.001)

	next := alert.ThresholdConfig{TemperatureC: 70, UtilizationPct: 85, MemoryUtilizationPct: 80, PowerDrawW: 200}
	store.Swap(next)
	assert.Equal(t, next, store.Load())
}
