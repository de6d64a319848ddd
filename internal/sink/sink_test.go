package sink_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/nvidiamon/internal/alert"
	"codeberg.org/mutker/nvidiamon/internal/sink"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	events []alert.Event
	delay  time.Duration
}

func (r *recordingSink) Handle(event alert.Event) {
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingSink) all() []alert.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]alert.Event(nil), r.events...)
}

func raised(metric alert.Metric) alert.Event {
	return alert.Event{
		Kind:      alert.EventRaised,
		DeviceID:  "GPU-0",
		Metric:    metric,
		Value:     95,
		Limit:     80,
		Timestamp: time.Now(),
	}
}

func TestDispatcherDeliversInOrder(t *testing.T) {
	rec := &recordingSink{}
	d := sink.NewDispatcher(rec)

	d.Handle(raised(alert.MetricTemperature))
	d.Handle(raised(alert.MetricPowerDraw))
	d.Close()

	events := rec.all()
	require.Len(t, events, 2)
	assert.Equal(t, alert.MetricTemperature, events[0].Metric)
	assert.Equal(t, alert.MetricPowerDraw, events[1].Metric)
}

func TestDispatcherFansOut(t *testing.T) {
	first := &recordingSink{}
	second := &recordingSink{}
	d := sink.NewDispatcher(first, second)

	d.Handle(raised(alert.MetricTemperature))
	d.Close()

	assert.Len(t, first.all(), 1)
	assert.Len(t, second.all(), 1)
}

func TestDispatcherNeverBlocksProducer(t *testing.T) {
	slow := &recordingSink{delay: 10 * time.Millisecond}
	d := sink.NewDispatcher(slow)
	defer d.Close()

	start := time.Now()
	for i := 0; i < 500; i++ {
		d.Handle(raised(alert.MetricTemperature))
	}
	elapsed := time.Since(start)

	assert.Less(t, elapsed, time.Second, "Handle must return without waiting on the sink")
	assert.Positive(t, d.Dropped(), "overflow is dropped, not queued")
}

func TestSoundSinkPlaysOnRaise(t *testing.T) {
	file := filepath.Join(t.TempDir(), "beep.wav")
	require.NoError(t, os.WriteFile(file, []byte("RIFF"), 0o600))

	var played []string
	s := sink.NewSoundSink(file, true, func(path string) error {
		played = append(played, path)
		return nil
	})

	s.Handle(raised(alert.MetricTemperature))
	s.Handle(alert.Event{Kind: alert.EventCleared, Metric: alert.MetricTemperature})
	s.Handle(raised(alert.MetricTemperature))

	assert.Equal(t, []string{file, file}, played, "plays on raise only, never on clear")
}

func TestSoundSinkDisablesOnMissingFile(t *testing.T) {
	var played int
	s := sink.NewSoundSink(filepath.Join(t.TempDir(), "missing.wav"), true, func(string) error {
		played++
		return nil
	})

	assert.NotPanics(t, func() {
		s.Handle(raised(alert.MetricTemperature))
		s.Handle(raised(alert.MetricTemperature))
	})
	assert.Zero(t, played)
}

func TestSoundSinkRejectsNonWav(t *testing.T) {
	file := filepath.Join(t.TempDir(), "beep.mp3")
	require.NoError(t, os.WriteFile(file, []byte("data"), 0o600))

	var played int
	s := sink.NewSoundSink(file, true, func(string) error {
		played++
		return nil
	})

	s.Handle(raised(alert.MetricTemperature))
	assert.Zero(t, played)
}

func TestSoundSinkConfigureTogglesAtRuntime(t *testing.T) {
	file := filepath.Join(t.TempDir(), "beep.wav")
	require.NoError(t, os.WriteFile(file, []byte("RIFF"), 0o600))

	var played int
	s := sink.NewSoundSink(file, false, func(string) error {
		played++
		return nil
	})

	s.Handle(raised(alert.MetricTemperature))
	assert.Zero(t, played, "disabled sink stays silent")

	s.Configure(file, true)
	s.Handle(raised(alert.MetricTemperature))
	assert.Equal(t, 1, played, "enabling via reload takes effect")

	s.Configure(file, false)
	s.Handle(raised(alert.MetricTemperature))
	assert.Equal(t, 1, played, "disabling via reload takes effect")
}

func TestSoundSinkConfigureRecoversFromBadFile(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "beep.wav")
	require.NoError(t, os.WriteFile(good, []byte("RIFF"), 0o600))

	var played []string
	s := sink.NewSoundSink(filepath.Join(dir, "missing.wav"), true, func(path string) error {
		played = append(played, path)
		return nil
	})

	s.Handle(raised(alert.MetricTemperature))
	assert.Empty(t, played, "missing file disables the sink")

	s.Configure(good, true)
	s.Handle(raised(alert.MetricTemperature))
	assert.Equal(t, []string{good}, played, "a fixed path re-arms validation")
}

func TestLogSinkHandlesAllKinds(t *testing.T) {
	s := sink.NewLogSink()

	assert.NotPanics(t, func() {
		s.Handle(raised(alert.MetricTemperature))
		s.Handle(alert.Event{Kind: alert.EventCleared})
		s.Handle(alert.Event{Kind: alert.EventDegraded, Failures: 3})
		s.Handle(alert.Event{Kind: alert.EventRecovered})
	})
}
