package sink

import (
	"sync/atomic"

	"codeberg.org/mutker/nvidiamon/internal/alert"
	"codeberg.org/mutker/nvidiamon/internal/logger"
)

// Sink consumes alert lifecycle events. A sink failure is the sink's
// concern: nothing propagates back into the monitoring cycle.
type Sink interface {
	Handle(event alert.Event)
}

const dispatchBuffer = 64

// Dispatcher fans events out to sinks on its own goroutine so that a
// slow consumer can never stall the sampling cycle. When the buffer is
// full events are dropped, not queued without bound.
type Dispatcher struct {
	sinks   []Sink
	events  chan alert.Event
	done    chan struct{}
	dropped atomic.Int64
}

func NewDispatcher(sinks ...Sink) *Dispatcher {
	d := &Dispatcher{
		sinks:  sinks,
		events: make(chan alert.Event, dispatchBuffer),
		done:   make(chan struct{}),
	}
	go d.run()

	return d
}

// Handle enqueues an event without blocking
func (d *Dispatcher) Handle(event alert.Event) {
	select {
	case d.events <- event:
	default:
		d.dropped.Add(1)
		logger.Warn().Str("kind", string(event.Kind)).Msg("Event buffer full, dropping event")
	}
}

// Close drains pending events and stops the dispatch goroutine
func (d *Dispatcher) Close() {
	close(d.events)
	<-d.done
}

// Dropped reports how many events were discarded due to backpressure
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

func (d *Dispatcher) run() {
	defer close(d.done)

	for event := range d.events {
		for _, s := range d.sinks {
			s.Handle(event)
		}
	}
}
