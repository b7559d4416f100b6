package pipeline

import (
	"sync"
	"sync/atomic"
)

// Event pairs a finalized DecisionBundle with the sample that produced it.
// Storage collaborators consume events for durability; the pipeline never
// blocks on them.
type Event struct {
	Bundle   *DecisionBundle `json:"bundle"`
	Features FeatureVector   `json:"features"`
	Status   int             `json:"status"`
	Bytes    int64           `json:"bytes"`
	Failed   bool            `json:"failed"`
}

// Emitter fans finalized decisions out to a storage consumer over a
// bounded channel. Emit never blocks: when the consumer falls behind,
// events are dropped and counted instead of stalling the pipeline.
type Emitter struct {
	ch        chan Event
	dropped   atomic.Uint64
	closeOnce sync.Once
}

// NewEmitter creates an emitter with the given channel capacity.
func NewEmitter(buffer int) *Emitter {
	if buffer <= 0 {
		buffer = 256
	}
	return &Emitter{ch: make(chan Event, buffer)}
}

// Emit offers an event to the consumer. Returns false when the event was
// dropped because the buffer was full.
func (e *Emitter) Emit(ev Event) bool {
	select {
	case e.ch <- ev:
		return true
	default:
		e.dropped.Add(1)
		return false
	}
}

// Events returns the consumer side of the stream. The channel closes when
// the emitter is closed.
func (e *Emitter) Events() <-chan Event { return e.ch }

// Dropped returns how many events were discarded due to backpressure.
func (e *Emitter) Dropped() uint64 { return e.dropped.Load() }

// Close ends the stream. Safe to call more than once; Emit after Close
// panics, so close only after the last DecideAfter.
func (e *Emitter) Close() {
	e.closeOnce.Do(func() { close(e.ch) })
}
