package parallel

import (
	"sync"
	"time"
)

// EventType classifies pool progress events.
type EventType string

const (
	// EventTaskStarted fires when a task is dispatched to a worker.
	EventTaskStarted EventType = "task_started"
	// EventIterationCompleted fires after each task iteration.
	EventIterationCompleted EventType = "iteration_completed"
	// EventTaskCompleted fires when a task reaches completed.
	EventTaskCompleted EventType = "task_completed"
	// EventTaskFailed fires when a task fails or is cut off.
	EventTaskFailed EventType = "task_failed"
)

// Event is one pool progress notification.
type Event struct {
	Type      EventType
	TaskID    string
	Iteration int
	CostUSD   float64
	Message   string
	Timestamp time.Time
}

// Emitter fans events out to a buffered channel without ever blocking the
// workers. When the consumer falls behind, events are dropped and counted
// rather than stalling execution.
type Emitter struct {
	ch      chan Event
	mu      sync.Mutex
	dropped int
	closed  bool
}

// NewEmitter creates an emitter with the given buffer size.
func NewEmitter(buffer int) *Emitter {
	if buffer <= 0 {
		buffer = 128
	}
	return &Emitter{ch: make(chan Event, buffer)}
}

// Events returns the consumer channel. Closed when the run finishes.
func (e *Emitter) Events() <-chan Event {
	return e.ch
}

// Emit sends an event without blocking. Returns false if it was dropped.
func (e *Emitter) Emit(ev Event) bool {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	select {
	case e.ch <- ev:
		return true
	default:
		e.dropped++
		return false
	}
}

// Dropped returns how many events were discarded due to a slow consumer.
func (e *Emitter) Dropped() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dropped
}

// Close closes the event channel. Emit after Close is a no-op.
func (e *Emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.ch)
	}
}
