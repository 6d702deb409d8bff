// Package status holds the lifecycle state and monotonic counters every
// operator (ingestor, dedup, join, sink) exposes through the pipeline
// manager's status operation, spec §7. Grounded on the teacher's
// pkg/observability.Meter in shape (one struct of counters per operator)
// but implemented with sync/atomic instead of OpenTelemetry metrics: this
// design has no metrics backend to export to, only an in-process status
// query.
package status

import (
	"sync"
	"sync/atomic"
	"time"
)

// State is an operator's position in its lifecycle state machine
// (spec §4.3-§4.6: Initialising → Running ⇄ BackingOff/Flushing → Draining
// → Stopped | Failed).
type State int32

const (
	StateInitialising State = iota
	StateRunning
	StateBackingOff
	StateFlushing
	StateDraining
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInitialising:
		return "initialising"
	case StateRunning:
		return "running"
	case StateBackingOff:
		return "backing_off"
	case StateFlushing:
		return "flushing"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Counters is the monotonic counter set spec §7 requires every operator to
// expose: events_in, events_out, events_dropped_by_reason, batches_flushed,
// inserts_failed.
type Counters struct {
	state State32

	eventsIn        atomic.Uint64
	eventsOut       atomic.Uint64
	batchesFlushed  atomic.Uint64
	insertsFailed   atomic.Uint64

	mu             sync.Mutex
	droppedByReason map[string]uint64
	lastErr        error
	lastErrAt      time.Time
}

// State32 is an atomic wrapper around State for lock-free reads from the
// status operation while an operator goroutine transitions it.
type State32 struct {
	v atomic.Int32
}

func (s *State32) Load() State     { return State(s.v.Load()) }
func (s *State32) Store(st State)  { s.v.Store(int32(st)) }

func NewCounters() *Counters {
	return &Counters{
		droppedByReason: make(map[string]uint64),
	}
}

func (c *Counters) SetState(s State) { c.state.Store(s) }
func (c *Counters) State() State     { return c.state.Load() }

func (c *Counters) AddIn(n uint64)             { c.eventsIn.Add(n) }
func (c *Counters) AddOut(n uint64)            { c.eventsOut.Add(n) }
func (c *Counters) AddBatchesFlushed(n uint64) { c.batchesFlushed.Add(n) }
func (c *Counters) AddInsertsFailed(n uint64)  { c.insertsFailed.Add(n) }

func (c *Counters) AddDropped(reason string, n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.droppedByReason[reason] += n
}

// SetLastError records the most recent operator error for the status
// operation's "most recent error per operator" requirement (spec §7).
func (c *Counters) SetLastError(err error, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastErr = err
	c.lastErrAt = at
}

// Snapshot is the point-in-time view returned to the status operation.
type Snapshot struct {
	State             string            `json:"state"`
	EventsIn          uint64            `json:"events_in"`
	EventsOut         uint64            `json:"events_out"`
	EventsDropped     map[string]uint64 `json:"events_dropped_by_reason"`
	BatchesFlushed    uint64            `json:"batches_flushed"`
	InsertsFailed     uint64            `json:"inserts_failed"`
	LastError         string            `json:"last_error,omitempty"`
	LastErrorAt       *time.Time        `json:"last_error_at,omitempty"`
}

func (c *Counters) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	dropped := make(map[string]uint64, len(c.droppedByReason))
	for k, v := range c.droppedByReason {
		dropped[k] = v
	}

	snap := Snapshot{
		State:          c.state.Load().String(),
		EventsIn:       c.eventsIn.Load(),
		EventsOut:      c.eventsOut.Load(),
		EventsDropped:  dropped,
		BatchesFlushed: c.batchesFlushed.Load(),
		InsertsFailed:  c.insertsFailed.Load(),
	}
	if c.lastErr != nil {
		snap.LastError = c.lastErr.Error()
		at := c.lastErrAt
		snap.LastErrorAt = &at
	}
	return snap
}
