// Package runstate defines the agent engine's state machine.
//
// An agent is always in exactly one state. A batch is the unit of work that
// moves an agent from Ready through Processing and back (or into Error).
//
//	Ready         --(incoming message / tick)--> Processing
//	Processing    --(stream completes, no tool)--> Ready
//	Processing    --(tool calls requested)--> Processing      (loop, bounded by max_tool_hops)
//	Processing    --(fatal error in stream)--> Error
//	Error         --(auto_recover / manual)--> Ready | Processing
//	Ready         --(suspend)--> Suspended
//	Suspended     --(resume)--> Ready
//	Cooldown      --(clock reaches `until`)--> Ready
//
// Terminal-for-now states (Error, Suspended, Cooldown) require an explicit
// transition back to Ready or Processing; they never self-advance except
// Cooldown, which advances once its deadline passes.
package runstate

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// State represents the current state of an agent.
type State string

const (
	// Ready indicates the agent has no in-flight batch and can accept one.
	Ready State = "ready"

	// Processing indicates the agent has an in-flight batch: context has been
	// assembled, the model has been (or is being) invoked, and/or tool calls
	// from the current hop are being dispatched.
	Processing State = "processing"

	// Error indicates the last batch failed; a RecoveryStrategy is attached
	// and must be applied before a new batch may start.
	Error State = "error"

	// Suspended indicates the agent was explicitly taken offline (active=false).
	Suspended State = "suspended"

	// Cooldown indicates the agent is waiting out a timed pause (e.g. after
	// rate-limiting) before becoming eligible for Ready again.
	Cooldown State = "cooldown"
)

// IsValid reports whether s is a known state value.
func (s State) IsValid() bool {
	switch s {
	case Ready, Processing, Error, Suspended, Cooldown:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether a transition from s to target is valid per
// the state diagram above.
func (s State) CanTransitionTo(target State) bool {
	if !s.IsValid() || !target.IsValid() {
		return false
	}
	if s == target {
		return s == Processing // self-loop only valid for the tool-call hop loop
	}
	switch s {
	case Ready:
		return target == Processing || target == Suspended
	case Processing:
		return target == Ready || target == Error
	case Error:
		return target == Ready || target == Processing
	case Suspended:
		return target == Ready
	case Cooldown:
		return target == Ready
	}
	return false
}

// String implements fmt.Stringer.
func (s State) String() string { return string(s) }

// Value implements driver.Valuer.
func (s State) Value() (driver.Value, error) { return string(s), nil }

// Scan implements sql.Scanner.
func (s *State) Scan(src any) error {
	switch v := src.(type) {
	case string:
		st := State(v)
		if !st.IsValid() {
			return fmt.Errorf("runstate: invalid state %q", v)
		}
		*s = st
		return nil
	case []byte:
		st := State(v)
		if !st.IsValid() {
			return fmt.Errorf("runstate: invalid state %q", v)
		}
		*s = st
		return nil
	default:
		return fmt.Errorf("runstate: cannot scan type %T into State", src)
	}
}

// Snapshot is a point-in-time, lock-free-readable view of an agent's state,
// suitable for observers (the "single-writer mutex, lock-free
// snapshot for readers" shared-resource policy).
type Snapshot struct {
	State         State
	BatchID       *int64 // position of the in-flight/failed batch, if any
	CooldownUntil *time.Time
	Error         *ErrorInfo
}

// ErrorInfo describes why an agent entered the Error state.
type ErrorInfo struct {
	Reason     string
	BatchID    int64
	OccurredAt time.Time
	Recovery   RecoveryStrategy
}

// Transition validates a requested move and returns an error if invalid.
func Transition(from, to State) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("runstate: invalid transition from %q to %q", from, to)
	}
	return nil
}
