// Package perrors defines Pattern's error taxonomy: sentinel errors grouped
// by kind and a wrapping type that attaches operation and
// agent context, generalizing the common AgentError pattern.
package perrors

import (
	"errors"
	"fmt"

	"github.com/youssefsiam38/pattern/id"
)

// Input errors
var (
	ErrInvalidID       = errors.New("invalid id")
	ErrInvalidArguments = errors.New("invalid arguments")
	ErrDuplicateLabel  = errors.New("duplicate label")
	ErrSchemaMismatch  = errors.New("schema mismatch")
)

// Permission errors
var (
	ErrPermissionDenied  = errors.New("permission denied")
	ErrAgentInErrorState = errors.New("agent is in error state")
)

// Resource errors
var (
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
	ErrMemoryLimitExceeded = errors.New("memory limit exceeded")
	ErrToolLoopExceeded    = errors.New("tool loop exceeded")
	ErrBlockNotFound       = errors.New("memory block not found")
	ErrToolNotFound        = errors.New("tool not found")
)

// Transport errors
var (
	ErrConnectionFailed = errors.New("connection failed")
	ErrQueryFailed      = errors.New("query failed")
	ErrModelCallFailed  = errors.New("model call failed")
	ErrTimeout          = errors.New("timed out")
	ErrRateLimited      = errors.New("rate limited")
)

// Consistency errors
var (
	ErrBatchIncomplete   = errors.New("batch incomplete")
	ErrPositionRegression = errors.New("position regression")
)

// Recoverable computation errors
var (
	ErrToolExecutionFailed = errors.New("tool execution failed")
)

// Compaction errors
var (
	ErrNoMessagesToCompact  = errors.New("no messages eligible for compaction")
	ErrCompactionInProgress = errors.New("compaction already in progress for this agent")
	ErrSummarizationFailed  = errors.New("summarization failed")
	ErrInvalidConfig        = errors.New("invalid configuration")
)

// Client lifecycle errors
var (
	ErrClientAlreadyStarted = errors.New("client already started")
	ErrClientNotStarted     = errors.New("client not started")
)

// PatternError wraps a sentinel error with the operation that produced it,
// the agent it concerns (if any), and arbitrary debugging context —
// generalized directly from an AgentError{Op,Err,SessionID,Context} shape.
type PatternError struct {
	Op      string
	Err     error
	AgentID *id.AgentID
	Context map[string]any
}

func (e *PatternError) Error() string {
	if e.AgentID != nil {
		return fmt.Sprintf("pattern: %s: agent %s: %v", e.Op, e.AgentID, e.Err)
	}
	return fmt.Sprintf("pattern: %s: %v", e.Op, e.Err)
}

func (e *PatternError) Unwrap() error { return e.Err }

// WithContext returns a copy of e with additional context merged in.
func (e *PatternError) WithContext(key string, value any) *PatternError {
	cp := *e
	cp.Context = make(map[string]any, len(e.Context)+1)
	for k, v := range e.Context {
		cp.Context[k] = v
	}
	cp.Context[key] = value
	return &cp
}

// New constructs a PatternError for an operation not tied to a specific agent.
func New(op string, err error) *PatternError {
	return &PatternError{Op: op, Err: err}
}

// ForAgent constructs a PatternError tied to a specific agent.
func ForAgent(op string, agentID id.AgentID, err error) *PatternError {
	return &PatternError{Op: op, Err: err, AgentID: &agentID}
}

// Is reports whether err (or any error it wraps) matches sentinel,
// delegating to the standard library — provided for call sites that prefer
// perrors.Is(err, perrors.ErrNotFound) over errors.Is directly.
func Is(err, sentinel error) bool { return errors.Is(err, sentinel) }
