package runstate

import "time"

// RecoveryStrategy is a closed set of strategies for moving an agent out of
// the Error state, selected by inspecting how far the failed batch got
// before it failed.
type RecoveryStrategy interface {
	recoveryStrategy()
	String() string
}

// RestartBatch means no external effects were committed; it is safe to
// re-run the batch from the original user message.
type RestartBatch struct{}

func (RestartBatch) recoveryStrategy() {}
func (RestartBatch) String() string    { return "restart_batch" }

// RestartFromLastExternal resumes processing after the last successful
// external-effect position, so already-delivered effects are not repeated.
type RestartFromLastExternal struct {
	SkipUntil int64 // position of the last committed external effect
}

func (RestartFromLastExternal) recoveryStrategy() {}
func (RestartFromLastExternal) String() string    { return "restart_from_last_external" }

// Selective replays the batch while skipping tool calls that already
// completed with an externally-visible effect.
type Selective struct {
	CompletedTools []string // tool_use ids already completed
	SkipTools      []string // tool_use ids to skip on replay
	ResumeFromTool string   // tool_use id to resume from
}

func (Selective) recoveryStrategy() {}
func (Selective) String() string    { return "selective" }

// ManualOnly means the batch cannot be safely auto-recovered; an operator
// must intervene.
type ManualOnly struct {
	Reason string
}

func (ManualOnly) recoveryStrategy() {}
func (ManualOnly) String() string    { return "manual_only" }

// Abandon archives the failed batch (keeping the originating user message)
// and resets the agent straight to Ready.
type Abandon struct{}

func (Abandon) recoveryStrategy() {}
func (Abandon) String() string    { return "abandon" }

// IsAutoRecoverable reports whether auto_recover may be applied without
// operator action: RestartBatch and RestartFromLastExternal qualify.
// Selective never does, whatever its remaining steps are; it records which
// tools completed or are skipped but not whether the rest are idempotent.
func IsAutoRecoverable(strategy RecoveryStrategy) bool {
	switch strategy.(type) {
	case RestartBatch, RestartFromLastExternal:
		return true
	default:
		return false
	}
}

// ErrorType classifies why a batch failed.
type ErrorType string

const (
	ErrorTypeModelCall ErrorType = "model_call"
	ErrorTypeTool      ErrorType = "tool"
	ErrorTypeTimeout   ErrorType = "timeout"
	ErrorTypeCancelled ErrorType = "cancelled"
	ErrorTypeInternal  ErrorType = "internal"
	ErrorTypeToolLoop  ErrorType = "tool_loop_exceeded"
	ErrorTypeRefusal   ErrorType = "refusal"
)

// StopReason mirrors the model provider's reported stop/finish reason.
type StopReason string

const (
	StopReasonEndTurn      StopReason = "end_turn"
	StopReasonToolUse      StopReason = "tool_use"
	StopReasonMaxTokens    StopReason = "max_tokens"
	StopReasonStopSequence StopReason = "stop_sequence"
	StopReasonPauseTurn    StopReason = "pause_turn"
	StopReasonRefusal      StopReason = "refusal"
	StopReasonTimeout      StopReason = "timeout"
)

// IsTerminal reports whether this stop reason ends the batch successfully.
func (r StopReason) IsTerminal() bool {
	switch r {
	case StopReasonEndTurn, StopReasonStopSequence:
		return true
	default:
		return false
	}
}

// RequiresToolExecution reports whether tool calls from the stream must be
// dispatched before the batch can advance.
func (r StopReason) RequiresToolExecution() bool { return r == StopReasonToolUse }

// NextState returns the state an agent should move to given this stop
// reason, assuming the current hop's tool calls (if any) are handled by the
// caller first.
func (r StopReason) NextState() State {
	switch r {
	case StopReasonEndTurn, StopReasonStopSequence:
		return Ready
	case StopReasonToolUse:
		return Processing
	case StopReasonRefusal, StopReasonTimeout:
		return Error
	default:
		return Ready
	}
}

// CooldownFor computes a Cooldown deadline for rate-limit style backoff,
// doubling per attempt up to a ceiling — matching the engine's
// existing exponential-backoff-on-retry behavior.
func CooldownFor(attempt int, base, max time.Duration) time.Time {
	d := base << attempt
	if d > max || d <= 0 {
		d = max
	}
	return time.Now().Add(d)
}
