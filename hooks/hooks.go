// Package hooks lets callers observe and intervene at the engine's key
// extension points — before/after a model turn, around tool execution,
// around compaction, and around error-state recovery — generalized from
// a session-scoped hook registry into an agent-scoped one.
package hooks

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/youssefsiam38/pattern/compaction"
	"github.com/youssefsiam38/pattern/id"
	"github.com/youssefsiam38/pattern/message"
	"github.com/youssefsiam38/pattern/model"
	"github.com/youssefsiam38/pattern/runstate"
)

// BeforeMessageHook runs immediately before a batch of messages is sent to
// the model provider.
type BeforeMessageHook func(ctx context.Context, agentID id.AgentID, messages []*message.Message) error

// AfterMessageHook runs after a model response is received.
type AfterMessageHook func(ctx context.Context, agentID id.AgentID, response *model.Response) error

// ToolCallHook runs after a tool invocation completes (successfully or not).
type ToolCallHook func(ctx context.Context, agentID id.AgentID, toolName string, input json.RawMessage, output string, err error) error

// BeforeCompactionHook runs before a compaction pass starts.
type BeforeCompactionHook func(ctx context.Context, agentID id.AgentID) error

// AfterCompactionHook runs after a compaction pass completes.
type AfterCompactionHook func(ctx context.Context, result *compaction.Result) error

// BeforeRecoveryHook runs before the engine attempts to recover an agent
// out of runstate.Error, given the recovery strategy about to be applied.
type BeforeRecoveryHook func(ctx context.Context, agentID id.AgentID, strategy runstate.RecoveryStrategy) error

// AfterRecoveryHook runs after a recovery attempt, reporting whether it
// succeeded in returning the agent to runstate.Ready.
type AfterRecoveryHook func(ctx context.Context, agentID id.AgentID, recovered bool, err error)

// Registry holds every registered hook, safe for concurrent use.
type Registry struct {
	mu               sync.RWMutex
	beforeMessage    []BeforeMessageHook
	afterMessage     []AfterMessageHook
	toolCall         []ToolCallHook
	beforeCompaction []BeforeCompactionHook
	afterCompaction  []AfterCompactionHook
	beforeRecovery   []BeforeRecoveryHook
	afterRecovery    []AfterRecoveryHook
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// OnBeforeMessage registers hook to run before every model call.
func (r *Registry) OnBeforeMessage(hook BeforeMessageHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.beforeMessage = append(r.beforeMessage, hook)
}

// OnAfterMessage registers hook to run after every model response.
func (r *Registry) OnAfterMessage(hook AfterMessageHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.afterMessage = append(r.afterMessage, hook)
}

// OnToolCall registers hook to run after every tool execution.
func (r *Registry) OnToolCall(hook ToolCallHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.toolCall = append(r.toolCall, hook)
}

// OnBeforeCompaction registers hook to run before a compaction pass.
func (r *Registry) OnBeforeCompaction(hook BeforeCompactionHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.beforeCompaction = append(r.beforeCompaction, hook)
}

// OnAfterCompaction registers hook to run after a compaction pass.
func (r *Registry) OnAfterCompaction(hook AfterCompactionHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.afterCompaction = append(r.afterCompaction, hook)
}

// OnBeforeRecovery registers hook to run before an Error-state recovery
// attempt.
func (r *Registry) OnBeforeRecovery(hook BeforeRecoveryHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.beforeRecovery = append(r.beforeRecovery, hook)
}

// OnAfterRecovery registers hook to run after a recovery attempt.
func (r *Registry) OnAfterRecovery(hook AfterRecoveryHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.afterRecovery = append(r.afterRecovery, hook)
}

// TriggerBeforeMessage runs every before-message hook, stopping at the
// first error.
func (r *Registry) TriggerBeforeMessage(ctx context.Context, agentID id.AgentID, messages []*message.Message) error {
	r.mu.RLock()
	hooks := append([]BeforeMessageHook(nil), r.beforeMessage...)
	r.mu.RUnlock()

	for _, hook := range hooks {
		if err := hook(ctx, agentID, messages); err != nil {
			return err
		}
	}
	return nil
}

// TriggerAfterMessage runs every after-message hook, stopping at the first
// error.
func (r *Registry) TriggerAfterMessage(ctx context.Context, agentID id.AgentID, response *model.Response) error {
	r.mu.RLock()
	hooks := append([]AfterMessageHook(nil), r.afterMessage...)
	r.mu.RUnlock()

	for _, hook := range hooks {
		if err := hook(ctx, agentID, response); err != nil {
			return err
		}
	}
	return nil
}

// TriggerToolCall runs every tool-call hook, stopping at the first error.
func (r *Registry) TriggerToolCall(ctx context.Context, agentID id.AgentID, toolName string, input json.RawMessage, output string, callErr error) error {
	r.mu.RLock()
	hooks := append([]ToolCallHook(nil), r.toolCall...)
	r.mu.RUnlock()

	for _, hook := range hooks {
		if err := hook(ctx, agentID, toolName, input, output, callErr); err != nil {
			return err
		}
	}
	return nil
}

// TriggerBeforeCompaction runs every before-compaction hook, stopping at
// the first error.
func (r *Registry) TriggerBeforeCompaction(ctx context.Context, agentID id.AgentID) error {
	r.mu.RLock()
	hooks := append([]BeforeCompactionHook(nil), r.beforeCompaction...)
	r.mu.RUnlock()

	for _, hook := range hooks {
		if err := hook(ctx, agentID); err != nil {
			return err
		}
	}
	return nil
}

// TriggerAfterCompaction runs every after-compaction hook, stopping at the
// first error.
func (r *Registry) TriggerAfterCompaction(ctx context.Context, result *compaction.Result) error {
	r.mu.RLock()
	hooks := append([]AfterCompactionHook(nil), r.afterCompaction...)
	r.mu.RUnlock()

	for _, hook := range hooks {
		if err := hook(ctx, result); err != nil {
			return err
		}
	}
	return nil
}

// TriggerBeforeRecovery runs every before-recovery hook, stopping at the
// first error.
func (r *Registry) TriggerBeforeRecovery(ctx context.Context, agentID id.AgentID, strategy runstate.RecoveryStrategy) error {
	r.mu.RLock()
	hooks := append([]BeforeRecoveryHook(nil), r.beforeRecovery...)
	r.mu.RUnlock()

	for _, hook := range hooks {
		if err := hook(ctx, agentID, strategy); err != nil {
			return err
		}
	}
	return nil
}

// TriggerAfterRecovery runs every after-recovery hook. Unlike the other
// triggers, recovery outcome hooks are notification-only and cannot abort
// anything, so every hook always runs.
func (r *Registry) TriggerAfterRecovery(ctx context.Context, agentID id.AgentID, recovered bool, recoverErr error) {
	r.mu.RLock()
	hooks := append([]AfterRecoveryHook(nil), r.afterRecovery...)
	r.mu.RUnlock()

	for _, hook := range hooks {
		hook(ctx, agentID, recovered, recoverErr)
	}
}
