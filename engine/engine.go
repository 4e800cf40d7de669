// Package engine implements the agent processing loop: the state machine
// that takes an agent from Ready through one or more Processing hops
// (context assembly, a model call, optional tool execution) and back to
// Ready, Error, or Cooldown. It generalizes a single-agent
// runWithToolLoopInternal engine loop to run over any store.Store-backed
// agent, any model.Provider, and an open tool registry instead of a fixed
// Anthropic-only, nested-agent-tool shape.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/youssefsiam38/pattern/compaction"
	"github.com/youssefsiam38/pattern/ctxassembly"
	"github.com/youssefsiam38/pattern/datasource"
	"github.com/youssefsiam38/pattern/hooks"
	"github.com/youssefsiam38/pattern/id"
	"github.com/youssefsiam38/pattern/internal/snowflake"
	"github.com/youssefsiam38/pattern/memory"
	"github.com/youssefsiam38/pattern/message"
	"github.com/youssefsiam38/pattern/model"
	"github.com/youssefsiam38/pattern/perrors"
	"github.com/youssefsiam38/pattern/runstate"
	"github.com/youssefsiam38/pattern/store"
	"github.com/youssefsiam38/pattern/tool"
	"github.com/youssefsiam38/pattern/transport"
)

// Config parameterizes batch processing.
type Config struct {
	MaxToolHops    int
	MaxToolSnoozes int
	WindowSize     int
	TokenBudget    int
	RateLimitBase  time.Duration
	RateLimitMax   time.Duration
}

// DefaultConfig returns sensible defaults, mirroring the engine's own
// existing bounded tool-loop and exponential-backoff constants.
func DefaultConfig() Config {
	return Config{
		MaxToolHops:    10,
		MaxToolSnoozes: 3,
		WindowSize:     50,
		RateLimitBase:  time.Second,
		RateLimitMax:   time.Minute,
	}
}

// Engine drives one or more agents' batches. A single Engine instance is
// safe for concurrent use across many agents — the single-writer-per-agent
// guarantee is enforced by a per-agent mutex, not by serializing the whole
// Engine.
type Engine struct {
	store     store.Store
	memory    *memory.Manager
	registry  *tool.Registry
	executor  *tool.Executor
	assembler *ctxassembly.Assembler
	provider  model.Provider
	hooks     *hooks.Registry
	compactor *compaction.Compactor
	positions *snowflake.Generator
	config    Config

	transport   transport.Endpoint
	dataSources *datasource.Coordinator

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// SetTransport wires the outbound delivery sink used by the send_message
// built-in for target=user/target=data-sink. Optional; tools needing it
// fail explicitly if it was never set.
func (e *Engine) SetTransport(t transport.Endpoint) { e.transport = t }

// SetDataSources wires the coordinator backing the data_source built-in.
// Optional; tools needing it fail explicitly if it was never set.
func (e *Engine) SetDataSources(d *datasource.Coordinator) { e.dataSources = d }

// New builds an Engine. hooks and compactor may be nil (a nil hooks
// registry is replaced with an empty one; a nil compactor disables
// automatic pre-batch compaction).
func New(s store.Store, mem *memory.Manager, registry *tool.Registry, provider model.Provider, hookRegistry *hooks.Registry, compactor *compaction.Compactor, nodeID int64, config Config) *Engine {
	if hookRegistry == nil {
		hookRegistry = hooks.NewRegistry()
	}
	return &Engine{
		store:     s,
		memory:    mem,
		registry:  registry,
		executor:  tool.NewExecutor(registry),
		assembler: ctxassembly.New(s, mem),
		provider:  provider,
		hooks:     hookRegistry,
		compactor: compactor,
		positions: snowflake.New(nodeID),
		config:    config,
		locks:     make(map[string]*sync.Mutex),
	}
}

func (e *Engine) lockFor(agentID id.AgentID) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[agentID.String()]
	if !ok {
		l = &sync.Mutex{}
		e.locks[agentID.String()] = l
	}
	return l
}

// AgentRow is the subset of the agent table's columns the engine needs on
// every batch.
type AgentRow struct {
	ID              id.AgentID
	Type            string
	Name            string
	SystemPrompt    string
	Model           string
	State           runstate.State
	Active          bool
	RecoveryPending runstate.RecoveryStrategy
	CooldownUntil   time.Time
}

func loadAgent(ctx context.Context, s store.Store, agentID id.AgentID) (*AgentRow, error) {
	row, ok, err := s.Select(ctx, "agent", agentID.String())
	if err != nil {
		return nil, fmt.Errorf("engine: load agent: %w", err)
	}
	if !ok {
		return nil, perrors.ForAgent("engine.loadAgent", agentID, perrors.ErrNotFound)
	}
	a := &AgentRow{ID: agentID}
	if v, ok := row["type"].(string); ok {
		a.Type = v
	}
	if v, ok := row["name"].(string); ok {
		a.Name = v
	}
	if v, ok := row["system_prompt"].(string); ok {
		a.SystemPrompt = v
	}
	if v, ok := row["model"].(string); ok {
		a.Model = v
	}
	if v, ok := row["state"].(string); ok {
		a.State = runstate.State(v)
	}
	if v, ok := row["active"].(bool); ok {
		a.Active = v
	}
	a.RecoveryPending, a.CooldownUntil = decodeMetadata(row["metadata"])
	return a, nil
}

func decodeMetadata(raw any) (runstate.RecoveryStrategy, time.Time) {
	doc := asJSONObject(raw)
	if doc == nil {
		return nil, time.Time{}
	}
	var cooldown time.Time
	if s, ok := doc["cooldown_until"].(string); ok {
		cooldown, _ = time.Parse(time.RFC3339, s)
	}
	strategy, ok := doc["recovery_strategy"].(map[string]any)
	if !ok {
		return nil, cooldown
	}
	return decodeRecoveryStrategy(strategy), cooldown
}

func decodeRecoveryStrategy(doc map[string]any) runstate.RecoveryStrategy {
	kind, _ := doc["kind"].(string)
	switch kind {
	case "restart_batch":
		return runstate.RestartBatch{}
	case "restart_from_last_external":
		skip, _ := doc["skip_until"].(float64)
		return runstate.RestartFromLastExternal{SkipUntil: int64(skip)}
	case "selective":
		return runstate.Selective{}
	case "manual_only":
		reason, _ := doc["reason"].(string)
		return runstate.ManualOnly{Reason: reason}
	case "abandon":
		return runstate.Abandon{}
	default:
		return nil
	}
}

func encodeRecoveryStrategy(strategy runstate.RecoveryStrategy) map[string]any {
	switch s := strategy.(type) {
	case runstate.RestartBatch:
		return map[string]any{"kind": "restart_batch"}
	case runstate.RestartFromLastExternal:
		return map[string]any{"kind": "restart_from_last_external", "skip_until": s.SkipUntil}
	case runstate.Selective:
		return map[string]any{"kind": "selective"}
	case runstate.ManualOnly:
		return map[string]any{"kind": "manual_only", "reason": s.Reason}
	case runstate.Abandon:
		return map[string]any{"kind": "abandon"}
	default:
		return nil
	}
}

func asJSONObject(raw any) map[string]any {
	switch v := raw.(type) {
	case map[string]any:
		return v
	case []byte:
		var doc map[string]any
		if json.Unmarshal(v, &doc) == nil {
			return doc
		}
	case string:
		var doc map[string]any
		if json.Unmarshal([]byte(v), &doc) == nil {
			return doc
		}
	}
	return nil
}

func (e *Engine) setState(ctx context.Context, agentID id.AgentID, state runstate.State, metadata map[string]any) error {
	patch := store.Row{"state": string(state), "updated_at": time.Now().UTC()}
	if metadata != nil {
		patch["metadata"] = metadata
	}
	_, err := e.store.UpdateMerge(ctx, "agent", agentID.String(), patch)
	return err
}

// SubmitMessage appends a user-role message to agentID's log with a fresh
// position and batch id, marks it in-context, and returns the batch id the
// caller should pass to ProcessBatch.
func (e *Engine) SubmitMessage(ctx context.Context, agentID id.AgentID, content []message.ContentBlock) (int64, error) {
	batchID := e.positions.Next()
	msg := &message.Message{
		ID:        id.NewMessageID(),
		AgentID:   agentID,
		Role:      message.RoleUser,
		Content:   content,
		Position:  e.positions.Next(),
		BatchID:   batchID,
		InContext: true,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := e.store.Create(ctx, "msg", msg.ID.String(), msg.ToRow()); err != nil {
		return 0, fmt.Errorf("engine: submit message: %w", err)
	}
	return batchID, nil
}

// ProcessBatch runs one full batch for agentID: assemble -> call model ->
// execute any requested tools -> repeat until a terminal stop reason or
// MaxToolHops is hit. It acquires agentID's per-agent lock for its
// duration, so a second concurrent call for the same agent blocks until
// the first completes.
func (e *Engine) ProcessBatch(ctx context.Context, agentID id.AgentID, ownerID id.UserID, opts ctxassembly.Options) (*Result, error) {
	lock := e.lockFor(agentID)
	lock.Lock()
	defer lock.Unlock()

	agent, err := loadAgent(ctx, e.store, agentID)
	if err != nil {
		return nil, err
	}
	if agent.State == runstate.Suspended {
		return nil, perrors.ForAgent("engine.ProcessBatch", agentID, perrors.ErrPermissionDenied)
	}
	if agent.State == runstate.Cooldown && time.Now().Before(agent.CooldownUntil) {
		return nil, perrors.ForAgent("engine.ProcessBatch", agentID, perrors.ErrRateLimited)
	}
	if agent.State == runstate.Error {
		return nil, perrors.ForAgent("engine.ProcessBatch", agentID, perrors.ErrAgentInErrorState)
	}

	if err := e.setState(ctx, agentID, runstate.Processing, nil); err != nil {
		return nil, fmt.Errorf("engine: enter processing: %w", err)
	}

	batchID := e.positions.Next()
	if opts.WindowSize == 0 {
		opts.WindowSize = e.config.WindowSize
	}
	if opts.TokenBudget == 0 {
		opts.TokenBudget = e.config.TokenBudget
	}
	if opts.Tools == nil && e.registry != nil {
		opts.Tools = e.registry.ToolSpecs()
	}
	if opts.SystemPromptTemplate == "" {
		opts.SystemPromptTemplate = agent.SystemPrompt
	}

	if e.compactor != nil {
		if needed, _ := e.compactor.NeedsCompaction(ctx, agentID); needed {
			_ = e.hooks.TriggerBeforeCompaction(ctx, agentID)
			result, cerr := e.compactor.Compact(ctx, agentID, ownerID)
			e.hooks.TriggerAfterCompaction(ctx, result)
			if cerr != nil && !errors.Is(cerr, perrors.ErrNoMessagesToCompact) {
				// Compaction failing is not itself fatal to the batch; proceed
				// with the uncompacted window and let token limits surface
				// naturally through the model call if they're going to.
			}
		}
	}

	messages, err := e.runHops(ctx, agent, ownerID, batchID, opts)
	result := &Result{AgentID: agentID, BatchID: batchID, Messages: messages}
	if err == nil {
		return result, e.setState(ctx, agentID, runstate.Ready, nil)
	}

	strategy := classify(err)
	errType, _ := classifyErrorType(err)
	_ = e.hooks.TriggerBeforeRecovery(ctx, agentID, strategy)

	if errType == runstate.ErrorTypeModelCall && isRateLimit(err) {
		until := runstate.CooldownFor(1, e.config.RateLimitBase, e.config.RateLimitMax)
		_ = e.setState(ctx, agentID, runstate.Cooldown, map[string]any{"cooldown_until": until.Format(time.RFC3339)})
		return result, err
	}

	metadata := map[string]any{}
	if enc := encodeRecoveryStrategy(strategy); enc != nil {
		metadata["recovery_strategy"] = enc
	}
	_ = e.setState(ctx, agentID, runstate.Error, metadata)
	e.hooks.TriggerAfterRecovery(ctx, agentID, false, err)
	return result, err
}

// Result carries everything a batch produced, for callers (notably package
// group) that need to inspect the agent's fresh messages without a second
// store round-trip.
type Result struct {
	AgentID  id.AgentID
	BatchID  int64
	Messages []*message.Message
}

// ApplyRecovery resumes an agentID stuck in runstate.Error according to its
// persisted RecoveryStrategy. Only RestartBatch and RestartFromLastExternal
// are auto-recoverable (runstate.IsAutoRecoverable); anything else returns
// ErrPermissionDenied and leaves the agent for an operator. Applying
// recovery twice is safe: once the first call has moved the agent out of
// Error, the second sees a non-Error state and is a no-op.
func (e *Engine) ApplyRecovery(ctx context.Context, agentID id.AgentID, ownerID id.UserID, opts ctxassembly.Options) (*Result, error) {
	lock := e.lockFor(agentID)
	lock.Lock()

	agent, err := loadAgent(ctx, e.store, agentID)
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	if agent.State != runstate.Error {
		lock.Unlock()
		return nil, nil
	}
	strategy := agent.RecoveryPending
	if !runstate.IsAutoRecoverable(strategy) {
		lock.Unlock()
		return nil, perrors.ForAgent("engine.ApplyRecovery", agentID, perrors.ErrPermissionDenied)
	}

	if rfle, ok := strategy.(runstate.RestartFromLastExternal); ok {
		if err := e.synthesizeSkippedToolResults(ctx, agentID, rfle.SkipUntil); err != nil {
			lock.Unlock()
			return nil, fmt.Errorf("engine: synthesize skipped tool results: %w", err)
		}
	}

	if err := e.setState(ctx, agentID, runstate.Ready, map[string]any{}); err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("engine: reset for recovery: %w", err)
	}
	lock.Unlock()

	return e.ProcessBatch(ctx, agentID, ownerID, opts)
}

// synthesizeSkippedToolResults fills the gap a RestartFromLastExternal
// strategy left behind: the hop at skipUntil has an assistant message with
// one or more tool_use blocks but no matching tool-result message, because
// executeTools aborted the batch before persisting one. Resuming with that
// dangling tool_use would either confuse the model provider or, worse,
// invite it to call the external-effect tool again. It persists a synthetic
// tool-result message marking each call as already resolved, then lets
// ProcessBatch's normal context assembly pick up from there. A no-op if the
// hop was never persisted (the model call itself failed) or a tool result
// for it already exists (an earlier, interrupted recovery attempt).
func (e *Engine) synthesizeSkippedToolResults(ctx context.Context, agentID id.AgentID, skipUntil int64) error {
	rows, err := e.store.Query(ctx,
		"SELECT * FROM msg WHERE agent_id = :agent_id AND position = :position LIMIT 1",
		map[string]any{"agent_id": agentID.String(), "position": skipUntil},
	)
	if err != nil {
		return fmt.Errorf("engine: load hop message: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}
	hopMsg, err := message.FromRow(rows[0])
	if err != nil {
		return fmt.Errorf("engine: decode hop message: %w", err)
	}
	calls := hopMsg.ToolCalls()
	if len(calls) == 0 {
		return nil
	}

	later, err := e.store.Query(ctx,
		"SELECT * FROM msg WHERE agent_id = :agent_id AND batch_id = :batch_id AND role = :role AND position > :position LIMIT 1",
		map[string]any{"agent_id": agentID.String(), "batch_id": hopMsg.BatchID, "role": string(message.RoleTool), "position": skipUntil},
	)
	if err != nil {
		return fmt.Errorf("engine: check existing tool results: %w", err)
	}
	if len(later) > 0 {
		return nil
	}

	blocks := make([]message.ContentBlock, 0, len(calls))
	for _, call := range calls {
		text := "skipped on recovery: already processed before the failure"
		if isExternalEffectTool(e.registry, call.Name) {
			text = "skipped on recovery: external effect already committed, not retried"
		}
		blocks = append(blocks, message.ContentBlock{
			Type:         message.ContentTypeToolResult,
			ToolResultID: call.ID,
			ToolContent:  text,
		})
	}

	resultMsg := &message.Message{
		ID:        id.NewMessageID(),
		AgentID:   agentID,
		Role:      message.RoleTool,
		Content:   blocks,
		Position:  e.positions.Next(),
		BatchID:   hopMsg.BatchID,
		InContext: true,
		CreatedAt: time.Now().UTC(),
	}
	_, err = e.store.Create(ctx, "msg", resultMsg.ID.String(), resultMsg.ToRow())
	return err
}

// runHops drives the assemble-call-execute loop for one batch, returning
// every message it persisted (assistant replies and tool-result messages,
// in creation order) regardless of whether it ultimately errors.
func (e *Engine) runHops(ctx context.Context, agent *AgentRow, ownerID id.UserID, batchID int64, opts ctxassembly.Options) ([]*message.Message, error) {
	var produced []*message.Message
	for hop := 0; hop < maxHops(e.config.MaxToolHops); hop++ {
		assembled, err := e.assembler.Assemble(ctx, agent.ID, ownerID, opts)
		if err != nil {
			return produced, fmt.Errorf("engine: assemble: %w", err)
		}

		if err := e.hooks.TriggerBeforeMessage(ctx, agent.ID, toPtrSlice(assembled.Messages)); err != nil {
			return produced, fmt.Errorf("engine: before-message hook: %w", err)
		}

		req := model.Request{
			Model:        agent.Model,
			SystemPrompt: assembled.SystemPrompt,
			Messages:     toPtrSlice(assembled.Messages),
			Tools:        assembled.Tools,
		}
		resp, err := e.provider.Complete(ctx, req)
		if err != nil {
			return produced, &perrors.PatternError{Op: "engine.Complete", Err: fmt.Errorf("%w: %w", perrors.ErrModelCallFailed, err), AgentID: &agent.ID}
		}

		if err := e.hooks.TriggerAfterMessage(ctx, agent.ID, resp); err != nil {
			return produced, fmt.Errorf("engine: after-message hook: %w", err)
		}

		resp.Message.AgentID = agent.ID
		resp.Message.Position = e.positions.Next()
		resp.Message.BatchID = batchID
		resp.Message.InContext = true
		if resp.Message.CreatedAt.IsZero() {
			resp.Message.CreatedAt = time.Now().UTC()
		}
		if _, err := e.store.Create(ctx, "msg", resp.Message.ID.String(), resp.Message.ToRow()); err != nil {
			return produced, fmt.Errorf("engine: persist assistant message: %w", err)
		}
		produced = append(produced, resp.Message)

		if resp.StopReason.IsTerminal() {
			return produced, nil
		}
		if !resp.StopReason.RequiresToolExecution() {
			return produced, &perrors.PatternError{Op: "engine.runHops", Err: fmt.Errorf("%w: stop reason %q", perrors.ErrModelCallFailed, resp.StopReason), AgentID: &agent.ID}
		}

		toolResults, err := e.executeTools(ctx, agent.ID, ownerID, resp.Message.ToolCalls(), resp.Message.Position)
		if err != nil {
			return produced, err
		}
		resultMsg := &message.Message{
			ID:        id.NewMessageID(),
			AgentID:   agent.ID,
			Role:      message.RoleTool,
			Content:   toolResults,
			Position:  e.positions.Next(),
			BatchID:   batchID,
			InContext: true,
			CreatedAt: time.Now().UTC(),
		}
		if _, err := e.store.Create(ctx, "msg", resultMsg.ID.String(), resultMsg.ToRow()); err != nil {
			return produced, fmt.Errorf("engine: persist tool result message: %w", err)
		}
		produced = append(produced, resultMsg)
	}
	return produced, &perrors.PatternError{Op: "engine.runHops", Err: perrors.ErrToolLoopExceeded, AgentID: &agent.ID}
}

// executeTools dispatches calls in order, persisting a tool_call row per
// call (pending before dispatch, success/failed after) so every invocation
// survives a crash independent of whether its transcript message does. A
// failed call to an ExternalEffectTool escalates to a batch-level error
// instead of becoming an ordinary is_error content block: the caller can no
// longer tell from the transcript alone whether the effect landed, so the
// batch must stop and go through recovery rather than let the model decide
// whether to retry it.
func (e *Engine) executeTools(ctx context.Context, agentID id.AgentID, ownerID id.UserID, calls []message.ToolCall, hopPosition int64) ([]message.ContentBlock, error) {
	handle := tool.Handle{
		AgentID:     agentID,
		OwnerID:     ownerID,
		Memory:      e.memory,
		Store:       e.store,
		Transport:   e.transport,
		DataSources: e.dataSources,
	}
	ctx = tool.WithHandle(ctx, handle)

	blocks := make([]message.ContentBlock, 0, len(calls))
	var externalFailure error
	for _, call := range calls {
		if ctx.Err() != nil {
			if tcID, err := e.recordToolCallStart(ctx, agentID, call.Name, call.Input); err == nil {
				e.recordToolCallDone(ctx, tcID, "failed", map[string]any{"reason": "Cancelled"}, nil)
			}
			blocks = append(blocks, message.ContentBlock{
				Type:         message.ContentTypeToolResult,
				ToolResultID: call.ID,
				ToolContent:  "cancelled",
				IsError:      true,
			})
			continue
		}

		tcID, err := e.recordToolCallStart(ctx, agentID, call.Name, call.Input)
		if err != nil {
			return blocks, fmt.Errorf("engine: record tool call: %w", err)
		}

		output, callErr := e.executeWithSnooze(ctx, call)
		_ = e.hooks.TriggerToolCall(ctx, agentID, call.Name, call.Input, output, callErr)

		isExternal := isExternalEffectTool(e.registry, call.Name)
		var effectIDs []string
		if isExternal {
			// The call itself is the completion marker: once send_message
			// has been dispatched, its effect is treated as committed
			// whether or not the call went on to return an error, so
			// recovery never silently retries it.
			effectIDs = []string{tcID.String()}
		}

		switch {
		case callErr != nil && errors.Is(callErr, context.Canceled):
			e.recordToolCallDone(ctx, tcID, "failed", map[string]any{"reason": "Cancelled", "error": callErr.Error()}, effectIDs)
		case callErr != nil:
			e.recordToolCallDone(ctx, tcID, "failed", map[string]any{"error": callErr.Error()}, effectIDs)
		default:
			e.recordToolCallDone(ctx, tcID, "success", map[string]any{"output": output}, effectIDs)
		}

		blocks = append(blocks, message.ContentBlock{
			Type:         message.ContentTypeToolResult,
			ToolResultID: call.ID,
			ToolContent:  toolResultText(output, callErr),
			IsError:      callErr != nil,
		})

		if callErr != nil && externalFailure == nil && isExternal {
			externalFailure = &perrors.PatternError{
				Op:      "engine.executeTools",
				Err:     fmt.Errorf("%w: %s", perrors.ErrToolExecutionFailed, call.Name),
				AgentID: &agentID,
				Context: map[string]any{"skip_until": hopPosition, "external_effect": true},
			}
		}
	}
	return blocks, externalFailure
}

// recordToolCallStart persists a pending tool_call row and its agent ->
// tool_calls -> tool_call edge before a tool is dispatched, so the call is
// durable independent of how it resolves.
func (e *Engine) recordToolCallStart(ctx context.Context, agentID id.AgentID, name string, input json.RawMessage) (id.ToolCallID, error) {
	tcID := id.NewToolCallID()
	now := time.Now().UTC()
	row := store.Row{
		"id":         tcID.String(),
		"agent_id":   agentID.String(),
		"tool_name":  name,
		"arguments":  json.RawMessage(append([]byte(nil), input...)),
		"status":     "pending",
		"created_at": now,
		"updated_at": now,
	}
	if _, err := e.store.Create(ctx, "tool_call", tcID.String(), row); err != nil {
		return tcID, err
	}
	if _, err := e.store.Relate(ctx, "agent", agentID.String(), "tool_calls", "tool_call", tcID.String(), nil); err != nil {
		return tcID, err
	}
	return tcID, nil
}

// recordToolCallDone updates a tool_call row's terminal status and,
// for external-effect tools, the effect ids recovery must never replay.
// Errors are swallowed: a failure to record the outcome must not mask the
// outcome itself, which the caller has already built a content block for.
func (e *Engine) recordToolCallDone(ctx context.Context, tcID id.ToolCallID, status string, result map[string]any, effectIDs []string) {
	patch := store.Row{
		"status":     status,
		"result":     result,
		"updated_at": time.Now().UTC(),
	}
	if len(effectIDs) > 0 {
		patch["external_effect_ids"] = effectIDs
	}
	_, _ = e.store.UpdateMerge(ctx, "tool_call", tcID.String(), patch)
}

// isExternalEffectTool reports whether name is registered as a tool whose
// failures must be treated as possibly-committed effects rather than
// plain retryable errors.
func isExternalEffectTool(registry *tool.Registry, name string) bool {
	if registry == nil {
		return false
	}
	t, ok := registry.Get(name)
	if !ok {
		return false
	}
	ext, ok := t.(tool.ExternalEffectTool)
	return ok && ext.HasExternalEffect()
}

func (e *Engine) executeWithSnooze(ctx context.Context, call message.ToolCall) (string, error) {
	attempts := 0
	for {
		result := e.executor.Execute(ctx, call.Name, call.Input)
		if result.Error == nil {
			return result.Output, nil
		}
		if !tool.IsToolSnooze(result.Error) {
			return result.Output, result.Error
		}
		attempts++
		if attempts > maxHops(e.config.MaxToolSnoozes) {
			return result.Output, result.Error
		}
		wait, ok := tool.GetSnoozeDuration(result.Error)
		if !ok {
			wait = time.Second
		}
		select {
		case <-ctx.Done():
			return result.Output, ctx.Err()
		case <-time.After(wait):
		}
	}
}

func toolResultText(output string, err error) string {
	if err == nil {
		return output
	}
	if output != "" {
		return output + ": " + err.Error()
	}
	return err.Error()
}

func toPtrSlice(msgs []message.Message) []*message.Message {
	out := make([]*message.Message, len(msgs))
	for i := range msgs {
		out[i] = &msgs[i]
	}
	return out
}

func maxHops(n int) int {
	if n <= 0 {
		return 10
	}
	return n
}

func isRateLimit(err error) bool {
	return errors.Is(err, perrors.ErrRateLimited)
}

// classifyErrorType maps err to the runstate.ErrorType/StopReason pairing
// used to pick a recovery strategy and, for rate limits, a cooldown
// instead of a hard Error transition.
func classifyErrorType(err error) (runstate.ErrorType, runstate.StopReason) {
	switch {
	case errors.Is(err, perrors.ErrModelCallFailed):
		return runstate.ErrorTypeModelCall, runstate.StopReasonTimeout
	case errors.Is(err, perrors.ErrToolLoopExceeded):
		return runstate.ErrorTypeToolLoop, runstate.StopReasonMaxTokens
	case errors.Is(err, perrors.ErrToolExecutionFailed):
		return runstate.ErrorTypeTool, runstate.StopReasonEndTurn
	case errors.Is(err, context.Canceled):
		return runstate.ErrorTypeCancelled, runstate.StopReasonEndTurn
	case errors.Is(err, context.DeadlineExceeded):
		return runstate.ErrorTypeTimeout, runstate.StopReasonTimeout
	default:
		return runstate.ErrorTypeInternal, runstate.StopReasonEndTurn
	}
}

// classify picks a RecoveryStrategy for err: a tool failure that followed a
// committed external effect (carried in the error's Context by
// executeTools) restarts just past that effect instead of from scratch; no
// external tool effects were committed before a model-call failure, so
// those are safely restartable from the user message; a tool-loop overrun
// needs an operator to look at the transcript; anything else falls back to
// restart, which is always safe for a batch that never got as far as a
// committed effect.
func classify(err error) runstate.RecoveryStrategy {
	var pe *perrors.PatternError
	if errors.As(err, &pe) && pe.Context != nil {
		if committed, _ := pe.Context["external_effect"].(bool); committed {
			skipUntil, _ := pe.Context["skip_until"].(int64)
			return runstate.RestartFromLastExternal{SkipUntil: skipUntil}
		}
	}

	errType, _ := classifyErrorType(err)
	switch errType {
	case runstate.ErrorTypeModelCall, runstate.ErrorTypeTool:
		return runstate.RestartBatch{}
	case runstate.ErrorTypeToolLoop:
		return runstate.ManualOnly{Reason: "tool loop exceeded max hops"}
	case runstate.ErrorTypeCancelled:
		return runstate.Abandon{}
	default:
		return runstate.RestartBatch{}
	}
}
