package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/youssefsiam38/pattern/ctxassembly"
	"github.com/youssefsiam38/pattern/id"
	"github.com/youssefsiam38/pattern/memory"
	"github.com/youssefsiam38/pattern/message"
	"github.com/youssefsiam38/pattern/model"
	"github.com/youssefsiam38/pattern/perrors"
	"github.com/youssefsiam38/pattern/runstate"
	"github.com/youssefsiam38/pattern/store"
	"github.com/youssefsiam38/pattern/tool"
)

// fakeStore is a minimal in-memory store.Store, following the per-package
// fake used throughout (see memory/manager_test.go).
type fakeStore struct {
	store.Store
	rows map[string]store.Row
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[string]store.Row)}
}

func (f *fakeStore) Create(ctx context.Context, table, key string, content store.Row) (store.Row, error) {
	row := store.Row{}
	for k, v := range content {
		row[k] = v
	}
	row["id"] = key
	f.rows[key] = row
	return row, nil
}

func (f *fakeStore) Select(ctx context.Context, table, key string) (store.Row, bool, error) {
	row, ok := f.rows[key]
	return row, ok, nil
}

func (f *fakeStore) UpdateMerge(ctx context.Context, table, key string, patch store.Row) (store.Row, error) {
	row, ok := f.rows[key]
	if !ok {
		row = store.Row{"id": key}
	}
	for k, v := range patch {
		row[k] = v
	}
	f.rows[key] = row
	return row, nil
}

func (f *fakeStore) RelatedTo(ctx context.Context, fromTable, fromKey, relation string) ([]store.Row, error) {
	return nil, nil
}

func (f *fakeStore) Query(ctx context.Context, sql string, args map[string]any) (store.ResultSet, error) {
	var out store.ResultSet
	for _, row := range f.rows {
		if row["agent_id"] == args["agent_id"] {
			out = append(out, row)
		}
	}
	return out, nil
}

func newFakeAgent(s *fakeStore, agentID id.AgentID, state runstate.State) {
	s.rows[agentID.String()] = store.Row{
		"id":            agentID.String(),
		"type":          "worker",
		"name":          "tester",
		"system_prompt": "You are a test agent.",
		"model":         "claude-test",
		"state":         string(state),
		"active":        true,
	}
}

// fakeProvider returns a canned sequence of responses, one per call.
type fakeProvider struct {
	responses []*model.Response
	errs      []error
	call      int
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Complete(ctx context.Context, req model.Request) (*model.Response, error) {
	i := f.call
	f.call++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i >= len(f.responses) {
		return f.responses[len(f.responses)-1], nil
	}
	return f.responses[i], nil
}

func endTurnResponse(text string) *model.Response {
	return &model.Response{
		Message: &message.Message{
			ID:      id.NewMessageID(),
			Role:    message.RoleAssistant,
			Content: []message.ContentBlock{{Type: message.ContentTypeText, Text: text}},
		},
		StopReason: runstate.StopReasonEndTurn,
		Usage:      message.Usage{InputTokens: 5, OutputTokens: 5},
	}
}

func toolUseResponse(toolName string, input string) *model.Response {
	return &model.Response{
		Message: &message.Message{
			ID:   id.NewMessageID(),
			Role: message.RoleAssistant,
			Content: []message.ContentBlock{
				{Type: message.ContentTypeToolUse, ToolUseID: "tu_1", ToolName: toolName, ToolInputRaw: json.RawMessage(input)},
			},
		},
		StopReason: runstate.StopReasonToolUse,
		Usage:      message.Usage{InputTokens: 5, OutputTokens: 5},
	}
}

// noopTool always succeeds.
type noopTool struct{}

func (noopTool) Name() string        { return "noop" }
func (noopTool) Description() string { return "does nothing" }
func (noopTool) InputSchema() tool.ToolSchema {
	return tool.ToolSchema{Type: "object"}
}
func (noopTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	return "ok", nil
}

// handleCheckingTool fails unless the engine attached a tool.Handle to ctx
// with the expected agent and owner, the way every builtin tool requires.
type handleCheckingTool struct {
	wantAgentID id.AgentID
	wantOwnerID id.UserID
}

func (h handleCheckingTool) Name() string        { return "noop" }
func (h handleCheckingTool) Description() string { return "checks handle wiring" }
func (h handleCheckingTool) InputSchema() tool.ToolSchema {
	return tool.ToolSchema{Type: "object"}
}
func (h handleCheckingTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	handle := tool.MustHandleFromContext(ctx)
	if handle.AgentID != h.wantAgentID {
		return "", fmt.Errorf("handle agent = %s, want %s", handle.AgentID, h.wantAgentID)
	}
	if handle.OwnerID != h.wantOwnerID {
		return "", fmt.Errorf("handle owner = %s, want %s", handle.OwnerID, h.wantOwnerID)
	}
	if handle.Store == nil || handle.Memory == nil {
		return "", fmt.Errorf("handle missing store/memory")
	}
	return "ok", nil
}

func newEngine(t *testing.T, s *fakeStore, provider model.Provider) *Engine {
	t.Helper()
	mem := memory.New(s, nil)
	registry := tool.NewRegistry()
	if err := registry.Register(noopTool{}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	return New(s, mem, registry, provider, nil, nil, 1, DefaultConfig())
}

func TestEngine_ProcessBatch_EndTurnReturnsToReady(t *testing.T) {
	s := newFakeStore()
	agentID := id.NewAgentID()
	newFakeAgent(s, agentID, runstate.Ready)
	ownerID := id.NewUserID()

	e := newEngine(t, s, &fakeProvider{responses: []*model.Response{endTurnResponse("hi there")}})

	if _, err := e.SubmitMessage(context.Background(), agentID, []message.ContentBlock{{Type: message.ContentTypeText, Text: "hello"}}); err != nil {
		t.Fatalf("SubmitMessage() error = %v", err)
	}

	if _, err := e.ProcessBatch(context.Background(), agentID, ownerID, ctxOptsFor()); err != nil {
		t.Fatalf("ProcessBatch() error = %v", err)
	}

	row, _, _ := s.Select(context.Background(), "agent", agentID.String())
	if row["state"] != string(runstate.Ready) {
		t.Errorf("state = %v, want ready", row["state"])
	}
}

func TestEngine_ProcessBatch_ToolReceivesHandle(t *testing.T) {
	s := newFakeStore()
	agentID := id.NewAgentID()
	newFakeAgent(s, agentID, runstate.Ready)
	ownerID := id.NewUserID()

	mem := memory.New(s, nil)
	registry := tool.NewRegistry()
	if err := registry.Register(handleCheckingTool{wantAgentID: agentID, wantOwnerID: ownerID}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	provider := &fakeProvider{responses: []*model.Response{toolUseResponse("noop", `{}`), endTurnResponse("done")}}
	e := New(s, mem, registry, provider, nil, nil, 1, DefaultConfig())

	if _, err := e.SubmitMessage(context.Background(), agentID, []message.ContentBlock{{Type: message.ContentTypeText, Text: "go"}}); err != nil {
		t.Fatalf("SubmitMessage() error = %v", err)
	}

	result, err := e.ProcessBatch(context.Background(), agentID, ownerID, ctxOptsFor())
	if err != nil {
		t.Fatalf("ProcessBatch() error = %v", err)
	}

	var sawErrorResult bool
	for _, m := range result.Messages {
		for _, block := range m.Content {
			if block.Type == message.ContentTypeToolResult && block.IsError {
				sawErrorResult = true
				t.Errorf("tool result errored: %s", block.ToolContent)
			}
		}
	}
	if sawErrorResult {
		t.Fatal("handle was not wired to the tool call")
	}
}

func TestEngine_ProcessBatch_ToolLoopExceeded(t *testing.T) {
	s := newFakeStore()
	agentID := id.NewAgentID()
	newFakeAgent(s, agentID, runstate.Ready)
	ownerID := id.NewUserID()

	provider := &fakeProvider{responses: []*model.Response{toolUseResponse("noop", `{}`)}}
	e := newEngine(t, s, provider)
	e.config.MaxToolHops = 2

	if _, err := e.SubmitMessage(context.Background(), agentID, []message.ContentBlock{{Type: message.ContentTypeText, Text: "go"}}); err != nil {
		t.Fatalf("SubmitMessage() error = %v", err)
	}

	_, err := e.ProcessBatch(context.Background(), agentID, ownerID, ctxOptsFor())
	if err == nil {
		t.Fatal("ProcessBatch() error = nil, want tool loop exceeded")
	}
	if !perrors.Is(err, perrors.ErrToolLoopExceeded) {
		t.Errorf("err = %v, want ErrToolLoopExceeded", err)
	}

	row, _, _ := s.Select(context.Background(), "agent", agentID.String())
	if row["state"] != string(runstate.Error) {
		t.Errorf("state = %v, want error", row["state"])
	}
	meta, _ := row["metadata"].(map[string]any)
	if meta == nil {
		t.Fatal("metadata not persisted")
	}
	strategy, _ := meta["recovery_strategy"].(map[string]any)
	if strategy["kind"] != "manual_only" {
		t.Errorf("recovery_strategy = %+v, want manual_only", strategy)
	}
}

func TestEngine_ProcessBatch_RateLimitEntersCooldown(t *testing.T) {
	s := newFakeStore()
	agentID := id.NewAgentID()
	newFakeAgent(s, agentID, runstate.Ready)
	ownerID := id.NewUserID()

	e := newEngine(t, s, &fakeProvider{errs: []error{fmt.Errorf("wrapped: %w", perrors.ErrRateLimited)}})

	if _, err := e.SubmitMessage(context.Background(), agentID, []message.ContentBlock{{Type: message.ContentTypeText, Text: "hello"}}); err != nil {
		t.Fatalf("SubmitMessage() error = %v", err)
	}

	if _, err := e.ProcessBatch(context.Background(), agentID, ownerID, ctxOptsFor()); err == nil {
		t.Fatal("ProcessBatch() error = nil, want rate-limit error")
	}

	row, _, _ := s.Select(context.Background(), "agent", agentID.String())
	if row["state"] != string(runstate.Cooldown) {
		t.Errorf("state = %v, want cooldown", row["state"])
	}
	if row["metadata"].(map[string]any)["cooldown_until"] == nil {
		t.Error("cooldown_until not persisted")
	}
}

func TestEngine_ProcessBatch_RejectsSuspendedAgent(t *testing.T) {
	s := newFakeStore()
	agentID := id.NewAgentID()
	newFakeAgent(s, agentID, runstate.Suspended)
	ownerID := id.NewUserID()

	e := newEngine(t, s, &fakeProvider{responses: []*model.Response{endTurnResponse("unused")}})

	_, err := e.ProcessBatch(context.Background(), agentID, ownerID, ctxOptsFor())
	if !perrors.Is(err, perrors.ErrPermissionDenied) {
		t.Errorf("err = %v, want ErrPermissionDenied", err)
	}
}

func ctxOptsFor() ctxassembly.Options {
	return ctxassembly.Options{WindowSize: 10}
}
