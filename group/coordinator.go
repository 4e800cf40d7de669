package group

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/youssefsiam38/pattern/ctxassembly"
	"github.com/youssefsiam38/pattern/engine"
	"github.com/youssefsiam38/pattern/id"
	"github.com/youssefsiam38/pattern/message"
	"github.com/youssefsiam38/pattern/perrors"
	"github.com/youssefsiam38/pattern/runstate"
	"github.com/youssefsiam38/pattern/store"
	"github.com/youssefsiam38/pattern/tool/builtin"
)

// Coordinator orchestrates group turns. A group turn is short-lived
// request/response work, not a long-lived role, so it takes the store's
// per-group lease directly (LeaderAttemptElect/LeaderResign, keyed
// "group:<id>") rather than running leadership.Elector's background
// re-election loop — that package exists for roles that live for a
// process's lifetime, not the seconds a turn takes.
type Coordinator struct {
	store      store.Store
	engine     *engine.Engine
	instanceID string
}

// New builds a Coordinator. instanceID identifies this process as a lock
// holder, the same role leadership.Elector's instanceID plays.
func New(s store.Store, eng *engine.Engine, instanceID string) *Coordinator {
	return &Coordinator{store: s, engine: eng, instanceID: instanceID}
}

// CreateGroup persists a new group row, its membership edges (each with a
// role, default "member"), and attaches sharedBlocks to every member via
// agent_memories with access_level="write" as the default.
func (c *Coordinator) CreateGroup(ctx context.Context, name, description string, members []id.AgentID, roles map[id.AgentID]string, cfg ManagerConfig, sharedBlocks []id.MemoryBlockID) (id.GroupID, error) {
	groupID := id.NewGroupID()
	now := time.Now().UTC()
	row := store.Row{
		"id":             groupID.String(),
		"name":           name,
		"description":    description,
		"manager_config": EncodeManagerConfig(cfg),
		"created_at":     now,
		"updated_at":     now,
	}
	if _, err := c.store.Create(ctx, "group", groupID.String(), row); err != nil {
		return id.GroupID{}, fmt.Errorf("group: create: %w", err)
	}

	for _, memberID := range members {
		role := roles[memberID]
		if role == "" {
			role = "member"
		}
		if _, err := c.store.Relate(ctx, "group", groupID.String(), "group_members", "agent", memberID.String(), store.Row{"role": role}); err != nil {
			return id.GroupID{}, fmt.Errorf("group: add member %s: %w", memberID, err)
		}
	}
	for _, blockID := range sharedBlocks {
		if _, err := c.store.Relate(ctx, "group", groupID.String(), "group_shared_blocks", "mem", blockID.String(), nil); err != nil {
			return id.GroupID{}, fmt.Errorf("group: attach shared block %s: %w", blockID, err)
		}
		for _, memberID := range members {
			if _, err := c.store.Relate(ctx, "agent", memberID.String(), "agent_memories", "mem", blockID.String(), store.Row{"access_level": "write"}); err != nil {
				return id.GroupID{}, fmt.Errorf("group: share block %s with %s: %w", blockID, memberID, err)
			}
		}
	}
	return groupID, nil
}

// TurnResult is the ordered outcome of one group turn.
type TurnResult struct {
	Replies       []*message.Message
	ToolCallCount int
}

// SendToGroup orchestrates one group turn: content is delivered to the
// group's entry point per its manager pattern, sub-agent turns run to
// completion, and every reply is returned ordered by first-message
// position. While one turn holds the group's lease, a concurrent turn on
// the same group fails with perrors.ErrConflict.
func (c *Coordinator) SendToGroup(ctx context.Context, groupID id.GroupID, ownerID id.UserID, content []message.ContentBlock) (*TurnResult, error) {
	lockName := "group:" + groupID.String()
	ok, err := c.store.LeaderAttemptElect(ctx, store.LeaderElectParams{LockName: lockName, LeaderID: c.instanceID, TTL: turnLockTTL})
	if err != nil {
		return nil, fmt.Errorf("group: acquire turn lock: %w", err)
	}
	if !ok {
		return nil, perrors.New("group.SendToGroup", fmt.Errorf("group %s: %w", groupID, perrors.ErrConflict))
	}
	defer func() { _ = c.store.LeaderResign(ctx, c.instanceID) }()

	row, ok, err := c.store.Select(ctx, "group", groupID.String())
	if err != nil {
		return nil, fmt.Errorf("group: load: %w", err)
	}
	if !ok {
		return nil, perrors.New("group.SendToGroup", fmt.Errorf("group %s: %w", groupID, perrors.ErrNotFound))
	}
	cfg := DecodeManagerConfig(asJSONObject(row["manager_config"]))
	if cfg == nil {
		return nil, perrors.New("group.SendToGroup", fmt.Errorf("group %s: unrecognized manager_config", groupID))
	}

	members, err := c.members(ctx, groupID)
	if err != nil {
		return nil, err
	}

	var result *TurnResult
	switch m := cfg.(type) {
	case RoundRobin:
		result, err = c.runRoundRobin(ctx, groupID, members, ownerID, content)
	case Supervisor:
		result, err = c.runSupervisor(ctx, m, ownerID, content)
	case Dynamic:
		result, err = c.runDynamic(ctx, m, ownerID, content)
	case Sleeptime:
		return nil, perrors.New("group.SendToGroup", fmt.Errorf("group %s: sleeptime groups have no request/response turn", groupID))
	default:
		return nil, perrors.New("group.SendToGroup", fmt.Errorf("group %s: unhandled manager kind", groupID))
	}
	if err != nil {
		return result, err
	}

	sort.Slice(result.Replies, func(i, j int) bool { return result.Replies[i].Position < result.Replies[j].Position })
	return result, nil
}

// WakeSleeptime runs one background processing cycle for every member of a
// Sleeptime-managed group ("each wake-up runs a single-agent
// processing cycle with a system-message prompt describing the trigger").
// Unlike SendToGroup, there is no caller-supplied content and no routing —
// package worker's scheduler is the only caller, one group at a time, so
// contention between groups due at once is resolved by the scheduler's own
// priority ordering rather than anything here.
func (c *Coordinator) WakeSleeptime(ctx context.Context, groupID id.GroupID, trigger string) (*TurnResult, error) {
	members, err := c.members(ctx, groupID)
	if err != nil {
		return nil, err
	}
	prompt := fmt.Sprintf("Sleeptime wake-up triggered by: %s", trigger)

	result := &TurnResult{}
	for _, m := range members {
		if !m.Active || m.State == runstate.Error || m.State == runstate.Suspended {
			continue
		}
		ownerEdges, err := c.store.RelatedFrom(ctx, "agent", m.AgentID.String(), "owns")
		if err != nil {
			return result, fmt.Errorf("group: resolve owner for %s: %w", m.AgentID, err)
		}
		var ownerID id.UserID
		if len(ownerEdges) > 0 {
			ownerID, _ = id.ParseUserID(asString(ownerEdges[0]["from_id"]))
		}
		replies, toolCalls, err := c.runMemberTurn(ctx, m.AgentID, ownerID, []message.ContentBlock{
			{Type: message.ContentTypeText, Text: prompt},
		}, nil)
		result.Replies = append(result.Replies, replies...)
		result.ToolCallCount += toolCalls
		if err != nil {
			return result, err
		}
	}
	sort.Slice(result.Replies, func(i, j int) bool { return result.Replies[i].Position < result.Replies[j].Position })
	return result, nil
}

type member struct {
	AgentID id.AgentID
	Active  bool
	State   runstate.State
}

func (c *Coordinator) members(ctx context.Context, groupID id.GroupID) ([]member, error) {
	edges, err := c.store.RelatedTo(ctx, "group", groupID.String(), "group_members")
	if err != nil {
		return nil, fmt.Errorf("group: load members: %w", err)
	}
	out := make([]member, 0, len(edges))
	for _, edge := range edges {
		agentID, err := id.ParseAgentID(asString(edge["to_id"]))
		if err != nil {
			continue
		}
		agentRow, ok, err := c.store.Select(ctx, "agent", agentID.String())
		if err != nil || !ok {
			continue
		}
		active, _ := agentRow["active"].(bool)
		out = append(out, member{AgentID: agentID, Active: active, State: runstate.State(asString(agentRow["state"]))})
	}
	return out, nil
}

// runRoundRobin picks the next eligible member (skipping inactive, Error
// and Suspended members, ties broken by lowest ring index) and runs its
// turn once.
func (c *Coordinator) runRoundRobin(ctx context.Context, groupID id.GroupID, members []member, ownerID id.UserID, content []message.ContentBlock) (*TurnResult, error) {
	row, _, err := c.store.Select(ctx, "group", groupID.String())
	if err != nil {
		return nil, fmt.Errorf("group: load cursor: %w", err)
	}
	cursor := asInt(row["_round_robin_cursor"])

	eligible := make([]member, 0, len(members))
	for _, m := range members {
		if m.Active && m.State != runstate.Error && m.State != runstate.Suspended {
			eligible = append(eligible, m)
		}
	}
	if len(eligible) == 0 {
		return nil, perrors.New("group.runRoundRobin", fmt.Errorf("no eligible members"))
	}
	next := eligible[cursor%len(eligible)]

	if _, err := c.store.UpdateMerge(ctx, "group", groupID.String(), store.Row{"_round_robin_cursor": cursor + 1}); err != nil {
		return nil, fmt.Errorf("group: persist cursor: %w", err)
	}

	replies, toolCalls, err := c.runMemberTurn(ctx, next.AgentID, ownerID, content, nil)
	return &TurnResult{Replies: replies, ToolCallCount: toolCalls}, err
}

// runSupervisor drives the supervisor's turn(s), synchronously following
// any send_message(target=agent) tool call it makes into that member's own
// turn so the member's reply can be captured in order, generalizing the
// the common agentToolWrapper "invoke and capture" primitive to an
// open-ended number of routed sub-agents instead of one fixed nested tool.
func (c *Coordinator) runSupervisor(ctx context.Context, cfg Supervisor, ownerID id.UserID, content []message.ContentBlock) (*TurnResult, error) {
	maxTurns := cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = 10
	}
	result := &TurnResult{}

	next := content
	target := cfg.ManagerID
	for turn := 0; turn < maxTurns; turn++ {
		replies, toolCalls, err := c.runMemberTurn(ctx, target, ownerID, next, nil)
		result.Replies = append(result.Replies, replies...)
		result.ToolCallCount += toolCalls
		if err != nil {
			return result, err
		}

		routed, ok := firstRoutedAgent(replies)
		if !ok {
			return result, nil
		}
		target = routed
		next = nil // the routed member's own inbound row (posted by send_message) is its context; nothing further to inject here.
	}
	return result, nil
}

// runDynamic is runSupervisor's twin for the Dynamic pattern: the manager
// agent picks routes via the same send_message(target=agent) mechanism,
// and a configured TerminationToken in the manager's reply text ends the
// turn early instead of relying on MaxTurns alone.
func (c *Coordinator) runDynamic(ctx context.Context, cfg Dynamic, ownerID id.UserID, content []message.ContentBlock) (*TurnResult, error) {
	maxTurns := cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = 10
	}
	result := &TurnResult{}

	next := content
	target := cfg.ManagerID
	for turn := 0; turn < maxTurns; turn++ {
		replies, toolCalls, err := c.runMemberTurn(ctx, target, ownerID, next, nil)
		result.Replies = append(result.Replies, replies...)
		result.ToolCallCount += toolCalls
		if err != nil {
			return result, err
		}

		if cfg.TerminationToken != "" && target == cfg.ManagerID {
			for _, r := range replies {
				if containsToken(r.Text(), cfg.TerminationToken) {
					return result, nil
				}
			}
		}

		routed, ok := firstRoutedAgent(replies)
		if !ok {
			return result, nil
		}
		target = routed
		next = nil
	}
	return result, nil
}

// runMemberTurn runs one engine.ProcessBatch for agentID, submitting
// content as an inbound message first when non-nil (a routed-to agent's
// inbound message was already posted by the routing send_message call, so
// content is nil for those hops), and counts tool_result blocks across the
// batch's produced messages as that turn's tool-call count.
func (c *Coordinator) runMemberTurn(ctx context.Context, agentID id.AgentID, ownerID id.UserID, content []message.ContentBlock, opts *ctxassembly.Options) ([]*message.Message, int, error) {
	if content != nil {
		if _, err := c.engine.SubmitMessage(ctx, agentID, content); err != nil {
			return nil, 0, fmt.Errorf("group: submit to %s: %w", agentID, err)
		}
	}

	o := ctxassembly.Options{}
	if opts != nil {
		o = *opts
	}
	result, err := c.engine.ProcessBatch(ctx, agentID, ownerID, o)
	if result == nil {
		return nil, 0, err
	}

	var replies []*message.Message
	toolCalls := 0
	for _, m := range result.Messages {
		if m.Role == message.RoleAssistant {
			replies = append(replies, m)
		}
		for _, b := range m.Content {
			if b.Type == message.ContentTypeToolResult {
				toolCalls++
			}
		}
	}
	return replies, toolCalls, err
}

// firstRoutedAgent scans replies for a send_message(target=agent) tool_use
// block and returns the first one found, the signal a Supervisor/Dynamic
// manager uses to hand the turn to a member.
func firstRoutedAgent(replies []*message.Message) (id.AgentID, bool) {
	for _, r := range replies {
		for _, call := range r.ToolCalls() {
			if call.Name != builtin.SendMessageToolName {
				continue
			}
			target, ok := builtin.ParseSendMessageAgentTarget(call.Input)
			if ok {
				return target, true
			}
		}
	}
	return id.AgentID{}, false
}

func containsToken(text, token string) bool {
	return token != "" && len(text) >= len(token) && indexOf(text, token) >= 0
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}

// asJSONObject normalizes a store-returned JSON column, which may come back
// as a decoded map, raw bytes, or a JSON-encoded string depending on the
// driver, into a plain map — the same shape engine.decodeMetadata handles
// for agent.metadata.
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
