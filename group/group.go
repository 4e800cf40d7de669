// Package group implements group coordination: the manager patterns that
// route turns across a group's member agents (RoundRobin, Supervisor,
// Dynamic, Sleeptime). No single existing package owns this directly —
// the nearest precedent is single-agent plus nested-agents-as-tools — so
// the routing primitive here generalizes the AsToolFor/agentToolWrapper[TTx]
// "invoke another agent and capture its reply" pattern from a single
// hard-coded nesting to an open set of manager-selected routes, and the
// leadership.Elector Postgres-lease mechanism from "one leader per cluster"
// to "one in-flight turn per group".
package group

import (
	"time"

	"github.com/youssefsiam38/pattern/id"
)

// ManagerConfig is a closed sum type of the four coordination patterns,
// mirroring runstate.RecoveryStrategy's unexported-marker-method shape.
type ManagerConfig interface {
	managerConfig()
	Kind() string
}

// RoundRobin selects the next agent by ring order, skipping inactive,
// Error-state or Suspended members. Ties broken by lowest member index.
type RoundRobin struct{}

func (RoundRobin) managerConfig() {}
func (RoundRobin) Kind() string   { return "round_robin" }

// Supervisor routes every incoming message to ManagerID first; the
// supervisor may reply directly or call send_message(target=agent) to
// route to a member, which the Coordinator then drives synchronously to
// capture that member's reply. The group turn ends as soon as a turn's
// replies make no such routing call, so it ends after a routed member's
// reply unless that member routes again; the supervisor is not given the
// member's reply for a further turn. MaxTurns (10 when not positive) caps
// the number of turns run, the supervisor's and the members' together.
type Supervisor struct {
	ManagerID id.AgentID
	MaxTurns  int
}

func (Supervisor) managerConfig() {}
func (Supervisor) Kind() string   { return "supervisor" }

// Dynamic routes through a configured manager agent that picks the next
// member via send_message(target=agent) tool calls each turn; there is no
// separate route_to tool. The group turn ends when TerminationToken
// appears in the manager's reply text, when a turn's replies route to no
// member, or when MaxTurns is reached.
type Dynamic struct {
	ManagerID        id.AgentID
	TerminationToken string
	MaxTurns         int
}

func (Dynamic) managerConfig() {}
func (Dynamic) Kind() string   { return "dynamic" }

// Sleeptime is not a request/response pattern: Trigger describes when to
// wake (e.g. "idle:10m", "threshold:unread>5") and Priority breaks
// contention when more than one sleeptime group is due at once. Driven by
// package worker's scheduler, not SendToGroup.
type Sleeptime struct {
	Trigger  string
	Priority int
}

func (Sleeptime) managerConfig() {}
func (Sleeptime) Kind() string   { return "sleeptime" }

// EncodeManagerConfig turns a ManagerConfig into the JSON-able map the
// group table's manager_config column stores.
func EncodeManagerConfig(cfg ManagerConfig) map[string]any {
	switch c := cfg.(type) {
	case RoundRobin:
		return map[string]any{"kind": c.Kind()}
	case Supervisor:
		return map[string]any{"kind": c.Kind(), "manager_id": c.ManagerID.String(), "max_turns": c.MaxTurns}
	case Dynamic:
		return map[string]any{"kind": c.Kind(), "manager_id": c.ManagerID.String(), "termination_token": c.TerminationToken, "max_turns": c.MaxTurns}
	case Sleeptime:
		return map[string]any{"kind": c.Kind(), "trigger": c.Trigger, "priority": c.Priority}
	default:
		return nil
	}
}

// DecodeManagerConfig reconstructs a ManagerConfig from a stored
// manager_config document. Returns nil for an unrecognized or malformed
// kind rather than erroring, since a group row is useless without one but
// the caller is better placed to decide whether that's fatal.
func DecodeManagerConfig(doc map[string]any) ManagerConfig {
	kind, _ := doc["kind"].(string)
	switch kind {
	case "round_robin":
		return RoundRobin{}
	case "supervisor":
		managerID, err := id.ParseAgentID(asString(doc["manager_id"]))
		if err != nil {
			return nil
		}
		return Supervisor{ManagerID: managerID, MaxTurns: asInt(doc["max_turns"])}
	case "dynamic":
		managerID, err := id.ParseAgentID(asString(doc["manager_id"]))
		if err != nil {
			return nil
		}
		return Dynamic{ManagerID: managerID, TerminationToken: asString(doc["termination_token"]), MaxTurns: asInt(doc["max_turns"])}
	case "sleeptime":
		return Sleeptime{Trigger: asString(doc["trigger"]), Priority: asInt(doc["priority"])}
	default:
		return nil
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

// turnLockTTL bounds how long a group turn may hold its single-writer
// lock before another caller's LeaderAttemptElect can reclaim it from a
// crashed holder.
const turnLockTTL = 2 * time.Minute
