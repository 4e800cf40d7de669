// Package id provides compile-time-distinct typed identifiers for every
// entity in the system. Each ID type wraps a UUID and carries its own table
// prefix so values of different entity types can never be confused, and so
// a value's serialized form ("prefix_uuid") is self-describing.
package id

import (
	"database/sql/driver"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ErrInvalid is returned by Parse functions when a string is not a
// well-formed, correctly-prefixed ID.
type ErrInvalid struct {
	Prefix string
	Value  string
	Reason string
}

func (e *ErrInvalid) Error() string {
	return fmt.Sprintf("id: invalid %s id %q: %s", e.Prefix, e.Value, e.Reason)
}

// newTyped generates a fresh UUID. Every concrete ID type's New<X>ID calls
// this and wraps the result; kept as one function so the random source is
// centralized.
func newTyped() uuid.UUID {
	return uuid.New()
}

// parseTyped validates and strips the expected prefix, returning the
// remaining UUID.
func parseTyped(prefix, s string) (uuid.UUID, error) {
	want := prefix + "_"
	if !strings.HasPrefix(s, want) {
		return uuid.Nil, &ErrInvalid{Prefix: prefix, Value: s, Reason: "missing or wrong prefix"}
	}
	u, err := uuid.Parse(strings.TrimPrefix(s, want))
	if err != nil {
		return uuid.Nil, &ErrInvalid{Prefix: prefix, Value: s, Reason: err.Error()}
	}
	return u, nil
}

// Record is the (table, key) form the store adapter uses to address a row
// directly, independent of which typed ID produced it.
type Record struct {
	Table string
	Key   string
}

// typed is implemented by every concrete ID type below; it lets generic
// helpers (store adapter glue, tool argument decoding) operate uniformly.
type typed interface {
	fmt.Stringer
	Table() string
}

var _ typed = AgentID{}

// --- Entity ID types -------------------------------------------------------

// UserID identifies a User.
type UserID struct{ uuid.UUID }

func NewUserID() UserID                       { return UserID{newTyped()} }
func ParseUserID(s string) (UserID, error)    { u, err := parseTyped("user", s); return UserID{u}, err }
func (i UserID) String() string               { return "user_" + i.UUID.String() }
func (i UserID) Table() string                { return "user" }
func (i UserID) Value() (driver.Value, error) { return i.String(), nil }
func (i *UserID) Scan(src any) error          { return scanInto(src, "user", &i.UUID) }
func (i UserID) AsRecord() Record             { return Record{Table: i.Table(), Key: i.UUID.String()} }

// AgentID identifies an Agent.
type AgentID struct{ uuid.UUID }

func NewAgentID() AgentID                      { return AgentID{newTyped()} }
func ParseAgentID(s string) (AgentID, error)   { u, err := parseTyped("agent", s); return AgentID{u}, err }
func (i AgentID) String() string               { return "agent_" + i.UUID.String() }
func (i AgentID) Table() string                { return "agent" }
func (i AgentID) Value() (driver.Value, error) { return i.String(), nil }
func (i *AgentID) Scan(src any) error          { return scanInto(src, "agent", &i.UUID) }
func (i AgentID) AsRecord() Record             { return Record{Table: i.Table(), Key: i.UUID.String()} }

// MemoryBlockID identifies a MemoryBlock.
type MemoryBlockID struct{ uuid.UUID }

func NewMemoryBlockID() MemoryBlockID { return MemoryBlockID{newTyped()} }
func ParseMemoryBlockID(s string) (MemoryBlockID, error) {
	u, err := parseTyped("mem", s)
	return MemoryBlockID{u}, err
}
func (i MemoryBlockID) String() string               { return "mem_" + i.UUID.String() }
func (i MemoryBlockID) Table() string                { return "mem" }
func (i MemoryBlockID) Value() (driver.Value, error) { return i.String(), nil }
func (i *MemoryBlockID) Scan(src any) error           { return scanInto(src, "mem", &i.UUID) }
func (i MemoryBlockID) AsRecord() Record              { return Record{Table: i.Table(), Key: i.UUID.String()} }

// MessageID identifies a Message.
type MessageID struct{ uuid.UUID }

func NewMessageID() MessageID { return MessageID{newTyped()} }
func ParseMessageID(s string) (MessageID, error) {
	u, err := parseTyped("msg", s)
	return MessageID{u}, err
}
func (i MessageID) String() string               { return "msg_" + i.UUID.String() }
func (i MessageID) Table() string                { return "msg" }
func (i MessageID) Value() (driver.Value, error) { return i.String(), nil }
func (i *MessageID) Scan(src any) error           { return scanInto(src, "msg", &i.UUID) }
func (i MessageID) AsRecord() Record              { return Record{Table: i.Table(), Key: i.UUID.String()} }

// ToolCallID identifies a ToolCall audit row.
type ToolCallID struct{ uuid.UUID }

func NewToolCallID() ToolCallID { return ToolCallID{newTyped()} }
func ParseToolCallID(s string) (ToolCallID, error) {
	u, err := parseTyped("tcall", s)
	return ToolCallID{u}, err
}
func (i ToolCallID) String() string               { return "tcall_" + i.UUID.String() }
func (i ToolCallID) Table() string                { return "tool_call" }
func (i ToolCallID) Value() (driver.Value, error) { return i.String(), nil }
func (i *ToolCallID) Scan(src any) error           { return scanInto(src, "tcall", &i.UUID) }
func (i ToolCallID) AsRecord() Record              { return Record{Table: i.Table(), Key: i.UUID.String()} }

// GroupID identifies a Group.
type GroupID struct{ uuid.UUID }

func NewGroupID() GroupID { return GroupID{newTyped()} }
func ParseGroupID(s string) (GroupID, error) {
	u, err := parseTyped("group", s)
	return GroupID{u}, err
}
func (i GroupID) String() string               { return "group_" + i.UUID.String() }
func (i GroupID) Table() string                { return "group" }
func (i GroupID) Value() (driver.Value, error) { return i.String(), nil }
func (i *GroupID) Scan(src any) error           { return scanInto(src, "group", &i.UUID) }
func (i GroupID) AsRecord() Record              { return Record{Table: i.Table(), Key: i.UUID.String()} }

// DataSourceID identifies a registered DataSource.
type DataSourceID struct{ uuid.UUID }

func NewDataSourceID() DataSourceID { return DataSourceID{newTyped()} }
func ParseDataSourceID(s string) (DataSourceID, error) {
	u, err := parseTyped("dsrc", s)
	return DataSourceID{u}, err
}
func (i DataSourceID) String() string               { return "dsrc_" + i.UUID.String() }
func (i DataSourceID) Table() string                { return "data_source" }
func (i DataSourceID) Value() (driver.Value, error) { return i.String(), nil }
func (i *DataSourceID) Scan(src any) error           { return scanInto(src, "dsrc", &i.UUID) }
func (i DataSourceID) AsRecord() Record              { return Record{Table: i.Table(), Key: i.UUID.String()} }

// ConstellationID identifies a cross-agent search aggregation group.
type ConstellationID struct{ uuid.UUID }

func NewConstellationID() ConstellationID { return ConstellationID{newTyped()} }
func ParseConstellationID(s string) (ConstellationID, error) {
	u, err := parseTyped("const", s)
	return ConstellationID{u}, err
}
func (i ConstellationID) String() string { return "const_" + i.UUID.String() }
func (i ConstellationID) Table() string  { return "constellation" }

// TaskID identifies a Task (domain extension, shares the entity framework).
type TaskID struct{ uuid.UUID }

func NewTaskID() TaskID { return TaskID{newTyped()} }
func ParseTaskID(s string) (TaskID, error) {
	u, err := parseTyped("task", s)
	return TaskID{u}, err
}
func (i TaskID) String() string { return "task_" + i.UUID.String() }
func (i TaskID) Table() string  { return "task" }

func scanInto(src any, prefix string, dst *uuid.UUID) error {
	var s string
	switch v := src.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return fmt.Errorf("id: cannot scan type %T into %s id", src, prefix)
	}
	u, err := parseTyped(prefix, s)
	if err != nil {
		return err
	}
	*dst = u
	return nil
}
