package tool

import (
	"context"

	"github.com/youssefsiam38/pattern/datasource"
	"github.com/youssefsiam38/pattern/id"
	"github.com/youssefsiam38/pattern/memory"
	"github.com/youssefsiam38/pattern/store"
	"github.com/youssefsiam38/pattern/transport"
)

// Context keys for the agent handle attached to a tool call.
type contextKey string

const handleKey contextKey = "pattern_tool_handle"

// Handle is the cheap, cloneable per-call context every built-in (and
// custom) tool receives: who is calling, and what it can reach. Tools never
// hold a reference to the engine itself — only this handle, generalizing the
// common agentToolWrapper/RunContext pattern from a fixed run/session pair
// to an arbitrary agent plus its owning user and shared store/memory access.
type Handle struct {
	// AgentID is the agent on whose behalf the tool is running.
	AgentID id.AgentID

	// OwnerID is the user that owns AgentID, needed for user-scoped memory
	// writes (e.g. update_memory creating a new archival block).
	OwnerID id.UserID

	// Memory gives the tool access to the agent's core/recall/archival
	// blocks.
	Memory *memory.Manager

	// Store is the raw persistence layer, for tools (search, data_source)
	// that need direct vector/text search or graph traversal beyond what
	// Memory exposes.
	Store store.Store

	// Transport is the outbound delivery sink send_message uses for
	// target=user/target=data-sink. Nil if the agent has no transport
	// configured, in which case those targets fail rather than silently
	// dropping the message.
	Transport transport.Endpoint

	// DataSources backs the data_source built-in's ReadFile/IndexFile/
	// WatchFile/ListSources/GetBufferStats/Pull operations. Nil if the
	// caller never wired ingestion, in which case that tool fails rather
	// than silently no-opping.
	DataSources *datasource.Coordinator

	// Variables carries per-call extras a caller wants available to tools
	// (tenant tags, trace IDs) without widening Handle's fixed fields.
	Variables map[string]any
}

// WithHandle attaches h to ctx. Called by the engine (or tests) before
// invoking Tool.Execute.
func WithHandle(ctx context.Context, h Handle) context.Context {
	return context.WithValue(ctx, handleKey, h)
}

// HandleFromContext extracts the Handle attached by WithHandle. ok is false
// if ctx was never enriched.
func HandleFromContext(ctx context.Context) (Handle, bool) {
	h, ok := ctx.Value(handleKey).(Handle)
	return h, ok
}

// MustHandleFromContext extracts the Handle or panics if absent. Built-ins
// use this since the engine always attaches a Handle before invoking a tool;
// a missing Handle indicates a caller bug, not a recoverable runtime state.
func MustHandleFromContext(ctx context.Context) Handle {
	h, ok := HandleFromContext(ctx)
	if !ok {
		panic("pattern/tool: missing agent handle in context")
	}
	return h
}

// GetVariable extracts a single variable from the Handle attached to ctx.
// Returns the zero value and false if the context has no Handle or the
// variable is absent/wrongly typed.
func GetVariable[T any](ctx context.Context, key string) (T, bool) {
	h, ok := HandleFromContext(ctx)
	if !ok || h.Variables == nil {
		var zero T
		return zero, false
	}
	val, ok := h.Variables[key]
	if !ok {
		var zero T
		return zero, false
	}
	typed, ok := val.(T)
	if !ok {
		var zero T
		return zero, false
	}
	return typed, true
}

// GetVariableOr extracts a variable from ctx's Handle or returns def.
func GetVariableOr[T any](ctx context.Context, key string, def T) T {
	val, ok := GetVariable[T](ctx, key)
	if !ok {
		return def
	}
	return val
}
