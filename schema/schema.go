// Package schema declares, per entity and edge table, field and index
// metadata describing the store's tables. No other package in the module
// reads it: the store/pgstore migrations are hand-written SQL and package
// tool builds its input schemas on its own.
package schema

// FieldType enumerates the flat set of types usable both as a SQL column
// type and as a JSON-schema property type: no unsigned ints, no nested
// enums, flat structures only.
type FieldType string

const (
	String  FieldType = "string"
	Integer FieldType = "integer"
	Float   FieldType = "float"
	Bool    FieldType = "boolean"
	Time    FieldType = "timestamp"
	JSON    FieldType = "json"
	Vector  FieldType = "vector"
	UUID    FieldType = "uuid"
)

// Field describes one column/property.
type Field struct {
	Name        string
	Type        FieldType
	Required    bool
	Description string
	// VectorDim is only meaningful when Type == Vector.
	VectorDim int
}

// IndexKind enumerates the index flavors the store adapter knows how to
// build: unique, btree, BM25-like full-text, trigram and HNSW vector.
type IndexKind string

const (
	IndexUnique IndexKind = "unique"
	IndexBTree  IndexKind = "btree"
	IndexFTS    IndexKind = "fts"   // ts_rank-backed BM25-like text index
	IndexTrgm   IndexKind = "trgm"  // pg_trgm fuzzy-match index
	IndexHNSW   IndexKind = "hnsw"  // vector similarity index
)

// Index describes one index on a table.
type Index struct {
	Name   string
	Fields []string
	Kind   IndexKind
}

// Definition is a declarative description of one entity or edge table.
type Definition struct {
	Table   string
	Fields  []Field
	Indexes []Index
	// IsEdge marks edge tables, which additionally carry FromTable/ToTable.
	IsEdge    bool
	FromTable string
	ToTable   string
}

// Registry holds all known table/edge definitions, keyed by table name.
type Registry struct {
	defs map[string]Definition
}

// NewRegistry builds the registry for every entity and edge table this
// module defines.
func NewRegistry() *Registry {
	r := &Registry{defs: make(map[string]Definition)}
	for _, d := range defaultDefinitions() {
		r.defs[d.Table] = d
	}
	return r
}

// Get returns the definition for a table, if known.
func (r *Registry) Get(table string) (Definition, bool) {
	d, ok := r.defs[table]
	return d, ok
}

// All returns every registered definition, entities first then edges, in a
// stable order suitable for sequential migration.
func (r *Registry) All() []Definition {
	out := make([]Definition, 0, len(r.defs))
	for _, d := range r.defs {
		if !d.IsEdge {
			out = append(out, d)
		}
	}
	for _, d := range r.defs {
		if d.IsEdge {
			out = append(out, d)
		}
	}
	return out
}

func defaultDefinitions() []Definition {
	return []Definition{
		{
			Table: "user",
			Fields: []Field{
				{Name: "id", Type: UUID, Required: true},
				{Name: "display_name", Type: String, Required: true},
				{Name: "settings", Type: JSON},
				{Name: "metadata", Type: JSON},
				{Name: "created_at", Type: Time, Required: true},
				{Name: "updated_at", Type: Time, Required: true},
			},
		},
		{
			Table: "agent",
			Fields: []Field{
				{Name: "id", Type: UUID, Required: true},
				{Name: "type", Type: String, Required: true, Description: "agent type tag, open enum"},
				{Name: "name", Type: String, Required: true},
				{Name: "system_prompt", Type: String},
				{Name: "model", Type: String, Required: true},
				{Name: "tool_permissions", Type: JSON},
				{Name: "state", Type: String, Required: true},
				{Name: "metadata", Type: JSON, Description: "engine bookkeeping: recovery_strategy, cooldown_until"},
				{Name: "active", Type: Bool, Required: true},
				{Name: "created_at", Type: Time, Required: true},
				{Name: "updated_at", Type: Time, Required: true},
			},
		},
		{
			Table: "mem",
			Fields: []Field{
				{Name: "id", Type: UUID, Required: true},
				{Name: "label", Type: String, Required: true},
				{Name: "content", Type: String},
				{Name: "description", Type: String},
				{Name: "max_length", Type: Integer, Required: true},
				{Name: "memory_type", Type: String, Required: true, Description: "core|recall|archival"},
				{Name: "embedding", Type: Vector, VectorDim: 1024},
				{Name: "embedding_model", Type: String},
				{Name: "metadata", Type: JSON},
				{Name: "active", Type: Bool, Required: true},
				{Name: "created_at", Type: Time, Required: true},
				{Name: "updated_at", Type: Time, Required: true},
			},
			Indexes: []Index{
				{Name: "mem_agent_label_unique", Fields: []string{"owner_id", "label"}, Kind: IndexUnique},
				{Name: "mem_content_fts", Fields: []string{"content"}, Kind: IndexFTS},
				{Name: "mem_content_trgm", Fields: []string{"content"}, Kind: IndexTrgm},
				{Name: "mem_embedding_hnsw", Fields: []string{"embedding"}, Kind: IndexHNSW},
			},
		},
		{
			Table: "msg",
			Fields: []Field{
				{Name: "id", Type: UUID, Required: true},
				{Name: "agent_id", Type: UUID, Required: true},
				{Name: "role", Type: String, Required: true},
				{Name: "content", Type: JSON, Required: true},
				{Name: "position", Type: Integer, Required: true},
				{Name: "batch_id", Type: Integer, Required: true},
				{Name: "in_context", Type: Bool, Required: true},
				{Name: "embedding", Type: Vector, VectorDim: 1024},
				{Name: "created_at", Type: Time, Required: true},
			},
			Indexes: []Index{
				{Name: "msg_agent_position", Fields: []string{"agent_id", "position"}, Kind: IndexBTree},
				{Name: "msg_content_fts", Fields: []string{"content"}, Kind: IndexFTS},
			},
		},
		{
			Table: "tool_call",
			Fields: []Field{
				{Name: "id", Type: UUID, Required: true},
				{Name: "agent_id", Type: UUID, Required: true},
				{Name: "tool_name", Type: String, Required: true},
				{Name: "arguments", Type: JSON, Required: true},
				{Name: "result", Type: JSON},
				{Name: "status", Type: String, Required: true, Description: "pending|success|failed"},
				{Name: "external_effect_ids", Type: JSON},
				{Name: "created_at", Type: Time, Required: true},
				{Name: "updated_at", Type: Time, Required: true},
			},
		},
		{
			Table: "group",
			Fields: []Field{
				{Name: "id", Type: UUID, Required: true},
				{Name: "name", Type: String, Required: true},
				{Name: "description", Type: String},
				{Name: "manager_config", Type: JSON, Required: true},
				{Name: "created_at", Type: Time, Required: true},
				{Name: "updated_at", Type: Time, Required: true},
			},
		},
		{
			Table: "data_source",
			Fields: []Field{
				{Name: "id", Type: UUID, Required: true},
				{Name: "kind", Type: String, Required: true},
				{Name: "filter_spec", Type: JSON},
				{Name: "cursor", Type: JSON},
				{Name: "stats", Type: JSON},
				{Name: "template_name", Type: String},
				{Name: "target_agent_id", Type: UUID, Required: true},
				{Name: "created_at", Type: Time, Required: true},
				{Name: "updated_at", Type: Time, Required: true},
			},
		},
		{
			Table: "worker_instance",
			Fields: []Field{
				{Name: "id", Type: String, Required: true, Description: "process-assigned instance identifier, not a typed entity ID"},
				{Name: "started_at", Type: Time, Required: true},
				{Name: "last_heartbeat_at", Type: Time, Required: true},
			},
		},
		{
			Table: "system_metadata",
			Fields: []Field{
				{Name: "id", Type: Integer, Required: true, Description: "singleton, always 1"},
				{Name: "embedding_model", Type: String, Required: true},
				{Name: "embedding_dimensions", Type: Integer, Required: true},
				{Name: "schema_version", Type: Integer, Required: true},
			},
		},
		{
			// Named collection of agents sharing archival search via the
			// constellation_agents edge.
			Table: "constellation",
			Fields: []Field{
				{Name: "id", Type: UUID, Required: true},
				{Name: "name", Type: String, Required: true},
				{Name: "created_at", Type: Time, Required: true},
			},
		},
		// Edge tables
		{Table: "owns", IsEdge: true, FromTable: "user", ToTable: "agent"},
		{Table: "remembers", IsEdge: true, FromTable: "user", ToTable: "mem"},
		{
			Table: "agent_memories", IsEdge: true, FromTable: "agent", ToTable: "mem",
			Fields: []Field{{Name: "access_level", Type: String, Required: true, Description: "read|write|admin"}},
		},
		{
			Table: "agent_messages", IsEdge: true, FromTable: "agent", ToTable: "msg",
			Fields: []Field{{Name: "position", Type: Integer, Required: true}},
		},
		{Table: "tool_calls", IsEdge: true, FromTable: "agent", ToTable: "tool_call"},
		{
			Table: "group_members", IsEdge: true, FromTable: "group", ToTable: "agent",
			Fields: []Field{{Name: "role", Type: String, Required: true}},
		},
		{Table: "group_shared_blocks", IsEdge: true, FromTable: "group", ToTable: "mem"},
		{Table: "subtask_of", IsEdge: true, FromTable: "task", ToTable: "task"},
		{Table: "constellation_agents", IsEdge: true, FromTable: "constellation", ToTable: "agent"},
	}
}
