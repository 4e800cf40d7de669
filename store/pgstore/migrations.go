package pgstore

import "github.com/youssefsiam38/pattern/store"

// Migrations returns the full, version-ordered set of schema migrations for
// the Pattern store. package schema's table definitions are not read here.
// Kept as plain embedded SQL (a familiar migration idiom — numbered
// files run through pool.Exec) rather than a migration-DSL library, since
// no pack repo wires one beyond this flavor of hand-written SQL.
func Migrations() []store.Migration {
	return []store.Migration{
		{Version: 1, Name: "extensions", Up: `
			CREATE EXTENSION IF NOT EXISTS pgcrypto;
			CREATE EXTENSION IF NOT EXISTS vector;
			CREATE EXTENSION IF NOT EXISTS pg_trgm;
		`},
		{Version: 2, Name: "entities", Up: `
			CREATE TABLE IF NOT EXISTS "user" (
				id UUID PRIMARY KEY,
				display_name TEXT NOT NULL,
				settings JSONB NOT NULL DEFAULT '{}',
				metadata JSONB NOT NULL DEFAULT '{}',
				created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
			);
			CREATE TABLE IF NOT EXISTS agent (
				id UUID PRIMARY KEY,
				type TEXT NOT NULL,
				name TEXT NOT NULL,
				system_prompt TEXT NOT NULL DEFAULT '',
				model TEXT NOT NULL,
				tool_permissions JSONB NOT NULL DEFAULT '[]',
				state TEXT NOT NULL DEFAULT 'ready',
				metadata JSONB NOT NULL DEFAULT '{}',
				active BOOLEAN NOT NULL DEFAULT true,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
			);
			CREATE TABLE IF NOT EXISTS mem (
				id UUID PRIMARY KEY,
				owner_id UUID NOT NULL,
				label TEXT NOT NULL,
				content TEXT NOT NULL DEFAULT '',
				description TEXT NOT NULL DEFAULT '',
				max_length INTEGER NOT NULL,
				memory_type TEXT NOT NULL,
				embedding vector(1024),
				embedding_model TEXT,
				agents JSONB NOT NULL DEFAULT '[]',
				metadata JSONB NOT NULL DEFAULT '{}',
				active BOOLEAN NOT NULL DEFAULT true,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
			);
			CREATE UNIQUE INDEX IF NOT EXISTS mem_owner_label_core_unique
				ON mem (owner_id, label) WHERE memory_type = 'core';
			CREATE INDEX IF NOT EXISTS mem_content_trgm ON mem USING gin (content gin_trgm_ops);
			CREATE INDEX IF NOT EXISTS mem_embedding_hnsw ON mem USING hnsw (embedding vector_cosine_ops);

			CREATE TABLE IF NOT EXISTS msg (
				id UUID PRIMARY KEY,
				agent_id UUID NOT NULL,
				role TEXT NOT NULL,
				content JSONB NOT NULL,
				position BIGINT NOT NULL,
				batch_id BIGINT NOT NULL,
				in_context BOOLEAN NOT NULL DEFAULT true,
				embedding vector(1024),
				created_at TIMESTAMPTZ NOT NULL DEFAULT now()
			);
			CREATE UNIQUE INDEX IF NOT EXISTS msg_agent_position ON msg (agent_id, position);
			CREATE INDEX IF NOT EXISTS msg_agent_batch ON msg (agent_id, batch_id);

			CREATE TABLE IF NOT EXISTS tool_call (
				id UUID PRIMARY KEY,
				agent_id UUID NOT NULL,
				batch_id BIGINT NOT NULL,
				tool_name TEXT NOT NULL,
				arguments JSONB NOT NULL,
				result JSONB,
				status TEXT NOT NULL DEFAULT 'pending',
				external_effect_ids JSONB NOT NULL DEFAULT '[]',
				created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
			);

			CREATE TABLE IF NOT EXISTS "group" (
				id UUID PRIMARY KEY,
				name TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				manager_config JSONB NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
			);

			CREATE TABLE IF NOT EXISTS data_source (
				id UUID PRIMARY KEY,
				kind TEXT NOT NULL,
				filter_spec JSONB NOT NULL DEFAULT '{}',
				cursor JSONB,
				stats JSONB NOT NULL DEFAULT '{}',
				template_name TEXT,
				target_agent_id UUID NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
			);

			CREATE TABLE IF NOT EXISTS system_metadata (
				id INTEGER PRIMARY KEY DEFAULT 1 CHECK (id = 1),
				embedding_model TEXT NOT NULL,
				embedding_dimensions INTEGER NOT NULL,
				schema_version INTEGER NOT NULL
			);
		`},
		{Version: 3, Name: "edges", Up: `
			CREATE TABLE IF NOT EXISTS edges (
				id BIGSERIAL PRIMARY KEY,
				from_table TEXT NOT NULL,
				from_id UUID NOT NULL,
				relation TEXT NOT NULL,
				to_table TEXT NOT NULL,
				to_id UUID NOT NULL,
				properties JSONB NOT NULL DEFAULT '{}',
				created_at TIMESTAMPTZ NOT NULL DEFAULT now()
			);
			CREATE UNIQUE INDEX IF NOT EXISTS edges_unique
				ON edges (from_table, from_id, relation, to_table, to_id);
			CREATE INDEX IF NOT EXISTS edges_from ON edges (from_table, from_id, relation);
			CREATE INDEX IF NOT EXISTS edges_to ON edges (to_table, to_id, relation);
		`},
		{Version: 4, Name: "leader_lease", Up: `
			CREATE TABLE IF NOT EXISTS leader_lease (
				lock_name TEXT PRIMARY KEY,
				leader_id TEXT NOT NULL,
				expires_at TIMESTAMPTZ NOT NULL
			);
		`},
		{Version: 5, Name: "notify_triggers", Up: `
			CREATE OR REPLACE FUNCTION pattern_notify() RETURNS trigger AS $$
			DECLARE
				payload JSONB;
				action TEXT;
				rec RECORD;
			BEGIN
				IF TG_OP = 'DELETE' THEN
					action := 'delete';
					rec := OLD;
				ELSIF TG_OP = 'UPDATE' THEN
					action := 'update';
					rec := NEW;
				ELSE
					action := 'create';
					rec := NEW;
				END IF;
				payload := jsonb_build_object('action', action, 'row', to_jsonb(rec));
				PERFORM pg_notify('pattern_' || TG_TABLE_NAME, payload::text);
				RETURN rec;
			END;
			$$ LANGUAGE plpgsql;

			DROP TRIGGER IF EXISTS agent_notify ON agent;
			CREATE TRIGGER agent_notify AFTER INSERT OR UPDATE OR DELETE ON agent
				FOR EACH ROW EXECUTE FUNCTION pattern_notify();

			DROP TRIGGER IF EXISTS msg_notify ON msg;
			CREATE TRIGGER msg_notify AFTER INSERT OR UPDATE OR DELETE ON msg
				FOR EACH ROW EXECUTE FUNCTION pattern_notify();

			DROP TRIGGER IF EXISTS mem_notify ON mem;
			CREATE TRIGGER mem_notify AFTER INSERT OR UPDATE OR DELETE ON mem
				FOR EACH ROW EXECUTE FUNCTION pattern_notify();
		`},
	}
}
