// Package datasource implements the pull/subscribe ingestion abstraction
// of pluggable external sources, a per-source ring buffer,
// cursor persistence, and template-driven forwarding into an agent's
// message log. Grounded on the worker-poller idiom
// (batch_poller.go's claim-and-process loop, generalized from polling the
// store for queued work to polling arbitrary Source implementations).
package datasource

import (
	"context"
	"time"
)

// Cursor is an opaque, source-defined monotonic position (time, sequence
// number, or byte offset) marking how far a source has been consumed.
type Cursor string

// Item is one unit a Source yields: a parsed fragment (file chunk, message,
// row) plus the cursor value that would resume just after it.
type Item struct {
	ID     string
	Cursor Cursor
	Fields map[string]string // rendered into the prompt template by key
}

// Event pairs an Item with its arrival timestamp, for Subscribe's push
// path.
type Event struct {
	Item      Item
	Cursor    Cursor
	Timestamp time.Time
}

// Stats describes a source's current shape, returned by Metadata and
// surfaced by the data_source built-in's GetBufferStats operation.
type Stats struct {
	Kind        string
	ItemsPulled int64
	LastCursor  Cursor
	LastPullAt  time.Time
}

// Source is the type-erased interface every concrete ingestion source
// implements, so Coordinator can manage any of them uniformly, erased
// through a common wrapper.
type Source interface {
	// Kind identifies the source's type tag (e.g. "filereader", "filewatch").
	Kind() string

	// Pull fetches up to limit items after afterCursor, in cursor order.
	Pull(ctx context.Context, limit int, afterCursor Cursor) ([]Item, error)

	// Subscribe pushes items as they arrive, starting after afterCursor.
	// The returned channel is closed, and the cleanup func must be called,
	// when the caller is done. Sources with no native push support (plain
	// file reads) may return a channel fed by periodic Pull calls.
	Subscribe(ctx context.Context, afterCursor Cursor) (<-chan Event, func(), error)

	// Metadata reports the source's current stats.
	Metadata(ctx context.Context) (Stats, error)
}
