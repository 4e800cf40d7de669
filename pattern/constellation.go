package pattern

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/youssefsiam38/pattern/id"
	"github.com/youssefsiam38/pattern/memory"
	"github.com/youssefsiam38/pattern/perrors"
	"github.com/youssefsiam38/pattern/store"
)

// str reads a string-typed store.Row column, defaulting to "" for any
// other type (missing column, nil, or a driver-specific representation).
func str(v any) string {
	s, _ := v.(string)
	return s
}

// CreateConstellation registers a named collection of agents for
// cross-agent archival search (memory.Manager.ArchivalSearchConstellation)
// and export/import, recording one constellation_agents edge per member.
func (c *Client) CreateConstellation(ctx context.Context, name string, members []id.AgentID) (id.ConstellationID, error) {
	constellationID := id.NewConstellationID()
	now := time.Now().UTC()
	row := store.Row{
		"id":         constellationID.String(),
		"name":       name,
		"created_at": now,
	}
	if _, err := c.store.Create(ctx, "constellation", constellationID.String(), row); err != nil {
		return id.ConstellationID{}, perrors.New("pattern.CreateConstellation", err)
	}
	for _, agentID := range members {
		if _, err := c.store.Relate(ctx, "constellation", constellationID.String(), "constellation_agents", "agent", agentID.String(), nil); err != nil {
			return id.ConstellationID{}, perrors.New("pattern.CreateConstellation", fmt.Errorf("relate agent %s: %w", agentID, err))
		}
	}
	return constellationID, nil
}

// SearchConstellation delegates to memory.Manager.ArchivalSearchConstellation.
func (c *Client) SearchConstellation(ctx context.Context, constellationID id.ConstellationID, query string, k int) ([]*memory.Block, error) {
	return c.memory.ArchivalSearchConstellation(ctx, constellationID, query, k)
}

// archiveManifest is the top-level document in a constellation export
// archive's manifest.json, generalizing a JSON-based
// session-export shape (a single flat JSON document per exported entity)
// to a multi-entity bundle: one constellation, its member agents, and
// every memory block reachable from those members' owners.
type archiveManifest struct {
	ConstellationID string          `json:"constellation_id"`
	Name            string          `json:"name"`
	ExportedAt      time.Time       `json:"exported_at"`
	Agents          []agentManifest `json:"agents"`
	MemoryBlocks    []blockManifest `json:"memory_blocks"`
}

type agentManifest struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	Name         string `json:"name"`
	SystemPrompt string `json:"system_prompt"`
	Model        string `json:"model"`
	OwnerID      string `json:"owner_id"`
}

// blockManifest records a memory block's identity, content hash, and the
// manifest agent ids (archiveManifest.Agents[].ID) it is attached to; the
// block's full JSON lives at blocks/<sha256>.json in the archive, keyed by
// that hash so a core block shared by several agents is stored once.
type blockManifest struct {
	OwnerID  string   `json:"owner_id"`
	Label    string   `json:"label"`
	SHA256   string   `json:"sha256"`
	AgentIDs []string `json:"agent_ids"`
}

// ExportConstellation writes a gzip-compressed tar archive containing
// constellationID's member agents and every core memory block attached to
// those agents (the bounded, agent-scoped knowledge a constellation is
// meant to carry between stores — archival blocks stay owner-scoped and
// are reached instead via SearchConstellation): manifest.json (the index),
// blocks/<hash>.json (content-addressed block bodies, deduplicated by
// sha256 so a block shared by more than one member is stored once), and
// README.md (a generated human-readable summary).
func (c *Client) ExportConstellation(ctx context.Context, constellationID id.ConstellationID, w io.Writer) error {
	constellationRow, ok, err := c.store.Select(ctx, "constellation", constellationID.String())
	if err != nil {
		return perrors.New("pattern.ExportConstellation", err)
	}
	if !ok {
		return perrors.New("pattern.ExportConstellation", fmt.Errorf("%w: constellation %s", perrors.ErrNotFound, constellationID))
	}
	name, _ := constellationRow["name"].(string)

	memberEdges, err := c.store.RelatedTo(ctx, "constellation", constellationID.String(), "constellation_agents")
	if err != nil {
		return perrors.New("pattern.ExportConstellation", err)
	}

	manifest := archiveManifest{
		ConstellationID: constellationID.String(),
		Name:            name,
		ExportedAt:      time.Now().UTC(),
	}

	blockBodies := make(map[string][]byte) // sha256 -> JSON body
	blockIndex := make(map[string]int)     // sha256 -> index into manifest.MemoryBlocks

	for _, edge := range memberEdges {
		agentID, err := id.ParseAgentID(str(edge["to_id"]))
		if err != nil {
			continue
		}
		agentRow, ok, err := c.store.Select(ctx, "agent", agentID.String())
		if err != nil || !ok {
			continue
		}

		ownerID, err := c.ownerOf(ctx, agentID)
		if err != nil {
			return perrors.ForAgent("pattern.ExportConstellation", agentID, fmt.Errorf("resolve owner: %w", err))
		}

		manifest.Agents = append(manifest.Agents, agentManifest{
			ID:           agentID.String(),
			Type:         str(agentRow["type"]),
			Name:         str(agentRow["name"]),
			SystemPrompt: str(agentRow["system_prompt"]),
			Model:        str(agentRow["model"]),
			OwnerID:      ownerID.String(),
		})

		blocks, err := c.memory.CoreBlocksFor(ctx, agentID)
		if err != nil {
			return perrors.ForAgent("pattern.ExportConstellation", agentID, fmt.Errorf("list core blocks: %w", err))
		}
		for _, b := range blocks {
			body, err := json.Marshal(b)
			if err != nil {
				return perrors.New("pattern.ExportConstellation", err)
			}
			sum := sha256.Sum256(body)
			hash := hex.EncodeToString(sum[:])
			blockBodies[hash] = body

			if idx, ok := blockIndex[hash]; ok {
				manifest.MemoryBlocks[idx].AgentIDs = append(manifest.MemoryBlocks[idx].AgentIDs, agentID.String())
				continue
			}
			blockIndex[hash] = len(manifest.MemoryBlocks)
			manifest.MemoryBlocks = append(manifest.MemoryBlocks, blockManifest{
				OwnerID:  b.OwnerID.String(),
				Label:    b.Label,
				SHA256:   hash,
				AgentIDs: []string{agentID.String()},
			})
		}
	}

	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return perrors.New("pattern.ExportConstellation", err)
	}
	readme := renderConstellationReadme(manifest)

	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	if err := writeTarFile(tw, "manifest.json", manifestJSON); err != nil {
		return perrors.New("pattern.ExportConstellation", err)
	}
	if err := writeTarFile(tw, "README.md", []byte(readme)); err != nil {
		return perrors.New("pattern.ExportConstellation", err)
	}
	for hash, body := range blockBodies {
		if err := writeTarFile(tw, "blocks/"+hash+".json", body); err != nil {
			return perrors.New("pattern.ExportConstellation", err)
		}
	}

	if err := tw.Close(); err != nil {
		return perrors.New("pattern.ExportConstellation", err)
	}
	if err := gz.Close(); err != nil {
		return perrors.New("pattern.ExportConstellation", err)
	}
	return nil
}

func writeTarFile(tw *tar.Writer, name string, body []byte) error {
	if err := tw.WriteHeader(&tar.Header{Name: name, Size: int64(len(body)), Mode: 0o644}); err != nil {
		return err
	}
	_, err := tw.Write(body)
	return err
}

// renderConstellationReadme builds a Markdown summary of an export, then
// parses it with goldmark's AST (not its HTML renderer — the README stays
// Markdown) to pull out every heading for a table of contents prepended to
// the body, giving the archive a real use for goldmark beyond pass-through
// formatting.
func renderConstellationReadme(m archiveManifest) string {
	var body bytes.Buffer
	fmt.Fprintf(&body, "# Constellation export: %s\n\n", m.Name)
	fmt.Fprintf(&body, "Exported %s. %d agents, %d memory blocks.\n\n", m.ExportedAt.Format(time.RFC3339), len(m.Agents), len(m.MemoryBlocks))

	fmt.Fprintf(&body, "## Agents\n\n")
	for _, a := range m.Agents {
		fmt.Fprintf(&body, "- `%s` (%s) — %s, owner `%s`\n", a.Name, a.Type, a.Model, a.OwnerID)
	}

	fmt.Fprintf(&body, "\n## Memory blocks\n\n")
	for _, b := range m.MemoryBlocks {
		fmt.Fprintf(&body, "- `%s` owned by `%s`, attached to %d agent(s) — sha256 %s\n", b.Label, b.OwnerID, len(b.AgentIDs), b.SHA256[:12])
	}

	source := body.Bytes()
	doc := goldmark.New().Parser().Parse(text.NewReader(source))

	var toc bytes.Buffer
	toc.WriteString("## Contents\n\n")
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		h, ok := n.(*ast.Heading)
		if !ok || h.Level > 2 {
			return ast.WalkContinue, nil
		}
		if title := headingText(h, source); title != "" {
			fmt.Fprintf(&toc, "- %s\n", title)
		}
		return ast.WalkContinue, nil
	})

	return toc.String() + "\n" + body.String()
}

// headingText concatenates a heading's literal text segments, walking its
// inline children rather than relying on any single node's rendered form.
func headingText(h *ast.Heading, source []byte) string {
	var buf bytes.Buffer
	_ = ast.Walk(h, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if entering {
			if t, ok := n.(*ast.Text); ok {
				buf.Write(t.Segment.Value(source))
			}
		}
		return ast.WalkContinue, nil
	})
	return buf.String()
}

// ImportConstellation reads an archive produced by ExportConstellation,
// creating a new constellation row, one agent per manifest entry (owned by
// ownerOverride, since the original owner ids may not exist in the
// destination store), and restoring every memory block by its
// content-addressed body.
func (c *Client) ImportConstellation(ctx context.Context, r io.Reader, ownerOverride id.UserID) (id.ConstellationID, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return id.ConstellationID{}, perrors.New("pattern.ImportConstellation", err)
	}
	defer gz.Close()
	tr := tar.NewReader(gz)

	var manifest archiveManifest
	blockBodies := make(map[string][]byte)

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return id.ConstellationID{}, perrors.New("pattern.ImportConstellation", err)
		}
		body, err := io.ReadAll(tr)
		if err != nil {
			return id.ConstellationID{}, perrors.New("pattern.ImportConstellation", err)
		}
		switch {
		case hdr.Name == "manifest.json":
			if err := json.Unmarshal(body, &manifest); err != nil {
				return id.ConstellationID{}, perrors.New("pattern.ImportConstellation", fmt.Errorf("decode manifest: %w", err))
			}
		case strings.HasPrefix(hdr.Name, "blocks/"):
			blockBodies[hdr.Name] = body
		}
	}
	if manifest.ConstellationID == "" {
		return id.ConstellationID{}, perrors.New("pattern.ImportConstellation", fmt.Errorf("%w: archive missing manifest.json", perrors.ErrInvalidArguments))
	}

	var memberIDs []id.AgentID
	agentByOldID := make(map[string]id.AgentID)
	for _, a := range manifest.Agents {
		newID, err := c.CreateAgent(ctx, ownerOverride, a.Type, a.Name, a.SystemPrompt, a.Model)
		if err != nil {
			return id.ConstellationID{}, perrors.New("pattern.ImportConstellation", fmt.Errorf("recreate agent %s: %w", a.ID, err))
		}
		agentByOldID[a.ID] = newID
		memberIDs = append(memberIDs, newID)
	}

	hashToBody := make(map[string][]byte, len(blockBodies))
	for name, body := range blockBodies {
		hash := name[len("blocks/") : len(name)-len(".json")]
		hashToBody[hash] = body
	}

	// Every entry in manifest.MemoryBlocks is a core block — CoreBlocksFor
	// is the only source ExportConstellation reads from, so restoring
	// anything other than memory.Manager.CreateCore here would be dead code
	// with no producer.
	for _, meta := range manifest.MemoryBlocks {
		body, ok := hashToBody[meta.SHA256]
		if !ok {
			continue
		}
		var b memory.Block
		if err := json.Unmarshal(body, &b); err != nil {
			return id.ConstellationID{}, perrors.New("pattern.ImportConstellation", fmt.Errorf("decode block %s: %w", meta.Label, err))
		}

		restored, err := c.memory.CreateCore(ctx, ownerOverride, b.Label, b.Content, b.MaxLength)
		if err != nil {
			return id.ConstellationID{}, perrors.New("pattern.ImportConstellation", fmt.Errorf("restore core block %s: %w", b.Label, err))
		}
		for _, oldAgentID := range meta.AgentIDs {
			newAgentID, ok := agentByOldID[oldAgentID]
			if !ok {
				continue
			}
			if err := c.memory.AttachToAgent(ctx, restored.ID, newAgentID, "write"); err != nil {
				return id.ConstellationID{}, perrors.New("pattern.ImportConstellation", fmt.Errorf("attach block %s to agent %s: %w", b.Label, newAgentID, err))
			}
		}
	}

	return c.CreateConstellation(ctx, manifest.Name, memberIDs)
}
