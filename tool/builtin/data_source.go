package builtin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/youssefsiam38/pattern/datasource"
	"github.com/youssefsiam38/pattern/id"
	"github.com/youssefsiam38/pattern/tool"
)

// DataSourceOperation enumerates the data_source built-in's operations.
type DataSourceOperation string

const (
	DataSourceOpReadFile       DataSourceOperation = "read_file"
	DataSourceOpIndexFile      DataSourceOperation = "index_file"
	DataSourceOpWatchFile      DataSourceOperation = "watch_file"
	DataSourceOpListSources    DataSourceOperation = "list_sources"
	DataSourceOpGetBufferStats DataSourceOperation = "get_buffer_stats"
	DataSourceOpPull           DataSourceOperation = "pull"
)

// DataSourceTool is the data_source built-in: registers and drives
// ingestion sources through the caller's datasource.Coordinator.
type DataSourceTool struct{}

// NewDataSourceTool creates the data_source built-in.
func NewDataSourceTool() *DataSourceTool {
	return &DataSourceTool{}
}

func (t *DataSourceTool) Name() string { return "data_source" }

func (t *DataSourceTool) Description() string {
	return "Read, index, or watch an external file, or inspect/pull already-registered ingestion sources."
}

func (t *DataSourceTool) InputSchema() tool.ToolSchema {
	return tool.ToolSchema{
		Type: "object",
		Properties: map[string]tool.PropertyDef{
			"operation": {
				Type: "string",
				Description: "read_file/index_file extract a document once; watch_file registers a live " +
					"tail; list_sources/get_buffer_stats inspect registrations; pull forces an immediate fetch.",
				Enum: []string{
					string(DataSourceOpReadFile), string(DataSourceOpIndexFile), string(DataSourceOpWatchFile),
					string(DataSourceOpListSources), string(DataSourceOpGetBufferStats), string(DataSourceOpPull),
				},
			},
			"path": {
				Type:        "string",
				Description: "Filesystem path, for read_file/index_file/watch_file.",
			},
			"template": {
				Type:        "string",
				Description: "{{placeholder}}-style template applied to each item before forwarding. Defaults to {{content}}.",
			},
			"source_id": {
				Type:        "string",
				Description: "A previously-returned data source ID, for get_buffer_stats/pull.",
			},
			"limit": {
				Type:        "integer",
				Description: "Max items to fetch, for pull.",
			},
		},
		Required: []string{"operation"},
	}
}

type dataSourceInput struct {
	Operation DataSourceOperation `json:"operation"`
	Path      string              `json:"path"`
	Template  string              `json:"template"`
	SourceID  string              `json:"source_id"`
	Limit     int                 `json:"limit"`
}

func (t *DataSourceTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var params dataSourceInput
	if err := json.Unmarshal(input, &params); err != nil {
		return "", tool.ToolDiscard(fmt.Errorf("invalid input: %w", err))
	}

	h := tool.MustHandleFromContext(ctx)
	if h.DataSources == nil {
		return "", tool.ToolCancel(fmt.Errorf("data_source: no ingestion coordinator configured for this agent"))
	}

	template := params.Template
	if template == "" {
		template = "{{content}}"
	}

	switch params.Operation {
	case DataSourceOpReadFile, DataSourceOpIndexFile:
		if params.Path == "" {
			return "", tool.ToolDiscard(fmt.Errorf("data_source: %s requires path", params.Operation))
		}
		src := datasource.NewFileReaderSource(params.Path)
		dsID, err := h.DataSources.Register(ctx, string(src.Kind()), src, h.AgentID, string(params.Operation), template, 8, "")
		if err != nil {
			return "", fmt.Errorf("data_source: register reader: %w", err)
		}
		return fmt.Sprintf("registered %s as %s", params.Path, dsID), nil

	case DataSourceOpWatchFile:
		if params.Path == "" {
			return "", tool.ToolDiscard(fmt.Errorf("data_source: watch_file requires path"))
		}
		src, err := datasource.NewFileWatchSource(params.Path)
		if err != nil {
			return "", fmt.Errorf("data_source: start watch: %w", err)
		}
		dsID, err := h.DataSources.Register(ctx, src.Kind(), src, h.AgentID, "watch_file", template, 32, "")
		if err != nil {
			return "", fmt.Errorf("data_source: register watch: %w", err)
		}
		return fmt.Sprintf("watching %s as %s", params.Path, dsID), nil

	case DataSourceOpListSources:
		ids := h.DataSources.List()
		out := make([]string, 0, len(ids))
		for _, dsID := range ids {
			out = append(out, dsID.String())
		}
		body, err := json.Marshal(out)
		if err != nil {
			return "", fmt.Errorf("data_source: marshal list: %w", err)
		}
		return string(body), nil

	case DataSourceOpGetBufferStats:
		dsID, err := id.ParseDataSourceID(params.SourceID)
		if err != nil {
			return "", tool.ToolDiscard(fmt.Errorf("data_source: invalid source_id: %w", err))
		}
		stats, bufferLen, err := h.DataSources.Stats(ctx, dsID)
		if err != nil {
			return "", fmt.Errorf("data_source: stats: %w", err)
		}
		body, err := json.Marshal(map[string]any{
			"kind":         stats.Kind,
			"items_pulled": stats.ItemsPulled,
			"last_cursor":  string(stats.LastCursor),
			"last_pull_at": stats.LastPullAt,
			"buffer_len":   bufferLen,
		})
		if err != nil {
			return "", fmt.Errorf("data_source: marshal stats: %w", err)
		}
		return string(body), nil

	case DataSourceOpPull:
		dsID, err := id.ParseDataSourceID(params.SourceID)
		if err != nil {
			return "", tool.ToolDiscard(fmt.Errorf("data_source: invalid source_id: %w", err))
		}
		limit := params.Limit
		if limit <= 0 {
			limit = 10
		}
		items, err := h.DataSources.Pull(ctx, dsID, limit)
		if err != nil {
			return "", fmt.Errorf("data_source: pull: %w", err)
		}
		return fmt.Sprintf("pulled %d item(s) from %s", len(items), dsID), nil

	default:
		return "", tool.ToolDiscard(fmt.Errorf("unknown operation: %s", params.Operation))
	}
}
