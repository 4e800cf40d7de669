package datasource

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"
)

// FileReaderSource answers the data_source built-in's ReadFile/IndexFile
// operations: a one-shot extraction of a document's text, with format
// detection by extension. Grounded on the broader corpus's
// native-document-parser idiom (plain text, PDF via ledongthuc/pdf, XLSX
// via xuri/excelize) generalized to the Source pull contract — Cursor is
// always the constant "read" since a single extraction has no notion of
// resuming partway through.
type FileReaderSource struct {
	path string

	pulled int64
}

// NewFileReaderSource creates a one-shot reader over path.
func NewFileReaderSource(path string) *FileReaderSource {
	return &FileReaderSource{path: path}
}

func (s *FileReaderSource) Kind() string { return "filereader" }

const readDoneCursor Cursor = "read"

// Pull extracts the file's text once; a second Pull after afterCursor ==
// "read" returns nothing, since the document doesn't change between
// reads.
func (s *FileReaderSource) Pull(ctx context.Context, limit int, afterCursor Cursor) ([]Item, error) {
	if afterCursor == readDoneCursor {
		return nil, nil
	}

	content, meta, err := extract(ctx, s.path)
	if err != nil {
		return nil, err
	}
	atomic.AddInt64(&s.pulled, 1)

	fields := map[string]string{"path": s.path, "content": content}
	for k, v := range meta {
		fields[k] = v
	}

	return []Item{{
		ID:     s.path,
		Cursor: readDoneCursor,
		Fields: fields,
	}}, nil
}

// Subscribe for a one-shot reader emits its single Pull result immediately
// and then closes; it never pushes further events.
func (s *FileReaderSource) Subscribe(ctx context.Context, afterCursor Cursor) (<-chan Event, func(), error) {
	out := make(chan Event, 1)
	if afterCursor != readDoneCursor {
		items, err := s.Pull(ctx, 1, afterCursor)
		if err != nil {
			close(out)
			return out, func() {}, err
		}
		if len(items) == 1 {
			out <- Event{Item: items[0], Cursor: items[0].Cursor, Timestamp: time.Now().UTC()}
		}
	}
	close(out)
	return out, func() {}, nil
}

func (s *FileReaderSource) Metadata(ctx context.Context) (Stats, error) {
	return Stats{
		Kind:        s.Kind(),
		ItemsPulled: atomic.LoadInt64(&s.pulled),
		LastCursor:  readDoneCursor,
		LastPullAt:  time.Now().UTC(),
	}, nil
}

// extract dispatches on file extension to pull plain text out of path.
func extract(ctx context.Context, path string) (string, map[string]string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return extractPDF(ctx, path)
	case ".xlsx":
		return extractExcel(ctx, path)
	default:
		return extractPlain(path)
	}
}

func extractPlain(path string) (string, map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("filereader: read %s: %w", path, err)
	}
	return string(data), map[string]string{"type": "text"}, nil
}

func extractPDF(ctx context.Context, path string) (string, map[string]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", nil, fmt.Errorf("filereader: stat %s: %w", path, err)
	}
	f, err := os.Open(path)
	if err != nil {
		return "", nil, fmt.Errorf("filereader: open %s: %w", path, err)
	}
	defer f.Close()

	reader, err := pdf.NewReader(f, info.Size())
	if err != nil {
		return "", nil, fmt.Errorf("filereader: parse pdf %s: %w", path, err)
	}

	var parts []string
	total := reader.NumPage()
	for pageNum := 1; pageNum <= total; pageNum++ {
		select {
		case <-ctx.Done():
			return strings.Join(parts, "\n\n"), map[string]string{"type": "pdf", "pages": fmt.Sprintf("%d", total)}, ctx.Err()
		default:
		}
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if strings.TrimSpace(text) != "" {
			parts = append(parts, text)
		}
	}

	return strings.Join(parts, "\n\n"), map[string]string{
		"type":  "pdf",
		"pages": fmt.Sprintf("%d", total),
	}, nil
}

func extractExcel(ctx context.Context, path string) (string, map[string]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("filereader: open xlsx %s: %w", path, err)
	}
	defer f.Close()

	var sb strings.Builder
	sheets := f.GetSheetList()
	for _, sheet := range sheets {
		select {
		case <-ctx.Done():
			return sb.String(), map[string]string{"type": "xlsx", "sheets": fmt.Sprintf("%d", len(sheets))}, ctx.Err()
		default:
		}

		rows, err := f.GetRows(sheet)
		if err != nil {
			continue
		}
		sb.WriteString("--- ")
		sb.WriteString(sheet)
		sb.WriteString(" ---\n")
		for _, row := range rows {
			sb.WriteString(strings.Join(row, "\t"))
			sb.WriteString("\n")
		}
	}

	return sb.String(), map[string]string{
		"type":   "xlsx",
		"sheets": fmt.Sprintf("%d", len(sheets)),
	}, nil
}
