// Package csv writes items as CSV rows. It backs the dump command, which
// replays the export topic into a spreadsheet-friendly file.
package csv

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"strconv"
	"time"

	"github.com/JakeFAU/listcrawler/internal/codec"
	"github.com/JakeFAU/listcrawler/internal/crawler"
)

// Writer emits one row per item. The header is taken from the first item's
// field order; later items are laid out by that header.
type Writer struct {
	w      *csv.Writer
	header []string
}

// NewWriter wraps out.
func NewWriter(out io.Writer) *Writer {
	return &Writer{w: csv.NewWriter(out)}
}

// Write appends item as a row, writing the header first if needed.
func (w *Writer) Write(item *crawler.Item) error {
	record := item.Record()
	if w.header == nil {
		w.header = make([]string, len(record))
		for i, f := range record {
			w.header[i] = f.Name
		}
		if err := w.w.Write(w.header); err != nil {
			return fmt.Errorf("write csv header: %w", err)
		}
	}

	values := make(map[string]any, len(record))
	for _, f := range record {
		values[f.Name] = f.Value
	}
	row := make([]string, len(w.header))
	for i, name := range w.header {
		cell, err := formatValue(values[name])
		if err != nil {
			return fmt.Errorf("format %s: %w", name, err)
		}
		row[i] = cell
	}
	if err := w.w.Write(row); err != nil {
		return fmt.Errorf("write csv row: %w", err)
	}
	return nil
}

// Flush writes buffered rows to the underlying writer.
func (w *Writer) Flush() error {
	w.w.Flush()
	if err := w.w.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// Dump decodes every payload from values and writes it as a row. It returns
// the number of rows written.
func Dump(values iter.Seq2[[]byte, error], out io.Writer) (int, error) {
	w := NewWriter(out)
	n := 0
	for data, err := range values {
		if err != nil {
			return n, err
		}
		item, err := codec.Unmarshal(data)
		if err != nil {
			return n, fmt.Errorf("decode item %d: %w", n, err)
		}
		if err := w.Write(item); err != nil {
			return n, err
		}
		n++
	}
	return n, w.Flush()
}

func formatValue(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(t), nil
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano), nil
	case []string:
		data, err := json.Marshal(t)
		if err != nil {
			return "", err
		}
		return string(data), nil
	default:
		return "", fmt.Errorf("unsupported value type %T", v)
	}
}
