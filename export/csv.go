// Package export renders batches as CSV documents with deterministic
// column ordering.
package export

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shelfgrab/shelfgrab/models"
)

// Columns returns the header for a batch: the well-known fields first,
// then every other field name encountered anywhere in the batch, in
// first-seen order, deduplicated.
func Columns(batch models.Batch) []string {
	columns := make([]string, 0, len(models.WellKnownFields)+8)
	seen := make(map[string]struct{}, len(models.WellKnownFields)+8)
	for _, name := range models.WellKnownFields {
		columns = append(columns, name)
		seen[name] = struct{}{}
	}
	for _, rec := range batch {
		if rec == nil {
			continue
		}
		for _, extra := range rec.Extras {
			if _, dup := seen[extra.Key]; dup {
				continue
			}
			seen[extra.Key] = struct{}{}
			columns = append(columns, extra.Key)
		}
	}
	return columns
}

// Render serializes a batch. Every cell is quoted with embedded quotes
// doubled, so rendering the same batch twice is byte-identical.
func Render(batch models.Batch) []byte {
	columns := Columns(batch)

	var out strings.Builder
	writeRow(&out, columns, func(col string) any { return col })
	for _, rec := range batch {
		if rec == nil {
			continue
		}
		out.WriteByte('\n')
		writeRow(&out, columns, rec.Value)
	}
	return []byte(out.String())
}

func writeRow(out *strings.Builder, columns []string, value func(string) any) {
	for i, col := range columns {
		if i > 0 {
			out.WriteByte(',')
		}
		out.WriteString(encodeCell(value(col)))
	}
}

// encodeCell renders one value: sequences join with "; ", mappings
// serialize as JSON (key-sorted, so deterministic), everything missing
// becomes an empty quoted string.
func encodeCell(value any) string {
	var text string
	switch v := value.(type) {
	case nil:
		text = ""
	case string:
		text = v
	case []string:
		text = strings.Join(v, "; ")
	case map[string]string:
		if encoded, err := json.Marshal(v); err == nil {
			text = string(encoded)
		}
	default:
		text = fmt.Sprint(v)
	}
	return `"` + strings.ReplaceAll(text, `"`, `""`) + `"`
}

// Filename names a CSV download for a stored batch; an empty timestamp
// refers to the legacy in-memory batch.
func Filename(prefix, timestamp string) string {
	if timestamp == "" {
		timestamp = "legacy"
	}
	return fmt.Sprintf("%s_%s.csv", prefix, timestamp)
}
