package tabular

import (
	"encoding/csv"
	"strings"
)

// SlimBudget bounds the slim projection's size so it fits inside the model
// context window alongside history and the user prompt.
const SlimBudget = 15000

// preferredColumns are the high-value columns the slim projection keeps,
// matched by normalized name.
var preferredColumns = []string{
	"title", "name", "viewCount", "likeCount", "favoriteCount",
	"commentCount", "publishedAt", "date", "duration", "url",
	EngagementColumn,
}

// maxFallbackColumns caps the projection width when no preferred column
// matches the dataset.
const maxFallbackColumns = 6

// SlimProjection projects the table onto a fixed set of high-value columns,
// serializes it as CSV, and truncates the result to SlimBudget characters.
// Datasets with none of the preferred columns fall back to the first few
// headers so the model always sees something.
func SlimProjection(t *Table) string {
	if t == nil || len(t.Headers) == 0 {
		return ""
	}

	var cols []string
	for _, want := range preferredColumns {
		if h, ok := ResolveColumn(t.Headers, want); ok {
			cols = append(cols, h)
		}
	}
	if len(cols) == 0 {
		cols = t.Headers
		if len(cols) > maxFallbackColumns {
			cols = cols[:maxFallbackColumns]
		}
	}

	var b strings.Builder
	w := csv.NewWriter(&b)
	// Writes to a strings.Builder cannot fail; csv.Writer buffers errors
	// until Flush, checked below via Error().
	_ = w.Write(cols)
	for _, row := range t.Rows {
		record := make([]string, len(cols))
		for i, c := range cols {
			record[i] = Text(row[c])
		}
		_ = w.Write(record)
	}
	w.Flush()
	if w.Error() != nil {
		return ""
	}

	out := b.String()
	if len(out) > SlimBudget {
		out = out[:SlimBudget]
	}
	return out
}
