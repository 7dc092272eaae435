// Package tabular parses CSV/JSON attachments into row tables and derives
// the dataset context (summary, slim projection) used to ground model turns.
//
// All transforms are pure: no network, no shared state. Parse failures are
// reported as ErrNotTabular, never as a panic — the caller decides whether
// to surface the attachment at all.
package tabular

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrNotTabular indicates the input could not be interpreted as tabular data.
var ErrNotTabular = errors.New("not parseable as tabular data")

// Kind identifies the attachment format.
type Kind string

const (
	KindCSV  Kind = "csv"
	KindJSON Kind = "json"
)

// Row maps a column name to a cell value. Values are either string or
// float64; missing cells are absent from the map.
type Row map[string]any

// Table is a parsed tabular attachment.
//
// Invariant: Headers contains every key present in any row, in first-seen
// order. Key set is stable for the lifetime of one loaded attachment.
type Table struct {
	Headers []string
	Rows    []Row
}

// RowCount returns the number of data rows.
func (t *Table) RowCount() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Parse parses text as the given kind.
//
// CSV parsing respects quoted fields containing commas and newlines. JSON
// parsing accepts either a top-level array or an object with exactly one
// array-valued property; anything else fails with ErrNotTabular.
func Parse(text string, kind Kind) (*Table, error) {
	switch kind {
	case KindCSV:
		return parseCSV(text)
	case KindJSON:
		return parseJSON(text)
	default:
		return nil, fmt.Errorf("%w: unsupported kind %q", ErrNotTabular, kind)
	}
}

func parseCSV(text string) (*Table, error) {
	r := csv.NewReader(strings.NewReader(text))
	// Field count per record must match the header row; encoding/csv
	// enforces this via FieldsPerRecord inferred from the first record.
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotTabular, err)
	}
	if len(records) < 1 || len(records[0]) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrNotTabular)
	}

	headers := make([]string, len(records[0]))
	for i, h := range records[0] {
		headers[i] = strings.TrimSpace(h)
	}

	rows := make([]Row, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := make(Row, len(headers))
		for i, h := range headers {
			row[h] = rec[i]
		}
		rows = append(rows, row)
	}

	return &Table{Headers: headers, Rows: rows}, nil
}

func parseJSON(text string) (*Table, error) {
	var top any
	if err := json.Unmarshal([]byte(text), &top); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotTabular, err)
	}

	var items []any
	switch v := top.(type) {
	case []any:
		items = v
	case map[string]any:
		// Accept an object with exactly one array-valued property.
		var arrays [][]any
		for _, val := range v {
			if arr, ok := val.([]any); ok {
				arrays = append(arrays, arr)
			}
		}
		if len(arrays) != 1 {
			return nil, fmt.Errorf("%w: expected exactly one array property, found %d", ErrNotTabular, len(arrays))
		}
		items = arrays[0]
	default:
		return nil, fmt.Errorf("%w: top-level value is neither array nor object", ErrNotTabular)
	}

	var headers []string
	seen := make(map[string]bool)
	rows := make([]Row, 0, len(items))

	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: array element is not an object", ErrNotTabular)
		}
		row := make(Row, len(obj))
		for k, val := range obj {
			row[k] = toCell(val)
			if !seen[k] {
				seen[k] = true
				headers = append(headers, k)
			}
		}
		rows = append(rows, row)
	}

	if len(headers) == 0 {
		return nil, fmt.Errorf("%w: no columns", ErrNotTabular)
	}

	return &Table{Headers: headers, Rows: rows}, nil
}

// toCell converts a decoded JSON value to a cell value (string or float64).
func toCell(v any) any {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return x
	case bool:
		return strconv.FormatBool(x)
	default:
		// Nested objects/arrays keep their JSON encoding as text.
		data, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(data)
	}
}

// Number extracts a numeric value from a cell.
// Returns false for empty, non-numeric, or NaN-producing values — numeric
// parse failures are treated as "absent", never as errors.
func Number(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// Text renders a cell value for display.
func Text(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}

// NormalizeKey lowercases a column name and strips everything but letters
// and digits, so "View Count", "view_count" and "viewCount" all compare
// equal.
func NormalizeKey(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		}
	}
	return b.String()
}

// ResolveColumn matches a requested column name against actual headers
// using NormalizeKey equality. Falls back to the literal name when no
// header matches; ok reports whether a real header was found.
func ResolveColumn(headers []string, name string) (resolved string, ok bool) {
	norm := NormalizeKey(name)
	for _, h := range headers {
		if NormalizeKey(h) == norm {
			return h, true
		}
	}
	return name, false
}

// FindColumn returns the first header whose normalized form satisfies the
// predicate.
func FindColumn(headers []string, match func(norm string) bool) (string, bool) {
	for _, h := range headers {
		if match(NormalizeKey(h)) {
			return h, true
		}
	}
	return "", false
}

// ViewColumn locates a view-count-like header.
func ViewColumn(headers []string) (string, bool) {
	return FindColumn(headers, func(n string) bool {
		return strings.Contains(n, "view")
	})
}

// LikeColumn locates a like/favorite-count-like header.
func LikeColumn(headers []string) (string, bool) {
	return FindColumn(headers, func(n string) bool {
		return strings.Contains(n, "like") || strings.Contains(n, "favorite") || strings.Contains(n, "favourite")
	})
}

// EngagementColumn is the derived column added by Enrich.
const EngagementColumn = "engagement"

// Enrich adds an engagement column (likes / views, nil when views == 0)
// when both a view-count-like and a like/favorite-count-like column exist.
// Idempotent: a second call is a no-op once the column is present.
func Enrich(t *Table) *Table {
	if t == nil {
		return nil
	}
	for _, h := range t.Headers {
		if h == EngagementColumn {
			return t
		}
	}

	viewCol, okV := ViewColumn(t.Headers)
	likeCol, okL := LikeColumn(t.Headers)
	if !okV || !okL {
		return t
	}

	for _, row := range t.Rows {
		views, vOK := Number(row[viewCol])
		likes, lOK := Number(row[likeCol])
		if vOK && lOK && views > 0 {
			row[EngagementColumn] = likes / views
		} else {
			row[EngagementColumn] = ""
		}
	}
	t.Headers = append(t.Headers, EngagementColumn)
	return t
}
