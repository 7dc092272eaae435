package tabular

import (
	"errors"
	"strings"
	"testing"
)

func TestParseCSVQuotedFields(t *testing.T) {
	// Quoted fields containing commas and newlines must not change the
	// field count.
	text := "title,viewCount,description\n" +
		"\"Hello, World\",100,\"line one\nline two\"\n" +
		"Plain,200,simple\n"

	table, err := Parse(text, KindCSV)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(table.Headers) != 3 {
		t.Fatalf("headers = %v, want 3 columns", table.Headers)
	}
	if table.RowCount() != 2 {
		t.Fatalf("rows = %d, want 2", table.RowCount())
	}
	for i, row := range table.Rows {
		if len(row) != len(table.Headers) {
			t.Errorf("row %d has %d fields, want %d", i, len(row), len(table.Headers))
		}
	}
	if got := table.Rows[0]["title"]; got != "Hello, World" {
		t.Errorf("quoted comma field = %q", got)
	}
	if got := Text(table.Rows[0]["description"]); !strings.Contains(got, "\n") {
		t.Errorf("quoted newline lost: %q", got)
	}
}

func TestParseCSVRaggedRowFails(t *testing.T) {
	_, err := Parse("a,b\n1,2,3\n", KindCSV)
	if !errors.Is(err, ErrNotTabular) {
		t.Errorf("err = %v, want ErrNotTabular", err)
	}
}

func TestParseJSONTopLevelArray(t *testing.T) {
	table, err := Parse(`[{"title":"a","views":1},{"title":"b","views":2,"extra":"x"}]`, KindJSON)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if table.RowCount() != 2 {
		t.Fatalf("rows = %d, want 2", table.RowCount())
	}
	// Headers must include every key present in any row.
	want := map[string]bool{"title": true, "views": true, "extra": true}
	if len(table.Headers) != len(want) {
		t.Fatalf("headers = %v", table.Headers)
	}
	for _, h := range table.Headers {
		if !want[h] {
			t.Errorf("unexpected header %q", h)
		}
	}
	if v, ok := Number(table.Rows[1]["views"]); !ok || v != 2 {
		t.Errorf("views = %v", table.Rows[1]["views"])
	}
}

func TestParseJSONSingleArrayProperty(t *testing.T) {
	table, err := Parse(`{"kind":"list","items":[{"id":"x"}]}`, KindJSON)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if table.RowCount() != 1 || table.Rows[0]["id"] != "x" {
		t.Errorf("unexpected table: %+v", table)
	}
}

func TestParseJSONRejectsAmbiguousShapes(t *testing.T) {
	cases := []string{
		`{"a":[1],"b":[]}`, // two array properties — wait, [1] elements must be objects anyway
		`{"a":"scalar"}`,   // no array property
		`42`,               // scalar top level
		`not json`,
	}
	for _, text := range cases {
		if _, err := Parse(text, KindJSON); !errors.Is(err, ErrNotTabular) {
			t.Errorf("Parse(%q) err = %v, want ErrNotTabular", text, err)
		}
	}
}

func TestEnrichAddsEngagement(t *testing.T) {
	table := &Table{
		Headers: []string{"title", "viewCount", "likeCount"},
		Rows: []Row{
			{"title": "a", "viewCount": "100", "likeCount": "10"},
			{"title": "b", "viewCount": "0", "likeCount": "5"},
		},
	}

	Enrich(table)

	if table.Headers[len(table.Headers)-1] != EngagementColumn {
		t.Fatalf("engagement column missing: %v", table.Headers)
	}
	if v, ok := Number(table.Rows[0][EngagementColumn]); !ok || v != 0.1 {
		t.Errorf("engagement = %v, want 0.1", table.Rows[0][EngagementColumn])
	}
	// views == 0 yields an absent (empty) value, not a division result.
	if _, ok := Number(table.Rows[1][EngagementColumn]); ok {
		t.Errorf("engagement for zero views should be absent, got %v", table.Rows[1][EngagementColumn])
	}
}

func TestEnrichIdempotent(t *testing.T) {
	table := &Table{
		Headers: []string{"title", "view_count", "like_count"},
		Rows:    []Row{{"title": "a", "view_count": "4", "like_count": "2"}},
	}

	Enrich(table)
	headersAfterFirst := len(table.Headers)
	Enrich(table)

	if len(table.Headers) != headersAfterFirst {
		t.Errorf("second Enrich added columns: %v", table.Headers)
	}
	count := 0
	for _, h := range table.Headers {
		if h == EngagementColumn {
			count++
		}
	}
	if count != 1 {
		t.Errorf("engagement column appears %d times", count)
	}
}

func TestEnrichWithoutRequiredColumns(t *testing.T) {
	table := &Table{
		Headers: []string{"title", "duration"},
		Rows:    []Row{{"title": "a", "duration": "10"}},
	}
	Enrich(table)
	for _, h := range table.Headers {
		if h == EngagementColumn {
			t.Errorf("engagement added without view/like columns")
		}
	}
}

func TestSummarizeClassifiesColumns(t *testing.T) {
	table := &Table{
		Headers: []string{"views", "category"},
		Rows: []Row{
			{"views": "10", "category": "music"},
			{"views": "20", "category": "music"},
			{"views": "30", "category": "gaming"},
			{"views": "40", "category": "news"},
			{"views": "50", "category": "music"},
		},
	}

	summary := Summarize(table)

	if !strings.Contains(summary, "views (numeric)") {
		t.Errorf("views not classified numeric:\n%s", summary)
	}
	if !strings.Contains(summary, "category (categorical)") {
		t.Errorf("category not classified categorical:\n%s", summary)
	}
	if !strings.Contains(summary, "music (3)") {
		t.Errorf("top value frequency missing:\n%s", summary)
	}
}

func TestSummarizeNumericThreshold(t *testing.T) {
	// 3 of 4 non-empty values numeric = 75% < 80% → categorical.
	table := &Table{
		Headers: []string{"mixed"},
		Rows: []Row{
			{"mixed": "1"}, {"mixed": "2"}, {"mixed": "3"}, {"mixed": "abc"},
		},
	}
	if s := Summarize(table); !strings.Contains(s, "mixed (categorical)") {
		t.Errorf("75%% numeric column should be categorical:\n%s", s)
	}
}

func TestSlimProjectionTruncates(t *testing.T) {
	rows := make([]Row, 2000)
	for i := range rows {
		rows[i] = Row{"title": strings.Repeat("x", 50), "viewCount": "12345"}
	}
	table := &Table{Headers: []string{"title", "viewCount"}, Rows: rows}

	out := SlimProjection(table)
	if len(out) > SlimBudget {
		t.Errorf("projection length %d exceeds budget %d", len(out), SlimBudget)
	}
	if !strings.HasPrefix(out, "title,viewCount") {
		t.Errorf("projection missing header: %q", out[:40])
	}
}

func TestSlimProjectionFallbackColumns(t *testing.T) {
	table := &Table{
		Headers: []string{"alpha", "beta"},
		Rows:    []Row{{"alpha": "1", "beta": "2"}},
	}
	out := SlimProjection(table)
	if !strings.HasPrefix(out, "alpha,beta") {
		t.Errorf("fallback projection = %q", out)
	}
}

func TestResolveColumn(t *testing.T) {
	headers := []string{"View Count", "likeCount", "publishedAt"}

	tests := []struct {
		name     string
		want     string
		wantOK   bool
	}{
		{"view_count", "View Count", true},
		{"VIEWCOUNT", "View Count", true},
		{"like-count", "likeCount", true},
		{"missing", "missing", false},
	}
	for _, tt := range tests {
		got, ok := ResolveColumn(headers, tt.name)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ResolveColumn(%q) = (%q, %v), want (%q, %v)", tt.name, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestNumberTreatsFailuresAsAbsent(t *testing.T) {
	for _, v := range []any{"", "abc", nil, " ", []string{"x"}} {
		if _, ok := Number(v); ok {
			t.Errorf("Number(%v) should be absent", v)
		}
	}
	if f, ok := Number("  3.5 "); !ok || f != 3.5 {
		t.Errorf("Number with whitespace = %v, %v", f, ok)
	}
}

func TestNewContext(t *testing.T) {
	ctx, err := NewContext("title,viewCount,likeCount\na,100,10\n", KindCSV)
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	if ctx.Summary == "" || ctx.SlimCSV == "" {
		t.Errorf("derived fields missing: %+v", ctx)
	}
	if _, ok := ResolveColumn(ctx.Table.Headers, EngagementColumn); !ok {
		t.Errorf("context table not enriched: %v", ctx.Table.Headers)
	}
}
