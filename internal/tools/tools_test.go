package tools

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/datachat-io/datachat/internal/log"
	"github.com/datachat-io/datachat/internal/tabular"
)

func newTestRegistry(t *testing.T, images ImageGenerator) *Registry {
	t.Helper()
	r, err := NewRegistry(images, log.NewNop())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return r
}

func videoTable() *tabular.Table {
	return &tabular.Table{
		Headers: []string{"title", "url", "viewCount", "likeCount"},
		Rows: []tabular.Row{
			{"title": "Intro to Go", "url": "https://v/1", "viewCount": "100", "likeCount": "9"},
			{"title": "Advanced Go", "url": "https://v/2", "viewCount": "300", "likeCount": "30"},
			{"title": "Go Concurrency", "url": "https://v/3", "viewCount": "200", "likeCount": "40"},
		},
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	r := newTestRegistry(t, nil)
	res := r.Execute(context.Background(), "no_such_tool", nil, Exec{})
	if res.ErrorMessage() != "Unknown tool: no_such_tool" {
		t.Errorf("error = %q", res.ErrorMessage())
	}
}

func TestExecuteValidatesArgs(t *testing.T) {
	r := newTestRegistry(t, nil)
	// Required "column" missing.
	res := r.Execute(context.Background(), NameColumnStats, map[string]any{}, Exec{Table: videoTable()})
	if !res.IsError() || !strings.Contains(res.ErrorMessage(), "Invalid arguments") {
		t.Errorf("expected validation error, got %v", res)
	}
}

func TestComputeColumnStats(t *testing.T) {
	table := &tabular.Table{
		Headers: []string{"v"},
		Rows: []tabular.Row{
			{"v": "1"}, {"v": "2"}, {"v": "3"}, {"v": "4"},
		},
	}
	r := newTestRegistry(t, nil)
	res := r.Execute(context.Background(), NameColumnStats,
		map[string]any{"column": "v"}, Exec{Table: table})

	if res.IsError() {
		t.Fatalf("unexpected error: %v", res.ErrorMessage())
	}
	checks := map[string]float64{
		"mean": 2.5, "median": 2.5, "std": 1.1180, "min": 1, "max": 4,
	}
	for k, want := range checks {
		if got := res[k].(float64); got != want {
			t.Errorf("%s = %v, want %v", k, got, want)
		}
	}
	if res["count"].(int) != 4 {
		t.Errorf("count = %v, want 4", res["count"])
	}
}

func TestComputeStatsJSONAlias(t *testing.T) {
	r := newTestRegistry(t, nil)
	res := r.Execute(context.Background(), NameStatsJSON,
		map[string]any{"column": "viewCount"}, Exec{Table: videoTable()})
	if res.IsError() {
		t.Fatalf("alias failed: %v", res.ErrorMessage())
	}
	if res["mean"].(float64) != 200 {
		t.Errorf("mean = %v, want 200", res["mean"])
	}
}

func TestStatsDropsNonNumericSilently(t *testing.T) {
	table := &tabular.Table{
		Headers: []string{"v"},
		Rows:    []tabular.Row{{"v": "10"}, {"v": "n/a"}, {"v": "20"}},
	}
	r := newTestRegistry(t, nil)
	res := r.Execute(context.Background(), NameColumnStats,
		map[string]any{"column": "v"}, Exec{Table: table})
	if res["count"].(int) != 2 {
		t.Errorf("count = %v, want 2 (non-numeric dropped)", res["count"])
	}
}

func TestStatsNoNumericDataNamesColumns(t *testing.T) {
	table := &tabular.Table{
		Headers: []string{"title", "genre"},
		Rows:    []tabular.Row{{"title": "a", "genre": "x"}},
	}
	r := newTestRegistry(t, nil)
	res := r.Execute(context.Background(), NameColumnStats,
		map[string]any{"column": "genre"}, Exec{Table: table})
	if !res.IsError() {
		t.Fatal("expected error result")
	}
	if !strings.Contains(res.ErrorMessage(), "title, genre") {
		t.Errorf("error should name available columns: %q", res.ErrorMessage())
	}
}

func TestStatsColumnResolution(t *testing.T) {
	table := &tabular.Table{
		Headers: []string{"View Count"},
		Rows:    []tabular.Row{{"View Count": "10"}, {"View Count": "20"}},
	}
	r := newTestRegistry(t, nil)
	res := r.Execute(context.Background(), NameColumnStats,
		map[string]any{"column": "view_count"}, Exec{Table: table})
	if res.IsError() {
		t.Fatalf("resolution failed: %v", res.ErrorMessage())
	}
	if res["column"] != "View Count" {
		t.Errorf("resolved column = %v", res["column"])
	}
}

func TestGetValueCounts(t *testing.T) {
	table := &tabular.Table{
		Headers: []string{"genre"},
		Rows: []tabular.Row{
			{"genre": "music"}, {"genre": "music"}, {"genre": "news"},
			{"genre": "music"}, {"genre": "gaming"}, {"genre": "news"},
		},
	}
	r := newTestRegistry(t, nil)
	res := r.Execute(context.Background(), NameValueCounts,
		map[string]any{"column": "genre", "n": float64(2)}, Exec{Table: table})

	if res.IsError() {
		t.Fatalf("unexpected error: %v", res.ErrorMessage())
	}
	counts := res["counts"].([]map[string]any)
	if len(counts) != 2 {
		t.Fatalf("len(counts) = %d, want 2", len(counts))
	}
	if counts[0]["value"] != "music" || counts[0]["count"] != 3 {
		t.Errorf("top value = %v", counts[0])
	}
	if res["totalRows"] != 6 {
		t.Errorf("totalRows = %v", res["totalRows"])
	}
}

func TestGetTopItemsDescending(t *testing.T) {
	table := &tabular.Table{
		Headers: []string{"title", "metric"},
		Rows: []tabular.Row{
			{"title": "a", "metric": "10"},
			{"title": "b", "metric": "5"},
			{"title": "c", "metric": "20"},
		},
	}
	r := newTestRegistry(t, nil)
	res := r.Execute(context.Background(), NameTopItems,
		map[string]any{"column": "metric", "n": float64(2)}, Exec{Table: table})

	items := res["items"].([]map[string]any)
	if len(items) != 2 {
		t.Fatalf("len(items) = %d, want 2", len(items))
	}
	if items[0]["metric"] != 20.0 || items[1]["metric"] != 10.0 {
		t.Errorf("order = [%v, %v], want [20, 10]", items[0]["metric"], items[1]["metric"])
	}
	if items[0]["display"] != "c" {
		t.Errorf("display = %v, want c", items[0]["display"])
	}
}

func TestGetTopItemsStableTies(t *testing.T) {
	table := &tabular.Table{
		Headers: []string{"title", "m"},
		Rows: []tabular.Row{
			{"title": "first", "m": "7"},
			{"title": "second", "m": "7"},
			{"title": "third", "m": "7"},
		},
	}
	r := newTestRegistry(t, nil)
	res := r.Execute(context.Background(), NameTopItems,
		map[string]any{"column": "m"}, Exec{Table: table})

	items := res["items"].([]map[string]any)
	want := []string{"first", "second", "third"}
	for i, w := range want {
		if items[i]["display"] != w {
			t.Errorf("items[%d] = %v, want %v (ties must keep row order)", i, items[i]["display"], w)
		}
	}
}

func TestGetTopItemsAscending(t *testing.T) {
	r := newTestRegistry(t, nil)
	res := r.Execute(context.Background(), NameTopItems,
		map[string]any{"column": "viewCount", "ascending": true, "n": float64(1)},
		Exec{Table: videoTable()})
	items := res["items"].([]map[string]any)
	if items[0]["viewCount"] != 100.0 {
		t.Errorf("ascending top = %v, want 100", items[0]["viewCount"])
	}
}

func TestPlotMetricVsTime(t *testing.T) {
	table := &tabular.Table{
		Headers: []string{"publishedAt", "views"},
		Rows: []tabular.Row{
			{"publishedAt": "2024-03-01", "views": "30"},
			{"publishedAt": "2024-01-01", "views": "10"},
			{"publishedAt": "not a date", "views": "99"},
			{"publishedAt": "2024-02-01", "views": ""},
			{"publishedAt": "2024-02-15", "views": "20"},
		},
	}
	r := newTestRegistry(t, nil)
	res := r.Execute(context.Background(), NamePlotOverTime,
		map[string]any{"metric": "views"}, Exec{Table: table})

	if res.IsError() {
		t.Fatalf("unexpected error: %v", res.ErrorMessage())
	}
	if res[ChartTypeKey] != ChartTimeSeries {
		t.Errorf("chart tag = %v", res[ChartTypeKey])
	}
	y := res["y"].([]float64)
	// Rows missing a date or metric are dropped; remainder sorted by date.
	if len(y) != 3 || y[0] != 10 || y[1] != 20 || y[2] != 30 {
		t.Errorf("y = %v, want [10 20 30]", y)
	}
	// Metric also rides under its own key.
	if _, ok := res["views"]; !ok {
		t.Errorf("metric key missing from payload")
	}
}

func TestPlotNoValidPoints(t *testing.T) {
	table := &tabular.Table{
		Headers: []string{"date", "v"},
		Rows:    []tabular.Row{{"date": "junk", "v": "1"}},
	}
	r := newTestRegistry(t, nil)
	res := r.Execute(context.Background(), NamePlotOverTime,
		map[string]any{"metric": "v"}, Exec{Table: table})
	if !res.IsError() {
		t.Errorf("expected error for zero valid points, got %v", res)
	}
}

func TestPlayVideoMostViewed(t *testing.T) {
	r := newTestRegistry(t, nil)
	for _, q := range []string{"most viewed", "most popular"} {
		res := r.Execute(context.Background(), NamePlayVideo,
			map[string]any{"query": q}, Exec{Table: videoTable()})
		if res[PlayVideoKey] != true || res["title"] != "Advanced Go" {
			t.Errorf("query %q → %v, want Advanced Go", q, res)
		}
	}
}

func TestPlayVideoQueries(t *testing.T) {
	r := newTestRegistry(t, nil)
	tests := []struct {
		query string
		title string
	}{
		{"first", "Intro to Go"},
		{"last", "Go Concurrency"},
		{"most liked", "Go Concurrency"},
		{"CONCURRENCY", "Go Concurrency"}, // case-insensitive substring
	}
	for _, tt := range tests {
		res := r.Execute(context.Background(), NamePlayVideo,
			map[string]any{"query": tt.query}, Exec{Table: videoTable()})
		if res["title"] != tt.title {
			t.Errorf("query %q → %v, want %q", tt.query, res["title"], tt.title)
		}
	}
}

func TestPlayVideoNoMatchSamplesTitles(t *testing.T) {
	r := newTestRegistry(t, nil)
	res := r.Execute(context.Background(), NamePlayVideo,
		map[string]any{"query": "zzz"}, Exec{Table: videoTable()})
	if !res.IsError() {
		t.Fatal("expected error result")
	}
	if !strings.Contains(res.ErrorMessage(), "Intro to Go") {
		t.Errorf("error should include sample titles: %q", res.ErrorMessage())
	}
}

func TestPlayVideoRequiresExactColumns(t *testing.T) {
	table := &tabular.Table{
		Headers: []string{"videoTitle", "link"},
		Rows:    []tabular.Row{{"videoTitle": "a", "link": "x"}},
	}
	r := newTestRegistry(t, nil)
	res := r.Execute(context.Background(), NamePlayVideo,
		map[string]any{"query": "first"}, Exec{Table: table})
	if !res.IsError() {
		t.Errorf("fuzzy column names must not satisfy play_video: %v", res)
	}
}

func TestPlayVideoMissingURL(t *testing.T) {
	table := videoTable()
	table.Rows[0]["url"] = ""
	r := newTestRegistry(t, nil)
	res := r.Execute(context.Background(), NamePlayVideo,
		map[string]any{"query": "first"}, Exec{Table: table})
	if !res.IsError() {
		t.Errorf("expected error for missing URL, got %v", res)
	}
}

type fakeImageGen struct {
	lastPrompt string
	lastAnchor *ImageRef
	err        error
}

func (f *fakeImageGen) Generate(_ context.Context, prompt string, anchor *ImageRef) (*GeneratedImage, error) {
	f.lastPrompt = prompt
	f.lastAnchor = anchor
	if f.err != nil {
		return nil, f.err
	}
	return &GeneratedImage{
		MIMEType: "image/png",
		Data:     "aGVsbG8=",
		URL:      "https://img/1.png",
		FileName: "1.png",
	}, nil
}

func TestGenerateImage(t *testing.T) {
	gen := &fakeImageGen{}
	r := newTestRegistry(t, gen)
	anchor := &ImageRef{Data: "YW5jaG9y", MIMEType: "image/jpeg"}

	res := r.Execute(context.Background(), NameGenerateImage,
		map[string]any{"prompt": "a red bridge"}, Exec{Anchor: anchor})

	if res.IsError() {
		t.Fatalf("unexpected error: %v", res.ErrorMessage())
	}
	if res[ChartTypeKey] != ChartGeneratedImage {
		t.Errorf("chart tag = %v", res[ChartTypeKey])
	}
	if gen.lastPrompt != "a red bridge" || gen.lastAnchor != anchor {
		t.Errorf("generator called with %q, %v", gen.lastPrompt, gen.lastAnchor)
	}
	if res["data"] != "aGVsbG8=" {
		t.Errorf("inline payload missing before sanitization")
	}
}

func TestGenerateImageFailures(t *testing.T) {
	// No generator configured.
	r := newTestRegistry(t, nil)
	res := r.Execute(context.Background(), NameGenerateImage,
		map[string]any{"prompt": "x"}, Exec{})
	if !res.IsError() {
		t.Errorf("expected error without generator")
	}

	// Generator error becomes an error result, not a Go error.
	r = newTestRegistry(t, &fakeImageGen{err: errors.New("quota exceeded")})
	res = r.Execute(context.Background(), NameGenerateImage,
		map[string]any{"prompt": "x"}, Exec{})
	if !strings.Contains(res.ErrorMessage(), "quota exceeded") {
		t.Errorf("error = %q", res.ErrorMessage())
	}
}

func TestSanitizeStripsInlineBinary(t *testing.T) {
	res := Result{
		ChartTypeKey: ChartGeneratedImage,
		"url":        "https://img/1.png",
		"data":       "aGVsbG8=",
		"inlineData": "xxx",
	}
	clean := Sanitize(res)

	for _, k := range []string{"data", "inlineData"} {
		if _, ok := clean[k]; ok {
			t.Errorf("sanitized result still carries %q", k)
		}
	}
	if clean["url"] != "https://img/1.png" {
		t.Errorf("metadata must survive sanitization")
	}
	// Original untouched.
	if _, ok := res["data"]; !ok {
		t.Errorf("Sanitize must not mutate its input")
	}
}

func TestDeclarationsCoverAllTools(t *testing.T) {
	r := newTestRegistry(t, nil)
	decls := r.Declarations()
	if len(decls) != len(r.Names()) {
		t.Fatalf("decls = %d, tools = %d", len(decls), len(r.Names()))
	}
	for _, d := range decls {
		if d.Parameters == nil || d.Description == "" {
			t.Errorf("declaration %s incomplete", d.Name)
		}
	}
}

func TestNoDatasetLoaded(t *testing.T) {
	r := newTestRegistry(t, nil)
	res := r.Execute(context.Background(), NameColumnStats,
		map[string]any{"column": "x"}, Exec{})
	if !strings.Contains(res.ErrorMessage(), "No dataset") {
		t.Errorf("error = %q", res.ErrorMessage())
	}
}
