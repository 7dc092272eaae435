package tools

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/datachat-io/datachat/internal/tabular"
)

// Tool names.
const (
	NameColumnStats   = "compute_column_stats"
	NameStatsJSON     = "compute_stats_json"
	NameValueCounts   = "get_value_counts"
	NameTopItems      = "get_top_items"
	NamePlotOverTime  = "plot_metric_vs_time"
	NamePlayVideo     = "play_video"
	NameGenerateImage = "generate_image"
)

const (
	defaultValueCountN = 10
	defaultTopItemsN   = 5
	maxSampleTitles    = 3
)

func (r *Registry) toolSet() []*Tool {
	return []*Tool{
		{
			Name:        NameColumnStats,
			Description: "Compute count, mean, median, standard deviation, min and max for a numeric column of the loaded dataset.",
			Schema:      columnSchema("The column to analyze."),
			handler:     statsHandler,
		},
		{
			// Alias kept for datasets loaded from JSON attachments; the
			// model sometimes picks one name over the other.
			Name:        NameStatsJSON,
			Description: "Compute count, mean, median, standard deviation, min and max for a numeric column of a JSON-loaded dataset.",
			Schema:      columnSchema("The column to analyze."),
			handler:     statsHandler,
		},
		{
			Name:        NameValueCounts,
			Description: "Return the most frequent values of a column with their counts.",
			Schema:      valueCountsSchema(),
			handler:     valueCountsHandler,
		},
		{
			Name:        NameTopItems,
			Description: "Return the top N rows sorted by a numeric column, with display text and key metrics attached.",
			Schema:      topItemsSchema(),
			handler:     topItemsHandler,
		},
		{
			Name:        NamePlotOverTime,
			Description: "Build a time-series chart of a numeric metric over a date/time column.",
			Schema:      plotSchema(),
			handler:     plotHandler,
		},
		{
			Name:        NamePlayVideo,
			Description: "Find a video row to play. Supports queries like 'first', 'last', 'most viewed', 'most liked', or a title substring.",
			Schema:      playVideoSchema(),
			handler:     playVideoHandler,
		},
		{
			Name:        NameGenerateImage,
			Description: "Generate an image from a text prompt, optionally anchored to an attached reference image.",
			Schema:      generateImageSchema(),
			handler:     r.generateImageHandler,
		},
	}
}

// argString extracts a string argument; missing or non-string yields "".
func argString(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

// argInt extracts an integer argument, tolerating JSON float decoding.
func argInt(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return fallback
	}
}

func argBool(args map[string]any, key string) bool {
	b, _ := args[key].(bool)
	return b
}

// requireTable guards handlers that need a loaded dataset.
func requireTable(exec Exec) (*tabular.Table, Result) {
	if exec.Table == nil || exec.Table.RowCount() == 0 {
		return nil, Errorf("No dataset is loaded. Attach a CSV or JSON file first.")
	}
	return exec.Table, nil
}

// round4 rounds to 4 decimal places, the precision reported by all
// statistical tools.
func round4(f float64) float64 {
	return math.Round(f*10000) / 10000
}

// numericColumn collects the numeric values of a column in row order.
// Non-numeric entries are dropped silently.
func numericColumn(t *tabular.Table, col string) []float64 {
	var vals []float64
	for _, row := range t.Rows {
		if f, ok := tabular.Number(row[col]); ok {
			vals = append(vals, f)
		}
	}
	return vals
}

func statsHandler(_ context.Context, args map[string]any, exec Exec) Result {
	t, errRes := requireTable(exec)
	if errRes != nil {
		return errRes
	}

	col, _ := tabular.ResolveColumn(t.Headers, argString(args, "column"))
	vals := numericColumn(t, col)
	if len(vals) == 0 {
		return Errorf("No numeric data in column %q. Available columns: %s",
			col, strings.Join(t.Headers, ", "))
	}

	sorted := make([]float64, len(vals))
	copy(sorted, vals)
	sort.Float64s(sorted)

	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	mean := sum / float64(len(vals))

	variance := 0.0
	for _, v := range vals {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(vals))

	var median float64
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		median = (sorted[mid-1] + sorted[mid]) / 2
	} else {
		median = sorted[mid]
	}

	return Result{
		"column": col,
		"count":  len(vals),
		"mean":   round4(mean),
		"median": round4(median),
		"std":    round4(math.Sqrt(variance)),
		"min":    round4(sorted[0]),
		"max":    round4(sorted[len(sorted)-1]),
	}
}

func valueCountsHandler(_ context.Context, args map[string]any, exec Exec) Result {
	t, errRes := requireTable(exec)
	if errRes != nil {
		return errRes
	}

	col, _ := tabular.ResolveColumn(t.Headers, argString(args, "column"))
	n := argInt(args, "n", defaultValueCountN)
	if n <= 0 {
		n = defaultValueCountN
	}

	freq := make(map[string]int)
	order := make([]string, 0)
	total := 0
	for _, row := range t.Rows {
		v := tabular.Text(row[col])
		if v == "" {
			continue
		}
		if freq[v] == 0 {
			order = append(order, v)
		}
		freq[v]++
		total++
	}
	if total == 0 {
		return Errorf("Column %q has no values. Available columns: %s",
			col, strings.Join(t.Headers, ", "))
	}

	// Frequency descending; first appearance breaks ties for stability.
	sort.SliceStable(order, func(i, j int) bool {
		return freq[order[i]] > freq[order[j]]
	})
	if len(order) > n {
		order = order[:n]
	}

	counts := make([]map[string]any, len(order))
	for i, v := range order {
		counts[i] = map[string]any{"value": v, "count": freq[v]}
	}

	return Result{
		"column":    col,
		"totalRows": t.RowCount(),
		"counted":   total,
		"counts":    counts,
	}
}

// displayColumn picks a best-effort human-readable column for item labels.
func displayColumn(t *tabular.Table) string {
	for _, want := range []string{"title", "name", "label", "id"} {
		if h, ok := tabular.ResolveColumn(t.Headers, want); ok {
			return h
		}
	}
	if len(t.Headers) > 0 {
		return t.Headers[0]
	}
	return ""
}

// metricColumns returns the key metric columns attached to top-item rows.
func metricColumns(t *tabular.Table) []string {
	var cols []string
	if h, ok := tabular.ViewColumn(t.Headers); ok {
		cols = append(cols, h)
	}
	if h, ok := tabular.LikeColumn(t.Headers); ok {
		cols = append(cols, h)
	}
	if h, ok := tabular.ResolveColumn(t.Headers, tabular.EngagementColumn); ok {
		cols = append(cols, h)
	}
	return cols
}

func topItemsHandler(_ context.Context, args map[string]any, exec Exec) Result {
	t, errRes := requireTable(exec)
	if errRes != nil {
		return errRes
	}

	col, _ := tabular.ResolveColumn(t.Headers, argString(args, "column"))
	n := argInt(args, "n", defaultTopItemsN)
	if n <= 0 {
		n = defaultTopItemsN
	}
	ascending := argBool(args, "ascending")

	type indexed struct {
		row   tabular.Row
		value float64
	}
	var items []indexed
	for _, row := range t.Rows {
		if f, ok := tabular.Number(row[col]); ok {
			items = append(items, indexed{row, f})
		}
	}
	if len(items) == 0 {
		return Errorf("No numeric data in column %q. Available columns: %s",
			col, strings.Join(t.Headers, ", "))
	}

	// Stable sort: ties keep original row order.
	sort.SliceStable(items, func(i, j int) bool {
		if ascending {
			return items[i].value < items[j].value
		}
		return items[i].value > items[j].value
	})
	if len(items) > n {
		items = items[:n]
	}

	display := displayColumn(t)
	metrics := metricColumns(t)

	out := make([]map[string]any, len(items))
	for i, it := range items {
		entry := map[string]any{
			"rank": i + 1,
			col:    it.value,
		}
		if display != "" {
			entry["display"] = tabular.Text(it.row[display])
		}
		for _, m := range metrics {
			if m == col {
				continue
			}
			entry[m] = tabular.Text(it.row[m])
		}
		out[i] = entry
	}

	return Result{
		"column":    col,
		"ascending": ascending,
		"items":     out,
	}
}

// timeLayouts are tried in order when parsing time-column values.
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006",
	"Jan 2, 2006",
}

func parseTime(v any) (time.Time, bool) {
	s := strings.TrimSpace(tabular.Text(v))
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// timeColumn resolves the requested time column, or detects one when the
// request is empty.
func timeColumn(t *tabular.Table, requested string) (string, bool) {
	if requested != "" {
		return tabular.ResolveColumn(t.Headers, requested)
	}
	return tabular.FindColumn(t.Headers, func(n string) bool {
		return strings.Contains(n, "date") || strings.Contains(n, "time") ||
			strings.Contains(n, "published") || strings.Contains(n, "created")
	})
}

func plotHandler(_ context.Context, args map[string]any, exec Exec) Result {
	t, errRes := requireTable(exec)
	if errRes != nil {
		return errRes
	}

	metric, _ := tabular.ResolveColumn(t.Headers, argString(args, "metric"))
	timeCol, ok := timeColumn(t, argString(args, "timeColumn"))
	if !ok {
		return Errorf("No date/time column found. Available columns: %s",
			strings.Join(t.Headers, ", "))
	}

	type point struct {
		ts    time.Time
		value float64
	}
	var points []point
	for _, row := range t.Rows {
		f, okNum := tabular.Number(row[metric])
		ts, okTime := parseTime(row[timeCol])
		if !okNum || !okTime {
			continue // drop rows missing either side
		}
		points = append(points, point{ts, f})
	}
	if len(points) == 0 {
		return Errorf("No valid data points for %q over %q.", metric, timeCol)
	}

	sort.SliceStable(points, func(i, j int) bool {
		return points[i].ts.Before(points[j].ts)
	})

	x := make([]string, len(points))
	y := make([]float64, len(points))
	for i, p := range points {
		x[i] = p.ts.Format(time.RFC3339)
		y[i] = p.value
	}

	// The metric values ride along under both "y" and the metric's own
	// key so renderers can pick either.
	return Result{
		ChartTypeKey: ChartTimeSeries,
		"metric":     metric,
		"timeColumn": timeCol,
		"x":          x,
		"y":          y,
		metric:       y,
		"points":     len(points),
	}
}

// exactColumn finds a header equal to name ignoring case only — play_video
// requires literal title/url columns rather than fuzzy matches.
func exactColumn(headers []string, name string) (string, bool) {
	for _, h := range headers {
		if strings.EqualFold(h, name) {
			return h, true
		}
	}
	return "", false
}

func playVideoHandler(_ context.Context, args map[string]any, exec Exec) Result {
	t, errRes := requireTable(exec)
	if errRes != nil {
		return errRes
	}

	titleCol, okTitle := exactColumn(t.Headers, "title")
	urlCol, okURL := exactColumn(t.Headers, "url")
	if !okTitle || !okURL {
		return Errorf("Dataset has no title/url columns; cannot look up videos.")
	}

	query := strings.TrimSpace(strings.ToLower(argString(args, "query")))

	var match tabular.Row
	switch query {
	case "first":
		match = t.Rows[0]
	case "last":
		match = t.Rows[len(t.Rows)-1]
	case "most viewed", "most popular":
		if col, ok := tabular.ViewColumn(t.Headers); ok {
			match = maxRow(t, col)
		}
	case "most liked":
		if col, ok := tabular.LikeColumn(t.Headers); ok {
			match = maxRow(t, col)
		}
	default:
		for _, row := range t.Rows {
			if strings.Contains(strings.ToLower(tabular.Text(row[titleCol])), query) {
				match = row
				break // first match wins
			}
		}
	}

	if match == nil {
		return Errorf("No video matched %q. Sample titles: %s",
			argString(args, "query"), strings.Join(sampleTitles(t, titleCol), "; "))
	}
	url := tabular.Text(match[urlCol])
	if url == "" {
		return Errorf("Matched %q but it has no URL. Sample titles: %s",
			tabular.Text(match[titleCol]), strings.Join(sampleTitles(t, titleCol), "; "))
	}

	return Result{
		PlayVideoKey: true,
		"title":      tabular.Text(match[titleCol]),
		"url":        url,
	}
}

// maxRow returns the row with the maximum numeric value in col.
func maxRow(t *tabular.Table, col string) tabular.Row {
	var best tabular.Row
	bestVal := math.Inf(-1)
	for _, row := range t.Rows {
		if f, ok := tabular.Number(row[col]); ok && f > bestVal {
			bestVal = f
			best = row
		}
	}
	return best
}

func sampleTitles(t *tabular.Table, titleCol string) []string {
	var titles []string
	for _, row := range t.Rows {
		if s := tabular.Text(row[titleCol]); s != "" {
			titles = append(titles, s)
			if len(titles) == maxSampleTitles {
				break
			}
		}
	}
	return titles
}

func (r *Registry) generateImageHandler(ctx context.Context, args map[string]any, exec Exec) Result {
	if r.images == nil {
		return Errorf("Image generation is not configured.")
	}
	prompt := strings.TrimSpace(argString(args, "prompt"))
	if prompt == "" {
		return Errorf("Image generation requires a non-empty prompt.")
	}

	img, err := r.images.Generate(ctx, prompt, exec.Anchor)
	if err != nil {
		return Errorf("Image generation failed: %v", err)
	}

	// The inline payload stays here for rendering; the orchestrator
	// sanitizes it away before the result reaches the model.
	return Result{
		ChartTypeKey: ChartGeneratedImage,
		"prompt":     prompt,
		"url":        img.URL,
		"mimeType":   img.MIMEType,
		"fileName":   img.FileName,
		"data":       img.Data,
	}
}
