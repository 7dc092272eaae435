package tabular

import (
	"fmt"
	"sort"
	"strings"
)

// numericThreshold is the share of non-empty values that must parse as
// numbers for a column to be classified numeric.
const numericThreshold = 0.8

// topValueCount is how many categorical values are reported per column.
const topValueCount = 5

// Summarize produces a per-column statistical summary of the table, used
// to prime the model with the dataset's shape.
//
// Columns with >= 80% numeric non-empty values report count/mean/min/max;
// all others report cardinality and the top-5 value frequencies.
func Summarize(t *Table) string {
	if t == nil || len(t.Headers) == 0 {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Dataset: %d rows, %d columns.\n", len(t.Rows), len(t.Headers))

	for _, h := range t.Headers {
		var nums []float64
		var texts []string
		for _, row := range t.Rows {
			cell, present := row[h]
			if !present || Text(cell) == "" {
				continue
			}
			if f, ok := Number(cell); ok {
				nums = append(nums, f)
			}
			texts = append(texts, Text(cell))
		}

		if len(texts) == 0 {
			fmt.Fprintf(&b, "- %s: empty\n", h)
			continue
		}

		if float64(len(nums)) >= numericThreshold*float64(len(texts)) {
			writeNumericSummary(&b, h, nums)
		} else {
			writeCategoricalSummary(&b, h, texts)
		}
	}

	return b.String()
}

func writeNumericSummary(b *strings.Builder, header string, nums []float64) {
	sum := 0.0
	minV, maxV := nums[0], nums[0]
	for _, n := range nums {
		sum += n
		if n < minV {
			minV = n
		}
		if n > maxV {
			maxV = n
		}
	}
	mean := sum / float64(len(nums))
	fmt.Fprintf(b, "- %s (numeric): count=%d mean=%.4g min=%.4g max=%.4g\n",
		header, len(nums), mean, minV, maxV)
}

func writeCategoricalSummary(b *strings.Builder, header string, texts []string) {
	freq := make(map[string]int, len(texts))
	for _, s := range texts {
		freq[s]++
	}

	type valueCount struct {
		value string
		count int
	}
	counts := make([]valueCount, 0, len(freq))
	for v, c := range freq {
		counts = append(counts, valueCount{v, c})
	}
	// Frequency descending, value ascending for deterministic output.
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].count != counts[j].count {
			return counts[i].count > counts[j].count
		}
		return counts[i].value < counts[j].value
	})

	top := counts
	if len(top) > topValueCount {
		top = top[:topValueCount]
	}
	parts := make([]string, len(top))
	for i, vc := range top {
		parts[i] = fmt.Sprintf("%s (%d)", truncateValue(vc.value, 40), vc.count)
	}

	fmt.Fprintf(b, "- %s (categorical): %d distinct; top: %s\n",
		header, len(freq), strings.Join(parts, ", "))
}

func truncateValue(s string, maxRunes int) string {
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	return string(runes[:maxRunes]) + "..."
}
