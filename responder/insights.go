package responder

import (
	"sort"
	"time"

	"github.com/antflydb/raqe/collab"
)

// NumericSummary is the deterministic summary of one numeric column.
type NumericSummary struct {
	Mean         float64
	Min          float64
	Max          float64
	OutlierCount int
}

// DateRange is the deterministic summary of one timestamp-like column.
type DateRange struct {
	Column string
	From   string
	To     string
}

// Insights is the deterministic (non-LLM) half of a Response.
type Insights struct {
	RowCount         int
	Columns          []string
	NumericSummaries map[string]NumericSummary
	DateRange        *DateRange
}

// outlierFactor is the multiple-of-mean threshold past which a value counts
// as an outlier.
const outlierFactor = 2.0

// ExtractInsights computes row count, per-column numeric summaries, and a
// timestamp column's date range, with no LLM involvement.
func ExtractInsights(rows []collab.Row) Insights {
	insights := Insights{RowCount: len(rows), NumericSummaries: map[string]NumericSummary{}}
	if len(rows) == 0 {
		return insights
	}

	insights.Columns = columnNames(rows)

	numericValues := map[string][]float64{}
	timeValues := map[string][]time.Time{}

	for _, row := range rows {
		for col, v := range row {
			if f, ok := toFloat(v); ok {
				numericValues[col] = append(numericValues[col], f)
				continue
			}
			if t, ok := toTime(v); ok {
				timeValues[col] = append(timeValues[col], t)
			}
		}
	}

	for col, values := range numericValues {
		if len(values) == 0 {
			continue
		}
		insights.NumericSummaries[col] = summarize(values)
	}

	insights.DateRange = earliestTimeColumn(timeValues)
	return insights
}

func summarize(values []float64) NumericSummary {
	sum, min, max := 0.0, values[0], values[0]
	for _, v := range values {
		sum += v
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	mean := sum / float64(len(values))

	outliers := 0
	for _, v := range values {
		if mean != 0 && (v > mean*outlierFactor || v < -mean*outlierFactor) {
			outliers++
		}
	}

	return NumericSummary{Mean: mean, Min: min, Max: max, OutlierCount: outliers}
}

func earliestTimeColumn(timeValues map[string][]time.Time) *DateRange {
	var cols []string
	for col := range timeValues {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	if len(cols) == 0 {
		return nil
	}
	col := cols[0]
	values := timeValues[col]
	from, to := values[0], values[0]
	for _, t := range values {
		if t.Before(from) {
			from = t
		}
		if t.After(to) {
			to = t
		}
	}
	return &DateRange{Column: col, From: from.Format(time.RFC3339), To: to.Format(time.RFC3339)}
}

func columnNames(rows []collab.Row) []string {
	seen := map[string]bool{}
	var cols []string
	for _, row := range rows {
		for k := range row {
			if !seen[k] {
				seen[k] = true
				cols = append(cols, k)
			}
		}
	}
	sort.Strings(cols)
	return cols
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	default:
		return time.Time{}, false
	}
}

// Visualization is one suggested rendering of a result: a
// type, why it fits this particular result, and the columns it would plot.
type Visualization struct {
	Type      string
	Rationale string
	Columns   []string
}

// visualization trigger catalog. Plain ordered list so a host can extend
// it without touching the matching algorithm.
type vizTrigger struct {
	vizType   string
	matches   func(rows []collab.Row, insights Insights) bool
	rationale string
	columns   func(rows []collab.Row, insights Insights) []string
}

var vizTriggers = []vizTrigger{
	{
		vizType: "number",
		matches: func(rows []collab.Row, insights Insights) bool {
			return len(rows) == 1 && len(insights.Columns) <= 2
		},
		rationale: "a single row with one or two columns reads best as a single highlighted number",
		columns:   func(rows []collab.Row, insights Insights) []string { return insights.Columns },
	},
	{
		vizType: "graph",
		matches: func(rows []collab.Row, insights Insights) bool {
			for _, row := range rows {
				if _, ok := row["_relationship"]; ok {
					return true
				}
				if _, ok := row["r"]; ok {
					return true
				}
			}
			return false
		},
		rationale: "result rows carry relationship data, which renders best as a node/edge graph",
		columns:   func(rows []collab.Row, insights Insights) []string { return insights.Columns },
	},
	{
		vizType: "line_chart",
		matches: func(rows []collab.Row, insights Insights) bool {
			return insights.DateRange != nil && len(insights.NumericSummaries) > 0
		},
		rationale: "a timestamp column alongside numeric measures suggests a trend over time",
		columns: func(rows []collab.Row, insights Insights) []string {
			cols := numericColumnNames(insights)
			if insights.DateRange != nil {
				cols = append([]string{insights.DateRange.Column}, cols...)
			}
			return cols
		},
	},
	{
		vizType: "bar_chart",
		matches: func(rows []collab.Row, insights Insights) bool {
			return len(insights.NumericSummaries) > 0 && len(rows) > 1 && len(rows) <= 50
		},
		rationale: "a moderate number of rows with numeric measures compares well as bars",
		columns:   func(rows []collab.Row, insights Insights) []string { return numericColumnNames(insights) },
	},
	{
		vizType: "table",
		matches: func(rows []collab.Row, insights Insights) bool {
			return len(rows) > 1
		},
		rationale: "multiple rows are best browsed directly as a table",
		columns:   func(rows []collab.Row, insights Insights) []string { return insights.Columns },
	},
}

func numericColumnNames(insights Insights) []string {
	var cols []string
	for col := range insights.NumericSummaries {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}

// SuggestVisualizations returns every visualization whose trigger matches,
// in the catalog's fixed order.
func SuggestVisualizations(rows []collab.Row, insights Insights) []Visualization {
	if len(rows) == 0 {
		return nil
	}
	var out []Visualization
	for _, t := range vizTriggers {
		if t.matches(rows, insights) {
			out = append(out, Visualization{Type: t.vizType, Rationale: t.rationale, Columns: t.columns(rows, insights)})
		}
	}
	return out
}
