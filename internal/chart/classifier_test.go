package chart_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"insight-engine-backend/internal/chart"
)

func timeSeriesRows(n int) []map[string]interface{} {
	rows := make([]map[string]interface{}, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, map[string]interface{}{
			"month":   "2024-01-01",
			"revenue": float64(100 + i),
		})
	}
	return rows
}

func TestRecommend_ShapeRules(t *testing.T) {
	tests := []struct {
		name     string
		columns  []string
		rows     []map[string]interface{}
		question string
		expected chart.Tag
	}{
		{
			name:     "Time Plus One Numeric Is Line",
			columns:  []string{"month", "revenue"},
			rows:     timeSeriesRows(12),
			question: "revenue by month",
			expected: chart.Line,
		},
		{
			name:    "Time Plus Multiple Numerics Is Area",
			columns: []string{"month", "revenue", "cost"},
			rows: []map[string]interface{}{
				{"month": "2024-01-01", "revenue": float64(100), "cost": float64(40)},
				{"month": "2024-02-01", "revenue": float64(120), "cost": float64(45)},
			},
			question: "revenue and cost by month",
			expected: chart.Area,
		},
		{
			name:    "Few Categories Plus Numeric Is Pie",
			columns: []string{"region", "total"},
			rows: []map[string]interface{}{
				{"region": "north", "total": float64(10)},
				{"region": "south", "total": float64(20)},
				{"region": "west", "total": float64(30)},
			},
			question: "totals by region",
			expected: chart.Pie,
		},
		{
			name:     "Many Categories Plus Numeric Is Bar",
			columns:  []string{"product", "total"},
			rows:     manyCategoryRows(15),
			question: "totals by product",
			expected: chart.Bar,
		},
		{
			name:    "Two Numerics No Category Is Scatter",
			columns: []string{"price", "quantity"},
			rows: []map[string]interface{}{
				{"price": float64(9.5), "quantity": float64(3)},
				{"price": float64(20), "quantity": float64(1)},
			},
			question: "price against quantity",
			expected: chart.Scatter,
		},
		{
			name:     "Empty Result Is Table",
			columns:  []string{"a", "b"},
			rows:     nil,
			question: "anything",
			expected: chart.Table,
		},
		{
			name:    "Wide Result With Many Rows Is Table",
			columns: []string{"a", "b", "c", "d", "e"},
			rows:    wideRows(30),
			question: "show everything",
			expected: chart.Table,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, chart.Recommend(tt.columns, tt.rows, tt.question))
		})
	}
}

func TestRecommend_KeywordOverrides(t *testing.T) {
	catRows := []map[string]interface{}{
		{"region": "north", "total": float64(10)},
		{"region": "south", "total": float64(20)},
	}

	tests := []struct {
		name     string
		columns  []string
		rows     []map[string]interface{}
		question string
		expected chart.Tag
	}{
		{
			name:     "Trend Question Over Time Series Is Line",
			columns:  []string{"month", "revenue", "cost"},
			rows:     []map[string]interface{}{{"month": "2024-01-01", "revenue": float64(1), "cost": float64(2)}},
			question: "what is the trend of revenue and cost",
			expected: chart.Line,
		},
		{
			name:     "Proportion Question Is Pie",
			columns:  []string{"region", "total"},
			rows:     catRows,
			question: "what is the percentage share per region",
			expected: chart.Pie,
		},
		{
			name:     "Comparison Question Is Bar",
			columns:  []string{"region", "total"},
			rows:     catRows,
			question: "compare north versus south sales",
			expected: chart.Bar,
		},
		{
			name:     "Trend Keyword Without Time Column Falls Through",
			columns:  []string{"region", "total"},
			rows:     catRows,
			question: "growth by region",
			expected: chart.Pie,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, chart.Recommend(tt.columns, tt.rows, tt.question))
		})
	}
}

func TestRecommend_Deterministic(t *testing.T) {
	columns := []string{"month", "revenue"}
	rows := timeSeriesRows(6)
	question := "revenue per month"

	first := chart.Recommend(columns, rows, question)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, chart.Recommend(columns, rows, question))
	}
}

func TestAlternatives(t *testing.T) {
	columns := []string{"month", "revenue"}
	rows := timeSeriesRows(6)

	primary := chart.Recommend(columns, rows, "revenue per month")
	alts := chart.Alternatives(columns, rows, primary)

	assert.LessOrEqual(t, len(alts), 3)
	assert.NotContains(t, alts, primary)

	// Duplicates never appear.
	seen := make(map[chart.Tag]bool)
	for _, a := range alts {
		assert.False(t, seen[a], "duplicate alternative %s", a)
		seen[a] = true
	}
}

func TestAlternatives_AlwaysOffersTable(t *testing.T) {
	columns := []string{"region", "total"}
	rows := []map[string]interface{}{
		{"region": "north", "total": float64(10)},
		{"region": "south", "total": float64(20)},
	}

	alts := chart.Alternatives(columns, rows, chart.Pie)
	assert.Contains(t, alts, chart.Table)
}

func manyCategoryRows(n int) []map[string]interface{} {
	rows := make([]map[string]interface{}, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, map[string]interface{}{
			"product": "product-" + string(rune('a'+i)),
			"total":   float64(i),
		})
	}
	return rows
}

func wideRows(n int) []map[string]interface{} {
	rows := make([]map[string]interface{}, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, map[string]interface{}{
			"a": "x", "b": "y", "c": "z", "d": "w", "e": "v",
		})
	}
	return rows
}
