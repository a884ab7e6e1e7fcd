package chart

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Tag is a recommended visualization encoding for a tabular result.
type Tag string

const (
	Line    Tag = "line"
	Bar     Tag = "bar"
	Pie     Tag = "pie"
	Area    Tag = "area"
	Scatter Tag = "scatter"
	Table   Tag = "table"
)

var (
	trendWords = []string{
		"trend", "over time", "change", "growth", "evolution", "progression",
		"daily", "weekly", "monthly", "yearly", "per day", "per month", "per year",
	}
	proportionWords = []string{
		"proportion", "percentage", "percent", "share", "ratio", "breakdown",
		"composition", "distribution", "split of",
	}
	comparisonWords = []string{
		"compare", "comparison", "versus", " vs ", "rank", "ranking",
		"top ", "most", "least", "highest", "lowest", "best", "worst",
	}

	dateValueRe  = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`)
	timeColumnRe = regexp.MustCompile(`(?i)(^|_)(date|time|timestamp|day|week|month|quarter|year)($|_)`)
)

type profile struct {
	hasTime       bool
	catCount      int
	maxCategories int
	numCount      int
	rowCount      int
	colCount      int
}

// Recommend maps a result's column-type profile plus the question text to a
// chart tag. Pure and deterministic: the same profile and question always
// yield the same tag.
func Recommend(columns []string, rows []map[string]interface{}, question string) Tag {
	if len(rows) == 0 {
		return Table
	}

	p := deriveProfile(columns, rows)
	q := strings.ToLower(question)

	// Keyword overrides win over shape rules.
	if containsAny(q, trendWords) && p.hasTime {
		return Line
	}
	if containsAny(q, proportionWords) && p.catCount > 0 && p.numCount > 0 && p.maxCategories <= 8 {
		return Pie
	}
	if containsAny(q, comparisonWords) && p.catCount > 0 && p.numCount > 0 {
		return Bar
	}

	switch {
	case p.hasTime && p.numCount == 1:
		return Line
	case p.hasTime && p.numCount > 1:
		return Area
	case p.catCount > 0 && p.numCount > 0 && p.maxCategories <= 7:
		return Pie
	case p.catCount > 0 && p.numCount > 0:
		return Bar
	case p.numCount == 2 && p.catCount == 0 && p.rowCount < 1000:
		return Scatter
	case p.rowCount > 100:
		return Table
	case p.colCount >= 4 && p.rowCount > 20:
		return Table
	case p.catCount > 0 || p.hasTime:
		return Bar
	default:
		return Table
	}
}

// Alternatives returns up to three further tags that fit the result shape,
// in preference order, excluding the primary recommendation.
func Alternatives(columns []string, rows []map[string]interface{}, primary Tag) []Tag {
	p := deriveProfile(columns, rows)

	candidates := make([]Tag, 0, 6)
	if p.hasTime && p.numCount > 0 {
		candidates = append(candidates, Line)
	}
	if p.hasTime && p.numCount > 1 {
		candidates = append(candidates, Area)
	}
	if p.catCount > 0 && p.numCount > 0 {
		candidates = append(candidates, Bar)
		if p.maxCategories <= 8 {
			candidates = append(candidates, Pie)
		}
	}
	if p.numCount >= 2 && p.catCount == 0 {
		candidates = append(candidates, Scatter)
	}
	candidates = append(candidates, Table)

	out := make([]Tag, 0, 3)
	for _, c := range candidates {
		if c == primary || contains(out, c) {
			continue
		}
		out = append(out, c)
		if len(out) == 3 {
			break
		}
	}
	return out
}

func deriveProfile(columns []string, rows []map[string]interface{}) profile {
	p := profile{rowCount: len(rows), colCount: len(columns)}

	for _, col := range columns {
		numeric, timed, distinct := inspectColumn(col, rows)
		switch {
		case timed:
			p.hasTime = true
		case numeric:
			p.numCount++
		default:
			p.catCount++
			if distinct > p.maxCategories {
				p.maxCategories = distinct
			}
		}
	}
	return p
}

// inspectColumn looks at every non-null value in a column. A column is
// time-like when its name or values read as dates, numeric when every value
// is a number, categorical otherwise.
func inspectColumn(name string, rows []map[string]interface{}) (numeric, timed bool, distinct int) {
	if timeColumnRe.MatchString(name) {
		timed = true
	}

	seen := make(map[string]struct{})
	numeric = true
	sawValue := false

	for _, row := range rows {
		v, ok := row[name]
		if !ok || v == nil {
			continue
		}
		sawValue = true

		switch tv := v.(type) {
		case time.Time:
			timed = true
			numeric = false
		case int, int32, int64, float32, float64:
			// still numeric
		case string:
			if dateValueRe.MatchString(tv) {
				timed = true
				numeric = false
			} else if _, err := strconv.ParseFloat(tv, 64); err != nil {
				numeric = false
			}
		default:
			numeric = false
		}
		seen[stringify(v)] = struct{}{}
	}

	if !sawValue {
		numeric = false
	}
	return numeric, timed, len(seen)
}

func stringify(v interface{}) string {
	switch tv := v.(type) {
	case string:
		return tv
	case time.Time:
		return tv.Format(time.RFC3339)
	case float64:
		return strconv.FormatFloat(tv, 'g', -1, 64)
	case int64:
		return strconv.FormatInt(tv, 10)
	case int:
		return strconv.Itoa(tv)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

func contains(tags []Tag, t Tag) bool {
	for _, x := range tags {
		if x == t {
			return true
		}
	}
	return false
}
