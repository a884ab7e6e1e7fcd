package guard

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrUnsafeQuery is returned by Normalize when the text contains a
// denylisted keyword. The orchestrator treats it as an execution-class
// failure and feeds it to the correction loop.
var ErrUnsafeQuery = errors.New("unsafe operation")

const defaultRowCeiling = 1000

// leadingWindow is how far into the text a SELECT/WITH token may appear for
// Classify to still accept it as SQL. Prose that merely mentions SQL tends
// to put the keyword much later.
const leadingWindow = 30

var (
	// Classify is a textual heuristic, not a parser. A leading WITH is
	// accepted the same way as a leading SELECT, so CTE queries pass.
	leadTokenRe = regexp.MustCompile(`(?is)\b(SELECT|WITH)\b`)
	fromTokenRe = regexp.MustCompile(`(?is)\bFROM\b`)

	denylistRe = regexp.MustCompile(`(?i)\b(DROP|DELETE|TRUNCATE|INSERT|UPDATE|ALTER|CREATE|GRANT|REVOKE|EXEC|EXECUTE)\b`)
	limitRe    = regexp.MustCompile(`(?i)\bLIMIT\s+(\d+)\b`)
)

// Guard classifies text as SQL-or-prose and normalizes accepted SQL:
// mutating statements are rejected and the result size is bounded.
// It is a pure text transform with no side effects.
type Guard struct {
	rowCeiling int
}

func New(rowCeiling int) *Guard {
	if rowCeiling <= 0 {
		rowCeiling = defaultRowCeiling
	}
	return &Guard{rowCeiling: rowCeiling}
}

func (g *Guard) RowCeiling() int {
	return g.rowCeiling
}

// Classify reports whether text looks like an executable SELECT query: a
// SELECT or WITH token within the leading window and a FROM token somewhere
// after it.
func (g *Guard) Classify(text string) bool {
	trimmed := strings.TrimSpace(text)
	loc := leadTokenRe.FindStringIndex(trimmed)
	if loc == nil || loc[0] > leadingWindow {
		return false
	}
	return fromTokenRe.MatchString(trimmed[loc[1]:])
}

// Normalize rejects SQL containing any denylisted keyword as a whole word
// (case-insensitive, comments included) and enforces the row ceiling: a
// missing LIMIT is appended, a LIMIT above the ceiling is rewritten down,
// a LIMIT at or below it is left untouched.
func (g *Guard) Normalize(sqlText string) (string, error) {
	if kw := denylistRe.FindString(sqlText); kw != "" {
		return "", fmt.Errorf("%w: %s", ErrUnsafeQuery, strings.ToUpper(kw))
	}

	trimmed := strings.TrimSpace(sqlText)
	trimmed = strings.TrimRight(trimmed, "; \t\n")

	matches := limitRe.FindAllStringSubmatchIndex(trimmed, -1)
	if len(matches) == 0 {
		return fmt.Sprintf("%s LIMIT %d", trimmed, g.rowCeiling), nil
	}

	// Only the outermost (last) LIMIT bounds the result size.
	last := matches[len(matches)-1]
	n, err := strconv.Atoi(trimmed[last[2]:last[3]])
	if err != nil || n > g.rowCeiling {
		return trimmed[:last[0]] + fmt.Sprintf("LIMIT %d", g.rowCeiling) + trimmed[last[1]:], nil
	}
	return trimmed, nil
}
