package probe

import (
	"regexp"
	"strings"

	"insight-engine-backend/internal/guard"
)

// Marker is the token the generation prompt asks the model to prefix a
// disambiguation query with. Detecting it is cheaper and far more reliable
// than the vocabulary heuristic, which exists only for completions that
// ignore the instruction.
const Marker = "PROBE_QUERY:"

var (
	markerRe         = regexp.MustCompile(`(?i)PROBE_QUERY:`)
	selectDistinctRe = regexp.MustCompile(`(?is)\bSELECT\s+DISTINCT\b`)
	selectRe         = regexp.MustCompile(`(?is)\bSELECT\b`)

	uncertaintyWords = []string{
		"not sure", "unsure", "unclear", "ambiguous", "which of",
		"could refer", "could mean", "do you mean", "need to check",
		"need to look", "to clarify", "first check",
	}
)

// Resolver detects probe queries inside raw LLM completions and extracts
// their SQL. It performs no execution itself.
type Resolver struct {
	guard *guard.Guard
}

func NewResolver(g *guard.Guard) *Resolver {
	return &Resolver{guard: g}
}

// ExtractProbe returns the probe SQL embedded in text, if any. A probe is
// either explicitly marked or signalled by uncertainty vocabulary combined
// with a SELECT DISTINCT pattern. Extracted text that does not itself
// classify as SQL is discarded.
func (r *Resolver) ExtractProbe(text string) (string, bool) {
	candidate, ok := r.locate(text)
	if !ok {
		return "", false
	}
	sql := extractStatement(candidate)
	if sql == "" || !r.guard.Classify(sql) {
		return "", false
	}
	return sql, true
}

func (r *Resolver) locate(text string) (string, bool) {
	if loc := markerRe.FindStringIndex(text); loc != nil {
		return text[loc[1]:], true
	}

	lower := strings.ToLower(text)
	for _, w := range uncertaintyWords {
		if strings.Contains(lower, w) && selectDistinctRe.MatchString(text) {
			return text, true
		}
	}
	return "", false
}

// extractStatement takes the substring from the first SELECT to the next
// blank line or statement terminator.
func extractStatement(text string) string {
	loc := selectRe.FindStringIndex(text)
	if loc == nil {
		return ""
	}
	stmt := text[loc[0]:]

	if idx := strings.Index(stmt, "\n\n"); idx >= 0 {
		stmt = stmt[:idx]
	}
	if idx := strings.IndexByte(stmt, ';'); idx >= 0 {
		stmt = stmt[:idx]
	}
	stmt = strings.TrimSuffix(strings.TrimSpace(stmt), "```")
	return strings.TrimSpace(stmt)
}
