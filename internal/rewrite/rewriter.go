package rewrite

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"insight-engine-backend/internal/dto"
	"insight-engine-backend/internal/model"
)

// Completer is the slice of the LLM provider the rewriter needs.
type Completer interface {
	Complete(ctx context.Context, messages []model.ChatMessage) (string, error)
}

// shortQuestionRunes is the length under which a question counts as
// elliptical. Longer questions only qualify for rewriting when they carry a
// follow-up marker.
const shortQuestionRunes = 20

// maxHistoryTurns bounds how much conversation is replayed to the provider.
const maxHistoryTurns = 6

var followUpMarkers = []string{
	"and ", "also", "what about", "how about", "instead", "then ",
	"sort", "order by", "group", "split", "break down", "breakdown",
	"top ", "most", "least", "highest", "lowest", "best", "worst",
	"them", "those", "these", "it ", "same", "only ", "again", "by ",
}

var boilerplatePrefixes = []string{
	"standalone question:", "rewritten question:", "self-contained question:",
	"question:", "rewritten:", "here is the rewritten question:",
}

// Rewriter expands elliptical follow-up questions ("and split by city")
// into standalone ones using recent conversation turns.
type Rewriter struct {
	llm Completer
}

func NewRewriter(llm Completer) *Rewriter {
	return &Rewriter{llm: llm}
}

// ShouldRewrite decides whether the question depends on conversation
// context. entityLexicon is the dataset's visible table names: a question
// that names an entity explicitly and carries no follow-up marker is
// already standalone.
func (r *Rewriter) ShouldRewrite(question string, history []dto.ConversationTurn, entityLexicon []string) bool {
	if len(history) < 2 {
		return false
	}

	q := strings.ToLower(strings.TrimSpace(question))
	marker := containsAnyMarker(q)

	if containsEntity(q, entityLexicon) && !marker {
		return false
	}
	if utf8.RuneCountInString(q) > shortQuestionRunes && !marker {
		return false
	}
	return marker
}

// Rewrite asks the provider to produce a single self-contained question
// from the last turns plus the follow-up. On any provider failure the
// original question is returned unchanged.
func (r *Rewriter) Rewrite(ctx context.Context, question string, history []dto.ConversationTurn) string {
	turns := history
	if len(turns) > maxHistoryTurns {
		turns = turns[len(turns)-maxHistoryTurns:]
	}

	var b strings.Builder
	b.WriteString("Below is a conversation between a user and a data assistant, followed by a follow-up question. ")
	b.WriteString("Rewrite the follow-up as a single self-contained question that needs no conversation context. ")
	b.WriteString("Respond with the rewritten question only, no preamble and no quotes.\n\n")
	for _, t := range turns {
		b.WriteString(t.Role)
		b.WriteString(": ")
		b.WriteString(t.Content)
		b.WriteString("\n")
	}
	b.WriteString("\nFollow-up question: ")
	b.WriteString(question)

	out, err := r.llm.Complete(ctx, []model.ChatMessage{{Role: model.RoleUser, Content: b.String()}})
	if err != nil {
		log.Warn().Err(err).Str("question", question).Msg("Question rewrite failed, keeping original")
		return question
	}

	cleaned := cleanRewriteOutput(out)
	if cleaned == "" {
		return question
	}
	log.Debug().Str("original", question).Str("rewritten", cleaned).Msg("Rewrote follow-up question")
	return cleaned
}

func cleanRewriteOutput(out string) string {
	s := strings.TrimSpace(out)
	// Single-line answers only; a chatty multi-line reply keeps line one.
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = strings.TrimSpace(s[:idx])
	}
	lower := strings.ToLower(s)
	for _, p := range boilerplatePrefixes {
		if strings.HasPrefix(lower, p) {
			s = strings.TrimSpace(s[len(p):])
			break
		}
	}
	s = strings.Trim(s, `"'`+"`")
	return strings.TrimSpace(s)
}

func containsAnyMarker(q string) bool {
	for _, m := range followUpMarkers {
		if strings.Contains(q, m) {
			return true
		}
	}
	return false
}

func containsEntity(q string, lexicon []string) bool {
	for _, e := range lexicon {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if strings.Contains(q, e) {
			return true
		}
		// Singular form of a plural table name still names the entity.
		if strings.HasSuffix(e, "s") && strings.Contains(q, strings.TrimSuffix(e, "s")) {
			return true
		}
	}
	return false
}
