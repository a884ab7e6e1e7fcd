package rewrite_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"insight-engine-backend/internal/dto"
	"insight-engine-backend/internal/model"
	"insight-engine-backend/internal/rewrite"
)

type stubCompleter struct {
	reply string
	err   error
	calls int
}

func (s *stubCompleter) Complete(ctx context.Context, messages []model.ChatMessage) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.reply, nil
}

func twoTurns() []dto.ConversationTurn {
	return []dto.ConversationTurn{
		{Role: model.RoleUser, Content: "show revenue by month for 2024"},
		{Role: model.RoleAssistant, Content: "SELECT month, SUM(total) FROM orders GROUP BY month"},
	}
}

func TestRewriter_ShouldRewrite(t *testing.T) {
	r := rewrite.NewRewriter(&stubCompleter{})
	lexicon := []string{"orders", "customers"}

	tests := []struct {
		name     string
		question string
		history  []dto.ConversationTurn
		expected bool
	}{
		{
			name:     "No History",
			question: "and split by city",
			history:  nil,
			expected: false,
		},
		{
			name:     "Single Turn Is Not Enough",
			question: "and split by city",
			history:  twoTurns()[:1],
			expected: false,
		},
		{
			name:     "Elliptical Follow Up",
			question: "and by city",
			history:  twoTurns(),
			expected: true,
		},
		{
			name:     "Pronoun Reference",
			question: "sort them",
			history:  twoTurns(),
			expected: true,
		},
		{
			name:     "Entity Named Without Marker",
			question: "show revenue for customers",
			history:  twoTurns(),
			expected: false,
		},
		{
			name:     "Entity Named With Marker Still Rewrites",
			question: "top customers by revenue",
			history:  twoTurns(),
			expected: true,
		},
		{
			name:     "Long Standalone Question",
			question: "what was the total revenue across all regions in january",
			history:  twoTurns(),
			expected: false,
		},
		{
			name:     "Short Question Without Marker",
			question: "hello",
			history:  twoTurns(),
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, r.ShouldRewrite(tt.question, tt.history, lexicon))
		})
	}
}

func TestRewriter_Rewrite(t *testing.T) {
	stub := &stubCompleter{reply: "What is revenue by city for 2024?"}
	r := rewrite.NewRewriter(stub)

	got := r.Rewrite(context.Background(), "and by city", twoTurns())
	assert.Equal(t, "What is revenue by city for 2024?", got)
	assert.Equal(t, 1, stub.calls)
}

func TestRewriter_Rewrite_CleansBoilerplate(t *testing.T) {
	tests := []struct {
		name     string
		reply    string
		expected string
	}{
		{
			name:     "Prefix Stripped",
			reply:    "Rewritten question: What is revenue by city?",
			expected: "What is revenue by city?",
		},
		{
			name:     "Quotes Stripped",
			reply:    `"What is revenue by city?"`,
			expected: "What is revenue by city?",
		},
		{
			name:     "Only First Line Kept",
			reply:    "What is revenue by city?\nI rewrote this because the original was ambiguous.",
			expected: "What is revenue by city?",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := rewrite.NewRewriter(&stubCompleter{reply: tt.reply})
			assert.Equal(t, tt.expected, r.Rewrite(context.Background(), "and by city", twoTurns()))
		})
	}
}

func TestRewriter_Rewrite_ProviderFailureKeepsOriginal(t *testing.T) {
	r := rewrite.NewRewriter(&stubCompleter{err: errors.New("provider down")})

	got := r.Rewrite(context.Background(), "and by city", twoTurns())
	assert.Equal(t, "and by city", got)
}

func TestRewriter_Rewrite_EmptyReplyKeepsOriginal(t *testing.T) {
	r := rewrite.NewRewriter(&stubCompleter{reply: "   \n  "})

	got := r.Rewrite(context.Background(), "and by city", twoTurns())
	assert.Equal(t, "and by city", got)
}
