package service_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"insight-engine-backend/config"
	"insight-engine-backend/internal/cache"
	"insight-engine-backend/internal/dto"
	"insight-engine-backend/internal/executor"
	"insight-engine-backend/internal/guard"
	"insight-engine-backend/internal/knowledge"
	"insight-engine-backend/internal/model"
	"insight-engine-backend/internal/probe"
	"insight-engine-backend/internal/rewrite"
	"insight-engine-backend/internal/service"
)

// scriptedLLM replays canned completions in order and records every prompt
// it receives. Once the script runs out it errors, which exercises the
// best-effort paths (insight, apology) without extra setup.
type scriptedLLM struct {
	replies []string
	prompts []string
}

func (s *scriptedLLM) Complete(ctx context.Context, messages []model.ChatMessage) (string, error) {
	s.prompts = append(s.prompts, messages[len(messages)-1].Content)
	if len(s.replies) == 0 {
		return "", errors.New("script exhausted")
	}
	reply := s.replies[0]
	s.replies = s.replies[1:]
	return reply, nil
}

type fakeEngine struct {
	outcomes map[string]model.ExecutionOutcome
	executed []string
}

func (e *fakeEngine) Execute(ctx context.Context, handle *model.DatasetHandle, sqlText string, rowLimit int) model.ExecutionOutcome {
	e.executed = append(e.executed, sqlText)
	if outcome, ok := e.outcomes[sqlText]; ok {
		return outcome
	}
	return model.ExecutionOutcome{
		Failure: &model.ExecutionFailure{Kind: model.FailureExecution, Message: "relation does not exist"},
	}
}

type fakeCache struct {
	entries     map[string]string
	gets        int
	puts        int
	invalidated []string
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]string)}
}

func cacheTestKey(datasetID, question string) string {
	return datasetID + "\x00" + question
}

func (c *fakeCache) Get(ctx context.Context, datasetID, question string) (string, bool) {
	c.gets++
	sql, ok := c.entries[cacheTestKey(datasetID, question)]
	return sql, ok
}

func (c *fakeCache) Put(ctx context.Context, datasetID, question, sql string) {
	c.puts++
	c.entries[cacheTestKey(datasetID, question)] = sql
}

func (c *fakeCache) Invalidate(ctx context.Context, datasetID, question string) {
	c.invalidated = append(c.invalidated, question)
	delete(c.entries, cacheTestKey(datasetID, question))
}

func (c *fakeCache) InvalidateAll(ctx context.Context, datasetID string) int {
	removed := 0
	for k := range c.entries {
		if strings.HasPrefix(k, datasetID+"\x00") {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

type fakeRetriever struct {
	fragments []knowledge.Fragment
	err       error
}

func (r *fakeRetriever) Retrieve(ctx context.Context, datasetID, question string, size int) ([]knowledge.Fragment, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.fragments, nil
}

type harness struct {
	llm       *scriptedLLM
	rewLLM    *scriptedLLM
	engine    *fakeEngine
	cache     *fakeCache
	retriever *fakeRetriever
	svc       service.QueryService
}

func newHarness(maxRounds int) *harness {
	h := &harness{
		llm:       &scriptedLLM{},
		rewLLM:    &scriptedLLM{},
		engine:    &fakeEngine{outcomes: make(map[string]model.ExecutionOutcome)},
		cache:     newFakeCache(),
		retriever: &fakeRetriever{},
	}

	cfg := &config.Config{}
	cfg.Engine.MaxRounds = maxRounds
	g := guard.New(1000)

	h.svc = service.NewQueryService(
		cfg,
		h.llm,
		g,
		probe.NewResolver(g),
		cache.SemanticCache(h.cache),
		executor.Engine(h.engine),
		h.retriever,
		rewrite.NewRewriter(h.rewLLM),
		nil,
		nil,
	)
	return h
}

func salesHandle() *model.DatasetHandle {
	return &model.DatasetHandle{
		ID:   "sales",
		Name: "Sales",
		Tables: []model.TableSchema{
			{Name: "orders", Columns: []model.ColumnSchema{
				{Name: "region", Type: "text"},
				{Name: "total", Type: "numeric"},
				{Name: "city", Type: "text"},
			}},
		},
	}
}

func successOutcome() model.ExecutionOutcome {
	return model.ExecutionOutcome{
		Columns: []string{"region", "total"},
		Rows: []map[string]interface{}{
			{"region": "north", "total": float64(120)},
			{"region": "south", "total": float64(95)},
			{"region": "west", "total": float64(40)},
		},
	}
}

func TestAnswer_HappyPath_AppendsRowCeiling(t *testing.T) {
	h := newHarness(3)
	h.llm.replies = []string{
		"SELECT region, SUM(total) AS total FROM orders GROUP BY region",
		"North leads revenue across all regions.",
	}
	normalized := "SELECT region, SUM(total) AS total FROM orders GROUP BY region LIMIT 1000"
	h.engine.outcomes[normalized] = successOutcome()

	resp, err := h.svc.Answer(context.Background(), salesHandle(), "total revenue by region", nil, true)
	require.NoError(t, err)

	assert.Equal(t, normalized, resp.SQL)
	assert.False(t, resp.FromCache)
	assert.Equal(t, 1, resp.Rounds)
	assert.NotEqual(t, dto.ChartTagClarification, resp.ChartTag)
	assert.NotEmpty(t, resp.ChartTag)
	assert.Len(t, resp.Rows, 3)
	require.NotNil(t, resp.Insight)
	assert.Equal(t, "North leads revenue across all regions.", *resp.Insight)
	assert.Equal(t, 1, h.cache.puts)
}

func TestAnswer_ProseBecomesClarification(t *testing.T) {
	h := newHarness(3)
	h.llm.replies = []string{"Which year do you mean, 2023 or 2024?"}

	resp, err := h.svc.Answer(context.Background(), salesHandle(), "revenue", nil, true)
	require.NoError(t, err)

	assert.Equal(t, dto.ChartTagClarification, resp.ChartTag)
	require.NotNil(t, resp.AnswerText)
	assert.Equal(t, "Which year do you mean, 2023 or 2024?", *resp.AnswerText)
	assert.Equal(t, 1, resp.Rounds)
	assert.Empty(t, h.engine.executed)
	assert.Zero(t, h.cache.puts)
	assert.Empty(t, resp.SQL)
}

func TestAnswer_ProbeResolvesAmbiguity(t *testing.T) {
	h := newHarness(3)
	h.llm.replies = []string{
		"PROBE_QUERY: SELECT DISTINCT tier FROM customers",
		"SELECT name FROM customers WHERE tier = 'vip'",
	}
	h.engine.outcomes["SELECT DISTINCT tier FROM customers LIMIT 1000"] = model.ExecutionOutcome{
		Columns: []string{"tier"},
		Rows: []map[string]interface{}{
			{"tier": "gold"}, {"tier": "silver"}, {"tier": "vip"},
		},
	}
	final := "SELECT name FROM customers WHERE tier = 'vip' LIMIT 1000"
	h.engine.outcomes[final] = model.ExecutionOutcome{
		Columns: []string{"name"},
		Rows:    []map[string]interface{}{{"name": "acme"}},
	}

	resp, err := h.svc.Answer(context.Background(), salesHandle(), "show vip customers", nil, true)
	require.NoError(t, err)

	assert.Equal(t, final, resp.SQL)
	assert.Equal(t, 2, resp.Rounds)
	assert.NotEqual(t, dto.ChartTagClarification, resp.ChartTag)

	// The reflection prompt carries the probed values back to the model.
	require.GreaterOrEqual(t, len(h.llm.prompts), 2)
	assert.Contains(t, h.llm.prompts[1], "gold, silver, vip")
}

func TestAnswer_ProbeStillAmbiguousClarifies(t *testing.T) {
	h := newHarness(3)
	h.llm.replies = []string{
		"PROBE_QUERY: SELECT DISTINCT tier FROM customers",
		"Did you mean gold, silver, or vip customers?",
	}
	h.engine.outcomes["SELECT DISTINCT tier FROM customers LIMIT 1000"] = model.ExecutionOutcome{
		Columns: []string{"tier"},
		Rows:    []map[string]interface{}{{"tier": "gold"}, {"tier": "silver"}, {"tier": "vip"}},
	}

	resp, err := h.svc.Answer(context.Background(), salesHandle(), "show premium customers", nil, true)
	require.NoError(t, err)

	assert.Equal(t, dto.ChartTagClarification, resp.ChartTag)
	require.NotNil(t, resp.AnswerText)
	assert.Equal(t, "Did you mean gold, silver, or vip customers?", *resp.AnswerText)
	assert.Equal(t, 2, resp.Rounds)
}

func TestAnswer_ProbeWithoutValuesFallsBackToDirectExecution(t *testing.T) {
	h := newHarness(3)
	h.llm.replies = []string{"PROBE_QUERY: SELECT DISTINCT region FROM orders"}
	normalized := "SELECT DISTINCT region FROM orders LIMIT 1000"
	h.engine.outcomes[normalized] = model.ExecutionOutcome{
		Columns: []string{"region"},
		Rows:    []map[string]interface{}{},
	}

	resp, err := h.svc.Answer(context.Background(), salesHandle(), "which regions exist", nil, true)
	require.NoError(t, err)

	// An empty probe result is still a valid answer to run as the final query.
	assert.Equal(t, normalized, resp.SQL)
	assert.Equal(t, 1, resp.Rounds)
	assert.NotEqual(t, dto.ChartTagClarification, resp.ChartTag)
}

func TestAnswer_ProbeExhaustsRoundBudget(t *testing.T) {
	h := newHarness(1)
	h.llm.replies = []string{"PROBE_QUERY: SELECT DISTINCT tier FROM customers"}
	h.engine.outcomes["SELECT DISTINCT tier FROM customers LIMIT 1000"] = model.ExecutionOutcome{
		Columns: []string{"tier"},
		Rows:    []map[string]interface{}{{"tier": "gold"}},
	}

	resp, err := h.svc.Answer(context.Background(), salesHandle(), "show premium customers", nil, true)
	require.NoError(t, err)

	assert.Equal(t, dto.ChartTagClarification, resp.ChartTag)
	require.NotNil(t, resp.AnswerText)
	assert.Contains(t, *resp.AnswerText, "multiple attempts")
}

func TestAnswer_ExecutionFailureTriggersCorrection(t *testing.T) {
	h := newHarness(3)
	h.llm.replies = []string{
		"SELECT revnue FROM orders",
		"SELECT total FROM orders",
	}
	h.engine.outcomes["SELECT total FROM orders LIMIT 1000"] = successOutcome()

	resp, err := h.svc.Answer(context.Background(), salesHandle(), "total revenue", nil, true)
	require.NoError(t, err)

	assert.Equal(t, "SELECT total FROM orders LIMIT 1000", resp.SQL)
	assert.Equal(t, 2, resp.Rounds)

	// The correction prompt includes the failing SQL and the error.
	require.GreaterOrEqual(t, len(h.llm.prompts), 2)
	assert.Contains(t, h.llm.prompts[1], "SELECT revnue FROM orders")
	assert.Contains(t, h.llm.prompts[1], "relation does not exist")
}

func TestAnswer_UnsafeQueryNeverReachesEngine(t *testing.T) {
	h := newHarness(3)
	h.llm.replies = []string{
		"SELECT * FROM users; DROP TABLE users",
		"SELECT region FROM orders",
	}
	h.engine.outcomes["SELECT region FROM orders LIMIT 1000"] = successOutcome()

	resp, err := h.svc.Answer(context.Background(), salesHandle(), "list users", nil, true)
	require.NoError(t, err)

	assert.Equal(t, "SELECT region FROM orders LIMIT 1000", resp.SQL)
	assert.Equal(t, 2, resp.Rounds)
	for _, executed := range h.engine.executed {
		assert.NotContains(t, executed, "DROP")
	}
}

func TestAnswer_RoundBudgetExhaustedClarifies(t *testing.T) {
	h := newHarness(3)
	h.llm.replies = []string{
		"SELECT a FROM t1",
		"SELECT b FROM t2",
		"SELECT c FROM t3",
		"Sorry, I could not work that one out. Could you rephrase?",
	}
	// No outcomes registered: every execution fails.

	resp, err := h.svc.Answer(context.Background(), salesHandle(), "impossible question", nil, true)
	require.NoError(t, err)

	assert.Equal(t, dto.ChartTagClarification, resp.ChartTag)
	require.NotNil(t, resp.AnswerText)
	assert.Equal(t, "Sorry, I could not work that one out. Could you rephrase?", *resp.AnswerText)
	assert.Equal(t, 3, resp.Rounds)
	assert.Len(t, h.engine.executed, 3)
}

func TestAnswer_TimeoutClarifiesImmediately(t *testing.T) {
	h := newHarness(3)
	h.llm.replies = []string{"SELECT region FROM orders"}
	h.engine.outcomes["SELECT region FROM orders LIMIT 1000"] = model.ExecutionOutcome{
		Failure: &model.ExecutionFailure{Kind: model.FailureTimeout, Message: "context deadline exceeded"},
	}

	resp, err := h.svc.Answer(context.Background(), salesHandle(), "all regions", nil, true)
	require.NoError(t, err)

	assert.Equal(t, dto.ChartTagClarification, resp.ChartTag)
	require.NotNil(t, resp.AnswerText)
	assert.Contains(t, *resp.AnswerText, "took too long")
	// A timeout is terminal and consumes no correction round.
	assert.Equal(t, 1, resp.Rounds)
	assert.Len(t, h.llm.prompts, 1)
	assert.Zero(t, h.cache.puts)
}

func TestAnswer_GenerationFailureFallsBackToApology(t *testing.T) {
	h := newHarness(3)
	// Empty script: generation and the apology call both fail.

	resp, err := h.svc.Answer(context.Background(), salesHandle(), "total revenue", nil, true)
	require.NoError(t, err)

	assert.Equal(t, dto.ChartTagClarification, resp.ChartTag)
	require.NotNil(t, resp.AnswerText)
	assert.Contains(t, *resp.AnswerText, "Sorry")
}

func TestAnswer_CacheHitSkipsGeneration(t *testing.T) {
	h := newHarness(3)
	cached := "SELECT region, total FROM orders LIMIT 500"
	h.cache.entries[cacheTestKey("sales", "total revenue by region")] = cached
	h.engine.outcomes[cached] = successOutcome()

	resp, err := h.svc.Answer(context.Background(), salesHandle(), "total revenue by region", nil, true)
	require.NoError(t, err)

	assert.True(t, resp.FromCache)
	assert.Equal(t, cached, resp.SQL)
	assert.Equal(t, []string{cached}, h.engine.executed)
	// Nothing is re-cached on a hit.
	assert.Zero(t, h.cache.puts)
	// Only the insight call reaches the provider.
	assert.LessOrEqual(t, len(h.llm.prompts), 1)
}

func TestAnswer_CacheDisabledSkipsLookup(t *testing.T) {
	h := newHarness(3)
	h.cache.entries[cacheTestKey("sales", "total revenue by region")] = "SELECT cached FROM t"
	h.llm.replies = []string{"SELECT region, total FROM orders"}
	h.engine.outcomes["SELECT region, total FROM orders LIMIT 1000"] = successOutcome()

	resp, err := h.svc.Answer(context.Background(), salesHandle(), "total revenue by region", nil, false)
	require.NoError(t, err)

	assert.False(t, resp.FromCache)
	assert.Zero(t, h.cache.gets)
	assert.Equal(t, "SELECT region, total FROM orders LIMIT 1000", resp.SQL)
}

func TestAnswer_StaleCacheEntryFallsThroughToGeneration(t *testing.T) {
	h := newHarness(3)
	stale := "SELECT dropped_column FROM orders LIMIT 1000"
	h.cache.entries[cacheTestKey("sales", "total revenue by region")] = stale
	h.llm.replies = []string{"SELECT region, total FROM orders"}
	fresh := "SELECT region, total FROM orders LIMIT 1000"
	h.engine.outcomes[fresh] = successOutcome()
	// The stale SQL has no registered outcome, so it fails.

	resp, err := h.svc.Answer(context.Background(), salesHandle(), "total revenue by region", nil, true)
	require.NoError(t, err)

	assert.False(t, resp.FromCache)
	assert.Equal(t, fresh, resp.SQL)
	assert.Contains(t, h.cache.invalidated, "total revenue by region")
	// The fresh SQL replaces the stale entry.
	assert.Equal(t, 1, h.cache.puts)
	assert.Equal(t, fresh, h.cache.entries[cacheTestKey("sales", "total revenue by region")])
}

func TestAnswer_FollowUpQuestionIsRewritten(t *testing.T) {
	h := newHarness(3)
	h.rewLLM.replies = []string{"total revenue by city"}
	h.llm.replies = []string{"SELECT city, SUM(total) FROM orders GROUP BY city"}
	normalized := "SELECT city, SUM(total) FROM orders GROUP BY city LIMIT 1000"
	h.engine.outcomes[normalized] = model.ExecutionOutcome{
		Columns: []string{"city", "sum"},
		Rows:    []map[string]interface{}{{"city": "hanoi", "sum": float64(10)}},
	}

	history := []dto.ConversationTurn{
		{Role: model.RoleUser, Content: "total revenue by region"},
		{Role: model.RoleAssistant, Content: "SELECT region, SUM(total) FROM orders GROUP BY region"},
	}

	resp, err := h.svc.Answer(context.Background(), salesHandle(), "and by city", history, true)
	require.NoError(t, err)

	assert.Equal(t, "and by city", resp.OriginalQuery)
	assert.Equal(t, "total revenue by city", resp.EffectiveQuery)
	assert.Equal(t, normalized, resp.SQL)
	// The cache is keyed by the rewritten question.
	assert.Contains(t, h.cache.entries, cacheTestKey("sales", "total revenue by city"))
}

func TestAnswer_RetrieverFailureDoesNotBlockGeneration(t *testing.T) {
	h := newHarness(3)
	h.retriever.err = errors.New("elasticsearch unavailable")
	h.llm.replies = []string{"SELECT region, total FROM orders"}
	h.engine.outcomes["SELECT region, total FROM orders LIMIT 1000"] = successOutcome()

	resp, err := h.svc.Answer(context.Background(), salesHandle(), "total revenue by region", nil, true)
	require.NoError(t, err)

	assert.NotEqual(t, dto.ChartTagClarification, resp.ChartTag)
	assert.Equal(t, "SELECT region, total FROM orders LIMIT 1000", resp.SQL)
}

func TestAnswer_KnowledgeFragmentsReachThePrompt(t *testing.T) {
	h := newHarness(3)
	h.retriever.fragments = []knowledge.Fragment{
		{DatasetID: "sales", Kind: "doc", Content: "Revenue means SUM(total), net of refunds."},
	}
	h.llm.replies = []string{"SELECT SUM(total) AS revenue FROM orders"}
	h.engine.outcomes["SELECT SUM(total) AS revenue FROM orders LIMIT 1000"] = model.ExecutionOutcome{
		Columns: []string{"revenue"},
		Rows:    []map[string]interface{}{{"revenue": float64(255)}},
	}

	_, err := h.svc.Answer(context.Background(), salesHandle(), "what is total revenue", nil, true)
	require.NoError(t, err)

	require.NotEmpty(t, h.llm.prompts)
	assert.Contains(t, h.llm.prompts[0], "net of refunds")
	assert.Contains(t, h.llm.prompts[0], "TABLE orders")
}

func TestAnswer_CodeFencedSQLIsAccepted(t *testing.T) {
	h := newHarness(3)
	h.llm.replies = []string{"```sql\nSELECT region, total FROM orders\n```"}
	h.engine.outcomes["SELECT region, total FROM orders LIMIT 1000"] = successOutcome()

	resp, err := h.svc.Answer(context.Background(), salesHandle(), "total revenue by region", nil, true)
	require.NoError(t, err)

	assert.Equal(t, "SELECT region, total FROM orders LIMIT 1000", resp.SQL)
	assert.Equal(t, 1, resp.Rounds)
}
