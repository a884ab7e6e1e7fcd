package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"insight-engine-backend/config"
	"insight-engine-backend/internal/cache"
	"insight-engine-backend/internal/chart"
	"insight-engine-backend/internal/dto"
	"insight-engine-backend/internal/executor"
	"insight-engine-backend/internal/guard"
	"insight-engine-backend/internal/kafka"
	"insight-engine-backend/internal/knowledge"
	"insight-engine-backend/internal/model"
	"insight-engine-backend/internal/probe"
	"insight-engine-backend/internal/repository"
	"insight-engine-backend/internal/rewrite"
)

const (
	defaultMaxRounds   = 3
	probeValueLimit    = 50
	retrievalSize      = 8
	insightCallTimeout = 15 * time.Second
)

// QueryService turns a natural-language question into either an executed
// result with a chart recommendation or a clarification asking the user to
// resolve an ambiguity. It runs a bounded reflection loop: generate,
// classify, then execute a probe or the final SQL, correcting failed
// queries until the round budget is spent.
type QueryService interface {
	Answer(ctx context.Context, handle *model.DatasetHandle, question string, history []dto.ConversationTurn, useCache bool) (*dto.QueryResponse, error)
}

type queryService struct {
	llm       LLMService
	guard     *guard.Guard
	resolver  *probe.Resolver
	cache     cache.SemanticCache
	engine    executor.Engine
	retriever knowledge.Retriever
	rewriter  *rewrite.Rewriter
	history   repository.HistoryRepository
	audit     kafka.AuditProducer
	maxRounds int
}

func NewQueryService(
	cfg *config.Config,
	llm LLMService,
	g *guard.Guard,
	resolver *probe.Resolver,
	semanticCache cache.SemanticCache,
	engine executor.Engine,
	retriever knowledge.Retriever,
	rewriter *rewrite.Rewriter,
	history repository.HistoryRepository,
	audit kafka.AuditProducer,
) QueryService {
	maxRounds := cfg.Engine.MaxRounds
	if maxRounds <= 0 {
		maxRounds = defaultMaxRounds
	}
	return &queryService{
		llm:       llm,
		guard:     g,
		resolver:  resolver,
		cache:     semanticCache,
		engine:    engine,
		retriever: retriever,
		rewriter:  rewriter,
		history:   history,
		audit:     audit,
		maxRounds: maxRounds,
	}
}

// run carries one request's mutable state through the state machine.
type run struct {
	handle    *model.DatasetHandle
	original  string
	question  string
	trace     []string
	round     int
	startedAt time.Time
}

func (r *run) step(format string, args ...interface{}) {
	r.trace = append(r.trace, fmt.Sprintf(format, args...))
}

func (s *queryService) Answer(ctx context.Context, handle *model.DatasetHandle, question string, history []dto.ConversationTurn, useCache bool) (*dto.QueryResponse, error) {
	r := &run{
		handle:    handle,
		original:  question,
		question:  question,
		round:     1,
		startedAt: time.Now(),
	}
	log.Info().Str("dataset", handle.ID).Str("question", question).Msg("Processing question")

	// ContextRewriter runs once, before the first generation call.
	if len(history) > 0 && s.rewriter.ShouldRewrite(question, history, handle.TableNames()) {
		rewritten := s.rewriter.Rewrite(ctx, question, history)
		if rewritten != question {
			r.question = rewritten
			r.step("rewrote follow-up question to %q", rewritten)
		}
	}

	// Cache lookup: a hit skips generation entirely, but the SQL is always
	// re-executed so results reflect the live dataset.
	if useCache {
		if cachedSQL, ok := s.cache.Get(ctx, handle.ID, r.question); ok {
			r.step("cache hit, re-executing cached SQL")
			outcome := s.engine.Execute(ctx, handle, cachedSQL, s.guard.RowCeiling())
			if outcome.OK() {
				return s.finalize(ctx, r, cachedSQL, outcome, true), nil
			}
			// Schema may have drifted; drop the stale entry and generate.
			s.cache.Invalidate(ctx, handle.ID, r.question)
			r.step("cached SQL failed (%s), invalidated entry", outcome.Failure.Message)
		}
	}

	fragments, err := s.retriever.Retrieve(ctx, handle.ID, r.question, retrievalSize)
	if err != nil {
		log.Warn().Err(err).Str("dataset", handle.ID).Msg("Knowledge retrieval failed, generating without context")
		fragments = nil
		r.step("knowledge retrieval unavailable")
	}

	raw, err := s.llm.Complete(ctx, []model.ChatMessage{
		{Role: model.RoleUser, Content: buildGenerationPrompt(handle, r.question, fragments)},
	})
	if err != nil {
		log.Error().Err(err).Msg("Generation call failed")
		return s.clarifyWithApology(ctx, r, fallbackApology), nil
	}

	for {
		gen := s.classifyResponse(raw)
		r.step("round %d: classified response as %s", r.round, gen.Kind)

		switch gen.Kind {
		case model.GenerationProse:
			// The model answered in prose: either a clarifying question or
			// an explanation why it cannot answer. Surface it verbatim.
			return s.clarify(r, gen.Text), nil

		case model.GenerationProbe:
			values, ok := s.executeProbe(ctx, handle, gen.Text)
			if !ok {
				// Best effort: treat the probe SQL as the candidate final
				// query and let the safety check and executor judge it.
				r.step("probe execution failed, trying probe SQL as final query")
				resp, retryRaw, done := s.checkAndExecute(ctx, r, gen.Text)
				if done {
					return resp, nil
				}
				raw = retryRaw
				continue
			}

			r.step("probe returned %d candidate values", len(values))
			if r.round >= s.maxRounds {
				return s.clarify(r, fallbackExhausted), nil
			}
			raw, err = s.llm.Complete(ctx, []model.ChatMessage{
				{Role: model.RoleUser, Content: buildReflectionPrompt(r.question, gen.Text, values)},
			})
			if err != nil {
				log.Error().Err(err).Msg("Reflection call failed")
				return s.clarifyWithApology(ctx, r, fallbackApology), nil
			}
			r.round++

		case model.GenerationSQL:
			resp, retryRaw, done := s.checkAndExecute(ctx, r, gen.Text)
			if done {
				return resp, nil
			}
			raw = retryRaw
		}
	}
}

// classifyResponse maps a raw completion onto the generation union. Every
// string maps to exactly one variant.
func (s *queryService) classifyResponse(raw string) model.GenerationResponse {
	if probeSQL, ok := s.resolver.ExtractProbe(raw); ok {
		return model.GenerationResponse{Kind: model.GenerationProbe, Text: probeSQL, Raw: raw}
	}
	cleaned := stripCodeFence(raw)
	if s.guard.Classify(cleaned) {
		return model.GenerationResponse{Kind: model.GenerationSQL, Text: cleaned, Raw: raw}
	}
	return model.GenerationResponse{Kind: model.GenerationProse, Text: strings.TrimSpace(raw), Raw: raw}
}

// checkAndExecute runs SafetyCheck and Execute for one candidate query.
// It either produces a terminal response (done=true) or a fresh completion
// from the correction prompt to feed back into classification.
func (s *queryService) checkAndExecute(ctx context.Context, r *run, sqlText string) (*dto.QueryResponse, string, bool) {
	normalized, err := s.guard.Normalize(sqlText)
	if err != nil {
		r.step("round %d: safety check rejected query (%s)", r.round, err)
		return s.correct(ctx, r, sqlText, err.Error())
	}

	outcome := s.engine.Execute(ctx, r.handle, normalized, s.guard.RowCeiling())
	if outcome.TimedOut() {
		// Retrying an inherently slow query would only time out again, so
		// this consumes no round.
		r.step("round %d: execution timed out", r.round)
		return s.clarify(r, timeoutSuggestion), "", true
	}
	if !outcome.OK() {
		r.step("round %d: execution failed (%s)", r.round, outcome.Failure.Message)
		return s.correct(ctx, r, normalized, outcome.Failure.Message)
	}

	return s.finalize(ctx, r, normalized, outcome, false), "", true
}

// correct builds the error-correction prompt and asks for another attempt,
// unless the round budget is already spent.
func (s *queryService) correct(ctx context.Context, r *run, failingSQL, errMsg string) (*dto.QueryResponse, string, bool) {
	if r.round >= s.maxRounds {
		return s.clarifyWithApology(ctx, r, fallbackExhausted), "", true
	}

	raw, err := s.llm.Complete(ctx, []model.ChatMessage{
		{Role: model.RoleUser, Content: buildCorrectionPrompt(r.question, failingSQL, errMsg)},
	})
	if err != nil {
		log.Error().Err(err).Msg("Correction call failed")
		return s.clarifyWithApology(ctx, r, fallbackApology), "", true
	}
	r.round++
	return nil, raw, false
}

// executeProbe runs a probe query and collects the distinct values of its
// first column as strings.
func (s *queryService) executeProbe(ctx context.Context, handle *model.DatasetHandle, probeSQL string) ([]string, bool) {
	normalized, err := s.guard.Normalize(probeSQL)
	if err != nil {
		log.Warn().Err(err).Msg("Probe rejected by safety check")
		return nil, false
	}

	outcome := s.engine.Execute(ctx, handle, normalized, s.guard.RowCeiling())
	if !outcome.OK() || len(outcome.Columns) == 0 {
		return nil, false
	}

	col := outcome.Columns[0]
	seen := make(map[string]struct{})
	values := make([]string, 0, len(outcome.Rows))
	for _, row := range outcome.Rows {
		v, ok := row[col]
		if !ok || v == nil {
			continue
		}
		str := fmt.Sprintf("%v", v)
		if _, dup := seen[str]; dup {
			continue
		}
		seen[str] = struct{}{}
		values = append(values, str)
		if len(values) >= probeValueLimit {
			break
		}
	}
	return values, len(values) > 0
}

func (s *queryService) finalize(ctx context.Context, r *run, sqlText string, outcome model.ExecutionOutcome, fromCache bool) *dto.QueryResponse {
	tag := chart.Recommend(outcome.Columns, outcome.Rows, r.question)
	alternatives := chart.Alternatives(outcome.Columns, outcome.Rows, tag)
	r.step("recommended chart %q", tag)

	if !fromCache {
		s.cache.Put(ctx, r.handle.ID, r.question, sqlText)
	}

	resp := &dto.QueryResponse{
		OriginalQuery:  r.original,
		EffectiveQuery: r.question,
		SQL:            sqlText,
		Columns:        outcome.Columns,
		Rows:           outcome.Rows,
		ChartTag:       string(tag),
		Alternatives:   tagStrings(alternatives),
		FromCache:      fromCache,
		Rounds:         r.round,
		Trace:          r.trace,
	}

	// Insight generation is best effort and never fails the response.
	insightCtx, cancel := context.WithTimeout(ctx, insightCallTimeout)
	defer cancel()
	if insight, err := s.llm.Complete(insightCtx, []model.ChatMessage{
		{Role: model.RoleUser, Content: buildInsightPrompt(r.question, outcome.Columns, outcome.Rows)},
	}); err == nil {
		if trimmed := strings.TrimSpace(insight); trimmed != "" {
			resp.Insight = &trimmed
		}
	} else {
		log.Warn().Err(err).Msg("Insight generation failed, returning result without insight")
	}

	durationMs := time.Since(r.startedAt).Milliseconds()
	s.recordHistory(ctx, r, resp, durationMs)
	s.publishAudit(ctx, r, resp, durationMs)

	log.Info().
		Str("dataset", r.handle.ID).
		Str("chart", resp.ChartTag).
		Int("rows", len(resp.Rows)).
		Int("rounds", r.round).
		Bool("from_cache", fromCache).
		Msg("Question answered")
	return resp
}

func (s *queryService) recordHistory(ctx context.Context, r *run, resp *dto.QueryResponse, durationMs int64) {
	if s.history == nil {
		return
	}
	rec := &repository.QueryRecord{
		DatasetID:  r.handle.ID,
		Question:   r.question,
		SQL:        resp.SQL,
		RowCount:   len(resp.Rows),
		DurationMs: durationMs,
		ChartTag:   resp.ChartTag,
		FromCache:  resp.FromCache,
	}
	if err := s.history.Record(ctx, rec); err != nil {
		log.Warn().Err(err).Msg("Failed to record query history")
	}
}

func (s *queryService) publishAudit(ctx context.Context, r *run, resp *dto.QueryResponse, durationMs int64) {
	if s.audit == nil {
		return
	}
	event := model.QueryAuditEvent{
		DatasetID:  r.handle.ID,
		Question:   r.question,
		SQL:        resp.SQL,
		RowCount:   len(resp.Rows),
		DurationMs: durationMs,
		ChartTag:   resp.ChartTag,
		FromCache:  resp.FromCache,
		AskedAt:    r.startedAt.UTC(),
	}
	if err := s.audit.Publish(ctx, []model.QueryAuditEvent{event}); err != nil {
		log.Warn().Err(err).Msg("Failed to publish query audit event")
	}
}

func (s *queryService) clarify(r *run, message string) *dto.QueryResponse {
	message = strings.TrimSpace(message)
	return &dto.QueryResponse{
		OriginalQuery:  r.original,
		EffectiveQuery: r.question,
		ChartTag:       dto.ChartTagClarification,
		AnswerText:     &message,
		Rounds:         r.round,
		Trace:          r.trace,
	}
}

// clarifyWithApology asks the provider for a user-facing apology and falls
// back to a static message when the provider itself is unreachable.
func (s *queryService) clarifyWithApology(ctx context.Context, r *run, fallback string) *dto.QueryResponse {
	message := fallback
	if apology, err := s.llm.Complete(ctx, []model.ChatMessage{
		{Role: model.RoleUser, Content: buildApologyPrompt(r.question)},
	}); err == nil {
		if trimmed := strings.TrimSpace(apology); trimmed != "" {
			message = trimmed
		}
	}
	return s.clarify(r, message)
}

func tagStrings(tags []chart.Tag) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		out = append(out, string(t))
	}
	return out
}
