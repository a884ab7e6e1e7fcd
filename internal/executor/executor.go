package executor

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"insight-engine-backend/config"
	"insight-engine-backend/internal/model"
)

// Engine runs read-only SQL against a dataset's connection. Failures come
// back inside the outcome so the orchestrator can branch on the kind;
// mutation safety is the guard's job, not the engine's.
type Engine interface {
	Execute(ctx context.Context, handle *model.DatasetHandle, sqlText string, rowLimit int) model.ExecutionOutcome
}

type sqlEngine struct {
	timeout time.Duration
}

func NewEngine(cfg *config.Config) Engine {
	timeout := cfg.Engine.QueryTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &sqlEngine{timeout: timeout}
}

func (e *sqlEngine) Execute(ctx context.Context, handle *model.DatasetHandle, sqlText string, rowLimit int) model.ExecutionOutcome {
	queryCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	rows, err := handle.DB.QueryContext(queryCtx, sqlText)
	if err != nil {
		return failureFrom(queryCtx, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return failureFrom(queryCtx, err)
	}

	resultRows := make([]map[string]interface{}, 0)
	for rows.Next() {
		values := make([]interface{}, len(columns))
		scanTargets := make([]interface{}, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return failureFrom(queryCtx, err)
		}

		row := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			row[col] = normalizeValue(values[i])
		}
		resultRows = append(resultRows, row)

		// The guard already bounded the query with LIMIT; this is a second
		// ceiling for drivers that ignore it.
		if rowLimit > 0 && len(resultRows) >= rowLimit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return failureFrom(queryCtx, err)
	}

	log.Debug().
		Str("dataset", handle.ID).
		Int("rows", len(resultRows)).
		Dur("duration", time.Since(start)).
		Msg("Executed dataset query")

	return model.ExecutionOutcome{Columns: columns, Rows: resultRows}
}

func failureFrom(ctx context.Context, err error) model.ExecutionOutcome {
	kind := model.FailureExecution
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		strings.Contains(strings.ToLower(err.Error()), "timeout") {
		kind = model.FailureTimeout
	}
	return model.ExecutionOutcome{
		Failure: &model.ExecutionFailure{Kind: kind, Message: err.Error()},
	}
}

func normalizeValue(v interface{}) interface{} {
	switch tv := v.(type) {
	case []byte:
		return string(tv)
	default:
		return tv
	}
}
