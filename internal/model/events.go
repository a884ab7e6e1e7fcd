package model

import "time"

// DatasetEvent is published by the dataset training pipeline whenever a
// dataset's schema or knowledge changes. Consuming one invalidates every
// cached query and the pooled connection handle for that dataset.
type DatasetEvent struct {
	DatasetID  string    `json:"dataset_id"`
	Event      string    `json:"event"` // "retrained" | "schema_changed" | "deleted"
	OccurredAt time.Time `json:"occurred_at"`
}

// QueryAuditEvent records one successfully answered question. Produced
// best-effort after the response is assembled; consumers build usage
// analytics from it.
type QueryAuditEvent struct {
	DatasetID  string    `json:"dataset_id"`
	Question   string    `json:"question"`
	SQL        string    `json:"sql"`
	RowCount   int       `json:"row_count"`
	DurationMs int64     `json:"duration_ms"`
	ChartTag   string    `json:"chart_tag"`
	FromCache  bool      `json:"from_cache"`
	AskedAt    time.Time `json:"asked_at"`
}
