package repository

import "time"

// Dataset is a catalog row describing one registered dataset: where to
// connect and which tables generation may see. Ownership and CRUD live in
// another service; this engine only reads the catalog.
type Dataset struct {
	ID         string `gorm:"primaryKey;size:64"`
	Name       string `gorm:"size:255"`
	DSN        string `gorm:"column:dsn;size:1024"`
	SchemaJSON string `gorm:"column:schema_json;type:json"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (Dataset) TableName() string {
	return "datasets"
}

// QueryRecord is one successfully answered question. Only successes are
// recorded; clarifications carry no SQL worth learning from.
type QueryRecord struct {
	ID         string `gorm:"primaryKey;size:36"`
	DatasetID  string `gorm:"size:64;index"`
	Question   string `gorm:"type:text"`
	SQL        string `gorm:"column:sql_text;type:text"`
	RowCount   int
	DurationMs int64
	ChartTag   string `gorm:"size:32"`
	FromCache  bool
	CreatedAt  time.Time
}

func (QueryRecord) TableName() string {
	return "query_history"
}
