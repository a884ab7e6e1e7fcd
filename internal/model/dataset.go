package model

import (
	"database/sql"
	"fmt"
	"strings"
)

type ColumnSchema struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type TableSchema struct {
	Name    string         `json:"name"`
	Columns []ColumnSchema `json:"columns"`
}

// DatasetHandle carries everything the engine needs to answer questions
// about one dataset: a read-capable connection, the schema visible to
// generation, and the identifier scoping cache keys and retrieved
// knowledge. The handle is owned by the instance registry; the engine never
// mutates it.
type DatasetHandle struct {
	ID     string
	Name   string
	Tables []TableSchema
	DB     *sql.DB
}

func (h *DatasetHandle) TableNames() []string {
	names := make([]string, 0, len(h.Tables))
	for _, t := range h.Tables {
		names = append(names, t.Name)
	}
	return names
}

// SchemaText renders the visible schema in the compact form the generation
// prompt expects.
func (h *DatasetHandle) SchemaText() string {
	var b strings.Builder
	for _, t := range h.Tables {
		cols := make([]string, 0, len(t.Columns))
		for _, c := range t.Columns {
			cols = append(cols, fmt.Sprintf("%s %s", c.Name, c.Type))
		}
		fmt.Fprintf(&b, "TABLE %s (%s)\n", t.Name, strings.Join(cols, ", "))
	}
	return b.String()
}
