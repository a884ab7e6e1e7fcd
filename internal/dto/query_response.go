package dto

// QueryResponse is the single response shape for every terminal outcome.
// Successful answers carry SQL, columns, rows and a chart recommendation;
// clarifications carry ChartTag "clarification" plus AnswerText and nothing
// else. The HTTP layer always returns 200 with this body.
type QueryResponse struct {
	ConversationId string                   `json:"conversationId,omitempty"`
	OriginalQuery  string                   `json:"originalQuery"`
	EffectiveQuery string                   `json:"effectiveQuery,omitempty"` // after follow-up rewriting
	SQL            string                   `json:"sql,omitempty"`
	Columns        []string                 `json:"columns,omitempty"`
	Rows           []map[string]interface{} `json:"rows,omitempty"`
	ChartTag       string                   `json:"chartTag"`
	Alternatives   []string                 `json:"alternatives,omitempty"`
	Insight        *string                  `json:"insight,omitempty"`
	AnswerText     *string                  `json:"answerText,omitempty"`
	FromCache      bool                     `json:"fromCache"`
	Rounds         int                      `json:"rounds"`
	Trace          []string                 `json:"trace,omitempty"`
}

// ChartTagClarification marks a text-only answer that asks the user to
// resolve an ambiguity instead of guessing.
const ChartTagClarification = "clarification"

func (r *QueryResponse) IsClarification() bool {
	return r.ChartTag == ChartTagClarification
}
