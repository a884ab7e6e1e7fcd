package service

import (
	"fmt"
	"strings"

	"insight-engine-backend/internal/knowledge"
	"insight-engine-backend/internal/model"
	"insight-engine-backend/internal/probe"
)

// Static fallbacks used when the provider cannot even produce an apology.
const (
	fallbackApology    = "Sorry, I could not answer that question right now. Please try rephrasing it."
	fallbackExhausted  = "Sorry, I could not understand the question after multiple attempts. Could you rephrase it more specifically?"
	timeoutSuggestion  = "The query took too long to run. Please narrow the scope, for example by limiting the time range or the number of entities."
	insightPromptLimit = 20 // rows included in the insight prompt
)

func buildGenerationPrompt(handle *model.DatasetHandle, question string, fragments []knowledge.Fragment) string {
	var b strings.Builder

	b.WriteString("You are a SQL analyst answering questions about one dataset. ")
	b.WriteString("Write a single read-only SQL SELECT query (PostgreSQL dialect) that answers the user's question.\n\n")

	b.WriteString("Rules:\n")
	b.WriteString("- Respond with the SQL query only, no explanation and no markdown fences.\n")
	b.WriteString("- Only SELECT (or WITH ... SELECT). Never modify data.\n")
	b.WriteString("- Only use tables and columns listed below.\n")
	fmt.Fprintf(&b, "- If you must inspect actual column values to resolve an ambiguous term, respond with one line starting with %s followed by a SELECT DISTINCT query over the relevant column.\n", probe.Marker)
	b.WriteString("- If the question cannot be answered from this schema at all, reply in plain language asking the user to clarify.\n\n")

	b.WriteString("Schema:\n")
	b.WriteString(handle.SchemaText())

	if len(fragments) > 0 {
		b.WriteString("\nContext that may help:\n")
		for _, f := range fragments {
			fmt.Fprintf(&b, "- [%s] %s\n", f.Kind, f.Content)
		}
	}

	fmt.Fprintf(&b, "\nQuestion: %s\n", question)
	return b.String()
}

func buildReflectionPrompt(question, probeSQL string, values []string) string {
	return fmt.Sprintf(`You previously ran this query to inspect real data values:

%s

It returned these distinct values: %s

Original question: %s

If one of these values clearly matches the question, write the final SQL SELECT query using it (SQL only, no explanation). If it is still ambiguous which value the user means, reply in plain language asking the user to choose between the listed values.`,
		probeSQL, strings.Join(values, ", "), question)
}

func buildCorrectionPrompt(question, failingSQL, errMsg string) string {
	return fmt.Sprintf(`The following SQL query failed to execute.

Query:
%s

Error:
%s

Original question: %s

Write a corrected SQL SELECT query that answers the question (SQL only, no explanation). If the error shows the question cannot be answered from the available schema, reply in plain language asking the user to clarify.`,
		failingSQL, errMsg, question)
}

func buildInsightPrompt(question string, columns []string, rows []map[string]interface{}) string {
	var b strings.Builder
	b.WriteString("Summarize the key finding in this query result in one or two short sentences for a business user. No preamble.\n\n")
	fmt.Fprintf(&b, "Question: %s\n", question)
	fmt.Fprintf(&b, "Columns: %s\n", strings.Join(columns, ", "))
	b.WriteString("Rows:\n")
	for i, row := range rows {
		if i >= insightPromptLimit {
			fmt.Fprintf(&b, "... and %d more rows\n", len(rows)-insightPromptLimit)
			break
		}
		parts := make([]string, 0, len(columns))
		for _, col := range columns {
			parts = append(parts, fmt.Sprintf("%s=%v", col, row[col]))
		}
		b.WriteString(strings.Join(parts, ", "))
		b.WriteString("\n")
	}
	return b.String()
}

func buildApologyPrompt(question string) string {
	return fmt.Sprintf(`Answering the question "%s" failed for technical reasons. Write one short, apologetic sentence asking the user to try again or rephrase. No technical detail.`, question)
}

// stripCodeFence removes a surrounding markdown code block, which models
// emit despite instructions.
func stripCodeFence(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```sql")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
