package model

// ChatMessage is one turn in an LLM conversation.
type ChatMessage struct {
	Role    string `json:"role"` // "user" | "assistant"
	Content string `json:"content"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// GenerationKind discriminates what a raw LLM completion turned out to be.
type GenerationKind string

const (
	// GenerationSQL is a final query ready for the safety check.
	GenerationSQL GenerationKind = "sql"
	// GenerationProbe is an intermediate query the engine runs to discover
	// real column values before committing to a final query.
	GenerationProbe GenerationKind = "probe"
	// GenerationProse is anything that is not executable SQL; surfaced to
	// the user as a clarification.
	GenerationProse GenerationKind = "prose"
)

// GenerationResponse is the classified form of a raw LLM completion.
// Exactly one kind is active; downstream logic switches on Kind instead of
// re-sniffing the text.
type GenerationResponse struct {
	Kind GenerationKind
	// Text is the SQL text for sql/probe kinds and the verbatim completion
	// for prose.
	Text string
	// Raw is the completion as returned by the provider, kept for tracing.
	Raw string
}
