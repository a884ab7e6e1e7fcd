package dto

type ConversationTurn struct {
	Role    string `json:"role"` // "user" | "assistant"
	Content string `json:"content"`
}

type InvalidateResponse struct {
	DatasetID      string `json:"datasetId"`
	EntriesRemoved int    `json:"entriesRemoved"`
}

type CreateConversationResponse struct {
	ConversationId string `json:"conversationId"`
}
