package dto

type QueryRequest struct {
	DatasetID      string  `json:"datasetId" binding:"required"`
	Question       string  `json:"question" binding:"required"`
	ConversationId *string `json:"conversationId,omitempty"`
	UseCache       *bool   `json:"useCache,omitempty"` // nil means true
}

func (r QueryRequest) CacheEnabled() bool {
	return r.UseCache == nil || *r.UseCache
}
