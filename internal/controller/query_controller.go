package controller

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"insight-engine-backend/internal/cache"
	"insight-engine-backend/internal/dto"
	"insight-engine-backend/internal/model"
	"insight-engine-backend/internal/registry"
	"insight-engine-backend/internal/repository"
	"insight-engine-backend/internal/service"
	"insight-engine-backend/internal/store"
)

type QueryController struct {
	queryService  service.QueryService
	registry      *registry.Registry
	semanticCache cache.SemanticCache
	conversations store.ConversationStore
}

func NewQueryController(
	queryService service.QueryService,
	reg *registry.Registry,
	semanticCache cache.SemanticCache,
	conversations store.ConversationStore,
) *QueryController {
	return &QueryController{
		queryService:  queryService,
		registry:      reg,
		semanticCache: semanticCache,
		conversations: conversations,
	}
}

func RegisterQueryRoutes(router *gin.Engine, controller *QueryController) {
	v1 := router.Group("/api/v1")
	{
		v1.POST("/query", controller.HandleQuery)
		v1.POST("/conversations", controller.HandleCreateConversation)
		v1.POST("/datasets/:id/invalidate", controller.HandleInvalidate)
	}
}

// HandleQuery godoc
// @Summary      Answer a natural language question about a dataset
// @Description  Takes a natural language question, an optional conversation ID for follow-ups, and a dataset ID. Generates SQL via the LLM under a bounded reflection loop, executes it read-only against the dataset, and returns rows plus a chart recommendation. Ambiguous questions come back as a clarification (chartTag "clarification") instead of a wrong answer.
// @Tags         query
// @Accept       json
// @Produce      json
// @Param        request body dto.QueryRequest true "Question, dataset ID, optional conversation ID"
// @Success      200 {object} dto.QueryResponse "Executed result or clarification message"
// @Failure      400 {object} model.Response "Invalid request body"
// @Failure      404 {object} model.Response "Unknown dataset"
// @Failure      500 {object} model.Response "Internal server error"
// @Router       /api/v1/query [post]
func (c *QueryController) HandleQuery(ctx *gin.Context) {
	var req dto.QueryRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		log.Warn().Err(err).Msg("Invalid query request body")
		ctx.JSON(http.StatusBadRequest, model.NewResponse("Invalid request body: "+err.Error(), nil))
		return
	}

	handle, err := c.registry.Lookup(ctx.Request.Context(), req.DatasetID)
	if err != nil {
		if errors.Is(err, repository.ErrDatasetNotFound) {
			ctx.JSON(http.StatusNotFound, model.NewResponse("Unknown dataset: "+req.DatasetID, nil))
			return
		}
		log.Error().Err(err).Str("dataset", req.DatasetID).Msg("Failed to resolve dataset handle")
		ctx.JSON(http.StatusInternalServerError, model.NewResponse("Internal server error", nil))
		return
	}

	conversationId, history := c.resolveConversation(ctx, req)

	resp, err := c.queryService.Answer(ctx.Request.Context(), handle, req.Question, history, req.CacheEnabled())
	if err != nil {
		log.Error().Err(err).Str("question", req.Question).Msg("Internal error answering question")
		ctx.JSON(http.StatusInternalServerError, model.NewResponse("Internal server error", nil))
		return
	}
	resp.ConversationId = conversationId

	c.appendTurns(ctx, conversationId, req.Question, resp)
	ctx.JSON(http.StatusOK, resp)
}

// HandleCreateConversation godoc
// @Summary      Start a new conversation
// @Tags         query
// @Produce      json
// @Success      200 {object} dto.CreateConversationResponse
// @Router       /api/v1/conversations [post]
func (c *QueryController) HandleCreateConversation(ctx *gin.Context) {
	id, err := c.conversations.CreateConversation(ctx.Request.Context())
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, model.NewResponse("Internal server error", nil))
		return
	}
	ctx.JSON(http.StatusOK, dto.CreateConversationResponse{ConversationId: id})
}

// HandleInvalidate godoc
// @Summary      Invalidate everything cached for a dataset
// @Description  Removes all semantic cache entries for the dataset and evicts its pooled connection handle. Called when a dataset is retrained or its schema changes.
// @Tags         query
// @Produce      json
// @Param        id path string true "Dataset ID"
// @Success      200 {object} dto.InvalidateResponse
// @Router       /api/v1/datasets/{id}/invalidate [post]
func (c *QueryController) HandleInvalidate(ctx *gin.Context) {
	datasetID := ctx.Param("id")
	removed := c.semanticCache.InvalidateAll(ctx.Request.Context(), datasetID)
	c.registry.Evict(datasetID)
	ctx.JSON(http.StatusOK, dto.InvalidateResponse{
		DatasetID:      datasetID,
		EntriesRemoved: removed,
	})
}

func (c *QueryController) resolveConversation(ctx *gin.Context, req dto.QueryRequest) (string, []dto.ConversationTurn) {
	if req.ConversationId == nil || *req.ConversationId == "" {
		id, err := c.conversations.CreateConversation(ctx.Request.Context())
		if err != nil {
			log.Warn().Err(err).Msg("Failed to create conversation, continuing without history")
			return "", nil
		}
		return id, nil
	}

	history, err := c.conversations.GetHistory(ctx.Request.Context(), *req.ConversationId)
	if err != nil {
		log.Warn().Err(err).Str("conversation", *req.ConversationId).Msg("Unknown conversation, continuing without history")
		return *req.ConversationId, nil
	}
	return *req.ConversationId, history
}

func (c *QueryController) appendTurns(ctx *gin.Context, conversationId, question string, resp *dto.QueryResponse) {
	if conversationId == "" {
		return
	}
	assistantText := resp.SQL
	if resp.AnswerText != nil {
		assistantText = *resp.AnswerText
	}

	if err := c.conversations.AddTurn(ctx.Request.Context(), conversationId, dto.ConversationTurn{Role: model.RoleUser, Content: question}); err != nil {
		log.Warn().Err(err).Msg("Failed to append user turn")
		return
	}
	if err := c.conversations.AddTurn(ctx.Request.Context(), conversationId, dto.ConversationTurn{Role: model.RoleAssistant, Content: assistantText}); err != nil {
		log.Warn().Err(err).Msg("Failed to append assistant turn")
	}
}
