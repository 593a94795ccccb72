package handler

import (
	"github.com/gin-gonic/gin"

	"book-dialogue-api/internal/application/search"
	"book-dialogue-api/internal/domain/entity"
	"book-dialogue-api/internal/domain/repository"
	"book-dialogue-api/internal/interfaces/http/dto"
	"book-dialogue-api/internal/interfaces/http/middleware"
)

// SearchHandler 发现检索处理器
type SearchHandler struct {
	coordinator  *search.Coordinator
	feedbackRepo repository.SearchFeedbackRepository
}

// NewSearchHandler 创建发现检索处理器
func NewSearchHandler(coordinator *search.Coordinator, feedbackRepo repository.SearchFeedbackRepository) *SearchHandler {
	return &SearchHandler{
		coordinator:  coordinator,
		feedbackRepo: feedbackRepo,
	}
}

// Search 书籍发现检索
// @Summary 书籍发现检索
// @Description 按自然语言查询检索已发布书籍，向量召回后启发式重排
// @Tags Search
// @Produce json
// @Param q query string true "查询文本"
// @Param type query string false "查询意图：question/title/author"
// @Param category query string false "分类过滤"
// @Param page query int false "页码"
// @Param limit query int false "每页数量"
// @Success 200 {object} dto.Response[dto.SearchResponse]
// @Failure 400 {object} dto.ErrorResponse
// @Router /v1/search [get]
func (h *SearchHandler) Search(c *gin.Context) {
	var req dto.SearchRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		dto.BadRequest(c, "invalid search request: "+err.Error())
		return
	}

	result, err := h.coordinator.Search(c.Request.Context(), search.Request{
		UserID:   middleware.GetUserIDFromGin(c),
		Query:    req.Query,
		Type:     req.Type,
		Category: req.Category,
		Page:     req.Page,
		Limit:    req.Limit,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	dto.SuccessWithPage(c, dto.NewSearchResponse(result),
		dto.NewPageMeta(result.Page, result.Limit, result.Total))
}

// Feedback 提交检索结果反馈
// @Summary 检索结果反馈
// @Description 记录用户对某条检索结果的点击或点踩
// @Tags Search
// @Accept json
// @Produce json
// @Success 201 {object} dto.Response[gin.H]
// @Failure 400 {object} dto.ErrorResponse
// @Router /v1/search/feedback [post]
func (h *SearchHandler) Feedback(c *gin.Context) {
	var req dto.SearchFeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "invalid feedback request: "+err.Error())
		return
	}

	fb := &entity.SearchFeedback{
		UserID:   middleware.GetUserIDFromGin(c),
		Query:    req.Query,
		BookID:   req.BookID,
		Action:   req.Action,
		Position: req.Position,
	}
	if err := h.feedbackRepo.Create(c.Request.Context(), fb); err != nil {
		respondError(c, err)
		return
	}

	dto.Created(c, gin.H{"id": fb.ID})
}
