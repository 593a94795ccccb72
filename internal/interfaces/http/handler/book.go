package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"book-dialogue-api/internal/domain/entity"
	"book-dialogue-api/internal/domain/repository"
	"book-dialogue-api/internal/infrastructure/messaging"
	rediscache "book-dialogue-api/internal/infrastructure/persistence/redis"
	"book-dialogue-api/internal/interfaces/http/dto"
	"book-dialogue-api/pkg/logger"
)

// BookHandler 书籍管理处理器
type BookHandler struct {
	bookRepo      repository.BookRepository
	characterRepo repository.CharacterRepository
	producer      *messaging.Producer
	cache         *rediscache.Cache
}

// NewBookHandler 创建书籍管理处理器
func NewBookHandler(
	bookRepo repository.BookRepository,
	characterRepo repository.CharacterRepository,
	producer *messaging.Producer,
	cache *rediscache.Cache,
) *BookHandler {
	return &BookHandler{
		bookRepo:      bookRepo,
		characterRepo: characterRepo,
		producer:      producer,
		cache:         cache,
	}
}

// CreateBook 创建书籍（未发布状态，待摄取完成后可检索）
// @Summary 创建书籍
// @Tags Books
// @Accept json
// @Produce json
// @Success 201 {object} dto.Response[dto.BookResponse]
// @Failure 400 {object} dto.ErrorResponse
// @Router /v1/books [post]
func (h *BookHandler) CreateBook(c *gin.Context) {
	var req dto.CreateBookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	book := &entity.Book{
		Title:       req.Title,
		Author:      req.Author,
		Description: req.Description,
		Category:    req.Category,
		Tags:        req.Tags,
		Language:    req.Language,
	}
	if err := h.bookRepo.Create(c.Request.Context(), book); err != nil {
		respondError(c, err)
		return
	}

	dto.Created(c, dto.NewBookResponse(book))
}

// GetBook 获取书籍详情
// @Summary 获取书籍详情
// @Tags Books
// @Produce json
// @Param bid path string true "书籍 ID"
// @Success 200 {object} dto.Response[dto.BookResponse]
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/books/{bid} [get]
func (h *BookHandler) GetBook(c *gin.Context) {
	book, err := h.bookRepo.GetByID(c.Request.Context(), c.Param("bid"))
	if err != nil {
		respondError(c, err)
		return
	}

	dto.Success(c, dto.NewBookResponse(book))
}

// ListBooks 按分类分页列出已发布书籍
// @Summary 列出书籍
// @Tags Books
// @Produce json
// @Param category query string false "分类"
// @Param page query int false "页码"
// @Param limit query int false "每页数量"
// @Success 200 {object} dto.Response[[]dto.BookResponse]
// @Router /v1/books [get]
func (h *BookHandler) ListBooks(c *gin.Context) {
	page := queryInt(c, "page", 1)
	limit := queryInt(c, "limit", 20)

	result, err := h.bookRepo.ListByCategory(
		c.Request.Context(),
		c.Query("category"),
		repository.NewPagination(page, limit),
	)
	if err != nil {
		respondError(c, err)
		return
	}

	items := make([]dto.BookResponse, 0, len(result.Items))
	for _, b := range result.Items {
		items = append(items, dto.NewBookResponse(b))
	}
	dto.SuccessWithPage(c, items, dto.NewPageMeta(page, limit, int(result.Total)))
}

// IngestBook 受理书籍正文摄取任务
// @Summary 摄取书籍正文
// @Description 正文切块向量化由 worker 异步执行，成功后书籍自动发布
// @Tags Books
// @Accept json
// @Produce json
// @Param bid path string true "书籍 ID"
// @Success 202 {object} dto.Response[dto.IngestAcceptedResponse]
// @Failure 400 {object} dto.ErrorResponse
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/books/{bid}/ingest [post]
func (h *BookHandler) IngestBook(c *gin.Context) {
	bookID := c.Param("bid")

	var req dto.IngestBookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	// 书籍必须已存在，避免为无主内容建向量
	if _, err := h.bookRepo.GetByID(c.Request.Context(), bookID); err != nil {
		respondError(c, err)
		return
	}

	jobID := uuid.NewString()
	_, err := h.producer.PublishIngestJob(c.Request.Context(), &messaging.IngestJobMessage{
		JobID:          jobID,
		BookID:         bookID,
		Content:        req.Content,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	// 旧排序缓存里可能还有该书的过期画像
	if h.cache != nil {
		if err := h.cache.InvalidateSearchResults(c.Request.Context()); err != nil {
			logger.Warn(c.Request.Context(), "search cache invalidation failed", "error", err)
		}
	}

	dto.Accepted(c, dto.IngestAcceptedResponse{JobID: jobID, BookID: bookID})
}

// CreateCharacter 为书籍创建可对话角色
// @Summary 创建角色
// @Tags Books
// @Accept json
// @Produce json
// @Param bid path string true "书籍 ID"
// @Success 201 {object} dto.Response[dto.CharacterResponse]
// @Failure 400 {object} dto.ErrorResponse
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/books/{bid}/characters [post]
func (h *BookHandler) CreateCharacter(c *gin.Context) {
	bookID := c.Param("bid")

	var req dto.CreateCharacterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	if _, err := h.bookRepo.GetByID(c.Request.Context(), bookID); err != nil {
		respondError(c, err)
		return
	}

	ch := &entity.Character{
		BookID:      bookID,
		Name:        req.Name,
		Description: req.Description,
		Persona:     req.Persona,
	}
	if err := h.characterRepo.Create(c.Request.Context(), ch); err != nil {
		respondError(c, err)
		return
	}

	dto.Created(c, dto.NewCharacterResponse(ch))
}

// ListCharacters 列出书籍的全部角色
// @Summary 列出角色
// @Tags Books
// @Produce json
// @Param bid path string true "书籍 ID"
// @Success 200 {object} dto.Response[[]dto.CharacterResponse]
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/books/{bid}/characters [get]
func (h *BookHandler) ListCharacters(c *gin.Context) {
	characters, err := h.characterRepo.ListByBook(c.Request.Context(), c.Param("bid"))
	if err != nil {
		respondError(c, err)
		return
	}

	items := make([]dto.CharacterResponse, 0, len(characters))
	for _, ch := range characters {
		items = append(items, dto.NewCharacterResponse(ch))
	}
	dto.Success(c, items)
}
