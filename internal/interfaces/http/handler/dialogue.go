package handler

import (
	"io"

	"github.com/gin-gonic/gin"

	"book-dialogue-api/internal/application/dialogue"
	"book-dialogue-api/internal/domain/entity"
	"book-dialogue-api/internal/domain/repository"
	"book-dialogue-api/internal/interfaces/http/dto"
	"book-dialogue-api/internal/interfaces/http/middleware"
	apperrors "book-dialogue-api/pkg/errors"
)

// DialogueHandler 对话会话处理器
type DialogueHandler struct {
	manager *dialogue.Manager
}

// NewDialogueHandler 创建对话会话处理器
func NewDialogueHandler(manager *dialogue.Manager) *DialogueHandler {
	return &DialogueHandler{manager: manager}
}

// CreateSession 创建对话会话
// @Summary 创建对话会话
// @Description 与整本书或书中角色开启一个对话会话
// @Tags Dialogues
// @Accept json
// @Produce json
// @Success 201 {object} dto.Response[dto.SessionResponse]
// @Failure 400 {object} dto.ErrorResponse
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/dialogues [post]
func (h *DialogueHandler) CreateSession(c *gin.Context) {
	var req dto.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	session, err := h.manager.CreateSession(
		c.Request.Context(),
		middleware.GetUserIDFromGin(c),
		req.BookID,
		entity.TargetKind(req.TargetKind),
		req.CharacterID,
	)
	if err != nil {
		respondError(c, err)
		return
	}

	dto.Created(c, dto.NewSessionResponse(session))
}

// SubmitTurn 提交一轮对话并以 SSE 流式返回回复
// @Summary 提交对话轮次
// @Description 提交用户输入，通过 SSE 流式返回模型回复
// @Tags Dialogues
// @Accept json
// @Produce text/event-stream
// @Param sid path string true "会话 ID"
// @Success 200 "SSE stream"
// @Failure 403 {object} dto.ErrorResponse
// @Failure 409 {object} dto.ErrorResponse
// @Router /v1/dialogues/{sid}/turns [post]
func (h *DialogueHandler) SubmitTurn(c *gin.Context) {
	var req dto.SubmitTurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	// 配额不足、会话占用等错误发生在流开始之前，走普通 JSON 错误响应
	stream, err := h.manager.SubmitTurn(
		c.Request.Context(),
		middleware.GetUserIDFromGin(c),
		middleware.GetTierFromGin(c),
		c.Param("sid"),
		req.Input,
	)
	if err != nil {
		respondError(c, err)
		return
	}

	streamTurn(c, stream)
}

// streamTurn 把轮次事件流写成 SSE
func streamTurn(c *gin.Context, stream *dialogue.TurnStream) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	index := 0

	c.Stream(func(w io.Writer) bool {
		ev, ok := <-stream.Events
		if !ok {
			return false
		}

		switch {
		case ev.Err != nil:
			appErr := apperrors.AsAppError(ev.Err)
			c.SSEvent("error", gin.H{
				"code":      string(appErr.Code),
				"message":   appErr.Message,
				"retryable": appErr.Retryable,
			})
			return false

		case ev.Done != nil:
			payload := gin.H{
				"canceled": ev.Done.Canceled,
			}
			if ev.Done.AssistantTurn != nil {
				turns := dto.NewTurnResponses([]*entity.DialogueTurn{ev.Done.AssistantTurn})
				payload["turn"] = turns[0]
			}
			c.SSEvent("done", payload)
			return false

		default:
			c.SSEvent("delta", gin.H{
				"content": ev.Delta,
				"index":   index,
			})
			index++
			return true
		}
	})
}

// GetSession 获取会话详情与历史轮次
// @Summary 获取会话详情
// @Tags Dialogues
// @Produce json
// @Param sid path string true "会话 ID"
// @Success 200 {object} dto.Response[dto.SessionDetailResponse]
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/dialogues/{sid} [get]
func (h *DialogueHandler) GetSession(c *gin.Context) {
	session, turns, err := h.manager.GetSession(
		c.Request.Context(),
		middleware.GetUserIDFromGin(c),
		c.Param("sid"),
	)
	if err != nil {
		respondError(c, err)
		return
	}

	dto.Success(c, dto.SessionDetailResponse{
		Session: dto.NewSessionResponse(session),
		Turns:   dto.NewTurnResponses(turns),
	})
}

// ListSessions 分页列出当前用户的会话
// @Summary 列出会话
// @Tags Dialogues
// @Produce json
// @Param page query int false "页码"
// @Param limit query int false "每页数量"
// @Success 200 {object} dto.Response[[]dto.SessionResponse]
// @Router /v1/dialogues [get]
func (h *DialogueHandler) ListSessions(c *gin.Context) {
	page := queryInt(c, "page", 1)
	limit := queryInt(c, "limit", 20)

	result, err := h.manager.ListSessions(
		c.Request.Context(),
		middleware.GetUserIDFromGin(c),
		repository.NewPagination(page, limit),
	)
	if err != nil {
		respondError(c, err)
		return
	}

	items := make([]dto.SessionResponse, 0, len(result.Items))
	for _, s := range result.Items {
		items = append(items, dto.NewSessionResponse(s))
	}
	dto.SuccessWithPage(c, items, dto.NewPageMeta(page, limit, int(result.Total)))
}

// EndSession 结束会话
// @Summary 结束会话
// @Tags Dialogues
// @Produce json
// @Param sid path string true "会话 ID"
// @Success 200 {object} dto.Response[dto.SessionResponse]
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/dialogues/{sid} [delete]
func (h *DialogueHandler) EndSession(c *gin.Context) {
	session, err := h.manager.EndSession(
		c.Request.Context(),
		middleware.GetUserIDFromGin(c),
		c.Param("sid"),
	)
	if err != nil {
		respondError(c, err)
		return
	}

	dto.Success(c, dto.NewSessionResponse(session))
}
