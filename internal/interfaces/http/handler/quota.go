package handler

import (
	"github.com/gin-gonic/gin"

	"book-dialogue-api/internal/application/quota"
	"book-dialogue-api/internal/interfaces/http/dto"
	"book-dialogue-api/internal/interfaces/http/middleware"
)

// QuotaHandler 配额查询与发放处理器
type QuotaHandler struct {
	ledger *quota.Ledger
}

// NewQuotaHandler 创建配额处理器
func NewQuotaHandler(ledger *quota.Ledger) *QuotaHandler {
	return &QuotaHandler{ledger: ledger}
}

// GetQuota 查询当前用户配额状态
// @Summary 查询配额
// @Description 返回当前周期的额度、用量与重置时间
// @Tags Quota
// @Produce json
// @Success 200 {object} dto.Response[dto.QuotaResponse]
// @Router /v1/quota [get]
func (h *QuotaHandler) GetQuota(c *gin.Context) {
	record, err := h.ledger.Current(
		c.Request.Context(),
		middleware.GetUserIDFromGin(c),
		middleware.GetTierFromGin(c),
	)
	if err != nil {
		respondError(c, err)
		return
	}

	dto.Success(c, dto.NewQuotaResponse(record))
}

// GrantExtra 发放附加额度（运营接口）
// @Summary 发放附加额度
// @Description 为指定用户增加本周期内的附加额度，不跨周期结转
// @Tags Quota
// @Accept json
// @Produce json
// @Success 200 {object} dto.Response[gin.H]
// @Failure 400 {object} dto.ErrorResponse
// @Router /v1/quota/extra [post]
func (h *QuotaHandler) GrantExtra(c *gin.Context) {
	var req dto.GrantExtraRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	if err := h.ledger.GrantExtra(c.Request.Context(), req.UserID, req.Units); err != nil {
		respondError(c, err)
		return
	}

	dto.Success(c, gin.H{"user_id": req.UserID, "granted": req.Units})
}
