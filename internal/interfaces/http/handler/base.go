// Package handler 提供 HTTP 请求处理器
package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"book-dialogue-api/internal/interfaces/http/dto"
	apperrors "book-dialogue-api/pkg/errors"
)

// respondError 把应用错误映射到 HTTP 响应。
// AppError 携带自己的 HTTP 状态码与错误码，其余错误一律 500。
func respondError(c *gin.Context, err error) {
	appErr := apperrors.AsAppError(err)
	dto.ErrorWithDetail(c, appErr.HTTPStatus, appErr.Message, &dto.ErrorDetail{
		ErrorCode: string(appErr.Code),
		Details:   appErr.Detail,
		Retryable: appErr.Retryable,
	})
}

// queryInt 解析整型查询参数，非法值回退为默认值
func queryInt(c *gin.Context, name string, def int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
