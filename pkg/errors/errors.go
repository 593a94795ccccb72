// Package errors 提供统一的错误定义
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode 错误码类型
type ErrorCode string

// 预定义错误码
const (
	// 通用错误 (1xxx)
	CodeSuccess            ErrorCode = "0"
	CodeUnknown            ErrorCode = "1000"
	CodeInvalidParam       ErrorCode = "1001"
	CodeUnauthorized       ErrorCode = "1002"
	CodeForbidden          ErrorCode = "1003"
	CodeNotFound           ErrorCode = "1004"
	CodeConflict           ErrorCode = "1005"
	CodeTooManyRequests    ErrorCode = "1006"
	CodeInternalError      ErrorCode = "1007"
	CodeServiceUnavailable ErrorCode = "1008"

	// 认证错误 (2xxx)
	CodeTokenExpired ErrorCode = "2001"
	CodeTokenInvalid ErrorCode = "2002"
	CodeTokenMissing ErrorCode = "2003"

	// 资源错误 (3xxx)
	CodeBookNotFound      ErrorCode = "3001"
	CodeCharacterNotFound ErrorCode = "3002"
	CodeSessionNotFound   ErrorCode = "3003"

	// 业务错误 (4xxx)
	CodeQuotaExceeded    ErrorCode = "4001"
	CodeSessionClosed    ErrorCode = "4002"
	CodeSessionBusy      ErrorCode = "4003"
	CodeGenerationFailed ErrorCode = "4004"
	CodeEmbeddingFailed  ErrorCode = "4005"
	CodeSearchFailed     ErrorCode = "4006"

	// 外部服务错误 (5xxx)
	CodeDatabaseError     ErrorCode = "5001"
	CodeCacheError        ErrorCode = "5002"
	CodeVectorDBError     ErrorCode = "5003"
	CodeUpstreamTransient ErrorCode = "5004"
)

// AppError 应用错误
type AppError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	Detail     string    `json:"detail,omitempty"`
	HTTPStatus int       `json:"-"`
	Retryable  bool      `json:"-"`
	Err        error     `json:"-"`
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 返回底层错误
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail 添加详细信息
func (e *AppError) WithDetail(detail string) *AppError {
	clone := *e
	clone.Detail = detail
	return &clone
}

// WithError 添加底层错误
func (e *AppError) WithError(err error) *AppError {
	clone := *e
	clone.Err = err
	return &clone
}

// New 创建新的应用错误
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
		Retryable:  codeIsRetryable(code),
	}
}

// Wrap 包装错误
func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
		Retryable:  codeIsRetryable(code),
		Err:        err,
	}
}

// codeToHTTPStatus 错误码转 HTTP 状态码
func codeToHTTPStatus(code ErrorCode) int {
	switch code {
	case CodeSuccess:
		return http.StatusOK
	case CodeInvalidParam:
		return http.StatusBadRequest
	case CodeUnauthorized, CodeTokenExpired, CodeTokenInvalid, CodeTokenMissing:
		return http.StatusUnauthorized
	case CodeForbidden, CodeQuotaExceeded:
		return http.StatusForbidden
	case CodeNotFound, CodeBookNotFound, CodeCharacterNotFound, CodeSessionNotFound:
		return http.StatusNotFound
	case CodeConflict, CodeSessionClosed, CodeSessionBusy:
		return http.StatusConflict
	case CodeTooManyRequests:
		return http.StatusTooManyRequests
	case CodeServiceUnavailable, CodeUpstreamTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// codeIsRetryable 判断错误码是否允许调用方重试
func codeIsRetryable(code ErrorCode) bool {
	switch code {
	case CodeUpstreamTransient, CodeServiceUnavailable, CodeGenerationFailed:
		return true
	default:
		return false
	}
}

// 预定义错误
var (
	ErrInvalidParam       = New(CodeInvalidParam, "invalid parameter")
	ErrUnauthorized       = New(CodeUnauthorized, "unauthorized")
	ErrForbidden          = New(CodeForbidden, "forbidden")
	ErrNotFound           = New(CodeNotFound, "resource not found")
	ErrConflict           = New(CodeConflict, "resource conflict")
	ErrTooManyRequests    = New(CodeTooManyRequests, "too many requests")
	ErrInternalError      = New(CodeInternalError, "internal server error")
	ErrServiceUnavailable = New(CodeServiceUnavailable, "service unavailable")

	ErrTokenExpired = New(CodeTokenExpired, "token expired")
	ErrTokenInvalid = New(CodeTokenInvalid, "token invalid")
	ErrTokenMissing = New(CodeTokenMissing, "token missing")

	ErrBookNotFound      = New(CodeBookNotFound, "book not found")
	ErrCharacterNotFound = New(CodeCharacterNotFound, "character not found")
	ErrSessionNotFound   = New(CodeSessionNotFound, "dialogue session not found")

	ErrQuotaExceeded    = New(CodeQuotaExceeded, "dialogue quota exceeded")
	ErrSessionClosed    = New(CodeSessionClosed, "dialogue session closed")
	ErrSessionBusy      = New(CodeSessionBusy, "another turn is in flight for this session")
	ErrGenerationFailed = New(CodeGenerationFailed, "generation failed")
	ErrEmbeddingFailed  = New(CodeEmbeddingFailed, "embedding failed")
	ErrSearchFailed     = New(CodeSearchFailed, "search failed")

	ErrDatabaseError     = New(CodeDatabaseError, "database error")
	ErrCacheError        = New(CodeCacheError, "cache error")
	ErrVectorDBError     = New(CodeVectorDBError, "vector database error")
	ErrUpstreamTransient = New(CodeUpstreamTransient, "upstream temporarily unavailable")
)

// IsAppError 检查是否为 AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError 将错误转换为 AppError
func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return Wrap(err, CodeUnknown, "unknown error")
}

// IsCode 检查错误是否携带指定错误码
func IsCode(err error, code ErrorCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsRetryable 检查错误是否允许重试
func IsRetryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	return false
}
