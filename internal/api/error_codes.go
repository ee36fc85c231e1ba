// internal/api/error_codes.go
package api

import (
	"net/http"

	apperrors "github.com/Corphon/BookForge/internal/errors"
)

// API错误代码常量
const (
	// 通用错误
	ErrorBadRequest    = "BAD_REQUEST"
	ErrorNotFound      = "NOT_FOUND"
	ErrorInternalError = "INTERNAL_ERROR"
	ErrorConflict      = "CONFLICT"
	ErrorRateLimited   = "RATE_LIMIT_EXCEEDED"

	// 项目相关错误
	ErrorProjectNotFound    = "PROJECT_NOT_FOUND"
	ErrorProjectBusy        = "PROJECT_BUSY"
	ErrorMessageInvalid     = "MESSAGE_INVALID"
	ErrorPreconditionFailed = "PRECONDITION_FAILED"
	ErrorWorkflowBroken     = "WORKFLOW_STEP_MISSING"

	// LLM服务相关错误
	ErrorLLMServiceUnavailable = "LLM_SERVICE_UNAVAILABLE"
	ErrorLLMConfigInvalid      = "LLM_CONFIG_INVALID"
	ErrorLLMResponseMalformed  = "LLM_RESPONSE_MALFORMED"
	ErrorLLMTimeout            = "LLM_TIMEOUT"

	// 导出相关错误
	ErrorExportFailed        = "EXPORT_FAILED"
	ErrorExportFormatInvalid = "EXPORT_FORMAT_INVALID"
)

// errorStatus 把领域错误映射为 HTTP 状态码和错误代码
func errorStatus(err error) (int, string) {
	kind, ok := apperrors.TypeOf(err)
	if !ok {
		return http.StatusInternalServerError, ErrorInternalError
	}

	switch kind {
	case apperrors.ErrorTypeValidation:
		return http.StatusBadRequest, ErrorBadRequest
	case apperrors.ErrorTypeNotFound:
		return http.StatusNotFound, ErrorProjectNotFound
	case apperrors.ErrorTypeConflict:
		return http.StatusConflict, ErrorProjectBusy
	case apperrors.ErrorTypePrecondition:
		return http.StatusUnprocessableEntity, ErrorPreconditionFailed
	case apperrors.ErrorTypeTimeout:
		return http.StatusGatewayTimeout, ErrorLLMTimeout
	case apperrors.ErrorTypeBoundary:
		return http.StatusBadGateway, ErrorLLMServiceUnavailable
	case apperrors.ErrorTypeMalformedResponse:
		return http.StatusBadGateway, ErrorLLMResponseMalformed
	case apperrors.ErrorTypeMissingStep:
		return http.StatusInternalServerError, ErrorWorkflowBroken
	default:
		return http.StatusInternalServerError, ErrorInternalError
	}
}
