package handler

import (
	"net/http"
	"strconv"

	"github.com/blues/commission/internal/apperr"
	"github.com/blues/commission/internal/logger"
	"github.com/gin-gonic/gin"
)

// ActorHeader 调用方用户ID请求头
const ActorHeader = "X-User-ID"

// SuccessResponse 成功响应
func SuccessResponse(c *gin.Context, statusCode int, message string, data interface{}) {
	c.JSON(statusCode, Response{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// ErrorResponse 错误响应
func ErrorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, Response{
		Success: false,
		Message: message,
		Data:    nil,
	})
}

// FailResponse 按业务错误类别返回对应的 HTTP 状态码
func FailResponse(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status := statusForKind(kind)
	if kind == "" {
		logger.Error("%s %s failed: %v", c.Request.Method, c.FullPath(), err)
		ErrorResponse(c, status, "internal error")
		return
	}
	if kind == apperr.KindGateway {
		logger.Error("%s %s gateway failure: %v", c.Request.Method, c.FullPath(), err)
	}

	c.JSON(status, Response{
		Success: false,
		Message: err.Error(),
		Data: ErrorDetail{
			Kind: string(kind),
			Code: apperr.CodeOf(err),
		},
	})
}

func statusForKind(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindPreconditionFailed:
		return http.StatusPreconditionFailed
	case apperr.KindInvalidStateTransition, apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindGateway:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// bindError 请求体解析失败
func bindError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, Response{
		Success: false,
		Message: err.Error(),
		Data: ErrorDetail{
			Kind: string(apperr.KindValidation),
			Code: apperr.CodeFieldInvalid,
		},
	})
}

// actorID 从请求头读取调用方，缺失或非法时返回 401
func actorID(c *gin.Context) (int64, bool) {
	raw := c.GetHeader(ActorHeader)
	id, err := strconv.ParseInt(raw, 10, 64)
	if raw == "" || err != nil || id <= 0 {
		ErrorResponse(c, http.StatusUnauthorized, "missing or invalid "+ActorHeader+" header")
		return 0, false
	}
	return id, true
}

// pathID 解析路径中的ID参数
func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		ErrorResponse(c, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}
