package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	CodeParamError   = http.StatusBadRequest
	CodeUnauthorized = http.StatusUnauthorized
	CodeNotFound     = http.StatusNotFound
	CodeConflict     = http.StatusConflict
	CodeServerError  = http.StatusInternalServerError
)

// ErrorBody 错误响应统一格式
type ErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Success 直接输出业务数据，不再包一层 data
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, data)
}

func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, data)
}

// Error HTTP 状态码与 body 中的 code 一致
func Error(c *gin.Context, code int, message string) {
	c.AbortWithStatusJSON(code, ErrorBody{
		Code:    code,
		Message: message,
	})
}

func ParamError(c *gin.Context, message string) {
	Error(c, CodeParamError, message)
}

func Unauthorized(c *gin.Context, message string) {
	Error(c, CodeUnauthorized, message)
}

func NotFound(c *gin.Context, message string) {
	Error(c, CodeNotFound, message)
}

func Conflict(c *gin.Context, message string) {
	Error(c, CodeConflict, message)
}

func ServerError(c *gin.Context, message string) {
	Error(c, CodeServerError, message)
}

// Text 纯文本页面，用于支付回跳
func Text(c *gin.Context, code int, message string) {
	c.String(code, message)
}
