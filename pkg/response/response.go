package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "sudooom.arena/pkg/errors"
)

// Response 统一响应结构
type Response struct {
	Success bool   `json:"success"`
	Code    int    `json:"code"`
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
	Data    any    `json:"data"`
}

// Success 成功响应
func Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Code:    apperrors.CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

// Created 创建成功
func Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, Response{
		Success: true,
		Code:    apperrors.CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

// SuccessWithError 操作已成功但附带错误（例如奖金入账失败待重试），HTTP 状态仍为 200
func SuccessWithError(c *gin.Context, data any, err *apperrors.AppError) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Code:    err.Code,
		Message: err.Message,
		Reason:  err.Reason,
		Data:    data,
	})
}

// Error 从错误生成响应，HTTP 状态码由错误码推导
func Error(c *gin.Context, err error) {
	appErr := apperrors.As(err)
	c.JSON(appErr.HTTPStatus(), Response{
		Code:    appErr.Code,
		Message: appErr.Message,
		Reason:  appErr.Reason,
	})
}

// ErrorWithMsg 自定义错误消息
func ErrorWithMsg(c *gin.Context, err *apperrors.AppError, message string) {
	c.JSON(err.HTTPStatus(), Response{
		Code:    err.Code,
		Message: message,
		Reason:  err.Reason,
	})
}

// Abort 中止后续处理并返回错误
func Abort(c *gin.Context, err error) {
	Error(c, err)
	c.Abort()
}
