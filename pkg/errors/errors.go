package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError 应用错误类型
// 包含错误码、用户可见消息，以及可选的细分原因（如非法落子的具体原因）
type AppError struct {
	Code    int    // 错误码
	Message string // 用户可见的错误消息
	Reason  string // 细分原因，例如 occupied / not_your_turn
	Err     error  // 原始错误（可选，用于调试）
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	msg := fmt.Sprintf("[%d] %s", e.Code, e.Message)
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap 支持 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewError 创建新错误
func NewError(code int, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap 包装原始错误
func (e *AppError) Wrap(err error) *AppError {
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Reason:  e.Reason,
		Err:     err,
	}
}

// WithReason 返回带细分原因的副本
func (e *AppError) WithReason(reason string) *AppError {
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Reason:  reason,
		Err:     e.Err,
	}
}

// HTTPStatus 由错误码的前三位推导 HTTP 状态码
func (e *AppError) HTTPStatus() int {
	status := e.Code / 100
	if status < 400 || status > 599 {
		return http.StatusInternalServerError
	}
	return status
}

// Is 判断是否为指定错误
func Is(err error, target *AppError) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == target.Code
	}
	return false
}

// As 提取 AppError，非 AppError 统一视为服务器错误
func As(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return ErrServerError.Wrap(err)
}

// GetCode 获取错误码，如果不是 AppError 返回默认错误码
func GetCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeServerError
}

// GetMessage 获取错误消息
func GetMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "服务器内部错误"
}

// GetReason 获取细分原因
func GetReason(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Reason
	}
	return ""
}

// ============== 错误码定义 ==============
// 前三位即 HTTP 状态码

const (
	CodeSuccess = 0

	// 请求错误 400xx
	CodeInvalidMove   = 40001
	CodeInvalidParams = 40002

	// 余额 402xx
	CodeInsufficientFunds = 40201

	// 权限 403xx
	CodeUnauthorized = 40301

	// 资源 404xx
	CodeNotFound = 40401

	// 状态冲突 409xx
	CodeInvalidState     = 40901
	CodeConflict         = 40902
	CodeAlreadyRequested = 40903

	// 系统错误 500xx / 502xx
	CodeServerError       = 50001
	CodeSettlementFailure = 50201
)

// 非法落子的细分原因
const (
	ReasonOccupied     = "occupied"
	ReasonOutOfBounds  = "out_of_bounds"
	ReasonNotYourTurn  = "not_your_turn"
	ReasonGameFinished = "game_finished"
)

// ============== 预定义错误 ==============

var (
	ErrInvalidMove   = NewError(CodeInvalidMove, "非法落子")
	ErrInvalidParams = NewError(CodeInvalidParams, "参数校验失败")

	ErrInsufficientFunds = NewError(CodeInsufficientFunds, "余额不足")

	ErrUnauthorized    = NewError(CodeUnauthorized, "无权执行该操作")
	ErrNotAParticipant = NewError(CodeUnauthorized, "不是该房间的玩家")

	ErrRoomNotFound = NewError(CodeNotFound, "房间不存在")

	ErrInvalidState     = NewError(CodeInvalidState, "房间状态不允许该操作")
	ErrConflict         = NewError(CodeConflict, "房间繁忙，请稍后重试")
	ErrAlreadyRequested = NewError(CodeAlreadyRequested, "已有待处理的再来一局请求")

	ErrServerError       = NewError(CodeServerError, "服务器内部错误")
	ErrSettlementFailure = NewError(CodeSettlementFailure, "结算失败，稍后将自动重试")
)

// ErrNotYourTurn 非法落子：未轮到该玩家
var ErrNotYourTurn = ErrInvalidMove.WithReason(ReasonNotYourTurn)
