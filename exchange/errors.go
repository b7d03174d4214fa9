package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tradeguard/exchange/rest"
	"tradeguard/resilience"
)

// ErrorCode 网关错误码
type ErrorCode string

const (
	CodeAuthentication ErrorCode = "AUTHENTICATION_ERROR"
	CodeRateLimit      ErrorCode = "RATE_LIMIT"
	CodeBadRequest     ErrorCode = "BAD_REQUEST"
	CodeForbidden      ErrorCode = "FORBIDDEN"
	CodeServer         ErrorCode = "SERVER_ERROR"
	CodeNetwork        ErrorCode = "NETWORK_ERROR"
	CodeCircuitOpen    ErrorCode = "CIRCUIT_OPEN"
	CodeValidation     ErrorCode = "VALIDATION_ERROR"
	CodeEmergencyStop  ErrorCode = "EMERGENCY_STOP_ACTIVE"
	CodeOrderNotFound  ErrorCode = "ORDER_NOT_FOUND"
	CodeUnknown        ErrorCode = "UNKNOWN_ERROR"
)

var (
	// ErrEmergencyStopActive 紧急停止期间拒绝所有交易
	ErrEmergencyStopActive = errors.New("emergency stop is active")
	// ErrOrderNotFound 订单不存在或不属于本实例
	ErrOrderNotFound = errors.New("order not found")
)

// ExchangeError 网关对外暴露的唯一错误类型
type ExchangeError struct {
	Code       ErrorCode
	Message    string
	StatusCode int
	Op         string
	Err        error
}

func (e *ExchangeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.StatusCode)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	return msg
}

func (e *ExchangeError) Unwrap() error { return e.Err }

// RetryAfter 限流错误携带的等待时间
func (e *ExchangeError) RetryAfter() time.Duration {
	var rl *rest.RateLimitError
	if errors.As(e.Err, &rl) {
		return rl.RetryAfter
	}
	return 0
}

// ValidationError 风控或参数校验拒绝，不重试
type ValidationError struct {
	Reason         string
	AdjustedAmount float64 // 建议数量，0 表示无建议
}

func (e *ValidationError) Error() string {
	if e.AdjustedAmount > 0 {
		return fmt.Sprintf("交易校验未通过: %s (建议数量 %.8f)", e.Reason, e.AdjustedAmount)
	}
	return "交易校验未通过: " + e.Reason
}

// WrapError 把下层错误转换为 ExchangeError，已是 ExchangeError 的原样返回
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var exErr *ExchangeError
	if errors.As(err, &exErr) {
		return exErr
	}
	return &ExchangeError{
		Code:       classify(err),
		Message:    err.Error(),
		StatusCode: rest.StatusCode(err),
		Op:         op,
		Err:        err,
	}
}

func classify(err error) ErrorCode {
	var (
		authErr *rest.AuthenticationError
		rlErr   *rest.RateLimitError
		badErr  *rest.BadRequestError
		fbErr   *rest.ForbiddenError
		srvErr  *rest.ServerError
		netErr  *rest.NetworkError
		valErr  *ValidationError
	)
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		return CodeCircuitOpen
	case errors.As(err, &authErr):
		return CodeAuthentication
	case errors.As(err, &rlErr):
		return CodeRateLimit
	case errors.As(err, &badErr):
		return CodeBadRequest
	case errors.As(err, &fbErr):
		return CodeForbidden
	case errors.As(err, &srvErr):
		return CodeServer
	case errors.As(err, &netErr), errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return CodeNetwork
	case errors.As(err, &valErr):
		return CodeValidation
	case errors.Is(err, ErrEmergencyStopActive):
		return CodeEmergencyStop
	case errors.Is(err, ErrOrderNotFound):
		return CodeOrderNotFound
	default:
		return CodeUnknown
	}
}

// CodeOf 提取错误码，非 ExchangeError 时按类型推断
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var exErr *ExchangeError
	if errors.As(err, &exErr) {
		return exErr.Code
	}
	return classify(err)
}
