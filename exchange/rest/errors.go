package rest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
)

// AuthenticationError 401 / 凭证无效
type AuthenticationError struct {
	StatusCode int
	Label      string
	Message    string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed (%d %s): %s", e.StatusCode, e.Label, e.Message)
}

// RateLimitError 429，不自动重试
type RateLimitError struct {
	Label      string
	Message    string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited (retry after %v): %s", e.RetryAfter, e.Message)
	}
	return fmt.Sprintf("rate limited: %s", e.Message)
}

// BadRequestError 400 及其他不可重试的 4xx
type BadRequestError struct {
	StatusCode int
	Label      string
	Message    string
}

func (e *BadRequestError) Error() string {
	return fmt.Sprintf("bad request (%d %s): %s", e.StatusCode, e.Label, e.Message)
}

// ForbiddenError 403
type ForbiddenError struct {
	Label   string
	Message string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("forbidden (%s): %s", e.Label, e.Message)
}

// ServerError 5xx，按退避重试
type ServerError struct {
	StatusCode int
	Message    string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error (%d): %s", e.StatusCode, e.Message)
}

// NetworkError 连接失败或超时，按退避重试
type NetworkError struct {
	Err     error
	Timeout bool
}

func (e *NetworkError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("request timeout: %v", e.Err)
	}
	return fmt.Sprintf("network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// apiErrorBody 交易所错误响应体
type apiErrorBody struct {
	Label   string `json:"label"`
	Message string `json:"message"`
	Detail  string `json:"detail"`
}

// statusError 把非 2xx 响应映射为对应错误类型
func statusError(status int, header http.Header, body []byte) error {
	var apiErr apiErrorBody
	_ = json.Unmarshal(body, &apiErr)
	msg := apiErr.Message
	if msg == "" {
		msg = apiErr.Detail
	}
	if msg == "" {
		msg = truncate(string(body), 256)
	}

	switch {
	case status == http.StatusUnauthorized:
		return &AuthenticationError{StatusCode: status, Label: apiErr.Label, Message: msg}
	case status == http.StatusForbidden:
		return &ForbiddenError{Label: apiErr.Label, Message: msg}
	case status == http.StatusTooManyRequests:
		return &RateLimitError{Label: apiErr.Label, Message: msg, RetryAfter: parseRetryAfter(header.Get("Retry-After"))}
	case status >= 500:
		return &ServerError{StatusCode: status, Message: msg}
	default:
		return &BadRequestError{StatusCode: status, Label: apiErr.Label, Message: msg}
	}
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// IsRetryable 网络错误、超时和 5xx 可以重试
func IsRetryable(err error) bool {
	var netErr *NetworkError
	var srvErr *ServerError
	return errors.As(err, &netErr) || errors.As(err, &srvErr)
}

// IsBreakerFailure 熔断器只统计交易所侧故障，调用方错误（400/401/403/429）不计入
func IsBreakerFailure(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	return IsRetryable(err)
}

// StatusCode 从错误中提取 HTTP 状态码，没有时返回0
func StatusCode(err error) int {
	var (
		authErr *AuthenticationError
		rlErr   *RateLimitError
		badErr  *BadRequestError
		fbErr   *ForbiddenError
		srvErr  *ServerError
	)
	switch {
	case errors.As(err, &authErr):
		return authErr.StatusCode
	case errors.As(err, &rlErr):
		return http.StatusTooManyRequests
	case errors.As(err, &badErr):
		return badErr.StatusCode
	case errors.As(err, &fbErr):
		return http.StatusForbidden
	case errors.As(err, &srvErr):
		return srvErr.StatusCode
	}
	return 0
}
