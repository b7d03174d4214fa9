package rest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"tradeguard/logger"
	"tradeguard/resilience"
)

// Signer 交易所签名方案，返回需要附加的请求头
// path 为完整 URL 路径（含基础路径），query 为已编码的查询串
type Signer interface {
	SignHeaders(method, path, query string, body []byte, now time.Time) map[string]string
}

// Limiter 请求限流
type Limiter interface {
	CheckLimit(ctx context.Context) error
}

// Breaker 熔断器
type Breaker interface {
	Execute(ctx context.Context, fn func(ctx context.Context) error) error
}

// Observer 请求观测（延迟、状态码），用于指标统计
type Observer interface {
	ObserveRequest(venue, method, path string, status int, duration time.Duration, err error)
}

// Config 客户端配置
type Config struct {
	Venue      string // 交易所名称，用于日志和指标
	BaseURL    string
	Signer     Signer
	Timeout    time.Duration // 单次请求超时
	MaxRetries int
	BaseDelay  time.Duration
	HTTPClient *http.Client

	Limiter  Limiter
	Breaker  Breaker
	Observer Observer

	// Reauthenticate 收到 401 时调用一次（如同步服务器时间），成功后重试一次
	Reauthenticate func(ctx context.Context) error
}

// Request 单个 REST 请求
type Request struct {
	Method string
	Path   string // 相对 BaseURL 的路径，如 /spot/orders
	Query  url.Values
	Body   interface{}
	Signed bool
}

// Client 带签名、超时、重试、限流、熔断的 REST 客户端
type Client struct {
	cfg      Config
	baseURL  string
	basePath string
}

// NewClient 创建客户端
func NewClient(cfg Config) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("无效的 BaseURL: %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Venue == "" {
		cfg.Venue = u.Host
	}

	return &Client{
		cfg:      cfg,
		baseURL:  u.String(),
		basePath: u.Path,
	}, nil
}

// SetReauthenticate 设置 401 处理钩子
func (c *Client) SetReauthenticate(fn func(ctx context.Context) error) {
	c.cfg.Reauthenticate = fn
}

// Do 执行请求并把 JSON 响应解码到 out（out 为 nil 时忽略响应体）
func (c *Client) Do(ctx context.Context, req Request, out interface{}) error {
	var body []byte
	if req.Body != nil {
		var err error
		body, err = json.Marshal(req.Body)
		if err != nil {
			return fmt.Errorf("序列化请求体失败: %w", err)
		}
	}

	err := c.execute(ctx, req, body, out)
	var authErr *AuthenticationError
	if err == nil || !errors.As(err, &authErr) || c.cfg.Reauthenticate == nil || !req.Signed {
		return err
	}

	// 重新认证会经过同一个客户端和熔断器，必须在熔断器外进行
	logger.Warn("⚠️ [%s] %s %s 认证失败，尝试重新认证", c.cfg.Venue, req.Method, req.Path)
	if rerr := c.cfg.Reauthenticate(ctx); rerr != nil {
		return &AuthenticationError{
			StatusCode: authErr.StatusCode,
			Label:      authErr.Label,
			Message:    fmt.Sprintf("%s (重新认证失败: %v)", authErr.Message, rerr),
		}
	}
	return c.execute(ctx, req, body, out)
}

// execute 经熔断器执行一轮带重试的请求
func (c *Client) execute(ctx context.Context, req Request, body []byte, out interface{}) error {
	run := func(ctx context.Context) error {
		return c.doWithRetry(ctx, req, body, out)
	}
	if c.cfg.Breaker != nil {
		return c.cfg.Breaker.Execute(ctx, run)
	}
	return run(ctx)
}

// doWithRetry 只重试交易所侧的临时故障，认证失败直接返回由 Do 处理
func (c *Client) doWithRetry(ctx context.Context, req Request, body []byte, out interface{}) error {
	attempt := 0

	for {
		respBody, err := c.once(ctx, req, body)
		if err == nil {
			if out == nil || len(respBody) == 0 {
				return nil
			}
			if err := json.Unmarshal(respBody, out); err != nil {
				return fmt.Errorf("解析响应失败: %w", err)
			}
			return nil
		}

		if !IsRetryable(err) || ctx.Err() != nil || attempt >= c.cfg.MaxRetries {
			return err
		}
		delay := resilience.BackoffDelay(c.cfg.BaseDelay, attempt)
		logger.Warn("⚠️ [%s] %s %s 失败: %v，%v 后重试 (第%d次)", c.cfg.Venue, req.Method, req.Path, err, delay, attempt+1)
		attempt++
		if serr := resilience.Sleep(ctx, delay); serr != nil {
			return err
		}
	}
}

// once 发送一次 HTTP 请求，带独立超时
func (c *Client) once(ctx context.Context, req Request, body []byte) ([]byte, error) {
	if c.cfg.Limiter != nil {
		if err := c.cfg.Limiter.CheckLimit(ctx); err != nil {
			return nil, &NetworkError{Err: err}
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	query := ""
	if len(req.Query) > 0 {
		query = req.Query.Encode()
	}
	fullURL := c.baseURL + req.Path
	if query != "" {
		fullURL += "?" + query
	}

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(reqCtx, req.Method, fullURL, reader)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if len(body) > 0 {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	if req.Signed {
		if c.cfg.Signer == nil {
			return nil, &AuthenticationError{Label: "MISSING_CREDENTIALS", Message: "未配置签名器"}
		}
		for k, v := range c.cfg.Signer.SignHeaders(req.Method, c.basePath+req.Path, query, body, time.Now()) {
			httpReq.Header.Set(k, v)
		}
	}

	start := time.Now()
	resp, err := c.cfg.HTTPClient.Do(httpReq)
	if err != nil {
		netErr := &NetworkError{Err: err, Timeout: errors.Is(reqCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil}
		c.observe(req, 0, time.Since(start), netErr)
		return nil, netErr
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		netErr := &NetworkError{Err: fmt.Errorf("读取响应失败: %w", err), Timeout: errors.Is(reqCtx.Err(), context.DeadlineExceeded)}
		c.observe(req, resp.StatusCode, time.Since(start), netErr)
		return nil, netErr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := statusError(resp.StatusCode, resp.Header, respBody)
		c.observe(req, resp.StatusCode, time.Since(start), apiErr)
		return nil, apiErr
	}

	c.observe(req, resp.StatusCode, time.Since(start), nil)
	return respBody, nil
}

func (c *Client) observe(req Request, status int, d time.Duration, err error) {
	if c.cfg.Observer != nil {
		c.cfg.Observer.ObserveRequest(c.cfg.Venue, req.Method, req.Path, status, d, err)
	}
	if err != nil {
		logger.Debug("[%s] %s %s -> %d (%v): %v", c.cfg.Venue, req.Method, req.Path, status, d, err)
	}
}
