package rest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"tradeguard/resilience"
)

type staticSigner struct {
	lastPath  string
	lastQuery string
}

func (s *staticSigner) SignHeaders(method, path, query string, body []byte, now time.Time) map[string]string {
	s.lastPath = path
	s.lastQuery = query
	return map[string]string{"KEY": "k", "SIGN": "sig", "Timestamp": "1"}
}

func newTestClient(t *testing.T, srv *httptest.Server, mutate func(cfg *Config)) *Client {
	t.Helper()
	cfg := Config{
		Venue:      "test",
		BaseURL:    srv.URL + "/api/v4",
		Signer:     &staticSigner{},
		Timeout:    time.Second,
		MaxRetries: 3,
		BaseDelay:  time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("创建客户端失败: %v", err)
	}
	return c
}

func TestClientSignsAndRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if r.Header.Get("KEY") != "k" || r.Header.Get("SIGN") == "" || r.Header.Get("Timestamp") == "" {
			t.Errorf("缺少签名头: %v", r.Header)
		}
		if n < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	signer := &staticSigner{}
	c := newTestClient(t, srv, func(cfg *Config) { cfg.Signer = signer })

	var out struct {
		OK bool `json:"ok"`
	}
	err := c.Do(context.Background(), Request{
		Method: http.MethodGet,
		Path:   "/spot/accounts",
		Query:  url.Values{"currency": {"USDT"}},
		Signed: true,
	}, &out)
	if err != nil {
		t.Fatalf("重试后应成功: %v", err)
	}
	if !out.OK {
		t.Error("响应未解码")
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Errorf("期望3次请求, 实际 %d", calls)
	}
	if signer.lastPath != "/api/v4/spot/accounts" || signer.lastQuery != "currency=USDT" {
		t.Errorf("签名路径不正确: %s ? %s", signer.lastPath, signer.lastQuery)
	}
}

func TestClientTerminalStatuses(t *testing.T) {
	tests := []struct {
		name   string
		status int
		check  func(err error) bool
	}{
		{"400", http.StatusBadRequest, func(err error) bool { var e *BadRequestError; return errors.As(err, &e) && e.Label == "INVALID_PARAM_VALUE" }},
		{"403", http.StatusForbidden, func(err error) bool { var e *ForbiddenError; return errors.As(err, &e) }},
		{"429", http.StatusTooManyRequests, func(err error) bool {
			var e *RateLimitError
			return errors.As(err, &e) && e.RetryAfter == 3*time.Second
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.Header().Set("Retry-After", "3")
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"label":"INVALID_PARAM_VALUE","message":"nope"}`))
			}))
			defer srv.Close()

			c := newTestClient(t, srv, nil)
			err := c.Do(context.Background(), Request{Method: http.MethodPost, Path: "/spot/orders", Body: map[string]string{"a": "b"}, Signed: true}, nil)
			if !tt.check(err) {
				t.Errorf("错误类型不正确: %v", err)
			}
			if atomic.LoadInt32(&calls) != 1 {
				t.Errorf("%s 不应重试, 实际请求 %d 次", tt.name, calls)
			}
			if StatusCode(err) != tt.status {
				t.Errorf("状态码: 期望 %d, 得到 %d", tt.status, StatusCode(err))
			}
		})
	}
}

func TestClientReauthenticatesOnceOn401(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"label":"INVALID_SIGNATURE","message":"bad sign"}`))
	}))
	defer srv.Close()

	reauths := 0
	c := newTestClient(t, srv, func(cfg *Config) {
		cfg.Reauthenticate = func(ctx context.Context) error {
			reauths++
			return nil
		}
	})

	err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/spot/accounts", Signed: true}, nil)
	var authErr *AuthenticationError
	if !errors.As(err, &authErr) {
		t.Fatalf("期望 AuthenticationError, 得到 %v", err)
	}
	if reauths != 1 {
		t.Errorf("只应重新认证一次, 实际 %d", reauths)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Errorf("期望2次请求, 实际 %d", calls)
	}
}

func TestClientRecoversAfterReauth(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, func(cfg *Config) {
		cfg.Reauthenticate = func(ctx context.Context) error { return nil }
	})
	var out []interface{}
	if err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/spot/open_orders", Signed: true}, &out); err != nil {
		t.Fatalf("重新认证后应成功: %v", err)
	}
}

func TestClientReauthWhileBreakerHalfOpen(t *testing.T) {
	var accountCalls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v4/spot/tickers":
			w.WriteHeader(http.StatusBadGateway)
		case "/api/v4/spot/time":
			w.Write([]byte(`{"server_time":1}`))
		case "/api/v4/spot/accounts":
			if atomic.AddInt32(&accountCalls, 1) == 1 {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.Write([]byte(`[]`))
		}
	}))
	defer srv.Close()

	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     20 * time.Millisecond,
		IsFailure:        IsBreakerFailure,
	})
	var c *Client
	var reauthErr error
	c = newTestClient(t, srv, func(cfg *Config) {
		cfg.MaxRetries = 0
		cfg.Breaker = breaker
		cfg.Reauthenticate = func(ctx context.Context) error {
			// 与网关同步时间一样，经同一个客户端发请求
			reauthErr = c.Do(ctx, Request{Method: http.MethodGet, Path: "/spot/time"}, nil)
			return reauthErr
		}
	})

	var srvErr *ServerError
	if err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/spot/tickers"}, nil); !errors.As(err, &srvErr) {
		t.Fatalf("期望 ServerError, 得到 %v", err)
	}
	if breaker.State() != resilience.StateOpen {
		t.Fatalf("熔断器应打开, 实际 %s", breaker.State())
	}
	time.Sleep(40 * time.Millisecond)

	var out []interface{}
	if err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/spot/accounts", Signed: true}, &out); err != nil {
		t.Fatalf("半开状态下收到401后应能重新认证并成功: %v", err)
	}
	if reauthErr != nil {
		t.Errorf("重新认证请求不应被熔断器拒绝: %v", reauthErr)
	}
	if n := atomic.LoadInt32(&accountCalls); n != 2 {
		t.Errorf("期望2次账户请求, 实际 %d", n)
	}
	if breaker.State() != resilience.StateClosed {
		t.Errorf("熔断器应恢复关闭, 实际 %s", breaker.State())
	}
}

func TestClientTimeoutCountsAsNetworkFailure(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		select {
		case <-r.Context().Done():
		case <-time.After(500 * time.Millisecond):
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv, func(cfg *Config) {
		cfg.Timeout = 20 * time.Millisecond
		cfg.MaxRetries = 1
	})

	err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/spot/tickers"}, nil)
	var netErr *NetworkError
	if !errors.As(err, &netErr) || !netErr.Timeout {
		t.Fatalf("期望超时 NetworkError, 得到 %v", err)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Errorf("超时应重试一次, 实际请求 %d 次", calls)
	}
}

func TestClientCircuitBreakerStopsCalls(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     time.Minute,
		IsFailure:        IsBreakerFailure,
	})
	c := newTestClient(t, srv, func(cfg *Config) {
		cfg.MaxRetries = 0
		cfg.Breaker = breaker
		cfg.Limiter = resilience.NewRateLimiter(100, time.Second)
	})

	for i := 0; i < 2; i++ {
		var srvErr *ServerError
		if err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/spot/tickers"}, nil); !errors.As(err, &srvErr) {
			t.Fatalf("期望 ServerError, 得到 %v", err)
		}
	}

	err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/spot/tickers"}, nil)
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("期望 ErrCircuitOpen, 得到 %v", err)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Errorf("熔断后不应发出请求, 实际 %d 次", calls)
	}
}

func TestBackoffNotAppliedToRateLimit(t *testing.T) {
	if IsRetryable(&RateLimitError{}) {
		t.Error("429 不应自动重试")
	}
	if !IsRetryable(&NetworkError{Err: errors.New("reset")}) {
		t.Error("网络错误应可重试")
	}
	if IsBreakerFailure(&BadRequestError{StatusCode: 400}) {
		t.Error("400 不应计入熔断")
	}
}
