package exchange

import (
	"fmt"
	"time"

	"tradeguard/config"
	"tradeguard/event"
	"tradeguard/exchange/gate"
	"tradeguard/exchange/rest"
	"tradeguard/logger"
	"tradeguard/resilience"
)

// CircuitObserver 熔断器状态变化观测（指标）
type CircuitObserver interface {
	SetCircuitState(exchange string, state int, name string)
}

// FactoryOptions 网关装配选项，均可为空
type FactoryOptions struct {
	Sink            event.ErrorSink
	Observer        rest.Observer
	CircuitObserver CircuitObserver
}

// NewGatewayFromConfig 按配置装配网关：签名器、限流、熔断、REST 客户端、场所
// 模拟盘时下单走 PaperVenue，行情仍取自真实交易所
func NewGatewayFromConfig(cfg *config.Config, opts FactoryOptions) (*Gateway, error) {
	exchangeName := cfg.App.CurrentExchange
	if exchangeName == "" {
		exchangeName = "gate"
	}
	exchangeCfg := cfg.CurrentExchangeConfig()
	res := cfg.Resilience

	limiter := resilience.NewRateLimiter(res.RateLimit.Capacity, time.Duration(res.RateLimit.WindowMs)*time.Millisecond)
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		FailureThreshold: res.CircuitBreaker.FailureThreshold,
		ResetTimeout:     time.Duration(res.CircuitBreaker.ResetTimeoutMs) * time.Millisecond,
		IsFailure:        rest.IsBreakerFailure,
		OnStateChange: func(from, to resilience.State) {
			switch to {
			case resilience.StateOpen:
				logger.Error("🔌 [%s] 熔断器打开 (%s -> %s)", exchangeName, from, to)
			case resilience.StateHalfOpen:
				logger.Warn("🔌 [%s] 熔断器半开，放行探测请求", exchangeName)
			default:
				logger.Info("✅ [%s] 熔断器恢复 (%s -> %s)", exchangeName, from, to)
			}
			if opts.CircuitObserver != nil {
				opts.CircuitObserver.SetCircuitState(exchangeName, int(to), to.String())
			}
		},
	})

	var venue Venue
	switch exchangeName {
	case "gate":
		baseURL := exchangeCfg.BaseURL
		if baseURL == "" {
			baseURL = gate.GateBaseURL
		}
		signer := gate.NewSigner(exchangeCfg.APIKey, exchangeCfg.SecretKey)
		restCfg := rest.Config{
			Venue:      exchangeName,
			BaseURL:    baseURL,
			Signer:     signer,
			Timeout:    time.Duration(res.RequestTimeoutMs) * time.Millisecond,
			MaxRetries: res.Retry.MaxRetries,
			BaseDelay:  time.Duration(res.Retry.BaseDelayMs) * time.Millisecond,
			Limiter:    limiter,
			Breaker:    breaker,
			Observer:   opts.Observer,
		}
		rc, err := rest.NewClient(restCfg)
		if err != nil {
			return nil, fmt.Errorf("创建 %s REST 客户端失败: %w", exchangeName, err)
		}
		gc := gate.NewClient(rc, signer)
		rc.SetReauthenticate(gc.SyncTime)
		venue = NewGateVenue(gc)
	default:
		return nil, fmt.Errorf("不支持的交易所: %s", exchangeName)
	}

	if cfg.Trading.IsDryRun() {
		logger.Info("🧪 模拟盘模式: 初始 %s 余额 %.2f，手续费率 %.4f",
			cfg.Trading.QuoteCurrency, cfg.Trading.PaperBalance, exchangeCfg.FeeRate)
		venue = NewPaperVenue(venue, cfg.Trading.QuoteCurrency, cfg.Trading.PaperBalance, exchangeCfg.FeeRate)
	} else {
		logger.Warn("⚠️ 实盘模式: 订单将发送到 %s", exchangeName)
	}

	gwCfg := GatewayConfig{
		Symbols:          cfg.Trading.Symbols,
		QuoteCurrency:    cfg.Trading.QuoteCurrency,
		BookDepth:        MinBookDepth,
		CandleInterval:   cfg.Trading.CandleInterval,
		CandleLimit:      cfg.Trading.CandleLimit,
		PositionLookback: time.Duration(cfg.Trading.PositionLookbackHours) * time.Hour,
		OrderRate:        res.OrderRate.PerSecond,
		OrderBurst:       res.OrderRate.Burst,
	}
	if gwCfg.CandleLimit < 0 {
		gwCfg.CandleLimit = 0
	}

	return NewGateway(venue, gwCfg, GatewayDeps{
		Limiter: limiter,
		Breaker: breaker,
		Sink:    opts.Sink,
	}), nil
}
