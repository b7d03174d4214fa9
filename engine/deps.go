package engine

import (
	"context"
	"time"

	"tradeguard/exchange"
)

// Gateway 引擎使用的交易所网关（*exchange.Gateway）
type Gateway interface {
	Name() string
	QuoteCurrency() string
	AllowsShort() bool
	Authenticate(ctx context.Context) (bool, error)
	GetMarketData(ctx context.Context, symbol string) (*exchange.MarketData, error)
	GetAccountBalance(ctx context.Context) (map[string]exchange.Balance, error)
	GetCurrentPositions(ctx context.Context) ([]*exchange.TradingPosition, error)
	PlaceBuyOrder(ctx context.Context, symbol string, amount, price float64) (*exchange.TradeExecution, error)
	PlaceSellOrder(ctx context.Context, symbol string, amount, price float64) (*exchange.TradeExecution, error)
	PlaceMarketBuyOrder(ctx context.Context, symbol string, amount float64) (*exchange.TradeExecution, error)
	PlaceMarketSellOrder(ctx context.Context, symbol string, amount float64) (*exchange.TradeExecution, error)
	ClosePosition(ctx context.Context, pos *exchange.TradingPosition) (*exchange.TradeExecution, error)
	CancelAllOrders(ctx context.Context, symbol string) (exchange.CancelAllResult, error)
	Stats() exchange.GatewayStats
}

// Persistence 持久化协作方，失败只记录日志，不中断交易循环
type Persistence interface {
	SaveExecution(exec *exchange.TradeExecution) error
	SaveSignal(sig exchange.TradingSignal, executed bool) error
	SavePositionClose(pos *exchange.TradingPosition, exitPrice, realizedPnL float64, reason string) error
	SaveRiskCheck(req exchange.TradeRequest, approved bool, reason string, adjustedAmount float64) error
}

// Recorder 交易指标（*metrics.PrometheusMetrics）
type Recorder interface {
	RecordOrder(exchange, symbol, side, status string, duration time.Duration)
	RecordOrderFailure(exchange, symbol, side, reason string)
	SetUnrealizedPnL(exchange, symbol string, pnl float64)
	RecordPositionClosed(exchange, symbol, reason string, pnl float64)
	SetOpenPositions(exchange string, count int)
	SetEmergencyStop(active bool)
	SetDailyLoss(loss float64)
	RecordRiskRejection(symbol string)
	RecordCycle(duration time.Duration, err error)
	RecordSignal(action, outcome string)
}

type nopPersistence struct{}

func (nopPersistence) SaveExecution(*exchange.TradeExecution) error { return nil }

func (nopPersistence) SaveSignal(exchange.TradingSignal, bool) error { return nil }

func (nopPersistence) SavePositionClose(*exchange.TradingPosition, float64, float64, string) error {
	return nil
}

func (nopPersistence) SaveRiskCheck(exchange.TradeRequest, bool, string, float64) error { return nil }

type nopRecorder struct{}

func (nopRecorder) RecordOrder(string, string, string, string, time.Duration) {}
func (nopRecorder) RecordOrderFailure(string, string, string, string) {}
func (nopRecorder) SetUnrealizedPnL(string, string, float64) {}
func (nopRecorder) RecordPositionClosed(string, string, string, float64) {}
func (nopRecorder) SetOpenPositions(string, int) {}
func (nopRecorder) SetEmergencyStop(bool) {}
func (nopRecorder) SetDailyLoss(float64) {}
func (nopRecorder) RecordRiskRejection(string) {}
func (nopRecorder) RecordCycle(time.Duration, error) {}
func (nopRecorder) RecordSignal(string, string) {}
