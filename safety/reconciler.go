package safety

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"tradeguard/exchange"
	"tradeguard/lock"
	"tradeguard/logger"
)

// PositionSource 对账所需的交易所接口
type PositionSource interface {
	Name() string
	GetCurrentPositions(ctx context.Context) ([]*exchange.TradingPosition, error)
}

// PositionBook 本地持仓表（RiskManager）
type PositionBook interface {
	Positions() []*exchange.TradingPosition
	UpdatePositions(positions []*exchange.TradingPosition)
}

// ReconcileResult 对账结果
type ReconcileResult struct {
	Time       time.Time `json:"time"`
	Matched    int       `json:"matched"`
	LocalOnly  []string  `json:"local_only,omitempty"`  // 本地有、交易所无（已在场外平仓）
	RemoteOnly []string  `json:"remote_only,omitempty"` // 交易所有、本地无（场外开仓）
	AmountDiff []string  `json:"amount_diff,omitempty"` // 数量不一致
	Skipped    bool      `json:"skipped,omitempty"`     // 未拿到锁
}

// Consistent 本地与交易所一致
func (r ReconcileResult) Consistent() bool {
	return len(r.LocalOnly) == 0 && len(r.RemoteOnly) == 0 && len(r.AmountDiff) == 0
}

// Reconciler 持仓对账器：以交易所为准修正本地持仓表
type Reconciler struct {
	source   PositionSource
	book     PositionBook
	lock     lock.DistributedLock
	interval time.Duration

	reconcileMu sync.Mutex
	last        ReconcileResult
	onMismatch  func(ReconcileResult)
}

// NewReconciler 创建对账器
func NewReconciler(source PositionSource, book PositionBook, distributedLock lock.DistributedLock, interval time.Duration) *Reconciler {
	if distributedLock == nil {
		distributedLock = lock.NewNopLock()
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Reconciler{
		source:   source,
		book:     book,
		lock:     distributedLock,
		interval: interval,
	}
}

// SetMismatchHandler 设置不一致时的回调
func (r *Reconciler) SetMismatchHandler(fn func(ReconcileResult)) {
	r.onMismatch = fn
}

// Start 启动对账协程
func (r *Reconciler) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				logger.Info("⏹️ 持仓对账协程已停止")
				return
			case <-ticker.C:
				if _, err := r.Reconcile(ctx); err != nil {
					logger.Error("❌ [对账失败] %v", err)
				}
			}
		}
	}()
	logger.Info("✅ 持仓对账已启动 (间隔: %v)", r.interval)
}

// Reconcile 执行一次对账
func (r *Reconciler) Reconcile(ctx context.Context) (ReconcileResult, error) {
	r.reconcileMu.Lock()
	defer r.reconcileMu.Unlock()

	lockKey := fmt.Sprintf("reconcile:%s", r.source.Name())
	ok, err := r.lock.TryLock(ctx, lockKey, 30*time.Second)
	if err != nil {
		logger.Warn("⚠️ [%s] 获取对账锁失败: %v，跳过本次对账", r.source.Name(), err)
		return ReconcileResult{Time: time.Now(), Skipped: true}, nil
	}
	if !ok {
		logger.Debug("⏳ [%s] 其他实例正在对账，跳过", r.source.Name())
		return ReconcileResult{Time: time.Now(), Skipped: true}, nil
	}
	defer func() {
		if unlockErr := r.lock.Unlock(ctx, lockKey); unlockErr != nil {
			logger.Warn("⚠️ [%s] 释放对账锁失败: %v", r.source.Name(), unlockErr)
		}
	}()

	remote, err := r.source.GetCurrentPositions(ctx)
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("查询持仓失败: %w", err)
	}

	result := diffPositions(r.book.Positions(), remote)
	result.Time = time.Now()
	r.book.UpdatePositions(remote)
	r.last = result

	if result.Consistent() {
		logger.Debug("✅ [对账完成] %d 个持仓一致", result.Matched)
		return result, nil
	}

	logger.Warn("⚠️ [对账不一致] 一致 %d, 仅本地 %v, 仅交易所 %v, 数量不一致 %v",
		result.Matched, result.LocalOnly, result.RemoteOnly, result.AmountDiff)
	if r.onMismatch != nil {
		r.onMismatch(result)
	}
	return result, nil
}

// Last 最近一次对账结果
func (r *Reconciler) Last() ReconcileResult {
	r.reconcileMu.Lock()
	defer r.reconcileMu.Unlock()
	return r.last
}

// diffPositions 按交易对比较本地与交易所持仓
func diffPositions(local, remote []*exchange.TradingPosition) ReconcileResult {
	var res ReconcileResult
	remoteBySymbol := make(map[string]*exchange.TradingPosition, len(remote))
	for _, p := range remote {
		remoteBySymbol[p.Symbol] = p
	}
	seen := make(map[string]bool, len(local))

	for _, lp := range local {
		if lp.Status != exchange.PositionOpen {
			continue
		}
		seen[lp.Symbol] = true
		rp, ok := remoteBySymbol[lp.Symbol]
		switch {
		case !ok:
			res.LocalOnly = append(res.LocalOnly, lp.Symbol)
		case rp.Side != lp.Side || math.Abs(rp.Amount-lp.Amount) > 1e-9*math.Max(1, lp.Amount):
			res.AmountDiff = append(res.AmountDiff,
				fmt.Sprintf("%s 本地 %s %.8f / 交易所 %s %.8f", lp.Symbol, lp.Side, lp.Amount, rp.Side, rp.Amount))
		default:
			res.Matched++
		}
	}
	for _, rp := range remote {
		if !seen[rp.Symbol] {
			res.RemoteOnly = append(res.RemoteOnly, rp.Symbol)
		}
	}
	return res
}
