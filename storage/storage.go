package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tradeguard/config"
	"tradeguard/database"
	"tradeguard/exchange"
	"tradeguard/logger"
	"tradeguard/utils"
)

// ErrBufferFull 缓冲区已满，记录被丢弃
var ErrBufferFull = errors.New("storage buffer full")

// Observer 存储指标
type Observer interface {
	RecordStorageDropped()
	RecordStorageFallback(n int)
}

// Options 存储服务参数
type Options struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
	FallbackPath  string
	Exchange      string
	DryRun        bool
}

// OptionsFromConfig 从系统配置读取参数
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		BufferSize:    cfg.Storage.BufferSize,
		BatchSize:     cfg.Storage.BatchSize,
		FlushInterval: time.Duration(cfg.Storage.FlushInterval) * time.Second,
		FallbackPath:  cfg.Storage.FallbackLog,
		Exchange:      cfg.App.CurrentExchange,
		DryRun:        cfg.Trading.IsDryRun(),
	}
}

// record 待写入的一条记录
type record struct {
	Kind          string                        `json:"kind"`
	Execution     *database.ExecutionRecord     `json:"execution,omitempty"`
	Signal        *database.SignalRecord        `json:"signal,omitempty"`
	PositionClose *database.PositionCloseRecord `json:"position_close,omitempty"`
	RiskCheck     *database.RiskCheck           `json:"risk_check,omitempty"`
}

const (
	kindExecution     = "execution"
	kindSignal        = "signal"
	kindPositionClose = "position_close"
	kindRiskCheck     = "risk_check"
)

// Service 异步存储服务：引擎写入不阻塞，后台批量落库，失败时写回退日志
type Service struct {
	db       database.Database
	opts     Options
	observer Observer
	fallback *fallbackLog

	eventCh chan *record
	buffer  []*record
	mu      sync.Mutex

	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool
	stopMu  sync.Mutex
}

// NewService 创建存储服务，db 为 nil 时所有写入被忽略（存储未启用）
func NewService(db database.Database, opts Options, observer Observer) *Service {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 1000
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 5 * time.Second
	}
	if opts.FallbackPath == "" {
		opts.FallbackPath = "./data/storage_fallback.log"
	}
	return &Service{
		db:       db,
		opts:     opts,
		observer: observer,
		fallback: newFallbackLog(opts.FallbackPath),
		eventCh:  make(chan *record, opts.BufferSize),
		buffer:   make([]*record, 0, opts.BatchSize),
	}
}

// Enabled 是否连接了数据库
func (s *Service) Enabled() bool {
	return s.db != nil
}

// Start 启动后台写入协程
func (s *Service) Start(ctx context.Context) {
	if s.db == nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.processEvents(ctx)
	logger.Info("✅ 存储服务已启动 (批量 %d, 刷新间隔 %v)", s.opts.BatchSize, s.opts.FlushInterval)
}

// Stop 停止服务，写完队列中剩余的记录后关闭数据库
func (s *Service) Stop() {
	s.stopMu.Lock()
	if s.stopped {
		s.stopMu.Unlock()
		return
	}
	s.stopped = true
	s.stopMu.Unlock()

	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	s.flush()
	s.fallback.Close()

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			logger.Warn("⚠️ 关闭数据库失败: %v", err)
		}
	}
	logger.Info("⏹️ 存储服务已停止")
}

// SaveExecution 记录下单结果
func (s *Service) SaveExecution(exec *exchange.TradeExecution) error {
	if exec == nil {
		return nil
	}
	return s.enqueue(&record{Kind: kindExecution, Execution: &database.ExecutionRecord{
		ExecutionID: exec.ID,
		Exchange:    s.opts.Exchange,
		Symbol:      exec.Symbol,
		OrderID:     exec.OrderID,
		Side:        string(exec.Side),
		Amount:      exec.Amount,
		Price:       exec.Price,
		Fee:         exec.Fee,
		Status:      string(exec.Status),
		DryRun:      s.opts.DryRun,
		ExecutedAt:  utils.ToUTC(exec.Timestamp),
	}})
}

// SaveSignal 记录收到的信号以及是否被执行
func (s *Service) SaveSignal(sig exchange.TradingSignal, executed bool) error {
	return s.enqueue(&record{Kind: kindSignal, Signal: &database.SignalRecord{
		Symbol:      sig.Symbol,
		Action:      string(sig.Action),
		Confidence:  sig.Confidence,
		TargetPrice: sig.TargetPrice,
		StopLoss:    sig.StopLoss,
		Reasoning:   sig.Reasoning,
		Executed:    executed,
		IssuedAt:    utils.ToUTC(sig.Timestamp),
	}})
}

// SavePositionClose 记录平仓
func (s *Service) SavePositionClose(pos *exchange.TradingPosition, exitPrice, realizedPnL float64, reason string) error {
	if pos == nil {
		return nil
	}
	return s.enqueue(&record{Kind: kindPositionClose, PositionClose: &database.PositionCloseRecord{
		PositionID:  pos.ID,
		Symbol:      pos.Symbol,
		Side:        string(pos.Side),
		Amount:      pos.Amount,
		EntryPrice:  pos.EntryPrice,
		ExitPrice:   exitPrice,
		RealizedPnL: realizedPnL,
		Reason:      reason,
		ClosedAt:    utils.NowUTC(),
	}})
}

// SaveRiskCheck 记录风控校验结果
func (s *Service) SaveRiskCheck(req exchange.TradeRequest, approved bool, reason string, adjustedAmount float64) error {
	return s.enqueue(&record{Kind: kindRiskCheck, RiskCheck: &database.RiskCheck{
		Symbol:         req.Symbol,
		Side:           string(req.Side),
		Amount:         req.Amount,
		Approved:       approved,
		Reason:         reason,
		AdjustedAmount: adjustedAmount,
		CreatedAt:      utils.NowUTC(),
	}})
}

// enqueue 完全异步，不阻塞
func (s *Service) enqueue(r *record) error {
	if s.db == nil {
		return nil
	}

	s.stopMu.Lock()
	stopped := s.stopped
	s.stopMu.Unlock()
	if stopped {
		return fmt.Errorf("存储服务已停止")
	}

	select {
	case s.eventCh <- r:
		return nil
	default:
		logger.Warn("⚠️ 存储队列已满，丢弃记录: %s", r.Kind)
		if s.observer != nil {
			s.observer.RecordStorageDropped()
		}
		return ErrBufferFull
	}
}

func (s *Service) processEvents(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.drain()
			return

		case r := <-s.eventCh:
			s.mu.Lock()
			s.buffer = append(s.buffer, r)
			n := len(s.buffer)
			s.mu.Unlock()

			if n >= s.opts.BatchSize {
				s.flush()
			}

		case <-ticker.C:
			s.flush()
		}
	}
}

// drain 退出前把通道中剩余的记录移入缓冲区
func (s *Service) drain() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		select {
		case r := <-s.eventCh:
			s.buffer = append(s.buffer, r)
		default:
			return
		}
	}
}

// flush 刷新缓冲区到数据库
func (s *Service) flush() {
	s.mu.Lock()
	if len(s.buffer) == 0 {
		s.mu.Unlock()
		return
	}
	records := make([]*record, len(s.buffer))
	copy(records, s.buffer)
	s.buffer = s.buffer[:0]
	s.mu.Unlock()

	failed := s.batchSave(records)
	if len(failed) == 0 {
		return
	}
	logger.Error("❌ %d 条记录写入数据库失败，写入回退日志 %s", len(failed), s.opts.FallbackPath)
	if err := s.fallback.Write(failed); err != nil {
		logger.Error("❌ 写入回退日志失败: %v", err)
	}
	if s.observer != nil {
		s.observer.RecordStorageFallback(len(failed))
	}
}

// batchSave 成交记录批量写入，其余逐条写入，返回失败的记录
func (s *Service) batchSave(records []*record) []*record {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var failed []*record
	var execs []*database.ExecutionRecord
	var execRecords []*record

	for _, r := range records {
		var err error
		switch r.Kind {
		case kindExecution:
			execs = append(execs, r.Execution)
			execRecords = append(execRecords, r)
			continue
		case kindSignal:
			err = s.db.SaveSignal(ctx, r.Signal)
		case kindPositionClose:
			err = s.db.SavePositionClose(ctx, r.PositionClose)
		case kindRiskCheck:
			err = s.db.SaveRiskCheck(ctx, r.RiskCheck)
		}
		if err != nil {
			logger.Warn("⚠️ 保存 %s 失败: %v", r.Kind, err)
			failed = append(failed, r)
		}
	}

	if len(execs) > 0 {
		if err := s.db.BatchSaveExecutions(ctx, execs); err != nil {
			logger.Warn("⚠️ 批量保存成交记录失败: %v", err)
			failed = append(failed, execRecords...)
		}
	}
	return failed
}

// Executions 查询成交记录（供 API 使用）
func (s *Service) Executions(ctx context.Context, filter *database.ExecutionFilter) ([]*database.ExecutionRecord, error) {
	if s.db == nil {
		return nil, fmt.Errorf("存储未启用")
	}
	return s.db.GetExecutions(ctx, filter)
}

// PositionCloses 查询平仓记录
func (s *Service) PositionCloses(ctx context.Context, filter *database.PositionCloseFilter) ([]*database.PositionCloseRecord, error) {
	if s.db == nil {
		return nil, fmt.Errorf("存储未启用")
	}
	return s.db.GetPositionCloses(ctx, filter)
}

// TodayRealizedLoss 当日已实现亏损（重启后恢复日亏损统计）
func (s *Service) TodayRealizedLoss(ctx context.Context) (float64, error) {
	if s.db == nil {
		return 0, nil
	}
	now := time.Now().In(utils.Location())
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, utils.Location())
	return s.db.SumRealizedLoss(ctx, start.UTC())
}
