package database

import (
	"context"
	"time"
)

// Database 数据库接口
type Database interface {
	// 成交记录
	SaveExecution(ctx context.Context, exec *ExecutionRecord) error
	BatchSaveExecutions(ctx context.Context, execs []*ExecutionRecord) error
	GetExecutions(ctx context.Context, filter *ExecutionFilter) ([]*ExecutionRecord, error)

	// 信号记录
	SaveSignal(ctx context.Context, sig *SignalRecord) error
	GetSignals(ctx context.Context, filter *SignalFilter) ([]*SignalRecord, error)

	// 平仓记录
	SavePositionClose(ctx context.Context, rec *PositionCloseRecord) error
	GetPositionCloses(ctx context.Context, filter *PositionCloseFilter) ([]*PositionCloseRecord, error)
	// SumRealizedLoss 统计 since 之后已实现亏损合计（正数）
	SumRealizedLoss(ctx context.Context, since time.Time) (float64, error)

	// 风控记录
	SaveRiskCheck(ctx context.Context, check *RiskCheck) error
	GetRiskChecks(ctx context.Context, filter *RiskCheckFilter) ([]*RiskCheck, error)

	// 事件记录
	SaveEvent(ctx context.Context, event *EventRecord) error
	GetEvents(ctx context.Context, filter *EventFilter) ([]*EventRecord, error)
	CleanupOldEvents(ctx context.Context, severity string, keepCount int, keepDays int) error

	// 健康检查
	Ping(ctx context.Context) error

	// 关闭连接
	Close() error
}

// 数据模型

// ExecutionRecord 成交记录
type ExecutionRecord struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ExecutionID string    `gorm:"uniqueIndex;size:64" json:"execution_id"`
	Exchange    string    `gorm:"index:idx_exec_exchange_symbol;size:50" json:"exchange"`
	Symbol      string    `gorm:"index:idx_exec_exchange_symbol;size:50" json:"symbol"`
	OrderID     string    `gorm:"index;size:100" json:"order_id"`
	Side        string    `gorm:"size:10" json:"side"` // buy, sell
	Amount      float64   `json:"amount"`
	Price       float64   `json:"price"`
	Fee         float64   `json:"fee"`
	Status      string    `gorm:"index;size:20" json:"status"` // pending, filled, cancelled
	DryRun      bool      `json:"dry_run"`
	ExecutedAt  time.Time `gorm:"index" json:"executed_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// SignalRecord 信号记录
type SignalRecord struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Symbol      string    `gorm:"index;size:50" json:"symbol"`
	Action      string    `gorm:"size:10" json:"action"` // buy, sell, hold
	Confidence  float64   `json:"confidence"`
	TargetPrice float64   `json:"target_price"`
	StopLoss    float64   `json:"stop_loss"`
	Reasoning   string    `gorm:"type:text" json:"reasoning"`
	Executed    bool      `gorm:"index" json:"executed"`
	IssuedAt    time.Time `gorm:"index" json:"issued_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// PositionCloseRecord 平仓记录
type PositionCloseRecord struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	PositionID  string    `gorm:"index;size:64" json:"position_id"`
	Symbol      string    `gorm:"index;size:50" json:"symbol"`
	Side        string    `gorm:"size:10" json:"side"`
	Amount      float64   `json:"amount"`
	EntryPrice  float64   `json:"entry_price"`
	ExitPrice   float64   `json:"exit_price"`
	RealizedPnL float64   `json:"realized_pnl"`
	Reason      string    `gorm:"index;size:20" json:"reason"` // TAKE_PROFIT, STOP_LOSS, MANUAL, SHUTDOWN
	ClosedAt    time.Time `gorm:"index" json:"closed_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// RiskCheck 风控检查记录
type RiskCheck struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Symbol         string    `gorm:"index;size:50" json:"symbol"`
	Side           string    `gorm:"size:10" json:"side"`
	Amount         float64   `json:"amount"`
	Approved       bool      `gorm:"index" json:"approved"`
	Reason         string    `gorm:"type:text" json:"reason"`
	AdjustedAmount float64   `json:"adjusted_amount"`
	CreatedAt      time.Time `gorm:"index" json:"created_at"`
}

// EventRecord 事件记录
type EventRecord struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Type      string    `gorm:"index;size:50" json:"type"`
	Severity  string    `gorm:"index;size:20" json:"severity"`
	Source    string    `gorm:"index;size:20" json:"source"`
	Exchange  string    `gorm:"size:50" json:"exchange"`
	Symbol    string    `gorm:"size:50" json:"symbol"`
	Title     string    `gorm:"size:200" json:"title"`
	Message   string    `gorm:"type:text" json:"message"`
	Details   string    `gorm:"type:text" json:"details"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// 过滤器

// ExecutionFilter 成交记录过滤器
type ExecutionFilter struct {
	Exchange  string
	Symbol    string
	Side      string
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
	Offset    int
}

// SignalFilter 信号记录过滤器
type SignalFilter struct {
	Symbol    string
	StartTime *time.Time
	Limit     int
	Offset    int
}

// PositionCloseFilter 平仓记录过滤器
type PositionCloseFilter struct {
	Symbol    string
	Reason    string
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
	Offset    int
}

// RiskCheckFilter 风控记录过滤器
type RiskCheckFilter struct {
	Symbol    string
	Approved  *bool
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
	Offset    int
}

// EventFilter 事件过滤器
type EventFilter struct {
	Type      string
	Severity  string
	Source    string
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
	Offset    int
}
