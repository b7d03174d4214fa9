package database

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// GormDatabase GORM 数据库实现
type GormDatabase struct {
	db *gorm.DB
}

// DBConfig 数据库配置
type DBConfig struct {
	Type            string        // sqlite, postgres, mysql
	DSN             string        // 数据源名称
	MaxOpenConns    int           // 最大打开连接数
	MaxIdleConns    int           // 最大空闲连接数
	ConnMaxLifetime time.Duration // 连接最大生命周期
	LogLevel        string        // 日志级别: silent, error, warn, info
}

// NewGormDatabase 创建 GORM 数据库实例
func NewGormDatabase(config *DBConfig) (*GormDatabase, error) {
	var dialector gorm.Dialector

	switch config.Type {
	case "sqlite":
		dialector = sqlite.Open(config.DSN)
	case "postgres", "postgresql":
		dialector = postgres.Open(config.DSN)
	case "mysql":
		dialector = mysql.Open(config.DSN)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", config.Type)
	}

	logLevel := logger.Silent
	switch config.LogLevel {
	case "error":
		logLevel = logger.Error
	case "warn":
		logLevel = logger.Warn
	case "info":
		logLevel = logger.Info
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	// 连接池
	if config.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)
	}

	if err := db.AutoMigrate(
		&ExecutionRecord{},
		&SignalRecord{},
		&PositionCloseRecord{},
		&RiskCheck{},
		&EventRecord{},
	); err != nil {
		return nil, fmt.Errorf("failed to auto migrate: %w", err)
	}

	return &GormDatabase{db: db}, nil
}

// paginate 追加排序与分页
func paginate(query *gorm.DB, orderBy string, limit, offset int) *gorm.DB {
	query = query.Order(orderBy)
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	return query
}

// SaveExecution 保存成交记录
func (g *GormDatabase) SaveExecution(ctx context.Context, exec *ExecutionRecord) error {
	return g.db.WithContext(ctx).Create(exec).Error
}

// BatchSaveExecutions 批量保存成交记录
func (g *GormDatabase) BatchSaveExecutions(ctx context.Context, execs []*ExecutionRecord) error {
	if len(execs) == 0 {
		return nil
	}
	return g.db.WithContext(ctx).CreateInBatches(execs, 100).Error
}

// GetExecutions 查询成交记录
func (g *GormDatabase) GetExecutions(ctx context.Context, filter *ExecutionFilter) ([]*ExecutionRecord, error) {
	if filter == nil {
		filter = &ExecutionFilter{}
	}
	query := g.db.WithContext(ctx).Model(&ExecutionRecord{})

	if filter.Exchange != "" {
		query = query.Where("exchange = ?", filter.Exchange)
	}
	if filter.Symbol != "" {
		query = query.Where("symbol = ?", filter.Symbol)
	}
	if filter.Side != "" {
		query = query.Where("side = ?", filter.Side)
	}
	if filter.StartTime != nil {
		query = query.Where("executed_at >= ?", filter.StartTime)
	}
	if filter.EndTime != nil {
		query = query.Where("executed_at <= ?", filter.EndTime)
	}

	var execs []*ExecutionRecord
	if err := paginate(query, "executed_at DESC", filter.Limit, filter.Offset).Find(&execs).Error; err != nil {
		return nil, err
	}
	return execs, nil
}

// SaveSignal 保存信号记录
func (g *GormDatabase) SaveSignal(ctx context.Context, sig *SignalRecord) error {
	return g.db.WithContext(ctx).Create(sig).Error
}

// GetSignals 查询信号记录
func (g *GormDatabase) GetSignals(ctx context.Context, filter *SignalFilter) ([]*SignalRecord, error) {
	if filter == nil {
		filter = &SignalFilter{}
	}
	query := g.db.WithContext(ctx).Model(&SignalRecord{})
	if filter.Symbol != "" {
		query = query.Where("symbol = ?", filter.Symbol)
	}
	if filter.StartTime != nil {
		query = query.Where("issued_at >= ?", filter.StartTime)
	}

	var sigs []*SignalRecord
	if err := paginate(query, "issued_at DESC", filter.Limit, filter.Offset).Find(&sigs).Error; err != nil {
		return nil, err
	}
	return sigs, nil
}

// SavePositionClose 保存平仓记录
func (g *GormDatabase) SavePositionClose(ctx context.Context, rec *PositionCloseRecord) error {
	return g.db.WithContext(ctx).Create(rec).Error
}

// GetPositionCloses 查询平仓记录
func (g *GormDatabase) GetPositionCloses(ctx context.Context, filter *PositionCloseFilter) ([]*PositionCloseRecord, error) {
	if filter == nil {
		filter = &PositionCloseFilter{}
	}
	query := g.db.WithContext(ctx).Model(&PositionCloseRecord{})
	if filter.Symbol != "" {
		query = query.Where("symbol = ?", filter.Symbol)
	}
	if filter.Reason != "" {
		query = query.Where("reason = ?", filter.Reason)
	}
	if filter.StartTime != nil {
		query = query.Where("closed_at >= ?", filter.StartTime)
	}
	if filter.EndTime != nil {
		query = query.Where("closed_at <= ?", filter.EndTime)
	}

	var recs []*PositionCloseRecord
	if err := paginate(query, "closed_at DESC", filter.Limit, filter.Offset).Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

// SumRealizedLoss 统计已实现亏损（正数，盈利不抵扣）
func (g *GormDatabase) SumRealizedLoss(ctx context.Context, since time.Time) (float64, error) {
	var total struct {
		Sum float64
	}
	err := g.db.WithContext(ctx).Model(&PositionCloseRecord{}).
		Select("COALESCE(-SUM(realized_pnl), 0) AS sum").
		Where("closed_at >= ? AND realized_pnl < 0", since).
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total.Sum, nil
}

// SaveRiskCheck 保存风控检查记录
func (g *GormDatabase) SaveRiskCheck(ctx context.Context, check *RiskCheck) error {
	return g.db.WithContext(ctx).Create(check).Error
}

// GetRiskChecks 查询风控检查记录
func (g *GormDatabase) GetRiskChecks(ctx context.Context, filter *RiskCheckFilter) ([]*RiskCheck, error) {
	if filter == nil {
		filter = &RiskCheckFilter{}
	}
	query := g.db.WithContext(ctx).Model(&RiskCheck{})
	if filter.Symbol != "" {
		query = query.Where("symbol = ?", filter.Symbol)
	}
	if filter.Approved != nil {
		query = query.Where("approved = ?", *filter.Approved)
	}
	if filter.StartTime != nil {
		query = query.Where("created_at >= ?", filter.StartTime)
	}
	if filter.EndTime != nil {
		query = query.Where("created_at <= ?", filter.EndTime)
	}

	var checks []*RiskCheck
	if err := paginate(query, "created_at DESC", filter.Limit, filter.Offset).Find(&checks).Error; err != nil {
		return nil, err
	}
	return checks, nil
}

// SaveEvent 保存事件
func (g *GormDatabase) SaveEvent(ctx context.Context, event *EventRecord) error {
	return g.db.WithContext(ctx).Create(event).Error
}

// GetEvents 查询事件
func (g *GormDatabase) GetEvents(ctx context.Context, filter *EventFilter) ([]*EventRecord, error) {
	if filter == nil {
		filter = &EventFilter{}
	}
	query := g.db.WithContext(ctx).Model(&EventRecord{})
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if filter.Severity != "" {
		query = query.Where("severity = ?", filter.Severity)
	}
	if filter.Source != "" {
		query = query.Where("source = ?", filter.Source)
	}
	if filter.StartTime != nil {
		query = query.Where("created_at >= ?", filter.StartTime)
	}
	if filter.EndTime != nil {
		query = query.Where("created_at <= ?", filter.EndTime)
	}

	var events []*EventRecord
	if err := paginate(query, "created_at DESC", filter.Limit, filter.Offset).Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

// CleanupOldEvents 清理旧事件：先按天数，再按条数保留最新 keepCount 条
func (g *GormDatabase) CleanupOldEvents(ctx context.Context, severity string, keepCount int, keepDays int) error {
	if keepDays > 0 {
		cutoffDate := time.Now().AddDate(0, 0, -keepDays)
		if err := g.db.WithContext(ctx).
			Where("severity = ? AND created_at < ?", severity, cutoffDate).
			Delete(&EventRecord{}).Error; err != nil {
			return err
		}
	}

	if keepCount <= 0 {
		return nil
	}

	var count int64
	if err := g.db.WithContext(ctx).Model(&EventRecord{}).Where("severity = ?", severity).Count(&count).Error; err != nil {
		return err
	}
	if int(count) <= keepCount {
		return nil
	}

	// 第 keepCount 条之后的最新记录 ID，小于等于它的全部删除
	var cutoffIDs []int64
	if err := g.db.WithContext(ctx).Model(&EventRecord{}).
		Where("severity = ?", severity).
		Order("id DESC").
		Offset(keepCount).
		Limit(1).
		Pluck("id", &cutoffIDs).Error; err != nil {
		return err
	}
	if len(cutoffIDs) == 0 {
		return nil
	}
	return g.db.WithContext(ctx).
		Where("severity = ? AND id <= ?", severity, cutoffIDs[0]).
		Delete(&EventRecord{}).Error
}

// Ping 健康检查
func (g *GormDatabase) Ping(ctx context.Context) error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close 关闭连接
func (g *GormDatabase) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
