package database

import (
	"fmt"
	"strings"
	"time"

	"github.com/blues/commission/internal/config"
	"github.com/blues/commission/internal/logger"
	"github.com/blues/commission/internal/model"
	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

// livePhaseIndex 同一项目同一阶段只允许一条 pending/processing 支付记录
const livePhaseIndex = `CREATE UNIQUE INDEX IF NOT EXISTS idx_payment_record_live_phase
	ON payment_record (project_id, phase)
	WHERE status IN ('pending', 'processing')`

func Init(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.SQLitePath + "?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	default:
		dialector = postgres.Open(cfg.DSN())
	}

	db, err := open(dialector, time.Duration(cfg.SlowThresholdMs)*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

// OpenInMemory 打开独立的内存 SQLite 数据库并完成迁移，用于测试与本地调试
func OpenInMemory(name string) (*gorm.DB, error) {
	name = strings.NewReplacer("/", "_", " ", "_").Replace(name)
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", name)
	db, err := open(sqlite.Open(dsn), 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// 内存库只能共享单连接
	sqlDB.SetMaxOpenConns(1)

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

func open(dialector gorm.Dialector, slowThreshold time.Duration) (*gorm.DB, error) {
	level := gormLogger.Warn
	if slowThreshold <= 0 {
		level = gormLogger.Silent
	}

	return gorm.Open(dialector, &gorm.Config{
		Logger: gormLogger.New(logger.GormWriter{}, gormLogger.Config{
			SlowThreshold:             slowThreshold,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
		}),
		NamingStrategy: &schema.NamingStrategy{
			SingularTable: true, // 禁用复数表名
		},
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
}

// Migrate 自动迁移并创建部分唯一索引
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&model.ProjectModel{},
		&model.ProjectMilestoneModel{},
		&model.PaymentRecordModel{},
		&model.ReminderLogModel{},
	); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	if err := db.Exec(livePhaseIndex).Error; err != nil {
		return fmt.Errorf("failed to create payment phase index: %w", err)
	}

	return nil
}
