package database

import (
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/facesynth/config"
	"github.com/BaSui01/facesynth/internal/metrics"
)

// Dialector 按驱动名选择 GORM 方言
func Dialector(cfg config.DatabaseConfig) (gorm.Dialector, error) {
	dsn := cfg.DSN()
	switch cfg.Driver {
	case "postgres":
		return postgres.Open(dsn), nil
	case "mysql":
		return mysql.Open(dsn), nil
	case "sqlite":
		return sqlite.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// Open 连接运行记录库并配置连接池
func Open(cfg config.DatabaseConfig, logger *zap.Logger, opts ...PoolOption) (*PoolManager, error) {
	dialector, err := Dialector(cfg)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.Driver, err)
	}

	pool := DefaultPoolConfig()
	if cfg.MaxOpenConns > 0 {
		pool.MaxOpenConns = cfg.MaxOpenConns
	}
	if cfg.MaxIdleConns > 0 {
		pool.MaxIdleConns = cfg.MaxIdleConns
	}
	if cfg.ConnMaxLifetime > 0 {
		pool.ConnMaxLifetime = cfg.ConnMaxLifetime
	}
	// sqlite 文件库只允许单写者
	if cfg.Driver == "sqlite" {
		pool.MaxOpenConns, pool.MaxIdleConns = 1, 1
	}

	pm, err := NewPoolManager(db, pool, logger, opts...)
	if err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
		return nil, err
	}
	return pm, nil
}

// =============================================================================
// ⏱️ SQL 耗时
// =============================================================================

const startKey = "facesynth:query_start"

// registerQueryTimer 在 GORM 回调链上记录每类操作的耗时
func registerQueryTimer(db *gorm.DB, c *metrics.Collector, name string) error {
	before := func(tx *gorm.DB) { tx.InstanceSet(startKey, time.Now()) }
	after := func(op string) func(*gorm.DB) {
		return func(tx *gorm.DB) {
			v, ok := tx.InstanceGet(startKey)
			if !ok {
				return
			}
			if start, ok := v.(time.Time); ok {
				c.RecordDBQuery(name, op, time.Since(start))
			}
		}
	}

	cb := db.Callback()
	regs := []struct {
		op string
		b  error
		a  error
	}{
		{"create", cb.Create().Before("gorm:create").Register("facesynth:before_create", before),
			cb.Create().After("gorm:create").Register("facesynth:after_create", after("create"))},
		{"query", cb.Query().Before("gorm:query").Register("facesynth:before_query", before),
			cb.Query().After("gorm:query").Register("facesynth:after_query", after("query"))},
		{"update", cb.Update().Before("gorm:update").Register("facesynth:before_update", before),
			cb.Update().After("gorm:update").Register("facesynth:after_update", after("update"))},
		{"delete", cb.Delete().Before("gorm:delete").Register("facesynth:before_delete", before),
			cb.Delete().After("gorm:delete").Register("facesynth:after_delete", after("delete"))},
	}
	for _, r := range regs {
		if r.b != nil || r.a != nil {
			return fmt.Errorf("register %s timer: %w", r.op, errors.Join(r.b, r.a))
		}
	}
	return nil
}
