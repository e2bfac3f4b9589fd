package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// =============================================================================
// 🗄️ 数据库连接
// =============================================================================

// Driver 数据库驱动名
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
	DriverMySQL    Driver = "mysql"
)

// Config 数据库配置
type Config struct {
	// 驱动：sqlite / postgres / mysql
	Driver Driver `yaml:"driver" json:"driver" env:"DRIVER"`

	// 连接串；sqlite 为文件路径
	DSN string `yaml:"dsn" json:"dsn" env:"DSN"`

	// 最大空闲连接数
	MaxIdleConns int `yaml:"max_idle_conns" json:"max_idle_conns" env:"MAX_IDLE_CONNS"`

	// 最大打开连接数
	MaxOpenConns int `yaml:"max_open_conns" json:"max_open_conns" env:"MAX_OPEN_CONNS"`

	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`

	// 连接最大空闲时间
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time" env:"CONN_MAX_IDLE_TIME"`
}

// DefaultConfig 返回默认配置（本地 sqlite 文件）
func DefaultConfig() Config {
	return Config{
		Driver:          DriverSQLite,
		DSN:             "audit.db",
		MaxIdleConns:    2,
		MaxOpenConns:    10,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
	}
}

// Validate 校验配置
func (c Config) Validate() error {
	if _, err := Dialector(c.Driver, "x"); err != nil {
		return err
	}
	if strings.TrimSpace(c.DSN) == "" {
		return fmt.Errorf("database dsn is required")
	}
	if c.MaxOpenConns <= 0 {
		return fmt.Errorf("max_open_conns must be positive")
	}
	if c.MaxIdleConns <= 0 {
		return fmt.Errorf("max_idle_conns must be positive")
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return fmt.Errorf("max_idle_conns (%d) cannot exceed max_open_conns (%d)", c.MaxIdleConns, c.MaxOpenConns)
	}
	return nil
}

// Dialector 根据驱动名返回 GORM 方言
func Dialector(driver Driver, dsn string) (gorm.Dialector, error) {
	switch Driver(strings.ToLower(string(driver))) {
	case DriverSQLite, "sqlite3":
		return sqlite.Open(dsn), nil
	case DriverPostgres, "postgresql":
		return postgres.Open(dsn), nil
	case DriverMySQL:
		return mysql.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// DB 数据库连接句柄
type DB struct {
	gorm   *gorm.DB
	sqlDB  *sql.DB
	config Config
	logger *zap.Logger
	mu     sync.RWMutex
	closed bool
}

// Open 打开数据库并应用连接池配置
func Open(config Config, logger *zap.Logger) (*DB, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	dialector, err := Dialector(config.Driver, config.DSN)
	if err != nil {
		return nil, err
	}
	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", config.Driver, err)
	}
	return New(gdb, config, logger)
}

// New 包装已打开的 GORM 实例
func New(gdb *gorm.DB, config Config, logger *zap.Logger) (*DB, error) {
	if gdb == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	// 配置连接池
	if config.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	}
	sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	db := &DB{
		gorm:   gdb,
		sqlDB:  sqlDB,
		config: config,
		logger: logger.With(zap.String("component", "database")),
	}

	db.logger.Info("database opened",
		zap.String("driver", string(config.Driver)),
		zap.Int("max_open_conns", config.MaxOpenConns),
	)
	return db, nil
}

// Gorm 返回 GORM 实例
func (d *DB) Gorm() *gorm.DB {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.gorm
}

// Ping 检查数据库连接
func (d *DB) Ping(ctx context.Context) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return fmt.Errorf("database is closed")
	}
	return d.sqlDB.PingContext(ctx)
}

// Close 关闭连接，可重复调用
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	d.logger.Info("closing database")
	return d.sqlDB.Close()
}

// =============================================================================
// 📊 统计信息
// =============================================================================

// Stats 连接池统计信息
type Stats struct {
	MaxOpenConnections int           `json:"max_open_connections"`
	OpenConnections    int           `json:"open_connections"`
	InUse              int           `json:"in_use"`
	Idle               int           `json:"idle"`
	WaitCount          int64         `json:"wait_count"`
	WaitDuration       time.Duration `json:"wait_duration"`
}

// Stats 返回连接池统计信息
func (d *DB) Stats() Stats {
	s := d.sqlDB.Stats()
	return Stats{
		MaxOpenConnections: s.MaxOpenConnections,
		OpenConnections:    s.OpenConnections,
		InUse:              s.InUse,
		Idle:               s.Idle,
		WaitCount:          s.WaitCount,
		WaitDuration:       s.WaitDuration,
	}
}
