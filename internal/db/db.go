package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/balkashynov/celltrack/internal/config"
	"github.com/balkashynov/celltrack/internal/models"
)

// Store is the transactional core: the channel registry and the cycle sequencer
type Store struct {
	gdb      *gorm.DB
	driver   string
	channels int
	timeout  time.Duration
	log      *zap.Logger
}

// Open connects to the configured database and runs migrations
func Open(cfg *config.Config, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}

	gormCfg := &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent), // Quiet by default
		TranslateError: true,
	}
	if log.Core().Enabled(zapcore.DebugLevel) {
		gormCfg.Logger = logger.Default.LogMode(logger.Info)
	}

	var dialector gorm.Dialector
	switch cfg.Database.Driver {
	case config.DriverSQLite:
		// Ensure the directory exists
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dialector = sqlite.Open(sqliteDSN(cfg.Database.Path))
	case config.DriverPostgres:
		dialector = postgres.Open(cfg.Database.DSN)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}

	gdb, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if cfg.Database.Driver == config.DriverSQLite {
		// one connection serializes writers inside this process
		sqlDB.SetMaxOpenConns(1)
	} else if cfg.Database.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.Database.MaxOpenConns)
	}

	s := &Store{
		gdb:      gdb,
		driver:   cfg.Database.Driver,
		channels: cfg.Lab.Channels,
		timeout:  cfg.GetAcquireTimeout(),
		log:      log.Named("store"),
	}

	if err := s.runMigrations(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	s.log.Debug("store opened",
		zap.String("driver", s.driver),
		zap.Int("channels", s.channels),
		zap.Duration("acquire_timeout", s.timeout))
	return s, nil
}

// sqliteDSN opens transactions with BEGIN IMMEDIATE so writers from other
// processes wait on busy_timeout instead of failing on lock upgrade.
func sqliteDSN(path string) string {
	return path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"
}

// runMigrations creates/updates the database schema
func (s *Store) runMigrations() error {
	if err := s.gdb.AutoMigrate(&models.Cell{}, &models.Cycle{}); err != nil {
		return err
	}
	// At most one running cell per channel. gorm tags cannot express a partial index.
	return s.gdb.Exec(
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_cells_running_channel ON cells(channel) WHERE status = 'running'",
	).Error
}

// Channels returns the configured channel count N
func (s *Store) Channels() int {
	return s.channels
}

// Ping checks that the database answers within the acquire timeout
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	sqlDB, err := s.gdb.DB()
	if err != nil {
		return classify(err, "")
	}
	return classify(sqlDB.PingContext(ctx), "")
}

// Close closes the database connection
func (s *Store) Close() error {
	sqlDB, err := s.gdb.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// withTx runs fn in one transaction bounded by the acquire timeout.
// gorm commits on nil, rolls back on error or panic.
func (s *Store) withTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var opts []*sql.TxOptions
	if s.driver == config.DriverPostgres {
		opts = append(opts, &sql.TxOptions{Isolation: sql.LevelSerializable})
	}
	return s.gdb.WithContext(ctx).Transaction(fn, opts...)
}

// logRejection records a failed operation with its error code
func (s *Store) logRejection(op string, err error, fields ...zap.Field) {
	fields = append(fields, zap.String("error_code", KindOf(err).Code()), zap.Error(err))
	switch KindOf(err) {
	case KindStorageUnavailable, KindUnknown:
		s.log.Error(op+" failed", fields...)
	default:
		s.log.Info(op+" rejected", fields...)
	}
}
