package store

import (
	"context"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Store wraps the gorm handle shared by the prompt and eval stores.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open connects to the configured database. Supported drivers: sqlite,
// postgres, mysql.
func Open(driver, dsn string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var dialector gorm.Dialector
	switch driver {
	case "sqlite", "":
		if dsn == "" {
			dsn = "promptgate.db"
		}
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s (supported: sqlite, postgres, mysql)", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	logger.Info("database connected", zap.String("driver", driver))
	return New(db, logger), nil
}

// New wraps an existing gorm handle.
func New(db *gorm.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger.With(zap.String("component", "store"))}
}

// Migrate creates or updates the prompt and eval tables.
func (s *Store) Migrate() error {
	return s.db.AutoMigrate(
		&Prompt{},
		&PromptVersion{},
		&EvalInput{},
		&EvalRun{},
	)
}

// DB exposes the underlying handle for collaborators sharing the
// connection, such as the trace logger.
func (s *Store) DB() *gorm.DB { return s.db }

// ConfigurePool applies connection-pool limits to the underlying sql.DB.
func (s *Store) ConfigurePool(maxIdle, maxOpen int, maxLifetime time.Duration) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if maxIdle > 0 {
		sqlDB.SetMaxIdleConns(maxIdle)
	}
	if maxOpen > 0 {
		sqlDB.SetMaxOpenConns(maxOpen)
	}
	if maxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(maxLifetime)
	}
	return nil
}

// Ping verifies the database connection, used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
