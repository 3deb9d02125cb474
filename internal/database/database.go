package database

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	cgosqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/NotiFansly/starboard/internal/apperr"
	"github.com/NotiFansly/starboard/internal/models"
)

const (
	maxRetries  = 3
	baseBackoff = 100 * time.Millisecond
)

// Open connects to the configured database. dbType is one of postgres,
// sqlite (pure Go) or sqlite-cgo.
func Open(dbType, dsn string, log *zap.SugaredLogger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch dbType {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "sqlite-cgo":
		dialector = cgosqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database type %q", dbType)
	}

	level := logger.Warn
	if log == nil {
		level = logger.Silent
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(level),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dbType, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if dbType == "postgres" {
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	} else {
		// SQLite serialises writers anyway; one connection avoids SQLITE_BUSY.
		sqlDB.SetMaxOpenConns(1)
	}

	if log != nil {
		log.Infow("database connected", "type", dbType)
	}
	return db, nil
}

// Migrate creates or updates every table.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// WithRetry runs fn, retrying transient failures with exponential backoff.
func WithRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if err = fn(); err == nil || !isRetryable(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return apperr.Wrap(apperr.TransientInfra, "database", ctx.Err())
		case <-time.After(baseBackoff << attempt):
		}
	}
	return apperr.Wrap(apperr.TransientInfra, "database", err)
}

func isRetryable(err error) bool {
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"database is locked", "connection reset", "connection refused", "broken pipe", "too many connections"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
