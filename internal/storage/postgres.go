package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/DanielCayresFilho/NoVendx/internal/apperrors"
	"github.com/DanielCayresFilho/NoVendx/internal/model"
	"github.com/DanielCayresFilho/NoVendx/internal/observer"
	"github.com/DanielCayresFilho/NoVendx/pkg/logger"
	"github.com/DanielCayresFilho/NoVendx/pkg/utils"
)

// --- Retry Logic Configuration ---
const (
	defaultRetryInitialInterval = 50 * time.Millisecond
	defaultRetryMaxInterval     = 2 * time.Second
	readRetryMaxElapsedTime     = 5 * time.Second  // More aggressive for reads
	commitRetryMaxElapsedTime   = 15 * time.Second // More tolerant for commits

	// DefaultLineCapacity is the number of operators one line can hold.
	DefaultLineCapacity = 2
)

// newRetryPolicy creates a new exponential backoff policy with context awareness.
func newRetryPolicy(ctx context.Context, maxElapsedTime time.Duration) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = defaultRetryInitialInterval
	b.MaxInterval = defaultRetryMaxInterval
	b.MaxElapsedTime = maxElapsedTime
	b.Reset() // Important: Reset before first use
	return backoff.WithContext(b, ctx)
}

// retryableOperation wraps a database operation with retry logic.
func retryableOperation(ctx context.Context, policy backoff.BackOffContext, opName string, operation func() error) error {
	notify := func(err error, d time.Duration) {
		logger.FromContext(ctx).Warn("Retrying DB operation",
			zap.String("operation", opName),
			zap.Error(err),
			zap.Duration("after", d),
		)
	}

	return backoff.RetryNotify(func() error {
		err := operation()
		if err != nil {
			// Domain outcomes and non-retryable GORM errors end the loop immediately
			if errors.Is(err, gorm.ErrRecordNotFound) ||
				errors.Is(err, gorm.ErrInvalidTransaction) ||
				errors.Is(err, gorm.ErrDuplicatedKey) ||
				errors.Is(err, gorm.ErrForeignKeyViolated) ||
				errors.Is(err, apperrors.ErrNotFound) ||
				errors.Is(err, apperrors.ErrConflict) ||
				errors.Is(err, apperrors.ErrLineUnavailable) {
				return backoff.Permanent(err)
			}
			if isTransientError(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		return nil
	}, policy, notify)
}

// isTransientError checks if the error suggests a temporary issue like a network problem.
func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	// See https://www.postgresql.org/docs/current/errcodes-appendix.html
	// Class 08: Connection Exception
	// Class 53: Insufficient Resources
	// 40P01 deadlock and 40001 serialization failure are safe to retry because every
	// write here runs as one self-contained transaction.
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if strings.HasPrefix(pgErr.Code, "08") ||
			strings.HasPrefix(pgErr.Code, "53") ||
			pgErr.Code == "40P01" ||
			pgErr.Code == "40001" {
			return true
		}
	}

	errStr := strings.ToLower(err.Error())
	transientIndicators := []string{
		"connection refused",
		"network is unreachable",
		"i/o timeout",
		"broken pipe",
		"connection reset by peer",
		"could not translate host name",
		"no route to host",
		"database system is starting up",
		"connection timed out",
		"connection reset",
	}
	for _, indicator := range transientIndicators {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}

	return false
}

// PostgresRepo implements every repository interface of this package on top of gorm.
type PostgresRepo struct {
	db           *gorm.DB
	lineCapacity int
}

// PostgresConfig configures NewPostgresRepo.
type PostgresConfig struct {
	DSN          string
	AutoMigrate  bool
	MaxOpenConns int
	MaxIdleConns int
	LineCapacity int
}

// NewPostgresRepo connects to Postgres with retries and optionally migrates the schema.
func NewPostgresRepo(cfg PostgresConfig) (*PostgresRepo, error) {
	operationConnect := func() (*gorm.DB, error) {
		db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
			Logger:         gormLogger.Default.LogMode(gormLogger.Warn),
			TranslateError: true,
		})
		if err != nil {
			if isTransientError(err) {
				logger.Log.Warn("Failed to connect to postgres (transient), retrying...", zap.Error(err))
				return nil, err
			}
			return nil, backoff.Permanent(fmt.Errorf("failed to connect to postgres: %w", err))
		}
		return db, nil
	}

	notify := func(err error, d time.Duration) {
		logger.Log.Warn("Retrying DB connection", zap.Error(err), zap.Duration("after", d))
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 1 * time.Second
	b.MaxInterval = 15 * time.Second
	b.MaxElapsedTime = 1 * time.Minute

	db, err := backoff.RetryNotifyWithData(operationConnect, b, notify)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres after retries: %w", err)
	}

	if sqlDB, err := db.DB(); err == nil {
		if cfg.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		}
	}

	repo := &PostgresRepo{db: db, lineCapacity: cfg.LineCapacity}

	if cfg.AutoMigrate {
		logger.Log.Info("Running auto-migration")
		if err := repo.migrate(); err != nil {
			_ = repo.Close(context.Background())
			return nil, err
		}
	} else {
		logger.Log.Info("Auto-migration disabled")
	}

	return repo, nil
}

// migrate creates or updates every table and seeds the default segment.
func (r *PostgresRepo) migrate() error {
	err := r.db.AutoMigrate(
		&model.Segment{},
		&model.GatewayInstance{},
		&model.Line{},
		&model.Operator{},
		&model.LineBinding{},
		&model.Contact{},
		&model.BlocklistEntry{},
		&model.RepescagemState{},
		&model.SendHistory{},
		&model.OutboundMessage{},
		&model.ControlPanelConfig{},
	)
	if err != nil {
		return fmt.Errorf("%w: auto-migration failed: %w", apperrors.ErrDatabase, err)
	}

	// Partial unique index: at most one global control panel row.
	if err := r.db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_control_panels_global ON control_panels ((segment_id IS NULL)) WHERE segment_id IS NULL`).Error; err != nil {
		logger.Log.Warn("Failed to create index", zap.String("indexName", "idx_control_panels_global"), zap.Error(err))
	}

	seed := model.Segment{Name: model.DefaultSegmentName}
	if err := r.db.Where("name = ?", seed.Name).FirstOrCreate(&seed).Error; err != nil {
		return fmt.Errorf("%w: failed to seed default segment: %w", apperrors.ErrDatabase, err)
	}
	return nil
}

func (r *PostgresRepo) capacity() int {
	if r.lineCapacity <= 0 {
		return DefaultLineCapacity
	}
	return r.lineCapacity
}

// withTx runs fn inside one transaction, rolling back on error or panic.
func (r *PostgresRepo) withTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	tx := r.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return fmt.Errorf("%w: failed to begin transaction: %w", apperrors.ErrDatabase, tx.Error)
	}
	var txErr error
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		} else if txErr != nil {
			if rbErr := tx.Rollback().Error; rbErr != nil {
				logger.FromContext(ctx).Error("Failed to rollback transaction after error", zap.Error(rbErr), zap.NamedError("originalTxError", txErr))
			}
		}
	}()

	if txErr = fn(tx); txErr != nil {
		return txErr
	}
	if commitErr := tx.Commit().Error; commitErr != nil {
		txErr = fmt.Errorf("%w: failed to commit transaction: %w", apperrors.ErrDatabase, commitErr)
		return txErr
	}
	return nil
}

// observed runs operation under the given retry budget and records its duration.
func (r *PostgresRepo) observed(ctx context.Context, maxElapsed time.Duration, opName, entity string, operation func() error) error {
	policy := newRetryPolicy(ctx, maxElapsed)
	startTime := utils.Now()
	err := retryableOperation(ctx, policy, opName, operation)
	observer.ObserveDbOperationDuration(opName, entity, time.Since(startTime), err)
	return err
}

// Ping checks database connectivity.
func (r *PostgresRepo) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrDatabase, err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: ping failed: %w", apperrors.ErrDatabase, err)
	}
	return nil
}

// Close closes the database connection
func (r *PostgresRepo) Close(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		logger.FromContext(ctx).Warn("Failed to get underlying SQL DB for closing", zap.Error(err))
		return nil
	}

	if closeErr := sqlDB.Close(); closeErr != nil {
		logger.FromContext(ctx).Error("Failed to close database connection", zap.Error(closeErr))
		return fmt.Errorf("failed to close SQL DB: %w", closeErr)
	}

	logger.FromContext(ctx).Info("Database connection closed successfully")
	return nil
}

// notFoundOr maps gorm.ErrRecordNotFound to apperrors.ErrNotFound and any other error to ErrDatabase.
func notFoundOr(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s: %w", apperrors.ErrNotFound, what, err)
	}
	return fmt.Errorf("%w: query %s failed: %w", apperrors.ErrDatabase, what, err)
}

// checkConstraintViolation inspects database errors and maps them to standard apperrors.
func checkConstraintViolation(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %w", apperrors.ErrNotFound, err)
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %w", apperrors.ErrDuplicate, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		// Class 23: Integrity Constraint Violation
		case "23505": // unique_violation
			return fmt.Errorf("%w: constraint %s: %w", apperrors.ErrDuplicate, pgErr.ConstraintName, err)
		case "23503": // foreign_key_violation
			return fmt.Errorf("%w: constraint %s: %w", apperrors.ErrBadRequest, pgErr.ConstraintName, err)
		case "23502": // not_null_violation
			return fmt.Errorf("%w: null value in column %s: %w", apperrors.ErrBadRequest, pgErr.ColumnName, err)
		case "23514": // check_violation
			return fmt.Errorf("%w: constraint %s: %w", apperrors.ErrBadRequest, pgErr.ConstraintName, err)

		// Class 22: Data Exception
		case "22001": // string_data_right_truncation
			return fmt.Errorf("%w: value too long for column %s: %w", apperrors.ErrBadRequest, pgErr.ColumnName, err)
		case "22P02": // invalid_text_representation
			return fmt.Errorf("%w: invalid input syntax for type %s: %w", apperrors.ErrBadRequest, pgErr.DataTypeName, err)

		// Class 40: Transaction Rollback
		case "40001", "40P01":
			return fmt.Errorf("%w: transaction rollback (%s): %w", apperrors.ErrDatabase, pgErr.Code, err)

		default:
			if strings.HasPrefix(pgErr.Code, "53") {
				return fmt.Errorf("%w: insufficient resources (%s): %w", apperrors.ErrDatabase, pgErr.Code, err)
			}
			if strings.HasPrefix(pgErr.Code, "08") {
				return fmt.Errorf("%w: connection error (%s): %w", apperrors.ErrDatabase, pgErr.Code, err)
			}
			return fmt.Errorf("%w: unhandled pgcode %s: %w", apperrors.ErrDatabase, pgErr.Code, err)
		}
	}

	return fmt.Errorf("%w: %w", apperrors.ErrDatabase, err)
}
