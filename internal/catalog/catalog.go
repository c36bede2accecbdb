// Package catalog persists per-feed facts gathered from the feed tree, the
// public feed directory and the access logs, and serves the operator views.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/jonesrussell/north-cloud/feedmaker/internal/app"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/config"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/logger"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/retry"
)

const (
	// DefaultPingTimeout bounds the connection check in Open.
	DefaultPingTimeout = 5 * time.Second
	// DefaultRetryDelay separates the two attempts of a write.
	DefaultRetryDelay = 500 * time.Millisecond

	writeAttempts = 2
)

var (
	// ErrBusy means another process holds the refresh lock.
	ErrBusy = errors.New("catalog refresh in progress")
	// ErrFeedNotFound means no row matches the requested feed or group.
	ErrFeedNotFound = errors.New("feed not found")
)

// Open connects to PostgreSQL and applies the pool limits.
func Open(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), DefaultPingTimeout)
	defer cancel()
	if pingErr := db.PingContext(ctx); pingErr != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", pingErr)
	}
	return db, nil
}

// Config configures a Catalog.
type Config struct {
	DB         *sqlx.DB
	Env        *app.Env
	RetryDelay time.Duration
	Now        func() time.Time
}

// Catalog is safe for concurrent use. Every write runs in its own
// transaction and is attempted twice.
type Catalog struct {
	db         *sqlx.DB
	env        *app.Env
	log        logger.Logger
	retryDelay time.Duration
	now        func() time.Time
}

// New creates a Catalog.
func New(cfg Config) *Catalog {
	if cfg.Env == nil {
		cfg.Env = app.New("", "", "", "", nil, nil)
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	} else if cfg.RetryDelay == 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Catalog{
		db:         cfg.DB,
		env:        cfg.Env,
		log:        cfg.Env.Logger,
		retryDelay: cfg.RetryDelay,
		now:        cfg.Now,
	}
}

// DB exposes the underlying handle for migrations and health checks.
func (c *Catalog) DB() *sqlx.DB { return c.db }

// Ping checks the connection.
func (c *Catalog) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// withTx runs fn in a transaction, retrying the whole transaction once.
func (c *Catalog) withTx(ctx context.Context, op string, fn func(tx *sqlx.Tx) error) error {
	cfg := retry.Fixed(writeAttempts, c.retryDelay)
	cfg.IsRetryable = func(err error) bool {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) &&
			!errors.Is(err, ErrFeedNotFound)
	}
	cfg.OnRetry = func(attempt int, err error, _ time.Duration) {
		c.log.Warn("Retrying catalog write", logger.String("op", op), logger.Int("attempt", attempt), logger.Error(err))
	}
	err := retry.Do(ctx, cfg, func(ctx context.Context) error {
		return c.runTx(ctx, nil, fn)
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (c *Catalog) runTx(ctx context.Context, opts *sql.TxOptions, fn func(tx *sqlx.Tx) error) error {
	tx, err := c.db.BeginTxx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// execRequireRows validates that an ExecContext result affected at least one row.
func execRequireRows(result sql.Result, err, notFoundErr error) error {
	if err != nil {
		return err
	}
	n, affectedErr := result.RowsAffected()
	if affectedErr != nil {
		return affectedErr
	}
	if n == 0 {
		return notFoundErr
	}
	return nil
}
