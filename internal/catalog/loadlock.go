package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// LoadLockTTL is how long a refresh lock protects its holder.
const LoadLockTTL = 60 * time.Second

// serializationFailure is the SQLSTATE of a serializable conflict.
const serializationFailure = "40001"

var serializable = &sql.TxOptions{Isolation: sql.LevelSerializable}

// AcquireLoadLock takes the single refresh lock. A lock younger than
// LoadLockTTL yields ErrBusy; an older one is replaced.
func (c *Catalog) AcquireLoadLock(ctx context.Context) error {
	now := c.now().UTC()
	err := c.runTx(ctx, serializable, func(tx *sqlx.Tx) error {
		var held []time.Time
		if err := tx.SelectContext(ctx, &held,
			`SELECT lock_time FROM lock_for_concurrent_loading FOR UPDATE`); err != nil {
			return fmt.Errorf("read lock: %w", err)
		}
		for _, t := range held {
			if now.Sub(t) < LoadLockTTL {
				return ErrBusy
			}
		}
		if len(held) > 0 {
			c.log.Info("Taking over stale catalog lock")
			if _, err := tx.ExecContext(ctx, `DELETE FROM lock_for_concurrent_loading`); err != nil {
				return fmt.Errorf("clear stale lock: %w", err)
			}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO lock_for_concurrent_loading (lock_time) VALUES ($1)`, now); err != nil {
			return fmt.Errorf("insert lock: %w", err)
		}
		return nil
	})
	if isSerializationFailure(err) {
		return ErrBusy
	}
	return err
}

// ReleaseLoadLock drops the refresh lock.
func (c *Catalog) ReleaseLoadLock(ctx context.Context) error {
	err := c.runTx(ctx, serializable, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM lock_for_concurrent_loading`)
		return err
	})
	if err != nil {
		return fmt.Errorf("release load lock: %w", err)
	}
	return nil
}

func isSerializationFailure(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == serializationFailure
}
