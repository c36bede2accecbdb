package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// DefaultAccessDays is the ingest span used when no access was ever recorded.
const DefaultAccessDays = 30

// RecordAccess marks feedName as requested at t. access_date never moves
// backwards.
func (c *Catalog) RecordAccess(ctx context.Context, feedName string, t time.Time) error {
	return c.withTx(ctx, "record access", func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO feed_info (feed_name, http_request, access_date) VALUES ($1, TRUE, $2)
			ON CONFLICT (feed_name) DO UPDATE SET
				http_request = TRUE,
				access_date = GREATEST(feed_info.access_date, EXCLUDED.access_date)`,
			feedName, t.UTC())
		return err
	})
}

// RecordView marks an item of feedName as viewed at t. view_date never
// moves backwards.
func (c *Catalog) RecordView(ctx context.Context, feedName string, t time.Time) error {
	return c.withTx(ctx, "record view", func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO feed_info (feed_name, http_request, view_date) VALUES ($1, TRUE, $2)
			ON CONFLICT (feed_name) DO UPDATE SET
				http_request = TRUE,
				view_date = GREATEST(feed_info.view_date, EXCLUDED.view_date)`,
			feedName, t.UTC())
		return err
	})
}

// RemoveAccessInfo clears the request columns of feedName.
func (c *Catalog) RemoveAccessInfo(ctx context.Context, feedName string) error {
	return c.withTx(ctx, "remove access info", func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE feed_info SET http_request = NULL, access_date = NULL WHERE feed_name = $1`, feedName)
		return err
	})
}

// DaysSinceLastAccess returns the days between today and the newest
// access_date plus one, or DefaultAccessDays when nothing was recorded.
func (c *Catalog) DaysSinceLastAccess(ctx context.Context) (int, error) {
	var days sql.NullInt64
	err := c.db.GetContext(ctx, &days,
		`SELECT CURRENT_DATE - MAX(access_date)::date AS days FROM feed_info`)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("days since last access: %w", err)
	}
	if !days.Valid {
		return DefaultAccessDays, nil
	}
	return max(int(days.Int64), 0) + 1, nil
}
