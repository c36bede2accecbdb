package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
)

// ProblemDays is the access age separating live feeds from stale ones.
const ProblemDays = 60

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// likePattern matches keyword anywhere in a column.
func likePattern(keyword string) string {
	return "%" + likeEscaper.Replace(keyword) + "%"
}

// SearchFeeds returns built feeds whose name or title contains every keyword.
func (c *Catalog) SearchFeeds(ctx context.Context, keywords []string) ([]FeedSummary, error) {
	var (
		conds []string
		args  []any
	)
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		args = append(args, likePattern(kw))
		n := len(args)
		conds = append(conds, fmt.Sprintf(
			`(feed_name LIKE $%d ESCAPE '\' OR COALESCE(feed_title, '') LIKE $%d ESCAPE '\')`, n, n))
	}
	if len(conds) == 0 {
		return nil, nil
	}
	query := `SELECT DISTINCT feed_name, COALESCE(feed_title, '') AS feed_title, COALESCE(group_name, '') AS group_name
		FROM feed_info WHERE COALESCE(feedmaker, FALSE) AND ` + strings.Join(conds, " AND ") + `
		ORDER BY group_name, feed_name`

	var out []FeedSummary
	if err := c.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("search feeds: %w", err)
	}
	return out, nil
}

// GetGroups counts feeds per non-empty group name.
func (c *Catalog) GetGroups(ctx context.Context) ([]GroupSummary, error) {
	var out []GroupSummary
	err := c.db.SelectContext(ctx, &out, `
		SELECT group_name, COUNT(*) AS num_feeds FROM feed_info
		WHERE group_name IS NOT NULL AND group_name <> ''
		GROUP BY group_name ORDER BY group_name`)
	if err != nil {
		return nil, fmt.Errorf("get groups: %w", err)
	}
	return out, nil
}

// GetFeedsByGroup lists the feeds of group. A missing title is the feed name.
func (c *Catalog) GetFeedsByGroup(ctx context.Context, group string) ([]FeedSummary, error) {
	var out []FeedSummary
	err := c.db.SelectContext(ctx, &out, `
		SELECT feed_name, COALESCE(NULLIF(feed_title, ''), feed_name) AS feed_title, group_name
		FROM feed_info WHERE group_name = $1 ORDER BY feed_name`, group)
	if err != nil {
		return nil, fmt.Errorf("get feeds by group: %w", err)
	}
	return out, nil
}

// GetFeedInfo returns the configured row of group/feed or ErrFeedNotFound.
func (c *Catalog) GetFeedInfo(ctx context.Context, group, feed string) (*FeedInfo, error) {
	var row FeedInfo
	err := c.db.GetContext(ctx, &row, `SELECT `+feedInfoColumns+` FROM feed_info
		WHERE feed_name = $1 AND group_name = $2 AND config IS NOT NULL`, feed, group)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrFeedNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get feed info: %w", err)
	}
	return &row, nil
}

// ToggleFeed flips the disabled prefix of a stored feed name and returns
// whether the feed is now active.
func (c *Catalog) ToggleFeed(ctx context.Context, feedName string) (bool, error) {
	var active bool
	err := c.withTx(ctx, "toggle feed", func(tx *sqlx.Tx) error {
		var name string
		err := tx.GetContext(ctx, &name,
			`SELECT feed_name FROM feed_info WHERE feed_name = $1 FOR UPDATE`, feedName)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrFeedNotFound
		}
		if err != nil {
			return err
		}
		newName, isActive := toggled(name)
		result, err := tx.ExecContext(ctx,
			`UPDATE feed_info SET feed_name = $2, is_active = $3 WHERE feed_name = $1`, name, newName, isActive)
		if err := execRequireRows(result, err, ErrFeedNotFound); err != nil {
			return err
		}
		active = isActive
		return nil
	})
	return active, err
}

// ToggleGroup flips the disabled prefix of a group name on every row of
// the group and returns whether the group is now active.
func (c *Catalog) ToggleGroup(ctx context.Context, group string) (bool, error) {
	var active bool
	err := c.withTx(ctx, "toggle group", func(tx *sqlx.Tx) error {
		newName, isActive := toggled(group)
		result, err := tx.ExecContext(ctx,
			`UPDATE feed_info SET group_name = $2, is_active = $3 WHERE group_name = $1`, group, newName, isActive)
		if err := execRequireRows(result, err, ErrFeedNotFound); err != nil {
			return err
		}
		active = isActive
		return nil
	})
	return active, err
}

// problemViewQuery keeps rows that are neither untouched, nor requested but
// never built and long forgotten, nor fully built and in recent use.
const problemViewQuery = `SELECT ` + feedInfoColumns + ` FROM feed_info
	WHERE NOT (NOT COALESCE(http_request, FALSE) AND NOT COALESCE(public_html, FALSE) AND NOT COALESCE(feedmaker, FALSE))
	AND NOT (COALESCE(http_request, FALSE) AND NOT COALESCE(public_html, FALSE) AND NOT COALESCE(feedmaker, FALSE)
		AND access_date IS NOT NULL AND CURRENT_DATE - access_date::date > $1)
	AND NOT (COALESCE(http_request, FALSE) AND COALESCE(public_html, FALSE) AND COALESCE(feedmaker, FALSE)
		AND config IS NOT NULL
		AND ((access_date IS NOT NULL AND CURRENT_DATE - access_date::date < $1)
			OR (view_date IS NOT NULL AND CURRENT_DATE - view_date::date < $1)))
	ORDER BY feedmaker, public_html, http_request, collect_date, rss_update_date, upload_date, access_date, view_date`

// GetProblemView returns the feeds an operator should look at.
func (c *Catalog) GetProblemView(ctx context.Context) ([]FeedInfo, error) {
	var out []FeedInfo
	if err := c.db.SelectContext(ctx, &out, problemViewQuery, ProblemDays); err != nil {
		return nil, fmt.Errorf("get problem view: %w", err)
	}
	return out, nil
}

// GetListURLCounts returns feeds collected from more than one list page.
func (c *Catalog) GetListURLCounts(ctx context.Context) ([]ListURLCount, error) {
	var out []ListURLCount
	err := c.db.SelectContext(ctx, &out, `
		SELECT feed_name, COALESCE(feed_title, '') AS feed_title, COALESCE(group_name, '') AS group_name, url_list_count
		FROM feed_info WHERE url_list_count > 1 ORDER BY url_list_count DESC, feed_name`)
	if err != nil {
		return nil, fmt.Errorf("get list url counts: %w", err)
	}
	return out, nil
}

// GetElementNameCounts returns how often each conf.json key is configured.
func (c *Catalog) GetElementNameCounts(ctx context.Context) ([]ElementNameCount, error) {
	var out []ElementNameCount
	err := c.db.SelectContext(ctx, &out,
		`SELECT element_name, count FROM element_name_count ORDER BY element_name`)
	if err != nil {
		return nil, fmt.Errorf("get element name counts: %w", err)
	}
	return out, nil
}

// ReplaceElementNameCounts stores counts as the complete set.
func (c *Catalog) ReplaceElementNameCounts(ctx context.Context, counts map[string]int) error {
	return c.withTx(ctx, "replace element name counts", func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM element_name_count`); err != nil {
			return err
		}
		names := make([]string, 0, len(counts))
		for name := range counts {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO element_name_count (element_name, count) VALUES ($1, $2)`, name, counts[name]); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetProgressFeeds returns completed feeds with their release progress.
func (c *Catalog) GetProgressFeeds(ctx context.Context) ([]FeedInfo, error) {
	var out []FeedInfo
	err := c.db.SelectContext(ctx, &out, `SELECT `+feedInfoColumns+` FROM feed_info
		WHERE COALESCE(is_completed, FALSE) ORDER BY progress_ratio DESC NULLS LAST, feed_name`)
	if err != nil {
		return nil, fmt.Errorf("get progress feeds: %w", err)
	}
	return out, nil
}

// GetPublicFeeds returns feeds whose artifact is published.
func (c *Catalog) GetPublicFeeds(ctx context.Context) ([]FeedInfo, error) {
	var out []FeedInfo
	err := c.db.SelectContext(ctx, &out, `SELECT `+feedInfoColumns+` FROM feed_info
		WHERE COALESCE(public_html, FALSE) ORDER BY feed_name`)
	if err != nil {
		return nil, fmt.Errorf("get public feeds: %w", err)
	}
	return out, nil
}
