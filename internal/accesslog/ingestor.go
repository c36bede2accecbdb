package accesslog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jonesrussell/north-cloud/feedmaker/internal/logger"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/metrics"
)

const (
	// DefaultMaxDays is the span of a full reload.
	DefaultMaxDays = 30

	windowHours = 6
)

// LogSource returns raw log lines for a time range.
type LogSource interface {
	QueryRange(ctx context.Context, query string, start, end time.Time, limit int) ([]string, error)
}

// Store records events. *catalog.Catalog implements it.
type Store interface {
	RecordAccess(ctx context.Context, feedName string, t time.Time) error
	RecordView(ctx context.Context, feedName string, t time.Time) error
	RemoveAccessInfo(ctx context.Context, feedName string) error
	DaysSinceLastAccess(ctx context.Context) (int, error)
}

// Config configures an Ingestor.
type Config struct {
	Store    Store
	Source   LogSource
	Query    string
	Limit    int
	Location *time.Location
	Metrics  *metrics.Metrics
	Logger   logger.Logger
	Now      func() time.Time
}

// Stats counts the feeds updated by an ingest.
type Stats struct {
	Accessed int
	Viewed   int
}

// Ingestor walks days of access logs and records the newest event per
// feed and day.
type Ingestor struct {
	store   Store
	source  LogSource
	query   string
	limit   int
	loc     *time.Location
	metrics *metrics.Metrics
	log     logger.Logger
	now     func() time.Time
}

// NewIngestor creates an Ingestor.
func NewIngestor(cfg Config) *Ingestor {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 5000
	}
	return &Ingestor{
		store:   cfg.Store,
		source:  cfg.Source,
		query:   cfg.Query,
		limit:   cfg.Limit,
		loc:     cfg.Location,
		metrics: cfg.Metrics,
		log:     cfg.Logger,
		now:     cfg.Now,
	}
}

// LoadAllAccessInfo ingests today and the maxDays days before it, oldest first.
func (g *Ingestor) LoadAllAccessInfo(ctx context.Context, maxDays int) (Stats, error) {
	start := time.Now()
	if maxDays < 0 {
		maxDays = 0
	}
	today := g.now().In(g.loc)

	var (
		total Stats
		errs  []error
	)
	for i := maxDays; i >= 0; i-- {
		day := time.Date(today.Year(), today.Month(), today.Day()-i, 0, 0, 0, 0, g.loc)
		st, err := g.ingestDay(ctx, day)
		total.Accessed += st.Accessed
		total.Viewed += st.Viewed
		if err != nil {
			if ctx.Err() != nil {
				return total, err
			}
			errs = append(errs, err)
		}
	}

	g.log.Info("Loaded access logs",
		logger.Int("days", maxDays+1),
		logger.Int("accessed", total.Accessed),
		logger.Int("viewed", total.Viewed),
		logger.Duration("elapsed", time.Since(start)),
	)
	return total, errors.Join(errs...)
}

// AddNewAccessInfo ingests the days since the newest recorded access.
func (g *Ingestor) AddNewAccessInfo(ctx context.Context) (Stats, error) {
	days, err := g.store.DaysSinceLastAccess(ctx)
	if err != nil {
		return Stats{}, err
	}
	return g.LoadAllAccessInfo(ctx, days)
}

// RemoveAccessInfo forgets the recorded accesses of feedName.
func (g *Ingestor) RemoveAccessInfo(ctx context.Context, feedName string) error {
	return g.store.RemoveAccessInfo(ctx, feedName)
}

// ingestDay queries day in windowHours slices and records the newest
// access and view per feed.
func (g *Ingestor) ingestDay(ctx context.Context, day time.Time) (Stats, error) {
	accessed := map[string]time.Time{}
	viewed := map[string]time.Time{}
	for h := 0; h < 24; h += windowHours {
		from := time.Date(day.Year(), day.Month(), day.Day(), h, 0, 0, 0, g.loc)
		to := time.Date(day.Year(), day.Month(), day.Day(), h+windowHours, 0, 0, 0, g.loc)
		lines, err := g.source.QueryRange(ctx, g.query, from, to, g.limit)
		if err != nil {
			return Stats{}, fmt.Errorf("access logs of %s: %w", day.Format(time.DateOnly), err)
		}
		for _, line := range lines {
			ev, ok := ParseLine(line)
			if !ok {
				continue
			}
			latest := accessed
			if ev.Kind == KindView {
				latest = viewed
			}
			if prev, seen := latest[ev.Feed]; !seen || ev.Time.After(prev) {
				latest[ev.Feed] = ev.Time
			}
		}
	}

	var errs []error
	for _, feed := range sortedKeys(accessed) {
		if err := g.store.RecordAccess(ctx, feed, accessed[feed]); err != nil {
			errs = append(errs, err)
		}
	}
	for _, feed := range sortedKeys(viewed) {
		if err := g.store.RecordView(ctx, feed, viewed[feed]); err != nil {
			errs = append(errs, err)
		}
	}
	g.metrics.AddAccessEvents(string(KindAccess), len(accessed))
	g.metrics.AddAccessEvents(string(KindView), len(viewed))
	return Stats{Accessed: len(accessed), Viewed: len(viewed)}, errors.Join(errs...)
}

func sortedKeys(m map[string]time.Time) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
