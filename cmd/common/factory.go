package common

import (
	"github.com/jonesrussell/north-cloud/feedmaker/internal/accesslog"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/catalog"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/feedbuilder"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/fetcher"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/logger"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/metrics"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/notifier"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/problem"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/runner"
)

// NewFetcher builds the page fetcher with a headless-browser renderer.
// The returned func closes the browsers the renderer launched.
func NewFetcher(deps CommandDeps) (*fetcher.Client, func()) {
	renderer := fetcher.NewRodRenderer(deps.Config.Fetcher.BrowserBin, deps.Config.Fetcher.RenderTimeout, deps.Logger)
	client := fetcher.NewClient(fetcher.ClientConfig{
		UserAgent:  deps.Config.Fetcher.UserAgent,
		RetryDelay: deps.Config.Fetcher.RetryDelay,
		Renderer:   renderer,
		Logger:     deps.Logger,
	})
	return client, func() {
		if err := renderer.Close(); err != nil {
			deps.Logger.Warn("Failed to close browser", logger.Error(err))
		}
	}
}

// NewRunner wires the builder, the notifier and the fetcher into a Runner.
func NewRunner(deps CommandDeps, m *metrics.Metrics) (*runner.Runner, func()) {
	client, closeFetcher := NewFetcher(deps)
	notify := notifier.New(deps.Config.Notification, deps.Logger)
	builder := feedbuilder.New(feedbuilder.Config{
		Env:      deps.Env,
		Fetcher:  client,
		Notifier: notify,
	})
	r := runner.New(runner.Config{
		Env:         deps.Env,
		Maker:       builder,
		Notifier:    notify,
		Metrics:     m,
		Concurrency: deps.Config.App.Concurrency,
	})
	return r, closeFetcher
}

// OpenCatalog connects to the catalog database. It returns ErrNoDatabase
// when no database is configured.
func OpenCatalog(deps CommandDeps) (*catalog.Catalog, func(), error) {
	if !deps.Config.Database.Enabled() {
		return nil, nil, ErrNoDatabase
	}
	db, err := catalog.Open(deps.Config.Database)
	if err != nil {
		return nil, nil, err
	}
	c := catalog.New(catalog.Config{DB: db, Env: deps.Env})
	return c, func() {
		if closeErr := db.Close(); closeErr != nil {
			deps.Logger.Warn("Failed to close database", logger.Error(closeErr))
		}
	}, nil
}

// NewIngestor returns nil when no log store is configured.
func NewIngestor(deps CommandDeps, c *catalog.Catalog, m *metrics.Metrics) *accesslog.Ingestor {
	if deps.Config.Loki.URL == "" {
		return nil
	}
	return accesslog.NewIngestor(accesslog.Config{
		Store:    c,
		Source:   accesslog.NewLokiClient(deps.Config.Loki, deps.Logger),
		Query:    deps.Config.Loki.Query,
		Limit:    deps.Config.Loki.Limit,
		Location: deps.Env.Location,
		Metrics:  m,
		Logger:   deps.Logger,
	})
}

// NewProblemManager builds the catalog refresher over c.
func NewProblemManager(deps CommandDeps, c *catalog.Catalog, m *metrics.Metrics) *problem.Manager {
	return problem.NewManager(c, NewIngestor(deps, c, m), m, deps.Logger)
}
