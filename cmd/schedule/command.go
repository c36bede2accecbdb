// Package schedule implements the long-running daemon: periodic batch
// runs, access-log ingestion and the health and metrics endpoints.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/jonesrussell/north-cloud/feedmaker/cmd/common"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/catalog"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/logger"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/metrics"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/problem"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/runner"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/server"
)

type options struct {
	numFeeds int
	runNow   bool
}

// Command returns the schedule command.
func Command(version string) *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run feeds on a schedule and serve health and metrics",
		Long: `schedule runs every feed on scheduler.feeds_cron and refreshes the catalog
afterwards, ingests new access-log events on scheduler.access_cron and serves
/health and /metrics on scheduler.http_addr until SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			deps, err := common.NewCommandDeps()
			if err != nil {
				return err
			}
			defer func() { _ = deps.Logger.Sync() }()
			return run(cmd.Context(), deps, version, opts)
		},
	}
	cmd.Flags().IntVarP(&opts.numFeeds, "num-feeds", "n", 0, "make at most this many feeds per batch (0 means all)")
	cmd.Flags().BoolVar(&opts.runNow, "run-now", false, "start a batch immediately")
	return cmd
}

type daemon struct {
	runner   *runner.Runner
	manager  *problem.Manager
	numFeeds int
	log      logger.Logger
}

func (d *daemon) batch(ctx context.Context) error {
	res, err := d.runner.MakeAllFeeds(ctx, runner.BatchOptions{NumFeeds: d.numFeeds})
	if d.manager != nil {
		if loadErr := d.manager.LoadAll(ctx, problem.LoadOptions{}); loadErr != nil && !errors.Is(loadErr, catalog.ErrBusy) {
			err = errors.Join(err, fmt.Errorf("catalog refresh: %w", loadErr))
		}
	}
	if err == nil && len(res.Failed) > 0 {
		d.log.Warn("Batch finished with failures", logger.String("run_id", res.RunID), logger.Strings("failed", res.Failed))
	}
	return err
}

func run(ctx context.Context, deps common.CommandDeps, version string, opts options) error {
	log := deps.Logger
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	r, closeFetcher := common.NewRunner(deps, m)
	defer closeFetcher()

	d := &daemon{runner: r, numFeeds: opts.numFeeds, log: log}
	srvCfg := server.Config{
		Addr:     deps.Config.Scheduler.HTTPAddr,
		Version:  version,
		Gatherer: reg,
		Runs:     r,
		Logger:   log,
	}

	var ingest func(ctx context.Context) error
	c, closeDB, err := common.OpenCatalog(deps)
	switch {
	case errors.Is(err, common.ErrNoDatabase):
		log.Info("Catalog disabled, running feeds only")
	case err != nil:
		return err
	default:
		defer closeDB()
		ing := common.NewIngestor(deps, c, m)
		d.manager = problem.NewManager(c, ing, m, log)
		srvCfg.DB = c
		srvCfg.Problems = d.manager
		if ing != nil {
			ingest = func(ctx context.Context) error {
				_, err := ing.AddNewAccessInfo(ctx)
				return err
			}
		}
	}

	jobs := []Job{{Name: "feeds", Spec: deps.Config.Scheduler.FeedsCron, Run: d.batch}}
	if ingest != nil {
		jobs = append(jobs, Job{Name: "access", Spec: deps.Config.Scheduler.AccessCron, Run: ingest})
	}
	sched := NewScheduler(jobs, deps.Env.Location, log)
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()

	var wg sync.WaitGroup
	defer wg.Wait()
	if opts.runNow {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := d.batch(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("Initial batch failed", logger.Error(err))
			}
		}()
	}

	return server.New(srvCfg).Run(ctx)
}
