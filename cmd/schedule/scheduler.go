package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jonesrussell/north-cloud/feedmaker/internal/logger"
)

// Job is one periodic task.
type Job struct {
	Name string
	Spec string
	Run  func(ctx context.Context) error
}

// Scheduler runs jobs on cron expressions. A job still running when its
// next tick arrives is skipped for that tick.
type Scheduler struct {
	cron *cron.Cron
	jobs []Job
	log  logger.Logger
}

// parser accepts the standard five fields plus descriptors such as @hourly.
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// NewScheduler creates a Scheduler evaluating specs in loc.
func NewScheduler(jobs []Job, loc *time.Location, log logger.Logger) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	if log == nil {
		log = logger.NewNop()
	}
	cl := cronLogger{log: log}
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	return &Scheduler{cron: c, jobs: jobs, log: log}
}

// Start registers every job and starts the cron loop. Jobs get ctx, so
// cancelling it aborts the runs in flight.
func (s *Scheduler) Start(ctx context.Context) error {
	for _, job := range s.jobs {
		if job.Spec == "" {
			s.log.Info("Job disabled", logger.String("job", job.Name))
			continue
		}
		if _, err := s.cron.AddFunc(job.Spec, s.wrap(ctx, job)); err != nil {
			return fmt.Errorf("schedule %s %q: %w", job.Name, job.Spec, err)
		}
		s.log.Info("Job scheduled", logger.String("job", job.Name), logger.String("schedule", job.Spec))
	}
	s.cron.Start()
	for _, e := range s.cron.Entries() {
		s.log.Debug("Next run", logger.Int("entry_id", int(e.ID)), logger.Time("next_run", e.Next))
	}
	return nil
}

// Stop stops the cron loop and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("Scheduler stopped")
}

func (s *Scheduler) wrap(ctx context.Context, job Job) func() {
	return func() {
		if ctx.Err() != nil {
			return
		}
		start := time.Now()
		s.log.Info("Job triggered", logger.String("job", job.Name))
		if err := job.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Error("Job failed",
				logger.String("job", job.Name),
				logger.Duration("elapsed", time.Since(start)),
				logger.Error(err),
			)
			return
		}
		s.log.Info("Job finished", logger.String("job", job.Name), logger.Duration("elapsed", time.Since(start)))
	}
}

// cronLogger adapts logger.Logger to cron.Logger.
type cronLogger struct {
	log logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, fields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(msg, append(fields(keysAndValues), logger.Error(err))...)
}

func fields(kv []any) []logger.Field {
	out := make([]logger.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}
		out = append(out, logger.Any(key, kv[i+1]))
	}
	return out
}
