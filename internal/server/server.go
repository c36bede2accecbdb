// Package server exposes health, metrics and read-only status endpoints
// for the schedule daemon.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jonesrussell/north-cloud/feedmaker/internal/catalog"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/logger"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/runner"
)

const (
	serviceName = "feedmaker"

	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 30 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	pingTimeout            = 2 * time.Second
)

// Pinger checks a dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RunChecker reports whether a feed is being built.
type RunChecker interface {
	CheckRunning(group, feed string) runner.Status
}

// ProblemSource lists the feeds needing attention.
type ProblemSource interface {
	GetProblemView(ctx context.Context) ([]catalog.FeedInfo, error)
}

// Config configures a Server. Nil dependencies disable their endpoints or checks.
type Config struct {
	Addr            string
	Version         string
	Gatherer        prometheus.Gatherer
	DB              Pinger
	Runs            RunChecker
	Problems        ProblemSource
	ShutdownTimeout time.Duration
	Logger          logger.Logger
}

// Server is the daemon's HTTP surface.
type Server struct {
	router   *gin.Engine
	server   *http.Server
	log      logger.Logger
	shutdown time.Duration
	started  time.Time
}

// New builds the router and the http.Server.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(requestID(), accessLog(cfg.Logger))

	s := &Server{
		router:   router,
		log:      cfg.Logger,
		shutdown: cfg.ShutdownTimeout,
		started:  time.Now(),
	}

	router.GET("/health", s.healthHandler(cfg.Version, cfg.DB))
	router.HEAD("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	if cfg.Runs != nil {
		router.GET("/feeds/:group/:feed/status", runStatusHandler(cfg.Runs))
	}
	if cfg.Problems != nil {
		router.GET("/problems", problemsHandler(cfg.Problems))
	}

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
	}
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Starting HTTP server", logger.String("address", s.server.Addr))
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server error: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdown)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	s.log.Info("HTTP server stopped gracefully")
	return nil
}

type healthResponse struct {
	Status  string            `json:"status"`
	Service string            `json:"service"`
	Version string            `json:"version,omitempty"`
	Uptime  string            `json:"uptime"`
	Checks  map[string]string `json:"checks,omitempty"`
}

func (s *Server) healthHandler(version string, db Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp := healthResponse{
			Status:  "healthy",
			Service: serviceName,
			Version: version,
			Uptime:  time.Since(s.started).Truncate(time.Second).String(),
		}
		code := http.StatusOK
		if db != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), pingTimeout)
			defer cancel()
			resp.Checks = map[string]string{"database": "healthy"}
			if err := db.Ping(ctx); err != nil {
				resp.Status = "unhealthy"
				resp.Checks["database"] = err.Error()
				code = http.StatusServiceUnavailable
			}
		}
		c.JSON(code, resp)
	}
}

func runStatusHandler(runs RunChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		group, feed := c.Param("group"), c.Param("feed")
		c.JSON(http.StatusOK, gin.H{
			"group":  group,
			"feed":   feed,
			"status": runs.CheckRunning(group, feed).String(),
		})
	}
}

type problemRow struct {
	FeedName   string     `json:"feed_name"`
	Title      string     `json:"title"`
	Group      string     `json:"group"`
	Feedmaker  bool       `json:"feedmaker"`
	PublicHTML bool       `json:"public_html"`
	Requested  bool       `json:"http_request"`
	AccessDate *time.Time `json:"access_date,omitempty"`
	ViewDate   *time.Time `json:"view_date,omitempty"`
}

func problemsHandler(src ProblemSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		rows, err := src.GetProblemView(c.Request.Context())
		if err != nil {
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load problem view"})
			return
		}
		out := make([]problemRow, 0, len(rows))
		for _, r := range rows {
			out = append(out, problemRow{
				FeedName:   r.FeedName,
				Title:      r.Title(),
				Group:      r.Group(),
				Feedmaker:  isTrue(r.Feedmaker),
				PublicHTML: isTrue(r.PublicHTML),
				Requested:  isTrue(r.HTTPRequest),
				AccessDate: r.AccessDate,
				ViewDate:   r.ViewDate,
			})
		}
		c.JSON(http.StatusOK, gin.H{"feeds": out, "count": len(out)})
	}
}

func isTrue(b *bool) bool { return b != nil && *b }
