package config

import (
	"fmt"
	"time"

	"github.com/jonesrussell/north-cloud/feedmaker/internal/logger"
)

// Config is the root process configuration.
type Config struct {
	App          AppConfig          `yaml:"app"`
	Database     DatabaseConfig     `yaml:"database"`
	Loki         LokiConfig         `yaml:"loki"`
	Fetcher      FetcherConfig      `yaml:"fetcher"`
	Notification NotificationConfig `yaml:"notification"`
	Scheduler    SchedulerConfig    `yaml:"scheduler"`
	Logging      logger.Config      `yaml:"logging"`
}

// AppConfig locates the feed tree and the public web directories.
type AppConfig struct {
	WorkDir        string `env:"FM_WORK_DIR"                  yaml:"work_dir"`
	FeedsDir       string `env:"WEB_SERVICE_FEEDS_DIR"        yaml:"feeds_dir"`
	ImageDirPrefix string `env:"WEB_SERVICE_IMAGE_DIR_PREFIX" yaml:"image_dir_prefix"`
	ImageURLPrefix string `env:"WEB_SERVICE_IMAGE_URL_PREFIX" yaml:"image_url_prefix"`
	Concurrency    int    `env:"FM_CONCURRENCY"               yaml:"concurrency"`
	Timezone       string `env:"FM_TIMEZONE"                  yaml:"timezone"`
}

// DatabaseConfig holds the catalog connection settings.
type DatabaseConfig struct {
	Host            string        `env:"FM_DB_HOST"     yaml:"host"`
	Port            int           `env:"FM_DB_PORT"     yaml:"port"`
	User            string        `env:"FM_DB_USER"     yaml:"user"`
	Password        string        `env:"FM_DB_PASSWORD" yaml:"password"`
	Name            string        `env:"FM_DB_NAME"     yaml:"name"`
	SSLMode         string        `env:"FM_DB_SSLMODE"  yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// Enabled reports whether a catalog database is configured.
func (d DatabaseConfig) Enabled() bool {
	return d.Host != ""
}

// DSN renders the lib/pq keyword connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// URL renders the postgres:// URL used by golang-migrate.
func (d DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

// LokiConfig points at the log-aggregation service holding web access logs.
type LokiConfig struct {
	URL                string        `env:"FM_LOKI_URL"          yaml:"url"`
	Query              string        `env:"FM_LOKI_QUERY"        yaml:"query"`
	Timeout            time.Duration `env:"FM_LOKI_TIMEOUT"      yaml:"timeout"`
	Limit              int           `yaml:"limit"`
	InsecureSkipVerify bool          `env:"FM_LOKI_SKIP_VERIFY"  yaml:"insecure_skip_verify"`
}

// FetcherConfig holds process-wide fetch defaults. Per-feed conf.json values win.
type FetcherConfig struct {
	Timeout       time.Duration `env:"FM_FETCH_TIMEOUT"     yaml:"timeout"`
	RetryDelay    time.Duration `env:"FM_FETCH_RETRY_DELAY" yaml:"retry_delay"`
	UserAgent     string        `env:"FM_USER_AGENT"        yaml:"user_agent"`
	BrowserBin    string        `env:"FM_BROWSER_BIN"       yaml:"browser_bin"`
	RenderTimeout time.Duration `yaml:"render_timeout"`
}

// NotificationConfig configures the mail notifier.
type NotificationConfig struct {
	Host          string   `env:"MSG_SMTP_SERVER"          yaml:"host"`
	Port          int      `env:"MSG_SMTP_PORT"            yaml:"port"`
	Username      string   `env:"MSG_SMTP_LOGIN_ID"        yaml:"username"`
	Password      string   `env:"MSG_SMTP_LOGIN_PASSWORD"  yaml:"password"`
	SenderAddress string   `env:"MSG_EMAIL_SENDER_ADDR"    yaml:"sender_address"`
	SenderName    string   `env:"MSG_EMAIL_SENDER_NAME"    yaml:"sender_name"`
	Recipients    []string `env:"MSG_EMAIL_RECIPIENT_LIST" yaml:"recipients"`
}

// Enabled reports whether enough is configured to send mail.
func (n NotificationConfig) Enabled() bool {
	return n.Host != "" && n.SenderAddress != ""
}

// SchedulerConfig drives the schedule daemon.
type SchedulerConfig struct {
	FeedsCron  string `env:"FM_FEEDS_CRON"  yaml:"feeds_cron"`
	AccessCron string `env:"FM_ACCESS_CRON" yaml:"access_cron"`
	HTTPAddr   string `env:"FM_HTTP_ADDR"   yaml:"http_addr"`
}

const (
	defaultConcurrency    = 1
	defaultDBPort         = 5432
	defaultSSLMode        = "disable"
	defaultMaxOpenConns   = 10
	defaultMaxIdleConns   = 2
	defaultConnLifetime   = 5 * time.Minute
	defaultLokiQuery      = `{namespace="feedmaker"}`
	defaultLokiTimeout    = 60 * time.Second
	defaultLokiLimit      = 5000
	defaultFetchTimeout   = 60 * time.Second
	defaultRetryDelay     = 5 * time.Second
	defaultRenderTimeout  = 30 * time.Second
	defaultSMTPPort       = 587
	defaultFeedsCron      = "0 */2 * * *"
	defaultAccessCron     = "*/30 * * * *"
	defaultHTTPAddr       = ":8090"
	DefaultUserAgent      = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
)

// SetDefaults fills every unset field.
func (c *Config) SetDefaults() {
	if c.App.Concurrency <= 0 {
		c.App.Concurrency = defaultConcurrency
	}

	if c.Database.Port == 0 {
		c.Database.Port = defaultDBPort
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = defaultSSLMode
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = defaultMaxOpenConns
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = defaultMaxIdleConns
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = defaultConnLifetime
	}

	if c.Loki.Query == "" {
		c.Loki.Query = defaultLokiQuery
	}
	if c.Loki.Timeout == 0 {
		c.Loki.Timeout = defaultLokiTimeout
	}
	if c.Loki.Limit == 0 {
		c.Loki.Limit = defaultLokiLimit
	}

	if c.Fetcher.Timeout == 0 {
		c.Fetcher.Timeout = defaultFetchTimeout
	}
	if c.Fetcher.RetryDelay == 0 {
		c.Fetcher.RetryDelay = defaultRetryDelay
	}
	if c.Fetcher.UserAgent == "" {
		c.Fetcher.UserAgent = DefaultUserAgent
	}
	if c.Fetcher.RenderTimeout == 0 {
		c.Fetcher.RenderTimeout = defaultRenderTimeout
	}

	if c.Notification.Port == 0 {
		c.Notification.Port = defaultSMTPPort
	}

	if c.Scheduler.FeedsCron == "" {
		c.Scheduler.FeedsCron = defaultFeedsCron
	}
	if c.Scheduler.AccessCron == "" {
		c.Scheduler.AccessCron = defaultAccessCron
	}
	if c.Scheduler.HTTPAddr == "" {
		c.Scheduler.HTTPAddr = defaultHTTPAddr
	}

	c.Logging.SetDefaults()
}
