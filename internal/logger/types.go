package logger

// Config is the logging section of the process configuration.
type Config struct {
	Level string `env:"LOG_LEVEL" yaml:"level"`
	// Format is "json" (default) or "console".
	Format      string `env:"LOG_FORMAT" yaml:"format"`
	Development bool   `env:"APP_DEBUG"  yaml:"development"`
	// OutputPaths are zap sink URLs or file paths. Feed output goes to
	// stdout for the debug commands, so logs default to stderr.
	OutputPaths []string `yaml:"output_paths"`
}

const (
	DefaultLevel  = "info"
	FormatJSON    = "json"
	FormatConsole = "console"
	defaultSink   = "stderr"
)

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.Level == "" {
		c.Level = DefaultLevel
	}
	if c.Format == "" {
		c.Format = FormatJSON
	}
	if len(c.OutputPaths) == 0 {
		c.OutputPaths = []string{defaultSink}
	}
}
