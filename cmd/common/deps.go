// Package common provides shared utilities for command implementations.
package common

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/jonesrussell/north-cloud/feedmaker/internal/app"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/config"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/logger"
)

// Viper keys shared by the root command and its subcommands.
const (
	KeyConfig = "config"
	KeyDebug  = "debug"
)

// CommandDeps holds common dependencies for all commands.
type CommandDeps struct {
	Config *config.Config
	Logger logger.Logger
	Env    *app.Env
}

// Validate ensures all required dependencies are present.
func (d CommandDeps) Validate() error {
	if d.Config == nil {
		return ErrConfigRequired
	}
	if d.Logger == nil {
		return ErrLoggerRequired
	}
	if d.Env == nil {
		return ErrEnvRequired
	}
	return nil
}

// NewCommandDeps loads the configuration named by the --config flag (or
// CONFIG_PATH) and builds the logger and the process environment.
func NewCommandDeps() (CommandDeps, error) {
	cfg, err := config.Load(config.Path(viper.GetString(KeyConfig)))
	if err != nil {
		return CommandDeps{}, fmt.Errorf("load config: %w", err)
	}
	if viper.GetBool(KeyDebug) {
		cfg.Logging.Level = "debug"
		cfg.Logging.Format = logger.FormatConsole
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		return CommandDeps{}, fmt.Errorf("create logger: %w", err)
	}
	log = log.With(logger.String("service", "feedmaker"))

	env := app.New(
		cfg.App.WorkDir,
		cfg.App.FeedsDir,
		cfg.App.ImageDirPrefix,
		cfg.App.ImageURLPrefix,
		cfg.Location(),
		log,
	)
	deps := CommandDeps{Config: cfg, Logger: log, Env: env}
	if err := deps.Validate(); err != nil {
		return CommandDeps{}, fmt.Errorf("%w: %w", ErrInvalidDeps, err)
	}
	return deps, nil
}
