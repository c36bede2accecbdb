// Package migrate implements the schema migration commands.
package migrate

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jonesrussell/north-cloud/feedmaker/cmd/common"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/catalog"
)

// Command returns the migrate command tree.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the catalog schema",
	}
	cmd.AddCommand(upCommand(), downCommand(), versionCommand(), forceCommand())
	return cmd
}

func loadDeps() (common.CommandDeps, error) {
	deps, err := common.NewCommandDeps()
	if err != nil {
		return deps, err
	}
	if !deps.Config.Database.Enabled() {
		return deps, common.ErrNoDatabase
	}
	return deps, nil
}

func upCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply every pending migration",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			deps, err := loadDeps()
			if err != nil {
				return err
			}
			return catalog.MigrateUp(deps.Config.Database, deps.Logger)
		},
	}
}

func downCommand() *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			deps, err := loadDeps()
			if err != nil {
				return err
			}
			return catalog.MigrateDown(deps.Config.Database, steps, deps.Logger)
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")
	return cmd
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			deps, err := loadDeps()
			if err != nil {
				return err
			}
			version, dirty, err := catalog.MigrationVersion(deps.Config.Database, deps.Logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty=%t)\n", version, dirty)
			return nil
		},
	}
}

func forceCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "force VERSION",
		Short: "Mark VERSION as applied and clear the dirty flag",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			version, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid version %q: %w", args[0], err)
			}
			deps, err := loadDeps()
			if err != nil {
				return err
			}
			return catalog.ForceMigrationVersion(deps.Config.Database, version, deps.Logger)
		},
	}
}
