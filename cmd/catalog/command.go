// Package catalog implements the operator commands over the feed catalog.
package catalog

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/jonesrussell/north-cloud/feedmaker/cmd/common"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/catalog"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/metrics"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/problem"
)

// handler runs against an open catalog.
type handler func(ctx context.Context, deps common.CommandDeps, c *catalog.Catalog, r *TableRenderer) error

func withCatalog(fn handler) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		deps, err := common.NewCommandDeps()
		if err != nil {
			return err
		}
		c, closeDB, err := common.OpenCatalog(deps)
		if err != nil {
			return err
		}
		defer closeDB()
		return fn(cmd.Context(), deps, c, NewTableRenderer(cmd.OutOrStdout()))
	}
}

// Command returns the catalog command tree.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect and refresh the feed catalog",
	}
	cmd.AddCommand(
		problemsCommand(),
		searchCommand(),
		groupsCommand(),
		feedsCommand(),
		infoCommand(),
		toggleFeedCommand(),
		toggleGroupCommand(),
		progressCommand(),
		publicCommand(),
		listURLsCommand(),
		elementsCommand(),
		htmlCommand(),
		refreshCommand(),
		updateCommand(),
	)
	return cmd
}

func problemsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "problems",
		Short: "List feeds that need attention",
		Args:  cobra.NoArgs,
		RunE: withCatalog(func(ctx context.Context, _ common.CommandDeps, c *catalog.Catalog, r *TableRenderer) error {
			rows, err := c.GetProblemView(ctx)
			if err != nil {
				return err
			}
			r.Problems(rows)
			return nil
		}),
	}
}

func searchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "search KEYWORD...",
		Short: "Find built feeds whose name or title matches every keyword",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCatalog(func(ctx context.Context, _ common.CommandDeps, c *catalog.Catalog, r *TableRenderer) error {
				rows, err := c.SearchFeeds(ctx, args)
				if err != nil {
					return err
				}
				r.Summaries(rows)
				return nil
			})(cmd, args)
		},
	}
}

func groupsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "groups",
		Short: "List groups with their feed counts",
		Args:  cobra.NoArgs,
		RunE: withCatalog(func(ctx context.Context, _ common.CommandDeps, c *catalog.Catalog, r *TableRenderer) error {
			rows, err := c.GetGroups(ctx)
			if err != nil {
				return err
			}
			r.Groups(rows)
			return nil
		}),
	}
}

func feedsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "feeds GROUP",
		Short: "List the feeds of a group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCatalog(func(ctx context.Context, _ common.CommandDeps, c *catalog.Catalog, r *TableRenderer) error {
				rows, err := c.GetFeedsByGroup(ctx, args[0])
				if err != nil {
					return err
				}
				r.Summaries(rows)
				return nil
			})(cmd, args)
		},
	}
}

func infoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "info GROUP FEED",
		Short: "Show every catalog column of one feed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCatalog(func(ctx context.Context, _ common.CommandDeps, c *catalog.Catalog, r *TableRenderer) error {
				info, err := c.GetFeedInfo(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				r.Info(info)
				return nil
			})(cmd, args)
		},
	}
}

func toggleFeedCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "toggle-feed FEED",
		Short: "Flip the active flag of a feed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCatalog(func(ctx context.Context, _ common.CommandDeps, c *catalog.Catalog, _ *TableRenderer) error {
				active, err := c.ToggleFeed(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s active=%t\n", args[0], active)
				return nil
			})(cmd, args)
		},
	}
}

func toggleGroupCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "toggle-group GROUP",
		Short: "Flip the active flag of every feed of a group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCatalog(func(ctx context.Context, _ common.CommandDeps, c *catalog.Catalog, _ *TableRenderer) error {
				active, err := c.ToggleGroup(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s active=%t\n", args[0], active)
				return nil
			})(cmd, args)
		},
	}
}

func progressCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "progress",
		Short: "List archived feeds with their progress",
		Args:  cobra.NoArgs,
		RunE: withCatalog(func(ctx context.Context, _ common.CommandDeps, c *catalog.Catalog, r *TableRenderer) error {
			rows, err := c.GetProgressFeeds(ctx)
			if err != nil {
				return err
			}
			r.Progress(rows)
			return nil
		}),
	}
}

func publicCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "public",
		Short: "List published feed files",
		Args:  cobra.NoArgs,
		RunE: withCatalog(func(ctx context.Context, _ common.CommandDeps, c *catalog.Catalog, r *TableRenderer) error {
			rows, err := c.GetPublicFeeds(ctx)
			if err != nil {
				return err
			}
			r.PublicFeeds(rows)
			return nil
		}),
	}
}

func listURLsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list-urls",
		Short: "List feeds collected from more than one list page",
		Args:  cobra.NoArgs,
		RunE: withCatalog(func(ctx context.Context, _ common.CommandDeps, c *catalog.Catalog, r *TableRenderer) error {
			rows, err := c.GetListURLCounts(ctx)
			if err != nil {
				return err
			}
			r.ListURLCounts(rows)
			return nil
		}),
	}
}

func elementsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "elements",
		Short: "Count the feeds using each configuration key",
		Args:  cobra.NoArgs,
		RunE: withCatalog(func(ctx context.Context, _ common.CommandDeps, c *catalog.Catalog, r *TableRenderer) error {
			rows, err := c.GetElementNameCounts(ctx)
			if err != nil {
				return err
			}
			r.ElementNameCounts(rows)
			return nil
		}),
	}
}

var htmlViews = map[string]func(*catalog.Catalog, context.Context) ([]catalog.HTMLFileInfo, error){
	"small":           (*catalog.Catalog).GetSmallHTMLFiles,
	"many-pixels":     (*catalog.Catalog).GetHTMLFilesWithManyImageTags,
	"no-pixel":        (*catalog.Catalog).GetHTMLFilesWithoutImageTag,
	"image-not-found": (*catalog.Catalog).GetHTMLFilesWithImageNotFound,
}

func htmlCommand() *cobra.Command {
	return &cobra.Command{
		Use:       "html small|many-pixels|no-pixel|image-not-found",
		Short:     "List cached snippets that look broken",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"small", "many-pixels", "no-pixel", "image-not-found"},
		RunE: func(cmd *cobra.Command, args []string) error {
			view := htmlViews[args[0]]
			return withCatalog(func(ctx context.Context, _ common.CommandDeps, c *catalog.Catalog, r *TableRenderer) error {
				rows, err := view(c, ctx)
				if err != nil {
					return err
				}
				r.HTMLFiles(rows)
				return nil
			})(cmd, args)
		},
	}
}

func refreshCommand() *cobra.Command {
	var opts problem.LoadOptions
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Rebuild the catalog from the feed tree, the public directory and the access logs",
		Args:  cobra.NoArgs,
		RunE: withCatalog(func(ctx context.Context, deps common.CommandDeps, c *catalog.Catalog, _ *TableRenderer) error {
			m := metrics.New(prometheus.NewRegistry())
			return common.NewProblemManager(deps, c, m).LoadAll(ctx, opts)
		}),
	}
	cmd.Flags().IntVar(&opts.MaxFeeds, "max-feeds", 0, "read at most this many feed directories (0 means all)")
	cmd.Flags().IntVar(&opts.MaxPublicFeeds, "max-public-feeds", 0, "read at most this many public feed files (0 means all)")
	cmd.Flags().IntVar(&opts.MaxDays, "max-days", 0, "days of access logs to read (0 means the default)")
	return cmd
}

func updateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "update FEED_DIR [NEW_FEED_DIR]",
		Short: "Replace the catalog facts of one feed, following a rename when given",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			newDir := ""
			if len(args) == 2 {
				newDir = args[1]
			}
			return withCatalog(func(ctx context.Context, deps common.CommandDeps, c *catalog.Catalog, _ *TableRenderer) error {
				m := metrics.New(prometheus.NewRegistry())
				return common.NewProblemManager(deps, c, m).UpdateFeedInfo(ctx, args[0], newDir)
			})(cmd, args)
		},
	}
}
