// Package cmd implements the command-line interface for feedmaker.
// The root command builds one feed, or every feed with -a; subcommands
// cover the catalog, the schedule daemon, migrations and debugging.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	cmdcatalog "github.com/jonesrussell/north-cloud/feedmaker/cmd/catalog"
	"github.com/jonesrussell/north-cloud/feedmaker/cmd/common"
	"github.com/jonesrussell/north-cloud/feedmaker/cmd/extract"
	"github.com/jonesrussell/north-cloud/feedmaker/cmd/fetch"
	cmdmigrate "github.com/jonesrussell/north-cloud/feedmaker/cmd/migrate"
	cmdschedule "github.com/jonesrussell/north-cloud/feedmaker/cmd/schedule"
)

// Version is stamped at build time with -ldflags "-X .../cmd.Version=...".
var Version = "dev"

// Viper keys of the run flags.
const (
	keyAll          = "run.all"
	keyRemoveAll    = "run.remove_all"
	keyForceCollect = "run.force_collect"
	keyCollectOnly  = "run.collect_only"
	keyNumFeeds     = "run.num_feeds"
	keyWindowSize   = "run.window_size"
)

var rootCmd = &cobra.Command{
	Use:   "feedmaker [flags] [feed_dir]",
	Short: "Builds RSS feeds from web pages",
	Long: `feedmaker collects item lists from configured web pages, extracts each
item's content and publishes an RSS 2.0 feed per feed directory.

Without -a it builds the feed in feed_dir, or in the current directory.`,
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := common.NewCommandDeps()
		if err != nil {
			return err
		}
		defer func() { _ = deps.Logger.Sync() }()

		opts := runOptions{
			All:          viper.GetBool(keyAll),
			RemoveAll:    viper.GetBool(keyRemoveAll),
			ForceCollect: viper.GetBool(keyForceCollect),
			CollectOnly:  viper.GetBool(keyCollectOnly),
			NumFeeds:     viper.GetInt(keyNumFeeds),
			WindowSize:   viper.GetInt(keyWindowSize),
		}
		if len(args) == 1 {
			opts.FeedDir = args[0]
		}
		return runFeeds(cmd.Context(), deps, opts)
	},
}

// Execute runs the root command. SIGINT and SIGTERM cancel the context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	pflags := rootCmd.PersistentFlags()
	pflags.String("config", "", "config file (default is $CONFIG_PATH or ./config.yml)")
	pflags.Bool("debug", false, "enable debug logging")

	flags := rootCmd.Flags()
	flags.BoolP("all", "a", false, "make all feeds of the work directory")
	flags.BoolP("remove-all", "r", false, "remove every artifact of the feed before running")
	flags.BoolP("force-collect", "c", false, "collect and build snippets without writing the feed")
	flags.BoolP("collect-only", "l", false, "only collect the recent list")
	flags.IntP("num-feeds", "n", 0, "with -a, make at most this many feeds (0 means all)")
	flags.IntP("window-size", "w", 0, "window size of archived feeds (0 uses the feed's own value)")

	bindFlags()

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "feedmaker version %s\n", Version)
		},
	})
	rootCmd.AddCommand(cmdcatalog.Command())
	rootCmd.AddCommand(cmdschedule.Command(Version))
	rootCmd.AddCommand(cmdmigrate.Command())
	rootCmd.AddCommand(fetch.Command())
	rootCmd.AddCommand(extract.Command())
}

// bindFlags binds command-line flags to Viper. Binding only fails for a
// nil flag, which would be a programming error here.
func bindFlags() {
	pflags := rootCmd.PersistentFlags()
	flags := rootCmd.Flags()
	mustBind(common.KeyConfig, pflags.Lookup("config"))
	mustBind(common.KeyDebug, pflags.Lookup("debug"))
	mustBind(keyAll, flags.Lookup("all"))
	mustBind(keyRemoveAll, flags.Lookup("remove-all"))
	mustBind(keyForceCollect, flags.Lookup("force-collect"))
	mustBind(keyCollectOnly, flags.Lookup("collect-only"))
	mustBind(keyNumFeeds, flags.Lookup("num-feeds"))
	mustBind(keyWindowSize, flags.Lookup("window-size"))

	if err := viper.BindEnv(common.KeyDebug, "APP_DEBUG"); err != nil {
		panic(fmt.Sprintf("failed to bind APP_DEBUG: %v", err))
	}
}

func mustBind(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("failed to bind flag %s: %v", key, err))
	}
}
