// Package extract implements the extractor debugging command.
package extract

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jonesrussell/north-cloud/feedmaker/cmd/common"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/extractor"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/feedconf"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/fetcher"
)

// Command returns the extract command.
func Command() *cobra.Command {
	var (
		feedDir string
		input   string
	)
	cmd := &cobra.Command{
		Use:   "extract -f FEED_DIR URL",
		Short: "Print the snippet body a feed would extract from URL",
		Long: `extract applies the extraction selectors of FEED_DIR to the page at URL
and prints the result. With --input the page is read from a file, or from
stdin for "-", and URL only resolves relative links.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := common.NewCommandDeps()
			if err != nil {
				return err
			}
			conf, err := feedconf.Load(feedDir)
			if err != nil {
				return err
			}
			itemURL := args[0]

			var page string
			if input != "" {
				page, err = readInput(cmd.InOrStdin(), input)
			} else {
				client, closeFetcher := common.NewFetcher(deps)
				defer closeFetcher()
				var resp *fetcher.Response
				resp, err = client.Get(cmd.Context(), itemURL, fetcher.FromConfig(conf.Extraction.Fetch, feedDir))
				if resp != nil {
					page = string(resp.Body)
				}
			}
			if err != nil {
				return err
			}

			if conf.Extraction.BypassElementExtraction {
				fmt.Fprint(cmd.OutOrStdout(), page)
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), extractor.New(deps.Logger).Extract(page, itemURL, conf.Extraction.Selectors))
			return nil
		},
	}
	cmd.Flags().StringVarP(&feedDir, "feed-dir", "f", ".", "feed directory holding conf.json")
	cmd.Flags().StringVar(&input, "input", "", `read the page from this file ("-" for stdin) instead of fetching`)
	return cmd
}

func readInput(stdin io.Reader, path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}
	return string(data), nil
}
