// Package fetch implements the fetch debugging command.
package fetch

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonesrussell/north-cloud/feedmaker/cmd/common"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/feedconf"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/fetcher"
)

type options struct {
	feedDir    string
	spider     bool
	download   string
	renderJS   bool
	insecure   bool
	userAgent  string
	referer    string
	encoding   string
	headers    []string
	timeout    time.Duration
	numRetries int
}

// Command returns the fetch command.
func Command() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "fetch [flags] URL",
		Short: "Fetch a URL the way a feed run would",
		Long: `fetch prints the body of URL to stdout. With --spider only the status
and headers are printed; with --download the body is saved to a file.
With -f the collection settings of that feed directory are used as the
starting point, and its cookie files are read and updated.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := common.NewCommandDeps()
			if err != nil {
				return err
			}
			fetchOpts, err := opts.fetchOptions(cmd)
			if err != nil {
				return err
			}
			client, closeFetcher := common.NewFetcher(deps)
			defer closeFetcher()

			out := cmd.OutOrStdout()
			url := args[0]
			switch {
			case opts.spider:
				resp, err := client.Head(cmd.Context(), url, fetchOpts)
				if err != nil {
					return err
				}
				writeHead(out, resp)
			case opts.download != "":
				status, err := client.Download(cmd.Context(), url, opts.download, fetchOpts)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%d %s\n", status, opts.download)
			default:
				resp, err := client.Get(cmd.Context(), url, fetchOpts)
				if err != nil {
					return err
				}
				_, err = out.Write(resp.Body)
				return err
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.feedDir, "feed-dir", "f", "", "use the collection settings and cookies of this feed directory")
	f.BoolVar(&opts.spider, "spider", false, "only request the headers")
	f.StringVar(&opts.download, "download", "", "save the body to this file")
	f.BoolVar(&opts.renderJS, "render-js", false, "render the page in a headless browser")
	f.BoolVarP(&opts.insecure, "insecure", "k", false, "skip TLS certificate verification")
	f.StringVar(&opts.userAgent, "user-agent", "", "User-Agent header")
	f.StringVar(&opts.referer, "referer", "", "Referer header")
	f.StringVar(&opts.encoding, "encoding", "", "source encoding of the page (default utf-8)")
	f.StringArrayVarP(&opts.headers, "header", "H", nil, "extra header as Name: value (repeatable)")
	f.DurationVar(&opts.timeout, "timeout", 0, "per-attempt timeout (0 uses the default)")
	f.IntVar(&opts.numRetries, "retries", 1, "number of attempts")
	return cmd
}

// fetchOptions starts from the feed's collection section when -f is set;
// flags given explicitly override it.
func (o options) fetchOptions(cmd *cobra.Command) (fetcher.Options, error) {
	opts := fetcher.Options{VerifySSL: true, NumRetries: o.numRetries}
	if o.feedDir != "" {
		conf, err := feedconf.Load(o.feedDir)
		if err != nil {
			return opts, err
		}
		opts = fetcher.FromConfig(conf.Collection.Fetch, o.feedDir)
	}

	changed := cmd.Flags().Changed
	if changed("render-js") {
		opts.RenderJS = o.renderJS
	}
	if changed("insecure") {
		opts.VerifySSL = !o.insecure
	}
	if o.userAgent != "" {
		opts.UserAgent = o.userAgent
	}
	if o.referer != "" {
		opts.Referer = o.referer
	}
	if o.encoding != "" {
		opts.Encoding = o.encoding
	}
	if o.timeout > 0 {
		opts.Timeout = o.timeout
	}
	if changed("retries") {
		opts.NumRetries = o.numRetries
	}
	headers, err := parseHeaders(o.headers)
	if err != nil {
		return opts, err
	}
	if len(headers) > 0 {
		merged := make(map[string]string, len(opts.Headers)+len(headers))
		for k, v := range opts.Headers {
			merged[k] = v
		}
		for k, v := range headers {
			merged[k] = v
		}
		opts.Headers = merged
	}
	return opts, nil
}

func parseHeaders(raw []string) (map[string]string, error) {
	out := make(map[string]string, len(raw))
	for _, h := range raw {
		name, value, ok := strings.Cut(h, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid header %q, want Name: value", h)
		}
		out[name] = strings.TrimSpace(value)
	}
	return out, nil
}

func writeHead(w io.Writer, resp *fetcher.Response) {
	fmt.Fprintf(w, "%d %s\n", resp.StatusCode, resp.URL)
	names := make([]string, 0, len(resp.Header))
	for name := range resp.Header {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, v := range resp.Header[name] {
			fmt.Fprintf(w, "%s: %s\n", name, v)
		}
	}
}
