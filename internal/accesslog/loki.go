// Package accesslog ingests web access logs of the public feed directory
// from Loki and records feed accesses and item views in the catalog.
package accesslog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jonesrussell/north-cloud/feedmaker/internal/config"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/httpclient"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/logger"
)

const queryRangePath = "/query_range"

// ErrNotConfigured is returned when no Loki URL is set.
var ErrNotConfigured = errors.New("loki url not configured")

// LokiClient runs range queries against the Loki HTTP API.
type LokiClient struct {
	endpoint string
	http     *http.Client
	log      logger.Logger
}

type queryRangeResponse struct {
	Status string `json:"status"`
	Data   struct {
		Result []struct {
			Values [][]string `json:"values"`
		} `json:"result"`
	} `json:"data"`
}

// NewLokiClient creates a client for cfg.URL, which is the API prefix the
// query_range endpoint hangs off.
func NewLokiClient(cfg config.LokiConfig, log logger.Logger) *LokiClient {
	if log == nil {
		log = logger.NewNop()
	}
	endpoint := ""
	if cfg.URL != "" {
		endpoint = strings.TrimRight(cfg.URL, "/") + queryRangePath
	}
	return &LokiClient{
		endpoint: endpoint,
		http: httpclient.New(httpclient.Config{
			Timeout:            cfg.Timeout,
			InsecureSkipVerify: cfg.InsecureSkipVerify,
		}),
		log: log,
	}
}

// QueryRange returns the log lines matching query in [start, end), oldest
// first, at most limit of them.
func (c *LokiClient) QueryRange(ctx context.Context, query string, start, end time.Time, limit int) ([]string, error) {
	if c.endpoint == "" {
		return nil, ErrNotConfigured
	}
	params := url.Values{}
	params.Set("query", query)
	params.Set("start", strconv.FormatInt(start.UnixNano(), 10))
	params.Set("end", strconv.FormatInt(end.UnixNano(), 10))
	params.Set("limit", strconv.Itoa(limit))
	params.Set("direction", "forward")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+params.Encode(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	begin := time.Now()
	resp, err := c.http.Do(req)
	duration := time.Since(begin)
	if err != nil {
		c.log.Warn("Loki query failed",
			logger.String("endpoint", c.endpoint),
			logger.Duration("duration", duration),
			logger.Error(err),
		)
		return nil, fmt.Errorf("query loki: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.log.Warn("Loki returned non-OK status",
			logger.String("endpoint", c.endpoint),
			logger.Int("status_code", resp.StatusCode),
			logger.Duration("duration", duration),
		)
		return nil, fmt.Errorf("loki returned status %d", resp.StatusCode)
	}

	var body queryRangeResponse
	if err = json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if body.Status != "success" {
		return nil, fmt.Errorf("loki query status %q", body.Status)
	}

	var lines []string
	for _, stream := range body.Data.Result {
		for _, v := range stream.Values {
			if len(v) < 2 {
				continue
			}
			lines = append(lines, v[1])
		}
	}
	c.log.Debug("Loki query done",
		logger.Time("start", start),
		logger.Time("end", end),
		logger.Int("lines", len(lines)),
		logger.Duration("duration", duration),
	)
	return lines, nil
}
