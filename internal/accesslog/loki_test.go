package accesslog_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/feedmaker/internal/accesslog"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/config"
)

func TestLokiClient_QueryRange(t *testing.T) {
	start := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	end := start.Add(6 * time.Hour)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/loki/api/v1/query_range", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, `{namespace="feedmaker"}`, q.Get("query"))
		assert.Equal(t, strconv.FormatInt(start.UnixNano(), 10), q.Get("start"))
		assert.Equal(t, strconv.FormatInt(end.UnixNano(), 10), q.Get("end"))
		assert.Equal(t, "5000", q.Get("limit"))
		assert.Equal(t, "forward", q.Get("direction"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"success","data":{"resultType":"streams","result":[
			{"stream":{"pod":"a"},"values":[["1","line one"],["2","line two"]]},
			{"stream":{"pod":"b"},"values":[["3","line three"],["4"]]}
		]}}`))
	}))
	defer srv.Close()

	c := accesslog.NewLokiClient(config.LokiConfig{URL: srv.URL + "/loki/api/v1/", Timeout: 5 * time.Second}, nil)
	lines, err := c.QueryRange(context.Background(), `{namespace="feedmaker"}`, start, end, 5000)
	require.NoError(t, err)
	assert.Equal(t, []string{"line one", "line two", "line three"}, lines)
}

func TestLokiClient_QueryRangeErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{name: "server error", status: http.StatusBadGateway, body: "bad gateway", wantErr: "status 502"},
		{name: "query error", status: http.StatusOK, body: `{"status":"error"}`, wantErr: `status "error"`},
		{name: "garbage", status: http.StatusOK, body: `not json`, wantErr: "decode response"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := accesslog.NewLokiClient(config.LokiConfig{URL: srv.URL}, nil)
			_, err := c.QueryRange(context.Background(), "{}", time.Now(), time.Now(), 10)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLokiClient_NotConfigured(t *testing.T) {
	c := accesslog.NewLokiClient(config.LokiConfig{}, nil)
	_, err := c.QueryRange(context.Background(), "{}", time.Now(), time.Now(), 10)
	assert.ErrorIs(t, err, accesslog.ErrNotConfigured)
}
