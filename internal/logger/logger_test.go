package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	l, err := New(Config{})
	require.NoError(t, err)
	assert.NotNil(t, l)
}

func TestNew_ConsoleFormat(t *testing.T) {
	t.Parallel()

	l, err := New(Config{Level: "debug", Format: "console", OutputPaths: []string{"stdout"}})
	require.NoError(t, err)
	l.Debug("console output", String("k", "v"))
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		" WARN ":  zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"bogus":   zapcore.InfoLevel,
		"":        zapcore.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLevel(in), "level %q", in)
	}
}

func TestForFeed(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	l := ForFeed(NewFromZap(zap.New(core)), "/work/news/daily/")

	l.Info("built", Int("items", 3))
	l.Debug("filtered out")

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "news", fields["group"])
	assert.Equal(t, "daily", fields["feed"])
	assert.Equal(t, int64(3), fields["items"])
}

func TestFromContext(t *testing.T) {
	t.Parallel()

	fallback := NewFromZap(zap.NewNop())
	assert.Same(t, fallback, FromContext(context.Background(), fallback))

	core, _ := observer.New(zap.InfoLevel)
	stored := NewFromZap(zap.New(core))
	ctx := WithContext(context.Background(), stored)
	assert.Same(t, stored, FromContext(ctx, fallback))

	assert.Equal(t, NewNop(), FromContext(context.Background(), nil))
}
