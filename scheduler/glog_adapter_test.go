package scheduler

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/goliatone/go-logger/glog"
	"github.com/stretchr/testify/require"
)

func TestGlogAdapter_WritesThroughToUnderlyingLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	base := glog.NewLogger(
		glog.WithWriter(buf),
		glog.WithLoggerTypeJSON(),
		glog.WithLevel("trace"),
	)
	logger := NewGlogLogger(base)

	logger.Info("hello %s", "world")

	require.True(t, strings.Contains(buf.String(), "hello world"))
}

func TestGlogAdapter_WithContextAndFieldsDoNotPanicOnNilLogger(t *testing.T) {
	logger := glogAdapter{}

	require.NotPanics(t, func() {
		_ = logger.WithContext(context.Background())
		_ = logger.WithFields(map[string]any{"k": "v"})
	})
}
