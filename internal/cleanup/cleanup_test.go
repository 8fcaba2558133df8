package cleanup_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/pravrilgreen/mediasoup-stream-test/internal/cleanup"
	"github.com/pravrilgreen/mediasoup-stream-test/internal/metrics"
	"github.com/pravrilgreen/mediasoup-stream-test/internal/sfu"
)

func TestDo(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)
	ctx := context.Background()

	before := testutil.ToFloat64(metrics.CleanupFailuresTotal.WithLabelValues("test_step"))

	assert.True(t, cleanup.Do(ctx, log, "test_step", func(context.Context) error { return nil }))
	assert.True(t, cleanup.Do(ctx, log, "test_step", func(context.Context) error {
		return fmt.Errorf("close: %w", sfu.ErrNotFound)
	}))
	assert.Empty(t, buf.String())

	assert.False(t, cleanup.Do(ctx, log, "test_step", func(context.Context) error {
		return errors.New("boom")
	}))
	assert.Contains(t, buf.String(), "test_step")
	assert.Contains(t, buf.String(), "boom")

	after := testutil.ToFloat64(metrics.CleanupFailuresTotal.WithLabelValues("test_step"))
	assert.Equal(t, before+1, after)
}
