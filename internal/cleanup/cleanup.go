// Package cleanup runs teardown steps whose failure must not stop the
// surrounding operation.
package cleanup

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/pravrilgreen/mediasoup-stream-test/internal/metrics"
	"github.com/pravrilgreen/mediasoup-stream-test/internal/sfu"
)

// Do runs fn and reports whether it succeeded. A failure is logged and
// counted, never returned. A handle the engine has already forgotten
// counts as success.
func Do(ctx context.Context, log zerolog.Logger, step string, fn func(context.Context) error) bool {
	err := fn(ctx)
	if err == nil || errors.Is(err, sfu.ErrNotFound) {
		return true
	}
	metrics.CleanupFailuresTotal.WithLabelValues(step).Inc()
	log.Warn().Err(err).Str("step", step).Msg("best-effort cleanup failed, continuing")
	return false
}
