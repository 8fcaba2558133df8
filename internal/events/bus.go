package events

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/pravrilgreen/mediasoup-stream-test/internal/metrics"
)

// Bus queues events and fans them out to sinks from a single goroutine,
// so sinks see events in emission order.
type Bus struct {
	log     zerolog.Logger
	sinks   []Sink
	queue   chan Event
	timeout time.Duration
}

var _ Emitter = (*Bus)(nil)

func NewBus(log zerolog.Logger, size int, sinks ...Sink) *Bus {
	if size <= 0 {
		size = 1024
	}
	return &Bus{
		log:     log.With().Str("component", "events").Logger(),
		sinks:   sinks,
		queue:   make(chan Event, size),
		timeout: 2 * time.Second,
	}
}

// Emit never blocks; when the queue is full the event is dropped and counted.
func (b *Bus) Emit(e Event) {
	e.stamp()
	select {
	case b.queue <- e:
	default:
		metrics.EventsDroppedTotal.Inc()
		b.log.Warn().Str("type", string(e.Type)).Str("camera_id", e.CameraID).Msg("event queue full, dropping")
	}
}

// Run delivers until ctx is done, then flushes what is already queued.
func (b *Bus) Run(ctx context.Context) error {
	for {
		select {
		case e := <-b.queue:
			b.dispatch(ctx, e)
		case <-ctx.Done():
			b.flush()
			return nil
		}
	}
}

func (b *Bus) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()
	for {
		select {
		case e := <-b.queue:
			b.dispatch(ctx, e)
		default:
			return
		}
	}
}

func (b *Bus) dispatch(ctx context.Context, e Event) {
	for _, s := range b.sinks {
		sctx, cancel := context.WithTimeout(ctx, b.timeout)
		err := s.Publish(sctx, e)
		cancel()
		if err != nil {
			metrics.EventPublishFailuresTotal.WithLabelValues(s.Name()).Inc()
			b.log.Error().Err(err).Str("sink", s.Name()).Str("type", string(e.Type)).Msg("event publish failed")
		}
	}
}
