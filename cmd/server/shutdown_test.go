package main

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pravrilgreen/mediasoup-stream-test/internal/cameras"
	"github.com/pravrilgreen/mediasoup-stream-test/internal/census"
	"github.com/pravrilgreen/mediasoup-stream-test/internal/controlplane"
	"github.com/pravrilgreen/mediasoup-stream-test/internal/events"
	"github.com/pravrilgreen/mediasoup-stream-test/internal/liveness"
	"github.com/pravrilgreen/mediasoup-stream-test/internal/sfu/sfutest"
)

type recordingSink struct {
	mu   sync.Mutex
	seen map[events.Type]int
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Publish(_ context.Context, e events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen[e.Type]++
	return nil
}

func (s *recordingSink) count(t events.Type) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seen[t]
}

// stubServer records how many cameras were still registered when it stopped.
type stubServer struct {
	reg        *cameras.Registry
	stopped    bool
	camsAtStop int
}

func (s *stubServer) Shutdown(context.Context) error {
	s.stopped = true
	s.camsAtStop = len(s.reg.Snapshot())
	return nil
}

func TestDrain_TeardownEventsReachSinks(t *testing.T) {
	sink := &recordingSink{seen: map[events.Type]int{}}
	bus := events.NewBus(zerolog.Nop(), 64, sink)

	eng := sfutest.New()
	c := census.New()
	mon := liveness.NewMonitor(liveness.NewSettings(liveness.Config{Interval: time.Hour}), eng, zerolog.Nop())
	reg := cameras.NewRegistry(cameras.Config{AnnouncedIP: "203.0.113.7"}, eng, c, mon, bus, zerolog.Nop())
	cp := controlplane.New(controlplane.Config{WebRtc: controlplane.DefaultWebRtcOptions("0.0.0.0", "203.0.113.7")}, eng, reg, c, bus, zerolog.Nop())

	busCtx, stopBus := context.WithCancel(context.Background())
	defer stopBus()
	busDone := make(chan struct{})
	go func() {
		defer close(busDone)
		_ = bus.Run(busCtx)
	}()

	ctx := context.Background()
	info, err := cp.CreateCamera(ctx, "gate")
	require.NoError(t, err)
	ids, err := cp.Produce(ctx, info.ID, cameras.ProduceRequest{})
	require.NoError(t, err)
	tr, err := cp.CreateViewerTransport(ctx, controlplane.ClientInfo{IP: "10.0.0.5"})
	require.NoError(t, err)
	_, err = cp.Consume(ctx, controlplane.ConsumeRequest{
		TransportID:     tr.ID,
		ProducerID:      ids.Video,
		RtpCapabilities: json.RawMessage(`{"codecs":[]}`),
		ViewerID:        "10.0.0.5",
	})
	require.NoError(t, err)

	srv := &stubServer{reg: reg}
	sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, drain(sctx, srv, cp, stopBus, busDone))

	select {
	case <-busDone:
	default:
		t.Fatal("bus still running after drain")
	}
	assert.True(t, srv.stopped)
	assert.Equal(t, 1, srv.camsAtStop, "http stops before cameras are torn down")

	assert.Equal(t, 1, sink.count(events.CameraCreated))
	assert.Equal(t, 1, sink.count(events.CameraRemoved))
	assert.Equal(t, 2, sink.count(events.ProducerClosed))
	assert.Equal(t, 1, sink.count(events.ViewerJoined))
	assert.Equal(t, 1, sink.count(events.ViewerLeft))
}

func TestDrain_GivesUpWhenBusHangs(t *testing.T) {
	eng := sfutest.New()
	c := census.New()
	mon := liveness.NewMonitor(liveness.NewSettings(liveness.Config{Interval: time.Hour}), eng, zerolog.Nop())
	reg := cameras.NewRegistry(cameras.Config{}, eng, c, mon, nil, zerolog.Nop())
	cp := controlplane.New(controlplane.Config{}, eng, reg, c, nil, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := drain(ctx, &stubServer{reg: reg}, cp, func() {}, make(chan struct{}))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
