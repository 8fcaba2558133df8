package cameras_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pravrilgreen/mediasoup-stream-test/internal/cameras"
	"github.com/pravrilgreen/mediasoup-stream-test/internal/census"
	"github.com/pravrilgreen/mediasoup-stream-test/internal/events"
	"github.com/pravrilgreen/mediasoup-stream-test/internal/liveness"
	"github.com/pravrilgreen/mediasoup-stream-test/internal/sfu"
	"github.com/pravrilgreen/mediasoup-stream-test/internal/sfu/sfutest"
)

type recorder struct {
	mu  sync.Mutex
	evs []events.Event
}

func (r *recorder) Emit(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evs = append(r.evs, e)
}

func (r *recorder) types() []events.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Type
	for _, e := range r.evs {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	eng    *sfutest.Engine
	census *census.Census
	events *recorder
	reg    *cameras.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	eng := sfutest.New()
	c := census.New()
	rec := &recorder{}
	// Long interval: these tests drive the registry, not the monitor.
	mon := liveness.NewMonitor(liveness.NewSettings(liveness.Config{Interval: time.Hour}), eng, zerolog.Nop())
	reg := cameras.NewRegistry(cameras.Config{AnnouncedIP: "198.51.100.4"}, eng, c, mon, rec, zerolog.Nop())
	return &fixture{eng: eng, census: c, events: rec, reg: reg}
}

func TestCreate_OpensTwoIngestTransports(t *testing.T) {
	f := newFixture(t)

	info, err := f.reg.Create(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, "camera-"+info.ID[:8], info.Name)
	assert.True(t, f.eng.TransportOpen(info.VideoTransportID))
	assert.True(t, f.eng.TransportOpen(info.AudioTransportID))
	assert.Equal(t, "198.51.100.4", info.Video.IP)
	assert.Equal(t, uint8(96), info.Video.PayloadType)
	assert.Equal(t, uint32(222222), info.Video.SSRC)
	assert.Equal(t, uint8(97), info.Audio.PayloadType)
	assert.Equal(t, uint32(111111), info.Audio.SSRC)
	assert.Equal(t, info.Video.RtpPort+1, info.Video.RtcpPort)
	assert.Equal(t, cameras.PhaseIdle, info.Phase())
	assert.Equal(t, []events.Type{events.CameraCreated}, f.events.types())
}

func TestCreate_AudioTransportFailureRegistersNothing(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("no ports left")
	f.eng.Hook = func(op string) {
		if op == "create_plain_transport" && f.eng.Calls(op) == 1 {
			f.eng.FailOn(op, boom)
		}
	}

	_, err := f.reg.Create(context.Background(), "cam1")
	require.Error(t, err)
	assert.ErrorIs(t, err, cameras.ErrEngineFailure)
	assert.ErrorIs(t, err, boom)

	var step *cameras.StepError
	require.ErrorAs(t, err, &step)
	assert.Equal(t, "create_audio_transport", step.Step)

	assert.Empty(t, f.reg.List())
	assert.Zero(t, f.eng.OpenTransports(), "video transport must be released")
}

func TestProduce_VideoOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	info, _ := f.reg.Create(ctx, "cam1")

	streams := f.reg.List()
	require.Len(t, streams, 1)
	assert.False(t, streams[0].HasVideo)
	assert.False(t, streams[0].HasAudio)

	ids, err := f.reg.Produce(ctx, info.ID, cameras.ProduceRequest{Video: &sfu.VideoParams{}})
	require.NoError(t, err)
	assert.NotEmpty(t, ids.Video)
	assert.Empty(t, ids.Audio)

	streams = f.reg.List()
	assert.True(t, streams[0].HasVideo)
	assert.False(t, streams[0].HasAudio)
}

func TestProduce_IsIdempotentPerKind(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	info, _ := f.reg.Create(ctx, "cam1")

	first, err := f.reg.Produce(ctx, info.ID, cameras.ProduceRequest{})
	require.NoError(t, err)
	second, err := f.reg.Produce(ctx, info.ID, cameras.ProduceRequest{})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.NotEmpty(t, first.Audio)
	assert.Equal(t, 2, f.eng.Calls("produce"))
}

func TestProduce_ConcurrentCallsCreateOneProducerPerKind(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	info, _ := f.reg.Create(ctx, "cam1")

	var wg sync.WaitGroup
	results := make([]cameras.ProducerIDs, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids, err := f.reg.Produce(ctx, info.ID, cameras.ProduceRequest{})
			assert.NoError(t, err)
			results[i] = ids
		}(i)
	}
	wg.Wait()

	for _, ids := range results {
		assert.Equal(t, results[0], ids)
	}
	assert.Equal(t, 2, f.eng.Calls("produce"))
}

func TestProduce_UnknownCamera(t *testing.T) {
	f := newFixture(t)
	_, err := f.reg.Produce(context.Background(), "nope", cameras.ProduceRequest{})
	assert.ErrorIs(t, err, cameras.ErrNotFound)
	assert.ErrorIs(t, err, cameras.ErrCameraNotFound)
}

func TestProduce_EngineFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	info, _ := f.reg.Create(ctx, "cam1")
	f.eng.FailOn("produce", errors.New("bad rtp parameters"))

	_, err := f.reg.Produce(ctx, info.ID, cameras.ProduceRequest{})
	assert.ErrorIs(t, err, cameras.ErrEngineFailure)

	var step *cameras.StepError
	require.ErrorAs(t, err, &step)
	assert.Equal(t, "produce_video", step.Step)

	ids, err := f.reg.Producers(info.ID)
	require.NoError(t, err)
	assert.Empty(t, ids.Video)
}

func TestProduce_RacingCloseFailsNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	info, _ := f.reg.Create(ctx, "cam1")

	entered := make(chan struct{})
	release := make(chan struct{})
	f.eng.Hook = func(op string) {
		if op == "produce" {
			close(entered)
			<-release
		}
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := f.reg.Produce(ctx, info.ID, cameras.ProduceRequest{Video: &sfu.VideoParams{}})
		errCh <- err
	}()

	<-entered
	require.NoError(t, f.reg.Close(ctx, info.ID))
	close(release)

	err := <-errCh
	assert.ErrorIs(t, err, cameras.ErrNotFound)
	assert.False(t, f.reg.Exists(info.ID))
}

func TestClose_ReleasesEverything(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	info, _ := f.reg.Create(ctx, "cam1")
	ids, _ := f.reg.Produce(ctx, info.ID, cameras.ProduceRequest{})
	f.census.AddViewer(info.ID, "10.0.0.9", "cons-1")

	var notified []string
	f.reg.OnProducerClosed(func(pid string) { notified = append(notified, pid) })

	require.NoError(t, f.reg.Close(ctx, info.ID))

	assert.False(t, f.eng.ProducerOpen(ids.Video))
	assert.False(t, f.eng.ProducerOpen(ids.Audio))
	assert.Zero(t, f.eng.OpenTransports())
	assert.ElementsMatch(t, []string{ids.Video, ids.Audio}, notified)
	assert.Equal(t, 0, f.census.CountOf(info.ID))
	assert.Empty(t, f.reg.List())

	_, err := f.reg.Get(info.ID)
	var removed *cameras.RemovedError
	require.ErrorAs(t, err, &removed)
	assert.Equal(t, "closed", removed.Reason)
	assert.ErrorIs(t, err, cameras.ErrNotFound)

	assert.ErrorIs(t, f.reg.Close(ctx, info.ID), cameras.ErrNotFound)
	assert.Contains(t, f.events.types(), events.CameraRemoved)
}

func TestClose_SwallowsEngineFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	info, _ := f.reg.Create(ctx, "cam1")
	f.reg.Produce(ctx, info.ID, cameras.ProduceRequest{})

	f.eng.FailOn("close_producer", errors.New("timeout"))
	f.eng.FailOn("close_transport", errors.New("timeout"))

	assert.NoError(t, f.reg.Close(ctx, info.ID))
	assert.False(t, f.reg.Exists(info.ID))
}

func TestRemove_RefusesWhileProducing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	info, _ := f.reg.Create(ctx, "cam1")
	f.reg.Produce(ctx, info.ID, cameras.ProduceRequest{Audio: &sfu.AudioParams{}})

	err := f.reg.Remove(ctx, info.ID, events.ReasonInactive)
	assert.ErrorIs(t, err, cameras.ErrProducersActive)
	assert.True(t, f.reg.Exists(info.ID))

	require.NoError(t, f.reg.CloseProducer(ctx, info.ID, sfu.KindAudio, events.ReasonInactive))
	assert.False(t, f.reg.HasProducer(info.ID, sfu.KindAudio))

	require.NoError(t, f.reg.Remove(ctx, info.ID, events.ReasonInactive))
	ts, ok := f.reg.Tombstone(info.ID)
	require.True(t, ok)
	assert.Equal(t, "inactive", ts.Reason)
}

func TestFindByProducer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, _ := f.reg.Create(ctx, "a")
	b, _ := f.reg.Create(ctx, "b")
	ids, _ := f.reg.Produce(ctx, b.ID, cameras.ProduceRequest{})

	cam, kind, ok := f.reg.FindByProducer(ids.Audio)
	require.True(t, ok)
	assert.Equal(t, b.ID, cam)
	assert.Equal(t, sfu.KindAudio, kind)

	_, _, ok = f.reg.FindByProducer("unknown")
	assert.False(t, ok)
	_, _, ok = f.reg.FindByProducer("")
	assert.False(t, ok)

	assert.NotEqual(t, a.ID, cam)
}

func TestList_OrderedByCreation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, name := range []string{"first", "second", "third"} {
		_, err := f.reg.Create(ctx, name)
		require.NoError(t, err)
		time.Sleep(time.Millisecond)
	}

	var names []string
	for _, s := range f.reg.List() {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"first", "second", "third"}, names)
}
