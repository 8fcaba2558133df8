package cameras

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/pravrilgreen/mediasoup-stream-test/internal/cleanup"
	"github.com/pravrilgreen/mediasoup-stream-test/internal/events"
	"github.com/pravrilgreen/mediasoup-stream-test/internal/liveness"
	"github.com/pravrilgreen/mediasoup-stream-test/internal/metrics"
	"github.com/pravrilgreen/mediasoup-stream-test/internal/sfu"
)

// Census is the part of the viewer census the registry needs.
type Census interface {
	CountOf(cameraID string) int
	RemoveCamera(cameraID string)
}

type Config struct {
	ListenIP      string
	AnnouncedIP   string
	VideoDefaults sfu.VideoParams
	AudioDefaults sfu.AudioParams
	TombstoneSize int
}

// Registry owns camera lifetime. The map lock covers one compound step at
// a time and is never held across an engine call; produce calls for the
// same camera are serialized by a per-camera semaphore instead.
type Registry struct {
	cfg     Config
	engine  sfu.Engine
	census  Census
	monitor *liveness.Monitor
	events  events.Emitter
	log     zerolog.Logger

	mu         sync.Mutex
	cameras    map[string]*camera
	listeners  []func(producerID string)
	tombstones *lru.Cache[string, Tombstone]
}

var _ liveness.Target = (*Registry)(nil)

func NewRegistry(cfg Config, engine sfu.Engine, census Census, monitor *liveness.Monitor, em events.Emitter, log zerolog.Logger) *Registry {
	if cfg.ListenIP == "" {
		cfg.ListenIP = "0.0.0.0"
	}
	cfg.VideoDefaults = cfg.VideoDefaults.WithDefaults(sfu.DefaultVideoParams())
	cfg.AudioDefaults = cfg.AudioDefaults.WithDefaults(sfu.DefaultAudioParams())
	if cfg.TombstoneSize <= 0 {
		cfg.TombstoneSize = 256
	}
	if em == nil {
		em = events.Nop{}
	}
	tombstones, _ := lru.New[string, Tombstone](cfg.TombstoneSize)

	return &Registry{
		cfg:        cfg,
		engine:     engine,
		census:     census,
		monitor:    monitor,
		events:     em,
		log:        log.With().Str("component", "registry").Logger(),
		cameras:    make(map[string]*camera),
		tombstones: tombstones,
	}
}

// OnProducerClosed registers fn to be told about every producer the
// registry closes. Listeners run outside the registry lock.
func (r *Registry) OnProducerClosed(fn func(producerID string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Create opens both ingest transports, registers the camera and starts
// its liveness task. Nothing is registered if either transport fails.
func (r *Registry) Create(ctx context.Context, name string) (Info, error) {
	id := uuid.NewString()
	name = strings.TrimSpace(name)
	if name == "" {
		name = "camera-" + id[:8]
	}

	opts := sfu.PlainTransportOptions{
		ListenIP:    r.cfg.ListenIP,
		AnnouncedIP: r.cfg.AnnouncedIP,
		RtcpMux:     false,
		Comedia:     true,
	}
	vt, err := r.engine.CreatePlainTransport(ctx, opts)
	if err != nil {
		return Info{}, EngineFailure("create_video_transport", err)
	}
	at, err := r.engine.CreatePlainTransport(ctx, opts)
	if err != nil {
		cleanup.Do(context.WithoutCancel(ctx), r.log, "close_video_transport", func(ctx context.Context) error {
			return r.engine.CloseTransport(ctx, vt.ID)
		})
		return Info{}, EngineFailure("create_audio_transport", err)
	}

	cam := &camera{
		id:         id,
		name:       name,
		createdAt:  time.Now().UTC(),
		video:      track{transport: vt},
		audio:      track{transport: at},
		produceSem: make(chan struct{}, 1),
	}

	r.mu.Lock()
	r.cameras[id] = cam
	if r.monitor != nil {
		cam.stop = r.monitor.Watch(id, r).Stop
	}
	info := r.infoLocked(cam)
	r.mu.Unlock()

	metrics.CamerasCreatedTotal.Inc()
	r.log.Info().Str("camera_id", id).Str("name", name).
		Int("video_port", vt.Tuple.LocalPort).Int("audio_port", at.Tuple.LocalPort).
		Msg("camera created")
	r.events.Emit(events.Event{Type: events.CameraCreated, CameraID: id})
	return info, nil
}

// Produce publishes the requested kinds that have no producer yet and
// returns the producers the camera now has. Existing producers are left
// untouched.
func (r *Registry) Produce(ctx context.Context, id string, req ProduceRequest) (ProducerIDs, error) {
	r.mu.Lock()
	cam, ok := r.cameras[id]
	if !ok {
		err := r.notFoundLocked(id)
		r.mu.Unlock()
		return ProducerIDs{}, err
	}
	r.mu.Unlock()

	select {
	case cam.produceSem <- struct{}{}:
		defer func() { <-cam.produceSem }()
	case <-ctx.Done():
		return ProducerIDs{}, ctx.Err()
	}

	if req.Video == nil && req.Audio == nil {
		v, a := r.cfg.VideoDefaults, r.cfg.AudioDefaults
		req = ProduceRequest{Video: &v, Audio: &a}
	}
	if req.Video != nil {
		params := req.Video.WithDefaults(r.cfg.VideoDefaults).RtpParameters()
		if err := r.produceKind(ctx, cam, sfu.KindVideo, params); err != nil {
			return ProducerIDs{}, err
		}
	}
	if req.Audio != nil {
		params := req.Audio.WithDefaults(r.cfg.AudioDefaults).RtpParameters()
		if err := r.produceKind(ctx, cam, sfu.KindAudio, params); err != nil {
			return ProducerIDs{}, err
		}
	}
	return r.Producers(id)
}

func (r *Registry) produceKind(ctx context.Context, cam *camera, kind sfu.Kind, params sfu.RtpParameters) error {
	r.mu.Lock()
	if cam.closed {
		err := r.notFoundLocked(cam.id)
		r.mu.Unlock()
		return err
	}
	tr := cam.track(kind)
	if tr.producer != nil {
		r.mu.Unlock()
		return nil
	}
	transportID := tr.transport.ID
	r.mu.Unlock()

	p, err := r.engine.Produce(ctx, transportID, kind, params)

	r.mu.Lock()
	if cam.closed {
		nf := r.notFoundLocked(cam.id)
		r.mu.Unlock()
		if p != nil {
			cleanup.Do(context.WithoutCancel(ctx), r.log, "close_orphan_producer", func(ctx context.Context) error {
				return r.engine.CloseProducer(ctx, p.ID)
			})
		}
		return nf
	}
	if err != nil {
		r.mu.Unlock()
		return EngineFailure("produce_"+string(kind), err)
	}
	tr.producer = p
	r.mu.Unlock()

	metrics.ProducersCreatedTotal.WithLabelValues(string(kind)).Inc()
	r.log.Info().Str("camera_id", cam.id).Str("kind", string(kind)).Str("producer_id", p.ID).Msg("producer created")
	r.events.Emit(events.Event{Type: events.ProducerCreated, CameraID: cam.id, Kind: string(kind), ProducerID: p.ID})
	return nil
}

func (r *Registry) Get(id string) (Info, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cam, ok := r.cameras[id]
	if !ok {
		return Info{}, r.notFoundLocked(id)
	}
	return r.infoLocked(cam), nil
}

func (r *Registry) Producers(id string) (ProducerIDs, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cam, ok := r.cameras[id]
	if !ok {
		return ProducerIDs{}, r.notFoundLocked(id)
	}
	return ProducerIDs{Video: producerID(cam.video.producer), Audio: producerID(cam.audio.producer)}, nil
}

func (r *Registry) Exists(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.cameras[id]
	return ok
}

// Snapshot copies every camera, oldest first.
func (r *Registry) Snapshot() []Info {
	r.mu.Lock()
	out := make([]Info, 0, len(r.cameras))
	for _, cam := range r.cameras {
		out = append(out, r.infoLocked(cam))
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// List is Snapshot joined with the census viewer counts.
func (r *Registry) List() []Summary {
	infos := r.Snapshot()
	out := make([]Summary, 0, len(infos))
	for _, info := range infos {
		out = append(out, Summary{
			ID:          info.ID,
			Name:        info.Name,
			HasVideo:    info.HasVideo(),
			HasAudio:    info.HasAudio(),
			ViewerCount: r.census.CountOf(info.ID),
		})
	}
	return out
}

// FindByProducer scans cameras for the owner of a producer.
func (r *Registry) FindByProducer(producerID string) (string, sfu.Kind, bool) {
	if producerID == "" {
		return "", "", false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cam := range r.cameras {
		for _, kind := range sfu.Kinds {
			if p := cam.track(kind).producer; p != nil && p.ID == producerID {
				return cam.id, kind, true
			}
		}
	}
	return "", "", false
}

// Tombstone reports why a recently removed camera went away.
func (r *Registry) Tombstone(id string) (Tombstone, bool) {
	return r.tombstones.Get(id)
}

// Close tears a camera down on request. Engine failures during teardown
// are logged and ignored.
func (r *Registry) Close(ctx context.Context, id string) error {
	r.mu.Lock()
	cam, ok := r.cameras[id]
	if !ok {
		err := r.notFoundLocked(id)
		r.mu.Unlock()
		return err
	}
	td := r.detachLocked(cam, events.ReasonClosed)
	r.mu.Unlock()

	r.teardown(ctx, td)
	return nil
}

// IngestTransports is read by the liveness task on every tick.
func (r *Registry) IngestTransports(id string) (string, string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cam, ok := r.cameras[id]
	if !ok {
		return "", "", false
	}
	return cam.video.transport.ID, cam.audio.transport.ID, true
}

func (r *Registry) HasProducer(id string, kind sfu.Kind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cam, ok := r.cameras[id]
	return ok && cam.track(kind).producer != nil
}

// CloseProducer nulls one producer and then closes it in the engine. A
// closed producer is never reopened here; only Produce creates a new one.
func (r *Registry) CloseProducer(ctx context.Context, id string, kind sfu.Kind, reason string) error {
	r.mu.Lock()
	cam, ok := r.cameras[id]
	if !ok {
		err := r.notFoundLocked(id)
		r.mu.Unlock()
		return err
	}
	tr := cam.track(kind)
	p := tr.producer
	tr.producer = nil
	listeners := append([]func(string){}, r.listeners...)
	r.mu.Unlock()

	if p == nil {
		return nil
	}
	r.closeProducer(context.WithoutCancel(ctx), id, kind, p, reason, listeners)
	return nil
}

// Remove drops a camera whose producers are both gone. It refuses while
// either producer exists.
func (r *Registry) Remove(ctx context.Context, id string, reason string) error {
	r.mu.Lock()
	cam, ok := r.cameras[id]
	if !ok {
		err := r.notFoundLocked(id)
		r.mu.Unlock()
		return err
	}
	if cam.hasProducers() {
		r.mu.Unlock()
		return fmt.Errorf("remove %s: %w", id, ErrProducersActive)
	}
	td := r.detachLocked(cam, reason)
	r.mu.Unlock()

	r.teardown(ctx, td)
	return nil
}

type teardown struct {
	cam        *camera
	reason     string
	producers  map[sfu.Kind]*sfu.Producer
	transports []*sfu.PlainTransport
	listeners  []func(string)
}

// detachLocked unlinks a camera so no other request or task can reach it.
// The liveness task is cancelled before the entry disappears.
func (r *Registry) detachLocked(cam *camera, reason string) teardown {
	if cam.stop != nil {
		cam.stop()
	}
	cam.closed = true
	delete(r.cameras, cam.id)
	r.tombstones.Add(cam.id, Tombstone{Reason: reason, At: time.Now().UTC()})

	td := teardown{
		cam:        cam,
		reason:     reason,
		producers:  make(map[sfu.Kind]*sfu.Producer),
		transports: []*sfu.PlainTransport{cam.video.transport, cam.audio.transport},
		listeners:  append([]func(string){}, r.listeners...),
	}
	for _, kind := range sfu.Kinds {
		tr := cam.track(kind)
		if tr.producer != nil {
			td.producers[kind] = tr.producer
			tr.producer = nil
		}
	}
	return td
}

func (r *Registry) teardown(ctx context.Context, td teardown) {
	ctx = context.WithoutCancel(ctx)
	id := td.cam.id

	for _, kind := range sfu.Kinds {
		if p := td.producers[kind]; p != nil {
			r.closeProducer(ctx, id, kind, p, td.reason, td.listeners)
		}
	}
	for _, t := range td.transports {
		cleanup.Do(ctx, r.log, "close_ingest_transport", func(ctx context.Context) error {
			return r.engine.CloseTransport(ctx, t.ID)
		})
	}
	r.census.RemoveCamera(id)

	metrics.CamerasRemovedTotal.WithLabelValues(td.reason).Inc()
	r.log.Info().Str("camera_id", id).Str("reason", td.reason).Msg("camera removed")
	r.events.Emit(events.Event{Type: events.CameraRemoved, CameraID: id, Reason: td.reason})
}

func (r *Registry) closeProducer(ctx context.Context, cameraID string, kind sfu.Kind, p *sfu.Producer, reason string, listeners []func(string)) {
	cleanup.Do(ctx, r.log, "close_producer", func(ctx context.Context) error {
		return r.engine.CloseProducer(ctx, p.ID)
	})
	for _, fn := range listeners {
		fn(p.ID)
	}
	metrics.ProducersClosedTotal.WithLabelValues(string(kind), reason).Inc()
	r.log.Info().Str("camera_id", cameraID).Str("kind", string(kind)).Str("producer_id", p.ID).Str("reason", reason).Msg("producer closed")
	r.events.Emit(events.Event{Type: events.ProducerClosed, CameraID: cameraID, Kind: string(kind), ProducerID: p.ID, Reason: reason})
}

func (r *Registry) infoLocked(cam *camera) Info {
	return Info{
		ID:               cam.id,
		Name:             cam.name,
		CreatedAt:        cam.createdAt,
		Video:            endpoint(cam.video.transport, r.cfg.VideoDefaults.PayloadType, r.cfg.VideoDefaults.SSRC),
		Audio:            endpoint(cam.audio.transport, r.cfg.AudioDefaults.PayloadType, r.cfg.AudioDefaults.SSRC),
		VideoTransportID: cam.video.transport.ID,
		AudioTransportID: cam.audio.transport.ID,
		VideoProducerID:  producerID(cam.video.producer),
		AudioProducerID:  producerID(cam.audio.producer),
	}
}

func (r *Registry) notFoundLocked(id string) error {
	if ts, ok := r.tombstones.Get(id); ok {
		return &RemovedError{CameraID: id, Reason: ts.Reason, At: ts.At}
	}
	return fmt.Errorf("%w: %s", ErrCameraNotFound, id)
}
