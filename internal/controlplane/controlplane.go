// Package controlplane sequences registry, census and media engine calls
// for each external request and keeps their bookkeeping consistent.
package controlplane

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pravrilgreen/mediasoup-stream-test/internal/cameras"
	"github.com/pravrilgreen/mediasoup-stream-test/internal/census"
	"github.com/pravrilgreen/mediasoup-stream-test/internal/cleanup"
	"github.com/pravrilgreen/mediasoup-stream-test/internal/events"
	"github.com/pravrilgreen/mediasoup-stream-test/internal/metrics"
	"github.com/pravrilgreen/mediasoup-stream-test/internal/sfu"
)

type Config struct {
	WebRtc sfu.WebRtcTransportOptions
}

// DefaultWebRtcOptions mirrors what browsers behind typical NATs need.
func DefaultWebRtcOptions(listenIP, announcedIP string) sfu.WebRtcTransportOptions {
	return sfu.WebRtcTransportOptions{
		ListenIP:                        listenIP,
		AnnouncedIP:                     announcedIP,
		EnableUDP:                       true,
		EnableTCP:                       true,
		PreferUDP:                       true,
		InitialAvailableOutgoingBitrate: 800000,
		MinimumAvailableOutgoingBitrate: 300000,
	}
}

type ClientInfo struct {
	IP        string
	UserAgent string
}

type ConsumeRequest struct {
	TransportID     string
	ProducerID      string
	RtpCapabilities json.RawMessage
	ViewerID        string
}

type ConsumerDescription struct {
	ID            string          `json:"id"`
	ProducerID    string          `json:"producerId"`
	Kind          sfu.Kind        `json:"kind"`
	RtpParameters json.RawMessage `json:"rtpParameters"`
}

type ConsumerInfo struct {
	ID          string    `json:"id"`
	CameraID    string    `json:"cameraId"`
	ProducerID  string    `json:"producerId"`
	TransportID string    `json:"transportId"`
	ViewerID    string    `json:"viewerId"`
	Kind        sfu.Kind  `json:"kind"`
	CreatedAt   time.Time `json:"createdAt"`
}

type Viewers struct {
	Count     int      `json:"count"`
	ViewerIDs []string `json:"ips"`
}

// EngineEvent is a close notification pushed by the media engine.
type EngineEvent struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

const (
	EngineConsumerClose  = "consumerclose"
	EngineTransportClose = "transportclose"
	EngineProducerClose  = "producerclose"
)

var ErrUnknownEngineEvent = errors.New("unknown engine event")

type viewerTransport struct {
	id        string
	client    ClientInfo
	createdAt time.Time
}

type consumerRecord struct {
	info ConsumerInfo
	once sync.Once
}

type ControlPlane struct {
	cfg      Config
	engine   sfu.Engine
	registry *cameras.Registry
	census   *census.Census
	events   events.Emitter
	log      zerolog.Logger

	mu         sync.Mutex
	transports map[string]*viewerTransport
	consumers  map[string]*consumerRecord
}

func New(cfg Config, engine sfu.Engine, registry *cameras.Registry, c *census.Census, em events.Emitter, log zerolog.Logger) *ControlPlane {
	if em == nil {
		em = events.Nop{}
	}
	cp := &ControlPlane{
		cfg:        cfg,
		engine:     engine,
		registry:   registry,
		census:     c,
		events:     em,
		log:        log.With().Str("component", "controlplane").Logger(),
		transports: make(map[string]*viewerTransport),
		consumers:  make(map[string]*consumerRecord),
	}
	registry.OnProducerClosed(cp.producerClosed)
	return cp
}

func (cp *ControlPlane) CreateCamera(ctx context.Context, name string) (cameras.Info, error) {
	return cp.registry.Create(ctx, name)
}

func (cp *ControlPlane) Produce(ctx context.Context, cameraID string, req cameras.ProduceRequest) (cameras.ProducerIDs, error) {
	return cp.registry.Produce(ctx, cameraID, req)
}

func (cp *ControlPlane) GetProducers(cameraID string) (cameras.ProducerIDs, error) {
	return cp.registry.Producers(cameraID)
}

func (cp *ControlPlane) ListStreams() []cameras.Summary {
	return cp.registry.List()
}

// Cameras is the detailed listing used by debug views.
func (cp *ControlPlane) Cameras() []cameras.Info {
	return cp.registry.Snapshot()
}

func (cp *ControlPlane) ListViewers(cameraID string) (Viewers, error) {
	if _, err := cp.registry.Get(cameraID); err != nil {
		return Viewers{}, err
	}
	ids := cp.census.ViewersOf(cameraID)
	return Viewers{Count: len(ids), ViewerIDs: ids}, nil
}

func (cp *ControlPlane) CloseCamera(ctx context.Context, cameraID string) error {
	return cp.registry.Close(ctx, cameraID)
}

func (cp *ControlPlane) RtpCapabilities(ctx context.Context) (json.RawMessage, error) {
	caps, err := cp.engine.RtpCapabilities(ctx)
	if err != nil {
		return nil, cameras.EngineFailure("rtp_capabilities", err)
	}
	return caps, nil
}

func (cp *ControlPlane) CreateViewerTransport(ctx context.Context, client ClientInfo) (*sfu.WebRtcTransport, error) {
	t, err := cp.engine.CreateWebRtcTransport(ctx, cp.cfg.WebRtc)
	if err != nil {
		return nil, cameras.EngineFailure("create_webrtc_transport", err)
	}

	cp.mu.Lock()
	cp.transports[t.ID] = &viewerTransport{id: t.ID, client: client, createdAt: time.Now().UTC()}
	cp.mu.Unlock()

	metrics.ViewerTransportsActive.Inc()
	cp.log.Debug().Str("transport_id", t.ID).Str("viewer", client.IP).Msg("viewer transport created")
	return t, nil
}

func (cp *ControlPlane) ConnectViewerTransport(ctx context.Context, transportID string, dtlsParameters json.RawMessage) error {
	if !cp.hasTransport(transportID) {
		return fmt.Errorf("%w: %s", cameras.ErrTransportNotFound, transportID)
	}
	if err := cp.engine.ConnectWebRtcTransport(ctx, transportID, dtlsParameters); err != nil {
		if errors.Is(err, sfu.ErrNotFound) {
			cp.forgetTransport(transportID, events.ReasonTransportClosed)
			return fmt.Errorf("%w: %s", cameras.ErrTransportNotFound, transportID)
		}
		return cameras.EngineFailure("connect_webrtc_transport", err)
	}
	return nil
}

// CloseViewerTransport closes a viewer transport and every consumer on it.
func (cp *ControlPlane) CloseViewerTransport(ctx context.Context, transportID string) error {
	if !cp.forgetTransport(transportID, events.ReasonTransportClosed) {
		return fmt.Errorf("%w: %s", cameras.ErrTransportNotFound, transportID)
	}
	cleanup.Do(context.WithoutCancel(ctx), cp.log, "close_webrtc_transport", func(ctx context.Context) error {
		return cp.engine.CloseTransport(ctx, transportID)
	})
	return nil
}

// Consume subscribes a viewer transport to a camera producer and counts
// the viewer. The returned consumer is released exactly once, by whichever
// close path reaches it first.
func (cp *ControlPlane) Consume(ctx context.Context, req ConsumeRequest) (*ConsumerDescription, error) {
	if !cp.hasTransport(req.TransportID) {
		return nil, fmt.Errorf("%w: %s", cameras.ErrTransportNotFound, req.TransportID)
	}
	if _, _, ok := cp.registry.FindByProducer(req.ProducerID); !ok {
		return nil, fmt.Errorf("%w: producer %s", cameras.ErrNotFound, req.ProducerID)
	}

	ok, err := cp.engine.CanConsume(ctx, req.ProducerID, req.RtpCapabilities)
	if err != nil {
		return nil, cameras.EngineFailure("can_consume", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: producer %s", cameras.ErrIncompatible, req.ProducerID)
	}

	cons, err := cp.engine.Consume(ctx, req.TransportID, req.ProducerID, req.RtpCapabilities)
	if err != nil {
		if errors.Is(err, sfu.ErrNotFound) {
			return nil, fmt.Errorf("consume %s: %w", req.ProducerID, cameras.ErrNotFound)
		}
		return nil, cameras.EngineFailure("consume", err)
	}

	rec := &consumerRecord{info: ConsumerInfo{
		ID:          cons.ID,
		ProducerID:  req.ProducerID,
		TransportID: req.TransportID,
		ViewerID:    req.ViewerID,
		Kind:        cons.Kind,
		CreatedAt:   time.Now().UTC(),
	}}

	// The camera and transport may have gone while the engine was busy;
	// both are checked again in the step that registers the consumer.
	cp.mu.Lock()
	cameraID, _, camOK := cp.registry.FindByProducer(req.ProducerID)
	_, trOK := cp.transports[req.TransportID]
	if camOK && trOK {
		rec.info.CameraID = cameraID
		cp.consumers[cons.ID] = rec
		cp.census.AddViewer(cameraID, req.ViewerID, cons.ID)
	}
	cp.mu.Unlock()

	if !camOK || !trOK {
		cleanup.Do(context.WithoutCancel(ctx), cp.log, "close_orphan_consumer", func(ctx context.Context) error {
			return cp.engine.CloseConsumer(ctx, cons.ID)
		})
		if !trOK {
			return nil, fmt.Errorf("%w: %s", cameras.ErrTransportNotFound, req.TransportID)
		}
		return nil, fmt.Errorf("%w: producer %s", cameras.ErrNotFound, req.ProducerID)
	}

	metrics.ConsumersActive.Inc()
	cp.log.Info().Str("camera_id", cameraID).Str("consumer_id", cons.ID).Str("viewer", req.ViewerID).Msg("viewer consuming")
	if req.ViewerID != "" {
		cp.events.Emit(events.Event{
			Type: events.ViewerJoined, CameraID: cameraID, Kind: string(cons.Kind),
			ProducerID: req.ProducerID, ConsumerID: cons.ID, ViewerID: req.ViewerID,
		})
	}

	return &ConsumerDescription{
		ID:            cons.ID,
		ProducerID:    req.ProducerID,
		Kind:          cons.Kind,
		RtpParameters: cons.RtpParameters,
	}, nil
}

func (cp *ControlPlane) CloseConsumer(ctx context.Context, consumerID string) error {
	rec := cp.consumer(consumerID)
	if rec == nil {
		return fmt.Errorf("%w: %s", cameras.ErrConsumerNotFound, consumerID)
	}
	cleanup.Do(context.WithoutCancel(ctx), cp.log, "close_consumer", func(ctx context.Context) error {
		return cp.engine.CloseConsumer(ctx, consumerID)
	})
	cp.release(rec, events.ReasonConsumerClosed)
	return nil
}

func (cp *ControlPlane) Consumers() []ConsumerInfo {
	cp.mu.Lock()
	out := make([]ConsumerInfo, 0, len(cp.consumers))
	for _, rec := range cp.consumers {
		out = append(out, rec.info)
	}
	cp.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (cp *ControlPlane) ConsumerStats(ctx context.Context, consumerID string) (json.RawMessage, error) {
	if cp.consumer(consumerID) == nil {
		return nil, fmt.Errorf("%w: %s", cameras.ErrConsumerNotFound, consumerID)
	}
	st, err := cp.engine.ConsumerStats(ctx, consumerID)
	if err != nil {
		if errors.Is(err, sfu.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", cameras.ErrConsumerNotFound, consumerID)
		}
		return nil, cameras.EngineFailure("consumer_stats", err)
	}
	return st, nil
}

// HandleEngineEvent applies a close the engine performed on its own, for
// example a viewer transport whose DTLS session died. Repeated or unknown
// ids are ignored.
func (cp *ControlPlane) HandleEngineEvent(ctx context.Context, ev EngineEvent) error {
	switch ev.Type {
	case EngineConsumerClose:
		if rec := cp.consumer(ev.ID); rec != nil {
			cp.release(rec, events.ReasonConsumerClosed)
		}
	case EngineTransportClose:
		cp.forgetTransport(ev.ID, events.ReasonTransportClosed)
	case EngineProducerClose:
		if cameraID, kind, ok := cp.registry.FindByProducer(ev.ID); ok {
			return cp.registry.CloseProducer(ctx, cameraID, kind, events.ReasonProducerClosed)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEngineEvent, ev.Type)
	}
	return nil
}

// Shutdown closes every viewer transport and camera.
func (cp *ControlPlane) Shutdown(ctx context.Context) {
	cp.mu.Lock()
	ids := make([]string, 0, len(cp.transports))
	for id := range cp.transports {
		ids = append(ids, id)
	}
	cp.mu.Unlock()

	// NotFound is routine here: a webhook or liveness removal may win the race.
	for _, id := range ids {
		if err := cp.CloseViewerTransport(ctx, id); err != nil {
			cp.log.Debug().Err(err).Str("transport_id", id).Msg("shutdown: close viewer transport")
		}
	}
	for _, cam := range cp.registry.Snapshot() {
		if err := cp.registry.Close(ctx, cam.ID); err != nil {
			cp.log.Debug().Err(err).Str("camera_id", cam.ID).Msg("shutdown: close camera")
		}
	}
}

// StreamSnapshots feeds the metrics collector. Viewer counts come from a
// single census read so the per-camera gauges sum to the total.
func (cp *ControlPlane) StreamSnapshots() []metrics.StreamSnapshot {
	list := cp.registry.List()
	counts := cp.census.Snapshot()
	out := make([]metrics.StreamSnapshot, 0, len(list))
	for _, s := range list {
		out = append(out, metrics.StreamSnapshot{
			CameraID: s.ID,
			HasVideo: s.HasVideo,
			HasAudio: s.HasAudio,
			Viewers:  counts[s.ID],
		})
	}
	return out
}

func (cp *ControlPlane) Tombstone(cameraID string) (cameras.Tombstone, bool) {
	return cp.registry.Tombstone(cameraID)
}

// producerClosed runs after the registry closed a producer. The engine
// drops the producer's consumers with it, so their records go too.
func (cp *ControlPlane) producerClosed(producerID string) {
	cp.mu.Lock()
	var recs []*consumerRecord
	for _, rec := range cp.consumers {
		if rec.info.ProducerID == producerID {
			recs = append(recs, rec)
		}
	}
	cp.mu.Unlock()

	for _, rec := range recs {
		cp.release(rec, events.ReasonProducerClosed)
	}
}

// forgetTransport drops a viewer transport and releases its consumers. It
// reports whether the transport was known.
func (cp *ControlPlane) forgetTransport(transportID, reason string) bool {
	cp.mu.Lock()
	if _, ok := cp.transports[transportID]; !ok {
		cp.mu.Unlock()
		return false
	}
	delete(cp.transports, transportID)
	var recs []*consumerRecord
	for _, rec := range cp.consumers {
		if rec.info.TransportID == transportID {
			recs = append(recs, rec)
		}
	}
	cp.mu.Unlock()

	metrics.ViewerTransportsActive.Dec()
	for _, rec := range recs {
		cp.release(rec, reason)
	}
	return true
}

// release is the only path that decrements the census.
func (cp *ControlPlane) release(rec *consumerRecord, reason string) {
	rec.once.Do(func() {
		cp.mu.Lock()
		delete(cp.consumers, rec.info.ID)
		cp.mu.Unlock()

		cp.census.RemoveByConsumer(rec.info.ID)
		metrics.ConsumersActive.Dec()
		cp.log.Info().Str("camera_id", rec.info.CameraID).Str("consumer_id", rec.info.ID).Str("reason", reason).Msg("viewer consumer released")
		if rec.info.ViewerID != "" {
			cp.events.Emit(events.Event{
				Type: events.ViewerLeft, CameraID: rec.info.CameraID, Kind: string(rec.info.Kind),
				ProducerID: rec.info.ProducerID, ConsumerID: rec.info.ID, ViewerID: rec.info.ViewerID, Reason: reason,
			})
		}
	})
}

func (cp *ControlPlane) hasTransport(id string) bool {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	_, ok := cp.transports[id]
	return ok
}

func (cp *ControlPlane) consumer(id string) *consumerRecord {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return cp.consumers[id]
}
