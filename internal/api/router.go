// Package api is the HTTP surface of the camera control plane.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/pravrilgreen/mediasoup-stream-test/internal/cameras"
	"github.com/pravrilgreen/mediasoup-stream-test/internal/controlplane"
	"github.com/pravrilgreen/mediasoup-stream-test/internal/events"
	"github.com/pravrilgreen/mediasoup-stream-test/internal/middleware"
	"github.com/pravrilgreen/mediasoup-stream-test/internal/ratelimit"
	"github.com/pravrilgreen/mediasoup-stream-test/internal/sfu"
	"github.com/pravrilgreen/mediasoup-stream-test/internal/tokens"
)

type ControlPlane interface {
	RtpCapabilities(ctx context.Context) (json.RawMessage, error)
	CreateViewerTransport(ctx context.Context, client controlplane.ClientInfo) (*sfu.WebRtcTransport, error)
	ConnectViewerTransport(ctx context.Context, transportID string, dtlsParameters json.RawMessage) error
	CloseViewerTransport(ctx context.Context, transportID string) error

	CreateCamera(ctx context.Context, name string) (cameras.Info, error)
	Produce(ctx context.Context, cameraID string, req cameras.ProduceRequest) (cameras.ProducerIDs, error)
	GetProducers(cameraID string) (cameras.ProducerIDs, error)
	ListStreams() []cameras.Summary
	ListViewers(cameraID string) (controlplane.Viewers, error)
	CloseCamera(ctx context.Context, cameraID string) error

	Consume(ctx context.Context, req controlplane.ConsumeRequest) (*controlplane.ConsumerDescription, error)
	CloseConsumer(ctx context.Context, consumerID string) error

	Cameras() []cameras.Info
	Consumers() []controlplane.ConsumerInfo
	ConsumerStats(ctx context.Context, consumerID string) (json.RawMessage, error)
	HandleEngineEvent(ctx context.Context, ev controlplane.EngineEvent) error
}

// EventReader is the journal query used by /debug/events.
type EventReader interface {
	Recent(ctx context.Context, cameraID string, limit int) ([]events.Event, error)
}

type Deps struct {
	ControlPlane ControlPlane
	Log          zerolog.Logger

	// Optional pieces; nil leaves the matching feature off.
	Journal     EventReader
	EventStream http.Handler
	Metrics     http.Handler
	Auth        *middleware.OperatorAuth
	RateLimit   *middleware.RateLimit

	// EngineSecret guards the engine webhook. Empty leaves it unmounted.
	EngineSecret   string
	AllowedOrigins []string
}

func NewRouter(d Deps) http.Handler {
	cams := &CameraHandler{CP: d.ControlPlane}
	viewers := &ViewerHandler{CP: d.ControlPlane}
	debug := &DebugHandler{CP: d.ControlPlane, Journal: d.Journal}
	internal := &InternalHandler{CP: d.ControlPlane, Secret: d.EngineSecret}

	r := chi.NewRouter()
	r.Use(middleware.RequestLogger(d.Log))
	r.Use(chimw.Recoverer)
	r.Use(middleware.Instrument)
	r.Use(middleware.CORS(d.AllowedOrigins))

	r.Get("/health", Health)
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics)
	}
	if d.EngineSecret != "" {
		r.Post("/internal/engine/events", internal.EngineEvent)
	}

	r.Group(func(r chi.Router) {
		r.Use(d.RateLimit.Limit(ratelimit.ScopeAPI))

		r.Get("/whoami", WhoAmI)
		r.Get("/rtpCapabilities", viewers.RtpCapabilities)
		r.Get("/streams", cams.Streams)
		r.Get("/cameras/{id}/producers", cams.Producers)
		r.Get("/cameras/{id}/viewers", cams.Viewers)

		r.Post("/connectWebRtcTransport", viewers.ConnectTransport)
		r.Post("/transports/{id}/close", viewers.CloseTransport)
		r.Post("/consumers/{id}/close", viewers.CloseConsumer)

		r.Group(func(r chi.Router) {
			r.Use(d.RateLimit.Limit(ratelimit.ScopeViewer))
			r.Post("/createWebRtcTransport", viewers.CreateTransport)
			r.Post("/consume", viewers.Consume)
		})

		if d.EventStream != nil {
			r.Handle("/ws/events", d.EventStream)
		}

		r.Group(func(r chi.Router) {
			r.Use(d.Auth.Require(tokens.RoleOperator))
			r.Post("/cameras/createPlainRtp", cams.Create)
			r.Post("/cameras/{id}/produce", cams.Produce)
			r.Post("/cameras/{id}/close", cams.Close)
		})

		r.Route("/debug", func(r chi.Router) {
			r.Use(d.Auth.Require(tokens.RoleOperator, tokens.RoleViewer))
			r.Get("/cameras", debug.Cameras)
			r.Get("/consumers", debug.Consumers)
			r.Get("/consumers/{id}/stats", debug.ConsumerStats)
			r.Get("/events", debug.Events)
		})
	})

	return r
}
