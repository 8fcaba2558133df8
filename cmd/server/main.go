package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/pravrilgreen/mediasoup-stream-test/internal/api"
	"github.com/pravrilgreen/mediasoup-stream-test/internal/cameras"
	"github.com/pravrilgreen/mediasoup-stream-test/internal/census"
	"github.com/pravrilgreen/mediasoup-stream-test/internal/config"
	"github.com/pravrilgreen/mediasoup-stream-test/internal/controlplane"
	"github.com/pravrilgreen/mediasoup-stream-test/internal/events"
	"github.com/pravrilgreen/mediasoup-stream-test/internal/journal"
	"github.com/pravrilgreen/mediasoup-stream-test/internal/liveness"
	"github.com/pravrilgreen/mediasoup-stream-test/internal/logging"
	"github.com/pravrilgreen/mediasoup-stream-test/internal/metrics"
	"github.com/pravrilgreen/mediasoup-stream-test/internal/middleware"
	"github.com/pravrilgreen/mediasoup-stream-test/internal/ratelimit"
	"github.com/pravrilgreen/mediasoup-stream-test/internal/sfu"
	"github.com/pravrilgreen/mediasoup-stream-test/internal/tokens"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = config.DefaultPath
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	log := logging.New(cfg.Log, nil)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine := sfu.NewClient(cfg.SFU.URL, cfg.SFU.Secret, cfg.SFU.Timeout)
	if _, err := engine.RtpCapabilities(ctx); err != nil {
		// Requests fail with 502 until the sidecar is up.
		log.Warn().Err(err).Str("url", cfg.SFU.URL).Msg("media engine not reachable yet")
	}

	hub := events.NewHub(logging.WithComponent(log, "events"))
	sinks := []events.Sink{hub}

	if cfg.NATS.URL != "" {
		nc, err := events.ConnectNATS(cfg.NATS.URL, "streams-server", log)
		if err != nil {
			log.Warn().Err(err).Msg("nats unavailable, lifecycle events stay local")
		} else {
			defer nc.Drain()
			sinks = append(sinks, events.NewNATSPublisher(nc, cfg.NATS.SubjectPrefix, cfg.NATS.MaxRetries))
		}
	}

	var jrnl *journal.Journal
	if cfg.Database.URL != "" {
		db, err := journal.Open(ctx, cfg.Database.URL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := journal.Migrate(db, 0); err != nil {
			return fmt.Errorf("journal migrations: %w", err)
		}
		jrnl = journal.New(db)
		sinks = append(sinks, jrnl)
	}

	bus := events.NewBus(logging.WithComponent(log, "bus"), cfg.Events.QueueSize, sinks...)

	settings := liveness.NewSettings(cfg.Liveness)
	monitor := liveness.NewMonitor(settings, engine, logging.WithComponent(log, "liveness"))
	viewers := census.New()
	registry := cameras.NewRegistry(cameras.Config{
		ListenIP:      cfg.Server.ListenIP,
		AnnouncedIP:   cfg.Server.AnnouncedIP,
		VideoDefaults: cfg.Media.Video,
		AudioDefaults: cfg.Media.Audio,
		TombstoneSize: cfg.Server.TombstoneSize,
	}, engine, viewers, monitor, bus, logging.WithComponent(log, "registry"))
	cp := controlplane.New(controlplane.Config{
		WebRtc: controlplane.DefaultWebRtcOptions(cfg.Server.ListenIP, cfg.Server.AnnouncedIP),
	}, engine, registry, viewers, bus, logging.WithComponent(log, "controlplane"))

	prometheus.MustRegister(metrics.NewCollector(cp, metrics.Config{PerCamera: cfg.Metrics.PerCamera}))

	deps := api.Deps{
		ControlPlane:   cp,
		Log:            log,
		EventStream:    hub,
		Metrics:        promhttp.Handler(),
		EngineSecret:   cfg.SFU.Secret,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}
	if jrnl != nil {
		deps.Journal = jrnl
	}
	if cfg.Operator.Secret != "" {
		deps.Auth = middleware.NewOperatorAuth(tokens.NewManager(cfg.Operator.Secret))
	} else {
		log.Warn().Msg("OPERATOR_SECRET not set, operator routes are unauthenticated")
	}
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Msg("redis unreachable, rate limiting fails open")
		}
		deps.RateLimit = middleware.NewRateLimit(ratelimit.NewLimiter(rdb, cfg.RateLimit.Salt), map[ratelimit.Scope]ratelimit.LimitConfig{
			ratelimit.ScopeAPI:    cfg.RateLimit.API,
			ratelimit.ScopeViewer: cfg.RateLimit.Viewer,
		}, log)
	}

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           api.NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// The bus outlives the group context so teardown events still reach the sinks.
	busCtx, stopBus := context.WithCancel(context.Background())
	defer stopBus()
	busDone := make(chan struct{})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(busDone)
		return bus.Run(busCtx)
	})
	g.Go(func() error {
		config.Watch(gctx, cfgPath, log, func(next *config.Config) {
			applyLiveness(log, settings, next.Liveness)
		})
		return nil
	})
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Str("announced_ip", cfg.Server.AnnouncedIP).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return drain(sctx, srv, cp, stopBus, busDone)
	})

	return g.Wait()
}

func applyLiveness(log zerolog.Logger, settings *liveness.Settings, next liveness.Config) {
	if settings.Load() == next {
		return
	}
	settings.Store(next)
	cur := settings.Load()
	log.Info().
		Dur("interval", cur.Interval).
		Dur("inactive_timeout", cur.InactiveTimeout).
		Dur("removal_timeout", cur.RemovalTimeout).
		Msg("liveness thresholds updated")
}
