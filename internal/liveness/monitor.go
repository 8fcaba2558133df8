// Package liveness decides whether camera media is still flowing.
//
// RTP ingest carries no end-of-stream signal, so the only evidence of life
// is a transport's cumulative received-byte counter going up. Each camera
// gets one polling task. Per track the task walks Alive -> Stalled ->
// ProducerClosed: a producer whose track has not grown for longer than
// InactiveTimeout is closed, and once both producers are gone and both
// tracks have been silent for longer than RemovalTimeout the camera is
// removed. Video and audio are judged independently.
package liveness

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/pravrilgreen/mediasoup-stream-test/internal/events"
	"github.com/pravrilgreen/mediasoup-stream-test/internal/metrics"
	"github.com/pravrilgreen/mediasoup-stream-test/internal/sfu"
)

type Config struct {
	Interval        time.Duration `yaml:"interval"`
	InactiveTimeout time.Duration `yaml:"inactive_timeout"`
	RemovalTimeout  time.Duration `yaml:"removal_timeout"`
}

func DefaultConfig() Config {
	return Config{
		Interval:        time.Second,
		InactiveTimeout: time.Second,
		RemovalTimeout:  time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = def.Interval
	}
	if c.InactiveTimeout <= 0 {
		c.InactiveTimeout = def.InactiveTimeout
	}
	if c.RemovalTimeout <= 0 {
		c.RemovalTimeout = def.RemovalTimeout
	}
	return c
}

// Settings holds the thresholds shared by every task. Stores are picked up
// on the next tick of each running task.
type Settings struct {
	v atomic.Pointer[Config]
}

func NewSettings(cfg Config) *Settings {
	s := &Settings{}
	s.Store(cfg)
	return s
}

func (s *Settings) Load() Config { return *s.v.Load() }

func (s *Settings) Store(cfg Config) {
	cfg = cfg.withDefaults()
	s.v.Store(&cfg)
}

// Target is the camera store a task drives. Every mutation re-checks the
// camera under the store's own lock, so a task that was stopped mid-tick
// cannot act on a camera that is already gone.
type Target interface {
	IngestTransports(cameraID string) (video, audio string, ok bool)
	HasProducer(cameraID string, kind sfu.Kind) bool
	CloseProducer(ctx context.Context, cameraID string, kind sfu.Kind, reason string) error
	Remove(ctx context.Context, cameraID string, reason string) error
}

type StatsSource interface {
	TransportStats(ctx context.Context, transportID string) (*sfu.TransportStats, error)
}

type Monitor struct {
	settings *Settings
	stats    StatsSource
	log      zerolog.Logger
	now      func() time.Time
}

func NewMonitor(settings *Settings, stats StatsSource, log zerolog.Logger) *Monitor {
	if settings == nil {
		settings = NewSettings(DefaultConfig())
	}
	return &Monitor{
		settings: settings,
		stats:    stats,
		log:      log.With().Str("component", "liveness").Logger(),
		now:      time.Now,
	}
}

func (m *Monitor) Settings() *Settings { return m.settings }

// Watch starts the polling task for one camera.
func (m *Monitor) Watch(cameraID string, target Target) *Task {
	t := m.newTask(cameraID, target)
	go t.run()
	return t
}

func (m *Monitor) newTask(cameraID string, target Target) *Task {
	ctx, cancel := context.WithCancel(context.Background())
	now := m.now()
	return &Task{
		cameraID: cameraID,
		monitor:  m,
		target:   target,
		log:      m.log.With().Str("camera_id", cameraID).Logger(),
		state:    State{LastVideoAliveAt: now, LastAudioAliveAt: now},
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// State is private to its task.
type State struct {
	LastVideoBytes   uint64
	LastAudioBytes   uint64
	LastVideoAliveAt time.Time
	LastAudioAliveAt time.Time
}

type Task struct {
	cameraID string
	monitor  *Monitor
	target   Target
	log      zerolog.Logger
	state    State

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Stop cancels the task without waiting for it. It is safe to call more
// than once and from inside the task itself.
func (t *Task) Stop() { t.cancel() }

// Done is closed when the task's goroutine has exited.
func (t *Task) Done() <-chan struct{} { return t.done }

func (t *Task) run() {
	defer close(t.done)

	interval := t.monitor.settings.Load().Interval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			if t.tick(t.ctx) {
				return
			}
			if cur := t.monitor.settings.Load().Interval; cur != interval {
				interval = cur
				ticker.Reset(cur)
			}
		}
	}
}

// tick runs one poll and reports whether the task is finished.
func (t *Task) tick(ctx context.Context) (finished bool) {
	defer func() {
		if r := recover(); r != nil {
			metrics.LivenessTickPanicsTotal.Inc()
			t.log.Error().Interface("panic", r).Msg("liveness tick panicked, continuing")
			finished = false
		}
	}()

	cfg := t.monitor.settings.Load()
	video, audio, ok := t.target.IngestTransports(t.cameraID)
	if !ok {
		return true
	}

	if video != "" {
		t.sample(ctx, cfg, sfu.KindVideo, video, &t.state.LastVideoBytes, &t.state.LastVideoAliveAt)
	}
	if audio != "" {
		t.sample(ctx, cfg, sfu.KindAudio, audio, &t.state.LastAudioBytes, &t.state.LastAudioAliveAt)
	}

	now := t.monitor.now()
	for _, kind := range sfu.Kinds {
		if ctx.Err() != nil {
			return true
		}
		silent := now.Sub(t.aliveAt(kind))
		if silent <= cfg.InactiveTimeout || !t.target.HasProducer(t.cameraID, kind) {
			continue
		}
		t.log.Warn().Str("kind", string(kind)).Dur("silent", silent).Msg("track inactive, closing producer")
		if err := t.target.CloseProducer(ctx, t.cameraID, kind, events.ReasonInactive); err != nil {
			t.log.Debug().Err(err).Str("kind", string(kind)).Msg("close producer skipped")
		}
	}

	if ctx.Err() != nil {
		return true
	}
	if t.target.HasProducer(t.cameraID, sfu.KindVideo) || t.target.HasProducer(t.cameraID, sfu.KindAudio) {
		return false
	}
	if now.Sub(t.state.LastVideoAliveAt) <= cfg.RemovalTimeout || now.Sub(t.state.LastAudioAliveAt) <= cfg.RemovalTimeout {
		return false
	}

	t.log.Warn().Msg("removing camera after inactivity")
	if err := t.target.Remove(ctx, t.cameraID, events.ReasonInactive); err != nil {
		// A producer may have started since the check above; keep watching
		// unless the camera is already gone.
		_, _, present := t.target.IngestTransports(t.cameraID)
		t.log.Debug().Err(err).Bool("present", present).Msg("remove skipped")
		return !present
	}
	return true
}

// sample treats a failed or slow fetch as "no new bytes".
func (t *Task) sample(ctx context.Context, cfg Config, kind sfu.Kind, transportID string, lastBytes *uint64, aliveAt *time.Time) {
	sctx, cancel := context.WithTimeout(ctx, cfg.Interval)
	defer cancel()

	st, err := t.monitor.stats.TransportStats(sctx, transportID)
	if err != nil {
		if ctx.Err() == nil {
			metrics.LivenessStatsErrorsTotal.WithLabelValues(string(kind)).Inc()
			t.log.Debug().Err(err).Str("kind", string(kind)).Msg("stats fetch failed")
		}
		return
	}
	if st.BytesReceived > *lastBytes {
		*lastBytes = st.BytesReceived
		*aliveAt = t.monitor.now()
	}
}

func (t *Task) aliveAt(kind sfu.Kind) time.Time {
	if kind == sfu.KindVideo {
		return t.state.LastVideoAliveAt
	}
	return t.state.LastAudioAliveAt
}
