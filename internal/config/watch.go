package config

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const (
	settleDelay  = 100 * time.Millisecond
	pollInterval = 30 * time.Second
)

// Watch reloads the file at path whenever it changes and hands every
// successfully loaded config to apply. A reload that fails keeps the
// previous config. When fsnotify is unavailable the file's mtime is polled
// instead. Watch blocks until ctx is done.
func Watch(ctx context.Context, path string, log zerolog.Logger, apply func(*Config)) {
	log = log.With().Str("component", "config").Str("path", path).Logger()

	reload := func() {
		cfg, err := Load(path)
		if err != nil {
			log.Warn().Err(err).Msg("config reload failed, keeping previous")
			return
		}
		log.Info().Msg("config reloaded")
		apply(cfg)
	}

	w, err := fsnotify.NewWatcher()
	if err == nil {
		// Editors often replace the file, so watch its directory.
		if err = w.Add(filepath.Dir(path)); err != nil {
			w.Close()
		}
	}
	if err != nil {
		log.Warn().Err(err).Msg("fsnotify unavailable, polling")
		poll(ctx, path, pollInterval, reload)
		return
	}
	defer w.Close()

	name := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != name || !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			// Let the writer finish.
			select {
			case <-ctx.Done():
				return
			case <-time.After(settleDelay):
			}
			drain(w.Events)
			reload()
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("watch error")
		}
	}
}

func drain(ch <-chan fsnotify.Event) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

func poll(ctx context.Context, path string, every time.Duration, reload func()) {
	var last time.Time
	if st, err := os.Stat(path); err == nil {
		last = st.ModTime()
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			st, err := os.Stat(path)
			if err != nil || !st.ModTime().After(last) {
				continue
			}
			last = st.ModTime()
			reload()
		}
	}
}
