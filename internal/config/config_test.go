package config

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envNames = []string{
	"ANNOUNCED_IP", "WEB_PORT", "LISTEN_IP", "SFU_URL", "SFU_SECRET", "REDIS_ADDR",
	"NATS_URL", "DATABASE_URL", "OPERATOR_SECRET", "LOG_LEVEL", "LOG_FORMAT",
	"LIVENESS_INTERVAL", "INACTIVE_TIMEOUT", "REMOVAL_TIMEOUT",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, n := range envNames {
		t.Setenv(n, "")
	}
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestLoad_DefaultsWhenFileMissing(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Server.WebPort)
	assert.Equal(t, "0.0.0.0", cfg.Server.ListenIP)
	assert.Equal(t, "127.0.0.1", cfg.Server.AnnouncedIP)
	assert.Equal(t, time.Second, cfg.Liveness.Interval)
	assert.Equal(t, time.Second, cfg.Liveness.InactiveTimeout)
	assert.Equal(t, time.Second, cfg.Liveness.RemovalTimeout)
	assert.Equal(t, uint8(96), cfg.Media.Video.PayloadType)
	assert.Equal(t, uint32(111111), cfg.Media.Audio.SSRC)
}

func TestLoad_FileThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "server.yaml")
	writeFile(t, path, `
server:
  web_port: 8080
  announced_ip: 198.51.100.1
liveness:
  interval: 2s
  inactive_timeout: 5s
media:
  video:
    ssrc: 42
`)
	t.Setenv("ANNOUNCED_IP", "203.0.113.9")
	t.Setenv("REMOVAL_TIMEOUT", "1500")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.WebPort)
	assert.Equal(t, "203.0.113.9", cfg.Server.AnnouncedIP)
	assert.Equal(t, 2*time.Second, cfg.Liveness.Interval)
	assert.Equal(t, 5*time.Second, cfg.Liveness.InactiveTimeout)
	assert.Equal(t, 1500*time.Millisecond, cfg.Liveness.RemovalTimeout)
	assert.Equal(t, uint32(42), cfg.Media.Video.SSRC)
	assert.Equal(t, uint8(96), cfg.Media.Video.PayloadType, "unset keys keep defaults")
}

func TestLoad_Rejects(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad.yaml")
	writeFile(t, bad, "server: [")
	_, err := Load(bad)
	assert.Error(t, err)

	t.Setenv("WEB_PORT", "eighty")
	_, err = Load(filepath.Join(dir, "absent.yaml"))
	assert.ErrorContains(t, err, "WEB_PORT")

	t.Setenv("WEB_PORT", "70000")
	_, err = Load(filepath.Join(dir, "absent.yaml"))
	assert.ErrorContains(t, err, "out of range")
}

func TestWatch_AppliesChanges(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "server.yaml")
	writeFile(t, path, "liveness:\n  inactive_timeout: 1s\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var got atomic.Int64
	done := make(chan struct{})
	go func() {
		defer close(done)
		Watch(ctx, path, zerolog.Nop(), func(c *Config) {
			got.Store(int64(c.Liveness.InactiveTimeout))
		})
	}()

	require.Eventually(t, func() bool {
		writeFile(t, path, "liveness:\n  inactive_timeout: 7s\n")
		return time.Duration(got.Load()) == 7*time.Second
	}, 5*time.Second, 200*time.Millisecond)

	cancel()
	<-done
}

func TestPoll_ReloadsOnNewerMtime(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	writeFile(t, path, "{}")
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var n atomic.Int32
	go poll(ctx, path, 10*time.Millisecond, func() { n.Add(1) })

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, n.Load())

	require.NoError(t, os.Chtimes(path, time.Now(), time.Now()))
	require.Eventually(t, func() bool { return n.Load() == 1 }, time.Second, 10*time.Millisecond)
}
