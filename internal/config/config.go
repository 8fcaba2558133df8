// Package config loads server settings from defaults, an optional yaml
// file, an optional .env file and the environment, in that order.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/pravrilgreen/mediasoup-stream-test/internal/liveness"
	"github.com/pravrilgreen/mediasoup-stream-test/internal/logging"
	"github.com/pravrilgreen/mediasoup-stream-test/internal/ratelimit"
	"github.com/pravrilgreen/mediasoup-stream-test/internal/sfu"
)

const DefaultPath = "config/server.yaml"

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	SFU       SFUConfig       `yaml:"sfu"`
	Media     MediaConfig     `yaml:"media"`
	Liveness  liveness.Config `yaml:"liveness"`
	Log       logging.Config  `yaml:"log"`
	Redis     RedisConfig     `yaml:"redis"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	NATS      NATSConfig      `yaml:"nats"`
	Database  DatabaseConfig  `yaml:"database"`
	Operator  OperatorConfig  `yaml:"operator"`
	Events    EventsConfig    `yaml:"events"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type ServerConfig struct {
	WebPort         int           `yaml:"web_port"`
	ListenIP        string        `yaml:"listen_ip"`
	AnnouncedIP     string        `yaml:"announced_ip"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	TombstoneSize   int           `yaml:"tombstone_size"`
}

type SFUConfig struct {
	URL     string        `yaml:"url"`
	Secret  string        `yaml:"secret"`
	Timeout time.Duration `yaml:"timeout"`
}

type MediaConfig struct {
	Video sfu.VideoParams `yaml:"video"`
	Audio sfu.AudioParams `yaml:"audio"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type RateLimitConfig struct {
	API    ratelimit.LimitConfig `yaml:"api"`
	Viewer ratelimit.LimitConfig `yaml:"viewer"`
	Salt   string                `yaml:"salt"`
}

type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
	MaxRetries    int    `yaml:"max_retries"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type OperatorConfig struct {
	Secret   string        `yaml:"secret"`
	TokenTTL time.Duration `yaml:"token_ttl"`
}

type EventsConfig struct {
	QueueSize int `yaml:"queue_size"`
}

type MetricsConfig struct {
	// PerCamera adds a camera_id labelled viewer gauge.
	PerCamera bool `yaml:"per_camera"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			WebPort:         3000,
			ListenIP:        "0.0.0.0",
			AnnouncedIP:     "127.0.0.1",
			AllowedOrigins:  []string{"*"},
			ShutdownTimeout: 10 * time.Second,
			TombstoneSize:   256,
		},
		SFU: SFUConfig{
			URL:     "http://127.0.0.1:4443",
			Timeout: 5 * time.Second,
		},
		Media: MediaConfig{
			Video: sfu.DefaultVideoParams(),
			Audio: sfu.DefaultAudioParams(),
		},
		Liveness: liveness.DefaultConfig(),
		Log:      logging.Config{Level: "info", Format: "json"},
		RateLimit: RateLimitConfig{
			API:    ratelimit.LimitConfig{Rate: 600, Window: time.Minute},
			Viewer: ratelimit.LimitConfig{Rate: 60, Window: time.Minute},
		},
		NATS:     NATSConfig{SubjectPrefix: "cameras.events", MaxRetries: 3},
		Operator: OperatorConfig{TokenTTL: 12 * time.Hour},
		Events:   EventsConfig{QueueSize: 1024},
	}
}

// Load builds the configuration. A missing yaml file or .env file is not
// an error; a malformed one is.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.Server.AnnouncedIP, "ANNOUNCED_IP")
	setString(&cfg.Server.ListenIP, "LISTEN_IP")
	setString(&cfg.SFU.URL, "SFU_URL")
	setString(&cfg.SFU.Secret, "SFU_SECRET")
	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Database.URL, "DATABASE_URL")
	setString(&cfg.Operator.Secret, "OPERATOR_SECRET")
	setString(&cfg.Log.Level, "LOG_LEVEL")
	setString(&cfg.Log.Format, "LOG_FORMAT")

	if v, ok := lookup("WEB_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("WEB_PORT: %w", err)
		}
		cfg.Server.WebPort = port
	}
	for name, dst := range map[string]*time.Duration{
		"LIVENESS_INTERVAL": &cfg.Liveness.Interval,
		"INACTIVE_TIMEOUT":  &cfg.Liveness.InactiveTimeout,
		"REMOVAL_TIMEOUT":   &cfg.Liveness.RemovalTimeout,
	} {
		if v, ok := lookup(name); ok {
			d, err := parseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			*dst = d
		}
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Server.WebPort <= 0 || c.Server.WebPort > 65535 {
		return fmt.Errorf("server.web_port %d out of range", c.Server.WebPort)
	}
	if _, err := url.ParseRequestURI(c.SFU.URL); err != nil {
		return fmt.Errorf("sfu.url: %w", err)
	}
	if c.Liveness.Interval < 0 || c.Liveness.InactiveTimeout < 0 || c.Liveness.RemovalTimeout < 0 {
		return errors.New("liveness durations must not be negative")
	}
	return nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.WebPort)
}

func lookup(name string) (string, bool) {
	v, ok := os.LookupEnv(name)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func setString(dst *string, name string) {
	if v, ok := lookup(name); ok {
		*dst = v
	}
}

// parseDuration also takes a bare number of milliseconds.
func parseDuration(v string) (time.Duration, error) {
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(v)
}
