package config

import (
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config holds everything the viewer and the dev remote need. Values come
// from Default, then an optional YAML file, then the environment, then
// command-line flags.
type Config struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`

	SocketPath       string `yaml:"socket_path"`
	StreamNamespace  string `yaml:"stream_namespace"`
	ControlNamespace string `yaml:"control_namespace"`

	ReconnectAttempts int           `yaml:"reconnect_attempts"`
	HandshakeTimeout  time.Duration `yaml:"handshake_timeout"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
	ReconnectDelayMax time.Duration `yaml:"reconnect_delay_max"`

	HealthInterval      time.Duration `yaml:"health_interval"`
	TickInterval        time.Duration `yaml:"tick_interval"`
	MoveInterval        time.Duration `yaml:"move_interval"`
	RejectToastInterval time.Duration `yaml:"reject_toast_interval"`
	StallAfter          time.Duration `yaml:"stall_after"`

	LogLevel    string `yaml:"log_level"`
	MetricsAddr string `yaml:"metrics_addr"`

	Remote Remote `yaml:"remote"`
}

// Remote configures the dev remote served by `streamviewer serve` and host/.
type Remote struct {
	Addr              string        `yaml:"addr"`
	AuthRequired      bool          `yaml:"auth_required"`
	Mode              string        `yaml:"mode"`
	FPS               int           `yaml:"fps"`
	Quality           int           `yaml:"quality"`
	Display           int           `yaml:"display"`
	SampleEvery       int           `yaml:"sample_every"`
	NonceTTL          time.Duration `yaml:"nonce_ttl"`
	NonceUses         int           `yaml:"nonce_uses"`
	EventsPerMinute   int           `yaml:"events_per_minute"`
	ConnectsPerMinute int           `yaml:"connects_per_minute"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		BaseURL:             "http://127.0.0.1:8080",
		SocketPath:          "/socket.io/",
		StreamNamespace:     "/stream",
		ControlNamespace:    "/ctrl",
		ReconnectAttempts:   10,
		HandshakeTimeout:    5 * time.Second,
		ReconnectDelay:      time.Second,
		ReconnectDelayMax:   5 * time.Second,
		HealthInterval:      time.Second,
		TickInterval:        16 * time.Millisecond,
		MoveInterval:        50 * time.Millisecond,
		RejectToastInterval: 2 * time.Second,
		StallAfter:          3 * time.Second,
		LogLevel:            "info",
		Remote: Remote{
			Addr:              ":8080",
			Mode:              "cdp",
			FPS:               10,
			Quality:           80,
			SampleEvery:       10,
			NonceTTL:          60 * time.Second,
			NonceUses:         4,
			EventsPerMinute:   120,
			ConnectsPerMinute: 30,
		},
	}
}

// Load reads path (if non-empty) over the defaults and applies environment
// overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, errors.Wrap(err, "read config")
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, errors.Wrapf(err, "parse %s", path)
		}
	}
	cfg.applyEnv()
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() {
	c.BaseURL = getEnv("STREAMVIEWER_BASE_URL", c.BaseURL)
	c.APIKey = getEnv("STREAMING_API_KEY", c.APIKey)
	c.LogLevel = getEnv("STREAMVIEWER_LOG_LEVEL", c.LogLevel)
	c.MetricsAddr = getEnv("STREAMVIEWER_METRICS_ADDR", c.MetricsAddr)
	c.ReconnectAttempts = envInt("STREAMVIEWER_RECONNECT_ATTEMPTS", c.ReconnectAttempts)

	c.Remote.Addr = getEnv("ADDR", c.Remote.Addr)
	c.Remote.AuthRequired = getEnvBool("STREAMING_AUTH_REQUIRED", c.Remote.AuthRequired)
	c.Remote.Mode = getEnv("STREAMING_MODE", c.Remote.Mode)
	c.Remote.FPS = envInt("FPS", c.Remote.FPS)
	c.Remote.Quality = envInt("QUALITY", c.Remote.Quality)
	c.Remote.Display = envInt("DISPLAY_INDEX", c.Remote.Display)
	c.Remote.NonceUses = envInt("STREAMING_NONCE_USES", c.Remote.NonceUses)
	c.Remote.EventsPerMinute = envInt("STREAMING_RATE_LIMIT_EVENTS_PER_MINUTE", c.Remote.EventsPerMinute)
	if v := envInt("STREAMING_NONCE_TTL_SECONDS", 0); v > 0 {
		c.Remote.NonceTTL = time.Duration(v) * time.Second
	}
}

// Validate rejects values the session cannot run with.
func (c Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return errors.Wrap(err, "base_url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.Errorf("base_url: unsupported scheme %q", u.Scheme)
	}
	if !strings.HasPrefix(c.StreamNamespace, "/") || !strings.HasPrefix(c.ControlNamespace, "/") {
		return errors.New("namespaces must start with /")
	}
	if c.ReconnectAttempts < 1 {
		return errors.New("reconnect_attempts must be at least 1")
	}
	if c.HandshakeTimeout <= 0 || c.HealthInterval <= 0 || c.TickInterval <= 0 {
		return errors.New("timeouts and intervals must be positive")
	}
	switch c.Remote.Mode {
	case "cdp", "screenshot":
	default:
		return errors.Errorf("remote.mode: unknown streaming mode %q", c.Remote.Mode)
	}
	return nil
}

func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getEnvBool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		v = strings.ToLower(strings.TrimSpace(v))
		return v == "1" || v == "true" || v == "yes" || v == "on"
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}
