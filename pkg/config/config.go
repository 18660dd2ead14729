package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultDataDir is where the daemon keeps its state table, logs and fifos
	DefaultDataDir = "/var/lib/hutch"

	// DefaultVolumesDir is the base directory for workload volumes
	DefaultVolumesDir = "/var/lib/hutch/volumes"
)

// Config holds the full daemon configuration
type Config struct {
	Listen           string        `yaml:"listen"`
	DataDir          string        `yaml:"data_dir"`
	VolumesDir       string        `yaml:"volumes_dir"`
	ContainerdSocket string        `yaml:"containerd_socket"`
	Namespace        string        `yaml:"namespace"`
	AuthToken        string        `yaml:"auth_token"`
	TelemetrySecret  string        `yaml:"telemetry_secret"`
	StatsInterval    time.Duration `yaml:"stats_interval"`
	StopTimeout      time.Duration `yaml:"stop_timeout"`

	Dashboard Dashboard `yaml:"dashboard"`
	Log       Log       `yaml:"log"`
}

// Dashboard configures the periodic health/metrics push
type Dashboard struct {
	URL      string        `yaml:"url"`
	Token    string        `yaml:"token"`
	Interval time.Duration `yaml:"interval"`
}

// Log configures the zerolog output
type Log struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns a config with every field set to its default value
func Default() *Config {
	return &Config{
		Listen:           ":8090",
		DataDir:          DefaultDataDir,
		VolumesDir:       DefaultVolumesDir,
		ContainerdSocket: "/run/containerd/containerd.sock",
		Namespace:        "hutch",
		StatsInterval:    3 * time.Second,
		StopTimeout:      10 * time.Second,
		Dashboard: Dashboard{
			Interval: 60 * time.Second,
		},
		Log: Log{Level: "info"},
	}
}

// Load reads the YAML config file at path on top of the defaults. A missing
// file is not an error; the defaults are returned. A .env file in the
// working directory is loaded first so ${HUTCH_*} overrides are visible.
func Load(path string) (*Config, error) {
	// Best effort; absence of a .env file is normal.
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				cfg.applyEnv()
				return cfg, nil
			}
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv overlays HUTCH_* environment variables on the loaded values
func (c *Config) applyEnv() {
	if v := os.Getenv("HUTCH_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("HUTCH_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("HUTCH_VOLUMES_DIR"); v != "" {
		c.VolumesDir = v
	}
	if v := os.Getenv("HUTCH_CONTAINERD_SOCKET"); v != "" {
		c.ContainerdSocket = v
	}
	if v := os.Getenv("HUTCH_AUTH_TOKEN"); v != "" {
		c.AuthToken = v
	}
	if v := os.Getenv("HUTCH_TELEMETRY_SECRET"); v != "" {
		c.TelemetrySecret = v
	}
	if v := os.Getenv("HUTCH_DASHBOARD_URL"); v != "" {
		c.Dashboard.URL = v
	}
	if v := os.Getenv("HUTCH_DASHBOARD_TOKEN"); v != "" {
		c.Dashboard.Token = v
	}
	if v := os.Getenv("HUTCH_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// Validate checks invariants the daemon cannot start without
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.AuthToken == "" {
		return fmt.Errorf("auth_token is required")
	}
	if c.TelemetrySecret == "" {
		return fmt.Errorf("telemetry_secret is required")
	}
	if c.StatsInterval < 2*time.Second || c.StatsInterval > 5*time.Second {
		return fmt.Errorf("stats_interval must be between 2s and 5s, got %s", c.StatsInterval)
	}
	return nil
}
