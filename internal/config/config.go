package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// DefaultPath is used when SCANWATCH_CONFIG is unset.
const DefaultPath = "config/scanwatch.yaml"

// Config is the top-level configuration for the scanwatch binaries.
type Config struct {
	API     API     `yaml:"api"`
	Live    Live    `yaml:"live"`
	Server  Server  `yaml:"server"`
	Storage Storage `yaml:"storage"`
	Alpaca  Alpaca  `yaml:"alpaca"`
	Logging Logging `yaml:"logging"`
	Retry   Retry   `yaml:"retry"`
}

// API holds the scanner backend endpoint and identity.
type API struct {
	BaseURL         string        `yaml:"base_url"`
	Token           string        `yaml:"token"`
	UserID          string        `yaml:"user_id"`
	Timeout         time.Duration `yaml:"timeout"`
	RateLimitPerMin int           `yaml:"rate_limit_per_min"`
	Burst           int           `yaml:"burst"`
}

// Live bounds the reconnect backoff of the update channel.
type Live struct {
	MinBackoff time.Duration `yaml:"min_backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// Server holds network listener configuration of the relay.
type Server struct {
	HTTPAddr string `yaml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr"`
}

// Storage holds paths for the snapshot archive and exports.
type Storage struct {
	ArchivePath   string `yaml:"archive_path"`
	ExportDir     string `yaml:"export_dir"`
	KeepSnapshots int    `yaml:"keep_snapshots"`
}

// Alpaca holds credentials for the optional watchlist mirror.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
	Watchlist string `yaml:"watchlist"`
}

// Enabled reports whether credentials are present.
func (a Alpaca) Enabled() bool { return a.APIKey != "" && a.APISecret != "" }

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Retry bounds read retries against the backend.
type Retry struct {
	Attempts int           `yaml:"attempts"`
	Delay    time.Duration `yaml:"delay"`
}

// Default returns the configuration used for unset fields.
func Default() *Config {
	return &Config{
		API: API{
			Timeout: 30 * time.Second,
		},
		Live: Live{
			MinBackoff: time.Second,
			MaxBackoff: 30 * time.Second,
		},
		Server: Server{
			HTTPAddr: ":8090",
			GRPCAddr: ":9090",
		},
		Storage: Storage{
			ArchivePath:   "data/scanwatch.db",
			ExportDir:     "data/exports",
			KeepSnapshots: 500,
		},
		Alpaca: Alpaca{
			Watchlist: "scanwatch",
		},
		Logging: Logging{
			Level:  "info",
			Format: "json",
		},
		Retry: Retry{
			Attempts: 3,
			Delay:    500 * time.Millisecond,
		},
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Path returns the config path from SCANWATCH_CONFIG or DefaultPath.
func Path() string {
	if p := os.Getenv("SCANWATCH_CONFIG"); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads the YAML configuration file at the given path over the
// defaults, then applies environment variable overrides. A missing file is
// not an error; the defaults and environment are used alone.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// Validate reports missing required settings.
func (c *Config) Validate() error {
	var errs []error
	if c.API.BaseURL == "" {
		errs = append(errs, errors.New("api.base_url is required (or SCANWATCH_API_URL)"))
	}
	if c.Retry.Attempts < 1 {
		errs = append(errs, fmt.Errorf("retry.attempts must be at least 1, got %d", c.Retry.Attempts))
	}
	if c.Live.MinBackoff <= 0 || c.Live.MaxBackoff < c.Live.MinBackoff {
		errs = append(errs, fmt.Errorf("live backoff bounds invalid: min %s, max %s", c.Live.MinBackoff, c.Live.MaxBackoff))
	}
	return errors.Join(errs...)
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SCANWATCH_API_URL"); v != "" {
		cfg.API.BaseURL = v
	}
	if v := os.Getenv("SCANWATCH_API_TOKEN"); v != "" {
		cfg.API.Token = v
	}
	if v := os.Getenv("SCANWATCH_USER_ID"); v != "" {
		cfg.API.UserID = v
	}

	if v := os.Getenv("SCANWATCH_HTTP_ADDR"); v != "" {
		cfg.Server.HTTPAddr = v
	}
	if v := os.Getenv("SCANWATCH_GRPC_ADDR"); v != "" {
		cfg.Server.GRPCAddr = v
	}

	if v := os.Getenv("SCANWATCH_ARCHIVE_PATH"); v != "" {
		cfg.Storage.ArchivePath = v
	}
	if v := os.Getenv("SCANWATCH_KEEP_SNAPSHOTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Storage.KeepSnapshots = n
		}
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	// Standard Alpaca env vars (canonical names used by the SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	if v := os.Getenv("APCA_API_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}
}
