package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration shared by both bridge services.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Logger  LoggerConfig  `yaml:"logger"`
	Tracer  TracerConfig  `yaml:"tracer"`
	Browser BrowserConfig `yaml:"browser"`
	Storage StorageConfig `yaml:"storage"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// AuthToken is the bearer secret required on mutating endpoints.
	// Empty disables the check entirely. Not a secure default; kept for
	// parity with deployments that rely on network-level protection.
	AuthToken string `yaml:"auth_token"`

	RateLimitPerMin int `yaml:"rate_limit_per_min"`
	RateLimitBurst  int `yaml:"rate_limit_burst"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
	Output string `yaml:"output"` // stdout, stderr, or a file path
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // stdout or noop
}

// BrowserConfig selects and tunes the automation backend. The backend is
// resolved exactly once at process start; there is no per-call probing.
type BrowserConfig struct {
	Backend      string        `yaml:"backend"` // chromedp or rod
	Headless     bool          `yaml:"headless"`
	RemoteURL    string        `yaml:"remote_url"` // CDP endpoint; empty launches locally
	SettleDelay  time.Duration `yaml:"settle_delay"`
	NavTimeout   time.Duration `yaml:"nav_timeout"`
	StartURL     string        `yaml:"start_url"` // initial target for interactive sessions
	WindowWidth  int           `yaml:"window_width"`
	WindowHeight int           `yaml:"window_height"`
}

// StorageConfig holds on-disk layout settings. Run records and profiles
// live under DataDir in runs/ and profiles/ respectively.
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

// Defaults returns the baseline configuration.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			RateLimitPerMin: 120,
			RateLimitBurst:  20,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
		Browser: BrowserConfig{
			Backend:      "chromedp",
			Headless:     true,
			SettleDelay:  3 * time.Second,
			NavTimeout:   30 * time.Second,
			StartURL:     "about:blank",
			WindowWidth:  1280,
			WindowHeight: 720,
		},
		Storage: StorageConfig{
			DataDir: "./data",
		},
	}
}

// Load reads the config file at path, falling back to defaults when the
// file does not exist. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	ApplyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides applies environment variables on top of cfg.
// BRIDGE_API_KEY and PORT follow the names the original deployment used.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BRIDGE_API_KEY"); v != "" {
		cfg.Server.AuthToken = v
	}
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Addr = ":" + v
	}
	if v := os.Getenv("BRIDGE_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("BRIDGE_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("BRIDGE_BROWSER_BACKEND"); v != "" {
		cfg.Browser.Backend = v
	}
	if v := os.Getenv("BRIDGE_BROWSER_REMOTE_URL"); v != "" {
		cfg.Browser.RemoteURL = v
	}
	if v := os.Getenv("BRIDGE_BROWSER_HEADLESS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Browser.Headless = b
		}
	}
	if v := os.Getenv("BRIDGE_SETTLE_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Browser.SettleDelay = d
		}
	}
	if v := os.Getenv("BRIDGE_LOG_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("BRIDGE_LOG_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("BRIDGE_TRACE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Tracer.Enabled = b
			if b && cfg.Tracer.Exporter == "noop" {
				cfg.Tracer.Exporter = "stdout"
			}
		}
	}
}

// Validate checks cfg for values the services cannot start with.
func Validate(cfg *Config) error {
	switch strings.ToLower(cfg.Browser.Backend) {
	case "chromedp", "rod":
	default:
		return fmt.Errorf("browser.backend: unknown backend %q (want chromedp or rod)", cfg.Browser.Backend)
	}
	if cfg.Browser.SettleDelay < 0 {
		return fmt.Errorf("browser.settle_delay: must not be negative")
	}
	if cfg.Browser.NavTimeout <= 0 {
		return fmt.Errorf("browser.nav_timeout: must be positive")
	}
	if cfg.Storage.DataDir == "" {
		return fmt.Errorf("storage.data_dir: must not be empty")
	}
	if cfg.Server.Addr == "" {
		return fmt.Errorf("server.addr: must not be empty")
	}
	if cfg.Server.RateLimitPerMin <= 0 || cfg.Server.RateLimitBurst <= 0 {
		return fmt.Errorf("server rate limit: per_min and burst must be positive")
	}
	return nil
}
