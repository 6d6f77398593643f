package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	General GeneralConfig `toml:"general"`
	API     APIConfig     `toml:"api"`
	Poll    PollConfig    `toml:"poll"`
	Cache   CacheConfig   `toml:"cache"`
	Notify  NotifyConfig  `toml:"notify"`
	History HistoryConfig `toml:"history"`
	Metrics MetricsConfig `toml:"metrics"`
	Logging LoggingConfig `toml:"logging"`
}

type GeneralConfig struct {
	DataDir string `toml:"data_dir"`
}

// APIConfig points at the pipeline manager.
type APIConfig struct {
	BaseURL  string        `toml:"base_url"`
	Timeout  string        `toml:"timeout"`
	APIKey   string        `toml:"api_key"`
	TimeoutD time.Duration `toml:"-"`
}

type PollConfig struct {
	ListInterval     string        `toml:"list_interval"`
	MetricsInterval  string        `toml:"metrics_interval"`
	ListIntervalD    time.Duration `toml:"-"`
	MetricsIntervalD time.Duration `toml:"-"`
}

type CacheConfig struct {
	StaleTime  string        `toml:"stale_time"`
	MaxEntries int           `toml:"max_entries"`
	StaleTimeD time.Duration `toml:"-"`
}

// NotifyConfig throttles repeated poll failure warnings: at most Burst
// identical messages, refilled at Rate per second. Action failures are not
// throttled.
type NotifyConfig struct {
	Rate  int `toml:"rate"`
	Burst int `toml:"burst"`
}

type HistoryConfig struct {
	Enabled bool   `toml:"enabled"`
	DBPath  string `toml:"db_path"`
}

type MetricsConfig struct {
	ListenAddr string `toml:"listen_addr"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	File   string `toml:"file"`
}

func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".pcon")

	return &Config{
		General: GeneralConfig{
			DataDir: dataDir,
		},
		API: APIConfig{
			BaseURL:  "http://localhost:8080",
			Timeout:  "30s",
			TimeoutD: 30 * time.Second,
		},
		Poll: PollConfig{
			ListInterval:     "2s",
			MetricsInterval:  "1s",
			ListIntervalD:    2 * time.Second,
			MetricsIntervalD: time.Second,
		},
		Cache: CacheConfig{
			StaleTime:  "0s",
			MaxEntries: 1024,
		},
		Notify: NotifyConfig{
			Rate:  1,
			Burst: 3,
		},
		History: HistoryConfig{
			Enabled: true,
			DBPath:  filepath.Join(dataDir, "history.db"),
		},
		Metrics: MetricsConfig{
			ListenAddr: "127.0.0.1:9464",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			File:   "",
		},
	}
}

func LoadFromFile(path string) (*Config, error) {
	expandedPath, err := expandPath(path)
	if err != nil {
		return nil, fmt.Errorf("expand path: %w", err)
	}

	data, err := os.ReadFile(expandedPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("decode TOML: %w", err)
	}

	if err := cfg.postProcess(); err != nil {
		return nil, fmt.Errorf("post process config: %w", err)
	}

	return cfg, nil
}

func (c *Config) postProcess() error {
	var err error

	if c.API.TimeoutD, err = time.ParseDuration(c.API.Timeout); err != nil {
		return fmt.Errorf("parse api.timeout: %w", err)
	}

	if c.Poll.ListIntervalD, err = time.ParseDuration(c.Poll.ListInterval); err != nil {
		return fmt.Errorf("parse poll.list_interval: %w", err)
	}

	if c.Poll.MetricsIntervalD, err = time.ParseDuration(c.Poll.MetricsInterval); err != nil {
		return fmt.Errorf("parse poll.metrics_interval: %w", err)
	}

	if c.Cache.StaleTimeD, err = time.ParseDuration(c.Cache.StaleTime); err != nil {
		return fmt.Errorf("parse cache.stale_time: %w", err)
	}

	c.General.DataDir, err = expandPath(c.General.DataDir)
	if err != nil {
		return fmt.Errorf("expand general.data_dir: %w", err)
	}

	c.History.DBPath, err = expandPath(c.History.DBPath)
	if err != nil {
		return fmt.Errorf("expand history.db_path: %w", err)
	}

	c.Logging.File, err = expandPath(c.Logging.File)
	if err != nil {
		return fmt.Errorf("expand logging.file: %w", err)
	}

	c.API.BaseURL = strings.TrimRight(c.API.BaseURL, "/")

	return nil
}

func (c *Config) Validate() error {
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("api.base_url must be an http(s) URL, got %q", c.API.BaseURL)
	}

	if c.API.TimeoutD <= 0 {
		return fmt.Errorf("api.timeout must be positive, got %s", c.API.Timeout)
	}

	if c.Poll.ListIntervalD < 100*time.Millisecond {
		return fmt.Errorf("poll.list_interval must be at least 100ms, got %s", c.Poll.ListInterval)
	}

	if c.Poll.MetricsIntervalD < 100*time.Millisecond {
		return fmt.Errorf("poll.metrics_interval must be at least 100ms, got %s", c.Poll.MetricsInterval)
	}

	if c.Cache.StaleTimeD < 0 {
		return fmt.Errorf("cache.stale_time cannot be negative, got %s", c.Cache.StaleTime)
	}

	if c.Cache.MaxEntries < 0 {
		return fmt.Errorf("cache.max_entries cannot be negative, got %d", c.Cache.MaxEntries)
	}

	if c.Notify.Rate < 1 || c.Notify.Burst < 1 {
		return fmt.Errorf("notify.rate and notify.burst must be at least 1, got %d and %d", c.Notify.Rate, c.Notify.Burst)
	}

	if c.History.Enabled && c.History.DBPath == "" {
		return fmt.Errorf("history.db_path is required when history is enabled")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid logging level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		return fmt.Errorf("invalid logging format: %s (valid: json, text)", c.Logging.Format)
	}

	return nil
}

func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PCON_DATA_DIR"); v != "" {
		cfg.General.DataDir = v
	}
	if v := os.Getenv("PCON_API_URL"); v != "" {
		cfg.API.BaseURL = v
	}
	if v := os.Getenv("PCON_API_KEY"); v != "" {
		cfg.API.APIKey = v
	}
	if v := os.Getenv("PCON_API_TIMEOUT"); v != "" {
		cfg.API.Timeout = v
	}
	if v := os.Getenv("PCON_POLL_INTERVAL"); v != "" {
		cfg.Poll.ListInterval = v
	}
	if v := os.Getenv("PCON_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("PCON_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("PCON_HISTORY_ENABLED"); v != "" {
		cfg.History.Enabled = parseBool(v)
	}
	if v := os.Getenv("PCON_HISTORY_DB"); v != "" {
		cfg.History.DBPath = v
	}
	if v := os.Getenv("PCON_METRICS_ADDR"); v != "" {
		cfg.Metrics.ListenAddr = v
	}
}

func parseBool(v string) bool {
	b, err := strconv.ParseBool(strings.ToLower(v))
	return err == nil && b
}

func expandPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}

	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("get user home directory: %w", err)
		}
		return filepath.Join(homeDir, path[2:]), nil
	}

	return path, nil
}

// Load reads configPath when set, otherwise starts from Default, then
// applies PCON_* environment overrides and validates.
func Load(configPath string) (*Config, error) {
	var cfg *Config
	var err error

	if configPath != "" {
		cfg, err = LoadFromFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", configPath, err)
		}
	} else {
		cfg = Default()
	}

	ApplyEnvOverrides(cfg)

	if err := cfg.postProcess(); err != nil {
		return nil, fmt.Errorf("post process config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}
