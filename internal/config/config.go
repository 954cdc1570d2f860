package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "OFFSYNC_"

// Config represents the global ~/.offsync/config.toml.
type Config struct {
	DefaultAccount string        `toml:"default_account"`
	Sync           SyncConfig    `toml:"sync"`
	API            APIConfig     `toml:"api"`
	Storage        StorageConfig `toml:"storage"`
	Network        NetworkConfig `toml:"network"`
	Metrics        MetricsConfig `toml:"metrics"`
}

// SyncConfig tunes queue draining.
type SyncConfig struct {
	MaxRetries       int      `toml:"max_retries"`
	BaseDelay        Duration `toml:"base_delay"`
	MaxDelay         Duration `toml:"max_delay"`
	JitterFraction   float64  `toml:"jitter_fraction"`
	RequestTimeout   Duration `toml:"request_timeout"`
	PollInterval     Duration `toml:"poll_interval"`
	Cleanup          string   `toml:"cleanup"`
	ConflictFallback string   `toml:"conflict_fallback"`
}

// APIConfig points at the remote REST API.
type APIConfig struct {
	BaseURL string `toml:"base_url"`
	Token   string `toml:"token"`
	// StubSecret signs tokens for the in-process stub API.
	StubSecret string `toml:"stub_secret"`
}

// StorageConfig bounds the local store.
type StorageConfig struct {
	QuotaBytes int64    `toml:"quota_bytes"`
	CacheTTL   Duration `toml:"cache_ttl"`
}

// NetworkConfig selects the connectivity source.
type NetworkConfig struct {
	// StatusFile is watched for connectivity reports. Empty disables it.
	StatusFile   string `toml:"status_file"`
	AssumeOnline bool   `toml:"assume_online"`
}

// MetricsConfig exposes Prometheus metrics when Listen is set.
type MetricsConfig struct {
	Listen string `toml:"listen"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Sync: SyncConfig{
			MaxRetries:       5,
			BaseDelay:        Duration(time.Second),
			MaxDelay:         Duration(30 * time.Second),
			JitterFraction:   0.2,
			RequestTimeout:   Duration(15 * time.Second),
			PollInterval:     Duration(30 * time.Second),
			Cleanup:          "sweep",
			ConflictFallback: "latest-wins",
		},
		API: APIConfig{BaseURL: "http://127.0.0.1:8080"},
		Storage: StorageConfig{
			CacheTTL: Duration(24 * time.Hour),
		},
		Network: NetworkConfig{AssumeOnline: true},
	}
}

// Load reads config from the given path over the defaults. Returns error if
// the file is missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields the defaults.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// LoadDotEnv loads .env files into the process environment. Missing files
// are ignored and variables already set win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overrides cfg with OFFSYNC_* variables found by lookup
// (normally os.LookupEnv).
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	e := envReader{lookup: lookup}
	e.setString("DEFAULT_ACCOUNT", &cfg.DefaultAccount)
	e.setInt("MAX_RETRIES", &cfg.Sync.MaxRetries)
	e.setDuration("BASE_DELAY", &cfg.Sync.BaseDelay)
	e.setDuration("MAX_DELAY", &cfg.Sync.MaxDelay)
	e.setFloat("JITTER_FRACTION", &cfg.Sync.JitterFraction)
	e.setDuration("REQUEST_TIMEOUT", &cfg.Sync.RequestTimeout)
	e.setDuration("POLL_INTERVAL", &cfg.Sync.PollInterval)
	e.setString("CLEANUP", &cfg.Sync.Cleanup)
	e.setString("CONFLICT_FALLBACK", &cfg.Sync.ConflictFallback)
	e.setString("API_BASE_URL", &cfg.API.BaseURL)
	e.setString("API_TOKEN", &cfg.API.Token)
	e.setString("STUB_SECRET", &cfg.API.StubSecret)
	e.setInt64("QUOTA_BYTES", &cfg.Storage.QuotaBytes)
	e.setDuration("CACHE_TTL", &cfg.Storage.CacheTTL)
	e.setString("NETWORK_STATUS_FILE", &cfg.Network.StatusFile)
	e.setBool("ASSUME_ONLINE", &cfg.Network.AssumeOnline)
	e.setString("METRICS_LISTEN", &cfg.Metrics.Listen)
	return errors.Join(e.errs...)
}

type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(EnvPrefix + key)
	return v, ok && v != ""
}

func (e *envReader) fail(key string, err error) {
	e.errs = append(e.errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
}

func (e *envReader) setString(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) setInt(key string, dst *int) {
	if v, ok := e.get(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) setInt64(key string, dst *int64) {
	if v, ok := e.get(key); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) setFloat(key string, dst *float64) {
	if v, ok := e.get(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = f
	}
}

func (e *envReader) setBool(key string, dst *bool) {
	if v, ok := e.get(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = b
	}
}

func (e *envReader) setDuration(key string, dst *Duration) {
	if v, ok := e.get(key); ok {
		if err := dst.UnmarshalText([]byte(v)); err != nil {
			e.fail(key, err)
		}
	}
}
