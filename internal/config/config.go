// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/giftlists/internal/giftlist"
	"github.com/JakeFAU/giftlists/internal/logging"
)

// Cache backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server       ServerConfig      `mapstructure:"server"`
	Logging      logging.Config    `mapstructure:"logging"`
	Scraper      ScraperConfig     `mapstructure:"scraper"`
	Cache        CacheConfig       `mapstructure:"cache"`
	Output       OutputConfig      `mapstructure:"output"`
	Registry     giftlist.Registry `mapstructure:"registry"`
	RegistryFile string            `mapstructure:"registry_file"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	CORSOrigins    []string `mapstructure:"cors_origins"`
	TimeoutSeconds int      `mapstructure:"timeout_seconds"`
}

// ScraperConfig governs fetching and the worker pool.
type ScraperConfig struct {
	BaseURL        string  `mapstructure:"base_url"`
	Workers        int     `mapstructure:"workers"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	UserAgent      string  `mapstructure:"user_agent"`
	RatePerSecond  float64 `mapstructure:"rate_per_second"`
	Burst          int     `mapstructure:"burst"`
}

// CacheConfig selects and tunes the HTTP response cache.
type CacheConfig struct {
	Backend        string `mapstructure:"backend"`
	Name           string `mapstructure:"name"`
	ExpireSeconds  int    `mapstructure:"expire_seconds"`
	AllowableCodes []int  `mapstructure:"allowable_codes"`
	MaxEntries     int    `mapstructure:"max_entries"`
	DSN            string `mapstructure:"dsn"`
	Table          string `mapstructure:"table"`
	StaleIfError   bool   `mapstructure:"stale_if_error"`
	StaleSeconds   int    `mapstructure:"stale_max_age_seconds"`
}

// OutputConfig sets where the aggregated document is written.
type OutputConfig struct {
	Path string `mapstructure:"path"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("GIFTLISTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.RegistryFile != "" {
		reg, err := giftlist.LoadRegistry(cfg.RegistryFile)
		if err != nil {
			return Config{}, fmt.Errorf("load registry: %w", err)
		}
		cfg.Registry = reg
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.timeout_seconds", 120)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("scraper.base_url", "https://choisiroffrir.com")
	v.SetDefault("scraper.workers", 5)
	v.SetDefault("scraper.timeout_seconds", 10)
	v.SetDefault("scraper.user_agent", "Mozilla/5.0")
	v.SetDefault("scraper.rate_per_second", 0)
	v.SetDefault("scraper.burst", 1)
	v.SetDefault("cache.backend", BackendSQLite)
	v.SetDefault("cache.name", "choisir_offrir_cache")
	v.SetDefault("cache.expire_seconds", 3600)
	v.SetDefault("cache.allowable_codes", []int{200, 404})
	v.SetDefault("cache.max_entries", 1024)
	v.SetDefault("cache.dsn", "")
	v.SetDefault("cache.table", "http_cache")
	v.SetDefault("cache.stale_if_error", true)
	v.SetDefault("cache.stale_max_age_seconds", 30*24*3600)
	v.SetDefault("output.path", "data/listes_choisir_offrir.json")
	v.SetDefault("registry_file", "")

	owners := giftlist.DefaultRegistry()
	registry := make([]map[string]any, 0, len(owners))
	for _, o := range owners {
		registry = append(registry, map[string]any{"owner": o.Name, "id": o.ID})
	}
	v.SetDefault("registry", registry)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return errors.New("server.port must be > 0")
	}
	if c.Server.TimeoutSeconds <= 0 {
		return errors.New("server.timeout_seconds must be > 0")
	}
	base, err := url.Parse(c.Scraper.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return fmt.Errorf("scraper.base_url must be an absolute URL, got %q", c.Scraper.BaseURL)
	}
	if c.Scraper.Workers <= 0 {
		return errors.New("scraper.workers must be > 0")
	}
	if c.Scraper.TimeoutSeconds <= 0 {
		return errors.New("scraper.timeout_seconds must be > 0")
	}
	if c.Scraper.RatePerSecond < 0 {
		return errors.New("scraper.rate_per_second must be >= 0")
	}
	if c.Cache.ExpireSeconds <= 0 {
		return errors.New("cache.expire_seconds must be > 0")
	}
	if c.Cache.StaleIfError && c.Cache.StaleSeconds <= 0 {
		return errors.New("cache.stale_max_age_seconds must be > 0 when cache.stale_if_error is set")
	}
	switch c.Cache.Backend {
	case BackendMemory:
		if c.Cache.MaxEntries <= 0 {
			return errors.New("cache.max_entries must be > 0 for the memory backend")
		}
	case BackendSQLite:
		if strings.TrimSpace(c.Cache.Name) == "" {
			return errors.New("cache.name is required for the sqlite backend")
		}
	case BackendPostgres:
		if c.Cache.DSN == "" {
			return errors.New("cache.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("cache.backend must be one of memory, sqlite, postgres; got %q", c.Cache.Backend)
	}
	if strings.TrimSpace(c.Output.Path) == "" {
		return errors.New("output.path is required")
	}
	if err := c.Registry.Validate(); err != nil {
		return fmt.Errorf("registry: %w", err)
	}
	return nil
}

// FetchTimeout is the per-request timeout for list pages.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Scraper.TimeoutSeconds) * time.Second
}

// CacheTTL is how long a cached response stays fresh.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.ExpireSeconds) * time.Second
}

// CacheMaxStale is how long an expired response may still be replayed when
// the site is unreachable. Zero when stale-if-error is off.
func (c Config) CacheMaxStale() time.Duration {
	if !c.Cache.StaleIfError {
		return 0
	}
	return time.Duration(c.Cache.StaleSeconds) * time.Second
}

// CacheRetention is how long a store keeps an entry: freshness plus the
// stale window.
func (c Config) CacheRetention() time.Duration {
	return c.CacheTTL() + c.CacheMaxStale()
}

// RequestTimeout bounds one HTTP request to the service.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.TimeoutSeconds) * time.Second
}
