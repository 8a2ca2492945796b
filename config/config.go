// Package config loads cqcache settings from YAML and builds a wired
// Interceptor from them.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	ProviderRedis     = "redis"
	ProviderRistretto = "ristretto"
	ProviderBigcache  = "bigcache"
	ProviderTiered    = "tiered"

	BackendNone  = "none"
	BackendLocal = "local"
	BackendRedis = "redis"
	BackendAMQP  = "amqp"
)

// Config is the file representation of a cache stack.
type Config struct {
	Service  string `yaml:"service"`
	Version  string `yaml:"version"`
	Disabled bool   `yaml:"disabled"`

	DefaultTTL          time.Duration `yaml:"default_ttl"`
	LockExpiry          time.Duration `yaml:"lock_expiry"`
	LockWait            time.Duration `yaml:"lock_wait"`
	ReleaseTimeout      time.Duration `yaml:"release_timeout"`
	InvalidationTimeout time.Duration `yaml:"invalidation_timeout"`

	Redis        RedisConfig        `yaml:"redis"`
	AMQP         AMQPConfig         `yaml:"amqp"`
	Provider     ProviderConfig     `yaml:"provider"`
	Lock         string             `yaml:"lock"` // none | local | redis
	Generations  GenerationsConfig  `yaml:"generations"`
	Invalidation InvalidationConfig `yaml:"invalidation"`
	Hooks        HooksConfig        `yaml:"hooks"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	ScanCount int64  `yaml:"scan_count"`
}

type AMQPConfig struct {
	URL string `yaml:"url"`
}

type ProviderConfig struct {
	Kind      string          `yaml:"kind"` // redis | ristretto | bigcache | tiered
	L1        string          `yaml:"l1"`   // tiered only: ristretto | bigcache
	L1TTL     time.Duration   `yaml:"l1_ttl"`
	Ristretto RistrettoConfig `yaml:"ristretto"`
	Bigcache  BigcacheConfig  `yaml:"bigcache"`
	Compress  CompressConfig  `yaml:"compress"`
	Breaker   BreakerConfig   `yaml:"breaker"`
}

type RistrettoConfig struct {
	NumCounters int64 `yaml:"num_counters"`
	MaxCost     int64 `yaml:"max_cost"`
	BufferItems int64 `yaml:"buffer_items"`
}

type BigcacheConfig struct {
	LifeWindow  time.Duration `yaml:"life_window"`
	CleanWindow time.Duration `yaml:"clean_window"`
	MaxSizeMB   int           `yaml:"max_size_mb"`
	Shards      int           `yaml:"shards"`
}

type CompressConfig struct {
	Enabled   bool `yaml:"enabled"`
	Threshold int  `yaml:"threshold"`
	Level     int  `yaml:"level"`
}

// BreakerConfig guards the shared Redis tier.
type BreakerConfig struct {
	Enabled             bool          `yaml:"enabled"`
	ConsecutiveFailures uint32        `yaml:"consecutive_failures"`
	OpenTimeout         time.Duration `yaml:"open_timeout"`
}

type GenerationsConfig struct {
	Backend   string        `yaml:"backend"` // none | local | redis
	Retention time.Duration `yaml:"retention"`
	Interval  time.Duration `yaml:"interval"`
	TTL       time.Duration `yaml:"ttl"`
}

type InvalidationConfig struct {
	Transport string `yaml:"transport"` // none | redis | amqp
	Channel   string `yaml:"channel"`
	// Subscribe applies events from other instances to the in-process tier.
	Subscribe bool `yaml:"subscribe"`
}

type HooksConfig struct {
	Metrics       bool           `yaml:"metrics"`
	Effectiveness bool           `yaml:"effectiveness"`
	Log           LogHooksConfig `yaml:"log"`
	AsyncWorkers  int            `yaml:"async_workers"` // 0 => hooks run inline
	AsyncQueue    int            `yaml:"async_queue"`
}

type LogHooksConfig struct {
	Enabled         bool   `yaml:"enabled"`
	StoreErrorEvery uint64 `yaml:"store_error_every"`
	ContendedEvery  uint64 `yaml:"contended_every"`
	VerbatimKeys    bool   `yaml:"verbatim_keys"`
}

// Default returns the settings used for keys missing from the file.
func Default() *Config {
	return &Config{
		Redis: RedisConfig{Addr: "localhost:6379"},
		Provider: ProviderConfig{
			Kind: ProviderRedis,
			L1:   ProviderRistretto,
			Ristretto: RistrettoConfig{
				NumCounters: 1e5,
				MaxCost:     64 << 20,
				BufferItems: 64,
			},
			Bigcache: BigcacheConfig{LifeWindow: 10 * time.Minute},
		},
		Lock:         BackendLocal,
		Generations:  GenerationsConfig{Backend: BackendNone},
		Invalidation: InvalidationConfig{Transport: BackendNone},
	}
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse expands ${VAR} references, decodes data over Default and validates the result.
// Unset variables are left as written.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal([]byte(expandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func expandEnv(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(m string) string {
		name := strings.TrimSuffix(strings.TrimPrefix(m, "${"), "}")
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return m
	})
}

func (c *Config) Validate() error {
	if c.Service == "" || c.Version == "" {
		return fmt.Errorf("config: service and version are required")
	}
	switch c.Provider.Kind {
	case ProviderRedis, ProviderRistretto, ProviderBigcache:
	case ProviderTiered:
		if c.Provider.L1 != ProviderRistretto && c.Provider.L1 != ProviderBigcache {
			return fmt.Errorf("config: invalid l1 provider %q", c.Provider.L1)
		}
	default:
		return fmt.Errorf("config: invalid provider kind %q", c.Provider.Kind)
	}
	if !oneOf(c.Lock, "", BackendNone, BackendLocal, BackendRedis) {
		return fmt.Errorf("config: invalid lock backend %q", c.Lock)
	}
	if !oneOf(c.Generations.Backend, "", BackendNone, BackendLocal, BackendRedis) {
		return fmt.Errorf("config: invalid generations backend %q", c.Generations.Backend)
	}
	if !oneOf(c.Invalidation.Transport, "", BackendNone, BackendRedis, BackendAMQP) {
		return fmt.Errorf("config: invalid invalidation transport %q", c.Invalidation.Transport)
	}
	if c.Invalidation.Transport == BackendAMQP && c.AMQP.URL == "" {
		return fmt.Errorf("config: amqp.url is required for amqp invalidation")
	}
	if c.Invalidation.Subscribe && !c.hasLocalTier() {
		return fmt.Errorf("config: subscribe needs an in-process provider tier")
	}
	if c.Invalidation.Subscribe && oneOf(c.Invalidation.Transport, "", BackendNone) {
		return fmt.Errorf("config: subscribe needs an invalidation transport")
	}
	return nil
}

func (c *Config) hasLocalTier() bool { return c.Provider.Kind != ProviderRedis }

// needsRedis reports whether any component talks to Redis.
func (c *Config) needsRedis() bool {
	return c.Provider.Kind == ProviderRedis || c.Provider.Kind == ProviderTiered ||
		c.Lock == BackendRedis || c.Generations.Backend == BackendRedis ||
		c.Invalidation.Transport == BackendRedis
}

func oneOf(v string, opts ...string) bool {
	for _, o := range opts {
		if v == o {
			return true
		}
	}
	return false
}
