// Package config loads the transport pool's configuration from YAML with
// environment-variable overrides, the same layering ocx/backend's own
// config package uses.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v2"
)

// Config is the root configuration for a transportd process.
type Config struct {
	Pool  PoolConfig  `yaml:"pool"`
	Redis RedisConfig `yaml:"redis"`
	Admin AdminConfig `yaml:"admin"`
}

// PoolConfig configures the worker pool and its default tuning values.
// WorkerCount of 1 selects the facade's single-thread mode.
type PoolConfig struct {
	WorkerCount       int           `yaml:"worker_count"`
	IOCTimeout        time.Duration `yaml:"ioc_timeout"`
	MaxInputBufferSz  int           `yaml:"max_input_buffer_bytes"`
	MaxOutputBufferSz int           `yaml:"max_output_buffer_bytes"`
	DirectWrite       bool          `yaml:"direct_write"`
	TCPNoDelay        bool          `yaml:"tcp_no_delay"`
	LogStats          bool          `yaml:"log_stats"`
}

// RedisConfig configures the optional resolver cache. Addr == "" disables
// caching; the resolver then hits the network on every request.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	DB           int           `yaml:"db"`
	ResolveCache time.Duration `yaml:"resolve_cache_ttl"`
}

// AdminConfig configures the cmd/transportd HTTP admin surface.
type AdminConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

func defaults() Config {
	return Config{
		Pool: PoolConfig{
			WorkerCount:       4,
			IOCTimeout:        30 * time.Second,
			MaxInputBufferSz:  1 << 20,
			MaxOutputBufferSz: 1 << 20,
			DirectWrite:       false,
			TCPNoDelay:        true,
			LogStats:          false,
		},
		Redis: RedisConfig{
			Addr:         "",
			DB:           0,
			ResolveCache: 5 * time.Minute,
		},
		Admin: AdminConfig{
			ListenAddr: ":8090",
		},
	}
}

var (
	instance *Config
	once     sync.Once
)

// Get returns the process-wide singleton config, loaded from CONFIG_PATH
// (default "config.yaml") on first call. A missing or unreadable file is
// not fatal: defaults apply and env overrides still run.
func Get() *Config {
	once.Do(func() {
		cfg, err := LoadConfig(getEnv("CONFIG_PATH", "config.yaml"))
		if err != nil {
			slog.Warn("config: failed to load config file, using defaults", "error", err)
			d := defaults()
			cfg = &d
		}
		cfg.applyEnvOverrides()
		instance = cfg
	})
	return instance
}

// LoadConfig reads and decodes path, starting from defaults so a partial
// YAML file only overrides the fields it sets.
func LoadConfig(path string) (*Config, error) {
	cfg := defaults()

	f, err := os.Open(path)
	if err != nil {
		return &cfg, err
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return &cfg, err
	}
	return &cfg, nil
}

func (c *Config) applyEnvOverrides() {
	c.Pool.WorkerCount = getEnvInt("TRANSPORT_WORKER_COUNT", c.Pool.WorkerCount)
	c.Pool.DirectWrite = getEnvBool("TRANSPORT_DIRECT_WRITE", c.Pool.DirectWrite)
	c.Pool.TCPNoDelay = getEnvBool("TRANSPORT_TCP_NO_DELAY", c.Pool.TCPNoDelay)
	c.Pool.LogStats = getEnvBool("TRANSPORT_LOG_STATS", c.Pool.LogStats)

	c.Redis.Addr = getEnv("TRANSPORT_REDIS_ADDR", c.Redis.Addr)
	if v := getEnvInt("TRANSPORT_REDIS_DB", -1); v >= 0 {
		c.Redis.DB = v
	}

	c.Admin.ListenAddr = getEnv("TRANSPORT_ADMIN_ADDR", c.Admin.ListenAddr)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return val == "true" || val == "1"
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}
