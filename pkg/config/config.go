// Package config loads the catalog client configuration from a YAML file,
// a .env file and environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/nairobi-verified/marketplace-client/pkg/browse"
	"github.com/nairobi-verified/marketplace-client/pkg/client"
	"github.com/nairobi-verified/marketplace-client/pkg/logging"
	"github.com/nairobi-verified/marketplace-client/pkg/query"
	"github.com/nairobi-verified/marketplace-client/pkg/ratelimit"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
)

// Environment variables that override the file.
const (
	EnvAPIURL        = "NV_API_URL"
	EnvUserAgent     = "NV_USER_AGENT"
	EnvRedisAddr     = "NV_REDIS_ADDR"
	EnvRedisPassword = "NV_REDIS_PASSWORD"
	EnvRedisDB       = "NV_REDIS_DB"
	EnvLogLevel      = "NV_LOG_LEVEL"
	EnvLogPretty     = "NV_LOG_PRETTY"
	EnvLogFile       = "NV_LOG_FILE"
	EnvDebounce      = "NV_DEBOUNCE"
	EnvPageSize      = "NV_PAGE_SIZE"
	EnvPort          = "PORT"
)

// DefaultAPIURL is the backend used when nothing else is configured.
const DefaultAPIURL = "http://localhost:5000/api"

// DefaultUserAgent identifies the CLI to the backend.
const DefaultUserAgent = "nvcatalog/1.0"

// Config holds all configuration.
type Config struct {
	API    APIConfig      `yaml:"api"`
	Redis  RedisConfig    `yaml:"redis"`
	Browse BrowseConfig   `yaml:"browse"`
	Server ServerConfig   `yaml:"server"`
	Log    logging.Config `yaml:"log"`
}

// APIConfig mirrors client.Config.
type APIConfig struct {
	BaseURL            string        `yaml:"base_url"`
	UserAgent          string        `yaml:"user_agent"`
	Timeout            time.Duration `yaml:"timeout"`
	MaxRetries         int           `yaml:"max_retries"`
	InitialBackoff     time.Duration `yaml:"initial_backoff"`
	CacheTTL           time.Duration `yaml:"cache_ttl"`
	MemoryCacheEntries int           `yaml:"memory_cache_entries"`
	ErrorThreshold     int           `yaml:"error_threshold"`
}

// RedisConfig enables the shared cache and rate limit state. An empty Addr
// keeps both in process.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// BrowseConfig tunes the interactive list controller.
type BrowseConfig struct {
	Debounce     time.Duration `yaml:"debounce"`
	PageSize     int           `yaml:"page_size"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
}

// ServerConfig configures the serve command.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Default returns the configuration used when no file or environment is set.
func Default() Config {
	api := client.DefaultConfig(DefaultAPIURL, DefaultUserAgent)
	return Config{
		API: APIConfig{
			BaseURL:            api.BaseURL,
			UserAgent:          api.UserAgent,
			Timeout:            api.Timeout,
			MaxRetries:         api.MaxRetries,
			InitialBackoff:     api.InitialBackoff,
			CacheTTL:           api.CacheTTL,
			MemoryCacheEntries: api.MemoryCacheEntries,
			ErrorThreshold:     api.ErrorThreshold,
		},
		Browse: BrowseConfig{
			Debounce:     browse.DefaultDebounce,
			PageSize:     query.ProductGridPageSize,
			FetchTimeout: 15 * time.Second,
		},
		Server: ServerConfig{
			Port:            8080,
			ShutdownTimeout: 10 * time.Second,
		},
		Log: logging.DefaultConfig(),
	}
}

// LoadDotEnv loads variables from the given .env files. Missing files are
// ignored and variables already set in the environment win.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.API.BaseURL = getEnv(EnvAPIURL, c.API.BaseURL)
	c.API.UserAgent = getEnv(EnvUserAgent, c.API.UserAgent)
	c.Redis.Addr = getEnv(EnvRedisAddr, c.Redis.Addr)
	c.Redis.Password = getEnv(EnvRedisPassword, c.Redis.Password)
	c.Log.Level = logging.LogLevel(getEnv(EnvLogLevel, string(c.Log.Level)))

	if path := os.Getenv(EnvLogFile); path != "" {
		if c.Log.File == nil {
			c.Log.File = &logging.FileConfig{}
		}
		c.Log.File.Path = path
	}

	var err error
	if c.Redis.DB, err = getIntEnv(EnvRedisDB, c.Redis.DB); err != nil {
		return err
	}
	if c.Browse.PageSize, err = getIntEnv(EnvPageSize, c.Browse.PageSize); err != nil {
		return err
	}
	if c.Server.Port, err = getIntEnv(EnvPort, c.Server.Port); err != nil {
		return err
	}
	if v := os.Getenv(EnvLogPretty); v != "" {
		if c.Log.Pretty, err = strconv.ParseBool(v); err != nil {
			return fmt.Errorf("%s: %w", EnvLogPretty, err)
		}
	}
	if v := os.Getenv(EnvDebounce); v != "" {
		if c.Browse.Debounce, err = time.ParseDuration(v); err != nil {
			return fmt.Errorf("%s: %w", EnvDebounce, err)
		}
	}
	return nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("api.base_url must be an absolute http(s) URL (got %q)", c.API.BaseURL)
	}
	if c.API.UserAgent == "" {
		return errors.New("api.user_agent is required")
	}
	if c.API.ErrorThreshold < 1 {
		return fmt.Errorf("api.error_threshold must be >= 1 (got %d)", c.API.ErrorThreshold)
	}
	if c.API.MaxRetries < 0 {
		return fmt.Errorf("api.max_retries must be >= 0 (got %d)", c.API.MaxRetries)
	}
	if c.Browse.PageSize != query.ProductGridPageSize && c.Browse.PageSize != query.BrowserPageSize {
		return fmt.Errorf("browse.page_size must be %d or %d (got %d)",
			query.ProductGridPageSize, query.BrowserPageSize, c.Browse.PageSize)
	}
	if c.Browse.Debounce <= 0 {
		return fmt.Errorf("browse.debounce must be positive (got %s)", c.Browse.Debounce)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535 (got %d)", c.Server.Port)
	}
	return nil
}

// ClientConfig returns the client configuration, connecting to Redis when an
// address is configured.
func (c Config) ClientConfig() client.Config {
	cfg := client.DefaultConfig(c.API.BaseURL, c.API.UserAgent)
	cfg.Redis = c.RedisClient()
	if c.API.Timeout > 0 {
		cfg.Timeout = c.API.Timeout
	}
	cfg.MaxRetries = c.API.MaxRetries
	if c.API.InitialBackoff > 0 {
		cfg.InitialBackoff = c.API.InitialBackoff
	}
	if c.API.CacheTTL > 0 {
		cfg.CacheTTL = c.API.CacheTTL
	}
	if c.API.MemoryCacheEntries > 0 {
		cfg.MemoryCacheEntries = c.API.MemoryCacheEntries
	}
	if c.API.ErrorThreshold > 0 {
		cfg.ErrorThreshold = c.API.ErrorThreshold
	} else {
		cfg.ErrorThreshold = ratelimit.ThresholdCritical
	}
	return cfg
}

// RedisClient returns a client for the configured address, or nil.
func (c Config) RedisClient() *redis.Client {
	if c.Redis.Addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     c.Redis.Addr,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
	})
}

// getEnv returns environment variable value or default
func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// getIntEnv returns environment variable as int or default
func getIntEnv(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return i, nil
}
