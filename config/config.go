package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"price-aggregator/cache"
	"price-aggregator/models"
)

// Registry backends.
const (
	BackendNone     = "none"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// DotEnvLoaded is false when no .env file was read and only the process
	// environment applies.
	DotEnvLoaded bool

	HTTPAddr string

	CacheTTL           time.Duration
	CacheMaxEntries    int
	CacheMaxMemoryMB   int
	CacheSweepInterval time.Duration

	ConnectorTimeout time.Duration
	BatchMaxItems    int
	BatchConcurrency int
	SingleFlight     bool

	MaxRetries       int
	RateLimitMs      int
	ChromeBin        string
	SkinportFallback bool

	LogLevel      string
	LogFormat     string
	LogOutput     string
	LogMaxAgeDays int

	MarketplacesFile string
	Marketplaces     []models.Marketplace

	RegistryBackend string

	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	RedisRegistryKey string
}

// Load reads the .env file, then the environment, then the optional
// marketplaces file, and validates the result.
func Load() (*Config, error) {
	dotEnvErr := godotenv.Load()

	cfg := &Config{
		DotEnvLoaded: dotEnvErr == nil,

		HTTPAddr: getEnv("HTTP_ADDR", ":3000"),

		CacheTTL:           getEnvDuration("CACHE_TTL", 60*time.Second),
		CacheMaxEntries:    getEnvInt("CACHE_MAX_ENTRIES", 1000),
		CacheMaxMemoryMB:   getEnvInt("CACHE_MAX_MEMORY_MB", 10),
		CacheSweepInterval: getEnvDuration("CACHE_SWEEP_INTERVAL", 60*time.Second),

		ConnectorTimeout: getEnvDuration("CONNECTOR_TIMEOUT", 15*time.Second),
		BatchMaxItems:    getEnvInt("BATCH_MAX_ITEMS", 10),
		BatchConcurrency: getEnvInt("BATCH_CONCURRENCY", 2),
		SingleFlight:     getEnvBool("SINGLE_FLIGHT", false),

		MaxRetries:       getEnvInt("MAX_RETRIES", 3),
		RateLimitMs:      getEnvInt("RATE_LIMIT_MS", 1000),
		ChromeBin:        getEnv("CHROME_BIN", ""),
		SkinportFallback: getEnvBool("SKINPORT_FALLBACK", false),

		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFormat:     getEnv("LOG_FORMAT", "text"),
		LogOutput:     getEnv("LOG_OUTPUT", "stdout"),
		LogMaxAgeDays: getEnvInt("LOG_MAX_AGE_DAYS", 0),

		MarketplacesFile: getEnv("MARKETPLACES_FILE", ""),
		RegistryBackend:  strings.ToLower(getEnv("REGISTRY_BACKEND", BackendNone)),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "scraper"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "scraper123"),
		PostgresDB:       getEnv("POSTGRES_DB", "pricewatch"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisAddr:        getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:    getEnv("REDIS_PASSWORD", ""),
		RedisDB:          getEnvInt("REDIS_DB", 0),
		RedisRegistryKey: getEnv("REDIS_REGISTRY_KEY", "pricewatch:marketplaces"),
	}

	cfg.Marketplaces = DefaultMarketplaces()
	if cfg.MarketplacesFile != "" {
		defs, err := LoadMarketplaces(cfg.MarketplacesFile)
		if err != nil {
			return nil, err
		}
		cfg.Marketplaces = defs
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects limits the services cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.CacheTTL <= 0 {
		errs = append(errs, errors.New("CACHE_TTL must be positive"))
	}
	if c.CacheMaxEntries <= 0 {
		errs = append(errs, errors.New("CACHE_MAX_ENTRIES must be positive"))
	}
	if c.CacheMaxMemoryMB <= 0 {
		errs = append(errs, errors.New("CACHE_MAX_MEMORY_MB must be positive"))
	}
	if c.CacheSweepInterval <= 0 {
		errs = append(errs, errors.New("CACHE_SWEEP_INTERVAL must be positive"))
	}
	if c.ConnectorTimeout <= 0 {
		errs = append(errs, errors.New("CONNECTOR_TIMEOUT must be positive"))
	}
	if c.BatchMaxItems <= 0 || c.BatchConcurrency <= 0 {
		errs = append(errs, errors.New("BATCH_MAX_ITEMS and BATCH_CONCURRENCY must be positive"))
	}
	if c.MaxRetries < 1 {
		errs = append(errs, errors.New("MAX_RETRIES must be at least 1"))
	}
	if c.RateLimitMs < 0 {
		errs = append(errs, errors.New("RATE_LIMIT_MS must not be negative"))
	}
	switch c.RegistryBackend {
	case BackendNone, BackendPostgres, BackendRedis:
	default:
		errs = append(errs, fmt.Errorf("REGISTRY_BACKEND %q is not one of none, postgres, redis", c.RegistryBackend))
	}
	for i := range c.Marketplaces {
		c.Marketplaces[i].Normalize()
		if err := c.Marketplaces[i].Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// CacheConfig returns the cache limits.
func (c *Config) CacheConfig() cache.Config {
	return cache.Config{
		TTL:            c.CacheTTL,
		MaxEntries:     c.CacheMaxEntries,
		MaxMemoryBytes: int64(c.CacheMaxMemoryMB) * 1024 * 1024,
		SweepInterval:  c.CacheSweepInterval,
	}
}

// RateLimit is the minimum spacing between requests to one marketplace.
func (c *Config) RateLimit() time.Duration {
	return time.Duration(c.RateLimitMs) * time.Millisecond
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}

// DefaultMarketplaces are used when no marketplaces file is configured.
func DefaultMarketplaces() []models.Marketplace {
	return []models.Marketplace{
		{Name: "steam", Kind: models.KindSteam, Currency: "USD", Reputation: 1.0},
		{Name: "skinport", Kind: models.KindSkinport, Reputation: 0.9},
		{Name: "bitskins", Kind: models.KindStatic, Currency: "USD", Reputation: 0.85,
			Price: decimal.RequireFromString("11.90"), Endpoint: "https://bitskins.com"},
	}
}

type marketplacesFile struct {
	Marketplaces []models.Marketplace `yaml:"marketplaces"`
}

// LoadMarketplaces reads marketplace definitions from a YAML file.
func LoadMarketplaces(path string) ([]models.Marketplace, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read marketplaces file: %w", err)
	}

	var file marketplacesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("config: parse marketplaces file %s: %w", path, err)
	}
	if len(file.Marketplaces) == 0 {
		return nil, fmt.Errorf("config: marketplaces file %s defines no marketplaces", path)
	}
	return file.Marketplaces, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("90s") or plain milliseconds ("90000").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	if ms, err := strconv.Atoi(val); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		b, err := strconv.ParseBool(val)
		if err == nil {
			return b
		}
	}
	return fallback
}
