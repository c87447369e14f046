// Package config loads and validates environment variables at startup.
// Fail-fast: if a required variable is missing, Load returns an error and
// the process exits.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"jobmate/ingestion-service/internal/model"
)

// Cache backends.
const (
	CacheRedis  = "redis"
	CacheMemory = "memory"
)

// Config holds all runtime configuration for the ingestion service.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Cache     CacheConfig
	Adzuna    AdzunaConfig
	Careerjet CareerjetConfig
	Fetch     FetchConfig
	Resolver  ResolverConfig
	Warmup    WarmupConfig
	Runner    RunnerConfig
	Schedule  ScheduleConfig
	Retention RetentionConfig
	Log       LogConfig
}

// ServerConfig holds the listen ports.
type ServerConfig struct {
	Port     string
	GRPCPort string
}

// DatabaseConfig holds the PostgreSQL connection.
type DatabaseConfig struct {
	URL      string
	MaxConns int32
}

// CacheConfig selects the query cache backend.
type CacheConfig struct {
	Backend  string
	RedisURL string
	TTL      time.Duration
}

// AdzunaConfig holds the credential pool and the countries to crawl.
type AdzunaConfig struct {
	BaseURL     string
	Credentials []model.Credential
	Countries   []string
}

// CareerjetConfig holds the affiliate parameters and the countries to crawl.
type CareerjetConfig struct {
	BaseURL   string
	AffID     string
	UserIP    string
	UserAgent string
	Countries []string
	MaxAge    time.Duration
}

// FetchConfig tunes the paging loop.
type FetchConfig struct {
	PageDelay      time.Duration
	RetryAttempts  int
	RetryDelay     time.Duration
	EarlyStopPages int
}

// ResolverConfig tunes tracking URL resolution.
type ResolverConfig struct {
	Concurrency int
	Timeout     time.Duration
	MaxHops     int
}

// WarmupConfig tunes the cache warmup worker.
type WarmupConfig struct {
	QueueSize   int
	Timeout     time.Duration
	Retries     int
	Backoff     time.Duration
	Pacing      time.Duration
	Drain       time.Duration
	Concurrency int
}

// RunnerConfig tunes the orchestration between countries and sources.
type RunnerConfig struct {
	StalenessMaxAge time.Duration
	CountryPause    time.Duration
	SourcePause     time.Duration
}

// ScheduleConfig holds the cron specs.
type ScheduleConfig struct {
	Ingest       []string
	Retention    string
	RunOnStartup bool
}

// RetentionConfig tunes the cleanup of old postings.
type RetentionConfig struct {
	Days  int
	Batch int
	Pause time.Duration
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string
	Format string
}

// Load reads .env (if present) and the environment, and returns a
// validated Config.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	creds, err := adzunaCredentials()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:     getEnv("INGESTION_PORT", "8083"),
			GRPCPort: getEnv("INGESTION_GRPC_PORT", "9083"),
		},
		Database: DatabaseConfig{
			URL:      os.Getenv("DATABASE_URL"),
			MaxConns: int32(getIntEnv("DATABASE_MAX_CONNS", 0)),
		},
		Cache: CacheConfig{
			Backend:  strings.ToLower(getEnv("CACHE_BACKEND", CacheRedis)),
			RedisURL: os.Getenv("REDIS_URL"),
			TTL:      getDurationEnv("CACHE_TTL", 8*time.Hour),
		},
		Adzuna: AdzunaConfig{
			BaseURL:     getEnv("ADZUNA_BASE_URL", "https://api.adzuna.com/v1/api/jobs"),
			Credentials: creds,
			Countries:   getSliceEnv("ADZUNA_COUNTRIES", []string{"de", "gb", "us", "nl", "be", "at", "ch"}),
		},
		Careerjet: CareerjetConfig{
			BaseURL:   getEnv("CAREERJET_BASE_URL", "http://public.api.careerjet.net/search"),
			AffID:     os.Getenv("CAREERJET_AFFID"),
			UserIP:    getEnv("CAREERJET_USER_IP", "127.0.0.1"),
			UserAgent: getEnv("CAREERJET_USER_AGENT", "jobmate-ingestion/1.0"),
			Countries: getSliceEnv("CAREERJET_COUNTRIES", []string{"no", "dk"}),
			MaxAge:    getDurationEnv("CAREERJET_MAX_AGE", 720*time.Hour),
		},
		Fetch: FetchConfig{
			PageDelay:      getDurationEnv("FETCH_PAGE_DELAY", 500*time.Millisecond),
			RetryAttempts:  getIntEnv("FETCH_RETRY_ATTEMPTS", 3),
			RetryDelay:     getDurationEnv("FETCH_RETRY_DELAY", 5*time.Second),
			EarlyStopPages: getIntEnv("FETCH_EARLY_STOP_PAGES", 3),
		},
		Resolver: ResolverConfig{
			Concurrency: getIntEnv("RESOLVER_CONCURRENCY", 3),
			Timeout:     getDurationEnv("RESOLVER_TIMEOUT", 15*time.Second),
			MaxHops:     getIntEnv("RESOLVER_MAX_HOPS", 15),
		},
		Warmup: WarmupConfig{
			QueueSize:   getIntEnv("WARMUP_QUEUE_SIZE", 100),
			Timeout:     getDurationEnv("WARMUP_TIMEOUT", 10*time.Minute),
			Retries:     getIntEnv("WARMUP_RETRIES", 2),
			Backoff:     getDurationEnv("WARMUP_BACKOFF", 2*time.Minute),
			Pacing:      getDurationEnv("WARMUP_PACING", 2*time.Second),
			Drain:       getDurationEnv("WARMUP_DRAIN", 5*time.Second),
			Concurrency: getIntEnv("WARMUP_CONCURRENCY", 3),
		},
		Runner: RunnerConfig{
			StalenessMaxAge: getDurationEnv("STALENESS_MAX_AGE", 8*time.Hour),
			CountryPause:    getDurationEnv("COUNTRY_PAUSE", time.Second),
			SourcePause:     getDurationEnv("SOURCE_PAUSE", 2*time.Second),
		},
		Schedule: ScheduleConfig{
			Ingest:       getSliceEnv("INGEST_SCHEDULES", []string{"0 22 * * *", "0 6 * * *", "0 16 * * *"}),
			Retention:    getEnv("RETENTION_SCHEDULE", "0 2 * * *"),
			RunOnStartup: getBoolEnv("RUN_ON_STARTUP", false),
		},
		Retention: RetentionConfig{
			Days:  getIntEnv("RETENTION_DAYS", 30),
			Batch: getIntEnv("RETENTION_BATCH", 1000),
			Pause: getDurationEnv("RETENTION_PAUSE", 100*time.Millisecond),
		},
		Log: LogConfig{
			Level:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
			Format: strings.ToLower(getEnv("LOG_FORMAT", "text")),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that all required configuration values are present and
// valid. It returns every problem at once, joined with errors.Join.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port == "" {
		errs = append(errs, errors.New("INGESTION_PORT is required"))
	}
	if c.Database.URL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}

	switch c.Cache.Backend {
	case CacheRedis:
		if c.Cache.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL is required when CACHE_BACKEND is redis"))
		}
	case CacheMemory:
	default:
		errs = append(errs, fmt.Errorf("CACHE_BACKEND must be 'redis' or 'memory', got '%s'", c.Cache.Backend))
	}
	if c.Cache.TTL <= 0 {
		errs = append(errs, errors.New("CACHE_TTL must be positive"))
	}

	if len(c.Adzuna.Countries) > 0 && len(c.Adzuna.Credentials) == 0 {
		errs = append(errs, errors.New("ADZUNA_CREDENTIALS (or ADZUNA_APP_ID/ADZUNA_APP_KEY) is required when ADZUNA_COUNTRIES is set"))
	}
	if len(c.Careerjet.Countries) > 0 && c.Careerjet.AffID == "" {
		errs = append(errs, errors.New("CAREERJET_AFFID is required when CAREERJET_COUNTRIES is set"))
	}

	if c.Fetch.RetryAttempts < 1 {
		errs = append(errs, errors.New("FETCH_RETRY_ATTEMPTS must be at least 1"))
	}
	if c.Resolver.Concurrency < 1 {
		errs = append(errs, errors.New("RESOLVER_CONCURRENCY must be at least 1"))
	}
	if c.Resolver.MaxHops < 1 {
		errs = append(errs, errors.New("RESOLVER_MAX_HOPS must be at least 1"))
	}
	if c.Warmup.QueueSize < 1 {
		errs = append(errs, errors.New("WARMUP_QUEUE_SIZE must be at least 1"))
	}
	if c.Warmup.Retries < 0 {
		errs = append(errs, errors.New("WARMUP_RETRIES must not be negative"))
	}
	if c.Retention.Days < 1 {
		errs = append(errs, errors.New("RETENTION_DAYS must be at least 1"))
	}
	if c.Retention.Batch < 1 {
		errs = append(errs, errors.New("RETENTION_BATCH must be at least 1"))
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("LOG_LEVEL must be debug, info, warn or error, got '%s'", c.Log.Level))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be 'text' or 'json', got '%s'", c.Log.Format))
	}

	return errors.Join(errs...)
}

// adzunaCredentials reads ADZUNA_CREDENTIALS ("id:key,id:key"), falling
// back to the single ADZUNA_APP_ID/ADZUNA_APP_KEY pair.
func adzunaCredentials() ([]model.Credential, error) {
	if raw := os.Getenv("ADZUNA_CREDENTIALS"); raw != "" {
		return ParseCredentials(raw)
	}
	id, key := os.Getenv("ADZUNA_APP_ID"), os.Getenv("ADZUNA_APP_KEY")
	if id == "" && key == "" {
		return nil, nil
	}
	if id == "" || key == "" {
		return nil, errors.New("ADZUNA_APP_ID and ADZUNA_APP_KEY must be set together")
	}
	return []model.Credential{{AppID: id, AppKey: key}}, nil
}

// ParseCredentials parses "id:key,id:key". Blank entries are ignored and
// duplicates are kept once.
func ParseCredentials(raw string) ([]model.Credential, error) {
	var out []model.Credential
	seen := make(map[model.Credential]bool)
	for i, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		id, key, ok := strings.Cut(entry, ":")
		id, key = strings.TrimSpace(id), strings.TrimSpace(key)
		if !ok || id == "" || key == "" {
			return nil, fmt.Errorf("ADZUNA_CREDENTIALS entry %d: want id:key", i+1)
		}
		c := model.Credential{AppID: id, AppKey: key}
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out, nil
}

// Helper functions for reading environment variables

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getSliceEnv(key string, defaultValue []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
