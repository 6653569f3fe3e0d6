package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/smartpop/popup-analytics/pkg/logger"
	"gopkg.in/yaml.v3"
)

// Config 애플리케이션 설정
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Cache    CacheConfig    `yaml:"cache"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	CORS     CORSConfig     `yaml:"cors"`
}

// ServerConfig HTTP 서버 설정
type ServerConfig struct {
	Port           int           `yaml:"port"`
	Mode           string        `yaml:"mode"` // debug, release, test
	Env            string        `yaml:"env"`
	LogLevel       string        `yaml:"log_level"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	AdminToken     string        `yaml:"admin_token"`
}

// DatabaseConfig MySQL 설정
type DatabaseConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	User            string `yaml:"user"`
	Password        string `yaml:"password"`
	DBName          string `yaml:"dbname"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime"` // seconds
}

// RedisConfig Redis 설정
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// CacheConfig 캐시 설정
type CacheConfig struct {
	Durable         string        `yaml:"durable"` // database, redis, none
	RedisNamespace  string        `yaml:"redis_namespace"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// PipelineConfig 수집/집계 파이프라인 설정
type PipelineConfig struct {
	DefaultBatchSize  int           `yaml:"default_batch_size"`
	MaxBatchSize      int           `yaml:"max_batch_size"`
	AttributionWindow time.Duration `yaml:"attribution_window"`
	MetadataMaxDepth  int           `yaml:"metadata_max_depth"`
	MetadataMaxBytes  int           `yaml:"metadata_max_bytes"`
	MetadataMaxKeys   int           `yaml:"metadata_max_keys"`
	RollupInterval    time.Duration `yaml:"rollup_interval"`
	WarmAfterRollup   bool          `yaml:"warm_after_rollup"`
}

// CORSConfig CORS 설정
type CORSConfig struct {
	AllowOrigins string `yaml:"allow_origins"` // comma separated
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           8080,
			Mode:           "release",
			Env:            "local",
			LogLevel:       "info",
			RequestTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Host:            "127.0.0.1",
			Port:            3306,
			User:            "root",
			DBName:          "popup_analytics",
			MaxIdleConns:    10,
			MaxOpenConns:    50,
			ConnMaxLifetime: 300,
		},
		Redis: RedisConfig{
			Host:     "127.0.0.1",
			Port:     6379,
			PoolSize: 10,
		},
		Cache: CacheConfig{
			Durable:         "database",
			CleanupInterval: time.Minute,
		},
		Pipeline: PipelineConfig{
			DefaultBatchSize:  100,
			MaxBatchSize:      1000,
			AttributionWindow: 7 * 24 * time.Hour,
			MetadataMaxDepth:  5,
			MetadataMaxBytes:  100 * 1024,
			MetadataMaxKeys:   50,
			RollupInterval:    5 * time.Minute,
			WarmAfterRollup:   true,
		},
		CORS: CORSConfig{
			AllowOrigins: "http://localhost:3000",
		},
	}
}

// Load reads the YAML file at path over the defaults, then applies environment overrides.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints
func (c *Config) Validate() error {
	if c.Pipeline.MaxBatchSize <= 0 || c.Pipeline.MaxBatchSize > 1000 {
		return fmt.Errorf("pipeline.max_batch_size must be in 1..1000, got %d", c.Pipeline.MaxBatchSize)
	}
	if c.Pipeline.DefaultBatchSize <= 0 || c.Pipeline.DefaultBatchSize > c.Pipeline.MaxBatchSize {
		return fmt.Errorf("pipeline.default_batch_size must be in 1..%d, got %d", c.Pipeline.MaxBatchSize, c.Pipeline.DefaultBatchSize)
	}
	switch c.Cache.Durable {
	case "database", "redis", "none":
	default:
		return fmt.Errorf("cache.durable must be database, redis or none, got %q", c.Cache.Durable)
	}
	if c.Pipeline.AttributionWindow <= 0 {
		return errors.New("pipeline.attribution_window must be positive")
	}
	return nil
}

// IsDevelopment 개발 환경 여부
func (c *Config) IsDevelopment() bool {
	return logger.IsDevelopment(c.Server.Env)
}

// GetDSN MySQL DSN 생성
func (d *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		d.User, d.Password, d.Host, d.Port, d.DBName)
}

func applyEnv(cfg *Config) {
	envString("APP_ENV", &cfg.Server.Env)
	envInt("SERVER_PORT", &cfg.Server.Port)
	envString("GIN_MODE", &cfg.Server.Mode)
	envString("LOG_LEVEL", &cfg.Server.LogLevel)
	envDuration("REQUEST_TIMEOUT", &cfg.Server.RequestTimeout)
	envString("ADMIN_TOKEN", &cfg.Server.AdminToken)

	envString("DB_HOST", &cfg.Database.Host)
	envInt("DB_PORT", &cfg.Database.Port)
	envString("DB_USER", &cfg.Database.User)
	envString("DB_PASSWORD", &cfg.Database.Password)
	envString("DB_NAME", &cfg.Database.DBName)

	envBool("REDIS_ENABLED", &cfg.Redis.Enabled)
	envString("REDIS_HOST", &cfg.Redis.Host)
	envInt("REDIS_PORT", &cfg.Redis.Port)
	envString("REDIS_PASSWORD", &cfg.Redis.Password)
	envInt("REDIS_DB", &cfg.Redis.DB)

	envString("CACHE_DURABLE", &cfg.Cache.Durable)
	envDuration("CACHE_CLEANUP_INTERVAL", &cfg.Cache.CleanupInterval)

	envInt("PIPELINE_DEFAULT_BATCH_SIZE", &cfg.Pipeline.DefaultBatchSize)
	envDuration("PIPELINE_ATTRIBUTION_WINDOW", &cfg.Pipeline.AttributionWindow)
	envDuration("PIPELINE_ROLLUP_INTERVAL", &cfg.Pipeline.RollupInterval)
	envBool("PIPELINE_WARM_AFTER_ROLLUP", &cfg.Pipeline.WarmAfterRollup)

	envString("CORS_ALLOW_ORIGINS", &cfg.CORS.AllowOrigins)
}

func envString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			*dst = b
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			*dst = d
		}
	}
}

// LogResolved prints the effective non-secret settings
func LogResolved(cfg *Config) {
	log := logger.GetLogger()
	log.Info().
		Str("env", cfg.Server.Env).
		Int("port", cfg.Server.Port).
		Str("mode", cfg.Server.Mode).
		Dur("request_timeout", cfg.Server.RequestTimeout).
		Str("db_host", cfg.Database.Host).
		Int("db_port", cfg.Database.Port).
		Str("db_name", cfg.Database.DBName).
		Bool("redis_enabled", cfg.Redis.Enabled).
		Str("cache_durable", cfg.Cache.Durable).
		Int("default_batch_size", cfg.Pipeline.DefaultBatchSize).
		Dur("attribution_window", cfg.Pipeline.AttributionWindow).
		Dur("rollup_interval", cfg.Pipeline.RollupInterval).
		Bool("warm_after_rollup", cfg.Pipeline.WarmAfterRollup).
		Msg("config resolved")
}
