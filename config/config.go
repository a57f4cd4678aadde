package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/viper"

	"github.com/driplabs/drip-api/pkg/messaging/redis"
)

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
}

type ServerConfig struct {
	Port           int           `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	MaxHeaderBytes int           `yaml:"max_header_bytes"`
}

type RedisConfig struct {
	URL          string        `yaml:"url"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
}

// PipelineConfig tunes the delivery pipeline.
type PipelineConfig struct {
	ContentBaseURL string        `yaml:"content_base_url"`
	DryRunSets     []string      `yaml:"dry_run_sets"`
	MaxRetries     int           `yaml:"max_retries"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay  time.Duration `yaml:"retry_max_delay"`
	CacheTTL       time.Duration `yaml:"cache_ttl"`
}

// ReconcileConfig tunes the periodic consistency jobs.
type ReconcileConfig struct {
	DuplicateWindow  time.Duration `yaml:"duplicate_window"`
	RequeueBatchSize int           `yaml:"requeue_batch_size"`
	BehindInterval   time.Duration `yaml:"behind_interval"`
	RequeueInterval  time.Duration `yaml:"requeue_interval"`
}

// ExternalConfig points at the collaborating services.
type ExternalConfig struct {
	IdentityBaseURL  string        `yaml:"identity_base_url"`
	IdentityToken    string        `yaml:"identity_token"`
	SenderBaseURL    string        `yaml:"sender_base_url"`
	SenderToken      string        `yaml:"sender_token"`
	SenderRate       float64       `yaml:"sender_rate"`
	SenderBurst      int           `yaml:"sender_burst"`
	SchedulerBaseURL string        `yaml:"scheduler_base_url"`
	SchedulerToken   string        `yaml:"scheduler_token"`
	TriggerBaseURL   string        `yaml:"trigger_base_url"`
	Timeout          time.Duration `yaml:"timeout"`
}

type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	External  ExternalConfig  `yaml:"external"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/app")
	viper.AddConfigPath("/app/config")

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		viper.SetConfigFile(path)
	}

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Environment overrides for the settings that differ per deploy.
	if host := os.Getenv("DB_HOST"); host != "" {
		config.Database.Host = host
	}
	if port := os.Getenv("DB_PORT"); port != "" {
		config.Database.Port, _ = strconv.Atoi(port)
	}
	if password := os.Getenv("DB_PASSWORD"); password != "" {
		config.Database.Password = password
	}
	if url := os.Getenv("REDIS_URL"); url != "" {
		config.Redis.URL = url
	}

	return &config, nil
}

func (c *RedisConfig) ToBrokerConfig() redis.Config {
	return redis.Config{
		URL:          c.URL,
		MaxRetries:   c.MaxRetries,
		RetryBackoff: c.RetryBackoff,
		PoolSize:     c.PoolSize,
		MinIdleConns: c.MinIdleConns,
	}
}
