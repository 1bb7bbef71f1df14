// Package config loads process-wide settings from the environment, following
// the project's .env-plus-fallback-defaults convention.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/scenariograph/predictive-sim/pkg/model"
)

// DatabaseConfig is the Postgres connection and pool configuration.
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DSN builds a libpq-style connection string for pgxpool.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisConfig is the priority-queue broker configuration, §4.7.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

// TemporalConfig is the workflow engine connection configuration, §4.7.
type TemporalConfig struct {
	HostPort  string
	Namespace string
	TaskQueue string
}

// ObjectStorageConfig is the telemetry blob store configuration, §4.4.
type ObjectStorageConfig struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// Defaults holds the run-config defaults applied when a RunConfig omits a
// field, §4.1/§4.5.
type Defaults struct {
	IsolationLevel   model.IsolationLevel
	KeyframeInterval int64
	SeedStrategy     model.SeedStrategy
}

// Config is the full set of process settings, §1 "Ambient stack".
type Config struct {
	Database     DatabaseConfig
	Redis        RedisConfig
	Temporal     TemporalConfig
	ObjectStore  ObjectStorageConfig
	Defaults     Defaults
	ProductMode  string
	WorkerCount  int
	PollInterval time.Duration
}

// LoadFromEnv reads every setting from the environment, applying the same
// defaults a local/dev deployment would need.
func LoadFromEnv() (Config, error) {
	dbPort, err := strconv.Atoi(getEnvOrDefault("DB_PORT", "5432"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid DB_PORT: %w", err)
	}
	maxOpen, err := strconv.Atoi(getEnvOrDefault("DB_MAX_OPEN_CONNS", "25"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid DB_MAX_OPEN_CONNS: %w", err)
	}
	maxIdle, err := strconv.Atoi(getEnvOrDefault("DB_MAX_IDLE_CONNS", "10"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid DB_MAX_IDLE_CONNS: %w", err)
	}
	maxLifetime, err := time.ParseDuration(getEnvOrDefault("DB_CONN_MAX_LIFETIME", "1h"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid DB_CONN_MAX_LIFETIME: %w", err)
	}

	redisDB, err := strconv.Atoi(getEnvOrDefault("REDIS_DB", "0"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	isolationLevel, err := strconv.Atoi(getEnvOrDefault("DEFAULT_ISOLATION_LEVEL", "2"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid DEFAULT_ISOLATION_LEVEL: %w", err)
	}
	keyframeInterval, err := strconv.ParseInt(getEnvOrDefault("DEFAULT_KEYFRAME_INTERVAL", "100"), 10, 64)
	if err != nil {
		return Config{}, fmt.Errorf("invalid DEFAULT_KEYFRAME_INTERVAL: %w", err)
	}

	workerCount, err := strconv.Atoi(getEnvOrDefault("SCHEDULER_WORKER_COUNT", "5"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid SCHEDULER_WORKER_COUNT: %w", err)
	}
	pollInterval, err := time.ParseDuration(getEnvOrDefault("SCHEDULER_POLL_INTERVAL", "1s"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid SCHEDULER_POLL_INTERVAL: %w", err)
	}
	useSSL := getEnvOrDefault("OBJECT_STORE_USE_SSL", "false") == "true"

	cfg := Config{
		Database: DatabaseConfig{
			Host:            getEnvOrDefault("DB_HOST", "localhost"),
			Port:            dbPort,
			User:            getEnvOrDefault("DB_USER", "simcore"),
			Password:        os.Getenv("DB_PASSWORD"),
			Database:        getEnvOrDefault("DB_NAME", "simcore"),
			SSLMode:         getEnvOrDefault("DB_SSLMODE", "disable"),
			MaxOpenConns:    maxOpen,
			MaxIdleConns:    maxIdle,
			ConnMaxLifetime: maxLifetime,
		},
		Redis: RedisConfig{
			Address:  getEnvOrDefault("REDIS_ADDRESS", "localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Temporal: TemporalConfig{
			HostPort:  getEnvOrDefault("TEMPORAL_HOST_PORT", "localhost:7233"),
			Namespace: getEnvOrDefault("TEMPORAL_NAMESPACE", "default"),
			TaskQueue: getEnvOrDefault("TEMPORAL_TASK_QUEUE", "simcore-runs"),
		},
		ObjectStore: ObjectStorageConfig{
			Endpoint:  getEnvOrDefault("OBJECT_STORE_ENDPOINT", "localhost:9000"),
			Bucket:    getEnvOrDefault("OBJECT_STORE_BUCKET", "simcore-telemetry"),
			AccessKey: os.Getenv("OBJECT_STORE_ACCESS_KEY"),
			SecretKey: os.Getenv("OBJECT_STORE_SECRET_KEY"),
			UseSSL:    useSSL,
		},
		Defaults: Defaults{
			IsolationLevel:   model.IsolationLevel(isolationLevel),
			KeyframeInterval: keyframeInterval,
			SeedStrategy:     model.SeedStrategy(getEnvOrDefault("DEFAULT_SEED_STRATEGY", string(model.SeedStrategyFixed))),
		},
		ProductMode:  getEnvOrDefault("PRODUCT_MODE", "self_serve"),
		WorkerCount:  workerCount,
		PollInterval: pollInterval,
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings that would make the process unsafe to run, §1.
func (c Config) Validate() error {
	if c.Database.Password == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("DB_MAX_IDLE_CONNS (%d) cannot exceed DB_MAX_OPEN_CONNS (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}
	if c.Database.MaxOpenConns < 1 {
		return fmt.Errorf("DB_MAX_OPEN_CONNS must be at least 1")
	}
	if c.Defaults.IsolationLevel < model.IsolationWarn || c.Defaults.IsolationLevel > model.IsolationStrictFail {
		return fmt.Errorf("DEFAULT_ISOLATION_LEVEL must be 1, 2, or 3")
	}
	if c.Defaults.KeyframeInterval < 1 {
		return fmt.Errorf("DEFAULT_KEYFRAME_INTERVAL must be at least 1")
	}
	if c.WorkerCount < 1 {
		return fmt.Errorf("SCHEDULER_WORKER_COUNT must be at least 1")
	}
	return nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
