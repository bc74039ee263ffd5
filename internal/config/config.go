// Package config holds the two configuration surfaces of this module:
// ClientConfig (the options recognized by client creation) and PoolConfig
// (the options recognized by the connection pool). Both can be built from
// environment variables, with an optional .env file loaded first.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// ClientConfig holds the options recognized by client creation.
type ClientConfig struct {
	APIID          int32
	APIHash        string
	DatabasePath   string
	FilesDirectory string
	UseTestDC      bool
	DefaultDCID    int32
}

// DefaultClientConfig returns the documented defaults; APIID and APIHash
// are left zero/empty since they are mandatory, caller-supplied fields.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		DatabasePath:   "./tdlib",
		FilesDirectory: "./tdlib/files",
		UseTestDC:      false,
		DefaultDCID:    2,
	}
}

// PoolConfig holds the options recognized by the connection pool.
type PoolConfig struct {
	MaxConnectionsPerDC  int
	MaxIdleConnections   int
	ConnectionTTL        time.Duration
	MaxPendingAcquires   int
	AcquireTimeout       time.Duration
	CleanupInterval      time.Duration
	MaxRetryAttempts     int
	RetryBaseDelay       time.Duration
	RetryMaxDelay        time.Duration
	RetryWithJitter      bool
	CircuitBreakerEnabled bool

	Breaker BreakerConfig
	Health  HealthConfig
}

// BreakerConfig holds the nested circuit-breaker configuration.
type BreakerConfig struct {
	MinSamples        int
	FailureThreshold  float64
	OpenDuration       time.Duration
	HalfOpenProbes     int
	OpenDurationFactor float64
	MaxOpenDuration    time.Duration
}

// HealthConfig holds the nested health-check configuration.
type HealthConfig struct {
	ProbeInterval  time.Duration
	ProbeTimeout   time.Duration
	DegradedWindow time.Duration
}

// DefaultPoolConfig returns the documented defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxConnectionsPerDC:   8,
		MaxIdleConnections:    2,
		ConnectionTTL:         5 * time.Minute,
		MaxPendingAcquires:    100,
		AcquireTimeout:        30 * time.Second,
		CleanupInterval:       1 * time.Minute,
		MaxRetryAttempts:      5,
		RetryBaseDelay:        100 * time.Millisecond,
		RetryMaxDelay:         10 * time.Second,
		RetryWithJitter:       true,
		CircuitBreakerEnabled: true,
		Breaker: BreakerConfig{
			MinSamples:         5,
			FailureThreshold:   0.5,
			OpenDuration:       30 * time.Second,
			HalfOpenProbes:     1,
			OpenDurationFactor: 2.0,
			MaxOpenDuration:    5 * time.Minute,
		},
		Health: HealthConfig{
			ProbeInterval:  30 * time.Second,
			ProbeTimeout:   5 * time.Second,
			DegradedWindow: 10 * time.Second,
		},
	}
}

// LoadClientConfigFromEnv reads an optional .env file then environment
// variables, overlaying documented defaults.
func LoadClientConfigFromEnv() ClientConfig {
	_ = godotenv.Load()
	cfg := DefaultClientConfig()
	cfg.APIID = int32(getEnvInt("CLIENT_API_ID", 0))
	cfg.APIHash = getEnv("CLIENT_API_HASH", "")
	cfg.DatabasePath = getEnv("CLIENT_DATABASE_PATH", cfg.DatabasePath)
	cfg.FilesDirectory = getEnv("CLIENT_FILES_DIRECTORY", cfg.FilesDirectory)
	cfg.UseTestDC = getEnvBool("CLIENT_USE_TEST_DC", cfg.UseTestDC)
	cfg.DefaultDCID = int32(getEnvInt("CLIENT_DEFAULT_DC_ID", int(cfg.DefaultDCID)))
	return cfg
}

// LoadPoolConfigFromEnv reads an optional .env file then environment
// variables, overlaying documented defaults.
func LoadPoolConfigFromEnv() PoolConfig {
	_ = godotenv.Load()
	cfg := DefaultPoolConfig()
	cfg.MaxConnectionsPerDC = getEnvInt("POOL_MAX_CONNECTIONS_PER_DC", cfg.MaxConnectionsPerDC)
	cfg.MaxIdleConnections = getEnvInt("POOL_MAX_IDLE_CONNECTIONS", cfg.MaxIdleConnections)
	cfg.ConnectionTTL = getEnvDuration("POOL_CONNECTION_TTL", cfg.ConnectionTTL)
	cfg.MaxPendingAcquires = getEnvInt("POOL_MAX_PENDING_ACQUIRES", cfg.MaxPendingAcquires)
	cfg.AcquireTimeout = getEnvDuration("POOL_ACQUIRE_TIMEOUT", cfg.AcquireTimeout)
	cfg.CleanupInterval = getEnvDuration("POOL_CLEANUP_INTERVAL", cfg.CleanupInterval)
	cfg.MaxRetryAttempts = getEnvInt("POOL_MAX_RETRY_ATTEMPTS", cfg.MaxRetryAttempts)
	cfg.RetryBaseDelay = getEnvDuration("POOL_RETRY_BASE_DELAY", cfg.RetryBaseDelay)
	cfg.RetryMaxDelay = getEnvDuration("POOL_RETRY_MAX_DELAY", cfg.RetryMaxDelay)
	cfg.RetryWithJitter = getEnvBool("POOL_RETRY_WITH_JITTER", cfg.RetryWithJitter)
	cfg.CircuitBreakerEnabled = getEnvBool("POOL_CIRCUIT_BREAKER_ENABLED", cfg.CircuitBreakerEnabled)
	return cfg
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
