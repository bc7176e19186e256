// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Engine   EngineConfig   `yaml:"engine"`
	Limiter  LimiterConfig  `yaml:"limiter"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
	Cache    CacheConfig    `yaml:"cache"`
	LLM      LLMConfig      `yaml:"llm"`
	NATS     NATSConfig     `yaml:"nats"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string `yaml:"port"`
	ReadTimeout  int    `yaml:"readTimeout"`
	WriteTimeout int    `yaml:"writeTimeout"`
}

// EngineConfig holds worker-pool defaults applied to runs that omit them
type EngineConfig struct {
	WALPath      string `yaml:"walPath"`
	MinWorkers   int    `yaml:"minWorkers"`
	MaxWorkers   int    `yaml:"maxWorkers"`
	StartWorkers int    `yaml:"startWorkers"`
	RetryCeiling int    `yaml:"retryCeiling"`
}

// LimiterConfig holds admission-control configuration
type LimiterConfig struct {
	RPM int `yaml:"rpm"`
}

// SnapshotConfig holds output materialization configuration
type SnapshotConfig struct {
	Path            string `yaml:"path"`
	EveryResults    int    `yaml:"everyResults"`
	IntervalSeconds int    `yaml:"intervalSeconds"`
}

// CacheConfig holds fingerprint store configuration
type CacheConfig struct {
	Backend string `yaml:"backend"` // "jsonl" or "leveldb"
	Path    string `yaml:"path"`
}

// LLMConfig holds provider endpoint configuration
type LLMConfig struct {
	BaseURL            string  `yaml:"baseUrl"`
	APIKey             string  `yaml:"-"`
	Model              string  `yaml:"model"`
	Temperature        float64 `yaml:"temperature"`
	CallTimeoutSeconds int     `yaml:"callTimeoutSeconds"`
	SystemHint         string  `yaml:"systemHint"`
}

// NATSConfig holds optional status-push configuration
type NATSConfig struct {
	URL     string `yaml:"url"` // empty disables pushing
	Subject string `yaml:"subject"`
}

// Default configuration values
const (
	DefaultServerPort         = "8080"
	DefaultServerReadTimeout  = 30
	DefaultServerWriteTimeout = 30
	DefaultMinWorkers         = 2
	DefaultMaxWorkers         = 8
	DefaultRetryCeiling       = 6
	DefaultRPM                = 60
	DefaultWALPath            = "./data/run.wal.jsonl"
	DefaultCachePath          = "./data/cache.jsonl"
	DefaultCacheBackend       = "jsonl"
	DefaultSnapshotPath       = "./data/output.jsonl"
	DefaultSnapshotEvery      = 10
	DefaultSnapshotInterval   = 30
	DefaultCallTimeout        = 120
	DefaultNATSSubject        = "syros.status"
)

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an environment variable as integer or returns a default value
func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// Load reads the YAML file at configPath, then applies environment
// overrides and defaults. The provider API key is env-only so it never
// lands in a checked-in file.
func Load(configPath string) (*Config, error) {
	var config Config

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	config.Server = ServerConfig{
		Port:         getEnv("SYROS_SERVER_PORT", orStr(config.Server.Port, DefaultServerPort)),
		ReadTimeout:  getEnvInt("SYROS_SERVER_READ_TIMEOUT", orInt(config.Server.ReadTimeout, DefaultServerReadTimeout)),
		WriteTimeout: getEnvInt("SYROS_SERVER_WRITE_TIMEOUT", orInt(config.Server.WriteTimeout, DefaultServerWriteTimeout)),
	}

	config.Engine = EngineConfig{
		WALPath:      getEnv("SYROS_WAL_PATH", orStr(config.Engine.WALPath, DefaultWALPath)),
		MinWorkers:   getEnvInt("SYROS_MIN_WORKERS", orInt(config.Engine.MinWorkers, DefaultMinWorkers)),
		MaxWorkers:   getEnvInt("SYROS_MAX_WORKERS", orInt(config.Engine.MaxWorkers, DefaultMaxWorkers)),
		StartWorkers: getEnvInt("SYROS_START_WORKERS", orInt(config.Engine.StartWorkers, DefaultMinWorkers)),
		RetryCeiling: getEnvInt("SYROS_RETRY_CEILING", orInt(config.Engine.RetryCeiling, DefaultRetryCeiling)),
	}

	config.Limiter = LimiterConfig{
		RPM: getEnvInt("SYROS_RPM", orInt(config.Limiter.RPM, DefaultRPM)),
	}

	config.Snapshot = SnapshotConfig{
		Path:            getEnv("SYROS_SNAPSHOT_PATH", orStr(config.Snapshot.Path, DefaultSnapshotPath)),
		EveryResults:    getEnvInt("SYROS_SNAPSHOT_EVERY", orInt(config.Snapshot.EveryResults, DefaultSnapshotEvery)),
		IntervalSeconds: getEnvInt("SYROS_SNAPSHOT_INTERVAL", orInt(config.Snapshot.IntervalSeconds, DefaultSnapshotInterval)),
	}

	config.Cache = CacheConfig{
		Backend: getEnv("SYROS_CACHE_BACKEND", orStr(config.Cache.Backend, DefaultCacheBackend)),
		Path:    getEnv("SYROS_CACHE_PATH", orStr(config.Cache.Path, DefaultCachePath)),
	}

	config.LLM.BaseURL = getEnv("SYROS_LLM_BASE_URL", config.LLM.BaseURL)
	config.LLM.APIKey = os.Getenv("SYROS_LLM_API_KEY")
	config.LLM.Model = getEnv("SYROS_LLM_MODEL", config.LLM.Model)
	config.LLM.CallTimeoutSeconds = getEnvInt("SYROS_LLM_CALL_TIMEOUT", orInt(config.LLM.CallTimeoutSeconds, DefaultCallTimeout))

	config.NATS = NATSConfig{
		URL:     getEnv("SYROS_NATS_URL", config.NATS.URL),
		Subject: getEnv("SYROS_NATS_SUBJECT", orStr(config.NATS.Subject, DefaultNATSSubject)),
	}

	if config.Engine.MaxWorkers < config.Engine.MinWorkers {
		return nil, fmt.Errorf("maxWorkers (%d) must be >= minWorkers (%d)",
			config.Engine.MaxWorkers, config.Engine.MinWorkers)
	}
	if config.Limiter.RPM < 1 {
		return nil, fmt.Errorf("limiter rpm must be >= 1, got %d", config.Limiter.RPM)
	}

	return &config, nil
}

func orStr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func orInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
