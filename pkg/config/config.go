// Package config loads the ragmesh configuration from a YAML file and
// environment variables. Env vars use the RAGMESH_ prefix with dots replaced
// by underscores (RAGMESH_DATABASE_HOST), and config values may reference the
// environment with ${VAR} or ${VAR:-default}.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// APIConfig defines the HTTP server configuration
type APIConfig struct {
	ListenAddress string        `mapstructure:"listen_address"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	IdleTimeout   time.Duration `mapstructure:"idle_timeout"`
}

// DatabaseConfig defines the Postgres connection configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN builds the lib/pq connection string
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig defines the Redis connection configuration
type RedisConfig struct {
	Address      string        `mapstructure:"address"`
	Password     string        `mapstructure:"password"`
	Database     int           `mapstructure:"database"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
}

// GeminiConfig defines the upstream model API configuration
type GeminiConfig struct {
	APIKey          string        `mapstructure:"api_key"`
	BaseURL         string        `mapstructure:"base_url"`
	GenerationModel string        `mapstructure:"generation_model"`
	EmbeddingModel  string        `mapstructure:"embedding_model"`
	EmbeddingDim    int           `mapstructure:"embedding_dim"`
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
}

// RetrievalConfig defines hybrid retrieval candidate limits
type RetrievalConfig struct {
	VectorTopK int `mapstructure:"vector_top_k"`
	BM25TopK   int `mapstructure:"bm25_top_k"`
}

// ChunkingConfig defines semantic chunker limits in tokens
type ChunkingConfig struct {
	MinChunkTokens int `mapstructure:"min_chunk_tokens"`
	MaxChunkTokens int `mapstructure:"max_chunk_tokens"`
	OverlapTokens  int `mapstructure:"overlap_tokens"`
}

// BudgetConfig defines the prompt token budget parameters
type BudgetConfig struct {
	ModelMaxTokens  int `mapstructure:"model_max_tokens"`
	MaxOutputTokens int `mapstructure:"max_output_tokens"`
	SafetyMargin    int `mapstructure:"safety_margin"`
}

// RateLimitConfig defines the per-tenant token bucket
type RateLimitConfig struct {
	RequestsPerWindow int           `mapstructure:"requests_per_window"`
	Window            time.Duration `mapstructure:"window"`
}

// QuotaConfig defines daily per-tenant usage ceilings
type QuotaConfig struct {
	DailyTokenLimit int64   `mapstructure:"daily_token_limit"`
	DailyCostLimit  float64 `mapstructure:"daily_cost_limit"`
}

// BreakerConfig defines the generation circuit breaker
type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	FailureWindow    time.Duration `mapstructure:"failure_window"`
	OpenTimeout      time.Duration `mapstructure:"open_timeout"`
	SuccessThreshold int           `mapstructure:"success_threshold"`
}

// ShedConfig defines load shedding thresholds in percent
type ShedConfig struct {
	SampleInterval   time.Duration `mapstructure:"sample_interval"`
	CPUElevated      float64       `mapstructure:"cpu_elevated"`
	CPUHigh          float64       `mapstructure:"cpu_high"`
	CPUCritical      float64       `mapstructure:"cpu_critical"`
	MemoryElevated   float64       `mapstructure:"memory_elevated"`
	MemoryHigh       float64       `mapstructure:"memory_high"`
	MemoryCritical   float64       `mapstructure:"memory_critical"`
	RejectOnCritical bool          `mapstructure:"reject_on_critical"`
}

// ProtectionConfig groups the protection layer configuration
type ProtectionConfig struct {
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Quota     QuotaConfig     `mapstructure:"quota"`
	Breaker   BreakerConfig   `mapstructure:"breaker"`
	Shed      ShedConfig      `mapstructure:"shed"`
}

// WorkerConfig defines the ingestion worker pool
type WorkerConfig struct {
	Concurrency     int           `mapstructure:"concurrency"`
	QueueName       string        `mapstructure:"queue_name"`
	MaxRetries      int           `mapstructure:"max_retries"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff"`
	RetryBackoffMax time.Duration `mapstructure:"retry_backoff_max"`
	ProcessTimeout  time.Duration `mapstructure:"process_timeout"`
}

// StorageConfig defines document file storage
type StorageConfig struct {
	BasePath      string `mapstructure:"base_path"`
	MaxFileSizeMB int    `mapstructure:"max_file_size_mb"`
}

// Config holds the complete application configuration
type Config struct {
	Environment string           `mapstructure:"environment"`
	API         APIConfig        `mapstructure:"api"`
	Database    DatabaseConfig   `mapstructure:"database"`
	Redis       RedisConfig      `mapstructure:"redis"`
	Gemini      GeminiConfig     `mapstructure:"gemini"`
	Retrieval   RetrievalConfig  `mapstructure:"retrieval"`
	Chunking    ChunkingConfig   `mapstructure:"chunking"`
	Budget      BudgetConfig     `mapstructure:"budget"`
	Protection  ProtectionConfig `mapstructure:"protection"`
	Worker      WorkerConfig     `mapstructure:"worker"`
	Storage     StorageConfig    `mapstructure:"storage"`
}

// Load loads configuration from file and environment variables
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	configFile := os.Getenv("RAGMESH_CONFIG_FILE")
	if configFile == "" {
		configFile = "configs/config.yaml"
	}
	v.SetConfigFile(configFile)

	v.SetEnvPrefix("RAGMESH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.AllowEmptyEnv(true)

	if err := v.ReadInConfig(); err != nil {
		// Config file is optional when env vars carry the settings.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	processEnvExpansion(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate rejects configurations that cannot produce a working service
func (c *Config) Validate() error {
	if c.Budget.ModelMaxTokens <= c.Budget.MaxOutputTokens+c.Budget.SafetyMargin {
		return fmt.Errorf("budget.model_max_tokens (%d) must exceed max_output_tokens+safety_margin (%d)",
			c.Budget.ModelMaxTokens, c.Budget.MaxOutputTokens+c.Budget.SafetyMargin)
	}
	if c.Chunking.MinChunkTokens <= 0 || c.Chunking.MaxChunkTokens <= c.Chunking.MinChunkTokens {
		return fmt.Errorf("chunking requires 0 < min_chunk_tokens < max_chunk_tokens, got min=%d max=%d",
			c.Chunking.MinChunkTokens, c.Chunking.MaxChunkTokens)
	}
	if c.Protection.RateLimit.RequestsPerWindow <= 0 || c.Protection.RateLimit.Window <= 0 {
		return fmt.Errorf("protection.rate_limit requires positive requests_per_window and window")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be positive")
	}
	return nil
}

// processEnvExpansion expands ${VAR} and ${VAR:-default} references in values
func processEnvExpansion(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		value := v.GetString(key)
		if value == "" {
			continue
		}
		if strings.Contains(value, "${") && strings.Contains(value, "}") {
			expanded := expandEnvVars(value)
			if expanded != value {
				v.Set(key, expanded)
			}
		}
	}
}

// expandEnvVars expands environment variables in a string
func expandEnvVars(value string) string {
	result := value

	for {
		start := strings.Index(result, "${")
		if start == -1 {
			break
		}
		end := strings.Index(result[start:], "}")
		if end == -1 {
			break
		}
		end += start

		varRef := result[start+2 : end]

		var envVar, defaultVal string
		if strings.Contains(varRef, ":-") {
			parts := strings.SplitN(varRef, ":-", 2)
			envVar = parts[0]
			defaultVal = parts[1]
		} else {
			envVar = varRef
		}

		envVal := os.Getenv(envVar)
		if envVal == "" && defaultVal != "" {
			envVal = defaultVal
		}

		result = result[:start] + envVal + result[end+1:]
	}

	return result
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "dev")

	v.SetDefault("api.listen_address", ":8080")
	v.SetDefault("api.read_timeout", 30*time.Second)
	v.SetDefault("api.write_timeout", 120*time.Second)
	v.SetDefault("api.idle_timeout", 90*time.Second)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "ragmesh")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "ragmesh")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.database", 0)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.read_timeout", 3*time.Second)
	v.SetDefault("redis.write_timeout", 3*time.Second)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)

	v.SetDefault("gemini.base_url", "https://generativelanguage.googleapis.com")
	v.SetDefault("gemini.generation_model", "gemini-1.5-pro")
	v.SetDefault("gemini.embedding_model", "embedding-001")
	v.SetDefault("gemini.embedding_dim", 768)
	v.SetDefault("gemini.timeout", 60*time.Second)
	v.SetDefault("gemini.max_retries", 3)

	v.SetDefault("retrieval.vector_top_k", 50)
	v.SetDefault("retrieval.bm25_top_k", 20)

	v.SetDefault("chunking.min_chunk_tokens", 50)
	v.SetDefault("chunking.max_chunk_tokens", 500)
	v.SetDefault("chunking.overlap_tokens", 100)

	v.SetDefault("budget.model_max_tokens", 1048576)
	v.SetDefault("budget.max_output_tokens", 8192)
	v.SetDefault("budget.safety_margin", 100)

	v.SetDefault("protection.rate_limit.requests_per_window", 10)
	v.SetDefault("protection.rate_limit.window", 60*time.Second)

	v.SetDefault("protection.quota.daily_token_limit", int64(1000000))
	v.SetDefault("protection.quota.daily_cost_limit", 10.0)

	v.SetDefault("protection.breaker.failure_threshold", 5)
	v.SetDefault("protection.breaker.failure_window", 60*time.Second)
	v.SetDefault("protection.breaker.open_timeout", 60*time.Second)
	v.SetDefault("protection.breaker.success_threshold", 2)

	v.SetDefault("protection.shed.sample_interval", 5*time.Second)
	v.SetDefault("protection.shed.cpu_elevated", 70.0)
	v.SetDefault("protection.shed.cpu_high", 85.0)
	v.SetDefault("protection.shed.cpu_critical", 95.0)
	v.SetDefault("protection.shed.memory_elevated", 75.0)
	v.SetDefault("protection.shed.memory_high", 90.0)
	v.SetDefault("protection.shed.memory_critical", 95.0)
	v.SetDefault("protection.shed.reject_on_critical", false)

	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.queue_name", "ingest:queue")
	v.SetDefault("worker.max_retries", 3)
	v.SetDefault("worker.retry_backoff", time.Second)
	v.SetDefault("worker.retry_backoff_max", 8*time.Second)
	v.SetDefault("worker.process_timeout", 10*time.Minute)

	v.SetDefault("storage.base_path", "./storage")
	v.SetDefault("storage.max_file_size_mb", 25)
}
