package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Qdrant     QdrantConfig     `mapstructure:"qdrant"`
	Embedding  EmbeddingConfig  `mapstructure:"embedding"`
	Completion CompletionConfig `mapstructure:"completion"`
	Analysis   AnalysisConfig   `mapstructure:"analysis"`
}

type ServerConfig struct {
	Port int        `mapstructure:"port"`
	Mode string     `mapstructure:"mode"`
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // postgres or sqlite
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	Path            string        `mapstructure:"path"` // sqlite file path
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DSN builds the driver-specific connection string.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "postgres" {
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
	}
	return c.Path
}

type QdrantConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Collection      string `mapstructure:"collection"`
	APIKey          string `mapstructure:"api_key"`
	UseTLS          bool   `mapstructure:"use_tls"`
	VectorDimension int    `mapstructure:"vector_dimension"`
}

type EmbeddingConfig struct {
	Provider   string `mapstructure:"provider"`
	Model      string `mapstructure:"model"`
	APIKey     string `mapstructure:"api_key"`
	Dimensions int    `mapstructure:"dimensions"`
}

type CompletionConfig struct {
	Model       string  `mapstructure:"model"`
	APIKey      string  `mapstructure:"api_key"`
	BaseURL     string  `mapstructure:"base_url"`
	Temperature float32 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// AnalysisConfig tunes the batch coordinator and the per-record analysis
// pipeline. Defaults mirror production values: small pages, multi-second
// pacing, three completion attempts.
type AnalysisConfig struct {
	BatchSize            int           `mapstructure:"batch_size"`
	RecordDelay          time.Duration `mapstructure:"record_delay"`
	PageDelay            time.Duration `mapstructure:"page_delay"`
	ScheduleInterval     time.Duration `mapstructure:"schedule_interval"`
	ProgressEvery        int           `mapstructure:"progress_every"`
	MaxAttempts          int           `mapstructure:"max_attempts"`
	RetryBaseDelay       time.Duration `mapstructure:"retry_base_delay"`
	TopK                 int           `mapstructure:"top_k"`
	SimilarityThreshold  float32       `mapstructure:"similarity_threshold"`
	MaxContentLength     int           `mapstructure:"max_content_length"`
	ContextExcerptLength int           `mapstructure:"context_excerpt_length"`
	StaleProcessingAfter time.Duration `mapstructure:"stale_processing_after"`
}

func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// Enable environment variable override
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "vectorrag")
	v.SetDefault("database.name", "vectorrag")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.path", "./data/consultations.db")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("qdrant.host", "localhost")
	v.SetDefault("qdrant.port", 6334)
	v.SetDefault("qdrant.collection", "consultations")
	v.SetDefault("qdrant.vector_dimension", 1024)
	v.SetDefault("embedding.provider", "jina")
	v.SetDefault("embedding.model", "jina-embeddings-v3")
	v.SetDefault("embedding.dimensions", 1024)
	v.SetDefault("completion.model", "gpt-4o-mini")
	v.SetDefault("completion.base_url", "https://api.openai.com/v1")
	v.SetDefault("completion.temperature", 0.1)
	v.SetDefault("completion.max_tokens", 500)
	v.SetDefault("analysis.batch_size", 3)
	v.SetDefault("analysis.record_delay", 3*time.Second)
	v.SetDefault("analysis.page_delay", 5*time.Second)
	v.SetDefault("analysis.schedule_interval", 5*time.Minute)
	v.SetDefault("analysis.progress_every", 10)
	v.SetDefault("analysis.max_attempts", 3)
	v.SetDefault("analysis.retry_base_delay", time.Second)
	v.SetDefault("analysis.top_k", 3)
	v.SetDefault("analysis.similarity_threshold", 0.75)
	v.SetDefault("analysis.max_content_length", 2000)
	v.SetDefault("analysis.context_excerpt_length", 200)
	v.SetDefault("analysis.stale_processing_after", 30*time.Minute)

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Bind environment variables explicitly for sensitive data
	v.BindEnv("database.driver", "DB_DRIVER")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("database.name", "DB_NAME")
	v.BindEnv("qdrant.host", "QDRANT_HOST")
	v.BindEnv("qdrant.port", "QDRANT_PORT")
	v.BindEnv("qdrant.api_key", "QDRANT_API_KEY")
	v.BindEnv("embedding.api_key", "JINA_API_KEY")
	v.BindEnv("completion.api_key", "OPENAI_API_KEY")
	v.BindEnv("completion.base_url", "OPENAI_BASE_URL")
	v.BindEnv("completion.model", "COMPLETION_MODEL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}
