package config

import (
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port        string `envconfig:"PORT" default:"8080"`
	Debug       bool   `envconfig:"DEBUG" default:"false"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogFile     string `envconfig:"LOG_FILE"`

	// Without a database the retrieval index starts empty
	DatabaseURL string `envconfig:"DATABASE_URL"`

	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretKey string `envconfig:"S3_SECRET_ACCESS_KEY"`
	S3Bucket    string `envconfig:"S3_BUCKET" default:"interview-audio"`
	S3Region    string `envconfig:"S3_REGION" default:"us-east-1"`

	OpenAIAPIKey       string `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL      string `envconfig:"OPENAI_BASE_URL"`
	OpenAIChatModel    string `envconfig:"OPENAI_CHAT_MODEL" default:"gpt-4o-mini"`
	OpenAIWhisperModel string `envconfig:"OPENAI_WHISPER_MODEL" default:"whisper-1"`

	NATSURL   string `envconfig:"NATS_URL"`
	SentryDSN string `envconfig:"SENTRY_DSN"`

	// Static key guarding the HTTP API; empty disables the check
	APIKey string `envconfig:"API_KEY"`
	// HS256 secret shared with the auth service; access tokens bind requests to a user
	JWTSecret string        `envconfig:"JWT_SECRET"`
	JWTLeeway time.Duration `envconfig:"JWT_LEEWAY" default:"30s"`

	// Largest accepted JSON request body; audio streams are limited per frame instead
	MaxBodyBytes int64 `envconfig:"MAX_BODY_BYTES" default:"1048576"`

	ReorderWindow      int           `envconfig:"REORDER_WINDOW" default:"64"`
	EndGrace           time.Duration `envconfig:"END_GRACE" default:"2s"`
	TransportRetries   int           `envconfig:"TRANSPORT_RETRIES" default:"3"`
	ComposerRetries    int           `envconfig:"COMPOSER_RETRIES" default:"2"`
	GatewayConcurrency int64         `envconfig:"GATEWAY_CONCURRENCY" default:"8"`
	TopK               int           `envconfig:"TOP_K" default:"3"`

	TranscriptionTimeout time.Duration `envconfig:"TRANSCRIPTION_TIMEOUT" default:"60s"`
	GenerationTimeout    time.Duration `envconfig:"GENERATION_TIMEOUT" default:"45s"`
	EmbeddingTimeout     time.Duration `envconfig:"EMBEDDING_TIMEOUT" default:"15s"`

	IndexReloadInterval time.Duration `envconfig:"INDEX_RELOAD_INTERVAL" default:"10m"`
	ResultTTL           time.Duration `envconfig:"RESULT_TTL" default:"1h"`
	SessionLinger       time.Duration `envconfig:"SESSION_LINGER" default:"5s"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("COACH", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

func (c *Config) validate() error {
	if c.ReorderWindow <= 0 {
		return fmt.Errorf("REORDER_WINDOW must be positive, got %d", c.ReorderWindow)
	}
	if c.TransportRetries < 0 || c.ComposerRetries < 0 {
		return fmt.Errorf("retry counts cannot be negative")
	}
	if (c.S3AccessKey == "") != (c.S3SecretKey == "") {
		return fmt.Errorf("S3_ACCESS_KEY_ID and S3_SECRET_ACCESS_KEY must be set together")
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("MAX_BODY_BYTES must be positive, got %d", c.MaxBodyBytes)
	}
	if c.GatewayConcurrency <= 0 {
		return fmt.Errorf("GATEWAY_CONCURRENCY must be positive, got %d", c.GatewayConcurrency)
	}
	return nil
}

// HasS3 reports whether audio archiving is configured. Without static keys the
// default AWS credential chain is used.
func (c *Config) HasS3() bool {
	return c.S3Endpoint != "" || c.S3AccessKey != ""
}

func (c *Config) HasOpenAI() bool {
	return c.OpenAIAPIKey != ""
}

func (c *Config) HasNATS() bool {
	return c.NATSURL != ""
}

func (c *Config) HasDatabase() bool {
	return c.DatabaseURL != ""
}

func (c *Config) HasSentry() bool {
	return c.SentryDSN != ""
}
