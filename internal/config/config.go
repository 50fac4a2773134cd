// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Provider selects the persona/proctor backend.
type Provider string

const (
	ProviderGemini    Provider = "gemini"
	ProviderAnthropic Provider = "anthropic"
	ProviderGRPC      Provider = "grpc"
)

// DefaultDBPath is used when DB_PATH is unset.
const DefaultDBPath = "./data/recovery-room.db"

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string
	// SessionIdleTTL is how long a session may sit without student input
	// before it is evicted from memory.
	SessionIdleTTL time.Duration
	// RunRetention is how long abandoned runs are kept in the database.
	RunRetention time.Duration

	Proctor    ProctorConfig
	Simulation SimulationConfig
	RateLimit  RateLimitConfig
	Transcript TranscriptConfig

	// OTLPEndpoint enables tracing when set.
	OTLPEndpoint string
	LogLevel     string
}

// ProctorConfig selects and configures the reasoning service.
type ProctorConfig struct {
	Provider        Provider
	Model           string
	GeminiAPIKey    string
	AnthropicAPIKey string
	GRPCAddr        string
	Timeout         time.Duration
	// PromptsPath optionally overrides the embedded prompt catalog.
	PromptsPath string
}

// SimulationConfig tunes the session state machine.
type SimulationConfig struct {
	EnforceThresholds bool
}

// RateLimitConfig bounds student turns per student.
type RateLimitConfig struct {
	Turns  int
	Window time.Duration
}

// TranscriptConfig controls NDJSON transcript logging.
type TranscriptConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("TRANSCRIPT_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		FrontendURL:    getEnv("FRONTEND_URL", ""),
		DBPath:         getEnv("DB_PATH", DefaultDBPath),
		SessionIdleTTL: getEnvDuration("SESSION_IDLE_TTL", 30*time.Minute),
		RunRetention:   getEnvDuration("RUN_RETENTION", 7*24*time.Hour),
		Proctor: ProctorConfig{
			Provider:        Provider(strings.ToLower(getEnv("PROCTOR_PROVIDER", string(ProviderGemini)))),
			Model:           getEnv("PROCTOR_MODEL", ""),
			GeminiAPIKey:    firstEnv("GEMINI_API_KEY", "GOOGLE_API_KEY"),
			AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
			GRPCAddr:        getEnv("PROCTOR_GRPC_ADDR", "localhost:50051"),
			Timeout:         getEnvDuration("PROCTOR_TIMEOUT", 60*time.Second),
			PromptsPath:     getEnv("PROMPTS_PATH", ""),
		},
		Simulation: SimulationConfig{
			EnforceThresholds: getEnvBool("SIM_ENFORCE_THRESHOLDS", true),
		},
		RateLimit: RateLimitConfig{
			Turns:  getEnvInt("RATE_LIMIT_TURNS", 20),
			Window: getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		Transcript: TranscriptConfig{
			Enabled:   getEnvBool("TRANSCRIPT_LOG_ENABLED", true),
			Dir:       getEnv("TRANSCRIPT_LOG_DIR", "./data/logs/transcripts"),
			QueueSize: queueSize,
		},
		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return errors.New("DB_PATH cannot be empty")
	}
	if c.SessionIdleTTL <= 0 {
		return errors.New("SESSION_IDLE_TTL must be > 0")
	}
	if err := c.Proctor.Validate(); err != nil {
		return err
	}
	if c.RateLimit.Turns > 0 && c.RateLimit.Window <= 0 {
		return errors.New("RATE_LIMIT_WINDOW must be > 0 when RATE_LIMIT_TURNS is set")
	}
	if c.Transcript.Enabled && c.Transcript.Dir == "" {
		return errors.New("TRANSCRIPT_LOG_DIR cannot be empty")
	}
	if c.Transcript.QueueSize <= 0 {
		return errors.New("TRANSCRIPT_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// Validate checks that the selected provider has what it needs.
func (p ProctorConfig) Validate() error {
	switch p.Provider {
	case ProviderGemini:
		if p.GeminiAPIKey == "" {
			return errors.New("GEMINI_API_KEY is required for the gemini provider")
		}
	case ProviderAnthropic:
		if p.AnthropicAPIKey == "" {
			return errors.New("ANTHROPIC_API_KEY is required for the anthropic provider")
		}
	case ProviderGRPC:
		if p.GRPCAddr == "" {
			return errors.New("PROCTOR_GRPC_ADDR is required for the grpc provider")
		}
	default:
		return fmt.Errorf("PROCTOR_PROVIDER %q is not one of gemini, anthropic, grpc", p.Provider)
	}
	if p.Timeout <= 0 {
		return errors.New("PROCTOR_TIMEOUT must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origins for the configured frontend.
func (c *Config) AllowedOrigins() []string {
	if c.FrontendURL == "" {
		return []string{"http://localhost:5173", "http://localhost:3000"}
	}
	var origins []string
	for _, o := range strings.Split(c.FrontendURL, ",") {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if value := strings.TrimSpace(os.Getenv(key)); value != "" {
			return value
		}
	}
	return ""
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
