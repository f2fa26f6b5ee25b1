package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the full configuration for the workflow agent service.
type Config struct {
	// Service configuration
	Port             string
	LogLevel         string
	LogFormat        string
	ServiceVersion   string
	GracefulShutdown time.Duration

	// LLM configuration
	LLMAPIKey       string
	LLMEndpoint     string // set for Azure OpenAI deployments, empty for api.openai.com
	LLMModelName    string
	LLMTimeout      time.Duration
	LLMMaxTokens    int
	MaxContextChars int

	// Weaviate configuration
	WeaviateHost    string
	WeaviateScheme  string
	WeaviateAPIKey  string
	WeaviateClass   string
	WeaviateTimeout time.Duration

	// Resolver configuration
	SemanticTopK        int
	ConfidenceThreshold float32
	HybridAlpha         float32

	// Redis query cache (optional, disabled when address is empty)
	RedisAddress  string
	RedisPassword string
	RedisDatabase int
	QueryCacheTTL time.Duration

	// Blob storage (optional, disabled when bucket is empty)
	S3Bucket string
	S3Region string

	// XML ingest
	XMLDirectory   string
	MaxXMLFileSize int64

	// Debugging rule table override; empty uses the embedded defaults
	DebugRulesFile string
}

// Load reads configuration from environment variables with defaults and
// fail-fast validation.
func Load() (*Config, error) {
	var errs []string

	cfg := &Config{
		Port:             getEnvOrDefault("PORT", "8080"),
		LogLevel:         getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:        getEnvOrDefault("LOG_FORMAT", "json"),
		ServiceVersion:   getEnvOrDefault("SERVICE_VERSION", "1.0.0"),
		GracefulShutdown: parseDuration("GRACEFUL_SHUTDOWN_TIMEOUT", 30*time.Second, &errs),

		LLMAPIKey:       os.Getenv("LLM_API_KEY"),
		LLMEndpoint:     os.Getenv("LLM_ENDPOINT"),
		LLMModelName:    getEnvOrDefault("LLM_MODEL_NAME", "gpt-4o-mini"),
		LLMTimeout:      parseDuration("LLM_TIMEOUT", 30*time.Second, &errs),
		LLMMaxTokens:    parseInt("LLM_MAX_TOKENS", 1024, &errs),
		MaxContextChars: parseInt("LLM_MAX_CONTEXT_CHARS", 12000, &errs),

		WeaviateHost:    getEnvOrDefault("WEAVIATE_HOST", "localhost:8081"),
		WeaviateScheme:  getEnvOrDefault("WEAVIATE_SCHEME", "http"),
		WeaviateAPIKey:  os.Getenv("WEAVIATE_API_KEY"),
		WeaviateClass:   getEnvOrDefault("WEAVIATE_CLASS", "WorkflowMetadata"),
		WeaviateTimeout: parseDuration("WEAVIATE_TIMEOUT", 15*time.Second, &errs),

		SemanticTopK:        parseInt("SEMANTIC_TOP_K", 10, &errs),
		ConfidenceThreshold: parseFloat32("CONFIDENCE_THRESHOLD", 0.30, &errs),
		HybridAlpha:         parseFloat32("HYBRID_ALPHA", 0.7, &errs),

		RedisAddress:  os.Getenv("REDIS_ADDRESS"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDatabase: parseInt("REDIS_DATABASE", 0, &errs),
		QueryCacheTTL: parseDuration("QUERY_CACHE_TTL", 5*time.Minute, &errs),

		S3Bucket: os.Getenv("S3_BUCKET"),
		S3Region: getEnvOrDefault("S3_REGION", "us-east-1"),

		XMLDirectory:   getEnvOrDefault("XML_FILES_DIRECTORY", "./xml_files"),
		MaxXMLFileSize: parseInt64("MAX_XML_FILE_SIZE", 50*1024*1024, &errs),

		DebugRulesFile: os.Getenv("DEBUG_RULES_FILE"),
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks configuration invariants before the service starts
func (c *Config) Validate() error {
	var errs []string

	if c.Port == "" {
		errs = append(errs, "PORT must not be empty")
	}
	if c.SemanticTopK <= 0 {
		errs = append(errs, "SEMANTIC_TOP_K must be positive")
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		errs = append(errs, "CONFIDENCE_THRESHOLD must be within [0, 1]")
	}
	if c.HybridAlpha < 0 || c.HybridAlpha > 1 {
		errs = append(errs, "HYBRID_ALPHA must be within [0, 1]")
	}
	if c.WeaviateHost == "" {
		errs = append(errs, "WEAVIATE_HOST must not be empty")
	}
	if c.MaxXMLFileSize <= 0 {
		errs = append(errs, "MAX_XML_FILE_SIZE must be positive")
	}
	if c.LLMTimeout <= 0 {
		errs = append(errs, "LLM_TIMEOUT must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}

// LLMEnabled reports whether a completion backend is configured. Without it
// the service still answers from retrieval results alone.
func (c *Config) LLMEnabled() bool {
	return c.LLMAPIKey != ""
}

// RedisEnabled reports whether the query cache is configured
func (c *Config) RedisEnabled() bool {
	return c.RedisAddress != ""
}

// BlobStoreEnabled reports whether uploaded set files are persisted to S3
func (c *Config) BlobStoreEnabled() bool {
	return c.S3Bucket != ""
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func parseDuration(key string, defaultValue time.Duration, errs *[]string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid duration %q", key, v))
		return defaultValue
	}
	return d
}

func parseInt(key string, defaultValue int, errs *[]string) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid integer %q", key, v))
		return defaultValue
	}
	return n
}

func parseInt64(key string, defaultValue int64, errs *[]string) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid integer %q", key, v))
		return defaultValue
	}
	return n
}

func parseFloat32(key string, defaultValue float32, errs *[]string) float32 {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(v, 32)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid number %q", key, v))
		return defaultValue
	}
	return float32(f)
}
