/*
Package core provides configuration management and logging initialization
for the chat proxy.

This file handles:
- Loading .env files and environment variables with sensible defaults
- Structured logging setup with configurable levels
- Backend transport, tool loop and vector search parameters

Environment variables always win over .env files, and .env files are only
a development convenience.
*/
package core

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// DefaultResponsesURL is the Responses API endpoint used when LLM_RESPONSES_URL is unset.
const DefaultResponsesURL = "https://api.openai.com/v1/responses"

// Config holds all configurable values for the chat proxy.
type Config struct {
	// Server configuration
	Port       string // HTTP server port number (default: "8000")
	AgentsDir  string // Directory holding agent definition files (default: "agents")
	StaticDir  string // Directory served under /static, holds widget.js (default: "static")
	TestPage   string // HTML page served on /test (default: "test.html")
	MetricsCSV string // CSV message log path (default: "metrics/messages.csv")

	// LLM backend configuration
	OpenAIAPIKey    string        // Default credential for LLM agents
	ResponsesURL    string        // Responses API endpoint
	APIKeyHeader    string        // Header carrying the credential (default: "api-key")
	BackendTimeout  time.Duration // Per-call timeout for every backend request (default: 30s)
	MaxToolParallel int           // Tool calls executed concurrently within a round (default: 4)
	CircuitBreaker  bool          // Wrap backend calls in a per-host circuit breaker (default: true)

	// Vector search configuration
	SearchTopK        int    // Matches requested per semantic search (default: 20)
	EmbeddingProvider string // "openai" or "ollama" (default: "openai")
	EmbeddingModel    string // Embedding model name (default: "text-embedding-3-small")
	EmbeddingAPIURL   string // Embedding API base URL, provider default when empty
	EmbeddingAPIKey   string // Falls back to OpenAIAPIKey
	VectorDSN         string // Postgres DSN for the pgvector index, in-memory index when empty
	VectorSeedFile    string // JSON entries loaded into the in-memory index

	// Logging configuration
	LogLevel          string // Minimum log level: debug, info, warn, error (default: "info")
	LogTruncateLength int    // Maximum length for logged payload text (default: 500)
}

// LoadEnv loads .env and .env.dev from the working directory if present.
// Values already set in the process environment are not overridden.
func LoadEnv() {
	for _, file := range []string{".env", ".env.dev"} {
		if _, err := os.Stat(file); err == nil {
			_ = godotenv.Load(file)
		}
	}
}

// LoadConfig loads configuration from environment variables with sensible defaults.
//
// Environment Variables:
//   - PORT, AGENTS_DIR, STATIC_DIR, TEST_PAGE, METRICS_CSV (string)
//   - OPENAI_API_KEY, LLM_RESPONSES_URL, LLM_API_KEY_HEADER (string)
//   - BACKEND_TIMEOUT: Per-call timeout in seconds (integer)
//   - MAX_TOOL_PARALLEL, SEARCH_TOP_K (integer)
//   - CIRCUIT_BREAKER (boolean: "true"/"1")
//   - EMBEDDING_PROVIDER, EMBEDDING_MODEL, EMBEDDING_API_URL, EMBEDDING_API_KEY (string)
//   - VECTOR_DSN, VECTOR_SEED_FILE (string)
//   - LOG_LEVEL (string), LOG_TRUNCATE_LENGTH (integer)
func LoadConfig() *Config {
	config := &Config{
		Port:       "8000",
		AgentsDir:  "agents",
		StaticDir:  "static",
		TestPage:   "test.html",
		MetricsCSV: "metrics/messages.csv",

		ResponsesURL:    DefaultResponsesURL,
		APIKeyHeader:    "api-key",
		BackendTimeout:  30 * time.Second,
		MaxToolParallel: 4,
		CircuitBreaker:  true,

		SearchTopK:        20,
		EmbeddingProvider: "openai",
		EmbeddingModel:    "text-embedding-3-small",

		LogLevel:          "info",
		LogTruncateLength: 500,
	}

	setString(&config.Port, "PORT")
	setString(&config.AgentsDir, "AGENTS_DIR")
	setString(&config.StaticDir, "STATIC_DIR")
	setString(&config.TestPage, "TEST_PAGE")
	setString(&config.MetricsCSV, "METRICS_CSV")

	setString(&config.OpenAIAPIKey, "OPENAI_API_KEY")
	setString(&config.ResponsesURL, "LLM_RESPONSES_URL")
	setString(&config.APIKeyHeader, "LLM_API_KEY_HEADER")

	if timeout := os.Getenv("BACKEND_TIMEOUT"); timeout != "" {
		if val, err := strconv.Atoi(timeout); err == nil && val > 0 {
			config.BackendTimeout = time.Duration(val) * time.Second
		}
	}
	setPositiveInt(&config.MaxToolParallel, "MAX_TOOL_PARALLEL")
	setPositiveInt(&config.SearchTopK, "SEARCH_TOP_K")

	if breaker := os.Getenv("CIRCUIT_BREAKER"); breaker != "" {
		config.CircuitBreaker = strings.ToLower(breaker) == "true" || breaker == "1"
	}

	if provider := strings.ToLower(os.Getenv("EMBEDDING_PROVIDER")); provider == "openai" || provider == "ollama" {
		config.EmbeddingProvider = provider
	}
	setString(&config.EmbeddingModel, "EMBEDDING_MODEL")
	setString(&config.EmbeddingAPIURL, "EMBEDDING_API_URL")
	config.EmbeddingAPIKey = config.OpenAIAPIKey
	setString(&config.EmbeddingAPIKey, "EMBEDDING_API_KEY")
	setString(&config.VectorDSN, "VECTOR_DSN")
	setString(&config.VectorSeedFile, "VECTOR_SEED_FILE")

	setString(&config.LogLevel, "LOG_LEVEL")
	setPositiveInt(&config.LogTruncateLength, "LOG_TRUNCATE_LENGTH")

	return config
}

func setString(field *string, key string) {
	if value := os.Getenv(key); value != "" {
		*field = value
	}
}

func setPositiveInt(field *int, key string) {
	if value := os.Getenv(key); value != "" {
		if val, err := strconv.Atoi(value); err == nil && val > 0 {
			*field = val
		}
	}
}

// SearchEnabled reports whether enough is configured to build a vector search client.
func (c *Config) SearchEnabled() bool {
	if c.VectorDSN == "" && c.VectorSeedFile == "" {
		return false
	}
	return c.EmbeddingProvider == "ollama" || c.EmbeddingAPIKey != ""
}

// InitializeLogger configures and returns a JSON logger based on the provided configuration.
//
// Parameters:
//   - config: Configuration object containing logging preferences
//
// Returns:
//   - *logrus.Logger: Configured logger instance ready for use
func InitializeLogger(config *Config) *logrus.Logger {
	logger := logrus.New()

	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
	})

	switch strings.ToLower(config.LogLevel) {
	case "debug":
		logger.SetLevel(logrus.DebugLevel)
	case "info":
		logger.SetLevel(logrus.InfoLevel)
	case "warn", "warning":
		logger.SetLevel(logrus.WarnLevel)
	case "error":
		logger.SetLevel(logrus.ErrorLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}

	logger.SetOutput(os.Stdout)

	// Tool loggers are package-level entries on the standard logger; keep them in step.
	logrus.SetFormatter(logger.Formatter)
	logrus.SetLevel(logger.GetLevel())

	logger.WithFields(logrus.Fields{
		"port":              config.Port,
		"agentsDir":         config.AgentsDir,
		"responsesURL":      config.ResponsesURL,
		"backendTimeout":    config.BackendTimeout,
		"maxToolRounds":     MaxToolRounds,
		"maxToolParallel":   config.MaxToolParallel,
		"circuitBreaker":    config.CircuitBreaker,
		"searchEnabled":     config.SearchEnabled(),
		"embeddingProvider": config.EmbeddingProvider,
		"embeddingModel":    config.EmbeddingModel,
		"searchTopK":        config.SearchTopK,
		"logTruncateLength": config.LogTruncateLength,
	}).Info("Configuration loaded")

	return logger
}
