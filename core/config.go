package core

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration values.
type Config struct {
	// Storage layout
	DataDir      string // Root data directory
	DatabasePath string
	BlobDir      string // Uploaded document blobs
	IndexDir     string // Persisted vector indexes, one file per document
	CacheDir     string // Gateway response cache spill

	// HTTP server
	Port int
	Host string

	// LLM gateway
	LLMMode       string // "mock" or "remote"
	LLMBaseURL    string // OpenAI-compatible endpoint (Ollama, LM Studio, OpenAI)
	LLMAPIKey     string
	LLMModel      string
	EmbedModel    string
	EmbedDim      int
	LLMTimeout    time.Duration
	MaxRetries    int
	RetryDelay    time.Duration
	MockDelay     time.Duration
	EnableCaching bool
	LLMConfigPath string // Persisted runtime mode selection

	// Pipeline
	ChunkSize     int // Target chunk size in characters
	ChunkOverlap  int // Overlap between consecutive chunks in characters
	EmbedBatch    int // Chunks per embedding request
	RetrievalTopK int // Chunks retrieved per question

	// Limits
	MaxFileSize     int64
	ShutdownTimeout time.Duration

	// APIToken, when set, is required as a bearer token on all /api routes.
	APIToken string
}

// LoadConfig loads configuration from environment variables with defaults
// suitable for local development. Only the data directory must be writable.
func LoadConfig() (*Config, error) {
	dataDir := getEnvOrDefault("DATA_DIR", "./data")

	cfg := &Config{
		DataDir:      dataDir,
		DatabasePath: getEnvOrDefault("DATABASE_PATH", filepath.Join(dataDir, "db", "finanalyst.db")),
		BlobDir:      getEnvOrDefault("BLOB_DIR", filepath.Join(dataDir, "blobs")),
		IndexDir:     getEnvOrDefault("INDEX_DIR", filepath.Join(dataDir, "vector_db")),
		CacheDir:     getEnvOrDefault("CACHE_DIR", filepath.Join(dataDir, "cache")),

		Port: parseIntEnv("PORT", 8000),
		Host: getEnvOrDefault("HOST", "0.0.0.0"),

		LLMMode:       getEnvOrDefault("LLM_MODE", "mock"),
		LLMBaseURL:    getEnvOrDefault("LLM_BASE_URL", "http://localhost:11434/v1"),
		LLMAPIKey:     os.Getenv("LLM_API_KEY"),
		LLMModel:      getEnvOrDefault("LLM_MODEL", "gpt-4o-mini"),
		EmbedModel:    getEnvOrDefault("EMBED_MODEL", "text-embedding-3-small"),
		EmbedDim:      parseIntEnv("EMBED_DIM", 768),
		LLMTimeout:    parseDurationEnv("LLM_TIMEOUT", 5*time.Minute),
		MaxRetries:    parseIntEnv("LLM_MAX_RETRIES", 3),
		RetryDelay:    parseDurationEnv("LLM_RETRY_DELAY", 2*time.Second),
		MockDelay:     parseDurationEnv("MOCK_DELAY", 0),
		EnableCaching: parseBoolEnv("ENABLE_CACHING", true),
		LLMConfigPath: getEnvOrDefault("LLM_CONFIG_PATH", filepath.Join(dataDir, "llm_config.yaml")),

		ChunkSize:     parseIntEnv("CHUNK_SIZE", 1000),
		ChunkOverlap:  parseIntEnv("CHUNK_OVERLAP", 100),
		EmbedBatch:    parseIntEnv("EMBED_BATCH", 16),
		RetrievalTopK: parseIntEnv("RETRIEVAL_TOP_K", 5),

		MaxFileSize:     parseInt64Env("MAX_FILE_SIZE", 50<<20),
		ShutdownTimeout: parseDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),

		APIToken: os.Getenv("API_TOKEN"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks configuration invariants that would otherwise surface as
// confusing failures deep inside the pipeline.
func (c *Config) Validate() error {
	if c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("CHUNK_OVERLAP (%d) must be strictly less than CHUNK_SIZE (%d)", c.ChunkOverlap, c.ChunkSize)
	}
	if c.RetrievalTopK <= 0 {
		return fmt.Errorf("RETRIEVAL_TOP_K must be positive, got %d", c.RetrievalTopK)
	}
	if c.EmbedBatch <= 0 {
		return fmt.Errorf("EMBED_BATCH must be positive, got %d", c.EmbedBatch)
	}
	switch c.LLMMode {
	case "mock", "remote":
	default:
		return fmt.Errorf("LLM_MODE must be \"mock\" or \"remote\", got %q", c.LLMMode)
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("LLM_MAX_RETRIES must be at least 1, got %d", c.MaxRetries)
	}
	return nil
}

// EnsureDirectories creates the storage layout if it does not exist.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.DataDir,
		filepath.Dir(c.DatabasePath),
		c.BlobDir,
		c.IndexDir,
		c.CacheDir,
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func parseInt64Env(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return defaultValue
}

func parseDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		// Bare numbers are treated as seconds for compatibility with
		// older deployments that set e.g. MOCK_DELAY=2.
		if n, err := strconv.Atoi(value); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return defaultValue
}
