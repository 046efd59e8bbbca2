package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultDotEnv is the .env file read from the working directory.
const DefaultDotEnv = ".env"

// LoadDotEnv applies the KEY=VALUE pairs in path as environment variables.
// Variables that are already set are left untouched. A missing file is not
// an error. Returns whether the file was loaded.
func LoadDotEnv(path string, log *slog.Logger) (bool, error) {
	if path == "" {
		path = DefaultDotEnv
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Debug("config: no .env file found", slog.String("path", path))
			return false, nil
		}
		return false, fmt.Errorf("config: failed to load %s: %w", path, err)
	}
	log.Debug("config: loaded .env file", slog.String("path", path))
	return true, nil
}

// Index backends accepted by INDEX_BACKEND.
const (
	IndexSQLite = "sqlite"
	IndexBolt   = "bolt"
	IndexQdrant = "qdrant"
	IndexMemory = "memory"
)

// Settings are the application knobs read from the environment after the
// files have been layered in. Model and embedding settings are read by their
// own factories.
type Settings struct {
	IndexBackend string
	// IndexPath is empty when the backend's default location applies.
	IndexPath    string
	IndexTimeout time.Duration

	QdrantHost   string
	QdrantPort   int
	QdrantPrefix string
	QdrantAPIKey string
	QdrantTLS    bool

	ChunkSize           int
	ChunkOverlap        int
	MaxResults          int
	MaxHistory          int
	ResolverMaxDistance float32
	GenerateTimeout     time.Duration

	Host      string
	Port      int
	RateLimit float64
	Docs      string
}

// FromEnv reads Settings, applying defaults for unset or malformed values.
func FromEnv() *Settings {
	return &Settings{
		IndexBackend: strings.ToLower(getEnvOrDefault("INDEX_BACKEND", IndexSQLite)),
		IndexPath:    os.Getenv("INDEX_PATH"),
		IndexTimeout: getEnvDuration("INDEX_TIMEOUT", 30*time.Second),

		QdrantHost:   getEnvOrDefault("QDRANT_HOST", "localhost"),
		QdrantPort:   getEnvInt("QDRANT_PORT", 6334),
		QdrantPrefix: getEnvOrDefault("QDRANT_PREFIX", "courserag"),
		QdrantAPIKey: os.Getenv("QDRANT_API_KEY"),
		QdrantTLS:    getEnvBool("QDRANT_TLS"),

		ChunkSize:           getEnvInt("CHUNK_SIZE", 800),
		ChunkOverlap:        getEnvInt("CHUNK_OVERLAP", 100),
		MaxResults:          getEnvInt("MAX_RESULTS", 5),
		MaxHistory:          getEnvInt("MAX_HISTORY", 2),
		ResolverMaxDistance: float32(getEnvFloat("RESOLVER_MAX_DISTANCE", 0)),
		GenerateTimeout:     getEnvDuration("GENERATE_TIMEOUT", 60*time.Second),

		Host:      getEnvOrDefault("COURSERAG_HOST", "127.0.0.1"),
		Port:      getEnvInt("COURSERAG_PORT", 8000),
		RateLimit: getEnvFloat("COURSERAG_RATE_LIMIT", 2),
		Docs:      os.Getenv("COURSERAG_DOCS"),
	}
}

// Validate rejects settings no component could run with.
func (s *Settings) Validate() error {
	switch s.IndexBackend {
	case IndexSQLite, IndexBolt, IndexQdrant, IndexMemory:
	default:
		return fmt.Errorf("config: INDEX_BACKEND %q: want sqlite, bolt, qdrant or memory", s.IndexBackend)
	}
	if s.ChunkSize <= 0 {
		return fmt.Errorf("config: CHUNK_SIZE must be positive, got %d", s.ChunkSize)
	}
	if s.ChunkOverlap < 0 || s.ChunkOverlap >= s.ChunkSize {
		return fmt.Errorf("config: CHUNK_OVERLAP must be in [0, CHUNK_SIZE), got %d", s.ChunkOverlap)
	}
	if s.MaxResults <= 0 {
		return fmt.Errorf("config: MAX_RESULTS must be positive, got %d", s.MaxResults)
	}
	if s.ResolverMaxDistance < 0 || s.ResolverMaxDistance > 2 {
		return fmt.Errorf("config: RESOLVER_MAX_DISTANCE must be in [0, 2], got %v", s.ResolverMaxDistance)
	}
	return nil
}

// getEnvOrDefault returns the env var value or fallback if unset.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the env var as an int or fallback if unset or invalid.
func getEnvInt(key string, fallback int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

// getEnvFloat returns the env var as a float64 or fallback if unset or invalid.
func getEnvFloat(key string, fallback float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return fallback
}

// getEnvDuration accepts Go durations ("45s") or plain seconds ("45").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func getEnvBool(key string) bool {
	b, _ := strconv.ParseBool(os.Getenv(key))
	return b
}
