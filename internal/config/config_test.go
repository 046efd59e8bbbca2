package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func discard() *slog.Logger { return slog.New(slog.DiscardHandler) }

// writeYAML writes body to dir/name and returns the path.
func writeYAML(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

// unsetEnv clears keys for the duration of the test. t.Setenv restores the
// previous values on cleanup; the Unsetenv makes them absent rather than
// empty, which is what Load checks.
func unsetEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoad_MissingExplicitPath(t *testing.T) {
	t.Parallel()

	path, err := Load("/nonexistent/path/config.yaml", discard())
	if err != nil || path != "" {
		t.Fatalf("Load = %q, %v; want no file and no error", path, err)
	}
}

func TestLoad_AppliesSections(t *testing.T) {
	cfgPath := writeYAML(t, t.TempDir(), "config.yaml", `
model:
  provider: azure
  max_tokens: 8192
  temperature: 0.3
  azure:
    endpoint: https://my-resource.openai.azure.com
    deployment: gpt-4o
    api_version: "2025-04-01-preview"
embedding:
  provider: ollama
  model: nomic-embed-text
index:
  backend: bolt
qdrant:
  host: qdrant.internal
  prefix: my-courses
retrieval:
  chunk_size: 600
  max_history: 4
  resolver_max_distance: 0.45
  generate_timeout: 90s
server:
  port: 9000
  rate_limit: 1.5
logging:
  level: debug
`)

	want := map[string]string{
		"MODEL_PROVIDER":           "azure",
		"MODEL_MAX_TOKENS":         "8192",
		"MODEL_TEMPERATURE":        "0.3",
		"AZURE_OPENAI_ENDPOINT":    "https://my-resource.openai.azure.com",
		"AZURE_OPENAI_DEPLOYMENT":  "gpt-4o",
		"AZURE_OPENAI_API_VERSION": "2025-04-01-preview",
		"EMBEDDING_PROVIDER":       "ollama",
		"EMBEDDING_MODEL":          "nomic-embed-text",
		"INDEX_BACKEND":            "bolt",
		"QDRANT_HOST":              "qdrant.internal",
		"QDRANT_PREFIX":            "my-courses",
		"CHUNK_SIZE":               "600",
		"MAX_HISTORY":              "4",
		"RESOLVER_MAX_DISTANCE":    "0.45",
		"GENERATE_TIMEOUT":         "90s",
		"COURSERAG_PORT":           "9000",
		"COURSERAG_RATE_LIMIT":     "1.5",
		"LOG_LEVEL":                "debug",
	}
	keys := make([]string, 0, len(want)+1)
	for k := range want {
		keys = append(keys, k)
	}
	unsetEnv(t, append(keys, "QDRANT_PORT")...)

	loaded, err := Load(cfgPath, discard())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded != cfgPath {
		t.Errorf("loaded path = %q, want %q", loaded, cfgPath)
	}
	for k, v := range want {
		if got := os.Getenv(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
	if _, set := os.LookupEnv("QDRANT_PORT"); set {
		t.Error("QDRANT_PORT absent from YAML must stay unset")
	}
}

func TestLoad_EnvWins(t *testing.T) {
	cfgPath := writeYAML(t, t.TempDir(), "config.yaml", "model:\n  provider: ollama\nretrieval:\n  max_results: 9\n")
	t.Setenv("MODEL_PROVIDER", "gemini")
	unsetEnv(t, "MAX_RESULTS")

	if _, err := Load(cfgPath, discard()); err != nil {
		t.Fatal(err)
	}
	if got := os.Getenv("MODEL_PROVIDER"); got != "gemini" {
		t.Errorf("MODEL_PROVIDER = %q, env value must win", got)
	}
	if got := os.Getenv("MAX_RESULTS"); got != "9" {
		t.Errorf("MAX_RESULTS = %q, want 9 from YAML", got)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	t.Parallel()

	cfgPath := writeYAML(t, t.TempDir(), "config.yaml", "{{invalid yaml")
	if _, err := Load(cfgPath, discard()); err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestResolveConfigPath_Order(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	homeCfg := writeYAML(t, home, ".courserag/config.yaml", "{}")
	envCfg := writeYAML(t, t.TempDir(), "env.yaml", "{}")

	t.Setenv("COURSERAG_CONFIG", envCfg)
	if got := resolveConfigPath(""); got != envCfg {
		t.Errorf("with COURSERAG_CONFIG: got %q, want %q", got, envCfg)
	}

	t.Setenv("COURSERAG_CONFIG", filepath.Join(home, "missing.yaml"))
	if got := resolveConfigPath(""); got != homeCfg {
		t.Errorf("missing COURSERAG_CONFIG falls through: got %q, want %q", got, homeCfg)
	}

	if got := resolveConfigPath(filepath.Join(home, "nope.yaml")); got != "" {
		t.Errorf("missing explicit path must not fall back, got %q", got)
	}
}

func TestScalarFormatting(t *testing.T) {
	t.Parallel()

	if got := floatStr(float32(0.45)); got != "0.45" {
		t.Errorf("floatStr(float32 0.45) = %q", got)
	}
	if got := floatStr(1.0); got != "1" {
		t.Errorf("floatStr(1.0) = %q", got)
	}
	if got := floatStr(float32(0)); got != "" {
		t.Errorf("floatStr(0) = %q, want empty", got)
	}
	if intStr(0) != "" || intStr(42) != "42" {
		t.Errorf("intStr: %q %q", intStr(0), intStr(42))
	}
	if boolStr(false) != "" || boolStr(true) != "true" {
		t.Error("boolStr mismatch")
	}
}
