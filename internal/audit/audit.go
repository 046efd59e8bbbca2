// Package audit provides a structured audit logger for courserag command
// invocations. It logs the command name, the config file in effect, and the
// sanitised environment when a command starts, and its result when it ends,
// so operators can trace what happened without exposing secret values.
//
// Secrets are logged as presence/absence only, never their values.
package audit

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"
)

// secretEnvKeys lists environment variable names whose values must never be
// logged. Only presence ("set") or absence ("unset") is recorded.
var secretEnvKeys = map[string]bool{
	"OPENAI_API_KEY":       true,
	"AZURE_OPENAI_API_KEY": true,
	"GOOGLE_API_KEY":       true,
	"EMBEDDING_API_KEY":    true,
	"QDRANT_API_KEY":       true,
	"ARK_API_KEY":          true,
	"LANGFUSE_PUBLIC_KEY":  true,
	"LANGFUSE_SECRET_KEY":  true,
}

// LogCommandStart emits a structured audit log entry when a CLI command
// begins: the command, the config file in effect, and the operational
// environment grouped under "env".
func LogCommandStart(ctx context.Context, log *slog.Logger, command string, configPath string) {
	env := make([]any, 0, len(auditKeys))
	for _, key := range auditKeys {
		env = append(env, slog.String(key, SanitiseKey(key, os.Getenv(key))))
	}

	log.LogAttrs(ctx, slog.LevelInfo, "audit: command start",
		slog.String("command", command),
		slog.String("config_file", sanitiseConfigPath(configPath)),
		slog.Group("env", env...),
	)
}

// LogCommandEnd records how a command finished. A failed command is logged
// at error level with its error.
func LogCommandEnd(ctx context.Context, log *slog.Logger, command string, started time.Time, err error) {
	attrs := []slog.Attr{
		slog.String("command", command),
		slog.Duration("duration", time.Since(started)),
	}
	if err != nil {
		attrs = append(attrs, slog.Any("error", err))
		log.LogAttrs(ctx, slog.LevelError, "audit: command failed", attrs...)
		return
	}
	log.LogAttrs(ctx, slog.LevelInfo, "audit: command end", attrs...)
}

// auditKeys is the ordered list of env vars included in every audit log
// entry. Keys in secretEnvKeys are reduced to set/unset.
var auditKeys = []string{
	"MODEL_PROVIDER", "OLLAMA_HOST", "OLLAMA_MODEL",
	"OPENAI_API_KEY", "OPENAI_MODEL", "OPENAI_BASE_URL",
	"AZURE_OPENAI_API_KEY", "AZURE_OPENAI_ENDPOINT", "AZURE_OPENAI_DEPLOYMENT",
	"GOOGLE_API_KEY", "GEMINI_MODEL",
	"ARK_API_KEY", "ARK_MODEL",
	"EMBEDDING_PROVIDER", "EMBEDDING_MODEL", "EMBEDDING_API_KEY", "EMBEDDING_ENDPOINT",
	"INDEX_BACKEND", "INDEX_PATH",
	"QDRANT_HOST", "QDRANT_PORT", "QDRANT_PREFIX", "QDRANT_API_KEY",
	"CHUNK_SIZE", "CHUNK_OVERLAP", "MAX_RESULTS", "MAX_HISTORY", "RESOLVER_MAX_DISTANCE",
	"LOG_LEVEL", "LOG_FORMAT",
	"LANGFUSE_PUBLIC_KEY", "LANGFUSE_SECRET_KEY",
}

// SanitiseKey returns "set" or "unset" for known secret keys, or the actual
// value for non-secret keys. This is safe to use in log messages.
// URL values have any userinfo stripped.
func SanitiseKey(key, value string) string {
	if secretEnvKeys[key] {
		return presence(value)
	}
	return redactUserinfo(valOrUnset(value))
}

// redactUserinfo removes "user:pass@" from URL-shaped values.
func redactUserinfo(v string) string {
	u, err := url.Parse(v)
	if err != nil || u.User == nil || u.Host == "" {
		return v
	}
	u.User = nil
	return u.String()
}

// presence returns "set" if the value is non-empty, "unset" otherwise.
func presence(v string) string {
	if v != "" {
		return "set"
	}
	return "unset"
}

// valOrUnset returns the value if non-empty, "unset" otherwise.
func valOrUnset(v string) string {
	if v != "" {
		return v
	}
	return "unset"
}

// sanitiseConfigPath returns the config path or "none" if empty.
func sanitiseConfigPath(p string) string {
	if p == "" {
		return "none"
	}
	// Redact home directory for privacy in logs.
	home, err := os.UserHomeDir()
	if err == nil && strings.HasPrefix(p, home) {
		return "~" + p[len(home):]
	}
	return p
}
