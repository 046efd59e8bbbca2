package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HealthCheckConfig is a reachability probe for a backend that costs no
// tokens.
type HealthCheckConfig interface {
	HealthCheck(ctx context.Context) error
}

// httpCheck probes a backend with a single authenticated GET.
type httpCheck struct {
	url    string
	header http.Header
	client *http.Client
}

// HealthCheck returns nil when the endpoint answers with a 2xx status.
func (c *httpCheck) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("provider: health request: %w", err)
	}
	for k, v := range c.header {
		req.Header[k] = v
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("provider: health request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("provider: health check %s: status %d", c.url, resp.StatusCode)
	}
	return nil
}

// NewHealthCheck returns a zero-token probe for cfg's backend, or nil when
// the backend offers no cheap endpoint to probe.
func NewHealthCheck(cfg *Config) HealthCheckConfig {
	client := &http.Client{Timeout: 10 * time.Second}
	switch cfg.Backend {
	case BackendOllama:
		return &httpCheck{
			url:    strings.TrimRight(cfg.Ollama.Host, "/") + "/api/tags",
			client: client,
		}
	case BackendOpenAI:
		base := cfg.OpenAI.BaseURL
		if base == "" {
			base = "https://api.openai.com/v1"
		}
		h := http.Header{}
		h.Set("Authorization", "Bearer "+cfg.OpenAI.APIKey)
		return &httpCheck{url: strings.TrimRight(base, "/") + "/models", header: h, client: client}
	case BackendAzure:
		h := http.Header{}
		h.Set("api-key", cfg.AzureOpenAI.APIKey)
		return &httpCheck{
			url: fmt.Sprintf("%s/openai/models?api-version=%s",
				strings.TrimRight(cfg.AzureOpenAI.Endpoint, "/"), cfg.AzureOpenAI.APIVersion),
			header: h,
			client: client,
		}
	default:
		return nil
	}
}
