package setup

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/davidtorcivia/kokoro-openai-tts/internal/config"
)

// DefaultProbeTimeout bounds a single probe request.
const DefaultProbeTimeout = 10 * time.Second

// ProbeResult reports what the backend's models endpoint exposed.
type ProbeResult struct {
	// Models are the model IDs the backend listed, sorted.
	Models []string

	// ModelFound reports whether the entry's effective model was listed.
	ModelFound bool
}

type probeConfig struct {
	timeout time.Duration
}

// ProbeOption configures a Probe call.
type ProbeOption func(*probeConfig)

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) ProbeOption {
	return func(c *probeConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// Probe lists the models the backend exposes through the OpenAI-compatible
// models endpoint next to the entry's speech endpoint. Both hosted OpenAI
// and Kokoro FastAPI serve it, which makes this a cheap reachability and
// auth check that never spends synthesis quota.
func Probe(ctx context.Context, e *config.Entry, opts ...ProbeOption) (*ProbeResult, error) {
	cfg := probeConfig{timeout: DefaultProbeTimeout}
	for _, o := range opts {
		o(&cfg)
	}

	base, err := apiBase(e.Setup.URL)
	if err != nil {
		return nil, err
	}

	reqOpts := []option.RequestOption{
		option.WithBaseURL(base),
		option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}),
		option.WithMaxRetries(0),
	}
	if e.Setup.APIKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(e.Setup.APIKey))
	}
	client := oai.NewClient(reqOpts...)

	page, err := client.Models.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("setup: list models at %s: %w", base, err)
	}

	names := make([]string, 0, len(page.Data))
	for _, m := range page.Data {
		names = append(names, m.ID)
	}
	slices.Sort(names)

	eff := e.Effective(config.Overrides{})
	return &ProbeResult{
		Models:     names,
		ModelFound: slices.Contains(names, eff.Model),
	}, nil
}

// apiBase derives the API root from a speech endpoint URL, so that the
// models route resolves next to it. The trailing slash matters: relative
// route resolution drops the last path segment without it.
func apiBase(speechURL string) (string, error) {
	trimmed := strings.TrimRight(speechURL, "/")
	base, ok := strings.CutSuffix(trimmed, "audio/speech")
	if !ok || base == "" || !strings.HasSuffix(base, "/") {
		return "", fmt.Errorf("setup: url %q does not end in /audio/speech; cannot locate the models endpoint", speechURL)
	}
	return base, nil
}
