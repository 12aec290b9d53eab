package synth

import (
	"errors"

	"github.com/davidtorcivia/kokoro-openai-tts/pkg/voices"
)

// Kind selects the backend API dialect a Provider speaks.
type Kind string

const (
	// OpenAI is the token-model dialect: the model is chosen at setup time
	// from the published catalog and select models honor an instructions
	// field.
	OpenAI Kind = "openai"
	// KokoroFastAPI is the chunked dialect: the payload never names a model
	// and may carry a chunk_size hint that controls how the server splits
	// long input before synthesis.
	KokoroFastAPI Kind = "kokoro_fastapi"
)

// DefaultChunkSize is the conventional chunk_size hint for Kokoro FastAPI,
// matching the value its README recommends. The provider itself sends no
// chunk_size unless one is configured with [WithChunkSize].
const DefaultChunkSize = 400

// Provider is the immutable connection and payload-shaping configuration for
// one speech backend. Build one with [NewOpenAIProvider] or
// [NewKokoroProvider] and hand it to [NewClient].
type Provider struct {
	kind      Kind
	url       string
	apiKey    string
	model     string
	chunkSize int

	// instructionModels is the set of model names whose payloads carry the
	// instructions field. Other models silently drop it.
	instructionModels map[string]struct{}
}

// ProviderOption is a functional option for the Provider constructors.
type ProviderOption func(*Provider)

// WithChunkSize sets the chunk_size hint for the chunked dialect. Values
// below one are ignored, leaving the key out of the payload. The token-model
// dialect ignores this setting.
func WithChunkSize(n int) ProviderOption {
	return func(p *Provider) {
		if n > 0 {
			p.chunkSize = n
		}
	}
}

// WithInstructionModels replaces the set of models whose payloads carry the
// instructions field. The default set comes from [voices.InstructionModels].
func WithInstructionModels(models ...string) ProviderOption {
	return func(p *Provider) {
		p.instructionModels = make(map[string]struct{}, len(models))
		for _, m := range models {
			p.instructionModels[m] = struct{}{}
		}
	}
}

// NewOpenAIProvider returns a Provider for the OpenAI speech endpoint or any
// API-compatible service. apiKey may be empty for unauthenticated proxies; an
// empty model falls back to [voices.DefaultModel].
func NewOpenAIProvider(url, apiKey, model string, opts ...ProviderOption) (Provider, error) {
	if url == "" {
		return Provider{}, errors.New("synth: provider url must not be empty")
	}
	if model == "" {
		model = voices.DefaultModel
	}
	p := Provider{
		kind:   OpenAI,
		url:    url,
		apiKey: apiKey,
		model:  model,
	}
	WithInstructionModels(voices.InstructionModels()...)(&p)
	for _, o := range opts {
		o(&p)
	}
	return p, nil
}

// NewKokoroProvider returns a Provider for a Kokoro FastAPI server. The
// server picks its own model, so payloads carry no model name; a chunk_size
// hint is sent only when configured with [WithChunkSize].
func NewKokoroProvider(url, apiKey string, opts ...ProviderOption) (Provider, error) {
	if url == "" {
		return Provider{}, errors.New("synth: provider url must not be empty")
	}
	p := Provider{
		kind:   KokoroFastAPI,
		url:    url,
		apiKey: apiKey,
		model:  voices.KokoroModel,
	}
	for _, o := range opts {
		o(&p)
	}
	return p, nil
}

// Kind returns the dialect this provider speaks.
func (p Provider) Kind() Kind { return p.kind }

// URL returns the speech endpoint URL.
func (p Provider) URL() string { return p.url }

// Model returns the model name this provider was built with. For the chunked
// dialect this is the fixed catalog name, used for display and entity naming
// only; it never reaches the wire.
func (p Provider) Model() string { return p.model }

// Request is a single synthesis call. Voice is passed to the backend
// verbatim, which keeps Kokoro voice blends ("af_bella+af_sky") working
// without the client knowing about them.
type Request struct {
	// Text is the message to synthesize. Must be non-empty; length limits
	// are the caller's concern.
	Text string
	// Voice is the backend voice name or blend.
	Voice string
	// Speed is the playback speed multiplier, typically within [0.25, 4.0].
	Speed float64
	// Instructions optionally steer delivery ("speak like a pirate"). Only
	// models in the provider's instruction set receive it.
	Instructions string
}

// speechRequest is the wire payload of the speech endpoint. Field order
// matches what both backends publish in their API docs.
type speechRequest struct {
	Model          string  `json:"model,omitempty"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format"`
	Speed          float64 `json:"speed"`
	ChunkSize      int     `json:"chunk_size,omitempty"`
	Instructions   string  `json:"instructions,omitempty"`
}

// payload shapes the wire body for req. The model key appears only for the
// token-model dialect, chunk_size only for the chunked dialect with a
// configured hint, and instructions only when the request carries them and
// the model is in the instruction set. Absent means absent: none of those
// keys is ever sent as an empty value.
func (p Provider) payload(req Request) speechRequest {
	body := speechRequest{
		Input:          req.Text,
		Voice:          req.Voice,
		ResponseFormat: "mp3",
		Speed:          req.Speed,
	}
	switch p.kind {
	case OpenAI:
		body.Model = p.model
	case KokoroFastAPI:
		if p.chunkSize > 0 {
			body.ChunkSize = p.chunkSize
		}
	}
	if req.Instructions != "" {
		if _, ok := p.instructionModels[p.model]; ok {
			body.Instructions = req.Instructions
		}
	}
	return body
}
