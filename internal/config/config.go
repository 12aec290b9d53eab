// Package config provides the configuration schema, loader, env overlay, and
// file watcher for the TTS bridge.
//
// The layered lookup mirrors how entries behave at runtime: a per-request
// override beats the entry's post-setup options, which beat the values
// captured at setup time, which beat the built-in defaults. [Entry.Effective]
// performs that resolution for one synthesis call.
package config

import (
	"fmt"
	"log/slog"
	"net/url"

	"github.com/davidtorcivia/kokoro-openai-tts/pkg/voices"
)

// LogLevel controls log verbosity for the bridge daemon.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l onto the slog level it stands for. Unknown values map to
// info, matching what Validate lets through.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Engine selects which speech backend dialect an entry talks to.
type Engine string

const (
	// EngineOpenAI is the hosted OpenAI speech API or any compatible proxy.
	EngineOpenAI Engine = "openai"

	// EngineKokoroFastAPI is a self-hosted Kokoro FastAPI server.
	EngineKokoroFastAPI Engine = "kokoro_fastapi"
)

// IsValid reports whether e is a recognised engine.
func (e Engine) IsValid() bool {
	return e == EngineOpenAI || e == EngineKokoroFastAPI
}

// Manufacturer returns the backend vendor label shown in listings.
func (e Engine) Manufacturer() string {
	if e == EngineKokoroFastAPI {
		return "Kokoro FastAPI"
	}
	return "OpenAI"
}

// Built-in defaults. URLs match the endpoints the two backends publish.
const (
	DefaultOpenAIURL  = "https://api.openai.com/v1/audio/speech"
	DefaultKokoroURL  = "http://localhost:8880/v1/audio/speech"
	DefaultSpeed      = 1.0
	DefaultChimeSound = "threetone.mp3"
	DefaultListenAddr = ":8188"
	DefaultFFmpegBin  = "ffmpeg"
	DefaultThreads    = 4
)

// Speed bounds accepted by both backends.
const (
	MinSpeed = 0.25
	MaxSpeed = 4.0
)

// Config is the root configuration structure for the bridge daemon.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	FFmpeg    FFmpegConfig    `yaml:"ffmpeg"`
	Chimes    ChimesConfig    `yaml:"chimes"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Entries   []Entry         `yaml:"entries"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP server listens on (e.g., ":8188").
	ListenAddr string `yaml:"listen_addr"`

	// PublicURL is the externally reachable base URL of this daemon, used to
	// build streaming relay URLs handed to media players. No trailing slash.
	PublicURL string `yaml:"public_url"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// FFmpegConfig configures the audio post-processing subprocess.
type FFmpegConfig struct {
	// Binary is the ffmpeg executable name or path.
	Binary string `yaml:"binary"`

	// Threads is passed to ffmpeg's -threads flag.
	Threads int `yaml:"threads"`
}

// ChimesConfig locates the notification chime library.
type ChimesConfig struct {
	// Dir is the directory holding chime MP3 files.
	Dir string `yaml:"dir"`
}

// TelemetryConfig configures metrics and tracing.
type TelemetryConfig struct {
	// OTLPEndpoint optionally enables OTLP trace export to the given
	// host:port. Metrics are always exposed on /metrics regardless.
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// OTLPInsecure disables TLS for the OTLP exporter connection.
	OTLPInsecure bool `yaml:"otlp_insecure"`
}

// Entry is one configured speech service, the YAML equivalent of a completed
// setup wizard run. Several entries may point at the same backend with
// different voices or models.
type Entry struct {
	// ID uniquely identifies the entry. Generated if omitted, but pinning it
	// keeps hot reload from recreating the entity on every load.
	ID string `yaml:"id"`

	// Name is the human-readable title shown in listings. Defaults to a
	// title derived from the engine and model.
	Name string `yaml:"name"`

	// Engine selects the backend dialect.
	Engine Engine `yaml:"engine"`

	// Setup holds the values captured at setup time.
	Setup EntrySetup `yaml:"setup"`

	// Options holds post-setup overrides. Absent keys fall back to Setup.
	Options EntryOptions `yaml:"options"`
}

// EntrySetup mirrors the settings captured when an entry is created.
// Connection-level fields (URL, APIKey, Model, ChunkSize) take effect on
// entity rebuild; the rest resolve per request.
type EntrySetup struct {
	// URL is the full speech endpoint. Defaults per engine when empty.
	URL string `yaml:"url"`

	// APIKey authenticates against the backend. Empty disables the
	// Authorization header, which local Kokoro servers usually want.
	APIKey string `yaml:"api_key"`

	// Model is the speech model. Fixed to "kokoro" for the Kokoro engine.
	Model string `yaml:"model"`

	// Voice is the default voice name, or a blend for Kokoro.
	Voice string `yaml:"voice"`

	// Speed is the playback speed multiplier in [0.25, 4.0]. Zero means the
	// default of 1.0.
	Speed float64 `yaml:"speed"`

	// Instructions optionally steer delivery for models that support it.
	Instructions string `yaml:"instructions"`

	// Chime prepends a notification chime before the spoken message.
	Chime bool `yaml:"chime"`

	// ChimeSound is the chime file name inside the chime directory.
	ChimeSound string `yaml:"chime_sound"`

	// Normalize applies loudness normalization to the spoken audio.
	Normalize bool `yaml:"normalize_audio"`

	// ChunkSize is the Kokoro chunk_size payload hint. Zero lets the client
	// fall back to its built-in default.
	ChunkSize int `yaml:"chunk_size"`

	// AllowBlending permits free-form Kokoro voice blends, which disables
	// voice catalog checks.
	AllowBlending bool `yaml:"allow_blending"`
}

// EntryOptions are the post-setup overrides. All fields are optional; a nil
// pointer means "not set here, look at Setup".
type EntryOptions struct {
	Model         *string  `yaml:"model"`
	Voice         *string  `yaml:"voice"`
	Speed         *float64 `yaml:"speed"`
	Instructions  *string  `yaml:"instructions"`
	Chime         *bool    `yaml:"chime"`
	ChimeSound    *string  `yaml:"chime_sound"`
	Normalize     *bool    `yaml:"normalize_audio"`
	ChunkSize     *int     `yaml:"chunk_size"`
	AllowBlending *bool    `yaml:"allow_blending"`
}

// Overrides are the per-request settings a single synthesis call may carry.
// They take precedence over everything in the entry.
type Overrides struct {
	Instructions *string
	Chime        *bool
	ChimeSound   *string
}

// Effective is the fully resolved settings for one synthesis call.
type Effective struct {
	Model         string
	Voice         string
	Speed         float64
	Instructions  string
	Chime         bool
	ChimeSound    string
	Normalize     bool
	ChunkSize     int
	AllowBlending bool
}

// Effective resolves the layered settings of e for one call:
// request override > entry options > entry setup > built-in default.
func (e *Entry) Effective(o Overrides) Effective {
	eff := Effective{
		Model:         stringLayer(nil, e.Options.Model, e.Setup.Model, defaultModelFor(e.Engine)),
		Voice:         stringLayer(nil, e.Options.Voice, e.Setup.Voice, defaultVoiceFor(e.Engine)),
		Speed:         floatLayer(e.Options.Speed, e.Setup.Speed, DefaultSpeed),
		Instructions:  stringLayer(o.Instructions, e.Options.Instructions, e.Setup.Instructions, ""),
		Chime:         boolLayer(o.Chime, e.Options.Chime, e.Setup.Chime),
		ChimeSound:    stringLayer(o.ChimeSound, e.Options.ChimeSound, e.Setup.ChimeSound, DefaultChimeSound),
		Normalize:     boolLayer(nil, e.Options.Normalize, e.Setup.Normalize),
		ChunkSize:     intLayer(e.Options.ChunkSize, e.Setup.ChunkSize),
		AllowBlending: boolLayer(nil, e.Options.AllowBlending, e.Setup.AllowBlending),
	}
	// The Kokoro dialect has exactly one model; a stray model override must
	// not leak into payloads.
	if e.Engine == EngineKokoroFastAPI {
		eff.Model = voices.KokoroModel
	}
	return eff
}

// Title returns the display name of the entry. When no name is configured it
// derives one from the engine, backend host and model, the same form the
// setup wizard would have produced.
func (e *Entry) Title() string {
	if e.Name != "" {
		return e.Name
	}
	eff := e.Effective(Overrides{})
	name := "OpenAI TTS"
	if e.Engine == EngineKokoroFastAPI {
		name = "Kokoro FastAPI TTS"
	}
	if u, err := url.Parse(e.Setup.URL); err == nil && u.Hostname() != "" {
		return fmt.Sprintf("%s (%s, %s)", name, u.Hostname(), eff.Model)
	}
	return fmt.Sprintf("%s (%s)", name, eff.Model)
}

func defaultModelFor(engine Engine) string {
	if engine == EngineKokoroFastAPI {
		return voices.KokoroModel
	}
	return voices.DefaultModel
}

func defaultVoiceFor(engine Engine) string {
	if engine == EngineKokoroFastAPI {
		return voices.DefaultKokoroVoice()
	}
	return voices.DefaultOpenAIVoice
}

// stringLayer returns the first present non-empty value: request override,
// options, setup, then def.
func stringLayer(override, opt *string, setup, def string) string {
	if override != nil && *override != "" {
		return *override
	}
	if opt != nil && *opt != "" {
		return *opt
	}
	if setup != "" {
		return setup
	}
	return def
}

func floatLayer(opt *float64, setup, def float64) float64 {
	if opt != nil && *opt != 0 {
		return *opt
	}
	if setup != 0 {
		return setup
	}
	return def
}

func intLayer(opt *int, setup int) int {
	if opt != nil && *opt > 0 {
		return *opt
	}
	return setup
}

// boolLayer returns the first explicitly set value. Unlike the string layers
// an explicit false in a higher layer masks a true below it.
func boolLayer(override, opt *bool, setup bool) bool {
	if override != nil {
		return *override
	}
	if opt != nil {
		return *opt
	}
	return setup
}
