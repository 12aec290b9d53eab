package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// envOverrides are process-environment settings that beat the YAML file.
// Secrets in particular travel better through the environment than on disk.
type envOverrides struct {
	ListenAddr string `env:"KOKOROTTS_LISTEN_ADDR"`
	PublicURL  string `env:"KOKOROTTS_PUBLIC_URL"`
	LogLevel   string `env:"KOKOROTTS_LOG_LEVEL"`
	FFmpegBin  string `env:"KOKOROTTS_FFMPEG"`
	ChimeDir   string `env:"KOKOROTTS_CHIME_DIR"`

	// APIKey fills the api_key of every entry that has none, so a single
	// OpenAI key can stay out of the config file.
	APIKey string `env:"KOKOROTTS_API_KEY"`
}

// Load reads the YAML configuration file at path, applies environment
// overrides and defaults, and returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, overlays the environment,
// fills defaults and validates the result. Useful in tests where configs are
// constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays KOKOROTTS_* environment variables onto cfg.
func applyEnv(cfg *Config) error {
	ov, err := env.ParseAs[envOverrides]()
	if err != nil {
		return fmt.Errorf("config: parse environment: %w", err)
	}
	if ov.ListenAddr != "" {
		cfg.Server.ListenAddr = ov.ListenAddr
	}
	if ov.PublicURL != "" {
		cfg.Server.PublicURL = ov.PublicURL
	}
	if ov.LogLevel != "" {
		cfg.Server.LogLevel = LogLevel(ov.LogLevel)
	}
	if ov.FFmpegBin != "" {
		cfg.FFmpeg.Binary = ov.FFmpegBin
	}
	if ov.ChimeDir != "" {
		cfg.Chimes.Dir = ov.ChimeDir
	}
	if ov.APIKey != "" {
		for i := range cfg.Entries {
			if cfg.Entries[i].Setup.APIKey == "" {
				cfg.Entries[i].Setup.APIKey = ov.APIKey
			}
		}
	}
	return nil
}

// applyDefaults fills unset values so the rest of the program never sees
// zero-value surprises.
func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	cfg.Server.PublicURL = strings.TrimRight(cfg.Server.PublicURL, "/")
	if cfg.FFmpeg.Binary == "" {
		cfg.FFmpeg.Binary = DefaultFFmpegBin
	}
	if cfg.FFmpeg.Threads <= 0 {
		cfg.FFmpeg.Threads = DefaultThreads
	}
	for i := range cfg.Entries {
		e := &cfg.Entries[i]
		if e.ID == "" {
			e.ID = uuid.NewString()
			slog.Warn("config entry has no id; generated one (pin it to survive reloads)",
				"entry", e.Title(),
				"id", e.ID,
			)
		}
		if e.Setup.URL == "" {
			switch e.Engine {
			case EngineKokoroFastAPI:
				e.Setup.URL = DefaultKokoroURL
			default:
				e.Setup.URL = DefaultOpenAIURL
			}
		}
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Server.PublicURL == "" && len(cfg.Entries) > 0 {
		slog.Warn("server.public_url is empty; streaming relay URLs handed to media players will not be reachable")
	}

	seenIDs := make(map[string]int, len(cfg.Entries))

	for i := range cfg.Entries {
		e := &cfg.Entries[i]
		prefix := fmt.Sprintf("entries[%d]", i)

		if e.ID != "" {
			if prev, ok := seenIDs[e.ID]; ok {
				errs = append(errs, fmt.Errorf("%s.id %q is a duplicate of entries[%d]", prefix, e.ID, prev))
			}
			seenIDs[e.ID] = i
		}

		if e.Engine == "" {
			errs = append(errs, fmt.Errorf("%s.engine is required; valid values: openai, kokoro_fastapi", prefix))
		} else if !e.Engine.IsValid() {
			errs = append(errs, fmt.Errorf("%s.engine %q is invalid; valid values: openai, kokoro_fastapi", prefix, e.Engine))
		}

		if err := validateSpeed(e.Setup.Speed); err != nil {
			errs = append(errs, fmt.Errorf("%s.setup.speed: %w", prefix, err))
		}
		if e.Options.Speed != nil {
			if err := validateSpeed(*e.Options.Speed); err != nil {
				errs = append(errs, fmt.Errorf("%s.options.speed: %w", prefix, err))
			}
		}

		if e.Setup.ChunkSize < 0 {
			errs = append(errs, fmt.Errorf("%s.setup.chunk_size %d must be a positive integer", prefix, e.Setup.ChunkSize))
		}
		if e.Options.ChunkSize != nil && *e.Options.ChunkSize < 1 {
			errs = append(errs, fmt.Errorf("%s.options.chunk_size %d must be a positive integer", prefix, *e.Options.ChunkSize))
		}

		if e.Engine == EngineOpenAI && e.Setup.APIKey == "" && strings.Contains(e.Setup.URL, "api.openai.com") {
			slog.Warn("entry targets the hosted OpenAI API without an api_key; synthesis will be rejected",
				"entry", e.Title(),
			)
		}
	}

	return errors.Join(errs...)
}

// validateSpeed accepts zero (meaning default) or a value in [MinSpeed, MaxSpeed].
func validateSpeed(speed float64) error {
	if speed == 0 {
		return nil
	}
	if speed < MinSpeed || speed > MaxSpeed {
		return fmt.Errorf("%.2f is out of range [%.2f, %.2f]", speed, MinSpeed, MaxSpeed)
	}
	return nil
}
