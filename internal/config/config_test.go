package config_test

import (
	"log/slog"
	"testing"

	"github.com/davidtorcivia/kokoro-openai-tts/internal/config"
)

func ptr[T any](v T) *T { return &v }

func TestEffective_LayerPrecedence(t *testing.T) {
	t.Parallel()

	entry := &config.Entry{
		ID:     "layered",
		Engine: config.EngineOpenAI,
		Setup: config.EntrySetup{
			Voice:        "alloy",
			Speed:        1.0,
			Instructions: "setup-level",
			ChimeSound:   "signal1.mp3",
		},
		Options: config.EntryOptions{
			Voice:        ptr("nova"),
			Instructions: ptr("options-level"),
		},
	}

	t.Run("options beat setup", func(t *testing.T) {
		eff := entry.Effective(config.Overrides{})
		if eff.Voice != "nova" {
			t.Errorf("Voice = %q, want options-level nova", eff.Voice)
		}
		if eff.Instructions != "options-level" {
			t.Errorf("Instructions = %q, want options-level", eff.Instructions)
		}
	})

	t.Run("request override beats options", func(t *testing.T) {
		eff := entry.Effective(config.Overrides{Instructions: ptr("per-request")})
		if eff.Instructions != "per-request" {
			t.Errorf("Instructions = %q, want per-request", eff.Instructions)
		}
	})

	t.Run("setup used when options absent", func(t *testing.T) {
		eff := entry.Effective(config.Overrides{})
		if eff.ChimeSound != "signal1.mp3" {
			t.Errorf("ChimeSound = %q, want setup-level signal1.mp3", eff.ChimeSound)
		}
		if eff.Speed != 1.0 {
			t.Errorf("Speed = %v, want 1.0", eff.Speed)
		}
	})
}

func TestEffective_Defaults(t *testing.T) {
	t.Parallel()

	openai := &config.Entry{Engine: config.EngineOpenAI}
	eff := openai.Effective(config.Overrides{})
	if eff.Model != "tts-1" {
		t.Errorf("Model = %q, want tts-1", eff.Model)
	}
	if eff.Voice != "alloy" {
		t.Errorf("Voice = %q, want alloy", eff.Voice)
	}
	if eff.Speed != 1.0 {
		t.Errorf("Speed = %v, want 1.0", eff.Speed)
	}
	if eff.ChimeSound != "threetone.mp3" {
		t.Errorf("ChimeSound = %q, want threetone.mp3", eff.ChimeSound)
	}
	if eff.Chime || eff.Normalize {
		t.Error("chime and normalize should default to off")
	}

	kokoro := &config.Entry{Engine: config.EngineKokoroFastAPI}
	eff = kokoro.Effective(config.Overrides{})
	if eff.Model != "kokoro" {
		t.Errorf("kokoro Model = %q, want kokoro", eff.Model)
	}
	if eff.Voice != "af_alloy" {
		t.Errorf("kokoro Voice = %q, want first catalog voice af_alloy", eff.Voice)
	}
}

func TestEffective_KokoroModelPinned(t *testing.T) {
	t.Parallel()

	entry := &config.Entry{
		Engine:  config.EngineKokoroFastAPI,
		Setup:   config.EntrySetup{Model: "tts-1"},
		Options: config.EntryOptions{Model: ptr("tts-1-hd")},
	}
	if eff := entry.Effective(config.Overrides{}); eff.Model != "kokoro" {
		t.Errorf("Model = %q, want pinned kokoro", eff.Model)
	}
}

func TestEffective_ExplicitFalseMasksTrue(t *testing.T) {
	t.Parallel()

	entry := &config.Entry{
		Engine:  config.EngineOpenAI,
		Setup:   config.EntrySetup{Chime: true, Normalize: true},
		Options: config.EntryOptions{Normalize: ptr(false)},
	}

	eff := entry.Effective(config.Overrides{})
	if !eff.Chime {
		t.Error("Chime should inherit setup-level true")
	}
	if eff.Normalize {
		t.Error("options-level false should mask setup-level true")
	}

	eff = entry.Effective(config.Overrides{Chime: ptr(false)})
	if eff.Chime {
		t.Error("request-level false should mask setup-level true")
	}
}

func TestTitle(t *testing.T) {
	t.Parallel()

	named := &config.Entry{Name: "Kitchen voice", Engine: config.EngineOpenAI}
	if got := named.Title(); got != "Kitchen voice" {
		t.Errorf("Title() = %q, want configured name", got)
	}

	openai := &config.Entry{
		Engine: config.EngineOpenAI,
		Setup:  config.EntrySetup{URL: "https://api.openai.com/v1/audio/speech", Model: "tts-1-hd"},
	}
	if got := openai.Title(); got != "OpenAI TTS (api.openai.com, tts-1-hd)" {
		t.Errorf("Title() = %q, want OpenAI TTS (api.openai.com, tts-1-hd)", got)
	}

	kokoro := &config.Entry{
		Engine: config.EngineKokoroFastAPI,
		Setup:  config.EntrySetup{URL: "http://localhost:8880/v1/audio/speech", Voice: "af_heart"},
	}
	if got := kokoro.Title(); got != "Kokoro FastAPI TTS (localhost, kokoro)" {
		t.Errorf("Title() = %q, want Kokoro FastAPI TTS (localhost, kokoro)", got)
	}

	noURL := &config.Entry{Engine: config.EngineOpenAI, Setup: config.EntrySetup{Model: "tts-1"}}
	if got := noURL.Title(); got != "OpenAI TTS (tts-1)" {
		t.Errorf("Title() = %q, want OpenAI TTS (tts-1)", got)
	}
}

func TestLogLevel_Level(t *testing.T) {
	t.Parallel()

	tests := []struct {
		level config.LogLevel
		want  slog.Level
	}{
		{config.LogDebug, slog.LevelDebug},
		{config.LogInfo, slog.LevelInfo},
		{config.LogWarn, slog.LevelWarn},
		{config.LogError, slog.LevelError},
		{config.LogLevel(""), slog.LevelInfo},
		{config.LogLevel("verbose"), slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := tt.level.Level(); got != tt.want {
			t.Errorf("LogLevel(%q).Level() = %v, want %v", tt.level, got, tt.want)
		}
	}
}

func TestStore_ReplaceAndLookup(t *testing.T) {
	t.Parallel()

	first := &config.Config{Entries: []config.Entry{{ID: "a", Engine: config.EngineOpenAI}}}
	store := config.NewStore(first)

	if _, ok := store.Entry("a"); !ok {
		t.Fatal("entry a not found in initial config")
	}
	if _, ok := store.Entry("b"); ok {
		t.Fatal("entry b should not exist yet")
	}

	second := &config.Config{Entries: []config.Entry{{ID: "b", Engine: config.EngineKokoroFastAPI}}}
	store.Replace(second)

	if _, ok := store.Entry("a"); ok {
		t.Error("entry a should be gone after replace")
	}
	entry, ok := store.Entry("b")
	if !ok {
		t.Fatal("entry b not found after replace")
	}
	if entry.Engine != config.EngineKokoroFastAPI {
		t.Errorf("entry b engine = %q, want kokoro_fastapi", entry.Engine)
	}
}
