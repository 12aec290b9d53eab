// Package setup runs the deep entry checks behind "kokorotts check": the
// catalog lookups a setup wizard would enforce through its form selectors,
// plus a probe against the backend's OpenAI-compatible models endpoint.
//
// Findings are advisory. Unknown models and voices pass through to the
// backend verbatim at runtime, because proxies and self-hosted servers
// legitimately expose names outside the built-in catalogs. The structural
// checks that do block a config live in config.Validate.
package setup

import (
	"fmt"
	"slices"
	"strings"

	"github.com/davidtorcivia/kokoro-openai-tts/internal/config"
	"github.com/davidtorcivia/kokoro-openai-tts/pkg/voices"
)

// Problem is a single finding about an entry.
type Problem struct {
	// Field is the dotted config path the finding refers to, such as
	// "setup.voice" or "options.model".
	Field string

	// Message describes the finding.
	Message string

	// Suggestion is a close catalog match for a misspelled name, or empty.
	Suggestion string
}

func (p Problem) String() string {
	if p.Suggestion != "" {
		return fmt.Sprintf("%s: %s (did you mean %q?)", p.Field, p.Message, p.Suggestion)
	}
	return fmt.Sprintf("%s: %s", p.Field, p.Message)
}

// CheckEntry checks one entry against the engine catalogs and returns every
// finding. A nil slice means the entry looks clean.
func CheckEntry(e *config.Entry) []Problem {
	if !e.Engine.IsValid() {
		return []Problem{{
			Field:   "engine",
			Message: fmt.Sprintf("unknown engine %q; valid values: openai, kokoro_fastapi", e.Engine),
		}}
	}
	if e.Engine == config.EngineKokoroFastAPI {
		return checkKokoro(e)
	}
	return checkOpenAI(e)
}

func checkOpenAI(e *config.Entry) []Problem {
	var ps []Problem
	eff := e.Effective(config.Overrides{})

	if !voices.KnownModel(eff.Model) {
		suggestion, _ := voices.Suggest(eff.Model, voices.Models())
		ps = append(ps, Problem{
			Field:      layerField(e.Options.Model != nil, "model"),
			Message:    fmt.Sprintf("model %q is not in the OpenAI catalog; it will be sent verbatim", eff.Model),
			Suggestion: suggestion,
		})
	}

	if !voices.KnownOpenAIVoice(eff.Voice) {
		suggestion, _ := voices.Suggest(eff.Voice, voices.OpenAI())
		ps = append(ps, Problem{
			Field:      layerField(e.Options.Voice != nil, "voice"),
			Message:    fmt.Sprintf("voice %q is not in the OpenAI catalog; it will be sent verbatim", eff.Voice),
			Suggestion: suggestion,
		})
	}

	if eff.Instructions != "" && !slices.Contains(voices.InstructionModels(), eff.Model) {
		ps = append(ps, Problem{
			Field:   layerField(e.Options.Instructions != nil, "instructions"),
			Message: fmt.Sprintf("model %q does not support instructions; they will be dropped", eff.Model),
		})
	}

	if eff.ChunkSize != 0 {
		ps = append(ps, Problem{
			Field:   layerField(e.Options.ChunkSize != nil, "chunk_size"),
			Message: "chunk_size only applies to the kokoro_fastapi engine",
		})
	}

	return ps
}

func checkKokoro(e *config.Entry) []Problem {
	var ps []Problem
	eff := e.Effective(config.Overrides{})

	if !eff.AllowBlending {
		field := layerField(e.Options.Voice != nil, "voice")
		for _, part := range strings.Split(eff.Voice, voices.BlendSeparator) {
			part = strings.TrimSpace(part)
			if voices.KnownKokoroVoice(part) {
				continue
			}
			suggestion, _ := voices.Suggest(part, voices.Kokoro())
			ps = append(ps, Problem{
				Field:      field,
				Message:    fmt.Sprintf("voice %q is not in the Kokoro catalog; set allow_blending to use free-form voices", part),
				Suggestion: suggestion,
			})
		}
	}

	// The Kokoro dialect has exactly one model; a configured one is never
	// sent, so flag it before someone wonders why it has no effect.
	if e.Setup.Model != "" && e.Setup.Model != voices.KokoroModel {
		ps = append(ps, Problem{
			Field:   "setup.model",
			Message: fmt.Sprintf("model is fixed to %q for the kokoro_fastapi engine", voices.KokoroModel),
		})
	}
	if e.Options.Model != nil && *e.Options.Model != voices.KokoroModel {
		ps = append(ps, Problem{
			Field:   "options.model",
			Message: fmt.Sprintf("model is fixed to %q for the kokoro_fastapi engine", voices.KokoroModel),
		})
	}

	if eff.Instructions != "" {
		ps = append(ps, Problem{
			Field:   layerField(e.Options.Instructions != nil, "instructions"),
			Message: "the kokoro_fastapi engine does not support instructions; they will be dropped",
		})
	}

	return ps
}

// layerField names the config layer an effective value came from.
func layerField(fromOptions bool, name string) string {
	if fromOptions {
		return "options." + name
	}
	return "setup." + name
}
