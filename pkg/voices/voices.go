// Package voices holds the voice, model and language catalogs for the two
// supported speech backends, plus fuzzy matching helpers used to turn a
// misspelled voice or model name into a concrete suggestion.
//
// The catalogs are advisory: a backend may accept voices that are not listed
// here (Kokoro voice blends like "af_bella+af_sky" being the usual case), so
// callers decide whether an unknown name is an error or merely a warning.
package voices

import (
	"slices"
	"strings"

	"github.com/antzucaro/matchr"
)

// Engine-level defaults.
const (
	DefaultModel       = "tts-1"
	KokoroModel        = "kokoro"
	DefaultOpenAIVoice = "alloy"
)

// BlendSeparator joins voice names in a Kokoro voice blend ("af_bella+af_sky").
const BlendSeparator = "+"

// models lists the OpenAI speech models selectable at setup time.
var models = []string{"tts-1", "tts-1-hd", "gpt-4o-mini-tts"}

// instructionModels lists the models that honor the free-form instructions
// field. Older tts-1 style models silently ignore it, so the payload gets the
// field only for these.
var instructionModels = []string{"gpt-4o-mini-tts"}

// openaiVoices lists the voices the OpenAI speech endpoint accepts.
var openaiVoices = []string{
	"alloy", "ash", "ballad", "coral", "echo",
	"fable", "onyx", "nova", "sage", "shimmer",
}

// kokoroVoices lists the voices bundled with Kokoro FastAPI. The two-letter
// prefix encodes language and gender (af = American English female, bm =
// British English male, and so on).
var kokoroVoices = []string{
	"af_alloy", "af_aoede", "af_bella", "af_heart", "af_jadzia", "af_jessica",
	"af_kore", "af_nicole", "af_nova", "af_river", "af_sarah", "af_sky",
	"af_v0", "af_v0bella", "af_v0irulan", "af_v0nicole", "af_v0sarah", "af_v0sky",
	"am_adam", "am_echo", "am_eric", "am_fenrir", "am_liam", "am_michael",
	"am_onyx", "am_puck", "am_santa", "am_v0adam", "am_v0gurney", "am_v0michael",
	"bf_alice", "bf_emma", "bf_lily", "bf_v0emma", "bf_v0isabella",
	"bm_daniel", "bm_fable", "bm_george", "bm_lewis", "bm_v0george", "bm_v0lewis",
	"ef_dora", "em_alex", "em_santa", "ff_siwis", "hf_alpha", "hf_beta",
	"hm_omega", "hm_psi", "if_sara", "im_nicola", "jf_alpha", "jf_gongitsune",
	"jf_nezumi", "jf_tebukuro", "jm_kumo", "pf_dora", "pm_alex", "pm_santa",
	"zf_xiaobei", "zf_xiaoni", "zf_xiaoxiao", "zf_xiaoyi", "zm_yunjian",
	"zm_yunxi", "zm_yunxia", "zm_yunyang",
}

// languages lists the ISO 639-1 codes both backends are advertised for.
var languages = []string{
	"af", "ar", "hy", "az", "be", "bs", "bg", "ca", "zh", "hr", "cs", "da", "nl", "en",
	"et", "fi", "fr", "gl", "de", "el", "he", "hi", "hu", "is", "id", "it", "ja", "kn",
	"kk", "ko", "lv", "lt", "mk", "ms", "mr", "mi", "ne", "no", "fa", "pl", "pt", "ro",
	"ru", "sr", "sk", "sl", "es", "sw", "sv", "tl", "ta", "th", "tr", "uk", "ur", "vi", "cy",
}

// Models returns the selectable OpenAI speech models.
func Models() []string { return slices.Clone(models) }

// OpenAI returns the OpenAI voice catalog.
func OpenAI() []string { return slices.Clone(openaiVoices) }

// Kokoro returns the Kokoro FastAPI voice catalog.
func Kokoro() []string { return slices.Clone(kokoroVoices) }

// Languages returns the supported language codes.
func Languages() []string { return slices.Clone(languages) }

// InstructionModels returns the models that accept an instructions field.
func InstructionModels() []string { return slices.Clone(instructionModels) }

// DefaultKokoroVoice is the first catalog entry, mirroring what the setup
// form preselects.
func DefaultKokoroVoice() string { return kokoroVoices[0] }

// KnownModel reports whether name is a cataloged OpenAI speech model.
func KnownModel(name string) bool { return slices.Contains(models, name) }

// KnownOpenAIVoice reports whether name is a cataloged OpenAI voice.
func KnownOpenAIVoice(name string) bool { return slices.Contains(openaiVoices, name) }

// KnownKokoroVoice reports whether name is a cataloged Kokoro voice. A blend
// of several voices counts as known when every component is known.
func KnownKokoroVoice(name string) bool {
	if name == "" {
		return false
	}
	for _, part := range strings.Split(name, BlendSeparator) {
		if !slices.Contains(kokoroVoices, strings.TrimSpace(part)) {
			return false
		}
	}
	return true
}

// suggestThreshold is the minimum Jaro-Winkler similarity for a candidate to
// be offered as a correction. Below this, suggestions are more confusing than
// helpful.
const suggestThreshold = 0.80

// Suggest returns the candidate most similar to name, using Jaro-Winkler
// similarity over the lowercased strings. ok is false when nothing scores
// above the suggestion threshold or when name is empty.
func Suggest(name string, candidates []string) (suggestion string, ok bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || len(candidates) == 0 {
		return "", false
	}

	best := ""
	bestScore := 0.0
	for _, c := range candidates {
		score := matchr.JaroWinkler(name, strings.ToLower(c), false)
		if score > bestScore {
			best, bestScore = c, score
		}
	}
	if bestScore < suggestThreshold {
		return "", false
	}
	return best, true
}
