package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/davidtorcivia/kokoro-openai-tts/internal/config"
	"github.com/davidtorcivia/kokoro-openai-tts/pkg/voices"
)

var voicesCmd = &cobra.Command{
	Use:   "voices [engine]",
	Short: "List the known models and voices",
	Long: `List the model and voice catalogs for one or both engines. The catalogs
are advisory: backends may accept names that are not listed here, such
as Kokoro voice blends ("af_bella+af_sky").`,
	ValidArgs: []string{"openai", "kokoro_fastapi"},
	Args:      cobra.MaximumNArgs(1),
	RunE:      runVoices,
}

func init() {
	rootCmd.AddCommand(voicesCmd)
}

func runVoices(_ *cobra.Command, args []string) error {
	engine := ""
	if len(args) == 1 {
		engine = args[0]
	}

	switch engine {
	case "", string(config.EngineOpenAI), string(config.EngineKokoroFastAPI):
	default:
		return fmt.Errorf("unknown engine %q; valid values: openai, kokoro_fastapi", engine)
	}

	if engine == "" || engine == string(config.EngineOpenAI) {
		fmt.Println("openai")
		fmt.Println("  models:")
		printWrapped("    ", voices.Models())
		fmt.Println("  voices:")
		printWrapped("    ", voices.OpenAI())
		fmt.Printf("  instructions honored by: %s\n", strings.Join(voices.InstructionModels(), ", "))
	}
	if engine == "" {
		fmt.Println()
	}
	if engine == "" || engine == string(config.EngineKokoroFastAPI) {
		fmt.Println("kokoro_fastapi")
		fmt.Printf("  model: %s\n", voices.KokoroModel)
		fmt.Println("  voices:")
		printWrapped("    ", voices.Kokoro())
		fmt.Printf("  blends: join voices with %q, optionally weighted: af_bella(2)+af_sky(1)\n", voices.BlendSeparator)
	}

	fmt.Println()
	fmt.Println("languages:")
	printWrapped("    ", voices.Languages())
	return nil
}

// printWrapped prints names indented and wrapped to a terminal-friendly width.
func printWrapped(indent string, names []string) {
	const width = 76
	line := indent
	for _, n := range names {
		if line != indent && len(line)+len(n)+1 > width {
			fmt.Println(line)
			line = indent
		}
		if line == indent {
			line += n
		} else {
			line += " " + n
		}
	}
	if line != indent {
		fmt.Println(line)
	}
}
