// Command kokorotts is the TTS bridge daemon and its companion tooling.
package main

import (
	"os"

	"github.com/davidtorcivia/kokoro-openai-tts/cmd/kokorotts/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
