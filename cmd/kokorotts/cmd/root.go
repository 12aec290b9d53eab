// Package cmd holds the kokorotts CLI commands.
package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/davidtorcivia/kokoro-openai-tts/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "kokorotts",
	Short: "OpenAI and Kokoro FastAPI TTS bridge for home automation",
	Long: `kokorotts bridges OpenAI-compatible and Kokoro FastAPI speech backends
to home automation. It synthesizes announcements over HTTP, optionally
prepends a notification chime and normalizes loudness with ffmpeg, and
serves a streaming relay for media players that fetch audio by URL.`,
	SilenceUsage: true,
}

// Execute runs the root command. It returns the error of whichever
// subcommand ran, after cobra has printed it.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "path to the YAML configuration file")
}

// newLevelVar builds the mutable log level the daemon adjusts on config
// reload, seeded from the loaded config.
func newLevelVar(level config.LogLevel) *slog.LevelVar {
	lv := new(slog.LevelVar)
	lv.Set(level.Level())
	return lv
}

// setupLogger installs the process-wide logger at the given level.
func setupLogger(lv *slog.LevelVar) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv}))
	slog.SetDefault(logger)
}
