package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/davidtorcivia/kokoro-openai-tts/internal/audiofx"
	"github.com/davidtorcivia/kokoro-openai-tts/internal/config"
	"github.com/davidtorcivia/kokoro-openai-tts/internal/speak"
)

var (
	speakEntity       string
	speakOutput       string
	speakInstructions string
	speakChime        bool
	speakChimeSound   string
)

var speakCmd = &cobra.Command{
	Use:   "speak [message]...",
	Short: "Synthesize a message to an MP3 file",
	Long: `Synthesize a one-off announcement with a configured entry and write the
result to a file. Useful for auditioning voices, chimes and loudness
settings without a running daemon.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSpeak,
}

func init() {
	rootCmd.AddCommand(speakCmd)
	speakCmd.Flags().StringVar(&speakEntity, "entity", "", "entity ID to speak with (default: the first entry)")
	speakCmd.Flags().StringVarP(&speakOutput, "output", "o", "speech.mp3", "output file path")
	speakCmd.Flags().StringVar(&speakInstructions, "instructions", "", "delivery instructions, for models that accept them")
	speakCmd.Flags().BoolVar(&speakChime, "chime", false, "prepend the notification chime")
	speakCmd.Flags().StringVar(&speakChimeSound, "chime-sound", "", "chime sound name, without the .mp3 suffix")
}

func runSpeak(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config file %q not found; copy configs/example.yaml to get started", cfgFile)
		}
		return err
	}
	setupLogger(newLevelVar(cfg.Server.LogLevel))

	store := config.NewStore(cfg)
	proc := audiofx.New(cfg.FFmpeg.Binary, cfg.Chimes.Dir, audiofx.WithThreads(cfg.FFmpeg.Threads))
	svc, err := speak.NewService(store, proc)
	if err != nil {
		return fmt.Errorf("build speech service: %w", err)
	}
	defer svc.Close()

	ent, err := pickEntity(svc, speakEntity)
	if err != nil {
		return err
	}

	// Only flags the user actually passed become overrides; everything else
	// resolves from the entry's configuration.
	var opts speak.CallOptions
	if cmd.Flags().Changed("instructions") {
		opts.Instructions = &speakInstructions
	}
	if cmd.Flags().Changed("chime") {
		opts.Chime = &speakChime
	}
	if cmd.Flags().Changed("chime-sound") {
		opts.ChimeSound = &speakChimeSound
	}

	message := strings.Join(args, " ")
	res, err := ent.Speak(cmd.Context(), message, opts)
	if err != nil {
		return err
	}
	if res.IsZero() {
		return errors.New("synthesis failed; see the log above for details")
	}

	if err := os.WriteFile(speakOutput, res.Data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", speakOutput, err)
	}
	fmt.Printf("wrote %s (%d bytes, %s)\n", speakOutput, len(res.Data), ent.Title())
	return nil
}

// pickEntity resolves the --entity flag, or falls back to the first
// configured entry when the flag is empty.
func pickEntity(svc *speak.Service, id string) (*speak.Entity, error) {
	if id != "" {
		ent, ok := svc.Entity(id)
		if !ok {
			ids := make([]string, 0, len(svc.Entities()))
			for _, e := range svc.Entities() {
				ids = append(ids, e.ID())
			}
			return nil, fmt.Errorf("no entity %q; configured: %s", id, strings.Join(ids, ", "))
		}
		return ent, nil
	}
	ents := svc.Entities()
	if len(ents) == 0 {
		return nil, errors.New("no entries configured")
	}
	return ents[0], nil
}
