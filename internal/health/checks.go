package health

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/davidtorcivia/kokoro-openai-tts/internal/config"
)

// FFmpegCheck reports whether the configured ffmpeg binary resolves on PATH
// (or exists as an absolute path). Post-processing silently degrades when
// ffmpeg breaks mid-flight, so this is the place that makes it visible.
func FFmpegCheck(store *config.Store) Checker {
	return Checker{
		Name: "ffmpeg",
		Check: func(context.Context) error {
			bin := store.Config().FFmpeg.Binary
			if _, err := exec.LookPath(bin); err != nil {
				return fmt.Errorf("binary %q not found: %w", bin, err)
			}
			return nil
		},
	}
}

// ChimeDirCheck reports whether the chime directory is readable. An
// unconfigured directory passes; chimes are optional.
func ChimeDirCheck(store *config.Store) Checker {
	return Checker{
		Name: "chime_dir",
		Check: func(context.Context) error {
			dir := store.Config().Chimes.Dir
			if dir == "" {
				return nil
			}
			if _, err := os.ReadDir(dir); err != nil {
				return fmt.Errorf("chime directory unreadable: %w", err)
			}
			return nil
		},
	}
}

// EntriesCheck reports whether at least one speech entry is configured. A
// daemon with nothing to speak through is not ready.
func EntriesCheck(store *config.Store) Checker {
	return Checker{
		Name: "entries",
		Check: func(context.Context) error {
			if len(store.Config().Entries) == 0 {
				return errors.New("no speech entries configured")
			}
			return nil
		},
	}
}
