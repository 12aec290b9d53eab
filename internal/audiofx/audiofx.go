// Package audiofx post-processes synthesized speech with ffmpeg. It can
// prepend a notification chime, normalize loudness to a broadcast target, or
// do both in a single filter pass. Input and output are MP3 bytes;
// intermediate audio travels through uniquely named temp files that are
// removed before Process returns.
//
// Failures surface as *ProcessError so callers can log them and fall back to
// the unprocessed audio instead of dropping the whole utterance.
package audiofx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// ---- constants ----

const (
	// loudnormFilter is the one-pass EBU R128 loudness target applied when
	// normalization is requested: -16 LUFS integrated, -1 dBTP ceiling,
	// 5 LU loudness range.
	loudnormFilter = "loudnorm=I=-16:TP=-1:LRA=5"

	// Output encoding shared by every invocation: mono 24 kHz MP3 at
	// 128 kbit/s, matching what the speech backends emit.
	outChannels   = "1"
	outSampleRate = "24000"
	outBitrate    = "128k"
	outPreset     = "superfast"

	// fallbackChime is used when a chime is requested without naming a sound.
	fallbackChime = "threetone.mp3"

	// outputExcerptLen bounds how much ffmpeg output is kept for diagnostics.
	outputExcerptLen = 512
)

// ---- errors ----

// ProcessError reports a failed ffmpeg invocation. Callers typically log it
// and keep the unprocessed audio rather than failing the utterance.
type ProcessError struct {
	// Op names the transform that failed: "chime", "normalize", or
	// "chime+normalize".
	Op string
	// Output is a bounded excerpt of ffmpeg's combined output.
	Output string
	// Err is the underlying subprocess or filesystem error.
	Err error
}

func (e *ProcessError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("audiofx: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("audiofx: %s: %v: %s", e.Op, e.Err, e.Output)
}

func (e *ProcessError) Unwrap() error { return e.Err }

// ---- options ----

// RunFunc executes one ffmpeg invocation and returns its combined output for
// diagnostics. The default implementation shells out with exec.CommandContext
// so cancelling ctx kills the subprocess.
type RunFunc func(ctx context.Context, bin string, args []string) ([]byte, error)

func execRun(ctx context.Context, bin string, args []string) ([]byte, error) {
	return exec.CommandContext(ctx, bin, args...).CombinedOutput()
}

// Option is a functional option for New.
type Option func(*Processor)

// WithRunner replaces the subprocess runner. Tests use this to script ffmpeg
// behavior without the binary installed.
func WithRunner(run RunFunc) Option {
	return func(p *Processor) {
		p.run = run
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithTempDir overrides where intermediate files are written. Defaults to
// os.TempDir().
func WithTempDir(dir string) Option {
	return func(p *Processor) {
		if dir != "" {
			p.tempDir = dir
		}
	}
}

// WithThreads sets ffmpeg's -threads flag. Defaults to 4.
func WithThreads(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.threads = n
		}
	}
}

// ---- Processor ----

// Processor shells out to ffmpeg to transform MP3 audio. It is stateless
// between calls and safe for concurrent use.
type Processor struct {
	bin      string
	chimeDir string
	threads  int
	tempDir  string
	run      RunFunc
	logger   *slog.Logger
}

// New creates a Processor that runs bin (empty means "ffmpeg" on PATH) and
// resolves chime sounds inside chimeDir.
func New(bin, chimeDir string, opts ...Option) *Processor {
	if bin == "" {
		bin = "ffmpeg"
	}
	p := &Processor{
		bin:      bin,
		chimeDir: chimeDir,
		threads:  4,
		tempDir:  os.TempDir(),
		run:      execRun,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Options selects which transforms Process applies. The zero value is a
// no-op.
type Options struct {
	// Chime prepends a notification sound before the speech.
	Chime bool
	// ChimeSound is the sound file name inside the chime directory. A
	// missing ".mp3" extension is appended; empty falls back to
	// "threetone.mp3".
	ChimeSound string
	// Normalize applies one-pass loudness normalization.
	Normalize bool
}

// Process applies the transforms selected in opts to the MP3 in audio and
// returns the processed MP3. With neither transform enabled the input is
// returned unchanged without spawning ffmpeg. A requested chime whose file
// does not exist degrades to chime-off for this call; cancellation of ctx
// kills the subprocess and returns ctx.Err() unchanged.
func (p *Processor) Process(ctx context.Context, audio []byte, opts Options) ([]byte, error) {
	chime := ""
	if opts.Chime {
		path, err := p.resolveChime(opts.ChimeSound)
		if err != nil {
			p.logger.Warn("chime file missing, continuing without chime",
				slog.String("sound", opts.ChimeSound),
				slog.String("error", err.Error()))
		} else {
			chime = path
		}
	}
	if chime == "" && !opts.Normalize {
		return audio, nil
	}

	in, err := p.writeTemp(audio)
	if err != nil {
		return nil, err
	}
	defer p.removeTemp(in)

	out := p.tempName()
	defer p.removeTemp(out)

	var (
		op   string
		args []string
	)
	switch {
	case chime != "" && opts.Normalize:
		op = "chime+normalize"
		args = p.chimeNormalizeArgs(chime, in, out)
	case chime != "":
		op = "chime"
		args = p.chimeArgs(chime, in, out)
	default:
		op = "normalize"
		args = p.normalizeArgs(in, out)
	}

	p.logger.Debug("running ffmpeg",
		slog.String("op", op),
		slog.String("bin", p.bin),
		slog.String("args", strings.Join(args, " ")))

	combined, err := p.run(ctx, p.bin, args)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &ProcessError{Op: op, Output: excerpt(combined), Err: err}
	}

	processed, err := os.ReadFile(out)
	if err != nil {
		return nil, &ProcessError{Op: op, Err: fmt.Errorf("read output: %w", err)}
	}
	if len(processed) == 0 {
		return nil, &ProcessError{Op: op, Output: excerpt(combined), Err: errors.New("ffmpeg produced no output")}
	}
	return processed, nil
}

// ---- command shaping ----

// outputArgs are the encoding flags shared by every invocation, ending with
// the output path.
func (p *Processor) outputArgs(out string) []string {
	return []string{
		"-ac", outChannels,
		"-ar", outSampleRate,
		"-b:a", outBitrate,
		"-preset", outPreset,
		"-threads", strconv.Itoa(p.threads),
		out,
	}
}

// chimeNormalizeArgs normalizes the speech and concatenates it after the
// chime in a single pass: input 0 is the chime, input 1 the speech, and only
// the speech leg runs through loudnorm.
func (p *Processor) chimeNormalizeArgs(chime, speech, out string) []string {
	args := []string{
		"-y",
		"-i", chime,
		"-i", speech,
		"-filter_complex", "[1:a]" + loudnormFilter + "[tts_norm]; [0:a][tts_norm]concat=n=2:v=0:a=1[out]",
		"-map", "[out]",
	}
	return append(args, p.outputArgs(out)...)
}

// chimeArgs concatenates the chime and the speech through the same two-input
// filter graph, which re-encodes both legs and so tolerates mismatched
// source encodings.
func (p *Processor) chimeArgs(chime, speech, out string) []string {
	args := []string{
		"-y",
		"-i", chime,
		"-i", speech,
		"-filter_complex", "[0:a][1:a]concat=n=2:v=0:a=1[out]",
		"-map", "[out]",
	}
	return append(args, p.outputArgs(out)...)
}

func (p *Processor) normalizeArgs(speech, out string) []string {
	args := []string{
		"-y",
		"-i", speech,
		"-af", loudnormFilter,
	}
	return append(args, p.outputArgs(out)...)
}

// ---- helpers ----

// resolveChime maps a configured sound name to an existing file in the chime
// directory, appending the ".mp3" extension when missing.
func (p *Processor) resolveChime(sound string) (string, error) {
	if sound == "" {
		sound = fallbackChime
	}
	if !strings.HasSuffix(strings.ToLower(sound), ".mp3") {
		sound += ".mp3"
	}
	path := filepath.Join(p.chimeDir, sound)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("audiofx: stat chime: %w", err)
	}
	return path, nil
}

// tempName returns a unique MP3 path in the processor's temp directory.
func (p *Processor) tempName() string {
	return filepath.Join(p.tempDir, "kokorotts-"+uuid.NewString()+".mp3")
}

func (p *Processor) writeTemp(audio []byte) (string, error) {
	path := p.tempName()
	if err := os.WriteFile(path, audio, 0o600); err != nil {
		return "", fmt.Errorf("audiofx: write temp input: %w", err)
	}
	return path, nil
}

// removeTemp deletes one temp file, tolerating paths ffmpeg never created.
func (p *Processor) removeTemp(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		p.logger.Debug("temp file cleanup failed",
			slog.String("path", path),
			slog.String("error", err.Error()))
	}
}

// excerpt bounds ffmpeg output for error reporting.
func excerpt(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > outputExcerptLen {
		s = s[:outputExcerptLen]
	}
	return s
}
