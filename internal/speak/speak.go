// Package speak coordinates message delivery for configured speech entities.
//
// An [Entity] is the runtime counterpart of one config entry. It owns the
// synthesis client for that entry and decides between two delivery paths:
// buffered (synthesize now, optionally post-process, hand back complete MP3
// bytes) and streamed (hand back a relay URL the media player pulls from,
// trading post-processing for first-byte latency). The [Service] builds and
// rebuilds entities as the configuration changes.
package speak

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/davidtorcivia/kokoro-openai-tts/internal/audiofx"
	"github.com/davidtorcivia/kokoro-openai-tts/internal/config"
	"github.com/davidtorcivia/kokoro-openai-tts/internal/observe"
	"github.com/davidtorcivia/kokoro-openai-tts/pkg/synth"
)

// MaxMessageLen is the rune cap for buffered delivery. Both backends reject
// longer inputs server-side; the streamed path has no cap because the relay
// re-submits the text to the backend in its own request.
const MaxMessageLen = 4096

// RelayRoutePrefix is the path prefix of the streaming relay endpoint.
// Streamed results embed it in the URL handed to media players, and the HTTP
// server mounts the relay handler under it.
const RelayRoutePrefix = "/api/tts_stream/"

// mimeMPEG is the media type of everything this service produces.
const mimeMPEG = "audio/mpeg"

// ErrMessageTooLong reports a buffered request beyond [MaxMessageLen] runes.
// Test with errors.Is.
var ErrMessageTooLong = errors.New("speak: message exceeds 4096 characters")

// PlayMedia points a media player at the streaming relay.
type PlayMedia struct {
	URL      string `json:"url"`
	MIMEType string `json:"mime_type"`
}

// Result is the outcome of one Speak call: either Media (streamed delivery)
// or Format plus Data (buffered delivery). The zero Result means the call
// failed in a way that was logged but not surfaced as an error.
type Result struct {
	Media  *PlayMedia
	Format string
	Data   []byte
}

// IsZero reports whether r carries no deliverable audio.
func (r Result) IsZero() bool {
	return r.Media == nil && r.Format == "" && len(r.Data) == 0
}

// CallOptions are the per-request settings of a single Speak call. The
// pointer fields override the entry's configuration for this call only; nil
// means "use the configured value".
type CallOptions struct {
	// MediaSource selects streamed delivery over buffered.
	MediaSource bool

	Instructions *string
	Chime        *bool
	ChimeSound   *string
}

// overrides converts the per-call option pointers into the config layer form.
func (o CallOptions) overrides() config.Overrides {
	return config.Overrides{
		Instructions: o.Instructions,
		Chime:        o.Chime,
		ChimeSound:   o.ChimeSound,
	}
}

// Synthesizer is the slice of [synth.Client] an entity depends on.
type Synthesizer interface {
	Synthesize(ctx context.Context, req synth.Request) (synth.Stream, error)
	Close() error
}

// Entity is one ready-to-speak speech service. Entities are created by the
// [Service] and safe for concurrent use; per-request settings are resolved
// from the live config store on every call.
type Entity struct {
	id      string
	entryID string
	engine  config.Engine
	title   string
	client  Synthesizer
	svc     *Service

	closeOnce sync.Once
	closeErr  error
}

// ID returns the stable entity ID, e.g. "tts.kokoro_openai_tts_tts_1".
func (e *Entity) ID() string { return e.id }

// EntryID returns the ID of the config entry backing this entity.
func (e *Entity) EntryID() string { return e.entryID }

// Engine returns the backend dialect of this entity.
func (e *Entity) Engine() config.Engine { return e.engine }

// Title returns the display name, e.g. "OpenAI TTS (api.openai.com, tts-1)".
func (e *Entity) Title() string { return e.title }

// Speak converts message into deliverable audio.
//
// The returned error is non-nil in exactly two cases: the context was
// cancelled (the context error comes back unchanged) or the message exceeds
// [MaxMessageLen] on the buffered path ([ErrMessageTooLong]). Every other
// failure is logged with full diagnostics and reported as the zero Result so
// callers surface a generic upstream error.
func (e *Entity) Speak(ctx context.Context, message string, opts CallOptions) (Result, error) {
	if opts.MediaSource {
		return e.speakStreamed(ctx, message, opts)
	}
	return e.speakBuffered(ctx, message, opts)
}

// speakStreamed builds a relay URL without performing any synthesis. The
// heavy lifting happens later, when the media player fetches the URL.
func (e *Entity) speakStreamed(ctx context.Context, message string, opts CallOptions) (Result, error) {
	log := observe.Logger(ctx)

	entry, ok := e.svc.store.Entry(e.entryID)
	if !ok {
		log.Error("speak: entry no longer configured", "entity", e.id, "entry_id", e.entryID)
		e.svc.metrics.RecordSpeak(ctx, e.id, "streamed", "error")
		return Result{}, nil
	}

	publicURL := e.svc.store.Config().Server.PublicURL
	if publicURL == "" {
		log.Error("speak: server.public_url not configured, cannot build a relay URL", "entity", e.id)
		e.svc.metrics.RecordSpeak(ctx, e.id, "streamed", "error")
		return Result{}, nil
	}

	// Streamed audio bypasses ffmpeg entirely. Say so instead of silently
	// dropping configured effects.
	eff := entry.Effective(opts.overrides())
	if eff.Chime || eff.Normalize {
		log.Warn("speak: chime and normalization are skipped for streamed delivery",
			"entity", e.id, "chime", eff.Chime, "normalize", eff.Normalize)
	}

	sum := sha256.Sum256([]byte(message))
	hash := hex.EncodeToString(sum[:])[:16]
	u := publicURL + RelayRoutePrefix + e.id + "/" + hash + "?message=" + url.QueryEscape(message)

	e.svc.metrics.RecordSpeak(ctx, e.id, "streamed", "ok")
	return Result{Media: &PlayMedia{URL: u, MIMEType: mimeMPEG}}, nil
}

// speakBuffered synthesizes the whole message, optionally post-processes it,
// and returns the complete MP3 bytes.
func (e *Entity) speakBuffered(ctx context.Context, message string, opts CallOptions) (Result, error) {
	log := observe.Logger(ctx)

	if n := utf8.RuneCountInString(message); n > MaxMessageLen {
		log.Warn("speak: message too long for buffered delivery",
			"entity", e.id, "length", n, "max", MaxMessageLen)
		e.svc.metrics.RecordSpeak(ctx, e.id, "buffered", "too_long")
		return Result{}, ErrMessageTooLong
	}

	entry, ok := e.svc.store.Entry(e.entryID)
	if !ok {
		log.Error("speak: entry no longer configured", "entity", e.id, "entry_id", e.entryID)
		e.svc.metrics.RecordSpeak(ctx, e.id, "buffered", "error")
		return Result{}, nil
	}
	eff := entry.Effective(opts.overrides())

	data, err := e.synthesizeAll(ctx, message, eff)
	switch {
	case isCancellation(err):
		e.svc.metrics.RecordSpeak(ctx, e.id, "buffered", "cancelled")
		return Result{}, err
	case err != nil:
		e.svc.metrics.RecordSpeak(ctx, e.id, "buffered", "error")
		return Result{}, nil
	case len(data) == 0:
		log.Error("speak: backend produced no audio", "entity", e.id)
		e.svc.metrics.RecordSpeak(ctx, e.id, "buffered", "error")
		return Result{}, nil
	}

	if eff.Chime || eff.Normalize {
		data, err = e.postProcess(ctx, data, eff)
		if err != nil {
			e.svc.metrics.RecordSpeak(ctx, e.id, "buffered", "cancelled")
			return Result{}, err
		}
	}

	e.svc.metrics.RecordSpeak(ctx, e.id, "buffered", "ok")
	return Result{Format: "mp3", Data: data}, nil
}

// synthesizeAll runs one synthesis call to completion and concatenates the
// chunks in arrival order. Non-cancellation failures are logged and counted
// here; the caller only distinguishes cancelled from failed.
func (e *Entity) synthesizeAll(ctx context.Context, message string, eff config.Effective) ([]byte, error) {
	req := synth.Request{
		Text:         message,
		Voice:        eff.Voice,
		Speed:        eff.Speed,
		Instructions: eff.Instructions,
	}

	start := time.Now()
	stream, err := e.client.Synthesize(ctx, req)
	if err != nil {
		e.noteSynthFailure(ctx, err)
		return nil, err
	}
	defer stream.Close()

	var buf bytes.Buffer
	for {
		chunk, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			e.noteSynthFailure(ctx, err)
			return nil, err
		}
		buf.Write(chunk)
	}

	e.svc.metrics.RecordSynthesis(ctx, string(e.engine), "ok", time.Since(start).Seconds())
	return buf.Bytes(), nil
}

// noteSynthFailure logs and counts a failed synthesis attempt. Cancellations
// are logged at debug only; the caller propagates them unchanged.
func (e *Entity) noteSynthFailure(ctx context.Context, err error) {
	log := observe.Logger(ctx)
	if isCancellation(err) {
		log.Debug("speak: synthesis cancelled", "entity", e.id)
		return
	}
	kind := "synthesis"
	var netErr *synth.NetworkError
	if errors.As(err, &netErr) {
		kind = "network"
	}
	e.svc.metrics.RecordSynthesisError(ctx, string(e.engine), kind)
	log.Error("speak: synthesis failed", "entity", e.id, "kind", kind, "err", err)
}

// postProcess runs ffmpeg over the synthesized audio. A processing failure
// falls back to the unprocessed bytes; only cancellation returns an error.
func (e *Entity) postProcess(ctx context.Context, data []byte, eff config.Effective) ([]byte, error) {
	op := postProcessOp(eff)
	start := time.Now()
	processed, err := e.svc.proc.Process(ctx, data, audiofx.Options{
		Chime:      eff.Chime,
		ChimeSound: eff.ChimeSound,
		Normalize:  eff.Normalize,
	})
	if err != nil {
		if isCancellation(err) {
			return nil, err
		}
		e.svc.metrics.RecordPostProcess(ctx, op, "error", time.Since(start).Seconds())
		observe.Logger(ctx).Warn("speak: post-processing failed, delivering unprocessed audio",
			"entity", e.id, "op", op, "err", err)
		return data, nil
	}
	e.svc.metrics.RecordPostProcess(ctx, op, "ok", time.Since(start).Seconds())
	return processed, nil
}

// postProcessOp labels the ffmpeg variant for metrics and logs.
func postProcessOp(eff config.Effective) string {
	switch {
	case eff.Chime && eff.Normalize:
		return "chime+normalize"
	case eff.Chime:
		return "chime"
	default:
		return "normalize"
	}
}

// OpenStream starts a live synthesis stream for the relay endpoint. Voice and
// speed come from the entry's current settings; per-call overrides and
// instructions do not apply on this path. The caller owns the stream and must
// close it.
func (e *Entity) OpenStream(ctx context.Context, message string) (synth.Stream, error) {
	entry, ok := e.svc.store.Entry(e.entryID)
	if !ok {
		return nil, fmt.Errorf("speak: entry %s no longer configured", e.entryID)
	}
	eff := entry.Effective(config.Overrides{})
	return e.client.Synthesize(ctx, synth.Request{
		Text:  message,
		Voice: eff.Voice,
		Speed: eff.Speed,
	})
}

// close releases the entity's synthesis client. Safe to call more than once;
// later calls return the first result.
func (e *Entity) close() error {
	e.closeOnce.Do(func() {
		e.closeErr = e.client.Close()
	})
	return e.closeErr
}

// isCancellation reports whether err is a context cancellation or deadline.
func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
