// Package relay serves synthesized speech as a live HTTP stream. Media
// players fetch the URLs the speak coordinator hands out for streamed
// delivery; synthesis happens while the player is already downloading, so
// playback starts before the backend finishes speaking.
package relay

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/davidtorcivia/kokoro-openai-tts/internal/observe"
	"github.com/davidtorcivia/kokoro-openai-tts/internal/speak"
	"github.com/davidtorcivia/kokoro-openai-tts/pkg/synth"
)

// Route is the mux pattern the handler must be mounted under. The
// message_hash segment is an opaque per-message token; the spoken text
// itself travels in the message query parameter.
const Route = "GET /api/tts_stream/{entity_id}/{message_hash}"

// Option configures a [Handler].
type Option func(*Handler)

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// Handler streams one synthesis call per request.
type Handler struct {
	svc     *speak.Service
	metrics *observe.Metrics
}

// NewHandler returns a relay handler backed by the given speak service.
func NewHandler(svc *speak.Service, opts ...Option) *Handler {
	h := &Handler{svc: svc}
	for _, o := range opts {
		o(h)
	}
	if h.metrics == nil {
		h.metrics = observe.DefaultMetrics()
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := observe.Logger(ctx)

	entityID := r.PathValue("entity_id")
	message := r.URL.Query().Get("message")
	if message == "" {
		http.Error(w, "missing message parameter", http.StatusBadRequest)
		return
	}

	ent, ok := h.svc.Entity(entityID)
	if !ok {
		http.Error(w, "unknown entity "+entityID, http.StatusNotFound)
		return
	}

	// Open the synthesis stream before touching the response so a failed
	// open still maps to a proper status code.
	stream, err := ent.OpenStream(ctx, message)
	if err != nil {
		var netErr *synth.NetworkError
		if errors.As(err, &netErr) {
			log.Error("relay: backend refused synthesis",
				"entity", entityID, "status", netErr.Status, "err", err)
			http.Error(w, "speech backend unavailable", http.StatusBadGateway)
			return
		}
		log.Error("relay: open synthesis stream", "entity", entityID, "err", err)
		http.Error(w, "synthesis failed", http.StatusInternalServerError)
		return
	}
	defer stream.Close()

	// Every response is unique per message, so forbid caching outright.
	hdr := w.Header()
	hdr.Set("Content-Type", "audio/mpeg")
	hdr.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	hdr.Set("Pragma", "no-cache")
	hdr.Set("Expires", "0")

	flusher, _ := w.(http.Flusher)

	h.metrics.RelayStreamOpened(ctx)
	defer h.metrics.RelayStreamClosed(ctx)

	var sent int64
	for {
		chunk, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// Headers are out; all we can do is stop the body. No error
			// text may land in the audio stream.
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				log.Info("relay: stream cancelled", "entity", entityID, "bytes", sent)
			} else {
				log.Error("relay: stream aborted", "entity", entityID, "bytes", sent, "err", err)
			}
			return
		}

		if _, werr := w.Write(chunk); werr != nil {
			log.Debug("relay: client disconnected", "entity", entityID, "bytes", sent)
			return
		}
		sent += int64(len(chunk))
		h.metrics.AddRelayBytes(ctx, entityID, int64(len(chunk)))
		if flusher != nil {
			flusher.Flush()
		}
	}

	log.Info("relay: stream complete", "entity", entityID, "bytes", sent)
}
