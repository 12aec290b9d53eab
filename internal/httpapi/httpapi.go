// Package httpapi assembles the daemon's HTTP surface: the speak endpoint,
// the streaming relay, catalog listings, health probes, and Prometheus
// metrics, all wrapped in the tracing middleware.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/davidtorcivia/kokoro-openai-tts/internal/audiofx"
	"github.com/davidtorcivia/kokoro-openai-tts/internal/config"
	"github.com/davidtorcivia/kokoro-openai-tts/internal/observe"
	"github.com/davidtorcivia/kokoro-openai-tts/internal/relay"
	"github.com/davidtorcivia/kokoro-openai-tts/internal/speak"
	"github.com/davidtorcivia/kokoro-openai-tts/pkg/voices"
)

// Config holds the collaborators the HTTP surface is built from.
type Config struct {
	// Store provides the live configuration (chime directory lookups).
	Store *config.Store

	// Speak resolves entities and performs synthesis.
	Speak *speak.Service

	// Relay handles the streaming endpoint. Mounted under [relay.Route].
	Relay http.Handler

	// Health and Ready serve the liveness and readiness probes.
	Health http.Handler
	Ready  http.Handler

	// Metrics feeds the middleware. Defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// NewHandler builds the complete routed and instrumented handler.
func NewHandler(c Config) http.Handler {
	if c.Metrics == nil {
		c.Metrics = observe.DefaultMetrics()
	}

	api := &api{store: c.Store, speak: c.Speak}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/speak", api.handleSpeak)
	mux.HandleFunc("GET /api/entities", api.handleEntities)
	mux.HandleFunc("GET /api/voices", api.handleVoices)
	mux.HandleFunc("GET /api/chimes", api.handleChimes)
	mux.Handle(relay.Route, c.Relay)
	if c.Health != nil {
		mux.Handle("GET /healthz", c.Health)
	}
	if c.Ready != nil {
		mux.Handle("GET /readyz", c.Ready)
	}
	mux.Handle("GET /metrics", promhttp.Handler())

	return observe.Middleware(c.Metrics)(mux)
}

type api struct {
	store *config.Store
	speak *speak.Service
}

// ---- /api/speak ----

type speakRequest struct {
	EntityID string        `json:"entity_id"`
	Message  string        `json:"message"`
	Language string        `json:"language,omitempty"`
	Options  *speakOptions `json:"options,omitempty"`
}

type speakOptions struct {
	MediaSource  bool    `json:"media_source,omitempty"`
	Instructions *string `json:"instructions,omitempty"`
	Chime        *bool   `json:"chime,omitempty"`
	ChimeSound   *string `json:"chime_sound,omitempty"`
}

func (o *speakOptions) callOptions() speak.CallOptions {
	if o == nil {
		return speak.CallOptions{}
	}
	return speak.CallOptions{
		MediaSource:  o.MediaSource,
		Instructions: o.Instructions,
		Chime:        o.Chime,
		ChimeSound:   o.ChimeSound,
	}
}

func (a *api) handleSpeak(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := observe.Logger(ctx)

	var req speakRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if req.EntityID == "" || req.Message == "" {
		writeError(w, http.StatusBadRequest, "entity_id and message are required")
		return
	}

	ent, ok := a.speak.Entity(req.EntityID)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown entity "+req.EntityID)
		return
	}

	res, err := ent.Speak(ctx, req.Message, req.Options.callOptions())
	switch {
	case errors.Is(err, speak.ErrMessageTooLong):
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	case err != nil:
		// Cancellation: the client is gone, nothing sensible to write.
		log.Debug("speak request cancelled", "entity", req.EntityID)
		return
	case res.IsZero():
		writeError(w, http.StatusBadGateway, "synthesis failed")
		return
	}

	if res.Media != nil {
		writeJSON(w, http.StatusOK, res.Media)
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(res.Data); err != nil {
		log.Debug("speak response write failed", "entity", req.EntityID, "err", err)
	}
}

// ---- /api/entities ----

type entityInfo struct {
	EntityID     string `json:"entity_id"`
	Title        string `json:"title"`
	Engine       string `json:"engine"`
	Manufacturer string `json:"manufacturer"`
	EntryID      string `json:"entry_id"`
}

func (a *api) handleEntities(w http.ResponseWriter, _ *http.Request) {
	ents := a.speak.Entities()
	out := make([]entityInfo, 0, len(ents))
	for _, e := range ents {
		out = append(out, entityInfo{
			EntityID:     e.ID(),
			Title:        e.Title(),
			Engine:       string(e.Engine()),
			Manufacturer: e.Engine().Manufacturer(),
			EntryID:      e.EntryID(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"entities": out})
}

// ---- /api/voices ----

type engineCatalog struct {
	Engine       string   `json:"engine"`
	Manufacturer string   `json:"manufacturer"`
	Models       []string `json:"models"`
	Voices       []string `json:"voices"`
	Languages    []string `json:"languages"`
}

func openaiCatalog() engineCatalog {
	return engineCatalog{
		Engine:       string(config.EngineOpenAI),
		Manufacturer: config.EngineOpenAI.Manufacturer(),
		Models:       voices.Models(),
		Voices:       voices.OpenAI(),
		Languages:    voices.Languages(),
	}
}

func kokoroCatalog() engineCatalog {
	return engineCatalog{
		Engine:       string(config.EngineKokoroFastAPI),
		Manufacturer: config.EngineKokoroFastAPI.Manufacturer(),
		Models:       []string{voices.KokoroModel},
		Voices:       voices.Kokoro(),
		Languages:    voices.Languages(),
	}
}

func (a *api) handleVoices(w http.ResponseWriter, r *http.Request) {
	var catalogs []engineCatalog
	switch engine := config.Engine(r.URL.Query().Get("engine")); engine {
	case "":
		catalogs = []engineCatalog{openaiCatalog(), kokoroCatalog()}
	case config.EngineOpenAI:
		catalogs = []engineCatalog{openaiCatalog()}
	case config.EngineKokoroFastAPI:
		catalogs = []engineCatalog{kokoroCatalog()}
	default:
		writeError(w, http.StatusBadRequest, "unknown engine "+string(engine))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"engines": catalogs})
}

// ---- /api/chimes ----

func (a *api) handleChimes(w http.ResponseWriter, r *http.Request) {
	dir := a.store.Config().Chimes.Dir
	if dir == "" {
		writeJSON(w, http.StatusOK, map[string]any{"chimes": []audiofx.Chime{}})
		return
	}

	chimes, err := audiofx.ListChimes(dir)
	if err != nil {
		observe.Logger(r.Context()).Error("list chimes", "dir", dir, "err", err)
		writeError(w, http.StatusInternalServerError, "chime directory unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chimes": chimes})
}

// ---- helpers ----

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
