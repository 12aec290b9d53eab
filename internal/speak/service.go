package speak

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/davidtorcivia/kokoro-openai-tts/internal/audiofx"
	"github.com/davidtorcivia/kokoro-openai-tts/internal/config"
	"github.com/davidtorcivia/kokoro-openai-tts/internal/observe"
	"github.com/davidtorcivia/kokoro-openai-tts/pkg/synth"
)

// entityIDPrefix namespaces every generated entity ID.
const entityIDPrefix = "tts.kokoro_openai_tts_"

// ClientFactory builds the synthesis client for one config entry. The
// default factory constructs a [synth.Client] from the entry's connection
// settings; tests substitute fakes.
type ClientFactory func(entry *config.Entry) (Synthesizer, error)

// Option configures a [Service].
type Option func(*Service)

// WithLogger sets the logger for entity lifecycle events. Request-scoped
// logging goes through [observe.Logger] instead.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClientFactory replaces the synthesis client constructor.
func WithClientFactory(f ClientFactory) Option {
	return func(s *Service) { s.factory = f }
}

// Service owns the set of speech entities built from the config store. All
// exported methods are safe for concurrent use.
type Service struct {
	store   *config.Store
	proc    *audiofx.Processor
	logger  *slog.Logger
	metrics *observe.Metrics
	factory ClientFactory

	mu       sync.RWMutex
	entities map[string]*Entity // keyed by entity ID
	byEntry  map[string]*Entity // keyed by config entry ID
	closed   bool
}

// NewService builds one entity per config entry in the store's current
// snapshot. On failure, clients created so far are closed before the error
// is returned.
func NewService(store *config.Store, proc *audiofx.Processor, opts ...Option) (*Service, error) {
	s := &Service{
		store:    store,
		proc:     proc,
		logger:   slog.Default(),
		entities: make(map[string]*Entity),
		byEntry:  make(map[string]*Entity),
	}
	s.factory = s.buildClient
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}

	cfg := store.Config()
	taken := make(map[string]bool, len(cfg.Entries))
	for i := range cfg.Entries {
		if err := s.addEntity(&cfg.Entries[i], taken); err != nil {
			for _, ent := range s.entities {
				_ = ent.close()
			}
			return nil, err
		}
	}
	return s, nil
}

// buildClient is the default [ClientFactory]: a real HTTP synthesis client
// from the entry's connection settings.
func (s *Service) buildClient(entry *config.Entry) (Synthesizer, error) {
	eff := entry.Effective(config.Overrides{})
	switch entry.Engine {
	case config.EngineKokoroFastAPI:
		var popts []synth.ProviderOption
		if eff.ChunkSize > 0 {
			popts = append(popts, synth.WithChunkSize(eff.ChunkSize))
		}
		p, err := synth.NewKokoroProvider(entry.Setup.URL, entry.Setup.APIKey, popts...)
		if err != nil {
			return nil, err
		}
		return synth.NewClient(p, synth.WithLogger(s.logger)), nil
	default:
		p, err := synth.NewOpenAIProvider(entry.Setup.URL, entry.Setup.APIKey, eff.Model)
		if err != nil {
			return nil, err
		}
		return synth.NewClient(p, synth.WithLogger(s.logger)), nil
	}
}

// addEntity builds the client and registers the entity. The caller holds the
// lock (or, during construction, has exclusive access). taken tracks entity
// IDs already assigned so model-name collisions get numeric suffixes.
func (s *Service) addEntity(entry *config.Entry, taken map[string]bool) error {
	client, err := s.factory(entry)
	if err != nil {
		return fmt.Errorf("speak: build client for entry %s: %w", entry.ID, err)
	}

	eff := entry.Effective(config.Overrides{})
	ent := &Entity{
		id:      assignEntityID(eff.Model, taken),
		entryID: entry.ID,
		engine:  entry.Engine,
		title:   entry.Title(),
		client:  client,
		svc:     s,
	}
	s.entities[ent.id] = ent
	s.byEntry[entry.ID] = ent

	s.logger.Info("speak: entity ready",
		"entity", ent.id, "title", ent.title, "engine", string(ent.engine))
	return nil
}

// assignEntityID derives the entity ID from the model name, appending _2, _3
// and so on when several entries share a model.
func assignEntityID(model string, taken map[string]bool) string {
	base := entityIDPrefix + slugify(model)
	id := base
	for n := 2; taken[id]; n++ {
		id = fmt.Sprintf("%s_%d", base, n)
	}
	taken[id] = true
	return id
}

// slugify lowercases s and collapses every non-alphanumeric run into a
// single underscore, so "tts-1" becomes "tts_1".
func slugify(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	pendingSep := false
	for _, r := range strings.ToLower(s) {
		alnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if !alnum {
			pendingSep = b.Len() > 0
			continue
		}
		if pendingSep {
			b.WriteByte('_')
			pendingSep = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Entity looks up an entity by its entity ID.
func (s *Service) Entity(id string) (*Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ent, ok := s.entities[id]
	return ent, ok
}

// Entities returns all entities sorted by entity ID.
func (s *Service) Entities() []*Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Entity, 0, len(s.entities))
	for _, ent := range s.entities {
		out = append(out, ent)
	}
	slices.SortFunc(out, func(a, b *Entity) int { return strings.Compare(a.id, b.id) })
	return out
}

// Reload reconciles the entity set after a config change. Entities whose
// entry is unchanged keep their client and entity ID; removed and changed
// entries are torn down, and changed plus added entries get fresh clients.
// A failed rebuild is logged and skipped so one broken entry cannot take
// down the rest.
func (s *Service) Reload(old, new *config.Config) {
	d := config.Diff(old, new)
	if len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	rebuild := make(map[string]bool, len(d.Removed)+len(d.Changed))
	for _, id := range d.Removed {
		rebuild[id] = true
	}
	for _, id := range d.Changed {
		rebuild[id] = true
	}

	for entryID, ent := range s.byEntry {
		if !rebuild[entryID] {
			continue
		}
		if err := ent.close(); err != nil {
			s.logger.Warn("speak: close entity client", "entity", ent.id, "err", err)
		}
		delete(s.byEntry, entryID)
		delete(s.entities, ent.id)
		s.logger.Info("speak: entity removed", "entity", ent.id)
	}

	// Surviving entities keep their IDs; new ones pick the next free suffix.
	taken := make(map[string]bool, len(s.entities))
	for id := range s.entities {
		taken[id] = true
	}
	for i := range new.Entries {
		entry := &new.Entries[i]
		if _, ok := s.byEntry[entry.ID]; ok {
			continue
		}
		if err := s.addEntity(entry, taken); err != nil {
			s.logger.Error("speak: rebuild entity", "entry_id", entry.ID, "err", err)
		}
	}
}

// Close releases all entity clients. Subsequent calls are no-ops.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	for _, ent := range s.entities {
		if err := ent.close(); err != nil {
			errs = append(errs, fmt.Errorf("speak: close %s: %w", ent.id, err))
		}
	}
	return errors.Join(errs...)
}
