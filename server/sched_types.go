// sched_types.go - Scheduler-Typen und Strukturen
//
// Diese Datei enthaelt:
// - Scheduler: verwaltet den Pool geladener Models mit Typ-Quotas
// - loadedModel: ein residenter (oder gerade startender) Eintrag
// - Handle: pinnt einen Eintrag fuer die Dauer eines Requests
// - Quota-Tabelle pro ModelType
package server

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/lemonade-sdk/lemonade/api"
	"github.com/lemonade-sdk/lemonade/catalog"
	"github.com/lemonade-sdk/lemonade/envconfig"
	"github.com/lemonade-sdk/lemonade/llm"
)

// ErrNotLoaded wird zurueckgegeben wenn ein Unload ein Model nennt,
// das nicht im Pool ist.
var ErrNotLoaded = errors.New("model not loaded")

// Scheduler haelt die geladenen Models. Eine grobe Mutex schuetzt die
// Map und die Quota-Zaehlung; der langsame Spawn laeuft ausserhalb des
// Locks ueber einen Pending-Platzhalter. Gleichzeitige Acquires
// desselben Models kollabieren per singleflight auf einen Spawn.
type Scheduler struct {
	catalog *catalog.Catalog
	store   *catalog.OptionsStore

	loadedMu sync.Mutex
	loaded   map[string]*loadedModel

	group singleflight.Group

	// newServer ist in Tests ersetzbar
	newServer func(model catalog.Model, opts api.RecipeOptions) (llm.WrappedServer, error)
}

// NewScheduler erstellt einen leeren Scheduler.
func NewScheduler(cat *catalog.Catalog, store *catalog.OptionsStore) *Scheduler {
	return &Scheduler{
		catalog:   cat,
		store:     store,
		loaded:    make(map[string]*loadedModel),
		newServer: llm.NewServer,
	}
}

// loadedModel ist ein Eintrag im Pool. Waehrend pending true ist,
// laeuft der Spawn noch: der Eintrag zaehlt fuer Quotas und erscheint
// in /health, wird aber nie fuer Requests herausgegeben.
type loadedModel struct {
	model   catalog.Model
	mtype   catalog.ModelType
	device  catalog.Device
	options api.RecipeOptions
	server  llm.WrappedServer

	lastUse time.Time
	pending bool

	// refs pinnt den Eintrag gegen Eviction. Add passiert nur unter
	// loadedMu und nur solange der Eintrag in der Map steht; nach dem
	// Entfernen wartet der Evictor auf den Drain.
	refs sync.WaitGroup
}

// LogValue formatiert den Eintrag fuer Logging.
func (lm *loadedModel) LogValue() slog.Value {
	if lm == nil {
		return slog.StringValue("nil")
	}
	return slog.GroupValue(
		slog.String("name", lm.model.Name),
		slog.String("type", string(lm.mtype)),
		slog.String("device", lm.device.String()),
		slog.Bool("pending", lm.pending),
	)
}

func (lm *loadedModel) toAPI() api.LoadedModel {
	return api.LoadedModel{
		Name:          lm.model.Name,
		Type:          string(lm.mtype),
		Device:        lm.device.String(),
		Checkpoint:    lm.model.Checkpoint,
		LastUse:       lm.lastUse,
		RecipeOptions: lm.options,
	}
}

// Handle ist die Referenz, die Acquire herausgibt. Release gibt den
// Pin frei; doppelte Releases sind harmlos.
type Handle struct {
	entry *loadedModel
	once  sync.Once
}

// Server gibt den Wrapped-Server des gepinnten Eintrags zurueck.
func (h *Handle) Server() llm.WrappedServer { return h.entry.server }

// Model gibt den Katalog-Eintrag des gepinnten Models zurueck.
func (h *Handle) Model() catalog.Model { return h.entry.model }

// Release loest den Pin. Danach darf der Eintrag evicted werden.
func (h *Handle) Release() {
	h.once.Do(h.entry.refs.Done)
}

// maxFor gibt die Quota fuer einen ModelType zurueck. Audio deckt
// Whisper und Kokoro ab; Image-Models sind wegen ihres VRAM-Bedarfs
// auf eine Instanz begrenzt.
func maxFor(t catalog.ModelType) int {
	switch t {
	case catalog.TypeLLM:
		return int(envconfig.MaxLoadedModels())
	case catalog.TypeEmbedding:
		return int(envconfig.MaxEmbeddingModels())
	case catalog.TypeReranking:
		return int(envconfig.MaxRerankingModels())
	case catalog.TypeAudio:
		return int(envconfig.MaxAudioModels())
	default:
		return 1
	}
}

// MaxModels gibt die Quotas fuer den Health-Report zurueck.
func (s *Scheduler) MaxModels() api.MaxModels {
	return api.MaxModels{
		LLM:       maxFor(catalog.TypeLLM),
		Embedding: maxFor(catalog.TypeEmbedding),
		Reranking: maxFor(catalog.TypeReranking),
	}
}

// ListLoaded gibt einen Schnappschuss des Pools zurueck, sortiert nach
// Name. Pending-Eintraege erscheinen mit, sie belegen bereits Quota.
func (s *Scheduler) ListLoaded() []api.LoadedModel {
	s.loadedMu.Lock()
	defer s.loadedMu.Unlock()

	out := make([]api.LoadedModel, 0, len(s.loaded))
	for _, lm := range s.loaded {
		out = append(out, lm.toAPI())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Degraded meldet, ob eine Engine eines residenten Eintrags nicht mehr
// gesund ist. Pending-Eintraege zaehlen nicht, ihr Spawn laeuft noch.
func (s *Scheduler) Degraded() bool {
	s.loadedMu.Lock()
	defer s.loadedMu.Unlock()

	for _, lm := range s.loaded {
		if lm.pending {
			continue
		}
		if lm.server.HasExited() || lm.server.State() != llm.StateReady {
			return true
		}
	}
	return false
}

// Stats gibt die Telemetrie des zuletzt benutzten Models zurueck.
func (s *Scheduler) Stats() api.StatsResponse {
	s.loadedMu.Lock()
	defer s.loadedMu.Unlock()

	var latest *loadedModel
	for _, lm := range s.loaded {
		if lm.pending {
			continue
		}
		if latest == nil || lm.lastUse.After(latest.lastUse) {
			latest = lm
		}
	}
	if latest == nil {
		return api.StatsResponse{}
	}
	return latest.server.Telemetry()
}
