// sched_loading.go - Laden, Eviction und Entladen von Models
//
// Diese Datei enthaelt:
// - Acquire: Hot-Path fuer residente Models, Cold-Path mit singleflight
// - load: Eviction-Berechnung, Pending-Platzhalter, Spawn ausserhalb
//   des Locks
// - Eviction-Regeln: Typ-Quota per LRU, NPU-Exklusivitaet
// - Unload/UnloadAll
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/lemonade-sdk/lemonade/api"
	"github.com/lemonade-sdk/lemonade/catalog"
	"github.com/lemonade-sdk/lemonade/llm"
)

// Acquire gibt ein Handle auf das geladene Model zurueck und laedt es
// bei Bedarf. reqOpts nil bedeutet: nimm die residenten bzw.
// gespeicherten Optionen. Abweichende explizite Optionen erzwingen
// einen Reload. Der Spawn laeuft auch dann zu Ende, wenn der
// ausloesende Client vorher abbricht; der naechste Aufrufer profitiert.
func (s *Scheduler) Acquire(ctx context.Context, name string, reqOpts *api.RecipeOptions) (*Handle, error) {
	for {
		s.loadedMu.Lock()
		if lm, ok := s.loaded[name]; ok && !lm.pending {
			switch {
			case lm.server.HasExited() || lm.server.State() != llm.StateReady:
				// Engine ist waehrend Ready gestorben: Eintrag raus,
				// der naechste Durchlauf spawnt frisch.
				delete(s.loaded, name)
				s.loadedMu.Unlock()
				slog.Warn("wrapped server died, removing from pool", "model", name)
				lm.refs.Wait()
				lm.server.Stop()
			case reqOpts == nil || s.effectiveOptions(lm.model, reqOpts) == lm.options:
				lm.lastUse = time.Now()
				lm.refs.Add(1)
				s.loadedMu.Unlock()
				return &Handle{entry: lm}, nil
			default:
				// Optionen weichen ab: Reload mit den neuen Optionen.
				s.loadedMu.Unlock()
				if err := s.Unload(name); err != nil && !errors.Is(err, ErrNotLoaded) {
					return nil, err
				}
			}
		} else {
			s.loadedMu.Unlock()
		}

		ch := s.group.DoChan(name, func() (any, error) {
			return nil, s.load(name, reqOpts)
		})

		select {
		case res := <-ch:
			if res.Err != nil {
				return nil, res.Err
			}
		case <-ctx.Done():
			// Der Spawn laeuft im singleflight weiter und bleibt
			// geladen; nur dieser Aufrufer gibt auf.
			return nil, ctx.Err()
		}
		// Schleife nimmt das Handle im Hot-Path
	}
}

// load fuehrt einen kompletten Cold-Load aus: Katalog-Lookup,
// Options-Merge, Evictions, Pending-Eintrag, Download, Spawn,
// Readiness. Laeuft pro Model-Name hoechstens einmal gleichzeitig
// (singleflight in Acquire).
func (s *Scheduler) load(name string, reqOpts *api.RecipeOptions) error {
	model, err := s.catalog.Get(name)
	if err != nil {
		return err
	}

	opts := s.effectiveOptions(model, reqOpts)

	srv, err := s.newServer(model, opts)
	if err != nil {
		return err
	}

	lm := &loadedModel{
		model:   model,
		mtype:   model.Type(),
		device:  catalog.DeviceFor(model.Recipe),
		options: opts,
		server:  srv,
		lastUse: time.Now(),
		pending: true,
	}

	s.loadedMu.Lock()
	if _, ok := s.loaded[name]; ok {
		// Ein anderer Load ist uns zuvorgekommen
		s.loadedMu.Unlock()
		return nil
	}
	evictees := s.evictionsLocked(lm.mtype, lm.device, nil)
	s.loaded[name] = lm
	s.loadedMu.Unlock()

	for _, victim := range evictees {
		slog.Info("evicting model", "evicted", victim.model.Name, "for", name)
		victim.refs.Wait()
		victim.server.Stop()
	}

	// Der Spawn haengt nicht am Request-Kontext: ein Client-Abbruch
	// bricht den Load nicht ab. WaitReady begrenzt sich selbst ueber
	// das Load-Timeout.
	ctx := context.Background()

	if err := s.spawn(ctx, srv); err != nil {
		s.loadedMu.Lock()
		delete(s.loaded, name)
		s.loadedMu.Unlock()
		srv.Stop()
		return fmt.Errorf("load %s: %w", name, err)
	}

	// Zweiter Eviction-Durchlauf nach dem Spawn: waehrend dieser Load
	// pending war, konnten parallele Loads desselben Typs nur einander
	// sehen und niemanden verdraengen. Jetzt, wo dieser Eintrag Ready
	// ist, wird die Quota gegen die inzwischen gesettelten Eintraege
	// erneut durchgesetzt.
	s.loadedMu.Lock()
	lm.pending = false
	lm.lastUse = time.Now()
	settled := s.evictionsLocked(lm.mtype, lm.device, lm)
	s.loadedMu.Unlock()

	for _, victim := range settled {
		slog.Info("evicting model", "evicted", victim.model.Name, "for", name)
		victim.refs.Wait()
		victim.server.Stop()
	}

	slog.Info("model loaded", "model", name, "type", lm.mtype, "device", lm.device.String(), "port", srv.GetPort())
	return nil
}

func (s *Scheduler) spawn(ctx context.Context, srv llm.WrappedServer) error {
	if err := srv.Download(ctx, false); err != nil {
		return err
	}
	if err := srv.Spawn(ctx); err != nil {
		return err
	}
	return srv.WaitReady(ctx)
}

// effectiveOptions baut die Optionen eines Loads: gespeicherte
// recipe_options als Basis, explizite Request-Felder darueber; die
// Defaults aus Environment und Backend-Erkennung ziehen die Engines
// selbst.
func (s *Scheduler) effectiveOptions(model catalog.Model, reqOpts *api.RecipeOptions) api.RecipeOptions {
	var opts api.RecipeOptions
	if saved := s.store.Get(model.Name); saved != nil {
		opts = *saved
	}
	if reqOpts != nil {
		if reqOpts.CtxSize != 0 {
			opts.CtxSize = reqOpts.CtxSize
		}
		if reqOpts.LlamaCppBackend != "" {
			opts.LlamaCppBackend = reqOpts.LlamaCppBackend
		}
		if reqOpts.LlamaCppArgs != "" {
			opts.LlamaCppArgs = reqOpts.LlamaCppArgs
		}
	}
	return opts
}

// evictionsLocked berechnet die Eviction-Menge fuer ein Model und
// entfernt sie aus der Map. loadedMu muss gehalten werden; das
// Stoppen der Opfer uebernimmt der Aufrufer nach dem Release.
//
// self nil: das Model steht noch nicht in der Map, es zaehlt als +1
// auf die Quota. self gesetzt: der Eintrag steht bereits drin (der
// zweite Durchlauf nach dem Spawn) und ist selbst kein Opfer.
//
// Regeln:
//  1. Ueberzaehlige Eintraege desselben Typs fliegen per LRU raus;
//     Gleichstand bei lastUse entscheidet der Name (deterministisch).
//  2. Braucht das Model die NPU, fliegt jeder andere NPU-Eintrag raus:
//     zwei NPU-Engines gleichzeitig sind nicht erlaubt.
func (s *Scheduler) evictionsLocked(t catalog.ModelType, device catalog.Device, self *loadedModel) []*loadedModel {
	var sameType []*loadedModel
	for _, lm := range s.loaded {
		if lm.mtype == t {
			sameType = append(sameType, lm)
		}
	}

	sort.Slice(sameType, func(i, j int) bool {
		if !sameType[i].lastUse.Equal(sameType[j].lastUse) {
			return sameType[i].lastUse.Before(sameType[j].lastUse)
		}
		return sameType[i].model.Name < sameType[j].model.Name
	})

	victims := make(map[string]*loadedModel)

	overQuota := len(sameType) - maxFor(t)
	if self == nil {
		overQuota++
	}
	for _, lm := range sameType {
		if overQuota <= 0 {
			break
		}
		if lm == self || lm.pending {
			// Weder sich selbst noch einen laufenden Spawn abschiessen
			continue
		}
		victims[lm.model.Name] = lm
		overQuota--
	}

	if device.UsesNPU() {
		for _, lm := range s.loaded {
			if lm.device.UsesNPU() && lm != self && !lm.pending {
				victims[lm.model.Name] = lm
			}
		}
	}

	out := make([]*loadedModel, 0, len(victims))
	for name, lm := range victims {
		delete(s.loaded, name)
		out = append(out, lm)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].model.Name < out[j].model.Name })
	return out
}

// Unload stoppt ein geladenes Model und entfernt es aus dem Pool.
func (s *Scheduler) Unload(name string) error {
	s.loadedMu.Lock()
	lm, ok := s.loaded[name]
	if !ok {
		s.loadedMu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotLoaded, name)
	}
	delete(s.loaded, name)
	s.loadedMu.Unlock()

	lm.refs.Wait()
	return lm.server.Stop()
}

// UnloadAll stoppt jeden Eintrag des Pools. Wird beim Shutdown und
// von /unload ohne Model-Name benutzt.
func (s *Scheduler) UnloadAll() {
	s.loadedMu.Lock()
	victims := make([]*loadedModel, 0, len(s.loaded))
	for name, lm := range s.loaded {
		delete(s.loaded, name)
		victims = append(victims, lm)
	}
	s.loadedMu.Unlock()

	for _, lm := range victims {
		slog.Info("unloading model", "model", lm.model.Name)
		lm.refs.Wait()
		lm.server.Stop()
	}
}
