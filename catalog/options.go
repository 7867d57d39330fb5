// options.go - Persistierte Recipe-Optionen pro Model
//
// Dieses Modul enthaelt:
// - OptionsStore: recipe_options.json im Cache-Verzeichnis
// - Merge-Semantik: nur gesetzte Felder ueberschreiben den Bestand
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/lemonade-sdk/lemonade/api"
)

const optionsFile = "recipe_options.json"

// OptionsStore haelt die mit --save-options persistierten Lade-Parameter.
// Die Optionen erscheinen im Model-Listing und gelten bei jedem Laden,
// solange die Anfrage sie nicht ueberschreibt.
type OptionsStore struct {
	mu   sync.RWMutex
	dir  string
	byID map[string]api.RecipeOptions
}

// NewOptionsStore laedt recipe_options.json aus dir, falls vorhanden.
func NewOptionsStore(dir string) (*OptionsStore, error) {
	s := &OptionsStore{
		dir:  dir,
		byID: make(map[string]api.RecipeOptions),
	}

	data, err := os.ReadFile(filepath.Join(dir, optionsFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("recipe_options.json lesen: %w", err)
	}
	if err := json.Unmarshal(data, &s.byID); err != nil {
		return nil, fmt.Errorf("recipe_options.json parsen: %w", err)
	}
	return s, nil
}

// Get gibt die gespeicherten Optionen eines Models zurueck, oder nil.
func (s *OptionsStore) Get(name string) *api.RecipeOptions {
	s.mu.RLock()
	defer s.mu.RUnlock()

	opts, ok := s.byID[name]
	if !ok {
		return nil
	}
	return &opts
}

// Set uebernimmt die gesetzten Felder von opts in den Bestand des Models
// und schreibt die Datei.
func (s *OptionsStore) Set(name string, opts api.RecipeOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := s.byID[name]
	if opts.CtxSize != 0 {
		merged.CtxSize = opts.CtxSize
	}
	if opts.LlamaCppBackend != "" {
		merged.LlamaCppBackend = opts.LlamaCppBackend
	}
	if opts.LlamaCppArgs != "" {
		merged.LlamaCppArgs = opts.LlamaCppArgs
	}

	s.byID[name] = merged
	return s.save()
}

// Delete entfernt die Optionen eines Models, etwa beim Loeschen des Models.
func (s *OptionsStore) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[name]; !ok {
		return nil
	}
	delete(s.byID, name)
	return s.save()
}

func (s *OptionsStore) save() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s.byID, "", "  ")
	if err != nil {
		return err
	}

	f, err := os.CreateTemp(s.dir, "recipe_options-*.json")
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())

	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), filepath.Join(s.dir, optionsFile))
}
