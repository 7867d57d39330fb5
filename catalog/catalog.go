// catalog.go - Model-Katalog mit eingebetteter Basis und Benutzer-Registrierungen
//
// Dieses Modul enthaelt:
// - Laden des eingebetteten Katalogs (models.json)
// - Zusammenfuehrung mit user_models.json unter dem "user."-Namespace
// - Registrierung neuer Models mit Konflikt-Erkennung
// - Plattform-Filterung der verfuegbaren Recipes
package catalog

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/agnivade/levenshtein"
)

//go:embed models.json
var builtinBytes []byte

var builtinModels = sync.OnceValues(func() (map[string]entry, error) {
	var m map[string]entry
	if err := json.Unmarshal(builtinBytes, &m); err != nil {
		return nil, fmt.Errorf("eingebetteter katalog: %w", err)
	}
	return m, nil
})

// entry ist die JSON-Darstellung eines Katalog-Eintrags. user_models.json
// aelterer Versionen traegt ein bool-Feld "reasoning" statt eines Labels.
type entry struct {
	Checkpoint string   `json:"checkpoint"`
	Recipe     string   `json:"recipe"`
	Suggested  bool     `json:"suggested,omitempty"`
	Labels     []string `json:"labels,omitempty"`
	Mmproj     string   `json:"mmproj,omitempty"`
	Reasoning  bool     `json:"reasoning,omitempty"`
	Size       float64  `json:"size,omitempty"`
}

func (e entry) toModel(name, source string) Model {
	labels := append([]string(nil), e.Labels...)
	if e.Reasoning && !containsString(labels, "reasoning") {
		labels = append(labels, "reasoning")
	}
	return Model{
		Name:       name,
		Checkpoint: e.Checkpoint,
		Recipe:     e.Recipe,
		Suggested:  e.Suggested,
		Labels:     labels,
		Mmproj:     e.Mmproj,
		Source:     source,
		SizeGB:     e.Size,
	}
}

func containsString(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

// UserPrefix ist der Namespace fuer benutzerregistrierte Models.
const UserPrefix = "user."

const userModelsFile = "user_models.json"

var (
	ErrNotFound     = errors.New("model not found")
	ErrNotSupported = errors.New("model not supported")
)

// RecipeFilter entscheidet ob ein Recipe auf dieser Plattform angeboten wird.
type RecipeFilter func(recipe string) bool

// DefaultRecipeFilter blendet Recipes aus, deren Laufzeit auf dem
// aktuellen Betriebssystem nicht existiert. Die NPU-Pruefung fuer flm
// uebernimmt der Server ueber discover.
func DefaultRecipeFilter(recipe string) bool {
	switch recipe {
	case "ryzenai-hybrid", "ryzenai-npu", "ryzenai-cpu", "flm":
		return runtime.GOOS == "windows"
	}
	if runtime.GOOS == "darwin" {
		return recipe == "llamacpp" || recipe == "whispercpp"
	}
	return true
}

// Catalog verwaltet den zusammengefuehrten Model-Katalog. Benutzer-Models
// liegen in user_models.json im Cache-Verzeichnis und erscheinen unter
// dem "user."-Namespace.
type Catalog struct {
	mu     sync.RWMutex
	dir    string
	user   map[string]entry
	filter RecipeFilter
}

type Option func(*Catalog)

// WithRecipeFilter ersetzt die Plattform-Filterung.
func WithRecipeFilter(f RecipeFilter) Option {
	return func(c *Catalog) { c.filter = f }
}

// New laedt den Katalog. dir ist das Lemonade-Cache-Verzeichnis, in dem
// user_models.json und recipe_options.json abgelegt werden.
func New(dir string, opts ...Option) (*Catalog, error) {
	if _, err := builtinModels(); err != nil {
		return nil, err
	}

	c := &Catalog{
		dir:    dir,
		user:   make(map[string]entry),
		filter: DefaultRecipeFilter,
	}
	for _, opt := range opts {
		opt(c)
	}

	data, err := os.ReadFile(filepath.Join(dir, userModelsFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return c, nil
		}
		return nil, fmt.Errorf("user_models.json lesen: %w", err)
	}
	if err := json.Unmarshal(data, &c.user); err != nil {
		return nil, fmt.Errorf("user_models.json parsen: %w", err)
	}
	return c, nil
}

// Models gibt alle auf dieser Plattform verfuegbaren Models zurueck,
// sortiert nach Name.
func (c *Catalog) Models() []Model {
	c.mu.RLock()
	defer c.mu.RUnlock()

	builtin, _ := builtinModels()

	models := make([]Model, 0, len(builtin)+len(c.user))
	for name, e := range builtin {
		if !c.filter(e.Recipe) {
			continue
		}
		models = append(models, e.toModel(name, SourceCatalog))
	}
	for name, e := range c.user {
		if !c.filter(e.Recipe) {
			continue
		}
		models = append(models, e.toModel(UserPrefix+name, SourceLocalUpload))
	}

	sort.Slice(models, func(i, j int) bool { return models[i].Name < models[j].Name })
	return models
}

// Get sucht ein Model nach Namen. Die Plattform-Filterung gilt auch hier:
// ein ausgeblendetes Model ist nicht auffindbar.
func (c *Catalog) Get(name string) (Model, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.get(name)
}

func (c *Catalog) get(name string) (Model, error) {
	if bare, ok := strings.CutPrefix(name, UserPrefix); ok {
		if e, ok := c.user[bare]; ok && c.filter(e.Recipe) {
			return e.toModel(name, SourceLocalUpload), nil
		}
		return Model{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	builtin, _ := builtinModels()
	if e, ok := builtin[name]; ok && c.filter(e.Recipe) {
		return e.toModel(name, SourceCatalog), nil
	}
	return Model{}, fmt.Errorf("%w: %s", ErrNotFound, name)
}

// FilterReason erklaert, warum ein bekanntes Model auf dieser Plattform
// ausgeblendet ist. Fuer verfuegbare und fuer ganz unbekannte Models
// kommt "" zurueck.
func (c *Catalog) FilterReason(name string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var e entry
	if bare, ok := strings.CutPrefix(name, UserPrefix); ok {
		if e, ok = c.user[bare]; !ok {
			return ""
		}
	} else {
		builtin, _ := builtinModels()
		var ok bool
		if e, ok = builtin[name]; !ok {
			return ""
		}
	}

	if c.filter(e.Recipe) {
		return ""
	}

	switch e.Recipe {
	case "flm":
		return "The flm recipe requires a Ryzen AI NPU and is only supported on Windows."
	case "ryzenai-hybrid", "ryzenai-npu", "ryzenai-cpu":
		return fmt.Sprintf("The %s recipe requires the Ryzen AI runtime and is only supported on Windows.", e.Recipe)
	}
	return fmt.Sprintf("The %s recipe is not supported on this platform.", e.Recipe)
}

// Names gibt die sortierten Namen aller verfuegbaren Models zurueck.
func (c *Catalog) Names() []string {
	models := c.Models()
	names := make([]string, len(models))
	for i, m := range models {
		names[i] = m.Name
	}
	return names
}

// Closest sucht den Namen mit der kleinsten Levenshtein-Distanz zum
// angefragten Model. Liegt kein Name nahe genug, kommt "" zurueck.
func (c *Catalog) Closest(name string) string {
	var closest string
	score := math.MaxInt
	for _, candidate := range c.Names() {
		if s := levenshtein.ComputeDistance(strings.ToLower(name), strings.ToLower(candidate)); s < score {
			score = s
			closest = candidate
		}
	}

	if score < 10 && score < len(name) {
		return closest
	}
	return ""
}

// RegisterConfig beschreibt eine Registrierungs-Anfrage. Nur gesetzte
// Felder nehmen an der Konflikt-Pruefung teil.
type RegisterConfig struct {
	Name       string
	Checkpoint string
	Recipe     string
	Reasoning  bool
	Vision     bool
	Embedding  bool
	Reranking  bool
	Mmproj     string
}

// Validate prueft eine Registrierungs-Anfrage, ohne sie zu speichern.
// Fuer bereits registrierte Models prueft sie auf widerspruechliche
// Parameter. Fuer neue Models prueft sie Namespace, Pflichtfelder und
// die Varianten-Pflicht bei GGUF-Checkpoints. Der Rueckgabewert sagt,
// ob nach erfolgreichem Download eine Registrierung noetig ist.
func (c *Catalog) Validate(cfg RegisterConfig) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if existing, err := c.get(cfg.Name); err == nil {
		return false, checkConflicts(cfg, existing)
	}

	bare, ok := strings.CutPrefix(cfg.Name, UserPrefix)
	if !ok || bare == "" {
		return false, fmt.Errorf("when registering a new model, the model name must "+
			"include the `user` namespace, for example "+
			"`user.Phi-4-Mini-GGUF`. Received: %s", cfg.Name)
	}

	if cfg.Recipe == "" || cfg.Checkpoint == "" {
		return false, fmt.Errorf("model %s is not registered with Lemonade Server. "+
			"To register and install it, provide the `checkpoint` "+
			"and `recipe` arguments, as well as the optional "+
			"`reasoning` and `mmproj` arguments as appropriate", cfg.Name)
	}

	if !KnownRecipe(cfg.Recipe) {
		return false, fmt.Errorf("unknown recipe: %s", cfg.Recipe)
	}

	lower := strings.ToLower(cfg.Checkpoint)
	if strings.Contains(lower, "gguf") && !strings.Contains(lower, ":") {
		return false, errors.New("you are required to provide a 'variant' in the checkpoint field when " +
			"registering a GGUF model. The variant is provided " +
			"as CHECKPOINT:VARIANT. For example: " +
			"Qwen/Qwen2.5-Coder-3B-Instruct-GGUF:Q4_0 or " +
			"Qwen/Qwen2.5-Coder-3B-Instruct-GGUF:" +
			"qwen2.5-coder-3b-instruct-q4_0.gguf")
	}

	return true, nil
}

// checkConflicts vergleicht nur Parameter, die in der Anfrage gesetzt sind
// und vom Bestand abweichen.
func checkConflicts(cfg RegisterConfig, existing Model) error {
	var conflicts []string

	if cfg.Checkpoint != "" && cfg.Checkpoint != existing.Checkpoint {
		conflicts = append(conflicts, fmt.Sprintf("checkpoint (existing: '%s', new: '%s')", existing.Checkpoint, cfg.Checkpoint))
	}
	if cfg.Recipe != "" && cfg.Recipe != existing.Recipe {
		conflicts = append(conflicts, fmt.Sprintf("recipe (existing: '%s', new: '%s')", existing.Recipe, cfg.Recipe))
	}
	if cfg.Reasoning && !existing.Reasoning() {
		conflicts = append(conflicts, fmt.Sprintf("reasoning (existing: %t, new: %t)", existing.Reasoning(), cfg.Reasoning))
	}
	if cfg.Mmproj != "" && cfg.Mmproj != existing.Mmproj {
		conflicts = append(conflicts, fmt.Sprintf("mmproj (existing: '%s', new: '%s')", existing.Mmproj, cfg.Mmproj))
	}
	if cfg.Vision && !existing.Vision() {
		conflicts = append(conflicts, fmt.Sprintf("vision (existing: %t, new: %t)", existing.Vision(), cfg.Vision))
	}

	if len(conflicts) == 0 {
		return nil
	}

	var suggestion string
	if strings.HasPrefix(existing.Name, UserPrefix) {
		suggestion = fmt.Sprintf(" or delete the existing model first using `lemonade delete %s`", existing.Name)
	}

	return fmt.Errorf("model %s is already registered with a different configuration. "+
		"Conflicting parameters: %s. "+
		"Please use a different model name%s", existing.Name, strings.Join(conflicts, ", "), suggestion)
}

// Register speichert ein Benutzer-Model in user_models.json. Der Aufrufer
// ruft Register erst nach erfolgreichem Download auf, damit keine kaputten
// Konfigurationen registriert werden.
func (c *Catalog) Register(cfg RegisterConfig) (Model, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	bare, ok := strings.CutPrefix(cfg.Name, UserPrefix)
	if !ok {
		return Model{}, fmt.Errorf("not a user model: %s", cfg.Name)
	}

	labels := []string{"custom"}
	if cfg.Reasoning {
		labels = append(labels, "reasoning")
	}
	if cfg.Vision {
		labels = append(labels, "vision")
	}
	if cfg.Embedding {
		labels = append(labels, "embeddings")
	}
	if cfg.Reranking {
		labels = append(labels, "reranking")
	}

	e := entry{
		Checkpoint: cfg.Checkpoint,
		Recipe:     cfg.Recipe,
		Suggested:  true,
		Labels:     labels,
		Mmproj:     cfg.Mmproj,
	}

	c.user[bare] = e
	if err := c.save(); err != nil {
		delete(c.user, bare)
		return Model{}, err
	}
	return e.toModel(cfg.Name, SourceLocalUpload), nil
}

// Remove entfernt ein Benutzer-Model aus user_models.json. Eingebaute
// Models lassen sich nicht entfernen, nur deren Dateien.
func (c *Catalog) Remove(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	bare, ok := strings.CutPrefix(name, UserPrefix)
	if !ok {
		return fmt.Errorf("not a user model: %s", name)
	}
	if _, ok := c.user[bare]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	delete(c.user, bare)
	return c.save()
}

// save schreibt user_models.json atomar: erst in eine Temp-Datei, dann
// Rename ueber die Zieldatei.
func (c *Catalog) save() error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c.user, "", "  ")
	if err != nil {
		return err
	}

	f, err := os.CreateTemp(c.dir, "user_models-*.json")
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
	return os.Rename(f.Name(), filepath.Join(c.dir, userModelsFile))
}
