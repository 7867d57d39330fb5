// catalog_test.go - Tests fuer Katalog, Registrierung und Klassifizierung
package catalog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func allRecipes(string) bool { return true }

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := New(t.TempDir(), WithRecipeFilter(allRecipes))
	if err != nil {
		t.Fatalf("New fehlgeschlagen: %v", err)
	}
	return c
}

func TestBuiltinModels(t *testing.T) {
	c := newTestCatalog(t)

	m, err := c.Get("Qwen3-0.6B-GGUF")
	if err != nil {
		t.Fatalf("Get fehlgeschlagen: %v", err)
	}
	if m.Recipe != "llamacpp" {
		t.Errorf("Recipe = %q, erwartet %q", m.Recipe, "llamacpp")
	}
	if m.Checkpoint != "unsloth/Qwen3-0.6B-GGUF:Q4_K_M" {
		t.Errorf("Checkpoint = %q", m.Checkpoint)
	}
	if !m.Reasoning() {
		t.Error("Reasoning = false, erwartet true")
	}

	for _, m := range c.Models() {
		if !KnownRecipe(m.Recipe) {
			t.Errorf("Model %s hat unbekanntes Recipe %q", m.Name, m.Recipe)
		}
	}
}

func TestModelType(t *testing.T) {
	cases := []struct {
		name   string
		model  Model
		expect ModelType
	}{
		{"llm", Model{Recipe: "llamacpp"}, TypeLLM},
		{"embedding label", Model{Recipe: "llamacpp", Labels: []string{"embeddings"}}, TypeEmbedding},
		{"embedding singular", Model{Recipe: "llamacpp", Labels: []string{"embedding"}}, TypeEmbedding},
		{"reranking", Model{Recipe: "llamacpp", Labels: []string{"reranking"}}, TypeReranking},
		{"audio label", Model{Recipe: "llamacpp", Labels: []string{"audio"}}, TypeAudio},
		{"whisper", Model{Recipe: "whispercpp"}, TypeAudio},
		{"kokoro", Model{Recipe: "kokoro", Labels: []string{"tts"}}, TypeAudio},
		{"stable diffusion", Model{Recipe: "sd-cpp", Labels: []string{"image-generation"}}, TypeImage},
		{"reasoning bleibt llm", Model{Recipe: "flm", Labels: []string{"reasoning"}}, TypeLLM},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.model.Type(); got != tt.expect {
				t.Errorf("Type() = %q, erwartet %q", got, tt.expect)
			}
		})
	}
}

func TestDeviceFor(t *testing.T) {
	cases := []struct {
		recipe string
		expect string
		npu    bool
	}{
		{"llamacpp", "gpu", false},
		{"ryzenai-hybrid", "gpu|npu", true},
		{"ryzenai-npu", "npu", true},
		{"ryzenai-cpu", "cpu", false},
		{"flm", "npu", true},
		{"whispercpp", "cpu", false},
		{"sd-cpp", "gpu", false},
		{"kokoro", "cpu", false},
		{"unbekannt", "none", false},
	}

	for _, tt := range cases {
		t.Run(tt.recipe, func(t *testing.T) {
			d := DeviceFor(tt.recipe)
			if got := d.String(); got != tt.expect {
				t.Errorf("DeviceFor(%q) = %q, erwartet %q", tt.recipe, got, tt.expect)
			}
			if d.UsesNPU() != tt.npu {
				t.Errorf("UsesNPU() = %v, erwartet %v", d.UsesNPU(), tt.npu)
			}
		})
	}
}

func TestUserModels(t *testing.T) {
	dir := t.TempDir()

	// Altes Format mit "reasoning" als bool statt Label.
	content := `{"My-Model": {"checkpoint": "org/My-Model-GGUF:Q4_0", "recipe": "llamacpp", "suggested": true, "reasoning": true}}`
	if err := os.WriteFile(filepath.Join(dir, "user_models.json"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := New(dir, WithRecipeFilter(allRecipes))
	if err != nil {
		t.Fatalf("New fehlgeschlagen: %v", err)
	}

	m, err := c.Get("user.My-Model")
	if err != nil {
		t.Fatalf("Get fehlgeschlagen: %v", err)
	}

	want := Model{
		Name:       "user.My-Model",
		Checkpoint: "org/My-Model-GGUF:Q4_0",
		Recipe:     "llamacpp",
		Suggested:  true,
		Labels:     []string{"reasoning"},
		Source:     SourceLocalUpload,
	}
	if diff := cmp.Diff(want, m); diff != "" {
		t.Errorf("Model weicht ab (-want +got):\n%s", diff)
	}

	if _, err := c.Get("My-Model"); err == nil {
		t.Error("Get ohne user.-Prefix sollte fehlschlagen")
	}
}

func TestValidate(t *testing.T) {
	c := newTestCatalog(t)

	t.Run("namespace erforderlich", func(t *testing.T) {
		_, err := c.Validate(RegisterConfig{Name: "Brand-New", Checkpoint: "org/repo", Recipe: "llamacpp"})
		if err == nil || !strings.Contains(err.Error(), "`user` namespace") {
			t.Errorf("erwartet Namespace-Fehler, got %v", err)
		}
	})

	t.Run("checkpoint und recipe erforderlich", func(t *testing.T) {
		_, err := c.Validate(RegisterConfig{Name: "user.Brand-New"})
		if err == nil || !strings.Contains(err.Error(), "provide the `checkpoint`") {
			t.Errorf("erwartet Pflichtfeld-Fehler, got %v", err)
		}
	})

	t.Run("gguf braucht variante", func(t *testing.T) {
		_, err := c.Validate(RegisterConfig{Name: "user.Brand-New", Checkpoint: "org/Repo-GGUF", Recipe: "llamacpp"})
		if err == nil || !strings.Contains(err.Error(), "CHECKPOINT:VARIANT") {
			t.Errorf("erwartet Varianten-Fehler, got %v", err)
		}
	})

	t.Run("neues model ok", func(t *testing.T) {
		needs, err := c.Validate(RegisterConfig{Name: "user.Brand-New", Checkpoint: "org/Repo-GGUF:Q4_0", Recipe: "llamacpp"})
		if err != nil {
			t.Fatalf("Validate fehlgeschlagen: %v", err)
		}
		if !needs {
			t.Error("needsRegistration = false, erwartet true")
		}
	})

	t.Run("bestehendes model gleiche parameter", func(t *testing.T) {
		needs, err := c.Validate(RegisterConfig{Name: "Qwen3-0.6B-GGUF", Checkpoint: "unsloth/Qwen3-0.6B-GGUF:Q4_K_M"})
		if err != nil {
			t.Fatalf("Validate fehlgeschlagen: %v", err)
		}
		if needs {
			t.Error("needsRegistration = true, erwartet false")
		}
	})

	t.Run("bestehendes model konflikt", func(t *testing.T) {
		_, err := c.Validate(RegisterConfig{Name: "Qwen3-0.6B-GGUF", Checkpoint: "other/Checkpoint-GGUF:Q8_0"})
		if err == nil {
			t.Fatal("erwartet Konflikt-Fehler")
		}
		msg := err.Error()
		if !strings.Contains(msg, "Conflicting parameters") {
			t.Errorf("Fehlermeldung ohne Konflikt-Details: %v", msg)
		}
		if !strings.Contains(msg, "checkpoint (existing: 'unsloth/Qwen3-0.6B-GGUF:Q4_K_M', new: 'other/Checkpoint-GGUF:Q8_0')") {
			t.Errorf("Fehlermeldung ohne Parameter-Vergleich: %v", msg)
		}
		if strings.Contains(msg, "lemonade delete") {
			t.Errorf("Loesch-Hinweis nur fuer user-Models erwartet: %v", msg)
		}
	})
}

func TestRegisterAndRemove(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir, WithRecipeFilter(allRecipes))
	if err != nil {
		t.Fatal(err)
	}

	m, err := c.Register(RegisterConfig{
		Name:       "user.Test-Model",
		Checkpoint: "org/Test-GGUF:Q4_0",
		Recipe:     "llamacpp",
		Vision:     true,
		Mmproj:     "mmproj-f16.gguf",
	})
	if err != nil {
		t.Fatalf("Register fehlgeschlagen: %v", err)
	}
	if !m.Suggested {
		t.Error("registrierte Models sind immer suggested")
	}

	wantLabels := []string{"custom", "vision"}
	if diff := cmp.Diff(wantLabels, m.Labels); diff != "" {
		t.Errorf("Labels weichen ab (-want +got):\n%s", diff)
	}

	// Ein frisch geladener Katalog muss das Model aus der Datei sehen.
	c2, err := New(dir, WithRecipeFilter(allRecipes))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c2.Get("user.Test-Model"); err != nil {
		t.Fatalf("Get nach Neuladen fehlgeschlagen: %v", err)
	}

	t.Run("konflikt mit loesch-hinweis", func(t *testing.T) {
		_, err := c2.Validate(RegisterConfig{Name: "user.Test-Model", Recipe: "flm"})
		if err == nil || !strings.Contains(err.Error(), "`lemonade delete user.Test-Model`") {
			t.Errorf("erwartet Loesch-Hinweis, got %v", err)
		}
	})

	if err := c2.Remove("user.Test-Model"); err != nil {
		t.Fatalf("Remove fehlgeschlagen: %v", err)
	}
	if _, err := c2.Get("user.Test-Model"); err == nil {
		t.Error("Model nach Remove noch auffindbar")
	}

	if err := c2.Remove("Qwen3-0.6B-GGUF"); err == nil {
		t.Error("Remove eines eingebauten Models sollte fehlschlagen")
	}
}

func TestClosest(t *testing.T) {
	c := newTestCatalog(t)

	cases := []struct {
		name   string
		expect string
	}{
		{"Qwen3-0.6B", "Qwen3-0.6B-GGUF"},
		{"qwen3-4b-gguf", "Qwen3-4B-GGUF"},
		{"whisper-base", "Whisper-Base"},
		{"gpt-4o", ""},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.Closest(tt.name); got != tt.expect {
				t.Errorf("Closest(%q) = %q, erwartet %q", tt.name, got, tt.expect)
			}
		})
	}
}

func TestRecipeFilter(t *testing.T) {
	c, err := New(t.TempDir(), WithRecipeFilter(func(recipe string) bool {
		return recipe != "flm"
	}))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := c.Get("Qwen3-0.6B-FLM"); err == nil {
		t.Error("ausgeblendetes Recipe darf nicht auffindbar sein")
	}
	for _, m := range c.Models() {
		if m.Recipe == "flm" {
			t.Errorf("Models() enthaelt ausgeblendetes Model %s", m.Name)
		}
	}
}

func TestFilterReason(t *testing.T) {
	c, err := New(t.TempDir(), WithRecipeFilter(func(recipe string) bool {
		return recipe != "flm"
	}))
	if err != nil {
		t.Fatal(err)
	}

	reason := c.FilterReason("Qwen3-0.6B-FLM")
	if !strings.Contains(reason, "Ryzen AI NPU") {
		t.Errorf("FilterReason = %q, erwartet Hinweis auf die NPU", reason)
	}

	if got := c.FilterReason("Qwen3-0.6B-GGUF"); got != "" {
		t.Errorf("FilterReason fuer verfuegbares Model = %q, erwartet leer", got)
	}
	if got := c.FilterReason("no-such-model"); got != "" {
		t.Errorf("FilterReason fuer unbekanntes Model = %q, erwartet leer", got)
	}
}
