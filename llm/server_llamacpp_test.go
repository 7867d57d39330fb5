// server_llamacpp_test.go - Tests fuer Kommandozeilen-Aufbau und Arg-Parsing
package llm

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/lemonade-sdk/lemonade/api"
	"github.com/lemonade-sdk/lemonade/catalog"
	"github.com/lemonade-sdk/lemonade/huggingface"
)

func newArgsServer(model catalog.Model, opts api.RecipeOptions) *llamaCppServer {
	s := newLlamaCppServer(model, opts)
	s.local = &huggingface.LocalModel{ModelPath: "/models/test.gguf"}
	s.port = 8123
	return s
}

func TestBuildArgsDefaults(t *testing.T) {
	s := newArgsServer(catalog.Model{Name: "m", Recipe: "llamacpp"}, api.RecipeOptions{CtxSize: 4096})

	got, err := s.buildArgs("vulkan")
	if err != nil {
		t.Fatalf("buildArgs fehlgeschlagen: %v", err)
	}

	want := []string{
		"-m", "/models/test.gguf",
		"--ctx-size", "4096",
		"--port", "8123",
		"--jinja",
		"--context-shift",
		"--keep", "16",
		"--reasoning-format", "auto",
		"-ngl", "99",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("args falsch (-want +got):\n%s", diff)
	}
}

func TestBuildArgsCPU(t *testing.T) {
	s := newArgsServer(catalog.Model{Name: "m", Recipe: "llamacpp"}, api.RecipeOptions{CtxSize: 2048})

	got, err := s.buildArgs("cpu")
	if err != nil {
		t.Fatalf("buildArgs fehlgeschlagen: %v", err)
	}

	// CPU: kein Context-Shift, keine GPU-Layer
	if strings.Contains(strings.Join(got, " "), "--context-shift") {
		t.Errorf("--context-shift gehoert nicht in CPU-Args: %v", got)
	}
	if got[len(got)-2] != "-ngl" || got[len(got)-1] != "0" {
		t.Errorf("CPU-Args enden nicht mit -ngl 0: %v", got)
	}
}

func TestBuildArgsMetalNoContextShift(t *testing.T) {
	s := newArgsServer(catalog.Model{Name: "m", Recipe: "llamacpp"}, api.RecipeOptions{CtxSize: 4096})

	got, err := s.buildArgs("metal")
	if err != nil {
		t.Fatalf("buildArgs fehlgeschlagen: %v", err)
	}
	joined := strings.Join(got, " ")
	if strings.Contains(joined, "--context-shift") {
		t.Errorf("Metal kennt kein --context-shift: %v", got)
	}
	if !strings.Contains(joined, "-ngl 99") {
		t.Errorf("Metal muss -ngl 99 setzen: %v", got)
	}
}

func TestBuildArgsEmbedding(t *testing.T) {
	model := catalog.Model{Name: "embed", Recipe: "llamacpp", Labels: []string{"embeddings"}}
	s := newArgsServer(model, api.RecipeOptions{CtxSize: 4096})

	got, err := s.buildArgs("vulkan")
	if err != nil {
		t.Fatalf("buildArgs fehlgeschlagen: %v", err)
	}
	joined := strings.Join(got, " ")

	// Embedding-Modelle bekommen mindestens 8192 Kontext und --embeddings
	if !strings.Contains(joined, "--ctx-size 8192") {
		t.Errorf("Embedding-Kontext nicht angehoben: %v", got)
	}
	if !strings.Contains(joined, "--embeddings") {
		t.Errorf("--embeddings fehlt: %v", got)
	}
}

func TestBuildArgsEmbeddingKeepsLargerCtx(t *testing.T) {
	model := catalog.Model{Name: "embed", Recipe: "llamacpp", Labels: []string{"embeddings"}}
	s := newArgsServer(model, api.RecipeOptions{CtxSize: 16384})

	got, err := s.buildArgs("vulkan")
	if err != nil {
		t.Fatalf("buildArgs fehlgeschlagen: %v", err)
	}
	if !strings.Contains(strings.Join(got, " "), "--ctx-size 16384") {
		t.Errorf("explizit groesserer Kontext wurde gekappt: %v", got)
	}
}

func TestBuildArgsReranking(t *testing.T) {
	model := catalog.Model{Name: "rerank", Recipe: "llamacpp", Labels: []string{"reranking"}}
	s := newArgsServer(model, api.RecipeOptions{CtxSize: 4096})

	got, err := s.buildArgs("vulkan")
	if err != nil {
		t.Fatalf("buildArgs fehlgeschlagen: %v", err)
	}
	if !strings.Contains(strings.Join(got, " "), "--reranking") {
		t.Errorf("--reranking fehlt: %v", got)
	}
}

func TestBuildArgsMmproj(t *testing.T) {
	s := newArgsServer(catalog.Model{Name: "vision", Recipe: "llamacpp"}, api.RecipeOptions{CtxSize: 4096})
	s.local.MmprojPath = "/models/mmproj.gguf"

	gpu, err := s.buildArgs("vulkan")
	if err != nil {
		t.Fatalf("buildArgs fehlgeschlagen: %v", err)
	}
	if !strings.Contains(strings.Join(gpu, " "), "--mmproj /models/mmproj.gguf") {
		t.Errorf("--mmproj fehlt: %v", gpu)
	}
	if strings.Contains(strings.Join(gpu, " "), "--no-mmproj-offload") {
		t.Errorf("GPU-Backend darf mmproj nicht auf die CPU zwingen: %v", gpu)
	}

	cpu, err := s.buildArgs("cpu")
	if err != nil {
		t.Fatalf("buildArgs fehlgeschlagen: %v", err)
	}
	if !strings.Contains(strings.Join(cpu, " "), "--no-mmproj-offload") {
		t.Errorf("--no-mmproj-offload fehlt auf CPU: %v", cpu)
	}
}

func TestBuildArgsCustomOverridesKeep(t *testing.T) {
	s := newArgsServer(catalog.Model{Name: "m", Recipe: "llamacpp"},
		api.RecipeOptions{CtxSize: 4096, LlamaCppArgs: "--keep 64"})

	got, err := s.buildArgs("vulkan")
	if err != nil {
		t.Fatalf("buildArgs fehlgeschlagen: %v", err)
	}

	joined := strings.Join(got, " ")
	if strings.Contains(joined, "--keep 16") {
		t.Errorf("Default --keep 16 blieb trotz Override stehen: %v", got)
	}
	if !strings.HasSuffix(joined, "--keep 64") {
		t.Errorf("benutzerdefiniertes --keep 64 fehlt am Ende: %v", got)
	}
}

func TestBuildArgsCustomNoContextShift(t *testing.T) {
	s := newArgsServer(catalog.Model{Name: "m", Recipe: "llamacpp"},
		api.RecipeOptions{CtxSize: 4096, LlamaCppArgs: "--no-context-shift"})

	got, err := s.buildArgs("vulkan")
	if err != nil {
		t.Fatalf("buildArgs fehlgeschlagen: %v", err)
	}

	// --no-context-shift in den Custom-Args unterdrueckt das Default-Flag
	count := 0
	for _, a := range got {
		if a == "--context-shift" {
			count++
		}
	}
	if count != 0 {
		t.Errorf("--context-shift trotz --no-Variante gesetzt: %v", got)
	}
}

func TestBuildArgsRejectsReserved(t *testing.T) {
	s := newArgsServer(catalog.Model{Name: "m", Recipe: "llamacpp"},
		api.RecipeOptions{CtxSize: 4096, LlamaCppArgs: "--port 9999"})

	_, err := s.buildArgs("vulkan")
	if err == nil {
		t.Fatal("reserviertes --port wurde nicht abgewiesen")
	}

	want := "Argument '--port' is managed by Lemonade and cannot be overridden.\n" +
		"Reserved arguments: --ctx-size, --jinja, --port, -m, -ngl"
	if err.Error() != want {
		t.Errorf("Fehlermeldung = %q, erwartet %q", err.Error(), want)
	}
}

func TestSplitArgs(t *testing.T) {
	cases := []struct {
		name   string
		input  string
		expect []string
	}{
		{"einfach", "--keep 64 --flash-attn", []string{"--keep", "64", "--flash-attn"}},
		{"doppelte quotes", `--override-kv "tokenizer.ggml.bos token_id=int:1"`, []string{"--override-kv", "tokenizer.ggml.bos token_id=int:1"}},
		{"einfache quotes", "--grammar 'root ::= x'", []string{"--grammar", "root ::= x"}},
		{"mehrfache leerzeichen", "--a   --b", []string{"--a", "--b"}},
		{"leer", "", nil},
		{"nur leerzeichen", "   ", nil},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			got := splitArgs(tt.input)
			if diff := cmp.Diff(tt.expect, got); diff != "" {
				t.Errorf("splitArgs(%q) falsch (-want +got):\n%s", tt.input, diff)
			}
		})
	}
}

func TestValidateCustomArgs(t *testing.T) {
	reserved := []string{"-m", "--port"}

	if err := validateCustomArgs([]string{"--flash-attn", "on"}, reserved); err != nil {
		t.Errorf("freies Flag abgewiesen: %v", err)
	}
	if err := validateCustomArgs([]string{"--port", "9090"}, reserved); err == nil {
		t.Error("reserviertes Flag nicht abgewiesen")
	}
	// Auch die --flag=value-Schreibweise zaehlt
	if err := validateCustomArgs([]string{"--port=9090"}, reserved); err == nil {
		t.Error("reserviertes Flag in =-Schreibweise nicht abgewiesen")
	}
	// Nackte Werte sind keine Flags
	if err := validateCustomArgs([]string{"9090"}, reserved); err != nil {
		t.Errorf("Wert als Flag behandelt: %v", err)
	}
}

func TestResolvedCtxSizeFromEnv(t *testing.T) {
	t.Setenv("LEMONADE_CTX_SIZE", "12288")

	s := newArgsServer(catalog.Model{Name: "m", Recipe: "llamacpp"}, api.RecipeOptions{})
	if got := s.resolvedCtxSize(); got != 12288 {
		t.Errorf("resolvedCtxSize() = %d, erwartet 12288", got)
	}

	// Model-Option schlaegt die Umgebung
	s.options.CtxSize = 2048
	if got := s.resolvedCtxSize(); got != 2048 {
		t.Errorf("resolvedCtxSize() = %d, erwartet 2048", got)
	}
}
