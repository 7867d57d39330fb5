// ollama_details_test.go - Tests fuer Namens-Konventionen und Details-Builder
package ollama

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/lemonade-sdk/lemonade/huggingface"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"Qwen3-0.6B-GGUF:latest", "Qwen3-0.6B-GGUF"},
		{"Qwen3-0.6B-GGUF", "Qwen3-0.6B-GGUF"},
		{"user.custom:latest", "user.custom"},
		// Das nackte Tag bleibt stehen
		{":latest", ":latest"},
		{"", ""},
	}

	for _, tt := range cases {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, erwartet %q", tt.in, got, tt.want)
		}
	}
}

func TestLatest(t *testing.T) {
	if got := Latest("Qwen3-0.6B-GGUF"); got != "Qwen3-0.6B-GGUF:latest" {
		t.Errorf("Latest = %q", got)
	}
}

func TestParameterSize(t *testing.T) {
	cases := []struct {
		name, want string
	}{
		{"Qwen3-0.6B-GGUF", "0.6B"},
		{"Gemma-3-4b-it-GGUF", "4B"},
		{"Llama-3.2-1B-Instruct-Hybrid", "1B"},
		{"gemma-3-270m-it-GGUF", "270M"},
		// Bei mehreren Treffern gewinnt der letzte
		{"Qwen2.5-7B-1M-GGUF", "1M"},
		{"Whisper-Large-v3", ""},
		{"", ""},
	}

	for _, tt := range cases {
		if got := ParameterSize(tt.name); got != tt.want {
			t.Errorf("ParameterSize(%q) = %q, erwartet %q", tt.name, got, tt.want)
		}
	}
}

func TestQuantizationLevel(t *testing.T) {
	cases := []struct {
		checkpoint, want string
	}{
		{"unsloth/Qwen3-0.6B-GGUF:Q4_0", "Q4_0"},
		{"ggml-org/gemma-3-4b-it-GGUF:Q4_K_M", "Q4_K_M"},
		{"unsloth/gemma-3-270m-it-GGUF:gemma-3-270m-it-UD-IQ2_M.gguf", "IQ2_M"},
		// Ohne Variant-Teil wird der ganze String durchsucht
		{"someorg/Model-Q8_0-GGUF", "Q8_0"},
		// Q mitten im Wort ist keine Wortgrenze
		{"org/NonQuant4Model", ""},
		{"amd/Phi-3-mini-4k-instruct", ""},
		{"", ""},
	}

	for _, tt := range cases {
		if got := QuantizationLevel(tt.checkpoint); got != tt.want {
			t.Errorf("QuantizationLevel(%q) = %q, erwartet %q", tt.checkpoint, got, tt.want)
		}
	}
}

func TestNewDetails(t *testing.T) {
	got := NewDetails("Qwen3-0.6B-GGUF", "llamacpp", "unsloth/Qwen3-0.6B-GGUF:Q4_0")
	want := ModelDetails{
		Format:            "gguf",
		Family:            "llamacpp",
		Families:          []string{"llamacpp"},
		ParameterSize:     "0.6B",
		QuantizationLevel: "Q4_0",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("NewDetails abweichend (-want +got):\n%s", diff)
	}
}

func TestNewListEntry(t *testing.T) {
	entry := NewListEntry("Qwen3-0.6B-GGUF", "llamacpp", "unsloth/Qwen3-0.6B-GGUF:Q4_0", 0.5)

	if entry.Name != "Qwen3-0.6B-GGUF:latest" || entry.Model != entry.Name {
		t.Errorf("Name/Model = %q/%q", entry.Name, entry.Model)
	}
	if entry.Size != 536870912 {
		t.Errorf("Size = %d, erwartet 536870912", entry.Size)
	}
	if entry.Digest != ZeroDigest {
		t.Errorf("Digest = %q", entry.Digest)
	}
	if !entry.ModifiedAt.Equal(Epoch) {
		t.Errorf("ModifiedAt = %v", entry.ModifiedAt)
	}
}

func TestNewProcessEntry(t *testing.T) {
	entry := NewProcessEntry("Qwen3-0.6B-GGUF", "llamacpp", "unsloth/Qwen3-0.6B-GGUF:Q4_0", NeverExpires)

	if entry.Name != "Qwen3-0.6B-GGUF:latest" {
		t.Errorf("Name = %q", entry.Name)
	}
	if !entry.ExpiresAt.Equal(NeverExpires) {
		t.Errorf("ExpiresAt = %v", entry.ExpiresAt)
	}
	if entry.SizeVRAM != 0 || entry.Size != 0 {
		t.Errorf("Size/SizeVRAM = %d/%d, erwartet 0/0", entry.Size, entry.SizeVRAM)
	}
}

func TestNewShowResponse(t *testing.T) {
	resp := NewShowResponse("Qwen3-0.6B-GGUF", "llamacpp", "unsloth/Qwen3-0.6B-GGUF:Q4_0")

	if resp.Modelfile != "# Modelfile generated by Lemonade\nFROM unsloth/Qwen3-0.6B-GGUF:Q4_0" {
		t.Errorf("Modelfile = %q", resp.Modelfile)
	}
	if resp.ModelInfo["general.architecture"] != "llamacpp" {
		t.Errorf("general.architecture = %v", resp.ModelInfo["general.architecture"])
	}
}

func TestApplyGGUF(t *testing.T) {
	resp := NewShowResponse("Qwen3-0.6B-GGUF", "llamacpp", "unsloth/Qwen3-0.6B-GGUF:Q4_0")
	resp.ApplyGGUF(&huggingface.GGUFInfo{
		Architecture:  "qwen3",
		Quantization:  "Q4_0",
		Parameters:    "751.63 M",
		ContextLength: 40960,
	})

	if resp.ModelInfo["general.architecture"] != "qwen3" {
		t.Errorf("general.architecture = %v", resp.ModelInfo["general.architecture"])
	}
	if resp.ModelInfo["qwen3.context_length"] != uint64(40960) {
		t.Errorf("qwen3.context_length = %v", resp.ModelInfo["qwen3.context_length"])
	}
	if resp.Details.ParameterSize != "751.63 M" {
		t.Errorf("ParameterSize = %q", resp.Details.ParameterSize)
	}
}
