// types.go - Model-Typen und Geraete-Klassifizierung
//
// Dieses Modul enthaelt:
// - Model: Beschreibung eines Katalog-Eintrags
// - ModelType: Klassifizierung fuer die LRU-Verwaltung des Schedulers
// - Device: Bitmaske der verwendeten Hardware
package catalog

import (
	"strings"

	"github.com/lemonade-sdk/lemonade/api"
)

// Source eines Katalog-Eintrags.
const (
	SourceCatalog     = "catalog"
	SourceLocalUpload = "local_upload"
)

// Model beschreibt ein unterstuetztes Model. Checkpoint hat die Form
// "org/repo" oder "org/repo:variant" fuer GGUF-Repos mit mehreren
// Quantisierungen.
type Model struct {
	Name       string   `json:"model_name,omitempty"`
	Checkpoint string   `json:"checkpoint"`
	Recipe     string   `json:"recipe"`
	Suggested  bool     `json:"suggested,omitempty"`
	Labels     []string `json:"labels,omitempty"`
	Mmproj     string   `json:"mmproj,omitempty"`
	Source     string   `json:"source,omitempty"`
	SizeGB     float64  `json:"size,omitempty"`
}

// HasLabel prueft ob das Model ein Label traegt.
func (m Model) HasLabel(label string) bool {
	for _, l := range m.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// Reasoning gibt zurueck ob das Model ein Reasoning-Model ist.
func (m Model) Reasoning() bool { return m.HasLabel("reasoning") }

// Vision gibt zurueck ob das Model Bilder verarbeiten kann.
func (m Model) Vision() bool { return m.HasLabel("vision") }

// ModelType klassifiziert Models fuer die Quota-Verwaltung.
type ModelType string

const (
	TypeLLM       ModelType = "llm"
	TypeEmbedding ModelType = "embedding"
	TypeReranking ModelType = "reranking"
	TypeAudio     ModelType = "audio"
	TypeImage     ModelType = "image"
)

// Type leitet den ModelType aus Labels und Recipe ab.
func (m Model) Type() ModelType {
	for _, label := range m.Labels {
		switch label {
		case "embeddings", "embedding":
			return TypeEmbedding
		case "reranking":
			return TypeReranking
		case "audio":
			return TypeAudio
		}
	}

	switch m.Recipe {
	case "whispercpp", "kokoro":
		return TypeAudio
	case "sd-cpp":
		return TypeImage
	}

	return TypeLLM
}

// Device ist eine Bitmaske der Hardware, die ein Recipe belegt.
// Hybrid-Recipes belegen mehrere Geraete gleichzeitig.
type Device uint32

const (
	DeviceNone Device = 0
	DeviceCPU  Device = 1 << iota
	DeviceGPU
	DeviceNPU
)

func (d Device) String() string {
	var parts []string
	if d&DeviceCPU != 0 {
		parts = append(parts, "cpu")
	}
	if d&DeviceGPU != 0 {
		parts = append(parts, "gpu")
	}
	if d&DeviceNPU != 0 {
		parts = append(parts, "npu")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// UsesNPU prueft ob das Geraet die NPU einschliesst. NPU-Models sind
// exklusiv: es kann immer nur eines geladen sein.
func (d Device) UsesNPU() bool { return d&DeviceNPU != 0 }

// DeviceFor gibt die Hardware-Belegung eines Recipes zurueck.
func DeviceFor(recipe string) Device {
	switch recipe {
	case "llamacpp", "sd-cpp":
		return DeviceGPU
	case "ryzenai-hybrid":
		return DeviceGPU | DeviceNPU
	case "ryzenai-npu", "flm":
		return DeviceNPU
	case "ryzenai-cpu", "whispercpp", "kokoro":
		return DeviceCPU
	}
	return DeviceNone
}

// Recipes listet alle bekannten Recipes mit ihren Engines auf.
func Recipes() []RecipeInfo {
	return []RecipeInfo{
		{Name: "llamacpp", Engine: "llama-server", Description: "GGUF models on CPU or GPU via llama.cpp"},
		{Name: "flm", Engine: "flm", Description: "FastFlowLM models on Ryzen AI NPUs"},
		{Name: "ryzenai-hybrid", Engine: "ryzenai-serve", Description: "ONNX models split across iGPU and NPU"},
		{Name: "ryzenai-npu", Engine: "ryzenai-serve", Description: "ONNX models on Ryzen AI NPUs"},
		{Name: "ryzenai-cpu", Engine: "ryzenai-serve", Description: "ONNX models on CPU"},
		{Name: "whispercpp", Engine: "whisper-server", Description: "Speech-to-text via whisper.cpp"},
		{Name: "sd-cpp", Engine: "sd-server", Description: "Image generation via stable-diffusion.cpp"},
		{Name: "kokoro", Engine: "kokoro-serve", Description: "Text-to-speech via Kokoro"},
	}
}

type RecipeInfo struct {
	Name        string
	Engine      string
	Description string
}

// KnownRecipe prueft ob ein Recipe-Name bekannt ist.
func KnownRecipe(recipe string) bool {
	for _, r := range Recipes() {
		if r.Name == recipe {
			return true
		}
	}
	return false
}

// ToAPI konvertiert den Katalog-Eintrag in die Wire-Darstellung.
func (m Model) ToAPI(downloaded bool, opts *api.RecipeOptions) api.Model {
	labels := m.Labels
	if labels == nil {
		labels = []string{}
	}

	return api.Model{
		ID:            m.Name,
		Object:        "model",
		Created:       1234567890,
		OwnedBy:       "lemonade",
		Checkpoint:    m.Checkpoint,
		Recipe:        m.Recipe,
		Downloaded:    downloaded,
		Suggested:     m.Suggested,
		Labels:        labels,
		Mmproj:        m.Mmproj,
		RecipeOptions: opts,
		Size:          m.SizeGB,
	}
}
