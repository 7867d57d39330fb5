// ollama_details.go - Details-Objekte und Namens-Konventionen
//
// Diese Datei enthaelt:
// - Normalize/Latest fuer das ":latest"-Tag
// - ParameterSize und QuantizationLevel (Heuristiken auf Name und
//   Checkpoint, solange keine lokale GGUF-Datei vorliegt)
// - Builder fuer details-, tags-, ps- und show-Antworten
package ollama

import (
	"regexp"
	"strings"
	"time"

	"github.com/lemonade-sdk/lemonade/huggingface"
)

// Das Gateway fuehrt keine Ollama-Manifeste. Feste Zeitstempel und ein
// Null-Digest fuellen die Felder, die Clients trotzdem erwarten.
var (
	// Epoch steht in created_at und modified_at.
	Epoch = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

	// NeverExpires steht in expires_at, wenn kein Keep-Alive
	// konfiguriert ist: geladene Models bleiben bis zur Eviction.
	NeverExpires = time.Date(2099, time.January, 1, 0, 0, 0, 0, time.UTC)
)

// ZeroDigest steht an Stellen, an denen Ollama einen Content-Digest
// erwartet.
const ZeroDigest = "sha256:0000000000000000000000000000000000000000000000000000000000000000"

const latestSuffix = ":latest"

// Normalize entfernt das ":latest"-Tag, mit dem Ollama-Clients
// Model-Namen qualifizieren.
func Normalize(name string) string {
	if n := strings.TrimSuffix(name, latestSuffix); n != "" {
		return n
	}
	return name
}

// Latest haengt das ":latest"-Tag an, unter dem Ollama-Clients die
// Models fuehren.
func Latest(name string) string {
	return name + latestSuffix
}

// ModelDetails ist das details-Objekt in tags-, ps- und
// show-Antworten.
type ModelDetails struct {
	ParentModel       string   `json:"parent_model"`
	Format            string   `json:"format"`
	Family            string   `json:"family"`
	Families          []string `json:"families"`
	ParameterSize     string   `json:"parameter_size"`
	QuantizationLevel string   `json:"quantization_level"`
}

// NewDetails baut das details-Objekt aus Name, Recipe und Checkpoint.
func NewDetails(name, recipe, checkpoint string) ModelDetails {
	return ModelDetails{
		Format:            "gguf",
		Family:            recipe,
		Families:          []string{recipe},
		ParameterSize:     ParameterSize(name),
		QuantizationLevel: QuantizationLevel(checkpoint),
	}
}

// ParameterSize liest die Parametergroesse aus dem Model-Namen, etwa
// "Qwen3-0.6B-GGUF" -> "0.6B" oder "Gemma-3-4b-it-GGUF" -> "4B". Bei
// mehreren Treffern gewinnt der letzte, die Groesse folgt im Namen
// ueblicherweise auf Versionsnummern.
func ParameterSize(name string) string {
	var result string
	for _, seg := range strings.Split(name, "-") {
		if len(seg) < 2 {
			continue
		}
		last := seg[len(seg)-1]
		if last != 'B' && last != 'b' && last != 'M' && last != 'm' {
			continue
		}

		digits := seg[:len(seg)-1]
		valid := true
		for i := 0; i < len(digits); i++ {
			if (digits[i] < '0' || digits[i] > '9') && digits[i] != '.' {
				valid = false
				break
			}
		}
		if valid {
			result = digits + strings.ToUpper(string(last))
		}
	}
	return result
}

// quantPattern trifft Quantisierungs-Token wie Q4_0, Q4_K_M oder
// IQ2_M an einer Wortgrenze.
var quantPattern = regexp.MustCompile(`(?:^|[^A-Za-z0-9])(I?Q[0-9][A-Za-z0-9_]*)`)

// QuantizationLevel liest das Quantisierungs-Level aus dem
// Checkpoint, etwa "unsloth/Qwen3-0.6B-GGUF:Q4_0" -> "Q4_0". Gesucht
// wird zuerst im Variant-Teil hinter dem Doppelpunkt.
func QuantizationLevel(checkpoint string) string {
	search := checkpoint
	if _, after, ok := strings.Cut(checkpoint, ":"); ok {
		search = after
	}

	m := quantPattern.FindStringSubmatch(search)
	if m == nil {
		return ""
	}
	return m[1]
}

// NewListEntry baut den /api/tags-Eintrag fuer ein Model. sizeGB ist
// die Katalog-Groesse in Gigabyte.
func NewListEntry(name, recipe, checkpoint string, sizeGB float64) ListModelResponse {
	return ListModelResponse{
		Name:       Latest(name),
		Model:      Latest(name),
		ModifiedAt: Epoch,
		Size:       int64(sizeGB * (1 << 30)),
		Digest:     ZeroDigest,
		Details:    NewDetails(name, recipe, checkpoint),
	}
}

// NewProcessEntry baut den /api/ps-Eintrag fuer ein geladenes Model.
func NewProcessEntry(name, recipe, checkpoint string, expiresAt time.Time) ProcessModelResponse {
	return ProcessModelResponse{
		Name:      Latest(name),
		Model:     Latest(name),
		Digest:    ZeroDigest,
		Details:   NewDetails(name, recipe, checkpoint),
		ExpiresAt: expiresAt,
	}
}

// NewShowResponse baut die /api/show-Antwort mit den Heuristik-Werten
// aus Name und Checkpoint.
func NewShowResponse(name, recipe, checkpoint string) ShowResponse {
	return ShowResponse{
		Modelfile: "# Modelfile generated by Lemonade\nFROM " + checkpoint,
		Details:   NewDetails(name, recipe, checkpoint),
		ModelInfo: map[string]any{
			"general.architecture":         recipe,
			"general.file_type":            0,
			"general.parameter_count":      0,
			"general.quantization_version": 0,
		},
	}
}

// ApplyGGUF ersetzt die Namens-Heuristiken durch echte Metadaten aus
// der lokalen GGUF-Datei.
func (r *ShowResponse) ApplyGGUF(info *huggingface.GGUFInfo) {
	if info.Architecture != "" {
		r.ModelInfo["general.architecture"] = info.Architecture
		r.ModelInfo[info.Architecture+".context_length"] = info.ContextLength
	}
	if info.Parameters != "" {
		r.Details.ParameterSize = info.Parameters
	}
	if info.Quantization != "" {
		r.Details.QuantizationLevel = info.Quantization
	}
}
