// gguf.go - GGUF-Metadaten fuer Listing und Ollama-Endpunkte
package huggingface

import (
	"strings"

	gguf "github.com/gpustack/gguf-parser-go"
)

// GGUFInfo sind die Metadaten einer GGUF-Datei, soweit das Listing und
// die Ollama-Show-Antwort sie brauchen.
type GGUFInfo struct {
	Architecture  string
	Quantization  string
	Parameters    string
	FileSize      uint64
	ContextLength uint64
}

// InspectGGUF liest die Metadaten einer lokalen GGUF-Datei. Die Datei
// wird gemappt, nicht vollstaendig gelesen.
func InspectGGUF(path string) (*GGUFInfo, error) {
	gf, err := gguf.ParseGGUFFile(path, gguf.UseMMap())
	if err != nil {
		return nil, err
	}

	md := gf.Metadata()
	arch := gf.Architecture()

	return &GGUFInfo{
		Architecture:  md.Architecture,
		Quantization:  strings.TrimPrefix(md.FileType.String(), "MOSTLY_"),
		Parameters:    md.Parameters.String(),
		FileSize:      uint64(md.FileSize),
		ContextLength: arch.MaximumContextLength,
	}, nil
}
