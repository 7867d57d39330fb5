// config_features.go - Scheduler-Quotas und Engine-Einstellungen
//
// Dieses Modul enthaelt:
// - Scheduler-Quotas (MaxLoadedModels, MaxEmbedding-, MaxReranking-, MaxAudioModels)
// - Engine-Einstellungen (LlamaCppBackend, ContextSize)
// - API-Key und HF-Token
package envconfig

// =============================================================================
// Scheduler-Quotas
// =============================================================================

var (
	// MaxLoadedModels setzt die maximale Anzahl gleichzeitig geladener LLMs
	// Konfigurierbar via LEMONADE_MAX_LOADED_MODELS
	MaxLoadedModels = Uint("LEMONADE_MAX_LOADED_MODELS", 1)

	// MaxEmbeddingModels setzt die maximale Anzahl geladener Embedding-Models
	// Konfigurierbar via LEMONADE_MAX_EMBEDDING_MODELS
	MaxEmbeddingModels = Uint("LEMONADE_MAX_EMBEDDING_MODELS", 1)

	// MaxRerankingModels setzt die maximale Anzahl geladener Reranking-Models
	// Konfigurierbar via LEMONADE_MAX_RERANKING_MODELS
	MaxRerankingModels = Uint("LEMONADE_MAX_RERANKING_MODELS", 1)

	// MaxAudioModels setzt die maximale Anzahl geladener Audio-Models
	// (Whisper und Kokoro). Konfigurierbar via LEMONADE_MAX_AUDIO_MODELS
	MaxAudioModels = Uint("LEMONADE_MAX_AUDIO_MODELS", 1)
)

// =============================================================================
// Engine-Einstellungen
// =============================================================================

var (
	// LlamaCppBackend ueberschreibt die automatische Backend-Wahl
	// Werte: vulkan, rocm, metal, cpu
	LlamaCppBackend = String("LEMONADE_LLAMACPP")

	// ContextSize setzt die Standard-Context-Laenge fuer llama.cpp
	// Konfigurierbar via LEMONADE_CTX_SIZE
	ContextSize = Uint("LEMONADE_CTX_SIZE", 4096)
)

// =============================================================================
// Auth
// =============================================================================

var (
	// APIKey aktiviert Bearer-Auth fuer alle Endpoints ausser /live
	// Konfigurierbar via LEMONADE_API_KEY
	APIKey = String("LEMONADE_API_KEY")

	// HFToken ist das Hugging-Face-Token fuer gated Models
	HFToken = String("HF_TOKEN")
)
