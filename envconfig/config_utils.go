// config_utils.go - Utility-Funktionen und Export fuer Konfiguration
//
// Dieses Modul enthaelt:
// - BoolWithDefault/Bool: Boolean-Getter mit Default-Wert
// - String: String-Getter
// - Uint/Uint64: Integer-Getter mit Default-Wert
// - EnvVar: Struktur fuer Environment-Variablen-Info
// - AsMap: Gibt alle Konfigurationen als Map zurueck
// - Values: Gibt alle Konfigurationswerte als String-Map zurueck
package envconfig

import (
	"fmt"
	"log/slog"
	"runtime"
	"strconv"
)

// =============================================================================
// Boolean-Getter
// =============================================================================

// BoolWithDefault gibt eine Funktion zurueck, die einen Bool mit Default-Wert liest
func BoolWithDefault(k string) func(defaultValue bool) bool {
	return func(defaultValue bool) bool {
		if s := Var(k); s != "" {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return true
			}
			return b
		}
		return defaultValue
	}
}

// Bool gibt eine Funktion zurueck, die einen Bool liest (Default: false)
func Bool(k string) func() bool {
	withDefault := BoolWithDefault(k)
	return func() bool {
		return withDefault(false)
	}
}

// =============================================================================
// String-Getter
// =============================================================================

// String gibt eine Funktion zurueck, die einen String liest
func String(s string) func() string {
	return func() string {
		return Var(s)
	}
}

// =============================================================================
// Integer-Getter
// =============================================================================

// Uint gibt eine Funktion zurueck, die einen uint mit Default-Wert liest
func Uint(key string, defaultValue uint) func() uint {
	return func() uint {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseUint(s, 10, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return uint(n)
			}
		}
		return defaultValue
	}
}

// Uint64 gibt eine Funktion zurueck, die einen uint64 mit Default-Wert liest
func Uint64(key string, defaultValue uint64) func() uint64 {
	return func() uint64 {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseUint(s, 10, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return n
			}
		}
		return defaultValue
	}
}

// =============================================================================
// Export-Strukturen und -Funktionen
// =============================================================================

// EnvVar repraesentiert eine Environment-Variable mit Metadaten
type EnvVar struct {
	Name        string
	Value       any
	Description string
}

// AsMap gibt alle Konfigurationen als Map zurueck
// Enthaelt Namen, aktuelle Werte und Beschreibungen
func AsMap() map[string]EnvVar {
	ret := map[string]EnvVar{
		"LEMONADE_HOST":                 {"LEMONADE_HOST", Host(), "Bind address for the lemonade server (default \"0.0.0.0\")"},
		"LEMONADE_PORT":                 {"LEMONADE_PORT", Port(), "Port for the lemonade server (default 8000)"},
		"LEMONADE_LOG_LEVEL":            {"LEMONADE_LOG_LEVEL", LogLevel(), "Log level: critical, error, warning, info, debug, trace (default \"info\")"},
		"LEMONADE_API_KEY":              {"LEMONADE_API_KEY", APIKey() != "", "Require this bearer token on every endpoint except /live"},
		"LEMONADE_LLAMACPP":             {"LEMONADE_LLAMACPP", LlamaCppBackend(), "llama.cpp backend: vulkan, rocm, metal or cpu (default autodetect)"},
		"LEMONADE_CTX_SIZE":             {"LEMONADE_CTX_SIZE", ContextSize(), "Context length to use unless otherwise specified (default 4096)"},
		"LEMONADE_CACHE_DIR":            {"LEMONADE_CACHE_DIR", CacheDir(), "Directory for user models, recipe options and logs"},
		"LEMONADE_KEEP_ALIVE":           {"LEMONADE_KEEP_ALIVE", KeepAlive(), "The duration that models stay loaded in memory (default \"5m\")"},
		"LEMONADE_LOAD_TIMEOUT":         {"LEMONADE_LOAD_TIMEOUT", LoadTimeout(), "How long to allow model loads to stall before giving up (default \"5m\")"},
		"LEMONADE_MAX_LOADED_MODELS":    {"LEMONADE_MAX_LOADED_MODELS", MaxLoadedModels(), "Maximum number of loaded LLMs (default 1)"},
		"LEMONADE_MAX_EMBEDDING_MODELS": {"LEMONADE_MAX_EMBEDDING_MODELS", MaxEmbeddingModels(), "Maximum number of loaded embedding models (default 1)"},
		"LEMONADE_MAX_RERANKING_MODELS": {"LEMONADE_MAX_RERANKING_MODELS", MaxRerankingModels(), "Maximum number of loaded reranking models (default 1)"},
		"LEMONADE_MAX_AUDIO_MODELS":     {"LEMONADE_MAX_AUDIO_MODELS", MaxAudioModels(), "Maximum number of loaded audio models (default 1)"},

		// Hugging-Face-Einstellungen
		"HF_HOME":      {"HF_HOME", String("HF_HOME")(), "Base directory of the Hugging Face cache"},
		"HF_HUB_CACHE": {"HF_HUB_CACHE", String("HF_HUB_CACHE")(), "Hub cache directory, overrides HF_HOME"},
		"HF_TOKEN":     {"HF_TOKEN", HFToken() != "", "Hugging Face token for gated models"},

		// Proxy-Einstellungen
		"HTTP_PROXY":  {"HTTP_PROXY", String("HTTP_PROXY")(), "HTTP proxy"},
		"HTTPS_PROXY": {"HTTPS_PROXY", String("HTTPS_PROXY")(), "HTTPS proxy"},
		"NO_PROXY":    {"NO_PROXY", String("NO_PROXY")(), "No proxy"},
	}

	// Nicht-Windows: Case-sensitive Proxy-Variablen
	if runtime.GOOS != "windows" {
		ret["http_proxy"] = EnvVar{"http_proxy", String("http_proxy")(), "HTTP proxy"}
		ret["https_proxy"] = EnvVar{"https_proxy", String("https_proxy")(), "HTTPS proxy"}
		ret["no_proxy"] = EnvVar{"no_proxy", String("no_proxy")(), "No proxy"}
	}

	return ret
}

// Values gibt alle Konfigurationswerte als String-Map zurueck
func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}
