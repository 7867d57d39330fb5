// config_test.go - Unit Tests fuer die Konfiguration
package envconfig

import (
	"log/slog"
	"testing"
	"time"
)

// TestHost testet das Parsen von LEMONADE_HOST und LEMONADE_PORT
func TestHost(t *testing.T) {
	tests := []struct {
		name string
		host string
		port string
		want string
	}{
		{name: "Defaults", host: "", port: "", want: "0.0.0.0:8000"},
		{name: "Nur Host", host: "127.0.0.1", port: "", want: "127.0.0.1:8000"},
		{name: "Host mit Port", host: "1.2.3.4:8123", port: "", want: "1.2.3.4:8123"},
		{name: "Port aus LEMONADE_PORT", host: "localhost", port: "9000", want: "localhost:9000"},
		{name: "Expliziter Port gewinnt", host: "localhost:8080", port: "9000", want: "localhost:8080"},
		{name: "IPv6", host: "[::1]", port: "", want: "[::1]:8000"},
		{name: "Ungueltiger Port faellt auf Default zurueck", host: "localhost:99999", port: "", want: "localhost:8000"},
		{name: "Mit Quotes", host: "\"0.0.0.0\"", port: "", want: "0.0.0.0:8000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("LEMONADE_HOST", tt.host)
			t.Setenv("LEMONADE_PORT", tt.port)

			if got := Host().Host; got != tt.want {
				t.Errorf("Host() = %q, erwartet %q", got, tt.want)
			}
		})
	}
}

// TestLogLevel testet das Mapping der Log-Level-Namen
func TestLogLevel(t *testing.T) {
	tests := []struct {
		value string
		want  slog.Level
	}{
		{"", slog.LevelInfo},
		{"info", slog.LevelInfo},
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"trace", LevelTrace},
		{"warning", slog.LevelWarn},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"critical", slog.LevelError + 4},
		{"bogus", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("LEMONADE_LOG_LEVEL", tt.value)
			if got := LogLevel(); got != tt.want {
				t.Errorf("LogLevel() = %v, erwartet %v", got, tt.want)
			}
		})
	}
}

// TestVar testet das Trimmen von Quotes und Leerzeichen
func TestVar(t *testing.T) {
	tests := map[string]string{
		"value":       "value",
		" value ":     "value",
		"\"value\"":   "value",
		"'value'":     "value",
		" \"value\" ": "value",
	}

	for input, want := range tests {
		t.Run(input, func(t *testing.T) {
			t.Setenv("LEMONADE_TEST_VAR", input)
			if got := Var("LEMONADE_TEST_VAR"); got != want {
				t.Errorf("Var() = %q, erwartet %q", got, want)
			}
		})
	}
}

// TestUint testet den Uint-Getter mit Default
func TestUint(t *testing.T) {
	tests := []struct {
		value string
		want  uint
	}{
		{"", 4096},
		{"2048", 2048},
		{"abc", 4096},
		{"-1", 4096},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("LEMONADE_CTX_SIZE", tt.value)
			if got := ContextSize(); got != tt.want {
				t.Errorf("ContextSize() = %d, erwartet %d", got, tt.want)
			}
		})
	}
}

// TestKeepAlive testet das Parsen von Dauer-Angaben
func TestKeepAlive(t *testing.T) {
	tests := map[string]time.Duration{
		"":     5 * time.Minute,
		"10m":  10 * time.Minute,
		"30":   30 * time.Second,
		"0":    0,
		"bad":  5 * time.Minute,
		"1h2m": time.Hour + 2*time.Minute,
	}

	for input, want := range tests {
		t.Run(input, func(t *testing.T) {
			t.Setenv("LEMONADE_KEEP_ALIVE", input)
			if got := KeepAlive(); got != want {
				t.Errorf("KeepAlive() = %v, erwartet %v", got, want)
			}
		})
	}
}

// TestAsMap prueft dass alle Lemonade-Variablen enthalten sind
func TestAsMap(t *testing.T) {
	m := AsMap()

	keys := []string{
		"LEMONADE_HOST", "LEMONADE_PORT", "LEMONADE_LOG_LEVEL",
		"LEMONADE_API_KEY", "LEMONADE_LLAMACPP", "LEMONADE_CTX_SIZE",
		"LEMONADE_CACHE_DIR", "LEMONADE_MAX_LOADED_MODELS",
		"HF_HOME", "HF_HUB_CACHE",
	}
	for _, k := range keys {
		if _, ok := m[k]; !ok {
			t.Errorf("AsMap() enthaelt %q nicht", k)
		}
	}
}
