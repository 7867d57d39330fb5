// config.go - Haupt-Konfigurationsfunktionen fuer Lemonade
//
// Dieses Modul enthaelt:
// - Host: Gibt Scheme und Host zurueck (LEMONADE_HOST, LEMONADE_PORT)
// - CacheDir: Gibt das Lemonade-Datenverzeichnis zurueck (LEMONADE_CACHE_DIR)
// - KeepAlive: Gibt Keep-Alive-Dauer zurueck (LEMONADE_KEEP_ALIVE)
// - LoadTimeout: Gibt Load-Timeout zurueck (LEMONADE_LOAD_TIMEOUT)
// - LogLevel: Gibt Log-Level zurueck (LEMONADE_LOG_LEVEL)
//
// Weitere Konfigurationen sind ausgelagert:
// - config_features.go: Scheduler-Quotas und Engine-Einstellungen
// - config_utils.go: Utility-Funktionen und AsMap/Values
package envconfig

import (
	"log/slog"
	"math"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Host gibt Scheme und Host zurueck
// Konfigurierbar via LEMONADE_HOST und LEMONADE_PORT
// Default: http://0.0.0.0:8000
func Host() *url.URL {
	defaultPort := strconv.FormatUint(uint64(Port()), 10)

	s := strings.TrimSpace(Var("LEMONADE_HOST"))
	scheme, hostport, ok := strings.Cut(s, "://")
	switch {
	case !ok:
		scheme, hostport = "http", s
	case scheme == "http":
		defaultPort = "80"
	case scheme == "https":
		defaultPort = "443"
	}

	hostport, path, _ := strings.Cut(hostport, "/")
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		host, port = "0.0.0.0", defaultPort
		if ip := net.ParseIP(strings.Trim(hostport, "[]")); ip != nil {
			host = ip.String()
		} else if hostport != "" {
			host = hostport
		}
	}

	if n, err := strconv.ParseInt(port, 10, 32); err != nil || n > 65535 || n < 0 {
		slog.Warn("invalid port, using default", "port", port, "default", defaultPort)
		port = defaultPort
	}

	return &url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(host, port),
		Path:   path,
	}
}

// Port gibt den Server-Port zurueck
// Konfigurierbar via LEMONADE_PORT
// Default: 8000
func Port() uint {
	return Uint("LEMONADE_PORT", 8000)()
}

// CacheDir gibt das Lemonade-Datenverzeichnis zurueck
// Konfigurierbar via LEMONADE_CACHE_DIR
// Default: $HOME/.cache/lemonade
// Enthaelt user_models.json, recipe_options.json und Server-Logs
func CacheDir() string {
	if s := Var("LEMONADE_CACHE_DIR"); s != "" {
		return s
	}

	home, err := os.UserHomeDir()
	if err != nil {
		panic(err)
	}

	return filepath.Join(home, ".cache", "lemonade")
}

// KeepAlive gibt die Dauer zurueck, die Models im Speicher bleiben
// Konfigurierbar via LEMONADE_KEEP_ALIVE
// Negative Werte = unendlich, 0 = kein Keep-Alive
// Default: 5 Minuten
func KeepAlive() (keepAlive time.Duration) {
	keepAlive = 5 * time.Minute
	if s := Var("LEMONADE_KEEP_ALIVE"); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			keepAlive = d
		} else if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			keepAlive = time.Duration(n) * time.Second
		}
	}

	if keepAlive < 0 {
		return time.Duration(math.MaxInt64)
	}

	return keepAlive
}

// LoadTimeout gibt das Timeout fuer Model-Laden zurueck
// Konfigurierbar via LEMONADE_LOAD_TIMEOUT
// 0 oder negative Werte = unendlich
// Default: 5 Minuten
func LoadTimeout() (loadTimeout time.Duration) {
	loadTimeout = 5 * time.Minute
	if s := Var("LEMONADE_LOAD_TIMEOUT"); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			loadTimeout = d
		} else if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			loadTimeout = time.Duration(n) * time.Second
		}
	}

	if loadTimeout <= 0 {
		return time.Duration(math.MaxInt64)
	}

	return loadTimeout
}

// LogLevel gibt das Log-Level zurueck
// Konfigurierbar via LEMONADE_LOG_LEVEL
// Werte: critical, error, warning, info, debug, trace (Default: info)
func LogLevel() slog.Level {
	switch strings.ToLower(Var("LEMONADE_LOG_LEVEL")) {
	case "trace":
		return LevelTrace
	case "debug":
		return slog.LevelDebug
	case "warning", "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "critical":
		return slog.LevelError + 4
	default:
		return slog.LevelInfo
	}
}

// LevelTrace liegt unterhalb von slog.LevelDebug
const LevelTrace = slog.LevelDebug - 4

// Var gibt eine Environment-Variable zurueck
// Entfernt fuehrende/trailing Quotes und Leerzeichen
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}
