// routes.go - Haupt-Router und Server-Setup fuer Lemonade
//
// Diese Datei enthaelt:
// - Server-Struct mit Katalog, Options-Store und Scheduler
// - GenerateRoutes: Registrierung unter /api/v0 und /api/v1 plus die
//   Ollama-Oberflaeche an der Wurzel
// - Middleware: CORS, Bearer-Auth, Body-Limit
// - Serve: Startreihenfolge, Signal-Handling, begrenzte Grace-Periode
package server

import (
	"context"
	"crypto/subtle"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/lemonade-sdk/lemonade/api"
	"github.com/lemonade-sdk/lemonade/catalog"
	"github.com/lemonade-sdk/lemonade/discover"
	"github.com/lemonade-sdk/lemonade/envconfig"
	"github.com/lemonade-sdk/lemonade/format"
	"github.com/lemonade-sdk/lemonade/logutil"
	"github.com/lemonade-sdk/lemonade/version"
)

// maxRequestBody begrenzt Request-Bodies. Base64-Bilder und
// Audio-Uploads brauchen Luft nach oben.
const maxRequestBody = 100 * format.MebiByte

// shutdownGrace ist die Frist fuer den geordneten Shutdown, danach
// werden die Engine-Prozesse hart beendet.
const shutdownGrace = 10 * time.Second

var mode string = gin.ReleaseMode

func init() {
	switch mode {
	case gin.DebugMode, gin.ReleaseMode, gin.TestMode:
	default:
		mode = gin.ReleaseMode
	}
	gin.SetMode(mode)
}

// Server verwaltet den HTTP-Router, den Katalog und den Scheduler.
type Server struct {
	addr    net.Addr
	catalog *catalog.Catalog
	store   *catalog.OptionsStore
	sched   *Scheduler

	// info ist die beim Start erhobene Hardware-Beschreibung
	info api.SystemInfo

	// logPath ist die Log-Datei fuer /logs/stream, leer wenn keine
	logPath string

	// shutdownCh wird vom /shutdown-Endpoint geschlossen
	shutdownCh   chan struct{}
	shutdownOnce sync.Once
}

// authMiddleware erzwingt Bearer-Auth, sobald LEMONADE_API_KEY gesetzt
// ist. /live bleibt fuer Load-Balancer-Checks immer offen.
func authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := envconfig.APIKey()
		if key == "" {
			c.Next()
			return
		}

		path := c.Request.URL.Path
		if strings.HasSuffix(path, "/live") {
			c.Next()
			return
		}

		auth := c.GetHeader("Authorization")
		if subtle.ConstantTimeCompare([]byte(auth), []byte("Bearer "+key)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": gin.H{
				"message": "Invalid or missing API key",
				"type":    "authentication_error",
			}})
			return
		}
		c.Next()
	}
}

// requestIDMiddleware vergibt pro Request eine ID und gibt sie im
// Antwort-Header zurueck; vom Client mitgeschickte IDs bleiben erhalten.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Writer.Header().Set("X-Request-ID", id)
		c.Set("request_id", id)
		c.Next()
	}
}

// bodyLimitMiddleware deckelt die Groesse eingehender Bodies.
func bodyLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestBody)
		}
		c.Next()
	}
}

// GenerateRoutes erstellt und konfiguriert den HTTP-Router. Jeder
// Lemonade-Endpoint existiert unter /api/v0 und /api/v1 mit identischem
// Verhalten; v0 ist ein Kompatibilitaets-Alias. Die Ollama-Oberflaeche
// liegt unversioniert unter /api.
func (s *Server) GenerateRoutes() http.Handler {
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowWildcard = true
	corsConfig.AllowBrowserExtensions = true
	corsConfig.AllowHeaders = []string{
		"Authorization",
		"Content-Type",
		"User-Agent",
		"Accept",
		"X-Requested-With",

		// OpenAI compatibility headers
		"OpenAI-Beta",
		"x-stainless-arch",
		"x-stainless-async",
		"x-stainless-custom-poll-interval",
		"x-stainless-helper-method",
		"x-stainless-lang",
		"x-stainless-os",
		"x-stainless-package-version",
		"x-stainless-poll-helper",
		"x-stainless-retry-count",
		"x-stainless-runtime",
		"x-stainless-runtime-version",
		"x-stainless-timeout",
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.HandleMethodNotAllowed = true
	r.Use(
		cors.New(corsConfig),
		requestIDMiddleware(),
		bodyLimitMiddleware(),
		authMiddleware(),
	)

	// Ollama-Clients pruefen die Wurzel auf Erreichbarkeit
	r.HEAD("/", func(c *gin.Context) { c.String(http.StatusOK, "Lemonade Server is running") })
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, "Lemonade Server is running") })

	// Ollama-Oberflaeche
	r.HEAD("/api/version", s.ollamaVersionHandler)
	r.GET("/api/version", s.ollamaVersionHandler)
	r.HEAD("/api/tags", s.ollamaTagsHandler)
	r.GET("/api/tags", s.ollamaTagsHandler)
	r.POST("/api/show", s.ollamaShowHandler)
	r.GET("/api/ps", s.ollamaPsHandler)
	r.POST("/api/pull", s.ollamaPullHandler)
	r.DELETE("/api/delete", s.ollamaDeleteHandler)
	r.POST("/api/chat", s.ollamaChatHandler)
	r.POST("/api/generate", s.ollamaGenerateHandler)
	r.POST("/api/embed", s.ollamaEmbedHandler)
	r.POST("/api/embeddings", s.ollamaEmbeddingsHandler)
	r.POST("/api/create", notImplementedHandler)
	r.POST("/api/copy", notImplementedHandler)
	r.POST("/api/push", notImplementedHandler)

	// Lemonade-Oberflaeche, doppelt registriert
	for _, g := range []*gin.RouterGroup{r.Group("/api/v0"), r.Group("/api/v1")} {
		g.GET("/live", s.liveHandler)
		g.GET("/health", s.healthHandler)
		g.GET("/models", s.modelsHandler)
		g.GET("/models/:model", s.modelHandler)
		g.HEAD("/stats", func(c *gin.Context) { c.Status(http.StatusOK) })
		g.GET("/stats", s.statsHandler)
		g.GET("/system-info", s.systemInfoHandler)
		g.GET("/logs/stream", s.logsStreamHandler)

		g.POST("/pull", s.pullHandler)
		g.POST("/load", s.loadHandler)
		g.POST("/unload", s.unloadHandler)
		g.POST("/delete", s.deleteHandler)
		g.POST("/shutdown", s.shutdownHandler)
		g.POST("/log-level", s.logLevelHandler)

		// OpenAI-Oberflaeche
		g.POST("/chat/completions", s.chatCompletionsHandler)
		g.POST("/completions", s.completionsHandler)
		g.POST("/embeddings", s.embeddingsHandler)
		g.POST("/reranking", s.rerankingHandler)
		g.POST("/rerank", s.rerankingHandler)
		g.POST("/responses", s.responsesHandler)
		g.POST("/images/generations", s.imageGenerationsHandler)
		g.POST("/audio/transcriptions", s.transcriptionsHandler)
		g.POST("/audio/translations", s.translationsHandler)
		g.POST("/audio/speech", s.speechHandler)
		g.GET("/audio/realtime", s.realtimeHandler)
	}
	return r
}

// Serve startet den Lemonade-Server auf dem Listener und blockiert bis
// zum Shutdown. Reihenfolge: Logging, Hardware-Probe, Katalog,
// Scheduler, Router, Signale.
func Serve(ln net.Listener) error {
	logPath := setupLogging()

	slog.Info("server config", "env", envconfig.Values())

	si := discover.Probe()
	logHardware(si)

	cacheDir := envconfig.CacheDir()
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	cat, err := catalog.New(cacheDir, catalog.WithRecipeFilter(func(recipe string) bool {
		return catalog.DefaultRecipeFilter(recipe) && discover.RecipeSupported(recipe)
	}))
	if err != nil {
		return err
	}

	store, err := catalog.NewOptionsStore(cacheDir)
	if err != nil {
		return err
	}

	s := &Server{
		addr:       ln.Addr(),
		catalog:    cat,
		store:      store,
		sched:      NewScheduler(cat, store),
		info:       systemInfoFrom(si),
		logPath:    logPath,
		shutdownCh: make(chan struct{}),
	}

	srvr := &http.Server{
		Handler:           s.GenerateRoutes(),
		ReadHeaderTimeout: 30 * time.Second,
	}

	slog.Info(fmt.Sprintf("Listening on %s (version %s)", ln.Addr(), version.Version))

	// SIGINT/SIGTERM und /shutdown laufen in denselben geordneten
	// Abbau: keine neuen Requests, alle Engines stoppen, Sockets zu.
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		defer close(done)
		select {
		case sig := <-signals:
			slog.Info("shutting down", "signal", sig.String())
		case <-s.shutdownCh:
			slog.Info("shutting down", "reason", "shutdown endpoint")
		}

		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srvr.Shutdown(ctx); err != nil {
			srvr.Close()
		}
		s.sched.UnloadAll()
	}()

	if err := srvr.Serve(ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	<-done
	return nil
}

// setupLogging setzt den Prozess-Logger: Text-Handler auf stderr und
// zusaetzlich in server.log im Cache-Verzeichnis, damit /logs/stream
// etwas zu streamen hat. Gibt den Log-Pfad zurueck, oder "" wenn die
// Datei nicht angelegt werden konnte.
func setupLogging() string {
	level := envconfig.LogLevel()

	logPath := filepath.Join(envconfig.CacheDir(), "server.log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		slog.SetDefault(logutil.NewLogger(os.Stderr, level))
		return ""
	}
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		slog.SetDefault(logutil.NewLogger(os.Stderr, level))
		return ""
	}

	slog.SetDefault(logutil.NewLogger(io.MultiWriter(os.Stderr, f), level))
	return logPath
}

// logHardware protokolliert die Probe-Ergebnisse beim Start.
func logHardware(si discover.SystemInfo) {
	slog.Info("hardware", "cpu", si.CPU.Name, "cores", si.CPU.Cores,
		"memory", format.HumanBytes2(si.MemoryBytes))
	for _, g := range si.GPUs {
		slog.Info("gpu", "name", g.Name, "vendor", g.Vendor, "discrete", g.Discrete, "rocm_arch", g.RocmArch)
	}
	if si.NPU.Available {
		slog.Info("npu", "name", si.NPU.Name, "driver", si.NPU.Driver)
	}
	slog.Info("default llamacpp backend", "backend", discover.DefaultLlamaBackend())
}

// systemInfoFrom baut die Wire-Darstellung fuer /system-info.
func systemInfoFrom(si discover.SystemInfo) api.SystemInfo {
	devices := api.SystemDevices{
		CPU:    api.SystemCPU{Name: si.CPU.Name, Cores: si.CPU.Cores},
		AMDdGPU: []api.SystemGPU{},
		Nvidia:  []api.SystemGPU{},
	}

	if igpu := si.AMDiGPU(); igpu != nil {
		devices.AMDiGPU = &api.SystemGPU{Name: igpu.Name, RocmArch: igpu.RocmArch}
	}
	for _, g := range si.AMDdGPUs() {
		devices.AMDdGPU = append(devices.AMDdGPU, api.SystemGPU{Name: g.Name, RocmArch: g.RocmArch})
	}
	for _, g := range si.NvidiaGPUs() {
		devices.Nvidia = append(devices.Nvidia, api.SystemGPU{Name: g.Name})
	}
	if si.NPU.Name != "" || si.NPU.Available {
		devices.NPU = &api.SystemNPU{Name: si.NPU.Name, Driver: si.NPU.Driver, Available: si.NPU.Available}
	}

	return api.SystemInfo{
		OSVersion:   si.OSVersion,
		Processor:   si.CPU.Name,
		PhysicalMem: format.HumanBytes2(si.MemoryBytes),
		Devices:     devices,
	}
}
