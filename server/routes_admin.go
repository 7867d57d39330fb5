// routes_admin.go - Verwaltungs-Endpoints der nativen API
//
// Diese Datei enthaelt:
// - live/health/stats/system-info
// - models und models/:model
// - load/unload/pull/delete
// - shutdown, log-level und logs/stream
package server

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lemonade-sdk/lemonade/api"
	"github.com/lemonade-sdk/lemonade/catalog"
	"github.com/lemonade-sdk/lemonade/envconfig"
	"github.com/lemonade-sdk/lemonade/huggingface"
	"github.com/lemonade-sdk/lemonade/logutil"
	"github.com/lemonade-sdk/lemonade/openai"
	"github.com/lemonade-sdk/lemonade/version"
)

// deleteRetries und deleteRetryDelay federn Windows-Datei-Locks ab:
// eine gerade erst gestoppte Engine haelt die GGUF-Dateien manchmal
// noch einige Sekunden offen.
const (
	deleteRetries    = 3
	deleteRetryDelay = 5 * time.Second
)

func (s *Server) liveHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// httpPort gibt den oeffentlichen HTTP-Port zurueck. Der Health-Report
// bewirbt diesen Port auch als websocket_port: die Realtime-Oberflaeche
// laeuft auf demselben Listener, nicht auf einem internen Port.
func (s *Server) httpPort() int {
	if addr, ok := s.addr.(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

func (s *Server) healthHandler(c *gin.Context) {
	loaded := s.sched.ListLoaded()

	var modelLoaded *string
	var latest time.Time
	for i := range loaded {
		if loaded[i].LastUse.After(latest) {
			latest = loaded[i].LastUse
			modelLoaded = &loaded[i].Name
		}
	}

	status := "ok"
	if s.sched.Degraded() {
		status = "degraded"
	}

	c.JSON(http.StatusOK, api.HealthResponse{
		Status:          status,
		Version:         version.Version,
		ModelLoaded:     modelLoaded,
		AllModelsLoaded: loaded,
		MaxModels:       s.sched.MaxModels(),
		WebsocketPort:   s.httpPort(),
	})
}

func (s *Server) modelsHandler(c *gin.Context) {
	showAll := c.Query("show_all") == "true"

	data := []api.Model{}
	for _, m := range s.catalog.Models() {
		downloaded := modelDownloaded(m)
		if !showAll && !downloaded {
			continue
		}
		data = append(data, m.ToAPI(downloaded, s.store.Get(m.Name)))
	}

	c.JSON(http.StatusOK, api.ListResponse{Object: "list", Data: data})
}

func (s *Server) modelHandler(c *gin.Context) {
	name := c.Param("model")
	m, err := s.catalog.Get(name)
	if err != nil {
		status, resp := openai.NewModelError(name, err, s.modelErrorInfo(name))
		c.JSON(status, resp)
		return
	}
	c.JSON(http.StatusOK, m.ToAPI(modelDownloaded(m), s.store.Get(m.Name)))
}

func (s *Server) loadHandler(c *gin.Context) {
	var req api.LoadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, openai.NewError(http.StatusUnprocessableEntity, err.Error()))
		return
	}
	if req.ModelName == "" {
		c.JSON(http.StatusUnprocessableEntity, openai.NewError(http.StatusUnprocessableEntity, "model_name is required"))
		return
	}

	opts := req.Options()
	if req.SaveOptions {
		if err := s.store.Set(req.ModelName, opts); err != nil {
			c.JSON(http.StatusInternalServerError, openai.NewError(http.StatusInternalServerError, err.Error()))
			return
		}
	}

	handle, err := s.sched.Acquire(c.Request.Context(), req.ModelName, &opts)
	if err != nil {
		status, resp := openai.NewModelError(req.ModelName, err, s.modelErrorInfo(req.ModelName))
		c.JSON(status, resp)
		return
	}
	defer handle.Release()

	m := handle.Model()
	c.JSON(http.StatusOK, api.LoadResponse{
		Status:     "success",
		ModelName:  m.Name,
		Checkpoint: m.Checkpoint,
		Recipe:     m.Recipe,
	})
}

func (s *Server) unloadHandler(c *gin.Context) {
	var req api.UnloadRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusUnprocessableEntity, openai.NewError(http.StatusUnprocessableEntity, err.Error()))
			return
		}
	}

	name := req.Name()
	if name == "" {
		s.sched.UnloadAll()
		c.JSON(http.StatusOK, api.StatusResponse{
			Status:  "success",
			Message: "All models unloaded successfully",
		})
		return
	}

	if err := s.sched.Unload(name); err != nil {
		if errors.Is(err, ErrNotLoaded) {
			c.JSON(http.StatusNotFound, openai.NewError(http.StatusNotFound,
				fmt.Sprintf("Model '%s' is not loaded", name)))
			return
		}
		c.JSON(http.StatusInternalServerError, openai.NewError(http.StatusInternalServerError, err.Error()))
		return
	}

	c.JSON(http.StatusOK, api.StatusResponse{
		Status:    "success",
		Message:   fmt.Sprintf("Model '%s' unloaded successfully", name),
		ModelName: name,
	})
}

func (s *Server) pullHandler(c *gin.Context) {
	var req api.PullRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, openai.NewError(http.StatusUnprocessableEntity, err.Error()))
		return
	}

	if !req.Stream {
		if _, err := s.pullModel(c.Request.Context(), req, nil); err != nil {
			status, msg := statusOf(err)
			c.JSON(status, openai.NewError(status, msg))
			return
		}
		c.JSON(http.StatusOK, api.StatusResponse{Status: "success", ModelName: req.Name()})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	send := func(event string, payload any) {
		data, err := json.Marshal(payload)
		if err != nil {
			return
		}
		fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, data)
		c.Writer.Flush()
	}

	_, err := s.pullModel(c.Request.Context(), req, func(p huggingface.Progress) {
		send("progress", api.PullProgress{
			File:            p.File,
			FileIndex:       p.FileIndex,
			TotalFiles:      p.TotalFiles,
			BytesDownloaded: uint64(max(p.BytesDownloaded, 0)),
			BytesTotal:      uint64(max(p.BytesTotal, 0)),
			Percent:         float64(p.Percent),
		})
	})
	if err != nil {
		send("error", api.PullProgress{Error: err.Error()})
		return
	}
	send("complete", api.PullProgress{Percent: 100})
}

func (s *Server) deleteHandler(c *gin.Context) {
	var req api.DeleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, openai.NewError(http.StatusUnprocessableEntity, err.Error()))
		return
	}
	name := req.Name()
	if name == "" {
		c.JSON(http.StatusUnprocessableEntity, openai.NewError(http.StatusUnprocessableEntity, "model_name is required"))
		return
	}

	model, err := s.catalog.Get(name)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, openai.NewError(http.StatusUnprocessableEntity,
			fmt.Sprintf("Model '%s' is not a known model and cannot be deleted", name)))
		return
	}

	if err := s.sched.Unload(name); err != nil && !errors.Is(err, ErrNotLoaded) {
		c.JSON(http.StatusInternalServerError, openai.NewError(http.StatusInternalServerError, err.Error()))
		return
	}

	if err := s.deleteFiles(model); err != nil {
		c.JSON(http.StatusInternalServerError, openai.NewError(http.StatusInternalServerError,
			fmt.Sprintf("Failed to delete model '%s': %s", name, err)))
		return
	}

	if strings.HasPrefix(name, catalog.UserPrefix) {
		if err := s.catalog.Remove(name); err != nil {
			c.JSON(http.StatusInternalServerError, openai.NewError(http.StatusInternalServerError, err.Error()))
			return
		}
	}

	c.JSON(http.StatusOK, api.StatusResponse{
		Status:    "success",
		Message:   fmt.Sprintf("Deleted model: %s", name),
		ModelName: name,
	})
}

// deleteFiles entfernt die Model-Dateien. Eine gerade erst gestoppte
// Engine kann sie auf Windows noch gesperrt haben, deshalb wird der
// Loeschversuch begrenzt wiederholt.
func (s *Server) deleteFiles(model catalog.Model) error {
	if model.Recipe == "flm" {
		// Der FLM-Store gehoert dem flm-Binary; Lemonade entfernt nur
		// den Katalog-Eintrag.
		return nil
	}

	var err error
	for attempt := 1; attempt <= deleteRetries; attempt++ {
		if err = huggingface.Delete(model.Checkpoint, model.Mmproj); err == nil {
			return nil
		}
		slog.Warn("delete attempt failed", "model", model.Name, "attempt", attempt, "error", err)
		if attempt < deleteRetries {
			time.Sleep(deleteRetryDelay)
		}
	}
	return err
}

func (s *Server) statsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.sched.Stats())
}

func (s *Server) systemInfoHandler(c *gin.Context) {
	info := s.info
	if c.Query("verbose") == "true" {
		info.EnvVars = envconfig.Values()
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) shutdownHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "shutting down"})
	s.shutdownOnce.Do(func() { close(s.shutdownCh) })
}

func (s *Server) logLevelHandler(c *gin.Context) {
	var req api.LogLevelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, openai.NewError(http.StatusUnprocessableEntity, err.Error()))
		return
	}

	var level slog.Level
	switch strings.ToLower(req.Level) {
	case "trace":
		level = logutil.LevelTrace
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warning", "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		c.JSON(http.StatusUnprocessableEntity, openai.NewError(http.StatusUnprocessableEntity,
			fmt.Sprintf("unknown log level: %s", req.Level)))
		return
	}

	logutil.Level.Set(level)
	slog.Info("log level changed", "level", req.Level)
	c.JSON(http.StatusOK, api.LogLevelResponse{Status: "success", Level: strings.ToLower(req.Level)})
}

// logsStreamHandler streamt die Server-Log-Datei als SSE. Neue Zeilen
// werden alle 500ms nachgelesen; Leerlauf wird mit Heartbeat-Kommentaren
// ueberbrueckt, damit Proxies die Verbindung nicht kappen.
func (s *Server) logsStreamHandler(c *gin.Context) {
	if s.logPath == "" {
		c.JSON(http.StatusNotFound, openai.NewError(http.StatusNotFound, "no log file available"))
		return
	}

	f, err := os.Open(s.logPath)
	if err != nil {
		c.JSON(http.StatusNotFound, openai.NewError(http.StatusNotFound, "no log file available"))
		return
	}
	defer f.Close()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	reader := bufio.NewReader(f)
	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()
	poll := time.NewTicker(500 * time.Millisecond)
	defer poll.Stop()

	for {
		line, err := reader.ReadString('\n')
		if len(line) > 0 {
			payload, _ := json.Marshal(gin.H{"line": strings.TrimRight(line, "\r\n")})
			fmt.Fprintf(c.Writer, "data: %s\n\n", payload)
			c.Writer.Flush()
			continue
		}
		if err != nil && err != io.EOF {
			return
		}

		select {
		case <-c.Request.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(c.Writer, ": heartbeat\n\n")
			c.Writer.Flush()
		case <-poll.C:
		}
	}
}

// statusOf zieht den HTTP-Status aus einem Fehler, Default 500.
func statusOf(err error) (int, string) {
	var se api.StatusError
	if errors.As(err, &se) {
		return se.StatusCode, se.ErrorMessage
	}
	return http.StatusInternalServerError, err.Error()
}
