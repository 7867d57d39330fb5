// routes_ollama.go - Ollama-kompatible Endpoints
//
// Diese Datei enthaelt:
// - tags/show/ps/version: Katalog und Pool in Ollama-Darstellung
// - pull/delete: Download-Strom als NDJSON, Digests aus Dateinamen
// - chat/generate: Uebersetzung auf die OpenAI-Oberflaeche der Engines,
//   Streaming als NDJSON, keep_alive-0-Konvention fuer Unload
// - embed/embeddings: neues und Legacy-Embedding-Format
package server

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/lemonade-sdk/lemonade/api"
	"github.com/lemonade-sdk/lemonade/catalog"
	"github.com/lemonade-sdk/lemonade/envconfig"
	"github.com/lemonade-sdk/lemonade/huggingface"
	"github.com/lemonade-sdk/lemonade/llm"
	"github.com/lemonade-sdk/lemonade/ollama"
	"github.com/lemonade-sdk/lemonade/openai"
)

func notImplementedHandler(c *gin.Context) {
	c.JSON(http.StatusNotImplemented, gin.H{"error": "not implemented"})
}

func ollamaError(c *gin.Context, status int, format string, args ...any) {
	c.JSON(status, gin.H{"error": fmt.Sprintf(format, args...)})
}

func (s *Server) ollamaVersionHandler(c *gin.Context) {
	c.JSON(http.StatusOK, ollama.VersionResponse{Version: ollama.Version})
}

func (s *Server) ollamaTagsHandler(c *gin.Context) {
	models := []ollama.ListModelResponse{}
	for _, m := range s.catalog.Models() {
		if !modelDownloaded(m) {
			continue
		}
		models = append(models, ollama.NewListEntry(ollama.Latest(m.Name), m.Recipe, m.Checkpoint, m.SizeGB))
	}
	c.JSON(http.StatusOK, ollama.ListResponse{Models: models})
}

func (s *Server) ollamaShowHandler(c *gin.Context) {
	var req ollama.ShowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ollamaError(c, http.StatusBadRequest, "invalid request body")
		return
	}

	name := req.Model
	if name == "" {
		name = req.Name
	}
	name = ollama.Normalize(name)

	m, err := s.catalog.Get(name)
	if err != nil {
		ollamaError(c, http.StatusNotFound, "model '%s' not found", name)
		return
	}

	resp := ollama.NewShowResponse(m.Name, m.Recipe, m.Checkpoint)

	// Liegt die GGUF-Datei lokal, kommen echte Metadaten dazu
	if local, err := huggingface.ResolveLocal(m.Checkpoint, m.Mmproj); err == nil && local.ModelPath != "" {
		if info, err := huggingface.InspectGGUF(local.ModelPath); err == nil {
			resp.ApplyGGUF(info)
		}
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) ollamaPsHandler(c *gin.Context) {
	models := []ollama.ProcessModelResponse{}
	for _, lm := range s.sched.ListLoaded() {
		recipe := ""
		if m, err := s.catalog.Get(lm.Name); err == nil {
			recipe = m.Recipe
		}
		expires := lm.LastUse.Add(envconfig.KeepAlive())
		models = append(models, ollama.NewProcessEntry(ollama.Latest(lm.Name), recipe, lm.Checkpoint, expires))
	}
	c.JSON(http.StatusOK, ollama.ProcessResponse{Models: models})
}

// fileDigest bildet den Pseudo-Digest eines Pull-Stroms. Lemonade
// verwaltet keine Layer; der Hash des Dateinamens ist stabil und
// erfuellt den Vertrag, dass Fortschritt pro Digest monoton waechst.
func fileDigest(file string) string {
	return fmt.Sprintf("sha256:%x", sha256.Sum256([]byte(file)))
}

func (s *Server) ollamaPullHandler(c *gin.Context) {
	var req ollama.PullRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ollamaError(c, http.StatusBadRequest, "invalid request body")
		return
	}

	name := req.Model
	if name == "" {
		name = req.Name
	}
	name = ollama.Normalize(name)

	if _, err := s.catalog.Get(name); err != nil {
		ollamaError(c, http.StatusNotFound, "model '%s' not found", name)
		return
	}

	pullReq := api.PullRequest{ModelName: name}

	if !req.Streaming() {
		if _, err := s.pullModel(c.Request.Context(), pullReq, nil); err != nil {
			status, msg := statusOf(err)
			ollamaError(c, status, "%s", msg)
			return
		}
		c.JSON(http.StatusOK, ollama.ProgressResponse{Status: "success"})
		return
	}

	c.Writer.Header().Set("Content-Type", "application/x-ndjson")
	c.Writer.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(c.Writer)
	send := func(p ollama.ProgressResponse) {
		enc.Encode(p)
		c.Writer.Flush()
	}

	send(ollama.ProgressResponse{Status: "pulling manifest"})

	_, err := s.pullModel(c.Request.Context(), pullReq, func(p huggingface.Progress) {
		send(ollama.ProgressResponse{
			Status:    fmt.Sprintf("pulling %s", p.File),
			Digest:    fileDigest(p.File),
			Total:     p.BytesTotal,
			Completed: p.BytesDownloaded,
		})
	})
	if err != nil {
		send(ollama.ProgressResponse{Status: fmt.Sprintf("error: %s", err)})
		return
	}

	send(ollama.ProgressResponse{Status: "verifying sha256 digest"})
	send(ollama.ProgressResponse{Status: "success"})
}

func (s *Server) ollamaDeleteHandler(c *gin.Context) {
	var req ollama.DeleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ollamaError(c, http.StatusBadRequest, "invalid request body")
		return
	}

	name := req.Model
	if name == "" {
		name = req.Name
	}
	name = ollama.Normalize(name)

	model, err := s.catalog.Get(name)
	if err != nil {
		ollamaError(c, http.StatusNotFound, "model '%s' not found", name)
		return
	}

	if err := s.sched.Unload(name); err != nil && !errors.Is(err, ErrNotLoaded) {
		ollamaError(c, http.StatusInternalServerError, "%s", err)
		return
	}
	if err := s.deleteFiles(model); err != nil {
		ollamaError(c, http.StatusInternalServerError, "%s", err)
		return
	}
	if strings.HasPrefix(name, catalog.UserPrefix) {
		if err := s.catalog.Remove(name); err != nil {
			ollamaError(c, http.StatusInternalServerError, "%s", err)
			return
		}
	}

	c.Status(http.StatusOK)
}

func (s *Server) ollamaChatHandler(c *gin.Context) {
	var req ollama.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ollamaError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	model := ollama.Normalize(req.Model)

	if req.UnloadRequested() {
		if err := s.sched.Unload(model); err != nil && !errors.Is(err, ErrNotLoaded) {
			ollamaError(c, http.StatusInternalServerError, "%s", err)
			return
		}
		c.JSON(http.StatusOK, ollama.ChatUnload(model))
		return
	}

	handle, err := s.sched.Acquire(c.Request.Context(), model, nil)
	if err != nil {
		ollamaError(c, http.StatusNotFound, "model '%s' not found, try pulling it first", model)
		return
	}
	defer handle.Release()

	body, err := req.ToChatCompletion(req.Streaming())
	if err != nil {
		ollamaError(c, http.StatusBadRequest, "%s", err)
		return
	}

	// think=false reist als enable_thinking mit; die /no_think-Injektion
	// laeuft ueber denselben Pfad wie auf der OpenAI-Oberflaeche.
	if fields, err := openai.ParseRequestFields(body); err == nil && fields.ThinkingDisabled() {
		body = openai.DisableThinking(body)
	}

	if !req.Streaming() {
		resp, err := handle.Server().Proxy(c.Request.Context(), llm.EndpointChat, body)
		if err != nil {
			s.ollamaProxyError(c, err)
			return
		}
		out, err := ollama.FromChatCompletion(model, resp)
		if err != nil {
			ollamaError(c, http.StatusInternalServerError, "%s", err)
			return
		}
		c.JSON(http.StatusOK, out)
		return
	}

	s.ollamaStream(c, handle, llm.EndpointChat, body, func(ch chan<- any) streamDoner {
		return ollama.NewChatStream(c.Request.Context(), ch, model)
	})
}

func (s *Server) ollamaGenerateHandler(c *gin.Context) {
	var req ollama.GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ollamaError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	model := ollama.Normalize(req.Model)

	if req.UnloadRequested() {
		if err := s.sched.Unload(model); err != nil && !errors.Is(err, ErrNotLoaded) {
			ollamaError(c, http.StatusInternalServerError, "%s", err)
			return
		}
		c.JSON(http.StatusOK, ollama.GenerateUnload(model))
		return
	}

	handle, err := s.sched.Acquire(c.Request.Context(), model, nil)
	if err != nil {
		ollamaError(c, http.StatusNotFound, "model '%s' not found, try pulling it first", model)
		return
	}
	defer handle.Release()

	// Image-Models beantworten /api/generate mit einem einzelnen
	// Base64-Ergebnis, gestreamt wird dabei nicht.
	if handle.Model().Type() == catalog.TypeImage {
		body, err := req.ToImageGeneration()
		if err != nil {
			ollamaError(c, http.StatusBadRequest, "%s", err)
			return
		}
		resp, err := handle.Server().Proxy(c.Request.Context(), llm.EndpointImages, body)
		if err != nil {
			s.ollamaProxyError(c, err)
			return
		}
		out, err := ollama.FromImageGeneration(model, resp)
		if err != nil {
			ollamaError(c, http.StatusInternalServerError, "%s", err)
			return
		}
		if req.Streaming() {
			c.Writer.Header().Set("Content-Type", "application/x-ndjson")
			json.NewEncoder(c.Writer).Encode(out)
			c.Writer.Flush()
			return
		}
		c.JSON(http.StatusOK, out)
		return
	}

	body, err := req.ToCompletion(req.Streaming())
	if err != nil {
		ollamaError(c, http.StatusBadRequest, "%s", err)
		return
	}

	if !req.Streaming() {
		resp, err := handle.Server().Proxy(c.Request.Context(), llm.EndpointCompletions, body)
		if err != nil {
			s.ollamaProxyError(c, err)
			return
		}
		out, err := ollama.FromCompletion(model, resp)
		if err != nil {
			ollamaError(c, http.StatusInternalServerError, "%s", err)
			return
		}
		c.JSON(http.StatusOK, out)
		return
	}

	s.ollamaStream(c, handle, llm.EndpointCompletions, body, func(ch chan<- any) streamDoner {
		return ollama.NewGenerateStream(c.Request.Context(), ch, model)
	})
}

// streamDoner ist der Sink-Vertrag der Ollama-Streams plus die
// abschliessende Done-Zeile.
type streamDoner interface {
	llm.StreamSink
	Done() any
}

// ollamaStream pumpt den SSE-Strom der Engine durch den Uebersetzer in
// eine NDJSON-Antwort. Der Uebersetzer laeuft als Sink der Engine, der
// Handler serialisiert die uebersetzten Chunks vom Kanal.
func (s *Server) ollamaStream(c *gin.Context, handle *Handle, endpoint string, body []byte, makeSink func(chan<- any) streamDoner) {
	c.Writer.Header().Set("Content-Type", "application/x-ndjson")
	c.Writer.WriteHeader(http.StatusOK)

	ch := make(chan any, 16)
	sink := makeSink(ch)

	done := make(chan error, 1)
	go func() {
		defer close(ch)
		done <- handle.Server().ProxyStream(c.Request.Context(), endpoint, body, sink)
	}()

	enc := json.NewEncoder(c.Writer)
	for value := range ch {
		enc.Encode(value)
		c.Writer.Flush()
	}

	if err := <-done; err != nil {
		if c.Request.Context().Err() == nil {
			enc.Encode(gin.H{"error": err.Error()})
			c.Writer.Flush()
		}
		return
	}

	enc.Encode(sink.Done())
	c.Writer.Flush()
}

func (s *Server) ollamaEmbedHandler(c *gin.Context) {
	var req ollama.EmbedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ollamaError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	model := ollama.Normalize(req.Model)

	handle, err := s.sched.Acquire(c.Request.Context(), model, nil)
	if err != nil {
		ollamaError(c, http.StatusNotFound, "model '%s' not found, try pulling it first", model)
		return
	}
	defer handle.Release()

	body, err := req.ToEmbeddings()
	if err != nil {
		ollamaError(c, http.StatusBadRequest, "%s", err)
		return
	}

	resp, err := handle.Server().Proxy(c.Request.Context(), llm.EndpointEmbeddings, body)
	if err != nil {
		s.ollamaProxyError(c, err)
		return
	}

	out, err := ollama.FromEmbeddings(model, resp)
	if err != nil {
		ollamaError(c, http.StatusInternalServerError, "%s", err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) ollamaEmbeddingsHandler(c *gin.Context) {
	var req ollama.EmbeddingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ollamaError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	model := ollama.Normalize(req.Model)

	handle, err := s.sched.Acquire(c.Request.Context(), model, nil)
	if err != nil {
		ollamaError(c, http.StatusNotFound, "model '%s' not found, try pulling it first", model)
		return
	}
	defer handle.Release()

	body, err := req.ToEmbeddings()
	if err != nil {
		ollamaError(c, http.StatusBadRequest, "%s", err)
		return
	}

	resp, err := handle.Server().Proxy(c.Request.Context(), llm.EndpointEmbeddings, body)
	if err != nil {
		s.ollamaProxyError(c, err)
		return
	}

	out, err := ollama.FromEmbedding(model, resp)
	if err != nil {
		ollamaError(c, http.StatusInternalServerError, "%s", err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// ollamaProxyError uebersetzt Engine-Fehler in die Ollama-Fehlerform.
func (s *Server) ollamaProxyError(c *gin.Context, err error) {
	var be *llm.BackendError
	if errors.As(err, &be) {
		c.Data(be.StatusCode, "application/json", be.Body)
		return
	}
	if c.Request.Context().Err() != nil {
		return
	}
	ollamaError(c, http.StatusInternalServerError, "%s", err)
}
