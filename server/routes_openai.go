// routes_openai.go - OpenAI-kompatible Inferenz-Endpoints
//
// Diese Datei enthaelt:
// - chat/completions, completions, embeddings, reranking, responses
// - Auto-Load: nicht geladene Models werden beim ersten Request geladen
// - ginSink: StreamSink-Adapter auf den gin-ResponseWriter
package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lemonade-sdk/lemonade/llm"
	"github.com/lemonade-sdk/lemonade/openai"
)

// ginSink adaptiert den gin-ResponseWriter auf den StreamSink-Vertrag
// der Engines.
type ginSink struct {
	w gin.ResponseWriter
}

func (s ginSink) Write(p []byte) (int, error) { return s.w.Write(p) }
func (s ginSink) Flush()                      { s.w.Flush() }

// modelErrorInfo sammelt das Katalogwissen fuer die Fehlermeldung beim
// Model-Laden.
func (s *Server) modelErrorInfo(name string) openai.ModelErrorInfo {
	info := openai.ModelErrorInfo{
		FilterReason: s.catalog.FilterReason(name),
		Available:    s.catalog.Names(),
		Closest:      s.catalog.Closest(name),
	}
	if _, err := s.catalog.Get(name); err == nil {
		info.Exists = true
	}
	return info
}

func (s *Server) chatCompletionsHandler(c *gin.Context) {
	s.completionProxy(c, llm.EndpointChat)
}

func (s *Server) completionsHandler(c *gin.Context) {
	s.completionProxy(c, llm.EndpointCompletions)
}

// completionProxy ist der gemeinsame Pfad von chat/completions und
// completions: Model-Feld lesen, bei Bedarf laden, Request durchreichen.
func (s *Server) completionProxy(c *gin.Context, endpoint string) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, openai.NewError(http.StatusBadRequest, err.Error()))
		return
	}

	fields, err := openai.ParseRequestFields(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, openai.NewError(http.StatusBadRequest, "invalid JSON body"))
		return
	}
	if fields.Model == "" {
		c.JSON(http.StatusBadRequest, openai.NewError(http.StatusBadRequest, "model is required"))
		return
	}

	handle, err := s.sched.Acquire(c.Request.Context(), fields.Model, nil)
	if err != nil {
		status, resp := openai.NewModelError(fields.Model, err, s.modelErrorInfo(fields.Model))
		c.JSON(status, resp)
		return
	}
	defer handle.Release()

	// Qwen3-artige Models: enable_thinking=false reist nicht bis
	// llama-server, stattdessen wird /no_think in den Prompt injiziert.
	if fields.ThinkingDisabled() {
		body = openai.DisableThinking(body)
	}

	if fields.Stream {
		s.streamProxy(c, handle, endpoint, body)
		return
	}

	resp, err := handle.Server().Proxy(c.Request.Context(), endpoint, body)
	if err != nil {
		writeBackendError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", resp)
}

// streamProxy reicht den SSE-Strom der Engine an den Client weiter.
// Fehler nach dem ersten Byte reisen als data-Event im Strom.
func (s *Server) streamProxy(c *gin.Context, handle *Handle, endpoint string, body []byte) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	sink := ginSink{w: c.Writer}
	if err := handle.Server().ProxyStream(c.Request.Context(), endpoint, body, sink); err != nil {
		var be *llm.BackendError
		if errors.As(err, &be) {
			sink.Write(openai.StreamError(string(be.Body), "backend_error"))
		} else if c.Request.Context().Err() == nil {
			sink.Write(openai.StreamError(err.Error(), "server_error"))
		}
		sink.Flush()
	}
}

func (s *Server) embeddingsHandler(c *gin.Context) {
	s.jsonProxy(c, llm.EndpointEmbeddings)
}

func (s *Server) rerankingHandler(c *gin.Context) {
	s.jsonProxy(c, llm.EndpointReranking)
}

// jsonProxy ist der Pfad fuer Endpoints ohne Streaming: embeddings und
// reranking.
func (s *Server) jsonProxy(c *gin.Context, endpoint string) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, openai.NewError(http.StatusBadRequest, err.Error()))
		return
	}

	fields, err := openai.ParseRequestFields(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, openai.NewError(http.StatusBadRequest, "invalid JSON body"))
		return
	}
	if fields.Model == "" {
		c.JSON(http.StatusBadRequest, openai.NewError(http.StatusBadRequest, "model is required"))
		return
	}

	handle, err := s.sched.Acquire(c.Request.Context(), fields.Model, nil)
	if err != nil {
		status, resp := openai.NewModelError(fields.Model, err, s.modelErrorInfo(fields.Model))
		c.JSON(status, resp)
		return
	}
	defer handle.Release()

	resp, err := handle.Server().Proxy(c.Request.Context(), endpoint, body)
	if err != nil {
		writeBackendError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", resp)
}

// responsesHandler bedient das Responses-API. Nur llama-server spricht
// es nativ; fuer alle anderen Recipes gibt es 501.
func (s *Server) responsesHandler(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, openai.NewError(http.StatusBadRequest, err.Error()))
		return
	}

	fields, err := openai.ParseRequestFields(body)
	if err != nil || fields.Model == "" {
		c.JSON(http.StatusBadRequest, openai.NewError(http.StatusBadRequest, "model is required"))
		return
	}

	handle, err := s.sched.Acquire(c.Request.Context(), fields.Model, nil)
	if err != nil {
		status, resp := openai.NewModelError(fields.Model, err, s.modelErrorInfo(fields.Model))
		c.JSON(status, resp)
		return
	}
	defer handle.Release()

	if handle.Model().Recipe != "llamacpp" {
		c.JSON(http.StatusNotImplemented, openai.NewError(http.StatusNotImplemented,
			"the responses API is only supported for llamacpp models"))
		return
	}

	if fields.Stream {
		s.streamProxy(c, handle, llm.EndpointResponses, body)
		return
	}

	resp, err := handle.Server().Proxy(c.Request.Context(), llm.EndpointResponses, body)
	if err != nil {
		writeBackendError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", resp)
}

// writeBackendError reicht Engine-Fehler mit Original-Status und -Body
// an den Client durch; alles andere wird zum 500er.
func writeBackendError(c *gin.Context, err error) {
	var be *llm.BackendError
	if errors.As(err, &be) {
		c.Data(be.StatusCode, "application/json", be.Body)
		return
	}
	if c.Request.Context().Err() != nil {
		// Client hat aufgelegt, keine Antwort mehr moeglich
		return
	}
	c.JSON(http.StatusInternalServerError, openai.NewError(http.StatusInternalServerError, err.Error()))
}
