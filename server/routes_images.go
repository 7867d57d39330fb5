// routes_images.go - Bild-Generierung
//
// Diese Datei enthaelt:
// - images/generations: Forward an sd-server, Antwort ist base64-JSON
package server

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lemonade-sdk/lemonade/llm"
	"github.com/lemonade-sdk/lemonade/openai"
)

func (s *Server) imageGenerationsHandler(c *gin.Context) {
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

	resp, err := handle.Server().Proxy(c.Request.Context(), llm.EndpointImages, body)
	if err != nil {
		writeBackendError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", resp)
}
