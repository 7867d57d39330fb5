// routes_audio.go - Audio-Endpoints: Transkription, Sprachausgabe, Realtime
//
// Diese Datei enthaelt:
// - audio/transcriptions und audio/translations (multipart, whisper.cpp)
// - audio/speech (Streaming roher Audio-Bytes, Kokoro)
// - audio/realtime: WebSocket-Transkription mit Commit-Protokoll
package server

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/lemonade-sdk/lemonade/llm"
	"github.com/lemonade-sdk/lemonade/openai"
)

// defaultTranscriptionModel wird benutzt, wenn ein Realtime-Client kein
// Model nennt.
const defaultTranscriptionModel = "Whisper-Base"

func (s *Server) transcriptionsHandler(c *gin.Context) {
	s.transcribe(c, false)
}

// translationsHandler ist Transkription mit Uebersetzung nach Englisch,
// whisper.cpp erledigt beides im selben Endpoint.
func (s *Server) translationsHandler(c *gin.Context) {
	s.transcribe(c, true)
}

func (s *Server) transcribe(c *gin.Context, translate bool) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, openai.NewError(http.StatusBadRequest, "file is required"))
		return
	}
	defer file.Close()

	audio, err := readAudioFile(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, openai.NewError(http.StatusBadRequest, err.Error()))
		return
	}

	model := c.Request.FormValue("model")
	if model == "" {
		model = defaultTranscriptionModel
	}

	handle, err := s.sched.Acquire(c.Request.Context(), model, nil)
	if err != nil {
		status, resp := openai.NewModelError(model, err, s.modelErrorInfo(model))
		c.JSON(status, resp)
		return
	}
	defer handle.Release()

	resp, err := handle.Server().Transcribe(c.Request.Context(), llm.TranscribeRequest{
		File:           audio,
		Filename:       header.Filename,
		Language:       c.Request.FormValue("language"),
		Prompt:         c.Request.FormValue("prompt"),
		ResponseFormat: c.Request.FormValue("response_format"),
		Temperature:    c.Request.FormValue("temperature"),
		Translate:      translate,
	})
	if err != nil {
		writeBackendError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", resp)
}

func readAudioFile(file multipart.File) ([]byte, error) {
	return io.ReadAll(io.LimitReader(file, llm.MaxAudioFileSize+1))
}

func (s *Server) speechHandler(c *gin.Context) {
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

	c.Writer.Header().Set("Content-Type", speechContentType(body))
	c.Writer.WriteHeader(http.StatusOK)

	sink := ginSink{w: c.Writer}
	if err := handle.Server().ProxyStream(c.Request.Context(), llm.EndpointSpeech, body, sink); err != nil {
		// Header sind raus, der abgebrochene Body ist das Fehlersignal
		return
	}
}

// speechContentType leitet den Content-Type aus response_format ab.
func speechContentType(body []byte) string {
	var req struct {
		ResponseFormat string `json:"response_format"`
	}
	_ = json.Unmarshal(body, &req)
	switch req.ResponseFormat {
	case "wav":
		return "audio/wav"
	case "opus":
		return "audio/ogg"
	case "flac":
		return "audio/flac"
	case "pcm":
		return "audio/pcm"
	default:
		return "audio/mpeg"
	}
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
	// Browser-Clients kommen von beliebigen Origins, Auth laeuft ueber
	// die normale Middleware davor
	CheckOrigin: func(*http.Request) bool { return true },
}

// realtimeMessage ist eine Text-Nachricht des Realtime-Protokolls.
type realtimeMessage struct {
	Type string `json:"type"`
	// Data traegt base64-Audio bei type=audio
	Data string `json:"data,omitempty"`
	Text string `json:"text,omitempty"`
}

// realtimeHandler nimmt Audio-Chunks ueber WebSocket entgegen. Binaere
// Frames und {"type":"audio","data":base64} werden gepuffert;
// {"type":"commit"} transkribiert den Puffer und schickt
// {"type":"transcription","text":...} zurueck, der Puffer beginnt leer
// von vorn.
func (s *Server) realtimeHandler(c *gin.Context) {
	model := c.Query("model")
	if model == "" {
		model = defaultTranscriptionModel
	}

	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var buffer []byte

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			buffer = append(buffer, data...)
			continue
		case websocket.TextMessage:
		default:
			continue
		}

		var msg realtimeMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.realtimeError(conn, "invalid message")
			continue
		}

		switch msg.Type {
		case "audio":
			chunk, err := base64.StdEncoding.DecodeString(msg.Data)
			if err != nil {
				s.realtimeError(conn, "invalid base64 audio")
				continue
			}
			buffer = append(buffer, chunk...)

		case "clear":
			buffer = nil

		case "commit":
			text, err := s.realtimeTranscribe(c, model, buffer)
			if err != nil {
				s.realtimeError(conn, err.Error())
				buffer = nil
				continue
			}
			buffer = nil
			conn.WriteJSON(realtimeMessage{Type: "transcription", Text: text})

		case "close":
			return
		}
	}
}

func (s *Server) realtimeTranscribe(c *gin.Context, model string, audio []byte) (string, error) {
	handle, err := s.sched.Acquire(c.Request.Context(), model, nil)
	if err != nil {
		return "", err
	}
	defer handle.Release()

	resp, err := handle.Server().Transcribe(c.Request.Context(), llm.TranscribeRequest{
		File:     audio,
		Filename: "audio.wav",
	})
	if err != nil {
		return "", err
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return "", err
	}
	return result.Text, nil
}

func (s *Server) realtimeError(conn *websocket.Conn, message string) {
	conn.WriteJSON(gin.H{"type": "error", "error": message})
}
