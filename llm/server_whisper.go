// server_whisper.go - whisper.cpp Engine (Audio-Transkription)
//
// Diese Datei enthaelt:
// - Installation der whisper.cpp Releases
// - Transcribe: Multipart-Forwarding an den /inference-Endpoint
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/lemonade-sdk/lemonade/api"
	"github.com/lemonade-sdk/lemonade/catalog"
	"github.com/lemonade-sdk/lemonade/huggingface"
)

// MaxAudioFileSize ist das Upload-Limit fuer Audio-Dateien (25 MB,
// gleicher Wert wie die OpenAI-API). Auch der HTTP-Handler prueft
// dagegen, bevor er die Datei einliest.
const MaxAudioFileSize = 25 * 1024 * 1024

// transcribeTimeout deckt lange Aufnahmen ab; whisper-server streamt
// nicht, die Antwort kommt erst nach vollstaendiger Verarbeitung.
const transcribeTimeout = 300 * time.Second

type whisperServer struct {
	wrappedServer
}

func newWhisperServer(model catalog.Model, opts api.RecipeOptions) *whisperServer {
	s := &whisperServer{wrappedServer: newWrappedServer("whisper-server", model, opts)}
	return s
}

func (s *whisperServer) Spawn(ctx context.Context) error {
	exe, err := installWhisperServer(ctx)
	if err != nil {
		s.setState(StateFailed)
		return err
	}

	if s.local == nil {
		local, err := huggingface.ResolveLocal(s.model.Checkpoint, "")
		if err != nil {
			s.setState(StateFailed)
			return fmt.Errorf("modell %s aufloesen: %w", s.model.Checkpoint, err)
		}
		s.local = local
	}

	if err := s.choosePort(); err != nil {
		s.setState(StateFailed)
		return err
	}

	// whisper-server konvertiert Audio-Formate seit v1.8 selbst
	args := []string{
		"-m", s.local.ModelPath,
		"--port", strconv.Itoa(s.port),
	}

	if err := s.startProcess(exe, args, nil); err != nil {
		return err
	}
	s.setState(StateStarting)
	return nil
}

// Transcribe leitet die Audio-Datei als Multipart-Formular an den
// /inference-Endpoint von whisper-server weiter.
func (s *whisperServer) Transcribe(ctx context.Context, req TranscribeRequest) ([]byte, error) {
	if s.State() != StateReady {
		return nil, ErrNotStarted
	}
	if len(req.File) == 0 {
		return nil, fmt.Errorf("audio file is empty")
	}
	if len(req.File) > MaxAudioFileSize {
		return nil, fmt.Errorf("audio file exceeds maximum size of 25MB")
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	part, err := audioFormFile(mw, req.Filename)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(req.File); err != nil {
		return nil, err
	}

	responseFormat := req.ResponseFormat
	if responseFormat == "" {
		responseFormat = "json"
	}
	mw.WriteField("response_format", responseFormat)

	temperature := req.Temperature
	if temperature == "" {
		temperature = "0.0"
	}
	mw.WriteField("temperature", temperature)

	if req.Language != "" && !req.Translate {
		// Uebersetzung geht immer nach Englisch, ein language-Hint
		// gilt nur fuer Transkription
		mw.WriteField("language", req.Language)
	}
	if req.Prompt != "" {
		mw.WriteField("prompt", req.Prompt)
	}
	if req.Translate {
		mw.WriteField("translate", "true")
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, transcribeTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, s.BaseURL()+"/inference", &body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("engine %s nicht erreichbar: %w", s.engine, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &BackendError{StatusCode: resp.StatusCode, Body: respBody}
	}

	// Nicht-JSON-Formate (text, srt, vtt) werden als {"text": ...}
	// verpackt, damit der Handler ein einheitliches Shape sieht
	if !json.Valid(respBody) {
		wrapped, err := json.Marshal(map[string]string{"text": string(respBody)})
		if err != nil {
			return nil, err
		}
		return wrapped, nil
	}
	return respBody, nil
}

// audioFormFile legt den file-Part mit dem passenden MIME-Typ an.
func audioFormFile(mw *multipart.Writer, filename string) (io.Writer, error) {
	if filename == "" {
		filename = "audio.wav"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filepath.Base(filename)))
	h.Set("Content-Type", audioContentType(filename))
	return mw.CreatePart(h)
}

func audioContentType(filename string) string {
	switch filepath.Ext(filename) {
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".m4a":
		return "audio/mp4"
	case ".ogg":
		return "audio/ogg"
	case ".flac":
		return "audio/flac"
	case ".webm":
		return "audio/webm"
	}
	return "audio/wav"
}

// installWhisperServer stellt das whisper-server-Binary bereit.
// LEMONADE_WHISPERCPP_BIN verweist auf ein externes Binary.
func installWhisperServer(ctx context.Context) (string, error) {
	if path := os.Getenv("LEMONADE_WHISPERCPP_BIN"); path != "" {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	versions, err := loadBackendVersions()
	if err != nil {
		return "", err
	}
	version := versions.WhisperCpp
	if version == "" {
		version = "v1.8.2"
	}

	filename := "whisper-bin-x64.zip"
	if runtime.GOOS == "darwin" {
		filename = "whisper-bin-arm64.zip"
	}

	install := &releaseInstall{
		engine:        "whisper-server",
		repo:          "ggml-org/whisper.cpp",
		tag:           version,
		filename:      filename,
		dir:           filepath.Join(binDir(), "whisper"),
		version:       version,
		exeCandidates: whisperExeCandidates(),
	}
	return install.ensure(ctx)
}

// Offizielle whisper.cpp-Releases entpacken nach Release/.
func whisperExeCandidates() []string {
	names := []string{"whisper-server", "server"}
	if runtime.GOOS == "windows" {
		names = []string{"whisper-server.exe", "server.exe"}
	}
	var candidates []string
	for _, subdir := range []string{"Release", "bin", ""} {
		for _, name := range names {
			if subdir == "" {
				candidates = append(candidates, name)
			} else {
				candidates = append(candidates, subdir+"/"+name)
			}
		}
	}
	return candidates
}
