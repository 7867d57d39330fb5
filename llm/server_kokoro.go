// server_kokoro.go - Kokoro Engine (Text-to-Speech)
//
// Diese Datei enthaelt:
// - Installation der Kokoros Releases
// - Model-Index: der Checkpoint zeigt auf eine JSON-Datei, die Model-
//   und Voices-Datei im Snapshot benennt
// - Speech-Request-Umschreibung fuer die Kokoros-API
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/lemonade-sdk/lemonade/api"
	"github.com/lemonade-sdk/lemonade/catalog"
	"github.com/lemonade-sdk/lemonade/huggingface"
)

type kokoroServer struct {
	wrappedServer
}

func newKokoroServer(model catalog.Model, opts api.RecipeOptions) *kokoroServer {
	s := &kokoroServer{wrappedServer: newWrappedServer("koko", model, opts)}
	// koko hat keinen Health-Endpoint, GET / reicht als Probe
	s.readyPaths = []string{"/"}
	s.readyInterval = 500 * time.Millisecond
	return s
}

// kokoroIndex benennt die Dateien im Snapshot, die koko braucht.
type kokoroIndex struct {
	Model  string `json:"model"`
	Voices string `json:"voices"`
}

func (s *kokoroServer) Spawn(ctx context.Context) error {
	exe, err := installKokoro(ctx)
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

	indexData, err := os.ReadFile(s.local.ModelPath)
	if err != nil {
		s.setState(StateFailed)
		return fmt.Errorf("model-index lesen: %w", err)
	}
	var index kokoroIndex
	if err := json.Unmarshal(indexData, &index); err != nil {
		s.setState(StateFailed)
		return fmt.Errorf("model-index %s parsen: %w", filepath.Base(s.local.ModelPath), err)
	}
	if index.Model == "" || index.Voices == "" {
		s.setState(StateFailed)
		return fmt.Errorf("model-index %s unvollstaendig: model und voices noetig", filepath.Base(s.local.ModelPath))
	}

	if err := s.choosePort(); err != nil {
		s.setState(StateFailed)
		return err
	}

	modelDir := filepath.Dir(s.local.ModelPath)
	args := []string{
		"-m", filepath.Join(modelDir, index.Model),
		"-d", filepath.Join(modelDir, index.Voices),
		"openai",
		"--ip", "127.0.0.1",
		"--port", strconv.Itoa(s.port),
	}

	exeDir := filepath.Dir(exe)
	env := map[string]string{
		"ESPEAK_DATA_PATH": filepath.Join(exeDir, "espeak-ng-data"),
	}
	if runtime.GOOS != "windows" {
		env["LD_LIBRARY_PATH"] = prependPathList(os.Getenv("LD_LIBRARY_PATH"), exeDir)
	}

	if err := s.startProcess(exe, args, env); err != nil {
		return err
	}
	s.setState(StateStarting)
	return nil
}

// ProxyStream streamt Speech-Antworten als rohe Audio-Bytes, kein
// SSE-Framing. Andere Endpoints laufen ueber den Standard-Proxy.
func (s *kokoroServer) ProxyStream(ctx context.Context, endpoint string, body []byte, sink StreamSink) error {
	if endpoint == EndpointSpeech {
		return s.streamRaw(ctx, endpoint, rewriteSpeechRequest(body), sink)
	}
	return s.wrappedServer.ProxyStream(ctx, endpoint, body, sink)
}

func (s *kokoroServer) Proxy(ctx context.Context, endpoint string, body []byte) ([]byte, error) {
	if endpoint == EndpointSpeech {
		body = rewriteSpeechRequest(body)
	}
	return s.wrappedServer.Proxy(ctx, endpoint, body)
}

// rewriteSpeechRequest passt den OpenAI-Speech-Request an Kokoros an:
// das model-Feld heisst dort immer "kokoro", und stream_format setzt
// das von Kokoros verlangte stream-Flag.
func rewriteSpeechRequest(body []byte) []byte {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return body
	}
	payload["model"] = "kokoro"
	if _, ok := payload["stream_format"]; ok {
		payload["stream"] = true
	}
	rewritten, err := json.Marshal(payload)
	if err != nil {
		return body
	}
	return rewritten
}

// installKokoro stellt das koko-Binary bereit. LEMONADE_KOKORO_CPU_BIN
// verweist auf ein externes Binary.
func installKokoro(ctx context.Context) (string, error) {
	if path := os.Getenv("LEMONADE_KOKORO_CPU_BIN"); path != "" {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	versions, err := loadBackendVersions()
	if err != nil {
		return "", err
	}
	version := versions.Kokoro["cpu"]
	if version == "" {
		return "", fmt.Errorf("keine kokoro-version hinterlegt")
	}

	var filename string
	switch runtime.GOOS {
	case "windows":
		filename = "kokoros-windows-x86_64.tar.gz"
	case "linux":
		filename = "kokoros-linux-x86_64.tar.gz"
	default:
		return "", fmt.Errorf("kokoro wird auf %s nicht unterstuetzt", runtime.GOOS)
	}

	install := &releaseInstall{
		engine:        "koko",
		repo:          "lemonade-sdk/Kokoros",
		tag:           version,
		filename:      filename,
		dir:           filepath.Join(binDir(), "kokoro", "cpu"),
		version:       version,
		exeCandidates: kokoroExeCandidates(),
	}
	return install.ensure(ctx)
}

func kokoroExeCandidates() []string {
	name := "koko"
	subdirs := []string{"kokoros-linux-x86_64", "linux-x86_64", ""}
	if runtime.GOOS == "windows" {
		name = "koko.exe"
		subdirs = []string{"kokoros-windows-x86_64", "windows-x86_64", ""}
	}
	var candidates []string
	for _, subdir := range subdirs {
		if subdir == "" {
			candidates = append(candidates, name)
		} else {
			candidates = append(candidates, subdir+"/"+name)
		}
	}
	return candidates
}
