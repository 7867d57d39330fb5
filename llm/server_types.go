// server_types.go - Wrapped-Server Interface und Basis-Typen
//
// Diese Datei enthaelt:
// - WrappedServer: gemeinsamer Vertrag aller Engine-Prozesse
// - ServerState: Zustandsmaschine eines Wrapped-Servers
// - wrappedServer: Basisstruct mit Prozess, Port und Telemetrie
// - filteredEnv fuer sicheres Environment-Logging
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/exec"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/lemonade-sdk/lemonade/api"
	"github.com/lemonade-sdk/lemonade/catalog"
	"github.com/lemonade-sdk/lemonade/huggingface"
)

// Endpoints der Engine-Oberflaeche. Die Handler reichen sie an Proxy
// bzw. ProxyStream weiter; einzelne Engines schreiben den Request vor
// dem Weiterleiten um.
const (
	EndpointChat        = "/v1/chat/completions"
	EndpointCompletions = "/v1/completions"
	EndpointEmbeddings  = "/v1/embeddings"
	EndpointReranking   = "/v1/rerank"
	EndpointImages      = "/v1/images/generations"
	EndpointSpeech      = "/v1/audio/speech"
	EndpointResponses   = "/v1/responses"
)

var (
	// ErrUnsupportedRecipe meldet ein Recipe ohne Engine in diesem Build.
	ErrUnsupportedRecipe = errors.New("unsupported recipe")

	// ErrNotStarted meldet einen Proxy-Aufruf ohne laufenden Prozess.
	ErrNotStarted = errors.New("engine process not running")
)

// ServerState ist der Lebenszyklus eines Wrapped-Servers. Failed ist
// terminal; der Scheduler ersetzt gescheiterte Instanzen beim naechsten
// Zugriff durch einen frischen Spawn.
type ServerState int

const (
	StateNew ServerState = iota
	StateDownloading
	StateStarting
	StateReady
	StateStopping
	StateStopped
	StateFailed
)

func (s ServerState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateDownloading:
		return "downloading"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// StreamSink nimmt weitergeleitete SSE-Chunks entgegen. Flush wird nach
// jedem Chunk aufgerufen, damit der Chunk sofort beim Client landet.
type StreamSink interface {
	io.Writer
	Flush()
}

// TranscribeRequest ist ein Audio-Auftrag fuer Engines mit
// multipart-Oberflaeche (whisper.cpp).
type TranscribeRequest struct {
	File           []byte
	Filename       string
	Language       string
	Prompt         string
	ResponseFormat string
	Temperature    string
	Translate      bool
}

// WrappedServer ist der gemeinsame Vertrag aller Engine-Prozesse. Der
// Scheduler besitzt die Instanz exklusiv; sie haelt keinen Rueckverweis
// auf den Scheduler.
type WrappedServer interface {
	Model() catalog.Model
	Options() api.RecipeOptions
	State() ServerState
	BaseURL() string

	// Download stellt die Model-Dateien lokal bereit. Ohne
	// allowUpgrade gewinnt eine vorhandene vollstaendige Kopie und es
	// findet kein Netzwerk-Zugriff statt.
	Download(ctx context.Context, allowUpgrade bool) error

	// Spawn installiert bei Bedarf das Engine-Binary, waehlt per
	// Bind-Test einen freien Port und startet den Prozess.
	Spawn(ctx context.Context) error

	// WaitReady blockiert bis der Prozess Anfragen annimmt, der
	// Prozess stirbt oder das Load-Timeout ablaeuft.
	WaitReady(ctx context.Context) error

	// Proxy leitet einen JSON-Request an die Engine weiter und gibt
	// den Antwort-Body zurueck. Transiente Verbindungsfehler werden
	// begrenzt wiederholt, solange der Prozess lebt.
	Proxy(ctx context.Context, endpoint string, body []byte) ([]byte, error)

	// ProxyStream leitet die SSE-Antwort der Engine chunk-weise an
	// sink weiter und garantiert ein abschliessendes [DONE].
	ProxyStream(ctx context.Context, endpoint string, body []byte, sink StreamSink) error

	// Transcribe schickt Audio als multipart-Upload an die Engine.
	Transcribe(ctx context.Context, req TranscribeRequest) ([]byte, error)

	// Stop beendet den Prozess: erst freundlich, dann die ganze
	// Prozessgruppe. Stop betritt nie den Scheduler.
	Stop() error

	Ping(ctx context.Context) error
	Pid() int
	GetPort() int
	HasExited() bool
	Telemetry() api.StatsResponse
}

// NewServer baut den Wrapped-Server fuer das Recipe des Models. Die
// Engine-Menge ist geschlossen; unbekannte Recipes (etwa ryzenai-* auf
// Plattformen ohne Laufzeit) lehnt der Konstruktor ab.
func NewServer(model catalog.Model, opts api.RecipeOptions) (WrappedServer, error) {
	switch model.Recipe {
	case "llamacpp":
		return newLlamaCppServer(model, opts), nil
	case "flm":
		return newFLMServer(model, opts), nil
	case "whispercpp":
		return newWhisperServer(model, opts), nil
	case "sd-cpp":
		return newSDServer(model, opts), nil
	case "kokoro":
		return newKokoroServer(model, opts), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedRecipe, model.Recipe)
}

// wrappedServer ist der gemeinsame Unterbau der Engines: Prozess, Port,
// Readiness-Probe, Telemetrie und der HTTP-Client fuer das Forwarding.
type wrappedServer struct {
	engine  string // Binary-Name fuer Logs, z.B. "llama-server"
	model   catalog.Model
	options api.RecipeOptions

	port   int
	cmd    *exec.Cmd
	done   chan error // Channel signalisiert wenn Prozess beendet
	status *StatusWriter

	// FLM beendet sich sauber auf "exit" via stdin. Engines setzen
	// wantStdin im Konstruktor, startProcess oeffnet dann die Pipe.
	wantStdin bool
	stdin     io.WriteCloser

	// readyPaths/readyInterval steuern die Readiness-Probe; jede
	// Engine setzt ihre Werte im Konstruktor.
	readyPaths    []string
	readyInterval time.Duration

	stateMu sync.Mutex
	state   ServerState

	local *huggingface.LocalModel

	telemetry Telemetry

	client *http.Client
}

func newWrappedServer(engine string, model catalog.Model, opts api.RecipeOptions) wrappedServer {
	return wrappedServer{
		engine:        engine,
		model:         model,
		options:       opts,
		readyPaths:    []string{"/health", "/v1/health"},
		readyInterval: 100 * time.Millisecond,
		state:         StateNew,
		client:        &http.Client{},
	}
}

func (s *wrappedServer) Model() catalog.Model        { return s.model }
func (s *wrappedServer) Options() api.RecipeOptions  { return s.options }
func (s *wrappedServer) Telemetry() api.StatsResponse { return s.telemetry.Snapshot() }

// BaseURL gibt die lokale Adresse des Engine-Prozesses zurueck. Erst
// nach Spawn stabil.
func (s *wrappedServer) BaseURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d", s.port)
}

func (s *wrappedServer) State() ServerState {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

func (s *wrappedServer) setState(state ServerState) {
	s.stateMu.Lock()
	prev := s.state
	s.state = state
	s.stateMu.Unlock()
	if prev != state {
		slog.Debug("wrapped server state", "engine", s.engine, "model", s.model.Name, "from", prev, "to", state)
	}
}

// Download laedt den Checkpoint ueber den Hub-Client in den Cache.
// Engines mit eigener Download-Mechanik (flm pull) ueberschreiben das.
func (s *wrappedServer) Download(ctx context.Context, allowUpgrade bool) error {
	s.setState(StateDownloading)

	client := huggingface.NewClient()
	local, err := client.Download(ctx, s.model.Checkpoint, s.model.Mmproj, huggingface.WithUpgrade(allowUpgrade))
	if err != nil {
		s.setState(StateFailed)
		return fmt.Errorf("download %s: %w", s.model.Checkpoint, err)
	}

	s.local = local
	return nil
}

// Transcribe ist nur fuer Audio-Engines sinnvoll; alle anderen lehnen ab.
func (s *wrappedServer) Transcribe(ctx context.Context, req TranscribeRequest) ([]byte, error) {
	return nil, fmt.Errorf("engine %s: audio transcription: %w", s.engine, ErrUnsupportedRecipe)
}

// filteredEnv filtert Environment-Variablen fuer sicheres Logging.
// Tokens (HF_TOKEN, LEMONADE_API_KEY) bleiben aussen vor.
type filteredEnv []string

func (e filteredEnv) LogValue() slog.Value {
	var attrs []slog.Attr
	for _, env := range e {
		if key, value, ok := strings.Cut(env, "="); ok {
			switch {
			case key == "HF_TOKEN", key == "LEMONADE_API_KEY":
				// nie loggen
			case strings.HasPrefix(key, "LEMONADE_"),
				strings.HasPrefix(key, "HF_"),
				strings.HasPrefix(key, "GGML_"),
				strings.HasPrefix(key, "ROCR_"),
				strings.HasPrefix(key, "ROCM_"),
				strings.HasPrefix(key, "HIP_"),
				strings.HasPrefix(key, "ESPEAK_"),
				slices.Contains([]string{
					"PATH",
					"LD_LIBRARY_PATH",
					"DYLD_LIBRARY_PATH",
				}, key):
				attrs = append(attrs, slog.String(key, value))
			}
		}
	}
	return slog.GroupValue(attrs...)
}
