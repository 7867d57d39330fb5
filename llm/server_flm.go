// server_flm.go - FastFlowLM Engine (NPU)
//
// Diese Datei enthaelt:
// - Suche und Versions-Pruefung des extern installierten flm-Binaries
// - Download via flm pull, Start via flm serve
// - Invalidierungs-Marker: Checkpoints merken sich ihre Pull-Version
// - Request-Umschreibung: FLM verlangt den Checkpoint im model-Feld
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/lemonade-sdk/lemonade/api"
	"github.com/lemonade-sdk/lemonade/catalog"
	"github.com/lemonade-sdk/lemonade/envconfig"
)

const (
	flmInstallerURL = "https://github.com/FastFlowLM/FastFlowLM/releases/latest/download/flm-setup.exe"
	flmPullTimeout  = 300 * time.Second
)

type flmServer struct {
	wrappedServer
}

func newFLMServer(model catalog.Model, opts api.RecipeOptions) *flmServer {
	s := &flmServer{wrappedServer: newWrappedServer("flm", model, opts)}
	// FLM hat keinen Health-Endpoint, /api/tags dient als Readiness-Probe
	s.readyPaths = []string{"/api/tags"}
	s.readyInterval = time.Second
	s.wantStdin = true
	return s
}

// findFLM sucht das flm-Binary. FLM wird nicht von Lemonade verwaltet,
// der Installer des Herstellers legt es in PATH bzw. Program Files ab.
func findFLM() (string, error) {
	if path, err := exec.LookPath("flm"); err == nil {
		return path, nil
	}
	if runtime.GOOS == "windows" {
		for _, p := range []string{
			`C:\Program Files\FastFlowLM\flm.exe`,
			`C:\Program Files (x86)\FastFlowLM\flm.exe`,
		} {
			if _, err := os.Stat(p); err == nil {
				return p, nil
			}
		}
	}
	return "", fmt.Errorf("FLM not installed. Please install FLM and try again. Download: %s", flmInstallerURL)
}

// checkFLMVersion verlangt exakt die hinterlegte FLM-Version und gibt
// sie zurueck. FLM und Lemonade teilen sich den Wire-Vertrag der
// NPU-Laufzeit, deshalb wird nicht auf Mindestversion, sondern auf
// Gleichheit geprueft.
func checkFLMVersion(ctx context.Context, flmPath string) (string, error) {
	versions, err := loadBackendVersions()
	if err != nil {
		return "", err
	}
	required := strings.TrimPrefix(versions.FLM.Version, "v")

	out, err := exec.CommandContext(ctx, flmPath, "version").Output()
	if err != nil {
		return "", fmt.Errorf("flm version nicht abfragbar: %w", err)
	}

	installed := strings.TrimSpace(string(out))
	installed = strings.TrimPrefix(installed, "FLM v")
	if installed != required {
		return "", fmt.Errorf("FLM version %s is installed but version %s is required. Please install FLM %s from %s",
			installed, required, required, flmInstallerURL)
	}
	return required, nil
}

// flmVersionFile merkt sich pro Checkpoint, mit welcher FLM-Version er
// gepullt wurde. Ein FLM-Upgrade macht alte Pulls unbrauchbar.
func flmVersionFile() string {
	return filepath.Join(envconfig.CacheDir(), "flm_versions.json")
}

func readFLMVersions() map[string]string {
	versions := map[string]string{}
	data, err := os.ReadFile(flmVersionFile())
	if err != nil {
		return versions
	}
	if err := json.Unmarshal(data, &versions); err != nil {
		return map[string]string{}
	}
	return versions
}

func recordFLMVersion(checkpoint, version string) {
	versions := readFLMVersions()
	versions[checkpoint] = version

	data, err := json.MarshalIndent(versions, "", "  ")
	if err != nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(flmVersionFile()), 0o755); err != nil {
		return
	}
	if err := os.WriteFile(flmVersionFile(), data, 0o644); err != nil {
		slog.Warn("flm version marker not written", "file", flmVersionFile(), "error", err)
	}
}

// FLMDownloaded meldet, ob ein Checkpoint schon per flm pull geholt
// wurde. FLM verwaltet seinen Store selbst; der Versions-Marker ist
// unser einziger Nachweis.
func FLMDownloaded(checkpoint string) bool {
	_, ok := readFLMVersions()[checkpoint]
	return ok
}

// Download laedt das Model ueber flm pull in den FLM-eigenen Store.
func (s *flmServer) Download(ctx context.Context, allowUpgrade bool) error {
	s.setState(StateDownloading)

	flmPath, err := findFLM()
	if err != nil {
		s.setState(StateFailed)
		return err
	}
	required, err := checkFLMVersion(ctx, flmPath)
	if err != nil {
		s.setState(StateFailed)
		return err
	}

	// Ein per aelterem FLM gepullter Checkpoint ist nach dem Upgrade
	// nicht mehr kompatibel. Auto-Load darf ihn nicht stillschweigend
	// ueberschreiben, nur ein expliziter Pull (allowUpgrade) darf das.
	if !allowUpgrade {
		if recorded, ok := readFLMVersions()[s.model.Checkpoint]; ok && recorded != required {
			s.setState(StateFailed)
			return fmt.Errorf("Model '%s' was invalidated: checkpoint was pulled with FLM %s but %s is installed. Please download the model again.",
				s.model.Name, recorded, required)
		}
	}

	args := []string{"pull", s.model.Checkpoint}
	if allowUpgrade {
		args = append(args, "--force")
	}

	pullCtx, cancel := context.WithTimeout(ctx, flmPullTimeout)
	defer cancel()

	slog.Info("pulling model with flm", "model", s.model.Name, "checkpoint", s.model.Checkpoint)
	cmd := exec.CommandContext(pullCtx, flmPath, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		s.setState(StateFailed)
		if pullCtx.Err() != nil {
			return fmt.Errorf("flm pull %s: zeitueberschreitung nach %s", s.model.Checkpoint, flmPullTimeout)
		}
		return fmt.Errorf("flm pull %s fehlgeschlagen: %w: %s", s.model.Checkpoint, err, firstLine(output))
	}

	recordFLMVersion(s.model.Checkpoint, required)
	slog.Info("flm pull complete", "checkpoint", s.model.Checkpoint)
	return nil
}

func (s *flmServer) Spawn(ctx context.Context) error {
	flmPath, err := findFLM()
	if err != nil {
		s.setState(StateFailed)
		return err
	}

	if err := s.choosePort(); err != nil {
		s.setState(StateFailed)
		return err
	}

	ctxSize := s.options.CtxSize
	if ctxSize <= 0 {
		ctxSize = int(envconfig.ContextSize())
	}

	args := []string{
		"serve",
		s.model.Checkpoint,
		"--ctx-len", strconv.Itoa(ctxSize),
		"--port", strconv.Itoa(s.port),
	}

	if err := s.startProcess(flmPath, args, nil); err != nil {
		return err
	}
	s.setState(StateStarting)
	return nil
}

// Proxy schreibt das model-Feld auf den Checkpoint um: flm serve kennt
// Modelle nur unter ihrem eigenen Namen (etwa "qwen3:0.6b"), waehrend
// llama-server das Feld ignoriert.
func (s *flmServer) Proxy(ctx context.Context, endpoint string, body []byte) ([]byte, error) {
	return s.wrappedServer.Proxy(ctx, endpoint, s.rewriteModel(endpoint, body))
}

func (s *flmServer) ProxyStream(ctx context.Context, endpoint string, body []byte, sink StreamSink) error {
	return s.wrappedServer.ProxyStream(ctx, endpoint, s.rewriteModel(endpoint, body), sink)
}

func (s *flmServer) rewriteModel(endpoint string, body []byte) []byte {
	if endpoint != EndpointChat {
		return body
	}
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return body
	}
	payload["model"] = s.model.Checkpoint
	rewritten, err := json.Marshal(payload)
	if err != nil {
		return body
	}
	return rewritten
}

// Stop versucht zuerst den sauberen Abschied ueber stdin; FLM gibt
// dabei die NPU-Ressourcen geordnet frei. Erst danach greift die
// SIGTERM/SIGKILL-Staffel der Basis.
func (s *flmServer) Stop() error {
	if s.stdin != nil && s.cmd != nil && s.cmd.ProcessState == nil {
		s.setState(StateStopping)
		if _, err := io.WriteString(s.stdin, "exit\n"); err == nil {
			select {
			case <-s.done:
				slog.Debug("flm exited gracefully", "model", s.model.Name)
				s.setState(StateStopped)
				s.port = 0
				return nil
			case <-time.After(2 * time.Second):
			}
		}
		s.stdin.Close()
	}
	return s.wrappedServer.Stop()
}

// firstLine kuerzt Prozess-Output fuer Fehlermeldungen.
func firstLine(output []byte) string {
	line, _, _ := bytes.Cut(bytes.TrimSpace(output), []byte("\n"))
	return string(line)
}
