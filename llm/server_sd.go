// server_sd.go - stable-diffusion.cpp Engine (Bild-Generierung)
//
// Diese Datei enthaelt:
// - Installation der sd-server Releases
// - Einbetten der sd.cpp-Sonderparameter in den Prompt
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/lemonade-sdk/lemonade/api"
	"github.com/lemonade-sdk/lemonade/catalog"
	"github.com/lemonade-sdk/lemonade/envconfig"
	"github.com/lemonade-sdk/lemonade/huggingface"
)

// Bild-Generierung braucht deutlich laenger als Text; 10 Minuten
// decken auch grosse Modelle auf CPU ab.
const imageTimeout = 600 * time.Second

type sdServer struct {
	wrappedServer
}

func newSDServer(model catalog.Model, opts api.RecipeOptions) *sdServer {
	s := &sdServer{wrappedServer: newWrappedServer("sd-server", model, opts)}
	// sd-server hat keinen Health-Endpoint, GET / reicht als Probe
	s.readyPaths = []string{"/"}
	s.readyInterval = 500 * time.Millisecond
	return s
}

func (s *sdServer) Spawn(ctx context.Context) error {
	exe, err := installSDServer(ctx)
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

	args := []string{
		"-m", s.local.ModelPath,
		"--listen-port", strconv.Itoa(s.port),
	}
	if envconfig.LogLevel() <= slog.LevelDebug {
		args = append(args, "-v")
	}

	env := map[string]string{}
	if runtime.GOOS != "windows" {
		env["LD_LIBRARY_PATH"] = prependPathList(os.Getenv("LD_LIBRARY_PATH"), filepath.Dir(exe))
	}

	if err := s.startProcess(exe, args, env); err != nil {
		return err
	}
	s.setState(StateStarting)
	return nil
}

// Proxy bettet fuer die Bild-Generierung die sd.cpp-Sonderparameter
// (steps, cfg_scale, seed, sample_method, scheduler) als
// <sd_cpp_extra_args>-Tag in den Prompt ein; sd-server parst sie von
// dort wieder heraus.
func (s *sdServer) Proxy(ctx context.Context, endpoint string, body []byte) ([]byte, error) {
	if endpoint == EndpointImages {
		body = embedSDExtraArgs(body)
		genCtx, cancel := context.WithTimeout(ctx, imageTimeout)
		defer cancel()
		ctx = genCtx
	}
	return s.wrappedServer.Proxy(ctx, endpoint, body)
}

func embedSDExtraArgs(body []byte) []byte {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return body
	}

	extra := map[string]any{}
	for _, key := range []string{"steps", "cfg_scale", "seed", "sample_method", "scheduler"} {
		if v, ok := payload[key]; ok {
			extra[key] = v
		}
	}
	if len(extra) == 0 {
		return body
	}

	extraJSON, err := json.Marshal(extra)
	if err != nil {
		return body
	}
	prompt, _ := payload["prompt"].(string)
	payload["prompt"] = prompt + " <sd_cpp_extra_args>" + string(extraJSON) + "</sd_cpp_extra_args>"

	rewritten, err := json.Marshal(payload)
	if err != nil {
		return body
	}
	slog.Debug("embedded sd extra args", "args", string(extraJSON))
	return rewritten
}

// installSDServer stellt das sd-server-Binary bereit.
func installSDServer(ctx context.Context) (string, error) {
	versions, err := loadBackendVersions()
	if err != nil {
		return "", err
	}
	version := versions.SDCpp
	if version == "" {
		return "", fmt.Errorf("keine sd-cpp-version hinterlegt")
	}

	var filename string
	short := sdShortVersion(version)
	switch runtime.GOOS {
	case "windows":
		filename = fmt.Sprintf("sd-%s-bin-win-avx2-x64.zip", short)
	case "linux":
		filename = fmt.Sprintf("sd-%s-bin-Linux-Ubuntu-24.04-x86_64.zip", short)
	case "darwin":
		filename = fmt.Sprintf("sd-%s-bin-Darwin-macOS-15.7.2-arm64.zip", short)
	default:
		return "", fmt.Errorf("sd-cpp wird auf %s nicht unterstuetzt", runtime.GOOS)
	}

	exe := "sd-server"
	if runtime.GOOS == "windows" {
		exe = "sd-server.exe"
	}

	install := &releaseInstall{
		engine:        "sd-server",
		repo:          "leejet/stable-diffusion.cpp",
		tag:           version,
		filename:      filename,
		dir:           filepath.Join(binDir(), "sd-cpp"),
		version:       version,
		exeCandidates: []string{exe},
	}
	return install.ensure(ctx)
}

// sdShortVersion kuerzt die git-describe-Form master-NNN-HASH auf
// master-HASH, so benennen die Releases ihre Dateien.
func sdShortVersion(version string) string {
	parts := strings.SplitN(version, "-", 3)
	if len(parts) == 3 {
		return parts[0] + "-" + parts[2]
	}
	return version
}
