// server_llamacpp.go - llama.cpp Engine
//
// Diese Datei enthaelt:
// - Installation der llama-server Releases je Backend (vulkan/rocm/metal/cpu)
// - Argument-Aufbau mit reservierten und ueberschreibbaren Flags
// - Validierung benutzerdefinierter llamacpp_args
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"
	"strings"

	"github.com/lemonade-sdk/lemonade/api"
	"github.com/lemonade-sdk/lemonade/catalog"
	"github.com/lemonade-sdk/lemonade/discover"
	"github.com/lemonade-sdk/lemonade/envconfig"
	"github.com/lemonade-sdk/lemonade/huggingface"
)

// Embedding-Requests buendeln mehrere Strings, jeder einzelne muss ins
// Context-Fenster passen. Darum bekommt ein Embedding-Model mindestens
// diese Context-Groesse.
const embeddingCtxSize = 8192

type llamaCppServer struct {
	wrappedServer
}

func newLlamaCppServer(model catalog.Model, opts api.RecipeOptions) *llamaCppServer {
	s := &llamaCppServer{wrappedServer: newWrappedServer("llama-server", model, opts)}
	return s
}

// resolvedBackend gibt das effektive llama.cpp-Backend zurueck:
// Model-Option vor globaler Auswahl.
func (s *llamaCppServer) resolvedBackend() string {
	if s.options.LlamaCppBackend != "" {
		return s.options.LlamaCppBackend
	}
	return discover.DefaultLlamaBackend()
}

func (s *llamaCppServer) resolvedCtxSize() int {
	ctx := s.options.CtxSize
	if ctx <= 0 {
		ctx = int(envconfig.ContextSize())
	}
	if s.model.Type() == catalog.TypeEmbedding && ctx < embeddingCtxSize {
		ctx = embeddingCtxSize
	}
	return ctx
}

func (s *llamaCppServer) Spawn(ctx context.Context) error {
	backend := s.resolvedBackend()

	exe, err := installLlamaServer(ctx, backend)
	if err != nil {
		s.setState(StateFailed)
		return err
	}

	if s.local == nil {
		local, err := huggingface.ResolveLocal(s.model.Checkpoint, s.model.Mmproj)
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

	args, err := s.buildArgs(backend)
	if err != nil {
		s.setState(StateFailed)
		return err
	}

	env := map[string]string{}
	if backend == "rocm" {
		if runtime.GOOS == "windows" {
			if rocmTargetArch() == "gfx1151" {
				// erlaubt groessere Modelle auf STX-Halo-iGPUs
				env["OCL_SET_SVM_SIZE"] = "262144"
			}
		} else {
			env["LD_LIBRARY_PATH"] = prependPathList(os.Getenv("LD_LIBRARY_PATH"), filepath.Dir(exe))
		}
	}

	if err := s.startProcess(exe, args, env); err != nil {
		return err
	}
	s.setState(StateStarting)
	return nil
}

// buildArgs baut die llama-server-Kommandozeile. Von Lemonade gesetzte
// Flags sind reserviert, einige Tuning-Flags duerfen die llamacpp_args
// ueberschreiben.
func (s *llamaCppServer) buildArgs(backend string) ([]string, error) {
	custom := s.options.LlamaCppArgs
	useGPU := backend != "cpu"
	modelType := s.model.Type()

	var b argBuilder
	b.add("-m", s.local.ModelPath)
	b.add("--ctx-size", strconv.Itoa(s.resolvedCtxSize()))
	b.add("--port", strconv.Itoa(s.port))
	b.add("--jinja")

	if s.local.MmprojPath != "" {
		b.add("--mmproj", s.local.MmprojPath)
		if !useGPU {
			b.add("--no-mmproj-offload")
		}
	}

	// Context-Shift gibt es nicht auf Metal
	if backend == "vulkan" || backend == "rocm" {
		b.addOverridable(custom, "--context-shift")
	}
	b.addOverridable(custom, "--keep", "16")
	b.addOverridable(custom, "--reasoning-format", "auto")

	if modelType == catalog.TypeEmbedding {
		b.add("--embeddings")
	}
	if modelType == catalog.TypeReranking {
		b.add("--reranking")
	}

	if useGPU {
		b.add("-ngl", "99")
	} else {
		b.add("-ngl", "0")
	}

	if custom != "" {
		customArgs := splitArgs(custom)
		if err := validateCustomArgs(customArgs, b.reserved); err != nil {
			return nil, err
		}
		slog.Debug("adding custom llama-server arguments", "model", s.model.Name, "args", customArgs)
		b.args = append(b.args, customArgs...)
	}

	return b.args, nil
}

// argBuilder sammelt Argumente und die Menge der reservierten Flags.
type argBuilder struct {
	args     []string
	reserved []string
}

func (b *argBuilder) add(flag string, values ...string) {
	b.args = append(b.args, flag)
	b.args = append(b.args, values...)
	b.reserved = append(b.reserved, flag)
}

// addOverridable setzt ein Flag nur, wenn die benutzerdefinierten Args
// es nicht selbst fuehren. Boolesche Flags zaehlen auch in ihrer
// --no-Variante als gefuehrt.
func (b *argBuilder) addOverridable(custom, flag string, values ...string) {
	if strings.Contains(custom, flag) {
		return
	}
	if len(values) == 0 && strings.Contains(custom, "--no-"+strings.TrimPrefix(flag, "--")) {
		return
	}
	b.args = append(b.args, flag)
	b.args = append(b.args, values...)
}

// splitArgs zerlegt einen llamacpp_args-String in Tokens. Einfache und
// doppelte Anfuehrungszeichen gruppieren Werte mit Leerzeichen.
func splitArgs(s string) []string {
	var result []string
	var current strings.Builder
	var quote byte

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote == 0 && (c == '"' || c == '\''):
			quote = c
		case quote != 0 && c == quote:
			quote = 0
		case quote == 0 && c == ' ':
			if current.Len() > 0 {
				result = append(result, current.String())
				current.Reset()
			}
		default:
			current.WriteByte(c)
		}
	}
	if current.Len() > 0 {
		result = append(result, current.String())
	}
	return result
}

// validateCustomArgs weist benutzerdefinierte Flags ab, die Lemonade
// selbst verwaltet. Der Wortlaut der Meldung ist Teil des API-Vertrags.
func validateCustomArgs(args, reserved []string) error {
	for _, arg := range args {
		flag, _, _ := strings.Cut(arg, "=")
		if flag == "" || flag[0] != '-' {
			continue
		}
		if slices.Contains(reserved, flag) {
			sorted := slices.Clone(reserved)
			slices.Sort(sorted)
			return fmt.Errorf("Argument '%s' is managed by Lemonade and cannot be overridden.\nReserved arguments: %s",
				flag, strings.Join(sorted, ", "))
		}
	}
	return nil
}

// installLlamaServer stellt das llama-server-Binary fuer ein Backend
// bereit. LEMONADE_LLAMACPP_<BACKEND>_BIN verweist auf ein externes
// Binary und ueberspringt die verwaltete Installation.
func installLlamaServer(ctx context.Context, backend string) (string, error) {
	if exe := externalLlamaServer(backend); exe != "" {
		slog.Info("using external llama-server", "backend", backend, "path", exe)
		return exe, nil
	}

	versions, err := loadBackendVersions()
	if err != nil {
		return "", err
	}
	version, ok := versions.LlamaCpp[backend]
	if !ok {
		return "", fmt.Errorf("keine llama.cpp-version fuer backend %q hinterlegt", backend)
	}

	repo := "ggml-org/llama.cpp"
	var filename string
	switch backend {
	case "rocm":
		repo = "lemonade-sdk/llamacpp-rocm"
		arch := rocmTargetArch()
		slog.Info("detected rocm architecture", "arch", arch)
		switch runtime.GOOS {
		case "windows":
			filename = fmt.Sprintf("llama-%s-windows-rocm-%s-x64.zip", version, arch)
		case "linux":
			filename = fmt.Sprintf("llama-%s-ubuntu-rocm-%s-x64.zip", version, arch)
		default:
			return "", fmt.Errorf("backend rocm wird auf %s nicht unterstuetzt", runtime.GOOS)
		}
	case "metal":
		if runtime.GOOS != "darwin" {
			return "", fmt.Errorf("backend metal wird auf %s nicht unterstuetzt", runtime.GOOS)
		}
		filename = fmt.Sprintf("llama-%s-bin-macos-arm64.tar.gz", version)
	case "cpu":
		switch runtime.GOOS {
		case "windows":
			filename = fmt.Sprintf("llama-%s-bin-win-cpu-x64.zip", version)
		case "linux":
			filename = fmt.Sprintf("llama-%s-bin-ubuntu-x64.tar.gz", version)
		default:
			return "", fmt.Errorf("backend cpu wird auf %s nicht unterstuetzt", runtime.GOOS)
		}
	case "vulkan":
		switch runtime.GOOS {
		case "windows":
			filename = fmt.Sprintf("llama-%s-bin-win-vulkan-x64.zip", version)
		case "linux":
			filename = fmt.Sprintf("llama-%s-bin-ubuntu-vulkan-x64.tar.gz", version)
		default:
			return "", fmt.Errorf("backend vulkan wird auf %s nicht unterstuetzt", runtime.GOOS)
		}
	default:
		return "", fmt.Errorf("unbekanntes llama.cpp-backend: %s", backend)
	}

	install := &releaseInstall{
		engine:        "llama-server",
		repo:          repo,
		tag:           version,
		filename:      filename,
		dir:           filepath.Join(binDir(), "llama", backend),
		version:       version,
		backend:       backend,
		exeCandidates: llamaExeCandidates(),
	}
	return install.ensure(ctx)
}

// externalLlamaServer prueft LEMONADE_LLAMACPP_<BACKEND>_BIN.
func externalLlamaServer(backend string) string {
	path := os.Getenv("LEMONADE_LLAMACPP_" + strings.ToUpper(backend) + "_BIN")
	if path == "" {
		return ""
	}
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

// llamaExeCandidates: offizielle Releases packen nach build/bin, die
// ROCm-Builds legen das Binary direkt ins Wurzelverzeichnis.
func llamaExeCandidates() []string {
	if runtime.GOOS == "windows" {
		return []string{"llama-server.exe"}
	}
	return []string{"build/bin/llama-server", "llama-server", "bin/llama-server"}
}

// rocmTargetArch waehlt die ROCm-Architektur-Familie; ohne erkannte
// GPU bleibt gfx110X als breitester Build.
func rocmTargetArch() string {
	if arch := discover.Probe().RocmArch(); arch != "" {
		return arch
	}
	return "gfx110X"
}
