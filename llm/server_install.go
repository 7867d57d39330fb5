// server_install.go - Installation der Engine-Binaries
//
// Diese Datei enthaelt:
// - backend_versions.json: eingebettete Soll-Versionen aller Engines
// - releaseInstall: Download + Entpacken eines GitHub-Release-Assets
// - Versions-Stempel (version.txt/backend.txt) fuer Upgrade-Erkennung
// - Zip- und Tarball-Entpacker
package llm

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/lemonade-sdk/lemonade/envconfig"
	"github.com/lemonade-sdk/lemonade/huggingface"
)

//go:embed backend_versions.json
var backendVersionsJSON []byte

// backendVersions sind die Soll-Versionen, gegen die installierte
// Binaries geprueft werden. Ein Mismatch loest eine Neuinstallation aus.
type backendVersions struct {
	LlamaCpp   map[string]string `json:"llamacpp"`
	WhisperCpp string            `json:"whispercpp"`
	SDCpp      string            `json:"sd-cpp"`
	Kokoro     map[string]string `json:"kokoro"`
	FLM        struct {
		Version      string `json:"version"`
		MinNPUDriver string `json:"min_npu_driver"`
	} `json:"flm"`
}

var loadBackendVersions = sync.OnceValues(func() (backendVersions, error) {
	var v backendVersions
	if err := json.Unmarshal(backendVersionsJSON, &v); err != nil {
		return v, fmt.Errorf("backend_versions.json lesen: %w", err)
	}
	return v, nil
})

// binDir ist das Wurzelverzeichnis fuer heruntergeladene Engine-Binaries.
func binDir() string {
	return filepath.Join(envconfig.CacheDir(), "bin")
}

const minArchiveSize = 1024 * 1024

// releaseInstall beschreibt eine Engine-Installation aus einem
// GitHub-Release-Asset.
type releaseInstall struct {
	engine   string
	repo     string
	tag      string
	filename string
	dir      string
	version  string
	backend  string

	// Relative Pfade, unter denen das Binary nach dem Entpacken
	// gesucht wird, in Prioritaetsreihenfolge.
	exeCandidates []string
}

// ensure prueft die vorhandene Installation und installiert bei Bedarf
// neu. Gibt den Pfad zum Binary zurueck.
func (r *releaseInstall) ensure(ctx context.Context) (string, error) {
	if exe := findExecutable(r.dir, r.exeCandidates); exe != "" {
		installed, installedBackend := readInstallStamp(r.dir)
		if installed == r.version && (r.backend == "" || installedBackend == r.backend) {
			slog.Debug("engine binary already installed", "engine", r.engine, "path", exe, "version", installed)
			return exe, nil
		}
		slog.Info("upgrading engine binary", "engine", r.engine, "from", installed, "to", r.version)
		if err := os.RemoveAll(r.dir); err != nil {
			return "", fmt.Errorf("alte installation entfernen: %w", err)
		}
	}
	return r.install(ctx)
}

func (r *releaseInstall) install(ctx context.Context) (string, error) {
	slog.Info("installing engine binary", "engine", r.engine, "version", r.version, "backend", r.backend)

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return "", fmt.Errorf("installationsverzeichnis erstellen: %w", err)
	}

	url := fmt.Sprintf("https://github.com/%s/releases/download/%s/%s", r.repo, r.tag, r.filename)
	archive, err := downloadArchive(ctx, url, r.filename)
	if err != nil {
		return "", err
	}

	if err := extractArchive(archive, r.dir); err != nil {
		os.Remove(archive)
		os.RemoveAll(r.dir)
		return "", fmt.Errorf("archiv entpacken: %w", err)
	}

	exe := findExecutable(r.dir, r.exeCandidates)
	if exe == "" {
		os.Remove(archive)
		os.RemoveAll(r.dir)
		return "", fmt.Errorf("binary nach entpacken nicht gefunden in %s", r.dir)
	}

	if runtime.GOOS != "windows" {
		if err := os.Chmod(exe, 0o755); err != nil {
			return "", fmt.Errorf("binary ausfuehrbar machen: %w", err)
		}
	}

	if err := writeInstallStamp(r.dir, r.version, r.backend); err != nil {
		return "", err
	}

	os.Remove(archive)
	slog.Info("engine binary installed", "engine", r.engine, "path", exe)
	return exe, nil
}

// readInstallStamp liest version.txt und backend.txt einer Installation.
func readInstallStamp(dir string) (version, backend string) {
	if b, err := os.ReadFile(filepath.Join(dir, "version.txt")); err == nil {
		version = strings.TrimSpace(string(b))
	}
	if b, err := os.ReadFile(filepath.Join(dir, "backend.txt")); err == nil {
		backend = strings.TrimSpace(string(b))
	}
	return version, backend
}

func writeInstallStamp(dir, version, backend string) error {
	if err := os.WriteFile(filepath.Join(dir, "version.txt"), []byte(version), 0o644); err != nil {
		return fmt.Errorf("version.txt schreiben: %w", err)
	}
	if backend != "" {
		if err := os.WriteFile(filepath.Join(dir, "backend.txt"), []byte(backend), 0o644); err != nil {
			return fmt.Errorf("backend.txt schreiben: %w", err)
		}
	}
	return nil
}

// findExecutable sucht das Binary unter den Kandidaten-Pfaden relativ
// zum Installationsverzeichnis.
func findExecutable(dir string, candidates []string) string {
	for _, rel := range candidates {
		p := filepath.Join(dir, filepath.FromSlash(rel))
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p
		}
	}
	return ""
}

const (
	archiveRetries    = 3
	archiveRetryDelay = 2 * time.Second
)

// downloadArchive laedt ein Release-Asset ins HF-Cache-Verzeichnis.
// Dateien unter 1 MB gelten als abgebrochener Download und werden
// verworfen.
func downloadArchive(ctx context.Context, url, filename string) (string, error) {
	cacheDir := huggingface.GetCacheDir()
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return "", fmt.Errorf("cache-verzeichnis erstellen: %w", err)
	}
	target := filepath.Join(cacheDir, filename)

	slog.Info("downloading engine archive", "url", url, "target", target)

	var lastErr error
	for attempt := 0; attempt < archiveRetries; attempt++ {
		if attempt > 0 {
			slog.Warn("retrying archive download", "url", url, "attempt", attempt+1, "error", lastErr)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(archiveRetryDelay):
			}
		}
		if err := fetchToFile(ctx, url, target); err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			lastErr = err
			continue
		}

		info, err := os.Stat(target)
		if err != nil {
			lastErr = err
			continue
		}
		if info.Size() < minArchiveSize {
			os.Remove(target)
			lastErr = fmt.Errorf("archiv zu klein (%d bytes), download vermutlich unvollstaendig", info.Size())
			continue
		}
		return target, nil
	}
	return "", fmt.Errorf("download von %s fehlgeschlagen: %w", url, lastErr)
}

func fetchToFile(ctx context.Context, url, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unerwarteter status %s", resp.Status)
	}

	tmp := target + ".download"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}

	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, target)
}

// extractArchive entpackt nach Dateiendung: .tar.gz als Tarball mit
// abgeschnittener oberster Verzeichnisebene, sonst als Zip.
func extractArchive(archive, dest string) error {
	if strings.HasSuffix(archive, ".tar.gz") {
		return extractTarball(archive, dest)
	}
	return extractZip(archive, dest)
}

func extractZip(archive, dest string) error {
	r, err := zip.OpenReader(archive)
	if err != nil {
		return err
	}
	defer r.Close()

	for _, f := range r.File {
		target, err := safeJoin(dest, f.Name)
		if err != nil {
			return err
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}

		src, err := f.Open()
		if err != nil {
			return err
		}
		dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode().Perm()|0o600)
		if err != nil {
			src.Close()
			return err
		}
		_, err = io.Copy(dst, src)
		src.Close()
		if cerr := dst.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// extractTarball entpackt ein .tar.gz und entfernt dabei die oberste
// Verzeichnisebene, entsprechend tar --strip-components=1.
func extractTarball(archive, dest string) error {
	f, err := os.Open(archive)
	if err != nil {
		return err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		name := stripFirstComponent(hdr.Name)
		if name == "" {
			continue
		}
		target, err := safeJoin(dest, name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, os.FileMode(hdr.Mode).Perm()|0o600)
			if err != nil {
				return err
			}
			_, err = io.Copy(dst, tr)
			if cerr := dst.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return err
			}
		case tar.TypeSymlink:
			os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return err
			}
		}
	}
}

func stripFirstComponent(name string) string {
	name = strings.TrimPrefix(name, "./")
	if i := strings.IndexByte(name, '/'); i >= 0 {
		return name[i+1:]
	}
	return ""
}

// safeJoin verbindet Basis und relativen Pfad und weist Eintraege ab,
// die aus dem Zielverzeichnis ausbrechen.
func safeJoin(base, rel string) (string, error) {
	target := filepath.Join(base, filepath.FromSlash(rel))
	if !strings.HasPrefix(target, filepath.Clean(base)+string(os.PathSeparator)) {
		return "", fmt.Errorf("unzulaessiger pfad im archiv: %s", rel)
	}
	return target, nil
}
