// cache.go - Layout des Hugging-Face-Caches
//
// Dieses Modul enthaelt:
// - Aufloesung des Cache-Verzeichnisses (HF_HUB_CACHE, HF_HOME, Default)
// - Pfad-Konvention models--<org>--<repo>/snapshots/<revision>
// - Groessen-Berechnung fuer das Model-Listing
package huggingface

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	CacheSnapshotDir = "snapshots"
	CacheModelPrefix = "models--"

	// DefaultRevision ist der Snapshot-Name, unter dem dieser Downloader
	// Dateien ablegt. Python huggingface_hub legt Commit-Hashes an, beide
	// Layouts werden beim lokalen Aufloesen durchsucht.
	DefaultRevision = "main"
)

// GetCacheDir gibt das Hub-Cache-Verzeichnis zurueck. Die Prioritaet
// entspricht huggingface_hub: HF_HUB_CACHE, dann HF_HOME/hub, dann
// ~/.cache/huggingface/hub.
func GetCacheDir() string {
	if cacheDir := os.Getenv("HF_HUB_CACHE"); cacheDir != "" {
		return cacheDir
	}
	if hfHome := os.Getenv("HF_HOME"); hfHome != "" {
		return filepath.Join(hfHome, "hub")
	}
	return defaultCacheDir()
}

func defaultCacheDir() string {
	var baseDir string
	if xdgCache := os.Getenv("XDG_CACHE_HOME"); xdgCache != "" {
		baseDir = xdgCache
	} else if home, err := os.UserHomeDir(); err == nil {
		baseDir = filepath.Join(home, ".cache")
	} else {
		baseDir = filepath.Join(os.TempDir(), "huggingface_cache")
	}
	return filepath.Join(baseDir, "huggingface", "hub")
}

// RepoCacheDir gibt das Cache-Verzeichnis eines Repos zurueck, z.B.
// <cache>/models--unsloth--Qwen3-0.6B-GGUF.
func RepoCacheDir(repo string) string {
	return filepath.Join(GetCacheDir(), repoToCacheName(repo))
}

// SnapshotDir gibt das Snapshot-Verzeichnis zurueck, in das dieser
// Downloader schreibt.
func SnapshotDir(repo string) string {
	return filepath.Join(RepoCacheDir(repo), CacheSnapshotDir, DefaultRevision)
}

// Snapshots listet alle vorhandenen Snapshot-Verzeichnisse eines Repos,
// egal welches Werkzeug sie angelegt hat.
func Snapshots(repo string) []string {
	snapshotRoot := filepath.Join(RepoCacheDir(repo), CacheSnapshotDir)
	entries, err := os.ReadDir(snapshotRoot)
	if err != nil {
		return nil
	}

	var dirs []string
	for _, entry := range entries {
		if entry.IsDir() {
			dirs = append(dirs, filepath.Join(snapshotRoot, entry.Name()))
		}
	}
	return dirs
}

// RepoSize berechnet die Groesse eines Repos im Cache in Bytes.
// Symlinks auf Blobs zaehlen ueber die Blob-Groesse.
func RepoSize(repo string) int64 {
	var size int64
	filepath.Walk(RepoCacheDir(repo), func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.Mode().IsRegular() {
			size += info.Size()
		}
		return nil
	})
	return size
}

// ListCachedRepos gibt die Repo-IDs aller Eintraege im Cache zurueck.
func ListCachedRepos() []string {
	entries, err := os.ReadDir(GetCacheDir())
	if err != nil {
		return nil
	}

	var repos []string
	for _, entry := range entries {
		if entry.IsDir() && strings.HasPrefix(entry.Name(), CacheModelPrefix) {
			repos = append(repos, cacheNameToRepo(entry.Name()))
		}
	}
	return repos
}

func repoToCacheName(repo string) string {
	return CacheModelPrefix + strings.ReplaceAll(repo, "/", "--")
}

func cacheNameToRepo(name string) string {
	return strings.Replace(strings.TrimPrefix(name, CacheModelPrefix), "--", "/", 1)
}
