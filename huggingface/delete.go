// delete.go - Loeschen von Checkpoints aus dem Cache
//
// Dieses Modul enthaelt:
// - Varianten-selektives Loeschen fuer GGUF-Repos
// - Aufraeumen des Repo-Verzeichnisses, wenn keine Varianten uebrig sind
package huggingface

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Delete entfernt die Dateien eines Checkpoints aus dem Cache. Bei
// GGUF-Varianten fallen nur die Varianten-Dateien weg; das Repo-
// Verzeichnis verschwindet erst, wenn keine .gguf-Datei mehr uebrig
// ist. Alle anderen Checkpoints loeschen das ganze Repo-Verzeichnis.
func Delete(checkpoint, mmproj string) error {
	repo, variant := ParseCheckpoint(checkpoint)
	if err := validateRepo(repo); err != nil {
		return err
	}

	repoDir := RepoCacheDir(repo)
	if _, err := os.Stat(repoDir); errors.Is(err, os.ErrNotExist) {
		return nil
	}

	if !IsGGUF(checkpoint) || variant == "" {
		slog.Info("deleting model cache directory", "repo", repo)
		return os.RemoveAll(repoDir)
	}

	var deleted int
	for _, snapshot := range Snapshots(repo) {
		files := listSnapshotFiles(snapshot)
		mf, err := ResolveVariant(repo, files, variant, mmproj)
		if err != nil {
			continue
		}
		for _, f := range mf.All() {
			p := filepath.Join(snapshot, filepath.FromSlash(f))
			if err := removeFileAndBlob(p); err != nil {
				return fmt.Errorf("loeschen von %s fehlgeschlagen: %w", f, err)
			}
			deleted++
		}
		removeEmptyDirs(snapshot)
	}

	if deleted == 0 {
		slog.Debug("no variant files matched for deletion", "checkpoint", checkpoint)
	}

	// Keine andere Variante mehr vorhanden: das ganze Repo aufraeumen.
	if !repoHasGGUF(repo) {
		slog.Info("no other variants remain, deleting entire repository cache", "repo", repo)
		return os.RemoveAll(repoDir)
	}
	slog.Info("other variants still exist, keeping cache directory", "repo", repo)
	return nil
}

// removeFileAndBlob loescht eine Snapshot-Datei. Zeigt sie als Symlink
// auf einen Blob (huggingface_hub-Layout), verschwindet der Blob mit.
func removeFileAndBlob(path string) error {
	if target, err := os.Readlink(path); err == nil {
		blob := target
		if !filepath.IsAbs(blob) {
			blob = filepath.Join(filepath.Dir(path), target)
		}
		if err := os.Remove(blob); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func repoHasGGUF(repo string) bool {
	for _, snapshot := range Snapshots(repo) {
		for _, f := range listSnapshotFiles(snapshot) {
			if strings.HasSuffix(f, ".gguf") {
				return true
			}
		}
	}
	return false
}

func removeEmptyDirs(root string) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			sub := filepath.Join(root, entry.Name())
			removeEmptyDirs(sub)
			os.Remove(sub) // schlaegt bei nicht-leeren Verzeichnissen fehl
		}
	}
}
