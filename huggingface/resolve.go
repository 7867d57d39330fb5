// resolve.go - Lokale Aufloesung ohne Netzwerk
//
// Dieses Modul enthaelt:
// - ResolveLocal: Checkpoint zu konkreten Dateipfaden im Cache
// - Vollstaendigkeits-Regeln: fehlende Shards gelten als nicht vorhanden
package huggingface

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotCached meldet, dass der Checkpoint lokal nicht (vollstaendig)
// vorliegt und ein Download noetig ist.
var ErrNotCached = errors.New("model not in cache")

// LocalModel sind die aufgeloesten Pfade eines Checkpoints, fertig fuer
// die Uebergabe an einen Engine-Prozess.
type LocalModel struct {
	SnapshotDir string
	ModelPath   string   // Hauptdatei, bei Snapshot-Modellen das Verzeichnis
	ShardPaths  []string // alle Shards inklusive Hauptdatei, falls geshardet
	MmprojPath  string
}

// ResolveLocal loest einen Checkpoint gegen den lokalen Cache auf, ohne
// Netzwerk-Zugriff. Teilkopien (fehlende Shards) gelten als abwesend.
func ResolveLocal(checkpoint, mmproj string) (*LocalModel, error) {
	// Direkter Datei- oder Verzeichnispfad.
	if _, err := os.Stat(checkpoint); err == nil {
		lm := &LocalModel{SnapshotDir: filepath.Dir(checkpoint), ModelPath: checkpoint}
		if mmproj != "" {
			candidate := filepath.Join(filepath.Dir(checkpoint), mmproj)
			if _, err := os.Stat(candidate); err == nil {
				lm.MmprojPath = candidate
			}
		}
		return lm, nil
	}

	repo, variant := ParseCheckpoint(checkpoint)
	if err := validateRepo(repo); err != nil {
		return nil, ErrNotCached
	}

	for _, snapshot := range Snapshots(repo) {
		files := listSnapshotFiles(snapshot)
		if len(files) == 0 {
			continue
		}

		if IsGGUF(checkpoint) {
			mf, err := ResolveVariant(repo, files, variant, mmproj)
			if err != nil {
				if errors.Is(err, ErrAmbiguousVariant) {
					return nil, err
				}
				continue
			}
			if !shardComplete(mf.Shards) {
				continue
			}
			return localModelFromFiles(snapshot, mf), nil
		}

		if variant != "" {
			// Einzeldatei-Checkpoint, z.B. Whisper ggml-base.bin.
			if containsFile(files, variant) {
				lm := &LocalModel{SnapshotDir: snapshot, ModelPath: filepath.Join(snapshot, variant)}
				if mmproj != "" && containsFile(files, mmproj) {
					lm.MmprojPath = filepath.Join(snapshot, mmproj)
				}
				return lm, nil
			}
			continue
		}

		// Kompletter Snapshot: das Engine bekommt das Verzeichnis.
		return &LocalModel{SnapshotDir: snapshot, ModelPath: snapshot}, nil
	}

	return nil, ErrNotCached
}

// IsDownloaded prueft ob ein Checkpoint vollstaendig im Cache liegt.
func IsDownloaded(checkpoint, mmproj string) bool {
	_, err := ResolveLocal(checkpoint, mmproj)
	return err == nil
}

func localModelFromFiles(snapshot string, mf ModelFiles) *LocalModel {
	lm := &LocalModel{
		SnapshotDir: snapshot,
		ModelPath:   filepath.Join(snapshot, filepath.FromSlash(mf.Primary)),
	}
	for _, s := range mf.Shards {
		lm.ShardPaths = append(lm.ShardPaths, filepath.Join(snapshot, filepath.FromSlash(s)))
	}
	if mf.Mmproj != "" {
		lm.MmprojPath = filepath.Join(snapshot, filepath.FromSlash(mf.Mmproj))
	}
	return lm
}

// listSnapshotFiles listet alle Dateien eines Snapshots relativ zum
// Snapshot-Verzeichnis, mit Vorwaerts-Schraegstrichen wie in der Hub-API.
func listSnapshotFiles(snapshot string) []string {
	var files []string
	filepath.Walk(snapshot, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(snapshot, path)
		if err != nil {
			return nil
		}
		if strings.HasSuffix(rel, ".download") {
			return nil
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	return files
}
