// checkpoint.go - Checkpoint-Syntax und GGUF-Varianten-Aufloesung
//
// Dieses Modul enthaelt:
// - Parsen der CHECKPOINT:VARIANT-Schreibweise
// - Die Varianten-Regeln: Wildcard, exakte Datei, leer, Suffix, Shard-Ordner
// - Shard-Vollstaendigkeits-Pruefung ueber das -of-N-Namensschema
package huggingface

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"
)

// ErrAmbiguousVariant meldet mehrere Treffer fuer eine Quantisierungs-
// Variante. Das ist ein Konfigurationsfehler, kein Laufzeitproblem.
var ErrAmbiguousVariant = errors.New("ambiguous variant")

// ParseCheckpoint zerlegt "repo[:variant]". GGUF-Checkpoints nutzen die
// Variante fuer die Quantisierung, Whisper fuer den Dateinamen.
func ParseCheckpoint(checkpoint string) (repo, variant string) {
	if repo, variant, ok := strings.Cut(checkpoint, ":"); ok {
		return repo, variant
	}
	return checkpoint, ""
}

// IsGGUF prueft ob ein Checkpoint auf ein GGUF-Repo zeigt.
func IsGGUF(checkpoint string) bool {
	return strings.Contains(strings.ToLower(checkpoint), "gguf")
}

// ModelFiles benennt die Repo-relativen Dateien, die eine Variante
// ausmachen. Bei Shard-Varianten ist Primary die sortiert erste Datei,
// so laedt llama.cpp die restlichen Shards selbst nach.
type ModelFiles struct {
	Primary string
	Shards  []string
	Mmproj  string
}

// All gibt alle Dateien ohne Duplikate zurueck, Primary zuerst.
func (mf ModelFiles) All() []string {
	files := []string{mf.Primary}
	for _, s := range mf.Shards {
		if s != mf.Primary {
			files = append(files, s)
		}
	}
	if mf.Mmproj != "" {
		files = append(files, mf.Mmproj)
	}
	return files
}

// ResolveVariant wendet die Varianten-Regeln auf eine Datei-Liste an.
// Die Liste kann aus der Hub-API oder aus dem lokalen Cache stammen.
func ResolveVariant(repo string, files []string, variant, mmproj string) (ModelFiles, error) {
	var mf ModelFiles

	switch {
	case variant == "*":
		// Wildcard: alle .gguf-Dateien im Repo.
		for _, f := range files {
			if strings.HasSuffix(f, ".gguf") {
				mf.Shards = append(mf.Shards, f)
			}
		}
		if len(mf.Shards) == 0 {
			return mf, fmt.Errorf("no .gguf files found in Hugging Face repository %s", repo)
		}
		sort.Strings(mf.Shards)
		mf.Primary = mf.Shards[0]

	case strings.HasSuffix(variant, ".gguf"):
		// Exakte Datei.
		if !containsFile(files, variant) {
			return mf, fmt.Errorf("file %s not found in Hugging Face repository %s", variant, repo)
		}
		mf.Primary = variant

	case variant == "":
		// Erste .gguf-Datei, mmproj-Dateien ausgenommen.
		for _, f := range files {
			if strings.HasSuffix(f, ".gguf") && !strings.Contains(strings.ToLower(f), "mmproj") {
				mf.Primary = f
				break
			}
		}
		if mf.Primary == "" {
			return mf, fmt.Errorf("no .gguf files found in Hugging Face repository %s", repo)
		}

	default:
		// Quantisierungs-Suffix, z.B. Q4_K_M.
		suffix := strings.ToLower(variant) + ".gguf"
		var matches []string
		for _, f := range files {
			lower := strings.ToLower(f)
			if strings.HasSuffix(lower, suffix) && !strings.Contains(lower, "mmproj") {
				matches = append(matches, f)
			}
		}

		switch len(matches) {
		case 1:
			mf.Primary = matches[0]
		case 0:
			// Shard-Ordner mit dem Varianten-Namen.
			prefix := strings.ToLower(variant) + "/"
			for _, f := range files {
				if strings.HasSuffix(f, ".gguf") && strings.HasPrefix(strings.ToLower(f), prefix) {
					mf.Shards = append(mf.Shards, f)
				}
			}
			if len(mf.Shards) == 0 {
				return mf, fmt.Errorf("no .gguf files found for variant %s", variant)
			}
			sort.Strings(mf.Shards)
			mf.Primary = mf.Shards[0]
		default:
			sort.Strings(matches)
			return mf, fmt.Errorf("%w: multiple .gguf files found for variant %s, but only one is allowed: %s",
				ErrAmbiguousVariant, variant, strings.Join(matches, ", "))
		}
	}

	if mmproj != "" {
		if !containsFile(files, mmproj) {
			return mf, fmt.Errorf("the provided mmproj file %s was not found in %s", mmproj, repo)
		}
		mf.Mmproj = mmproj
	}

	return mf, nil
}

func containsFile(files []string, name string) bool {
	for _, f := range files {
		if f == name {
			return true
		}
	}
	return false
}

var shardPattern = regexp.MustCompile(`^(.*)-(\d{5})-of-(\d{5})\.gguf$`)

// shardComplete prueft ueber das -NNNNN-of-NNNNN-Schema, ob alle Shards
// einer Gruppe vorhanden sind. Teilkopien gelten als nicht vorhanden.
func shardComplete(files []string) bool {
	groups := make(map[string]map[string]bool)
	expected := make(map[string]int)

	for _, f := range files {
		m := shardPattern.FindStringSubmatch(path.Base(f))
		if m == nil {
			continue
		}
		key := path.Dir(f) + "/" + m[1]
		if groups[key] == nil {
			groups[key] = make(map[string]bool)
		}
		groups[key][m[2]] = true

		var total int
		fmt.Sscanf(m[3], "%d", &total)
		expected[key] = total
	}

	for key, seen := range groups {
		if len(seen) != expected[key] {
			return false
		}
	}
	return true
}
