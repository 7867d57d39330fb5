// cache_test.go - Tests fuer Cache-Layout und Verzeichnis-Aufloesung
package huggingface

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGetCacheDir(t *testing.T) {
	t.Run("HF_HUB_CACHE hat vorrang", func(t *testing.T) {
		t.Setenv("HF_HUB_CACHE", "/custom/hub")
		t.Setenv("HF_HOME", "/custom/hf-home")
		if got := GetCacheDir(); got != "/custom/hub" {
			t.Errorf("GetCacheDir() = %q, erwartet %q", got, "/custom/hub")
		}
	})

	t.Run("HF_HOME als fallback", func(t *testing.T) {
		t.Setenv("HF_HUB_CACHE", "")
		t.Setenv("HF_HOME", "/custom/hf-home")
		want := filepath.Join("/custom/hf-home", "hub")
		if got := GetCacheDir(); got != want {
			t.Errorf("GetCacheDir() = %q, erwartet %q", got, want)
		}
	})

	t.Run("default unter .cache", func(t *testing.T) {
		t.Setenv("HF_HUB_CACHE", "")
		t.Setenv("HF_HOME", "")
		t.Setenv("XDG_CACHE_HOME", "/xdg-cache")
		want := filepath.Join("/xdg-cache", "huggingface", "hub")
		if got := GetCacheDir(); got != want {
			t.Errorf("GetCacheDir() = %q, erwartet %q", got, want)
		}
	})
}

func TestRepoCacheName(t *testing.T) {
	cases := []struct {
		repo string
		dir  string
	}{
		{"unsloth/Qwen3-0.6B-GGUF", "models--unsloth--Qwen3-0.6B-GGUF"},
		{"ggerganov/whisper.cpp", "models--ggerganov--whisper.cpp"},
	}

	for _, tt := range cases {
		t.Run(tt.repo, func(t *testing.T) {
			if got := repoToCacheName(tt.repo); got != tt.dir {
				t.Errorf("repoToCacheName(%q) = %q, erwartet %q", tt.repo, got, tt.dir)
			}
			if got := cacheNameToRepo(tt.dir); got != tt.repo {
				t.Errorf("cacheNameToRepo(%q) = %q, erwartet %q", tt.dir, got, tt.repo)
			}
		})
	}
}

func TestSnapshots(t *testing.T) {
	cache := t.TempDir()
	t.Setenv("HF_HUB_CACHE", cache)

	repo := "org/model"
	snapshot := filepath.Join(cache, "models--org--model", "snapshots", "main")
	if err := os.MkdirAll(snapshot, 0o755); err != nil {
		t.Fatal(err)
	}
	commitSnapshot := filepath.Join(cache, "models--org--model", "snapshots", "abc123def")
	if err := os.MkdirAll(commitSnapshot, 0o755); err != nil {
		t.Fatal(err)
	}

	dirs := Snapshots(repo)
	if len(dirs) != 2 {
		t.Fatalf("Snapshots() = %d Verzeichnisse, erwartet 2", len(dirs))
	}

	if got := SnapshotDir(repo); got != snapshot {
		t.Errorf("SnapshotDir() = %q, erwartet %q", got, snapshot)
	}
}

func TestListCachedRepos(t *testing.T) {
	cache := t.TempDir()
	t.Setenv("HF_HUB_CACHE", cache)

	for _, dir := range []string{"models--org--model-a", "models--org--model-b", "datasets--foo--bar"} {
		if err := os.MkdirAll(filepath.Join(cache, dir), 0o755); err != nil {
			t.Fatal(err)
		}
	}

	repos := ListCachedRepos()
	if len(repos) != 2 {
		t.Fatalf("ListCachedRepos() = %v, erwartet 2 Eintraege", repos)
	}
}
