// download_test.go - Tests fuer den Checkpoint-Download
package huggingface

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestDownloadFetchesShardsInParallel(t *testing.T) {
	t.Setenv("HF_HUB_CACHE", t.TempDir())

	const repo = "org/tiny-GGUF"
	shards := []string{
		"tiny-00001-of-00004.gguf",
		"tiny-00002-of-00004.gguf",
		"tiny-00003-of-00004.gguf",
		"tiny-00004-of-00004.gguf",
	}
	payload := strings.Repeat("x", 64)

	var (
		mu          sync.Mutex
		inFlight    int
		maxInFlight int
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/models/", func(w http.ResponseWriter, r *http.Request) {
		info := APIModelInfo{ID: repo}
		for _, s := range shards {
			info.Siblings = append(info.Siblings, APISibling{Filename: s, Size: int64(len(payload))})
		}
		json.NewEncoder(w).Encode(info)
	})
	mux.HandleFunc("/org/tiny-GGUF/resolve/main/", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()

		// Haelt die Verbindung kurz offen, damit sich die Fetches
		// ueberlappen muessen.
		time.Sleep(30 * time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()
		fmt.Fprint(w, payload)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	c := NewClient(WithBaseURL(ts.URL))

	var events []Progress
	lm, err := c.Download(t.Context(), repo+":*", "", WithProgress(func(p Progress) {
		events = append(events, p)
	}))
	if err != nil {
		t.Fatalf("Download() fehlgeschlagen: %v", err)
	}

	if len(lm.ShardPaths) != len(shards) {
		t.Fatalf("ShardPaths = %d, erwartet %d", len(lm.ShardPaths), len(shards))
	}
	for _, s := range shards {
		stat, err := os.Stat(filepath.Join(lm.SnapshotDir, s))
		if err != nil {
			t.Fatalf("shard %s fehlt: %v", s, err)
		}
		if stat.Size() != int64(len(payload)) {
			t.Errorf("shard %s hat %d bytes, erwartet %d", s, stat.Size(), len(payload))
		}
	}

	mu.Lock()
	got := maxInFlight
	mu.Unlock()
	if got < 2 {
		t.Errorf("maxInFlight = %d, die Dateien wurden nicht parallel geladen", got)
	}

	if len(events) == 0 || !events[len(events)-1].Complete {
		t.Errorf("letztes Progress-Event ist nicht Complete: %+v", events)
	}
}

func TestDownloadAbortsRemainingFilesOnError(t *testing.T) {
	t.Setenv("HF_HUB_CACHE", t.TempDir())

	const repo = "org/broken-GGUF"
	shards := []string{
		"broken-00001-of-00002.gguf",
		"broken-00002-of-00002.gguf",
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/models/", func(w http.ResponseWriter, r *http.Request) {
		info := APIModelInfo{ID: repo}
		for _, s := range shards {
			info.Siblings = append(info.Siblings, APISibling{Filename: s, Size: 8})
		}
		json.NewEncoder(w).Encode(info)
	})
	mux.HandleFunc("/org/broken-GGUF/resolve/main/", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, shards[0]) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprint(w, "12345678")
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	c := NewClient(WithBaseURL(ts.URL))
	if _, err := c.Download(t.Context(), repo+":*", ""); err == nil {
		t.Fatal("Download() sollte fehlschlagen, wenn ein Shard fehlt")
	}
}
