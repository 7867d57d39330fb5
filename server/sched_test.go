// sched_test.go - Tests fuer den Scheduler
//
// Diese Datei enthaelt:
// - fakeServer: Wrapped-Server-Attrappe ohne echte Prozesse
// - Tests fuer Quota-Eviction, NPU-Exklusivitaet, Reload bei
//   Options-Wechsel und das Ueberleben eines Spawns bei Client-Abbruch
package server

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lemonade-sdk/lemonade/api"
	"github.com/lemonade-sdk/lemonade/catalog"
	"github.com/lemonade-sdk/lemonade/llm"
)

type fakeServer struct {
	model catalog.Model
	opts  api.RecipeOptions

	mu      sync.Mutex
	state   llm.ServerState
	stopped bool

	spawnDelay time.Duration
	failSpawn  bool
	telemetry  api.StatsResponse
	proxyResp  []byte
}

func (f *fakeServer) Model() catalog.Model       { return f.model }
func (f *fakeServer) Options() api.RecipeOptions { return f.opts }
func (f *fakeServer) BaseURL() string            { return "http://127.0.0.1:12345" }

func (f *fakeServer) State() llm.ServerState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeServer) Download(context.Context, bool) error { return nil }

func (f *fakeServer) Spawn(context.Context) error {
	if f.spawnDelay > 0 {
		time.Sleep(f.spawnDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSpawn {
		f.state = llm.StateFailed
		return errors.New("spawn failed")
	}
	f.state = llm.StateReady
	return nil
}

func (f *fakeServer) WaitReady(context.Context) error { return nil }

func (f *fakeServer) Proxy(context.Context, string, []byte) ([]byte, error) {
	if f.proxyResp != nil {
		return f.proxyResp, nil
	}
	return []byte(`{}`), nil
}

func (f *fakeServer) ProxyStream(context.Context, string, []byte, llm.StreamSink) error {
	return nil
}

func (f *fakeServer) Transcribe(context.Context, llm.TranscribeRequest) ([]byte, error) {
	return []byte(`{"text":""}`), nil
}

func (f *fakeServer) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	f.state = llm.StateStopped
	return nil
}

func (f *fakeServer) Stopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

func (f *fakeServer) Ping(context.Context) error { return nil }
func (f *fakeServer) Pid() int                   { return 4711 }
func (f *fakeServer) GetPort() int               { return 12345 }

func (f *fakeServer) HasExited() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

func (f *fakeServer) Telemetry() api.StatsResponse { return f.telemetry }

// testScheduler baut einen Scheduler mit Fake-Engines auf einem
// Katalog ohne Plattform-Filterung.
func testScheduler(t *testing.T) (*Scheduler, *sync.Map, *atomic.Int32) {
	t.Helper()

	dir := t.TempDir()
	t.Setenv("LEMONADE_CACHE_DIR", dir)

	cat, err := catalog.New(dir, catalog.WithRecipeFilter(func(string) bool { return true }))
	require.NoError(t, err)

	store, err := catalog.NewOptionsStore(dir)
	require.NoError(t, err)

	var servers sync.Map
	var spawns atomic.Int32

	s := NewScheduler(cat, store)
	s.newServer = func(model catalog.Model, opts api.RecipeOptions) (llm.WrappedServer, error) {
		spawns.Add(1)
		f := &fakeServer{model: model, opts: opts}
		servers.Store(model.Name, f)
		return f, nil
	}

	return s, &servers, &spawns
}

func loadedNames(s *Scheduler) []string {
	var names []string
	for _, lm := range s.ListLoaded() {
		names = append(names, lm.Name)
	}
	return names
}

func TestAcquireLoadsOnceAndReuses(t *testing.T) {
	s, _, spawns := testScheduler(t)

	h1, err := s.Acquire(context.Background(), "Qwen3-0.6B-GGUF", nil)
	require.NoError(t, err)
	h1.Release()

	h2, err := s.Acquire(context.Background(), "Qwen3-0.6B-GGUF", nil)
	require.NoError(t, err)
	h2.Release()

	assert.Equal(t, int32(1), spawns.Load())
	assert.Equal(t, []string{"Qwen3-0.6B-GGUF"}, loadedNames(s))
}

func TestAcquireUnknownModel(t *testing.T) {
	s, _, _ := testScheduler(t)

	_, err := s.Acquire(context.Background(), "No-Such-Model", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestQuotaEvictsLeastRecentlyUsed(t *testing.T) {
	t.Setenv("LEMONADE_MAX_LOADED_MODELS", "2")
	s, servers, _ := testScheduler(t)

	for _, name := range []string{"Qwen3-0.6B-GGUF", "Qwen3-1.7B-GGUF"} {
		h, err := s.Acquire(context.Background(), name, nil)
		require.NoError(t, err)
		h.Release()
	}

	// A anfassen, damit B zum LRU-Kandidaten wird
	time.Sleep(5 * time.Millisecond)
	h, err := s.Acquire(context.Background(), "Qwen3-0.6B-GGUF", nil)
	require.NoError(t, err)
	h.Release()

	h, err = s.Acquire(context.Background(), "Granite-4.0-H-Tiny-GGUF", nil)
	require.NoError(t, err)
	h.Release()

	assert.Equal(t, []string{"Granite-4.0-H-Tiny-GGUF", "Qwen3-0.6B-GGUF"}, loadedNames(s))

	evicted, ok := servers.Load("Qwen3-1.7B-GGUF")
	require.True(t, ok)
	assert.True(t, evicted.(*fakeServer).Stopped())
}

func TestQuotaIsPerModelType(t *testing.T) {
	t.Setenv("LEMONADE_MAX_LOADED_MODELS", "1")
	s, _, _ := testScheduler(t)

	// LLM und Embedding teilen sich keine Quota
	for _, name := range []string{"Qwen3-0.6B-GGUF", "Nomic-Embed-Text-v1.5-GGUF"} {
		h, err := s.Acquire(context.Background(), name, nil)
		require.NoError(t, err)
		h.Release()
	}

	assert.Len(t, loadedNames(s), 2)
}

func TestNPUModelsAreExclusive(t *testing.T) {
	t.Setenv("LEMONADE_MAX_LOADED_MODELS", "4")
	s, servers, _ := testScheduler(t)

	h, err := s.Acquire(context.Background(), "Qwen3-0.6B-FLM", nil)
	require.NoError(t, err)
	h.Release()

	// Ein GPU-Model verdraengt das NPU-Model nicht
	h, err = s.Acquire(context.Background(), "Qwen3-0.6B-GGUF", nil)
	require.NoError(t, err)
	h.Release()
	assert.Contains(t, loadedNames(s), "Qwen3-0.6B-FLM")

	// Ein zweites NPU-Model schon, trotz freier Quota
	h, err = s.Acquire(context.Background(), "Llama-3.2-1B-Instruct-FLM", nil)
	require.NoError(t, err)
	h.Release()

	names := loadedNames(s)
	assert.NotContains(t, names, "Qwen3-0.6B-FLM")
	assert.Contains(t, names, "Llama-3.2-1B-Instruct-FLM")

	first, ok := servers.Load("Qwen3-0.6B-FLM")
	require.True(t, ok)
	assert.True(t, first.(*fakeServer).Stopped())
}

func TestEvictionTiebreakIsLexicographic(t *testing.T) {
	t.Setenv("LEMONADE_MAX_LOADED_MODELS", "2")
	s, _, _ := testScheduler(t)

	for _, name := range []string{"Qwen3-1.7B-GGUF", "Qwen3-0.6B-GGUF"} {
		h, err := s.Acquire(context.Background(), name, nil)
		require.NoError(t, err)
		h.Release()
	}

	// Gleicher lastUse-Zeitpunkt: der Name entscheidet deterministisch
	now := time.Now()
	s.loadedMu.Lock()
	for _, lm := range s.loaded {
		lm.lastUse = now
	}
	victims := s.evictionsLocked(catalog.TypeLLM, catalog.DeviceGPU, nil)
	s.loadedMu.Unlock()

	require.Len(t, victims, 1)
	assert.Equal(t, "Qwen3-0.6B-GGUF", victims[0].model.Name)
}

func TestConcurrentColdLoadsRespectQuota(t *testing.T) {
	t.Setenv("LEMONADE_MAX_LOADED_MODELS", "1")
	s, _, _ := testScheduler(t)
	base := s.newServer
	s.newServer = func(model catalog.Model, opts api.RecipeOptions) (llm.WrappedServer, error) {
		srv, err := base(model, opts)
		if err != nil {
			return nil, err
		}
		srv.(*fakeServer).spawnDelay = 50 * time.Millisecond
		return srv, nil
	}

	// Zwei Cold-Loads verschiedener Models gleichzeitig: waehrend beide
	// Spawns laufen, sieht keiner den anderen als Eviction-Kandidaten.
	// Nach dem Settle darf trotzdem nur ein LLM resident sein.
	var wg sync.WaitGroup
	for _, name := range []string{"Qwen3-0.6B-GGUF", "Qwen3-1.7B-GGUF"} {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			h, err := s.Acquire(context.Background(), name, nil)
			if err == nil {
				h.Release()
			}
		}(name)
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		return len(loadedNames(s)) <= 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, loadedNames(s), 1)
}

func TestConcurrentNPUColdLoadsStayExclusive(t *testing.T) {
	t.Setenv("LEMONADE_MAX_LOADED_MODELS", "4")
	s, _, _ := testScheduler(t)
	base := s.newServer
	s.newServer = func(model catalog.Model, opts api.RecipeOptions) (llm.WrappedServer, error) {
		srv, err := base(model, opts)
		if err != nil {
			return nil, err
		}
		srv.(*fakeServer).spawnDelay = 50 * time.Millisecond
		return srv, nil
	}

	var wg sync.WaitGroup
	for _, name := range []string{"Qwen3-0.6B-FLM", "Llama-3.2-1B-Instruct-FLM"} {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			h, err := s.Acquire(context.Background(), name, nil)
			if err == nil {
				h.Release()
			}
		}(name)
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		return len(loadedNames(s)) <= 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, loadedNames(s), 1)
}

func TestOptionsChangeForcesReload(t *testing.T) {
	s, _, spawns := testScheduler(t)

	h, err := s.Acquire(context.Background(), "Qwen3-0.6B-GGUF", &api.RecipeOptions{CtxSize: 2048})
	require.NoError(t, err)
	h.Release()

	// Gleiche Optionen: kein Reload
	h, err = s.Acquire(context.Background(), "Qwen3-0.6B-GGUF", &api.RecipeOptions{CtxSize: 2048})
	require.NoError(t, err)
	h.Release()
	assert.Equal(t, int32(1), spawns.Load())

	// Andere Optionen: Reload
	h, err = s.Acquire(context.Background(), "Qwen3-0.6B-GGUF", &api.RecipeOptions{CtxSize: 8192})
	require.NoError(t, err)
	assert.Equal(t, api.RecipeOptions{CtxSize: 8192}, h.Server().Options())
	h.Release()
	assert.Equal(t, int32(2), spawns.Load())
}

func TestUnload(t *testing.T) {
	s, servers, _ := testScheduler(t)

	err := s.Unload("Qwen3-0.6B-GGUF")
	assert.ErrorIs(t, err, ErrNotLoaded)

	h, err := s.Acquire(context.Background(), "Qwen3-0.6B-GGUF", nil)
	require.NoError(t, err)
	h.Release()

	require.NoError(t, s.Unload("Qwen3-0.6B-GGUF"))
	assert.Empty(t, loadedNames(s))

	srv, ok := servers.Load("Qwen3-0.6B-GGUF")
	require.True(t, ok)
	assert.True(t, srv.(*fakeServer).Stopped())
}

func TestUnloadAll(t *testing.T) {
	t.Setenv("LEMONADE_MAX_LOADED_MODELS", "2")
	s, servers, _ := testScheduler(t)

	for _, name := range []string{"Qwen3-0.6B-GGUF", "Qwen3-1.7B-GGUF"} {
		h, err := s.Acquire(context.Background(), name, nil)
		require.NoError(t, err)
		h.Release()
	}

	s.UnloadAll()
	assert.Empty(t, loadedNames(s))

	servers.Range(func(_, v any) bool {
		assert.True(t, v.(*fakeServer).Stopped())
		return true
	})
}

func TestSpawnSurvivesClientCancellation(t *testing.T) {
	s, _, spawns := testScheduler(t)
	base := s.newServer
	s.newServer = func(model catalog.Model, opts api.RecipeOptions) (llm.WrappedServer, error) {
		srv, err := base(model, opts)
		if err != nil {
			return nil, err
		}
		srv.(*fakeServer).spawnDelay = 50 * time.Millisecond
		return srv, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Acquire(ctx, "Qwen3-0.6B-GGUF", nil)
	assert.ErrorIs(t, err, context.Canceled)

	// Der Spawn laeuft im Hintergrund zu Ende; der naechste Aufrufer
	// bekommt das fertig geladene Model ohne zweiten Spawn.
	require.Eventually(t, func() bool {
		h, err := s.Acquire(context.Background(), "Qwen3-0.6B-GGUF", nil)
		if err != nil {
			return false
		}
		h.Release()
		return true
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, int32(1), spawns.Load())
}

func TestFailedSpawnLeavesNoEntry(t *testing.T) {
	s, _, _ := testScheduler(t)
	s.newServer = func(model catalog.Model, opts api.RecipeOptions) (llm.WrappedServer, error) {
		return &fakeServer{model: model, opts: opts, failSpawn: true}, nil
	}

	_, err := s.Acquire(context.Background(), "Qwen3-0.6B-GGUF", nil)
	require.Error(t, err)
	assert.Empty(t, loadedNames(s))
}

func TestStatsComesFromMostRecentModel(t *testing.T) {
	t.Setenv("LEMONADE_MAX_LOADED_MODELS", "2")
	s, servers, _ := testScheduler(t)

	for _, name := range []string{"Qwen3-0.6B-GGUF", "Qwen3-1.7B-GGUF"} {
		h, err := s.Acquire(context.Background(), name, nil)
		require.NoError(t, err)
		h.Release()
	}

	srv, _ := servers.Load("Qwen3-1.7B-GGUF")
	srv.(*fakeServer).telemetry = api.StatsResponse{TokensPerSecond: 42.5, InputTokens: 7}

	assert.Equal(t, 42.5, s.Stats().TokensPerSecond)
	assert.Equal(t, 7, s.Stats().InputTokens)
}
