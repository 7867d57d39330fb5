// server_proxy_test.go - Tests fuer Forwarding, SSE-Stream und Roh-Stream
package llm

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"strings"
	"testing"

	"github.com/lemonade-sdk/lemonade/api"
	"github.com/lemonade-sdk/lemonade/catalog"
)

// newTestBackend verdrahtet einen wrappedServer mit einem httptest-Server
// statt einem echten Engine-Prozess. cmd ist gesetzt aber nie gestartet,
// damit die ErrNotStarted-Wache passiert wird.
func newTestBackend(t *testing.T, handler http.HandlerFunc) *wrappedServer {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	s := newWrappedServer("test-engine", catalog.Model{Name: "test"}, api.RecipeOptions{})
	s.port = srv.Listener.Addr().(*net.TCPAddr).Port
	s.cmd = &exec.Cmd{}
	s.state = StateReady
	return &s
}

type captureSink struct {
	bytes.Buffer
	flushes int
}

func (c *captureSink) Flush() { c.flushes++ }

func TestProxyForwardsBodyAndTelemetry(t *testing.T) {
	var gotBody []byte
	var gotPath string
	s := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotBody, _ = io.ReadAll(r.Body)
		w.Write([]byte(`{"id":"1","timings":{"prompt_n":8,"predicted_n":16,"prompt_ms":80.0,"predicted_per_second":32.0}}`))
	})

	resp, err := s.Proxy(context.Background(), "/v1/chat/completions", []byte(`{"model":"test"}`))
	if err != nil {
		t.Fatalf("Proxy fehlgeschlagen: %v", err)
	}
	if gotPath != "/v1/chat/completions" {
		t.Errorf("Pfad = %q, erwartet /v1/chat/completions", gotPath)
	}
	if string(gotBody) != `{"model":"test"}` {
		t.Errorf("Upstream-Body = %q", gotBody)
	}
	if !strings.Contains(string(resp), `"id":"1"`) {
		t.Errorf("Antwort nicht durchgereicht: %s", resp)
	}

	stats := s.Telemetry()
	if stats.InputTokens != 8 || stats.OutputTokens != 16 {
		t.Errorf("Telemetrie = %d/%d, erwartet 8/16", stats.InputTokens, stats.OutputTokens)
	}
}

func TestProxyBackendError(t *testing.T) {
	s := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"bad request"}}`))
	})

	body, err := s.Proxy(context.Background(), "/v1/completions", []byte(`{}`))
	if err == nil {
		t.Fatal("Fehlerstatus nicht gemeldet")
	}

	var be *BackendError
	if !errors.As(err, &be) {
		t.Fatalf("Fehler ist kein BackendError: %v", err)
	}
	if be.StatusCode != http.StatusBadRequest {
		t.Errorf("StatusCode = %d, erwartet 400", be.StatusCode)
	}
	// Der Fehler-Body wird fuer den Client durchgereicht
	if !strings.Contains(string(body), "bad request") {
		t.Errorf("Fehler-Body fehlt: %s", body)
	}
}

func TestProxyNotStarted(t *testing.T) {
	s := newWrappedServer("test-engine", catalog.Model{Name: "test"}, api.RecipeOptions{})

	if _, err := s.Proxy(context.Background(), "/v1/completions", nil); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Proxy ohne Prozess = %v, erwartet ErrNotStarted", err)
	}
	var sink captureSink
	if err := s.ProxyStream(context.Background(), "/v1/completions", nil, &sink); !errors.Is(err, ErrNotStarted) {
		t.Errorf("ProxyStream ohne Prozess = %v, erwartet ErrNotStarted", err)
	}
}

func TestProxyStreamForwardsChunks(t *testing.T) {
	s := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hal\"}}]}\n\n")
		io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}],\"timings\":{\"prompt_n\":4,\"predicted_n\":2,\"prompt_ms\":40.0,\"predicted_per_second\":20.0}}\n\n")
		io.WriteString(w, "data: [DONE]\n\n")
	})

	var sink captureSink
	if err := s.ProxyStream(context.Background(), "/v1/chat/completions", []byte(`{}`), &sink); err != nil {
		t.Fatalf("ProxyStream fehlgeschlagen: %v", err)
	}

	out := sink.String()
	if !strings.Contains(out, `"content":"Hal"`) || !strings.Contains(out, `"content":"lo"`) {
		t.Errorf("Chunks nicht durchgereicht:\n%s", out)
	}
	if strings.Count(out, "data: [DONE]") != 1 {
		t.Errorf("[DONE] fehlt oder doppelt:\n%s", out)
	}
	if sink.flushes == 0 {
		t.Error("Sink wurde nie geflusht")
	}

	// Telemetrie kommt aus dem letzten Chunk mit timings
	stats := s.Telemetry()
	if stats.InputTokens != 4 || stats.OutputTokens != 2 {
		t.Errorf("Telemetrie = %d/%d, erwartet 4/2", stats.InputTokens, stats.OutputTokens)
	}
}

func TestProxyStreamAppendsDone(t *testing.T) {
	s := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		// Engine beendet den Stream ohne [DONE]
		io.WriteString(w, "data: {\"choices\":[]}\n\n")
	})

	var sink captureSink
	if err := s.ProxyStream(context.Background(), "/v1/chat/completions", []byte(`{}`), &sink); err != nil {
		t.Fatalf("ProxyStream fehlgeschlagen: %v", err)
	}
	if !strings.HasSuffix(sink.String(), "data: [DONE]\n\n") {
		t.Errorf("fehlendes [DONE] nicht ergaenzt:\n%q", sink.String())
	}
}

func TestProxyStreamBackendError(t *testing.T) {
	s := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("model crashed"))
	})

	var sink captureSink
	err := s.ProxyStream(context.Background(), "/v1/chat/completions", []byte(`{}`), &sink)

	var be *BackendError
	if !errors.As(err, &be) {
		t.Fatalf("Fehler ist kein BackendError: %v", err)
	}
	if be.StatusCode != http.StatusInternalServerError {
		t.Errorf("StatusCode = %d, erwartet 500", be.StatusCode)
	}
	if sink.Len() != 0 {
		t.Errorf("Fehler-Body darf nicht in den Stream: %q", sink.String())
	}
}

func TestStreamRawForwardsBytes(t *testing.T) {
	payload := []byte{0x52, 0x49, 0x46, 0x46, 0x00, 0x01, 0x02, 0x03} // WAV-artiger Binaer-Blob
	s := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/wav")
		w.Write(payload)
	})

	var sink captureSink
	if err := s.streamRaw(context.Background(), "/v1/audio/speech", []byte(`{}`), &sink); err != nil {
		t.Fatalf("streamRaw fehlgeschlagen: %v", err)
	}
	if !bytes.Equal(sink.Bytes(), payload) {
		t.Errorf("Roh-Stream veraendert: %v", sink.Bytes())
	}
}

func TestForwardRetriesConnectionFailure(t *testing.T) {
	// Erster Versuch gegen einen geschlossenen Port, der Server bleibt
	// formal ready: forward darf genau dann erneut versuchen.
	s := newWrappedServer("test-engine", catalog.Model{Name: "test"}, api.RecipeOptions{})
	s.cmd = &exec.Cmd{}
	s.state = StateReady

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen fehlgeschlagen: %v", err)
	}
	s.port = l.Addr().(*net.TCPAddr).Port
	l.Close()

	_, err = s.Proxy(context.Background(), "/v1/completions", []byte(`{}`))
	if err == nil {
		t.Fatal("Proxy gegen toten Port muss fehlschlagen")
	}
	if !strings.Contains(err.Error(), "nicht erreichbar") {
		t.Errorf("Fehler = %v, erwartet Unerreichbarkeits-Meldung", err)
	}
}

func TestForwardNoRetryAfterFailedState(t *testing.T) {
	s := newWrappedServer("test-engine", catalog.Model{Name: "test"}, api.RecipeOptions{})
	s.cmd = &exec.Cmd{}
	s.state = StateFailed

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen fehlgeschlagen: %v", err)
	}
	s.port = l.Addr().(*net.TCPAddr).Port
	l.Close()

	if _, err := s.Proxy(context.Background(), "/v1/completions", []byte(`{}`)); err == nil {
		t.Fatal("Proxy gegen toten Port muss fehlschlagen")
	}
}
