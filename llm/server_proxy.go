// server_proxy.go - Request-Forwarding an den Engine-Prozess
//
// Diese Datei enthaelt:
// - Proxy: JSON-Forward mit begrenzten Retries bei Verbindungsfehlern
// - ProxyStream: SSE-Weiterleitung mit Telemetrie-Puffer und [DONE]
// - BackendError: Status und Body einer Nicht-2xx-Engine-Antwort
package llm

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// proxyRetries begrenzt die Wiederholungen bei transienten
// Verbindungsfehlern. Nur solange der Prozess lebt und Ready ist.
const proxyRetries = 3

// BackendError transportiert Status und Body einer Engine-Antwort, die
// kein 2xx war. Die Handler reichen beides unveraendert an den Client
// weiter.
type BackendError struct {
	StatusCode int
	Body       []byte
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("engine antwortete mit status %d", e.StatusCode)
}

// Proxy leitet einen JSON-Request an die Engine weiter.
func (s *wrappedServer) Proxy(ctx context.Context, endpoint string, body []byte) ([]byte, error) {
	return s.forward(ctx, endpoint, body, 0)
}

func (s *wrappedServer) forward(ctx context.Context, endpoint string, body []byte, timeout time.Duration) ([]byte, error) {
	if s.cmd == nil || s.HasExited() {
		return nil, fmt.Errorf("engine %s: %w", s.engine, ErrNotStarted)
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var lastErr error
	for attempt := 0; attempt < proxyRetries; attempt++ {
		if attempt > 0 {
			if s.State() != StateReady || s.HasExited() {
				break
			}
			slog.Debug("retrying engine request", "engine", s.engine, "endpoint", endpoint, "attempt", attempt)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL()+endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("engine-request bauen: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("engine-antwort lesen: %w", err)
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return respBody, &BackendError{StatusCode: resp.StatusCode, Body: respBody}
		}

		s.telemetry.ObservePayload(respBody)
		return respBody, nil
	}

	return nil, fmt.Errorf("engine %s nicht erreichbar: %w", s.engine, lastErr)
}

// ProxyStream leitet die SSE-Antwort der Engine zeilenweise an sink
// weiter. data-Zeilen werden fuer die Telemetrie gepuffert; der letzte
// Chunk mit timings oder usage gewinnt. Schickt die Engine kein
// [DONE], haengt der Proxy es an, damit der OpenAI-Vertrag haelt.
func (s *wrappedServer) ProxyStream(ctx context.Context, endpoint string, body []byte, sink StreamSink) error {
	if s.cmd == nil || s.HasExited() {
		return fmt.Errorf("engine %s: %w", s.engine, ErrNotStarted)
	}

	resp, err := s.streamRequest(ctx, endpoint, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return &BackendError{StatusCode: resp.StatusCode, Body: respBody}
	}

	var dataLines []string
	sawDone := false

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()

		if payload, ok := strings.CutPrefix(line, "data: "); ok {
			if strings.TrimSpace(payload) == "[DONE]" {
				sawDone = true
			} else {
				dataLines = append(dataLines, payload)
			}
		}

		if _, err := io.WriteString(sink, line+"\n"); err != nil {
			// Client weg: Upstream-Reader via Kontext beenden.
			return fmt.Errorf("stream an client schreiben: %w", err)
		}
		sink.Flush()
	}

	for _, payload := range dataLines {
		s.telemetry.ObservePayload([]byte(payload))
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("engine-stream lesen: %w", err)
	}

	if !sawDone {
		if _, err := io.WriteString(sink, "data: [DONE]\n\n"); err != nil {
			return fmt.Errorf("stream an client schreiben: %w", err)
		}
		sink.Flush()
	}

	return nil
}

// streamRequest eroeffnet den Upstream-Stream, mit denselben begrenzten
// Retries wie forward: vor dem ersten gelieferten Byte ist eine
// Wiederholung noch gefahrlos.
func (s *wrappedServer) streamRequest(ctx context.Context, endpoint string, body []byte) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt < proxyRetries; attempt++ {
		if attempt > 0 {
			if s.State() != StateReady || s.HasExited() {
				break
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL()+endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("engine-request bauen: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "text/event-stream")

		resp, err := s.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}
		return resp, nil
	}
	return nil, fmt.Errorf("engine %s nicht erreichbar: %w", s.engine, lastErr)
}

// streamRaw leitet einen Antwort-Strom unveraendert weiter, fuer
// binaere Streams wie Audio. Kein SSE-Framing, kein [DONE].
func (s *wrappedServer) streamRaw(ctx context.Context, endpoint string, body []byte, sink StreamSink) error {
	if s.cmd == nil || s.HasExited() {
		return fmt.Errorf("engine %s: %w", s.engine, ErrNotStarted)
	}

	resp, err := s.streamRequest(ctx, endpoint, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return &BackendError{StatusCode: resp.StatusCode, Body: respBody}
	}

	buf := make([]byte, 32*1024)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := sink.Write(buf[:n]); err != nil {
				return fmt.Errorf("stream an client schreiben: %w", err)
			}
			sink.Flush()
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return nil
			}
			if errors.Is(readErr, context.Canceled) {
				return nil
			}
			return fmt.Errorf("engine-stream lesen: %w", readErr)
		}
	}
}
