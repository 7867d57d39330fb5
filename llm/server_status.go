// server_status.go - Readiness und Prozess-Status
//
// Diese Datei enthaelt:
// - StatusWriter: merkt sich die letzte Fehlerzeile des Prozesses
// - WaitReady: Probe-Schleife bis der Engine-Prozess antwortet
// - Ping, Pid, GetPort, HasExited fuer Prozess-Info
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/lemonade-sdk/lemonade/envconfig"
)

// StatusWriter beobachtet die Ausgabe eines Engine-Prozesses und haelt
// die letzte Zeile fest, die nach einem Fehler aussieht. Die landet in
// der Fehlermeldung, wenn der Prozess beim Start stirbt.
type StatusWriter struct {
	engine string

	mu         sync.Mutex
	lastErrMsg string
}

func NewStatusWriter(engine string) *StatusWriter {
	return &StatusWriter{engine: engine}
}

// ObserveLine prueft eine Ausgabe-Zeile auf Fehlermuster.
func (w *StatusWriter) ObserveLine(line string) {
	if _, after, ok := strings.Cut(line, "error:"); ok {
		w.mu.Lock()
		w.lastErrMsg = strings.TrimSpace(after)
		w.mu.Unlock()
		return
	}
	if _, after, ok := strings.Cut(line, "ERROR"); ok {
		w.mu.Lock()
		w.lastErrMsg = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(after), ":"))
		w.mu.Unlock()
	}
}

// LastErrMsg gibt die letzte beobachtete Fehlerzeile zurueck.
func (w *StatusWriter) LastErrMsg() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErrMsg
}

// WaitReady pollt die Readiness-Pfade der Engine bis eine Probe mit
// 2xx antwortet. Bricht ab sobald der Prozess stirbt, der Kontext
// endet oder das Load-Timeout ablaeuft.
func (s *wrappedServer) WaitReady(ctx context.Context) error {
	deadline := time.Now().Add(envconfig.LoadTimeout())

	slog.Info("waiting for wrapped server to become ready", "engine", s.engine, "model", s.model.Name, "port", s.port)
	start := time.Now()
	lastLog := start

	for {
		select {
		case <-ctx.Done():
			s.setState(StateFailed)
			return fmt.Errorf("warten auf %s abgebrochen: %w", s.engine, ctx.Err())
		case err := <-s.done:
			s.setState(StateFailed)
			msg := s.status.LastErrMsg()
			if msg == "" && err != nil {
				msg = err.Error()
			}
			return fmt.Errorf("engine %s hat sich beendet: %s", s.engine, msg)
		default:
		}

		if time.Now().After(deadline) {
			s.setState(StateFailed)
			return fmt.Errorf("engine %s wurde nicht rechtzeitig bereit - %s", s.engine, s.status.LastErrMsg())
		}

		if s.probeReady(ctx) {
			s.setState(StateReady)
			slog.Info(fmt.Sprintf("wrapped server started in %0.2f seconds", time.Since(start).Seconds()), "engine", s.engine, "model", s.model.Name)
			return nil
		}

		if time.Since(lastLog) > 5*time.Second {
			slog.Info("still waiting for wrapped server", "engine", s.engine, "model", s.model.Name)
			lastLog = time.Now()
		}

		select {
		case <-ctx.Done():
		case <-time.After(s.readyInterval):
		}
	}
}

// probeReady fragt die Readiness-Pfade der Engine ab. llama-server und
// whisper-server antworten auf /health, FLM nur auf /api/tags, sd-cpp
// und kokoro auf ihrer Wurzel.
func (s *wrappedServer) probeReady(ctx context.Context) bool {
	for _, path := range s.readyPaths {
		probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, s.BaseURL()+path, nil)
		if err != nil {
			cancel()
			continue
		}
		resp, err := s.client.Do(req)
		cancel()
		if err != nil {
			continue
		}
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return true
		}
	}
	return false
}

// Ping prueft ob der Engine-Prozess noch erreichbar ist.
func (s *wrappedServer) Ping(ctx context.Context) error {
	if s.cmd == nil || s.cmd.ProcessState != nil {
		return fmt.Errorf("engine %s: %w", s.engine, ErrNotStarted)
	}
	if !s.probeReady(ctx) {
		return fmt.Errorf("engine %s antwortet nicht auf port %d", s.engine, s.port)
	}
	return nil
}

// Pid gibt die Prozess-ID des Engine-Prozesses zurueck.
func (s *wrappedServer) Pid() int {
	if s.cmd != nil && s.cmd.Process != nil {
		return s.cmd.Process.Pid
	}
	return -1
}

// GetPort gibt den HTTP-Port des Engine-Prozesses zurueck.
func (s *wrappedServer) GetPort() int {
	return s.port
}

// HasExited prueft ob der Engine-Prozess beendet wurde.
func (s *wrappedServer) HasExited() bool {
	return s.cmd != nil && s.cmd.ProcessState != nil
}
