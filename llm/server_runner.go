// server_runner.go - Engine-Subprocess Verwaltung
//
// Diese Datei enthaelt:
// - choosePort/findFreePort: freien Port per Bind-Test waehlen
// - startProcess: Engine-Binary starten, Pipes entleeren, Monitor
// - Stop: SIGTERM, begrenztes Warten, dann Prozessgruppe killen
package llm

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// portRangeStart ist der Beginn des Port-Fensters fuer Engine-Prozesse.
// Der oeffentliche Gateway-Port (8000) bleibt ausserhalb.
const portRangeStart = 8001

// choosePort reserviert den naechsten freien Port fuer diesen Server.
func (s *wrappedServer) choosePort() error {
	port, err := findFreePort(portRangeStart)
	if err != nil {
		return fmt.Errorf("engine %s: %w", s.engine, err)
	}
	s.port = port
	slog.Info("wrapped server port chosen", "engine", s.engine, "port", port)
	return nil
}

// findFreePort sucht per Bind-Test einen freien TCP-Port ab start.
// Bind-Check-dann-Nutzung ist inhaerent racy; der Prozess-Start danach
// darf scheitern und wird dann als Spawn-Fehler gemeldet.
func findFreePort(start int) (int, error) {
	for port := start; port < start+1000; port++ {
		l, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
		if err != nil {
			continue
		}
		l.Close()
		return port, nil
	}
	return 0, fmt.Errorf("kein freier port im bereich %d-%d", start, start+1000)
}

// startProcess startet das Engine-Binary. Stdout und Stderr werden von
// Goroutinen entleert, damit die Pipes nie blockieren; jede Zeile geht
// durch den Telemetrie-Parser und den StatusWriter.
func (s *wrappedServer) startProcess(exe string, args []string, extraEnv map[string]string) error {
	cmd := exec.Command(exe, args...)
	cmd.Env = os.Environ()
	for k, v := range extraEnv {
		cmd.Env = setEnv(cmd.Env, k, v)
	}
	cmd.SysProcAttr = wrappedServerSysProcAttr

	s.status = NewStatusWriter(s.engine)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	var stdin io.WriteCloser
	if s.wantStdin {
		if stdin, err = cmd.StdinPipe(); err != nil {
			return fmt.Errorf("stdin pipe: %w", err)
		}
	}
	go s.drainOutput(stdout)
	go s.drainOutput(stderr)

	slog.Info("starting wrapped server", "engine", s.engine, "model", s.model.Name, "cmd", cmd)
	slog.Debug("subprocess", "", filteredEnv(cmd.Env))

	if err := cmd.Start(); err != nil {
		s.setState(StateFailed)
		return fmt.Errorf("engine %s starten: %w", s.engine, err)
	}

	s.cmd = cmd
	s.stdin = stdin
	s.done = make(chan error, 1)
	go func() {
		err := cmd.Wait()
		if err != nil {
			slog.Debug("wrapped server exited", "engine", s.engine, "error", err)
		}
		s.done <- err
	}()

	return nil
}

// drainOutput liest eine Prozess-Pipe bis EOF.
func (s *wrappedServer) drainOutput(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		s.status.ObserveLine(line)
		s.telemetry.ObserveLine(line)
		slog.Debug("engine output", "engine", s.engine, "line", line)
	}
}

// Stop beendet den Engine-Prozess. Reihenfolge: engine-spezifischer
// Abschied (FLM bekommt "exit" auf stdin), SIGTERM, bis zu 5s Warten,
// zuletzt SIGKILL auf die Prozessgruppe.
func (s *wrappedServer) Stop() error {
	s.setState(StateStopping)
	defer s.setState(StateStopped)

	if s.cmd == nil || s.cmd.Process == nil {
		return nil
	}

	slog.Info("stopping wrapped server", "engine", s.engine, "model", s.model.Name, "pid", s.Pid())
	terminateProcess(s.cmd)

	for range 50 {
		if s.cmd.ProcessState != nil {
			s.port = 0
			return nil
		}
		select {
		case <-s.done:
			s.port = 0
			return nil
		case <-time.After(100 * time.Millisecond):
		}
	}

	slog.Warn("wrapped server did not exit, killing process group", "engine", s.engine, "pid", s.Pid())
	killProcessGroup(s.cmd)
	if s.cmd.ProcessState == nil {
		<-s.done
	}
	s.port = 0
	return nil
}

// setEnv ersetzt oder ergaenzt eine Variable in einer environ-Liste.
func setEnv(env []string, key, value string) []string {
	for i := range env {
		if k, _, ok := strings.Cut(env[i], "="); ok && strings.EqualFold(k, key) {
			env[i] = key + "=" + value
			return env
		}
	}
	return append(env, key+"="+value)
}

// prependPathList stellt dir einer Pfadliste (LD_LIBRARY_PATH u.ae.)
// voran und erhaelt den bestehenden Wert.
func prependPathList(existing, dir string) string {
	if existing == "" {
		return dir
	}
	return dir + string(os.PathListSeparator) + existing
}
