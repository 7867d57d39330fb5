// logutil.go - Logging-Hilfsfunktionen
//
// Dieses Modul enthaelt:
// - LevelTrace: Log-Level unterhalb von Debug
// - Level: Prozessweites Log-Level, zur Laufzeit umschaltbar
// - NewLogger: Text-Handler mit Datei:Zeile-Quelle
// - NewConsoleLogger: Farbiger Handler fuer interaktive Terminals
// - Trace/TraceContext: Logging auf Trace-Level
package logutil

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

const LevelTrace slog.Level = slog.LevelDebug - 4

// Level ist das prozessweite Log-Level. Der log-level Endpoint und das
// --log-level Flag schreiben hierauf.
var Level = new(slog.LevelVar)

// NewLogger erstellt einen Text-Logger, der Quelldateien auf den
// Basisnamen kuerzt und das Trace-Level benennt.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	Level.Set(level)
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:     Level,
		AddSource: true,
		ReplaceAttr: func(_ []string, attr slog.Attr) slog.Attr {
			switch attr.Key {
			case slog.SourceKey:
				if source, ok := attr.Value.Any().(*slog.Source); ok {
					source.File = filepath.Base(source.File)
				}
			case slog.LevelKey:
				if attr.Value.Any().(slog.Level) == LevelTrace {
					attr.Value = slog.StringValue("TRACE")
				}
			}
			return attr
		},
	}))
}

// NewConsoleLogger erstellt einen farbigen Logger fuer Terminals.
// Ohne TTY wird auf den Text-Handler zurueckgefallen.
func NewConsoleLogger(f *os.File, level slog.Level) *slog.Logger {
	if !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd()) {
		return NewLogger(f, level)
	}

	Level.Set(level)
	return slog.New(tint.NewHandler(colorable.NewColorable(f), &tint.Options{
		Level:      Level,
		TimeFormat: "15:04:05.000",
	}))
}

func Trace(msg string, args ...any) {
	slog.Log(context.TODO(), LevelTrace, msg, args...)
}

func TraceContext(ctx context.Context, msg string, args ...any) {
	slog.Log(ctx, LevelTrace, msg, args...)
}
