// ollama_stream.go - SSE-zu-NDJSON-Uebersetzung fuer Chat und Generate
//
// Diese Datei enthaelt:
// - Stream: ein Sink fuer den SSE-Strom der Engine. Er schneidet die
//   Bytes in data-Zeilen, uebersetzt jeden Chunk in die Ollama-Form
//   und schiebt das Ergebnis in einen Kanal; die NDJSON-Ausgabe
//   uebernimmt der Router-Handler am anderen Ende des Kanals.
// - die Token-Zaehlung aus den usage-Feldern des Stroms
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
)

// streamKind unterscheidet die Chunk-Formen von /api/chat und
// /api/generate.
type streamKind int

const (
	kindChat streamKind = iota
	kindGenerate
)

var (
	dataPrefix = []byte("data: ")
	doneMarker = []byte("[DONE]")
)

// Stream nimmt die SSE-Bytes der Engine entgegen und schiebt die
// uebersetzten Chunks in ch. Backpressure laeuft ueber die
// Kanal-Sends; bricht der Client ab, beendet der Kontext den Send und
// damit den Upstream-Strom.
type Stream struct {
	ctx   context.Context
	ch    chan<- any
	model string
	kind  streamKind

	buf          []byte
	promptTokens int
	evalTokens   int
}

// NewChatStream baut den Sink fuer /api/chat.
func NewChatStream(ctx context.Context, ch chan<- any, model string) *Stream {
	return &Stream{ctx: ctx, ch: ch, model: model, kind: kindChat}
}

// NewGenerateStream baut den Sink fuer /api/generate.
func NewGenerateStream(ctx context.Context, ch chan<- any, model string) *Stream {
	return &Stream{ctx: ctx, ch: ch, model: model, kind: kindGenerate}
}

func (s *Stream) Write(p []byte) (int, error) {
	s.buf = append(s.buf, p...)

	for {
		idx := bytes.IndexByte(s.buf, '\n')
		if idx < 0 {
			return len(p), nil
		}
		line := bytes.TrimSuffix(s.buf[:idx], []byte("\r"))
		s.buf = s.buf[idx+1:]

		data, ok := bytes.CutPrefix(line, dataPrefix)
		if !ok || bytes.Equal(data, doneMarker) {
			continue
		}

		s.observeUsage(data)

		value, err := s.convert(data)
		if err != nil {
			// Unlesbare Chunks ueberspringen, der Strom laeuft weiter
			continue
		}

		select {
		case s.ch <- value:
		case <-s.ctx.Done():
			return 0, s.ctx.Err()
		}
	}
}

// Flush erfuellt den Sink-Vertrag; gepuffert wird nur zeilenweise.
func (s *Stream) Flush() {}

// observeUsage merkt sich die Token-Zaehler aus dem Strom. Der letzte
// Chunk einer llama-server-Antwort traegt usage.
func (s *Stream) observeUsage(data []byte) {
	var u struct {
		Usage *chatUsage `json:"usage"`
	}
	if err := json.Unmarshal(data, &u); err != nil || u.Usage == nil {
		return
	}
	s.promptTokens = u.Usage.PromptTokens
	s.evalTokens = u.Usage.CompletionTokens
}

func (s *Stream) convert(data []byte) (any, error) {
	if s.kind == kindChat {
		return FromChatChunk(s.model, data)
	}
	return FromCompletionChunk(s.model, data)
}

// Done baut die abschliessende NDJSON-Zeile mit den Token-Zaehlern
// des Stroms.
func (s *Stream) Done() any {
	if s.kind == kindChat {
		return ChatDone(s.model, s.promptTokens, s.evalTokens)
	}
	return GenerateDone(s.model, s.promptTokens, s.evalTokens)
}
