// server_telemetry.go - Telemetrie aus Engine-Ausgabe und Antworten
//
// Diese Datei enthaelt:
// - Telemetry: Kennzahlen der letzten Anfrage, von /stats ausgeliefert
// - Muster-Tabelle fuer llama.cpp-artige stdout-Zeilen
// - Payload-Parser fuer timings (llama-server) und usage (FLM)
package llm

import (
	"encoding/json"
	"regexp"
	"strconv"
	"sync"

	"github.com/lemonade-sdk/lemonade/api"
)

// Die Muster-Tabelle deckt die Timing-Zeilen ab, die llama-server und
// whisper-server nach jeder Anfrage drucken. Neue Engines ergaenzen
// hier ihr Muster statt ad hoc im Drain-Pfad zu suchen.
var (
	promptEvalPattern = regexp.MustCompile(`prompt eval time\s*=\s*([0-9.]+) ms\s*/\s*([0-9]+) tokens`)
	evalPattern       = regexp.MustCompile(`\beval time\s*=\s*[0-9.]+ ms\s*/\s*([0-9]+) (?:runs|tokens).*?([0-9.]+) tokens per second`)
)

// Telemetry sammelt die Kennzahlen der letzten Anfrage eines
// Wrapped-Servers. Quellen sind die stdout-Zeilen des Prozesses und
// die timings/usage-Felder der Antworten; die juengste Quelle gewinnt.
type Telemetry struct {
	mu sync.Mutex

	timeToFirstToken float64
	tokensPerSecond  float64
	inputTokens      int
	outputTokens     int
	decodeTokenTimes []float64
}

// ObserveLine prueft eine stdout-Zeile gegen die Muster-Tabelle.
func (t *Telemetry) ObserveLine(line string) {
	if m := promptEvalPattern.FindStringSubmatch(line); m != nil {
		ms, _ := strconv.ParseFloat(m[1], 64)
		n, _ := strconv.Atoi(m[2])
		t.mu.Lock()
		t.timeToFirstToken = ms / 1000.0
		t.inputTokens = n
		t.mu.Unlock()
		return
	}

	if m := evalPattern.FindStringSubmatch(line); m != nil {
		n, _ := strconv.Atoi(m[1])
		tps, _ := strconv.ParseFloat(m[2], 64)
		t.mu.Lock()
		t.outputTokens = n
		t.tokensPerSecond = tps
		t.mu.Unlock()
	}
}

// telemetryPayload sind die Felder, die Engines in ihre Antworten
// einbetten: llama-server liefert timings, FLM haengt die Kennzahlen
// an usage an.
type telemetryPayload struct {
	Timings *struct {
		PromptN            *int     `json:"prompt_n"`
		PredictedN         *int     `json:"predicted_n"`
		PromptMS           *float64 `json:"prompt_ms"`
		PredictedPerSecond *float64 `json:"predicted_per_second"`
	} `json:"timings"`
	Usage *struct {
		PromptTokens        *int     `json:"prompt_tokens"`
		CompletionTokens    *int     `json:"completion_tokens"`
		PrefillDurationTTFT *float64 `json:"prefill_duration_ttft"`
		DecodingSpeedTPS    *float64 `json:"decoding_speed_tps"`
	} `json:"usage"`
}

// ObservePayload liest timings bzw. usage aus einem Antwort-Body.
// Payloads ohne beide Felder werden ignoriert, damit ein spaeterer
// Chunk ohne Telemetrie die Werte nicht loescht.
func (t *Telemetry) ObservePayload(body []byte) {
	var p telemetryPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return
	}
	if p.Timings == nil && p.Usage == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if tm := p.Timings; tm != nil {
		if tm.PromptN != nil {
			t.inputTokens = *tm.PromptN
		}
		if tm.PredictedN != nil {
			t.outputTokens = *tm.PredictedN
		}
		if tm.PromptMS != nil {
			t.timeToFirstToken = *tm.PromptMS / 1000.0
		}
		if tm.PredictedPerSecond != nil {
			t.tokensPerSecond = *tm.PredictedPerSecond
		}
		return
	}

	u := p.Usage
	if u.PromptTokens != nil {
		t.inputTokens = *u.PromptTokens
	}
	if u.CompletionTokens != nil {
		t.outputTokens = *u.CompletionTokens
	}
	if u.PrefillDurationTTFT != nil {
		t.timeToFirstToken = *u.PrefillDurationTTFT
	}
	if u.DecodingSpeedTPS != nil {
		t.tokensPerSecond = *u.DecodingSpeedTPS
	}
}

// Snapshot gibt die Kennzahlen als Wire-Typ zurueck.
func (t *Telemetry) Snapshot() api.StatsResponse {
	t.mu.Lock()
	defer t.mu.Unlock()
	return api.StatsResponse{
		TimeToFirstToken: t.timeToFirstToken,
		TokensPerSecond:  t.tokensPerSecond,
		InputTokens:      t.inputTokens,
		OutputTokens:     t.outputTokens,
		DecodeTokenTimes: t.decodeTokenTimes,
	}
}
