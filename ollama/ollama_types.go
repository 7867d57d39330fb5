// ollama_types.go - Wire-Typen der Ollama-kompatiblen Oberflaeche
//
// Diese Datei enthaelt:
// - ChatRequest/ChatResponse und GenerateRequest/GenerateResponse
// - Message, ImageData, Metrics, Sampling und die Duration-Konvention
// - Embed-, Show-, Pull-, Delete-, Tags- und Ps-Typen
//
// Die Typen spiegeln das Ollama-Wire-Format. Das Gateway fuehrt keine
// Manifeste und keine Blobs; wo Clients Digests oder Zeitstempel
// erwarten, stehen feste Platzhalter (ollama_details.go). Die
// Uebersetzung in OpenAI-Requests liegt in ollama_convert.go.
package ollama

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"time"
)

// Version meldet sich gegenueber Ollama-Clients als diese Version,
// damit deren Mindestversions-Checks passieren.
const Version = "0.16.1"

// Duration ist die JSON-Form von keep_alive: Clients schicken
// Sekunden als Zahl oder einen Duration-String wie "5m".
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	if d.Duration < 0 {
		return []byte("-1"), nil
	}
	return []byte("\"" + d.Duration.String() + "\""), nil
}

func (d *Duration) UnmarshalJSON(b []byte) (err error) {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	d.Duration = 5 * time.Minute

	switch t := v.(type) {
	case float64:
		if t < 0 {
			d.Duration = time.Duration(math.MaxInt64)
		} else {
			d.Duration = time.Duration(t * float64(time.Second))
		}
	case string:
		d.Duration, err = time.ParseDuration(t)
		if err != nil {
			return err
		}
		if d.Duration < 0 {
			d.Duration = time.Duration(math.MaxInt64)
		}
	default:
		return fmt.Errorf("unsupported type: '%s'", reflect.TypeOf(v))
	}

	return nil
}

// ImageData ist ein Bild in einem Chat-Turn. Auf dem Wire steht
// Base64; encoding/json kodiert []byte genau so.
type ImageData []byte

// Message ist ein einzelner Chat-Turn. Thinking traegt den
// Reasoning-Anteil der Antwort, Images die Bilder multimodaler
// Requests. ToolCalls laufen unveraendert durch.
type Message struct {
	Role      string          `json:"role"`
	Content   string          `json:"content"`
	Thinking  string          `json:"thinking,omitempty"`
	Images    []ImageData     `json:"images,omitempty"`
	ToolCalls json.RawMessage `json:"tool_calls,omitempty"`
}

// Sampling sind die Optionen, die das Gateway von Ollama- auf
// OpenAI-Namen abbildet. Ollama-Clients schicken sie regulaer im
// options-Objekt, manche zusaetzlich direkt im Request; der direkte
// Wert gewinnt.
type Sampling struct {
	Temperature   *float64 `json:"temperature,omitempty"`
	TopP          *float64 `json:"top_p,omitempty"`
	Seed          *int     `json:"seed,omitempty"`
	Stop          any      `json:"stop,omitempty"`
	NumPredict    *int     `json:"num_predict,omitempty"`
	RepeatPenalty *float64 `json:"repeat_penalty,omitempty"`
}

// ChatRequest ist der Body von POST /api/chat.
type ChatRequest struct {
	Model     string          `json:"model"`
	Messages  []Message       `json:"messages"`
	Stream    *bool           `json:"stream,omitempty"`
	Format    json.RawMessage `json:"format,omitempty"`
	KeepAlive *Duration       `json:"keep_alive,omitempty"`
	Tools     json.RawMessage `json:"tools,omitempty"`
	Think     json.RawMessage `json:"think,omitempty"`
	Options   map[string]any  `json:"options,omitempty"`

	Sampling
}

// Streaming meldet, ob die Antwort als NDJSON-Strom gehen soll.
// Ollama streamt per Default.
func (r ChatRequest) Streaming() bool {
	return r.Stream == nil || *r.Stream
}

// UnloadRequested erkennt die Ollama-Unload-Konvention: keine
// Messages und keep_alive 0.
func (r ChatRequest) UnloadRequested() bool {
	return len(r.Messages) == 0 && r.KeepAlive != nil && r.KeepAlive.Duration == 0
}

// ChatResponse ist eine Antwort bzw. ein NDJSON-Chunk von /api/chat.
type ChatResponse struct {
	Model      string    `json:"model"`
	CreatedAt  time.Time `json:"created_at"`
	Message    Message   `json:"message"`
	Done       bool      `json:"done"`
	DoneReason string    `json:"done_reason,omitempty"`

	Metrics
}

// GenerateRequest ist der Body von POST /api/generate. Width, Height,
// Steps und CfgScale gelten fuer Image-Models; Clients duerfen sie
// auch im options-Objekt schicken.
type GenerateRequest struct {
	Model     string          `json:"model"`
	Prompt    string          `json:"prompt"`
	System    string          `json:"system,omitempty"`
	Stream    *bool           `json:"stream,omitempty"`
	Format    json.RawMessage `json:"format,omitempty"`
	KeepAlive *Duration       `json:"keep_alive,omitempty"`
	Options   map[string]any  `json:"options,omitempty"`

	Width    int32   `json:"width,omitempty"`
	Height   int32   `json:"height,omitempty"`
	Steps    int32   `json:"steps,omitempty"`
	CfgScale float64 `json:"cfg_scale,omitempty"`

	Sampling
}

func (r GenerateRequest) Streaming() bool {
	return r.Stream == nil || *r.Stream
}

// UnloadRequested erkennt die Unload-Konvention von /api/generate:
// leerer Prompt und keep_alive 0.
func (r GenerateRequest) UnloadRequested() bool {
	return r.Prompt == "" && r.KeepAlive != nil && r.KeepAlive.Duration == 0
}

// GenerateResponse ist eine Antwort bzw. ein NDJSON-Chunk von
// /api/generate. Image traegt das Base64-Ergebnis von Image-Models.
// Context bleibt leer, das Gateway fuehrt keinen Konversations-State.
type GenerateResponse struct {
	Model      string    `json:"model"`
	CreatedAt  time.Time `json:"created_at"`
	Response   string    `json:"response"`
	Thinking   string    `json:"thinking,omitempty"`
	Done       bool      `json:"done"`
	DoneReason string    `json:"done_reason,omitempty"`
	Context    []int     `json:"context,omitempty"`
	Image      string    `json:"image,omitempty"`

	Metrics
}

// Metrics sind die Ollama-Kennzahlen einer abgeschlossenen Antwort.
// Dauern stehen in Nanosekunden auf dem Wire.
type Metrics struct {
	TotalDuration      time.Duration `json:"total_duration,omitempty"`
	LoadDuration       time.Duration `json:"load_duration,omitempty"`
	PromptEvalCount    int           `json:"prompt_eval_count,omitempty"`
	PromptEvalDuration time.Duration `json:"prompt_eval_duration,omitempty"`
	EvalCount          int           `json:"eval_count,omitempty"`
	EvalDuration       time.Duration `json:"eval_duration,omitempty"`
}

// EmbedRequest ist der Body von POST /api/embed. Input ist ein String
// oder ein Array von Strings und geht unveraendert an die Engine.
type EmbedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"`
}

// EmbedResponse ist die Antwort von /api/embed.
type EmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`

	TotalDuration   time.Duration `json:"total_duration,omitempty"`
	LoadDuration    time.Duration `json:"load_duration,omitempty"`
	PromptEvalCount int           `json:"prompt_eval_count,omitempty"`
}

// EmbeddingRequest ist der Body des aelteren POST /api/embeddings.
// Das Legacy-Format schickt prompt statt input.
type EmbeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Input  any    `json:"input,omitempty"`
}

// EmbeddingResponse ist die Antwort des Legacy-Endpoints: ein
// einzelnes Embedding.
type EmbeddingResponse struct {
	Model     string    `json:"model"`
	Embedding []float64 `json:"embedding"`
}

// ListResponse ist die Antwort von GET /api/tags.
type ListResponse struct {
	Models []ListModelResponse `json:"models"`
}

// ListModelResponse ist ein Eintrag der Tags-Liste.
type ListModelResponse struct {
	Name       string       `json:"name"`
	Model      string       `json:"model"`
	ModifiedAt time.Time    `json:"modified_at"`
	Size       int64        `json:"size"`
	Digest     string       `json:"digest"`
	Details    ModelDetails `json:"details"`
}

// ProcessResponse ist die Antwort von GET /api/ps.
type ProcessResponse struct {
	Models []ProcessModelResponse `json:"models"`
}

// ProcessModelResponse ist ein geladenes Model in /api/ps. Name muss
// der sichtbare Model-Name sein, Clients zeigen ihn direkt an.
type ProcessModelResponse struct {
	Name      string       `json:"name"`
	Model     string       `json:"model"`
	Size      int64        `json:"size"`
	Digest    string       `json:"digest"`
	Details   ModelDetails `json:"details"`
	ExpiresAt time.Time    `json:"expires_at"`
	SizeVRAM  int64        `json:"size_vram"`
}

// ShowRequest ist der Body von POST /api/show. Aeltere Clients
// schicken name statt model.
type ShowRequest struct {
	Model string `json:"model"`
	Name  string `json:"name"`
}

// ShowResponse ist die Antwort von POST /api/show. Liegt die
// GGUF-Datei lokal, ersetzt ApplyGGUF die Platzhalter in ModelInfo
// und Details durch echte Metadaten.
type ShowResponse struct {
	Modelfile  string         `json:"modelfile"`
	Parameters string         `json:"parameters"`
	Template   string         `json:"template"`
	Details    ModelDetails   `json:"details"`
	ModelInfo  map[string]any `json:"model_info"`
}

// DeleteRequest ist der Body von DELETE /api/delete.
type DeleteRequest struct {
	Model string `json:"model"`
	Name  string `json:"name"`
}

// PullRequest ist der Body von POST /api/pull.
type PullRequest struct {
	Model  string `json:"model"`
	Name   string `json:"name"`
	Stream *bool  `json:"stream,omitempty"`
}

func (r PullRequest) Streaming() bool {
	return r.Stream == nil || *r.Stream
}

// ProgressResponse ist ein NDJSON-Chunk des Pull-Stroms.
type ProgressResponse struct {
	Status    string `json:"status"`
	Digest    string `json:"digest,omitempty"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
}

// VersionResponse ist die Antwort von GET /api/version.
type VersionResponse struct {
	Version string `json:"version"`
}
