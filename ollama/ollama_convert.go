// ollama_convert.go - Uebersetzung zwischen Ollama- und OpenAI-Format
//
// Diese Datei enthaelt:
// - die Options-Tabelle (Ollama-Name -> OpenAI-Name)
// - Request-Konverter: Chat, Generate, Embeddings, Image-Generation
// - Antwort-Konverter fuer komplette Antworten und Streaming-Chunks
//
// Die Konverter lesen aus den Engine-Antworten nur die Felder, die die
// Ollama-Form braucht; alles andere bleibt unangetastet.
package ollama

import (
	"cmp"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// optionNames bildet die Sampling-Optionen auf ihre OpenAI-Namen ab.
// Nur diese sechs werden uebersetzt, den Rest des options-Objekts
// verstehen die Engines nicht.
var optionNames = map[string]string{
	"temperature":    "temperature",
	"top_p":          "top_p",
	"seed":           "seed",
	"stop":           "stop",
	"num_predict":    "max_tokens",
	"repeat_penalty": "frequency_penalty",
}

// applyOptions uebertraegt erst das options-Objekt, dann die
// Top-Level-Werte; die gewinnen.
func applyOptions(dst map[string]any, opts map[string]any, s Sampling) {
	for ollamaName, openaiName := range optionNames {
		if v, ok := opts[ollamaName]; ok {
			dst[openaiName] = v
		}
	}

	if s.Temperature != nil {
		dst["temperature"] = *s.Temperature
	}
	if s.TopP != nil {
		dst["top_p"] = *s.TopP
	}
	if s.Seed != nil {
		dst["seed"] = *s.Seed
	}
	if s.Stop != nil {
		dst["stop"] = s.Stop
	}
	if s.NumPredict != nil {
		dst["max_tokens"] = *s.NumPredict
	}
	if s.RepeatPenalty != nil {
		dst["frequency_penalty"] = *s.RepeatPenalty
	}
}

// ToChatCompletion baut den OpenAI-Body fuer /v1/chat/completions.
// Bilder werden zu data-URLs im Content-Array, format "json" zu
// response_format und think zu enable_thinking.
func (r ChatRequest) ToChatCompletion(stream bool) ([]byte, error) {
	messages := make([]map[string]any, 0, len(r.Messages))
	for _, msg := range r.Messages {
		m := map[string]any{"role": msg.Role}

		if len(msg.Images) > 0 {
			parts := make([]map[string]any, 0, len(msg.Images)+1)
			if msg.Content != "" {
				parts = append(parts, map[string]any{"type": "text", "text": msg.Content})
			}
			for _, img := range msg.Images {
				parts = append(parts, map[string]any{
					"type": "image_url",
					"image_url": map[string]any{
						"url": "data:image/png;base64," + base64.StdEncoding.EncodeToString(img),
					},
				})
			}
			m["content"] = parts
		} else {
			m["content"] = msg.Content
		}

		if len(msg.ToolCalls) > 0 {
			m["tool_calls"] = msg.ToolCalls
		}
		messages = append(messages, m)
	}

	req := map[string]any{
		"model":    Normalize(r.Model),
		"messages": messages,
		"stream":   stream,
	}
	if len(r.Tools) > 0 {
		req["tools"] = r.Tools
	}

	var format string
	if err := json.Unmarshal(r.Format, &format); err == nil && format == "json" {
		req["response_format"] = map[string]any{"type": "json_object"}
	}
	if len(r.Think) > 0 {
		req["enable_thinking"] = r.Think
	}

	applyOptions(req, r.Options, r.Sampling)

	return json.Marshal(req)
}

// ToCompletion baut den OpenAI-Body fuer /v1/completions.
func (r GenerateRequest) ToCompletion(stream bool) ([]byte, error) {
	req := map[string]any{
		"model":  Normalize(r.Model),
		"prompt": r.Prompt,
		"stream": stream,
	}
	applyOptions(req, r.Options, r.Sampling)
	return json.Marshal(req)
}

// optionNumber liest eine Zahl aus dem options-Objekt.
func optionNumber(opts map[string]any, key string) (float64, bool) {
	v, ok := opts[key]
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}

// ToImageGeneration baut den OpenAI-Body fuer /v1/images/generations.
// Die SD-Parameter stehen wahlweise direkt im Request oder im
// options-Objekt; der direkte Wert gewinnt.
func (r GenerateRequest) ToImageGeneration() ([]byte, error) {
	width := int64(r.Width)
	if width == 0 {
		if v, ok := optionNumber(r.Options, "width"); ok {
			width = int64(v)
		}
	}
	if width == 0 {
		width = 512
	}

	height := int64(r.Height)
	if height == 0 {
		if v, ok := optionNumber(r.Options, "height"); ok {
			height = int64(v)
		}
	}
	if height == 0 {
		height = 512
	}

	steps := int64(r.Steps)
	if steps == 0 {
		if v, ok := optionNumber(r.Options, "steps"); ok {
			steps = int64(v)
		}
	}

	cfgScale := r.CfgScale
	if cfgScale == 0 {
		if v, ok := optionNumber(r.Options, "cfg_scale"); ok {
			cfgScale = v
		}
	}

	seed := -1
	if r.Seed != nil {
		seed = *r.Seed
	} else if v, ok := optionNumber(r.Options, "seed"); ok {
		seed = int(v)
	}

	req := map[string]any{
		"model":           Normalize(r.Model),
		"prompt":          r.Prompt,
		"size":            fmt.Sprintf("%dx%d", width, height),
		"response_format": "b64_json",
	}
	if steps > 0 {
		req["steps"] = steps
	}
	if cfgScale > 0 {
		req["cfg_scale"] = cfgScale
	}
	if seed >= 0 {
		req["seed"] = seed
	}

	return json.Marshal(req)
}

// ToEmbeddings baut den OpenAI-Body fuer /v1/embeddings.
func (r EmbedRequest) ToEmbeddings() ([]byte, error) {
	return json.Marshal(map[string]any{
		"model": Normalize(r.Model),
		"input": r.Input,
	})
}

// ToEmbeddings baut den OpenAI-Body aus dem Legacy-Format; prompt
// gewinnt gegen input.
func (r EmbeddingRequest) ToEmbeddings() ([]byte, error) {
	input := r.Input
	if r.Prompt != "" {
		input = r.Prompt
	}
	return json.Marshal(map[string]any{
		"model": Normalize(r.Model),
		"input": input,
	})
}

// Die OpenAI-Antwortformen, soweit die Uebersetzung sie liest.
type chatCompletion struct {
	Choices []chatChoice `json:"choices"`
	Usage   *chatUsage   `json:"usage"`
	Timings *chatTimings `json:"timings"`
}

type chatChoice struct {
	Message      *chatMessage `json:"message"`
	Delta        *chatMessage `json:"delta"`
	Text         *string      `json:"text"`
	FinishReason string       `json:"finish_reason"`
}

type chatMessage struct {
	Role             string          `json:"role"`
	Content          string          `json:"content"`
	ReasoningContent string          `json:"reasoning_content"`
	ToolCalls        json.RawMessage `json:"tool_calls"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type chatTimings struct {
	PromptN     int     `json:"prompt_n"`
	PredictedN  int     `json:"predicted_n"`
	PromptMS    float64 `json:"prompt_ms"`
	PredictedMS float64 `json:"predicted_ms"`
}

// metricsFrom baut die Ollama-Metriken aus usage und timings. Die
// timings von llama-server sind genauer und gewinnen.
func metricsFrom(u *chatUsage, t *chatTimings) Metrics {
	var m Metrics
	if u != nil {
		m.PromptEvalCount = u.PromptTokens
		m.EvalCount = u.CompletionTokens
	}
	if t != nil {
		m.PromptEvalCount = t.PromptN
		m.EvalCount = t.PredictedN
		m.PromptEvalDuration = time.Duration(t.PromptMS * float64(time.Millisecond))
		m.EvalDuration = time.Duration(t.PredictedMS * float64(time.Millisecond))
	}
	return m
}

// FromChatCompletion uebersetzt die komplette OpenAI-Chat-Antwort in
// die Ollama-Form. reasoning_content wird zu thinking.
func FromChatCompletion(model string, body []byte) (ChatResponse, error) {
	var oc chatCompletion
	if err := json.Unmarshal(body, &oc); err != nil {
		return ChatResponse{}, fmt.Errorf("engine-antwort nicht lesbar: %w", err)
	}

	resp := ChatResponse{
		Model:     model,
		CreatedAt: Epoch,
		Message:   Message{Role: "assistant"},
		Done:      true,
	}

	if len(oc.Choices) > 0 {
		choice := oc.Choices[0]
		resp.DoneReason = cmp.Or(choice.FinishReason, "stop")
		if msg := choice.Message; msg != nil {
			resp.Message.Role = cmp.Or(msg.Role, "assistant")
			resp.Message.Content = msg.Content
			resp.Message.Thinking = msg.ReasoningContent
			resp.Message.ToolCalls = msg.ToolCalls
		}
	}

	resp.Metrics = metricsFrom(oc.Usage, oc.Timings)
	return resp, nil
}

// FromChatChunk uebersetzt einen OpenAI-SSE-Chunk in einen
// Ollama-Chat-Chunk. Ein finish_reason im Chunk setzt done.
func FromChatChunk(model string, data []byte) (ChatResponse, error) {
	var oc chatCompletion
	if err := json.Unmarshal(data, &oc); err != nil {
		return ChatResponse{}, err
	}

	resp := ChatResponse{
		Model:     model,
		CreatedAt: Epoch,
		Message:   Message{Role: "assistant"},
	}

	if len(oc.Choices) > 0 {
		choice := oc.Choices[0]
		if delta := choice.Delta; delta != nil {
			resp.Message.Role = cmp.Or(delta.Role, "assistant")
			resp.Message.Content = delta.Content
			resp.Message.Thinking = delta.ReasoningContent
			resp.Message.ToolCalls = delta.ToolCalls
		}
		if choice.FinishReason != "" {
			resp.Done = true
			resp.DoneReason = choice.FinishReason
		}
	}

	return resp, nil
}

// FromCompletion uebersetzt die OpenAI-Completion-Antwort in die
// Generate-Form.
func FromCompletion(model string, body []byte) (GenerateResponse, error) {
	var oc chatCompletion
	if err := json.Unmarshal(body, &oc); err != nil {
		return GenerateResponse{}, fmt.Errorf("engine-antwort nicht lesbar: %w", err)
	}

	resp := GenerateResponse{
		Model:      model,
		CreatedAt:  Epoch,
		Done:       true,
		DoneReason: "stop",
	}
	if len(oc.Choices) > 0 {
		if t := oc.Choices[0].Text; t != nil {
			resp.Response = *t
		}
	}

	resp.Metrics = metricsFrom(oc.Usage, oc.Timings)
	return resp, nil
}

// FromCompletionChunk uebersetzt einen Completion-SSE-Chunk. Engines
// streamen auf /v1/completions teils text-Felder, teils Chat-Deltas;
// beide Formen werden akzeptiert.
func FromCompletionChunk(model string, data []byte) (GenerateResponse, error) {
	var oc chatCompletion
	if err := json.Unmarshal(data, &oc); err != nil {
		return GenerateResponse{}, err
	}

	resp := GenerateResponse{Model: model, CreatedAt: Epoch}
	if len(oc.Choices) > 0 {
		choice := oc.Choices[0]
		switch {
		case choice.Text != nil:
			resp.Response = *choice.Text
		case choice.Delta != nil:
			resp.Response = choice.Delta.Content
		}
		if choice.FinishReason != "" {
			resp.Done = true
			resp.DoneReason = choice.FinishReason
		}
	}

	return resp, nil
}

// FromEmbeddings uebersetzt die OpenAI-Embeddings-Antwort in die
// /api/embed-Form, eine Liste von Embeddings.
func FromEmbeddings(model string, body []byte) (EmbedResponse, error) {
	var oe struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &oe); err != nil {
		return EmbedResponse{}, fmt.Errorf("engine-antwort nicht lesbar: %w", err)
	}

	resp := EmbedResponse{Model: model, Embeddings: make([][]float32, 0, len(oe.Data))}
	for _, d := range oe.Data {
		resp.Embeddings = append(resp.Embeddings, d.Embedding)
	}
	return resp, nil
}

// FromEmbedding uebersetzt in die Legacy-Form mit einem einzelnen
// Embedding.
func FromEmbedding(model string, body []byte) (EmbeddingResponse, error) {
	var oe struct {
		Data []struct {
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &oe); err != nil {
		return EmbeddingResponse{}, fmt.Errorf("engine-antwort nicht lesbar: %w", err)
	}

	resp := EmbeddingResponse{Model: model, Embedding: []float64{}}
	if len(oe.Data) > 0 {
		resp.Embedding = oe.Data[0].Embedding
	}
	return resp, nil
}

// FromImageGeneration uebersetzt die OpenAI-Images-Antwort in einen
// Generate-Abschluss mit Base64-Bild.
func FromImageGeneration(model string, body []byte) (GenerateResponse, error) {
	var oi struct {
		Data []struct {
			B64JSON string `json:"b64_json"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &oi); err != nil {
		return GenerateResponse{}, fmt.Errorf("engine-antwort nicht lesbar: %w", err)
	}

	resp := GenerateResponse{
		Model:     model,
		CreatedAt: Epoch,
		Done:      true,
	}
	if len(oi.Data) > 0 {
		resp.Image = oi.Data[0].B64JSON
	}
	return resp, nil
}

// ChatDone baut die abschliessende NDJSON-Zeile von /api/chat mit den
// Token-Zaehlern des Stroms.
func ChatDone(model string, promptTokens, evalTokens int) ChatResponse {
	return ChatResponse{
		Model:      model,
		CreatedAt:  Epoch,
		Message:    Message{Role: "assistant"},
		Done:       true,
		DoneReason: "stop",
		Metrics: Metrics{
			PromptEvalCount: promptTokens,
			EvalCount:       evalTokens,
		},
	}
}

// GenerateDone ist das Gegenstueck fuer /api/generate.
func GenerateDone(model string, promptTokens, evalTokens int) GenerateResponse {
	return GenerateResponse{
		Model:      model,
		CreatedAt:  Epoch,
		Done:       true,
		DoneReason: "stop",
		Metrics: Metrics{
			PromptEvalCount: promptTokens,
			EvalCount:       evalTokens,
		},
	}
}

// ChatUnload ist die Antwort auf die Unload-Konvention von /api/chat.
func ChatUnload(model string) ChatResponse {
	return ChatResponse{
		Model:      model,
		CreatedAt:  Epoch,
		Message:    Message{Role: "assistant"},
		Done:       true,
		DoneReason: "unload",
	}
}

// GenerateUnload ist das Gegenstueck fuer /api/generate.
func GenerateUnload(model string) GenerateResponse {
	return GenerateResponse{
		Model:      model,
		CreatedAt:  Epoch,
		Done:       true,
		DoneReason: "unload",
	}
}
