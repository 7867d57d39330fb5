// ollama_convert_test.go - Tests fuer die Ollama/OpenAI-Uebersetzung
package ollama

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func asMap(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(body, &m), "request-body nicht lesbar")
	return m
}

func TestToChatCompletion(t *testing.T) {
	req := ChatRequest{
		Model: "Qwen3-0.6B-GGUF:latest",
		Messages: []Message{
			{Role: "system", Content: "sei knapp"},
			{Role: "user", Content: "hallo"},
		},
		Options: map[string]any{"temperature": 0.2, "num_predict": float64(10)},
		Sampling: Sampling{
			Temperature: ptr(0.9),
			Stop:        []any{"###"},
		},
	}

	body, err := req.ToChatCompletion(true)
	require.NoError(t, err)
	got := asMap(t, body)

	assert.Equal(t, "Qwen3-0.6B-GGUF", got["model"], "tag muss abgestreift sein")
	assert.Equal(t, true, got["stream"])
	// Top-Level schlaegt das options-Objekt
	assert.Equal(t, 0.9, got["temperature"])
	assert.Equal(t, float64(10), got["max_tokens"])
	assert.Equal(t, []any{"###"}, got["stop"])
	assert.NotContains(t, got, "num_predict", "ollama-namen duerfen nicht durchsickern")

	msgs, ok := got["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 2)
	assert.Equal(t, map[string]any{"role": "user", "content": "hallo"}, msgs[1])
}

func TestToChatCompletionImages(t *testing.T) {
	req := ChatRequest{
		Model: "Gemma-3-4b-it-GGUF",
		Messages: []Message{
			{Role: "user", Content: "was ist das", Images: []ImageData{ImageData("fakepng")}},
		},
	}

	body, err := req.ToChatCompletion(false)
	require.NoError(t, err)
	got := asMap(t, body)

	msgs := got["messages"].([]any)
	parts, ok := msgs[0].(map[string]any)["content"].([]any)
	require.True(t, ok, "content muss ein parts-array sein")
	require.Len(t, parts, 2)
	assert.Equal(t, map[string]any{"type": "text", "text": "was ist das"}, parts[0])
	assert.Equal(t, map[string]any{
		"type":      "image_url",
		"image_url": map[string]any{"url": "data:image/png;base64,ZmFrZXBuZw=="},
	}, parts[1])
}

func TestToChatCompletionFormatAndThink(t *testing.T) {
	req := ChatRequest{
		Model:    "Qwen3-0.6B-GGUF",
		Messages: []Message{{Role: "user", Content: "json bitte"}},
		Format:   json.RawMessage(`"json"`),
		Think:    json.RawMessage(`false`),
	}

	body, err := req.ToChatCompletion(false)
	require.NoError(t, err)
	got := asMap(t, body)

	assert.Equal(t, map[string]any{"type": "json_object"}, got["response_format"])
	assert.Equal(t, false, got["enable_thinking"])
}

func TestToChatCompletionSchemaFormatIgnored(t *testing.T) {
	req := ChatRequest{
		Model:    "Qwen3-0.6B-GGUF",
		Messages: []Message{{Role: "user", Content: "hi"}},
		Format:   json.RawMessage(`{"type":"object"}`),
	}

	body, err := req.ToChatCompletion(false)
	require.NoError(t, err)
	assert.NotContains(t, asMap(t, body), "response_format", "nur format \"json\" wird uebersetzt")
}

func TestToCompletion(t *testing.T) {
	req := GenerateRequest{
		Model:    "Qwen3-0.6B-GGUF:latest",
		Prompt:   "es war einmal",
		Sampling: Sampling{NumPredict: ptr(32)},
	}

	body, err := req.ToCompletion(false)
	require.NoError(t, err)
	got := asMap(t, body)

	assert.Equal(t, "Qwen3-0.6B-GGUF", got["model"])
	assert.Equal(t, "es war einmal", got["prompt"])
	assert.Equal(t, false, got["stream"])
	assert.Equal(t, float64(32), got["max_tokens"])
}

func TestToImageGeneration(t *testing.T) {
	cases := []struct {
		name string
		req  GenerateRequest
		want map[string]any
	}{
		{
			name: "Defaults",
			req:  GenerateRequest{Model: "SD-1.5", Prompt: "ein apfel"},
			want: map[string]any{
				"model":           "SD-1.5",
				"prompt":          "ein apfel",
				"size":            "512x512",
				"response_format": "b64_json",
			},
		},
		{
			name: "Direkte Felder",
			req: GenerateRequest{
				Model: "SD-1.5", Prompt: "ein apfel",
				Width: 768, Height: 512, Steps: 20, CfgScale: 7.5,
				Sampling: Sampling{Seed: ptr(42)},
			},
			want: map[string]any{
				"model":           "SD-1.5",
				"prompt":          "ein apfel",
				"size":            "768x512",
				"response_format": "b64_json",
				"steps":           float64(20),
				"cfg_scale":       7.5,
				"seed":            float64(42),
			},
		},
		{
			name: "Werte aus options",
			req: GenerateRequest{
				Model: "SD-1.5", Prompt: "ein apfel",
				Options: map[string]any{
					"width": float64(256), "height": float64(256),
					"steps": float64(4), "seed": float64(7),
				},
			},
			want: map[string]any{
				"model":           "SD-1.5",
				"prompt":          "ein apfel",
				"size":            "256x256",
				"response_format": "b64_json",
				"steps":           float64(4),
				"seed":            float64(7),
			},
		},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			body, err := tt.req.ToImageGeneration()
			require.NoError(t, err)
			assert.Equal(t, tt.want, asMap(t, body))
		})
	}
}

func TestToEmbeddingsPromptWins(t *testing.T) {
	req := EmbeddingRequest{Model: "nomic", Prompt: "hallo", Input: "ignoriert"}
	body, err := req.ToEmbeddings()
	require.NoError(t, err)
	assert.Equal(t, "hallo", asMap(t, body)["input"])
}

func TestFromChatCompletion(t *testing.T) {
	body := []byte(`{
		"choices": [{
			"message": {"role": "assistant", "content": "hallo", "reasoning_content": "denk", "tool_calls": [{"id": "c1"}]},
			"finish_reason": "length"
		}],
		"usage": {"prompt_tokens": 5, "completion_tokens": 9},
		"timings": {"prompt_n": 6, "predicted_n": 10, "prompt_ms": 12.5, "predicted_ms": 250}
	}`)

	resp, err := FromChatCompletion("Qwen3-0.6B-GGUF", body)
	require.NoError(t, err)

	assert.Equal(t, "Qwen3-0.6B-GGUF", resp.Model)
	assert.True(t, resp.Done)
	assert.Equal(t, "length", resp.DoneReason)
	assert.Equal(t, "hallo", resp.Message.Content)
	assert.Equal(t, "denk", resp.Message.Thinking)
	assert.JSONEq(t, `[{"id":"c1"}]`, string(resp.Message.ToolCalls))
	// timings gewinnen gegen usage
	assert.Equal(t, 6, resp.PromptEvalCount)
	assert.Equal(t, 10, resp.EvalCount)
	assert.Equal(t, int64(12500000), int64(resp.PromptEvalDuration))
	assert.Equal(t, int64(250000000), int64(resp.EvalDuration))
}

func TestFromChatCompletionEmptyChoices(t *testing.T) {
	resp, err := FromChatCompletion("m", []byte(`{"choices": []}`))
	require.NoError(t, err)

	assert.True(t, resp.Done)
	assert.Empty(t, resp.DoneReason, "ohne choice kein done_reason")
	assert.Equal(t, "assistant", resp.Message.Role)
}

func TestFromChatCompletionBadBody(t *testing.T) {
	_, err := FromChatCompletion("m", []byte("nicht json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine-antwort nicht lesbar")
}

func TestFromChatChunk(t *testing.T) {
	resp, err := FromChatChunk("m", []byte(`{"choices":[{"delta":{"content":"hal"}}]}`))
	require.NoError(t, err)
	assert.Equal(t, "hal", resp.Message.Content)
	assert.False(t, resp.Done)

	resp, err = FromChatChunk("m", []byte(`{"choices":[{"delta":{},"finish_reason":"stop"}]}`))
	require.NoError(t, err)
	assert.True(t, resp.Done)
	assert.Equal(t, "stop", resp.DoneReason)
}

func TestFromCompletion(t *testing.T) {
	resp, err := FromCompletion("m", []byte(`{"choices":[{"text":"es war"}],"usage":{"prompt_tokens":3,"completion_tokens":2}}`))
	require.NoError(t, err)
	assert.Equal(t, "es war", resp.Response)
	assert.Equal(t, "stop", resp.DoneReason)
	assert.Equal(t, 3, resp.PromptEvalCount)
}

func TestFromCompletionChunk(t *testing.T) {
	// text-Form
	resp, err := FromCompletionChunk("m", []byte(`{"choices":[{"text":"ab"}]}`))
	require.NoError(t, err)
	assert.Equal(t, "ab", resp.Response)

	// Chat-Delta-Form
	resp, err = FromCompletionChunk("m", []byte(`{"choices":[{"delta":{"content":"cd"}}]}`))
	require.NoError(t, err)
	assert.Equal(t, "cd", resp.Response)
}

func TestFromEmbeddings(t *testing.T) {
	resp, err := FromEmbeddings("nomic", []byte(`{"data":[{"embedding":[0.1,0.2]},{"embedding":[0.3]}]}`))
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0.1, 0.2}, {0.3}}, resp.Embeddings)
}

func TestFromEmbeddingLegacy(t *testing.T) {
	resp, err := FromEmbedding("nomic", []byte(`{"data":[{"embedding":[0.5]}]}`))
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5}, resp.Embedding)

	// Leere Antwort liefert ein leeres Array, kein null
	resp, err = FromEmbedding("nomic", []byte(`{"data":[]}`))
	require.NoError(t, err)
	assert.NotNil(t, resp.Embedding)
	assert.Empty(t, resp.Embedding)
}

func TestFromImageGeneration(t *testing.T) {
	resp, err := FromImageGeneration("SD-1.5", []byte(`{"data":[{"b64_json":"QUJD"}]}`))
	require.NoError(t, err)
	assert.True(t, resp.Done)
	assert.Equal(t, "QUJD", resp.Image)
}

func TestDoneBuilders(t *testing.T) {
	done := ChatDone("m", 4, 8)
	raw, err := json.Marshal(done)
	require.NoError(t, err)

	got := asMap(t, raw)
	assert.Equal(t, "2024-01-01T00:00:00Z", got["created_at"], "fester zeitstempel")
	assert.Equal(t, "stop", got["done_reason"])
	assert.Equal(t, float64(4), got["prompt_eval_count"])
	assert.Equal(t, float64(8), got["eval_count"])

	unload := ChatUnload("m")
	assert.Equal(t, "unload", unload.DoneReason)
	assert.True(t, unload.Done)

	gu := GenerateUnload("m")
	assert.Equal(t, "unload", gu.DoneReason)
}
