// ollama_stream_test.go - Tests fuer die SSE-zu-NDJSON-Umsetzung
package ollama

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// drain liest alle bereits gepufferten Werte aus dem Kanal.
func drain(ch chan any) []any {
	var out []any
	for {
		select {
		case v := <-ch:
			out = append(out, v)
		default:
			return out
		}
	}
}

func TestChatStream(t *testing.T) {
	ch := make(chan any, 16)
	s := NewChatStream(context.Background(), ch, "Qwen3-0.6B-GGUF")

	input := "data: {\"choices\":[{\"delta\":{\"role\":\"assistant\",\"content\":\"ha\"}}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"llo\"}}],\"usage\":{\"prompt_tokens\":3,\"completion_tokens\":2}}\n\n" +
		"data: [DONE]\n\n"

	// Haeppchenweise schreiben, quer ueber Zeilengrenzen
	for i := 0; i < len(input); i += 7 {
		end := min(i+7, len(input))
		_, err := s.Write([]byte(input[i:end]))
		require.NoError(t, err)
	}

	values := drain(ch)
	require.Len(t, values, 2, "[DONE] und Leerzeilen duerfen keine Werte erzeugen")

	first, ok := values[0].(ChatResponse)
	require.True(t, ok)
	assert.Equal(t, "ha", first.Message.Content)
	assert.False(t, first.Done)

	second := values[1].(ChatResponse)
	assert.Equal(t, "llo", second.Message.Content)

	done, ok := s.Done().(ChatResponse)
	require.True(t, ok)
	assert.True(t, done.Done)
	assert.Equal(t, "stop", done.DoneReason)
	assert.Equal(t, 3, done.PromptEvalCount)
	assert.Equal(t, 2, done.EvalCount)
}

func TestGenerateStream(t *testing.T) {
	ch := make(chan any, 16)
	s := NewGenerateStream(context.Background(), ch, "Qwen3-0.6B-GGUF")

	_, err := s.Write([]byte("data: {\"choices\":[{\"text\":\"es \"}]}\n"))
	require.NoError(t, err)
	_, err = s.Write([]byte("data: {\"choices\":[{\"text\":\"war\",\"finish_reason\":\"stop\"}]}\n"))
	require.NoError(t, err)

	values := drain(ch)
	require.Len(t, values, 2)

	first := values[0].(GenerateResponse)
	assert.Equal(t, "es ", first.Response)

	second := values[1].(GenerateResponse)
	assert.Equal(t, "war", second.Response)
	assert.True(t, second.Done)

	done := s.Done().(GenerateResponse)
	assert.True(t, done.Done)
}

func TestStreamSkipsNoise(t *testing.T) {
	ch := make(chan any, 16)
	s := NewChatStream(context.Background(), ch, "m")

	noise := ": kommentar\n" +
		"event: message\n" +
		"data: kein json\n" +
		"\r\n" +
		"data: [DONE]\n"
	_, err := s.Write([]byte(noise))
	require.NoError(t, err)

	assert.Empty(t, drain(ch))
}

func TestStreamContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Kein Leser am Kanal; ohne die Kontext-Wache wuerde Write haengen
	s := NewChatStream(ctx, make(chan any), "m")
	_, err := s.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"x\"}}]}\n"))
	assert.ErrorIs(t, err, context.Canceled)
}
