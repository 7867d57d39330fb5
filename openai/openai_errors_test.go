// openai_errors_test.go - Tests fuer die Model-Lade-Fehlerklassen
package openai

import (
	"errors"
	"strings"
	"testing"
)

func TestNewModelErrorFiltered(t *testing.T) {
	status, resp := NewModelError("Qwen3-0.6B-FLM", errors.New("egal"), ModelErrorInfo{
		FilterReason: "The flm recipe requires a Ryzen AI NPU and is only supported on Windows.",
	})

	if status != 404 {
		t.Errorf("Status = %d, erwartet 404", status)
	}
	if resp.Error.Type != "model_not_supported" || resp.Error.Code != "model_not_supported" {
		t.Errorf("Type/Code = %q/%q", resp.Error.Type, resp.Error.Code)
	}
	want := "Model 'Qwen3-0.6B-FLM' is not available on this system. The flm recipe requires a Ryzen AI NPU and is only supported on Windows."
	if resp.Error.Message != want {
		t.Errorf("Message = %q", resp.Error.Message)
	}
	if resp.Error.Param != "model" || resp.Error.RequestedModel != "Qwen3-0.6B-FLM" {
		t.Errorf("Param/RequestedModel = %q/%q", resp.Error.Param, resp.Error.RequestedModel)
	}
}

func TestNewModelErrorNotFound(t *testing.T) {
	status, resp := NewModelError("Qwen3-0.6b", errors.New("egal"), ModelErrorInfo{
		Exists:    false,
		Closest:   "Qwen3-0.6B-GGUF",
		Available: []string{"Llama-3.2-1B-Instruct-GGUF", "Qwen3-0.6B-GGUF", "Gemma-3-4b-it-GGUF", "Phi-4-Mini-GGUF", "Qwen3-4B-GGUF"},
	})

	if status != 404 {
		t.Errorf("Status = %d, erwartet 404", status)
	}
	if resp.Error.Type != "model_not_found" {
		t.Errorf("Type = %q", resp.Error.Type)
	}
	want := "Model 'Qwen3-0.6b' was not found. Did you mean 'Qwen3-0.6B-GGUF'? " +
		"Available models include: 'Gemma-3-4b-it-GGUF', 'Llama-3.2-1B-Instruct-GGUF', 'Phi-4-Mini-GGUF', and 2 more. " +
		"Use 'lemonade list' or GET /api/v1/models?show_all=true to see all available models."
	if resp.Error.Message != want {
		t.Errorf("Message = %q,\nerwartet  %q", resp.Error.Message, want)
	}
}

func TestNewModelErrorNotFoundMinimal(t *testing.T) {
	_, resp := NewModelError("X", nil, ModelErrorInfo{})

	want := "Model 'X' was not found. Use 'lemonade list' or GET /api/v1/models?show_all=true to see all available models."
	if resp.Error.Message != want {
		t.Errorf("Message = %q", resp.Error.Message)
	}
}

func TestNewModelErrorInvalidated(t *testing.T) {
	loadErr := errors.New("Model 'Qwen3-0.6B-FLM' was invalidated: FLM upgrade. Please download the model again.")
	status, resp := NewModelError("Qwen3-0.6B-FLM", loadErr, ModelErrorInfo{Exists: true})

	if status != 500 {
		t.Errorf("Status = %d, erwartet 500", status)
	}
	if resp.Error.Type != "model_invalidated" {
		t.Errorf("Type = %q", resp.Error.Type)
	}
	if !strings.Contains(resp.Error.Message, "needs to be re-downloaded") {
		t.Errorf("Message = %q", resp.Error.Message)
	}
	if !strings.Contains(resp.Error.Message, "'lemonade pull Qwen3-0.6B-FLM'") {
		t.Errorf("Message ohne Pull-Hinweis: %q", resp.Error.Message)
	}
}

func TestNewModelErrorLoadFailure(t *testing.T) {
	status, resp := NewModelError("Qwen3-0.6B-GGUF", errors.New("exit status 1"), ModelErrorInfo{Exists: true})

	if status != 500 {
		t.Errorf("Status = %d, erwartet 500", status)
	}
	if resp.Error.Type != "model_load_error" {
		t.Errorf("Type = %q", resp.Error.Type)
	}
	if resp.Error.Message != "Failed to load model 'Qwen3-0.6B-GGUF': exit status 1" {
		t.Errorf("Message = %q", resp.Error.Message)
	}
}

func TestStreamError(t *testing.T) {
	got := string(StreamError("Model not loaded: X", "model_not_loaded"))
	want := "data: {\"error\":{\"message\":\"Model not loaded: X\",\"type\":\"model_not_loaded\"}}\n\n"
	if got != want {
		t.Errorf("StreamError = %q, erwartet %q", got, want)
	}
}
