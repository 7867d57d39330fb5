// openai_types.go - Fehler-Typen und Request-Sniffing der OpenAI-Oberflaeche
//
// Dieses Modul enthaelt:
// - Error und ErrorResponse fuer OpenAI-kompatible Fehlerantworten
// - NewError fuer generische Fehler nach HTTP-Status
// - RequestFields: die wenigen Felder, die das Gateway selbst aus einem
//   Inference-Body liest, bevor er unveraendert zur Engine geht
// - DisableThinking fuer das /no_think-Praefix bei enable_thinking=false
//
// Verwandte Dateien:
// - openai_errors.go: Model-Lade-Fehler und Fehler-Events im SSE-Stream
package openai

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Error repraesentiert einen OpenAI-kompatiblen Fehler. Param, Code und
// RequestedModel erscheinen nur bei Model-Lade-Fehlern im JSON.
type Error struct {
	Message        string `json:"message"`
	Type           string `json:"type"`
	Param          string `json:"param,omitempty"`
	Code           string `json:"code,omitempty"`
	RequestedModel string `json:"requested_model,omitempty"`
}

// ErrorResponse ist die Wrapper-Struktur fuer Fehlerantworten
type ErrorResponse struct {
	Error Error `json:"error"`
}

// NewError baut eine generische Fehlerantwort zum HTTP-Status
func NewError(code int, message string) ErrorResponse {
	var etype string
	switch code {
	case http.StatusBadRequest:
		etype = "invalid_request_error"
	case http.StatusNotFound:
		etype = "not_found_error"
	default:
		etype = "api_error"
	}

	return ErrorResponse{Error{Type: etype, Message: message}}
}

// RequestFields sind die Felder, die das Gateway aus einem Inference-Request
// liest. Der restliche Body interessiert hier nicht und geht unveraendert
// an die Engine weiter.
type RequestFields struct {
	Model          string          `json:"model"`
	Stream         bool            `json:"stream"`
	EnableThinking json.RawMessage `json:"enable_thinking"`
}

// ParseRequestFields liest die Gateway-relevanten Felder aus einem rohen
// Request-Body
func ParseRequestFields(body []byte) (RequestFields, error) {
	var f RequestFields
	if err := json.Unmarshal(body, &f); err != nil {
		return RequestFields{}, fmt.Errorf("request-body ist kein gueltiges JSON: %w", err)
	}
	return f, nil
}

// ThinkingDisabled meldet, ob der Request enable_thinking explizit auf den
// Boolean false setzt. Fehlende Werte und fremde Typen zaehlen nicht.
func (f RequestFields) ThinkingDisabled() bool {
	var v bool
	if err := json.Unmarshal(f.EnableThinking, &v); err != nil {
		return false
	}
	return !v
}

// DisableThinking stellt dem juengsten User-Turn mit String-Content ein
// "/no_think"-Praefix voran. Engines ohne natives enable_thinking-Flag
// schalten das Reasoning ueber diesen Prompt-Marker ab. User-Turns mit
// Array-Content werden uebersprungen; passt kein Turn oder laesst sich der
// Body nicht parsen, kommt er unveraendert zurueck.
func DisableThinking(body []byte) []byte {
	var req map[string]json.RawMessage
	if err := json.Unmarshal(body, &req); err != nil {
		return body
	}

	var messages []json.RawMessage
	if err := json.Unmarshal(req["messages"], &messages); err != nil {
		return body
	}

	for i := len(messages) - 1; i >= 0; i-- {
		var msg map[string]json.RawMessage
		if err := json.Unmarshal(messages[i], &msg); err != nil {
			continue
		}

		var role string
		if err := json.Unmarshal(msg["role"], &role); err != nil || role != "user" {
			continue
		}

		var content string
		if err := json.Unmarshal(msg["content"], &content); err != nil {
			// Array-Content: aelteren User-Turn suchen
			continue
		}

		msg["content"], _ = json.Marshal("/no_think\n" + content)

		rewritten, err := json.Marshal(msg)
		if err != nil {
			return body
		}
		messages[i] = rewritten

		req["messages"], _ = json.Marshal(messages)
		out, err := json.Marshal(req)
		if err != nil {
			return body
		}
		return out
	}

	return body
}
