// openai_errors.go - Model-Lade-Fehler und Stream-Fehler der OpenAI-Oberflaeche
//
// Dieses Modul enthaelt:
// - ModelErrorInfo: Katalogwissen fuer die Fehlermeldung
// - NewModelError: die vier Fehlerklassen beim Model-Laden
// - StreamError: Fehler-Event mitten in einem laufenden SSE-Stream
//
// Verwandte Dateien:
// - openai_types.go: Error, ErrorResponse und NewError
package openai

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// maxListedModels begrenzt die Model-Aufzaehlung in der Not-Found-Meldung
const maxListedModels = 3

// ModelErrorInfo buendelt das Katalogwissen, aus dem NewModelError die
// Fehlerklasse und die Handlungsempfehlung ableitet.
type ModelErrorInfo struct {
	// Exists sagt, ob das Model auf diesem System verfuegbar ist
	Exists bool
	// FilterReason erklaert ein plattformbedingt ausgeblendetes Model
	FilterReason string
	// Available sind die Namen aller verfuegbaren Models
	Available []string
	// Closest ist der aehnlichste verfuegbare Name, sofern einer nahe
	// genug liegt
	Closest string
}

// NewModelError ordnet einen Model-Lade-Fehler einer von vier Klassen zu:
//  1. Model existiert, ist aber auf diesem System ausgeblendet
//  2. Model ist gaenzlich unbekannt
//  3. Model wurde durch ein Backend-Upgrade invalidiert
//  4. Model ist verfuegbar, aber die Engine konnte es nicht laden
//
// Zurueck kommen der HTTP-Status und die fertige Fehlerantwort.
func NewModelError(model string, loadErr error, info ModelErrorInfo) (int, ErrorResponse) {
	if info.FilterReason != "" {
		return http.StatusNotFound, modelError(
			fmt.Sprintf("Model '%s' is not available on this system. %s", model, info.FilterReason),
			"model_not_supported", model)
	}

	if !info.Exists {
		var sb strings.Builder
		fmt.Fprintf(&sb, "Model '%s' was not found. ", model)
		if info.Closest != "" {
			fmt.Fprintf(&sb, "Did you mean '%s'? ", info.Closest)
		}
		if len(info.Available) > 0 {
			names := make([]string, len(info.Available))
			copy(names, info.Available)
			sort.Strings(names)

			sb.WriteString("Available models include: ")
			for i, name := range names {
				if i >= maxListedModels {
					break
				}
				if i > 0 {
					sb.WriteString(", ")
				}
				fmt.Fprintf(&sb, "'%s'", name)
			}
			if rest := len(names) - maxListedModels; rest > 0 {
				fmt.Fprintf(&sb, ", and %d more", rest)
			}
			sb.WriteString(". ")
		}
		sb.WriteString("Use 'lemonade list' or GET /api/v1/models?show_all=true to see all available models.")

		return http.StatusNotFound, modelError(sb.String(), "model_not_found", model)
	}

	errMsg := ""
	if loadErr != nil {
		errMsg = loadErr.Error()
	}

	// Invalidierung durch ein FLM-Upgrade: kein Retry, der Nutzer muss
	// das Model neu herunterladen.
	if strings.Contains(errMsg, "was invalidated") {
		msg := fmt.Sprintf("Model '%s' needs to be re-downloaded. "+
			"The FLM backend was upgraded and the previously downloaded model files are no longer compatible. "+
			"Please use 'lemonade pull %s' or click Download in the UI to re-download this model.", model, model)
		return http.StatusInternalServerError, modelError(msg, "model_invalidated", model)
	}

	return http.StatusInternalServerError, modelError(
		fmt.Sprintf("Failed to load model '%s': %s", model, errMsg),
		"model_load_error", model)
}

func modelError(message, errType, model string) ErrorResponse {
	return ErrorResponse{Error{
		Message:        message,
		Type:           errType,
		Param:          "model",
		Code:           errType,
		RequestedModel: model,
	}}
}

// StreamError baut ein Fehler-Event fuer einen bereits laufenden
// SSE-Stream. Der HTTP-Status ist zu diesem Zeitpunkt schon raus, der
// Fehler reist deshalb als data-Event im Stream selbst.
func StreamError(message, errType string) []byte {
	payload, _ := json.Marshal(ErrorResponse{Error{Type: errType, Message: message}})
	return []byte(fmt.Sprintf("data: %s\n\n", payload))
}
