// types.go - Wire-Typen der nativen Lemonade-API
//
// Dieses Modul enthaelt:
// - StatusError: HTTP-Fehler mit Status-Code
// - RecipeOptions: Engine-Einstellungen pro Model
// - PullRequest/PullProgress: Download und Registrierung
// - LoadRequest/LoadResponse, UnloadRequest, DeleteRequest
// - Model/ListResponse: Model-Verwaltung
// - HealthResponse, StatsResponse, SystemInfo
package api

import (
	"fmt"
	"time"
)

// StatusError is an error with an HTTP status code and message.
type StatusError struct {
	StatusCode   int
	Status       string
	ErrorMessage string `json:"error"`
}

func (e StatusError) Error() string {
	switch {
	case e.Status != "" && e.ErrorMessage != "":
		return fmt.Sprintf("%s: %s", e.Status, e.ErrorMessage)
	case e.Status != "":
		return e.Status
	case e.ErrorMessage != "":
		return e.ErrorMessage
	default:
		return "something went wrong, please see the lemonade server logs for details"
	}
}

// RecipeOptions sind die Engine-Einstellungen, die pro Model gelten.
// Nur die fuer das jeweilige Recipe gueltigen Keys werden angewendet.
type RecipeOptions struct {
	CtxSize         int    `json:"ctx_size,omitempty"`
	LlamaCppBackend string `json:"llamacpp_backend,omitempty"`
	LlamaCppArgs    string `json:"llamacpp_args,omitempty"`
}

// PullRequest installiert ein Model. Checkpoint und Recipe registrieren
// ein neues user.* Model, ansonsten wird der Katalog-Eintrag verwendet.
type PullRequest struct {
	ModelName    string `json:"model_name,omitempty"`
	Model        string `json:"model,omitempty"`
	Checkpoint   string `json:"checkpoint,omitempty"`
	Recipe       string `json:"recipe,omitempty"`
	Reasoning    bool   `json:"reasoning,omitempty"`
	Vision       bool   `json:"vision,omitempty"`
	Embedding    bool   `json:"embedding,omitempty"`
	Reranking    bool   `json:"reranking,omitempty"`
	Mmproj       string `json:"mmproj,omitempty"`
	DoNotUpgrade bool   `json:"do_not_upgrade,omitempty"`
	Stream       bool   `json:"stream,omitempty"`
}

// Name gibt den Model-Namen zurueck, egal ob er im Feld model_name
// oder model uebergeben wurde.
func (r PullRequest) Name() string {
	if r.ModelName != "" {
		return r.ModelName
	}
	return r.Model
}

// PullProgress ist ein Fortschritts-Event des Pull-Streams.
type PullProgress struct {
	Event           string  `json:"-"`
	File            string  `json:"file,omitempty"`
	FileIndex       int     `json:"file_index,omitempty"`
	TotalFiles      int     `json:"total_files,omitempty"`
	BytesDownloaded uint64  `json:"bytes_downloaded"`
	BytesTotal      uint64  `json:"bytes_total"`
	Percent         float64 `json:"percent"`
	Error           string  `json:"error,omitempty"`
}

// LoadRequest laedt ein Model explizit. Die Options ueberschreiben fuer
// diesen Load die gespeicherten Recipe-Options; mit SaveOptions werden
// sie zusaetzlich persistiert.
type LoadRequest struct {
	ModelName       string `json:"model_name"`
	CtxSize         int    `json:"ctx_size,omitempty"`
	LlamaCppBackend string `json:"llamacpp_backend,omitempty"`
	LlamaCppArgs    string `json:"llamacpp_args,omitempty"`
	SaveOptions     bool   `json:"save_options,omitempty"`
}

// Options fasst die Felder des Requests als RecipeOptions zusammen.
func (r LoadRequest) Options() RecipeOptions {
	return RecipeOptions{
		CtxSize:         r.CtxSize,
		LlamaCppBackend: r.LlamaCppBackend,
		LlamaCppArgs:    r.LlamaCppArgs,
	}
}

type LoadResponse struct {
	Status     string `json:"status"`
	ModelName  string `json:"model_name"`
	Checkpoint string `json:"checkpoint"`
	Recipe     string `json:"recipe"`
}

// UnloadRequest entlaedt ein Model. Ohne Namen werden alle entladen.
type UnloadRequest struct {
	ModelName string `json:"model_name,omitempty"`
	Model     string `json:"model,omitempty"`
}

func (r UnloadRequest) Name() string {
	if r.ModelName != "" {
		return r.ModelName
	}
	return r.Model
}

type DeleteRequest struct {
	ModelName string `json:"model_name,omitempty"`
	Model     string `json:"model,omitempty"`
}

func (r DeleteRequest) Name() string {
	if r.ModelName != "" {
		return r.ModelName
	}
	return r.Model
}

// StatusResponse ist die generische Antwort der Verwaltungs-Endpoints.
type StatusResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	ModelName string `json:"model_name,omitempty"`
}

// Model ist ein Eintrag der Model-Liste.
type Model struct {
	ID            string         `json:"id"`
	Object        string         `json:"object"`
	Created       int64          `json:"created"`
	OwnedBy       string         `json:"owned_by"`
	Checkpoint    string         `json:"checkpoint"`
	Recipe        string         `json:"recipe"`
	Downloaded    bool           `json:"downloaded"`
	Suggested     bool           `json:"suggested"`
	Labels        []string       `json:"labels"`
	Mmproj        string         `json:"mmproj,omitempty"`
	RecipeOptions *RecipeOptions `json:"recipe_options,omitempty"`
	Size          float64        `json:"size,omitempty"`
}

type ListResponse struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}

// LoadedModel beschreibt ein geladenes Model im Health-Report.
type LoadedModel struct {
	Name          string        `json:"name"`
	Type          string        `json:"type"`
	Device        string        `json:"device"`
	Checkpoint    string        `json:"checkpoint"`
	LastUse       time.Time     `json:"last_use"`
	RecipeOptions RecipeOptions `json:"recipe_options"`
}

// MaxModels sind die Quotas des Schedulers pro Model-Typ.
type MaxModels struct {
	LLM       int `json:"llm"`
	Embedding int `json:"embedding"`
	Reranking int `json:"reranking"`
}

type HealthResponse struct {
	Status          string        `json:"status"`
	Version         string        `json:"version"`
	ModelLoaded     *string       `json:"model_loaded"`
	AllModelsLoaded []LoadedModel `json:"all_models_loaded"`
	MaxModels       MaxModels     `json:"max_models"`
	WebsocketPort   int           `json:"websocket_port,omitempty"`
}

// StatsResponse enthaelt die Telemetrie des letzten Requests.
type StatsResponse struct {
	TimeToFirstToken float64   `json:"time_to_first_token,omitempty"`
	TokensPerSecond  float64   `json:"tokens_per_second,omitempty"`
	InputTokens      int       `json:"input_tokens,omitempty"`
	OutputTokens     int       `json:"output_tokens,omitempty"`
	DecodeTokenTimes []float64 `json:"decode_token_times,omitempty"`
}

type LogLevelRequest struct {
	Level string `json:"level"`
}

type LogLevelResponse struct {
	Status string `json:"status"`
	Level  string `json:"level"`
}

// SystemInfo beschreibt die Hardware des Hosts. Im verbose-Modus kommen
// die Environment-Variablen dazu.
type SystemInfo struct {
	OSVersion   string            `json:"OS Version"`
	Processor   string            `json:"Processor"`
	PhysicalMem string            `json:"Physical Memory"`
	Devices     SystemDevices     `json:"devices"`
	EnvVars     map[string]string `json:"env_vars,omitempty"`
}

type SystemDevices struct {
	CPU     SystemCPU   `json:"cpu"`
	AMDiGPU *SystemGPU  `json:"amd_igpu,omitempty"`
	AMDdGPU []SystemGPU `json:"amd_dgpu"`
	Nvidia  []SystemGPU `json:"nvidia_dgpu"`
	NPU     *SystemNPU  `json:"npu,omitempty"`
}

type SystemCPU struct {
	Name  string `json:"name"`
	Cores int    `json:"cores"`
}

type SystemGPU struct {
	Name     string `json:"name"`
	RocmArch string `json:"rocm_arch,omitempty"`
}

type SystemNPU struct {
	Name      string `json:"name"`
	Driver    string `json:"driver_version,omitempty"`
	Available bool   `json:"available"`
}
