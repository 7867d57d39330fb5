// pull.go - gemeinsame Pull-Orchestrierung
//
// Diese Datei enthaelt:
// - pullModel: Validierung, Download (HF-Hub oder flm), Registrierung
// - die Registrierung passiert erst NACH erfolgreichem Download, damit
//   ein Fehlschlag keinen kaputten user.*-Eintrag hinterlaesst
// - modelDownloaded: lokale Verfuegbarkeit pro Recipe
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/lemonade-sdk/lemonade/api"
	"github.com/lemonade-sdk/lemonade/catalog"
	"github.com/lemonade-sdk/lemonade/envconfig"
	"github.com/lemonade-sdk/lemonade/huggingface"
	"github.com/lemonade-sdk/lemonade/llm"
)

// pullModel fuehrt einen Pull komplett aus: Request pruefen, Dateien
// besorgen, bei Bedarf als user.* Model registrieren. progress darf nil
// sein. Beide Oberflaechen (Lemonade SSE, Ollama NDJSON) laufen hier
// durch; nur die Serialisierung der Events unterscheidet sich.
func (s *Server) pullModel(ctx context.Context, req api.PullRequest, progress huggingface.ProgressFunc) (catalog.Model, error) {
	name := req.Name()
	if name == "" {
		return catalog.Model{}, api.StatusError{
			StatusCode:   http.StatusUnprocessableEntity,
			ErrorMessage: "model_name is required",
		}
	}

	cfg := catalog.RegisterConfig{
		Name:       name,
		Checkpoint: req.Checkpoint,
		Recipe:     req.Recipe,
		Reasoning:  req.Reasoning,
		Vision:     req.Vision,
		Embedding:  req.Embedding,
		Reranking:  req.Reranking,
		Mmproj:     req.Mmproj,
	}

	needsRegister, err := s.catalog.Validate(cfg)
	if err != nil {
		return catalog.Model{}, api.StatusError{
			StatusCode:   http.StatusUnprocessableEntity,
			ErrorMessage: err.Error(),
		}
	}

	var model catalog.Model
	if needsRegister {
		model = catalog.Model{
			Name:       name,
			Checkpoint: cfg.Checkpoint,
			Recipe:     cfg.Recipe,
			Mmproj:     cfg.Mmproj,
			Source:     catalog.SourceLocalUpload,
		}
	} else {
		model, err = s.catalog.Get(name)
		if err != nil {
			return catalog.Model{}, err
		}
	}

	allowUpgrade := !req.DoNotUpgrade

	if model.Recipe == "flm" {
		// FLM zieht in seinen eigenen Store, der Hub-Client ist aussen vor
		srv, err := llm.NewServer(model, api.RecipeOptions{})
		if err != nil {
			return catalog.Model{}, err
		}
		if err := srv.Download(ctx, allowUpgrade); err != nil {
			return catalog.Model{}, err
		}
	} else {
		client := huggingface.NewClient(huggingface.WithToken(envconfig.HFToken()))
		opts := []huggingface.DownloadOption{huggingface.WithUpgrade(allowUpgrade)}
		if progress != nil {
			opts = append(opts, huggingface.WithProgress(progress))
		}
		if _, err := client.Download(ctx, model.Checkpoint, model.Mmproj, opts...); err != nil {
			return catalog.Model{}, pullStatusError(model, err)
		}
	}

	if needsRegister {
		registered, err := s.catalog.Register(cfg)
		if err != nil {
			return catalog.Model{}, err
		}
		model = registered
	}

	slog.Info("pull complete", "model", model.Name, "checkpoint", model.Checkpoint)
	return model, nil
}

// pullStatusError haengt den passenden HTTP-Status an Download-Fehler.
func pullStatusError(model catalog.Model, err error) error {
	switch {
	case errors.Is(err, huggingface.ErrAmbiguousVariant):
		return api.StatusError{
			StatusCode:   http.StatusUnprocessableEntity,
			ErrorMessage: fmt.Sprintf("AmbiguousVariant: checkpoint '%s' matches more than one file, specify the full filename as the variant", model.Checkpoint),
		}
	case errors.Is(err, huggingface.ErrModelNotFound):
		return api.StatusError{
			StatusCode:   http.StatusNotFound,
			ErrorMessage: fmt.Sprintf("checkpoint '%s' was not found on Hugging Face", model.Checkpoint),
		}
	case errors.Is(err, huggingface.ErrUnauthorized):
		return api.StatusError{
			StatusCode:   http.StatusUnauthorized,
			ErrorMessage: fmt.Sprintf("checkpoint '%s' requires authentication, set HF_TOKEN", model.Checkpoint),
		}
	}
	return err
}

// modelDownloaded meldet, ob die Dateien eines Models lokal vorliegen.
func modelDownloaded(model catalog.Model) bool {
	if model.Recipe == "flm" {
		return llm.FLMDownloaded(model.Checkpoint)
	}
	return huggingface.IsDownloaded(model.Checkpoint, model.Mmproj)
}
