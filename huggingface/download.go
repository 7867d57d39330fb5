// download.go - Download von Checkpoints in den Cache
//
// Dieses Modul enthaelt:
// - Datei-fuer-Datei-Download mit Range-Resume und Retries
// - Fortschritts-Events pro Datei fuer das Pull-SSE
// - Upgrade-Check ueber Groessen-Vergleich mit der Hub-API
package huggingface

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

const (
	downloadChunkSize      = 1024 * 1024
	maxDownloadRetries     = 3
	downloadRetryDelay     = 2 * time.Second
	maxParallelFetches     = 4
	progressUpdateInterval = 100 * time.Millisecond
)

// Progress beschreibt den Fortschritt der aktuell geladenen Datei.
type Progress struct {
	File            string
	FileIndex       int
	TotalFiles      int
	BytesDownloaded int64
	BytesTotal      int64
	Percent         int
	Complete        bool
}

// ProgressFunc wird hoechstens alle 100ms pro Datei aufgerufen, plus
// einmal mit Complete=true am Ende des gesamten Downloads. Mehrere
// Dateien laden parallel; Events verschiedener Dateien koennen sich
// abwechseln, File und FileIndex ordnen sie zu. Die Aufrufe selbst
// sind serialisiert.
type ProgressFunc func(Progress)

type downloadConfig struct {
	progressFn   ProgressFunc
	allowUpgrade bool
}

type DownloadOption func(*downloadConfig)

// WithProgress setzt den Fortschritts-Callback.
func WithProgress(fn ProgressFunc) DownloadOption {
	return func(cfg *downloadConfig) { cfg.progressFn = fn }
}

// WithUpgrade erzwingt den Abgleich mit dem Hub, auch wenn eine
// vollstaendige lokale Kopie existiert.
func WithUpgrade(allow bool) DownloadOption {
	return func(cfg *downloadConfig) { cfg.allowUpgrade = allow }
}

// Download laedt einen Checkpoint in den Cache und gibt die lokalen
// Pfade zurueck. Ohne WithUpgrade gewinnt eine vorhandene lokale Kopie
// und es findet kein Netzwerk-Zugriff statt.
func (c *Client) Download(ctx context.Context, checkpoint, mmproj string, opts ...DownloadOption) (*LocalModel, error) {
	cfg := &downloadConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	if !cfg.allowUpgrade {
		if lm, err := ResolveLocal(checkpoint, mmproj); err == nil {
			if cfg.progressFn != nil {
				cfg.progressFn(Progress{Percent: 100, Complete: true})
			}
			return lm, nil
		}
	}

	repo, variant := ParseCheckpoint(checkpoint)
	info, err := c.ModelInfo(ctx, repo)
	if err != nil {
		return nil, fmt.Errorf("model-info fuer %s abrufen fehlgeschlagen: %w", repo, err)
	}

	files, err := filesToFetch(repo, info, variant, mmproj, checkpoint)
	if err != nil {
		return nil, err
	}

	sizes := make(map[string]int64, len(info.Siblings))
	for _, s := range info.Siblings {
		size := s.Size
		if s.LFS != nil && s.LFS.Size > 0 {
			size = s.LFS.Size
		}
		sizes[s.Filename] = size
	}

	// Shards und Geschwister-Dateien laden parallel, begrenzt durch die
	// Semaphore. Der erste Fehler bricht die restlichen Fetches ab.
	fetchCtx, cancelFetch := context.WithCancel(ctx)
	defer cancelFetch()

	var (
		sem      = semaphore.NewWeighted(maxParallelFetches)
		wg       sync.WaitGroup
		mu       sync.Mutex // schuetzt fetchErr und serialisiert progressFn
		fetchErr error
	)

	snapshot := SnapshotDir(repo)
	for i, file := range files {
		target := filepath.Join(snapshot, filepath.FromSlash(file))
		size := sizes[file]

		if stat, err := os.Stat(target); err == nil && size > 0 && stat.Size() == size {
			slog.Debug("file up to date", "repo", repo, "file", file)
			continue
		}

		if err := sem.Acquire(fetchCtx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(index int, file, target string, size int64) {
			defer wg.Done()
			defer sem.Release(1)

			progress := func(downloaded int64) {
				if cfg.progressFn == nil {
					return
				}
				percent := 0
				if size > 0 {
					percent = int(downloaded * 100 / size)
				}
				mu.Lock()
				cfg.progressFn(Progress{
					File:            file,
					FileIndex:       index + 1,
					TotalFiles:      len(files),
					BytesDownloaded: downloaded,
					BytesTotal:      size,
					Percent:         percent,
				})
				mu.Unlock()
			}

			if err := c.fetchFile(fetchCtx, repo, file, target, progress); err != nil {
				mu.Lock()
				if fetchErr == nil {
					fetchErr = fmt.Errorf("download von %s fehlgeschlagen: %w", file, err)
				}
				mu.Unlock()
				cancelFetch()
			}
		}(i, file, target, size)
	}
	wg.Wait()

	if fetchErr != nil {
		return nil, fetchErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lm, err := ResolveLocal(checkpoint, mmproj)
	if err != nil {
		return nil, fmt.Errorf("snapshot download for %s incomplete: %w", checkpoint, err)
	}

	if cfg.progressFn != nil {
		cfg.progressFn(Progress{
			FileIndex:  len(files),
			TotalFiles: len(files),
			Percent:    100,
			Complete:   true,
		})
	}
	return lm, nil
}

// filesToFetch bestimmt die zu ladenden Dateien: Varianten-Regeln fuer
// GGUF, exakte Datei fuer Einzeldatei-Checkpoints, sonst das ganze Repo.
func filesToFetch(repo string, info *APIModelInfo, variant, mmproj, checkpoint string) ([]string, error) {
	if IsGGUF(checkpoint) {
		mf, err := ResolveVariant(repo, info.Files(), variant, mmproj)
		if err != nil {
			return nil, err
		}
		return mf.All(), nil
	}

	if variant != "" {
		if !containsFile(info.Files(), variant) {
			return nil, fmt.Errorf("file %s not found in Hugging Face repository %s", variant, repo)
		}
		files := []string{variant}
		if mmproj != "" {
			files = append(files, mmproj)
		}
		return files, nil
	}

	return info.Files(), nil
}

// fetchFile laedt eine Datei mit Retries. Abgebrochene Downloads werden
// ueber eine .download-Datei und Range-Requests fortgesetzt.
func (c *Client) fetchFile(ctx context.Context, repo, file, target string, progress func(int64)) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("verzeichnis erstellen fehlgeschlagen: %w", err)
	}

	url := fmt.Sprintf("%s/%s/resolve/%s/%s", c.baseURL, repo, DefaultRevision, file)
	var lastErr error
	for attempt := 0; attempt < maxDownloadRetries; attempt++ {
		if attempt > 0 {
			slog.Warn("retrying download", "file", file, "attempt", attempt+1, "error", lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(downloadRetryDelay):
			}
		}
		if err := c.doDownload(ctx, url, target, progress); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("download nach %d versuchen fehlgeschlagen: %w", maxDownloadRetries, lastErr)
}

func (c *Client) doDownload(ctx context.Context, url, target string, progress func(int64)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	c.setHeaders(req)

	var written int64
	tmpPath := target + ".download"
	if stat, err := os.Stat(tmpPath); err == nil {
		written = stat.Size()
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", written))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNetworkError, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK && written > 0 {
		// Server ohne Range-Support, von vorn beginnen.
		written = 0
		os.Remove(tmpPath)
	} else if err := c.handleResponseError(resp); err != nil {
		return err
	}

	flags := os.O_WRONLY | os.O_CREATE
	if written > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(tmpPath, flags, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	lastUpdate := time.Now()
	buf := make([]byte, downloadChunkSize)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := f.Write(buf[:n]); err != nil {
				return err
			}
			written += int64(n)
			if progress != nil && time.Since(lastUpdate) >= progressUpdateInterval {
				progress(written)
				lastUpdate = time.Now()
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return readErr
		}
	}

	if err := f.Close(); err != nil {
		return err
	}
	if progress != nil {
		progress(written)
	}
	return os.Rename(tmpPath, target)
}
