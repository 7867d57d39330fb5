// client_stream.go - Stream-basierte Client-Methoden.
// Dieses Modul enthaelt den SSE-Parser und die Pull-Methode.
package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"

	"github.com/lemonade-sdk/lemonade/envconfig"
	"github.com/lemonade-sdk/lemonade/format"
	"github.com/lemonade-sdk/lemonade/version"
)

const maxBufferSize = 8 * format.MegaByte

// stream fuehrt einen Request aus und ruft fn fuer jedes SSE-Event auf.
// Kommentar-Zeilen (": heartbeat") werden uebersprungen.
func (c *Client) stream(ctx context.Context, method, path string, data any, fn func(event string, data []byte) error) error {
	var reqBody *bytes.Buffer
	if data != nil {
		bts, err := json.Marshal(data)
		if err != nil {
			return err
		}

		reqBody = bytes.NewBuffer(bts)
	}

	requestURL := c.base.JoinPath(path)

	var request *http.Request
	var err error
	if reqBody != nil {
		request, err = http.NewRequestWithContext(ctx, method, requestURL.String(), reqBody)
	} else {
		request, err = http.NewRequestWithContext(ctx, method, requestURL.String(), nil)
	}
	if err != nil {
		return err
	}

	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "text/event-stream")
	request.Header.Set("User-Agent", fmt.Sprintf("lemonade/%s (%s %s) Go/%s", version.Version, runtime.GOARCH, runtime.GOOS, runtime.Version()))

	if key := envconfig.APIKey(); key != "" {
		request.Header.Set("Authorization", "Bearer "+key)
	}

	response, err := c.http.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	scanner := bufio.NewScanner(response.Body)
	// increase the buffer size to avoid running out of space
	scanBuf := make([]byte, 0, maxBufferSize)
	scanner.Buffer(scanBuf, maxBufferSize)

	var event string
	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case line == "":
			event = ""
		case strings.HasPrefix(line, ":"):
			// Heartbeat-Kommentar
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))

			if response.StatusCode >= http.StatusBadRequest {
				return StatusError{
					StatusCode:   response.StatusCode,
					Status:       response.Status,
					ErrorMessage: payload,
				}
			}

			if err := fn(event, []byte(payload)); err != nil {
				return err
			}
		}
	}

	return scanner.Err()
}

// PullProgressFunc is a function that [Client.Pull] invokes every time there
// is progress with a "pull" request sent to the service. If this function
// returns an error, [Client.Pull] will stop the process and return this error.
type PullProgressFunc func(PullProgress) error

// Pull downloads a model from Hugging Face via the lemonade service. fn is
// called for each progress event and can be used to display a progress bar.
func (c *Client) Pull(ctx context.Context, req *PullRequest, fn PullProgressFunc) error {
	req.Stream = true

	return c.stream(ctx, http.MethodPost, "/api/v1/pull", req, func(event string, data []byte) error {
		var resp PullProgress
		if err := json.Unmarshal(data, &resp); err != nil {
			return err
		}
		resp.Event = event

		if event == "error" || resp.Error != "" {
			return errors.New(resp.Error)
		}

		return fn(resp)
	})
}

// LogsFunc wird fuer jede gestreamte Log-Zeile aufgerufen.
type LogsFunc func(line string) error

// Logs streams the server log via SSE until the context is cancelled.
func (c *Client) Logs(ctx context.Context, fn LogsFunc) error {
	return c.stream(ctx, http.MethodGet, "/api/v1/logs/stream", nil, func(_ string, data []byte) error {
		var entry struct {
			Line string `json:"line"`
		}
		if err := json.Unmarshal(data, &entry); err != nil {
			return err
		}
		return fn(entry.Line)
	})
}
