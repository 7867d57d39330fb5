// Package api - Hauptmodul des Lemonade API-Clients.
// Dieses Modul enthaelt die Client-Struktur und Basis-Methoden.
// Stream-Methoden sind in client_stream.go.
//
// Package api implements the client-side API for code wishing to interact
// with the lemonade service. The methods of the [Client] type correspond to
// the native lemonade REST API. The lemonade command-line client itself
// uses this package to interact with the backend service.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"runtime"

	"github.com/lemonade-sdk/lemonade/envconfig"
	"github.com/lemonade-sdk/lemonade/version"
)

// Client encapsulates client state for interacting with the lemonade
// service. Use [ClientFromEnvironment] to create new Clients.
type Client struct {
	base *url.URL
	http *http.Client
}

func checkError(resp *http.Response, body []byte) error {
	if resp.StatusCode < http.StatusBadRequest {
		return nil
	}

	apiError := StatusError{StatusCode: resp.StatusCode}

	if err := json.Unmarshal(body, &apiError); err != nil {
		// Use the full body as the message if we fail to decode a response.
		apiError.ErrorMessage = string(body)
	}

	// Verwaltungs-Endpoints antworten mit {"error": {"message": ...}}
	if apiError.ErrorMessage == "" {
		var nested struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal(body, &nested); err == nil {
			apiError.ErrorMessage = nested.Error.Message
		}
	}

	return apiError
}

// ClientFromEnvironment creates a new [Client] using configuration from
// the environment variables LEMONADE_HOST and LEMONADE_PORT. Unroutable
// bind addresses are rewritten to localhost so the CLI can reach a server
// that listens on 0.0.0.0.
func ClientFromEnvironment() (*Client, error) {
	base := envconfig.Host()
	if host, port, err := net.SplitHostPort(base.Host); err == nil && (host == "0.0.0.0" || host == "::") {
		base.Host = net.JoinHostPort("localhost", port)
	}

	return &Client{
		base: base,
		http: http.DefaultClient,
	}, nil
}

func NewClient(base *url.URL, http *http.Client) *Client {
	return &Client{
		base: base,
		http: http,
	}
}

func (c *Client) do(ctx context.Context, method, path string, reqData, respData any) error {
	var reqBody io.Reader
	var data []byte
	var err error

	switch reqData := reqData.(type) {
	case io.Reader:
		// reqData is already an io.Reader
		reqBody = reqData
	case nil:
		// noop
	default:
		data, err = json.Marshal(reqData)
		if err != nil {
			return err
		}

		reqBody = bytes.NewReader(data)
	}

	requestURL := c.base.JoinPath(path)

	request, err := http.NewRequestWithContext(ctx, method, requestURL.String(), reqBody)
	if err != nil {
		return err
	}

	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")
	request.Header.Set("User-Agent", fmt.Sprintf("lemonade/%s (%s %s) Go/%s", version.Version, runtime.GOARCH, runtime.GOOS, runtime.Version()))

	if key := envconfig.APIKey(); key != "" {
		request.Header.Set("Authorization", "Bearer "+key)
	}

	respObj, err := c.http.Do(request)
	if err != nil {
		return err
	}
	defer respObj.Body.Close()

	respBody, err := io.ReadAll(respObj.Body)
	if err != nil {
		return err
	}

	if err := checkError(respObj, respBody); err != nil {
		return err
	}

	if len(respBody) > 0 && respData != nil {
		if err := json.Unmarshal(respBody, respData); err != nil {
			return err
		}
	}
	return nil
}

// Health fragt den Scheduler-bewussten Health-Endpoint ab.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Live prueft nur die Erreichbarkeit, ohne den Scheduler zu beruehren.
func (c *Client) Live(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/api/v1/live", nil, nil)
}

// List gibt alle Models des Katalogs zurueck. Mit showAll erscheinen auch
// Models, die noch nicht heruntergeladen sind.
func (c *Client) List(ctx context.Context, showAll bool) (*ListResponse, error) {
	path := "/api/v1/models"
	if showAll {
		path += "?show_all=true"
	}

	var resp ListResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Load laedt ein Model in den Speicher.
func (c *Client) Load(ctx context.Context, req *LoadRequest) (*LoadResponse, error) {
	var resp LoadResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/load", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Unload entlaedt ein Model, oder alle wenn req leer ist.
func (c *Client) Unload(ctx context.Context, req *UnloadRequest) (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/unload", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Delete loescht die lokalen Dateien eines Models.
func (c *Client) Delete(ctx context.Context, req *DeleteRequest) (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/delete", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stats gibt die Telemetrie des letzten Requests zurueck.
func (c *Client) Stats(ctx context.Context) (*StatsResponse, error) {
	var resp StatsResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/stats", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SystemInfo gibt die Hardware-Informationen des Servers zurueck.
func (c *Client) SystemInfo(ctx context.Context, verbose bool) (*SystemInfo, error) {
	path := "/api/v1/system-info"
	if verbose {
		path += "?verbose=true"
	}

	var resp SystemInfo
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Shutdown faehrt den Server herunter. Die Antwort kommt bevor der
// Prozess endet.
func (c *Client) Shutdown(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/v1/shutdown", nil, nil)
}

// SetLogLevel schaltet das Log-Level des laufenden Servers um.
func (c *Client) SetLogLevel(ctx context.Context, level string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/log-level", LogLevelRequest{Level: level}, nil)
}
