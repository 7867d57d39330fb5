// client.go - HTTP-Client fuer den Hugging Face Hub
//
// Dieses Modul enthaelt:
// - Client mit Token-, Endpoint- und Timeout-Optionen
// - Repo-Metadaten-Abruf inklusive Datei-Liste (siblings)
// - Fehler-Klassifizierung nach HTTP-Status
package huggingface

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/lemonade-sdk/lemonade/envconfig"
	"github.com/lemonade-sdk/lemonade/version"
)

const (
	DefaultHubURL        = "https://huggingface.co"
	DefaultClientTimeout = 1800 * time.Second // grosse Model-Downloads
	EnvHFEndpoint        = "HF_ENDPOINT"
)

var (
	ErrModelNotFound   = errors.New("model not found")
	ErrUnauthorized    = errors.New("authentication failed")
	ErrRateLimited     = errors.New("rate limited")
	ErrNetworkError    = errors.New("network error")
	ErrInvalidModelID  = errors.New("invalid repo id")
	ErrFileNotFound    = errors.New("file not found")
	ErrInvalidResponse = errors.New("invalid server response")
)

// APIModelInfo enthaelt die Metadaten eines Repos aus der Hub-API.
type APIModelInfo struct {
	ID           string       `json:"id"`
	ModelID      string       `json:"modelId"`
	Author       string       `json:"author"`
	SHA          string       `json:"sha"`
	LastModified time.Time    `json:"lastModified"`
	Private      bool         `json:"private"`
	Gated        any          `json:"gated"` // bool oder string (false, "auto", "manual")
	Pipeline     string       `json:"pipeline_tag"`
	Tags         []string     `json:"tags"`
	Downloads    int64        `json:"downloads"`
	LibraryName  string       `json:"library_name"`
	Siblings     []APISibling `json:"siblings"`
}

// IsGated prueft ob das Repo eine Authentifizierung erfordert.
func (m *APIModelInfo) IsGated() bool {
	switch v := m.Gated.(type) {
	case bool:
		return v
	case string:
		return v == "auto" || v == "manual"
	default:
		return false
	}
}

// Files gibt die Dateinamen aller Repo-Dateien zurueck.
func (m *APIModelInfo) Files() []string {
	files := make([]string, len(m.Siblings))
	for i, s := range m.Siblings {
		files[i] = s.Filename
	}
	return files
}

// APISibling repraesentiert eine Datei im Repo.
type APISibling struct {
	Filename string   `json:"rfilename"`
	Size     int64    `json:"size"`
	BlobID   string   `json:"blobId"`
	LFS      *LFSInfo `json:"lfs,omitempty"`
}

// LFSInfo enthaelt LFS-Metadaten fuer grosse Dateien.
type LFSInfo struct {
	Size        int64  `json:"size"`
	SHA256      string `json:"sha256"`
	PointerSize int64  `json:"pointerSize"`
}

type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	userAgent  string
}

type ClientOption func(*Client)

// WithToken setzt den Hub-Token.
func WithToken(token string) ClientOption {
	return func(c *Client) { c.token = token }
}

// WithBaseURL setzt eine eigene Hub-URL, etwa fuer einen Mirror.
func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimSuffix(url, "/") }
}

// WithClientTimeout setzt den HTTP-Timeout.
func WithClientTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

// WithHTTPClient setzt einen eigenen HTTP-Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

// NewClient erstellt einen Hub-Client. HF_TOKEN und HF_ENDPOINT aus der
// Umgebung werden uebernommen, Optionen ueberschreiben sie.
func NewClient(options ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: DefaultClientTimeout},
		baseURL:    DefaultHubURL,
		userAgent:  "lemonade/" + version.Version,
	}
	if token := envconfig.HFToken(); token != "" {
		c.token = token
	}
	if endpoint := os.Getenv(EnvHFEndpoint); endpoint != "" {
		c.baseURL = strings.TrimSuffix(endpoint, "/")
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// ModelInfo ruft die Repo-Metadaten mit Datei-Liste ab. blobs=true liefert
// die Dateigroessen mit, die der Downloader fuer den Upgrade-Check braucht.
func (c *Client) ModelInfo(ctx context.Context, repo string) (*APIModelInfo, error) {
	if err := validateRepo(repo); err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/api/models/%s?blobs=true", c.baseURL, repo)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetworkError, err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetworkError, err)
	}
	defer resp.Body.Close()

	if err := c.handleResponseError(resp); err != nil {
		return nil, err
	}

	var info APIModelInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return &info, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", c.userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func (c *Client) handleResponseError(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusOK, http.StatusPartialContent:
		return nil
	case http.StatusNotFound:
		return ErrModelNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	case http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			return fmt.Errorf("%w: status %d - %s", ErrInvalidResponse, resp.StatusCode, string(body))
		}
		return nil
	}
}

func validateRepo(repo string) error {
	if repo == "" {
		return fmt.Errorf("%w: repo-id darf nicht leer sein", ErrInvalidModelID)
	}
	parts := strings.Split(repo, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return fmt.Errorf("%w: erwartet format 'owner/repo'", ErrInvalidModelID)
	}
	return nil
}
