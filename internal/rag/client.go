package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/inkwell-ai/inkwell/internal/common"
	"github.com/inkwell-ai/inkwell/internal/fault"
)

// Client talks to a retrieval sidecar service over HTTP. Each index is
// addressed by its on-disk working directory, so index handles survive
// process restarts on both sides.
type Client struct {
	httpClient *http.Client
	transport  *http.Transport

	baseURL string
	apiKey  string

	cfg Config
}

// NewFromEnv constructs a client from environment configuration.
func NewFromEnv() (*Client, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	return New(cfg), nil
}

// New constructs a client using the provided configuration.
func New(cfg Config) *Client {
	baseURL := fmt.Sprintf("%s://%s:%s/api/v1", cfg.Scheme, cfg.Host, cfg.Port)
	logger := common.Logger()
	logger.Info(
		"rag: initializing retrieval client",
		"host", cfg.Host,
		"port", cfg.Port,
		"timeout", cfg.Timeout,
	)
	transport := &http.Transport{
		MaxIdleConns:        cfg.HTTPMaxIdleConns,
		MaxIdleConnsPerHost: cfg.HTTPMaxIdlePerHost,
		IdleConnTimeout:     cfg.HTTPIdleConnTimeout,
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout, Transport: transport},
		transport:  transport,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     cfg.APIKey,
		cfg:        cfg,
	}
}

// Available probes the sidecar health endpoint.
func (c *Client) Available(ctx context.Context) bool {
	if c == nil {
		return false
	}
	const maxAttempts = 3
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := c.health(ctx); err == nil {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(time.Duration(attempt+1) * 250 * time.Millisecond):
		}
	}
	return false
}

// CreateIndex provisions an index rooted at path. Creation is idempotent on
// the service side; an existing index at the same path is returned as-is.
func (c *Client) CreateIndex(ctx context.Context, path string) (Index, error) {
	payload := map[string]interface{}{"working_dir": path}
	endpoint := fmt.Sprintf("%s/indexes", c.baseURL)
	if err := c.doRequest(ctx, http.MethodPost, endpoint, payload, nil); err != nil {
		if errors.Is(err, errConflict) {
			return &remoteIndex{client: c, path: path}, nil
		}
		return nil, fmt.Errorf("create index: %w", err)
	}
	return &remoteIndex{client: c, path: path}, nil
}

// LoadIndex opens an existing index at path, or fault.NotFound when absent.
func (c *Client) LoadIndex(ctx context.Context, path string) (Index, error) {
	payload := map[string]interface{}{"working_dir": path}
	endpoint := fmt.Sprintf("%s/indexes/open", c.baseURL)
	if err := c.doRequest(ctx, http.MethodPost, endpoint, payload, nil); err != nil {
		if errors.Is(err, errNotFound) {
			return nil, fault.NotFound("index", path)
		}
		return nil, fmt.Errorf("load index: %w", err)
	}
	return &remoteIndex{client: c, path: path}, nil
}

// Close releases pooled connections.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	if c.transport != nil {
		c.transport.CloseIdleConnections()
	}
	return nil
}

var _ Engine = (*Client)(nil)

type remoteIndex struct {
	client *Client
	path   string
}

func (i *remoteIndex) Insert(ctx context.Context, text string) error {
	payload := map[string]interface{}{
		"working_dir": i.path,
		"text":        text,
	}
	endpoint := fmt.Sprintf("%s/indexes/insert", i.client.baseURL)
	if err := i.client.doRequest(ctx, http.MethodPost, endpoint, payload, nil); err != nil {
		return fmt.Errorf("index insert: %w", err)
	}
	return nil
}

func (i *remoteIndex) Query(ctx context.Context, text string, mode Mode) (string, error) {
	payload := map[string]interface{}{
		"working_dir": i.path,
		"query":       text,
		"mode":        string(mode),
	}
	endpoint := fmt.Sprintf("%s/indexes/query", i.client.baseURL)
	var resp struct {
		Response string `json:"response"`
	}
	start := time.Now()
	if err := i.client.doRequest(ctx, http.MethodPost, endpoint, payload, &resp); err != nil {
		return "", fmt.Errorf("index query: %w", err)
	}
	common.Logger().Debug("rag: query completed", "index", i.path, "mode", mode, "dur", time.Since(start))
	return resp.Response, nil
}

var (
	errNotFound = errors.New("resource not found")
	errConflict = errors.New("resource conflict")
)

func (c *Client) health(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/health", c.baseURL)
	return c.doRequest(ctx, http.MethodGet, endpoint, nil, nil)
}

func (c *Client) doRequest(ctx context.Context, method, endpoint string, body interface{}, out interface{}) error {
	if c == nil {
		return errors.New("rag client not configured")
	}
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		bodyReader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if resp.StatusCode == http.StatusConflict {
		return errConflict
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("rag %s %s failed: %s", method, endpoint, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
