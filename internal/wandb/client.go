package wandb

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rewired-gh/transcendence/internal/logger"
	"github.com/rewired-gh/transcendence/internal/models"
)

// Client fetches exported tables over HTTP.
type Client struct {
	apiURL         string
	apiKey         string
	entity         string
	project        string
	httpClient     *http.Client
	maxRetries     int
	retryDelayBase time.Duration
}

// ClientConfig holds retry and project settings for Client.
type ClientConfig struct {
	APIKey         string
	Entity         string
	Project        string
	MaxRetries     int
	RetryDelayBase time.Duration
}

// Source lists the tables of one model.
type Source struct {
	Model string
	Dirs  []string
	Files []string
	URLs  []string
}

// NewClient creates a new W&B client
func NewClient(apiURL string, timeout time.Duration, cfg ClientConfig) *Client {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelayBase <= 0 {
		cfg.RetryDelayBase = time.Second
	}
	return &Client{
		apiURL:         strings.TrimRight(apiURL, "/"),
		apiKey:         cfg.APIKey,
		entity:         cfg.Entity,
		project:        cfg.Project,
		httpClient:     &http.Client{Timeout: timeout},
		maxRetries:     cfg.MaxRetries,
		retryDelayBase: cfg.RetryDelayBase,
	}
}

// Load resolves every source into tables, in source order.
func (c *Client) Load(ctx context.Context, sources []Source) ([]*models.Table, error) {
	var tables []*models.Table
	for _, src := range sources {
		before := len(tables)
		for _, dir := range src.Dirs {
			ts, err := LoadDir(dir, src.Model)
			if err != nil {
				return nil, err
			}
			tables = append(tables, ts...)
		}
		for _, path := range src.Files {
			t, err := LoadFile(path, src.Model)
			if err != nil {
				return nil, err
			}
			tables = append(tables, t)
		}
		for _, u := range src.URLs {
			t, err := c.FetchTable(ctx, u, src.Model)
			if err != nil {
				return nil, err
			}
			tables = append(tables, t)
		}
		logger.Debug("Loaded %d tables for model %s", len(tables)-before, src.Model)
	}
	return tables, nil
}

// FetchTable downloads one table. A ref without a scheme is read as
// "<run id>/<file path>" inside the configured entity and project.
func (c *Client) FetchTable(ctx context.Context, ref, model string) (*models.Table, error) {
	u, err := c.resolve(ref)
	if err != nil {
		return nil, err
	}

	resp, err := c.doRequest(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch table %s: %w", ref, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch table %s: status %d", ref, resp.StatusCode)
	}
	return DecodeTable(resp.Body, TableName(ref), model)
}

func (c *Client) resolve(ref string) (string, error) {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref, nil
	}
	if c.entity == "" || c.project == "" {
		return "", fmt.Errorf("table ref %q needs wandb.entity and wandb.project", ref)
	}
	runID, file, ok := strings.Cut(strings.TrimPrefix(ref, "/"), "/")
	if !ok || runID == "" || file == "" {
		return "", fmt.Errorf("table ref %q must look like <run id>/<file path>", ref)
	}
	u, err := url.Parse(c.apiURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse URL: %w", err)
	}
	u = u.JoinPath("files", c.entity, c.project, runID, file)
	return u.String(), nil
}

// doRequest performs HTTP request with retry logic
func (c *Client) doRequest(ctx context.Context, urlStr string) (*http.Response, error) {
	var lastErr error

	for i := 0; i < c.maxRetries; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
		if err != nil {
			return nil, err
		}

		req.Header.Set("Accept", "application/json")
		if c.apiKey != "" {
			req.SetBasicAuth("api", c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
		} else if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
		} else {
			return resp, nil
		}

		logger.Debug("Request to %s failed (attempt %d/%d): %v", urlStr, i+1, c.maxRetries, lastErr)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.retryDelayBase * time.Duration(i+1)):
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}
