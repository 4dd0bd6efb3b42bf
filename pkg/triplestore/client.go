// Package triplestore provides a client for a SPARQL 1.1 endpoint, the
// canonical store of record for extracted knowledge.
package triplestore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kgforge/kgforge-engine/pkg/apperrors"
)

// DefaultTimeout is the maximum time to wait for triple store responses.
const DefaultTimeout = 30 * time.Second

// Binding is a single variable binding in a SPARQL result row.
type Binding struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Row maps variable names to their bound values.
type Row map[string]Binding

// Client is the triple-store surface used by the sync engine.
type Client interface {
	// Select runs a SPARQL SELECT query and returns the result rows.
	Select(ctx context.Context, query string) ([]Row, error)

	// Update runs a SPARQL UPDATE (INSERT DATA, DELETE WHERE, ...).
	Update(ctx context.Context, update string) error

	// ClearGraph drops every triple in the named graph.
	ClearGraph(ctx context.Context, graphIRI string) error

	// Ping verifies the endpoint is reachable.
	Ping(ctx context.Context) error
}

type sparqlClient struct {
	queryURL   string
	updateURL  string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a SPARQL-over-HTTP client. queryURL and updateURL may be
// the same endpoint depending on the store.
func NewClient(queryURL, updateURL string, timeout time.Duration, logger *zap.Logger) Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &sparqlClient{
		queryURL:  queryURL,
		updateURL: updateURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger.Named("triplestore"),
	}
}

var _ Client = (*sparqlClient)(nil)

func (c *sparqlClient) Select(ctx context.Context, query string) ([]Row, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.queryURL, strings.NewReader(query))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/sparql-query")
	req.Header.Set("Accept", "application/sparql-results+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("triple store query failed: %w", apperrors.ErrStoreUnavailable)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if err := checkStatus(resp.StatusCode, body); err != nil {
		c.logger.Error("Triple store query returned error",
			zap.Int("status", resp.StatusCode),
			zap.String("body", truncate(string(body), 512)))
		return nil, err
	}

	// SPARQL 1.1 JSON results: { "head": {...}, "results": { "bindings": [...] } }
	var response struct {
		Results struct {
			Bindings []Row `json:"bindings"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to parse SPARQL results: %w", err)
	}

	return response.Results.Bindings, nil
}

func (c *sparqlClient) Update(ctx context.Context, update string) error {
	form := url.Values{"update": {update}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.updateURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("triple store update failed: %w", apperrors.ErrStoreUnavailable)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if err := checkStatus(resp.StatusCode, body); err != nil {
		c.logger.Error("Triple store update returned error",
			zap.Int("status", resp.StatusCode),
			zap.String("body", truncate(string(body), 512)))
		return err
	}

	return nil
}

func (c *sparqlClient) ClearGraph(ctx context.Context, graphIRI string) error {
	return c.Update(ctx, fmt.Sprintf("CLEAR SILENT GRAPH <%s>", graphIRI))
}

func (c *sparqlClient) Ping(ctx context.Context) error {
	_, err := c.Select(ctx, "ASK { }")
	return err
}

// checkStatus maps HTTP status codes onto the error taxonomy. 5xx and 429 are
// transient store failures; everything else non-2xx is a permanent query error.
func checkStatus(status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status >= 500 || status == http.StatusTooManyRequests:
		return fmt.Errorf("triple store returned status %d: %w", status, apperrors.ErrStoreUnavailable)
	default:
		return fmt.Errorf("triple store rejected request with status %d: %s", status, truncate(string(body), 512))
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
