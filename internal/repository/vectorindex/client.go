// Package vectorindex is a thin REST client for a hosted vector index
// (Upstash Vector protocol): POST /upsert and POST /query with bearer auth.
package vectorindex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kaisha-ai/promptdojo/internal/domain"
	"github.com/kaisha-ai/promptdojo/internal/metrics"
)

const defaultBatchSize = 100

// Config holds the index connection settings.
type Config struct {
	BaseURL   string
	Token     string
	Namespace string // default namespace; blank = index default collection
	Timeout   time.Duration
	Logger    *zap.Logger
}

// Client issues requests against the hosted index. All operations are single
// attempt: upsert batches are not idempotent upstream, so the client never
// retries on its own.
type Client struct {
	baseURL   string
	token     string
	namespace string
	http      *http.Client
	logger    *zap.Logger
}

// New creates an index client. Missing URL/token are not an error here: the
// first call reports domain.ErrMissingConfig instead, so a process that never
// touches the index can run without index credentials.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		token:     cfg.Token,
		namespace: cfg.Namespace,
		http:      &http.Client{Timeout: timeout},
		logger:    logger,
	}
}

// StatusError is a non-2xx response from the index, kept raw for diagnosis.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("vector index %s failed: status=%d body=%s", e.Op, e.Status, e.Body)
}

// UpsertOptions tune a batched upsert.
type UpsertOptions struct {
	BatchSize int    // default 100
	Namespace string // overrides the client default when non-blank
}

// QueryOptions tune a similarity query.
type QueryOptions struct {
	Namespace       string
	IncludeMetadata bool
	IncludeVectors  bool
	Filter          string
}

// QueryResponse keeps the hit array raw: the index returns it under either
// "result" or "results" depending on deployment.
type QueryResponse struct {
	Result  json.RawMessage `json:"result,omitempty"`
	Results json.RawMessage `json:"results,omitempty"`
}

type upsertEntry struct {
	ID       string         `json:"id"`
	Vector   []float32      `json:"vector"`
	Metadata map[string]any `json:"metadata"`
}

// UpsertMany writes vectors in ordered batches of at most BatchSize, one
// sequential call per batch. Every vector is validated before any network I/O.
// On a failing batch the call aborts: earlier batches are already committed
// upstream and are not rolled back.
func (c *Client) UpsertMany(ctx context.Context, vectors []domain.Vector, opts UpsertOptions) ([]json.RawMessage, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}

	entries := make([]upsertEntry, len(vectors))
	for i, v := range vectors {
		if err := validateValues(v.ID, v.Values); err != nil {
			return nil, err
		}
		meta := v.Metadata
		if meta == nil {
			meta = map[string]any{}
		}
		entries[i] = upsertEntry{ID: v.ID, Vector: v.Values, Metadata: meta}
	}

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	endpoint := c.buildURL("/upsert", opts.Namespace)
	batches := (len(entries) + batchSize - 1) / batchSize

	var responses []json.RawMessage
	for i := 0; i < len(entries); i += batchSize {
		end := min(i+batchSize, len(entries))
		batch := entries[i:end]

		c.logger.Debug("upserting batch",
			zap.Int("batch", i/batchSize+1),
			zap.Int("batches", batches),
			zap.Int("count", len(batch)),
		)

		body, err := c.post(ctx, "upsert", endpoint, batch)
		if err != nil {
			return nil, err
		}
		responses = append(responses, body)
	}
	return responses, nil
}

// Query runs a similarity search. topK must be positive; the vector dimension
// is the caller's responsibility (the embedder already enforces it).
func (c *Client) Query(ctx context.Context, vector []float32, topK int, opts QueryOptions) (QueryResponse, error) {
	if err := c.ready(); err != nil {
		return QueryResponse{}, err
	}
	if topK <= 0 {
		return QueryResponse{}, fmt.Errorf("%w: topK must be positive, got %d", domain.ErrInvalidVector, topK)
	}

	payload := map[string]any{
		"vector":          vector,
		"topK":            topK,
		"includeMetadata": opts.IncludeMetadata,
	}
	if opts.IncludeVectors {
		payload["includeVectors"] = true
	}
	if opts.Filter != "" {
		payload["filter"] = opts.Filter
	}

	body, err := c.post(ctx, "query", c.buildURL("/query", opts.Namespace), payload)
	if err != nil {
		return QueryResponse{}, err
	}

	var resp QueryResponse
	if len(body) > 0 {
		// Non-JSON bodies degrade to an empty response; hit extraction is
		// NormalizeHits' concern.
		_ = json.Unmarshal(body, &resp)
	}
	return resp, nil
}

// NormalizeHits extracts the hit list from a query response. The array may sit
// under "result" or "results"; anything else yields an empty slice. Never fails.
func NormalizeHits(resp QueryResponse) []domain.QueryHit {
	for _, raw := range []json.RawMessage{resp.Result, resp.Results} {
		if len(raw) == 0 {
			continue
		}
		var hits []domain.QueryHit
		if err := json.Unmarshal(raw, &hits); err == nil {
			return hits
		}
	}
	return []domain.QueryHit{}
}

func (c *Client) ready() error {
	if c.baseURL == "" {
		return fmt.Errorf("%w: vector index URL is not set", domain.ErrMissingConfig)
	}
	if c.token == "" {
		return fmt.Errorf("%w: vector index token is not set", domain.ErrMissingConfig)
	}
	return nil
}

// buildURL appends the namespace query parameter. A blank namespace is omitted
// entirely, which addresses the index default collection.
func (c *Client) buildURL(path, namespace string) string {
	ns := strings.TrimSpace(namespace)
	if ns == "" {
		ns = strings.TrimSpace(c.namespace)
	}
	if ns == "" {
		return c.baseURL + path
	}
	return c.baseURL + path + "?namespace=" + url.QueryEscape(ns)
}

func (c *Client) post(ctx context.Context, op, endpoint string, payload any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.VectorIndexRequestsTotal.WithLabelValues(op, "error").Inc()
		return nil, fmt.Errorf("%s request: %w", op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.VectorIndexRequestsTotal.WithLabelValues(op, "error").Inc()
		return nil, fmt.Errorf("read %s response: %w", op, err)
	}

	metrics.VectorIndexRequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.VectorIndexRequestsTotal.WithLabelValues(op, "error").Inc()
		return nil, &StatusError{Op: op, Status: resp.StatusCode, Body: string(respBody)}
	}

	metrics.VectorIndexRequestsTotal.WithLabelValues(op, "success").Inc()
	return respBody, nil
}

func validateValues(id string, values []float32) error {
	if len(values) == 0 {
		return fmt.Errorf("%w: vector has no values, id=%s", domain.ErrInvalidVector, id)
	}
	for _, v := range values {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: vector contains a non-finite value, id=%s", domain.ErrInvalidVector, id)
		}
	}
	return nil
}
