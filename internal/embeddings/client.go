// Package embeddings talks to the embedding gateway: dense vectors over
// /embed, SPLADE sparse vectors over /sparse, and cross-encoder scoring
// over /rerank.
package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrAuth indicates the gateway rejected our credentials. Distinct
	// from transport failures so operators know which side to fix.
	ErrAuth = errors.New("embedding gateway rejected credentials")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("embedding generation failed")

	// ErrRerankFailed indicates reranker scoring failure.
	ErrRerankFailed = errors.New("rerank scoring failed")
)

// SparseVector is a SPLADE term-weight vector in coordinate form.
// Indices and Values are parallel slices.
type SparseVector struct {
	Indices []uint32  `json:"indices"`
	Values  []float32 `json:"values"`
}

// ClientConfig holds the endpoints and credentials for the gateway.
type ClientConfig struct {
	// DenseURL is the base URL for the dense embedding endpoint. Required.
	DenseURL string

	// SparseURL is the base URL for the SPLADE endpoint. Optional.
	SparseURL string

	// RerankURL is the base URL for the reranker endpoint. Optional.
	RerankURL string

	// APIKey is sent as a bearer token when non-empty.
	APIKey string

	// Timeout bounds each HTTP request.
	Timeout time.Duration
}

// Validate validates the configuration.
func (c ClientConfig) Validate() error {
	if c.DenseURL == "" {
		return fmt.Errorf("%w: dense embedding URL required", ErrInvalidConfig)
	}
	return nil
}

// Client is the low-level HTTP client for the embedding gateway.
type Client struct {
	config ClientConfig
	client *http.Client
}

// NewClient creates a gateway client.
func NewClient(config ClientConfig) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		config: config,
		client: &http.Client{Timeout: timeout},
	}, nil
}

// denseRequest is the request body for the dense embed endpoint.
type denseRequest struct {
	Inputs   interface{} `json:"inputs"`
	Truncate bool        `json:"truncate"`
}

// EmbedDocuments generates dense embeddings for multiple texts.
func (c *Client) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}

	var vectors [][]float32
	err := c.post(ctx, c.config.DenseURL+"/embed", denseRequest{Inputs: texts, Truncate: true}, &vectors)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbeddingFailed, len(vectors), len(texts))
	}
	return vectors, nil
}

// EmbedQuery generates a dense embedding for a single query.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}

	vectors, err := c.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// sparseBatchRequest is the request body for the SPLADE batch endpoint.
type sparseBatchRequest struct {
	Texts []string `json:"texts"`
}

type sparseBatchResponse struct {
	Vectors []SparseVector `json:"vectors"`
}

// SparseDocuments generates SPLADE vectors for multiple texts.
func (c *Client) SparseDocuments(ctx context.Context, texts []string) ([]SparseVector, error) {
	if c.config.SparseURL == "" {
		return nil, fmt.Errorf("%w: sparse URL not configured", ErrInvalidConfig)
	}
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}

	var resp sparseBatchResponse
	err := c.post(ctx, c.config.SparseURL+"/sparse/batch", sparseBatchRequest{Texts: texts}, &resp)
	if err != nil {
		return nil, err
	}
	if len(resp.Vectors) != len(texts) {
		return nil, fmt.Errorf("%w: got %d sparse vectors for %d texts", ErrEmbeddingFailed, len(resp.Vectors), len(texts))
	}
	return resp.Vectors, nil
}

// SparseQuery generates a SPLADE vector for a single query.
func (c *Client) SparseQuery(ctx context.Context, text string) (SparseVector, error) {
	if c.config.SparseURL == "" {
		return SparseVector{}, fmt.Errorf("%w: sparse URL not configured", ErrInvalidConfig)
	}
	if text == "" {
		return SparseVector{}, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}

	var vec SparseVector
	err := c.post(ctx, c.config.SparseURL+"/sparse", struct {
		Text string `json:"text"`
	}{Text: text}, &vec)
	if err != nil {
		return SparseVector{}, err
	}
	return vec, nil
}

// rerankRequest is the request body for the reranker endpoint.
type rerankRequest struct {
	Query    string   `json:"query"`
	Passages []string `json:"passages"`
}

type rerankResponse struct {
	Scores []float64 `json:"scores"`
}

// Rerank scores passages against a query. Scores are returned in passage
// order.
func (c *Client) Rerank(ctx context.Context, query string, passages []string) ([]float64, error) {
	if c.config.RerankURL == "" {
		return nil, fmt.Errorf("%w: rerank URL not configured", ErrInvalidConfig)
	}
	if query == "" || len(passages) == 0 {
		return nil, fmt.Errorf("%w: query and passages required", ErrEmptyInput)
	}

	var resp rerankResponse
	err := c.post(ctx, c.config.RerankURL+"/rerank", rerankRequest{Query: query, Passages: passages}, &resp)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRerankFailed, err)
	}
	if len(resp.Scores) != len(passages) {
		return nil, fmt.Errorf("%w: got %d scores for %d passages", ErrRerankFailed, len(resp.Scores), len(passages))
	}
	return resp.Scores, nil
}

func (c *Client) post(ctx context.Context, url string, reqBody, out interface{}) error {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", ErrAuth, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: status %d: %s", ErrEmbeddingFailed, resp.StatusCode, string(respBody))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
