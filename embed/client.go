// Package embed produces section and query embeddings via the Gemini
// embedContent REST API.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/paragraf/paragraf/store"
)

const (
	// DefaultModel is the embedding model. Its output is truncated to
	// store.EmbeddingDim via outputDimensionality, which is why vectors
	// must be re-normalized after the call.
	DefaultModel = "gemini-embedding-001"

	defaultBaseURL   = "https://generativelanguage.googleapis.com/v1beta"
	defaultCacheSize = 1000
)

// Task types understood by the API. Queries and corpus documents are
// embedded asymmetrically.
const (
	taskQuery    = "RETRIEVAL_QUERY"
	taskDocument = "RETRIEVAL_DOCUMENT"
)

// APIError is a non-200 response from the embedding API. The retry
// layer classifies it by status code.
type APIError struct {
	StatusCode int
	RetryAfter time.Duration // parsed from Retry-After, 0 when absent
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("embed: API error %d: %s", e.StatusCode, e.Body)
}

// Client calls the embedding API and caches query embeddings.
// Safe for concurrent use.
type Client struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
	cache   *lru.Cache[string, []float32]
}

// Option configures a Client.
type Option func(*Client)

// WithModel overrides the embedding model.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// WithBaseURL overrides the API endpoint, mainly for tests.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// NewClient creates an embedding client. The query cache holds the
// most recent 1000 query embeddings.
func NewClient(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("embed: missing API key")
	}
	cache, err := lru.New[string, []float32](defaultCacheSize)
	if err != nil {
		return nil, err
	}
	c := &Client{
		apiKey:  apiKey,
		model:   DefaultModel,
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		cache:   cache,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// EmbedQuery embeds a search query, serving repeats from the cache.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.cache.Get(text); ok {
		return v, nil
	}
	v, err := c.embed(ctx, text, taskQuery)
	if err != nil {
		return nil, err
	}
	c.cache.Add(text, v)
	return v, nil
}

// EmbedDocument embeds corpus text for indexing. Not cached: backfill
// never re-embeds the same section.
func (c *Client) EmbedDocument(ctx context.Context, text string) ([]float32, error) {
	return c.embed(ctx, text, taskDocument)
}

type embedRequest struct {
	Model                string       `json:"model"`
	Content              embedContent `json:"content"`
	TaskType             string       `json:"taskType"`
	OutputDimensionality int          `json:"outputDimensionality"`
}

type embedContent struct {
	Parts []embedPart `json:"parts"`
}

type embedPart struct {
	Text string `json:"text"`
}

type embedResponse struct {
	Embedding struct {
		Values []float32 `json:"values"`
	} `json:"embedding"`
}

func (c *Client) embed(ctx context.Context, text, taskType string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("embed: empty text")
	}

	body, err := json.Marshal(embedRequest{
		Model:                "models/" + c.model,
		Content:              embedContent{Parts: []embedPart{{Text: text}}},
		TaskType:             taskType,
		OutputDimensionality: store.EmbeddingDim,
	})
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/models/%s:embedContent?key=%s", c.baseURL, c.model, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("embed: reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After")),
			Body:       string(respBody),
		}
	}

	var out embedResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("embed: decoding response: %w", err)
	}
	values := out.Embedding.Values
	if len(values) != store.EmbeddingDim {
		return nil, fmt.Errorf("embed: got %d dims, want %d", len(values), store.EmbeddingDim)
	}
	normalize(values)
	return values, nil
}

// ParseRetryAfter reads a Retry-After header in delay-seconds form.
// HTTP-date values and garbage yield 0, leaving backoff to the caller.
func ParseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return 0
}

// normalize scales v to unit length in place. Truncated embeddings are
// not unit vectors, and cosine scoring assumes they are.
func normalize(v []float32) {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	if sum == 0 {
		return
	}
	norm := math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
}
