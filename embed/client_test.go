package embed

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paragraf/paragraf/store"
)

func testServer(t *testing.T, calls *atomic.Int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)

		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		if req.OutputDimensionality != store.EmbeddingDim {
			t.Errorf("outputDimensionality: got %d", req.OutputDimensionality)
		}
		if req.TaskType != taskQuery && req.TaskType != taskDocument {
			t.Errorf("taskType: got %q", req.TaskType)
		}

		// Non-unit vector so the client has to normalize.
		values := make([]float32, store.EmbeddingDim)
		values[0] = 3
		values[1] = 4
		json.NewEncoder(w).Encode(map[string]interface{}{
			"embedding": map[string]interface{}{"values": values},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestEmbedQueryNormalizes(t *testing.T) {
	var calls atomic.Int64
	srv := testServer(t, &calls)
	c, err := NewClient("test-key", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	v, err := c.EmbedQuery(context.Background(), "hva er mangel")
	if err != nil {
		t.Fatalf("EmbedQuery: %v", err)
	}
	if len(v) != store.EmbeddingDim {
		t.Fatalf("got %d dims", len(v))
	}
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	if math.Abs(sum-1) > 1e-5 {
		t.Errorf("vector not unit length: %v", sum)
	}
}

func TestEmbedQueryCaches(t *testing.T) {
	var calls atomic.Int64
	srv := testServer(t, &calls)
	c, err := NewClient("test-key", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := c.EmbedQuery(ctx, "samme spørring"); err != nil {
			t.Fatalf("EmbedQuery: %v", err)
		}
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("repeated query hit the API %d times", got)
	}

	if _, err := c.EmbedDocument(ctx, "samme spørring"); err != nil {
		t.Fatalf("EmbedDocument: %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("document embedding should bypass the cache, calls=%d", got)
	}
}

func TestEmbedAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"quota"}`))
	}))
	t.Cleanup(srv.Close)

	c, err := NewClient("test-key", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	_, err = c.EmbedQuery(context.Background(), "spørring")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("got %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusTooManyRequests {
		t.Errorf("status: got %d", apiErr.StatusCode)
	}
	if apiErr.RetryAfter != 7*time.Second {
		t.Errorf("retry after: got %v", apiErr.RetryAfter)
	}
}

func TestParseRetryAfter(t *testing.T) {
	cases := []struct {
		header string
		want   time.Duration
	}{
		{"7", 7 * time.Second},
		{"0", 0},
		{"", 0},
		{"Wed, 21 Oct 2026 07:28:00 GMT", 0},
		{"-3", 0},
		{"tull", 0},
	}
	for _, tc := range cases {
		if got := ParseRetryAfter(tc.header); got != tc.want {
			t.Errorf("ParseRetryAfter(%q): got %v, want %v", tc.header, got, tc.want)
		}
	}
}

func TestNewClientRequiresKey(t *testing.T) {
	if _, err := NewClient(""); err == nil {
		t.Fatal("expected error for missing API key")
	}
}
