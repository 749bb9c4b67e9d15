package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	pkgerrors "github.com/stowagehq/stowage-backend/internal/pkg/errors"
	"github.com/stowagehq/stowage-backend/internal/platform/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	return logger.New("test")
}

func newTestClient(t *testing.T, baseURL string) Client {
	t.Helper()
	t.Setenv("EMBED_BASE_URL", baseURL)
	t.Setenv("EMBED_MODEL", "nomic-embed-text")
	t.Setenv("EMBED_DIMENSION", "3")
	t.Setenv("EMBED_MAX_RETRIES", "1")
	c, err := NewClient(testLogger(t))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestEmbedBatch(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Errorf("path: want=/api/embed got=%s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"embeddings": [][]float32{{1, 2, 3}, {4, 5, 6}},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	vecs, err := c.Embed(context.Background(), []string{"alpha", "beta"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vecs) != 2 {
		t.Fatalf("vectors: want=2 got=%d", len(vecs))
	}
	if vecs[1][0] != 4 {
		t.Fatalf("vector value: want=4 got=%v", vecs[1][0])
	}
	if gotBody["model"] != "nomic-embed-text" {
		t.Fatalf("model: want=nomic-embed-text got=%v", gotBody["model"])
	}
	if _, ok := gotBody["input"].([]any); !ok {
		t.Fatalf("input: want array got %T", gotBody["input"])
	}
}

func TestEmbedSingleInputSendsString(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"embeddings": [][]float32{{1, 2, 3}},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	vec, err := c.EmbedOne(context.Background(), "  solo  ")
	if err != nil {
		t.Fatalf("embed one: %v", err)
	}
	if len(vec) != 3 {
		t.Fatalf("dimension: want=3 got=%d", len(vec))
	}
	if gotBody["input"] != "solo" {
		t.Fatalf("input: want=%q got=%v", "solo", gotBody["input"])
	}
}

func TestEmbedEmptyInputSkipsRequest(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	vecs, err := c.Embed(context.Background(), nil)
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vecs) != 0 {
		t.Fatalf("vectors: want=0 got=%d", len(vecs))
	}
	if calls.Load() != 0 {
		t.Fatalf("requests: want=0 got=%d", calls.Load())
	}
}

func TestEmbedDimensionMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"embeddings": [][]float32{{1, 2}},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.Embed(context.Background(), []string{"alpha"})
	if err == nil {
		t.Fatal("want error on short vector")
	}
	if !pkgerrors.IsCode(err, pkgerrors.CodeInternal) {
		t.Fatalf("code: want=%s got=%s", pkgerrors.CodeInternal, pkgerrors.CodeOf(err))
	}
}

func TestEmbedRetriesThenUnavailable(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.Embed(context.Background(), []string{"alpha"})
	if err == nil {
		t.Fatal("want error after exhausted retries")
	}
	if !pkgerrors.IsCode(err, pkgerrors.CodeEmbeddingUnavailable) {
		t.Fatalf("code: want=%s got=%s", pkgerrors.CodeEmbeddingUnavailable, pkgerrors.CodeOf(err))
	}
	if calls.Load() != 2 {
		t.Fatalf("attempts: want=2 got=%d", calls.Load())
	}
}

func TestEmbedRecoversOnRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"embeddings": [][]float32{{7, 8, 9}},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	vec, err := c.EmbedOne(context.Background(), "alpha")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if vec[2] != 9 {
		t.Fatalf("vector value: want=9 got=%v", vec[2])
	}
	if calls.Load() != 2 {
		t.Fatalf("attempts: want=2 got=%d", calls.Load())
	}
}

func TestHealthProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"embeddings": [][]float32{{1, 2, 3}},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	if err := c.Health(context.Background()); err != nil {
		t.Fatalf("health: %v", err)
	}
	if c.Dimension() != 3 {
		t.Fatalf("dimension: want=3 got=%d", c.Dimension())
	}
}
