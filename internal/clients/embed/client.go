package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	pkgerrors "github.com/stowagehq/stowage-backend/internal/pkg/errors"
	"github.com/stowagehq/stowage-backend/internal/pkg/httpx"
	"github.com/stowagehq/stowage-backend/internal/platform/logger"
)

// Client is the only component that talks to the embedding provider.
// Everything else asks this interface for vectors.
type Client interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
	EmbedOne(ctx context.Context, input string) ([]float32, error)
	Dimension() int
	Health(ctx context.Context) error
}

type client struct {
	log        *logger.Logger
	baseURL    string
	model      string
	dimension  int
	httpClient *http.Client
	maxRetries int
}

func NewClient(log *logger.Logger) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	baseURL := strings.TrimSpace(os.Getenv("EMBED_BASE_URL"))
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	baseURL = strings.TrimRight(baseURL, "/")

	model := strings.TrimSpace(os.Getenv("EMBED_MODEL"))
	if model == "" {
		model = "nomic-embed-text"
	}

	dimension := 768
	if v := os.Getenv("EMBED_DIMENSION"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed > 0 {
			dimension = parsed
		}
	}

	timeoutSec := 60
	if v := os.Getenv("EMBED_TIMEOUT_SECONDS"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed > 0 {
			timeoutSec = parsed
		}
	}

	// Total attempts per request is maxRetries+1.
	maxRetries := 2
	if v := os.Getenv("EMBED_MAX_RETRIES"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed >= 0 {
			maxRetries = parsed
		}
	}

	return &client{
		log:        log.With("service", "EmbedClient"),
		baseURL:    baseURL,
		model:      model,
		dimension:  dimension,
		httpClient: &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
		maxRetries: maxRetries,
	}, nil
}

func (c *client) Dimension() int { return c.dimension }

type embedHTTPError struct {
	StatusCode int
	Body       string
}

func (e *embedHTTPError) Error() string {
	return fmt.Sprintf("embed http %d: %s", e.StatusCode, e.Body)
}

func (e *embedHTTPError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

func (c *client) doOnce(ctx context.Context, method, path string, body any) (*http.Response, []byte, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}

	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, &embedHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return resp, raw, nil
}

func (c *client) do(ctx context.Context, method, path string, body any, out any) error {
	backoff := 500 * time.Millisecond

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		resp, raw, err := c.doOnce(ctx, method, path, body)
		if err == nil {
			if out == nil {
				return nil
			}
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				return fmt.Errorf("embed decode error: %w; raw=%s", uErr, string(raw))
			}
			return nil
		}

		if !httpx.IsRetryableError(err) {
			return err
		}
		if attempt == c.maxRetries {
			return err
		}

		sleepFor := httpx.RetryAfterDuration(resp, backoff, 10*time.Second)
		sleepFor = httpx.JitterSleep(sleepFor)

		c.log.Warn("Embedding request retrying",
			"path", path,
			"attempt", attempt+1,
			"max_retries", c.maxRetries,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)

		time.Sleep(sleepFor)
		backoff *= 2
	}

	return fmt.Errorf("unreachable retry loop")
}

type embedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (c *client) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	const op = "EmbedClient.Embed"

	if len(inputs) == 0 {
		return [][]float32{}, nil
	}

	clean := make([]string, len(inputs))
	for i := range inputs {
		s := strings.TrimSpace(inputs[i])
		if s == "" {
			s = " "
		}
		clean[i] = s
	}

	var input any = clean
	if len(clean) == 1 {
		input = clean[0]
	}

	req := embedRequest{
		Model: c.model,
		Input: input,
	}

	var resp embedResponse
	if err := c.do(ctx, "POST", "/api/embed", req, &resp); err != nil {
		if ctx.Err() != nil {
			return nil, pkgerrors.FromContext(op, ctx)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeEmbeddingUnavailable, op, err)
	}

	if len(resp.Embeddings) != len(clean) {
		return nil, pkgerrors.Newf(pkgerrors.CodeEmbeddingUnavailable, op,
			"embedding provider returned %d vectors for %d inputs", len(resp.Embeddings), len(clean))
	}

	for i, vec := range resp.Embeddings {
		if len(vec) != c.dimension {
			return nil, pkgerrors.Newf(pkgerrors.CodeInternal, op,
				"embedding %d has dimension %d, expected %d", i, len(vec), c.dimension)
		}
	}

	return resp.Embeddings, nil
}

func (c *client) EmbedOne(ctx context.Context, input string) ([]float32, error) {
	vecs, err := c.Embed(ctx, []string{input})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, pkgerrors.Newf(pkgerrors.CodeEmbeddingUnavailable, "EmbedClient.EmbedOne",
			"embedding provider returned %d vectors for one input", len(vecs))
	}
	return vecs[0], nil
}

// Health embeds a short probe and checks the vector dimension. The app
// calls this once at startup and refuses to boot on mismatch.
func (c *client) Health(ctx context.Context) error {
	const op = "EmbedClient.Health"

	vec, err := c.EmbedOne(ctx, "dimension probe")
	if err != nil {
		return err
	}
	if len(vec) != c.dimension {
		return pkgerrors.Newf(pkgerrors.CodeInternal, op,
			"embedding provider produces %d-dimensional vectors, configured for %d", len(vec), c.dimension)
	}
	return nil
}
