package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

// HTTPEmbedder calls an OpenAI-compatible /embeddings endpoint.
type HTTPEmbedder struct {
	BaseURL    string
	Model      string
	Dimensions int
	Timeout    time.Duration

	client  *openai.Client
	limiter *rate.Limiter

	cacheMu  sync.Mutex
	cache    map[string]cacheEntry
	cacheTTL time.Duration
}

type cacheEntry struct {
	value []float32
	exp   time.Time
}

type RateLimitError struct {
	RetryAfter time.Duration
}

func (r RateLimitError) Error() string {
	if r.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %s", r.RetryAfter)
	}
	return "rate limited"
}

// rateLimitDoer turns a 429 into RateLimitError before the client parses the
// body, so Retry-After survives.
type rateLimitDoer struct {
	client *http.Client
}

func (d rateLimitDoer) Do(req *http.Request) (*http.Response, error) {
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		resp.Body.Close()
		return nil, RateLimitError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	}
	return resp, nil
}

// NewHTTPEmbedder builds an embedder limited to rps requests per second.
// Live previews re-embed the same text often, so results are cached briefly.
func NewHTTPEmbedder(baseURL, model, apiKey string, dimensions int, rps float64, timeout time.Duration) *HTTPEmbedder {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = strings.TrimRight(baseURL, "/")
	cfg.HTTPClient = rateLimitDoer{client: &http.Client{Timeout: timeout, Transport: otelhttp.NewTransport(http.DefaultTransport)}}
	return &HTTPEmbedder{
		BaseURL:    baseURL,
		Model:      model,
		Dimensions: dimensions,
		Timeout:    timeout,
		client:     openai.NewClientWithConfig(cfg),
		limiter:    rate.NewLimiter(limit, 1),
		cache:      map[string]cacheEntry{},
		cacheTTL:   60 * time.Second,
	}
}

func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(e.BaseURL) == "" {
		return nil, fmt.Errorf("EMBEDDING_URL is not set")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("cannot embed empty text")
	}
	if v, ok := e.cacheGet(text); ok {
		return v, nil
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	res, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      text,
		Model:      openai.EmbeddingModel(e.Model),
		Dimensions: e.Dimensions,
	})
	if err != nil {
		var rl RateLimitError
		if errors.As(err, &rl) {
			return nil, rl
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("embedding request timed out")
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, fmt.Errorf("embedding request timed out")
		}
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	if len(res.Data) == 0 || len(res.Data[0].Embedding) == 0 {
		return nil, ErrEmptyResponse
	}
	vec := res.Data[0].Embedding
	e.cacheSet(text, vec)
	return vec, nil
}

func (e *HTTPEmbedder) cacheGet(key string) ([]float32, bool) {
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()
	if c, ok := e.cache[key]; ok {
		if time.Now().Before(c.exp) {
			return c.value, true
		}
		delete(e.cache, key)
	}
	return nil, false
}

func (e *HTTPEmbedder) cacheSet(key string, value []float32) {
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()
	e.cache[key] = cacheEntry{
		value: value,
		exp:   time.Now().Add(e.cacheTTL),
	}
}

func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return 0
}
