package embeddings

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/repoctx/internal/cache"
)

// Client defaults.
const (
	DefaultBatchSize    = 64
	DefaultMaxRetries   = 3
	DefaultBaseBackoff  = 500 * time.Millisecond
	defaultWriteTimeout = 30 * time.Second
)

// ClientConfig configures a Client.
type ClientConfig struct {
	// BatchSize is the number of cache misses sent per provider call.
	BatchSize int
	// MaxRetries is the number of retries per batch after the first attempt.
	MaxRetries int
	// BaseBackoff is the delay before the first retry; it doubles each time.
	BaseBackoff time.Duration
	// CacheVersion is the version segment of cache keys.
	CacheVersion string
}

func (c *ClientConfig) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = DefaultBaseBackoff
	}
	if c.CacheVersion == "" {
		c.CacheVersion = cache.Version
	}
}

// Client embeds texts through a Provider, consulting a cache first.
//
// Misses are requested in fixed-size batches, each retried with exponential
// backoff. New vectors are written back asynchronously; Flush waits for
// pending writes. Cache failures are logged and treated as misses.
type Client struct {
	provider Provider
	cache    cache.Cache
	config   ClientConfig
	logger   *zap.Logger
	metrics  *Metrics
	pending  sync.WaitGroup
}

// NewClient wraps provider. A nil cache disables caching.
func NewClient(provider Provider, c cache.Cache, config ClientConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	config.applyDefaults()
	return &Client{
		provider: provider,
		cache:    c,
		config:   config,
		logger:   logger,
		metrics:  NewMetrics(logger),
	}
}

// SetMetrics replaces the client's instruments.
func (c *Client) SetMetrics(m *Metrics) {
	c.metrics = m
}

// Provider returns the wrapped provider.
func (c *Client) Provider() Provider {
	return c.provider
}

// CacheKey returns the cache key for text under this client's model.
func (c *Client) CacheKey(text string) string {
	return cache.Key(text, c.provider.Model(), c.config.CacheVersion)
}

// Embed returns one vector per text, in order.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	if len(texts) == 0 {
		return out, nil
	}

	keys := make([]string, len(texts))
	var misses []int
	for i, text := range texts {
		keys[i] = c.CacheKey(text)
		if vec, ok := c.lookup(ctx, keys[i]); ok {
			out[i] = vec
			continue
		}
		misses = append(misses, i)
	}
	c.metrics.RecordLookup(ctx, "hit", len(texts)-len(misses))
	c.metrics.RecordLookup(ctx, "miss", len(misses))

	if len(misses) == 0 {
		return out, nil
	}

	fresh := make(map[string][]float32, len(misses))
	for start := 0; start < len(misses); start += c.config.BatchSize {
		end := min(start+c.config.BatchSize, len(misses))
		idx := misses[start:end]
		batch := make([]string, len(idx))
		for j, i := range idx {
			batch[j] = texts[i]
		}

		vectors, err := c.embedBatch(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("embedding batch %d-%d of %d: %w", start, end, len(misses), err)
		}
		for j, i := range idx {
			out[i] = vectors[j]
			fresh[keys[i]] = vectors[j]
		}
	}

	c.writeBack(ctx, fresh)
	return out, nil
}

// EmbedQuery embeds a query string. Queries bypass the cache.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	var vec []float32
	err := c.retry(ctx, func() error {
		v, err := c.provider.EmbedQuery(ctx, text)
		vec = v
		return err
	})
	if err != nil {
		return nil, err
	}
	return vec, nil
}

func (c *Client) lookup(ctx context.Context, key string) ([]float32, bool) {
	if c.cache == nil {
		return nil, false
	}
	vec, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		c.metrics.RecordLookup(ctx, "error", 1)
		c.logger.Warn("embedding cache read failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return vec, ok
}

func (c *Client) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	var vectors [][]float32
	err := c.retry(ctx, func() error {
		v, err := c.provider.EmbedDocuments(ctx, batch)
		if err != nil {
			return err
		}
		if len(v) != len(batch) {
			return fmt.Errorf("%w: sent %d texts, got %d vectors", ErrDimensionMismatch, len(batch), len(v))
		}
		vectors = v
		return nil
	})
	return vectors, err
}

// retry runs fn until it succeeds, returns a permanent error, or
// MaxRetries retries are spent.
func (c *Client) retry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.config.BaseBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			c.metrics.RecordRetry(ctx, c.provider.Model())
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) {
			break
		}
		c.logger.Debug("embedding attempt failed",
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr))
	}
	if errors.Is(lastErr, ErrEmbeddingFailed) {
		return lastErr
	}
	return fmt.Errorf("%w: %w", ErrEmbeddingFailed, lastErr)
}

func isRetryable(err error) bool {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, ErrEmptyInput), errors.Is(err, ErrInvalidConfig):
		return false
	}
	var status *StatusError
	if errors.As(err, &status) {
		return status.Retryable()
	}
	return true
}

func (c *Client) writeBack(ctx context.Context, fresh map[string][]float32) {
	if c.cache == nil || len(fresh) == 0 {
		return
	}
	c.pending.Add(1)
	go func() {
		defer c.pending.Done()
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultWriteTimeout)
		defer cancel()
		for key, vec := range fresh {
			if err := c.cache.Set(wctx, key, vec); err != nil {
				c.logger.Warn("embedding cache write failed", zap.String("key", key), zap.Error(err))
			}
		}
	}()
}

// Flush waits for pending cache writes.
func (c *Client) Flush() {
	c.pending.Wait()
}

// Close flushes pending writes and closes the provider.
func (c *Client) Close() error {
	c.Flush()
	return c.provider.Close()
}
