package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// DefaultBucket is the JetStream key/value bucket used for vectors.
const DefaultBucket = "repoctx_embeddings"

// NATS is a Cache backed by a JetStream key/value bucket, shared by every
// process connected to the same cluster.
type NATS struct {
	kv     nats.KeyValue
	logger *zap.Logger
}

// NATSConfig configures NewNATS.
type NATSConfig struct {
	// Bucket defaults to DefaultBucket.
	Bucket string
	// Replicas defaults to 1.
	Replicas int
}

// NewNATS binds to, or creates, the vector bucket on nc.
func NewNATS(nc *nats.Conn, cfg NATSConfig, logger *zap.Logger) (*NATS, error) {
	if nc == nil {
		return nil, errors.New("nats connection is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Bucket == "" {
		cfg.Bucket = DefaultBucket
	}
	if cfg.Replicas <= 0 {
		cfg.Replicas = 1
	}

	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream context: %w", err)
	}
	kv, err := js.KeyValue(cfg.Bucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket:      cfg.Bucket,
			Description: "embedding vectors keyed by content hash",
			Replicas:    cfg.Replicas,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("binding bucket %s: %w", cfg.Bucket, err)
	}

	logger.Debug("embedding cache bound", zap.String("bucket", cfg.Bucket))
	return &NATS{kv: kv, logger: logger}, nil
}

// Get implements Cache.
func (n *NATS) Get(ctx context.Context, key string) ([]float32, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	entry, err := n.kv.Get(kvKey(key))
	if errors.Is(err, nats.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("kv get: %w", err)
	}
	vec, err := Decode(entry.Value())
	if err != nil {
		return nil, false, err
	}
	return vec, true, nil
}

// Set implements Cache. Writing the same key twice stores the same value,
// so concurrent writers are harmless.
func (n *NATS) Set(ctx context.Context, key string, vec []float32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := n.kv.Put(kvKey(key), Encode(vec)); err != nil {
		return fmt.Errorf("kv put: %w", err)
	}
	return nil
}

// kvKey maps a cache key onto the JetStream key alphabet
// [-/_=.a-zA-Z0-9]. ':' becomes '.', any other byte outside the alphabet
// is written as =XX so distinct keys stay distinct.
func kvKey(key string) string {
	var b strings.Builder
	b.Grow(len(key))
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
			c == '-', c == '/', c == '_':
			b.WriteByte(c)
		case c == ':':
			b.WriteByte('.')
		default:
			fmt.Fprintf(&b, "=%02X", c)
		}
	}
	return b.String()
}
