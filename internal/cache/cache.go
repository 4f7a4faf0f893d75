// Package cache stores embedding vectors keyed by content hash, model and
// cache version. Entries are immutable: a key always maps to the vector
// computed from the content it was derived from.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"sync"
)

// Version is appended to every key. Bump it when the embedding input
// format changes so stale vectors are never served.
const Version = "v1"

// ErrCorruptEntry indicates a stored value that does not decode to a vector.
var ErrCorruptEntry = errors.New("corrupt cache entry")

// Cache is a key/value store for embedding vectors. A miss is reported as
// (nil, false, nil); errors mean the backend itself failed.
type Cache interface {
	Get(ctx context.Context, key string) ([]float32, bool, error)
	Set(ctx context.Context, key string, vec []float32) error
}

// Key returns the persisted key for content embedded with model:
// hex(sha256(content)) + ":" + model + ":" + version.
func Key(content, model, version string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:]) + ":" + model + ":" + version
}

// Encode serialises a vector as little-endian float32s.
func Encode(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

// Decode parses a value written by Encode.
func Decode(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("%w: length %d not a multiple of 4", ErrCorruptEntry, len(b))
	}
	vec := make([]float32, len(b)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return vec, nil
}

// Memory is an in-process Cache.
type Memory struct {
	mu      sync.RWMutex
	entries map[string][]float32
}

// NewMemory returns an empty in-process cache.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string][]float32)}
}

// Get implements Cache.
func (m *Memory) Get(_ context.Context, key string) ([]float32, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	vec, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	return append([]float32(nil), vec...), true, nil
}

// Set implements Cache.
func (m *Memory) Set(_ context.Context, key string, vec []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = append([]float32(nil), vec...)
	return nil
}

// Len returns the number of stored entries.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
