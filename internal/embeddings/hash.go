package embeddings

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"

	"github.com/fyrsmithlabs/repoctx/internal/tokenizer"
)

// DefaultHashDimension is the vector size of HashProvider.
const DefaultHashDimension = 256

// HashProvider embeds text by hashing its tokens into a fixed number of
// signed buckets and L2-normalising the result. It needs no model or
// network and is deterministic, which makes it useful offline and in
// tests. Texts sharing identifiers land close together.
type HashProvider struct {
	dimension int
}

// NewHashProvider returns a hashing embedder of the given dimension.
func NewHashProvider(dimension int) *HashProvider {
	if dimension <= 0 {
		dimension = DefaultHashDimension
	}
	return &HashProvider{dimension: dimension}
}

// EmbedDocuments implements Provider.
func (p *HashProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = p.embed(t)
	}
	return out, nil
}

// EmbedQuery implements Provider.
func (p *HashProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.embed(text), nil
}

func (p *HashProvider) embed(text string) []float32 {
	vec := make([]float32, p.dimension)
	for tok := range tokenizer.Tokenize(text, tokenizer.DefaultStopwords) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok.Text))
		sum := h.Sum64()
		bucket := int(sum % uint64(p.dimension))
		if sum>>63 == 1 {
			vec[bucket]--
		} else {
			vec[bucket]++
		}
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= inv
	}
	return vec
}

// Dimension implements Provider.
func (p *HashProvider) Dimension() int {
	return p.dimension
}

// Model implements Provider.
func (p *HashProvider) Model() string {
	return fmt.Sprintf("hash-%d", p.dimension)
}

// Close implements Provider.
func (p *HashProvider) Close() error {
	return nil
}
