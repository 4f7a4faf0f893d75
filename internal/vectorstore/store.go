// Package vectorstore stores snippet embeddings with their location
// metadata and answers k-nearest-neighbour queries over them.
//
// Each repository snapshot gets its own collection, named after the head
// commit (see CollectionName). Two backends are provided: ChromemStore, an
// in-process store built on chromem-go, and QdrantStore, which talks to a
// Qdrant server over gRPC.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Sentinel errors for vector store operations.
var (
	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmptyRecords indicates empty or nil records.
	ErrEmptyRecords = errors.New("empty or nil records")

	// ErrConnectionFailed indicates gRPC connection issues.
	ErrConnectionFailed = errors.New("failed to connect to Qdrant")

	// ErrInvalidCollectionName indicates collection name validation failure.
	ErrInvalidCollectionName = errors.New("invalid collection name")

	// ErrDimensionMismatch indicates records with differing vector sizes.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Metadata locates a snippet and carries its precomputed path score.
type Metadata struct {
	FilePath       string  `json:"file_path"`
	Start          int     `json:"start"`
	End            int     `json:"end"`
	HeuristicScore float64 `json:"heuristic_score"`
}

// Record is one stored vector. ID is the snippet denotation.
type Record struct {
	ID        string
	Embedding []float32
	Metadata  Metadata
}

// Match is a search hit. Score is cosine similarity; larger is closer.
type Match struct {
	ID       string
	Metadata Metadata
	Score    float32
}

// Store is the vector storage interface.
//
// Search returns at most k matches ordered by descending score, capping k
// at the collection size; a missing or empty collection yields no matches
// and no error.
type Store interface {
	Upsert(ctx context.Context, collection string, records []Record) error
	Search(ctx context.Context, collection string, embedding []float32, k int) ([]Match, error)
	Count(ctx context.Context, collection string) (int, error)
	DeleteCollection(ctx context.Context, collection string) error
	Close() error
}

// collectionNamePattern validates collection names.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ValidateCollectionName validates a collection name against ^[a-z0-9_]{1,64}$.
func ValidateCollectionName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: collection name cannot be empty", ErrInvalidCollectionName)
	}
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: collection name must match pattern ^[a-z0-9_]{1,64}$, got %q", ErrInvalidCollectionName, name)
	}
	return nil
}

// CollectionName returns the collection for a snapshot identified by its
// head commit SHA. Repositories without history use "snap_worktree".
func CollectionName(sha string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(sha) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
		if b.Len() == 16 {
			break
		}
	}
	if b.Len() == 0 {
		return "snap_worktree"
	}
	return "snap_" + b.String()
}

func validateRecords(records []Record) (int, error) {
	if len(records) == 0 {
		return 0, ErrEmptyRecords
	}
	dim := len(records[0].Embedding)
	for i, r := range records {
		if r.ID == "" {
			return 0, fmt.Errorf("%w: record %d has no id", ErrInvalidConfig, i)
		}
		if len(r.Embedding) != dim || dim == 0 {
			return 0, fmt.Errorf("%w: record %d has %d dimensions, want %d", ErrDimensionMismatch, i, len(r.Embedding), dim)
		}
	}
	return dim, nil
}
