package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var chromemTracer = otel.Tracer("repoctx.vectorstore.chromem")

const backendChromem = "chromem"

// errNoEmbeddingFunc is returned if chromem ever asks us to embed text;
// every record carries its own vector.
var errNoEmbeddingFunc = errors.New("vectorstore: embeddings must be supplied with records")

// ChromemConfig holds configuration for the chromem-go store.
type ChromemConfig struct {
	// Path enables persistence to gob files under this directory. Empty
	// keeps everything in memory, which suits per-query snapshots.
	Path string

	// Compress enables gzip compression for persisted data.
	Compress bool
}

// ChromemStore implements Store using chromem-go.
type ChromemStore struct {
	db     *chromem.DB
	config ChromemConfig
	logger *zap.Logger
}

// NewChromemStore creates a ChromemStore.
func NewChromemStore(config ChromemConfig, logger *zap.Logger) (*ChromemStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var db *chromem.DB
	if config.Path == "" {
		db = chromem.NewDB()
	} else {
		path, err := expandPath(config.Path)
		if err != nil {
			return nil, fmt.Errorf("expanding path: %w", err)
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", path, err)
		}
		db, err = chromem.NewPersistentDB(path, config.Compress)
		if err != nil {
			return nil, fmt.Errorf("creating chromem DB: %w", err)
		}
		config.Path = path
	}

	logger.Debug("chromem store initialized",
		zap.String("path", config.Path),
		zap.Bool("persistent", config.Path != ""),
	)
	return &ChromemStore{db: db, config: config, logger: logger}, nil
}

func expandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, path[1:]), nil
}

func noEmbed(context.Context, string) ([]float32, error) {
	return nil, errNoEmbeddingFunc
}

// Upsert implements Store. Records replace existing ones with the same ID.
func (s *ChromemStore) Upsert(ctx context.Context, collection string, records []Record) (err error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Upsert")
	defer span.End()
	start := time.Now()
	defer func() { observe(backendChromem, "upsert", start, err) }()

	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.Int("record_count", len(records)),
	)

	if err = ValidateCollectionName(collection); err != nil {
		return err
	}
	if _, err = validateRecords(records); err != nil {
		return err
	}

	col, err := s.db.GetOrCreateCollection(collection, nil, noEmbed)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("getting collection %s: %w", collection, err)
	}

	docs := make([]chromem.Document, len(records))
	for i, r := range records {
		docs[i] = chromem.Document{
			ID:        r.ID,
			Content:   r.ID,
			Metadata:  encodeMetadata(r.Metadata),
			Embedding: r.Embedding,
		}
	}

	if err = col.AddDocuments(ctx, docs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("adding documents: %w", err)
	}

	span.SetStatus(codes.Ok, "success")
	s.logger.Debug("upserted records",
		zap.String("collection", collection),
		zap.Int("count", len(records)),
	)
	return nil
}

// Search implements Store.
func (s *ChromemStore) Search(ctx context.Context, collection string, embedding []float32, k int) (matches []Match, err error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Search")
	defer span.End()
	start := time.Now()
	defer func() { observe(backendChromem, "search", start, err) }()

	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.Int("k", k),
	)

	if err = ValidateCollectionName(collection); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", ErrInvalidConfig, k)
	}
	if len(embedding) == 0 {
		return nil, fmt.Errorf("%w: empty query embedding", ErrInvalidConfig)
	}

	col := s.db.GetCollection(collection, noEmbed)
	if col == nil {
		return []Match{}, nil
	}

	// chromem requires nResults <= doc count
	count := col.Count()
	if count == 0 {
		return []Match{}, nil
	}
	k = min(k, count)

	results, err := col.QueryEmbedding(ctx, embedding, k, nil, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying collection %s: %w", collection, err)
	}

	matches = make([]Match, 0, len(results))
	for _, r := range results {
		if math.IsNaN(float64(r.Similarity)) {
			continue
		}
		matches = append(matches, Match{
			ID:       r.ID,
			Metadata: decodeMetadata(r.Metadata),
			Score:    r.Similarity,
		})
	}

	span.SetAttributes(attribute.Int("results_count", len(matches)))
	span.SetStatus(codes.Ok, "success")
	return matches, nil
}

// Count implements Store.
func (s *ChromemStore) Count(_ context.Context, collection string) (int, error) {
	if err := ValidateCollectionName(collection); err != nil {
		return 0, err
	}
	col := s.db.GetCollection(collection, noEmbed)
	if col == nil {
		return 0, nil
	}
	return col.Count(), nil
}

// DeleteCollection implements Store. Deleting a missing collection is not an error.
func (s *ChromemStore) DeleteCollection(_ context.Context, collection string) (err error) {
	start := time.Now()
	defer func() { observe(backendChromem, "delete", start, err) }()
	if err = ValidateCollectionName(collection); err != nil {
		return err
	}
	if err = s.db.DeleteCollection(collection); err != nil {
		return fmt.Errorf("deleting collection %s: %w", collection, err)
	}
	return nil
}

// Close implements Store. chromem has no resources to release.
func (s *ChromemStore) Close() error {
	return nil
}

func encodeMetadata(m Metadata) map[string]string {
	return map[string]string{
		"file_path":       m.FilePath,
		"start":           strconv.Itoa(m.Start),
		"end":             strconv.Itoa(m.End),
		"heuristic_score": strconv.FormatFloat(m.HeuristicScore, 'g', -1, 64),
	}
}

func decodeMetadata(raw map[string]string) Metadata {
	m := Metadata{FilePath: raw["file_path"]}
	m.Start, _ = strconv.Atoi(raw["start"])
	m.End, _ = strconv.Atoi(raw["end"])
	m.HeuristicScore, _ = strconv.ParseFloat(raw["heuristic_score"], 64)
	return m
}
