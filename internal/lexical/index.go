// Package lexical implements an in-memory inverted index over snippets
// with BM25 scoring across a title field (the file path) and a content
// field, and min-max normalised result maps.
package lexical

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/fyrsmithlabs/repoctx/internal/snippet"
	"github.com/fyrsmithlabs/repoctx/internal/tokenizer"
)

var (
	// ErrDuplicateID indicates two documents share an ID.
	ErrDuplicateID = errors.New("duplicate document id")

	// ErrEmptyID indicates a document without an ID.
	ErrEmptyID = errors.New("empty document id")
)

// Default scoring parameters.
const (
	DefaultK1            = 1.2
	DefaultB             = 0.75
	DefaultFloor         = 0.05
	DefaultStopwordCount = 25
	DefaultTitleBoost    = 1.0
)

// stopwordVocabRatio caps corpus stopwords at one per this many distinct
// tokens, so small corpora keep their vocabulary searchable.
const stopwordVocabRatio = 10

const (
	fieldTitle = iota
	fieldContent
	numFields
)

// KeyBy selects the key of a search result map.
type KeyBy int

const (
	// KeyByID keys results by document ID (snippet denotation).
	KeyByID KeyBy = iota
	// KeyByTitle keys results by title, keeping the best document per title.
	KeyByTitle
	// KeyByURL keys results by URL, keeping the best document per URL.
	KeyByURL
)

// Document is one indexed unit.
type Document struct {
	ID      string
	Title   string
	URL     string
	Content string
}

type posting struct {
	doc int
	tf  int
}

type field struct {
	postings map[string][]posting
	lengths  []int
	avgLen   float64
}

// Hit is a single scored document.
type Hit struct {
	Document Document
	Score    float64
}

// Index is an immutable inverted index. It is safe for concurrent search.
type Index struct {
	docs      []Document
	fields    [numFields]field
	stopwords tokenizer.Set
	opts      options
}

type options struct {
	k1            float64
	b             float64
	floor         float64
	titleBoost    float64
	stopwordCount int
	stopwords     tokenizer.Set
}

// Option configures Build.
type Option func(*options)

// WithBM25 overrides k1 and b.
func WithBM25(k1, b float64) Option {
	return func(o *options) { o.k1, o.b = k1, b }
}

// WithFloor sets the minimum normalised score of a hit.
func WithFloor(floor float64) Option {
	return func(o *options) { o.floor = floor }
}

// WithTitleBoost multiplies title field scores.
func WithTitleBoost(boost float64) Option {
	return func(o *options) { o.titleBoost = boost }
}

// WithStopwordCount sets how many of the most frequent corpus tokens are
// treated as stopwords.
func WithStopwordCount(n int) Option {
	return func(o *options) { o.stopwordCount = n }
}

// WithStopwords replaces the corpus-derived stopword set.
func WithStopwords(s tokenizer.Set) Option {
	return func(o *options) { o.stopwords = s }
}

// Build indexes docs. The stopword set defaults to the corpus's most
// frequent tokens.
func Build(docs []Document, opts ...Option) (*Index, error) {
	o := options{
		k1:            DefaultK1,
		b:             DefaultB,
		floor:         DefaultFloor,
		titleBoost:    DefaultTitleBoost,
		stopwordCount: DefaultStopwordCount,
	}
	for _, opt := range opts {
		opt(&o)
	}

	seen := make(map[string]struct{}, len(docs))
	for _, d := range docs {
		if d.ID == "" {
			return nil, ErrEmptyID
		}
		if _, dup := seen[d.ID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateID, d.ID)
		}
		seen[d.ID] = struct{}{}
	}

	stop := o.stopwords
	if stop == nil {
		texts := make([]string, 0, 2*len(docs))
		for _, d := range docs {
			texts = append(texts, d.Title, d.Content)
		}
		n := min(o.stopwordCount, vocabulary(texts)/stopwordVocabRatio)
		stop = tokenizer.CorpusStopwords(texts, n)
	}

	idx := &Index{
		docs:      slices.Clone(docs),
		stopwords: stop,
		opts:      o,
	}
	for f := range idx.fields {
		idx.fields[f] = field{
			postings: make(map[string][]posting),
			lengths:  make([]int, len(docs)),
		}
	}

	for i, d := range docs {
		idx.addField(fieldTitle, i, d.Title)
		idx.addField(fieldContent, i, d.Content)
	}
	for f := range idx.fields {
		total := 0
		for _, l := range idx.fields[f].lengths {
			total += l
		}
		if len(docs) > 0 {
			idx.fields[f].avgLen = float64(total) / float64(len(docs))
		}
	}
	return idx, nil
}

// vocabulary counts the distinct tokens of texts.
func vocabulary(texts []string) int {
	seen := make(map[string]struct{})
	for _, text := range texts {
		for tok := range tokenizer.Tokenize(text, nil) {
			seen[tok.Text] = struct{}{}
		}
	}
	return len(seen)
}

// FromSnippets builds an index whose document IDs are snippet denotations
// and whose titles are file paths.
func FromSnippets(snippets []snippet.Snippet, opts ...Option) (*Index, error) {
	docs := make([]Document, len(snippets))
	for i, s := range snippets {
		docs[i] = Document{
			ID:      s.Denotation(),
			Title:   s.FilePath,
			URL:     s.FilePath,
			Content: s.Text(),
		}
	}
	return Build(docs, opts...)
}

func (idx *Index) addField(f, doc int, text string) {
	counts := make(map[string]int)
	n := 0
	for tok := range tokenizer.Tokenize(text, idx.stopwords) {
		counts[tok.Text]++
		n++
	}
	fl := &idx.fields[f]
	fl.lengths[doc] = n
	for term, tf := range counts {
		fl.postings[term] = append(fl.postings[term], posting{doc: doc, tf: tf})
	}
}

// Len returns the number of indexed documents.
func (idx *Index) Len() int {
	return len(idx.docs)
}

// Stopwords returns the stopword set used at index time.
func (idx *Index) Stopwords() tokenizer.Set {
	return idx.stopwords
}

// scores returns raw BM25 scores for every matching document. Query terms
// are OR-ed; the query is tokenised without stopwords.
func (idx *Index) scores(query string) map[int]float64 {
	terms := tokenizer.Texts(query, nil)
	if len(terms) == 0 || len(idx.docs) == 0 {
		return nil
	}
	n := float64(len(idx.docs))
	out := make(map[int]float64)
	for f := range idx.fields {
		fl := &idx.fields[f]
		boost := 1.0
		if f == fieldTitle {
			boost = idx.opts.titleBoost
		}
		for _, term := range terms {
			plist := fl.postings[term]
			if len(plist) == 0 {
				continue
			}
			df := float64(len(plist))
			idf := math.Log(1 + (n-df+0.5)/(df+0.5))
			for _, p := range plist {
				tf := float64(p.tf)
				norm := 1 - idx.opts.b
				if fl.avgLen > 0 {
					norm += idx.opts.b * float64(fl.lengths[p.doc]) / fl.avgLen
				}
				out[p.doc] += boost * idf * tf * (idx.opts.k1 + 1) / (tf + idx.opts.k1*norm)
			}
		}
	}
	return out
}

// Search returns normalised scores in [floor, 1] keyed as requested. Zero
// hits yield an empty, non-nil map.
func (idx *Index) Search(query string, key KeyBy) map[string]float64 {
	raw := idx.scores(query)
	keyed := make(map[string]float64, len(raw))
	for doc, s := range raw {
		k := idx.key(doc, key)
		if prev, ok := keyed[k]; !ok || s > prev {
			keyed[k] = s
		}
	}
	return Normalize(keyed, idx.opts.floor)
}

// Hits returns up to limit documents ordered by descending raw score, ties
// broken by document order. A limit <= 0 returns every hit.
func (idx *Index) Hits(query string, limit int) []Hit {
	raw := idx.scores(query)
	docs := make([]int, 0, len(raw))
	for d := range raw {
		docs = append(docs, d)
	}
	slices.SortFunc(docs, func(a, b int) int {
		if c := cmp.Compare(raw[b], raw[a]); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})
	if limit > 0 && len(docs) > limit {
		docs = docs[:limit]
	}
	hits := make([]Hit, len(docs))
	for i, d := range docs {
		hits[i] = Hit{Document: idx.docs[d], Score: raw[d]}
	}
	return hits
}

func (idx *Index) key(doc int, key KeyBy) string {
	d := idx.docs[doc]
	switch key {
	case KeyByTitle:
		return d.Title
	case KeyByURL:
		return d.URL
	default:
		return d.ID
	}
}

// Normalize min-max scales scores to [floor, 1]. When every score is equal
// each becomes 1.
func Normalize(scores map[string]float64, floor float64) map[string]float64 {
	out := make(map[string]float64, len(scores))
	if len(scores) == 0 {
		return out
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, s := range scores {
		lo = min(lo, s)
		hi = max(hi, s)
	}
	for k, s := range scores {
		if hi == lo {
			out[k] = 1
			continue
		}
		out[k] = floor + (1-floor)*(s-lo)/(hi-lo)
	}
	return out
}
