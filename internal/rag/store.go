package rag

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"

	"github.com/vendalia/catalog-ai-platform/pkg/logging"
)

// Embedder turns text into vectors. The Bedrock Titan client implements it.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// SourceMeta describes where a chunk came from, and whether that source is a
// current (active) document or an archived one.
type SourceMeta struct {
	Document string `json:"document"`
	Page     int    `json:"page"`
	Current  bool   `json:"current"`
}

// Chunk is one pre-embedded unit of retrievable text.
type Chunk struct {
	ID     string     `json:"id"`
	Text   string     `json:"text"`
	Vector []float32  `json:"vector"`
	Source SourceMeta `json:"source"`
}

// Snapshot is a whole-collection dump of the embedding store. It is loaded in
// one piece; no partial or streaming load is supported.
type Snapshot struct {
	Chunks []Chunk `json:"chunks"`
}

// Scored is a retrieval result with its raw similarity score.
type Scored struct {
	Chunk Chunk
	Score float64
}

// Retriever exposes the query capability the augmentation pipeline needs.
type Retriever interface {
	Query(ctx context.Context, query string, topK int) ([]Scored, error)
}

// MemoryStore keeps pre-embedded chunks in memory and answers cosine top-K
// queries. Chunks from current sources always outrank archived ones; raw
// similarity only breaks ties within each tier.
type MemoryStore struct {
	embedder Embedder
	logger   *logging.Logger

	mu     sync.RWMutex
	chunks []Chunk
}

// NewMemoryStore creates an in-memory retrieval store.
func NewMemoryStore(embedder Embedder, logger *logging.Logger) *MemoryStore {
	if embedder == nil {
		panic("rag: embedder cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &MemoryStore{
		embedder: embedder,
		logger:   logger,
	}
}

// LoadSnapshot replaces the store contents with the snapshot's chunks.
func (s *MemoryStore) LoadSnapshot(snapshot *Snapshot) error {
	if snapshot == nil {
		return errors.New("rag: snapshot cannot be nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = make([]Chunk, len(snapshot.Chunks))
	copy(s.chunks, snapshot.Chunks)
	return nil
}

// Len reports how many chunks are loaded.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

// Query embeds the query text and returns the topK chunks after re-ranking.
func (s *MemoryStore) Query(ctx context.Context, query string, topK int) ([]Scored, error) {
	if topK <= 0 {
		topK = 3
	}

	vectors, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, nil
	}
	queryVec := vectors[0]

	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.chunks) == 0 {
		return nil, nil
	}

	results := make([]Scored, 0, len(s.chunks))
	for _, chunk := range s.chunks {
		results = append(results, Scored{
			Chunk: chunk,
			Score: cosineSimilarity(queryVec, chunk.Vector),
		})
	}
	Rerank(results)

	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Rerank sorts results so chunks from current sources strictly precede chunks
// from archived sources, with similarity as the tiebreak within each tier.
func Rerank(results []Scored) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Chunk.Source.Current != b.Chunk.Source.Current {
			return a.Chunk.Source.Current
		}
		return a.Score > b.Score
	})
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot float64
	var normA float64
	var normB float64
	for i := range a {
		dot += float64(a[i] * b[i])
		normA += float64(a[i] * a[i])
		normB += float64(b[i] * b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
