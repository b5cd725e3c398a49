package rag

import (
	"context"
	"fmt"
)

// TextSearcher adapts a Retriever to callers that want plain text hits
// instead of scored chunks, such as the knowledge tool.
type TextSearcher struct {
	retriever Retriever
}

func NewTextSearcher(retriever Retriever) *TextSearcher {
	if retriever == nil {
		panic("rag: retriever cannot be nil")
	}
	return &TextSearcher{retriever: retriever}
}

// Search returns topK matching chunks formatted as "[document p.N] text".
func (s *TextSearcher) Search(ctx context.Context, query string, topK int) ([]string, error) {
	results, err := s.retriever.Query(ctx, query, topK)
	if err != nil {
		return nil, err
	}
	hits := make([]string, 0, len(results))
	for _, r := range results {
		label := r.Chunk.Source.Document
		if r.Chunk.Source.Page > 0 {
			label = fmt.Sprintf("%s p.%d", label, r.Chunk.Source.Page)
		}
		if label != "" {
			hits = append(hits, fmt.Sprintf("[%s] %s", label, r.Chunk.Text))
			continue
		}
		hits = append(hits, r.Chunk.Text)
	}
	return hits, nil
}
