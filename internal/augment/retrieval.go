package augment

import (
	"context"
	"fmt"
	"strings"

	"github.com/vendalia/catalog-ai-platform/internal/rag"
	"github.com/vendalia/catalog-ai-platform/internal/visual"
	"github.com/vendalia/catalog-ai-platform/pkg/logging"
)

const imageQueryPrompt = "Describe en una frase corta, en español, el producto de esta imagen para buscarlo en un catálogo. Solo la frase, sin explicación."

// RetrievalStage runs text RAG over the document store plus the low-weight
// tone store.
type RetrievalStage struct {
	docs     rag.Retriever
	tone     rag.Retriever
	vision   visual.VisionModel
	topK     int
	toneTopK int
	logger   *logging.Logger
}

// NewRetrievalStage builds the RAG stage. tone and vision may be nil.
func NewRetrievalStage(docs rag.Retriever, tone rag.Retriever, vision visual.VisionModel, topK, toneTopK int, logger *logging.Logger) *RetrievalStage {
	if docs == nil {
		panic("augment: document retriever cannot be nil")
	}
	if topK <= 0 {
		topK = 4
	}
	if toneTopK <= 0 {
		toneTopK = 2
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &RetrievalStage{
		docs:     docs,
		tone:     tone,
		vision:   vision,
		topK:     topK,
		toneTopK: toneTopK,
		logger:   logger,
	}
}

// Run retrieves document and tone context for the turn. For a pure-image turn
// without a verified visual match, a cheap vision call derives a search query
// from the image first. Both retrievals fail soft to empty fragments.
func (s *RetrievalStage) Run(ctx context.Context, text, imageB64, imageMIME string, visualResolved bool) (docsFragment, toneFragment string) {
	query := strings.TrimSpace(text)
	if query == "" {
		query = s.queryFromImage(ctx, imageB64, imageMIME, visualResolved)
	}
	if query == "" {
		return "", ""
	}

	if scored, err := s.docs.Query(ctx, query, s.topK); err != nil {
		s.logger.Warn("document retrieval failed", "error", err)
	} else if len(scored) > 0 {
		docsFragment = renderChunks("Información de catálogo relevante:", scored)
	}

	if s.tone != nil {
		// Tone guidance is best effort; a broken tone store never surfaces.
		if scored, err := s.tone.Query(ctx, query, s.toneTopK); err == nil && len(scored) > 0 {
			toneFragment = renderChunks("Ejemplos de tono y estilo de respuesta:", scored)
		}
	}

	return docsFragment, toneFragment
}

func (s *RetrievalStage) queryFromImage(ctx context.Context, imageB64, imageMIME string, visualResolved bool) string {
	if imageB64 == "" || visualResolved || s.vision == nil {
		return ""
	}
	img, err := originalImage(imageB64, imageMIME)
	if err != nil {
		return ""
	}
	query, err := s.vision.Describe(ctx, imageQueryPrompt, []visual.Image{img})
	if err != nil {
		s.logger.Warn("image query derivation failed", "error", err)
		return ""
	}
	return strings.TrimSpace(query)
}

func renderChunks(header string, scored []rag.Scored) string {
	var b strings.Builder
	b.WriteString(header + "\n")
	for _, sc := range scored {
		fmt.Fprintf(&b, "- %s\n", strings.TrimSpace(sc.Chunk.Text))
	}
	return strings.TrimSpace(b.String())
}
