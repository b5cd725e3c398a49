package augment

import (
	"context"
	"fmt"
	"strings"

	"github.com/vendalia/catalog-ai-platform/internal/visual"
	"github.com/vendalia/catalog-ai-platform/pkg/logging"
)

// VisualResult is the outcome of the image-match stage for one turn.
type VisualResult struct {
	Fragment   string
	Verified   *visual.VerifiedMatch
	Candidates []visual.Match
}

// Resolved reports whether verification confirmed a single catalog page.
func (r *VisualResult) Resolved() bool {
	return r != nil && r.Verified.Usable()
}

// VisualStage matches an inbound image against the catalog-page index and
// verifies the candidates with a vision model.
type VisualStage struct {
	searcher visual.Searcher
	verifier *visual.Verifier
	topK     int
	logger   *logging.Logger
}

// NewVisualStage builds the visual pipeline stage. verifier may be nil; the
// stage then reports raw candidates only.
func NewVisualStage(searcher visual.Searcher, verifier *visual.Verifier, topK int, logger *logging.Logger) *VisualStage {
	if searcher == nil {
		panic("augment: searcher cannot be nil")
	}
	if topK <= 0 {
		topK = 5
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &VisualStage{searcher: searcher, verifier: verifier, topK: topK, logger: logger}
}

// Run searches the index and runs the verification pass. Index or verifier
// failures degrade to fewer candidates or an empty fragment, never an error.
func (s *VisualStage) Run(ctx context.Context, imageB64, imageMIME string) *VisualResult {
	if imageB64 == "" {
		return &VisualResult{}
	}

	matches, err := s.searcher.Search(ctx, imageB64, s.topK)
	if err != nil {
		s.logger.Warn("visual index search failed", "error", err)
		return &VisualResult{}
	}
	if len(matches) == 0 {
		return &VisualResult{}
	}

	res := &VisualResult{Candidates: matches}

	if s.verifier != nil {
		original, verifyErr := originalImage(imageB64, imageMIME)
		if verifyErr == nil {
			verified, err := s.verifier.Verify(ctx, original, matches)
			if err != nil {
				s.logger.Warn("visual verification failed", "error", err)
			} else {
				res.Verified = verified
			}
		}
	}

	if res.Resolved() {
		m := res.Verified.Match
		res.Fragment = fmt.Sprintf(
			"Imagen del cliente identificada: catálogo %s, página %d (confianza %s).",
			m.Catalog, m.PageNumber, res.Verified.Confidence)
		return res
	}

	// Verification missing or weak: show the raw candidate list instead.
	var b strings.Builder
	b.WriteString("La imagen del cliente se parece a estas páginas de catálogo:\n")
	for _, m := range matches {
		fmt.Fprintf(&b, "- catálogo %s, página %d (similitud %.2f)\n", m.Catalog, m.PageNumber, m.Similarity)
	}
	res.Fragment = strings.TrimSpace(b.String())
	return res
}

func originalImage(imageB64, imageMIME string) (visual.Image, error) {
	data, mime, err := visual.DecodeBase64Image(imageB64)
	if err != nil {
		return visual.Image{}, err
	}
	if imageMIME != "" {
		mime = imageMIME
	}
	return visual.Image{Data: data, MIME: mime}, nil
}
