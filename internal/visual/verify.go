package visual

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/vendalia/catalog-ai-platform/pkg/logging"
)

// Confidence is the verification tier reported by the vision model.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
	ConfidenceNone   Confidence = "none"
)

// Image is inline image data handed to the vision model.
type Image struct {
	Data []byte
	MIME string
}

// VisionModel is the single-call vision capability the verifier needs.
type VisionModel interface {
	Describe(ctx context.Context, prompt string, images []Image) (string, error)
}

// VerifiedMatch is a single candidate confirmed by the verification pass.
type VerifiedMatch struct {
	Match      Match
	Confidence Confidence
}

// Usable reports whether the verification is strong enough to replace the raw
// candidate list in the prompt.
func (v *VerifiedMatch) Usable() bool {
	return v != nil && (v.Confidence == ConfidenceHigh || v.Confidence == ConfidenceMedium)
}

// Verifier disambiguates among visually similar top-K candidates by showing
// the original image and the candidates to a vision model.
type Verifier struct {
	model  VisionModel
	logger *logging.Logger

	// readFile is swapped in tests to avoid fixture page images on disk.
	readFile func(string) ([]byte, error)
}

// NewVerifier creates a verification pass around the supplied vision model.
func NewVerifier(model VisionModel, logger *logging.Logger) *Verifier {
	if model == nil {
		panic("visual: vision model cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Verifier{
		model:    model,
		logger:   logger,
		readFile: os.ReadFile,
	}
}

type verdict struct {
	MatchIndex int    `json:"match_index"`
	Confidence string `json:"confidence"`
}

// Verify asks the model to pick the single best candidate. A nil result means
// the caller should fall back to the raw candidate list; an out-of-range pick
// from the model is a discarded match, not an error.
func (v *Verifier) Verify(ctx context.Context, original Image, matches []Match) (*VerifiedMatch, error) {
	if len(matches) == 0 {
		return nil, nil
	}

	images := []Image{original}
	var prompt strings.Builder
	prompt.WriteString("La primera imagen es la foto enviada por el cliente. ")
	prompt.WriteString("Las siguientes son páginas de catálogo candidatas, numeradas desde 0:\n")
	for i, m := range matches {
		fmt.Fprintf(&prompt, "%d. %s página %d\n", i, m.Catalog, m.PageNumber)
		data, err := v.readFile(m.ImagePath)
		if err != nil {
			v.logger.Warn("skipping unreadable candidate page", "path", m.ImagePath, "error", err)
			continue
		}
		images = append(images, Image{Data: data, MIME: "image/jpeg"})
	}
	prompt.WriteString("\nResponde únicamente con JSON: {\"match_index\": <número>, \"confidence\": \"high|medium|low|none\"}. ")
	prompt.WriteString("Usa \"none\" si ninguna candidata muestra el mismo producto.")

	raw, err := v.model.Describe(ctx, prompt.String(), images)
	if err != nil {
		return nil, fmt.Errorf("visual: verification call failed: %w", err)
	}

	var d verdict
	if err := json.Unmarshal([]byte(extractJSON(raw)), &d); err != nil {
		v.logger.Warn("verification reply was not valid JSON", "reply", raw)
		return nil, nil
	}

	// Range-check before use: the model occasionally invents indexes.
	if d.MatchIndex < 0 || d.MatchIndex >= len(matches) {
		v.logger.Warn("verification picked an out-of-range candidate",
			"index", d.MatchIndex, "candidates", len(matches))
		return nil, nil
	}

	confidence := Confidence(strings.ToLower(strings.TrimSpace(d.Confidence)))
	switch confidence {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow, ConfidenceNone:
	default:
		confidence = ConfidenceNone
	}

	return &VerifiedMatch{Match: matches[d.MatchIndex], Confidence: confidence}, nil
}

// extractJSON tolerates models that wrap their JSON verdict in code fences or
// surrounding prose.
func extractJSON(raw string) string {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end <= start {
		return raw
	}
	return raw[start : end+1]
}

// DecodeBase64Image decodes a raw or data-URL base64 payload into image bytes.
func DecodeBase64Image(payload string) ([]byte, string, error) {
	mime := "image/jpeg"
	if strings.HasPrefix(payload, "data:") {
		parts := strings.SplitN(payload, ",", 2)
		if len(parts) == 2 {
			header := parts[0]
			payload = parts[1]
			if idx := strings.IndexByte(header, ':'); idx >= 0 {
				if semi := strings.IndexByte(header, ';'); semi > idx {
					mime = header[idx+1 : semi]
				}
			}
		}
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return nil, "", fmt.Errorf("visual: invalid base64 image: %w", err)
	}
	return data, mime, nil
}
