package augment

import "strings"

// Source identifies which stage contributed a context fragment.
type Source string

const (
	SourceIdentity Source = "identity"
	SourceVisual   Source = "visual"
	SourceTone     Source = "tone"
	SourceDocs     Source = "docs"
)

// assemblyOrder is the fixed concatenation order of fragments in the prompt.
// Stages may finish in any order; assembly never depends on completion order.
var assemblyOrder = []Source{SourceIdentity, SourceVisual, SourceTone, SourceDocs}

// Fragment is one named block of retrieved context.
type Fragment struct {
	Source Source
	Text   string
}

// Assemble joins the non-empty fragments in the fixed source order.
func Assemble(fragments map[Source]string) string {
	parts := make([]string, 0, len(assemblyOrder))
	for _, src := range assemblyOrder {
		if text := strings.TrimSpace(fragments[src]); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n")
}
