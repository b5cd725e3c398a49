package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

// KnowledgeSearcher answers free-text queries against the document store.
// The RAG memory store implements it through a thin adapter.
type KnowledgeSearcher interface {
	Search(ctx context.Context, query string, topK int) ([]string, error)
}

type knowledgeTool struct {
	searcher KnowledgeSearcher
}

func (t *knowledgeTool) Spec() Spec {
	return Spec{
		Name:        string(KindKnowledge),
		Description: "Busca información de productos, precios y políticas en la base de conocimiento.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "Pregunta o términos a buscar.",
				},
			},
			"required": []string{"query"},
		},
	}
}

type knowledgeArgs struct {
	Query string `json:"query"`
}

func (t *knowledgeTool) Run(ctx context.Context, args json.RawMessage, tc *Context) (Result, error) {
	if t.searcher == nil {
		return failure("la búsqueda de conocimiento no está disponible", nil), nil
	}

	var a knowledgeArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return failure("argumentos de búsqueda inválidos", err), nil
	}
	if strings.TrimSpace(a.Query) == "" {
		return failure("la búsqueda requiere un texto", nil), nil
	}

	results, err := t.searcher.Search(ctx, a.Query, 4)
	if err != nil {
		return Result{}, errors.Join(errors.New("tools: knowledge search failed"), err)
	}

	return Result{
		OK:      true,
		Payload: payloadJSON(map[string]any{"query": a.Query, "results": results}),
	}, nil
}
