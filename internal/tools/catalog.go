package tools

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/vendalia/catalog-ai-platform/internal/messaging"
)

// CatalogFile is one downloadable catalog edition.
type CatalogFile struct {
	Name    string `json:"name"`
	URL     string `json:"url"`
	Current bool   `json:"current"`
}

type sendCatalogTool struct {
	catalogs []CatalogFile
}

func (t *sendCatalogTool) Spec() Spec {
	names := make([]string, 0, len(t.catalogs))
	for _, c := range t.catalogs {
		if c.Current {
			names = append(names, c.Name)
		}
	}
	return Spec{
		Name:        string(KindSendCatalog),
		Description: "Envía al cliente el PDF de un catálogo vigente. Catálogos disponibles: " + strings.Join(names, ", ") + ".",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"catalog": map[string]any{
					"type":        "string",
					"description": "Nombre del catálogo a enviar.",
				},
			},
			"required": []string{"catalog"},
		},
	}
}

type sendCatalogArgs struct {
	Catalog string `json:"catalog"`
}

func (t *sendCatalogTool) Run(ctx context.Context, args json.RawMessage, tc *Context) (Result, error) {
	var a sendCatalogArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return failure("argumentos de catálogo inválidos", err), nil
	}

	wanted := strings.ToLower(strings.TrimSpace(a.Catalog))
	if wanted == "" {
		return failure("debes indicar qué catálogo enviar", nil), nil
	}

	var found *CatalogFile
	for i := range t.catalogs {
		c := &t.catalogs[i]
		if !c.Current {
			continue
		}
		if strings.Contains(strings.ToLower(c.Name), wanted) || strings.Contains(wanted, strings.ToLower(c.Name)) {
			found = c
			break
		}
	}
	if found == nil {
		return failure("no hay un catálogo vigente con ese nombre", nil), nil
	}

	return Result{
		OK:      true,
		Payload: payloadJSON(found),
		Messages: []messaging.Message{
			messaging.Document(found.URL, found.Name+".pdf", "Aquí tienes el catálogo "+found.Name),
		},
	}, nil
}
