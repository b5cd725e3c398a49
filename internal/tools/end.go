package tools

import (
	"context"
	"encoding/json"
)

type endTool struct{}

func (t *endTool) Spec() Spec {
	return Spec{
		Name:        string(KindEnd),
		Description: "Finaliza la conversación cuando el cliente se despide o el tema quedó resuelto.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"reason": map[string]any{
					"type":        "string",
					"description": "Motivo breve del cierre.",
				},
			},
		},
	}
}

func (t *endTool) Run(ctx context.Context, args json.RawMessage, tc *Context) (Result, error) {
	return Result{
		OK:        true,
		Payload:   json.RawMessage(`{"status":"closed"}`),
		ShouldEnd: true,
	}, nil
}
