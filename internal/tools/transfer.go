package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

type transferTool struct {
	queues QueueConfig
}

func (t *transferTool) Spec() Spec {
	return Spec{
		Name:        string(KindTransfer),
		Description: "Transfiere la conversación a una fila de atención humana.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"queue": map[string]any{
					"type":        "string",
					"enum":        []string{"sales", "support"},
					"description": "Fila destino: sales para pedidos, support para quejas y soporte.",
				},
				"reason": map[string]any{
					"type":        "string",
					"description": "Motivo corto de la transferencia.",
				},
			},
			"required": []string{"queue"},
		},
	}
}

type transferArgs struct {
	Queue  string `json:"queue"`
	Reason string `json:"reason"`
}

func (t *transferTool) Run(ctx context.Context, args json.RawMessage, tc *Context) (Result, error) {
	var a transferArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return failure("argumentos de transferencia inválidos", err), nil
	}

	var queueID string
	switch strings.ToLower(strings.TrimSpace(a.Queue)) {
	case "sales", t.queues.Sales:
		queueID = t.queues.Sales
	case "support", t.queues.Support:
		queueID = t.queues.Support
	default:
		return failure(fmt.Sprintf("fila desconocida %q", a.Queue), nil), nil
	}

	return Result{
		OK:             true,
		Payload:        payloadJSON(map[string]string{"queue": queueID, "reason": a.Reason}),
		ShouldTransfer: true,
		TransferQueue:  queueID,
	}, nil
}
