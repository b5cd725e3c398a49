package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vendalia/catalog-ai-platform/internal/visual"
)

// ImageReader inspects the current turn's image with a vision model. The
// verification pass shares the same interface.
type ImageReader interface {
	Describe(ctx context.Context, prompt string, images []visual.Image) (string, error)
}

type visionExtractTool struct {
	reader ImageReader
}

func (t *visionExtractTool) Spec() Spec {
	return Spec{
		Name:        string(KindVisionExtract),
		Description: "Extrae texto o datos de la imagen que el cliente acaba de enviar (documento de identidad, comprobante, producto).",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"purpose": map[string]any{
					"type":        "string",
					"enum":        []string{"document", "receipt", "product"},
					"description": "Qué tipo de dato se espera extraer.",
				},
			},
			"required": []string{"purpose"},
		},
	}
}

type visionExtractArgs struct {
	Purpose string `json:"purpose"`
}

var visionPrompts = map[string]string{
	"document": "Extrae el número de documento de identidad y el nombre completo visibles en la imagen. Responde en JSON: {\"document\": \"...\", \"name\": \"...\"}.",
	"receipt":  "Extrae el valor total, fecha y referencia del comprobante de pago en la imagen. Responde en JSON: {\"amount\": \"...\", \"date\": \"...\", \"reference\": \"...\"}.",
	"product":  "Describe el producto de la imagen: tipo, color y cualquier texto o código visible. Responde en una frase.",
}

func (t *visionExtractTool) Run(ctx context.Context, args json.RawMessage, tc *Context) (Result, error) {
	if t.reader == nil {
		return failure("el análisis de imágenes no está disponible", nil), nil
	}
	if tc.ImageB64 == "" {
		return failure("este turno no incluye una imagen", nil), nil
	}

	var a visionExtractArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return failure("argumentos de extracción inválidos", err), nil
	}
	prompt, ok := visionPrompts[strings.ToLower(strings.TrimSpace(a.Purpose))]
	if !ok {
		return failure(fmt.Sprintf("propósito de extracción desconocido %q", a.Purpose), nil), nil
	}

	data, mime, err := visual.DecodeBase64Image(tc.ImageB64)
	if err != nil {
		return failure("la imagen no pudo decodificarse", nil), nil
	}
	if tc.ImageMIME != "" {
		mime = tc.ImageMIME
	}

	text, err := t.reader.Describe(ctx, prompt, []visual.Image{{Data: data, MIME: mime}})
	if err != nil {
		return Result{}, fmt.Errorf("tools: vision extraction failed: %w", err)
	}

	return Result{
		OK:      true,
		Payload: payloadJSON(map[string]string{"purpose": a.Purpose, "extracted": text}),
	}, nil
}
