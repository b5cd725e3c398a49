package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/vendalia/catalog-ai-platform/internal/crm"
	"github.com/vendalia/catalog-ai-platform/internal/messaging"
)

// ContactDirectory is the slice of the CRM the promoter tool needs. The
// postgres repository satisfies it directly.
type ContactDirectory interface {
	GetByPhone(ctx context.Context, phone string) (*crm.Contact, error)
	GetByDocument(ctx context.Context, document string) (*crm.Contact, error)
}

const promoterAskDocument = "Para validar tu cuenta de promotora necesito tu número de cédula. ¿Me lo compartes, por favor?"

// documentRE matches a Colombian cédula embedded in free text. Sequences
// shorter than six digits collide with quantities and prices.
var documentRE = regexp.MustCompile(`\b\d{6,10}\b`)

type promoterTool struct {
	contacts ContactDirectory
}

func (t *promoterTool) Spec() Spec {
	return Spec{
		Name:        string(KindPromoter),
		Description: "Valida si el cliente es una promotora registrada, por teléfono o por número de cédula.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"document": map[string]any{
					"type":        "string",
					"description": "Número de cédula del cliente, si lo proporcionó.",
				},
			},
		},
	}
}

type promoterArgs struct {
	Document string `json:"document"`
}

type promoterPayload struct {
	Status         string `json:"status"`
	PromoterID     string `json:"promoter_id,omitempty"`
	Name           string `json:"name,omitempty"`
	Classification string `json:"classification,omitempty"`
}

func (t *promoterTool) Run(ctx context.Context, args json.RawMessage, tc *Context) (Result, error) {
	if t.contacts == nil {
		return failure("validación de promotoras no disponible", nil), nil
	}

	if tc.Var(VarPromoterValidated) == "true" {
		return Result{OK: true, Payload: payloadJSON(promoterPayload{
			Status:     "validated",
			PromoterID: tc.Var(VarPromoterID),
		})}, nil
	}

	// Phone first: most registered promoters write from their registered line.
	if contact, err := t.lookupByPhone(ctx, tc.From); err == nil {
		return t.verdict(contact), nil
	} else if !errors.Is(err, crm.ErrContactNotFound) {
		return Result{}, fmt.Errorf("tools: promoter phone lookup: %w", err)
	}

	var in promoterArgs
	if len(args) > 0 {
		if err := json.Unmarshal(args, &in); err != nil {
			return failure("argumentos inválidos", nil), nil
		}
	}
	document := in.Document
	if document == "" {
		document = documentRE.FindString(tc.Text)
	}
	if document == "" {
		return Result{
			OK:       true,
			Payload:  payloadJSON(promoterPayload{Status: "need_document"}),
			Messages: []messaging.Message{messaging.Text(promoterAskDocument)},
		}, nil
	}

	contact, err := t.contacts.GetByDocument(ctx, document)
	if errors.Is(err, crm.ErrContactNotFound) {
		return failure("no encontramos una promotora registrada con esa cédula", nil), nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("tools: promoter document lookup: %w", err)
	}
	return t.verdict(contact), nil
}

func (t *promoterTool) lookupByPhone(ctx context.Context, raw string) (*crm.Contact, error) {
	var lastErr error = crm.ErrContactNotFound
	for _, variant := range crm.PhoneVariants(raw) {
		contact, err := t.contacts.GetByPhone(ctx, variant)
		if err == nil {
			return contact, nil
		}
		if !errors.Is(err, crm.ErrContactNotFound) {
			lastErr = err
		}
	}
	return nil, lastErr
}

func (t *promoterTool) verdict(contact *crm.Contact) Result {
	switch contact.Classification {
	case crm.ClassPromoter, crm.ClassLeader:
		return Result{
			OK: true,
			Payload: payloadJSON(promoterPayload{
				Status:         "validated",
				PromoterID:     contact.ID,
				Name:           contact.Name,
				Classification: string(contact.Classification),
			}),
			Patch: map[string]string{
				VarPromoterValidated: "true",
				VarPromoterID:        contact.ID,
			},
		}
	default:
		return failure(fmt.Sprintf("el cliente está registrado como %s, no como promotora", contact.Classification), nil)
	}
}
