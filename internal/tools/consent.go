package tools

import (
	"context"
	"encoding/json"
	"regexp"

	"github.com/vendalia/catalog-ai-platform/internal/messaging"
)

const (
	consentStatePending  = "pending"
	consentStateGranted  = "granted"
	consentStateDeclined = "declined"

	consentPromptText = "Antes de continuar necesitamos tu autorización para el tratamiento de tus datos personales, según nuestra política de protección de datos. ¿Autorizas?"
	consentDeclined   = "Entendido, no trataremos tus datos. Si cambias de opinión, escríbenos de nuevo. ¡Hasta pronto!"
)

var (
	consentYesRE = regexp.MustCompile(`(?i)^\s*(s[ií]|acepto|autorizo|claro|ok|dale|por supuesto|consent_yes|1)\b`)
	consentNoRE  = regexp.MustCompile(`(?i)^\s*(no|no autorizo|no acepto|consent_no|2)\b`)
)

// consentTool implements the data-consent gate. It only returns patches and
// messages; the orchestrator applies the state change and decides whether the
// turn ends here.
type consentTool struct{}

func (t *consentTool) Spec() Spec {
	return Spec{
		Name:        string(KindConsent),
		Description: "Verifica la autorización de tratamiento de datos del cliente para esta conversación.",
		Schema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	}
}

type consentPayload struct {
	Status string `json:"status"`
}

func (t *consentTool) Run(ctx context.Context, args json.RawMessage, tc *Context) (Result, error) {
	switch tc.Var(VarConsentState) {
	case consentStateGranted:
		return Result{OK: true, Payload: payloadJSON(consentPayload{Status: consentStateGranted})}, nil

	case consentStateDeclined:
		return Result{
			OK:        true,
			Payload:   payloadJSON(consentPayload{Status: consentStateDeclined}),
			Messages:  []messaging.Message{messaging.Text(consentDeclined)},
			ShouldEnd: true,
		}, nil

	case consentStatePending:
		switch {
		case consentYesRE.MatchString(tc.Text):
			return Result{
				OK:      true,
				Payload: payloadJSON(consentPayload{Status: consentStateGranted}),
				Patch:   map[string]string{VarConsentState: consentStateGranted},
			}, nil
		case consentNoRE.MatchString(tc.Text):
			return Result{
				OK:        true,
				Payload:   payloadJSON(consentPayload{Status: consentStateDeclined}),
				Patch:     map[string]string{VarConsentState: consentStateDeclined},
				Messages:  []messaging.Message{messaging.Text(consentDeclined)},
				ShouldEnd: true,
			}, nil
		default:
			// Neither yes nor no: repeat the prompt.
			return Result{
				OK:       true,
				Payload:  payloadJSON(consentPayload{Status: consentStatePending}),
				Messages: []messaging.Message{consentPrompt()},
			}, nil
		}

	default:
		return Result{
			OK:       true,
			Payload:  payloadJSON(consentPayload{Status: consentStatePending}),
			Patch:    map[string]string{VarConsentState: consentStatePending},
			Messages: []messaging.Message{consentPrompt()},
		}, nil
	}
}

func consentPrompt() messaging.Message {
	return messaging.ButtonPrompt(consentPromptText,
		messaging.Button{ID: "consent_yes", Title: "Sí, autorizo"},
		messaging.Button{ID: "consent_no", Title: "No"},
	)
}
