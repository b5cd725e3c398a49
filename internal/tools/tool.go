package tools

import (
	"encoding/json"
	"time"

	"github.com/vendalia/catalog-ai-platform/internal/crm"
	"github.com/vendalia/catalog-ai-platform/internal/messaging"
)

// Kind names every action the model (or the policy layer) can request. The
// set is closed per deployment; unknown names resolve to KindUnknown.
type Kind string

const (
	KindUnknown       Kind = ""
	KindBusinessHours Kind = "check_business_hours"
	KindTransfer      Kind = "transfer_to_queue"
	KindSendCatalog   Kind = "send_catalog"
	KindKnowledge     Kind = "search_knowledge"
	KindVisionExtract Kind = "extract_image_details"
	KindConsent       Kind = "check_consent"
	KindPromoter      Kind = "validate_promoter"
	KindEnd           Kind = "end_conversation"
)

// Session variable keys written by tool side-effect patches. The orchestrator
// is the single writer; tools only return patches.
const (
	VarConsentState      = "consent_state" // "", "pending", "granted", "declined"
	VarPromoterValidated = "promoter_validated"
	VarPromoterID        = "promoter_id"
	VarForcedTransfer    = "forced_transfer_queue"
	VarCachedName        = "cached_name"
	VarClassification    = "crm_classification"
)

// Invocation is one requested tool call, either model-issued or synthesized
// by the policy layer. Downstream the two are indistinguishable.
type Invocation struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Result is the structured outcome of one tool execution.
type Result struct {
	OK      bool            `json:"ok"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`

	// Messages are delivered to the user verbatim, bypassing the model.
	Messages []messaging.Message `json:"messages,omitempty"`

	// Patch carries session-variable side effects back to the orchestrator.
	Patch map[string]string `json:"patch,omitempty"`

	ShouldTransfer bool   `json:"should_transfer,omitempty"`
	TransferQueue  string `json:"transfer_queue,omitempty"`
	ShouldEnd      bool   `json:"should_end,omitempty"`
}

// Context carries the per-turn inputs a tool may read. Tools never mutate it.
type Context struct {
	From      string
	Text      string
	ImageB64  string
	ImageMIME string
	Contact   *crm.Contact
	Vars      map[string]string
	Now       time.Time
}

// Var reads a session variable, including patches applied earlier in the same
// batch.
func (c *Context) Var(key string) string {
	if c.Vars == nil {
		return ""
	}
	return c.Vars[key]
}

// Spec describes one tool for the model's catalogue.
type Spec struct {
	Name        string
	Description string
	Schema      map[string]any
}

func failure(userMsg string, err error) Result {
	r := Result{OK: false, Error: userMsg}
	if err != nil {
		r.Error = userMsg + ": " + err.Error()
	}
	return r
}

func payloadJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}
