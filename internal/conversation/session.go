package conversation

import (
	"github.com/vendalia/catalog-ai-platform/internal/tools"
)

// Session is the persisted state of one conversation: the full turn history
// plus the cross-turn variable bag. The variable bag is the only channel for
// state to survive across invocations; the engine never assumes in-memory
// continuity.
type Session struct {
	ID    string            `json:"id"`
	Turns []ChatMessage     `json:"turns"`
	Vars  map[string]string `json:"vars"`
}

// NewSession creates an empty session.
func NewSession(id string) *Session {
	return &Session{
		ID:   id,
		Vars: make(map[string]string),
	}
}

// Append adds turns to the persisted history. History is append-only; the
// prompt window truncates a copy, never the stored turns.
func (s *Session) Append(turns ...ChatMessage) {
	s.Turns = append(s.Turns, turns...)
}

// Var reads a session variable.
func (s *Session) Var(key string) string {
	if s.Vars == nil {
		return ""
	}
	return s.Vars[key]
}

// ApplyPatch merges tool side-effect patches into the variable bag. The
// engine is the single writer of session variables.
func (s *Session) ApplyPatch(patch map[string]string) {
	if len(patch) == 0 {
		return
	}
	if s.Vars == nil {
		s.Vars = make(map[string]string, len(patch))
	}
	for k, v := range patch {
		s.Vars[k] = v
	}
}

// Typed accessors over the variable bag, keeping key names in one place.

func (s *Session) ConsentGranted() bool {
	return s.Var(tools.VarConsentState) == "granted"
}

func (s *Session) ConsentState() string {
	return s.Var(tools.VarConsentState)
}

func (s *Session) PromoterValidated() bool {
	return s.Var(tools.VarPromoterValidated) == "true"
}

func (s *Session) ForcedTransferQueue() string {
	return s.Var(tools.VarForcedTransfer)
}
