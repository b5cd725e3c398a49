package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vendalia/catalog-ai-platform/internal/crm"
	"github.com/vendalia/catalog-ai-platform/internal/tools"
)

func consentedSession(id string) *Session {
	s := NewSession(id)
	s.ApplyPatch(map[string]string{tools.VarConsentState: "granted"})
	return s
}

func forcedNames(decision PolicyDecision) []string {
	names := make([]string, 0, len(decision.Forced))
	for _, inv := range decision.Forced {
		names = append(names, inv.Name)
	}
	return names
}

func TestPolicyConsentGateFiresBeforeEverything(t *testing.T) {
	p := NewPolicy("ventas", "soporte")

	// Even an explicit human request cannot skip the consent gate.
	decision := p.Evaluate("quiero hablar con una asesora YA", NewSession("c1"), crm.ClassUnknown)

	assert.Equal(t, OverrideConsent, decision.Override)
	assert.True(t, decision.ConsentGate)
	require.Len(t, decision.Forced, 1)
	assert.Equal(t, string(tools.KindConsent), decision.Forced[0].Name)
	assert.Empty(t, decision.TransferQueue)
}

func TestPolicyConsentGateSkippedOncePending(t *testing.T) {
	p := NewPolicy("", "")
	s := NewSession("c1")
	s.ApplyPatch(map[string]string{tools.VarConsentState: "pending"})

	decision := p.Evaluate("sí acepto", s, crm.ClassUnknown)

	// Pending still routes through the gate; only "granted" opens the turn.
	assert.True(t, decision.ConsentGate)
}

func TestPolicyGreetingShortCircuit(t *testing.T) {
	p := NewPolicy("", "")

	for _, text := range []string{"hola", "Hola!", "buenas tardes", "buenos días", "qué tal"} {
		decision := p.Evaluate(text, consentedSession("c1"), crm.ClassUnknown)
		assert.Equal(t, OverrideGreeting, decision.Override, "text=%q", text)
		require.Len(t, decision.Greeting, 1, "text=%q", text)
		assert.Empty(t, decision.Forced, "text=%q", text)
		assert.Empty(t, decision.TransferQueue, "greeting must never transfer, text=%q", text)
	}
}

func TestPolicyGreetingYieldsToIntentKeywords(t *testing.T) {
	p := NewPolicy("ventas", "soporte")

	decision := p.Evaluate("hola, quiero hacer un pedido", consentedSession("c1"), crm.ClassUnknown)

	assert.Equal(t, OverrideOrder, decision.Override)
	assert.Empty(t, decision.Greeting)
}

func TestPolicyHumanRequestBeatsOrderAndSupport(t *testing.T) {
	p := NewPolicy("ventas", "soporte")

	decision := p.Evaluate("tengo una queja y quiero hablar con una persona", consentedSession("c1"), crm.ClassUnknown)
	assert.Equal(t, OverrideHuman, decision.Override)
	assert.Equal(t, "soporte", decision.TransferQueue)

	// Human request in an order context routes to sales instead.
	decision = p.Evaluate("quiero hacer un pedido, comunícame con una asesora", consentedSession("c1"), crm.ClassUnknown)
	assert.Equal(t, OverrideHuman, decision.Override)
	assert.Equal(t, "ventas", decision.TransferQueue)
	assert.NotContains(t, forcedNames(decision), string(tools.KindPromoter))
}

func TestPolicyOrderIntentRequiresPromoterValidation(t *testing.T) {
	p := NewPolicy("ventas", "soporte")

	decision := p.Evaluate("quiero hacer un pedido", consentedSession("c1"), crm.ClassUnknown)

	assert.Equal(t, OverrideOrder, decision.Override)
	assert.Equal(t, "ventas", decision.TransferQueue)
	assert.Equal(t, []string{
		string(tools.KindPromoter),
		string(tools.KindBusinessHours),
		string(tools.KindTransfer),
	}, forcedNames(decision))
}

func TestPolicyOrderIntentSkipsValidationForKnownPromoters(t *testing.T) {
	p := NewPolicy("ventas", "soporte")

	// Validated earlier in the session.
	s := consentedSession("c1")
	s.ApplyPatch(map[string]string{tools.VarPromoterValidated: "true"})
	decision := p.Evaluate("quiero hacer un pedido", s, crm.ClassUnknown)
	assert.NotContains(t, forcedNames(decision), string(tools.KindPromoter))

	// Vouched for by the CRM classification.
	decision = p.Evaluate("quiero hacer un pedido", consentedSession("c2"), crm.ClassPromoter)
	assert.NotContains(t, forcedNames(decision), string(tools.KindPromoter))

	decision = p.Evaluate("quiero hacer un pedido", consentedSession("c3"), crm.ClassLeader)
	assert.NotContains(t, forcedNames(decision), string(tools.KindPromoter))

	// Retail clients still get validated.
	decision = p.Evaluate("quiero hacer un pedido", consentedSession("c4"), crm.ClassRetail)
	assert.Contains(t, forcedNames(decision), string(tools.KindPromoter))
}

func TestPolicySupportKeywordsRouteToSupportQueue(t *testing.T) {
	p := NewPolicy("ventas", "soporte")

	for _, text := range []string{"tengo un reclamo", "el producto llegó dañado", "necesito la garantía", "quiero una devolución"} {
		decision := p.Evaluate(text, consentedSession("c1"), crm.ClassUnknown)
		assert.Equal(t, OverrideSupport, decision.Override, "text=%q", text)
		assert.Equal(t, "soporte", decision.TransferQueue, "text=%q", text)
		assert.NotContains(t, forcedNames(decision), string(tools.KindPromoter), "text=%q", text)
	}
}

func TestPolicyPlainQuestionHasNoOverride(t *testing.T) {
	p := NewPolicy("", "")

	decision := p.Evaluate("¿cuánto vale la crema de la página 12?", consentedSession("c1"), crm.ClassUnknown)

	assert.Equal(t, OverrideNone, decision.Override)
	assert.False(t, decision.ConsentGate)
	assert.Empty(t, decision.Greeting)
	assert.Empty(t, decision.Forced)
}

func TestPolicyTransferInvocationCarriesQueueArgument(t *testing.T) {
	p := NewPolicy("ventas", "soporte")

	decision := p.Evaluate("quiero hacer un pedido", consentedSession("c1"), crm.ClassPromoter)

	require.NotEmpty(t, decision.Forced)
	last := decision.Forced[len(decision.Forced)-1]
	assert.Equal(t, string(tools.KindTransfer), last.Name)
	assert.JSONEq(t, `{"queue":"sales","reason":"order_intent"}`, string(last.Arguments))
	assert.NotEmpty(t, last.ID)
}
