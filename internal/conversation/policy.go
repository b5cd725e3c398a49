package conversation

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/vendalia/catalog-ai-platform/internal/crm"
	"github.com/vendalia/catalog-ai-platform/internal/messaging"
	"github.com/vendalia/catalog-ai-platform/internal/tools"
)

// OverrideKind names the policy rule that fired, for metrics and logging.
type OverrideKind string

const (
	OverrideNone     OverrideKind = ""
	OverrideConsent  OverrideKind = "consent_gate"
	OverrideGreeting OverrideKind = "greeting"
	OverrideHuman    OverrideKind = "human_request"
	OverrideOrder    OverrideKind = "order_intent"
	OverrideSupport  OverrideKind = "support"
)

// PolicyDecision is computed once per turn, before any model call. It either
// resolves to "no override" or to a deterministic action the engine applies.
type PolicyDecision struct {
	Override OverrideKind

	// ConsentGate forces the consent tool before anything else this turn.
	ConsentGate bool

	// Greeting short-circuits the whole turn with a canned reply.
	Greeting []messaging.Message

	// Forced is the tool sequence to run before the model is consulted.
	// Downstream these invocations are indistinguishable from model ones.
	Forced []tools.Invocation

	// TransferQueue is set when the forced sequence ends in a transfer.
	TransferQueue string
}

const cannedGreeting = "¡Hola! 😊 Soy la asesora virtual. Puedo enviarte el catálogo vigente, resolver dudas de productos y precios, o ponerte en contacto con una asesora. ¿En qué te ayudo hoy?"

type keywordPattern struct {
	regex   *regexp.Regexp
	keyword string
}

var greetingPatterns = []keywordPattern{
	{regexp.MustCompile(`(?i)\bhola\b`), "hola"},
	{regexp.MustCompile(`(?i)\bbuen[oa]s?\s*(d[ií]as|tardes|noches)?\b`), "buenas"},
	{regexp.MustCompile(`(?i)\bqu[eé] tal\b`), "qué tal"},
	{regexp.MustCompile(`(?i)\bsaludos\b`), "saludos"},
}

var orderPatterns = []keywordPattern{
	{regexp.MustCompile(`(?i)\bhacer\s+(un\s+)?pedido\b`), "hacer pedido"},
	{regexp.MustCompile(`(?i)\bquiero\s+(pedir|comprar|encargar)\b`), "quiero pedir"},
	{regexp.MustCompile(`(?i)\bmontar\s+(el\s+|un\s+)?pedido\b`), "montar pedido"},
	{regexp.MustCompile(`(?i)\bpasar\s+(el\s+|mi\s+)?pedido\b`), "pasar pedido"},
	{regexp.MustCompile(`(?i)\brealizar\s+(una\s+)?compra\b`), "realizar compra"},
}

var humanPatterns = []keywordPattern{
	{regexp.MustCompile(`(?i)\bhablar\s+con\s+(una?\s+)?(asesora?|persona|humano|alguien)\b`), "hablar con asesora"},
	{regexp.MustCompile(`(?i)\b(asesora?|agente)\s+human[oa]\b`), "asesor humano"},
	{regexp.MustCompile(`(?i)\bcomun[ií]ca(me|rme)\s+con\b`), "comunícame con"},
	{regexp.MustCompile(`(?i)\bque\s+me\s+atienda\s+(una\s+)?persona\b`), "que me atienda una persona"},
}

var supportPatterns = []keywordPattern{
	{regexp.MustCompile(`(?i)\b(queja|reclamo|reclamaci[oó]n)\b`), "queja"},
	{regexp.MustCompile(`(?i)\bgarant[ií]a\b`), "garantía"},
	{regexp.MustCompile(`(?i)\bdevoluci[oó]n\b`), "devolución"},
	{regexp.MustCompile(`(?i)\bproducto\s+(da[ñn]ado|defectuoso|malo)\b`), "producto dañado"},
	{regexp.MustCompile(`(?i)\bno\s+(me\s+)?lleg(a|ó)\s+(el|mi)\s+pedido\b`), "pedido no llegó"},
}

func matchAny(patterns []keywordPattern, text string) bool {
	for _, p := range patterns {
		if p.regex.MatchString(text) {
			return true
		}
	}
	return false
}

// Policy is the deterministic override layer evaluated before the model.
type Policy struct {
	salesQueue   string
	supportQueue string
}

func NewPolicy(salesQueue, supportQueue string) *Policy {
	if salesQueue == "" {
		salesQueue = "sales"
	}
	if supportQueue == "" {
		supportQueue = "support"
	}
	return &Policy{salesQueue: salesQueue, supportQueue: supportQueue}
}

// Evaluate is a pure function of the inbound text, the session variables, and
// the counterpart classification. Rules fire in fixed order: consent gate,
// greeting short-circuit, forced transfer. Within transfers an explicit human
// request always wins, then order intent, then support keywords.
func (p *Policy) Evaluate(text string, session *Session, classification crm.Classification) PolicyDecision {
	if session == nil {
		session = NewSession("")
	}

	if !session.ConsentGranted() {
		return PolicyDecision{
			Override:    OverrideConsent,
			ConsentGate: true,
			Forced:      []tools.Invocation{forcedInvocation(tools.KindConsent, nil)},
		}
	}

	trimmed := strings.TrimSpace(text)
	human := matchAny(humanPatterns, trimmed)
	order := matchAny(orderPatterns, trimmed)
	support := matchAny(supportPatterns, trimmed)

	if trimmed != "" && matchAny(greetingPatterns, trimmed) && !human && !order && !support {
		return PolicyDecision{
			Override: OverrideGreeting,
			Greeting: []messaging.Message{messaging.Text(cannedGreeting)},
		}
	}

	switch {
	case human:
		queue := p.supportQueue
		if order {
			queue = p.salesQueue
		}
		return p.transferDecision(OverrideHuman, queue, false)
	case order:
		// Order-intent transfer is promoter territory: validation runs first
		// unless the session or the CRM already vouches for the counterpart.
		knownPromoter := session.PromoterValidated() ||
			classification == crm.ClassPromoter || classification == crm.ClassLeader
		return p.transferDecision(OverrideOrder, p.salesQueue, !knownPromoter)
	case support:
		return p.transferDecision(OverrideSupport, p.supportQueue, false)
	}

	return PolicyDecision{}
}

func (p *Policy) transferDecision(kind OverrideKind, queue string, validatePromoter bool) PolicyDecision {
	var forced []tools.Invocation
	if validatePromoter {
		forced = append(forced, forcedInvocation(tools.KindPromoter, nil))
	}
	forced = append(forced,
		forcedInvocation(tools.KindBusinessHours, nil),
		forcedInvocation(tools.KindTransfer, map[string]string{
			"queue":  queueName(queue, p),
			"reason": string(kind),
		}),
	)
	return PolicyDecision{
		Override:      kind,
		Forced:        forced,
		TransferQueue: queue,
	}
}

func queueName(queue string, p *Policy) string {
	if queue == p.salesQueue {
		return "sales"
	}
	return "support"
}

func forcedInvocation(kind tools.Kind, args map[string]string) tools.Invocation {
	payload := json.RawMessage(`{}`)
	if len(args) > 0 {
		if data, err := json.Marshal(args); err == nil {
			payload = data
		}
	}
	return tools.Invocation{
		ID:        "forced-" + uuid.NewString(),
		Name:      string(kind),
		Arguments: payload,
	}
}
