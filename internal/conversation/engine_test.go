package conversation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vendalia/catalog-ai-platform/internal/augment"
	"github.com/vendalia/catalog-ai-platform/internal/crm"
	"github.com/vendalia/catalog-ai-platform/internal/messaging"
	"github.com/vendalia/catalog-ai-platform/internal/tools"
)

// Tuesday morning inside the attention window.
var testClock = func() time.Time {
	return time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
}

type memSessions struct {
	stored  map[string]*Session
	loadErr error
	saves   int
}

func newMemSessions() *memSessions {
	return &memSessions{stored: make(map[string]*Session)}
}

func (m *memSessions) LoadOrNew(_ context.Context, id string) (*Session, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	if s, ok := m.stored[id]; ok {
		return s, nil
	}
	return NewSession(id), nil
}

func (m *memSessions) Save(_ context.Context, s *Session) error {
	m.saves++
	m.stored[s.ID] = s
	return nil
}

type staticAugmenter struct {
	out    augment.Output
	panics bool
	calls  int
}

func (a *staticAugmenter) Run(_ context.Context, _ augment.Input) augment.Output {
	a.calls++
	if a.panics {
		panic("augment blew up")
	}
	return a.out
}

type fakeDirectory struct {
	byPhone map[string]*crm.Contact
	byDoc   map[string]*crm.Contact
}

func (d *fakeDirectory) GetByPhone(_ context.Context, phone string) (*crm.Contact, error) {
	if c, ok := d.byPhone[phone]; ok {
		return c, nil
	}
	return nil, crm.ErrContactNotFound
}

func (d *fakeDirectory) GetByDocument(_ context.Context, document string) (*crm.Contact, error) {
	if c, ok := d.byDoc[document]; ok {
		return c, nil
	}
	return nil, crm.ErrContactNotFound
}

type fakeKnowledge struct{ results []string }

func (k *fakeKnowledge) Search(_ context.Context, _ string, _ int) ([]string, error) {
	return k.results, nil
}

type engineFixture struct {
	engine    *Engine
	sessions  *memSessions
	llm       *scriptedLLM
	augmenter *staticAugmenter
}

func newEngineFixture(t *testing.T, llm *scriptedLLM, contacts tools.ContactDirectory) *engineFixture {
	t.Helper()
	sessions := newMemSessions()
	aug := &staticAugmenter{}
	registry := tools.NewRegistry(tools.Deps{
		Contacts:  contacts,
		Knowledge: &fakeKnowledge{results: []string{"La crema hidratante cuesta $35.900 (página 12)."}},
		Hours:     tools.HoursConfig{Timezone: "UTC", OpenHour: 8, CloseHour: 18},
		Now:       testClock,
	})
	engine := NewEngine(
		sessions,
		aug,
		llm,
		registry,
		NewPromptLoader("", nil),
		NewPolicy("sales", "support"),
		EngineConfig{ModelID: "anthropic.claude-3-5-sonnet-20241022-v2:0"},
		nil,
	)
	engine.now = testClock
	return &engineFixture{engine: engine, sessions: sessions, llm: llm, augmenter: aug}
}

func (f *engineFixture) seedSession(id string, vars map[string]string) *Session {
	s := NewSession(id)
	s.ApplyPatch(vars)
	f.sessions.stored[id] = s
	return s
}

func consentedVars(extra map[string]string) map[string]string {
	vars := map[string]string{tools.VarConsentState: "granted"}
	for k, v := range extra {
		vars[k] = v
	}
	return vars
}

func TestEngineFirstContactAsksForConsent(t *testing.T) {
	f := newEngineFixture(t, &scriptedLLM{}, &fakeDirectory{})

	resp, err := f.engine.ProcessTurn(context.Background(), TurnRequest{
		ConversationID: "c1", From: "573001234567", Text: "hola, quiero el catálogo",
	})

	require.NoError(t, err)
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, messaging.MessageTypeButtons, resp.Messages[0].Type)
	assert.False(t, resp.ShouldTransfer)
	assert.False(t, resp.ShouldEnd)

	// No model call happens behind the consent gate.
	assert.Equal(t, 0, f.llm.calls)
	assert.Equal(t, 0, f.augmenter.calls)

	saved := f.sessions.stored["c1"]
	require.NotNil(t, saved)
	assert.Equal(t, "pending", saved.ConsentState())
}

func TestEngineConsentGrantedInTurnContinues(t *testing.T) {
	llm := &scriptedLLM{responses: []LLMResponse{{Text: "¡Gracias! ¿Qué catálogo te envío?"}}}
	f := newEngineFixture(t, llm, &fakeDirectory{})
	f.seedSession("c1", map[string]string{tools.VarConsentState: "pending"})

	resp, err := f.engine.ProcessTurn(context.Background(), TurnRequest{
		ConversationID: "c1", From: "573001234567", Text: "sí, acepto",
	})

	require.NoError(t, err)
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, "¡Gracias! ¿Qué catálogo te envío?", resp.Messages[0].Text)
	assert.Equal(t, 1, llm.calls)
	assert.True(t, f.sessions.stored["c1"].ConsentGranted())
}

func TestEngineConsentDeclinedEndsConversation(t *testing.T) {
	f := newEngineFixture(t, &scriptedLLM{}, &fakeDirectory{})
	f.seedSession("c1", map[string]string{tools.VarConsentState: "pending"})

	resp, err := f.engine.ProcessTurn(context.Background(), TurnRequest{
		ConversationID: "c1", From: "573001234567", Text: "no autorizo",
	})

	require.NoError(t, err)
	require.NotEmpty(t, resp.Messages)
	assert.True(t, resp.ShouldEnd)
	assert.Equal(t, 0, f.llm.calls)
	assert.Equal(t, "declined", f.sessions.stored["c1"].ConsentState())
}

func TestEngineGreetingShortCircuit(t *testing.T) {
	f := newEngineFixture(t, &scriptedLLM{}, &fakeDirectory{})
	f.seedSession("c1", consentedVars(nil))

	resp, err := f.engine.ProcessTurn(context.Background(), TurnRequest{
		ConversationID: "c1", From: "573001234567", Text: "hola",
	})

	require.NoError(t, err)
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, cannedGreeting, resp.Messages[0].Text)
	assert.False(t, resp.ShouldTransfer, "a greeting must never transfer")
	assert.Equal(t, 0, f.llm.calls)

	// Both sides of the exchange land in history.
	saved := f.sessions.stored["c1"]
	require.Len(t, saved.Turns, 2)
	assert.Equal(t, ChatRoleUser, saved.Turns[0].Role)
	assert.Equal(t, ChatRoleAssistant, saved.Turns[1].Role)
}

func TestEngineOrderIntentFromPromoterTransfersToSales(t *testing.T) {
	llm := &scriptedLLM{responses: []LLMResponse{{Text: "¡Perfecto! Ya te paso con una asesora para tomar tu pedido. 💛"}}}
	f := newEngineFixture(t, llm, &fakeDirectory{})
	f.seedSession("c1", consentedVars(map[string]string{
		tools.VarClassification: string(crm.ClassPromoter),
	}))

	resp, err := f.engine.ProcessTurn(context.Background(), TurnRequest{
		ConversationID: "c1", From: "573001234567", Text: "quiero hacer un pedido",
	})

	require.NoError(t, err)
	assert.True(t, resp.ShouldTransfer)
	assert.Equal(t, "sales", resp.TransferQueue)
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, "¡Perfecto! Ya te paso con una asesora para tomar tu pedido. 💛", resp.Messages[0].Text)

	// The model sees the forced tool results in its prompt.
	require.Equal(t, 1, llm.calls)
	var toolTurns int
	for _, msg := range llm.lastReq.Messages {
		if msg.Role == ChatRoleTool {
			toolTurns++
		}
	}
	assert.Equal(t, 2, toolTurns, "business hours and transfer results should be in context")
}

func TestEngineOrderIntentValidatesUnknownSender(t *testing.T) {
	// No CRM match for the phone and no document in the text: the validation
	// tool answers with its own follow-up question and the turn ends there.
	f := newEngineFixture(t, &scriptedLLM{}, &fakeDirectory{})
	f.seedSession("c1", consentedVars(nil))

	resp, err := f.engine.ProcessTurn(context.Background(), TurnRequest{
		ConversationID: "c1", From: "573001234567", Text: "quiero hacer un pedido",
	})

	require.NoError(t, err)
	require.Len(t, resp.Messages, 1)
	assert.Contains(t, resp.Messages[0].Text, "cédula")
	assert.False(t, resp.ShouldTransfer, "no transfer before validation completes")
	assert.Equal(t, 0, f.llm.calls)
}

func TestEngineOrderIntentRejectedClientDoesNotTransfer(t *testing.T) {
	llm := &scriptedLLM{responses: []LLMResponse{{Text: "Por ahora los pedidos los gestionan nuestras promotoras registradas."}}}
	directory := &fakeDirectory{byPhone: map[string]*crm.Contact{
		"573001234567": {ID: "ct-9", Name: "Laura", Classification: crm.ClassRetail},
	}}
	f := newEngineFixture(t, llm, directory)
	f.seedSession("c1", consentedVars(nil))

	resp, err := f.engine.ProcessTurn(context.Background(), TurnRequest{
		ConversationID: "c1", From: "573001234567", Text: "quiero hacer un pedido",
	})

	require.NoError(t, err)
	assert.False(t, resp.ShouldTransfer, "failed validation aborts the forced transfer")
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, 1, llm.calls, "the model explains using the failed result in context")
}

func TestEngineOrderIntentValidatedPromoterTransfers(t *testing.T) {
	llm := &scriptedLLM{responses: []LLMResponse{{Text: "¡Listo! Una asesora toma tu pedido enseguida."}}}
	directory := &fakeDirectory{byPhone: map[string]*crm.Contact{
		"573001234567": {ID: "ct-1", Name: "Marta", Classification: crm.ClassPromoter},
	}}
	f := newEngineFixture(t, llm, directory)
	f.seedSession("c1", consentedVars(nil))

	resp, err := f.engine.ProcessTurn(context.Background(), TurnRequest{
		ConversationID: "c1", From: "573001234567", Text: "quiero hacer un pedido",
	})

	require.NoError(t, err)
	assert.True(t, resp.ShouldTransfer)
	assert.Equal(t, "sales", resp.TransferQueue)

	saved := f.sessions.stored["c1"]
	assert.True(t, saved.PromoterValidated())
	assert.Equal(t, "ct-1", saved.Var(tools.VarPromoterID))
}

func TestEngineModelToolLoop(t *testing.T) {
	llm := &scriptedLLM{
		responses: []LLMResponse{
			{ToolCalls: []ToolCall{{ID: "call-1", Name: string(tools.KindKnowledge), Arguments: `{"query":"crema hidratante"}`}}},
			{Text: "La crema hidratante cuesta $35.900 y está en la página 12. 😊"},
		},
	}
	f := newEngineFixture(t, llm, &fakeDirectory{})
	f.seedSession("c1", consentedVars(nil))

	resp, err := f.engine.ProcessTurn(context.Background(), TurnRequest{
		ConversationID: "c1", From: "573001234567", Text: "¿cuánto cuesta la crema hidratante?",
	})

	require.NoError(t, err)
	assert.Equal(t, 2, llm.calls)
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, "La crema hidratante cuesta $35.900 y está en la página 12. 😊", resp.Messages[0].Text)

	// History keeps the tool call and its reply for the next turn.
	saved := f.sessions.stored["c1"]
	var sawToolCall, sawToolReply bool
	for _, turn := range saved.Turns {
		if len(turn.ToolCalls) > 0 {
			sawToolCall = true
		}
		if turn.ToolReply != nil {
			sawToolReply = true
		}
	}
	assert.True(t, sawToolCall)
	assert.True(t, sawToolReply)
}

func TestEngineModelRequestedEndConversation(t *testing.T) {
	llm := &scriptedLLM{
		responses: []LLMResponse{
			{ToolCalls: []ToolCall{{ID: "call-1", Name: string(tools.KindEnd), Arguments: `{}`}}},
			{Text: "¡Con gusto! Que tengas un lindo día. 🌸"},
		},
	}
	f := newEngineFixture(t, llm, &fakeDirectory{})
	f.seedSession("c1", consentedVars(nil))

	resp, err := f.engine.ProcessTurn(context.Background(), TurnRequest{
		ConversationID: "c1", From: "573001234567", Text: "eso era todo, gracias",
	})

	require.NoError(t, err)
	assert.True(t, resp.ShouldEnd)
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, "¡Con gusto! Que tengas un lindo día. 🌸", resp.Messages[0].Text)
}

func TestEngineModelFailureFallsBackAndTransfers(t *testing.T) {
	llm := &scriptedLLM{errs: []error{errors.New("bedrock down")}}
	f := newEngineFixture(t, llm, &fakeDirectory{})
	f.seedSession("c1", consentedVars(nil))

	resp, err := f.engine.ProcessTurn(context.Background(), TurnRequest{
		ConversationID: "c1", From: "573001234567", Text: "¿tienen perfumes?",
	})

	require.NoError(t, err, "model failures never surface to the caller")
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, escalationFallback, resp.Messages[0].Text)
	assert.True(t, resp.ShouldTransfer)
	assert.Equal(t, "sales", resp.TransferQueue)
}

func TestEngineEmptyModelTextFallsBack(t *testing.T) {
	llm := &scriptedLLM{responses: []LLMResponse{{Text: "   \n "}}}
	f := newEngineFixture(t, llm, &fakeDirectory{})
	f.seedSession("c1", consentedVars(nil))

	resp, err := f.engine.ProcessTurn(context.Background(), TurnRequest{
		ConversationID: "c1", From: "573001234567", Text: "mmm",
	})

	require.NoError(t, err)
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, escalationFallback, resp.Messages[0].Text)
	assert.True(t, resp.ShouldTransfer)
}

func TestEngineAugmenterPanicDegradesToFallback(t *testing.T) {
	f := newEngineFixture(t, &scriptedLLM{}, &fakeDirectory{})
	f.augmenter.panics = true
	f.seedSession("c1", consentedVars(nil))

	resp, err := f.engine.ProcessTurn(context.Background(), TurnRequest{
		ConversationID: "c1", From: "573001234567", Text: "¿tienen perfumes?",
	})

	require.NoError(t, err)
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, escalationFallback, resp.Messages[0].Text)
	assert.True(t, resp.ShouldTransfer)
}

func TestEngineCachesClassificationFromAugmentation(t *testing.T) {
	llm := &scriptedLLM{responses: []LLMResponse{{Text: "¡Hola Marta! ¿Qué necesitas hoy?"}}}
	f := newEngineFixture(t, llm, &fakeDirectory{})
	f.augmenter.out = augment.Output{
		Context: "Cliente identificado: Marta Ruiz (promotora).",
		Contact: &crm.Contact{ID: "ct-1", Name: "Marta Ruiz", Classification: crm.ClassPromoter},
	}
	f.seedSession("c1", consentedVars(nil))

	_, err := f.engine.ProcessTurn(context.Background(), TurnRequest{
		ConversationID: "c1", From: "573001234567", Text: "necesito unos productos",
	})

	require.NoError(t, err)
	assert.Equal(t, string(crm.ClassPromoter), f.sessions.stored["c1"].Var(tools.VarClassification))

	// The augmentation context rides in as a second system block.
	require.Len(t, llm.lastReq.System, 2)
	assert.Contains(t, llm.lastReq.System[1], "Marta Ruiz")
}

func TestEngineSessionLoadFailureEscalates(t *testing.T) {
	f := newEngineFixture(t, &scriptedLLM{}, &fakeDirectory{})
	f.sessions.loadErr = errors.New("redis unavailable")

	resp, err := f.engine.ProcessTurn(context.Background(), TurnRequest{
		ConversationID: "c1", From: "573001234567", Text: "hola",
	})

	require.NoError(t, err)
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, escalationFallback, resp.Messages[0].Text)
	assert.True(t, resp.ShouldTransfer)
}

func TestEngineNormalizesOutboundText(t *testing.T) {
	llm := &scriptedLLM{responses: []LLMResponse{{Text: "Hola.\n\n\n\nEl catálogo vigente es el de marzo.  "}}}
	f := newEngineFixture(t, llm, &fakeDirectory{})
	f.seedSession("c1", consentedVars(nil))

	resp, err := f.engine.ProcessTurn(context.Background(), TurnRequest{
		ConversationID: "c1", From: "573001234567", Text: "¿cuál es el catálogo vigente?",
	})

	require.NoError(t, err)
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, "Hola.\n\nEl catálogo vigente es el de marzo.", resp.Messages[0].Text)
}

func TestEngineDefaultsConversationIDFromPhone(t *testing.T) {
	llm := &scriptedLLM{responses: []LLMResponse{{Text: "ok"}}}
	f := newEngineFixture(t, llm, &fakeDirectory{})

	resp, err := f.engine.ProcessTurn(context.Background(), TurnRequest{
		From: "+57 300 123 4567", Text: "hola",
	})

	require.NoError(t, err)
	assert.Equal(t, crm.NormalizePhone("+57 300 123 4567"), resp.ConversationID)
}
