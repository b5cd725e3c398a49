package conversation

import (
	"context"
	"encoding/json"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vendalia/catalog-ai-platform/internal/augment"
	"github.com/vendalia/catalog-ai-platform/internal/crm"
	"github.com/vendalia/catalog-ai-platform/internal/messaging"
	"github.com/vendalia/catalog-ai-platform/internal/tools"
	"github.com/vendalia/catalog-ai-platform/pkg/logging"
)

var engineTracer = otel.Tracer("catalogai.internal.conversation.engine")

// escalationFallback is the guaranteed reply when a turn cannot complete.
const escalationFallback = "En este momento no puedo ayudarte por este medio, pero ya avisé a una asesora para que continúe contigo. Gracias por tu paciencia. 🙏"

// TurnRequest is one inbound message to process.
type TurnRequest struct {
	ConversationID string `json:"conversation_id"`
	From           string `json:"from"`
	To             string `json:"to"`
	Text           string `json:"text"`
	ImageB64       string `json:"image_b64,omitempty"`
	ImageMIME      string `json:"image_mime,omitempty"`
}

// TurnResponse is the final outcome of one turn. Messages is never empty.
type TurnResponse struct {
	ConversationID string              `json:"conversation_id"`
	Messages       []messaging.Message `json:"messages"`
	ShouldTransfer bool                `json:"should_transfer"`
	TransferQueue  string              `json:"transfer_queue,omitempty"`
	ShouldEnd      bool                `json:"should_end"`
}

// Service processes conversation turns.
type Service interface {
	ProcessTurn(ctx context.Context, req TurnRequest) (*TurnResponse, error)
}

type sessionRepository interface {
	LoadOrNew(ctx context.Context, conversationID string) (*Session, error)
	Save(ctx context.Context, session *Session) error
}

type augmenter interface {
	Run(ctx context.Context, in augment.Input) augment.Output
}

// terminalTools emit user-facing messages that end the turn verbatim, with no
// remodel pass.
var terminalTools = map[tools.Kind]bool{
	tools.KindConsent:  true,
	tools.KindPromoter: true,
}

// EngineConfig is resolved once at startup and passed by value into the
// engine; nothing mutates it per turn.
type EngineConfig struct {
	ModelID       string
	MaxTokens     int32
	Temperature   float32
	TopP          float32
	HistoryWindow int
	SalesQueueID  string
}

// Engine is the per-turn state machine: gating, augmentation, model call,
// tool execution, optional remodel, finalization. Each state has one error
// boundary; nothing leaves ProcessTurn without at least one outbound message.
type Engine struct {
	sessions sessionRepository
	pipeline augmenter
	llm      LLMClient
	registry *tools.Registry
	prompts  *PromptLoader
	policy   *Policy
	cfg      EngineConfig
	logger   *logging.Logger
	now      func() time.Time
}

var _ Service = (*Engine)(nil)

func NewEngine(sessions sessionRepository, pipeline augmenter, llm LLMClient, registry *tools.Registry, prompts *PromptLoader, policy *Policy, cfg EngineConfig, logger *logging.Logger) *Engine {
	if sessions == nil {
		panic("conversation: session repository cannot be nil")
	}
	if llm == nil {
		panic("conversation: llm client cannot be nil")
	}
	if registry == nil {
		panic("conversation: tool registry cannot be nil")
	}
	if policy == nil {
		panic("conversation: policy cannot be nil")
	}
	if prompts == nil {
		prompts = NewPromptLoader("", logger)
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 20
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	if cfg.SalesQueueID == "" {
		cfg.SalesQueueID = "sales"
	}
	return &Engine{
		sessions: sessions,
		pipeline: pipeline,
		llm:      llm,
		registry: registry,
		prompts:  prompts,
		policy:   policy,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// turnState accumulates everything a turn produces before finalization.
type turnState struct {
	session      *Session
	toolCtx      tools.Context
	promptMsgs   []ChatMessage
	newTurns     []ChatMessage
	toolMessages []messaging.Message
	transfer     string
	shouldEnd    bool
	forcedQueue  string
}

// ProcessTurn runs one inbound message through the full state machine. The
// returned error is always nil in practice; fatal failures degrade to the
// escalation fallback so no invocation ends without a response.
func (e *Engine) ProcessTurn(ctx context.Context, req TurnRequest) (resp *TurnResponse, err error) {
	ctx, span := engineTracer.Start(ctx, "conversation.ProcessTurn")
	defer span.End()

	if req.ConversationID == "" {
		req.ConversationID = crm.NormalizePhone(req.From)
	}

	var session *Session
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Error("turn processing panicked", "conversation_id", req.ConversationID, "panic", rec)
			resp, err = e.escalate(ctx, session), nil
		}
	}()

	session, loadErr := e.sessions.LoadOrNew(ctx, req.ConversationID)
	if loadErr != nil {
		e.logger.Error("session load failed", "conversation_id", req.ConversationID, "error", loadErr)
		return e.escalate(ctx, nil), nil
	}

	st := &turnState{session: session}
	st.toolCtx = tools.Context{
		From:      req.From,
		Text:      req.Text,
		ImageB64:  req.ImageB64,
		ImageMIME: req.ImageMIME,
		Vars:      session.Vars,
		Now:       e.now(),
	}
	userTurn := ChatMessage{
		Role:      ChatRoleUser,
		Content:   req.Text,
		ImageB64:  req.ImageB64,
		ImageMIME: req.ImageMIME,
	}
	st.newTurns = append(st.newTurns, userTurn)

	// Gating.
	classification := crm.Classification(session.Var(tools.VarClassification))
	if classification == "" {
		classification = crm.ClassUnknown
	}
	decision := e.policy.Evaluate(req.Text, session, classification)
	if decision.Override != OverrideNone {
		policyOverridesTotal.WithLabelValues(string(decision.Override)).Inc()
		span.SetAttributes(attribute.String("policy.override", string(decision.Override)))
	}
	st.forcedQueue = decision.TransferQueue

	if decision.ConsentGate {
		if done := e.runConsentGate(ctx, req, st, decision); done != nil {
			return done, nil
		}
	} else if len(decision.Greeting) > 0 {
		st.newTurns = append(st.newTurns, ChatMessage{Role: ChatRoleAssistant, Content: decision.Greeting[0].Text})
		e.persist(ctx, st)
		turnsTotal.WithLabelValues("ok").Inc()
		return &TurnResponse{ConversationID: session.ID, Messages: decision.Greeting}, nil
	}

	// Augmenting: partial failures already degrade inside the pipeline.
	var out augment.Output
	if e.pipeline != nil {
		out = e.pipeline.Run(ctx, augment.Input{
			From:      req.From,
			To:        req.To,
			Text:      req.Text,
			ImageB64:  req.ImageB64,
			ImageMIME: req.ImageMIME,
		})
	}
	st.toolCtx.Contact = out.Contact
	if out.Contact != nil {
		session.ApplyPatch(map[string]string{tools.VarClassification: string(out.Contact.Classification)})
	}

	system := []string{e.prompts.Load()}
	if out.Context != "" {
		system = append(system, "Contexto de la conversación:\n"+out.Context)
	}
	window := promptWindow(session.Turns, e.cfg.HistoryWindow)
	st.promptMsgs = make([]ChatMessage, 0, len(window)+8)
	st.promptMsgs = append(st.promptMsgs, window...)
	st.promptMsgs = append(st.promptMsgs, userTurn)

	// Forced tool sequence, executed one at a time so promoter validation can
	// stop the chain or end the turn with its own follow-up question.
	if !decision.ConsentGate && len(decision.Forced) > 0 {
		if done := e.runForcedSequence(ctx, st, decision); done != nil {
			return done, nil
		}
	}

	// Modeling.
	modelResp, modelErr := e.complete(ctx, "model", system, st.promptMsgs)
	if modelErr != nil {
		e.logger.Error("model call failed", "conversation_id", session.ID, "error", modelErr)
		e.persist(ctx, st)
		return e.escalate(ctx, session), nil
	}

	finalText := modelResp.Text

	// ToolExecuting + Remodeling.
	if len(modelResp.ToolCalls) > 0 {
		terminal := e.runModelTools(ctx, st, modelResp)
		if terminal != nil {
			return terminal, nil
		}

		remodelResp, remodelErr := e.complete(ctx, "remodel", system, st.promptMsgs)
		if remodelErr != nil {
			e.logger.Error("remodel call failed", "conversation_id", session.ID, "error", remodelErr)
			e.persist(ctx, st)
			return e.escalate(ctx, session), nil
		}
		finalText = remodelResp.Text
	}

	return e.finalize(ctx, st, finalText), nil
}

// runConsentGate executes the forced consent invocation. A non-nil response
// ends the turn (prompt shown or conversation closed); nil means consent is
// granted and the turn continues.
func (e *Engine) runConsentGate(ctx context.Context, req TurnRequest, st *turnState, decision PolicyDecision) *TurnResponse {
	res := e.registry.Execute(ctx, decision.Forced[0], &st.toolCtx)
	st.session.ApplyPatch(res.Patch)

	if len(res.Messages) == 0 && !res.ShouldEnd {
		// Consent granted on this very turn; proceed with the message.
		return nil
	}

	msgs := res.Messages
	if len(msgs) == 0 {
		msgs = []messaging.Message{messaging.Text(escalationFallback)}
	}
	for _, m := range msgs {
		st.newTurns = append(st.newTurns, ChatMessage{Role: ChatRoleAssistant, Content: outboundAsText(m)})
	}
	e.persist(ctx, st)
	turnsTotal.WithLabelValues("ok").Inc()
	return &TurnResponse{
		ConversationID: st.session.ID,
		Messages:       msgs,
		ShouldEnd:      res.ShouldEnd,
	}
}

// runForcedSequence executes policy-forced invocations sequentially. A
// non-nil response means a terminal tool already answered the user.
func (e *Engine) runForcedSequence(ctx context.Context, st *turnState, decision PolicyDecision) *TurnResponse {
	for _, inv := range decision.Forced {
		res := e.registry.Execute(ctx, inv, &st.toolCtx)
		st.session.ApplyPatch(res.Patch)
		e.recordToolTurn(st, inv, res)

		if len(res.Messages) > 0 && terminalTools[tools.Kind(inv.Name)] {
			// Early return: the tool needs an answer from the user first.
			st.forcedQueue = ""
			e.persist(ctx, st)
			turnsTotal.WithLabelValues("ok").Inc()
			return &TurnResponse{
				ConversationID: st.session.ID,
				Messages:       res.Messages,
				ShouldEnd:      res.ShouldEnd,
			}
		}

		if tools.Kind(inv.Name) == tools.KindPromoter && !res.OK {
			// Not a promoter: drop the rest of the chain, let the model
			// explain using the failed result already in context.
			st.forcedQueue = ""
			break
		}

		e.collectSignals(st, res)
	}
	return nil
}

// runModelTools executes the model-requested invocations. A non-nil response
// means a terminal tool's messages end the turn verbatim.
func (e *Engine) runModelTools(ctx context.Context, st *turnState, modelResp LLMResponse) *TurnResponse {
	assistant := ChatMessage{Role: ChatRoleAssistant, Content: modelResp.Text, ToolCalls: modelResp.ToolCalls}
	st.promptMsgs = append(st.promptMsgs, assistant)
	st.newTurns = append(st.newTurns, assistant)

	invs := make([]tools.Invocation, 0, len(modelResp.ToolCalls))
	for _, call := range modelResp.ToolCalls {
		invs = append(invs, tools.Invocation{
			ID:        call.ID,
			Name:      call.Name,
			Arguments: json.RawMessage(call.Arguments),
		})
	}

	executed, patch := e.registry.ExecuteAll(ctx, invs, &st.toolCtx)
	st.session.ApplyPatch(patch)

	var terminalMsgs []messaging.Message
	var terminalEnd bool
	for _, ex := range executed {
		e.appendToolReply(st, ex.Invocation, ex.Result)
		if len(ex.Result.Messages) > 0 {
			if terminalTools[tools.Kind(ex.Invocation.Name)] {
				terminalMsgs = append(terminalMsgs, ex.Result.Messages...)
				terminalEnd = terminalEnd || ex.Result.ShouldEnd
				continue
			}
			st.toolMessages = append(st.toolMessages, ex.Result.Messages...)
		}
		e.collectSignals(st, ex.Result)
	}

	if len(terminalMsgs) > 0 {
		e.persist(ctx, st)
		turnsTotal.WithLabelValues("ok").Inc()
		resp := &TurnResponse{
			ConversationID: st.session.ID,
			Messages:       terminalMsgs,
			ShouldEnd:      terminalEnd || st.shouldEnd,
		}
		e.applyTransfer(st, resp)
		return resp
	}
	return nil
}

// finalize assembles the outbound message set, applies the transfer override,
// normalizes text, and persists the session.
func (e *Engine) finalize(ctx context.Context, st *turnState, finalText string) *TurnResponse {
	resp := &TurnResponse{ConversationID: st.session.ID}
	resp.Messages = append(resp.Messages, st.toolMessages...)

	finalText = NormalizeOutbound(finalText)
	if finalText != "" {
		resp.Messages = append(resp.Messages, messaging.Text(finalText))
		st.newTurns = append(st.newTurns, ChatMessage{Role: ChatRoleAssistant, Content: finalText})
	}

	outcome := "ok"
	if len(resp.Messages) == 0 {
		// Nothing usable came back; never end a turn without a reply.
		outcome = "fallback"
		resp.Messages = []messaging.Message{messaging.Text(escalationFallback)}
		resp.ShouldTransfer = true
		resp.TransferQueue = e.cfg.SalesQueueID
		st.newTurns = append(st.newTurns, ChatMessage{Role: ChatRoleAssistant, Content: escalationFallback})
	}

	resp.ShouldEnd = resp.ShouldEnd || st.shouldEnd
	e.applyTransfer(st, resp)
	normalizeMessages(resp.Messages)
	e.persist(ctx, st)
	turnsTotal.WithLabelValues(outcome).Inc()
	return resp
}

// applyTransfer resolves the final transfer signal. A policy-forced transfer
// overrides whatever the model decided during tool execution.
func (e *Engine) applyTransfer(st *turnState, resp *TurnResponse) {
	switch {
	case st.forcedQueue != "":
		resp.ShouldTransfer = true
		resp.TransferQueue = st.forcedQueue
	case st.transfer != "":
		resp.ShouldTransfer = true
		resp.TransferQueue = st.transfer
	}
}

func (e *Engine) collectSignals(st *turnState, res tools.Result) {
	if res.ShouldTransfer && res.TransferQueue != "" {
		st.transfer = res.TransferQueue
	}
	if res.ShouldEnd {
		st.shouldEnd = true
	}
}

// recordToolTurn appends a synthetic assistant tool call plus its result, so
// forced invocations are indistinguishable from model-issued ones downstream.
func (e *Engine) recordToolTurn(st *turnState, inv tools.Invocation, res tools.Result) {
	assistant := ChatMessage{
		Role: ChatRoleAssistant,
		ToolCalls: []ToolCall{{
			ID:        inv.ID,
			Name:      inv.Name,
			Arguments: string(inv.Arguments),
		}},
	}
	st.promptMsgs = append(st.promptMsgs, assistant)
	st.newTurns = append(st.newTurns, assistant)
	e.appendToolReply(st, inv, res)
}

func (e *Engine) appendToolReply(st *turnState, inv tools.Invocation, res tools.Result) {
	content := string(res.Payload)
	if !res.OK {
		content = res.Error
	}
	toolTurn := ChatMessage{
		Role: ChatRoleTool,
		ToolReply: &ToolReply{
			CallID:  inv.ID,
			Content: content,
			IsError: !res.OK,
		},
	}
	st.promptMsgs = append(st.promptMsgs, toolTurn)
	st.newTurns = append(st.newTurns, toolTurn)
}

func (e *Engine) complete(ctx context.Context, phase string, system []string, msgs []ChatMessage) (LLMResponse, error) {
	req := LLMRequest{
		Model:       e.cfg.ModelID,
		System:      system,
		Messages:    msgs,
		Tools:       e.registry.Catalogue(),
		ToolChoice:  ToolChoiceAuto,
		MaxTokens:   e.cfg.MaxTokens,
		Temperature: e.cfg.Temperature,
		TopP:        e.cfg.TopP,
	}
	applyModelQuirks(&req)

	timer := prometheus.NewTimer(llmLatencySeconds.WithLabelValues(phase))
	resp, err := e.llm.Complete(ctx, req)
	timer.ObserveDuration()
	if err == nil {
		recordUsage(resp.Usage)
	}
	return resp, err
}

func (e *Engine) persist(ctx context.Context, st *turnState) {
	st.session.Append(st.newTurns...)
	st.newTurns = nil
	if err := e.sessions.Save(ctx, st.session); err != nil {
		e.logger.Error("session save failed", "conversation_id", st.session.ID, "error", err)
	}
}

// escalate is the top-level failure boundary: fixed fallback text plus a
// transfer to the sales queue.
func (e *Engine) escalate(_ context.Context, session *Session) *TurnResponse {
	turnsTotal.WithLabelValues("fallback").Inc()
	id := ""
	if session != nil {
		id = session.ID
	}
	return &TurnResponse{
		ConversationID: id,
		Messages:       []messaging.Message{messaging.Text(escalationFallback)},
		ShouldTransfer: true,
		TransferQueue:  e.cfg.SalesQueueID,
	}
}

func normalizeMessages(msgs []messaging.Message) {
	for i := range msgs {
		msgs[i].Text = NormalizeOutbound(msgs[i].Text)
		msgs[i].Prompt = NormalizeOutbound(msgs[i].Prompt)
		msgs[i].Caption = NormalizeOutbound(msgs[i].Caption)
	}
}

func outboundAsText(m messaging.Message) string {
	switch m.Type {
	case messaging.MessageTypeButtons:
		return m.Prompt
	case messaging.MessageTypeDocument:
		return m.Caption
	default:
		return m.Text
	}
}
