package conversation

import (
	"context"

	"github.com/vendalia/catalog-ai-platform/internal/tools"
)

const (
	ChatRoleSystem    = "system"
	ChatRoleUser      = "user"
	ChatRoleAssistant = "assistant"
	ChatRoleTool      = "tool"
)

// ToolCall is one tool invocation requested by the model. Arguments is the
// raw JSON-encoded argument string exactly as the provider returned it.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolReply carries one tool execution result back to the model.
type ToolReply struct {
	CallID  string `json:"call_id"`
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// ChatMessage is the internal message representation. Image fields are only
// meaningful on user turns; ToolCalls on assistant turns; ToolReply on tool
// turns.
type ChatMessage struct {
	Role      string     `json:"role"`
	Content   string     `json:"content,omitempty"`
	ImageB64  string     `json:"image_b64,omitempty"`
	ImageMIME string     `json:"image_mime,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	ToolReply *ToolReply `json:"tool_reply,omitempty"`
}

type TokenUsage struct {
	InputTokens  int32
	OutputTokens int32
	TotalTokens  int32
}

// ToolChoiceAuto lets the model decide whether to call tools.
const ToolChoiceAuto = "auto"

type LLMRequest struct {
	Model       string
	System      []string
	Messages    []ChatMessage
	Tools       []tools.Spec
	ToolChoice  string
	MaxTokens   int32
	Temperature float32
	TopP        float32
}

type LLMResponse struct {
	Text       string
	ToolCalls  []ToolCall
	Usage      TokenUsage
	StopReason string
}

type LLMClient interface {
	Complete(ctx context.Context, req LLMRequest) (LLMResponse, error)
}
