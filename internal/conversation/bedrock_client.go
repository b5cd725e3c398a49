package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"

	"github.com/vendalia/catalog-ai-platform/internal/tools"
	"github.com/vendalia/catalog-ai-platform/internal/visual"
)

type bedrockConverseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockLLMClient talks to the Bedrock Converse API, including tool use and
// inline image content blocks.
type BedrockLLMClient struct {
	api bedrockConverseAPI
}

var _ LLMClient = (*BedrockLLMClient)(nil)

func NewBedrockLLMClient(api bedrockConverseAPI) *BedrockLLMClient {
	if api == nil {
		panic("conversation: bedrock converse client cannot be nil")
	}
	return &BedrockLLMClient{api: api}
}

func (c *BedrockLLMClient) Complete(ctx context.Context, req LLMRequest) (LLMResponse, error) {
	if strings.TrimSpace(req.Model) == "" {
		return LLMResponse{}, errors.New("conversation: bedrock model id is required")
	}

	systemBlocks := make([]brtypes.SystemContentBlock, 0, len(req.System))
	for _, block := range req.System {
		if strings.TrimSpace(block) == "" {
			continue
		}
		systemBlocks = append(systemBlocks, &brtypes.SystemContentBlockMemberText{Value: block})
	}

	messages := make([]brtypes.Message, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch msg.Role {
		case ChatRoleSystem:
			if content := strings.TrimSpace(msg.Content); content != "" {
				systemBlocks = append(systemBlocks, &brtypes.SystemContentBlockMemberText{Value: content})
			}
		case ChatRoleUser:
			content, err := userContentBlocks(msg)
			if err != nil {
				return LLMResponse{}, err
			}
			if len(content) == 0 {
				continue
			}
			messages = append(messages, brtypes.Message{
				Role:    brtypes.ConversationRoleUser,
				Content: content,
			})
		case ChatRoleAssistant:
			content, err := assistantContentBlocks(msg)
			if err != nil {
				return LLMResponse{}, err
			}
			if len(content) == 0 {
				continue
			}
			messages = append(messages, brtypes.Message{
				Role:    brtypes.ConversationRoleAssistant,
				Content: content,
			})
		case ChatRoleTool:
			block, err := toolResultBlock(msg)
			if err != nil {
				return LLMResponse{}, err
			}
			// Tool results travel back inside a user-role message.
			messages = append(messages, brtypes.Message{
				Role:    brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{block},
			})
		default:
			return LLMResponse{}, fmt.Errorf("conversation: unsupported role %q", msg.Role)
		}
	}

	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(req.Model),
		System:   systemBlocks,
		Messages: messages,
	}

	inference := &brtypes.InferenceConfiguration{}
	if req.MaxTokens > 0 {
		inference.MaxTokens = aws.Int32(req.MaxTokens)
	}
	// Allow callers to omit temperature by passing a negative value.
	if req.Temperature >= 0 {
		inference.Temperature = aws.Float32(req.Temperature)
	}
	if req.TopP != 0 {
		inference.TopP = aws.Float32(req.TopP)
	}
	if inference.MaxTokens != nil || inference.Temperature != nil || inference.TopP != nil {
		input.InferenceConfig = inference
	}

	if len(req.Tools) > 0 {
		toolConfig, err := toolConfiguration(req.Tools, req.ToolChoice)
		if err != nil {
			return LLMResponse{}, err
		}
		input.ToolConfig = toolConfig
	}

	out, err := c.api.Converse(ctx, input)
	if err != nil {
		return LLMResponse{}, err
	}
	return decodeConverseOutput(out)
}

func userContentBlocks(msg ChatMessage) ([]brtypes.ContentBlock, error) {
	blocks := make([]brtypes.ContentBlock, 0, 2)
	if content := strings.TrimSpace(msg.Content); content != "" {
		blocks = append(blocks, &brtypes.ContentBlockMemberText{Value: content})
	}
	if msg.ImageB64 != "" {
		data, mime, err := visual.DecodeBase64Image(msg.ImageB64)
		if err != nil {
			return nil, fmt.Errorf("conversation: inbound image: %w", err)
		}
		if msg.ImageMIME != "" {
			mime = msg.ImageMIME
		}
		blocks = append(blocks, imageBlock(data, mime))
	}
	return blocks, nil
}

func assistantContentBlocks(msg ChatMessage) ([]brtypes.ContentBlock, error) {
	blocks := make([]brtypes.ContentBlock, 0, 1+len(msg.ToolCalls))
	if content := strings.TrimSpace(msg.Content); content != "" {
		blocks = append(blocks, &brtypes.ContentBlockMemberText{Value: content})
	}
	for _, call := range msg.ToolCalls {
		var args map[string]any
		if call.Arguments != "" {
			if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
				return nil, fmt.Errorf("conversation: tool call %s arguments: %w", call.Name, err)
			}
		}
		if args == nil {
			args = map[string]any{}
		}
		blocks = append(blocks, &brtypes.ContentBlockMemberToolUse{
			Value: brtypes.ToolUseBlock{
				ToolUseId: aws.String(call.ID),
				Name:      aws.String(call.Name),
				Input:     document.NewLazyDocument(args),
			},
		})
	}
	return blocks, nil
}

func toolResultBlock(msg ChatMessage) (brtypes.ContentBlock, error) {
	if msg.ToolReply == nil {
		return nil, errors.New("conversation: tool turn without a tool reply")
	}
	status := brtypes.ToolResultStatusSuccess
	if msg.ToolReply.IsError {
		status = brtypes.ToolResultStatusError
	}
	return &brtypes.ContentBlockMemberToolResult{
		Value: brtypes.ToolResultBlock{
			ToolUseId: aws.String(msg.ToolReply.CallID),
			Status:    status,
			Content: []brtypes.ToolResultContentBlock{
				&brtypes.ToolResultContentBlockMemberText{Value: msg.ToolReply.Content},
			},
		},
	}, nil
}

func toolConfiguration(specs []tools.Spec, choice string) (*brtypes.ToolConfiguration, error) {
	converted := make([]brtypes.Tool, 0, len(specs))
	for _, spec := range specs {
		schema := spec.Schema
		if schema == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		converted = append(converted, &brtypes.ToolMemberToolSpec{
			Value: brtypes.ToolSpecification{
				Name:        aws.String(spec.Name),
				Description: aws.String(spec.Description),
				InputSchema: &brtypes.ToolInputSchemaMemberJson{
					Value: document.NewLazyDocument(schema),
				},
			},
		})
	}

	config := &brtypes.ToolConfiguration{Tools: converted}
	switch choice {
	case "", ToolChoiceAuto:
		config.ToolChoice = &brtypes.ToolChoiceMemberAuto{Value: brtypes.AutoToolChoice{}}
	default:
		config.ToolChoice = &brtypes.ToolChoiceMemberTool{
			Value: brtypes.SpecificToolChoice{Name: aws.String(choice)},
		}
	}
	return config, nil
}

func decodeConverseOutput(out *bedrockruntime.ConverseOutput) (LLMResponse, error) {
	if out == nil {
		return LLMResponse{}, errors.New("conversation: bedrock response is nil")
	}
	msgOut, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return LLMResponse{}, errors.New("conversation: bedrock response did not include a message output")
	}

	var (
		text  strings.Builder
		calls []ToolCall
	)
	for _, block := range msgOut.Value.Content {
		switch v := block.(type) {
		case *brtypes.ContentBlockMemberText:
			text.WriteString(v.Value)
		case *brtypes.ContentBlockMemberToolUse:
			args := "{}"
			if v.Value.Input != nil {
				raw, err := v.Value.Input.MarshalSmithyDocument()
				if err != nil {
					return LLMResponse{}, fmt.Errorf("conversation: tool use input decode: %w", err)
				}
				args = string(raw)
			}
			calls = append(calls, ToolCall{
				ID:        aws.ToString(v.Value.ToolUseId),
				Name:      aws.ToString(v.Value.Name),
				Arguments: args,
			})
		}
	}

	resp := LLMResponse{
		Text:      strings.TrimSpace(text.String()),
		ToolCalls: calls,
	}
	if out.StopReason != "" {
		resp.StopReason = string(out.StopReason)
	}
	if out.Usage != nil {
		resp.Usage = TokenUsage{
			InputTokens:  int32OrZero(out.Usage.InputTokens),
			OutputTokens: int32OrZero(out.Usage.OutputTokens),
			TotalTokens:  int32OrZero(out.Usage.TotalTokens),
		}
	}
	return resp, nil
}

func imageBlock(data []byte, mime string) brtypes.ContentBlock {
	format := brtypes.ImageFormatJpeg
	switch strings.ToLower(mime) {
	case "image/png":
		format = brtypes.ImageFormatPng
	case "image/gif":
		format = brtypes.ImageFormatGif
	case "image/webp":
		format = brtypes.ImageFormatWebp
	}
	return &brtypes.ContentBlockMemberImage{
		Value: brtypes.ImageBlock{
			Format: format,
			Source: &brtypes.ImageSourceMemberBytes{Value: data},
		},
	}
}

func int32OrZero(v *int32) int32 {
	if v == nil {
		return 0
	}
	return *v
}

// BedrockVisionClient answers single-shot vision prompts over Converse. It
// backs both the verification pass and the OCR tool.
type BedrockVisionClient struct {
	api     bedrockConverseAPI
	modelID string
}

var _ visual.VisionModel = (*BedrockVisionClient)(nil)

func NewBedrockVisionClient(api bedrockConverseAPI, modelID string) *BedrockVisionClient {
	if api == nil {
		panic("conversation: bedrock converse client cannot be nil")
	}
	if strings.TrimSpace(modelID) == "" {
		panic("conversation: vision model id cannot be empty")
	}
	return &BedrockVisionClient{api: api, modelID: modelID}
}

func (c *BedrockVisionClient) Describe(ctx context.Context, prompt string, images []visual.Image) (string, error) {
	content := make([]brtypes.ContentBlock, 0, 1+len(images))
	content = append(content, &brtypes.ContentBlockMemberText{Value: prompt})
	for _, img := range images {
		if len(img.Data) == 0 {
			continue
		}
		content = append(content, imageBlock(img.Data, img.MIME))
	}

	out, err := c.api.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId: aws.String(c.modelID),
		Messages: []brtypes.Message{{
			Role:    brtypes.ConversationRoleUser,
			Content: content,
		}},
	})
	if err != nil {
		return "", err
	}

	resp, err := decodeConverseOutput(out)
	if err != nil {
		return "", err
	}
	if resp.Text == "" {
		return "", errors.New("conversation: vision response contained no text")
	}
	return resp.Text, nil
}
