package openai

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/mashiike/promptloop/conversation"
	"github.com/mashiike/promptloop/model"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// TextModel implements the model.Model interface for OpenAI chat completion models
type TextModel struct {
	modelID string
	options []option.RequestOption
}

// ID returns the model identifier
func (m *TextModel) ID() string {
	return m.modelID
}

// Generate sends the conversation to the Chat Completions API. Streaming
// requests are accumulated into a single completion before returning.
func (m *TextModel) Generate(ctx context.Context, req *model.GenerateRequest) (*model.GenerateResponse, error) {
	messages, err := convertMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("failed to convert messages: %w", err)
	}
	params := openai.ChatCompletionNewParams{
		Model:    m.modelID,
		Messages: messages,
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = openai.Float(*req.TopP)
	}

	client := newClient(req, m.options)

	if !req.Stream {
		response, err := client.Chat.Completions.New(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("failed to generate text response: %w", err)
		}
		return m.convertResponse(response)
	}

	stream := client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()
	acc := openai.ChatCompletionAccumulator{}
	for stream.Next() {
		acc.AddChunk(stream.Current())
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("failed to stream text response: %w", err)
	}
	return m.convertResponse(&acc.ChatCompletion)
}

// convertMessages converts a conversation into chat completion messages.
// Tool exchanges become an assistant tool call followed by its tool result;
// status snapshots are rendered the same way as a call of the status tool.
func convertMessages(c conversation.Conversation) ([]openai.ChatCompletionMessageParamUnion, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(c))
	for _, msg := range c {
		switch msg.Kind {
		case conversation.KindSystem:
			messages = append(messages, openai.SystemMessage(msg.Content))
		case conversation.KindUser:
			messages = append(messages, openai.UserMessage(msg.Content))
		case conversation.KindAssistant:
			messages = append(messages, openai.AssistantMessage(msg.Content))
		case conversation.KindToolCall, conversation.KindStatus:
			tc, ok := model.DecodeToolCall(msg.Call)
			if !ok {
				if msg.Kind == conversation.KindToolCall {
					// not a canonical record, keep it readable as plain text
					messages = append(messages, openai.AssistantMessage(msg.Call), openai.UserMessage(msg.Content))
					continue
				}
				tc = model.ToolCall{Name: msg.Call, Arguments: "{}"}
			}
			id := "call_" + uuid.Must(uuid.NewV7()).String()
			assistant := openai.ChatCompletionAssistantMessageParam{
				ToolCalls: []openai.ChatCompletionMessageToolCallParam{
					{
						ID: id,
						Function: openai.ChatCompletionMessageToolCallFunctionParam{
							Name:      tc.Name,
							Arguments: tc.Arguments,
						},
					},
				},
			}
			messages = append(messages,
				openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant},
				openai.ToolMessage(msg.Content, id),
			)
		default:
			return nil, fmt.Errorf("unsupported message kind: %s", msg.Kind)
		}
	}
	return messages, nil
}

// convertResponse converts OpenAI response to model.GenerateResponse
func (m *TextModel) convertResponse(response *openai.ChatCompletion) (*model.GenerateResponse, error) {
	if len(response.Choices) == 0 {
		return nil, fmt.Errorf("no choices returned from OpenAI API")
	}
	choice := response.Choices[0]

	resp := &model.GenerateResponse{
		Text:        choice.Message.Content,
		RawResponse: response,
	}
	for _, toolCall := range choice.Message.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, model.ToolCall{
			Name:      toolCall.Function.Name,
			Arguments: toolCall.Function.Arguments,
		})
	}
	if response.Usage.TotalTokens > 0 {
		resp.Usage = &model.Usage{
			InputTokens:  model.Ptr(int(response.Usage.PromptTokens)),
			OutputTokens: model.Ptr(int(response.Usage.CompletionTokens)),
			TotalTokens:  model.Ptr(int(response.Usage.TotalTokens)),
			ModelID:      m.modelID,
		}
	}
	return resp, nil
}
