// Package bedrock provides integration with AWS Bedrock for model inference and conversation APIs.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/mashiike/promptloop/conversation"
	"github.com/mashiike/promptloop/model"
)

func init() {
	p := &ModelProvider{}
	model.Register("bedrock", p)
}

type BedrockClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

type ModelProvider struct {
	once    sync.Once
	awsCfg  *aws.Config
	client  BedrockClient
	loadErr error
}

func (p *ModelProvider) SetAWSConfig(cfg *aws.Config) {
	p.once.Do(func() {
		p.awsCfg = cfg
	})
}

func (p *ModelProvider) GetClient() (BedrockClient, error) {
	p.once.Do(func() {
		if p.client != nil {
			return
		}
		if p.awsCfg == nil {
			cfg, err := config.LoadDefaultConfig(context.Background())
			if err != nil {
				p.loadErr = err
				return
			}
			p.awsCfg = &cfg
		}
		p.client = bedrockruntime.NewFromConfig(*p.awsCfg)
	})
	if p.loadErr != nil {
		return nil, p.loadErr
	}
	if p.client == nil {
		return nil, errors.New("bedrock client is not initialized")
	}
	return p.client, nil
}

func (p *ModelProvider) SetClient(client BedrockClient) {
	p.once.Do(func() {
		p.client = client
	})
}

func (p *ModelProvider) GetModel(ctx context.Context, modelID string) (model.Model, error) {
	if modelID == "" {
		return nil, errors.New("model ID cannot be empty")
	}
	client, err := p.GetClient()
	if err != nil {
		return nil, err
	}
	return &Model{
		modelID: modelID,
		client:  client,
	}, nil
}

type Model struct {
	modelID string
	client  BedrockClient
}

// omittedHistory stands in for user turns removed from the history.
const omittedHistory = "(earlier conversation omitted)"

func (m *Model) ID() string {
	return m.modelID
}

// Generate calls the Converse API. The stream flag is not used; Converse
// always returns the complete message.
func (m *Model) Generate(ctx context.Context, req *model.GenerateRequest) (*model.GenerateResponse, error) {
	input := &bedrockruntime.ConverseInput{
		ModelId: aws.String(m.modelID),
	}

	var system []string
	var messages []types.Message
	for _, msg := range req.Messages {
		if msg.Kind == conversation.KindSystem {
			system = append(system, msg.Content)
			continue
		}
		for _, converted := range convertMessage(msg) {
			messages = appendMerged(messages, converted)
		}
	}
	// Converse requires the first message to come from the user. Compaction may
	// have dropped the opening user turn.
	if len(messages) > 0 && messages[0].Role != types.ConversationRoleUser {
		messages = append([]types.Message{{
			Role:    types.ConversationRoleUser,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: omittedHistory}},
		}}, messages...)
	}
	for _, s := range system {
		input.System = append(input.System, &types.SystemContentBlockMemberText{Value: s})
	}
	input.Messages = messages

	if req.Temperature != nil || req.TopP != nil {
		var inferenceConfig types.InferenceConfiguration
		if req.Temperature != nil {
			inferenceConfig.Temperature = aws.Float32(float32(*req.Temperature))
		}
		if req.TopP != nil {
			inferenceConfig.TopP = aws.Float32(float32(*req.TopP))
		}
		input.InferenceConfig = &inferenceConfig
	}

	var optFns []func(*bedrockruntime.Options)
	if req.BaseURL != "" {
		optFns = append(optFns, func(o *bedrockruntime.Options) {
			o.BaseEndpoint = aws.String(req.BaseURL)
		})
	}

	if bs, err := json.Marshal(input); err == nil {
		slog.DebugContext(ctx, "Bedrock Converse Input", "input", string(bs))
	}
	output, err := m.client.Converse(ctx, input, optFns...)
	if err != nil {
		return nil, fmt.Errorf("bedrock converse failed: %w", err)
	}
	return m.convertResponse(output), nil
}

// convertMessage converts a conversation message into Bedrock messages. Tool
// exchanges are rendered as plain text so no tool configuration is needed.
func convertMessage(msg conversation.Message) []types.Message {
	text := func(role types.ConversationRole, s string) types.Message {
		return types.Message{
			Role:    role,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: s}},
		}
	}
	switch msg.Kind {
	case conversation.KindUser:
		return []types.Message{text(types.ConversationRoleUser, msg.Content)}
	case conversation.KindAssistant:
		return []types.Message{text(types.ConversationRoleAssistant, msg.Content)}
	case conversation.KindToolCall:
		return []types.Message{
			text(types.ConversationRoleAssistant, "Tool call: "+msg.Call),
			text(types.ConversationRoleUser, "Tool result: "+msg.Content),
		}
	case conversation.KindStatus:
		return []types.Message{text(types.ConversationRoleUser, fmt.Sprintf("Status (%s): %s", msg.Call, msg.Content))}
	}
	return nil
}

// appendMerged appends msg, folding it into the previous message when the
// roles match because Converse requires alternating roles.
func appendMerged(messages []types.Message, msg types.Message) []types.Message {
	if n := len(messages); n > 0 && messages[n-1].Role == msg.Role {
		messages[n-1].Content = append(messages[n-1].Content, msg.Content...)
		return messages
	}
	return append(messages, msg)
}

// convertResponse converts Bedrock response to model.GenerateResponse
func (m *Model) convertResponse(output *bedrockruntime.ConverseOutput) *model.GenerateResponse {
	response := &model.GenerateResponse{
		RawResponse: output,
	}

	if output.Usage != nil {
		response.Usage = &model.Usage{
			InputTokens:  model.Ptr(int(aws.ToInt32(output.Usage.InputTokens))),
			OutputTokens: model.Ptr(int(aws.ToInt32(output.Usage.OutputTokens))),
			TotalTokens:  model.Ptr(int(aws.ToInt32(output.Usage.TotalTokens))),
			ModelID:      m.modelID,
		}
	}

	msgOutput, ok := output.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return response
	}
	var texts []string
	for _, content := range msgOutput.Value.Content {
		switch block := content.(type) {
		case *types.ContentBlockMemberText:
			texts = append(texts, block.Value)
		case *types.ContentBlockMemberToolUse:
			args := "{}"
			if block.Value.Input != nil {
				inputBytes, err := block.Value.Input.MarshalSmithyDocument()
				if err != nil {
					slog.Warn("failed to marshal smithy document", "error", err, "tool_use_id", aws.ToString(block.Value.ToolUseId))
					continue
				}
				args = string(inputBytes)
			}
			response.ToolCalls = append(response.ToolCalls, model.ToolCall{
				Name:      aws.ToString(block.Value.Name),
				Arguments: args,
			})
		}
	}
	response.Text = strings.Join(texts, "")
	return response
}
