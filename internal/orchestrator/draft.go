package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/Malowking/MCP-Monitor/internal/apierror"
	"github.com/Malowking/MCP-Monitor/internal/router"
)

// ToolCall is one drafted invocation proposed by the model.
type ToolCall struct {
	ToolName string         `json:"tool_name"`
	Params   map[string]any `json:"params"`
}

// DraftGenerator asks the model collaborator which of the exposed
// tools to call for a question and with what arguments. The generator
// never executes anything.
type DraftGenerator interface {
	Draft(ctx context.Context, question string, tools []router.Candidate) ([]ToolCall, error)
}

const draftSystemPrompt = "You are a tool-call planner. " +
	"Select the tools needed to answer the user's question and call them " +
	"with concrete arguments. If no tool applies, call nothing."

// OpenAIDraftGenerator drafts tool calls through the chat completions
// API with function-calling enabled.
type OpenAIDraftGenerator struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

func NewOpenAIDraftGenerator(client *openai.Client, model string, logger *zap.Logger) *OpenAIDraftGenerator {
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIDraftGenerator{client: client, model: model, logger: logger}
}

func (g *OpenAIDraftGenerator) Draft(ctx context.Context, question string, tools []router.Candidate) ([]ToolCall, error) {
	if len(tools) == 0 {
		return nil, nil
	}

	defs := make([]openai.Tool, 0, len(tools))
	for _, c := range tools {
		defs = append(defs, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        c.Tool.Name,
				Description: c.Tool.Description,
				Parameters:  c.Tool.Parameters,
			},
		})
	}

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: draftSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: question},
		},
		Tools: defs,
	})
	if err != nil {
		return nil, apierror.Unavailable(err, "draft generation failed")
	}
	if len(resp.Choices) == 0 {
		return nil, nil
	}

	var calls []ToolCall
	for _, tc := range resp.Choices[0].Message.ToolCalls {
		if tc.Type != openai.ToolTypeFunction {
			continue
		}
		var params map[string]any
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &params); err != nil {
				g.logger.Warn("discarding draft with malformed arguments",
					zap.String("tool", tc.Function.Name),
					zap.Error(err),
				)
				continue
			}
		}
		calls = append(calls, ToolCall{ToolName: tc.Function.Name, Params: params})
	}
	return calls, nil
}

// StaticDraftGenerator drafts a fixed call list. Used in tests and in
// deployments where the caller supplies the tool calls directly.
type StaticDraftGenerator struct {
	Calls []ToolCall
	Err   error
}

func (g *StaticDraftGenerator) Draft(_ context.Context, _ string, tools []router.Candidate) ([]ToolCall, error) {
	if g.Err != nil {
		return nil, g.Err
	}
	// Only calls matching an exposed tool survive.
	exposed := make(map[string]bool, len(tools))
	for _, c := range tools {
		exposed[c.Tool.Name] = true
	}
	var out []ToolCall
	for _, call := range g.Calls {
		if exposed[call.ToolName] {
			out = append(out, call)
		}
	}
	return out, nil
}

func renderParams(params map[string]any) string {
	if len(params) == 0 {
		return "{}"
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Sprintf("%v", params)
	}
	return string(raw)
}
