package tools

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/cfdude/mcp-perplexity-pro/internal/perplexity"
)

// AskInput is the input for the perplexity_ask and perplexity_reason tools.
type AskInput struct {
	Query string `json:"query" jsonschema:"The question to answer using web search"`
	Model string `json:"model,omitempty" jsonschema:"Optional model override (sonar, sonar-pro, sonar-reasoning, sonar-reasoning-pro, sonar-deep-research)"`
}

// AskOutput is the result of a one-shot query.
type AskOutput struct {
	Answer    string   `json:"answer"`
	Model     string   `json:"model"`
	Citations []string `json:"citations,omitempty"`
}

func registerAsk(srv *mcp.Server, deps Deps) error {
	schema, err := schemaFor[AskInput]("perplexity_ask")
	if err != nil {
		return err
	}

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "perplexity_ask",
		Description: "Ask a question answered with live web search. Returns the answer with citations.",
		InputSchema: schema,
	}, makeAskHandler(deps, ""))
	return nil
}

func registerReason(srv *mcp.Server, deps Deps) error {
	schema, err := schemaFor[AskInput]("perplexity_reason")
	if err != nil {
		return err
	}

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "perplexity_reason",
		Description: "Answer a question requiring multi-step reasoning, using a reasoning model with web search.",
		InputSchema: schema,
	}, makeAskHandler(deps, perplexity.ModelSonarReasoning))
	return nil
}

// makeAskHandler builds a one-shot query handler. When fallbackModel is
// non-empty it takes precedence over the configured default.
func makeAskHandler(deps Deps, fallbackModel string) mcp.ToolHandlerFor[AskInput, AskOutput] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input AskInput) (*mcp.CallToolResult, AskOutput, error) {
		model := input.Model
		if model == "" {
			model = fallbackModel
		}
		model = deps.model(model)

		resp, err := deps.Client.CreateChatCompletion(ctx, perplexity.ChatRequest{
			Model: model,
			Messages: []perplexity.Message{
				{Role: "user", Content: input.Query},
			},
		})
		if err != nil {
			return nil, AskOutput{}, err
		}

		return nil, AskOutput{
			Answer:    resp.Content(),
			Model:     resp.Model,
			Citations: resp.Citations,
		}, nil
	}
}
