package tools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/cfdude/mcp-perplexity-pro/internal/perplexity"
	"github.com/cfdude/mcp-perplexity-pro/internal/storage"
)

// ChatInput is the input for the chat_perplexity tool.
type ChatInput struct {
	Message string `json:"message" jsonschema:"The message to send"`
	ChatID  string `json:"chat_id,omitempty" jsonschema:"Conversation to continue; a new conversation is created when omitted"`
	Title   string `json:"title,omitempty" jsonschema:"Optional title for a newly created conversation"`
	Model   string `json:"model,omitempty" jsonschema:"Optional model override for this conversation"`
}

// ChatOutput is the result of a conversational exchange.
type ChatOutput struct {
	ChatID    string   `json:"chat_id"`
	Answer    string   `json:"answer"`
	Model     string   `json:"model"`
	Citations []string `json:"citations,omitempty"`
}

func registerChat(srv *mcp.Server, deps Deps) error {
	schema, err := schemaFor[ChatInput]("chat_perplexity")
	if err != nil {
		return err
	}

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "chat_perplexity",
		Description: "Continue a stored conversation with Perplexity, or start a new one. The full history is replayed on every call.",
		InputSchema: schema,
	}, makeChatHandler(deps))
	return nil
}

func makeChatHandler(deps Deps) mcp.ToolHandlerFor[ChatInput, ChatOutput] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input ChatInput) (*mcp.CallToolResult, ChatOutput, error) {
		conv, err := loadOrCreateConversation(deps, input)
		if err != nil {
			return nil, ChatOutput{}, err
		}

		// Existing conversations keep the model they started with unless
		// the caller overrides it.
		model := conv.Model
		if input.Model != "" {
			model = input.Model
		}

		messages := append(conv.Messages, perplexity.Message{
			Role:    "user",
			Content: input.Message,
		})

		resp, err := deps.Client.CreateChatCompletion(ctx, perplexity.ChatRequest{
			Model:    model,
			Messages: messages,
		})
		if err != nil {
			return nil, ChatOutput{}, err
		}

		conv.Model = model
		conv.Messages = append(messages, perplexity.Message{
			Role:    "assistant",
			Content: resp.Content(),
		})
		conv.UpdatedAt = time.Now().UTC()
		if err := deps.Store.SaveConversation(conv); err != nil {
			return nil, ChatOutput{}, err
		}

		return nil, ChatOutput{
			ChatID:    conv.ID,
			Answer:    resp.Content(),
			Model:     resp.Model,
			Citations: resp.Citations,
		}, nil
	}
}

func loadOrCreateConversation(deps Deps, input ChatInput) (*storage.Conversation, error) {
	if input.ChatID != "" {
		conv, err := deps.Store.GetConversation(input.ChatID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, fmt.Errorf("conversation %s not found", input.ChatID)
			}
			return nil, err
		}
		return conv, nil
	}

	title := input.Title
	if title == "" {
		title = deriveTitle(input.Message)
	}
	return &storage.Conversation{
		ID:        storage.NewConversationID(),
		Title:     title,
		Model:     deps.model(input.Model),
		CreatedAt: time.Now().UTC(),
	}, nil
}
