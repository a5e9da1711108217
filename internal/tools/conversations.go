package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/cfdude/mcp-perplexity-pro/internal/storage"
)

// ListConversationsInput takes no arguments.
type ListConversationsInput struct{}

// ListConversationsOutput lists stored conversation metadata.
type ListConversationsOutput struct {
	Conversations []storage.ConversationInfo `json:"conversations"`
}

// ConversationIDInput identifies a stored conversation.
type ConversationIDInput struct {
	ChatID string `json:"chat_id" jsonschema:"The conversation id"`
}

// ReadConversationOutput is a full stored conversation.
type ReadConversationOutput struct {
	Conversation *storage.Conversation `json:"conversation"`
}

// DeleteConversationOutput confirms a deletion.
type DeleteConversationOutput struct {
	Deleted string `json:"deleted"`
}

func registerConversationTools(srv *mcp.Server, deps Deps) error {
	listSchema, err := schemaFor[ListConversationsInput]("list_conversations")
	if err != nil {
		return err
	}
	idSchema, err := schemaFor[ConversationIDInput]("read_conversation")
	if err != nil {
		return err
	}

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "list_conversations",
		Description: "List stored conversations with metadata, newest first.",
		InputSchema: listSchema,
	}, func(ctx context.Context, req *mcp.CallToolRequest, input ListConversationsInput) (*mcp.CallToolResult, ListConversationsOutput, error) {
		infos, err := deps.Store.ListConversations()
		if err != nil {
			return nil, ListConversationsOutput{}, err
		}
		return nil, ListConversationsOutput{Conversations: infos}, nil
	})

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "read_conversation",
		Description: "Read a stored conversation's full message history.",
		InputSchema: idSchema,
	}, func(ctx context.Context, req *mcp.CallToolRequest, input ConversationIDInput) (*mcp.CallToolResult, ReadConversationOutput, error) {
		conv, err := deps.Store.GetConversation(input.ChatID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, ReadConversationOutput{}, fmt.Errorf("conversation %s not found", input.ChatID)
			}
			return nil, ReadConversationOutput{}, err
		}
		return nil, ReadConversationOutput{Conversation: conv}, nil
	})

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "delete_conversation",
		Description: "Delete a stored conversation.",
		InputSchema: idSchema,
	}, func(ctx context.Context, req *mcp.CallToolRequest, input ConversationIDInput) (*mcp.CallToolResult, DeleteConversationOutput, error) {
		if err := deps.Store.DeleteConversation(input.ChatID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, DeleteConversationOutput{}, fmt.Errorf("conversation %s not found", input.ChatID)
			}
			return nil, DeleteConversationOutput{}, err
		}
		return nil, DeleteConversationOutput{Deleted: input.ChatID}, nil
	})

	return nil
}
