package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/docquer/docquer/internal/pipeline"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Service Service
	// DefaultUser owns conversations created and listed when a tool call
	// names no username.
	DefaultUser string
}

// NewMCPServer creates an MCP server exposing conversations as tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"docquer",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("docquer answers questions about documents, web pages and videos attached to a conversation."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("list_conversations",
			mcp.WithDescription("List a user's conversations, newest first."),
			mcp.WithString("username", mcp.Description("Owner of the conversations (defaults to the configured user)")),
		),
		mcpListConversations(deps),
	)

	s.AddTool(
		mcp.NewTool("create_conversation",
			mcp.WithDescription("Start a new, empty conversation."),
			mcp.WithString("username", mcp.Description("Owner of the conversation (defaults to the configured user)")),
			mcp.WithString("first_message", mcp.Description("Opening message, used to name the conversation")),
			mcp.WithString("title", mcp.Description("Title to use when none can be generated")),
			mcp.WithString("file_name", mcp.Description("Name of the document the conversation is about")),
			mcp.WithString("file_mime", mcp.Description("MIME type of that document")),
		),
		mcpCreateConversation(deps),
	)

	s.AddTool(
		mcp.NewTool("ask",
			mcp.WithDescription("Ask a question in a conversation. Conversations with attached content are answered from it."),
			mcp.WithString("conversation_id", mcp.Description("Conversation to ask in"), mcp.Required()),
			mcp.WithString("query", mcp.Description("The question"), mcp.Required()),
			mcp.WithString("mode", mcp.Description("auto, plain or document (default auto)")),
		),
		mcpAsk(deps),
	)

	s.AddTool(
		mcp.NewTool("add_link",
			mcp.WithDescription("Scrape a web page into a conversation's knowledge."),
			mcp.WithString("conversation_id", mcp.Description("Target conversation"), mcp.Required()),
			mcp.WithString("url", mcp.Description("Page URL"), mcp.Required()),
		),
		mcpAddLink(deps),
	)

	s.AddTool(
		mcp.NewTool("add_video",
			mcp.WithDescription("Add a YouTube video's transcript to a conversation's knowledge."),
			mcp.WithString("conversation_id", mcp.Description("Target conversation"), mcp.Required()),
			mcp.WithString("url", mcp.Description("Video URL or id"), mcp.Required()),
		),
		mcpAddVideo(deps),
	)

	s.AddTool(
		mcp.NewTool("conversation_messages",
			mcp.WithDescription("Return the messages of a conversation in order."),
			mcp.WithString("conversation_id", mcp.Description("Conversation to read"), mcp.Required()),
		),
		mcpConversationMessages(deps),
	)

	return s
}

func (d MCPDeps) username(req mcp.CallToolRequest) string {
	return req.GetString("username", d.DefaultUser)
}

func mcpListConversations(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		convs, err := deps.Service.ListConversations(ctx, deps.username(req))
		if err != nil {
			return mcpError(fmt.Sprintf("listing conversations failed: %v", err)), nil
		}

		type conversationSummary struct {
			ID       string `json:"id"`
			Title    string `json:"title"`
			Subtitle string `json:"subtitle"`
			Messages int    `json:"messages"`
			HasFile  bool   `json:"has_file"`
			Links    int    `json:"links"`
		}
		out := make([]conversationSummary, len(convs))
		for i, c := range convs {
			out[i] = conversationSummary{
				ID:       c.ID,
				Title:    c.Title,
				Subtitle: c.Subtitle,
				Messages: len(c.MessageIDs),
				HasFile:  c.FileName != "",
				Links:    len(c.Links),
			}
		}
		return mcpJSON(out)
	}
}

func mcpCreateConversation(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		c, err := deps.Service.CreateConversation(ctx, pipeline.NewConversation{
			Username:     deps.username(req),
			FirstMessage: req.GetString("first_message", ""),
			Title:        req.GetString("title", ""),
			FileName:     req.GetString("file_name", ""),
			FileMIME:     req.GetString("file_mime", ""),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("creating conversation failed: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Created conversation %s (%s)", c.ID, c.Title)), nil
	}
}

func mcpAsk(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("conversation_id")
		if err != nil {
			return mcpError("conversation_id is required"), nil
		}
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		res, err := deps.Service.Chat(ctx, pipeline.ChatRequest{
			ConversationID: id,
			Query:          query,
			Mode:           req.GetString("mode", pipeline.ModeAuto),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("ask failed: %v", err)), nil
		}
		return mcpText(res.Response), nil
	}
}

func mcpAddLink(deps MCPDeps) server.ToolHandlerFunc {
	return mcpAttach("add_link", deps.Service.AttachLink)
}

func mcpAddVideo(deps MCPDeps) server.ToolHandlerFunc {
	return mcpAttach("add_video", deps.Service.AttachVideo)
}

func mcpAttach(tool string, attach func(ctx context.Context, id, url string) (pipeline.IngestResult, error)) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("conversation_id")
		if err != nil {
			return mcpError("conversation_id is required"), nil
		}
		url, err := req.RequireString("url")
		if err != nil {
			return mcpError("url is required"), nil
		}

		res, err := attach(ctx, id, url)
		if err != nil {
			return mcpError(fmt.Sprintf("%s failed: %v", tool, err)), nil
		}
		name := url
		if res.Link != nil {
			name = res.Link.Name
		}
		return mcpText(fmt.Sprintf("Indexed %d chunks from %s", res.Chunks, name)), nil
	}
}

func mcpConversationMessages(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("conversation_id")
		if err != nil {
			return mcpError("conversation_id is required"), nil
		}
		tr, err := deps.Service.Messages(ctx, id, "")
		if err != nil {
			return mcpError(fmt.Sprintf("reading messages failed: %v", err)), nil
		}
		return mcpJSON(newTranscriptView(tr).Messages)
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
