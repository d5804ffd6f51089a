package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/bugbusters/bugbuster/internal/composer"
	"github.com/bugbusters/bugbuster/internal/pipeline"
	"github.com/bugbusters/bugbuster/internal/render"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Pipeline     Pipeline
	Interactions InteractionStore // optional; if nil, the recent resource is not registered
	Sanitizer    render.Sanitizer
	Version      string
}

// NewMCPServer creates an MCP server exposing the defect assistant as tools
// and the active records as a resource.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	if deps.Sanitizer == nil {
		deps.Sanitizer = render.NewPolicy()
	}
	if deps.Version == "" {
		deps.Version = "dev"
	}
	s := server.NewMCPServer(
		"bugbuster",
		deps.Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("bugbuster answers questions about known defects and incidents: root causes, solutions, owners and error logs."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask_defects",
			mcp.WithDescription("Ask a question about known defects. Mention an id such as SCRUM-15 to look one up."),
			mcp.WithString("query", mcp.Description("The question"), mcp.Required()),
			mcp.WithString("conversation_id", mcp.Description("Conversation to continue; a new one is started when omitted")),
		),
		mcpAskDefects(deps),
	)

	s.AddTool(
		mcp.NewTool("list_defects",
			mcp.WithDescription("List the active defects with owner and status."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of defects (default 50)")),
		),
		mcpListDefects(deps),
	)

	s.AddTool(
		mcp.NewTool("get_defect",
			mcp.WithDescription("Return one active defect record as JSON."),
			mcp.WithString("id", mcp.Description("Defect or incident id"), mcp.Required()),
		),
		mcpGetDefect(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"defects://active",
			"Active Defects",
			mcp.WithResourceDescription("Every record in the active snapshot as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceActive(deps),
	)

	if deps.Interactions != nil {
		s.AddResource(
			mcp.NewResource(
				"defects://recent",
				"Recent Questions",
				mcp.WithResourceDescription("Last 10 answered questions"),
				mcp.WithMIMEType("application/json"),
			),
			mcpResourceRecent(deps),
		)
	}

	return s
}

func mcpAskDefects(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil || query == "" {
			return mcpError("query is required"), nil
		}
		convID := req.GetString("conversation_id", "")
		if convID == "" {
			convID = uuid.New().String()
		}

		ans, err := deps.Pipeline.Answer(ctx, convID, query)
		if errors.Is(err, pipeline.ErrNotReady) {
			return mcpError("defect records are not loaded yet"), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("answer failed: %v", err)), nil
		}

		msg := ans.Message
		if ans.ContentType == composer.ContentHTML {
			msg = deps.Sanitizer.Sanitize(msg)
		}
		b, err := json.Marshal(ChatResponse{
			Response:       ChatMessage{Message: msg, ContentType: string(ans.ContentType)},
			ConversationID: convID,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal answer: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpListDefects(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if !deps.Pipeline.Ready() {
			return mcpError("defect records are not loaded yet"), nil
		}
		limit := req.GetInt("limit", 50)
		if limit <= 0 {
			limit = 50
		}

		recs := deps.Pipeline.Records()
		if len(recs) > limit {
			recs = recs[:limit]
		}
		out := make([]defectSummary, len(recs))
		for i, r := range recs {
			out[i] = defectSummary{
				ID:      r.ID,
				Summary: r.SummaryOrDefault(),
				Owner:   r.OwnerOrDefault(),
				Status:  r.StatusOrDefault(),
				URL:     r.URL,
			}
		}

		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal defects: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGetDefect(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}
		rec, ok := deps.Pipeline.Record(id)
		if !ok {
			return mcpError(fmt.Sprintf("defect %s not found", id)), nil
		}
		b, err := json.Marshal(rec)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal defect: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceActive(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		if !deps.Pipeline.Ready() {
			return nil, pipeline.ErrNotReady
		}
		b, err := json.Marshal(deps.Pipeline.Records())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal defects: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		interactions, err := deps.Interactions.GetRecentInteractions("", 10)
		if err != nil {
			return nil, fmt.Errorf("failed to get recent interactions: %w", err)
		}

		type interactionSummary struct {
			ID        string `json:"id"`
			CreatedAt string `json:"created_at"`
			Query     string `json:"query"`
			State     string `json:"state"`
		}

		summaries := make([]interactionSummary, len(interactions))
		for i, ix := range interactions {
			query := ix.UserQuery
			if utf8.RuneCountInString(query) > 200 {
				runes := []rune(query)
				query = string(runes[:200]) + "..."
			}
			summaries[i] = interactionSummary{
				ID:        ix.ID,
				CreatedAt: ix.CreatedAt.Format(time.RFC3339),
				Query:     query,
				State:     ix.State,
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal interactions: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
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
