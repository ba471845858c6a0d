package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/techne/internal/ranking"
	"github.com/kalambet/techne/internal/router"
)

const recentHistorySize = 10

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Router  *router.Router
	Version string
}

// NewMCPServer creates an MCP server with the techne tools and resources
// registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"techne",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("techne ranks discussion tags by the user's interests and searches recent discussions."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("rank_tags",
			mcp.WithDescription("Order a story's tags by the user's recent tag and search history."),
			mcp.WithArray("tags", mcp.Description("Tag texts"), mcp.Required()),
			mcp.WithArray("types", mcp.Description("Tag types, index-aligned with tags"), mcp.Required()),
			mcp.WithArray("anchors", mcp.Description("Tag anchors, index-aligned with tags"), mcp.Required()),
		),
		mcpRankTags(deps),
	)

	s.AddTool(
		mcp.NewTool("detect_intent",
			mcp.WithDescription("Decide whether a chat message asks to search discussions and extract the query."),
			mcp.WithString("message", mcp.Description("The user's message"), mcp.Required()),
		),
		mcpDetectIntent(deps),
	)

	s.AddTool(
		mcp.NewTool("search_discussions",
			mcp.WithDescription("Search recent discussions whose tags match a query."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
		),
		mcpSearchDiscussions(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"history://recent",
			"Recent History",
			mcp.WithResourceDescription("Last 10 recorded tags and searches"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	return s
}

func mcpRankTags(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		c := ranking.Candidates{
			Tags:    req.GetStringSlice("tags", nil),
			Types:   req.GetStringSlice("types", nil),
			Anchors: req.GetStringSlice("anchors", nil),
		}
		if c.Len() == 0 {
			return mcpError("tags is required"), nil
		}

		ranked, err := deps.Router.RankTags(ctx, c)
		if err != nil {
			return mcpError(fmt.Sprintf("ranking failed: %v", err)), nil
		}
		return mcpJSON(ranked)
	}
}

func mcpDetectIntent(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		message, err := req.RequireString("message")
		if err != nil {
			return mcpError("message is required"), nil
		}

		res, err := deps.Router.DetectIntent(ctx, message, nil)
		if err != nil {
			return mcpError(fmt.Sprintf("intent detection failed: %v", err)), nil
		}
		return mcpJSON(res)
	}
}

func mcpSearchDiscussions(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		res := deps.Router.Search(ctx, query, nil)
		if res.Error != "" {
			return mcpError(res.Error), nil
		}
		return mcpJSON(res)
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		tags, searches, err := deps.Router.RecentHistory(ctx, recentHistorySize)
		if err != nil {
			return nil, fmt.Errorf("failed to get recent history: %w", err)
		}

		type entry struct {
			Text      string `json:"text"`
			Type      string `json:"type,omitempty"`
			Anchor    string `json:"anchor,omitempty"`
			Timestamp string `json:"timestamp"`
		}
		out := struct {
			Tags     []entry `json:"tags"`
			Searches []entry `json:"searches"`
		}{
			Tags:     make([]entry, len(tags)),
			Searches: make([]entry, len(searches)),
		}
		for i, t := range tags {
			out.Tags[i] = entry{Text: t.Tag, Type: t.Type, Anchor: t.Anchor, Timestamp: t.Timestamp.Format(time.RFC3339)}
		}
		for i, s := range searches {
			out.Searches[i] = entry{Text: truncateRunes(s.Query, 200), Timestamp: s.Timestamp.Format(time.RFC3339)}
		}

		b, err := json.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal history: %w", err)
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

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
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
