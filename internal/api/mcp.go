package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates an MCP server exposing mailbox search and question
// answering as tools, plus recent answers as a resource.
func NewMCPServer(deps Deps, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"mailrag",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("mailrag: semantic search and question answering over your recent email."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("search_emails",
			mcp.WithDescription("Search recent emails by meaning. Phrases like \"from alice\" or \"subject budget\" narrow the results."),
			mcp.WithString("query", mcp.Description("Natural-language search query"), mcp.Required()),
			mcp.WithNumber("top_k", mcp.Description(fmt.Sprintf("Maximum number of emails to return (default %d)", deps.topK()))),
		),
		mcpSearchEmails(deps),
	)

	s.AddTool(
		mcp.NewTool("ask_emails",
			mcp.WithDescription("Answer a question using the most relevant recent emails as context."),
			mcp.WithString("question", mcp.Description("The question to answer"), mcp.Required()),
			mcp.WithNumber("top_k", mcp.Description("Number of emails to use as context")),
		),
		mcpAskEmails(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"mail://history",
			"Recent Answers",
			mcp.WithResourceDescription("Last 10 answered questions"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceHistory(deps),
	)

	return s
}

type emailHit struct {
	ID       string  `json:"id"`
	ThreadID string  `json:"threadId"`
	Subject  string  `json:"subject"`
	From     string  `json:"from"`
	To       string  `json:"to,omitempty"`
	Date     string  `json:"date"`
	Snippet  string  `json:"snippet"`
	Distance float32 `json:"distance"`
}

func mcpSearchEmails(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil || query == "" {
			return mcpError("query is required"), nil
		}
		topK := clampTopK(req.GetInt("top_k", deps.topK()), deps.topK())

		results, err := deps.Retriever.Retrieve(ctx, query, topK)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}

		hits := make([]emailHit, len(results))
		for i, r := range results {
			hits[i] = emailHit{
				ID:       r.ID,
				ThreadID: r.ThreadID,
				Subject:  r.Subject,
				From:     r.From,
				To:       r.To,
				Date:     r.Date,
				Snippet:  r.Snippet,
				Distance: r.Distance,
			}
		}

		b, err := json.Marshal(hits)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpAskEmails(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil || question == "" {
			return mcpError("question is required"), nil
		}
		topK := clampTopK(req.GetInt("top_k", 0), 0)

		answer, err := deps.Assistant.Ask(ctx, question, topK)
		if err != nil {
			return mcpError(fmt.Sprintf("ask failed: %v", err)), nil
		}
		return mcpText(answer.Answer), nil
	}
}

func mcpResourceHistory(deps Deps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		entries, err := deps.Assistant.History(ctx, 10)
		if err != nil {
			return nil, fmt.Errorf("failed to get history: %w", err)
		}

		type historySummary struct {
			ID        string `json:"id"`
			Timestamp string `json:"timestamp"`
			Question  string `json:"question"`
			Answer    string `json:"answer"`
		}

		summaries := make([]historySummary, len(entries))
		for i, e := range entries {
			answer := e.Answer
			if utf8.RuneCountInString(answer) > 200 {
				answer = string([]rune(answer)[:200]) + "..."
			}
			summaries[i] = historySummary{
				ID:        e.ID,
				Timestamp: e.Timestamp.Format(time.RFC3339),
				Question:  e.Question,
				Answer:    answer,
			}
		}

		b, err := json.Marshal(summaries)
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

func clampTopK(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	if v > maxTopK {
		return maxTopK
	}
	return v
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
