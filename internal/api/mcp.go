package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/calder/tutorpipe/internal/pipeline"
	"github.com/calder/tutorpipe/internal/search"
	"github.com/calder/tutorpipe/internal/source"
	"github.com/calder/tutorpipe/internal/storage"
)

// MCPDeps holds dependencies for the MCP server. It reuses the HTTP layer's
// processor and retrier abstractions.
type MCPDeps struct {
	Store     *storage.Store
	Index     *search.Index
	Processor SubmissionProcessor
	Retrier   RetryRunner
}

// NewMCPServer creates an MCP server with all tutorpipe tools and resources
// registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"tutorpipe",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("tutorpipe — turn submitted links into tutorials and search the published library."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("search_tutorials",
			mcp.WithDescription("Full-text search over published tutorials."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
		),
		mcpSearchTutorials(deps),
	)

	s.AddTool(
		mcp.NewTool("get_tutorial",
			mcp.WithDescription("Fetch a full tutorial by its slug."),
			mcp.WithString("slug", mcp.Description("Tutorial slug"), mcp.Required()),
		),
		mcpGetTutorial(deps),
	)

	s.AddTool(
		mcp.NewTool("submit_link",
			mcp.WithDescription("Submit a link for tutorial extraction and wait for the outcome."),
			mcp.WithString("url", mcp.Description("Link to process"), mcp.Required()),
			mcp.WithString("message", mcp.Description("Optional note accompanying the link")),
			mcp.WithBoolean("hot_news", mcp.Description("Treat the source as a breaking development")),
		),
		mcpSubmitLink(deps),
	)

	s.AddTool(
		mcp.NewTool("retry_failed",
			mcp.WithDescription("Re-run failed submissions that still have attempts left."),
		),
		mcpRetryFailed(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"tutorials://recent",
			"Recent Tutorials",
			mcp.WithResourceDescription("Ten most recently updated published tutorials (summaries only)"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	return s
}

func mcpSearchTutorials(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", 5)
		if limit <= 0 {
			limit = 5
		}
		if limit > 50 {
			limit = 50
		}

		results, err := deps.Index.Search(query, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if len(results) == 0 {
			return mcpText("[]"), nil
		}

		type hit struct {
			Slug    string  `json:"slug"`
			Title   string  `json:"title"`
			Summary string  `json:"summary"`
			Score   float64 `json:"score"`
		}
		hits := make([]hit, 0, len(results))
		for _, res := range results {
			t, err := deps.Store.GetTutorial(res.ID)
			if err != nil {
				continue
			}
			hits = append(hits, hit{Slug: t.Slug, Title: t.Title, Summary: t.Summary, Score: res.Score})
		}

		b, err := json.Marshal(hits)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGetTutorial(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		slug, err := req.RequireString("slug")
		if err != nil {
			return mcpError("slug is required"), nil
		}

		t, err := deps.Store.GetTutorialBySlug(slug)
		if err != nil {
			return mcpError(fmt.Sprintf("tutorial %q not found", slug)), nil
		}

		b, err := json.Marshal(t)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal tutorial: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSubmitLink(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		rawURL, err := req.RequireString("url")
		if err != nil {
			return mcpError("url is required"), nil
		}
		parsed, err := url.Parse(rawURL)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			return mcpError("url must be absolute http(s)"), nil
		}

		sub := storage.Submission{
			ID:         uuid.New().String(),
			RawMessage: req.GetString("message", ""),
			URL:        rawURL,
			SourceType: string(source.Detect(rawURL)),
			Status:     storage.StatusReceived,
		}
		if err := deps.Store.CreateSubmission(sub); err != nil {
			return mcpError(fmt.Sprintf("failed to save submission: %v", err)), nil
		}

		// Unlike the HTTP surface, the MCP caller waits for the outcome.
		res := deps.Processor.Process(ctx, sub.ID, pipeline.Options{HotNews: req.GetBool("hot_news", false)})

		b, err := json.Marshal(res)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		if !res.Success {
			return mcpError(string(b)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpRetryFailed(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		batch, err := deps.Retrier.RetryAll(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("retry sweep failed: %v", err)), nil
		}

		b, err := json.Marshal(batch)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal batch result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		tutorials, err := deps.Store.ListTutorials(storage.TutorialFilter{PublishedOnly: true, Limit: 10})
		if err != nil {
			return nil, fmt.Errorf("failed to list tutorials: %w", err)
		}

		type tutorialSummary struct {
			Slug      string `json:"slug"`
			Title     string `json:"title"`
			Summary   string `json:"summary"`
			UpdatedAt string `json:"updated_at"`
		}
		summaries := make([]tutorialSummary, len(tutorials))
		for i, t := range tutorials {
			summaries[i] = tutorialSummary{
				Slug:      t.Slug,
				Title:     t.Title,
				Summary:   t.Summary,
				UpdatedAt: t.UpdatedAt.Format(time.RFC3339),
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal tutorials: %w", err)
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
