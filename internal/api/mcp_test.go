package api

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/calder/tutorpipe/internal/pipeline"
	"github.com/calder/tutorpipe/internal/search"
	"github.com/calder/tutorpipe/internal/storage"
)

func newTestMCPDeps(t *testing.T) MCPDeps {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	index, err := search.Open(":memory:")
	if err != nil {
		t.Fatalf("opening index: %v", err)
	}
	t.Cleanup(func() { index.Close() })

	return MCPDeps{
		Store:     store,
		Index:     index,
		Processor: &mockProcessor{result: pipeline.Result{Success: true, TutorialID: "t1"}},
		Retrier:   &mockRetrier{batch: pipeline.BatchResult{Attempted: 1, Succeeded: 1}},
	}
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

func TestMCPSearchTutorials(t *testing.T) {
	deps := newTestMCPDeps(t)

	tut := publishedTutorial("t1", "agent-loops", "Building Agent Loops")
	if err := deps.Store.CreateTutorial(tut); err != nil {
		t.Fatal(err)
	}
	if err := deps.Index.IndexTutorial(tut); err != nil {
		t.Fatal(err)
	}

	handler := mcpSearchTutorials(deps)
	result, err := handler(context.Background(), makeCallToolRequest("search_tutorials", map[string]interface{}{
		"query": "agent",
	}))
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}
	if !strings.Contains(toolText(t, result), "agent-loops") {
		t.Errorf("result = %s, want hit for agent-loops", toolText(t, result))
	}

	result, err = handler(context.Background(), makeCallToolRequest("search_tutorials", map[string]interface{}{}))
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}
	if !result.IsError {
		t.Error("missing query must be a tool error")
	}
}

func TestMCPGetTutorial(t *testing.T) {
	deps := newTestMCPDeps(t)
	if err := deps.Store.CreateTutorial(publishedTutorial("t1", "agent-loops", "Building Agent Loops")); err != nil {
		t.Fatal(err)
	}

	handler := mcpGetTutorial(deps)
	result, err := handler(context.Background(), makeCallToolRequest("get_tutorial", map[string]interface{}{
		"slug": "agent-loops",
	}))
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}

	result, _ = handler(context.Background(), makeCallToolRequest("get_tutorial", map[string]interface{}{
		"slug": "nope",
	}))
	if !result.IsError {
		t.Error("unknown slug must be a tool error")
	}
}

func TestMCPSubmitLink(t *testing.T) {
	deps := newTestMCPDeps(t)

	handler := mcpSubmitLink(deps)
	result, err := handler(context.Background(), makeCallToolRequest("submit_link", map[string]interface{}{
		"url": "https://example.com/post",
	}))
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}

	var res pipeline.Result
	if err := json.Unmarshal([]byte(toolText(t, result)), &res); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if !res.Success || res.TutorialID != "t1" {
		t.Errorf("result = %+v", res)
	}

	// The submission itself is persisted before processing starts.
	subs, err := deps.Store.ListSubmissionsByStatus("", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(subs) != 1 || subs[0].SourceType != "article" {
		t.Errorf("submissions = %v", subs)
	}

	result, _ = handler(context.Background(), makeCallToolRequest("submit_link", map[string]interface{}{
		"url": "ftp://example.com",
	}))
	if !result.IsError {
		t.Error("non-http url must be a tool error")
	}
}

func TestMCPSubmitLinkFailureIsToolError(t *testing.T) {
	deps := newTestMCPDeps(t)
	deps.Processor = &mockProcessor{result: pipeline.Result{Error: "extraction failed"}}

	handler := mcpSubmitLink(deps)
	result, err := handler(context.Background(), makeCallToolRequest("submit_link", map[string]interface{}{
		"url": "https://example.com/broken",
	}))
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}
	if !result.IsError {
		t.Fatal("failed processing must be a tool error")
	}
	if !strings.Contains(toolText(t, result), "extraction failed") {
		t.Errorf("result = %s, want failure reason", toolText(t, result))
	}
}

func TestMCPRetryFailed(t *testing.T) {
	deps := newTestMCPDeps(t)

	handler := mcpRetryFailed(deps)
	result, err := handler(context.Background(), makeCallToolRequest("retry_failed", nil))
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}

	var batch pipeline.BatchResult
	if err := json.Unmarshal([]byte(toolText(t, result)), &batch); err != nil {
		t.Fatalf("decoding batch: %v", err)
	}
	if batch.Attempted != 1 || batch.Succeeded != 1 {
		t.Errorf("batch = %+v", batch)
	}
}

func TestMCPResourceRecent(t *testing.T) {
	deps := newTestMCPDeps(t)
	if err := deps.Store.CreateTutorial(publishedTutorial("t1", "agent-loops", "Building Agent Loops")); err != nil {
		t.Fatal(err)
	}
	unpublished := publishedTutorial("t2", "draft-guide", "Draft Guide")
	unpublished.IsPublished = false
	if err := deps.Store.CreateTutorial(unpublished); err != nil {
		t.Fatal(err)
	}

	handler := mcpResourceRecent(deps)
	contents, err := handler(context.Background(), makeReadResourceRequest("tutorials://recent"))
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("contents = %d items", len(contents))
	}

	text := contents[0].(mcp.TextResourceContents).Text
	if !strings.Contains(text, "agent-loops") {
		t.Errorf("resource = %s, want published tutorial", text)
	}
	if strings.Contains(text, "draft-guide") {
		t.Errorf("resource = %s, must exclude unpublished tutorials", text)
	}
}
