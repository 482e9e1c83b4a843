package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

var ctx = context.Background()

func TestSubmitRequest(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /submissions": `{"id":"sub-123","status":"received","source_type":"article"}`,
	})

	client := ts.client()
	resp, err := client.post(ctx, "/submissions", map[string]any{
		"url":      "https://example.com/post",
		"hot_news": true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]string
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if result["id"] != "sub-123" || result["source_type"] != "article" {
		t.Errorf("result = %v", result)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	r := ts.requests[0]
	if r.Method != "POST" || r.Path != "/submissions" {
		t.Errorf("request = %s %s", r.Method, r.Path)
	}
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", r.Auth)
	}

	var body map[string]any
	if err := json.Unmarshal([]byte(r.Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["url"] != "https://example.com/post" || body["hot_news"] != true {
		t.Errorf("body = %v", body)
	}
}

func TestSubmitCommand_MissingArgs(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"submit"})
	if err := rootCmd.Execute(); err == nil {
		t.Fatal("expected error for missing url argument")
	}
}

func TestRetryRequest(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /admin/retry": `{"attempted":3,"succeeded":2,"deferred":1,"results":[]}`,
	})

	client := ts.client()
	resp, err := client.post(ctx, "/admin/retry", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var batch struct {
		Attempted int `json:"attempted"`
		Succeeded int `json:"succeeded"`
		Deferred  int `json:"deferred"`
	}
	if err := decodeJSON(resp, &batch); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if batch.Attempted != 3 || batch.Succeeded != 2 || batch.Deferred != 1 {
		t.Errorf("batch = %+v", batch)
	}
}

func TestDetectCommand(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"detect", "https://youtu.be/abc123"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDecodeJSONErrorBody(t *testing.T) {
	ts := newTestServer(t, nil)

	client := ts.client()
	resp, err := client.get(ctx, "/tutorials/missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var v any
	err = decodeJSON(resp, &v)
	if err == nil {
		t.Fatal("expected error from 404 response")
	}
	if !strings.Contains(err.Error(), "404") {
		t.Errorf("error = %q, want status code mentioned", err.Error())
	}
}

func TestColorize(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	if result := colorize(colorGreen, "hello"); strings.Contains(result, "\033") {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", result)
	}

	noColor = false
	if result := colorize(colorGreen, "hello"); !strings.Contains(result, "\033") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}
