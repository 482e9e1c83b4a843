package extract

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/calder/tutorpipe/internal/source"
)

func TestFetcherStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	f := NewFetcher(srv.Client())
	_, err := f.Get(context.Background(), srv.URL+"/missing")
	if err == nil {
		t.Fatal("Get on 404 succeeded, want error")
	}
	var exErr *ExtractionError
	if !errors.As(err, &exErr) {
		t.Fatalf("error type = %T, want *ExtractionError", err)
	}
}

func TestFetcherUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close() // nothing listening anymore

	f := NewFetcher(nil)
	_, err := f.Get(context.Background(), url)
	var exErr *ExtractionError
	if !errors.As(err, &exErr) {
		t.Fatalf("error = %v, want *ExtractionError", err)
	}
}

func TestRegistryUnsupportedType(t *testing.T) {
	r := &Registry{strategies: map[source.Type]Extractor{}}
	_, err := r.Extract(context.Background(), "https://example.com", source.TypeArticle)
	if err == nil {
		t.Fatal("Extract with empty registry succeeded, want error")
	}
}

type stubExtractor struct {
	content *Content
	err     error
}

func (s *stubExtractor) Extract(ctx context.Context, url string) (*Content, error) {
	return s.content, s.err
}

func TestRegistryRejectsEmptyText(t *testing.T) {
	r := &Registry{strategies: map[source.Type]Extractor{}}
	r.Register(source.TypeArticle, &stubExtractor{content: &Content{Title: "t"}})

	_, err := r.Extract(context.Background(), "https://example.com", source.TypeArticle)
	var exErr *ExtractionError
	if !errors.As(err, &exErr) {
		t.Fatalf("error = %v, want *ExtractionError for empty text", err)
	}
}

func TestRegistryDispatch(t *testing.T) {
	r := &Registry{strategies: map[source.Type]Extractor{}}
	r.Register(source.TypeTweet, &stubExtractor{content: &Content{Title: "t", RawText: "body"}})

	got, err := r.Extract(context.Background(), "https://x.com/a/status/1", source.TypeTweet)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got.RawText != "body" {
		t.Errorf("RawText = %q, want %q", got.RawText, "body")
	}
}
