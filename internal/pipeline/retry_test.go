package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/calder/tutorpipe/internal/extract"
	"github.com/calder/tutorpipe/internal/generate"
	"github.com/calder/tutorpipe/internal/storage"
)

type mockRetryStore struct {
	*mockSubmissionStore
	retryable []storage.Submission
}

func (m *mockRetryStore) ListRetryableSubmissions(limit int) ([]storage.Submission, error) {
	if len(m.retryable) > limit {
		return m.retryable[:limit], nil
	}
	return m.retryable, nil
}

func failedSubmission(id, url string) storage.Submission {
	return storage.Submission{
		ID:         id,
		URL:        url,
		SourceType: "article",
		Status:     storage.StatusFailed,
		Attempts:   1,
		MaxAttempts: storage.DefaultMaxAttempts,
	}
}

func TestRetryAllProcessesOldestFirst(t *testing.T) {
	srv := articleServer(t)
	s1 := failedSubmission("s1", srv.URL+"/a")
	s2 := failedSubmission("s2", srv.URL+"/b")
	store := &mockRetryStore{
		mockSubmissionStore: newMockSubmissionStore(s1, s2),
		retryable:           []storage.Submission{s1, s2},
	}
	registry := extract.NewRegistry(extract.NewFetcher(srv.Client()))
	p := NewProcessor(store, registry, okGenerator(), okMerger("t1", false), 0, 0)
	r := NewRetrier(store, p, 0, 0)

	batch, err := r.RetryAll(context.Background())
	if err != nil {
		t.Fatalf("RetryAll() error = %v", err)
	}
	if batch.Attempted != 2 || batch.Succeeded != 2 || batch.Deferred != 0 {
		t.Fatalf("batch = %+v", batch)
	}
	if batch.Results[0].SubmissionID != "s1" || batch.Results[1].SubmissionID != "s2" {
		t.Errorf("order = %v, want listing order preserved", batch.Results)
	}
}

func TestRetryAllStopsAtSoftBudget(t *testing.T) {
	srv := articleServer(t)
	s1 := failedSubmission("s1", srv.URL+"/a")
	s2 := failedSubmission("s2", srv.URL+"/b")
	store := &mockRetryStore{
		mockSubmissionStore: newMockSubmissionStore(s1, s2),
		retryable:           []storage.Submission{s1, s2},
	}
	registry := extract.NewRegistry(extract.NewFetcher(srv.Client()))
	slow := &mockGenerator{generateFn: func(ctx context.Context, content *extract.Content, sourceURL string, opts generate.Options) (*generate.Draft, error) {
		time.Sleep(60 * time.Millisecond)
		return &generate.Draft{Title: "Slow", SourceURL: sourceURL}, nil
	}}
	p := NewProcessor(store, registry, slow, okMerger("t1", false), 0, 0)
	r := NewRetrier(store, p, 50*time.Millisecond, 0)

	batch, err := r.RetryAll(context.Background())
	if err != nil {
		t.Fatalf("RetryAll() error = %v", err)
	}
	// The first submission starts inside the budget and runs to completion;
	// the second is deferred to the next sweep.
	if batch.Attempted != 1 || batch.Deferred != 1 {
		t.Fatalf("batch = %+v, want one attempted and one deferred", batch)
	}
}

func TestRetryAllRespectsBatchSize(t *testing.T) {
	srv := articleServer(t)
	var subs []storage.Submission
	for _, id := range []string{"s1", "s2", "s3"} {
		subs = append(subs, failedSubmission(id, srv.URL+"/"+id))
	}
	store := &mockRetryStore{
		mockSubmissionStore: newMockSubmissionStore(subs...),
		retryable:           subs,
	}
	registry := extract.NewRegistry(extract.NewFetcher(srv.Client()))
	p := NewProcessor(store, registry, okGenerator(), okMerger("t1", false), 0, 0)
	r := NewRetrier(store, p, 0, 2)

	batch, err := r.RetryAll(context.Background())
	if err != nil {
		t.Fatalf("RetryAll() error = %v", err)
	}
	if batch.Attempted != 2 {
		t.Fatalf("attempted = %d, want batch size cap of 2", batch.Attempted)
	}
}

func TestRetryAllEmptyQueue(t *testing.T) {
	store := &mockRetryStore{mockSubmissionStore: newMockSubmissionStore()}
	registry := extract.NewRegistry(extract.NewFetcher(nil))
	p := NewProcessor(store, registry, okGenerator(), okMerger("t1", false), 0, 0)
	r := NewRetrier(store, p, 0, 0)

	batch, err := r.RetryAll(context.Background())
	if err != nil {
		t.Fatalf("RetryAll() error = %v", err)
	}
	if batch.Attempted != 0 || len(batch.Results) != 0 {
		t.Errorf("batch = %+v, want empty", batch)
	}
}
