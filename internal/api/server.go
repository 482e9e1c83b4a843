// Package api exposes the submission and tutorial surface over HTTP and MCP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/calder/tutorpipe/internal/pipeline"
	"github.com/calder/tutorpipe/internal/search"
	"github.com/calder/tutorpipe/internal/source"
	"github.com/calder/tutorpipe/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// SubmissionProcessor runs one submission through the pipeline.
type SubmissionProcessor interface {
	Process(ctx context.Context, submissionID string, opts pipeline.Options) pipeline.Result
}

// RetryRunner sweeps failed submissions.
type RetryRunner interface {
	RetryAll(ctx context.Context) (pipeline.BatchResult, error)
}

// AppDeps carries everything the HTTP handlers need.
type AppDeps struct {
	Store     *storage.Store
	Index     *search.Index
	Processor SubmissionProcessor
	Retrier   RetryRunner
	Token     string
	// ProcessTimeout bounds the background run kicked off by a new
	// submission. Zero selects a sensible default.
	ProcessTimeout time.Duration
}

const defaultProcessTimeout = 60 * time.Second

// NewAppHandler builds the full route tree. Admin routes require the bearer
// token; everything else is open.
func NewAppHandler(deps AppDeps) http.Handler {
	if deps.ProcessTimeout <= 0 {
		deps.ProcessTimeout = defaultProcessTimeout
	}

	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	r.Get("/source-type", handleSourceType)

	r.Post("/submissions", handleCreateSubmission(deps))
	r.Post("/submissions/{id}/process", handleProcessSubmission(deps))
	r.Get("/submissions/{id}", handleGetSubmission(deps))
	r.Get("/submissions", handleListSubmissions(deps))

	r.Get("/tutorials", handleListTutorials(deps))
	r.Get("/tutorials/search", handleSearchTutorials(deps))
	r.Get("/tutorials/{slug}", handleGetTutorial(deps))

	r.Group(func(admin chi.Router) {
		admin.Use(BearerAuth(deps.Token))
		admin.Post("/admin/retry", handleRetry(deps))
		admin.Patch("/admin/tutorials/{id}/stale", handleSetStale(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleSourceType(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("url")
	if rawURL == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "url query parameter is required")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"url":         rawURL,
		"source_type": string(source.Detect(rawURL)),
	})
}

// SubmissionRequest is the body of POST /submissions.
type SubmissionRequest struct {
	URL         string `json:"url"`
	Message     string `json:"message"`
	PhoneNumber string `json:"phone_number"`
	HotNews     bool   `json:"hot_news"`
}

func handleCreateSubmission(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req SubmissionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.URL == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "url is required")
			return
		}
		parsed, err := url.Parse(req.URL)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "url must be absolute http(s)")
			return
		}

		sub := storage.Submission{
			ID:          uuid.New().String(),
			PhoneNumber: req.PhoneNumber,
			RawMessage:  req.Message,
			URL:         req.URL,
			SourceType:  string(source.Detect(req.URL)),
			Status:      storage.StatusReceived,
		}
		if err := deps.Store.CreateSubmission(sub); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save submission: %v", err)
			return
		}

		// Kick off processing detached from the request. The caller polls
		// GET /submissions/{id} for the outcome.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), deps.ProcessTimeout)
			defer cancel()
			deps.Processor.Process(ctx, sub.ID, pipeline.Options{HotNews: req.HotNews})
		}()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{
			"id":          sub.ID,
			"status":      sub.Status,
			"source_type": sub.SourceType,
		})
	}
}

func handleProcessSubmission(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, err := deps.Store.GetSubmission(id); errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "submission not found")
			return
		} else if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load submission: %v", err)
			return
		}

		res := deps.Processor.Process(r.Context(), id, pipeline.Options{})

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(res)
	}
}

func handleGetSubmission(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sub, err := deps.Store.GetSubmission(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "submission not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get submission: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(sub)
	}
}

func handleListSubmissions(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := r.URL.Query().Get("status")
		if status != "" && !storage.ValidStatus(status) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown status %q", status)
			return
		}
		limit := parseIntParam(r, "limit", 20, 100)

		subs, err := deps.Store.ListSubmissionsByStatus(status, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list submissions: %v", err)
			return
		}
		if subs == nil {
			subs = []storage.Submission{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(subs)
	}
}

func handleListTutorials(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := storage.TutorialFilter{
			Topic:         r.URL.Query().Get("topic"),
			Difficulty:    r.URL.Query().Get("difficulty"),
			PublishedOnly: true,
			Limit:         parseIntParam(r, "limit", 20, 100),
			Offset:        parseIntParam(r, "offset", 0, 0),
		}

		tutorials, err := deps.Store.ListTutorials(filter)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list tutorials: %v", err)
			return
		}
		if tutorials == nil {
			tutorials = []storage.Tutorial{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(tutorials)
	}
}

func handleGetTutorial(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := deps.Store.GetTutorialBySlug(chi.URLParam(r, "slug"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "tutorial not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get tutorial: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(t)
	}
}

// SearchHit pairs an index match with the stored tutorial.
type SearchHit struct {
	ID      string  `json:"id"`
	Slug    string  `json:"slug"`
	Title   string  `json:"title"`
	Summary string  `json:"summary"`
	Score   float64 `json:"score"`
}

func handleSearchTutorials(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("q")
		if query == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "q query parameter is required")
			return
		}
		limit := parseIntParam(r, "limit", 10, 50)

		results, err := deps.Index.Search(query, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "search failed: %v", err)
			return
		}

		hits := make([]SearchHit, 0, len(results))
		for _, res := range results {
			t, err := deps.Store.GetTutorial(res.ID)
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to load result: %v", err)
				return
			}
			hits = append(hits, SearchHit{
				ID:      t.ID,
				Slug:    t.Slug,
				Title:   t.Title,
				Summary: t.Summary,
				Score:   res.Score,
			})
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(hits)
	}
}

func handleRetry(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		batch, err := deps.Retrier.RetryAll(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "retry sweep failed: %v", err)
			return
		}
		if batch.Results == nil {
			batch.Results = []pipeline.Result{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(batch)
	}
}

// StaleRequest is the body of PATCH /admin/tutorials/{id}/stale.
type StaleRequest struct {
	Stale bool `json:"stale"`
}

func handleSetStale(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req StaleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		id := chi.URLParam(r, "id")
		err := deps.Store.SetTutorialStale(id, req.Stale)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "tutorial not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to update tutorial: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"id": id, "is_stale": req.Stale})
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
