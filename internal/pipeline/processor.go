// Package pipeline drives a submission through extraction, generation, and
// the merge decision, persisting the state transition at every step.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/calder/tutorpipe/internal/extract"
	"github.com/calder/tutorpipe/internal/generate"
	"github.com/calder/tutorpipe/internal/source"
	"github.com/calder/tutorpipe/internal/storage"
)

const (
	// DefaultExtractTimeout bounds the fetch-and-extract stage.
	DefaultExtractTimeout = 20 * time.Second
	// DefaultGenerateTimeout bounds the model call.
	DefaultGenerateTimeout = 30 * time.Second
)

// SubmissionStore is the persistence surface the processor needs.
type SubmissionStore interface {
	GetSubmission(id string) (storage.Submission, error)
	SetSubmissionStatus(id, status string) error
	MarkSubmissionFailed(id, errMsg string) error
}

// Generator produces a tutorial draft from extracted content.
type Generator interface {
	Generate(ctx context.Context, content *extract.Content, sourceURL string, opts generate.Options) (*generate.Draft, error)
}

// Merger applies a draft to the tutorial store.
type Merger interface {
	Apply(draft *generate.Draft) (storage.Tutorial, bool, error)
}

// Result reports the outcome of processing one submission.
type Result struct {
	SubmissionID string `json:"submission_id"`
	Success      bool   `json:"success"`
	TutorialID   string `json:"tutorial_id,omitempty"`
	Merged       bool   `json:"merged,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Options tune a single processing run.
type Options struct {
	// HotNews marks the source as a breaking development for generation.
	HotNews bool
}

// Processor owns the per-submission state machine.
type Processor struct {
	store           SubmissionStore
	registry        *extract.Registry
	generator       Generator
	merger          Merger
	extractTimeout  time.Duration
	generateTimeout time.Duration
	logger          *slog.Logger
}

// NewProcessor wires a Processor. Zero timeouts select the defaults.
func NewProcessor(store SubmissionStore, registry *extract.Registry, gen Generator, merger Merger, extractTimeout, generateTimeout time.Duration) *Processor {
	if extractTimeout <= 0 {
		extractTimeout = DefaultExtractTimeout
	}
	if generateTimeout <= 0 {
		generateTimeout = DefaultGenerateTimeout
	}
	return &Processor{
		store:           store,
		registry:        registry,
		generator:       gen,
		merger:          merger,
		extractTimeout:  extractTimeout,
		generateTimeout: generateTimeout,
		logger:          slog.Default(),
	}
}

// Process runs the submission end to end. Each stage transition is persisted
// before the stage runs, so a crash leaves an honest status behind. A failure
// at any stage marks the submission failed with the stage error and counts
// one attempt. Processing an already published submission is a no-op.
func (p *Processor) Process(ctx context.Context, submissionID string, opts Options) Result {
	sub, err := p.store.GetSubmission(submissionID)
	if err != nil {
		return p.failResult(submissionID, fmt.Errorf("loading submission: %w", err))
	}
	if sub.Status == storage.StatusPublished {
		return Result{SubmissionID: submissionID, Success: true}
	}

	if err := p.store.SetSubmissionStatus(submissionID, storage.StatusExtracting); err != nil {
		return p.failResult(submissionID, fmt.Errorf("marking extracting: %w", err))
	}

	content, err := p.extractStage(ctx, sub)
	if err != nil {
		return p.fail(submissionID, err)
	}

	if err := p.store.SetSubmissionStatus(submissionID, storage.StatusProcessing); err != nil {
		return p.failResult(submissionID, fmt.Errorf("marking processing: %w", err))
	}

	draft, err := p.generateStage(ctx, content, sub.URL, opts)
	if err != nil {
		return p.fail(submissionID, err)
	}

	tutorial, merged, err := p.merger.Apply(draft)
	if err != nil {
		return p.fail(submissionID, fmt.Errorf("applying draft: %w", err))
	}

	if err := p.store.SetSubmissionStatus(submissionID, storage.StatusPublished); err != nil {
		return p.failResult(submissionID, fmt.Errorf("marking published: %w", err))
	}

	p.logger.Info("submission processed",
		"submission_id", submissionID,
		"tutorial_id", tutorial.ID,
		"merged", merged)
	return Result{SubmissionID: submissionID, Success: true, TutorialID: tutorial.ID, Merged: merged}
}

func (p *Processor) extractStage(ctx context.Context, sub storage.Submission) (*extract.Content, error) {
	stageCtx, cancel := context.WithTimeout(ctx, clampTimeout(ctx, p.extractTimeout))
	defer cancel()

	srcType := source.Type(sub.SourceType)
	if srcType == "" {
		srcType = source.Detect(sub.URL)
	}
	content, err := p.registry.Extract(stageCtx, sub.URL, srcType)
	if err != nil {
		return nil, fmt.Errorf("extracting %s content: %w", srcType, err)
	}
	return content, nil
}

func (p *Processor) generateStage(ctx context.Context, content *extract.Content, sourceURL string, opts Options) (*generate.Draft, error) {
	stageCtx, cancel := context.WithTimeout(ctx, clampTimeout(ctx, p.generateTimeout))
	defer cancel()

	draft, err := p.generator.Generate(stageCtx, content, sourceURL, generate.Options{HotNews: opts.HotNews})
	if err != nil {
		return nil, fmt.Errorf("generating tutorial: %w", err)
	}
	return draft, nil
}

// clampTimeout shrinks a stage timeout to whatever remains of the parent
// context's deadline.
func clampTimeout(ctx context.Context, timeout time.Duration) time.Duration {
	deadline, ok := ctx.Deadline()
	if !ok {
		return timeout
	}
	if remaining := time.Until(deadline); remaining < timeout {
		return remaining
	}
	return timeout
}

// fail records the failure on the submission and returns the failed result.
func (p *Processor) fail(submissionID string, cause error) Result {
	if err := p.store.MarkSubmissionFailed(submissionID, cause.Error()); err != nil {
		p.logger.Error("recording submission failure",
			"submission_id", submissionID,
			"cause", cause,
			"error", err)
	}
	return p.failResult(submissionID, cause)
}

func (p *Processor) failResult(submissionID string, cause error) Result {
	p.logger.Warn("submission failed", "submission_id", submissionID, "error", cause)
	return Result{SubmissionID: submissionID, Error: cause.Error()}
}
