package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/calder/tutorpipe/internal/storage"
)

const (
	// DefaultSoftBudget is the wall-clock budget for one retry batch. It sits
	// under typical 60s invocation ceilings so an in-flight submission can
	// finish instead of being killed mid-stage.
	DefaultSoftBudget = 55 * time.Second

	// DefaultRetryBatchSize caps how many failed submissions one batch picks up.
	DefaultRetryBatchSize = 20
)

// RetryStore lists failed submissions that still have attempts left.
type RetryStore interface {
	ListRetryableSubmissions(limit int) ([]storage.Submission, error)
}

// BatchResult summarizes one retry sweep.
type BatchResult struct {
	Attempted int      `json:"attempted"`
	Succeeded int      `json:"succeeded"`
	Deferred  int      `json:"deferred"`
	Results   []Result `json:"results"`
}

// Retrier re-runs failed submissions sequentially, oldest first, until the
// batch is done or the soft budget runs out.
type Retrier struct {
	store      RetryStore
	processor  *Processor
	softBudget time.Duration
	batchSize  int
	logger     *slog.Logger
}

// NewRetrier wires a Retrier. Zero values select the defaults.
func NewRetrier(store RetryStore, processor *Processor, softBudget time.Duration, batchSize int) *Retrier {
	if softBudget <= 0 {
		softBudget = DefaultSoftBudget
	}
	if batchSize <= 0 {
		batchSize = DefaultRetryBatchSize
	}
	return &Retrier{
		store:      store,
		processor:  processor,
		softBudget: softBudget,
		batchSize:  batchSize,
		logger:     slog.Default(),
	}
}

// RetryAll picks up failed submissions with attempts remaining and reprocesses
// them one at a time. The budget is checked before each submission, never
// mid-flight: once a submission starts it runs to completion. Submissions the
// budget pushed out stay failed and are picked up by the next sweep.
func (r *Retrier) RetryAll(ctx context.Context) (BatchResult, error) {
	deadline := time.Now().Add(r.softBudget)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	subs, err := r.store.ListRetryableSubmissions(r.batchSize)
	if err != nil {
		return BatchResult{}, fmt.Errorf("listing retryable submissions: %w", err)
	}

	var batch BatchResult
	for _, sub := range subs {
		if time.Now().After(deadline) || ctx.Err() != nil {
			batch.Deferred = len(subs) - batch.Attempted
			r.logger.Info("retry budget exhausted",
				"attempted", batch.Attempted,
				"deferred", batch.Deferred)
			break
		}

		res := r.processor.Process(ctx, sub.ID, Options{})
		batch.Attempted++
		if res.Success {
			batch.Succeeded++
		}
		batch.Results = append(batch.Results, res)
	}

	r.logger.Info("retry batch finished",
		"attempted", batch.Attempted,
		"succeeded", batch.Succeeded,
		"deferred", batch.Deferred)
	return batch, nil
}
