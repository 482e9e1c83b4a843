// Package merge decides whether a tutorial draft becomes a new tutorial or
// folds into an existing one, and performs the write either way.
package merge

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/calder/tutorpipe/internal/generate"
	"github.com/calder/tutorpipe/internal/search"
	"github.com/calder/tutorpipe/internal/storage"
)

// Action is the outcome of a merge decision.
type Action string

const (
	ActionCreate Action = "create"
	ActionMerge  Action = "merge"
)

const (
	topicWeight      = 2
	toolWeight       = 1
	defaultThreshold = 3
	candidateLimit   = 10
	conflictRetries  = 3
	maxSlugAttempts  = 50
)

// TutorialStore is the persistence surface the engine needs.
type TutorialStore interface {
	GetTutorial(id string) (storage.Tutorial, error)
	CreateTutorial(t storage.Tutorial) error
	UpdateTutorialMerge(t storage.Tutorial, expectedUpdatedAt time.Time, expectedSourceCount int) error
	SlugExists(slug string) (bool, error)
}

// CandidateIndex abstracts the tutorial search index.
type CandidateIndex interface {
	Candidates(topics, tools []string, limit int) ([]search.Result, error)
	IndexTutorial(t storage.Tutorial) error
}

// Engine resolves drafts against the store of existing tutorials.
type Engine struct {
	store     TutorialStore
	index     CandidateIndex
	threshold int
	logger    *slog.Logger
}

// NewEngine creates an Engine. threshold <= 0 selects the default overlap
// threshold.
func NewEngine(store TutorialStore, index CandidateIndex, threshold int) *Engine {
	if threshold <= 0 {
		threshold = defaultThreshold
	}
	return &Engine{store: store, index: index, threshold: threshold, logger: slog.Default()}
}

// Resolve decides create-vs-merge for the draft. On merge the returned
// tutorial is the target as currently stored.
func (e *Engine) Resolve(draft *generate.Draft) (Action, storage.Tutorial, error) {
	candidates, err := e.index.Candidates(draft.Topics, draft.ToolsMentioned, candidateLimit)
	if err != nil {
		return "", storage.Tutorial{}, fmt.Errorf("finding merge candidates: %w", err)
	}

	var (
		best      storage.Tutorial
		bestScore int
	)
	for _, c := range candidates {
		t, err := e.store.GetTutorial(c.ID)
		if errors.Is(err, storage.ErrNotFound) {
			// Index can lag the store; skip ghosts.
			continue
		}
		if err != nil {
			return "", storage.Tutorial{}, fmt.Errorf("loading candidate %s: %w", c.ID, err)
		}
		if score := overlapScore(draft, t); score > bestScore {
			best, bestScore = t, score
		}
	}

	if bestScore >= e.threshold {
		e.logger.Debug("merge candidate selected", "tutorial_id", best.ID, "score", bestScore)
		return ActionMerge, best, nil
	}
	return ActionCreate, storage.Tutorial{}, nil
}

// overlapScore weighs shared topics and tools. Strictly more overlap always
// yields a strictly higher score, so merge likelihood is monotonic in overlap.
func overlapScore(draft *generate.Draft, t storage.Tutorial) int {
	return topicWeight*intersectionSize(draft.Topics, t.Topics) +
		toolWeight*intersectionSize(draft.ToolsMentioned, t.ToolsMentioned)
}

func intersectionSize(a, b []string) int {
	set := make(map[string]struct{}, len(a))
	for _, v := range a {
		set[strings.ToLower(v)] = struct{}{}
	}
	n := 0
	for _, v := range b {
		if _, ok := set[strings.ToLower(v)]; ok {
			n++
		}
	}
	return n
}

// Apply resolves the draft and performs the corresponding write. It returns
// the resulting tutorial and whether the draft was merged into an existing one.
func (e *Engine) Apply(draft *generate.Draft) (storage.Tutorial, bool, error) {
	action, target, err := e.Resolve(draft)
	if err != nil {
		return storage.Tutorial{}, false, err
	}

	if action == ActionCreate {
		t, err := e.create(draft)
		return t, false, err
	}

	t, err := e.mergeInto(target, draft)
	return t, true, err
}

func (e *Engine) create(draft *generate.Draft) (storage.Tutorial, error) {
	slug, err := e.uniqueSlug(draft.Title)
	if err != nil {
		return storage.Tutorial{}, err
	}

	now := time.Now().UTC()
	t := storage.Tutorial{
		ID:             uuid.New().String(),
		Slug:           slug,
		Title:          draft.Title,
		Summary:        draft.Summary,
		Body:           draft.Body,
		ActionItems:    draft.ActionItems,
		MaturityLevel:  draft.MaturityLevel,
		LevelRelation:  draft.LevelRelation,
		Topics:         draft.Topics,
		Tags:           draft.Tags,
		ToolsMentioned: draft.ToolsMentioned,
		Difficulty:     draft.Difficulty,
		SourceURLs:     []string{draft.SourceURL},
		SourceCount:    1,
		IsPublished:    true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.store.CreateTutorial(t); err != nil {
		return storage.Tutorial{}, fmt.Errorf("creating tutorial: %w", err)
	}
	if err := e.index.IndexTutorial(t); err != nil {
		e.logger.Warn("indexing new tutorial failed", "tutorial_id", t.ID, "error", err)
	}
	return t, nil
}

// mergeInto appends the draft's source to the target, never regressing the
// target's classification. Conflicting concurrent merges are retried against
// a fresh read.
func (e *Engine) mergeInto(target storage.Tutorial, draft *generate.Draft) (storage.Tutorial, error) {
	for attempt := 0; attempt < conflictRetries; attempt++ {
		if containsString(target.SourceURLs, draft.SourceURL) {
			// Reprocessed submission: the source is already recorded.
			return target, nil
		}

		updated := target
		updated.SourceURLs = append(append([]string(nil), target.SourceURLs...), draft.SourceURL)
		updated.SourceCount = len(updated.SourceURLs)
		updated.Topics = unionStrings(target.Topics, draft.Topics)
		updated.Tags = unionStrings(target.Tags, draft.Tags)
		updated.ToolsMentioned = unionStrings(target.ToolsMentioned, draft.ToolsMentioned)
		if draft.MaturityLevel > updated.MaturityLevel {
			updated.MaturityLevel = draft.MaturityLevel
		}
		if difficultyRank(draft.Difficulty) > difficultyRank(updated.Difficulty) {
			updated.Difficulty = draft.Difficulty
		}

		err := e.store.UpdateTutorialMerge(updated, target.UpdatedAt, target.SourceCount)
		if err == nil {
			if err := e.index.IndexTutorial(updated); err != nil {
				e.logger.Warn("reindexing merged tutorial failed", "tutorial_id", updated.ID, "error", err)
			}
			return updated, nil
		}
		if !errors.Is(err, storage.ErrConflict) {
			return storage.Tutorial{}, fmt.Errorf("merging into tutorial %s: %w", target.ID, err)
		}

		// Lost the race; reload and try again.
		target, err = e.store.GetTutorial(target.ID)
		if err != nil {
			return storage.Tutorial{}, fmt.Errorf("reloading merge target: %w", err)
		}
	}
	return storage.Tutorial{}, fmt.Errorf("merging into tutorial %s: %w after %d attempts", target.ID, storage.ErrConflict, conflictRetries)
}

func difficultyRank(d string) int {
	switch d {
	case "beginner":
		return 0
	case "intermediate":
		return 1
	case "advanced":
		return 2
	default:
		return -1
	}
}

func containsString(haystack []string, needle string) bool {
	for _, v := range haystack {
		if v == needle {
			return true
		}
	}
	return false
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, v := range append(append([]string(nil), a...), b...) {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// uniqueSlug derives a URL-safe slug from the title, suffixing a counter on
// collision.
func (e *Engine) uniqueSlug(title string) (string, error) {
	base := slugify(title)
	slug := base
	for i := 2; i <= maxSlugAttempts; i++ {
		exists, err := e.store.SlugExists(slug)
		if err != nil {
			return "", fmt.Errorf("checking slug %q: %w", slug, err)
		}
		if !exists {
			return slug, nil
		}
		slug = fmt.Sprintf("%s-%d", base, i)
	}
	// Practically unreachable; fall back to an unambiguous suffix.
	return fmt.Sprintf("%s-%s", base, uuid.New().String()[:8]), nil
}

func slugify(title string) string {
	var sb strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			sb.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				sb.WriteByte('-')
				lastDash = true
			}
		}
	}
	slug := strings.Trim(sb.String(), "-")
	if slug == "" {
		slug = "tutorial"
	}
	return slug
}
