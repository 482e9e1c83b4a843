package merge

import (
	"errors"
	"testing"
	"time"

	"github.com/calder/tutorpipe/internal/generate"
	"github.com/calder/tutorpipe/internal/search"
	"github.com/calder/tutorpipe/internal/storage"
)

type mockStore struct {
	tutorials map[string]storage.Tutorial
	slugs     map[string]bool
	mergeErrs []error
	merges    int
}

func newMockStore() *mockStore {
	return &mockStore{tutorials: map[string]storage.Tutorial{}, slugs: map[string]bool{}}
}

func (m *mockStore) GetTutorial(id string) (storage.Tutorial, error) {
	t, ok := m.tutorials[id]
	if !ok {
		return storage.Tutorial{}, storage.ErrNotFound
	}
	return t, nil
}

func (m *mockStore) CreateTutorial(t storage.Tutorial) error {
	m.tutorials[t.ID] = t
	m.slugs[t.Slug] = true
	return nil
}

func (m *mockStore) UpdateTutorialMerge(t storage.Tutorial, expectedUpdatedAt time.Time, expectedSourceCount int) error {
	m.merges++
	if len(m.mergeErrs) > 0 {
		err := m.mergeErrs[0]
		m.mergeErrs = m.mergeErrs[1:]
		if err != nil {
			return err
		}
	}
	m.tutorials[t.ID] = t
	return nil
}

func (m *mockStore) SlugExists(slug string) (bool, error) {
	return m.slugs[slug], nil
}

type mockIndex struct {
	results []search.Result
	indexed []string
}

func (m *mockIndex) Candidates(topics, tools []string, limit int) ([]search.Result, error) {
	return m.results, nil
}

func (m *mockIndex) IndexTutorial(t storage.Tutorial) error {
	m.indexed = append(m.indexed, t.ID)
	return nil
}

func draftFixture() *generate.Draft {
	return &generate.Draft{
		Title:          "Prompt Caching in Production",
		Summary:        "How to cut latency with prompt caching.",
		Body:           "Long form body.",
		MaturityLevel:  2,
		LevelRelation:  "extends",
		Topics:         []string{"prompt-caching", "latency"},
		Tags:           []string{"llm"},
		ToolsMentioned: []string{"vllm"},
		Difficulty:     "intermediate",
		SourceURL:      "https://example.com/caching",
	}
}

func tutorialFixture(id string) storage.Tutorial {
	return storage.Tutorial{
		ID:             id,
		Slug:           "caching-basics",
		Title:          "Caching Basics",
		Topics:         []string{"prompt-caching", "latency"},
		ToolsMentioned: []string{"vllm"},
		Difficulty:     "beginner",
		MaturityLevel:  1,
		SourceURLs:     []string{"https://example.com/original"},
		SourceCount:    1,
		IsPublished:    true,
		UpdatedAt:      time.Now().UTC().Truncate(time.Second),
	}
}

func TestResolveMergesAboveThreshold(t *testing.T) {
	store := newMockStore()
	existing := tutorialFixture("t1")
	store.tutorials["t1"] = existing
	index := &mockIndex{results: []search.Result{{ID: "t1"}}}

	engine := NewEngine(store, index, 0)
	action, target, err := engine.Resolve(draftFixture())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	// two topic matches (2 each) plus one tool match (1) = 5
	if action != ActionMerge {
		t.Fatalf("action = %q, want %q", action, ActionMerge)
	}
	if target.ID != "t1" {
		t.Errorf("target = %q, want t1", target.ID)
	}
}

func TestResolveCreatesBelowThreshold(t *testing.T) {
	store := newMockStore()
	existing := tutorialFixture("t1")
	existing.Topics = []string{"unrelated"}
	existing.ToolsMentioned = []string{"vllm"}
	store.tutorials["t1"] = existing
	index := &mockIndex{results: []search.Result{{ID: "t1"}}}

	engine := NewEngine(store, index, 0)
	action, _, err := engine.Resolve(draftFixture())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	// single tool match scores 1, below the threshold of 3
	if action != ActionCreate {
		t.Fatalf("action = %q, want %q", action, ActionCreate)
	}
}

func TestResolvePicksHighestScoringCandidate(t *testing.T) {
	store := newMockStore()
	weak := tutorialFixture("weak")
	weak.Topics = []string{"prompt-caching"}
	weak.ToolsMentioned = nil
	strong := tutorialFixture("strong")
	store.tutorials["weak"] = weak
	store.tutorials["strong"] = strong
	index := &mockIndex{results: []search.Result{{ID: "weak"}, {ID: "strong"}}}

	engine := NewEngine(store, index, 0)
	action, target, err := engine.Resolve(draftFixture())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if action != ActionMerge || target.ID != "strong" {
		t.Fatalf("got (%q, %q), want merge into strong", action, target.ID)
	}
}

func TestResolveSkipsStaleIndexEntries(t *testing.T) {
	store := newMockStore()
	index := &mockIndex{results: []search.Result{{ID: "ghost"}}}

	engine := NewEngine(store, index, 0)
	action, _, err := engine.Resolve(draftFixture())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if action != ActionCreate {
		t.Fatalf("action = %q, want %q", action, ActionCreate)
	}
}

func TestApplyCreate(t *testing.T) {
	store := newMockStore()
	index := &mockIndex{}
	engine := NewEngine(store, index, 0)

	created, merged, err := engine.Apply(draftFixture())
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if merged {
		t.Fatal("merged = true, want create")
	}
	if created.Slug != "prompt-caching-in-production" {
		t.Errorf("slug = %q", created.Slug)
	}
	if created.SourceCount != 1 || len(created.SourceURLs) != 1 {
		t.Errorf("source bookkeeping = (%d, %v)", created.SourceCount, created.SourceURLs)
	}
	if !created.IsPublished {
		t.Error("new tutorial should be published")
	}
	if len(index.indexed) != 1 || index.indexed[0] != created.ID {
		t.Errorf("indexed = %v, want [%s]", index.indexed, created.ID)
	}
}

func TestApplyCreateUniquifiesSlug(t *testing.T) {
	store := newMockStore()
	store.slugs["prompt-caching-in-production"] = true
	engine := NewEngine(store, &mockIndex{}, 0)

	created, _, err := engine.Apply(draftFixture())
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if created.Slug != "prompt-caching-in-production-2" {
		t.Errorf("slug = %q, want suffixed variant", created.Slug)
	}
}

func TestApplyMerge(t *testing.T) {
	store := newMockStore()
	existing := tutorialFixture("t1")
	existing.Body = "original body"
	store.tutorials["t1"] = existing
	index := &mockIndex{results: []search.Result{{ID: "t1"}}}
	engine := NewEngine(store, index, 0)

	merged, wasMerge, err := engine.Apply(draftFixture())
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if !wasMerge {
		t.Fatal("wasMerge = false, want merge")
	}
	if merged.SourceCount != 2 || len(merged.SourceURLs) != 2 {
		t.Errorf("source bookkeeping = (%d, %v)", merged.SourceCount, merged.SourceURLs)
	}
	if merged.Body != "original body" {
		t.Error("merge must not rewrite the existing body")
	}
	if merged.MaturityLevel != 2 {
		t.Errorf("maturity = %d, want upgraded to 2", merged.MaturityLevel)
	}
	if merged.Difficulty != "intermediate" {
		t.Errorf("difficulty = %q, want upgraded", merged.Difficulty)
	}
}

func TestApplyMergeNeverRegresses(t *testing.T) {
	store := newMockStore()
	existing := tutorialFixture("t1")
	existing.MaturityLevel = 4
	existing.Difficulty = "advanced"
	store.tutorials["t1"] = existing
	index := &mockIndex{results: []search.Result{{ID: "t1"}}}
	engine := NewEngine(store, index, 0)

	merged, _, err := engine.Apply(draftFixture())
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if merged.MaturityLevel != 4 {
		t.Errorf("maturity = %d, regressed from 4", merged.MaturityLevel)
	}
	if merged.Difficulty != "advanced" {
		t.Errorf("difficulty = %q, regressed from advanced", merged.Difficulty)
	}
}

func TestApplyMergeIdempotentOnKnownSource(t *testing.T) {
	store := newMockStore()
	existing := tutorialFixture("t1")
	existing.SourceURLs = []string{"https://example.com/caching"}
	store.tutorials["t1"] = existing
	index := &mockIndex{results: []search.Result{{ID: "t1"}}}
	engine := NewEngine(store, index, 0)

	merged, _, err := engine.Apply(draftFixture())
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if merged.SourceCount != 1 || store.merges != 0 {
		t.Errorf("reprocessed source caused a write: count=%d merges=%d", merged.SourceCount, store.merges)
	}
}

func TestApplyMergeRetriesOnConflict(t *testing.T) {
	store := newMockStore()
	existing := tutorialFixture("t1")
	store.tutorials["t1"] = existing
	store.mergeErrs = []error{storage.ErrConflict}
	index := &mockIndex{results: []search.Result{{ID: "t1"}}}
	engine := NewEngine(store, index, 0)

	merged, _, err := engine.Apply(draftFixture())
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if store.merges != 2 {
		t.Errorf("merges = %d, want retry after conflict", store.merges)
	}
	if merged.SourceCount != 2 {
		t.Errorf("source count = %d, want 2", merged.SourceCount)
	}
}

func TestApplyMergeGivesUpAfterRepeatedConflicts(t *testing.T) {
	store := newMockStore()
	existing := tutorialFixture("t1")
	store.tutorials["t1"] = existing
	store.mergeErrs = []error{storage.ErrConflict, storage.ErrConflict, storage.ErrConflict}
	index := &mockIndex{results: []search.Result{{ID: "t1"}}}
	engine := NewEngine(store, index, 0)

	_, _, err := engine.Apply(draftFixture())
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict after retries exhausted", err)
	}
}

func TestSlugify(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Prompt Caching in Production", "prompt-caching-in-production"},
		{"  What's New: GPT & Friends!  ", "what-s-new-gpt-friends"},
		{"???", "tutorial"},
	}
	for _, c := range cases {
		if got := slugify(c.in); got != c.want {
			t.Errorf("slugify(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
