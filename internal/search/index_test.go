package search

import (
	"testing"

	"github.com/calder/tutorpipe/internal/storage"
)

func openTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { idx.Close() })
	return idx
}

func indexedTutorial(id, title string, topics, tools []string) storage.Tutorial {
	return storage.Tutorial{
		ID:             id,
		Title:          title,
		Summary:        "summary of " + title,
		Topics:         topics,
		ToolsMentioned: tools,
		Difficulty:     "intermediate",
	}
}

func TestSearchByTitle(t *testing.T) {
	idx := openTestIndex(t)

	if err := idx.IndexTutorial(indexedTutorial("t1", "Prompt Chaining Basics", []string{"prompting"}, nil)); err != nil {
		t.Fatalf("IndexTutorial: %v", err)
	}
	if err := idx.IndexTutorial(indexedTutorial("t2", "Vector Database Setup", []string{"rag"}, nil)); err != nil {
		t.Fatalf("IndexTutorial: %v", err)
	}

	results, err := idx.Search("chaining", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].ID != "t1" {
		t.Errorf("Search(chaining) = %v, want one hit t1", results)
	}
}

func TestCandidatesByTopicAndTool(t *testing.T) {
	idx := openTestIndex(t)

	fixtures := []storage.Tutorial{
		indexedTutorial("t1", "Agents 101", []string{"agents", "prompting"}, []string{"claude"}),
		indexedTutorial("t2", "RAG Pipeline", []string{"rag", "embeddings"}, []string{"ollama"}),
		indexedTutorial("t3", "Fine-tuning Guide", []string{"fine-tuning"}, []string{"pytorch"}),
	}
	for _, f := range fixtures {
		if err := idx.IndexTutorial(f); err != nil {
			t.Fatalf("IndexTutorial(%s): %v", f.ID, err)
		}
	}

	results, err := idx.Candidates([]string{"agents"}, []string{"claude"}, 10)
	if err != nil {
		t.Fatalf("Candidates: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("Candidates returned no hits, want t1")
	}
	if results[0].ID != "t1" {
		t.Errorf("best candidate = %s, want t1", results[0].ID)
	}
	for _, r := range results {
		if r.ID == "t3" {
			t.Error("t3 matched with no shared topics or tools")
		}
	}
}

func TestCandidatesEmptySignal(t *testing.T) {
	idx := openTestIndex(t)
	results, err := idx.Candidates(nil, nil, 10)
	if err != nil {
		t.Fatalf("Candidates: %v", err)
	}
	if results != nil {
		t.Errorf("Candidates(nil, nil) = %v, want nil", results)
	}
}

func TestDeleteAndCount(t *testing.T) {
	idx := openTestIndex(t)

	if err := idx.IndexTutorial(indexedTutorial("t1", "A", []string{"x"}, nil)); err != nil {
		t.Fatalf("IndexTutorial: %v", err)
	}
	n, err := idx.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Errorf("Count = %d, want 1", n)
	}

	if err := idx.Delete("t1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	n, _ = idx.Count()
	if n != 0 {
		t.Errorf("Count after delete = %d, want 0", n)
	}
}
