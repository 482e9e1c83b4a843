// Package search maintains a full-text index over published tutorials. It
// serves both the public search endpoint and the merge engine's candidate
// lookup.
package search

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/calder/tutorpipe/internal/storage"
)

// Index wraps a Bleve search index of tutorials.
type Index struct {
	index bleve.Index
}

// IndexedTutorial is the projection of a tutorial stored in the index.
type IndexedTutorial struct {
	ID             string
	Title          string
	Summary        string
	Topics         []string
	Tags           []string
	ToolsMentioned []string
	Difficulty     string
}

// Result is one search hit.
type Result struct {
	ID    string
	Title string
	Score float64
}

// Open opens or creates a Bleve index under dataDir. Pass ":memory:" for an
// in-memory index (used by tests).
func Open(dataDir string) (*Index, error) {
	if dataDir == ":memory:" {
		idx, err := bleve.NewMemOnly(buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("create in-memory index: %w", err)
		}
		return &Index{index: idx}, nil
	}

	path := filepath.Join(dataDir, "tutorials.bleve")
	idx, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		idx, err = bleve.New(path, buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("create index: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}

	return &Index{index: idx}, nil
}

func buildIndexMapping() mapping.IndexMapping {
	textFieldMapping := bleve.NewTextFieldMapping()

	titleFieldMapping := bleve.NewTextFieldMapping()
	titleFieldMapping.Analyzer = "en"

	// Topics and tools carry the merge signal; keyword analysis keeps the
	// tags whole instead of stemming them apart.
	keywordFieldMapping := bleve.NewTextFieldMapping()
	keywordFieldMapping.Analyzer = "keyword"

	docMapping := bleve.NewDocumentMapping()
	docMapping.AddFieldMappingsAt("ID", bleve.NewTextFieldMapping())
	docMapping.AddFieldMappingsAt("Title", titleFieldMapping)
	docMapping.AddFieldMappingsAt("Summary", textFieldMapping)
	docMapping.AddFieldMappingsAt("Topics", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("Tags", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("ToolsMentioned", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("Difficulty", keywordFieldMapping)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.AddDocumentMapping("_default", docMapping)

	return indexMapping
}

// Close closes the index.
func (i *Index) Close() error {
	return i.index.Close()
}

// IndexTutorial adds or updates a tutorial in the index.
func (i *Index) IndexTutorial(t storage.Tutorial) error {
	return i.index.Index(t.ID, IndexedTutorial{
		ID:             t.ID,
		Title:          t.Title,
		Summary:        t.Summary,
		Topics:         t.Topics,
		Tags:           t.Tags,
		ToolsMentioned: t.ToolsMentioned,
		Difficulty:     t.Difficulty,
	})
}

// Delete removes a tutorial from the index.
func (i *Index) Delete(id string) error {
	return i.index.Delete(id)
}

// Search runs a free-text query over titles, summaries, and tags.
func (i *Index) Search(queryStr string, limit int) ([]Result, error) {
	query := bleve.NewQueryStringQuery(queryStr)
	req := bleve.NewSearchRequestOptions(query, limit, 0, false)
	req.Fields = []string{"Title"}

	return i.run(req)
}

// Candidates returns tutorials sharing any of the given topics or tools,
// best match first. This is the merge engine's pre-selection: scoring and
// thresholding happen on the caller's side.
func (i *Index) Candidates(topics, tools []string, limit int) ([]Result, error) {
	if len(topics) == 0 && len(tools) == 0 {
		return nil, nil
	}

	query := bleve.NewBooleanQuery()
	for _, topic := range topics {
		mq := bleve.NewMatchQuery(strings.ToLower(topic))
		mq.SetField("Topics")
		query.AddShould(mq)
	}
	for _, tool := range tools {
		mq := bleve.NewMatchQuery(strings.ToLower(tool))
		mq.SetField("ToolsMentioned")
		query.AddShould(mq)
	}

	req := bleve.NewSearchRequestOptions(query, limit, 0, false)
	req.Fields = []string{"Title"}

	return i.run(req)
}

func (i *Index) run(req *bleve.SearchRequest) ([]Result, error) {
	res, err := i.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	var results []Result
	for _, hit := range res.Hits {
		r := Result{ID: hit.ID, Score: hit.Score}
		if title, ok := hit.Fields["Title"].(string); ok {
			r.Title = title
		}
		results = append(results, r)
	}
	return results, nil
}

// Rebuild reindexes every published tutorial from the store in one batch.
// Used on startup so the index survives being deleted out-of-band.
func (i *Index) Rebuild(store *storage.Store) error {
	tutorials, err := store.ListTutorials(storage.TutorialFilter{PublishedOnly: true})
	if err != nil {
		return fmt.Errorf("listing tutorials: %w", err)
	}

	batch := i.index.NewBatch()
	for _, t := range tutorials {
		doc := IndexedTutorial{
			ID:             t.ID,
			Title:          t.Title,
			Summary:        t.Summary,
			Topics:         t.Topics,
			Tags:           t.Tags,
			ToolsMentioned: t.ToolsMentioned,
			Difficulty:     t.Difficulty,
		}
		if err := batch.Index(doc.ID, doc); err != nil {
			return fmt.Errorf("batch index %s: %w", t.ID, err)
		}
	}

	if err := i.index.Batch(batch); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// Count returns the number of indexed tutorials.
func (i *Index) Count() (uint64, error) {
	return i.index.DocCount()
}
