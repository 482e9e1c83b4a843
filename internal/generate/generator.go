// Package generate classifies extracted content and writes the tutorial
// draft through an external generation service.
package generate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/calder/tutorpipe/internal/extract"
	"github.com/calder/tutorpipe/internal/llm"
)

// Chatter is the interface for chat completion with structured output.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []llm.Message, jsonSchema *llm.Schema) (string, error)
}

// Draft is a candidate tutorial produced from one piece of extracted content.
// It has no identity yet; the merge engine decides whether it becomes a new
// tutorial or folds into an existing one.
type Draft struct {
	Title          string   `json:"title"`
	Summary        string   `json:"summary"`
	Body           string   `json:"body"`
	ActionItems    []string `json:"action_items"`
	MaturityLevel  int      `json:"maturity_level"`
	LevelRelation  string   `json:"level_relation"`
	Topics         []string `json:"topics"`
	Tags           []string `json:"tags"`
	ToolsMentioned []string `json:"tools_mentioned"`
	Difficulty     string   `json:"difficulty"`
	SourceURL      string   `json:"-"`
}

// GenerationError marks a failed generation: service error, malformed model
// output, or output failing schema validation. A draft is never partially
// applied.
type GenerationError struct {
	Reason string
	Err    error
}

func (e *GenerationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("generating tutorial: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("generating tutorial: %s", e.Reason)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// Options tweak a single generation run.
type Options struct {
	HotNews bool
}

// Generator turns extracted content into validated tutorial drafts.
type Generator struct {
	client Chatter
	model  string
}

// NewGenerator creates a Generator using the given chat client and model name.
func NewGenerator(client Chatter, model string) *Generator {
	return &Generator{client: client, model: model}
}

// Generate produces a validated Draft for the given content. Any failure is
// returned as a *GenerationError; the draft is only returned when the full
// output passed validation.
func (g *Generator) Generate(ctx context.Context, content *extract.Content, sourceURL string, opts Options) (*Draft, error) {
	messages := BuildPrompt(content, opts.HotNews)

	raw, err := g.client.Chat(ctx, g.model, messages, draftSchema())
	if err != nil {
		return nil, &GenerationError{Reason: "generation service", Err: err}
	}

	var draft Draft
	if err := json.Unmarshal([]byte(raw), &draft); err != nil {
		return nil, &GenerationError{Reason: "malformed model output", Err: err}
	}

	draft.SourceURL = sourceURL
	normalize(&draft)

	if err := validate(&draft); err != nil {
		return nil, &GenerationError{Reason: "schema validation", Err: err}
	}
	return &draft, nil
}

// normalize lowercases and dedups the tag-like fields so overlap scoring in
// the merge engine compares like with like.
func normalize(d *Draft) {
	d.Topics = normalizeTags(d.Topics)
	d.Tags = normalizeTags(d.Tags)
	d.ToolsMentioned = normalizeTags(d.ToolsMentioned)
	d.LevelRelation = strings.ToLower(strings.TrimSpace(d.LevelRelation))
	d.Difficulty = strings.ToLower(strings.TrimSpace(d.Difficulty))
}

func normalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

var (
	validRelations    = map[string]bool{"level-up": true, "level-practice": true, "cross-level": true}
	validDifficulties = map[string]bool{"beginner": true, "intermediate": true, "advanced": true}
)

func validate(d *Draft) error {
	switch {
	case strings.TrimSpace(d.Title) == "":
		return fmt.Errorf("missing title")
	case strings.TrimSpace(d.Summary) == "":
		return fmt.Errorf("missing summary")
	case strings.TrimSpace(d.Body) == "":
		return fmt.Errorf("missing body")
	case len(d.Topics) == 0:
		return fmt.Errorf("missing topics")
	}
	if d.MaturityLevel < 0 || d.MaturityLevel > 4 {
		return fmt.Errorf("maturity_level %d outside 0-4", d.MaturityLevel)
	}
	if !validRelations[d.LevelRelation] {
		return fmt.Errorf("invalid level_relation %q", d.LevelRelation)
	}
	if !validDifficulties[d.Difficulty] {
		return fmt.Errorf("invalid difficulty %q", d.Difficulty)
	}
	return nil
}
