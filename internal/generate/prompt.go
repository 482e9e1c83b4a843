package generate

import (
	"fmt"
	"strings"

	"github.com/calder/tutorpipe/internal/extract"
	"github.com/calder/tutorpipe/internal/llm"
)

// maxPromptChars bounds the raw text passed to the generation service so a
// long transcript or PDF cannot blow the context window.
const maxPromptChars = 24000

const systemPromptTemplate = `You are a tutorial author for an AI-skills learning hub. You receive raw content extracted from a link (article, tweet, video transcript, PDF, or social post) and produce ONE structured tutorial. Your output must be ONLY a single valid JSON object conforming to the provided schema. No prose, no markdown fences.

Classification rules:
- "maturity_level" is an integer 0-4 on the hub's AI-adoption maturity ladder (0 = curious newcomer, 4 = running AI systems in production).
- "level_relation" is one of: "level-up" (content that moves a reader up a level), "level-practice" (deepens skills at the same level), "cross-level" (useful across levels).
- "difficulty" is one of: "beginner", "intermediate", "advanced".
- "topics" are short lowercase subject tags; "tools_mentioned" names concrete products or libraries referenced by the content.

Writing rules:
- "body" is a self-contained tutorial in plain prose rewritten from the content, not a summary of it.
- "action_items" are concrete steps a reader can take, in order.
- Keep "summary" under three sentences.`

// BuildPrompt constructs the chat messages for tutorial generation. The
// hotNews hint asks the model to frame the content as a current development.
func BuildPrompt(content *extract.Content, hotNews bool) []llm.Message {
	var sb strings.Builder
	sb.WriteString(systemPromptTemplate)
	if hotNews {
		sb.WriteString("\n\nThis content covers a breaking development. Frame the tutorial around what changed and why it matters right now.")
	}

	var user strings.Builder
	if content.Title != "" {
		fmt.Fprintf(&user, "Title: %s\n", content.Title)
	}
	if content.Author != "" {
		fmt.Fprintf(&user, "Author: %s\n", content.Author)
	}
	if !content.PublishedAt.IsZero() {
		fmt.Fprintf(&user, "Published: %s\n", content.PublishedAt.Format("2006-01-02"))
	}
	for k, v := range content.Metadata {
		fmt.Fprintf(&user, "%s: %s\n", k, v)
	}
	user.WriteString("\nContent:\n")
	user.WriteString(truncate(content.RawText, maxPromptChars))

	return []llm.Message{
		{Role: "system", Content: sb.String()},
		{Role: "user", Content: user.String()},
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "\n[content truncated]"
}

// draftSchema returns the JSON schema for structured tutorial output.
func draftSchema() *llm.Schema {
	zero, four := 0, 4
	return &llm.Schema{
		Type: "object",
		Properties: map[string]llm.SchemaProperty{
			"title":           {Type: "string", Description: "Tutorial title"},
			"summary":         {Type: "string", Description: "Short summary, at most three sentences"},
			"body":            {Type: "string", Description: "Full tutorial body in plain prose"},
			"action_items":    {Type: "array", Description: "Ordered concrete steps", Items: &llm.SchemaProperty{Type: "string"}},
			"maturity_level":  {Type: "integer", Description: "Maturity ladder level", Minimum: &zero, Maximum: &four},
			"level_relation":  {Type: "string", Enum: []string{"level-up", "level-practice", "cross-level"}},
			"topics":          {Type: "array", Description: "Lowercase subject tags", Items: &llm.SchemaProperty{Type: "string"}},
			"tags":            {Type: "array", Description: "Free-form tags", Items: &llm.SchemaProperty{Type: "string"}},
			"tools_mentioned": {Type: "array", Description: "Products or libraries referenced", Items: &llm.SchemaProperty{Type: "string"}},
			"difficulty":      {Type: "string", Enum: []string{"beginner", "intermediate", "advanced"}},
		},
		Required: []string{"title", "summary", "body", "maturity_level", "level_relation", "topics", "difficulty"},
	}
}
