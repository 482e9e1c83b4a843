package extract

import (
	"context"
	"strings"
)

// LinkedInExtractor scrapes public post pages. LinkedIn renders post text
// into the page for logged-out crawlers; when that text is missing the post
// is not publicly readable and extraction fails.
type LinkedInExtractor struct {
	fetcher *Fetcher
}

func NewLinkedInExtractor(f *Fetcher) *LinkedInExtractor {
	return &LinkedInExtractor{fetcher: f}
}

func (l *LinkedInExtractor) Extract(ctx context.Context, postURL string) (*Content, error) {
	doc, err := l.fetcher.Document(ctx, postURL)
	if err != nil {
		return nil, err
	}

	content := &Content{
		Title:    articleTitle(doc),
		Author:   metaContent(doc, `meta[name="author"]`),
		Metadata: map[string]string{"site": "linkedin.com"},
	}

	// Public post pages carry the body in attributed-text segments; the
	// og:description holds a truncated copy as a fallback.
	text := collectText(doc.Find(".attributed-text-segment-list__content").First())
	if text == "" {
		text = metaContent(doc, `meta[property="og:description"]`)
	}
	content.RawText = strings.TrimSpace(text)

	if content.RawText == "" {
		return nil, extractionErr(postURL, "no extractable text", nil)
	}
	if content.Author == "" {
		// "Name on LinkedIn: ..." og:title prefix.
		if i := strings.Index(content.Title, " on LinkedIn"); i > 0 {
			content.Author = content.Title[:i]
		}
	}
	return content, nil
}
