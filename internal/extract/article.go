package extract

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// ArticleExtractor handles generic web pages: the default strategy for any
// URL that doesn't match a more specific source type.
type ArticleExtractor struct {
	fetcher *Fetcher
}

func NewArticleExtractor(f *Fetcher) *ArticleExtractor {
	return &ArticleExtractor{fetcher: f}
}

func (a *ArticleExtractor) Extract(ctx context.Context, pageURL string) (*Content, error) {
	doc, err := a.fetcher.Document(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	content := &Content{
		Title:       articleTitle(doc),
		Author:      metaContent(doc, `meta[name="author"]`, `meta[property="article:author"]`),
		PublishedAt: articlePublishedAt(doc),
		Metadata:    map[string]string{},
	}
	if host := hostOf(pageURL); host != "" {
		content.Metadata["site"] = host
	}
	if desc := metaContent(doc, `meta[property="og:description"]`, `meta[name="description"]`); desc != "" {
		content.Metadata["description"] = desc
	}

	// Strip chrome before collecting text.
	doc.Find("script, style, noscript, nav, header, footer, aside, form").Remove()

	content.RawText = articleBody(doc)
	if content.RawText == "" {
		return nil, extractionErr(pageURL, "no extractable text", nil)
	}
	return content, nil
}

func articleTitle(doc *goquery.Document) string {
	if t := metaContent(doc, `meta[property="og:title"]`, `meta[name="twitter:title"]`); t != "" {
		return t
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}

func articlePublishedAt(doc *goquery.Document) time.Time {
	raw := metaContent(doc, `meta[property="article:published_time"]`, `meta[name="date"]`)
	if raw == "" {
		if v, ok := doc.Find("time[datetime]").First().Attr("datetime"); ok {
			raw = v
		}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	return time.Time{}
}

// articleBody prefers semantic containers and falls back to the whole body.
func articleBody(doc *goquery.Document) string {
	for _, sel := range []string{"article", "main", `div[role="main"]`, "body"} {
		node := doc.Find(sel).First()
		if node.Length() == 0 {
			continue
		}
		if text := collectText(node); text != "" {
			return text
		}
	}
	return ""
}

// collectText walks the selection's nodes and joins block-level text runs,
// skipping whitespace-only fragments.
func collectText(sel *goquery.Selection) string {
	var parts []string
	for _, node := range sel.Nodes {
		walkText(node, &parts)
	}
	return strings.Join(parts, "\n")
}

func walkText(n *html.Node, parts *[]string) {
	if n.Type == html.TextNode {
		if text := strings.TrimSpace(squeezeSpace(n.Data)); text != "" {
			*parts = append(*parts, text)
		}
		return
	}
	if n.Type == html.ElementNode {
		switch n.Data {
		case "script", "style", "noscript", "iframe", "svg":
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkText(c, parts)
	}
}

func squeezeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func metaContent(doc *goquery.Document, selectors ...string) string {
	for _, sel := range selectors {
		if v, ok := doc.Find(sel).First().Attr("content"); ok {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	return ""
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}
