package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

const defaultOEmbedBaseURL = "https://www.tiktok.com"

// TikTokExtractor reads video captions through TikTok's public oEmbed
// endpoint. The caption is the only text a video exposes without scraping,
// so an empty caption means extraction fails.
type TikTokExtractor struct {
	fetcher *Fetcher
	baseURL string
}

func NewTikTokExtractor(f *Fetcher) *TikTokExtractor {
	return &TikTokExtractor{fetcher: f, baseURL: defaultOEmbedBaseURL}
}

// NewTikTokExtractorWithBaseURL points the extractor at a custom oEmbed host
// (for testing).
func NewTikTokExtractorWithBaseURL(f *Fetcher, baseURL string) *TikTokExtractor {
	return &TikTokExtractor{fetcher: f, baseURL: strings.TrimRight(baseURL, "/")}
}

// oembedResponse mirrors the fields we use from the oEmbed JSON.
type oembedResponse struct {
	Title        string `json:"title"`
	AuthorName   string `json:"author_name"`
	AuthorURL    string `json:"author_url"`
	ThumbnailURL string `json:"thumbnail_url"`
}

func (t *TikTokExtractor) Extract(ctx context.Context, videoURL string) (*Content, error) {
	body, err := t.fetcher.Get(ctx, fmt.Sprintf("%s/oembed?url=%s", t.baseURL, url.QueryEscape(videoURL)))
	if err != nil {
		return nil, err
	}

	var oe oembedResponse
	if err := json.Unmarshal(body, &oe); err != nil {
		return nil, extractionErr(videoURL, "decoding oembed response", err)
	}
	if oe.Title == "" {
		return nil, extractionErr(videoURL, "no extractable text", nil)
	}

	content := &Content{
		Title:    oe.Title,
		RawText:  oe.Title,
		Author:   oe.AuthorName,
		Metadata: map[string]string{},
	}
	if oe.AuthorURL != "" {
		content.Metadata["author_url"] = oe.AuthorURL
	}
	if oe.ThumbnailURL != "" {
		content.Metadata["thumbnail_url"] = oe.ThumbnailURL
	}
	return content, nil
}
