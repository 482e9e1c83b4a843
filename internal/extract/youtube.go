package extract

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/errgroup"
)

const (
	defaultWatchBaseURL     = "https://www.youtube.com"
	defaultTimedTextBaseURL = "https://video.google.com"
)

// YouTubeExtractor pulls the watch-page metadata and the caption transcript.
// A video without a retrievable transcript fails extraction: there is nothing
// to generate a tutorial from.
type YouTubeExtractor struct {
	fetcher       *Fetcher
	watchBaseURL  string
	timedTextBase string
}

func NewYouTubeExtractor(f *Fetcher) *YouTubeExtractor {
	return &YouTubeExtractor{
		fetcher:       f,
		watchBaseURL:  defaultWatchBaseURL,
		timedTextBase: defaultTimedTextBaseURL,
	}
}

// NewYouTubeExtractorWithBaseURLs points the extractor at custom hosts (for testing).
func NewYouTubeExtractorWithBaseURLs(f *Fetcher, watchBase, timedTextBase string) *YouTubeExtractor {
	return &YouTubeExtractor{
		fetcher:       f,
		watchBaseURL:  strings.TrimRight(watchBase, "/"),
		timedTextBase: strings.TrimRight(timedTextBase, "/"),
	}
}

// transcript mirrors the timedtext XML payload.
type transcript struct {
	XMLName xml.Name `xml:"transcript"`
	Lines   []struct {
		Text string `xml:",chardata"`
	} `xml:"text"`
}

func (y *YouTubeExtractor) Extract(ctx context.Context, videoURL string) (*Content, error) {
	id, err := videoID(videoURL)
	if err != nil {
		return nil, extractionErr(videoURL, "no video id in url", err)
	}

	var (
		doc        *goquery.Document
		transcript string
	)

	// The watch page and the transcript are independent fetches; do both at once.
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		doc, err = y.fetcher.Document(gCtx, fmt.Sprintf("%s/watch?v=%s", y.watchBaseURL, id))
		return err
	})
	g.Go(func() error {
		var err error
		transcript, err = y.fetchTranscript(gCtx, id)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if transcript == "" {
		return nil, extractionErr(videoURL, "no transcript available", nil)
	}

	content := &Content{
		Title:   articleTitle(doc),
		RawText: transcript,
		Author:  youtubeAuthor(doc),
		Metadata: map[string]string{
			"video_id": id,
		},
	}
	if views := metaItemprop(doc, "interactionCount"); views != "" {
		content.Metadata["view_count"] = views
	}
	return content, nil
}

func (y *YouTubeExtractor) fetchTranscript(ctx context.Context, id string) (string, error) {
	body, err := y.fetcher.Get(ctx, fmt.Sprintf("%s/timedtext?lang=en&v=%s", y.timedTextBase, id))
	if err != nil {
		return "", err
	}

	var tr transcript
	if err := xml.Unmarshal(body, &tr); err != nil {
		return "", extractionErr(id, "decoding transcript", err)
	}

	var parts []string
	for _, line := range tr.Lines {
		if text := strings.TrimSpace(squeezeSpace(line.Text)); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}

func youtubeAuthor(doc *goquery.Document) string {
	if v, ok := doc.Find(`span[itemprop="author"] link[itemprop="name"]`).First().Attr("content"); ok {
		return strings.TrimSpace(v)
	}
	return metaContent(doc, `meta[name="author"]`)
}

func metaItemprop(doc *goquery.Document, name string) string {
	if v, ok := doc.Find(fmt.Sprintf(`meta[itemprop=%q]`, name)).First().Attr("content"); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// videoID extracts the video id from watch, short-link, shorts, and embed URLs.
func videoID(videoURL string) (string, error) {
	u, err := url.Parse(videoURL)
	if err != nil {
		return "", err
	}

	if v := u.Query().Get("v"); v != "" {
		return v, nil
	}

	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	if host == "youtu.be" && len(segments) > 0 && segments[0] != "" {
		return segments[0], nil
	}
	for i, seg := range segments {
		if (seg == "shorts" || seg == "embed") && i+1 < len(segments) {
			return segments[i+1], nil
		}
	}
	return "", fmt.Errorf("no video id in %q", videoURL)
}
