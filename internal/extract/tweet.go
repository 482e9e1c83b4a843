package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultSyndicationBaseURL = "https://cdn.syndication.twimg.com"

// TweetExtractor reads tweets through the public syndication endpoint, which
// serves tweet JSON without authentication.
type TweetExtractor struct {
	fetcher *Fetcher
	baseURL string
}

func NewTweetExtractor(f *Fetcher) *TweetExtractor {
	return &TweetExtractor{fetcher: f, baseURL: defaultSyndicationBaseURL}
}

// NewTweetExtractorWithBaseURL points the extractor at a custom syndication
// host (for testing).
func NewTweetExtractorWithBaseURL(f *Fetcher, baseURL string) *TweetExtractor {
	return &TweetExtractor{fetcher: f, baseURL: strings.TrimRight(baseURL, "/")}
}

// tweetResponse mirrors the fields we use from the syndication JSON.
type tweetResponse struct {
	Text      string `json:"text"`
	CreatedAt string `json:"created_at"`
	User      struct {
		Name       string `json:"name"`
		ScreenName string `json:"screen_name"`
	} `json:"user"`
	ConversationCount int `json:"conversation_count"`
}

func (t *TweetExtractor) Extract(ctx context.Context, tweetURL string) (*Content, error) {
	id, err := tweetID(tweetURL)
	if err != nil {
		return nil, extractionErr(tweetURL, "no tweet id in url", err)
	}

	body, err := t.fetcher.Get(ctx, fmt.Sprintf("%s/tweet-result?id=%s&lang=en", t.baseURL, id))
	if err != nil {
		return nil, err
	}

	var tw tweetResponse
	if err := json.Unmarshal(body, &tw); err != nil {
		return nil, extractionErr(tweetURL, "decoding syndication response", err)
	}
	if tw.Text == "" {
		return nil, extractionErr(tweetURL, "no extractable text", nil)
	}

	content := &Content{
		Title:   tweetTitle(tw),
		RawText: tw.Text,
		Author:  tw.User.Name,
		Metadata: map[string]string{
			"screen_name": tw.User.ScreenName,
			"tweet_id":    id,
		},
	}
	if tw.ConversationCount > 0 {
		content.Metadata["thread_length"] = strconv.Itoa(tw.ConversationCount)
	}
	if ts, err := time.Parse(time.RFC3339, tw.CreatedAt); err == nil {
		content.PublishedAt = ts
	}
	return content, nil
}

func tweetTitle(tw tweetResponse) string {
	line := tw.Text
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	if tw.User.ScreenName != "" {
		return fmt.Sprintf("@%s: %s", tw.User.ScreenName, line)
	}
	return line
}

// tweetID pulls the numeric status id out of a twitter.com/x.com URL.
func tweetID(tweetURL string) (string, error) {
	u, err := url.Parse(tweetURL)
	if err != nil {
		return "", err
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, seg := range segments {
		if seg == "status" || seg == "statuses" {
			if i+1 < len(segments) && isDigits(segments[i+1]) {
				return segments[i+1], nil
			}
		}
	}
	return "", fmt.Errorf("no status segment in path %q", u.Path)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
