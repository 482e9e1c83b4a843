// Package source classifies submission URLs into extraction source types.
package source

import (
	"net/url"
	"strings"
)

// Type tags a submission URL with its extraction strategy.
type Type string

const (
	TypeTikTok   Type = "tiktok"
	TypeArticle  Type = "article"
	TypeTweet    Type = "tweet"
	TypeYouTube  Type = "youtube"
	TypePDF      Type = "pdf"
	TypeLinkedIn Type = "linkedin"
)

// All lists every known source type.
func All() []Type {
	return []Type{TypeTikTok, TypeArticle, TypeTweet, TypeYouTube, TypePDF, TypeLinkedIn}
}

// Detect maps a URL to its source type. It is total: unparsable URLs and
// unrecognized domains fall back to TypeArticle. No network access.
func Detect(rawURL string) Type {
	u, err := url.Parse(rawURL)
	if err != nil {
		return TypeArticle
	}

	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")
	path := strings.ToLower(u.Path)

	if strings.HasSuffix(path, ".pdf") {
		return TypePDF
	}

	switch {
	case host == "tiktok.com" || strings.HasSuffix(host, ".tiktok.com"):
		return TypeTikTok
	case host == "twitter.com" || host == "x.com" || host == "t.co" ||
		strings.HasSuffix(host, ".twitter.com"):
		return TypeTweet
	case host == "youtube.com" || host == "youtu.be" ||
		strings.HasSuffix(host, ".youtube.com"):
		return TypeYouTube
	case host == "linkedin.com" || strings.HasSuffix(host, ".linkedin.com") ||
		host == "lnkd.in":
		return TypeLinkedIn
	default:
		return TypeArticle
	}
}
