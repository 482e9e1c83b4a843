package extract

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFExtractor fetches a document and pulls its plain text.
type PDFExtractor struct {
	fetcher *Fetcher
}

func NewPDFExtractor(f *Fetcher) *PDFExtractor {
	return &PDFExtractor{fetcher: f}
}

func (p *PDFExtractor) Extract(ctx context.Context, docURL string) (*Content, error) {
	body, err := p.fetcher.Get(ctx, docURL)
	if err != nil {
		return nil, err
	}

	reader, err := pdf.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return nil, extractionErr(docURL, "parsing pdf", err)
	}

	textReader, err := reader.GetPlainText()
	if err != nil {
		return nil, extractionErr(docURL, "reading pdf text", err)
	}
	raw, err := io.ReadAll(textReader)
	if err != nil {
		return nil, extractionErr(docURL, "reading pdf text", err)
	}

	text := strings.TrimSpace(squeezeSpace(string(raw)))
	if text == "" {
		return nil, extractionErr(docURL, "no extractable text", nil)
	}

	return &Content{
		Title:   pdfTitle(docURL),
		RawText: text,
		Metadata: map[string]string{
			"pages": strconv.Itoa(reader.NumPage()),
		},
	}, nil
}

// pdfTitle derives a readable title from the document filename.
func pdfTitle(docURL string) string {
	u, err := url.Parse(docURL)
	if err != nil {
		return docURL
	}
	base := path.Base(u.Path)
	base = strings.TrimSuffix(base, path.Ext(base))
	base = strings.NewReplacer("-", " ", "_", " ").Replace(base)
	return strings.TrimSpace(base)
}
