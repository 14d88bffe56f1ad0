package scan

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ContentSource yields the manifest document a session scans. A live source
// (headless browser) returns a fresh snapshot per call; a static source
// returns the same document every time, so annotations survive re-scans.
type ContentSource interface {
	Document(ctx context.Context) (*goquery.Document, error)
}

// StaticSource serves a document parsed once from caller-supplied HTML.
type StaticSource struct {
	doc *goquery.Document
}

func NewStaticSource(html string) (*StaticSource, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse manifest HTML: %w", err)
	}
	return &StaticSource{doc: doc}, nil
}

func (s *StaticSource) Document(ctx context.Context) (*goquery.Document, error) {
	return s.doc, nil
}
