package browser

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/playwright-community/playwright-go"
)

// PageSource exposes a live page as parseable documents. Each call to
// Document returns a fresh snapshot of the rendered HTML.
type PageSource struct {
	page   playwright.Page
	logger *slog.Logger

	mu       sync.Mutex
	lastHash uint64
}

func NewPageSource(page playwright.Page, logger *slog.Logger) *PageSource {
	return &PageSource{
		page:   page,
		logger: logger.With("component", "page_source"),
	}
}

// Document snapshots the current page content and parses it
func (s *PageSource) Document(ctx context.Context) (*goquery.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	html, err := s.page.Content()
	if err != nil {
		return nil, fmt.Errorf("failed to get page content: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page content: %w", err)
	}

	return doc, nil
}

// Watch polls the page and invokes onChange whenever its content differs
// from the previous poll. It blocks until the context is cancelled.
func (s *PageSource) Watch(ctx context.Context, interval time.Duration, onChange func(context.Context)) {
	if interval <= 0 {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			changed, err := s.contentChanged()
			if err != nil {
				s.logger.Error("failed to poll page content", "error", err)
				continue
			}
			if changed {
				s.logger.Debug("page content changed")
				onChange(ctx)
			}
		}
	}
}

func (s *PageSource) contentChanged() (bool, error) {
	html, err := s.page.Content()
	if err != nil {
		return false, fmt.Errorf("failed to get page content: %w", err)
	}

	h := fnv.New64a()
	h.Write([]byte(html))
	sum := h.Sum64()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastHash == 0 {
		s.lastHash = sum
		return false, nil
	}
	if sum != s.lastHash {
		s.lastHash = sum
		return true, nil
	}
	return false, nil
}
