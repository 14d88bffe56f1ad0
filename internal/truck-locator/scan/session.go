package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Aji945/shopee-taken/internal/annotate"
	"github.com/Aji945/shopee-taken/internal/locator"
	"github.com/Aji945/shopee-taken/internal/manifest"
	"github.com/Aji945/shopee-taken/internal/models"
	"github.com/PuerkitoBio/goquery"
)

// State is the session's position in its lifecycle.
type State string

const (
	StateIdle              State = "idle"
	StateWaitingForContent State = "waiting_for_content"
	StateScanning          State = "scanning"
	StateAnnotated         State = "annotated"
	StateTimedOut          State = "timed_out"
)

var (
	// ErrContentTimeout is returned when the page never produces row-like
	// content within the polling budget. ForceScan stays available afterward.
	ErrContentTimeout = errors.New("page content did not appear before the polling budget ran out")

	// ErrEmptyTable is returned when the store answers with a header but no
	// data rows.
	ErrEmptyTable = errors.New("location table has no data rows")
)

// TableFetcher is the read side of the location store.
type TableFetcher interface {
	FetchTable(ctx context.Context, sheetID string) ([][]string, error)
}

// PassHook observes a completed scan pass: the cumulative summary plus the
// records the pass produced. Used for persistence and event publishing.
type PassHook func(summary models.ScanSummary, records []*models.ProductRecord)

type Config struct {
	SheetID          string
	PollInterval     time.Duration
	MaxPollAttempts  int
	MutationDebounce time.Duration
	StatusFade       time.Duration
}

func (c *Config) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.MaxPollAttempts <= 0 {
		c.MaxPollAttempts = 60
	}
	if c.MutationDebounce <= 0 {
		c.MutationDebounce = 500 * time.Millisecond
	}
	if c.StatusFade <= 0 {
		c.StatusFade = 3 * time.Second
	}
}

// Session drives one page's extract → fetch → match → annotate lifecycle.
// Everything runs on the caller's goroutine except debounced mutation
// re-scans; the mutex keeps those from interleaving with explicit triggers.
//
// The location table is fetched once per explicit Load and reused across
// mutation-triggered re-scans; a pass never mixes rows from two fetches.
//
// Annotated rows are tracked by identity as well as by the badge marker, so
// a source that serves a fresh snapshot per call cannot recount rows it
// already annotated in an earlier pass.
type Session struct {
	cfg       Config
	source    ContentSource
	store     TableFetcher
	extractor *manifest.Extractor
	annotator *annotate.Annotator
	logger    *slog.Logger
	onPass    PassHook

	mu            sync.Mutex
	state         State
	doc           *goquery.Document
	table         *locator.Table
	tally         annotate.Tally
	annotated     map[string]int
	status        Status
	loading       bool
	lastSummary   models.ScanSummary
	mutationTimer *time.Timer
}

func NewSession(cfg Config, source ContentSource, store TableFetcher, extractor *manifest.Extractor, annotator *annotate.Annotator, logger *slog.Logger) *Session {
	cfg.applyDefaults()
	return &Session{
		cfg:       cfg,
		source:    source,
		store:     store,
		extractor: extractor,
		annotator: annotator,
		logger:    logger.With("component", "scan_session"),
		state:     StateIdle,
		annotated: make(map[string]int),
	}
}

// SetPassHook registers the observer called after every completed pass.
func (s *Session) SetPassHook(hook PassHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onPass = hook
}

// Run waits for the page to render row-like content, then performs the
// initial load-and-scan. On readiness timeout the session parks in
// StateTimedOut; ForceScan remains available as the manual trigger.
func (s *Session) Run(ctx context.Context) error {
	if err := s.waitForContent(ctx); err != nil {
		return err
	}
	return s.Load(ctx)
}

func (s *Session) waitForContent(ctx context.Context) error {
	s.setState(StateWaitingForContent)

	for attempt := 1; attempt <= s.cfg.MaxPollAttempts; attempt++ {
		doc, err := s.source.Document(ctx)
		if err == nil && contentReady(doc) {
			s.mu.Lock()
			s.doc = doc
			s.mu.Unlock()
			s.logger.Info("page content ready", "attempt", attempt)
			return nil
		}
		if err != nil {
			s.logger.Debug("content poll failed", "attempt", attempt, "error", err)
		}

		select {
		case <-ctx.Done():
			s.setState(StateTimedOut)
			return ctx.Err()
		case <-time.After(s.cfg.PollInterval):
		}
	}

	s.setState(StateTimedOut)
	s.setStatus(StatusError, "page content never appeared; trigger a scan manually")
	return ErrContentTimeout
}

// Load is the explicit load action: fetch the location table, then scan.
// A Load while another is in flight is ignored, not queued.
func (s *Session) Load(ctx context.Context) error {
	s.mu.Lock()
	if s.loading {
		s.mu.Unlock()
		s.logger.Info("load already in flight, ignoring trigger")
		return nil
	}
	s.loading = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.loading = false
		s.mu.Unlock()
	}()

	s.setStatus(StatusLoading, "loading location table")

	data, err := s.store.FetchTable(ctx, s.cfg.SheetID)
	if err != nil {
		s.setState(StateIdle)
		s.setStatus(StatusError, fmt.Sprintf("failed to load location table: %v", err))
		return fmt.Errorf("store fetch failed: %w", err)
	}

	table := locator.BuildTable(data)
	if table.Len() == 0 {
		s.setState(StateIdle)
		s.setStatus(StatusError, "location table is empty")
		return ErrEmptyTable
	}

	s.mu.Lock()
	s.table = table
	s.mu.Unlock()
	s.logger.Info("location table loaded", "rows", table.Len())

	return s.pass()
}

// Rescan re-runs extraction and annotation against the cached table; the
// table is only re-fetched when absent.
func (s *Session) Rescan(ctx context.Context) error {
	s.mu.Lock()
	haveTable := s.table != nil
	s.mu.Unlock()

	if !haveTable {
		return s.Load(ctx)
	}
	return s.pass()
}

// ForceScan is the manual trigger: it pulls the document without waiting for
// readiness, then loads and scans.
func (s *Session) ForceScan(ctx context.Context) error {
	doc, err := s.source.Document(ctx)
	if err != nil {
		s.setStatus(StatusError, fmt.Sprintf("failed to read page: %v", err))
		return fmt.Errorf("failed to read page: %w", err)
	}

	s.mu.Lock()
	s.doc = doc
	s.mu.Unlock()

	return s.Load(ctx)
}

// NotifyMutation coalesces a burst of page mutations into a single re-scan
// after a quiet period. Idempotent annotation makes the debounce a
// performance optimization, not a correctness requirement.
func (s *Session) NotifyMutation(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mutationTimer != nil {
		s.mutationTimer.Stop()
	}
	s.mutationTimer = time.AfterFunc(s.cfg.MutationDebounce, func() {
		if err := s.refreshAndRescan(ctx); err != nil {
			s.logger.Warn("mutation re-scan failed", "error", err)
		}
	})
}

func (s *Session) refreshAndRescan(ctx context.Context) error {
	doc, err := s.source.Document(ctx)
	if err != nil {
		return fmt.Errorf("failed to refresh page: %w", err)
	}

	s.mu.Lock()
	s.doc = doc
	s.mu.Unlock()

	return s.Rescan(ctx)
}

// pass matches and annotates every extractable row. Per-row misses never
// abort the pass; only an empty extraction does.
func (s *Session) pass() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = StateScanning

	records, err := s.extractor.Extract(s.doc)
	if err != nil {
		s.state = StateIdle
		s.status = Status{Kind: StatusError, Message: "no product rows found on page; re-scan once it renders", At: time.Now()}
		return fmt.Errorf("extraction found nothing: %w", err)
	}

	passFound := 0
	occurrences := make(map[string]int)
	var repeat annotate.Tally
	for _, record := range records {
		result := locator.Match(record, s.table)
		key := recordKey(record)
		idx := occurrences[key]
		occurrences[key]++

		if idx < s.annotated[key] {
			// Counted in an earlier pass; re-apply the badge to this
			// document without touching the tally.
			s.annotator.Annotate(record, result, &repeat)
		} else {
			before := s.tally.Total
			s.annotator.Annotate(record, result, &s.tally)
			if s.tally.Total > before {
				s.annotated[key] = idx + 1
			}
		}
		if result.Found {
			passFound++
		}
	}

	s.lastSummary = models.ScanSummary{
		Total:     s.tally.Total,
		Found:     s.tally.Found,
		NotFound:  s.tally.NotFound,
		ScannedAt: time.Now(),
	}
	s.state = StateAnnotated
	s.status = Status{
		Kind:    StatusSuccess,
		Message: fmt.Sprintf("located %d/%d products", passFound, len(records)),
		At:      time.Now(),
	}
	s.logger.Info("scan pass complete",
		"records", len(records),
		"pass_found", passFound,
		"total", s.tally.Total,
		"found", s.tally.Found,
		"not_found", s.tally.NotFound,
	)

	if s.onPass != nil {
		s.onPass(s.lastSummary, records)
	}
	return nil
}

// recordKey identifies a manifest row across document snapshots.
func recordKey(r *models.ProductRecord) string {
	return r.ProductName + "\x00" + r.OptionName + "\x00" + r.Quantity
}

// AnnotatedHTML renders the session's document with badges applied.
func (s *Session) AnnotatedHTML() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.doc == nil {
		return "", errors.New("no document scanned yet")
	}
	html, err := s.doc.Html()
	if err != nil {
		return "", fmt.Errorf("failed to render document: %w", err)
	}
	return html, nil
}

// Document exposes the session's working document for direct page updates.
func (s *Session) Document() *goquery.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Summary() models.ScanSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSummary
}

// Status returns the current indicator; success and info fade out after the
// configured delay, errors stay until dismissed.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status.faded(time.Now().Add(-s.cfg.StatusFade)) {
		return Status{}
	}
	return s.status
}

func (s *Session) DismissStatus() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = Status{}
}

// Close stops any pending debounced re-scan.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mutationTimer != nil {
		s.mutationTimer.Stop()
		s.mutationTimer = nil
	}
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

func (s *Session) setStatus(kind StatusKind, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = Status{Kind: kind, Message: message, At: time.Now()}
}

// contentReady is the readiness heuristic: the page has rendered at least one
// row-like structure or a 【...】 product marker.
func contentReady(doc *goquery.Document) bool {
	if doc == nil {
		return false
	}
	if doc.Find("table tr").Length() > 0 {
		return true
	}
	if doc.Find("[class*=row], [class*=item]").Length() > 0 {
		return true
	}
	text := doc.Find("body").Text()
	return strings.Contains(text, "【") && strings.Contains(text, "】")
}
