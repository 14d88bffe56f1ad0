package scan

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aji945/shopee-taken/internal/annotate"
	"github.com/Aji945/shopee-taken/internal/manifest"
	"github.com/Aji945/shopee-taken/internal/models"
)

const manifestHTML = `<table>
	<tr><td>商品名稱</td><td></td><td>選項名稱</td><td></td><td>數量</td></tr>
	<tr><td>超大容量</td><td>保溫杯850ml</td><td>不鏽鋼</td><td>藍色</td><td>2</td></tr>
	<tr><td>旅行收納袋</td><td>六件組</td><td>粉色</td><td>大號</td><td>1</td></tr>
</table>`

// sheetData builds store rows in raw sheet layout: header first, product in
// column 1, option in column 3, location in column 11.
func sheetData(rows ...[3]string) [][]string {
	data := [][]string{make([]string, 12)}
	data[0][1] = "商品名稱"
	for _, r := range rows {
		row := make([]string, 12)
		row[1], row[3], row[11] = r[0], r[1], r[2]
		data = append(data, row)
	}
	return data
}

type fakeFetcher struct {
	mu    sync.Mutex
	calls int
	data  [][]string
	err   error
}

func (f *fakeFetcher) FetchTable(ctx context.Context, sheetID string) ([][]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.data, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// swapSource lets a test change the document a session sees mid-run.
type swapSource struct {
	mu  sync.Mutex
	doc *goquery.Document
}

func (s *swapSource) Document(ctx context.Context) (*goquery.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc, nil
}

func (s *swapSource) swap(doc *goquery.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc = doc
}

// snapshotSource re-parses its HTML on every read, the way a live page source
// serves a fresh document per call.
type snapshotSource struct {
	mu   sync.Mutex
	html string
}

func (s *snapshotSource) Document(ctx context.Context) (*goquery.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return goquery.NewDocumentFromReader(strings.NewReader(s.html))
}

func (s *snapshotSource) set(html string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.html = html
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func parseDoc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc
}

func newTestSession(t *testing.T, source ContentSource, fetcher TableFetcher, cfg Config) *Session {
	t.Helper()
	cfg.SheetID = "sheet-1"
	session := NewSession(cfg, source, fetcher,
		manifest.NewExtractor(testLogger()),
		annotate.New("未設定", testLogger()),
		testLogger(),
	)
	t.Cleanup(session.Close)
	return session
}

func TestSessionRunAnnotatesManifest(t *testing.T) {
	source, err := NewStaticSource(manifestHTML)
	require.NoError(t, err)

	fetcher := &fakeFetcher{data: sheetData(
		[3]string{"超大容量保溫杯850ml", "不鏽鋼藍色", "A-12"},
		[3]string{"旅行收納袋六件組", "粉色大號", "B-03"},
	)}

	session := newTestSession(t, source, fetcher, Config{PollInterval: time.Millisecond})

	var hookSummary models.ScanSummary
	var hookRecords int
	session.SetPassHook(func(summary models.ScanSummary, records []*models.ProductRecord) {
		hookSummary = summary
		hookRecords = len(records)
	})

	require.NoError(t, session.Run(context.Background()))

	assert.Equal(t, StateAnnotated, session.State())

	summary := session.Summary()
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 2, summary.Found)
	assert.Equal(t, 0, summary.NotFound)
	assert.Equal(t, summary, hookSummary)
	assert.Equal(t, 2, hookRecords)

	html, err := session.AnnotatedHTML()
	require.NoError(t, err)
	assert.Contains(t, html, annotate.BadgeClass)
	assert.Contains(t, html, "A-12")
	assert.Contains(t, html, "B-03")

	status := session.Status()
	assert.Equal(t, StatusSuccess, status.Kind)
	assert.Contains(t, status.Message, "2/2")
}

func TestSessionUnmatchedRowsCountAsNotFound(t *testing.T) {
	source, err := NewStaticSource(manifestHTML)
	require.NoError(t, err)

	fetcher := &fakeFetcher{data: sheetData(
		[3]string{"超大容量保溫杯850ml", "不鏽鋼藍色", "A-12"},
	)}

	session := newTestSession(t, source, fetcher, Config{PollInterval: time.Millisecond})
	require.NoError(t, session.Run(context.Background()))

	summary := session.Summary()
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.Found)
	assert.Equal(t, 1, summary.NotFound)
}

func TestSessionStoreFailureLeavesPageUntouched(t *testing.T) {
	source, err := NewStaticSource(manifestHTML)
	require.NoError(t, err)

	fetcher := &fakeFetcher{err: context.DeadlineExceeded}
	session := newTestSession(t, source, fetcher, Config{PollInterval: time.Millisecond})

	err = session.Run(context.Background())
	require.Error(t, err)

	assert.Equal(t, StateIdle, session.State())
	assert.Equal(t, StatusError, session.Status().Kind)

	// Zero annotations on failure
	html, err := session.AnnotatedHTML()
	require.NoError(t, err)
	assert.NotContains(t, html, annotate.BadgeClass)
}

func TestSessionEmptyTable(t *testing.T) {
	source, err := NewStaticSource(manifestHTML)
	require.NoError(t, err)

	// Header only, no data rows
	fetcher := &fakeFetcher{data: sheetData()}
	session := newTestSession(t, source, fetcher, Config{PollInterval: time.Millisecond})

	err = session.Run(context.Background())
	assert.ErrorIs(t, err, ErrEmptyTable)
	assert.Equal(t, StateIdle, session.State())
}

func TestSessionContentTimeoutThenForceScan(t *testing.T) {
	source := &swapSource{doc: parseDoc(t, `<div><p>載入中...</p></div>`)}
	fetcher := &fakeFetcher{data: sheetData(
		[3]string{"超大容量保溫杯850ml", "不鏽鋼藍色", "A-12"},
		[3]string{"旅行收納袋六件組", "粉色大號", "B-03"},
	)}

	session := newTestSession(t, source, fetcher, Config{
		PollInterval:    time.Millisecond,
		MaxPollAttempts: 3,
	})

	err := session.Run(context.Background())
	assert.ErrorIs(t, err, ErrContentTimeout)
	assert.Equal(t, StateTimedOut, session.State())
	assert.Equal(t, StatusError, session.Status().Kind)
	assert.Equal(t, 0, fetcher.callCount())

	// The manual trigger skips readiness polling entirely
	source.swap(parseDoc(t, manifestHTML))
	require.NoError(t, session.ForceScan(context.Background()))

	assert.Equal(t, StateAnnotated, session.State())
	assert.Equal(t, 2, session.Summary().Found)
}

func TestSessionRescanAnnotatesOnlyNewRows(t *testing.T) {
	source, err := NewStaticSource(manifestHTML)
	require.NoError(t, err)

	fetcher := &fakeFetcher{data: sheetData(
		[3]string{"超大容量保溫杯850ml", "不鏽鋼藍色", "A-12"},
		[3]string{"旅行收納袋六件組", "粉色大號", "B-03"},
		[3]string{"純棉短袖上衣男款", "灰色M號", "C-07"},
	)}

	session := newTestSession(t, source, fetcher, Config{PollInterval: time.Millisecond})
	require.NoError(t, session.Run(context.Background()))
	require.Equal(t, 2, session.Summary().Total)

	// The page grows a row, as it does when the order list refreshes
	session.Document().Find("table").AppendHtml(
		`<tr><td>純棉短袖</td><td>上衣男款</td><td>灰色</td><td>M號</td><td>1</td></tr>`)

	require.NoError(t, session.Rescan(context.Background()))

	// Cached table is reused; no second store fetch
	assert.Equal(t, 1, fetcher.callCount())

	// Existing badges stay put and are not duplicated
	doc := session.Document()
	assert.Equal(t, 3, doc.Find("."+annotate.BadgeClass).Length())

	summary := session.Summary()
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 3, summary.Found)
}

func TestSessionFreshSnapshotsDoNotRecountAnnotatedRows(t *testing.T) {
	source := &snapshotSource{html: manifestHTML}
	fetcher := &fakeFetcher{data: sheetData(
		[3]string{"超大容量保溫杯850ml", "不鏽鋼藍色", "A-12"},
		[3]string{"旅行收納袋六件組", "粉色大號", "B-03"},
		[3]string{"純棉短袖上衣男款", "灰色M號", "C-07"},
	)}

	session := newTestSession(t, source, fetcher, Config{PollInterval: time.Millisecond})
	require.NoError(t, session.Run(context.Background()))
	require.Equal(t, 2, session.Summary().Total)

	// The page is unchanged; every re-scan sees a snapshot without badges
	require.NoError(t, session.refreshAndRescan(context.Background()))
	require.NoError(t, session.refreshAndRescan(context.Background()))

	summary := session.Summary()
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 2, summary.Found)
	assert.Equal(t, 1, fetcher.callCount())

	// Badges still land on the latest snapshot
	assert.Equal(t, 2, session.Document().Find("."+annotate.BadgeClass).Length())

	// A genuinely new row is the only thing counted
	source.set(manifestHTML[:len(manifestHTML)-len("</table>")] +
		`<tr><td>純棉短袖</td><td>上衣男款</td><td>灰色</td><td>M號</td><td>1</td></tr></table>`)
	require.NoError(t, session.refreshAndRescan(context.Background()))

	summary = session.Summary()
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 3, summary.Found)
	assert.Equal(t, 1, fetcher.callCount())
	assert.Equal(t, 3, session.Document().Find("."+annotate.BadgeClass).Length())
}

func TestSessionBracketMarkerPageIsReady(t *testing.T) {
	source, err := NewStaticSource(`<main><p>【超大容量保溫杯850ml】不鏽鋼藍色</p></main>`)
	require.NoError(t, err)

	fetcher := &fakeFetcher{data: sheetData(
		[3]string{"超大容量保溫杯850ml", "不鏽鋼藍色", "D-09"},
	)}

	// A short poll budget: the marker alone must satisfy readiness
	session := newTestSession(t, source, fetcher, Config{
		PollInterval:    time.Millisecond,
		MaxPollAttempts: 3,
	})
	require.NoError(t, session.Run(context.Background()))

	assert.Equal(t, StateAnnotated, session.State())
	summary := session.Summary()
	assert.Equal(t, 1, summary.Total)
	assert.Equal(t, 1, summary.Found)
	assert.Contains(t, mustHTML(t, session), "D-09")
}

func mustHTML(t *testing.T, session *Session) string {
	t.Helper()
	html, err := session.AnnotatedHTML()
	require.NoError(t, err)
	return html
}

func TestSessionMutationNotificationsAreDebounced(t *testing.T) {
	source, err := NewStaticSource(manifestHTML)
	require.NoError(t, err)

	fetcher := &fakeFetcher{data: sheetData(
		[3]string{"超大容量保溫杯850ml", "不鏽鋼藍色", "A-12"},
		[3]string{"旅行收納袋六件組", "粉色大號", "B-03"},
		[3]string{"純棉短袖上衣男款", "灰色M號", "C-07"},
	)}

	session := newTestSession(t, source, fetcher, Config{
		PollInterval:     time.Millisecond,
		MutationDebounce: 20 * time.Millisecond,
	})
	require.NoError(t, session.Run(context.Background()))

	session.Document().Find("table").AppendHtml(
		`<tr><td>純棉短袖</td><td>上衣男款</td><td>灰色</td><td>M號</td><td>1</td></tr>`)

	// A burst of notifications collapses into one re-scan
	ctx := context.Background()
	session.NotifyMutation(ctx)
	session.NotifyMutation(ctx)
	session.NotifyMutation(ctx)

	require.Eventually(t, func() bool {
		return session.Summary().Total == 3
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, fetcher.callCount())
	assert.Equal(t, 3, session.Document().Find("."+annotate.BadgeClass).Length())
}

func TestSessionAnnotatedHTMLBeforeScan(t *testing.T) {
	source, err := NewStaticSource(manifestHTML)
	require.NoError(t, err)

	session := newTestSession(t, source, &fakeFetcher{}, Config{})
	_, err = session.AnnotatedHTML()
	assert.Error(t, err)
}
