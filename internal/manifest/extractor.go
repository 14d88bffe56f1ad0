package manifest

import (
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/Aji945/shopee-taken/internal/models"
	"github.com/PuerkitoBio/goquery"
)

// ErrNoRows is returned when no strategy finds a plausible product row.
var ErrNoRows = errors.New("no product rows found on page")

// headerLabels mark rows that belong to the manifest's column headers, not to
// a product line.
var headerLabels = []string{"商品名稱", "選項名稱", "數量", "品名", "規格"}

// minNameRunes is the shortest normalized product name worth keeping; anything
// below this is treated as a noise row.
const minNameRunes = 5

var (
	artifactPattern = regexp.MustCompile(`^'="|"$`)
	bracketPattern  = regexp.MustCompile(`【([^【】]+)】\s*(.*)`)
)

// Extractor scans a manifest document for product rows. Strategies are tried
// in order until one yields at least one record; the scan never mutates the
// document.
type Extractor struct {
	strategies []strategy
	logger     *slog.Logger
}

type strategy interface {
	name() string
	extract(doc *goquery.Document) []*models.ProductRecord
}

func NewExtractor(logger *slog.Logger) *Extractor {
	return &Extractor{
		strategies: []strategy{
			tableScan{},
			genericRows{},
			bracketMarkers{},
		},
		logger: logger.With("component", "extractor"),
	}
}

// Extract returns the product records found by the first successful strategy,
// in document order.
func (e *Extractor) Extract(doc *goquery.Document) ([]*models.ProductRecord, error) {
	for _, s := range e.strategies {
		records := s.extract(doc)
		if len(records) > 0 {
			e.logger.Info("extracted product rows", "strategy", s.name(), "count", len(records))
			return records, nil
		}
		e.logger.Debug("strategy yielded no rows", "strategy", s.name())
	}
	return nil, ErrNoRows
}

// tableScan is the structural pass: every table row with at least three cells,
// mapped by cell count.
type tableScan struct{}

func (tableScan) name() string { return "table_scan" }

func (tableScan) extract(doc *goquery.Document) []*models.ProductRecord {
	var records []*models.ProductRecord

	doc.Find("table tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		n := cells.Length()
		if n < 3 {
			return
		}

		var name, option, quantity string
		var optionCell int

		switch {
		case n == 5:
			// Product name spans the first two cells, option the next two.
			name = cells.Eq(0).Text() + cells.Eq(1).Text()
			option = cells.Eq(2).Text() + cells.Eq(3).Text()
			quantity = cells.Eq(4).Text()
			optionCell = 2
		case n == 3:
			name = cells.Eq(0).Text()
			option = cells.Eq(1).Text()
			quantity = cells.Eq(2).Text()
			optionCell = 1
		default:
			texts := make([]string, 0, n)
			cells.Each(func(_ int, c *goquery.Selection) {
				texts = append(texts, strings.TrimSpace(c.Text()))
			})
			quantity = texts[n-1]
			name = strings.Join(texts[:n-1], " ")
			optionCell = n - 2
		}

		if rec := buildRecord(row, optionCell, name, option, quantity); rec != nil {
			records = append(records, rec)
		}
	})

	return records
}

// genericRows handles manifests rendered without a real table: the first
// row-like selector that matches anything wins, cells may be any inline
// container, and only the first two cells carry meaning.
type genericRows struct{}

func (genericRows) name() string { return "generic_rows" }

var rowSelectors = []string{"tr", "tbody tr", ".table tr", "[class*=row]", "[class*=item]"}

func (genericRows) extract(doc *goquery.Document) []*models.ProductRecord {
	var rows *goquery.Selection
	for _, sel := range rowSelectors {
		found := doc.Find(sel)
		if found.Length() > 0 {
			rows = found
			break
		}
	}
	if rows == nil {
		return nil
	}

	var records []*models.ProductRecord
	rows.Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td, div, span")
		if cells.Length() < 2 {
			return
		}
		name := cells.Eq(0).Text()
		option := cells.Eq(1).Text()
		if rec := buildRecord(row, 1, name, option, ""); rec != nil {
			records = append(records, rec)
		}
	})
	return records
}

// bracketMarkers is the last resort: leaf elements whose text carries a
// 【...】 marker are split into product name and option.
type bracketMarkers struct{}

func (bracketMarkers) name() string { return "bracket_markers" }

func (bracketMarkers) extract(doc *goquery.Document) []*models.ProductRecord {
	var records []*models.ProductRecord
	doc.Find("body *").Each(func(_ int, el *goquery.Selection) {
		if el.Children().Length() > 0 {
			return
		}
		text := normalizeText(el.Text())
		m := bracketPattern.FindStringSubmatch(text)
		if m == nil {
			return
		}
		if rec := buildRecord(el, -1, m[1], m[2], ""); rec != nil {
			records = append(records, rec)
		}
	})
	return records
}

// buildRecord normalizes and validates one parsed row. Rows that fail
// validation produce no record.
func buildRecord(row *goquery.Selection, optionCell int, name, option, quantity string) *models.ProductRecord {
	name = cleanText(name)
	option = cleanText(option)
	quantity = strings.TrimSpace(quantity)

	if name == "" || utf8.RuneCountInString(name) < minNameRunes {
		return nil
	}
	for _, label := range headerLabels {
		if strings.Contains(name, label) {
			return nil
		}
	}

	return &models.ProductRecord{
		ProductName:     name,
		OptionName:      option,
		Quantity:        quantity,
		Row:             row,
		OptionCellIndex: optionCell,
		State:           models.MatchUnresolved,
	}
}

// cleanText collapses whitespace runs and strips the quoting artifacts the
// print page leaves in option cells.
func cleanText(s string) string {
	s = normalizeText(s)
	return strings.TrimSpace(artifactPattern.ReplaceAllString(s, ""))
}

func normalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
