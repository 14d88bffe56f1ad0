package annotate

import (
	"fmt"
	"html"
	"log/slog"

	"github.com/Aji945/shopee-taken/internal/models"
	"github.com/PuerkitoBio/goquery"
)

// BadgeClass marks a row as already annotated; its presence makes repeat
// passes over the same row a no-op.
const BadgeClass = "truck-location-badge"

const foundRowClass = "truck-location-found"

// Tally counts annotation outcomes for the surrounding UI layer. The
// annotator only writes it; nothing here reads it back.
type Tally struct {
	Total    int `json:"total"`
	Found    int `json:"found"`
	NotFound int `json:"not_found"`
}

// Annotator injects location badges into matched manifest rows.
type Annotator struct {
	placeholder string
	logger      *slog.Logger
}

// New returns an annotator. placeholder is rendered for matched rows whose
// location cell is blank.
func New(placeholder string, logger *slog.Logger) *Annotator {
	return &Annotator{
		placeholder: placeholder,
		logger:      logger.With("component", "annotator"),
	}
}

// Annotate marks one record's source row with its match outcome and bumps the
// tally. A row that already carries a badge is left untouched and does not
// count again.
func (a *Annotator) Annotate(record *models.ProductRecord, result models.MatchResult, tally *Tally) {
	if record.Row == nil {
		return
	}
	if record.Row.Find("."+BadgeClass).Length() > 0 {
		return
	}

	target := a.badgeTarget(record)
	if target == nil {
		return
	}

	if result.Found {
		location := result.Location
		if location == "" {
			location = a.placeholder
		}
		record.Resolve(models.MatchFound, location)
		target.AppendHtml(fmt.Sprintf(
			`<span class="%s">🚚 %s</span>`, BadgeClass, html.EscapeString(location)))
		record.Row.AddClass(foundRowClass)
		record.Row.SetAttr("style", "background-color:#e8f5e9")
		tally.Found++
		a.logger.Debug("row annotated", "product", record.ProductName, "location", location)
	} else {
		record.Resolve(models.MatchNotFound, "")
		target.AppendHtml(fmt.Sprintf(`<span class="%s not-found"></span>`, BadgeClass))
		tally.NotFound++
	}
	tally.Total++
}

// badgeTarget picks the cell the badge is appended to: the option cell when
// the extraction strategy identified one, the row element otherwise.
func (a *Annotator) badgeTarget(record *models.ProductRecord) *goquery.Selection {
	if record.OptionCellIndex < 0 {
		return record.Row
	}
	cells := record.Row.Find("td, div, span")
	if cells.Length() == 0 {
		return record.Row
	}
	idx := record.OptionCellIndex
	if idx >= cells.Length() {
		idx = cells.Length() - 1
	}
	return cells.Eq(idx)
}
