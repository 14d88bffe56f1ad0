package models

import (
	"time"

	"github.com/PuerkitoBio/goquery"
)

// MatchState tracks how a scanned row resolved against the location table.
type MatchState int

const (
	MatchUnresolved MatchState = iota
	MatchFound
	MatchNotFound
)

func (s MatchState) String() string {
	switch s {
	case MatchFound:
		return "found"
	case MatchNotFound:
		return "not_found"
	default:
		return "unresolved"
	}
}

// ProductRecord is one normalized manifest row. It lives for a single scan
// pass; Row points into the document the record was extracted from.
type ProductRecord struct {
	ProductName string `json:"product_name"`
	OptionName  string `json:"option_name"`
	Quantity    string `json:"quantity"`

	// Row is the source row element; OptionCellIndex is the cell the badge
	// goes into (-1 means annotate the element itself).
	Row             *goquery.Selection `json:"-"`
	OptionCellIndex int                `json:"-"`

	State    MatchState `json:"state"`
	Location string     `json:"location,omitempty"`
}

// Resolve records the match outcome. The first resolution wins; a resolved
// record never reverts.
func (r *ProductRecord) Resolve(state MatchState, location string) {
	if r.State != MatchUnresolved {
		return
	}
	r.State = state
	r.Location = location
}

// MatchResult is the outcome of matching one record against the table.
type MatchResult struct {
	Found    bool
	Location string
}

// ScanSummary is the running tally a scan session exposes to the UI layer.
type ScanSummary struct {
	Total     int       `json:"total"`
	Found     int       `json:"found"`
	NotFound  int       `json:"not_found"`
	ScannedAt time.Time `json:"scanned_at"`
}
