package locator

import (
	"github.com/Aji945/shopee-taken/internal/models"
)

// Match resolves one product record against the location table.
//
// A table row matches when its product name equals the record's exactly
// (post-trim, case-sensitive) and the option names agree: both empty, or both
// non-empty and equal after trim. An empty option on one side and a non-empty
// option on the other never match. The first row in table order wins.
//
// Absence of a match is a normal outcome, not an error.
func Match(record *models.ProductRecord, table *Table) models.MatchResult {
	if table == nil {
		return models.MatchResult{}
	}

	for _, row := range table.rows {
		if trimmed(row.ProductName) != record.ProductName {
			continue
		}
		if !optionsMatch(record.OptionName, trimmed(row.OptionName)) {
			continue
		}
		return models.MatchResult{Found: true, Location: trimmed(row.Location)}
	}
	return models.MatchResult{}
}

func optionsMatch(recordOption, tableOption string) bool {
	if recordOption == "" && tableOption == "" {
		return true
	}
	if recordOption == "" || tableOption == "" {
		return false
	}
	return recordOption == tableOption
}
