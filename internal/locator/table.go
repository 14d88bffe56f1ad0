package locator

import "strings"

// Positional columns in the fetched sheet data. The store serves raw sheet
// rows; only these four columns matter to the locator.
const (
	colProductName = 1
	colOptionName  = 3
	colQuantity    = 5
	colLocation    = 11
)

// Row is one denormalized location record. The (ProductName, OptionName) pair
// is the composite key; uniqueness is not guaranteed by the sheet.
type Row struct {
	ProductName string
	OptionName  string
	Quantity    string
	Location    string
}

// Table is the location table fetched for one scan cycle. It is immutable
// once built; matching only reads it.
type Table struct {
	rows []Row
}

// BuildTable converts raw sheet data into a Table. The first data row is the
// sheet header and is dropped; rows shorter than the location column are kept
// with the missing fields blank.
func BuildTable(data [][]string) *Table {
	if len(data) <= 1 {
		return &Table{}
	}

	rows := make([]Row, 0, len(data)-1)
	for _, raw := range data[1:] {
		rows = append(rows, Row{
			ProductName: cell(raw, colProductName),
			OptionName:  cell(raw, colOptionName),
			Quantity:    cell(raw, colQuantity),
			Location:    cell(raw, colLocation),
		})
	}
	return &Table{rows: rows}
}

// Len reports the number of data rows in the table.
func (t *Table) Len() int { return len(t.rows) }

// Rows returns the table rows in sheet order.
func (t *Table) Rows() []Row { return t.rows }

func cell(raw []string, idx int) string {
	if idx >= len(raw) {
		return ""
	}
	return raw[idx]
}

func trimmed(s string) string { return strings.TrimSpace(s) }
