package google

import (
	"fmt"
	"strings"

	"spendlog/internal/core"
)

const (
	colID      = 4 // E
	lastColumn = "F"
)

var headerRow = []any{"Date", "Category", "Description", "Amount", "ID", "Created At"}

// expenseRow lays out one record as [date, category, description, amount,
// id, created_at]. The amount is written in major units so the sheet can
// sum the column.
func expenseRow(e core.Expense) []any {
	return []any{
		e.Date.String(),
		e.Category,
		e.Description,
		core.FormatAmount(e.Amount.Cents, ""),
		e.ID,
		e.CreatedAtString(),
	}
}

// findRow returns the 1-based sheet row whose first cell equals id, or 0.
// values is the ID column as returned by the Sheets API.
func findRow(values [][]interface{}, id string) int {
	for i, row := range values {
		if strings.TrimSpace(safeGet(toStrings(row), 0)) == id {
			return i + 1
		}
	}
	return 0
}

func rowRef(sheet string, row int) string {
	return fmt.Sprintf("%s!A%d:%s%d", sheet, row, lastColumn, row)
}

func toStrings(in []interface{}) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strings.TrimSpace(fmt.Sprint(v))
	}
	return out
}

func safeGet(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}
