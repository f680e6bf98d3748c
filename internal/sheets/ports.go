package sheets

import (
	"context"

	"spendlog/internal/core"
)

// ExpenseExporter copies stored expenses to an external spreadsheet.
// Append must be safe to call more than once for the same expense: a record
// whose ID is already present is not written again and the reference of the
// existing row is returned.
type ExpenseExporter interface {
	Append(ctx context.Context, e core.Expense) (rowRef string, err error)
}
