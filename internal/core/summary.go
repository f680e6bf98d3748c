package core

// CategoryAmount represents an amount aggregated by category name.
type CategoryAmount struct {
	Name   string
	Amount Money
	Count  int
}

// Summary aggregates a set of expenses.
type Summary struct {
	Total      Money
	Count      int
	ByCategory []CategoryAmount // first-appearance order
}

func Summarize(expenses []Expense) Summary {
	var s Summary
	idx := make(map[string]int)
	for _, e := range expenses {
		s.Total.Cents += e.Amount.Cents
		s.Count++
		i, ok := idx[e.Category]
		if !ok {
			i = len(s.ByCategory)
			idx[e.Category] = i
			s.ByCategory = append(s.ByCategory, CategoryAmount{Name: e.Category})
		}
		s.ByCategory[i].Amount.Cents += e.Amount.Cents
		s.ByCategory[i].Count++
	}
	return s
}

// Categories returns the distinct categories in first-appearance order.
func Categories(expenses []Expense) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, e := range expenses {
		if _, ok := seen[e.Category]; ok {
			continue
		}
		seen[e.Category] = struct{}{}
		out = append(out, e.Category)
	}
	return out
}
