package core

// CategoryAmount is an amount aggregated by category id.
type CategoryAmount struct {
	CategoryID string
	Amount     Money
}

// MonthOverview is a compact spend summary for one user in one month,
// computed over materialized occurrences.
type MonthOverview struct {
	UserID     string
	Year       int
	Month      int // 1-12
	Total      Money
	ByCategory []CategoryAmount
}
