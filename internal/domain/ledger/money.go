package ledger

import "github.com/shopspring/decimal"

// AmountEpsilon is the tolerance for comparing monetary sums (0.01).
// Split-sum validation uses it to absorb rounding across many small
// allocations; transfer matching does not, amounts there compare exactly.
var AmountEpsilon = decimal.New(1, -2)

// WithinEpsilon reports whether two amounts differ by at most AmountEpsilon.
func WithinEpsilon(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(AmountEpsilon)
}

// SumSplits returns the total of the given split amounts.
func SumSplits(splits []*TransactionSplit) decimal.Decimal {
	total := decimal.Zero
	for _, s := range splits {
		total = total.Add(s.Amount)
	}
	return total
}

// SumItems returns the total of the given split item amounts.
func SumItems(items []SplitItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Amount)
	}
	return total
}
