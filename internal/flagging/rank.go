package flagging

import (
	"slices"

	"github.com/sells-group/pik-sentinel/internal/model"
)

// RankByExposure returns a copy of flagged sorted by outstanding balance,
// largest first. Equal balances keep their input order.
func RankByExposure(flagged []model.FlaggedLoan) []model.FlaggedLoan {
	ranked := slices.Clone(flagged)
	slices.SortStableFunc(ranked, func(a, b model.FlaggedLoan) int {
		switch {
		case a.OutstandingBalance > b.OutstandingBalance:
			return -1
		case a.OutstandingBalance < b.OutstandingBalance:
			return 1
		}
		return 0
	})
	return ranked
}

// TotalExposure sums the outstanding balances of flagged loans.
func TotalExposure(flagged []model.FlaggedLoan) float64 {
	var total float64
	for _, f := range flagged {
		total += f.OutstandingBalance
	}
	return total
}
