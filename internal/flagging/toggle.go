package flagging

import "github.com/sells-group/pik-sentinel/internal/model"

// ToggleResult is the outcome of toggle detection for one loan.
type ToggleResult struct {
	Detected bool
	Previous *model.PaymentType
	History  []model.HistoricalRecord
}

// DetectToggle reports whether a loan now paying PIK was paying something
// else earlier. history must be in ascending time order; the first non-PIK
// record becomes Previous. A move away from PIK is never a toggle.
func DetectToggle(loan model.LoanRecord, history []model.HistoricalRecord) ToggleResult {
	res := ToggleResult{History: history}
	if loan.PaymentType != model.PaymentInKind {
		return res
	}
	for _, h := range history {
		if h.PaymentType != model.PaymentInKind {
			prev := h.PaymentType
			res.Detected = true
			res.Previous = &prev
			return res
		}
	}
	return res
}
