package escalation

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/pik-sentinel/internal/model"
)

// GenerateAlert summarizes a decision for notification consumers.
func GenerateAlert(d model.EscalationDecision, now time.Time) model.Alert {
	a := model.Alert{
		AlertID:          "A" + now.UTC().Format("20060102150405"),
		Timestamp:        now.UTC(),
		RecommendedHedge: d.HedgePercentage,
	}
	switch d.Status {
	case model.StatusCritical:
		a.Severity = model.SeverityCritical
		a.Title = "Shadow Default Risk Detected"
		a.Message = fmt.Sprintf("High correlation detected. %d loans flagged. %s", len(d.AffectedLoans), d.RecommendedAction)
		a.ActionRequired = true
	case model.StatusElevated:
		a.Severity = model.SeverityWarning
		a.Title = "Elevated Risk Level"
		a.Message = "Risk conditions detected. " + d.RecommendedAction
	default:
		a.Severity = model.SeverityInfo
		a.Title = "Normal Operations"
		a.Message = "No immediate risks detected"
	}
	return a
}

// HedgeNotional sizes a hedge: portfolioValue × hedgePct / 100. Nothing is
// executed.
func HedgeNotional(portfolioValue, hedgePct float64) (float64, error) {
	if portfolioValue < 0 {
		return 0, eris.Wrapf(model.ErrValidation, "escalation: negative portfolio value %.2f", portfolioValue)
	}
	if hedgePct < 0 || hedgePct > 100 {
		return 0, eris.Wrapf(model.ErrValidation, "escalation: hedge percentage %.2f outside [0,100]", hedgePct)
	}
	return portfolioValue * hedgePct / 100, nil
}
