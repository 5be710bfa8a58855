package pdp

import (
	"github.com/nvandessel/pdpsim/internal/constants"
	"github.com/nvandessel/pdpsim/internal/models"
)

// Baseline thresholds.
const (
	BaselineStepUpAmount   = 20000.0
	BaselineGeoBlockAmount = 2000.0
)

// Baseline is the static rule set: large amounts step up, moderate amounts
// from high-risk regions are blocked. It keeps no state.
type Baseline struct{}

// Name implements PDP.
func (Baseline) Name() string { return NameBaseline }

// Evaluate implements PDP.
func (Baseline) Evaluate(ev models.Event) models.Decision {
	switch {
	case ev.Tx.Amount > BaselineStepUpAmount:
		return decide(models.ActionStepUp, "HIGH_AMOUNT")
	case constants.IsHighRiskGeo(ev.Ctx.Geo) && ev.Tx.Amount > BaselineGeoBlockAmount:
		return decide(models.ActionBlock, "HIGH_RISK_GEO")
	default:
		return decide(models.ActionAllow, "OK")
	}
}
