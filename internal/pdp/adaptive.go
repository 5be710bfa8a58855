package pdp

import (
	"fmt"

	"github.com/nvandessel/pdpsim/internal/constants"
	"github.com/nvandessel/pdpsim/internal/invariant"
	"github.com/nvandessel/pdpsim/internal/models"
	"github.com/nvandessel/pdpsim/internal/trust"
)

// Calibration preset names.
const (
	CalibrationHard     = "hard"
	CalibrationBalanced = "balanced"
)

// Tier adds Add to the risk when the amount exceeds Above.
type Tier struct {
	Above float64 `json:"above" yaml:"above"`
	Add   float64 `json:"add" yaml:"add"`
}

// Calibration holds every weight and threshold of the adaptive PDP.
type Calibration struct {
	Name string `json:"name" yaml:"name"`

	AmountTiers []Tier `json:"amount_tiers" yaml:"amount_tiers"`

	GeoAnomaly float64 `json:"geo_anomaly" yaml:"geo_anomaly"`
	OffHours   float64 `json:"off_hours" yaml:"off_hours"`
	APIChannel float64 `json:"api_channel" yaml:"api_channel"`

	// SensitiveService applies to settlement and AML above SensitiveAmount.
	SensitiveService float64 `json:"sensitive_service" yaml:"sensitive_service"`
	SensitiveAmount  float64 `json:"sensitive_amount" yaml:"sensitive_amount"`

	// BaseRiskWeight scales the user's prior risk into the score. Zero disables it.
	BaseRiskWeight float64 `json:"base_risk_weight" yaml:"base_risk_weight"`

	// PenaltyWeight converts risk into lost trust when computing theta.
	PenaltyWeight float64 `json:"penalty_weight" yaml:"penalty_weight"`

	BlockBelow  float64 `json:"block_below" yaml:"block_below"`
	StepUpBelow float64 `json:"step_up_below" yaml:"step_up_below"`

	// Suspicion is the risk above which trust decays instead of recovering.
	Suspicion float64 `json:"suspicion" yaml:"suspicion"`

	// DeviceDecayRatio is device decay as a fraction of identity decay.
	DeviceDecayRatio float64 `json:"device_decay_ratio" yaml:"device_decay_ratio"`

	// Ceiling bounds trust recovery.
	Ceiling float64 `json:"ceiling" yaml:"ceiling"`
}

// HardCalibration is the strict preset: steep amount tiers and a large
// penalty, so a first-seen high-risk request is blocked outright.
func HardCalibration() Calibration {
	return Calibration{
		Name: CalibrationHard,
		AmountTiers: []Tier{
			{Above: 1000, Add: 0.15},
			{Above: 5000, Add: 0.20},
			{Above: 10000, Add: 0.20},
			{Above: 25000, Add: 0.25},
		},
		GeoAnomaly:       0.35,
		OffHours:         0.20,
		APIChannel:       0.20,
		SensitiveService: 0.30,
		SensitiveAmount:  3000,
		BaseRiskWeight:   0,
		PenaltyWeight:    0.80,
		BlockBelow:       0.35,
		StepUpBelow:      0.60,
		Suspicion:        0.45,
		DeviceDecayRatio: 0.8,
		Ceiling:          0.95,
	}
}

// BalancedCalibration is the softer preset with a base-risk component and
// a small penalty weight.
func BalancedCalibration() Calibration {
	return Calibration{
		Name: CalibrationBalanced,
		AmountTiers: []Tier{
			{Above: 3000, Add: 0.15},
			{Above: 7500, Add: 0.15},
			{Above: 15000, Add: 0.20},
			{Above: 40000, Add: 0.20},
		},
		GeoAnomaly:       0.25,
		OffHours:         0.20,
		APIChannel:       0.15,
		SensitiveService: 0.30,
		SensitiveAmount:  5000,
		BaseRiskWeight:   0.20,
		PenaltyWeight:    0.30,
		BlockBelow:       0.20,
		StepUpBelow:      0.55,
		Suspicion:        0.55,
		DeviceDecayRatio: 0.8,
		Ceiling:          0.95,
	}
}

// Preset returns a calibration by name.
func Preset(name string) (Calibration, error) {
	switch name {
	case CalibrationHard, "":
		return HardCalibration(), nil
	case CalibrationBalanced:
		return BalancedCalibration(), nil
	default:
		return Calibration{}, fmt.Errorf("unknown calibration %q (valid: %s, %s)", name, CalibrationHard, CalibrationBalanced)
	}
}

// Adaptive scores risk from amount, context and identity drift, combines it
// with identity and device trust, and adapts that trust after every event.
type Adaptive struct {
	cal    Calibration
	params trust.Params
	state  *trust.State
}

// NewAdaptive creates an adaptive PDP over state.
func NewAdaptive(state *trust.State, cal Calibration, params trust.Params) *Adaptive {
	return &Adaptive{cal: cal, params: params, state: state}
}

// Name implements PDP.
func (a *Adaptive) Name() string { return NameSecureBank }

// State returns the trust state the PDP mutates.
func (a *Adaptive) State() *trust.State { return a.state }

// Calibration returns the active calibration.
func (a *Adaptive) Calibration() Calibration { return a.cal }

// Evaluate implements PDP.
func (a *Adaptive) Evaluate(ev models.Event) models.Decision {
	risk, drift, factors := a.score(ev)

	iBefore := a.state.Identity(ev.User.ID)
	dBefore := a.state.Device(ev.Device.ID)
	baseTrust := 0.5*iBefore + 0.5*dBefore
	theta := invariant.Clamp(baseTrust-a.cal.PenaltyWeight*risk, 0, 1)

	var d models.Decision
	switch {
	case theta < a.cal.BlockBelow:
		d = decide(models.ActionBlock, "LOW_TRUST")
	case theta < a.cal.StepUpBelow:
		d = decide(models.ActionStepUp, "REDUCED_TRUST")
	default:
		d = decide(models.ActionAllow, "TRUSTED")
	}

	iAfter, dAfter := a.adapt(iBefore, dBefore, risk)
	a.state.SetIdentity(ev.User.ID, iAfter)
	a.state.SetDevice(ev.Device.ID, dAfter)

	d.Risk = risk
	d.Theta = models.Float(theta)
	d.Drift = models.Float(drift)
	d.Factors = factors
	d.Trust = &models.TrustChange{
		IdentityBefore: iBefore,
		IdentityAfter:  a.state.Identity(ev.User.ID),
		DeviceBefore:   dBefore,
		DeviceAfter:    a.state.Device(ev.Device.ID),
	}
	return d
}

// score returns the clamped risk, its drift component and the names of the
// contributing signals. Scoring folds the amount into the user's profile.
func (a *Adaptive) score(ev models.Event) (float64, float64, []string) {
	var risk float64
	var factors []string
	amount := ev.Tx.Amount

	for _, t := range a.cal.AmountTiers {
		if amount > t.Above {
			risk += t.Add
		}
	}
	if risk > 0 {
		factors = append(factors, "AMOUNT_TIER")
	}
	if !constants.IsTrustedGeo(ev.Ctx.Geo) {
		risk += a.cal.GeoAnomaly
		factors = append(factors, "ANOMALOUS_GEO")
	}
	if constants.IsOffHours(ev.Ctx.Hour) {
		risk += a.cal.OffHours
		factors = append(factors, "OFF_HOURS")
	}
	if ev.Ctx.Channel == models.ChannelAPI {
		risk += a.cal.APIChannel
		factors = append(factors, "API_ACCESS")
	}
	if constants.IsSensitiveService(ev.Tx.Service) && amount > a.cal.SensitiveAmount {
		risk += a.cal.SensitiveService
		factors = append(factors, "SENSITIVE_SERVICE")
	}

	drift := a.state.Drift(ev.User.ID, amount, a.params.IdentityDriftFactor)
	if drift > 0 {
		risk += drift
		factors = append(factors, "IDENTITY_DRIFT")
	}
	if a.cal.BaseRiskWeight > 0 {
		risk += a.cal.BaseRiskWeight * ev.User.BaseRisk
	}

	return invariant.Clamp(risk, 0, 1), drift, factors
}

func (a *Adaptive) adapt(i, d, risk float64) (float64, float64) {
	if risk > a.cal.Suspicion {
		return trust.Decay(i, a.params.TrustDecay),
			trust.Decay(d, a.params.TrustDecay*a.cal.DeviceDecayRatio)
	}
	return trust.Grow(i, a.params.TrustGrowth, a.cal.Ceiling),
		trust.Grow(d, a.params.TrustGrowth, a.cal.Ceiling)
}
