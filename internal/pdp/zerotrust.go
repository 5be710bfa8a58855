package pdp

import (
	"math/rand/v2"

	"github.com/nvandessel/pdpsim/internal/constants"
	"github.com/nvandessel/pdpsim/internal/models"
	"github.com/nvandessel/pdpsim/internal/session"
	"github.com/nvandessel/pdpsim/internal/synth"
)

// ZeroTrustConfig configures the zero-trust PDP.
type ZeroTrustConfig struct {
	SessionTimeout   int     `json:"session_timeout" yaml:"session_timeout"`
	DeviceTrustDecay float64 `json:"device_trust_decay" yaml:"device_trust_decay"`
	AssumeBreach     bool    `json:"assume_breach" yaml:"assume_breach"`
}

// DefaultZeroTrustConfig returns the default zero-trust configuration.
func DefaultZeroTrustConfig() ZeroTrustConfig {
	return ZeroTrustConfig{
		SessionTimeout:   100,
		DeviceTrustDecay: 0.05,
		AssumeBreach:     true,
	}
}

// Zero-trust reasons.
const (
	ReasonMFARequired    = "MFA_REQUIRED"
	ReasonSessionExpired = "SESSION_EXPIRED"
	ReasonDevicePosture  = "DEVICE_POSTURE_FAILED"
	ReasonPrivileges     = "INSUFFICIENT_PRIVILEGES"
	ReasonHighRisk       = "HIGH_RISK_SCORE"
	ReasonMediumRisk     = "MEDIUM_RISK_SCORE"
	ReasonLowRisk        = "LOW_RISK_SCORE"
)

const (
	ztPostureMinimum       = 0.4
	ztBlockRisk            = 0.7
	ztStepUpRisk           = 0.4
	ztHighValueAmount      = 10000.0
	ztRestrictedZoneAmount = 5000.0
)

// Network zones of the service catalog. Unknown services are internal.
var serviceZones = map[string]string{
	constants.ServicePayments:         "dmz",
	constants.ServiceSettlement:       "restricted",
	constants.ServiceRiskAnalytics:    "internal",
	constants.ServiceAML:              "restricted",
	constants.ServiceCustomerIdentity: "dmz",
}

// Least-privilege allow-list per role.
var rolePermissions = map[models.UserType]map[string]bool{
	models.UserTypeCustomer: {
		constants.ServicePayments:         true,
		constants.ServiceCustomerIdentity: true,
	},
	models.UserTypeEmployee: {
		constants.ServicePayments:         true,
		constants.ServiceSettlement:       true,
		constants.ServiceRiskAnalytics:    true,
		constants.ServiceAML:              true,
		constants.ServiceCustomerIdentity: true,
	},
}

// ServiceZone returns the network zone of a service.
func ServiceZone(service string) string {
	if z, ok := serviceZones[service]; ok {
		return z
	}
	return "internal"
}

// Permitted reports whether the role may use the service. Unknown roles get
// customer permissions.
func Permitted(t models.UserType, service string) bool {
	perms, ok := rolePermissions[t]
	if !ok {
		perms = rolePermissions[models.UserTypeCustomer]
	}
	return perms[service]
}

// ZeroTrust re-verifies sessions with simulated MFA, checks device posture,
// enforces a role allow-list and thresholds an additive risk score.
type ZeroTrust struct {
	cfg   ZeroTrustConfig
	state *session.State
	mfa   *rand.Rand
}

// NewZeroTrust creates a zero-trust PDP. MFA outcomes come from a generator
// derived from runSeed that is independent of the event stream.
func NewZeroTrust(cfg ZeroTrustConfig, runSeed int64) *ZeroTrust {
	sc := session.DefaultConfig()
	sc.Timeout = cfg.SessionTimeout
	sc.PostureDecay = cfg.DeviceTrustDecay
	return &ZeroTrust{
		cfg:   cfg,
		state: session.NewState(sc),
		mfa:   synth.NewRand(runSeed, synth.StreamMFA),
	}
}

// Name implements PDP.
func (z *ZeroTrust) Name() string { return NameZeroTrust }

// Sessions returns the session state the PDP mutates.
func (z *ZeroTrust) Sessions() *session.State { return z.state }

// Evaluate implements PDP.
func (z *ZeroTrust) Evaluate(ev models.Event) models.Decision {
	now := z.state.Tick()
	uid := ev.User.ID

	sess, ok := z.state.Lookup(uid)
	switch {
	case !ok:
		verified := z.verify(ev)
		z.state.Start(uid, now, verified)
		if !verified {
			return decide(models.ActionStepUp, ReasonMFARequired)
		}
	case z.state.Expired(sess, now):
		verified := z.verify(ev)
		z.state.Start(uid, now, verified)
		if !verified {
			return decide(models.ActionStepUp, ReasonSessionExpired)
		}
	default:
		z.state.Touch(uid, now)
	}

	posture := z.state.Posture(ev.Device.ID, initialPosture(ev.Ctx))
	if posture < ztPostureMinimum {
		d := decide(models.ActionBlock, ReasonDevicePosture)
		d.DeviceScore = models.Float(posture)
		return d
	}

	if !Permitted(ev.User.Type, ev.Tx.Service) {
		d := decide(models.ActionBlock, ReasonPrivileges)
		d.DeviceScore = models.Float(posture)
		return d
	}

	var risk float64
	var factors []string
	if !constants.IsTrustedGeo(ev.Ctx.Geo) {
		risk += 0.35
		factors = append(factors, "ANOMALOUS_GEO")
	}
	if ev.Tx.Amount > ztHighValueAmount {
		risk += 0.25
		factors = append(factors, "HIGH_VALUE")
	}
	if constants.IsOffHours(ev.Ctx.Hour) {
		risk += 0.20
		factors = append(factors, "OFF_HOURS")
	}
	if ev.Ctx.Channel == models.ChannelAPI {
		risk += 0.15
		factors = append(factors, "API_ACCESS")
	}
	if ServiceZone(ev.Tx.Service) == "restricted" && ev.Tx.Amount > ztRestrictedZoneAmount {
		risk += 0.20
		factors = append(factors, "RESTRICTED_ZONE_HIGH_VALUE")
	}
	if z.state.RecordAccess(uid, ev.Tx.Service) {
		risk += 0.25
		factors = append(factors, "LATERAL_MOVEMENT_PATTERN")
	}

	if z.cfg.AssumeBreach {
		z.state.DecayPosture(ev.Device.ID, posture)
	}

	var d models.Decision
	switch {
	case risk >= ztBlockRisk:
		d = decide(models.ActionBlock, ReasonHighRisk)
	case risk >= ztStepUpRisk:
		d = decide(models.ActionStepUp, ReasonMediumRisk)
	default:
		d = decide(models.ActionAllow, ReasonLowRisk)
	}
	d.Risk = risk
	d.Factors = factors
	d.DeviceScore = models.Float(posture)
	return d
}

// verify simulates an MFA challenge.
func (z *ZeroTrust) verify(ev models.Event) bool {
	p := 0.95
	if ev.User.Type == models.UserTypeEmployee {
		p = 0.98
	}
	if !constants.IsTrustedGeo(ev.Ctx.Geo) {
		p *= 0.7
	}
	if ev.Ctx.Channel == models.ChannelAPI {
		p *= 0.85
	}
	return z.mfa.Float64() < p
}

func initialPosture(ctx models.Context) float64 {
	score := 0.8
	if !constants.IsTrustedGeo(ctx.Geo) {
		score *= 0.7
	}
	if ctx.Channel == models.ChannelAPI {
		score *= 0.85
	}
	return score
}
