package models

import "strings"

// Action is the verdict of a PDP
type Action string

const (
	ActionAllow  Action = "allow"
	ActionStepUp Action = "step_up" // allowed only after additional verification
	ActionBlock  Action = "block"
)

// Actions lists every action in severity order.
var Actions = []Action{ActionAllow, ActionStepUp, ActionBlock}

// Intercepts reports whether the action stops or challenges the request.
func (a Action) Intercepts() bool {
	return a == ActionBlock || a == ActionStepUp
}

// TrustChange records identity and device trust around one evaluation.
type TrustChange struct {
	IdentityBefore float64 `json:"identity_before"`
	IdentityAfter  float64 `json:"identity_after"`
	DeviceBefore   float64 `json:"device_before"`
	DeviceAfter    float64 `json:"device_after"`
}

// Decision is the output of one PDP evaluation.
type Decision struct {
	Allowed bool    `json:"allowed"`
	Action  Action  `json:"action"`
	Reason  string  `json:"reason"`
	Risk    float64 `json:"risk"`

	// Theta is the effective trust; only trust-bearing PDPs set it.
	Theta *float64 `json:"theta,omitempty"`

	// Drift is the identity drift component of the risk.
	Drift *float64 `json:"drift,omitempty"`

	// Trust is nil for PDPs without an identity/device trust model.
	Trust *TrustChange `json:"trust,omitempty"`

	// DeviceScore is the device posture seen by posture-aware PDPs.
	DeviceScore *float64 `json:"device_score,omitempty"`

	// Factors names the risk signals that contributed.
	Factors []string `json:"factors,omitempty"`
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}

// Record is one flat decision-log line. Every record carries the same keys;
// values a PDP does not produce are null.
type Record struct {
	Step     int      `json:"step"`
	PDP      string   `json:"pdp"`
	UserID   int      `json:"user_id"`
	UserType UserType `json:"user_type"`
	BaseRisk float64  `json:"base_risk"`
	DeviceID int      `json:"device_id"`
	Service  string   `json:"service"`
	Amount   float64  `json:"amount"`
	Geo      string   `json:"geo"`
	Hour     int      `json:"hour"`
	Channel  Channel  `json:"channel"`
	IsAttack bool     `json:"is_attack"`
	Scenario Scenario `json:"scenario"`

	Allowed bool    `json:"allowed"`
	Action  Action  `json:"action"`
	Reason  string  `json:"reason"`
	Risk    float64 `json:"risk"`

	Theta          *float64 `json:"theta"`
	Drift          *float64 `json:"drift_risk"`
	IdentityBefore *float64 `json:"I_u"`
	IdentityAfter  *float64 `json:"new_I"`
	DeviceBefore   *float64 `json:"D_d"`
	DeviceAfter    *float64 `json:"new_D"`
	DeviceScore    *float64 `json:"device_score"`
	Factors        string   `json:"risk_factors"`
}

// HasTrust reports whether the record carries identity trust values.
func (r Record) HasTrust() bool {
	return r.IdentityBefore != nil && r.IdentityAfter != nil
}

// NewRecord flattens an event and the decision a PDP made for it.
func NewRecord(pdp string, ev Event, d Decision) Record {
	r := Record{
		Step:        ev.Step,
		PDP:         pdp,
		UserID:      ev.User.ID,
		UserType:    ev.User.Type,
		BaseRisk:    ev.User.BaseRisk,
		DeviceID:    ev.Device.ID,
		Service:     ev.Tx.Service,
		Amount:      ev.Tx.Amount,
		Geo:         ev.Ctx.Geo,
		Hour:        ev.Ctx.Hour,
		Channel:     ev.Ctx.Channel,
		IsAttack:    ev.IsAttack,
		Scenario:    ev.Scenario,
		Allowed:     d.Allowed,
		Action:      d.Action,
		Reason:      d.Reason,
		Risk:        d.Risk,
		Theta:       d.Theta,
		Drift:       d.Drift,
		DeviceScore: d.DeviceScore,
		Factors:     strings.Join(d.Factors, ","),
	}
	if d.Trust != nil {
		r.IdentityBefore = Float(d.Trust.IdentityBefore)
		r.IdentityAfter = Float(d.Trust.IdentityAfter)
		r.DeviceBefore = Float(d.Trust.DeviceBefore)
		r.DeviceAfter = Float(d.Trust.DeviceAfter)
	}
	return r
}
