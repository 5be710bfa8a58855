package models

import "fmt"

// Scenario identifies an adversarial injection. Zero means a legitimate event.
type Scenario int

const (
	ScenarioNone                 Scenario = 0
	ScenarioCredentialCompromise Scenario = 1
	ScenarioInsiderMovement      Scenario = 2
	ScenarioAPIAbuse             Scenario = 3
	ScenarioMoneyLaundering      Scenario = 4
	ScenarioSessionHijacking     Scenario = 5
)

// AllScenarios lists every injection in id order.
var AllScenarios = []Scenario{
	ScenarioCredentialCompromise,
	ScenarioInsiderMovement,
	ScenarioAPIAbuse,
	ScenarioMoneyLaundering,
	ScenarioSessionHijacking,
}

var scenarioNames = map[Scenario]string{
	ScenarioNone:                 "none",
	ScenarioCredentialCompromise: "credential_compromise",
	ScenarioInsiderMovement:      "insider_movement",
	ScenarioAPIAbuse:             "api_abuse",
	ScenarioMoneyLaundering:      "money_laundering",
	ScenarioSessionHijacking:     "session_hijacking",
}

// String returns the snake_case scenario name.
func (s Scenario) String() string {
	if n, ok := scenarioNames[s]; ok {
		return n
	}
	return fmt.Sprintf("scenario_%d", int(s))
}

// ParseScenario maps a scenario name back to its id.
func ParseScenario(name string) (Scenario, bool) {
	for id, n := range scenarioNames {
		if n == name {
			return id, true
		}
	}
	return ScenarioNone, false
}

// Transaction is a single request against a service.
type Transaction struct {
	UserID   int      `json:"user_id" yaml:"user_id"`
	Service  string   `json:"service" yaml:"service"`
	Amount   float64  `json:"amount" yaml:"amount"`
	IsAttack bool     `json:"is_attack" yaml:"is_attack"`
	Scenario Scenario `json:"scenario" yaml:"scenario"`
}

// Event is the unit of simulation. It is a value and is never mutated after
// the synthesizer emits it.
type Event struct {
	Step     int         `json:"step"`
	User     User        `json:"user"`
	Device   Device      `json:"device"`
	Tx       Transaction `json:"tx"`
	Ctx      Context     `json:"ctx"`
	IsAttack bool        `json:"is_attack"`
	Scenario Scenario    `json:"scenario"`
}
