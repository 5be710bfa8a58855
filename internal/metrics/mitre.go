package metrics

import (
	"sort"

	"github.com/nvandessel/pdpsim/internal/models"
)

// Technique is one MITRE ATT&CK technique emulated by an injection.
type Technique struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Tactic string `json:"tactic"`
}

// attackTechniques maps each scenario to the techniques it emulates.
var attackTechniques = map[models.Scenario][]Technique{
	models.ScenarioCredentialCompromise: {
		{ID: "T1078", Name: "Valid Accounts", Tactic: "Initial Access"},
		{ID: "T1110", Name: "Brute Force", Tactic: "Credential Access"},
		{ID: "T1212", Name: "Exploitation for Credential Access", Tactic: "Credential Access"},
	},
	models.ScenarioInsiderMovement: {
		{ID: "T1021", Name: "Remote Services", Tactic: "Lateral Movement"},
		{ID: "T1570", Name: "Lateral Tool Transfer", Tactic: "Lateral Movement"},
		{ID: "T1550", Name: "Use Alternate Authentication Material", Tactic: "Defense Evasion"},
	},
	models.ScenarioAPIAbuse: {
		{ID: "T1190", Name: "Exploit Public-Facing Application", Tactic: "Initial Access"},
		{ID: "T1595", Name: "Active Scanning", Tactic: "Reconnaissance"},
		{ID: "T1499", Name: "Endpoint Denial of Service", Tactic: "Impact"},
	},
	models.ScenarioMoneyLaundering: {
		{ID: "T1573", Name: "Encrypted Channel", Tactic: "Command and Control"},
		{ID: "T1048", Name: "Exfiltration Over Alternative Protocol", Tactic: "Exfiltration"},
		{ID: "T1027", Name: "Obfuscated Files or Information", Tactic: "Defense Evasion"},
	},
	models.ScenarioSessionHijacking: {
		{ID: "T1539", Name: "Steal Web Session Cookie", Tactic: "Credential Access"},
		{ID: "T1185", Name: "Browser Session Hijacking", Tactic: "Collection"},
		{ID: "T1563", Name: "Remote Service Session Hijacking", Tactic: "Lateral Movement"},
	},
}

// TechniquesFor returns the techniques a scenario emulates.
func TechniquesFor(s models.Scenario) []Technique {
	return attackTechniques[s]
}

// Techniques returns every mapped technique sorted by ID.
func Techniques() []Technique {
	var out []Technique
	for _, s := range models.AllScenarios {
		out = append(out, attackTechniques[s]...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// TechniqueStats counts the attacks attributed to one technique.
type TechniqueStats struct {
	Technique
	TotalAttacks int      `json:"total_attacks"`
	Detected     int      `json:"detected"`
	Blocked      int      `json:"blocked"`
	Scenarios    []string `json:"scenarios"`
}

// DetectionRate returns detected/total as a percentage.
func (t TechniqueStats) DetectionRate() float64 {
	return ratio(t.Detected, t.TotalAttacks) * 100
}

// ScenarioCoverage counts the attacks of one scenario.
type ScenarioCoverage struct {
	Total    int `json:"total"`
	Detected int `json:"detected"`
	Blocked  int `json:"blocked"`
}

// Coverage is the ATT&CK coverage of one decision log. Rates are
// percentages.
type Coverage struct {
	TotalTechniques   int                         `json:"total_techniques"`
	CoveredTechniques int                         `json:"covered_techniques"`
	CoverageRate      float64                     `json:"coverage_rate"`
	TotalAttacks      int                         `json:"total_attacks"`
	TotalDetected     int                         `json:"total_detected"`
	TotalBlocked      int                         `json:"total_blocked"`
	DetectionRate     float64                     `json:"detection_rate"`
	BlockRate         float64                     `json:"block_rate"`
	Techniques        map[string]TechniqueStats   `json:"technique_stats"`
	Scenarios         map[string]ScenarioCoverage `json:"scenario_stats"`
}

// MITRECoverage attributes every attack in the log to the techniques of its
// scenario. A technique is covered once at least one of its attacks was
// blocked or stepped up.
func MITRECoverage(log []models.Record) Coverage {
	techs := make(map[string]TechniqueStats)
	seen := make(map[string]map[string]bool)
	scen := make(map[string]ScenarioCoverage)

	for _, r := range log {
		if !r.IsAttack || r.Scenario == models.ScenarioNone {
			continue
		}
		detected := r.Action.Intercepts()
		blocked := r.Action == models.ActionBlock

		name := r.Scenario.String()
		sc := scen[name]
		sc.Total++
		if detected {
			sc.Detected++
		}
		if blocked {
			sc.Blocked++
		}
		scen[name] = sc

		for _, t := range attackTechniques[r.Scenario] {
			ts, ok := techs[t.ID]
			if !ok {
				ts = TechniqueStats{Technique: t}
				seen[t.ID] = make(map[string]bool)
			}
			ts.TotalAttacks++
			if detected {
				ts.Detected++
			}
			if blocked {
				ts.Blocked++
			}
			if !seen[t.ID][name] {
				seen[t.ID][name] = true
				ts.Scenarios = append(ts.Scenarios, name)
			}
			techs[t.ID] = ts
		}
	}

	c := Coverage{
		TotalTechniques: len(Techniques()),
		Techniques:      techs,
		Scenarios:       scen,
	}
	for _, ts := range techs {
		if ts.Detected > 0 {
			c.CoveredTechniques++
		}
	}
	for _, sc := range scen {
		c.TotalAttacks += sc.Total
		c.TotalDetected += sc.Detected
		c.TotalBlocked += sc.Blocked
	}
	c.CoverageRate = ratio(c.CoveredTechniques, c.TotalTechniques) * 100
	c.DetectionRate = ratio(c.TotalDetected, c.TotalAttacks) * 100
	c.BlockRate = ratio(c.TotalBlocked, c.TotalAttacks) * 100
	return c
}
