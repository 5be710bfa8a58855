// Package constants provides named constants used throughout the pdpsim codebase.
// This centralizes the service catalog, geography sets and default simulation
// parameters so PDPs, the synthesizer and the metrics engine agree on them.
package constants

// Service names in catalog order. The synthesizer draws uniformly from this list.
const (
	ServicePayments         = "payments"
	ServiceSettlement       = "settlement"
	ServiceRiskAnalytics    = "risk_analytics"
	ServiceAML              = "aml"
	ServiceCustomerIdentity = "customer_identity"
)

// Services is the ordered service catalog.
var Services = []string{
	ServicePayments,
	ServiceSettlement,
	ServiceRiskAnalytics,
	ServiceAML,
	ServiceCustomerIdentity,
}

// serviceWeights are the criticality weights used by the TII.
var serviceWeights = map[string]float64{
	ServicePayments:         1.0,
	ServiceSettlement:       1.2,
	ServiceRiskAnalytics:    0.8,
	ServiceAML:              1.1,
	ServiceCustomerIdentity: 0.9,
}

// DefaultServiceWeight applies to services outside the catalog.
const DefaultServiceWeight = 1.0

// ServiceWeight returns the criticality weight of a service.
func ServiceWeight(service string) float64 {
	if w, ok := serviceWeights[service]; ok {
		return w
	}
	return DefaultServiceWeight
}

// IsSensitiveService reports whether the adaptive PDP treats the service as
// sensitive (settlement and AML).
func IsSensitiveService(service string) bool {
	return service == ServiceSettlement || service == ServiceAML
}

// TrustedGeos are the regions where legitimate traffic originates.
// The order matters: the synthesizer draws from it by index.
var TrustedGeos = []string{"US-FL", "US-NY", "US-CA", "BR-SP"}

// HighRiskGeos are the regions used by credential-compromise injections and
// checked by the baseline PDP.
var HighRiskGeos = []string{"RU", "CN", "NG"}

// HijackGeos are the regions used by session-hijacking injections. They mix
// trusted and untrusted regions.
var HijackGeos = []string{"US-FL", "US-NY", "BR-SP", "DE", "IN"}

// InsiderServices are the targets of insider lateral movement.
var InsiderServices = []string{ServiceRiskAnalytics, ServiceAML, ServiceSettlement}

// IsTrustedGeo reports whether geo belongs to the trusted set. Unknown
// regions are untrusted.
func IsTrustedGeo(geo string) bool {
	for _, g := range TrustedGeos {
		if g == geo {
			return true
		}
	}
	return false
}

// IsHighRiskGeo reports whether geo belongs to the high-risk set.
func IsHighRiskGeo(geo string) bool {
	for _, g := range HighRiskGeos {
		if g == geo {
			return true
		}
	}
	return false
}

// IsOffHours reports whether the hour falls outside 06:00-22:59.
func IsOffHours(hour int) bool {
	return hour < 6 || hour > 22
}

// Default simulation parameters.
const (
	DefaultNumUsers          = 500
	DefaultNumDevices        = 800
	DefaultNumEvents         = 5000
	DefaultAttackProbability = 0.05
	DefaultSeed              = 42
	DefaultNumRuns           = 30
)

// Trust-adaptation defaults.
const (
	// DefaultTrust is the initial identity and device trust.
	DefaultTrust = 0.9

	// DefaultIdentityDriftFactor scales the relative amount deviation into drift risk.
	DefaultIdentityDriftFactor = 0.30

	// DefaultTrustDecay is the multiplicative identity decay under suspicion.
	DefaultTrustDecay = 0.12

	// DefaultTrustGrowth is the fraction of the gap to the ceiling recovered per normal event.
	DefaultTrustGrowth = 0.20

	// DefaultITALDriftWeight weights trust drift against block fraction in the ITAL.
	DefaultITALDriftWeight = 0.6
)

// Amount distribution of legitimate transactions (log-normal).
const (
	AmountLogMean  = 3.0
	AmountLogSigma = 0.7
)

// Financial impact defaults.
const (
	DefaultCostPerFalsePositive = 50.0
	DefaultCostPerFalseNegative = 25000.0
)
