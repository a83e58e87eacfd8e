package domain

// RoutingRule selects a delivery provider from a destination-derived key.
// MatchKey names the derivation ("country_code" today), MatchValue the key
// value the rule fires on.
type RoutingRule struct {
	Code       string
	Service    Service
	Provider   string
	MatchKey   string
	MatchValue string
}

// MatchKeyCountryCode is the only derivation currently persisted; it applies
// to SMS destinations.
const MatchKeyCountryCode = "country_code"
