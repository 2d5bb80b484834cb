package rating

import "math"

// EloConfig carries the standard Elo parameters.
type EloConfig struct {
	InitialRating float64 `json:"initial_rating"`
	KFactor       float64 `json:"k_factor"`
	ScaleFactor   float64 `json:"scale_factor"`
}

func DefaultEloConfig() EloConfig {
	return EloConfig{InitialRating: 1000, KFactor: 32, ScaleFactor: 400}
}

// Expected is the probability that a rating rA "wins" against rB.
// Expected(r, r, scale) == 0.5 for any r and any positive scale.
func Expected(rA, rB, scale float64) float64 {
	return 1.0 / (1.0 + math.Pow(10, (rB-rA)/scale))
}

// Update moves a rating toward the actual outcome. A pair update
// applied to both sides with the same k is zero-sum.
func Update(r, actual, expected, k float64) float64 {
	return r + k*(actual-expected)
}
