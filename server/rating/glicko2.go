package rating

import "math"

// Glicko-2 constants per the Glickman paper.
const (
	g2Scale = 173.7178
	g2Q     = math.Ln10 / 400.0
	g2Pi2   = math.Pi * math.Pi
)

// Glicko2 is the secondary per-model rating, on the public 1500 scale.
// Unlike Elo it also tracks rating deviation and volatility, so the
// report can show how settled each model's estimate is.
type Glicko2 struct {
	Rating     float64 // r (default 1500)
	RD         float64 // rating deviation (default 350)
	Volatility float64 // sigma (default 0.06)
	Periods    int     // rating-period updates applied
}

func NewGlicko2() *Glicko2 {
	return &Glicko2{Rating: 1500, RD: 350, Volatility: 0.06}
}

func NewGlicko2With(r, rd, sigma float64) *Glicko2 {
	return &Glicko2{Rating: r, RD: rd, Volatility: sigma}
}

// Copy returns a snapshot, used so every model in a turn updates
// against opponents' start-of-period values.
func (g *Glicko2) Copy() *Glicko2 {
	cp := *g
	return &cp
}

func toMuPhi(r, rd float64) (mu, phi float64)   { return (r - 1500.0) / g2Scale, rd / g2Scale }
func fromMuPhi(mu, phi float64) (r, rd float64) { return mu*g2Scale + 1500.0, phi * g2Scale }

func gFactor(phi float64) float64 { return 1.0 / math.Sqrt(1.0+3.0*g2Q*g2Q*phi*phi/g2Pi2) }
func gExpect(mu, muj, phij float64) float64 {
	return 1.0 / (1.0 + math.Exp(-gFactor(phij)*(mu-muj)))
}

// OpponentResult is one opponent's aggregate result for a rating
// period. S must be in [0,1]: 1=win, 0=loss, 0.5=tie, or any convex
// score mapping.
type OpponentResult struct {
	Opp *Glicko2
	S   float64
}

// Age applies the no-games step: RD grows with volatility, the rating
// itself stays put.
func (g *Glicko2) Age() {
	mu, phi := toMuPhi(g.Rating, g.RD)
	phiStar := math.Sqrt(phi*phi + g.Volatility*g.Volatility)
	g.Rating, g.RD = fromMuPhi(mu, phiStar)
	g.Periods++
}

// UpdateBatch runs the canonical Glicko-2 rating-period update. All
// opponents must carry their values as of the START of the period.
// tau around 0.5 is typical.
func (g *Glicko2) UpdateBatch(results []OpponentResult, tau float64) {
	if len(results) == 0 {
		g.Age()
		return
	}

	mu, phi := toMuPhi(g.Rating, g.RD)

	var sumG2E float64 // Σ g² · E · (1−E)
	var sumGSE float64 // Σ g · (S − E)
	for _, r := range results {
		muB, phiB := toMuPhi(r.Opp.Rating, r.Opp.RD)
		gB := gFactor(phiB)
		e := gExpect(mu, muB, phiB)
		sumG2E += gB * gB * e * (1.0 - e)
		sumGSE += gB * (r.S - e)
	}
	v := 1.0 / (g2Q * g2Q * sumG2E)
	delta := v * g2Q * sumGSE

	// Near-zero delta: skip the volatility root finder but still
	// shrink RD.
	if math.Abs(delta) < 1e-12 {
		phiStar := math.Sqrt(phi*phi + g.Volatility*g.Volatility)
		phiNew := 1.0 / math.Sqrt(1.0/(phiStar*phiStar)+1.0/v)
		muNew := mu + (phiNew*phiNew)*g2Q*sumGSE
		g.Rating, g.RD = fromMuPhi(muNew, phiNew)
		g.Periods++
		return
	}

	// Root-find the new volatility.
	a2 := math.Log(g.Volatility * g.Volatility)
	f := func(x float64) float64 {
		ex := math.Exp(x)
		num := ex * (delta*delta - phi*phi - v - ex)
		den := 2.0 * (phi*phi + v + ex) * (phi*phi + v + ex)
		return (num / den) - (x-a2)/(tau*tau)
	}

	A := a2
	var B float64
	if delta*delta > phi*phi+v {
		B = math.Log(delta*delta - phi*phi - v)
	} else {
		k := 1.0
		for f(a2-k) < 0 && k < 1e6 {
			k *= 2.0
		}
		B = a2 - k
	}
	fA, fB := f(A), f(B)
	for it := 0; it < 60 && math.Abs(B-A) > 1e-6; it++ {
		C := A + (A-B)*fA/(fB-fA)
		fC := f(C)
		if math.IsNaN(fC) || math.IsInf(fC, 0) {
			break
		}
		if fC*fB < 0 {
			A, fA = B, fB
		}
		B, fB = C, fC
	}

	newVol := math.Exp(B / 2.0)
	phiStar := math.Sqrt(phi*phi + newVol*newVol)
	phiNew := 1.0 / math.Sqrt(1.0/(phiStar*phiStar)+1.0/v)
	muNew := mu + (phiNew*phiNew)*g2Q*sumGSE

	g.Rating, g.RD = fromMuPhi(muNew, phiNew)
	g.Volatility = newVol
	g.Periods++
}
