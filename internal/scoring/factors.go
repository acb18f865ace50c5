package scoring

import "math"

const (
	FactorProximity      = "proximity"
	FactorRating         = "rating"
	FactorAcceptance     = "acceptance"
	FactorSpecialization = "specialization"
	FactorAvailability   = "availability"
)

const (
	defaultRating     = 5.0
	defaultAcceptance = 1.0
	maxRating         = 5.0
)

// Candidate is a rider eligible for one dispatch attempt. It is rebuilt from
// the geo source on every attempt and never persisted as-is.
type Candidate struct {
	RiderID        string   `json:"rider_id"`
	DistanceKm     float64  `json:"distance_km"`
	Heading        *float64 `json:"heading,omitempty"`
	Speed          *float64 `json:"speed,omitempty"`
	AvgRating      *float64 `json:"avg_rating,omitempty"`
	AcceptanceRate *float64 `json:"acceptance_rate,omitempty"`
	LifetimeOrders int      `json:"lifetime_orders"`
}

// Factors is the per-factor breakdown of a score, each in [0, 1].
type Factors struct {
	Proximity      float64 `json:"proximity"`
	Rating         float64 `json:"rating"`
	Acceptance     float64 `json:"acceptance"`
	Specialization float64 `json:"specialization"`
	Availability   float64 `json:"availability"`
}

// Weighted returns the weighted sum of the factors.
func (f Factors) Weighted(w WeightSet) float64 {
	return w.Proximity*f.Proximity +
		w.Rating*f.Rating +
		w.Acceptance*f.Acceptance +
		w.Specialization*f.Specialization +
		w.Availability*f.Availability
}

// AsMap keys each factor by its name, the shape persisted in the dispatch log.
func (f Factors) AsMap() map[string]interface{} {
	return map[string]interface{}{
		FactorProximity:      f.Proximity,
		FactorRating:         f.Rating,
		FactorAcceptance:     f.Acceptance,
		FactorSpecialization: f.Specialization,
		FactorAvailability:   f.Availability,
	}
}

func (f Factors) rounded() Factors {
	return Factors{
		Proximity:      round(f.Proximity, 2),
		Rating:         round(f.Rating, 2),
		Acceptance:     round(f.Acceptance, 2),
		Specialization: round(f.Specialization, 2),
		Availability:   round(f.Availability, 2),
	}
}

// --- Individual factor calculators ---

// ProximityFactor is the inverse distance normalised against the farthest
// candidate of the same attempt. A non-positive max distance scores everyone 1.0.
func ProximityFactor(distanceKm, maxDistanceKm float64) float64 {
	if maxDistanceKm <= 0 {
		return 1.0
	}
	return math.Max(0, 1-distanceKm/maxDistanceKm)
}

// RatingFactor maps a 0-5 average rating onto 0–1. Unrated riders count as 5.0.
func RatingFactor(avgRating *float64) float64 {
	r := defaultRating
	if avgRating != nil {
		r = *avgRating
	}
	return clamp(r/maxRating, 0, 1)
}

// AcceptanceFactor passes the acceptance rate through, defaulting to 1.0.
func AcceptanceFactor(acceptanceRate *float64) float64 {
	a := defaultAcceptance
	if acceptanceRate != nil {
		a = *acceptanceRate
	}
	return clamp(a, 0, 1)
}

// SpecializationFactor is 1.0 for riders who already delivered for the dealer.
func SpecializationFactor(riderID string, specialists map[string]bool) float64 {
	if specialists[riderID] {
		return 1.0
	}
	return 0.0
}

// ConstantAvailability is the default availability factor.
// TODO: replace with remaining shift hours once rider shifts are tracked.
func ConstantAvailability(Candidate) float64 {
	return 1.0
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
