package scoring

import (
	"fmt"
	"sort"
)

// minMaxDistanceKm floors the per-attempt normaliser so that a pool of
// riders all standing on the pickup point does not divide by zero.
const minMaxDistanceKm = 0.1

// Score is the scorer's output for one candidate in one attempt.
type Score struct {
	RiderID    string  `json:"rider_id"`
	TotalScore float64 `json:"total_score"`
	Factors    Factors `json:"factors"`
	DistanceKm float64 `json:"distance_km"`
}

// Ranked pairs a score with the candidate it was computed from.
type Ranked struct {
	Candidate Candidate
	Score     Score
}

// Scorer computes the weighted linear dispatch score. It holds no state
// besides its configuration and is safe for concurrent use.
type Scorer struct {
	weights      WeightSet
	availability func(Candidate) float64
}

type Option func(*Scorer)

// WithAvailability overrides the availability factor. Results are clamped to [0, 1].
func WithAvailability(fn func(Candidate) float64) Option {
	return func(s *Scorer) {
		if fn != nil {
			s.availability = fn
		}
	}
}

// NewScorer creates a Scorer, rejecting weight sets that do not sum to 1.0.
func NewScorer(weights WeightSet, opts ...Option) (*Scorer, error) {
	if err := weights.Validate(); err != nil {
		return nil, fmt.Errorf("scoring weights: %w", err)
	}
	s := &Scorer{weights: weights, availability: ConstantAvailability}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Scorer) Weights() WeightSet { return s.weights }

// Score computes the total and factor breakdown for a single candidate.
func (s *Scorer) Score(c Candidate, maxDistanceKm float64, specialists map[string]bool) Score {
	f := Factors{
		Proximity:      ProximityFactor(c.DistanceKm, maxDistanceKm),
		Rating:         RatingFactor(c.AvgRating),
		Acceptance:     AcceptanceFactor(c.AcceptanceRate),
		Specialization: SpecializationFactor(c.RiderID, specialists),
		Availability:   clamp(s.availability(c), 0, 1),
	}
	return Score{
		RiderID:    c.RiderID,
		TotalScore: round(f.Weighted(s.weights), 3),
		Factors:    f.rounded(),
		DistanceKm: round(c.DistanceKm, 2),
	}
}

// Rank scores every candidate against the attempt's max distance and returns
// them best first. Ties keep the order the candidates were given in.
func (s *Scorer) Rank(candidates []Candidate, specialists map[string]bool) []Ranked {
	maxDist := MaxDistance(candidates)
	ranked := make([]Ranked, 0, len(candidates))
	for _, c := range candidates {
		ranked = append(ranked, Ranked{Candidate: c, Score: s.Score(c, maxDist, specialists)})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score.TotalScore > ranked[j].Score.TotalScore
	})
	return ranked
}

// MaxDistance returns the farthest candidate distance, floored at 0.1 km.
func MaxDistance(candidates []Candidate) float64 {
	max := minMaxDistanceKm
	for _, c := range candidates {
		if c.DistanceKm > max {
			max = c.DistanceKm
		}
	}
	return max
}
