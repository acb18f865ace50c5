package scoring

import (
	"fmt"
	"math"
)

// WeightSet defines the relative importance of each dispatch factor.
// All weights must sum to 1.0 (±0.001 tolerance).
type WeightSet struct {
	Proximity      float64
	Rating         float64
	Acceptance     float64
	Specialization float64
	Availability   float64
}

// DefaultWeights returns the production weight distribution.
func DefaultWeights() WeightSet {
	return WeightSet{
		Proximity:      0.40,
		Rating:         0.30,
		Acceptance:     0.15,
		Specialization: 0.10,
		Availability:   0.05,
	}
}

// Sum returns the total of all weights.
func (w WeightSet) Sum() float64 {
	return w.Proximity + w.Rating + w.Acceptance + w.Specialization + w.Availability
}

// Validate checks that weights sum to 1.0 and none are negative.
func (w WeightSet) Validate() error {
	if math.Abs(w.Sum()-1.0) > 0.001 {
		return fmt.Errorf("weights sum to %.4f, must sum to 1.0", w.Sum())
	}
	for _, v := range w.asList() {
		if v < 0 {
			return fmt.Errorf("negative weight: %f", v)
		}
	}
	return nil
}

func (w WeightSet) asList() []float64 {
	return []float64{w.Proximity, w.Rating, w.Acceptance, w.Specialization, w.Availability}
}
