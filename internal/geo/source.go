// Package geo finds online riders near a pickup point.
package geo

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/MikeSquared-Agency/rider-dispatch/internal/scoring"
)

// Source returns online riders within radiusKm of a point, nearest first.
type Source interface {
	NearbyRiders(ctx context.Context, lat, lng, radiusKm float64) ([]scoring.Candidate, error)
}

var (
	ErrMissingRiderID  = errors.New("candidate row missing rider_id")
	ErrMissingDistance = errors.New("candidate row missing distance_km")
	ErrInvalidDistance = errors.New("candidate row has invalid distance_km")
)

// riderRow is the shape produced by every backend before validation.
type riderRow struct {
	RiderID        *string
	DistanceKm     *float64
	Heading        *float64
	Speed          *float64
	AvgRating      *float64
	AcceptanceRate *float64
	LifetimeOrders *int
}

func (r riderRow) candidate() (scoring.Candidate, error) {
	if r.RiderID == nil || *r.RiderID == "" {
		return scoring.Candidate{}, ErrMissingRiderID
	}
	if r.DistanceKm == nil {
		return scoring.Candidate{}, fmt.Errorf("rider %s: %w", *r.RiderID, ErrMissingDistance)
	}
	if d := *r.DistanceKm; d < 0 || math.IsNaN(d) || math.IsInf(d, 0) {
		return scoring.Candidate{}, fmt.Errorf("rider %s: %w: %v", *r.RiderID, ErrInvalidDistance, d)
	}
	c := scoring.Candidate{
		RiderID:        *r.RiderID,
		DistanceKm:     *r.DistanceKm,
		Heading:        r.Heading,
		Speed:          r.Speed,
		AvgRating:      r.AvgRating,
		AcceptanceRate: r.AcceptanceRate,
	}
	if r.LifetimeOrders != nil {
		c.LifetimeOrders = *r.LifetimeOrders
	}
	return c, nil
}
