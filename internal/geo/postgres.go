package geo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MikeSquared-Agency/rider-dispatch/internal/scoring"
)

// PostgresSource calls the get_nearby_riders PostGIS function.
type PostgresSource struct {
	pool *pgxpool.Pool
}

func NewPostgresSource(pool *pgxpool.Pool) *PostgresSource {
	return &PostgresSource{pool: pool}
}

func (s *PostgresSource) NearbyRiders(ctx context.Context, lat, lng, radiusKm float64) ([]scoring.Candidate, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT rider_id::text, distance_km, heading, speed, avg_rating,
			acceptance_rate, lifetime_orders
		FROM get_nearby_riders($1, $2, $3)`, lat, lng, radiusKm)
	if err != nil {
		return nil, fmt.Errorf("get_nearby_riders: %w", err)
	}
	return collectCandidates(rows)
}

func collectCandidates(rows pgx.Rows) ([]scoring.Candidate, error) {
	defer rows.Close()

	var candidates []scoring.Candidate
	for rows.Next() {
		var r riderRow
		if err := rows.Scan(
			&r.RiderID, &r.DistanceKm, &r.Heading, &r.Speed,
			&r.AvgRating, &r.AcceptanceRate, &r.LifetimeOrders,
		); err != nil {
			return nil, fmt.Errorf("scan nearby rider: %w", err)
		}
		c, err := r.candidate()
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}
