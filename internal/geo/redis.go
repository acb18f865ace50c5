package geo

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/MikeSquared-Agency/rider-dispatch/internal/scoring"
)

// Hash fields of a rider's stats record.
const (
	statAvgRating      = "avg_rating"
	statAcceptanceRate = "acceptance_rate"
	statLifetimeOrders = "lifetime_orders"
	statHeading        = "heading"
	statSpeed          = "speed"
)

// RedisSource reads live rider positions from a GEO set and per-rider stats
// from hashes keyed statsPrefix+riderID.
type RedisSource struct {
	redis       *redis.Client
	geoKey      string
	statsPrefix string
}

func NewRedisSource(client *redis.Client, geoKey, statsPrefix string) *RedisSource {
	return &RedisSource{redis: client, geoKey: geoKey, statsPrefix: statsPrefix}
}

func (s *RedisSource) NearbyRiders(ctx context.Context, lat, lng, radiusKm float64) ([]scoring.Candidate, error) {
	locations, err := s.redis.GeoSearchLocation(ctx, s.geoKey, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  lng,
			Latitude:   lat,
			Radius:     radiusKm,
			RadiusUnit: "km",
			Sort:       "ASC",
		},
		WithDist: true,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("geosearch %s: %w", s.geoKey, err)
	}
	if len(locations) == 0 {
		return nil, nil
	}

	pipe := s.redis.Pipeline()
	stats := make([]*redis.MapStringStringCmd, len(locations))
	for i, loc := range locations {
		stats[i] = pipe.HGetAll(ctx, s.statsPrefix+loc.Name)
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("load rider stats: %w", err)
	}

	candidates := make([]scoring.Candidate, 0, len(locations))
	for i, loc := range locations {
		r := statsRow(stats[i].Val())
		id, dist := loc.Name, loc.Dist
		r.RiderID = &id
		r.DistanceKm = &dist
		c, err := r.candidate()
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, c)
	}
	return candidates, nil
}

// statsRow parses a stats hash. Missing or malformed fields stay nil so the
// scorer applies its defaults.
func statsRow(fields map[string]string) riderRow {
	var r riderRow
	r.AvgRating = parseFloat(fields[statAvgRating])
	r.AcceptanceRate = parseFloat(fields[statAcceptanceRate])
	r.Heading = parseFloat(fields[statHeading])
	r.Speed = parseFloat(fields[statSpeed])
	if v, err := strconv.Atoi(fields[statLifetimeOrders]); err == nil {
		r.LifetimeOrders = &v
	}
	return r
}

func parseFloat(s string) *float64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

// SetRider writes a rider's position and stats. Used by seeding and by
// location ingest.
func (s *RedisSource) SetRider(ctx context.Context, riderID string, lat, lng float64, stats map[string]interface{}) error {
	pipe := s.redis.TxPipeline()
	pipe.GeoAdd(ctx, s.geoKey, &redis.GeoLocation{
		Name:      riderID,
		Longitude: lng,
		Latitude:  lat,
	})
	if len(stats) > 0 {
		pipe.HSet(ctx, s.statsPrefix+riderID, stats)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// RemoveRider takes a rider out of the online set.
func (s *RedisSource) RemoveRider(ctx context.Context, riderID string) error {
	return s.redis.ZRem(ctx, s.geoKey, riderID).Err()
}
