// seed_riders.go: standalone script that places fake online riders around a
// pickup point in the Redis rider index, for local runs with
// candidate_source: redis.
//
// Usage:
//
//	go run scripts/seed_riders.go -redis localhost:6379 -n 20 -radius 4
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/MikeSquared-Agency/rider-dispatch/internal/geo"
)

// Afragola centre
const (
	defaultLat = 40.9219
	defaultLng = 14.3094
)

func main() {
	addr := flag.String("redis", "localhost:6379", "Redis address")
	geoKey := flag.String("geo-key", "riders:online", "GEO set of online riders")
	statsPrefix := flag.String("stats-prefix", "rider:stats:", "prefix of per-rider stats hashes")
	lat := flag.Float64("lat", defaultLat, "centre latitude")
	lng := flag.Float64("lng", defaultLng, "centre longitude")
	n := flag.Int("n", 20, "number of riders")
	radius := flag.Float64("radius", 4, "max distance from centre in km")
	seed := flag.Int64("seed", 1, "random seed")
	dryRun := flag.Bool("dry-run", false, "print riders without writing")
	flag.Parse()

	rng := rand.New(rand.NewSource(*seed))
	ctx := context.Background()

	var src *geo.RedisSource
	if !*dryRun {
		client := redis.NewClient(&redis.Options{Addr: *addr})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			log.Fatalf("connect redis: %v", err)
		}
		src = geo.NewRedisSource(client, *geoKey, *statsPrefix)
	}

	for i := 0; i < *n; i++ {
		id := uuid.NewString()
		rLat, rLng := offset(*lat, *lng, rng.Float64()**radius, rng.Float64()*2*math.Pi)
		stats := map[string]interface{}{
			"avg_rating":      fmt.Sprintf("%.2f", 3.5+rng.Float64()*1.5),
			"acceptance_rate": fmt.Sprintf("%.2f", 0.5+rng.Float64()*0.5),
			"lifetime_orders": rng.Intn(500),
		}

		if *dryRun {
			fmt.Printf("%s  %.5f,%.5f  %v\n", id, rLat, rLng, stats)
			continue
		}
		if err := src.SetRider(ctx, id, rLat, rLng, stats); err != nil {
			log.Fatalf("seed rider %s: %v", id, err)
		}
	}

	if !*dryRun {
		fmt.Printf("seeded %d riders within %.1fkm of %.4f,%.4f\n", *n, *radius, *lat, *lng)
	}
}

// offset moves a point distKm along bearing (radians) on a spherical earth.
func offset(lat, lng, distKm, bearing float64) (float64, float64) {
	const earthRadiusKm = 6371.0
	d := distKm / earthRadiusKm
	φ1 := lat * math.Pi / 180
	λ1 := lng * math.Pi / 180
	φ2 := math.Asin(math.Sin(φ1)*math.Cos(d) + math.Cos(φ1)*math.Sin(d)*math.Cos(bearing))
	λ2 := λ1 + math.Atan2(math.Sin(bearing)*math.Sin(d)*math.Cos(φ1), math.Cos(d)-math.Sin(φ1)*math.Sin(φ2))
	return φ2 * 180 / math.Pi, λ2 * 180 / math.Pi
}
