package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/rider-dispatch/internal/config"
	"github.com/MikeSquared-Agency/rider-dispatch/internal/geo"
	"github.com/MikeSquared-Agency/rider-dispatch/internal/hermes"
	"github.com/MikeSquared-Agency/rider-dispatch/internal/scoring"
	"github.com/MikeSquared-Agency/rider-dispatch/internal/store"
)

var (
	ErrOrderNotFound = errors.New("order not found")
	// ErrAssignmentLost means another attempt moved the order between read
	// and commit. Nothing was written.
	ErrAssignmentLost   = errors.New("assignment lost to a concurrent attempt")
	ErrPickupUnresolved = errors.New("pickup location unresolved")
)

type Action string

const (
	ActionAssigned  Action = "assigned"
	ActionBroadcast Action = "broadcast"
)

const ReasonNoRiders = "no_riders_available"

// Outcome is the result of one successful dispatch attempt. Transports map
// it to their own wire shapes.
type Outcome struct {
	Action        Action
	OrderID       uuid.UUID
	AttemptNumber int

	// Assigned
	RiderID           string
	Score             float64
	Factors           *scoring.Factors
	DistanceKm        float64
	PriorityExpiresAt *time.Time
	CandidatesCount   int

	// Broadcast
	Reason   string
	RadiusKm float64
}

type Broker struct {
	store  store.Store
	geo    geo.Source
	hermes hermes.Client
	scorer *scoring.Scorer
	cfg    *config.Config
	logger *slog.Logger
	now    func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func New(s store.Store, src geo.Source, h hermes.Client, cfg *config.Config, logger *slog.Logger) (*Broker, error) {
	weights := scoring.WeightSet{
		Proximity:      cfg.Scoring.Weights.Proximity,
		Rating:         cfg.Scoring.Weights.Rating,
		Acceptance:     cfg.Scoring.Weights.Acceptance,
		Specialization: cfg.Scoring.Weights.Specialization,
		Availability:   cfg.Scoring.Weights.Availability,
	}
	sc, err := scoring.NewScorer(weights)
	if err != nil {
		return nil, err
	}

	return &Broker{
		store:  s,
		geo:    src,
		hermes: h,
		scorer: sc,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		stopCh: make(chan struct{}),
	}, nil
}

// Scorer returns the scorer used for every attempt.
func (b *Broker) Scorer() *scoring.Scorer {
	return b.scorer
}

// Start runs the optional background loops. Dispatch itself needs none.
func (b *Broker) Start(ctx context.Context) {
	if b.cfg.Dispatch.ExpirySweep.Enabled {
		b.wg.Add(1)
		go b.expiryLoop(ctx)
	}
	if b.hermes != nil {
		b.wg.Add(1)
		go b.statsLoop(ctx)
	}
}

func (b *Broker) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
	b.wg.Wait()
}

// Dispatch runs one scoring and assignment attempt for an order. Riders in
// exclude are never considered.
func (b *Broker) Dispatch(ctx context.Context, orderID uuid.UUID, exclude []string) (*Outcome, error) {
	start := time.Now()
	outcome, err := b.dispatch(ctx, orderID, exclude)
	observeDispatch(outcome, err, time.Since(start))
	return outcome, err
}

func (b *Broker) dispatch(ctx context.Context, orderID uuid.UUID, exclude []string) (*Outcome, error) {
	order, err := b.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order: %w", err)
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}

	lat, lng, err := b.resolvePickup(ctx, order)
	if err != nil {
		return nil, err
	}

	candidates := excludeRiders(b.nearbyRiders(ctx, order.ID, lat, lng), exclude)
	attempt := order.DispatchAttempts + 1

	if len(candidates) == 0 {
		return b.broadcast(ctx, order, attempt, exclude)
	}

	specialists := b.dealerSpecialists(ctx, order)
	ranked := b.scorer.Rank(candidates, specialists)
	maxDist := scoring.MaxDistance(candidates)
	winner := ranked[0]

	expiresAt := b.now().Add(b.cfg.PriorityWindow())
	entries := make([]*store.DispatchLogEntry, 0, len(ranked))
	for i, r := range ranked {
		action := store.LogScored
		if i == 0 {
			action = store.LogAssigned
		}
		entries = append(entries, logEntry(order.ID, action, r, maxDist, specialists, attempt))
	}

	ok, err := b.store.CommitAssignment(ctx, &store.AssignmentCommit{
		OrderID:           order.ID,
		ExpectedAttempts:  order.DispatchAttempts,
		RiderID:           winner.Score.RiderID,
		PriorityExpiresAt: expiresAt,
		AttemptNumber:     attempt,
		Entries:           entries,
	})
	if err != nil {
		return nil, fmt.Errorf("commit assignment: %w", err)
	}
	if !ok {
		b.logger.Info("assignment lost to concurrent attempt", "order_id", order.ID, "attempt", attempt)
		return nil, ErrAssignmentLost
	}

	b.notifyRider(ctx, order, winner.Score)

	if b.hermes != nil {
		if err := b.hermes.Publish(hermes.SubjectOrderAssigned(order.ID.String()), hermes.OrderAssignedEvent{
			OrderID:           order.ID.String(),
			RiderID:           winner.Score.RiderID,
			Score:             winner.Score.TotalScore,
			Factors:           factorFloats(winner.Score.Factors),
			DistanceKm:        winner.Score.DistanceKm,
			AttemptNumber:     attempt,
			PriorityExpiresAt: expiresAt,
		}); err != nil {
			b.logger.Warn("failed to publish assignment", "order_id", order.ID, "error", err)
		}
	}

	b.logger.Info("order assigned", "order_id", order.ID, "rider_id", winner.Score.RiderID,
		"score", winner.Score.TotalScore, "distance_km", winner.Score.DistanceKm,
		"candidates", len(ranked), "attempt", attempt)

	factors := winner.Score.Factors
	return &Outcome{
		Action:            ActionAssigned,
		OrderID:           order.ID,
		AttemptNumber:     attempt,
		RiderID:           winner.Score.RiderID,
		Score:             winner.Score.TotalScore,
		Factors:           &factors,
		DistanceKm:        winner.Score.DistanceKm,
		PriorityExpiresAt: &expiresAt,
		CandidatesCount:   len(ranked),
	}, nil
}

func (b *Broker) broadcast(ctx context.Context, order *store.Order, attempt int, exclude []string) (*Outcome, error) {
	excluded := exclude
	if excluded == nil {
		excluded = []string{}
	}
	radius := b.cfg.Dispatch.RadiusKm

	ok, err := b.store.CommitBroadcast(ctx, &store.BroadcastCommit{
		OrderID:          order.ID,
		ExpectedAttempts: order.DispatchAttempts,
		AttemptNumber:    attempt,
		Entry: &store.DispatchLogEntry{
			OrderID: order.ID,
			Action:  store.LogNoRiders,
			Factors: map[string]interface{}{
				"radius_km": radius,
				"excluded":  excluded,
			},
			AttemptNumber: attempt,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("commit broadcast: %w", err)
	}
	if !ok {
		b.logger.Info("broadcast lost to concurrent attempt", "order_id", order.ID, "attempt", attempt)
		return nil, ErrAssignmentLost
	}

	if b.hermes != nil {
		if err := b.hermes.Publish(hermes.SubjectOrderBroadcast(order.ID.String()), hermes.OrderBroadcastEvent{
			OrderID:       order.ID.String(),
			Reason:        ReasonNoRiders,
			RadiusKm:      radius,
			Excluded:      excluded,
			AttemptNumber: attempt,
		}); err != nil {
			b.logger.Warn("failed to publish broadcast", "order_id", order.ID, "error", err)
		}
	}

	b.logger.Info("no riders available, order broadcast", "order_id", order.ID,
		"radius_km", radius, "excluded", len(excluded), "attempt", attempt)

	return &Outcome{
		Action:        ActionBroadcast,
		OrderID:       order.ID,
		AttemptNumber: attempt,
		Reason:        ReasonNoRiders,
		RadiusKm:      radius,
	}, nil
}

// resolvePickup prefers the order's own coordinates, then its zone, then
// the configured fallback point when enabled.
func (b *Broker) resolvePickup(ctx context.Context, order *store.Order) (float64, float64, error) {
	if order.HasPickupCoordinates() {
		return *order.PickupLat, *order.PickupLng, nil
	}

	if order.ZoneID != nil {
		zone, err := b.store.GetZone(ctx, *order.ZoneID)
		if err != nil {
			return 0, 0, fmt.Errorf("load zone: %w", err)
		}
		if zone != nil {
			return zone.Latitude, zone.Longitude, nil
		}
		b.logger.Warn("order zone not found", "order_id", order.ID, "zone_id", *order.ZoneID)
	}

	fb := b.cfg.Dispatch.FallbackPickup
	if fb.Enabled {
		b.logger.Warn("using fallback pickup point", "order_id", order.ID, "lat", fb.Lat, "lng", fb.Lng)
		return fb.Lat, fb.Lng, nil
	}
	return 0, 0, ErrPickupUnresolved
}

// nearbyRiders treats a failing candidate source as an empty one.
func (b *Broker) nearbyRiders(ctx context.Context, orderID uuid.UUID, lat, lng float64) []scoring.Candidate {
	candidates, err := b.geo.NearbyRiders(ctx, lat, lng, b.cfg.Dispatch.RadiusKm)
	if err != nil {
		candidateSourceErrors.Inc()
		b.logger.Error("candidate source failed, treating as no riders", "order_id", orderID, "error", err)
		return nil
	}
	candidatesReturned.Observe(float64(len(candidates)))
	return candidates
}

func (b *Broker) dealerSpecialists(ctx context.Context, order *store.Order) map[string]bool {
	if order.DealerContactID == nil {
		return nil
	}
	specialists, err := b.store.GetDealerSpecialists(ctx, *order.DealerContactID)
	if err != nil {
		b.logger.Warn("failed to load dealer specialists", "order_id", order.ID,
			"dealer_contact_id", *order.DealerContactID, "error", err)
		return nil
	}
	return specialists
}

func excludeRiders(candidates []scoring.Candidate, exclude []string) []scoring.Candidate {
	if len(exclude) == 0 {
		return candidates
	}
	skip := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		skip[normalizeRiderID(id)] = true
	}
	kept := candidates[:0:0]
	for _, c := range candidates {
		if !skip[normalizeRiderID(c.RiderID)] {
			kept = append(kept, c)
		}
	}
	return kept
}

// normalizeRiderID canonicalises ids that are UUIDs so that case and
// brace variants compare equal. Other ids are returned unchanged.
func normalizeRiderID(id string) string {
	if u, err := uuid.Parse(id); err == nil {
		return u.String()
	}
	return id
}

func logEntry(orderID uuid.UUID, action store.LogAction, r scoring.Ranked, maxDist float64, specialists map[string]bool, attempt int) *store.DispatchLogEntry {
	riderID := r.Score.RiderID
	score := r.Score.TotalScore
	dist := r.Score.DistanceKm
	return &store.DispatchLogEntry{
		OrderID: orderID,
		RiderID: &riderID,
		Action:  action,
		Score:   &score,
		Factors: r.Score.Factors.AsMap(),
		Candidate: &store.CandidateSnapshot{
			DistanceKm:     r.Candidate.DistanceKm,
			MaxDistanceKm:  maxDist,
			AvgRating:      r.Candidate.AvgRating,
			AcceptanceRate: r.Candidate.AcceptanceRate,
			Specialist:     specialists[riderID],
		},
		DistanceKm:    &dist,
		AttemptNumber: attempt,
	}
}

// Rescore recomputes a logged candidate's score from its snapshot. It
// reports false for rows without one, such as no_riders rows.
func Rescore(sc *scoring.Scorer, e *store.DispatchLogEntry) (scoring.Score, bool) {
	if e.Candidate == nil || e.RiderID == nil {
		return scoring.Score{}, false
	}
	c := scoring.Candidate{
		RiderID:        *e.RiderID,
		DistanceKm:     e.Candidate.DistanceKm,
		AvgRating:      e.Candidate.AvgRating,
		AcceptanceRate: e.Candidate.AcceptanceRate,
	}
	specialists := map[string]bool{*e.RiderID: e.Candidate.Specialist}
	return sc.Score(c, e.Candidate.MaxDistanceKm, specialists), true
}

func factorFloats(f scoring.Factors) map[string]float64 {
	return map[string]float64{
		scoring.FactorProximity:      f.Proximity,
		scoring.FactorRating:         f.Rating,
		scoring.FactorAcceptance:     f.Acceptance,
		scoring.FactorSpecialization: f.Specialization,
		scoring.FactorAvailability:   f.Availability,
	}
}
