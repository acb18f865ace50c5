package hermes

import "time"

// DispatchRequestEvent asks the engine to dispatch an order, e.g. from the
// order-creation flow.
type DispatchRequestEvent struct {
	OrderID         string   `json:"order_id"`
	ExcludeRiderIDs []string `json:"exclude_rider_ids,omitempty"`
}

// RiderDeclinedEvent is emitted by the rider app when a rider turns an
// offered order down.
type RiderDeclinedEvent struct {
	OrderID string `json:"order_id"`
	RiderID string `json:"rider_id"`
}

type OrderAssignedEvent struct {
	OrderID           string             `json:"order_id"`
	RiderID           string             `json:"rider_id"`
	Score             float64            `json:"score"`
	Factors           map[string]float64 `json:"factors"`
	DistanceKm        float64            `json:"distance_km"`
	AttemptNumber     int                `json:"attempt_number"`
	PriorityExpiresAt time.Time          `json:"priority_expires_at"`
}

type OrderBroadcastEvent struct {
	OrderID       string   `json:"order_id"`
	Reason        string   `json:"reason"`
	RadiusKm      float64  `json:"radius_km"`
	Excluded      []string `json:"excluded,omitempty"`
	AttemptNumber int      `json:"attempt_number"`
}

type StatsEvent struct {
	Unassigned int       `json:"unassigned"`
	Assigned   int       `json:"assigned"`
	Broadcast  int       `json:"broadcast"`
	LogEntries int       `json:"log_entries"`
	Timestamp  time.Time `json:"timestamp"`
}
