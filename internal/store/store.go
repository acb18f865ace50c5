package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type DispatchStatus string

const (
	DispatchUnassigned DispatchStatus = "unassigned"
	DispatchAssigned   DispatchStatus = "assigned"
	DispatchBroadcast  DispatchStatus = "broadcast"
)

// OrderStatus is the order's lifecycle state, owned by the delivery flow.
// Dispatch only reads it.
type OrderStatus string

const (
	OrderPending  OrderStatus = "pending"
	OrderAccepted OrderStatus = "accepted"
	OrderPickedUp OrderStatus = "picked_up"
)

type LogAction string

const (
	LogAssigned LogAction = "assigned"
	LogScored   LogAction = "scored"
	LogNoRiders LogAction = "no_riders"
)

// Order holds the dispatch-relevant columns of an order row.
type Order struct {
	ID              uuid.UUID   `json:"id"`
	ZoneID          *uuid.UUID  `json:"zone_id,omitempty"`
	DealerContactID *uuid.UUID  `json:"dealer_contact_id,omitempty"`
	Status          OrderStatus `json:"status"`
	PickupLat       *float64    `json:"pickup_lat,omitempty"`
	PickupLng       *float64    `json:"pickup_lng,omitempty"`

	RestaurantName  string `json:"restaurant_name,omitempty"`
	CustomerAddress string `json:"customer_address,omitempty"`

	// Earnings
	BaseEarning  float64 `json:"base_earning"`
	BonusEarning float64 `json:"bonus_earning"`
	TipAmount    float64 `json:"tip_amount"`

	// Dispatch state. AssignedRiderID and PriorityExpiresAt are set iff
	// DispatchStatus is assigned; DispatchAttempts doubles as the row version.
	DispatchStatus    DispatchStatus `json:"dispatch_status"`
	AssignedRiderID   *string        `json:"assigned_rider_id,omitempty"`
	PriorityExpiresAt *time.Time     `json:"priority_expires_at,omitempty"`
	DispatchAttempts  int            `json:"dispatch_attempts"`
}

// AwaitingAcceptance reports whether no rider has accepted the order yet.
// Only such orders may be handed to another rider.
func (o *Order) AwaitingAcceptance() bool {
	return o.Status == "" || o.Status == OrderPending
}

// HasPickupCoordinates reports whether the order carries its own pickup point.
func (o *Order) HasPickupCoordinates() bool {
	return o.PickupLat != nil && o.PickupLng != nil
}

type Zone struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
}

// CandidateSnapshot records the raw scoring inputs of one logged candidate so
// the row can be re-scored later.
type CandidateSnapshot struct {
	DistanceKm     float64  `json:"distance_km"`
	MaxDistanceKm  float64  `json:"max_distance_km"`
	AvgRating      *float64 `json:"avg_rating,omitempty"`
	AcceptanceRate *float64 `json:"acceptance_rate,omitempty"`
	Specialist     bool     `json:"specialist"`
}

// DispatchLogEntry is one append-only row of dispatch history.
type DispatchLogEntry struct {
	ID            uuid.UUID              `json:"id"`
	OrderID       uuid.UUID              `json:"order_id"`
	RiderID       *string                `json:"rider_id,omitempty"`
	Action        LogAction              `json:"action"`
	Score         *float64               `json:"score,omitempty"`
	Factors       map[string]interface{} `json:"factors,omitempty"`
	Candidate     *CandidateSnapshot     `json:"candidate,omitempty"`
	DistanceKm    *float64               `json:"distance_km,omitempty"`
	AttemptNumber int                    `json:"attempt_number"`
	CreatedAt     time.Time              `json:"created_at"`
}

type Notification struct {
	ID        uuid.UUID              `json:"id"`
	RiderID   string                 `json:"rider_id"`
	Title     string                 `json:"title"`
	Body      string                 `json:"body"`
	Type      string                 `json:"type"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// AssignmentCommit is applied only if the order's dispatch_attempts still
// equals ExpectedAttempts.
type AssignmentCommit struct {
	OrderID           uuid.UUID
	ExpectedAttempts  int
	RiderID           string
	PriorityExpiresAt time.Time
	AttemptNumber     int
	Entries           []*DispatchLogEntry
}

// BroadcastCommit is applied only if the order's dispatch_attempts still
// equals ExpectedAttempts.
type BroadcastCommit struct {
	OrderID          uuid.UUID
	ExpectedAttempts int
	AttemptNumber    int
	Entry            *DispatchLogEntry
}

type DispatchStats struct {
	Unassigned int `json:"unassigned"`
	Assigned   int `json:"assigned"`
	Broadcast  int `json:"broadcast"`
	LogEntries int `json:"log_entries"`
}

type Store interface {
	GetOrder(ctx context.Context, id uuid.UUID) (*Order, error)
	GetZone(ctx context.Context, id uuid.UUID) (*Zone, error)

	// Specialization index
	GetDealerSpecialists(ctx context.Context, dealerID uuid.UUID) (map[string]bool, error)

	// Guarded transitions. They report false, with nothing written, when
	// another attempt moved the order first.
	CommitAssignment(ctx context.Context, c *AssignmentCommit) (bool, error)
	CommitBroadcast(ctx context.Context, c *BroadcastCommit) (bool, error)

	CreateNotification(ctx context.Context, n *Notification) error

	// Dispatch history. attempt <= 0 returns every attempt.
	GetDispatchLog(ctx context.Context, orderID uuid.UUID, attempt int) ([]*DispatchLogEntry, error)
	ListAssignedRiders(ctx context.Context, orderID uuid.UUID) ([]string, error)

	ListExpiredAssignments(ctx context.Context, before time.Time, limit int) ([]*Order, error)
	GetDispatchStats(ctx context.Context) (*DispatchStats, error)

	Close() error
}
