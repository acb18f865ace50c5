//go:build integration

package store

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
)

func setupTestDB(t *testing.T) *PostgresStore {
	t.Helper()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()
	s, err := NewPostgresStore(ctx, dbURL)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}

	t.Cleanup(func() {
		_, _ = s.pool.Exec(ctx, "TRUNCATE dispatch_log, notifications CASCADE")
		_, _ = s.pool.Exec(ctx, "DELETE FROM orders WHERE restaurant_name = 'integration-test'")
		s.Close()
	})

	return s
}

func insertOrder(t *testing.T, s *PostgresStore) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := s.pool.Exec(context.Background(), `
		INSERT INTO orders (id, restaurant_name, customer_address, base_earning,
			pickup_lat, pickup_lng, status, dispatch_status, dispatch_attempts)
		VALUES ($1, 'integration-test', 'Via Roma 1', 4.5, 40.92, 14.31, 'pending', 'unassigned', 0)`, id)
	if err != nil {
		t.Fatalf("insert order: %v", err)
	}
	return id
}

func TestGetOrderMissing(t *testing.T) {
	s := setupTestDB(t)

	got, err := s.GetOrder(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("GetOrder failed: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for missing order, got %+v", got)
	}
}

func TestCommitAssignmentWritesOrderAndLog(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	orderID := insertOrder(t, s)
	riderID := uuid.NewString()

	score := 0.91
	expires := time.Now().Add(time.Minute).UTC().Truncate(time.Second)
	ok, err := s.CommitAssignment(ctx, &AssignmentCommit{
		OrderID:           orderID,
		ExpectedAttempts:  0,
		RiderID:           riderID,
		PriorityExpiresAt: expires,
		AttemptNumber:     1,
		Entries: []*DispatchLogEntry{{
			OrderID:       orderID,
			RiderID:       &riderID,
			Action:        LogAssigned,
			Score:         &score,
			Factors:       map[string]interface{}{"proximity": 1.0},
			Candidate:     &CandidateSnapshot{DistanceKm: 0.5, MaxDistanceKm: 0.5},
			AttemptNumber: 1,
		}},
	})
	if err != nil {
		t.Fatalf("CommitAssignment failed: %v", err)
	}
	if !ok {
		t.Fatal("expected assignment to apply")
	}

	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		t.Fatalf("GetOrder failed: %v", err)
	}
	if order.DispatchStatus != DispatchAssigned {
		t.Errorf("expected assigned, got %s", order.DispatchStatus)
	}
	if order.AssignedRiderID == nil || *order.AssignedRiderID != riderID {
		t.Errorf("expected rider %s, got %v", riderID, order.AssignedRiderID)
	}
	if order.DispatchAttempts != 1 {
		t.Errorf("expected 1 attempt, got %d", order.DispatchAttempts)
	}

	entries, err := s.GetDispatchLog(ctx, orderID, 1)
	if err != nil {
		t.Fatalf("GetDispatchLog failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entries))
	}
	if entries[0].Candidate == nil || entries[0].Candidate.DistanceKm != 0.5 {
		t.Errorf("expected candidate snapshot to round-trip, got %+v", entries[0].Candidate)
	}

	riders, err := s.ListAssignedRiders(ctx, orderID)
	if err != nil {
		t.Fatalf("ListAssignedRiders failed: %v", err)
	}
	if len(riders) != 1 || riders[0] != riderID {
		t.Errorf("expected [%s], got %v", riderID, riders)
	}
}

func TestCommitAssignmentStaleVersion(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	orderID := insertOrder(t, s)
	riderID := uuid.NewString()

	ok, err := s.CommitAssignment(ctx, &AssignmentCommit{
		OrderID:           orderID,
		ExpectedAttempts:  3,
		RiderID:           riderID,
		PriorityExpiresAt: time.Now().Add(time.Minute),
		AttemptNumber:     4,
		Entries: []*DispatchLogEntry{{
			OrderID: orderID, RiderID: &riderID, Action: LogAssigned, AttemptNumber: 4,
		}},
	})
	if err != nil {
		t.Fatalf("CommitAssignment failed: %v", err)
	}
	if ok {
		t.Fatal("expected stale version to be rejected")
	}

	entries, err := s.GetDispatchLog(ctx, orderID, 0)
	if err != nil {
		t.Fatalf("GetDispatchLog failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no log rows after a lost commit, got %d", len(entries))
	}
}

func TestConcurrentCommitsSingleWinner(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	orderID := insertOrder(t, s)

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			riderID := uuid.NewString()
			ok, err := s.CommitAssignment(ctx, &AssignmentCommit{
				OrderID:           orderID,
				ExpectedAttempts:  0,
				RiderID:           riderID,
				PriorityExpiresAt: time.Now().Add(time.Minute),
				AttemptNumber:     1,
				Entries: []*DispatchLogEntry{{
					OrderID: orderID, RiderID: &riderID, Action: LogAssigned, AttemptNumber: 1,
				}},
			})
			if err != nil {
				t.Errorf("CommitAssignment failed: %v", err)
				return
			}
			if ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
	entries, err := s.GetDispatchLog(ctx, orderID, 0)
	if err != nil {
		t.Fatalf("GetDispatchLog failed: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected 1 log row, got %d", len(entries))
	}
}

func TestCommitBroadcastClearsAssignment(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	orderID := insertOrder(t, s)

	ok, err := s.CommitBroadcast(ctx, &BroadcastCommit{
		OrderID:          orderID,
		ExpectedAttempts: 0,
		AttemptNumber:    1,
		Entry: &DispatchLogEntry{
			OrderID:       orderID,
			Action:        LogNoRiders,
			Factors:       map[string]interface{}{"radius_km": 5.0, "excluded": []string{}},
			AttemptNumber: 1,
		},
	})
	if err != nil {
		t.Fatalf("CommitBroadcast failed: %v", err)
	}
	if !ok {
		t.Fatal("expected broadcast to apply")
	}

	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		t.Fatalf("GetOrder failed: %v", err)
	}
	if order.DispatchStatus != DispatchBroadcast {
		t.Errorf("expected broadcast, got %s", order.DispatchStatus)
	}
	if order.AssignedRiderID != nil || order.PriorityExpiresAt != nil {
		t.Error("expected rider and expiry to be cleared")
	}

	stats, err := s.GetDispatchStats(ctx)
	if err != nil {
		t.Fatalf("GetDispatchStats failed: %v", err)
	}
	if stats.Broadcast < 1 {
		t.Errorf("expected at least one broadcast order, got %d", stats.Broadcast)
	}
}

func TestListExpiredAssignments(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	orderID := insertOrder(t, s)
	riderID := uuid.NewString()

	_, err := s.CommitAssignment(ctx, &AssignmentCommit{
		OrderID:           orderID,
		RiderID:           riderID,
		PriorityExpiresAt: time.Now().Add(-time.Minute),
		AttemptNumber:     1,
	})
	if err != nil {
		t.Fatalf("CommitAssignment failed: %v", err)
	}

	expired, err := s.ListExpiredAssignments(ctx, time.Now(), 10)
	if err != nil {
		t.Fatalf("ListExpiredAssignments failed: %v", err)
	}
	found := false
	for _, o := range expired {
		if o.ID == orderID {
			found = true
		}
	}
	if !found {
		t.Error("expected lapsed assignment to be listed")
	}
}

func TestListExpiredAssignmentsSkipsAcceptedOrders(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	orderID := insertOrder(t, s)
	riderID := uuid.NewString()

	ok, err := s.CommitAssignment(ctx, &AssignmentCommit{
		OrderID:           orderID,
		RiderID:           riderID,
		PriorityExpiresAt: time.Now().Add(-time.Minute),
		AttemptNumber:     1,
	})
	if err != nil || !ok {
		t.Fatalf("CommitAssignment failed: ok=%v err=%v", ok, err)
	}
	if _, err := s.pool.Exec(ctx, `UPDATE orders SET status = 'accepted' WHERE id = $1`, orderID); err != nil {
		t.Fatalf("accept order: %v", err)
	}

	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		t.Fatalf("GetOrder failed: %v", err)
	}
	if order.Status != OrderAccepted || order.AwaitingAcceptance() {
		t.Errorf("expected accepted order, got status %q", order.Status)
	}

	expired, err := s.ListExpiredAssignments(ctx, time.Now(), 50)
	if err != nil {
		t.Fatalf("ListExpiredAssignments failed: %v", err)
	}
	for _, o := range expired {
		if o.ID == orderID {
			t.Fatal("expected accepted order to be left alone by the sweep")
		}
	}
}
