package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Pool exposes the connection pool to collaborators sharing the database.
func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

const orderColumns = `id, zone_id, dealer_contact_id, COALESCE(status::text, 'pending'), pickup_lat, pickup_lng,
	COALESCE(restaurant_name, ''), COALESCE(customer_address, ''),
	COALESCE(base_earning, 0), COALESCE(bonus_earning, 0), COALESCE(tip_amount, 0),
	COALESCE(dispatch_status, 'unassigned'), assigned_rider_id::text, priority_expires_at,
	COALESCE(dispatch_attempts, 0)`

func scanOrder(row pgx.Row) (*Order, error) {
	o := &Order{}
	var riderID sql.NullString
	err := row.Scan(
		&o.ID, &o.ZoneID, &o.DealerContactID, &o.Status, &o.PickupLat, &o.PickupLng,
		&o.RestaurantName, &o.CustomerAddress,
		&o.BaseEarning, &o.BonusEarning, &o.TipAmount,
		&o.DispatchStatus, &riderID, &o.PriorityExpiresAt,
		&o.DispatchAttempts,
	)
	if err != nil {
		return nil, err
	}
	if riderID.Valid {
		o.AssignedRiderID = &riderID.String
	}
	return o, nil
}

func (s *PostgresStore) GetOrder(ctx context.Context, id uuid.UUID) (*Order, error) {
	o, err := scanOrder(s.pool.QueryRow(ctx, `
		SELECT `+orderColumns+`
		FROM orders WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

func (s *PostgresStore) GetZone(ctx context.Context, id uuid.UUID) (*Zone, error) {
	z := &Zone{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, COALESCE(name, ''), latitude, longitude
		FROM hot_zones WHERE id = $1`, id,
	).Scan(&z.ID, &z.Name, &z.Latitude, &z.Longitude)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get zone: %w", err)
	}
	return z, nil
}

// GetDealerSpecialists returns riders with at least one picked-up relay for the dealer.
func (s *PostgresStore) GetDealerSpecialists(ctx context.Context, dealerID uuid.UUID) (map[string]bool, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT rider_id::text
		FROM order_relays
		WHERE dealer_contact_id = $1 AND status = 'picked_up' AND rider_id IS NOT NULL`, dealerID)
	if err != nil {
		return nil, fmt.Errorf("query dealer specialists: %w", err)
	}
	defer rows.Close()

	specialists := make(map[string]bool)
	for rows.Next() {
		var riderID string
		if err := rows.Scan(&riderID); err != nil {
			return nil, err
		}
		specialists[riderID] = true
	}
	return specialists, rows.Err()
}

func (s *PostgresStore) CommitAssignment(ctx context.Context, c *AssignmentCommit) (bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE orders SET
			assigned_rider_id = $2::uuid,
			dispatch_status = 'assigned',
			priority_expires_at = $3,
			dispatch_attempts = $4
		WHERE id = $1 AND COALESCE(dispatch_attempts, 0) = $5`,
		c.OrderID, c.RiderID, c.PriorityExpiresAt, c.AttemptNumber, c.ExpectedAttempts,
	)
	if err != nil {
		return false, fmt.Errorf("update order: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return false, nil
	}

	if err := insertLogEntries(ctx, tx, c.Entries); err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) CommitBroadcast(ctx context.Context, c *BroadcastCommit) (bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE orders SET
			assigned_rider_id = NULL,
			dispatch_status = 'broadcast',
			priority_expires_at = NULL,
			dispatch_attempts = $2
		WHERE id = $1 AND COALESCE(dispatch_attempts, 0) = $3`,
		c.OrderID, c.AttemptNumber, c.ExpectedAttempts,
	)
	if err != nil {
		return false, fmt.Errorf("update order: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return false, nil
	}

	if err := insertLogEntries(ctx, tx, []*DispatchLogEntry{c.Entry}); err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

func insertLogEntries(ctx context.Context, tx pgx.Tx, entries []*DispatchLogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range entries {
		factorsJSON, candidateJSON, err := encodeLogJSON(e)
		if err != nil {
			return err
		}
		batch.Queue(`
			INSERT INTO dispatch_log (order_id, rider_id, action, score, factors_json,
				candidate_json, distance_km, attempt_number)
			VALUES ($1, $2::uuid, $3, $4, $5, $6, $7, $8)
			RETURNING id, created_at`,
			e.OrderID, e.RiderID, string(e.Action), e.Score, factorsJSON,
			candidateJSON, e.DistanceKm, e.AttemptNumber,
		).QueryRow(func(row pgx.Row) error {
			return row.Scan(&e.ID, &e.CreatedAt)
		})
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert dispatch log: %w", err)
	}
	return nil
}

func encodeLogJSON(e *DispatchLogEntry) (factors, candidate []byte, err error) {
	factors, err = json.Marshal(e.Factors)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal factors: %w", err)
	}
	if e.Candidate != nil {
		candidate, err = json.Marshal(e.Candidate)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal candidate snapshot: %w", err)
		}
	}
	return factors, candidate, nil
}

func decodeLogJSON(e *DispatchLogEntry, factors, candidate []byte) error {
	if factors != nil {
		if err := json.Unmarshal(factors, &e.Factors); err != nil {
			return fmt.Errorf("unmarshal factors of log %s: %w", e.ID, err)
		}
	}
	if candidate != nil {
		e.Candidate = &CandidateSnapshot{}
		if err := json.Unmarshal(candidate, e.Candidate); err != nil {
			return fmt.Errorf("unmarshal candidate of log %s: %w", e.ID, err)
		}
	}
	return nil
}

func (s *PostgresStore) CreateNotification(ctx context.Context, n *Notification) error {
	metadataJSON, err := json.Marshal(n.Metadata)
	if err != nil {
		return fmt.Errorf("marshal notification metadata: %w", err)
	}
	err = s.pool.QueryRow(ctx, `
		INSERT INTO notifications (rider_id, title, body, type, metadata)
		VALUES ($1::uuid, $2, $3, $4, $5)
		RETURNING id, created_at`,
		n.RiderID, n.Title, n.Body, n.Type, metadataJSON,
	).Scan(&n.ID, &n.CreatedAt)
	if err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

const logColumns = `id, order_id, rider_id::text, action, score, factors_json,
	candidate_json, distance_km, COALESCE(attempt_number, 0), created_at`

func (s *PostgresStore) GetDispatchLog(ctx context.Context, orderID uuid.UUID, attempt int) ([]*DispatchLogEntry, error) {
	query := `SELECT ` + logColumns + ` FROM dispatch_log WHERE order_id = $1`
	args := []interface{}{orderID}
	if attempt > 0 {
		query += ` AND attempt_number = $2`
		args = append(args, attempt)
	}
	query += ` ORDER BY attempt_number ASC, score DESC NULLS LAST, created_at ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query dispatch log: %w", err)
	}
	defer rows.Close()

	var entries []*DispatchLogEntry
	for rows.Next() {
		e := &DispatchLogEntry{}
		var riderID sql.NullString
		var factorsJSON, candidateJSON []byte
		if err := rows.Scan(
			&e.ID, &e.OrderID, &riderID, &e.Action, &e.Score, &factorsJSON,
			&candidateJSON, &e.DistanceKm, &e.AttemptNumber, &e.CreatedAt,
		); err != nil {
			return nil, err
		}
		if riderID.Valid {
			e.RiderID = &riderID.String
		}
		if err := decodeLogJSON(e, factorsJSON, candidateJSON); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ListAssignedRiders returns every rider that has won an attempt for the order.
func (s *PostgresStore) ListAssignedRiders(ctx context.Context, orderID uuid.UUID) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT rider_id::text
		FROM dispatch_log
		WHERE order_id = $1 AND action = 'assigned' AND rider_id IS NOT NULL`, orderID)
	if err != nil {
		return nil, fmt.Errorf("query assigned riders: %w", err)
	}
	defer rows.Close()

	var riders []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		riders = append(riders, id)
	}
	return riders, rows.Err()
}

// ListExpiredAssignments returns assigned orders whose priority window lapsed
// before any rider accepted them.
func (s *PostgresStore) ListExpiredAssignments(ctx context.Context, before time.Time, limit int) ([]*Order, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE dispatch_status = 'assigned' AND priority_expires_at < $1
			AND COALESCE(status::text, 'pending') = 'pending'
		ORDER BY priority_expires_at ASC
		LIMIT $2`, before, limit)
	if err != nil {
		return nil, fmt.Errorf("query expired assignments: %w", err)
	}
	defer rows.Close()

	var orders []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (s *PostgresStore) GetDispatchStats(ctx context.Context) (*DispatchStats, error) {
	stats := &DispatchStats{}
	err := s.pool.QueryRow(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN COALESCE(dispatch_status, 'unassigned') = 'unassigned' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN dispatch_status = 'assigned' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN dispatch_status = 'broadcast' THEN 1 ELSE 0 END), 0),
			(SELECT COUNT(*) FROM dispatch_log)
		FROM orders`,
	).Scan(&stats.Unassigned, &stats.Assigned, &stats.Broadcast, &stats.LogEntries)
	return stats, err
}
