package broker

import (
	"context"
	"errors"
	"time"

	"github.com/MikeSquared-Agency/rider-dispatch/internal/hermes"
	"github.com/MikeSquared-Agency/rider-dispatch/internal/store"
)

const statsInterval = time.Minute

func (b *Broker) expiryLoop(ctx context.Context) {
	defer b.wg.Done()
	ticker := time.NewTicker(b.cfg.SweepInterval())
	defer ticker.Stop()

	for {
		select {
		case <-b.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.sweepExpired(ctx)
		}
	}
}

// sweepExpired re-dispatches orders whose priority window lapsed without
// the rider acting, excluding every rider already offered the order.
func (b *Broker) sweepExpired(ctx context.Context) {
	orders, err := b.store.ListExpiredAssignments(ctx, b.now(), b.cfg.Dispatch.ExpirySweep.BatchSize)
	if err != nil {
		b.logger.Error("failed to list expired assignments", "error", err)
		return
	}
	if len(orders) > 0 {
		b.logger.Info("re-dispatching expired assignments", "count", len(orders))
	}

	for _, order := range orders {
		if !order.AwaitingAcceptance() {
			b.logger.Debug("skipping accepted order", "order_id", order.ID, "status", order.Status)
			continue
		}
		if err := b.redispatch(ctx, order, ""); err != nil {
			b.logger.Warn("expiry re-dispatch failed", "order_id", order.ID, "error", err)
		}
	}
}

// redispatch runs a new attempt with all previously assigned riders, plus
// extra when set, excluded.
func (b *Broker) redispatch(ctx context.Context, order *store.Order, extra string) error {
	exclude, err := b.store.ListAssignedRiders(ctx, order.ID)
	if err != nil {
		return err
	}
	if extra != "" && !contains(exclude, extra) {
		exclude = append(exclude, extra)
	}

	_, err = b.Dispatch(ctx, order.ID, exclude)
	if errors.Is(err, ErrAssignmentLost) {
		b.logger.Info("re-dispatch superseded by another attempt", "order_id", order.ID)
		return nil
	}
	return err
}

func (b *Broker) statsLoop(ctx context.Context) {
	defer b.wg.Done()
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.publishStats(ctx)
		}
	}
}

func (b *Broker) publishStats(ctx context.Context) {
	stats, err := b.store.GetDispatchStats(ctx)
	if err != nil {
		b.logger.Warn("failed to load dispatch stats", "error", err)
		return
	}
	if err := b.hermes.Publish(hermes.SubjectDispatchStats, hermes.StatsEvent{
		Unassigned: stats.Unassigned,
		Assigned:   stats.Assigned,
		Broadcast:  stats.Broadcast,
		LogEntries: stats.LogEntries,
		Timestamp:  b.now(),
	}); err != nil {
		b.logger.Warn("failed to publish dispatch stats", "error", err)
	}
}

func contains(ids []string, id string) bool {
	id = normalizeRiderID(id)
	for _, v := range ids {
		if normalizeRiderID(v) == id {
			return true
		}
	}
	return false
}
