package broker

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/rider-dispatch/internal/hermes"
	"github.com/MikeSquared-Agency/rider-dispatch/internal/store"
)

// SetupSubscriptions registers NATS subscriptions for dispatch requests and
// rider declines.
func (b *Broker) SetupSubscriptions() {
	if b.hermes == nil {
		return
	}

	if err := b.hermes.Subscribe(hermes.SubjectDispatchRequest, func(_ string, data []byte) {
		b.handleDispatchRequest(context.Background(), data)
	}); err != nil {
		b.logger.Error("failed to subscribe", "subject", hermes.SubjectDispatchRequest, "error", err)
	}

	if err := b.hermes.Subscribe(hermes.SubjectOrderDeclined, func(subject string, data []byte) {
		b.handleDeclined(context.Background(), subject, data)
	}); err != nil {
		b.logger.Error("failed to subscribe", "subject", hermes.SubjectOrderDeclined, "error", err)
	}
}

func (b *Broker) handleDispatchRequest(ctx context.Context, data []byte) {
	var req hermes.DispatchRequestEvent
	if err := json.Unmarshal(data, &req); err != nil {
		b.logger.Warn("invalid dispatch request event", "error", err)
		return
	}
	id, err := uuid.Parse(req.OrderID)
	if err != nil {
		b.logger.Warn("dispatch request with invalid order id", "order_id", req.OrderID)
		return
	}
	if _, err := b.Dispatch(ctx, id, req.ExcludeRiderIDs); err != nil {
		b.logger.Warn("dispatch request failed", "order_id", id, "error", err)
	}
}

// handleDeclined re-dispatches an order its assigned rider turned down. A
// decline from anyone else is stale and ignored.
func (b *Broker) handleDeclined(ctx context.Context, subject string, data []byte) {
	var evt hermes.RiderDeclinedEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		b.logger.Warn("invalid decline event", "error", err)
		return
	}
	if evt.OrderID == "" {
		evt.OrderID, _ = hermes.OrderIDFromSubject(subject)
	}
	id, err := uuid.Parse(evt.OrderID)
	if err != nil || evt.RiderID == "" {
		b.logger.Warn("decline event missing order or rider", "subject", subject)
		return
	}

	order, err := b.store.GetOrder(ctx, id)
	if err != nil {
		b.logger.Error("failed to load declined order", "order_id", id, "error", err)
		return
	}
	if order == nil {
		return
	}
	if order.DispatchStatus != store.DispatchAssigned || order.AssignedRiderID == nil ||
		normalizeRiderID(*order.AssignedRiderID) != normalizeRiderID(evt.RiderID) {
		b.logger.Info("ignoring stale decline", "order_id", id, "rider_id", evt.RiderID)
		return
	}
	if !order.AwaitingAcceptance() {
		b.logger.Info("ignoring decline of accepted order", "order_id", id,
			"rider_id", evt.RiderID, "status", order.Status)
		return
	}

	b.logger.Info("rider declined, re-dispatching", "order_id", id, "rider_id", evt.RiderID)
	if err := b.redispatch(ctx, order, evt.RiderID); err != nil {
		b.logger.Warn("decline re-dispatch failed", "order_id", id, "error", err)
	}
}
