package broker

import (
	"context"
	"fmt"

	"github.com/MikeSquared-Agency/rider-dispatch/internal/scoring"
	"github.com/MikeSquared-Agency/rider-dispatch/internal/store"
)

const (
	notificationTitle = "Nuovo ordine assegnato!"
	notificationType  = "new_order"

	defaultRestaurant = "Ordine"
	defaultAddress    = "Consegna"
)

// notifyRider queues the new-order notification for the winner. A failure
// is logged and counted; the assignment stands.
func (b *Broker) notifyRider(ctx context.Context, order *store.Order, winner scoring.Score) {
	n := newOrderNotification(order, winner)
	if err := b.store.CreateNotification(ctx, n); err != nil {
		notificationFailures.Inc()
		b.logger.Error("failed to queue rider notification", "order_id", order.ID,
			"rider_id", winner.RiderID, "error", err)
	}
}

func newOrderNotification(order *store.Order, winner scoring.Score) *store.Notification {
	restaurant := order.RestaurantName
	if restaurant == "" {
		restaurant = defaultRestaurant
	}
	address := order.CustomerAddress
	if address == "" {
		address = defaultAddress
	}
	return &store.Notification{
		RiderID: winner.RiderID,
		Title:   notificationTitle,
		Body:    fmt.Sprintf("%s → %s (€%.2f)", restaurant, address, order.BaseEarning),
		Type:    notificationType,
		Metadata: map[string]interface{}{
			"order_id":    order.ID.String(),
			"score":       winner.TotalScore,
			"distance_km": winner.DistanceKm,
		},
	}
}
