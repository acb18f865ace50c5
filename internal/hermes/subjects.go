package hermes

import "strings"

const (
	SubjectDispatchRequest = "delivery.dispatch.request"
	SubjectOrderDeclined   = "delivery.order.*.declined"
	SubjectDispatchStats   = "delivery.dispatch.stats"

	StreamName   = "DISPATCH_EVENTS"
	StreamMaxAge = "720h" // 30 days
)

// StreamSubjects are captured by the JetStream stream.
var StreamSubjects = []string{"delivery.order.>", "delivery.dispatch.>"}

func SubjectOrderAssigned(orderID string) string  { return "delivery.order." + orderID + ".assigned" }
func SubjectOrderBroadcast(orderID string) string { return "delivery.order." + orderID + ".broadcast" }
func SubjectOrderDeclinedBy(orderID string) string {
	return "delivery.order." + orderID + ".declined"
}

// OrderIDFromSubject extracts the order token of a delivery.order.<id>.<event> subject.
func OrderIDFromSubject(subject string) (string, bool) {
	parts := strings.Split(subject, ".")
	if len(parts) < 4 || parts[0] != "delivery" || parts[1] != "order" || parts[2] == "" {
		return "", false
	}
	return parts[2], true
}
