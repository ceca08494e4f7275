package checkout

const (
	TopicOrderCreated        = "order.created"
	TopicPaymentUnreconciled = "checkout.payment.unreconciled"
)

// TopicFor maps an event type to its topic; unknown types map to "".
func TopicFor(eventType string) string {
	switch eventType {
	case EventOrderCreated:
		return TopicOrderCreated
	case EventPaymentUnreconciled:
		return TopicPaymentUnreconciled
	}
	return ""
}

// Partition key = correlation id, supaya semua event satu order tetap berurutan.
func PartitionKey(id string) []byte { return []byte(id) }
