package checkout

import (
	"encoding/json"
	"time"
)

const (
	EventOrderCreated        = "OrderCreated"
	EventPaymentUnreconciled = "PaymentUnreconciled"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"` // 1
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"` // e.g. "checkout-api"
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order_id, atau cart_id kalau order tidak jadi
	Payload       json.RawMessage `json:"payload"`
}

type OrderLine struct {
	ProductID string `json:"product_id"`
	SKU       string `json:"sku"`
	Qty       int    `json:"qty"`
	UnitPrice string `json:"unit_price"`
}

type OrderCreatedPayload struct {
	OrderID          string      `json:"order_id"`
	OrderNumber      string      `json:"order_number"`
	UserID           string      `json:"user_id"`
	BranchID         string      `json:"branch_id"`
	FulfillmentType  string      `json:"fulfillment_type"`
	Items            []OrderLine `json:"items"`
	TotalAmount      string      `json:"total_amount"`
	PaymentReference string      `json:"payment_reference"`
}

type PaymentUnreconciledPayload struct {
	PaymentReference string `json:"payment_reference"`
	CartID           string `json:"cart_id"`
	UserID           string `json:"user_id"`
	Amount           string `json:"amount"`
	FailedStep       string `json:"failed_step"`
	Reason           string `json:"reason"`
}

func NewOrderCreatedPayload(o *Order, paymentRef string) OrderCreatedPayload {
	lines := make([]OrderLine, 0, len(o.Items))
	for _, it := range o.Items {
		lines = append(lines, OrderLine{
			ProductID: it.ProductID.String(),
			SKU:       it.SKU,
			Qty:       it.Quantity,
			UnitPrice: it.UnitPrice.StringFixed(2),
		})
	}
	return OrderCreatedPayload{
		OrderID:          o.ID.String(),
		OrderNumber:      o.OrderNumber,
		UserID:           o.UserID.String(),
		BranchID:         o.BranchID.String(),
		FulfillmentType:  string(o.FulfillmentType),
		Items:            lines,
		TotalAmount:      o.TotalAmount.StringFixed(2),
		PaymentReference: paymentRef,
	}
}
