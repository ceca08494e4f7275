package checkout

import (
	"fmt"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"strings"
	"time"
)

// NewOrderNumber returns ORD-<unix seconds>-<6 hex>. The orders table's
// unique index is what actually guarantees uniqueness.
func NewOrderNumber(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	return fmt.Sprintf("ORD-%d-%s", now.Unix(), strings.ToUpper(suffix))
}

// OrderInput collects what BuildOrder needs beyond the cart.
type OrderInput struct {
	Cart         *Cart
	Request      ConfirmRequest
	BranchID     uuid.UUID
	Totals       Totals
	Slot         *DeliverySlot
	PickupWindow time.Duration
	Now          time.Time
}

// BuildOrder materializes an order from the locked cart. Line items copy
// name, sku and price so later catalog edits never reach a placed order.
func BuildOrder(in OrderInput) *Order {
	o := &Order{
		ID:              uuid.New(),
		OrderNumber:     NewOrderNumber(in.Now),
		UserID:          in.Cart.UserID,
		BranchID:        in.BranchID,
		FulfillmentType: in.Request.FulfillmentType,
		Status:          OrderCreated,
		TotalAmount:     in.Totals.TotalAmount,
		CreatedAt:       in.Now,
	}

	o.Items = make([]OrderItem, 0, len(in.Cart.Items))
	for _, it := range in.Cart.Items {
		o.Items = append(o.Items, OrderItem{
			ID:           uuid.New(),
			ProductID:    it.ProductID,
			Name:         it.ProductName,
			SKU:          it.ProductSKU,
			UnitPrice:    it.UnitPrice,
			Quantity:     it.Quantity,
			PickedStatus: PickedPending,
		})
	}

	switch in.Request.FulfillmentType {
	case FulfillmentDelivery:
		d := &DeliveryDetails{ID: uuid.New(), DeliverySlotID: in.Request.DeliverySlotID}
		if in.Request.Address != nil {
			d.Address = *in.Request.Address
		}
		if in.Slot != nil {
			start, end := in.Slot.NextOccurrence(in.Now)
			d.SlotStart, d.SlotEnd = &start, &end
		}
		o.Delivery = d
	case FulfillmentPickup:
		o.Pickup = &PickupDetails{
			ID:          uuid.New(),
			BranchID:    in.BranchID,
			WindowStart: in.Now,
			WindowEnd:   in.Now.Add(in.PickupWindow),
		}
	}
	return o
}

// AuditCreation is the order CREATE event written alongside the order.
func AuditCreation(o *Order) AuditEvent {
	actor := o.UserID
	return AuditEvent{
		EntityType:  AuditEntityOrder,
		EntityID:    o.ID,
		Action:      AuditActionCreate,
		ActorUserID: &actor,
		NewValue: map[string]any{
			"order_number": o.OrderNumber,
			"total_amount": o.TotalAmount.StringFixed(2),
		},
	}
}

// AuditDefaultPayment records the caller's request to keep the payment
// token as their default.
func AuditDefaultPayment(userID, paymentTokenID uuid.UUID) AuditEvent {
	actor := userID
	return AuditEvent{
		EntityType:  AuditEntityPaymentPreferences,
		EntityID:    userID,
		Action:      AuditActionSetDefault,
		ActorUserID: &actor,
		NewValue:    map[string]any{"payment_token_id": paymentTokenID.String()},
	}
}

// AuditUnreconciledPayment flags money captured for an order that never
// committed. It is written outside the failed transaction.
func AuditUnreconciledPayment(userID, cartID uuid.UUID, reference string, amount decimal.Decimal, cause error) AuditEvent {
	actor := userID
	ctx := map[string]any{
		"reference": reference,
		"cart_id":   cartID.String(),
		"amount":    amount.StringFixed(2),
	}
	if cause != nil {
		ctx["error"] = cause.Error()
	}
	return AuditEvent{
		EntityType:  AuditEntityPayment,
		EntityID:    cartID,
		Action:      AuditActionCapturedNotCommitted,
		ActorUserID: &actor,
		Context:     ctx,
	}
}
