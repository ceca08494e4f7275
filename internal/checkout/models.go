package checkout

import (
	"encoding/json"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"time"
)

type FulfillmentType string

const (
	FulfillmentDelivery FulfillmentType = "DELIVERY"
	FulfillmentPickup   FulfillmentType = "PICKUP"
)

func (f FulfillmentType) Valid() bool {
	return f == FulfillmentDelivery || f == FulfillmentPickup
}

type Branch struct {
	ID       uuid.UUID
	Name     string
	IsActive bool
}

// DeliverySlot is a weekly recurring window; StartTime/EndTime are offsets from midnight.
type DeliverySlot struct {
	ID        uuid.UUID
	BranchID  uuid.UUID
	DayOfWeek time.Weekday
	StartTime time.Duration
	EndTime   time.Duration
	IsActive  bool
}

type Cart struct {
	ID     uuid.UUID
	UserID uuid.UUID
	Items  []CartItem
}

// CartItem carries the product snapshot fields needed for order lines.
type CartItem struct {
	ID          uuid.UUID
	ProductID   uuid.UUID
	Quantity    int
	UnitPrice   decimal.Decimal
	ProductName string
	ProductSKU  string
}

type InventoryRow struct {
	ID                uuid.UUID
	ProductID         uuid.UUID
	BranchID          uuid.UUID
	AvailableQuantity int
	ReservedQuantity  int
}

type Order struct {
	ID              uuid.UUID
	OrderNumber     string
	UserID          uuid.UUID
	BranchID        uuid.UUID
	FulfillmentType FulfillmentType
	Status          OrderStatus
	TotalAmount     decimal.Decimal
	Items           []OrderItem
	Delivery        *DeliveryDetails
	Pickup          *PickupDetails
	CreatedAt       time.Time
}

type PickedStatus string

const (
	PickedPending PickedStatus = "PENDING"
	PickedPicked  PickedStatus = "PICKED"
	PickedMissing PickedStatus = "MISSING"
)

type OrderItem struct {
	ID           uuid.UUID
	ProductID    uuid.UUID
	Name         string
	SKU          string
	UnitPrice    decimal.Decimal
	Quantity     int
	PickedStatus PickedStatus
}

type DeliveryDetails struct {
	ID             uuid.UUID
	DeliverySlotID *uuid.UUID
	Address        string
	SlotStart      *time.Time
	SlotEnd        *time.Time
}

type PickupDetails struct {
	ID          uuid.UUID
	BranchID    uuid.UUID
	WindowStart time.Time
	WindowEnd   time.Time
}

type IdempotencyRecord struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	Key             string
	RequestHash     string
	ResponsePayload json.RawMessage
	StatusCode      int
	CreatedAt       time.Time
}

// AuditEvent is the shape handed to the audit sink.
type AuditEvent struct {
	EntityType  string
	EntityID    uuid.UUID
	Action      string
	ActorUserID *uuid.UUID
	OldValue    map[string]any
	NewValue    map[string]any
	Context     map[string]any
}

const (
	AuditEntityOrder              = "order"
	AuditEntityPayment            = "payment"
	AuditEntityPaymentPreferences = "payment_preferences"

	AuditActionCreate               = "CREATE"
	AuditActionSetDefault           = "SET_DEFAULT"
	AuditActionCapturedNotCommitted = "PAYMENT_CAPTURED_NOT_COMMITTED"
)

type MissingItem struct {
	ProductID         uuid.UUID `json:"product_id"`
	RequestedQuantity int       `json:"requested_quantity"`
	AvailableQuantity int       `json:"available_quantity"`
}

type PreviewRequest struct {
	CartID          uuid.UUID       `json:"cart_id"`
	FulfillmentType FulfillmentType `json:"fulfillment_type"`
	BranchID        *uuid.UUID      `json:"branch_id,omitempty"`
	DeliverySlotID  *uuid.UUID      `json:"delivery_slot_id,omitempty"`
	Address         *string         `json:"address,omitempty"`
}

type PreviewResponse struct {
	CartTotal       decimal.Decimal  `json:"cart_total"`
	DeliveryFee     *decimal.Decimal `json:"delivery_fee"`
	MissingItems    []MissingItem    `json:"missing_items"`
	FulfillmentType FulfillmentType  `json:"fulfillment_type"`
}

// ConfirmRequest is the client payload. UserID is the authenticated caller
// (uuid.Nil when the transport does not supply one); IdempotencyKey comes
// from the Idempotency-Key header.
type ConfirmRequest struct {
	UserID          uuid.UUID       `json:"-"`
	IdempotencyKey  string          `json:"-"`
	CartID          uuid.UUID       `json:"cart_id"`
	PaymentTokenID  uuid.UUID       `json:"payment_token_id"`
	FulfillmentType FulfillmentType `json:"fulfillment_type"`
	BranchID        *uuid.UUID      `json:"branch_id,omitempty"`
	DeliverySlotID  *uuid.UUID      `json:"delivery_slot_id,omitempty"`
	Address         *string         `json:"address,omitempty"`
	SaveAsDefault   bool            `json:"save_as_default"`
}

type ConfirmResponse struct {
	OrderID          uuid.UUID       `json:"order_id"`
	OrderNumber      string          `json:"order_number"`
	TotalPaid        decimal.Decimal `json:"total_paid"`
	PaymentReference string          `json:"payment_reference"`

	// Replayed is set when the response was served from an idempotency record.
	Replayed bool `json:"-"`
}
