package checkout

import (
	"context"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TxOptions struct {
	ReadOnly bool
}

// Store opens transactions against the relational store. RecordAudit writes
// outside any transaction and is used for records that must survive a
// rollback.
type Store interface {
	Begin(ctx context.Context, opts TxOptions) (Tx, error)
	RecordAudit(ctx context.Context, ev AuditEvent) error
}

// Tx is one checkout call's unit of work. LockInventory must hold exclusive
// row locks until Commit or Rollback; stores without row-level locking need
// an equivalent serialization (see memstore).
type Tx interface {
	GetBranch(ctx context.Context, id uuid.UUID) (*Branch, error)
	GetDeliverySlot(ctx context.Context, id uuid.UUID) (*DeliverySlot, error)
	LoadCart(ctx context.Context, id uuid.UUID, forUpdate bool) (*Cart, error)

	ReadInventory(ctx context.Context, branchID uuid.UUID, productIDs []uuid.UUID) (map[uuid.UUID]InventoryRow, error)
	LockInventory(ctx context.Context, branchID uuid.UUID, productIDs []uuid.UUID) (map[uuid.UUID]InventoryRow, error)
	DecrementInventory(ctx context.Context, rowID uuid.UUID, qty int) error

	InsertOrder(ctx context.Context, o *Order) error

	GetIdempotencyRecord(ctx context.Context, userID uuid.UUID, key string) (*IdempotencyRecord, error)
	InsertIdempotencyRecord(ctx context.Context, rec *IdempotencyRecord) error

	RecordAudit(ctx context.Context, ev AuditEvent) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// PaymentGateway captures money. Errors are fatal for the attempt; the core
// never retries a charge.
type PaymentGateway interface {
	Charge(ctx context.Context, paymentTokenID uuid.UUID, amount decimal.Decimal) (string, error)
}

// EventPublisher emits integration events after the fact. Publishing is best effort.
type EventPublisher interface {
	Publish(ctx context.Context, eventType, correlationID string, payload any) error
}

// IdempotencyCache is a fast path in front of the idempotency table. Get
// returns (nil, nil) on a miss.
type IdempotencyCache interface {
	Get(ctx context.Context, userID uuid.UUID, key string) (*IdempotencyRecord, error)
	Put(ctx context.Context, rec *IdempotencyRecord) error
}
