package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"time"
)

const pgUniqueViolation = "23505"

// PGStore is the Postgres Store. Numerics are read as text to keep decimal
// precision.
type PGStore struct{ DB *pgxpool.Pool }

func (s *PGStore) Begin(ctx context.Context, opts TxOptions) (Tx, error) {
	o := pgx.TxOptions{}
	if opts.ReadOnly {
		o.AccessMode = pgx.ReadOnly
	}
	tx, err := s.DB.BeginTx(ctx, o)
	if err != nil {
		return nil, err
	}
	return &pgTx{tx: tx}, nil
}

func (s *PGStore) RecordAudit(ctx context.Context, ev AuditEvent) error {
	return insertAudit(ctx, s.DB, ev)
}

// PaymentMethodID resolves a stored payment token to the provider's method id.
func (s *PGStore) PaymentMethodID(ctx context.Context, tokenID uuid.UUID) (string, error) {
	var id string
	err := s.DB.QueryRow(ctx, `SELECT provider_method_id FROM payment_tokens WHERE id=$1`, tokenID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	return id, err
}

// HasUnreconciledAudit reports whether a captured-not-committed record exists
// for the payment reference.
func (s *PGStore) HasUnreconciledAudit(ctx context.Context, reference string) (bool, error) {
	var ok bool
	err := s.DB.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM audit_logs
			WHERE entity_type=$1 AND action=$2 AND context->>'reference'=$3
		)`, AuditEntityPayment, AuditActionCapturedNotCommitted, reference).Scan(&ok)
	return ok, err
}

type pgTx struct{ tx pgx.Tx }

func (t *pgTx) GetBranch(ctx context.Context, id uuid.UUID) (*Branch, error) {
	var b Branch
	err := t.tx.QueryRow(ctx, `SELECT id, name, is_active FROM branches WHERE id=$1`, id).
		Scan(&b.ID, &b.Name, &b.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (t *pgTx) GetDeliverySlot(ctx context.Context, id uuid.UUID) (*DeliverySlot, error) {
	var (
		s          DeliverySlot
		dow        int
		start, end int64
	)
	err := t.tx.QueryRow(ctx, `
		SELECT id, branch_id, day_of_week,
		       EXTRACT(EPOCH FROM start_time)::bigint,
		       EXTRACT(EPOCH FROM end_time)::bigint,
		       is_active
		FROM delivery_slots WHERE id=$1`, id).
		Scan(&s.ID, &s.BranchID, &dow, &start, &end, &s.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	s.DayOfWeek = time.Weekday(dow)
	s.StartTime = time.Duration(start) * time.Second
	s.EndTime = time.Duration(end) * time.Second
	return &s, nil
}

func (t *pgTx) LoadCart(ctx context.Context, id uuid.UUID, forUpdate bool) (*Cart, error) {
	q := `SELECT id, user_id FROM carts WHERE id=$1`
	if forUpdate {
		q += ` FOR UPDATE`
	}
	var c Cart
	err := t.tx.QueryRow(ctx, q, id).Scan(&c.ID, &c.UserID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	// join product untuk snapshot name/sku; lock hanya di row cart
	rows, err := t.tx.Query(ctx, `
		SELECT ci.id, ci.product_id, ci.quantity, ci.unit_price::text, p.name, p.sku
		FROM cart_items ci
		JOIN products p ON p.id = ci.product_id
		WHERE ci.cart_id=$1
		ORDER BY ci.created_at, ci.id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			it    CartItem
			price string
		)
		if err := rows.Scan(&it.ID, &it.ProductID, &it.Quantity, &price, &it.ProductName, &it.ProductSKU); err != nil {
			return nil, err
		}
		if it.UnitPrice, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("cart item %s price: %w", it.ID, err)
		}
		c.Items = append(c.Items, it)
	}
	return &c, rows.Err()
}

func (t *pgTx) ReadInventory(ctx context.Context, branchID uuid.UUID, productIDs []uuid.UUID) (map[uuid.UUID]InventoryRow, error) {
	return t.inventory(ctx, branchID, productIDs, false)
}

// LockInventory locks every row in one statement. ORDER BY keeps the lock
// acquisition order stable across concurrent checkouts.
func (t *pgTx) LockInventory(ctx context.Context, branchID uuid.UUID, productIDs []uuid.UUID) (map[uuid.UUID]InventoryRow, error) {
	return t.inventory(ctx, branchID, productIDs, true)
}

func (t *pgTx) inventory(ctx context.Context, branchID uuid.UUID, productIDs []uuid.UUID, lock bool) (map[uuid.UUID]InventoryRow, error) {
	q := `
		SELECT id, product_id, branch_id, available_quantity, reserved_quantity
		FROM inventory
		WHERE branch_id=$1 AND product_id = ANY($2)
		ORDER BY product_id`
	if lock {
		q += ` FOR UPDATE`
	}
	rows, err := t.tx.Query(ctx, q, branchID, productIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[uuid.UUID]InventoryRow, len(productIDs))
	for rows.Next() {
		var r InventoryRow
		if err := rows.Scan(&r.ID, &r.ProductID, &r.BranchID, &r.AvailableQuantity, &r.ReservedQuantity); err != nil {
			return nil, err
		}
		out[r.ProductID] = r
	}
	return out, rows.Err()
}

func (t *pgTx) DecrementInventory(ctx context.Context, rowID uuid.UUID, qty int) error {
	ct, err := t.tx.Exec(ctx, `
		UPDATE inventory
		SET available_quantity = available_quantity - $2, updated_at = now()
		WHERE id=$1`, rowID, qty)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) InsertOrder(ctx context.Context, o *Order) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO orders(id, order_number, user_id, branch_id, fulfillment_type, status, total_amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8)`,
		o.ID, o.OrderNumber, o.UserID, o.BranchID, string(o.FulfillmentType), string(o.Status), o.TotalAmount.String(), o.CreatedAt)
	if err != nil {
		return mapPgError(err)
	}

	for _, it := range o.Items {
		_, err = t.tx.Exec(ctx, `
			INSERT INTO order_items(id, order_id, product_id, name, sku, unit_price, quantity, picked_status)
			VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8)`,
			it.ID, o.ID, it.ProductID, it.Name, it.SKU, it.UnitPrice.String(), it.Quantity, string(it.PickedStatus))
		if err != nil {
			return mapPgError(err)
		}
	}

	switch {
	case o.Delivery != nil:
		d := o.Delivery
		_, err = t.tx.Exec(ctx, `
			INSERT INTO order_delivery_details(id, order_id, delivery_slot_id, address, slot_start, slot_end)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			d.ID, o.ID, d.DeliverySlotID, d.Address, d.SlotStart, d.SlotEnd)
	case o.Pickup != nil:
		p := o.Pickup
		_, err = t.tx.Exec(ctx, `
			INSERT INTO order_pickup_details(id, order_id, branch_id, pickup_window_start, pickup_window_end)
			VALUES ($1, $2, $3, $4, $5)`,
			p.ID, o.ID, p.BranchID, p.WindowStart, p.WindowEnd)
	default:
		return fmt.Errorf("order %s has no fulfillment details", o.ID)
	}
	return mapPgError(err)
}

func (t *pgTx) GetIdempotencyRecord(ctx context.Context, userID uuid.UUID, key string) (*IdempotencyRecord, error) {
	var (
		r       IdempotencyRecord
		payload []byte
	)
	err := t.tx.QueryRow(ctx, `
		SELECT id, user_id, key, request_hash, response_payload, status_code, created_at
		FROM idempotency_keys WHERE user_id=$1 AND key=$2`, userID, key).
		Scan(&r.ID, &r.UserID, &r.Key, &r.RequestHash, &payload, &r.StatusCode, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.ResponsePayload = payload
	return &r, nil
}

func (t *pgTx) InsertIdempotencyRecord(ctx context.Context, r *IdempotencyRecord) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO idempotency_keys(id, user_id, key, request_hash, response_payload, status_code, created_at)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7)`,
		r.ID, r.UserID, r.Key, r.RequestHash, string(r.ResponsePayload), r.StatusCode, r.CreatedAt)
	return mapPgError(err)
}

func (t *pgTx) RecordAudit(ctx context.Context, ev AuditEvent) error {
	return insertAudit(ctx, t.tx, ev)
}

func (t *pgTx) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t *pgTx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertAudit(ctx context.Context, db execer, ev AuditEvent) error {
	oldV, err := jsonOrNil(ev.OldValue)
	if err != nil {
		return err
	}
	newV, err := jsonOrNil(ev.NewValue)
	if err != nil {
		return err
	}
	ctxV, err := jsonOrNil(ev.Context)
	if err != nil {
		return err
	}
	_, err = db.Exec(ctx, `
		INSERT INTO audit_logs(id, entity_type, entity_id, action, actor_user_id, old_value, new_value, context)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7::jsonb, $8::jsonb)`,
		uuid.New(), ev.EntityType, ev.EntityID, ev.Action, ev.ActorUserID, oldV, newV, ctxV)
	return err
}

func jsonOrNil(m map[string]any) (*string, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	s := string(b)
	return &s, nil
}

func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return fmt.Errorf("%w: %s", ErrDuplicateKey, pgErr.ConstraintName)
	}
	return err
}
