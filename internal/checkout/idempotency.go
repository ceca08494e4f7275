package checkout

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/ariefcatur/go-checkout-core/internal/logging"
	"github.com/google/uuid"
	"time"
)

// HashRequest digests the confirm payload. encoding/json sorts map keys, so
// field order in the client body never changes the digest. The idempotency
// key and the caller identity are not part of the payload.
func HashRequest(req ConfirmRequest) string {
	canonical := map[string]any{
		"cart_id":          req.CartID.String(),
		"payment_token_id": req.PaymentTokenID.String(),
		"fulfillment_type": string(req.FulfillmentType),
		"branch_id":        optUUID(req.BranchID),
		"delivery_slot_id": optUUID(req.DeliverySlotID),
		"address":          optString(req.Address),
		"save_as_default":  req.SaveAsDefault,
	}
	b, _ := json.Marshal(canonical)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func optUUID(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}

func optString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

// IdempotencyManager guards confirm against retries. The (user, key) unique
// constraint in the store is the source of truth; Cache is a fast path and
// may be nil.
type IdempotencyManager struct {
	Cache   IdempotencyCache
	Service string
	Now     func() time.Time
}

// GetExisting returns nil when the key is unused, the stored record when the
// hash matches, and IDEMPOTENCY_CONFLICT otherwise.
func (m *IdempotencyManager) GetExisting(ctx context.Context, tx Tx, userID uuid.UUID, key, hash string) (*IdempotencyRecord, error) {
	if m.Cache != nil {
		rec, err := m.Cache.Get(ctx, userID, key)
		if err != nil {
			logging.Err(logging.Fields{Service: m.Service, UserID: userID.String(), Message: "idempotency cache get"}, err)
		} else if rec != nil {
			return matchHash(rec, hash)
		}
	}

	rec, err := tx.GetIdempotencyRecord(ctx, userID, key)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get idempotency record: %w", err)
	}
	return matchHash(rec, hash)
}

func matchHash(rec *IdempotencyRecord, hash string) (*IdempotencyRecord, error) {
	if rec.RequestHash != hash {
		return nil, IdempotencyConflict()
	}
	return rec, nil
}

// StoreResponse inserts the record in the order's transaction so it commits
// with the order. A duplicate means another request with the same key won
// the race.
func (m *IdempotencyManager) StoreResponse(ctx context.Context, tx Tx, userID uuid.UUID, key, hash string, response any, status int) (*IdempotencyRecord, error) {
	payload, err := json.Marshal(response)
	if err != nil {
		return nil, fmt.Errorf("marshal idempotent response: %w", err)
	}
	rec := &IdempotencyRecord{
		ID:              uuid.New(),
		UserID:          userID,
		Key:             key,
		RequestHash:     hash,
		ResponsePayload: payload,
		StatusCode:      status,
		CreatedAt:       m.now(),
	}
	err = tx.InsertIdempotencyRecord(ctx, rec)
	if errors.Is(err, ErrDuplicateKey) {
		ce := IdempotencyConflict()
		ce.Err = err
		return nil, ce
	}
	if err != nil {
		return nil, fmt.Errorf("insert idempotency record: %w", err)
	}
	return rec, nil
}

// Remember fills the fast path once the record has committed. Failures only
// cost a database lookup on the next retry.
func (m *IdempotencyManager) Remember(ctx context.Context, rec *IdempotencyRecord) {
	if m.Cache == nil || rec == nil {
		return
	}
	if err := m.Cache.Put(ctx, rec); err != nil {
		logging.Err(logging.Fields{Service: m.Service, UserID: rec.UserID.String(), Message: "idempotency cache put"}, err)
	}
}

func (m *IdempotencyManager) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now().UTC()
}
