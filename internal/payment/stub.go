package payment

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Stub approves every positive charge and returns a pay_<12 hex> reference.
type Stub struct{}

func (Stub) Charge(ctx context.Context, tokenID uuid.UUID, amount decimal.Decimal) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if tokenID == uuid.Nil {
		return "", errors.New("payment token is required")
	}
	if amount.IsNegative() {
		return "", errors.New("amount must not be negative")
	}
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "pay_" + hex.EncodeToString(b), nil
}
