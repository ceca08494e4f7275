package payment

import (
	"context"
	"fmt"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/paymentintent"
)

// MethodLookup maps a stored payment token to the provider's payment method id.
type MethodLookup interface {
	PaymentMethodID(ctx context.Context, tokenID uuid.UUID) (string, error)
}

// Stripe charges a saved payment method off-session with a confirmed
// PaymentIntent. The intent id is the payment reference.
type Stripe struct {
	Methods  MethodLookup
	Currency string
}

func NewStripe(secretKey, currency string, methods MethodLookup) *Stripe {
	stripe.Key = secretKey
	return &Stripe{Methods: methods, Currency: currency}
}

func (s *Stripe) Charge(ctx context.Context, tokenID uuid.UUID, amount decimal.Decimal) (string, error) {
	method, err := s.Methods.PaymentMethodID(ctx, tokenID)
	if err != nil {
		return "", fmt.Errorf("resolve payment token %s: %w", tokenID, err)
	}

	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(MinorUnits(amount)),
		Currency:      stripe.String(s.Currency),
		PaymentMethod: stripe.String(method),
		Confirm:       stripe.Bool(true),
		OffSession:    stripe.Bool(true),
		Metadata: map[string]string{
			"payment_token_id": tokenID.String(),
		},
	}
	intent, err := paymentintent.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe payment intent: %w", err)
	}
	if intent.Status != stripe.PaymentIntentStatusSucceeded {
		return "", fmt.Errorf("stripe payment intent %s: status %s", intent.ID, intent.Status)
	}
	return intent.ID, nil
}

// MinorUnits converts an amount to cents, rounding half away from zero.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}
