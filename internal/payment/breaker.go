package payment

import (
	"context"
	"github.com/ariefcatur/go-checkout-core/internal/checkout"
	"github.com/ariefcatur/go-checkout-core/internal/logging"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"time"
)

// Breaker wraps a gateway with a circuit breaker and a per-charge timeout.
// An open breaker fails the charge immediately; nothing is retried.
type Breaker struct {
	next    checkout.PaymentGateway
	cb      *gobreaker.CircuitBreaker[string]
	timeout time.Duration
}

type BreakerSettings struct {
	Name             string
	Timeout          time.Duration // per charge
	OpenFor          time.Duration
	FailureThreshold uint32
}

func NewBreaker(next checkout.PaymentGateway, st BreakerSettings) *Breaker {
	if st.FailureThreshold == 0 {
		st.FailureThreshold = 5
	}
	cb := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        st.Name,
		MaxRequests: 1,
		Timeout:     st.OpenFor,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= st.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Log(logging.Fields{Service: name, Status: to.String(), Message: "payment breaker " + from.String() + " -> " + to.String()})
		},
	})
	return &Breaker{next: next, cb: cb, timeout: st.Timeout}
}

func (b *Breaker) Charge(ctx context.Context, tokenID uuid.UUID, amount decimal.Decimal) (string, error) {
	return b.cb.Execute(func() (string, error) {
		cctx := ctx
		if b.timeout > 0 {
			var cancel context.CancelFunc
			cctx, cancel = context.WithTimeout(ctx, b.timeout)
			defer cancel()
		}
		return b.next.Charge(cctx, tokenID, amount)
	})
}

func (b *Breaker) State() gobreaker.State { return b.cb.State() }
