// Package reconcile consumes PaymentUnreconciled events: payments that were
// captured for an order that never committed.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"github.com/ariefcatur/go-checkout-core/internal/checkout"
	kafkax "github.com/ariefcatur/go-checkout-core/internal/kafka"
	"github.com/ariefcatur/go-checkout-core/internal/logging"
	"github.com/ariefcatur/go-checkout-core/internal/metrics"
	"github.com/ariefcatur/go-checkout-core/internal/redisx"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
)

// Ledger is where reconciliation records live (audit_logs).
type Ledger interface {
	HasUnreconciledAudit(ctx context.Context, reference string) (bool, error)
	RecordAudit(ctx context.Context, ev checkout.AuditEvent) error
}

type Service struct {
	Ledger      Ledger
	Redis       *redis.Client
	Metrics     *metrics.ServerMetrics // optional
	ServiceName string
}

// HandleUnreconciledPayment: dipasang sebagai handler consumer.
func (s *Service) HandleUnreconciledPayment(ctx context.Context, m kafkago.Message) error {
	// 1) decode envelope
	env, err := kafkax.UnmarshalEnvelope(m.Value)
	if err != nil {
		return err
	}
	if env.EventType != checkout.EventPaymentUnreconciled {
		return nil
	} // ignore

	// 2) dedup via Redis (pakai event_id)
	first, err := redisx.FirstSeen(ctx, s.Redis, s.ServiceName, env.EventID)
	if err != nil {
		return fmt.Errorf("dedup: %w", err)
	}
	if !first {
		return nil
	}

	if err := s.handle(ctx, env); err != nil {
		// lepas tanda dedup supaya redelivery bisa diproses ulang
		if ferr := redisx.Forget(context.WithoutCancel(ctx), s.Redis, s.ServiceName, env.EventID); ferr != nil {
			logging.Err(logging.Fields{Service: s.ServiceName, EventID: env.EventID, Message: "dedup forget"}, ferr)
		}
		return err
	}
	return nil
}

func (s *Service) handle(ctx context.Context, env checkout.Envelope) error {
	p, err := kafkax.UnwrapPayload[checkout.PaymentUnreconciledPayload](env.Payload)
	if err != nil {
		return err
	}
	if p.PaymentReference == "" {
		return errors.New("unreconciled event without payment reference")
	}

	// 3) backfill audit kalau API gagal menulisnya
	recorded, err := s.Ledger.HasUnreconciledAudit(ctx, p.PaymentReference)
	if err != nil {
		return fmt.Errorf("lookup reconciliation audit: %w", err)
	}
	fields := logging.Fields{
		Service: s.ServiceName,
		EventID: env.EventID,
		CartID:  p.CartID,
		UserID:  p.UserID,
		Step:    p.FailedStep,
	}
	if !recorded {
		ev, err := auditFromPayload(p)
		if err != nil {
			return err
		}
		if err := s.Ledger.RecordAudit(ctx, ev); err != nil {
			return fmt.Errorf("backfill reconciliation audit: %w", err)
		}
		f := fields
		f.Status = "audit_backfilled"
		f.Message = "reconciliation audit written by consumer: " + p.PaymentReference
		logging.Log(f)
	}

	// 4) alert; refund tetap manual
	fields.Status = "unreconciled"
	fields.Message = fmt.Sprintf("payment %s (%s) captured without order, needs refund or recovery", p.PaymentReference, p.Amount)
	fields.Error = p.Reason
	logging.Log(fields)
	if s.Metrics != nil {
		s.Metrics.Reconciliations.WithLabelValues("reconciler").Inc()
	}
	return nil
}

func auditFromPayload(p checkout.PaymentUnreconciledPayload) (checkout.AuditEvent, error) {
	userID, err := uuid.Parse(p.UserID)
	if err != nil {
		return checkout.AuditEvent{}, fmt.Errorf("user_id: %w", err)
	}
	cartID, err := uuid.Parse(p.CartID)
	if err != nil {
		return checkout.AuditEvent{}, fmt.Errorf("cart_id: %w", err)
	}
	amount, err := decimal.NewFromString(p.Amount)
	if err != nil {
		return checkout.AuditEvent{}, fmt.Errorf("amount: %w", err)
	}
	var cause error
	if p.Reason != "" {
		cause = errors.New(p.Reason)
	}
	return checkout.AuditUnreconciledPayment(userID, cartID, p.PaymentReference, amount, cause), nil
}
