package checkout

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/ariefcatur/go-checkout-core/internal/logging"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"net/http"
	"strings"
	"time"
)

// Settings is the checkout configuration handed in at construction time.
type Settings struct {
	DeliverySourceBranchID string
	Pricing                PricingRules
	PickupWindow           time.Duration
	// AuditTimeout bounds the reconciliation write after a failed confirm.
	AuditTimeout time.Duration
}

type Service struct {
	Store    Store
	Payments PaymentGateway
	Events   EventPublisher // optional
	Idem     *IdempotencyManager
	Settings Settings
	Name     string
	Now      func() time.Time

	// OnUnreconciled, when set, runs after a post-charge failure is recorded.
	OnUnreconciled func()
}

func NewService(store Store, payments PaymentGateway, events EventPublisher, cache IdempotencyCache, settings Settings, name string) *Service {
	return &Service{
		Store:    store,
		Payments: payments,
		Events:   events,
		Idem:     &IdempotencyManager{Cache: cache, Service: name},
		Settings: settings,
		Name:     name,
	}
}

// Preview prices the cart and reports shortfalls without locks or writes.
// The result is advisory: the delivery slot is not checked and an empty cart
// prices to zero. Confirm re-checks everything under lock.
func (s *Service) Preview(ctx context.Context, req PreviewRequest) (*PreviewResponse, error) {
	r := s.newRun("preview", CanAdvancePreview, req.CartID, uuid.Nil)
	if !req.FulfillmentType.Valid() {
		return nil, r.fail(BadRequest("Fulfillment type must be DELIVERY or PICKUP"))
	}

	tx, err := s.Store.Begin(ctx, TxOptions{ReadOnly: true})
	if err != nil {
		return nil, r.fail(fmt.Errorf("begin: %w", err))
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	r.advance(StepResolvingBranch)
	branchID, err := ResolveBranch(ctx, tx, req.FulfillmentType, req.BranchID, s.Settings.DeliverySourceBranchID)
	if err != nil {
		return nil, r.fail(err)
	}

	r.advance(StepLoadingCart)
	cart, err := LoadCart(ctx, tx, req.CartID, false)
	if err != nil {
		return nil, r.fail(err)
	}

	r.advance(StepVerifyingStock)
	missing, err := NewInventoryManager(tx, branchID).MissingItems(ctx, cart.Items, nil)
	if err != nil {
		return nil, r.fail(err)
	}

	r.advance(StepPricing)
	totals := CalculateTotals(cart, req.FulfillmentType, s.Settings.Pricing)
	resp := &PreviewResponse{
		CartTotal:       totals.CartTotal,
		MissingItems:    missing,
		FulfillmentType: req.FulfillmentType,
	}
	if req.FulfillmentType == FulfillmentDelivery {
		fee := totals.DeliveryFee
		resp.DeliveryFee = &fee
	}

	r.advance(StepDone)
	r.done("")
	return resp, nil
}

// Confirm turns the cart into a paid order in one transaction. A retry with
// the same user, key and payload replays the stored response.
func (s *Service) Confirm(ctx context.Context, req ConfirmRequest) (*ConfirmResponse, error) {
	r := s.newRun("confirm", CanAdvance, req.CartID, req.UserID)
	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		return nil, r.fail(MissingIdempotencyKey())
	}
	if !req.FulfillmentType.Valid() {
		return nil, r.fail(BadRequest("Fulfillment type must be DELIVERY or PICKUP"))
	}
	if req.PaymentTokenID == uuid.Nil {
		return nil, r.fail(BadRequest("Payment token is required"))
	}
	hash := HashRequest(req)

	tx, err := s.Store.Begin(ctx, TxOptions{})
	if err != nil {
		return nil, r.fail(fmt.Errorf("begin: %w", err))
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	r.advance(StepResolvingBranch)
	branchID, err := ResolveBranch(ctx, tx, req.FulfillmentType, req.BranchID, s.Settings.DeliverySourceBranchID)
	if err != nil {
		return nil, r.fail(err)
	}
	slot, err := ValidateDeliverySlot(ctx, tx, req.FulfillmentType, req.DeliverySlotID, branchID)
	if err != nil {
		return nil, r.fail(err)
	}

	r.advance(StepLoadingCart)
	cart, err := LoadCart(ctx, tx, req.CartID, true)
	if err != nil {
		return nil, r.fail(err)
	}
	if req.UserID != uuid.Nil && req.UserID != cart.UserID {
		return nil, r.fail(NotFound("Cart not found"))
	}
	r.fields.UserID = cart.UserID.String()

	r.advance(StepCheckingIdempotency)
	existing, err := s.Idem.GetExisting(ctx, tx, cart.UserID, key, hash)
	if err != nil {
		return nil, r.fail(err)
	}
	if existing != nil {
		var resp ConfirmResponse
		if err := json.Unmarshal(existing.ResponsePayload, &resp); err != nil {
			return nil, r.fail(fmt.Errorf("decode stored response: %w", err))
		}
		resp.Replayed = true
		r.advance(StepReplayTerminal)
		r.fields.OrderID = resp.OrderID.String()
		r.done("replayed")
		return &resp, nil
	}

	if len(cart.Items) == 0 {
		return nil, r.fail(BadRequest("Cart is empty"))
	}

	r.advance(StepLockingInventory)
	inv := NewInventoryManager(tx, branchID)
	locked, err := inv.LockInventory(ctx, cart.Items)
	if err != nil {
		return nil, r.fail(err)
	}

	r.advance(StepVerifyingStock)
	missing, err := inv.MissingItems(ctx, cart.Items, locked)
	if err != nil {
		return nil, r.fail(err)
	}
	if len(missing) > 0 {
		return nil, r.fail(InsufficientStock(missing))
	}
	totals := CalculateTotals(cart, req.FulfillmentType, s.Settings.Pricing)

	r.advance(StepChargingPayment)
	ref, err := s.Payments.Charge(ctx, req.PaymentTokenID, totals.TotalAmount)
	if err != nil {
		return nil, r.fail(fmt.Errorf("charge payment: %w", err))
	}

	// Money has moved. Anything failing from here on leaves a reconciliation trail.
	postCharge := func(err error) error {
		failed := r.step
		_ = tx.Rollback(context.WithoutCancel(ctx))
		s.reconcile(ctx, cart, ref, totals.TotalAmount, failed, err)
		return r.fail(err)
	}

	r.advance(StepBuildingOrder)
	now := s.now()
	order := BuildOrder(OrderInput{
		Cart:         cart,
		Request:      req,
		BranchID:     branchID,
		Totals:       totals,
		Slot:         slot,
		PickupWindow: s.Settings.PickupWindow,
		Now:          now,
	})
	r.fields.OrderID = order.ID.String()
	if err := tx.InsertOrder(ctx, order); err != nil {
		return nil, postCharge(fmt.Errorf("insert order: %w", err))
	}
	if err := tx.RecordAudit(ctx, AuditCreation(order)); err != nil {
		return nil, postCharge(fmt.Errorf("audit order create: %w", err))
	}
	if req.SaveAsDefault {
		if err := tx.RecordAudit(ctx, AuditDefaultPayment(cart.UserID, req.PaymentTokenID)); err != nil {
			return nil, postCharge(fmt.Errorf("audit default payment: %w", err))
		}
	}

	r.advance(StepDecrementingInventory)
	if err := inv.DecrementInventory(ctx, cart.Items, locked); err != nil {
		return nil, postCharge(err)
	}

	r.advance(StepStoringIdempotency)
	resp := &ConfirmResponse{
		OrderID:          order.ID,
		OrderNumber:      order.OrderNumber,
		TotalPaid:        totals.TotalAmount,
		PaymentReference: ref,
	}
	rec, err := s.Idem.StoreResponse(ctx, tx, cart.UserID, key, hash, resp, http.StatusCreated)
	if err != nil {
		return nil, postCharge(err)
	}

	r.advance(StepCommitting)
	if err := ctx.Err(); err != nil {
		return nil, postCharge(fmt.Errorf("request canceled before commit: %w", err))
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, postCharge(fmt.Errorf("commit: %w", err))
	}

	r.advance(StepDone)
	s.Idem.Remember(ctx, rec)
	s.publish(ctx, EventOrderCreated, order.ID.String(), NewOrderCreatedPayload(order, ref))
	r.done("created")
	return resp, nil
}

// reconcile records a captured payment whose order was rolled back. It runs
// on a context detached from the request so a client disconnect cannot drop it.
func (s *Service) reconcile(ctx context.Context, cart *Cart, ref string, amount decimal.Decimal, failed Step, cause error) {
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.auditTimeout())
	defer cancel()

	fields := logging.Fields{
		Service: s.Name,
		CartID:  cart.ID.String(),
		UserID:  cart.UserID.String(),
		Step:    string(failed),
		Message: "payment captured without committed order: " + ref,
	}
	if err := s.Store.RecordAudit(actx, AuditUnreconciledPayment(cart.UserID, cart.ID, ref, amount, cause)); err != nil {
		logging.Err(fields, fmt.Errorf("record reconciliation audit: %w", err))
	} else {
		fields.Status = "reconciliation_recorded"
		logging.Log(fields)
	}

	if s.OnUnreconciled != nil {
		s.OnUnreconciled()
	}

	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	s.publish(actx, EventPaymentUnreconciled, cart.ID.String(), PaymentUnreconciledPayload{
		PaymentReference: ref,
		CartID:           cart.ID.String(),
		UserID:           cart.UserID.String(),
		Amount:           amount.StringFixed(2),
		FailedStep:       string(failed),
		Reason:           reason,
	})
}

func (s *Service) publish(ctx context.Context, eventType, correlationID string, payload any) {
	if s.Events == nil {
		return
	}
	if err := s.Events.Publish(ctx, eventType, correlationID, payload); err != nil {
		logging.Err(logging.Fields{Service: s.Name, Message: "publish " + eventType}, err)
	}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *Service) auditTimeout() time.Duration {
	if s.Settings.AuditTimeout > 0 {
		return s.Settings.AuditTimeout
	}
	return 5 * time.Second
}

// run tracks the step of one call and logs each transition.
type run struct {
	op     string
	step   Step
	can    func(from, to Step) bool
	start  time.Time
	fields logging.Fields
}

func (s *Service) newRun(op string, can func(from, to Step) bool, cartID, userID uuid.UUID) *run {
	f := logging.Fields{Service: s.Name, CartID: cartID.String()}
	if userID != uuid.Nil {
		f.UserID = userID.String()
	}
	return &run{op: op, step: StepStart, can: can, start: time.Now(), fields: f}
}

func (r *run) advance(to Step) {
	if !r.can(r.step, to) {
		panic(fmt.Sprintf("checkout %s: illegal step %s -> %s", r.op, r.step, to))
	}
	r.step = to
	f := r.fields
	f.Step = string(to)
	f.Status = r.op
	logging.Log(f)
}

func (r *run) fail(err error) error {
	from := r.step
	if !from.IsTerminal() {
		r.step = StepFailed
	}
	ce := AsError(err)
	f := r.fields
	f.Step = string(from)
	f.Code = ce.Code
	f.DurationMS = time.Since(r.start).Milliseconds()
	f.Message = r.op + " failed"
	logging.Err(f, err)
	return err
}

func (r *run) done(status string) {
	f := r.fields
	f.Step = string(r.step)
	f.Status = status
	if f.Status == "" {
		f.Status = "ok"
	}
	f.DurationMS = time.Since(r.start).Milliseconds()
	f.Message = r.op + " finished"
	logging.Log(f)
}
