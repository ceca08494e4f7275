package checkout_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ariefcatur/go-checkout-core/internal/checkout"
	"github.com/ariefcatur/go-checkout-core/internal/memstore"
	"github.com/ariefcatur/go-checkout-core/internal/redisx"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGateway struct {
	calls    atomic.Int32
	err      error
	delay    time.Duration
	onCharge func()
}

func (g *fakeGateway) Charge(ctx context.Context, _ uuid.UUID, _ decimal.Decimal) (string, error) {
	n := g.calls.Add(1)
	if g.delay > 0 {
		time.Sleep(g.delay)
	}
	if g.err != nil {
		return "", g.err
	}
	if g.onCharge != nil {
		g.onCharge()
	}
	return fmt.Sprintf("pay_%012d", n), nil
}

type published struct {
	eventType     string
	correlationID string
	payload       any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *recordingPublisher) Publish(_ context.Context, eventType, correlationID string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{eventType, correlationID, payload})
	return nil
}

func (p *recordingPublisher) ofType(t string) []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []published
	for _, e := range p.events {
		if e.eventType == t {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	store  *memstore.Store
	svc    *checkout.Service
	pay    *fakeGateway
	events *recordingPublisher

	source uuid.UUID // delivery source branch
	store2 uuid.UUID // pickup branch
	user   uuid.UUID
	coffee uuid.UUID // 50.00
	tea    uuid.UUID // 49.99
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := memstore.New()
	f := &fixture{
		store:  s,
		pay:    &fakeGateway{},
		events: &recordingPublisher{},
		user:   uuid.New(),
	}
	f.source = s.AddBranch("Gudang Pusat", true)
	f.store2 = s.AddBranch("Toko Kemang", true)
	f.coffee = s.AddProduct("COF-1", "Kopi Gayo 250g", decimal.RequireFromString("50.00"))
	f.tea = s.AddProduct("TEA-1", "Teh Melati", decimal.RequireFromString("49.99"))
	for _, b := range []uuid.UUID{f.source, f.store2} {
		s.SetStock(f.coffee, b, 10)
		s.SetStock(f.tea, b, 10)
	}

	f.svc = checkout.NewService(s, f.pay, f.events, nil, checkout.Settings{
		DeliverySourceBranchID: f.source.String(),
		Pricing:                checkout.DefaultPricingRules(),
		PickupWindow:           2 * time.Hour,
	}, "checkout-test")
	return f
}

func (f *fixture) pickupRequest(cart uuid.UUID, key string) checkout.ConfirmRequest {
	branch := f.store2
	return checkout.ConfirmRequest{
		UserID:          f.user,
		IdempotencyKey:  key,
		CartID:          cart,
		PaymentTokenID:  uuid.New(),
		FulfillmentType: checkout.FulfillmentPickup,
		BranchID:        &branch,
	}
}

func TestConfirmCreatesOrder(t *testing.T) {
	f := newFixture(t)
	cart := f.store.AddCart(f.user, memstore.Line{ProductID: f.coffee, Qty: 2}, memstore.Line{ProductID: f.tea, Qty: 1})

	resp, err := f.svc.Confirm(context.Background(), f.pickupRequest(cart, "k-1"))
	require.NoError(t, err)
	assert.False(t, resp.Replayed)
	assert.Equal(t, "149.99", resp.TotalPaid.StringFixed(2), "pickup pays no fee")
	assert.Equal(t, "pay_000000000001", resp.PaymentReference)

	orders := f.store.Orders()
	require.Len(t, orders, 1)
	o := orders[0]
	assert.Equal(t, resp.OrderID, o.ID)
	assert.Equal(t, f.store2, o.BranchID)
	assert.Equal(t, checkout.OrderCreated, o.Status)
	assert.Len(t, o.Items, 2)
	require.NotNil(t, o.Pickup)
	assert.Nil(t, o.Delivery)

	left, _ := f.store.Stock(f.coffee, f.store2)
	assert.Equal(t, 8, left)
	untouched, _ := f.store.Stock(f.coffee, f.source)
	assert.Equal(t, 10, untouched)

	audits := f.store.Audits()
	require.Len(t, audits, 1)
	assert.Equal(t, checkout.AuditActionCreate, audits[0].Action)
	assert.Equal(t, 1, f.store.IdempotencyRecords())

	created := f.events.ofType(checkout.EventOrderCreated)
	require.Len(t, created, 1)
	assert.Equal(t, o.ID.String(), created[0].correlationID)
}

func TestConfirmDeliveryChargesFeeFromSourceBranch(t *testing.T) {
	f := newFixture(t)
	cart := f.store.AddCart(f.user, memstore.Line{ProductID: f.tea, Qty: 1})
	addr := "Jl. Kemang Raya 5"
	other := f.store2

	resp, err := f.svc.Confirm(context.Background(), checkout.ConfirmRequest{
		UserID:          f.user,
		IdempotencyKey:  "k-1",
		CartID:          cart,
		PaymentTokenID:  uuid.New(),
		FulfillmentType: checkout.FulfillmentDelivery,
		BranchID:        &other,
		Address:         &addr,
	})
	require.NoError(t, err)
	assert.Equal(t, "79.99", resp.TotalPaid.StringFixed(2))

	o := f.store.Orders()[0]
	assert.Equal(t, f.source, o.BranchID)
	require.NotNil(t, o.Delivery)
	assert.Equal(t, addr, o.Delivery.Address)
	left, _ := f.store.Stock(f.tea, f.source)
	assert.Equal(t, 9, left)
}

func TestConfirmReplaysSameRequest(t *testing.T) {
	f := newFixture(t)
	cart := f.store.AddCart(f.user, memstore.Line{ProductID: f.coffee, Qty: 1})
	req := f.pickupRequest(cart, "k-1")
	ctx := context.Background()

	first, err := f.svc.Confirm(ctx, req)
	require.NoError(t, err)
	second, err := f.svc.Confirm(ctx, req)
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.OrderID, second.OrderID)
	assert.Equal(t, first.OrderNumber, second.OrderNumber)
	assert.Equal(t, first.PaymentReference, second.PaymentReference)
	assert.True(t, first.TotalPaid.Equal(second.TotalPaid))

	assert.Len(t, f.store.Orders(), 1)
	assert.Equal(t, int32(1), f.pay.calls.Load())
	left, _ := f.store.Stock(f.coffee, f.store2)
	assert.Equal(t, 9, left)
}

func TestConfirmReplaysAfterCartCleared(t *testing.T) {
	f := newFixture(t)
	cart := f.store.AddCart(f.user, memstore.Line{ProductID: f.coffee, Qty: 1})
	req := f.pickupRequest(cart, "k-1")
	ctx := context.Background()

	first, err := f.svc.Confirm(ctx, req)
	require.NoError(t, err)
	f.store.ClearCart(cart)

	second, err := f.svc.Confirm(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.OrderID, second.OrderID)
	assert.Equal(t, first.PaymentReference, second.PaymentReference)
	assert.Equal(t, int32(1), f.pay.calls.Load())

	_, err = f.svc.Confirm(ctx, f.pickupRequest(cart, "k-2"))
	assert.True(t, checkout.IsCode(err, checkout.CodeBadRequest), "new key on an empty cart")
	assert.Equal(t, int32(1), f.pay.calls.Load())
}

func TestConfirmConflictOnChangedPayload(t *testing.T) {
	f := newFixture(t)
	cart := f.store.AddCart(f.user, memstore.Line{ProductID: f.coffee, Qty: 1})
	req := f.pickupRequest(cart, "k-1")
	ctx := context.Background()

	_, err := f.svc.Confirm(ctx, req)
	require.NoError(t, err)

	req.PaymentTokenID = uuid.New()
	_, err = f.svc.Confirm(ctx, req)
	require.Error(t, err)
	ce := checkout.AsError(err)
	assert.Equal(t, checkout.CodeIdempotencyConflict, ce.Code)
	assert.Equal(t, 409, ce.Status)

	assert.Len(t, f.store.Orders(), 1)
	assert.Equal(t, int32(1), f.pay.calls.Load())
}

func TestConfirmNoOversellUnderConcurrency(t *testing.T) {
	f := newFixture(t)
	f.store.SetStock(f.coffee, f.store2, 5)
	f.pay.delay = 20 * time.Millisecond

	carts := []uuid.UUID{
		f.store.AddCart(f.user, memstore.Line{ProductID: f.coffee, Qty: 3}),
		f.store.AddCart(f.user, memstore.Line{ProductID: f.coffee, Qty: 3}),
	}

	var wg sync.WaitGroup
	errs := make([]error, len(carts))
	for i, c := range carts {
		wg.Add(1)
		go func(i int, c uuid.UUID) {
			defer wg.Done()
			_, errs[i] = f.svc.Confirm(context.Background(), f.pickupRequest(c, fmt.Sprintf("k-%d", i)))
		}(i, c)
	}
	wg.Wait()

	var ok, short int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case checkout.IsCode(err, checkout.CodeInsufficientStock):
			short++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, short)

	left, _ := f.store.Stock(f.coffee, f.store2)
	assert.Equal(t, 2, left)
	assert.Len(t, f.store.Orders(), 1)
	assert.Equal(t, int32(1), f.pay.calls.Load(), "the loser is never charged")
}

func TestSameKeyRaceLosesOnUniqueKey(t *testing.T) {
	f := newFixture(t)
	carts := []uuid.UUID{
		f.store.AddCart(f.user, memstore.Line{ProductID: f.coffee, Qty: 1}),
		f.store.AddCart(f.user, memstore.Line{ProductID: f.tea, Qty: 1}),
	}
	// both requests are past the idempotency lookup before either commits
	var charged sync.WaitGroup
	charged.Add(len(carts))
	f.pay.onCharge = func() {
		charged.Done()
		charged.Wait()
	}

	var wg sync.WaitGroup
	resps := make([]*checkout.ConfirmResponse, len(carts))
	errs := make([]error, len(carts))
	for i, c := range carts {
		wg.Add(1)
		go func(i int, c uuid.UUID) {
			defer wg.Done()
			resps[i], errs[i] = f.svc.Confirm(context.Background(), f.pickupRequest(c, "k-shared"))
		}(i, c)
	}
	wg.Wait()

	var winner *checkout.ConfirmResponse
	conflicts := 0
	for i, err := range errs {
		if err == nil {
			winner = resps[i]
			continue
		}
		require.True(t, checkout.IsCode(err, checkout.CodeIdempotencyConflict), "unexpected error: %v", err)
		assert.ErrorIs(t, err, checkout.ErrDuplicateKey)
		conflicts++
	}
	require.NotNil(t, winner)
	assert.Equal(t, 1, conflicts)
	assert.Len(t, f.store.Orders(), 1)
	assert.Equal(t, 1, f.store.IdempotencyRecords())
	assert.Equal(t, int32(2), f.pay.calls.Load())

	var unreconciled []checkout.AuditEvent
	for _, a := range f.store.Audits() {
		if a.Action == checkout.AuditActionCapturedNotCommitted {
			unreconciled = append(unreconciled, a)
		}
	}
	require.Len(t, unreconciled, 1)
	loserRef := "pay_000000000001"
	if winner.PaymentReference == loserRef {
		loserRef = "pay_000000000002"
	}
	assert.Equal(t, loserRef, unreconciled[0].Context["reference"])

	unrec := f.events.ofType(checkout.EventPaymentUnreconciled)
	require.Len(t, unrec, 1)
	assert.Equal(t, string(checkout.StepStoringIdempotency), unrec[0].payload.(checkout.PaymentUnreconciledPayload).FailedStep)
}

func TestConfirmInsufficientStockDetails(t *testing.T) {
	f := newFixture(t)
	f.store.SetStock(f.tea, f.store2, 0)
	ghost := f.store.AddProduct("GHOST-1", "Not stocked here", decimal.NewFromInt(5))
	cart := f.store.AddCart(f.user,
		memstore.Line{ProductID: f.coffee, Qty: 11},
		memstore.Line{ProductID: f.tea, Qty: 1},
		memstore.Line{ProductID: ghost, Qty: 2},
	)

	_, err := f.svc.Confirm(context.Background(), f.pickupRequest(cart, "k-1"))
	require.Error(t, err)
	ce := checkout.AsError(err)
	require.Equal(t, checkout.CodeInsufficientStock, ce.Code)

	missing, ok := ce.Details["missing"].([]checkout.MissingItem)
	require.True(t, ok)
	assert.ElementsMatch(t, []checkout.MissingItem{
		{ProductID: f.coffee, RequestedQuantity: 11, AvailableQuantity: 10},
		{ProductID: f.tea, RequestedQuantity: 1, AvailableQuantity: 0},
		{ProductID: ghost, RequestedQuantity: 2, AvailableQuantity: 0},
	}, missing)

	assert.Equal(t, int32(0), f.pay.calls.Load())
	assert.Equal(t, 0, f.store.Writes())
}

func TestOrderItemsKeepSnapshot(t *testing.T) {
	f := newFixture(t)
	cart := f.store.AddCart(f.user, memstore.Line{ProductID: f.coffee, Qty: 1})

	_, err := f.svc.Confirm(context.Background(), f.pickupRequest(cart, "k-1"))
	require.NoError(t, err)

	f.store.UpdateProduct(f.coffee, "Kopi Gayo 500g", decimal.RequireFromString("99.00"))

	item := f.store.Orders()[0].Items[0]
	assert.Equal(t, "Kopi Gayo 250g", item.Name)
	assert.Equal(t, "COF-1", item.SKU)
	assert.Equal(t, "50.00", item.UnitPrice.StringFixed(2))
}

func TestPickupWithoutBranchWritesNothing(t *testing.T) {
	f := newFixture(t)
	cart := f.store.AddCart(f.user, memstore.Line{ProductID: f.coffee, Qty: 1})
	req := f.pickupRequest(cart, "k-1")
	req.BranchID = nil

	_, err := f.svc.Confirm(context.Background(), req)
	require.Error(t, err)
	assert.True(t, checkout.IsCode(err, checkout.CodeBadRequest))

	assert.Equal(t, 0, f.store.Writes())
	assert.Equal(t, int32(0), f.pay.calls.Load())
	assert.Empty(t, f.events.ofType(checkout.EventOrderCreated))
}

func TestPostChargeFailureLeavesReconciliationTrail(t *testing.T) {
	f := newFixture(t)
	f.store.Faults.Commit = errors.New("connection reset by peer")
	var flagged atomic.Int32
	f.svc.OnUnreconciled = func() { flagged.Add(1) }
	cart := f.store.AddCart(f.user, memstore.Line{ProductID: f.coffee, Qty: 2})

	_, err := f.svc.Confirm(context.Background(), f.pickupRequest(cart, "k-1"))
	require.Error(t, err)
	assert.Equal(t, checkout.CodeInternal, checkout.AsError(err).Code)

	assert.Empty(t, f.store.Orders())
	assert.Equal(t, 0, f.store.IdempotencyRecords())
	left, _ := f.store.Stock(f.coffee, f.store2)
	assert.Equal(t, 10, left)

	audits := f.store.Audits()
	require.Len(t, audits, 1, "order CREATE audit rolled back with the order")
	ev := audits[0]
	assert.Equal(t, checkout.AuditEntityPayment, ev.EntityType)
	assert.Equal(t, checkout.AuditActionCapturedNotCommitted, ev.Action)
	assert.Equal(t, "pay_000000000001", ev.Context["reference"])
	assert.Equal(t, cart.String(), ev.Context["cart_id"])
	assert.Equal(t, "100.00", ev.Context["amount"])

	unrec := f.events.ofType(checkout.EventPaymentUnreconciled)
	require.Len(t, unrec, 1)
	payload := unrec[0].payload.(checkout.PaymentUnreconciledPayload)
	assert.Equal(t, "pay_000000000001", payload.PaymentReference)
	assert.Equal(t, string(checkout.StepCommitting), payload.FailedStep)
	assert.Equal(t, int32(1), flagged.Load())
}

func TestCancelAfterChargeRollsBackAndRecords(t *testing.T) {
	f := newFixture(t)
	cart := f.store.AddCart(f.user, memstore.Line{ProductID: f.coffee, Qty: 1})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.pay.onCharge = cancel

	_, err := f.svc.Confirm(ctx, f.pickupRequest(cart, "k-1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	assert.Empty(t, f.store.Orders())
	audits := f.store.Audits()
	require.Len(t, audits, 1, "audit uses a context detached from the request")
	assert.Equal(t, checkout.AuditActionCapturedNotCommitted, audits[0].Action)
}

func TestInsertFailureAfterChargeIsReconciled(t *testing.T) {
	f := newFixture(t)
	f.store.Faults.InsertOrder = errors.New("disk full")
	cart := f.store.AddCart(f.user, memstore.Line{ProductID: f.coffee, Qty: 1})

	_, err := f.svc.Confirm(context.Background(), f.pickupRequest(cart, "k-1"))
	require.Error(t, err)

	unrec := f.events.ofType(checkout.EventPaymentUnreconciled)
	require.Len(t, unrec, 1)
	assert.Equal(t, string(checkout.StepBuildingOrder), unrec[0].payload.(checkout.PaymentUnreconciledPayload).FailedStep)
}

func TestPaymentFailureIsNotReconciled(t *testing.T) {
	f := newFixture(t)
	f.pay.err = errors.New("card declined")
	cart := f.store.AddCart(f.user, memstore.Line{ProductID: f.coffee, Qty: 1})

	_, err := f.svc.Confirm(context.Background(), f.pickupRequest(cart, "k-1"))
	require.Error(t, err)
	assert.Equal(t, checkout.CodeInternal, checkout.AsError(err).Code)

	assert.Empty(t, f.store.Audits())
	assert.Empty(t, f.events.ofType(checkout.EventPaymentUnreconciled))
	assert.Equal(t, 0, f.store.Writes())
}

func TestSaveAsDefaultIsAudited(t *testing.T) {
	f := newFixture(t)
	cart := f.store.AddCart(f.user, memstore.Line{ProductID: f.coffee, Qty: 1})
	req := f.pickupRequest(cart, "k-1")
	req.SaveAsDefault = true

	_, err := f.svc.Confirm(context.Background(), req)
	require.NoError(t, err)

	var actions []string
	for _, a := range f.store.Audits() {
		actions = append(actions, a.EntityType+"/"+a.Action)
	}
	assert.ElementsMatch(t, []string{"order/CREATE", "payment_preferences/SET_DEFAULT"}, actions)
}

func TestConfirmValidation(t *testing.T) {
	f := newFixture(t)
	cart := f.store.AddCart(f.user, memstore.Line{ProductID: f.coffee, Qty: 1})
	ctx := context.Background()

	req := f.pickupRequest(cart, "")
	_, err := f.svc.Confirm(ctx, req)
	assert.True(t, checkout.IsCode(err, checkout.CodeMissingIdempotencyKey))

	req = f.pickupRequest(uuid.New(), "k-1")
	_, err = f.svc.Confirm(ctx, req)
	assert.True(t, checkout.IsCode(err, checkout.CodeNotFound))

	req = f.pickupRequest(cart, "k-1")
	req.UserID = uuid.New()
	_, err = f.svc.Confirm(ctx, req)
	assert.True(t, checkout.IsCode(err, checkout.CodeNotFound), "another user's cart")

	empty := f.store.AddCart(f.user)
	_, err = f.svc.Confirm(ctx, f.pickupRequest(empty, "k-1"))
	assert.True(t, checkout.IsCode(err, checkout.CodeBadRequest))

	f.svc.Settings.DeliverySourceBranchID = ""
	req = f.pickupRequest(cart, "k-1")
	req.FulfillmentType = checkout.FulfillmentDelivery
	_, err = f.svc.Confirm(ctx, req)
	assert.True(t, checkout.IsCode(err, checkout.CodeConfigError))

	assert.Equal(t, 0, f.store.Writes())
	assert.Equal(t, int32(0), f.pay.calls.Load())
}

func TestPreviewIsReadOnly(t *testing.T) {
	f := newFixture(t)
	f.store.SetStock(f.tea, f.source, 0)
	cart := f.store.AddCart(f.user, memstore.Line{ProductID: f.coffee, Qty: 2}, memstore.Line{ProductID: f.tea, Qty: 1})

	resp, err := f.svc.Preview(context.Background(), checkout.PreviewRequest{
		CartID:          cart,
		FulfillmentType: checkout.FulfillmentDelivery,
	})
	require.NoError(t, err)
	assert.Equal(t, "149.99", resp.CartTotal.StringFixed(2))
	require.NotNil(t, resp.DeliveryFee)
	assert.Equal(t, "30.00", resp.DeliveryFee.StringFixed(2))
	assert.Equal(t, []checkout.MissingItem{{ProductID: f.tea, RequestedQuantity: 1, AvailableQuantity: 0}}, resp.MissingItems)

	branch := f.store2
	resp, err = f.svc.Preview(context.Background(), checkout.PreviewRequest{
		CartID:          cart,
		FulfillmentType: checkout.FulfillmentPickup,
		BranchID:        &branch,
	})
	require.NoError(t, err)
	assert.Nil(t, resp.DeliveryFee)
	assert.Empty(t, resp.MissingItems)

	assert.Equal(t, 0, f.store.Writes())
	left, _ := f.store.Stock(f.coffee, f.source)
	assert.Equal(t, 10, left)
	assert.Equal(t, int32(0), f.pay.calls.Load())
}

func TestPreviewIsAdvisory(t *testing.T) {
	f := newFixture(t)
	inactive := f.store.AddSlot(f.source, time.Saturday, 10*time.Hour, 12*time.Hour, false)
	cart := f.store.AddCart(f.user, memstore.Line{ProductID: f.coffee, Qty: 1})

	resp, err := f.svc.Preview(context.Background(), checkout.PreviewRequest{
		CartID:          cart,
		FulfillmentType: checkout.FulfillmentDelivery,
		DeliverySlotID:  &inactive,
	})
	require.NoError(t, err, "slot is only checked on confirm")
	assert.Equal(t, "50.00", resp.CartTotal.StringFixed(2))

	branch := f.store2
	resp, err = f.svc.Preview(context.Background(), checkout.PreviewRequest{
		CartID:          f.store.AddCart(f.user),
		FulfillmentType: checkout.FulfillmentPickup,
		BranchID:        &branch,
	})
	require.NoError(t, err)
	assert.True(t, resp.CartTotal.IsZero())
	assert.Empty(t, resp.MissingItems)
}

func TestReplayServedFromRedis(t *testing.T) {
	f := newFixture(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	f.svc.Idem.Cache = &redisx.IdempotencyCache{Redis: client}

	cart := f.store.AddCart(f.user, memstore.Line{ProductID: f.coffee, Qty: 1})
	req := f.pickupRequest(cart, "k-1")
	ctx := context.Background()

	first, err := f.svc.Confirm(ctx, req)
	require.NoError(t, err)
	assert.True(t, mr.Exists(fmt.Sprintf(redisx.KeyIdemCheckout, f.user, "k-1")))

	second, err := f.svc.Confirm(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.OrderID, second.OrderID)

	req.PaymentTokenID = uuid.New()
	_, err = f.svc.Confirm(ctx, req)
	assert.True(t, checkout.IsCode(err, checkout.CodeIdempotencyConflict))
}

func TestReplayFallsBackToStoreWhenRedisDown(t *testing.T) {
	f := newFixture(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	f.svc.Idem.Cache = &redisx.IdempotencyCache{Redis: client}

	cart := f.store.AddCart(f.user, memstore.Line{ProductID: f.coffee, Qty: 1})
	req := f.pickupRequest(cart, "k-1")
	first, err := f.svc.Confirm(context.Background(), req)
	require.NoError(t, err)

	mr.Close()
	second, err := f.svc.Confirm(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.OrderID, second.OrderID)
}
