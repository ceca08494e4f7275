package checkout

type OrderStatus string

const (
	OrderCreated        OrderStatus = "CREATED"
	OrderPicking        OrderStatus = "PICKING"
	OrderReady          OrderStatus = "READY"
	OrderOutForDelivery OrderStatus = "OUT_FOR_DELIVERY"
	OrderDelivered      OrderStatus = "DELIVERED"
	OrderCanceled       OrderStatus = "CANCELED"
)

var validNext = map[OrderStatus]map[OrderStatus]bool{
	OrderCreated:        {OrderPicking: true, OrderCanceled: true},
	OrderPicking:        {OrderReady: true, OrderCanceled: true},
	OrderReady:          {OrderOutForDelivery: true, OrderDelivered: true, OrderCanceled: true},
	OrderOutForDelivery: {OrderDelivered: true},
	OrderDelivered:      {},
	OrderCanceled:       {},
}

// CanTransition reports whether fulfillment may move an order from one status to the next.
func CanTransition(from, to OrderStatus) bool {
	return validNext[from][to]
}

// Step is one state of a single preview or confirm call.
type Step string

const (
	StepStart                 Step = "START"
	StepResolvingBranch       Step = "RESOLVING_BRANCH"
	StepLoadingCart           Step = "LOADING_CART"
	StepCheckingIdempotency   Step = "CHECKING_IDEMPOTENCY"
	StepReplayTerminal        Step = "REPLAY_TERMINAL"
	StepLockingInventory      Step = "LOCKING_INVENTORY"
	StepVerifyingStock        Step = "VERIFYING_STOCK"
	StepPricing               Step = "PRICING"
	StepChargingPayment       Step = "CHARGING_PAYMENT"
	StepBuildingOrder         Step = "BUILDING_ORDER"
	StepDecrementingInventory Step = "DECREMENTING_INVENTORY"
	StepStoringIdempotency    Step = "STORING_IDEMPOTENCY"
	StepCommitting            Step = "COMMITTING"
	StepDone                  Step = "DONE"
	StepFailed                Step = "FAILED"
)

// The idempotency row is written inside the order transaction, so
// STORING_IDEMPOTENCY runs before COMMITTING.
var confirmNext = map[Step]map[Step]bool{
	StepStart:                 {StepResolvingBranch: true},
	StepResolvingBranch:       {StepLoadingCart: true},
	StepLoadingCart:           {StepCheckingIdempotency: true},
	StepCheckingIdempotency:   {StepReplayTerminal: true, StepLockingInventory: true},
	StepLockingInventory:      {StepVerifyingStock: true},
	StepVerifyingStock:        {StepChargingPayment: true},
	StepChargingPayment:       {StepBuildingOrder: true},
	StepBuildingOrder:         {StepDecrementingInventory: true},
	StepDecrementingInventory: {StepStoringIdempotency: true},
	StepStoringIdempotency:    {StepCommitting: true},
	StepCommitting:            {StepDone: true},
	StepReplayTerminal:        {},
	StepDone:                  {},
	StepFailed:                {},
}

var previewNext = map[Step]map[Step]bool{
	StepStart:           {StepResolvingBranch: true},
	StepResolvingBranch: {StepLoadingCart: true},
	StepLoadingCart:     {StepVerifyingStock: true},
	StepVerifyingStock:  {StepPricing: true},
	StepPricing:         {StepDone: true},
	StepDone:            {},
	StepFailed:          {},
}

func (s Step) IsTerminal() bool {
	return s == StepDone || s == StepFailed || s == StepReplayTerminal
}

// CanAdvance checks a confirm-path transition. FAILED is reachable from any
// non-terminal step.
func CanAdvance(from, to Step) bool {
	return canAdvance(confirmNext, from, to)
}

// CanAdvancePreview checks a preview-path transition.
func CanAdvancePreview(from, to Step) bool {
	return canAdvance(previewNext, from, to)
}

func canAdvance(table map[Step]map[Step]bool, from, to Step) bool {
	if to == StepFailed {
		return !from.IsTerminal()
	}
	return table[from][to]
}
