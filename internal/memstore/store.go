// Package memstore is an in-memory checkout.Store. It has no row locks, so
// it serializes with one semaphore per cart and inventory row, held until
// commit or rollback. Writes are buffered per transaction and applied on
// commit.
package memstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"github.com/ariefcatur/go-checkout-core/internal/checkout"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"sort"
	"sync"
	"time"
)

type Product struct {
	ID    uuid.UUID
	SKU   string
	Name  string
	Price decimal.Decimal
}

type Line struct {
	ProductID uuid.UUID
	Qty       int
}

type cartRow struct {
	id     uuid.UUID
	userID uuid.UUID
	items  []checkout.CartItem
}

type invKey struct{ product, branch uuid.UUID }

type idemKey struct {
	user uuid.UUID
	key  string
}

// Faults injects failures at fixed points; zero value injects nothing.
type Faults struct {
	InsertOrder error
	Commit      error
	Audit       error // RecordAudit outside a transaction
}

type Store struct {
	mu sync.Mutex

	branches  map[uuid.UUID]checkout.Branch
	slots     map[uuid.UUID]checkout.DeliverySlot
	products  map[uuid.UUID]Product
	carts     map[uuid.UUID]*cartRow
	inventory map[uuid.UUID]*checkout.InventoryRow
	invIndex  map[invKey]uuid.UUID
	orders    map[uuid.UUID]checkout.Order
	numbers   map[string]bool
	idem      map[idemKey]checkout.IdempotencyRecord
	audits    []checkout.AuditEvent
	writes    int

	locks map[uuid.UUID]chan struct{}

	Faults Faults
}

func New() *Store {
	return &Store{
		branches:  map[uuid.UUID]checkout.Branch{},
		slots:     map[uuid.UUID]checkout.DeliverySlot{},
		products:  map[uuid.UUID]Product{},
		carts:     map[uuid.UUID]*cartRow{},
		inventory: map[uuid.UUID]*checkout.InventoryRow{},
		invIndex:  map[invKey]uuid.UUID{},
		orders:    map[uuid.UUID]checkout.Order{},
		numbers:   map[string]bool{},
		idem:      map[idemKey]checkout.IdempotencyRecord{},
		locks:     map[uuid.UUID]chan struct{}{},
	}
}

// ---- seeding & inspection ----

func (s *Store) AddBranch(name string, active bool) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New()
	s.branches[id] = checkout.Branch{ID: id, Name: name, IsActive: active}
	return id
}

func (s *Store) AddSlot(branchID uuid.UUID, day time.Weekday, start, end time.Duration, active bool) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New()
	s.slots[id] = checkout.DeliverySlot{ID: id, BranchID: branchID, DayOfWeek: day, StartTime: start, EndTime: end, IsActive: active}
	return id
}

func (s *Store) AddProduct(sku, name string, price decimal.Decimal) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New()
	s.products[id] = Product{ID: id, SKU: sku, Name: name, Price: price}
	return id
}

// UpdateProduct edits the catalog row; carts and orders keep their own prices.
func (s *Store) UpdateProduct(id uuid.UUID, name string, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.products[id]
	p.Name, p.Price = name, price
	s.products[id] = p
}

func (s *Store) SetStock(productID, branchID uuid.UUID, available int) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := invKey{productID, branchID}
	if id, ok := s.invIndex[k]; ok {
		s.inventory[id].AvailableQuantity = available
		return id
	}
	id := uuid.New()
	s.inventory[id] = &checkout.InventoryRow{ID: id, ProductID: productID, BranchID: branchID, AvailableQuantity: available}
	s.invIndex[k] = id
	return id
}

// AddCart creates a cart; unit prices are copied from the catalog now.
func (s *Store) AddCart(userID uuid.UUID, lines ...Line) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := &cartRow{id: uuid.New(), userID: userID}
	for _, l := range lines {
		c.items = append(c.items, checkout.CartItem{
			ID:        uuid.New(),
			ProductID: l.ProductID,
			Quantity:  l.Qty,
			UnitPrice: s.products[l.ProductID].Price,
		})
	}
	s.carts[c.id] = c
	return c.id
}

// ClearCart drops every line, the way a caller empties the cart after checkout.
func (s *Store) ClearCart(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.carts[id]; ok {
		c.items = nil
	}
}

func (s *Store) Stock(productID, branchID uuid.UUID) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.invIndex[invKey{productID, branchID}]
	if !ok {
		return 0, false
	}
	return s.inventory[id].AvailableQuantity, true
}

func (s *Store) Orders() []checkout.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]checkout.Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderNumber < out[j].OrderNumber })
	return out
}

func (s *Store) Audits() []checkout.AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]checkout.AuditEvent(nil), s.audits...)
}

func (s *Store) IdempotencyRecords() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.idem)
}

// Writes counts committed mutations since New.
func (s *Store) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// ---- checkout.Store ----

func (s *Store) Begin(ctx context.Context, opts checkout.TxOptions) (checkout.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &tx{s: s, readOnly: opts.ReadOnly}, nil
}

func (s *Store) RecordAudit(ctx context.Context, ev checkout.AuditEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Faults.Audit != nil {
		return s.Faults.Audit
	}
	s.audits = append(s.audits, ev)
	s.writes++
	return nil
}

func (s *Store) HasUnreconciledAudit(ctx context.Context, reference string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.audits {
		if a.Action == checkout.AuditActionCapturedNotCommitted && a.Context["reference"] == reference {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) sem(id uuid.UUID) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.locks[id]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[id] = ch
	}
	return ch
}

type tx struct {
	s        *Store
	readOnly bool
	held     []chan struct{}
	heldIDs  map[uuid.UUID]bool

	decrements map[uuid.UUID]int
	orders     []checkout.Order
	idem       []checkout.IdempotencyRecord
	audits     []checkout.AuditEvent
	closed     bool
}

var errTxClosed = errors.New("memstore: tx closed")

func (t *tx) lock(ctx context.Context, id uuid.UUID) error {
	if t.heldIDs[id] {
		return nil
	}
	ch := t.s.sem(id)
	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	if t.heldIDs == nil {
		t.heldIDs = map[uuid.UUID]bool{}
	}
	t.heldIDs[id] = true
	t.held = append(t.held, ch)
	return nil
}

func (t *tx) release() {
	for _, ch := range t.held {
		<-ch
	}
	t.held, t.heldIDs = nil, nil
	t.closed = true
}

func (t *tx) writable() error {
	if t.closed {
		return errTxClosed
	}
	if t.readOnly {
		return errors.New("memstore: write in read-only tx")
	}
	return nil
}

func (t *tx) GetBranch(ctx context.Context, id uuid.UUID) (*checkout.Branch, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	b, ok := t.s.branches[id]
	if !ok {
		return nil, checkout.ErrNotFound
	}
	return &b, nil
}

func (t *tx) GetDeliverySlot(ctx context.Context, id uuid.UUID) (*checkout.DeliverySlot, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	sl, ok := t.s.slots[id]
	if !ok {
		return nil, checkout.ErrNotFound
	}
	return &sl, nil
}

func (t *tx) LoadCart(ctx context.Context, id uuid.UUID, forUpdate bool) (*checkout.Cart, error) {
	if forUpdate {
		if err := t.lock(ctx, id); err != nil {
			return nil, err
		}
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	c, ok := t.s.carts[id]
	if !ok {
		return nil, checkout.ErrNotFound
	}
	out := &checkout.Cart{ID: c.id, UserID: c.userID}
	for _, it := range c.items {
		p := t.s.products[it.ProductID]
		it.ProductName, it.ProductSKU = p.Name, p.SKU
		out.Items = append(out.Items, it)
	}
	return out, nil
}

func (t *tx) ReadInventory(ctx context.Context, branchID uuid.UUID, productIDs []uuid.UUID) (map[uuid.UUID]checkout.InventoryRow, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return t.snapshot(branchID, productIDs), nil
}

// LockInventory takes row semaphores in row-id order, then reads the rows as
// committed by whoever held them before.
func (t *tx) LockInventory(ctx context.Context, branchID uuid.UUID, productIDs []uuid.UUID) (map[uuid.UUID]checkout.InventoryRow, error) {
	t.s.mu.Lock()
	var ids []uuid.UUID
	for _, pid := range productIDs {
		if id, ok := t.s.invIndex[invKey{pid, branchID}]; ok {
			ids = append(ids, id)
		}
	}
	t.s.mu.Unlock()

	sort.Slice(ids, func(i, j int) bool { return bytes.Compare(ids[i][:], ids[j][:]) < 0 })
	for _, id := range ids {
		if err := t.lock(ctx, id); err != nil {
			return nil, err
		}
	}

	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return t.snapshot(branchID, productIDs), nil
}

func (t *tx) snapshot(branchID uuid.UUID, productIDs []uuid.UUID) map[uuid.UUID]checkout.InventoryRow {
	out := make(map[uuid.UUID]checkout.InventoryRow, len(productIDs))
	for _, pid := range productIDs {
		if id, ok := t.s.invIndex[invKey{pid, branchID}]; ok {
			out[pid] = *t.s.inventory[id]
		}
	}
	return out
}

func (t *tx) DecrementInventory(ctx context.Context, rowID uuid.UUID, qty int) error {
	if err := t.writable(); err != nil {
		return err
	}
	if !t.heldIDs[rowID] {
		return fmt.Errorf("memstore: decrement of unlocked inventory row %s", rowID)
	}
	t.s.mu.Lock()
	row, ok := t.s.inventory[rowID]
	avail := 0
	if ok {
		avail = row.AvailableQuantity
	}
	t.s.mu.Unlock()
	if !ok {
		return checkout.ErrNotFound
	}
	if t.decrements == nil {
		t.decrements = map[uuid.UUID]int{}
	}
	if avail-t.decrements[rowID]-qty < 0 {
		return fmt.Errorf("memstore: inventory row %s would go negative", rowID)
	}
	t.decrements[rowID] += qty
	return nil
}

func (t *tx) InsertOrder(ctx context.Context, o *checkout.Order) error {
	if err := t.writable(); err != nil {
		return err
	}
	t.s.mu.Lock()
	fault := t.s.Faults.InsertOrder
	dup := t.s.numbers[o.OrderNumber]
	t.s.mu.Unlock()
	if fault != nil {
		return fault
	}
	if dup {
		return checkout.ErrDuplicateKey
	}
	cp := *o
	cp.Items = append([]checkout.OrderItem(nil), o.Items...)
	t.orders = append(t.orders, cp)
	return nil
}

func (t *tx) GetIdempotencyRecord(ctx context.Context, userID uuid.UUID, key string) (*checkout.IdempotencyRecord, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	r, ok := t.s.idem[idemKey{userID, key}]
	if !ok {
		return nil, checkout.ErrNotFound
	}
	return &r, nil
}

func (t *tx) InsertIdempotencyRecord(ctx context.Context, rec *checkout.IdempotencyRecord) error {
	if err := t.writable(); err != nil {
		return err
	}
	// Like a unique index: wait for any uncommitted insert of the same key.
	if err := t.lock(ctx, idemLockID(rec.UserID, rec.Key)); err != nil {
		return err
	}
	t.s.mu.Lock()
	_, dup := t.s.idem[idemKey{rec.UserID, rec.Key}]
	t.s.mu.Unlock()
	if dup {
		return checkout.ErrDuplicateKey
	}
	t.idem = append(t.idem, *rec)
	return nil
}

func idemLockID(userID uuid.UUID, key string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("idem/"+userID.String()+"/"+key))
}

func (t *tx) RecordAudit(ctx context.Context, ev checkout.AuditEvent) error {
	if err := t.writable(); err != nil {
		return err
	}
	t.audits = append(t.audits, ev)
	return nil
}

// Commit re-checks the unique and non-negative constraints under the store
// mutex, then applies everything at once.
func (t *tx) Commit(ctx context.Context) error {
	if t.closed {
		return errTxClosed
	}
	defer t.release()
	if err := ctx.Err(); err != nil {
		return err
	}

	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.s.Faults.Commit != nil {
		return t.s.Faults.Commit
	}
	for _, r := range t.idem {
		if _, dup := t.s.idem[idemKey{r.UserID, r.Key}]; dup {
			return checkout.ErrDuplicateKey
		}
	}
	for _, o := range t.orders {
		if t.s.numbers[o.OrderNumber] {
			return checkout.ErrDuplicateKey
		}
	}
	for id, qty := range t.decrements {
		if t.s.inventory[id].AvailableQuantity-qty < 0 {
			return fmt.Errorf("memstore: inventory row %s would go negative", id)
		}
	}

	for id, qty := range t.decrements {
		t.s.inventory[id].AvailableQuantity -= qty
		t.s.writes++
	}
	for _, o := range t.orders {
		t.s.orders[o.ID] = o
		t.s.numbers[o.OrderNumber] = true
		t.s.writes++
	}
	for _, r := range t.idem {
		t.s.idem[idemKey{r.UserID, r.Key}] = r
		t.s.writes++
	}
	t.s.audits = append(t.s.audits, t.audits...)
	t.s.writes += len(t.audits)
	return nil
}

func (t *tx) Rollback(ctx context.Context) error {
	if t.closed {
		return nil
	}
	t.release()
	return nil
}
