package checkout

import (
	"context"
	"fmt"
	"github.com/google/uuid"
)

// InventoryManager works on one branch's inventory rows inside a transaction.
type InventoryManager struct {
	Tx       Tx
	BranchID uuid.UUID
}

func NewInventoryManager(tx Tx, branchID uuid.UUID) *InventoryManager {
	return &InventoryManager{Tx: tx, BranchID: branchID}
}

// MissingItems reports every cart line that the branch cannot cover. When
// locked is nil the rows are read without locks (preview only). A product
// with no inventory row counts as zero available.
func (m *InventoryManager) MissingItems(ctx context.Context, items []CartItem, locked map[uuid.UUID]InventoryRow) ([]MissingItem, error) {
	rows := locked
	if rows == nil {
		var err error
		rows, err = m.Tx.ReadInventory(ctx, m.BranchID, distinctProducts(items))
		if err != nil {
			return nil, fmt.Errorf("read inventory: %w", err)
		}
	}

	requested := make(map[uuid.UUID]int, len(items))
	for _, it := range items {
		requested[it.ProductID] += it.Quantity
	}

	missing := []MissingItem{}
	for _, pid := range distinctProducts(items) {
		available := 0
		if row, ok := rows[pid]; ok {
			available = row.AvailableQuantity
		}
		if requested[pid] > available {
			missing = append(missing, MissingItem{
				ProductID:         pid,
				RequestedQuantity: requested[pid],
				AvailableQuantity: available,
			})
		}
	}
	return missing, nil
}

// LockInventory takes exclusive locks on the branch rows for every distinct
// product in items, in one statement.
func (m *InventoryManager) LockInventory(ctx context.Context, items []CartItem) (map[uuid.UUID]InventoryRow, error) {
	rows, err := m.Tx.LockInventory(ctx, m.BranchID, distinctProducts(items))
	if err != nil {
		return nil, fmt.Errorf("lock inventory: %w", err)
	}
	return rows, nil
}

// DecrementInventory subtracts each line's quantity from its locked row.
// reserved_quantity is never touched.
func (m *InventoryManager) DecrementInventory(ctx context.Context, items []CartItem, locked map[uuid.UUID]InventoryRow) error {
	for _, it := range items {
		row, ok := locked[it.ProductID]
		if !ok {
			return NotFound(fmt.Sprintf("inventory row not found for product %s", it.ProductID))
		}
		if err := m.Tx.DecrementInventory(ctx, row.ID, it.Quantity); err != nil {
			return fmt.Errorf("decrement inventory %s: %w", row.ID, err)
		}
	}
	return nil
}
