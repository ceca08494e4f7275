package checkout

import (
	"context"
	"errors"
	"fmt"
	"github.com/google/uuid"
)

// LoadCart loads a cart with its items and product snapshot fields.
// forUpdate locks the cart row for the rest of the transaction and is only
// used by confirm. An empty cart is returned as is: a confirm retry usually
// arrives after the caller has cleared it.
func LoadCart(ctx context.Context, tx Tx, cartID uuid.UUID, forUpdate bool) (*Cart, error) {
	if cartID == uuid.Nil {
		return nil, BadRequest("Cart id is required")
	}
	cart, err := tx.LoadCart(ctx, cartID, forUpdate)
	if errors.Is(err, ErrNotFound) {
		return nil, NotFound("Cart not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	for _, it := range cart.Items {
		if it.Quantity <= 0 {
			return nil, fmt.Errorf("cart item %s has invalid quantity %d", it.ID, it.Quantity)
		}
	}
	return cart, nil
}

func distinctProducts(items []CartItem) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(items))
	out := make([]uuid.UUID, 0, len(items))
	for _, it := range items {
		if seen[it.ProductID] {
			continue
		}
		seen[it.ProductID] = true
		out = append(out, it.ProductID)
	}
	return out
}
