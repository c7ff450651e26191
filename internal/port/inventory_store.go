package port

import "context"

type InventoryStore interface {
	// GetStock returns the number of unclaimed keys, or domain.ErrUnknownProduct
	GetStock(ctx context.Context, productID string) (int, error)

	// GetAllStock returns a consistent snapshot of every pool
	GetAllStock(ctx context.Context) (map[string]int, error)

	// Claim atomically removes and returns one unclaimed key, or domain.ErrStockExhausted
	Claim(ctx context.Context, productID string) (string, error)
}
