package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/AFRIENDLYHACKER/shadow.cc-website/internal/core/domain"
)

type keyPool struct {
	mu        sync.Mutex
	unclaimed []string
	claimed   int
}

// MemoryInventory keeps pools in process memory. The pool map is fixed at
// construction, so only the per-pool mutexes guard mutation.
type MemoryInventory struct {
	pools map[string]*keyPool
	ids   []string
}

func NewMemoryInventory(pools []domain.KeyPool) (*MemoryInventory, error) {
	m := &MemoryInventory{pools: make(map[string]*keyPool, len(pools))}
	for _, p := range pools {
		if _, dup := m.pools[p.ProductID]; dup {
			return nil, fmt.Errorf("duplicate pool for product %s", p.ProductID)
		}
		unclaimed := make([]string, len(p.Unclaimed))
		copy(unclaimed, p.Unclaimed)
		m.pools[p.ProductID] = &keyPool{unclaimed: unclaimed, claimed: p.Claimed}
		m.ids = append(m.ids, p.ProductID)
	}
	sort.Strings(m.ids)
	return m, nil
}

func (m *MemoryInventory) GetStock(ctx context.Context, productID string) (int, error) {
	pool, ok := m.pools[productID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", domain.ErrUnknownProduct, productID)
	}
	pool.mu.Lock()
	defer pool.mu.Unlock()
	return len(pool.unclaimed), nil
}

// GetAllStock locks every pool in id order so the snapshot is taken at a
// single instant. Claims hold one pool lock at a time, so this cannot deadlock.
func (m *MemoryInventory) GetAllStock(ctx context.Context) (map[string]int, error) {
	for _, id := range m.ids {
		m.pools[id].mu.Lock()
	}
	stock := make(map[string]int, len(m.ids))
	for _, id := range m.ids {
		stock[id] = len(m.pools[id].unclaimed)
	}
	for i := len(m.ids) - 1; i >= 0; i-- {
		m.pools[m.ids[i]].mu.Unlock()
	}
	return stock, nil
}

func (m *MemoryInventory) Claim(ctx context.Context, productID string) (string, error) {
	pool, ok := m.pools[productID]
	if !ok {
		return "", fmt.Errorf("%w: %s", domain.ErrUnknownProduct, productID)
	}

	pool.mu.Lock()
	defer pool.mu.Unlock()

	n := len(pool.unclaimed)
	if n == 0 {
		return "", domain.ErrStockExhausted
	}
	key := pool.unclaimed[n-1]
	pool.unclaimed[n-1] = ""
	pool.unclaimed = pool.unclaimed[:n-1]
	pool.claimed++
	return key, nil
}

// Claimed returns how many keys have left the product's pool.
func (m *MemoryInventory) Claimed(productID string) (int, error) {
	pool, ok := m.pools[productID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", domain.ErrUnknownProduct, productID)
	}
	pool.mu.Lock()
	defer pool.mu.Unlock()
	return pool.claimed, nil
}
