package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/AFRIENDLYHACKER/shadow.cc-website/internal/core/domain"
	"github.com/AFRIENDLYHACKER/shadow.cc-website/internal/port"
)

// countingInventory records how many Claim calls reach the store.
type countingInventory struct {
	port.InventoryStore
	claims atomic.Int32
	failOn string
}

func (c *countingInventory) Claim(ctx context.Context, productID string) (string, error) {
	c.claims.Add(1)
	if productID == c.failOn {
		return "", errors.New("connection reset")
	}
	return c.InventoryStore.Claim(ctx, productID)
}

// flakyGateway fails record writes while delegating reads.
type flakyGateway struct {
	port.PaymentGateway
	recordErr error
}

func (f *flakyGateway) RecordClaim(ctx context.Context, sessionID, record string) error {
	if f.recordErr != nil {
		return f.recordErr
	}
	return f.PaymentGateway.RecordClaim(ctx, sessionID, record)
}

// racingGateway lets another claimer write the record first.
type racingGateway struct {
	port.PaymentGateway
	winner []domain.ClaimedKey
}

func (r *racingGateway) RecordClaim(ctx context.Context, sessionID, record string) error {
	won, err := IdempotencyGuard{}.Encode(ClaimRecord{Keys: r.winner})
	if err != nil {
		return err
	}
	if err := r.PaymentGateway.RecordClaim(ctx, sessionID, won); err != nil {
		return err
	}
	return r.PaymentGateway.RecordClaim(ctx, sessionID, record)
}

// gatedInventory parks the first Claim until release is closed.
type gatedInventory struct {
	port.InventoryStore
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedInventory) Claim(ctx context.Context, productID string) (string, error) {
	g.once.Do(func() {
		close(g.entered)
		<-g.release
	})
	return g.InventoryStore.Claim(ctx, productID)
}

func testCatalog() *domain.Catalog {
	return domain.NewCatalog(
		domain.Product{ID: "weekly", Name: "Weekly", UnitPriceCents: 300},
		domain.Product{ID: "monthly", Name: "Monthly", UnitPriceCents: 500},
		domain.Product{ID: "lifetime", Name: "Lifetime", UnitPriceCents: 800},
	)
}

func makeKeys(prefix string, n int) []string {
	keys := make([]string, n)
	for i := range keys {
		keys[i] = fmt.Sprintf("%s-%04d", prefix, i)
	}
	return keys
}

func paidSession(id, cart string) *domain.PaymentSession {
	return &domain.PaymentSession{
		ID:            id,
		Status:        domain.SessionStatusComplete,
		PaymentStatus: domain.PaymentStatusPaid,
		CustomerEmail: id + "@example.com",
		Metadata:      map[string]string{domain.MetadataCartItems: cart},
	}
}
