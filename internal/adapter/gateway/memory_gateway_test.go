package gateway

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AFRIENDLYHACKER/shadow.cc-website/internal/core/domain"
)

func TestMemoryGateway_CreateAndPay(t *testing.T) {
	ctx := context.Background()
	g := NewMemoryGateway()

	cs, err := g.CreateSession(ctx, domain.CheckoutRequest{
		LineItems: []domain.LineItem{
			{ProductID: "vlasic-weekly", UnitPriceCents: 300, Quantity: 2},
			{ProductID: "discord-alts-10", UnitPriceCents: 299, Quantity: 1},
		},
		CustomerEmail: "buyer@example.com",
		Metadata:      map[string]string{domain.MetadataCartItems: "vlasic-weekly:2,discord-alts-10:1"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(899), cs.AmountCents)

	s, err := g.GetSession(ctx, cs.ID)
	require.NoError(t, err)
	assert.False(t, s.Paid())

	require.NoError(t, g.MarkPaid(ctx, cs.ID, ""))
	s, err = g.GetSession(ctx, cs.ID)
	require.NoError(t, err)
	assert.True(t, s.Paid())
	assert.Equal(t, domain.SessionStatusComplete, s.Status)
	assert.Equal(t, "buyer@example.com", s.CustomerEmail)

	cart, ok := s.CartEncoding()
	assert.True(t, ok)
	assert.Equal(t, "vlasic-weekly:2,discord-alts-10:1", cart)
}

func TestMemoryGateway_NotFound(t *testing.T) {
	ctx := context.Background()
	g := NewMemoryGateway()

	_, err := g.GetSession(ctx, "cs_missing")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	assert.ErrorIs(t, g.RecordClaim(ctx, "cs_missing", "[]"), domain.ErrSessionNotFound)
	assert.ErrorIs(t, g.MarkPaid(ctx, "cs_missing", ""), domain.ErrSessionNotFound)
}

func TestMemoryGateway_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	g := NewMemoryGateway()
	g.Put(&domain.PaymentSession{ID: "cs_1", Metadata: map[string]string{"a": "1"}})

	s, err := g.GetSession(ctx, "cs_1")
	require.NoError(t, err)
	s.Metadata["a"] = "changed"

	s, err = g.GetSession(ctx, "cs_1")
	require.NoError(t, err)
	assert.Equal(t, "1", s.Metadata["a"])
}

func TestMemoryGateway_RecordClaimOnce(t *testing.T) {
	ctx := context.Background()
	g := NewMemoryGateway()
	g.Put(&domain.PaymentSession{ID: "cs_1", PaymentStatus: domain.PaymentStatusPaid})

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := g.RecordClaim(ctx, "cs_1", `[{"productId":"p","key":"K"}]`)
			if err == nil {
				wins.Add(1)
				return
			}
			assert.ErrorIs(t, err, domain.ErrClaimRecordExists)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}
