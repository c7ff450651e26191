package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AFRIENDLYHACKER/shadow.cc-website/internal/adapter/gateway"
	"github.com/AFRIENDLYHACKER/shadow.cc-website/internal/adapter/lock"
	"github.com/AFRIENDLYHACKER/shadow.cc-website/internal/adapter/storage"
	"github.com/AFRIENDLYHACKER/shadow.cc-website/internal/core/domain"
	"github.com/AFRIENDLYHACKER/shadow.cc-website/internal/port"
)

type claimFixture struct {
	svc       *ClaimService
	inventory *countingInventory
	mem       *storage.MemoryInventory
	gateway   *gateway.MemoryGateway
	metrics   *Metrics
	reg       *prometheus.Registry
}

func newClaimFixture(t *testing.T, pools ...domain.KeyPool) *claimFixture {
	t.Helper()
	mem, err := storage.NewMemoryInventory(pools)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	f := &claimFixture{
		inventory: &countingInventory{InventoryStore: mem},
		mem:       mem,
		gateway:   gateway.NewMemoryGateway(),
		metrics:   NewMetrics(reg),
		reg:       reg,
	}
	f.svc = f.build(f.gateway)
	return f
}

func (f *claimFixture) build(gw port.PaymentGateway) *ClaimService {
	return NewClaimService(f.inventory, gw, lock.NewLocalLocker(), testCatalog(), f.metrics, zerolog.Nop(), 64)
}

func (f *claimFixture) stock(t *testing.T, productID string) int {
	t.Helper()
	n, err := f.mem.GetStock(context.Background(), productID)
	require.NoError(t, err)
	return n
}

func drain(svc *ClaimService) []domain.ClaimEvent {
	var out []domain.ClaimEvent
	for {
		select {
		case ev := <-svc.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestClaim_FullCart(t *testing.T) {
	f := newClaimFixture(t,
		domain.KeyPool{ProductID: "weekly", Unclaimed: makeKeys("W", 5)},
		domain.KeyPool{ProductID: "lifetime", Unclaimed: makeKeys("L", 5)},
	)
	f.gateway.Put(paidSession("cs_a", "weekly:2,lifetime:1"))

	res, err := f.svc.Claim(context.Background(), "cs_a")
	require.NoError(t, err)
	assert.False(t, res.AlreadyClaimed)
	assert.Equal(t, "cs_a@example.com", res.Email)
	require.Len(t, res.Keys, 3)
	assert.Equal(t, "weekly", res.Keys[0].ProductID)
	assert.Equal(t, "weekly", res.Keys[1].ProductID)
	assert.Equal(t, "lifetime", res.Keys[2].ProductID)
	assert.NotEqual(t, res.Keys[0].Key, res.Keys[1].Key)

	assert.Equal(t, 3, f.stock(t, "weekly"))
	assert.Equal(t, 4, f.stock(t, "lifetime"))

	session, err := f.gateway.GetSession(context.Background(), "cs_a")
	require.NoError(t, err)
	cached, found, err := IdempotencyGuard{}.Check(session)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, res.Keys, cached.Keys)

	events := drain(f.svc)
	require.Len(t, events, 1)
	assert.Equal(t, domain.ClaimOutcomeClaimed, events[0].Outcome)
	assert.Equal(t, res.Keys, events[0].Keys)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.claimRequests.WithLabelValues("claimed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.keysIssued.WithLabelValues("weekly")))
}

func TestClaim_ConcurrentSessionsShareStock(t *testing.T) {
	f := newClaimFixture(t, domain.KeyPool{ProductID: "weekly", Unclaimed: makeKeys("W", 2)})
	f.gateway.Put(paidSession("cs_a", "weekly:1"))
	f.gateway.Put(paidSession("cs_b", "weekly:1"))

	var wg sync.WaitGroup
	results := make([]*domain.ClaimResult, 2)
	for i, id := range []string{"cs_a", "cs_b"} {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			res, err := f.svc.Claim(context.Background(), id)
			assert.NoError(t, err)
			results[i] = res
		}(i, id)
	}
	wg.Wait()

	require.NotNil(t, results[0])
	require.NotNil(t, results[1])
	assert.NotEqual(t, results[0].Keys[0].Key, results[1].Keys[0].Key)
	assert.Equal(t, 0, f.stock(t, "weekly"))
}

func TestClaim_OutOfStockReportsIssuedKeys(t *testing.T) {
	f := newClaimFixture(t, domain.KeyPool{ProductID: "weekly", Unclaimed: makeKeys("W", 1)})
	f.gateway.Put(paidSession("cs_c", "weekly:2"))

	res, err := f.svc.Claim(context.Background(), "cs_c")
	assert.Nil(t, res)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrOutOfStock)
	assert.Equal(t, "OutOfStock: weekly (1 keys issued)", err.Error())

	var partial *domain.PartialClaimError
	require.True(t, errors.As(err, &partial))
	require.Len(t, partial.Keys, 1)
	assert.Equal(t, "W-0000", partial.Keys[0].Key)

	var oos *domain.OutOfStockError
	require.True(t, errors.As(err, &oos))
	assert.Equal(t, "weekly", oos.ProductID)

	assert.Equal(t, 0, f.stock(t, "weekly"))
	claimed, err := f.mem.Claimed("weekly")
	require.NoError(t, err)
	assert.Equal(t, 1, claimed)

	session, err := f.gateway.GetSession(context.Background(), "cs_c")
	require.NoError(t, err)
	rec, recorded, err := IdempotencyGuard{}.Check(session)
	require.NoError(t, err)
	assert.True(t, recorded)
	assert.True(t, rec.Partial())
	assert.Equal(t, "weekly", rec.Shortfall)
	assert.Equal(t, partial.Keys, rec.Keys)

	events := drain(f.svc)
	require.Len(t, events, 1)
	assert.Equal(t, domain.ClaimOutcomePartial, events[0].Outcome)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.claimRequests.WithLabelValues("out_of_stock")))
}

func TestClaim_PartialCartRetriesReplay(t *testing.T) {
	f := newClaimFixture(t,
		domain.KeyPool{ProductID: "weekly", Unclaimed: makeKeys("W", 5)},
		domain.KeyPool{ProductID: "lifetime", Unclaimed: makeKeys("L", 1)},
	)
	f.gateway.Put(paidSession("cs_p", "weekly:1,lifetime:2"))

	_, first := f.svc.Claim(context.Background(), "cs_p")
	var firstPartial *domain.PartialClaimError
	require.True(t, errors.As(first, &firstPartial))
	require.Len(t, firstPartial.Keys, 2)
	mutations := f.inventory.claims.Load()

	for attempt := 0; attempt < 3; attempt++ {
		res, err := f.svc.Claim(context.Background(), "cs_p")
		assert.Nil(t, res)
		assert.ErrorIs(t, err, domain.ErrOutOfStock)
		assert.Equal(t, "OutOfStock: lifetime (2 keys issued)", err.Error())

		var partial *domain.PartialClaimError
		require.True(t, errors.As(err, &partial))
		assert.Equal(t, firstPartial.Keys, partial.Keys)
	}

	assert.Equal(t, mutations, f.inventory.claims.Load())
	assert.Equal(t, 4, f.stock(t, "weekly"))
	assert.Equal(t, 0, f.stock(t, "lifetime"))
	assert.Len(t, drain(f.svc), 1)
}

func TestClaim_PartialInventoryFaultRetriesReplay(t *testing.T) {
	f := newClaimFixture(t,
		domain.KeyPool{ProductID: "weekly", Unclaimed: makeKeys("W", 5)},
		domain.KeyPool{ProductID: "lifetime", Unclaimed: makeKeys("L", 5)},
	)
	f.inventory.failOn = "lifetime"
	f.gateway.Put(paidSession("cs_q", "weekly:1,lifetime:1"))

	_, err := f.svc.Claim(context.Background(), "cs_q")
	assert.ErrorIs(t, err, domain.ErrClaimFailure)
	mutations := f.inventory.claims.Load()

	f.inventory.failOn = ""
	_, err = f.svc.Claim(context.Background(), "cs_q")
	assert.ErrorIs(t, err, domain.ErrClaimFailure)

	var partial *domain.PartialClaimError
	require.True(t, errors.As(err, &partial))
	require.Len(t, partial.Keys, 1)
	assert.Equal(t, "weekly", partial.Keys[0].ProductID)
	assert.Equal(t, mutations, f.inventory.claims.Load())
	assert.Equal(t, 4, f.stock(t, "weekly"))
}

func TestClaim_LostRecordWriteReturnsWinner(t *testing.T) {
	f := newClaimFixture(t, domain.KeyPool{ProductID: "weekly", Unclaimed: makeKeys("W", 5)})
	f.gateway.Put(paidSession("cs_r", "weekly:1"))
	winner := []domain.ClaimedKey{{ProductID: "weekly", Key: "W-winner"}}
	svc := f.build(&racingGateway{PaymentGateway: f.gateway, winner: winner})

	res, err := svc.Claim(context.Background(), "cs_r")
	require.NoError(t, err)
	assert.True(t, res.AlreadyClaimed)
	assert.Equal(t, winner, res.Keys)
	assert.Equal(t, "cs_r@example.com", res.Email)
	assert.Equal(t, 4, f.stock(t, "weekly"))

	events := drain(svc)
	require.Len(t, events, 1)
	assert.Equal(t, domain.ClaimOutcomeUnrecorded, events[0].Outcome)
	require.Len(t, events[0].Keys, 1)
	assert.Equal(t, "W-0000", events[0].Keys[0].Key)
}

func TestClaim_FullQueueDoesNotBlock(t *testing.T) {
	f := newClaimFixture(t, domain.KeyPool{ProductID: "weekly", Unclaimed: makeKeys("W", 5)})
	f.gateway.Put(paidSession("cs_a", "weekly:1"))
	f.gateway.Put(paidSession("cs_b", "weekly:1"))
	svc := NewClaimService(f.inventory, f.gateway, lock.NewLocalLocker(), testCatalog(), nil, zerolog.Nop(), 1)

	done := make(chan error, 2)
	go func() {
		for _, id := range []string{"cs_a", "cs_b"} {
			_, err := svc.Claim(context.Background(), id)
			done <- err
		}
	}()

	for i := 0; i < 2; i++ {
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("claim blocked on a full event queue")
		}
	}
	assert.Len(t, drain(svc), 1)
}

func TestClaim_CloseWaitsForInflightClaims(t *testing.T) {
	f := newClaimFixture(t, domain.KeyPool{ProductID: "weekly", Unclaimed: makeKeys("W", 5)})
	f.gateway.Put(paidSession("cs_a", "weekly:1"))
	inv := &gatedInventory{InventoryStore: f.inventory, entered: make(chan struct{}), release: make(chan struct{})}
	svc := NewClaimService(inv, f.gateway, lock.NewLocalLocker(), testCatalog(), nil, zerolog.Nop(), 4)

	claimed := make(chan error, 1)
	go func() {
		_, err := svc.Claim(context.Background(), "cs_a")
		claimed <- err
	}()
	<-inv.entered

	closed := make(chan struct{})
	go func() {
		svc.Close()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("Close returned while a claim was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(inv.release)
	require.NoError(t, <-claimed)
	<-closed

	ev, ok := <-svc.Events()
	require.True(t, ok)
	assert.Equal(t, domain.ClaimOutcomeClaimed, ev.Outcome)
	_, ok = <-svc.Events()
	assert.False(t, ok)

	_, err := svc.Claim(context.Background(), "cs_a")
	assert.ErrorIs(t, err, domain.ErrClaimFailure)
	svc.Close()
}

func TestClaim_OutOfStockOnLaterProduct(t *testing.T) {
	f := newClaimFixture(t,
		domain.KeyPool{ProductID: "weekly", Unclaimed: makeKeys("W", 3)},
		domain.KeyPool{ProductID: "lifetime"},
	)
	f.gateway.Put(paidSession("cs_c", "weekly:2,lifetime:1"))

	_, err := f.svc.Claim(context.Background(), "cs_c")
	var partial *domain.PartialClaimError
	require.True(t, errors.As(err, &partial))
	assert.Len(t, partial.Keys, 2)
	assert.Equal(t, 1, f.stock(t, "weekly"))
}

func TestClaim_NothingIssuedEmitsNoEvent(t *testing.T) {
	f := newClaimFixture(t, domain.KeyPool{ProductID: "weekly"})
	f.gateway.Put(paidSession("cs_c", "weekly:1"))

	_, err := f.svc.Claim(context.Background(), "cs_c")
	assert.ErrorIs(t, err, domain.ErrOutOfStock)

	var partial *domain.PartialClaimError
	require.True(t, errors.As(err, &partial))
	assert.Empty(t, partial.Keys)
	assert.Empty(t, drain(f.svc))
}

func TestClaim_Idempotent(t *testing.T) {
	f := newClaimFixture(t, domain.KeyPool{ProductID: "weekly", Unclaimed: makeKeys("W", 5)})
	f.gateway.Put(paidSession("cs_a", "weekly:2"))

	first, err := f.svc.Claim(context.Background(), "cs_a")
	require.NoError(t, err)
	mutations := f.inventory.claims.Load()

	second, err := f.svc.Claim(context.Background(), "cs_a")
	require.NoError(t, err)
	assert.True(t, second.AlreadyClaimed)
	assert.Equal(t, first.Keys, second.Keys)
	assert.Equal(t, first.Email, second.Email)
	assert.Equal(t, mutations, f.inventory.claims.Load())
	assert.Equal(t, 3, f.stock(t, "weekly"))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.claimRequests.WithLabelValues("already_claimed")))
}

func TestClaim_ConcurrentRetriesClaimOnce(t *testing.T) {
	f := newClaimFixture(t, domain.KeyPool{ProductID: "weekly", Unclaimed: makeKeys("W", 50)})
	f.gateway.Put(paidSession("cs_a", "weekly:3"))

	const attempts = 20
	var wg sync.WaitGroup
	results := make([]*domain.ClaimResult, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.svc.Claim(context.Background(), "cs_a")
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	fresh := 0
	for _, r := range results {
		require.NotNil(t, r)
		assert.Equal(t, results[0].Keys, r.Keys)
		if !r.AlreadyClaimed {
			fresh++
		}
	}
	assert.Equal(t, 1, fresh)
	assert.Equal(t, int32(3), f.inventory.claims.Load())
	assert.Equal(t, 47, f.stock(t, "weekly"))
}

func TestClaim_ValidationFailuresDoNotMutate(t *testing.T) {
	tests := []struct {
		name    string
		session *domain.PaymentSession
		wantErr error
	}{
		{
			name: "unpaid",
			session: &domain.PaymentSession{
				ID:            "cs_d",
				PaymentStatus: domain.PaymentStatusUnpaid,
				Metadata:      map[string]string{domain.MetadataCartItems: "weekly:1"},
			},
			wantErr: domain.ErrPaymentNotCompleted,
		},
		{name: "unknown product", session: paidSession("cs_d", "weekly:1,ghost-product:1"), wantErr: domain.ErrUnknownProduct},
		{name: "malformed cart", session: paidSession("cs_d", "weekly:abc"), wantErr: domain.ErrMalformedCart},
		{name: "empty cart", session: paidSession("cs_d", ""), wantErr: domain.ErrEmptyCart},
		{
			name:    "missing cart",
			session: &domain.PaymentSession{ID: "cs_d", PaymentStatus: domain.PaymentStatusPaid},
			wantErr: domain.ErrEmptyCart,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newClaimFixture(t, domain.KeyPool{ProductID: "weekly", Unclaimed: makeKeys("W", 2)})
			f.gateway.Put(tt.session)

			_, err := f.svc.Claim(context.Background(), "cs_d")
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Zero(t, f.inventory.claims.Load())
			assert.Equal(t, 2, f.stock(t, "weekly"))
			assert.Empty(t, drain(f.svc))
		})
	}
}

func TestClaim_SessionNotFound(t *testing.T) {
	f := newClaimFixture(t, domain.KeyPool{ProductID: "weekly", Unclaimed: makeKeys("W", 2)})

	_, err := f.svc.Claim(context.Background(), "cs_missing")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	assert.Zero(t, f.inventory.claims.Load())
}

func TestClaim_CorruptRecordNeverReclaims(t *testing.T) {
	for _, record := range []string{"not json", "[]", `[{"productId":"weekly"}]`} {
		t.Run(record, func(t *testing.T) {
			f := newClaimFixture(t, domain.KeyPool{ProductID: "weekly", Unclaimed: makeKeys("W", 2)})
			s := paidSession("cs_e", "weekly:1")
			s.Metadata[domain.MetadataKeysClaimed] = record
			f.gateway.Put(s)

			_, err := f.svc.Claim(context.Background(), "cs_e")
			assert.ErrorIs(t, err, domain.ErrCorruptClaimRecord)
			assert.Zero(t, f.inventory.claims.Load())
		})
	}
}

func TestClaim_RecordWriteFailure(t *testing.T) {
	f := newClaimFixture(t, domain.KeyPool{ProductID: "weekly", Unclaimed: makeKeys("W", 2)})
	f.gateway.Put(paidSession("cs_f", "weekly:1"))
	svc := f.build(&flakyGateway{PaymentGateway: f.gateway, recordErr: errors.New("gateway timeout")})

	_, err := svc.Claim(context.Background(), "cs_f")
	assert.ErrorIs(t, err, domain.ErrClaimFailure)

	var partial *domain.PartialClaimError
	require.True(t, errors.As(err, &partial))
	assert.Len(t, partial.Keys, 1)
	assert.Equal(t, 1, f.stock(t, "weekly"))

	events := drain(svc)
	require.Len(t, events, 1)
	assert.Equal(t, domain.ClaimOutcomeUnrecorded, events[0].Outcome)
}

func TestClaim_InventoryFault(t *testing.T) {
	f := newClaimFixture(t, domain.KeyPool{ProductID: "weekly", Unclaimed: makeKeys("W", 2)})
	f.inventory.failOn = "weekly"
	f.gateway.Put(paidSession("cs_g", "weekly:1"))

	_, err := f.svc.Claim(context.Background(), "cs_g")
	assert.ErrorIs(t, err, domain.ErrClaimFailure)
	assert.NotErrorIs(t, err, domain.ErrOutOfStock)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.claimRequests.WithLabelValues("failure")))
}

func TestClaim_CancelledCallerStillCompletes(t *testing.T) {
	f := newClaimFixture(t, domain.KeyPool{ProductID: "weekly", Unclaimed: makeKeys("W", 5)})
	f.gateway.Put(paidSession("cs_h", "weekly:2"))

	ctx, cancel := context.WithCancel(context.Background())
	svc := NewClaimService(
		&cancelOnClaim{InventoryStore: f.inventory, cancel: cancel},
		f.gateway, lock.NewLocalLocker(), testCatalog(), nil, zerolog.Nop(), 4,
	)

	res, err := svc.Claim(ctx, "cs_h")
	require.NoError(t, err)
	assert.Len(t, res.Keys, 2)

	session, err := f.gateway.GetSession(context.Background(), "cs_h")
	require.NoError(t, err)
	_, recorded := session.ClaimRecord()
	assert.True(t, recorded)
}

// cancelOnClaim cancels the caller's context as soon as the first key leaves a pool.
type cancelOnClaim struct {
	port.InventoryStore
	cancel context.CancelFunc
}

func (c *cancelOnClaim) Claim(ctx context.Context, productID string) (string, error) {
	key, err := c.InventoryStore.Claim(ctx, productID)
	c.cancel()
	return key, err
}
