package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AFRIENDLYHACKER/shadow.cc-website/internal/core/domain"
)

func setupRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestRedisInventory_ProvisionAndClaim(t *testing.T) {
	client, _ := setupRedis(t)
	ctx := context.Background()
	inv := NewRedisInventory(client)

	require.NoError(t, inv.Provision(ctx, []domain.KeyPool{{ProductID: "weekly", Unclaimed: makeKeys("W", 3)}}))

	stock, err := inv.GetStock(ctx, "weekly")
	require.NoError(t, err)
	assert.Equal(t, 3, stock)

	key, err := inv.Claim(ctx, "weekly")
	require.NoError(t, err)
	assert.Contains(t, makeKeys("W", 3), key)

	stock, err = inv.GetStock(ctx, "weekly")
	require.NoError(t, err)
	assert.Equal(t, 2, stock)

	claimed, err := inv.Claimed(ctx, "weekly")
	require.NoError(t, err)
	assert.Equal(t, 1, claimed)
}

func TestRedisInventory_Exhausted(t *testing.T) {
	client, _ := setupRedis(t)
	ctx := context.Background()
	inv := NewRedisInventory(client)

	require.NoError(t, inv.Provision(ctx, []domain.KeyPool{{ProductID: "lifetime", Unclaimed: makeKeys("L", 1)}}))

	_, err := inv.Claim(ctx, "lifetime")
	require.NoError(t, err)

	_, err = inv.Claim(ctx, "lifetime")
	assert.ErrorIs(t, err, domain.ErrStockExhausted)

	claimed, err := inv.Claimed(ctx, "lifetime")
	require.NoError(t, err)
	assert.Equal(t, 1, claimed)
}

func TestRedisInventory_EmptyPoolIsKnown(t *testing.T) {
	client, _ := setupRedis(t)
	ctx := context.Background()
	inv := NewRedisInventory(client)

	require.NoError(t, inv.Provision(ctx, []domain.KeyPool{{ProductID: "sold-out"}}))

	stock, err := inv.GetStock(ctx, "sold-out")
	require.NoError(t, err)
	assert.Equal(t, 0, stock)

	_, err = inv.Claim(ctx, "sold-out")
	assert.ErrorIs(t, err, domain.ErrStockExhausted)
}

func TestRedisInventory_UnknownProduct(t *testing.T) {
	client, _ := setupRedis(t)
	ctx := context.Background()
	inv := NewRedisInventory(client)

	_, err := inv.Claim(ctx, "ghost-product")
	assert.ErrorIs(t, err, domain.ErrUnknownProduct)

	_, err = inv.GetStock(ctx, "ghost-product")
	assert.ErrorIs(t, err, domain.ErrUnknownProduct)

	_, err = inv.Claimed(ctx, "ghost-product")
	assert.ErrorIs(t, err, domain.ErrUnknownProduct)
}

func TestRedisInventory_ProvisionDoesNotResetExistingPool(t *testing.T) {
	client, _ := setupRedis(t)
	ctx := context.Background()
	inv := NewRedisInventory(client)
	pools := []domain.KeyPool{{ProductID: "monthly", Unclaimed: makeKeys("M", 2)}}

	require.NoError(t, inv.Provision(ctx, pools))
	_, err := inv.Claim(ctx, "monthly")
	require.NoError(t, err)

	// simulated restart
	require.NoError(t, NewRedisInventory(client).Provision(ctx, pools))

	stock, err := inv.GetStock(ctx, "monthly")
	require.NoError(t, err)
	assert.Equal(t, 1, stock)
}

func TestRedisInventory_ProvisionLargePool(t *testing.T) {
	client, _ := setupRedis(t)
	ctx := context.Background()
	inv := NewRedisInventory(client)

	require.NoError(t, inv.Provision(ctx, []domain.KeyPool{{ProductID: "bulk", Unclaimed: makeKeys("B", 1234), Claimed: 6}}))

	stock, err := inv.GetStock(ctx, "bulk")
	require.NoError(t, err)
	assert.Equal(t, 1234, stock)

	initial, err := client.HGet(ctx, metaKey("bulk"), "initial").Int()
	require.NoError(t, err)
	assert.Equal(t, 1240, initial)
}

func TestRedisInventory_GetAllStock(t *testing.T) {
	client, _ := setupRedis(t)
	ctx := context.Background()
	inv := NewRedisInventory(client)

	stock, err := inv.GetAllStock(ctx)
	require.NoError(t, err)
	assert.Empty(t, stock)

	require.NoError(t, inv.Provision(ctx, []domain.KeyPool{
		{ProductID: "weekly", Unclaimed: makeKeys("W", 4)},
		{ProductID: "monthly", Unclaimed: makeKeys("M", 2)},
		{ProductID: "empty"},
	}))
	_, err = inv.Claim(ctx, "weekly")
	require.NoError(t, err)

	stock, err = inv.GetAllStock(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"weekly": 3, "monthly": 2, "empty": 0}, stock)
}

func TestRedisInventory_ConcurrentClaims(t *testing.T) {
	client, _ := setupRedis(t)
	ctx := context.Background()
	inv := NewRedisInventory(client)

	initialStock := 20
	totalRequests := 50
	require.NoError(t, inv.Provision(ctx, []domain.KeyPool{{ProductID: "concurrent", Unclaimed: makeKeys("C", initialStock)}}))

	var successCount atomic.Int32
	var mu sync.Mutex
	seen := make(map[string]bool)
	var wg sync.WaitGroup

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key, err := inv.Claim(ctx, "concurrent")
			if err != nil {
				assert.ErrorIs(t, err, domain.ErrStockExhausted)
				return
			}
			successCount.Add(1)
			mu.Lock()
			defer mu.Unlock()
			assert.False(t, seen[key], "key %s issued twice", key)
			seen[key] = true
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(initialStock), successCount.Load())
	stock, err := inv.GetStock(ctx, "concurrent")
	require.NoError(t, err)
	assert.Equal(t, 0, stock)
}
