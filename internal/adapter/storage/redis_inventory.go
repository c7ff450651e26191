package storage

import (
	"context"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/AFRIENDLYHACKER/shadow.cc-website/internal/core/domain"
)

const (
	poolKeyFormat  = "keys:{%s}:pool"
	metaKeyFormat  = "keys:{%s}:meta"
	productsKey    = "keys:products"
	provisionBatch = 500
)

// KEYS[1] pool set, KEYS[2] meta hash
var claimKeyScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 0 then
	return -1
end

local key = redis.call('SPOP', KEYS[1])
if not key then
	return 0
end

redis.call('HINCRBY', KEYS[2], 'claimed', 1)
return key
`)

// KEYS[1] meta hash, KEYS[2] product registry
// ARGV[1] product id, ARGV[2] initial stock, ARGV[3] already claimed
var registerPoolScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end

redis.call('HSET', KEYS[1], 'initial', ARGV[2], 'claimed', ARGV[3])
redis.call('SADD', KEYS[2], ARGV[1])
return 1
`)

// KEYS pool sets
var snapshotScript = redis.NewScript(`
local out = {}
for i = 1, #KEYS do
	out[i] = redis.call('SCARD', KEYS[i])
end
return out
`)

// RedisInventory keeps each product's unclaimed keys in a Redis set. Claims
// run as a single Lua script, so they are atomic across every process
// sharing the Redis instance.
type RedisInventory struct {
	client *redis.Client
}

func NewRedisInventory(client *redis.Client) *RedisInventory {
	return &RedisInventory{client: client}
}

func poolKey(productID string) string { return fmt.Sprintf(poolKeyFormat, productID) }
func metaKey(productID string) string { return fmt.Sprintf(metaKeyFormat, productID) }

// Provision seeds pools that Redis has never seen. Pools that already exist
// keep their state, so a restart never restores sold keys.
func (r *RedisInventory) Provision(ctx context.Context, pools []domain.KeyPool) error {
	for _, p := range pools {
		exists, err := r.client.Exists(ctx, metaKey(p.ProductID)).Result()
		if err != nil {
			return fmt.Errorf("check pool %s: %w", p.ProductID, err)
		}
		if exists == 1 {
			continue
		}

		// keys first, registration last: a pool is visible only once complete
		for start := 0; start < len(p.Unclaimed); start += provisionBatch {
			end := min(start+provisionBatch, len(p.Unclaimed))
			members := make([]interface{}, 0, end-start)
			for _, k := range p.Unclaimed[start:end] {
				members = append(members, k)
			}
			if err := r.client.SAdd(ctx, poolKey(p.ProductID), members...).Err(); err != nil {
				return fmt.Errorf("seed pool %s: %w", p.ProductID, err)
			}
		}

		keys := []string{metaKey(p.ProductID), productsKey}
		if err := registerPoolScript.Run(ctx, r.client, keys, p.ProductID, p.InitialStock(), p.Claimed).Err(); err != nil {
			return fmt.Errorf("register pool %s: %w", p.ProductID, err)
		}
	}
	return nil
}

func (r *RedisInventory) GetStock(ctx context.Context, productID string) (int, error) {
	exists, err := r.client.Exists(ctx, metaKey(productID)).Result()
	if err != nil {
		return 0, fmt.Errorf("check pool %s: %w", productID, err)
	}
	if exists == 0 {
		return 0, fmt.Errorf("%w: %s", domain.ErrUnknownProduct, productID)
	}

	n, err := r.client.SCard(ctx, poolKey(productID)).Result()
	if err != nil {
		return 0, fmt.Errorf("count pool %s: %w", productID, err)
	}
	return int(n), nil
}

func (r *RedisInventory) GetAllStock(ctx context.Context) (map[string]int, error) {
	ids, err := r.client.SMembers(ctx, productsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list pools: %w", err)
	}
	stock := make(map[string]int, len(ids))
	if len(ids) == 0 {
		return stock, nil
	}
	sort.Strings(ids)

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = poolKey(id)
	}

	counts, err := snapshotScript.Run(ctx, r.client, keys).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("snapshot pools: %w", err)
	}
	for i, id := range ids {
		stock[id] = int(counts[i])
	}
	return stock, nil
}

func (r *RedisInventory) Claim(ctx context.Context, productID string) (string, error) {
	keys := []string{poolKey(productID), metaKey(productID)}

	result, err := claimKeyScript.Run(ctx, r.client, keys).Result()
	if err != nil {
		return "", fmt.Errorf("claim from %s: %w", productID, err)
	}

	switch v := result.(type) {
	case string:
		return v, nil
	case int64:
		if v == -1 {
			return "", fmt.Errorf("%w: %s", domain.ErrUnknownProduct, productID)
		}
		return "", domain.ErrStockExhausted
	default:
		return "", fmt.Errorf("unexpected claim result type %T", result)
	}
}

// Claimed returns how many keys have left the product's pool.
func (r *RedisInventory) Claimed(ctx context.Context, productID string) (int, error) {
	n, err := r.client.HGet(ctx, metaKey(productID), "claimed").Int()
	if err == redis.Nil {
		return 0, fmt.Errorf("%w: %s", domain.ErrUnknownProduct, productID)
	}
	if err != nil {
		return 0, fmt.Errorf("read claimed count %s: %w", productID, err)
	}
	return n, nil
}
