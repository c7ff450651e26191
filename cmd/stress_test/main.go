package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/AFRIENDLYHACKER/shadow.cc-website/internal/adapter/gateway"
	"github.com/AFRIENDLYHACKER/shadow.cc-website/internal/adapter/lock"
	"github.com/AFRIENDLYHACKER/shadow.cc-website/internal/adapter/storage"
	"github.com/AFRIENDLYHACKER/shadow.cc-website/internal/core/domain"
	"github.com/AFRIENDLYHACKER/shadow.cc-website/internal/core/service"
	"github.com/AFRIENDLYHACKER/shadow.cc-website/internal/port"
	"github.com/AFRIENDLYHACKER/shadow.cc-website/internal/provision"
)

type sessionGateway interface {
	port.PaymentGateway
	MarkPaid(ctx context.Context, sessionID, email string) error
}

func main() {
	redisAddr := flag.String("redis", "", "run against Redis at this address instead of in memory")
	initialStock := flag.Int("stock", 20, "keys in the pool")
	sessions := flag.Int("sessions", 50, "paid sessions, one unit each")
	retries := flag.Int("retries", 3, "concurrent claim calls per session")
	flag.Parse()

	ctx := context.Background()
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.WarnLevel)

	productID := "stress-" + uuid.NewString()[:8]
	pools := []domain.KeyPool{{ProductID: productID, Unclaimed: provision.Generate("STRESS", *initialStock)}}
	catalog := domain.NewCatalog(domain.Product{ID: productID, Name: "Stress Key", UnitPriceCents: 100})

	var (
		inventory port.InventoryStore
		payments  sessionGateway
		locker    port.SessionLocker
	)
	if *redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: *redisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to connect redis: %v\n", err)
			os.Exit(1)
		}
		defer rdb.Close()

		inv := storage.NewRedisInventory(rdb)
		if err := inv.Provision(ctx, pools); err != nil {
			fmt.Fprintf(os.Stderr, "failed to provision: %v\n", err)
			os.Exit(1)
		}
		inventory = inv
		payments = storage.NewRedisSessionStore(rdb)
		locker = lock.NewRedisLocker(rdb, lock.DefaultOptions(), log)
	} else {
		inv, err := storage.NewMemoryInventory(pools)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to provision: %v\n", err)
			os.Exit(1)
		}
		inventory = inv
		payments = gateway.NewMemoryGateway()
		locker = lock.NewLocalLocker()
	}

	claims := service.NewClaimService(inventory, payments, locker, catalog, nil, log, (*sessions)*(*retries))
	defer claims.Close()
	go func() {
		for range claims.Events() {
		}
	}()

	ids := make([]string, *sessions)
	for i := range ids {
		cs, err := payments.CreateSession(ctx, domain.CheckoutRequest{
			LineItems: []domain.LineItem{{ProductID: productID, Name: "Stress Key", UnitPriceCents: 100, Quantity: 1}},
			Metadata:  map[string]string{domain.MetadataCartItems: domain.EncodeCart([]domain.CartItem{{ProductID: productID, Quantity: 1}})},
		})
		if err == nil {
			err = payments.MarkPaid(ctx, cs.ID, fmt.Sprintf("user-%d@example.com", i))
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create session: %v\n", err)
			os.Exit(1)
		}
		ids[i] = cs.ID
	}

	var successCount, outOfStockCount, failCount atomic.Int32
	var mu sync.Mutex
	results := make(map[string][]domain.ClaimedKey)
	mismatched := 0

	var wg sync.WaitGroup
	start := time.Now()
	for _, id := range ids {
		for r := 0; r < *retries; r++ {
			wg.Add(1)
			go func(sessionID string) {
				defer wg.Done()

				res, err := claims.Claim(ctx, sessionID)
				switch {
				case err == nil:
					successCount.Add(1)
					mu.Lock()
					if prev, ok := results[sessionID]; ok && !sameKeys(prev, res.Keys) {
						mismatched++
					}
					results[sessionID] = res.Keys
					mu.Unlock()
				case errors.Is(err, domain.ErrOutOfStock):
					outOfStockCount.Add(1)
				default:
					failCount.Add(1)
				}
			}(id)
		}
	}
	wg.Wait()
	elapsed := time.Since(start)

	issued := make(map[string]bool)
	for _, keys := range results {
		for _, k := range keys {
			issued[k.Key] = true
		}
	}
	finalStock, _ := inventory.GetStock(ctx, productID)

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", *initialStock)
	fmt.Printf("Sessions:         %d x %d calls\n", *sessions, *retries)
	fmt.Printf("Successful calls: %d\n", successCount.Load())
	fmt.Printf("Out of stock:     %d\n", outOfStockCount.Load())
	fmt.Printf("Other failures:   %d\n", failCount.Load())
	fmt.Printf("Sessions served:  %d\n", len(results))
	fmt.Printf("Distinct keys:    %d\n", len(issued))
	fmt.Printf("Final Stock:      %d\n", finalStock)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	want := min(*initialStock, *sessions)
	ok := true
	check := func(cond bool, pass, fail string) {
		if cond {
			fmt.Println("PASS: " + pass)
			return
		}
		ok = false
		fmt.Println("FAIL: " + fail)
	}
	check(len(results) == want, fmt.Sprintf("%d sessions received keys", want),
		fmt.Sprintf("expected %d sessions served, got %d", want, len(results)))
	check(len(issued) == len(results), "every served session holds a distinct key",
		fmt.Sprintf("%d keys across %d sessions", len(issued), len(results)))
	check(finalStock+len(issued) == *initialStock, "stock + issued == initial stock",
		fmt.Sprintf("stock %d + issued %d != %d", finalStock, len(issued), *initialStock))
	check(mismatched == 0, "retries returned identical keys",
		fmt.Sprintf("%d retries returned different keys", mismatched))

	if !ok {
		os.Exit(1)
	}
}

func sameKeys(a, b []domain.ClaimedKey) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
