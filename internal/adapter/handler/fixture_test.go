package handler

import (
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/AFRIENDLYHACKER/shadow.cc-website/internal/adapter/gateway"
	"github.com/AFRIENDLYHACKER/shadow.cc-website/internal/adapter/lock"
	"github.com/AFRIENDLYHACKER/shadow.cc-website/internal/adapter/storage"
	"github.com/AFRIENDLYHACKER/shadow.cc-website/internal/core/domain"
	"github.com/AFRIENDLYHACKER/shadow.cc-website/internal/core/service"
)

type fixture struct {
	gateway   *gateway.MemoryGateway
	inventory *storage.MemoryInventory
	claims    *service.ClaimService
	stock     *service.StockService
	checkout  *service.CheckoutService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	keys := func(prefix string, n int) []string {
		out := make([]string, n)
		for i := range out {
			out[i] = fmt.Sprintf("%s-%d", prefix, i)
		}
		return out
	}

	inv, err := storage.NewMemoryInventory([]domain.KeyPool{
		{ProductID: "weekly", Unclaimed: keys("W", 2)},
		{ProductID: "lifetime", Unclaimed: keys("L", 1)},
	})
	require.NoError(t, err)

	catalog := domain.NewCatalog(
		domain.Product{ID: "weekly", Name: "Weekly Key", UnitPriceCents: 300},
		domain.Product{ID: "lifetime", Name: "Lifetime Key", UnitPriceCents: 800},
	)
	gw := gateway.NewMemoryGateway()
	metrics := service.NewMetrics(prometheus.NewRegistry())

	return &fixture{
		gateway:   gw,
		inventory: inv,
		claims:    service.NewClaimService(inv, gw, lock.NewLocalLocker(), catalog, metrics, zerolog.Nop(), 16),
		stock:     service.NewStockService(inv, metrics),
		checkout:  service.NewCheckoutService(gw, catalog, zerolog.Nop()),
	}
}

func (f *fixture) paid(id, cart string) {
	f.gateway.Put(&domain.PaymentSession{
		ID:            id,
		Status:        domain.SessionStatusComplete,
		PaymentStatus: domain.PaymentStatusPaid,
		CustomerEmail: "buyer@example.com",
		Metadata:      map[string]string{domain.MetadataCartItems: cart},
	})
}
