package service

import (
	"context"
	"fmt"

	"github.com/AFRIENDLYHACKER/shadow.cc-website/internal/port"
)

// StockService is the read-only stock path polled by storefronts.
type StockService struct {
	inventory port.InventoryStore
	metrics   *Metrics
}

func NewStockService(inventory port.InventoryStore, metrics *Metrics) *StockService {
	return &StockService{inventory: inventory, metrics: metrics}
}

func (s *StockService) AllStock(ctx context.Context) (map[string]int, error) {
	stock, err := s.inventory.GetAllStock(ctx)
	if err != nil {
		return nil, fmt.Errorf("read stock: %w", err)
	}
	s.metrics.setStock(stock)
	return stock, nil
}

func (s *StockService) Stock(ctx context.Context, productID string) (int, error) {
	n, err := s.inventory.GetStock(ctx, productID)
	if err != nil {
		return 0, fmt.Errorf("read stock for %s: %w", productID, err)
	}
	s.metrics.setStock(map[string]int{productID: n})
	return n, nil
}
