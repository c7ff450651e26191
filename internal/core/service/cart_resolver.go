package service

import (
	"fmt"

	"github.com/AFRIENDLYHACKER/shadow.cc-website/internal/core/domain"
)

// ResolveCart expands a cart encoding into one product id per unit, in cart
// order. It has no side effects.
func ResolveCart(encoding string, catalog *domain.Catalog) ([]string, error) {
	items, err := domain.ParseCart(encoding)
	if err != nil {
		return nil, err
	}

	var units []string
	for _, item := range items {
		if !catalog.Has(item.ProductID) {
			return nil, fmt.Errorf("%w: %s", domain.ErrUnknownProduct, item.ProductID)
		}
		for i := 0; i < item.Quantity; i++ {
			units = append(units, item.ProductID)
		}
	}

	if len(units) == 0 {
		return nil, domain.ErrEmptyCart
	}
	return units, nil
}
