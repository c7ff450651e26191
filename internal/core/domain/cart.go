package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// MaxCartUnits bounds the units one cart may hold, summed over its items.
const MaxCartUnits = 1000

// CartItem is a product and the number of units bought.
type CartItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// ParseCart decodes "productId:qty,productId:qty". An item without a
// quantity counts as one unit. Carts over MaxCartUnits are malformed.
func ParseCart(encoding string) ([]CartItem, error) {
	encoding = strings.TrimSpace(encoding)
	if encoding == "" {
		return nil, nil
	}

	parts := strings.Split(encoding, ",")
	items := make([]CartItem, 0, len(parts))
	total := 0
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, fmt.Errorf("%w: empty item in %q", ErrMalformedCart, encoding)
		}

		id, qtyText, hasQty := strings.Cut(part, ":")
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, fmt.Errorf("%w: missing product id in %q", ErrMalformedCart, part)
		}

		qty := 1
		if hasQty {
			n, err := strconv.Atoi(strings.TrimSpace(qtyText))
			if err != nil {
				return nil, fmt.Errorf("%w: bad quantity in %q", ErrMalformedCart, part)
			}
			qty = n
		}
		if qty <= 0 {
			return nil, fmt.Errorf("%w: non-positive quantity in %q", ErrMalformedCart, part)
		}
		if qty > MaxCartUnits-total {
			return nil, fmt.Errorf("%w: more than %d units", ErrMalformedCart, MaxCartUnits)
		}
		total += qty

		items = append(items, CartItem{ProductID: id, Quantity: qty})
	}
	return items, nil
}

// EncodeCart is the inverse of ParseCart.
func EncodeCart(items []CartItem) string {
	parts := make([]string, 0, len(items))
	for _, it := range items {
		parts = append(parts, it.ProductID+":"+strconv.Itoa(it.Quantity))
	}
	return strings.Join(parts, ",")
}
