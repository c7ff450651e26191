package domain

import "sort"

// Product is an immutable catalog entry.
type Product struct {
	ID             string
	Name           string
	Description    string
	Category       string
	Duration       string
	UnitPriceCents int64
}

// Catalog is a read-only product lookup.
type Catalog struct {
	products map[string]Product
	order    []string
}

func NewCatalog(products ...Product) *Catalog {
	c := &Catalog{products: make(map[string]Product, len(products))}
	for _, p := range products {
		if _, ok := c.products[p.ID]; !ok {
			c.order = append(c.order, p.ID)
		}
		c.products[p.ID] = p
	}
	return c
}

func (c *Catalog) Lookup(id string) (Product, bool) {
	p, ok := c.products[id]
	return p, ok
}

func (c *Catalog) Has(id string) bool {
	_, ok := c.products[id]
	return ok
}

// Products returns the catalog in definition order.
func (c *Catalog) Products() []Product {
	out := make([]Product, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.products[id])
	}
	return out
}

// IDs returns the product ids sorted lexically.
func (c *Catalog) IDs() []string {
	ids := make([]string, 0, len(c.products))
	for id := range c.products {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
