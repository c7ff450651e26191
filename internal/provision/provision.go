// Package provision builds the initial key pools for the catalog.
package provision

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/AFRIENDLYHACKER/shadow.cc-website/internal/config"
	"github.com/AFRIENDLYHACKER/shadow.cc-website/internal/core/domain"
)

// Catalog converts product config into a domain catalog.
func Catalog(products []config.ProductConfig) *domain.Catalog {
	out := make([]domain.Product, 0, len(products))
	for _, p := range products {
		out = append(out, domain.Product{
			ID:             p.ID,
			Name:           p.Name,
			Description:    p.Description,
			Category:       p.Category,
			Duration:       p.Duration,
			UnitPriceCents: p.PriceCents,
		})
	}
	return domain.NewCatalog(out...)
}

// Build returns one pool per product. Keys come from the inline list, then
// the keys file, then Stock generated keys.
func Build(products []config.ProductConfig) ([]domain.KeyPool, error) {
	pools := make([]domain.KeyPool, 0, len(products))
	seen := make(map[string]bool, len(products))

	for _, p := range products {
		if err := checkID(p.ID); err != nil {
			return nil, err
		}
		if seen[p.ID] {
			return nil, fmt.Errorf("duplicate product %s", p.ID)
		}
		seen[p.ID] = true

		keys, err := keysFor(p)
		if err != nil {
			return nil, err
		}
		if err := checkUnique(p.ID, keys); err != nil {
			return nil, err
		}
		pools = append(pools, domain.KeyPool{ProductID: p.ID, Unclaimed: keys})
	}
	return pools, nil
}

func keysFor(p config.ProductConfig) ([]string, error) {
	switch {
	case len(p.Keys) > 0:
		keys := make([]string, 0, len(p.Keys))
		for _, k := range p.Keys {
			if k = strings.TrimSpace(k); k != "" {
				keys = append(keys, k)
			}
		}
		return keys, nil
	case p.KeysFile != "":
		return ReadKeysFile(p.KeysFile)
	default:
		return Generate(prefixFor(p), p.Stock), nil
	}
}

// ReadKeysFile reads one key per line. Blank lines and lines starting with
// '#' are skipped.
func ReadKeysFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open keys file: %w", err)
	}
	defer f.Close()

	var keys []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		keys = append(keys, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read keys file %s: %w", path, err)
	}
	return keys, nil
}

// Generate returns n random keys of the form PREFIX-UUID in upper case.
func Generate(prefix string, n int) []string {
	keys := make([]string, n)
	for i := range keys {
		keys[i] = strings.ToUpper(prefix + "-" + uuid.NewString())
	}
	return keys
}

func prefixFor(p config.ProductConfig) string {
	if p.KeyPrefix != "" {
		return p.KeyPrefix
	}
	return p.ID
}

func checkID(id string) error {
	if id == "" || strings.ContainsAny(id, ":,") {
		return fmt.Errorf("invalid product id %q", id)
	}
	return nil
}

func checkUnique(productID string, keys []string) error {
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, dup := seen[k]; dup {
			return fmt.Errorf("duplicate key %q in pool %s", k, productID)
		}
		seen[k] = struct{}{}
	}
	return nil
}
