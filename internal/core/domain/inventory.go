package domain

// ClaimedKey is a key value permanently assigned to a buyer.
type ClaimedKey struct {
	ProductID string `json:"productId"`
	Key       string `json:"key"`
}

// KeyPool is the provisioned state of one product's keys.
// len(Unclaimed) + Claimed is the product's initial stock.
type KeyPool struct {
	ProductID string
	Unclaimed []string
	Claimed   int
}

// InitialStock returns the number of keys the pool was provisioned with.
func (p KeyPool) InitialStock() int {
	return len(p.Unclaimed) + p.Claimed
}
