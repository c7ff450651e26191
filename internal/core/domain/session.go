package domain

const (
	// MetadataCartItems holds the cart encoding, "productId:qty,productId:qty".
	MetadataCartItems = "cart_items"
	// MetadataKeysClaimed holds the JSON-encoded idempotency record.
	MetadataKeysClaimed = "keys_claimed"
)

type PaymentStatus string

const (
	PaymentStatusUnpaid PaymentStatus = "unpaid"
	PaymentStatusPaid   PaymentStatus = "paid"
)

type SessionStatus string

const (
	SessionStatusOpen     SessionStatus = "open"
	SessionStatusComplete SessionStatus = "complete"
	SessionStatusExpired  SessionStatus = "expired"
)

// PaymentSession is the gateway's view of a checkout.
type PaymentSession struct {
	ID            string
	Status        SessionStatus
	PaymentStatus PaymentStatus
	CustomerEmail string
	AmountCents   int64
	Metadata      map[string]string
}

func (s *PaymentSession) Paid() bool {
	return s.PaymentStatus == PaymentStatusPaid
}

// CartEncoding returns the cart metadata and whether it is present.
func (s *PaymentSession) CartEncoding() (string, bool) {
	v, ok := s.Metadata[MetadataCartItems]
	return v, ok
}

// ClaimRecord returns the idempotency record and whether it is present.
func (s *PaymentSession) ClaimRecord() (string, bool) {
	v, ok := s.Metadata[MetadataKeysClaimed]
	return v, ok && v != ""
}

// LineItem is one priced line of a checkout.
type LineItem struct {
	ProductID      string
	Name           string
	Description    string
	UnitPriceCents int64
	Quantity       int
}

// CheckoutRequest asks the gateway to open a payment session.
type CheckoutRequest struct {
	LineItems     []LineItem
	CustomerEmail string
	Metadata      map[string]string
}

// CheckoutSession is what the gateway returns for a new session.
type CheckoutSession struct {
	ID           string
	ClientSecret string
	URL          string
	AmountCents  int64
}
