package port

import (
	"context"

	"github.com/AFRIENDLYHACKER/shadow.cc-website/internal/core/domain"
)

type PaymentGateway interface {
	// GetSession retrieves a session, or domain.ErrSessionNotFound
	GetSession(ctx context.Context, sessionID string) (*domain.PaymentSession, error)

	// CreateSession opens an unpaid session for the given line items
	CreateSession(ctx context.Context, req domain.CheckoutRequest) (*domain.CheckoutSession, error)

	// RecordClaim writes the keys_claimed metadata, returns domain.ErrClaimRecordExists if already set
	RecordClaim(ctx context.Context, sessionID, record string) error
}
