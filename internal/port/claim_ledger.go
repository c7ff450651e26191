package port

import (
	"context"

	"github.com/AFRIENDLYHACKER/shadow.cc-website/internal/core/domain"
)

type ClaimLedger interface {
	// RecordClaim durably stores every key in the event; replays are no-ops
	RecordClaim(ctx context.Context, event domain.ClaimEvent) error

	// ClaimsForSession lists keys recorded against a session
	ClaimsForSession(ctx context.Context, sessionID string) ([]domain.ClaimedKey, error)
}

type ClaimPublisher interface {
	// Publish announces a claim event to downstream consumers
	Publish(ctx context.Context, event domain.ClaimEvent) error
}
