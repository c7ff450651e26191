package domain

import "time"

// ClaimMutationTimeout bounds a claim once it starts drawing keys, including
// the record write. It is not tied to the caller's context.
const ClaimMutationTimeout = 15 * time.Second

type ClaimOutcome string

const (
	// ClaimOutcomeClaimed means every unit was issued and the record was written.
	ClaimOutcomeClaimed ClaimOutcome = "claimed"
	// ClaimOutcomePartial means stock ran out part way through the cart.
	ClaimOutcomePartial ClaimOutcome = "partial"
	// ClaimOutcomeUnrecorded means keys were issued but the session record write failed.
	ClaimOutcomeUnrecorded ClaimOutcome = "unrecorded"
)

// ClaimEvent describes keys issued by one claim attempt.
type ClaimEvent struct {
	ID         string       `json:"id"`
	SessionID  string       `json:"sessionId"`
	Email      string       `json:"email,omitempty"`
	Keys       []ClaimedKey `json:"keys"`
	Outcome    ClaimOutcome `json:"outcome"`
	OccurredAt time.Time    `json:"occurredAt"`
}

// ClaimResult is returned to callers of a claim.
type ClaimResult struct {
	Keys           []ClaimedKey
	Email          string
	AlreadyClaimed bool
}
