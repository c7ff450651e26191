package service

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/AFRIENDLYHACKER/shadow.cc-website/internal/core/domain"
)

const (
	ShortfallOutOfStock   = "out_of_stock"
	ShortfallClaimFailure = "claim_failure"
)

// ClaimRecord is the decoded keys_claimed value. A complete claim is stored
// as a bare JSON array of keys. A claim that stopped part way is stored as
// an object naming the product it stopped on, and is final: retries replay
// it instead of drawing again.
type ClaimRecord struct {
	Keys      []domain.ClaimedKey `json:"keys"`
	Shortfall string              `json:"shortfall,omitempty"`
	Reason    string              `json:"reason,omitempty"`
}

func (r ClaimRecord) Partial() bool {
	return r.Shortfall != ""
}

// ShortfallError rebuilds the error the original attempt returned.
func (r ClaimRecord) ShortfallError() error {
	var err error
	if r.Reason == ShortfallOutOfStock {
		err = &domain.OutOfStockError{ProductID: r.Shortfall}
	} else {
		err = fmt.Errorf("%w: claim %s", domain.ErrClaimFailure, r.Shortfall)
	}
	return &domain.PartialClaimError{Keys: r.Keys, Err: err}
}

// IdempotencyGuard reads and writes the keys_claimed record on a session.
type IdempotencyGuard struct{}

// Check returns the record when the session already carries one.
// A present but unreadable record yields domain.ErrCorruptClaimRecord and
// must never lead to a fresh claim.
func (IdempotencyGuard) Check(session *domain.PaymentSession) (ClaimRecord, bool, error) {
	raw, ok := session.ClaimRecord()
	if !ok {
		return ClaimRecord{}, false, nil
	}

	var rec ClaimRecord
	if strings.HasPrefix(strings.TrimSpace(raw), "{") {
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return ClaimRecord{}, true, corrupt(session, err.Error())
		}
		if !rec.Partial() {
			return ClaimRecord{}, true, corrupt(session, "partial record without shortfall")
		}
		if rec.Reason != ShortfallOutOfStock && rec.Reason != ShortfallClaimFailure {
			return ClaimRecord{}, true, corrupt(session, "unknown shortfall reason "+rec.Reason)
		}
	} else if err := json.Unmarshal([]byte(raw), &rec.Keys); err != nil {
		return ClaimRecord{}, true, corrupt(session, err.Error())
	}

	if len(rec.Keys) == 0 {
		return ClaimRecord{}, true, corrupt(session, "empty record")
	}
	for _, k := range rec.Keys {
		if k.ProductID == "" || k.Key == "" {
			return ClaimRecord{}, true, corrupt(session, "incomplete entry")
		}
	}

	return rec, true, nil
}

// Encode serialises a record. Complete claims keep the bare array form.
func (IdempotencyGuard) Encode(rec ClaimRecord) (string, error) {
	var (
		b   []byte
		err error
	)
	if rec.Partial() {
		b, err = json.Marshal(rec)
	} else {
		b, err = json.Marshal(rec.Keys)
	}
	if err != nil {
		return "", fmt.Errorf("encode claim record: %w", err)
	}
	return string(b), nil
}

func corrupt(session *domain.PaymentSession, reason string) error {
	return fmt.Errorf("%w: session %s: %s", domain.ErrCorruptClaimRecord, session.ID, reason)
}
