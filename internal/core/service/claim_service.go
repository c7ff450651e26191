package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AFRIENDLYHACKER/shadow.cc-website/internal/core/domain"
	"github.com/AFRIENDLYHACKER/shadow.cc-website/internal/port"
)

const claimLockPrefix = "claim:"

type ClaimService struct {
	inventory port.InventoryStore
	gateway   port.PaymentGateway
	locker    port.SessionLocker
	catalog   *domain.Catalog
	guard     IdempotencyGuard
	metrics   *Metrics
	log       zerolog.Logger
	tracer    trace.Tracer
	events    chan domain.ClaimEvent

	mu       sync.RWMutex
	closed   bool
	inflight sync.WaitGroup
}

func NewClaimService(
	inventory port.InventoryStore,
	gateway port.PaymentGateway,
	locker port.SessionLocker,
	catalog *domain.Catalog,
	metrics *Metrics,
	log zerolog.Logger,
	queueSize int,
) *ClaimService {
	return &ClaimService{
		inventory: inventory,
		gateway:   gateway,
		locker:    locker,
		catalog:   catalog,
		metrics:   metrics,
		log:       log.With().Str("component", "claim_service").Logger(),
		tracer:    otel.Tracer("keyshop/claim"),
		events:    make(chan domain.ClaimEvent, queueSize),
	}
}

// Claim issues the keys paid for by a session exactly once. Repeated calls
// return the recorded keys with AlreadyClaimed set, or replay the partial
// failure with the keys that attempt issued.
func (s *ClaimService) Claim(ctx context.Context, sessionID string) (*domain.ClaimResult, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, fmt.Errorf("%w: service closed", domain.ErrClaimFailure)
	}
	s.inflight.Add(1)
	s.mu.RUnlock()
	defer s.inflight.Done()

	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "ClaimService.Claim", trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()

	result, err := s.claim(ctx, sessionID)
	s.metrics.observeClaim(outcomeLabel(result, err), time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "claim failed")
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("keys.count", len(result.Keys)),
		attribute.Bool("claim.already_claimed", result.AlreadyClaimed),
	)
	return result, nil
}

func (s *ClaimService) claim(ctx context.Context, sessionID string) (*domain.ClaimResult, error) {
	log := s.log.With().Str("session_id", sessionID).Logger()

	session, err := s.gateway.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if !session.Paid() {
		log.Warn().Str("payment_status", string(session.PaymentStatus)).Msg("claim rejected, payment not completed")
		return nil, domain.ErrPaymentNotCompleted
	}

	// fast path for retries, re-checked under the lock
	if cached, ok, err := s.guard.Check(session); ok || err != nil {
		return cachedResult(session, cached, err)
	}

	var result *domain.ClaimResult
	err = s.locker.WithLock(ctx, claimLockPrefix+sessionID, func(ctx context.Context) error {
		var err error
		result, err = s.claimLocked(ctx, sessionID, log)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *ClaimService) claimLocked(ctx context.Context, sessionID string, log zerolog.Logger) (*domain.ClaimResult, error) {
	session, err := s.gateway.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get session under lock: %w", err)
	}
	if cached, ok, err := s.guard.Check(session); ok || err != nil {
		return cachedResult(session, cached, err)
	}

	encoding, _ := session.CartEncoding()
	units, err := ResolveCart(encoding, s.catalog)
	if err != nil {
		log.Warn().Err(err).Msg("claim rejected, cart did not resolve")
		return nil, err
	}

	// past this point pools are mutated; do not let a dropped request abandon the claim half way
	mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), domain.ClaimMutationTimeout)
	defer cancel()

	keys, claimErr := s.claimUnits(mctx, units)
	if claimErr != nil && len(keys) == 0 {
		return nil, &domain.PartialClaimError{Keys: keys, Err: claimErr}
	}

	rec := ClaimRecord{Keys: keys}
	outcome := domain.ClaimOutcomeClaimed
	if claimErr != nil {
		rec.Shortfall = units[len(keys)]
		rec.Reason = ShortfallClaimFailure
		if errors.Is(claimErr, domain.ErrOutOfStock) {
			rec.Reason = ShortfallOutOfStock
		}
		outcome = domain.ClaimOutcomePartial
		log.Error().Err(claimErr).Int("issued", len(keys)).Int("requested", len(units)).Msg("partial allocation")
	}

	encoded, err := s.guard.Encode(rec)
	if err == nil {
		err = s.gateway.RecordClaim(mctx, sessionID, encoded)
	}
	if errors.Is(err, domain.ErrClaimRecordExists) {
		return s.recordLost(mctx, session, keys, log)
	}
	if err != nil {
		log.Error().Err(err).Int("issued", len(keys)).Msg("CRITICAL: keys issued but claim record not written")
		s.emit(session, keys, domain.ClaimOutcomeUnrecorded)
		if claimErr == nil {
			claimErr = fmt.Errorf("%w: record claim: %v", domain.ErrClaimFailure, err)
		}
		return nil, &domain.PartialClaimError{Keys: keys, Err: claimErr}
	}

	s.emit(session, keys, outcome)
	if claimErr != nil {
		return nil, &domain.PartialClaimError{Keys: keys, Err: claimErr}
	}

	log.Info().Int("keys", len(keys)).Msg("keys claimed")
	return &domain.ClaimResult{Keys: keys, Email: session.CustomerEmail}, nil
}

// recordLost resolves a conditional record write that another claimer won.
// The winner's record is authoritative; the keys drawn here are reported to
// the ledger as unrecorded.
func (s *ClaimService) recordLost(ctx context.Context, session *domain.PaymentSession, keys []domain.ClaimedKey, log zerolog.Logger) (*domain.ClaimResult, error) {
	log.Error().Int("issued", len(keys)).Msg("CRITICAL: claim record written by another claimer, issued keys unrecorded")
	s.emit(session, keys, domain.ClaimOutcomeUnrecorded)

	winner, err := s.gateway.GetSession(ctx, session.ID)
	if err != nil {
		return nil, &domain.PartialClaimError{Keys: keys, Err: fmt.Errorf("%w: re-read session: %v", domain.ErrClaimFailure, err)}
	}
	rec, ok, err := s.guard.Check(winner)
	if !ok {
		return nil, &domain.PartialClaimError{Keys: keys, Err: fmt.Errorf("%w: claim record vanished", domain.ErrClaimFailure)}
	}
	return cachedResult(winner, rec, err)
}

// claimUnits claims one key per unit and stops at the first failure. Keys
// issued before the failure are returned and are not put back.
func (s *ClaimService) claimUnits(ctx context.Context, units []string) ([]domain.ClaimedKey, error) {
	keys := make([]domain.ClaimedKey, 0, len(units))
	for _, productID := range units {
		key, err := s.inventory.Claim(ctx, productID)
		if err != nil {
			if errors.Is(err, domain.ErrStockExhausted) {
				return keys, &domain.OutOfStockError{ProductID: productID}
			}
			return keys, fmt.Errorf("%w: claim %s: %v", domain.ErrClaimFailure, productID, err)
		}
		keys = append(keys, domain.ClaimedKey{ProductID: productID, Key: key})
		s.metrics.keyIssued(productID)
	}
	return keys, nil
}

// emit does not block; a full queue drops the event with a CRITICAL log.
func (s *ClaimService) emit(session *domain.PaymentSession, keys []domain.ClaimedKey, outcome domain.ClaimOutcome) {
	event := domain.ClaimEvent{
		ID:         uuid.NewString(),
		SessionID:  session.ID,
		Email:      session.CustomerEmail,
		Keys:       keys,
		Outcome:    outcome,
		OccurredAt: time.Now().UTC(),
	}

	select {
	case s.events <- event:
	default:
		s.log.Error().Str("session_id", session.ID).Str("outcome", string(outcome)).
			Interface("keys", keys).Msg("CRITICAL: claim event dropped, recorder queue full")
	}
}

func (s *ClaimService) Events() <-chan domain.ClaimEvent {
	return s.events
}

// Close rejects new claims, waits for in-flight ones and then closes the
// event queue. It is safe to call more than once.
func (s *ClaimService) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.inflight.Wait()
	close(s.events)
}

func cachedResult(session *domain.PaymentSession, rec ClaimRecord, err error) (*domain.ClaimResult, error) {
	if err != nil {
		return nil, err
	}
	if rec.Partial() {
		return nil, rec.ShortfallError()
	}
	return &domain.ClaimResult{Keys: rec.Keys, Email: session.CustomerEmail, AlreadyClaimed: true}, nil
}

func outcomeLabel(result *domain.ClaimResult, err error) string {
	switch {
	case err == nil && result.AlreadyClaimed:
		return "already_claimed"
	case err == nil:
		return "claimed"
	case errors.Is(err, domain.ErrOutOfStock):
		return "out_of_stock"
	case errors.Is(err, domain.ErrPaymentNotCompleted):
		return "payment_not_completed"
	case errors.Is(err, domain.ErrMalformedCart), errors.Is(err, domain.ErrUnknownProduct), errors.Is(err, domain.ErrEmptyCart):
		return "invalid_cart"
	case errors.Is(err, domain.ErrCorruptClaimRecord):
		return "corrupt_record"
	default:
		return "failure"
	}
}
