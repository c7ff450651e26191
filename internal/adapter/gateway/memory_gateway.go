package gateway

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/AFRIENDLYHACKER/shadow.cc-website/internal/core/domain"
)

// MemoryGateway is an in-process payment gateway for local runs and tests.
type MemoryGateway struct {
	mu       sync.Mutex
	sessions map[string]*domain.PaymentSession
}

func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{sessions: make(map[string]*domain.PaymentSession)}
}

func (g *MemoryGateway) GetSession(ctx context.Context, sessionID string) (*domain.PaymentSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, sessionID)
	}
	return cloneSession(s), nil
}

func (g *MemoryGateway) CreateSession(ctx context.Context, req domain.CheckoutRequest) (*domain.CheckoutSession, error) {
	id := "cs_mem_" + strings.ReplaceAll(uuid.NewString(), "-", "")

	var amount int64
	for _, li := range req.LineItems {
		amount += li.UnitPriceCents * int64(li.Quantity)
	}

	g.Put(&domain.PaymentSession{
		ID:            id,
		Status:        domain.SessionStatusOpen,
		PaymentStatus: domain.PaymentStatusUnpaid,
		CustomerEmail: req.CustomerEmail,
		AmountCents:   amount,
		Metadata:      maps.Clone(req.Metadata),
	})

	return &domain.CheckoutSession{ID: id, ClientSecret: id + "_secret", AmountCents: amount}, nil
}

func (g *MemoryGateway) RecordClaim(ctx context.Context, sessionID, record string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, sessionID)
	}
	if _, exists := s.ClaimRecord(); exists {
		return domain.ErrClaimRecordExists
	}
	if s.Metadata == nil {
		s.Metadata = make(map[string]string)
	}
	s.Metadata[domain.MetadataKeysClaimed] = record
	return nil
}

// Put stores a session as given, replacing any session with the same id.
func (g *MemoryGateway) Put(session *domain.PaymentSession) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessions[session.ID] = cloneSession(session)
}

// MarkPaid completes a session as if the buyer had paid.
func (g *MemoryGateway) MarkPaid(ctx context.Context, sessionID, email string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, sessionID)
	}
	s.Status = domain.SessionStatusComplete
	s.PaymentStatus = domain.PaymentStatusPaid
	if email != "" {
		s.CustomerEmail = email
	}
	return nil
}

func cloneSession(s *domain.PaymentSession) *domain.PaymentSession {
	c := *s
	c.Metadata = maps.Clone(s.Metadata)
	if c.Metadata == nil {
		c.Metadata = make(map[string]string)
	}
	return &c
}
