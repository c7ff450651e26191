package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AFRIENDLYHACKER/shadow.cc-website/internal/core/domain"
	"github.com/AFRIENDLYHACKER/shadow.cc-website/internal/port"
)

// CheckoutService opens payment sessions carrying the cart that a later
// claim will resolve.
type CheckoutService struct {
	gateway port.PaymentGateway
	catalog *domain.Catalog
	log     zerolog.Logger
	tracer  trace.Tracer
}

func NewCheckoutService(gateway port.PaymentGateway, catalog *domain.Catalog, log zerolog.Logger) *CheckoutService {
	return &CheckoutService{
		gateway: gateway,
		catalog: catalog,
		log:     log.With().Str("component", "checkout_service").Logger(),
		tracer:  otel.Tracer("keyshop/checkout"),
	}
}

func (s *CheckoutService) CreateCheckout(ctx context.Context, items []domain.CartItem, email string) (*domain.CheckoutSession, error) {
	ctx, span := s.tracer.Start(ctx, "CheckoutService.CreateCheckout")
	defer span.End()

	cart, err := s.normalize(items)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid cart")
		return nil, err
	}

	lineItems := make([]domain.LineItem, 0, len(cart))
	for _, item := range cart {
		p, _ := s.catalog.Lookup(item.ProductID)
		lineItems = append(lineItems, domain.LineItem{
			ProductID:      p.ID,
			Name:           p.Name,
			Description:    p.Description,
			UnitPriceCents: p.UnitPriceCents,
			Quantity:       item.Quantity,
		})
	}

	session, err := s.gateway.CreateSession(ctx, domain.CheckoutRequest{
		LineItems:     lineItems,
		CustomerEmail: email,
		Metadata:      map[string]string{domain.MetadataCartItems: domain.EncodeCart(cart)},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "gateway create session failed")
		return nil, fmt.Errorf("create session: %w", err)
	}

	span.SetAttributes(attribute.String("session.id", session.ID), attribute.Int64("amount.cents", session.AmountCents))
	s.log.Info().Str("session_id", session.ID).Int64("amount_cents", session.AmountCents).Msg("checkout session created")
	return session, nil
}

func (s *CheckoutService) SessionStatus(ctx context.Context, sessionID string) (*domain.PaymentSession, error) {
	session, err := s.gateway.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

// normalize validates items against the catalog and merges repeated
// products, keeping first-seen order. The merged cart must stay within
// domain.MaxCartUnits so the claim side can parse it back.
func (s *CheckoutService) normalize(items []domain.CartItem) ([]domain.CartItem, error) {
	index := make(map[string]int, len(items))
	var cart []domain.CartItem
	total := 0
	for _, item := range items {
		if item.ProductID == "" || item.Quantity <= 0 {
			return nil, fmt.Errorf("%w: item %q quantity %d", domain.ErrMalformedCart, item.ProductID, item.Quantity)
		}
		if item.Quantity > domain.MaxCartUnits-total {
			return nil, fmt.Errorf("%w: more than %d units", domain.ErrMalformedCart, domain.MaxCartUnits)
		}
		total += item.Quantity
		if !s.catalog.Has(item.ProductID) {
			return nil, fmt.Errorf("%w: %s", domain.ErrUnknownProduct, item.ProductID)
		}
		if i, ok := index[item.ProductID]; ok {
			cart[i].Quantity += item.Quantity
			continue
		}
		index[item.ProductID] = len(cart)
		cart = append(cart, item)
	}
	if len(cart) == 0 {
		return nil, domain.ErrEmptyCart
	}
	return cart, nil
}
