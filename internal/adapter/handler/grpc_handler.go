package handler

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/AFRIENDLYHACKER/shadow.cc-website/internal/adapter/handler/keyrpc"
	"github.com/AFRIENDLYHACKER/shadow.cc-website/internal/core/domain"
	"github.com/AFRIENDLYHACKER/shadow.cc-website/internal/core/service"
)

// GRPCHandler reports failures in the response body; transport errors are
// reserved for codec and connection problems.
type GRPCHandler struct {
	claims *service.ClaimService
	stock  *service.StockService
	log    zerolog.Logger
}

func NewGRPCHandler(claims *service.ClaimService, stock *service.StockService, log zerolog.Logger) *GRPCHandler {
	return &GRPCHandler{
		claims: claims,
		stock:  stock,
		log:    log.With().Str("component", "grpc").Logger(),
	}
}

func (h *GRPCHandler) Claim(ctx context.Context, req *keyrpc.ClaimRequest) (*keyrpc.ClaimResponse, error) {
	if req.SessionID == "" {
		return &keyrpc.ClaimResponse{Error: "InvalidRequest"}, nil
	}

	result, err := h.claims.Claim(ctx, req.SessionID)
	if err != nil {
		_, code := errorCode(err)
		resp := &keyrpc.ClaimResponse{Error: code}

		var partial *domain.PartialClaimError
		if errors.As(err, &partial) {
			resp.ClaimedKeys = toRPCKeys(partial.Keys)
		}
		h.log.Warn().Err(err).Str("session_id", req.SessionID).Msg("claim failed")
		return resp, nil
	}

	return &keyrpc.ClaimResponse{
		Success:        true,
		Keys:           toRPCKeys(result.Keys),
		Email:          result.Email,
		AlreadyClaimed: result.AlreadyClaimed,
	}, nil
}

func (h *GRPCHandler) GetStock(ctx context.Context, req *keyrpc.StockRequest) (*keyrpc.StockResponse, error) {
	if req.ProductID == "" {
		stock, err := h.stock.AllStock(ctx)
		if err != nil {
			h.log.Error().Err(err).Msg("read stock failed")
			return &keyrpc.StockResponse{Error: "StockUnavailable"}, nil
		}
		return &keyrpc.StockResponse{Success: true, Stock: stock}, nil
	}

	n, err := h.stock.Stock(ctx, req.ProductID)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownProduct) {
			return &keyrpc.StockResponse{Error: "UnknownProduct"}, nil
		}
		h.log.Error().Err(err).Str("product_id", req.ProductID).Msg("read stock failed")
		return &keyrpc.StockResponse{Error: "StockUnavailable"}, nil
	}
	return &keyrpc.StockResponse{Success: true, Stock: map[string]int{req.ProductID: n}}, nil
}

func toRPCKeys(keys []domain.ClaimedKey) []keyrpc.Key {
	out := make([]keyrpc.Key, 0, len(keys))
	for _, k := range keys {
		out = append(out, keyrpc.Key{ProductID: k.ProductID, Key: k.Key})
	}
	return out
}
