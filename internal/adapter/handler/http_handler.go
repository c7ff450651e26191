package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/AFRIENDLYHACKER/shadow.cc-website/internal/core/domain"
	"github.com/AFRIENDLYHACKER/shadow.cc-website/internal/core/service"
	"github.com/AFRIENDLYHACKER/shadow.cc-website/internal/port"
)

const requestIDHeader = "X-Request-ID"

// SessionPayer completes sessions without a real payment. Only the
// in-process and Redis gateways implement it.
type SessionPayer interface {
	MarkPaid(ctx context.Context, sessionID, email string) error
}

type HTTPHandler struct {
	claims   *service.ClaimService
	stock    *service.StockService
	checkout *service.CheckoutService
	payer    SessionPayer
	ledger   port.ClaimLedger
	validate *validator.Validate
	log      zerolog.Logger
}

type ClaimHTTPRequest struct {
	SessionID string `json:"sessionId" validate:"required"`
}

type ClaimHTTPResponse struct {
	Success        bool                `json:"success"`
	Keys           []domain.ClaimedKey `json:"keys,omitempty"`
	Email          string              `json:"email,omitempty"`
	AlreadyClaimed bool                `json:"alreadyClaimed,omitempty"`
	Error          string              `json:"error,omitempty"`

	// ClaimedKeys is set on every partial failure, as [] when nothing was issued.
	ClaimedKeys *[]domain.ClaimedKey `json:"claimedKeys,omitempty"`
}

type StockHTTPResponse struct {
	Stock map[string]int `json:"stock"`
}

type ProductStockHTTPResponse struct {
	ProductID string `json:"productId"`
	Stock     int    `json:"stock"`
}

type CheckoutHTTPRequest struct {
	Items []CheckoutItem `json:"items" validate:"required,min=1,dive"`
	Email string         `json:"email" validate:"omitempty,email"`
}

type CheckoutItem struct {
	ProductID string `json:"productId" validate:"required"`
	Quantity  int    `json:"quantity" validate:"gte=1,lte=1000"`
}

type CheckoutHTTPResponse struct {
	SessionID    string `json:"sessionId"`
	ClientSecret string `json:"clientSecret,omitempty"`
	URL          string `json:"url,omitempty"`
	AmountCents  int64  `json:"amountCents"`
}

type SessionHTTPResponse struct {
	SessionID     string `json:"sessionId"`
	Status        string `json:"status"`
	PaymentStatus string `json:"paymentStatus"`
	CustomerEmail string `json:"customerEmail,omitempty"`
}

type LedgerClaimsHTTPResponse struct {
	SessionID string              `json:"sessionId"`
	Keys      []domain.ClaimedKey `json:"keys"`
}

type PayHTTPRequest struct {
	Email string `json:"email" validate:"omitempty,email"`
}

type ErrorHTTPResponse struct {
	Error string `json:"error"`
}

func NewHTTPHandler(claims *service.ClaimService, stock *service.StockService, checkout *service.CheckoutService, log zerolog.Logger) *HTTPHandler {
	return &HTTPHandler{
		claims:   claims,
		stock:    stock,
		checkout: checkout,
		validate: validator.New(),
		log:      log.With().Str("component", "http").Logger(),
	}
}

// EnableDevPayments mounts POST /sessions/{id}/pay backed by payer.
func (h *HTTPHandler) EnableDevPayments(payer SessionPayer) {
	h.payer = payer
}

// EnableLedgerLookup mounts GET /sessions/{id}/ledger, which lists every key
// the ledger holds for a session, including partial and unrecorded claims.
func (h *HTTPHandler) EnableLedgerLookup(ledger port.ClaimLedger) {
	h.ledger = ledger
}

// Routes builds the router. metrics is mounted at /metrics when non-nil.
func (h *HTTPHandler) Routes(metrics http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(h.requestLogger)

	r.Get("/health", h.HealthCheck)
	r.Post("/claim", h.Claim)
	r.Get("/stock", h.AllStock)
	r.Get("/stock/{productId}", h.ProductStock)
	r.Post("/checkout", h.CreateCheckout)
	r.Get("/sessions/{id}", h.Session)
	if h.payer != nil {
		r.Post("/sessions/{id}/pay", h.Pay)
	}
	if h.ledger != nil {
		r.Get("/sessions/{id}/ledger", h.LedgerClaims)
	}
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}
	return r
}

func (h *HTTPHandler) Claim(w http.ResponseWriter, r *http.Request) {
	var req ClaimHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || h.validate.Struct(req) != nil {
		writeJSON(w, http.StatusBadRequest, ClaimHTTPResponse{Error: "InvalidRequest"})
		return
	}

	log := zerolog.Ctx(r.Context()).With().Str("session_id", req.SessionID).Logger()

	result, err := h.claims.Claim(r.Context(), req.SessionID)
	if err != nil {
		status, code := errorCode(err)
		resp := ClaimHTTPResponse{Error: code}

		var issued []domain.ClaimedKey
		var partial *domain.PartialClaimError
		if errors.As(err, &partial) {
			issued = partial.Keys
			if issued == nil {
				issued = []domain.ClaimedKey{}
			}
			resp.ClaimedKeys = &issued
		}

		event := log.Warn()
		if status >= http.StatusInternalServerError {
			event = log.Error()
		}
		event.Err(err).Int("status", status).Int("claimed_keys", len(issued)).Msg("claim failed")

		writeJSON(w, status, resp)
		return
	}

	writeJSON(w, http.StatusOK, ClaimHTTPResponse{
		Success:        true,
		Keys:           result.Keys,
		Email:          result.Email,
		AlreadyClaimed: result.AlreadyClaimed,
	})
}

func (h *HTTPHandler) AllStock(w http.ResponseWriter, r *http.Request) {
	noStore(w)
	stock, err := h.stock.AllStock(r.Context())
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("read stock failed")
		writeJSON(w, http.StatusInternalServerError, ErrorHTTPResponse{Error: "StockUnavailable"})
		return
	}
	writeJSON(w, http.StatusOK, StockHTTPResponse{Stock: stock})
}

func (h *HTTPHandler) ProductStock(w http.ResponseWriter, r *http.Request) {
	noStore(w)
	productID := chi.URLParam(r, "productId")
	n, err := h.stock.Stock(r.Context(), productID)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownProduct) {
			writeJSON(w, http.StatusNotFound, ErrorHTTPResponse{Error: "UnknownProduct"})
			return
		}
		zerolog.Ctx(r.Context()).Error().Err(err).Str("product_id", productID).Msg("read stock failed")
		writeJSON(w, http.StatusInternalServerError, ErrorHTTPResponse{Error: "StockUnavailable"})
		return
	}
	writeJSON(w, http.StatusOK, ProductStockHTTPResponse{ProductID: productID, Stock: n})
}

func (h *HTTPHandler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || h.validate.Struct(req) != nil {
		writeJSON(w, http.StatusBadRequest, ErrorHTTPResponse{Error: "InvalidRequest"})
		return
	}

	items := make([]domain.CartItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, domain.CartItem{ProductID: it.ProductID, Quantity: it.Quantity})
	}

	session, err := h.checkout.CreateCheckout(r.Context(), items, req.Email)
	if err != nil {
		status, code := errorCode(err)
		if status >= http.StatusInternalServerError {
			code = "CheckoutFailure"
			zerolog.Ctx(r.Context()).Error().Err(err).Msg("create checkout failed")
		}
		writeJSON(w, status, ErrorHTTPResponse{Error: code})
		return
	}

	writeJSON(w, http.StatusOK, CheckoutHTTPResponse{
		SessionID:    session.ID,
		ClientSecret: session.ClientSecret,
		URL:          session.URL,
		AmountCents:  session.AmountCents,
	})
}

func (h *HTTPHandler) Session(w http.ResponseWriter, r *http.Request) {
	session, err := h.checkout.SessionStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		status, code := errorCode(err)
		if status >= http.StatusInternalServerError {
			code = "GatewayFailure"
			zerolog.Ctx(r.Context()).Error().Err(err).Msg("read session failed")
		}
		writeJSON(w, status, ErrorHTTPResponse{Error: code})
		return
	}

	writeJSON(w, http.StatusOK, SessionHTTPResponse{
		SessionID:     session.ID,
		Status:        string(session.Status),
		PaymentStatus: string(session.PaymentStatus),
		CustomerEmail: session.CustomerEmail,
	})
}

func (h *HTTPHandler) Pay(w http.ResponseWriter, r *http.Request) {
	var req PayHTTPRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || h.validate.Struct(req) != nil {
			writeJSON(w, http.StatusBadRequest, ErrorHTTPResponse{Error: "InvalidRequest"})
			return
		}
	}

	id := chi.URLParam(r, "id")
	if err := h.payer.MarkPaid(r.Context(), id, req.Email); err != nil {
		status, code := errorCode(err)
		if status >= http.StatusInternalServerError {
			code = "GatewayFailure"
		}
		writeJSON(w, status, ErrorHTTPResponse{Error: code})
		return
	}
	zerolog.Ctx(r.Context()).Info().Str("session_id", id).Msg("session marked paid")
	h.Session(w, r)
}

func (h *HTTPHandler) LedgerClaims(w http.ResponseWriter, r *http.Request) {
	noStore(w)
	id := chi.URLParam(r, "id")
	keys, err := h.ledger.ClaimsForSession(r.Context(), id)
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("session_id", id).Msg("ledger lookup failed")
		writeJSON(w, http.StatusInternalServerError, ErrorHTTPResponse{Error: "LedgerUnavailable"})
		return
	}
	if keys == nil {
		keys = []domain.ClaimedKey{}
	}
	writeJSON(w, http.StatusOK, LedgerClaimsHTTPResponse{SessionID: id, Keys: keys})
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// errorCode maps a service error to a status and the wire error string.
func errorCode(err error) (int, string) {
	var oos *domain.OutOfStockError
	switch {
	case errors.As(err, &oos):
		return http.StatusBadRequest, oos.Error()
	case errors.Is(err, domain.ErrPaymentNotCompleted):
		return http.StatusBadRequest, "PaymentNotCompleted"
	case errors.Is(err, domain.ErrMalformedCart):
		return http.StatusBadRequest, "MalformedCart"
	case errors.Is(err, domain.ErrUnknownProduct):
		return http.StatusBadRequest, "UnknownProduct"
	case errors.Is(err, domain.ErrEmptyCart):
		return http.StatusBadRequest, "EmptyCart"
	case errors.Is(err, domain.ErrSessionNotFound):
		return http.StatusNotFound, "SessionNotFound"
	case errors.Is(err, domain.ErrCorruptClaimRecord):
		return http.StatusConflict, "CorruptClaimRecord"
	case errors.Is(err, domain.ErrClaimInProgress):
		return http.StatusConflict, "ClaimInProgress"
	default:
		return http.StatusInternalServerError, "ClaimFailure"
	}
}

func (h *HTTPHandler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)

		log := h.log.With().Str("request_id", requestID).Logger()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(log.WithContext(r.Context())))

		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request served")
	})
}

func noStore(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	w.Header().Set("Pragma", "no-cache")
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
