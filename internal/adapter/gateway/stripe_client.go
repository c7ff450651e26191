package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/AFRIENDLYHACKER/shadow.cc-website/internal/core/domain"
)

const sessionsPath = "/v1/checkout/sessions"

type StripeConfig struct {
	BaseURL   string
	SecretKey string
	ReturnURL string
	Currency  string
	Timeout   time.Duration
}

// StripeClient talks to a Stripe-compatible Checkout Sessions API.
type StripeClient struct {
	cfg     StripeConfig
	httpc   *http.Client
	breaker *gobreaker.CircuitBreaker
}

type stripeSession struct {
	ID              string            `json:"id"`
	Status          string            `json:"status"`
	PaymentStatus   string            `json:"payment_status"`
	AmountTotal     int64             `json:"amount_total"`
	ClientSecret    string            `json:"client_secret"`
	URL             string            `json:"url"`
	Metadata        map[string]string `json:"metadata"`
	CustomerDetails *struct {
		Email string `json:"email"`
	} `json:"customer_details"`
}

type stripeError struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func NewStripeClient(cfg StripeConfig) *StripeClient {
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &StripeClient{
		cfg:   cfg,
		httpc: &http.Client{Timeout: cfg.Timeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "payment-gateway",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, domain.ErrSessionNotFound)
			},
		}),
	}
}

func (c *StripeClient) GetSession(ctx context.Context, sessionID string) (*domain.PaymentSession, error) {
	var out stripeSession
	if err := c.do(ctx, http.MethodGet, sessionsPath+"/"+url.PathEscape(sessionID), nil, &out); err != nil {
		return nil, fmt.Errorf("retrieve session %s: %w", sessionID, err)
	}
	return out.toDomain(), nil
}

func (c *StripeClient) CreateSession(ctx context.Context, req domain.CheckoutRequest) (*domain.CheckoutSession, error) {
	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("ui_mode", "embedded")
	if c.cfg.ReturnURL != "" {
		form.Set("return_url", c.cfg.ReturnURL)
	}
	if req.CustomerEmail != "" {
		form.Set("customer_email", req.CustomerEmail)
	}
	for i, li := range req.LineItems {
		p := "line_items[" + strconv.Itoa(i) + "]"
		form.Set(p+"[quantity]", strconv.Itoa(li.Quantity))
		form.Set(p+"[price_data][currency]", c.cfg.Currency)
		form.Set(p+"[price_data][unit_amount]", strconv.FormatInt(li.UnitPriceCents, 10))
		form.Set(p+"[price_data][product_data][name]", li.Name)
		if li.Description != "" {
			form.Set(p+"[price_data][product_data][description]", li.Description)
		}
		form.Set(p+"[price_data][product_data][metadata][product_id]", li.ProductID)
	}
	for k, v := range req.Metadata {
		form.Set("metadata["+k+"]", v)
	}

	var out stripeSession
	if err := c.do(ctx, http.MethodPost, sessionsPath, form, &out); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &domain.CheckoutSession{
		ID:           out.ID,
		ClientSecret: out.ClientSecret,
		URL:          out.URL,
		AmountCents:  out.AmountTotal,
	}, nil
}

// RecordClaim reads before writing because the API has no conditional
// update. The read and the write are only exclusive while the caller's
// session lock is held, so a redis lock expiry must outlast the whole claim;
// config validation enforces that against the gateway timeout.
func (c *StripeClient) RecordClaim(ctx context.Context, sessionID, record string) error {
	session, err := c.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if _, exists := session.ClaimRecord(); exists {
		return domain.ErrClaimRecordExists
	}

	form := url.Values{}
	form.Set("metadata["+domain.MetadataKeysClaimed+"]", record)
	if err := c.do(ctx, http.MethodPost, sessionsPath+"/"+url.PathEscape(sessionID), form, nil); err != nil {
		return fmt.Errorf("update session %s metadata: %w", sessionID, err)
	}
	return nil
}

func (c *StripeClient) do(ctx context.Context, method, path string, form url.Values, out interface{}) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.roundTrip(ctx, method, path, form, out)
	})
	return err
}

func (c *StripeClient) roundTrip(ctx context.Context, method, path string, form url.Values, out interface{}) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.SecretKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var se stripeError
		_ = json.Unmarshal(raw, &se)
		if resp.StatusCode == http.StatusNotFound || se.Error.Code == "resource_missing" {
			return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, se.Error.Message)
		}
		return fmt.Errorf("gateway status %d: %s", resp.StatusCode, se.Error.Message)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (s stripeSession) toDomain() *domain.PaymentSession {
	session := &domain.PaymentSession{
		ID:            s.ID,
		Status:        domain.SessionStatus(s.Status),
		PaymentStatus: domain.PaymentStatus(s.PaymentStatus),
		AmountCents:   s.AmountTotal,
		Metadata:      s.Metadata,
	}
	if session.Metadata == nil {
		session.Metadata = make(map[string]string)
	}
	if s.CustomerDetails != nil {
		session.CustomerEmail = s.CustomerDetails.Email
	}
	return session
}
