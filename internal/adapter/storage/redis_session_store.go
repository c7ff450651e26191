package storage

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/AFRIENDLYHACKER/shadow.cc-website/internal/core/domain"
)

const (
	sessionKeyPrefix = "session:"
	metaFieldPrefix  = "meta:"
)

// KEYS[1] session hash; ARGV[1] field, ARGV[2] value
var setRecordScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end
return redis.call('HSETNX', KEYS[1], ARGV[1], ARGV[2])
`)

// RedisSessionStore is a self-hosted payment session register. It backs the
// gateway port in development and lets the claim record live in the same
// Redis as the key pools.
type RedisSessionStore struct {
	client *redis.Client
}

func NewRedisSessionStore(client *redis.Client) *RedisSessionStore {
	return &RedisSessionStore{client: client}
}

func sessionKey(id string) string { return sessionKeyPrefix + id }

func (s *RedisSessionStore) GetSession(ctx context.Context, sessionID string) (*domain.PaymentSession, error) {
	fields, err := s.client.HGetAll(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, sessionID)
	}

	session := &domain.PaymentSession{
		ID:            sessionID,
		Status:        domain.SessionStatus(fields["status"]),
		PaymentStatus: domain.PaymentStatus(fields["payment_status"]),
		CustomerEmail: fields["email"],
		Metadata:      make(map[string]string),
	}
	if v := fields["amount_cents"]; v != "" {
		session.AmountCents, _ = strconv.ParseInt(v, 10, 64)
	}
	for k, v := range fields {
		if name, ok := strings.CutPrefix(k, metaFieldPrefix); ok {
			session.Metadata[name] = v
		}
	}
	return session, nil
}

func (s *RedisSessionStore) CreateSession(ctx context.Context, req domain.CheckoutRequest) (*domain.CheckoutSession, error) {
	id := "cs_" + strings.ReplaceAll(uuid.NewString(), "-", "")

	var amount int64
	for _, li := range req.LineItems {
		amount += li.UnitPriceCents * int64(li.Quantity)
	}

	values := map[string]interface{}{
		"status":         string(domain.SessionStatusOpen),
		"payment_status": string(domain.PaymentStatusUnpaid),
		"email":          req.CustomerEmail,
		"amount_cents":   amount,
	}
	for k, v := range req.Metadata {
		values[metaFieldPrefix+k] = v
	}

	if err := s.client.HSet(ctx, sessionKey(id), values).Err(); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	return &domain.CheckoutSession{
		ID:           id,
		ClientSecret: id + "_secret_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		AmountCents:  amount,
	}, nil
}

// RecordClaim writes keys_claimed only if no record exists yet.
func (s *RedisSessionStore) RecordClaim(ctx context.Context, sessionID, record string) error {
	res, err := setRecordScript.Run(ctx, s.client, []string{sessionKey(sessionID)},
		metaFieldPrefix+domain.MetadataKeysClaimed, record).Int()
	if err != nil {
		return fmt.Errorf("record claim for %s: %w", sessionID, err)
	}

	switch res {
	case 1:
		return nil
	case 0:
		return domain.ErrClaimRecordExists
	default:
		return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, sessionID)
	}
}

// MarkPaid completes a session, standing in for the gateway's payment flow.
func (s *RedisSessionStore) MarkPaid(ctx context.Context, sessionID, email string) error {
	n, err := s.client.Exists(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		return fmt.Errorf("mark paid %s: %w", sessionID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, sessionID)
	}

	values := map[string]interface{}{
		"status":         string(domain.SessionStatusComplete),
		"payment_status": string(domain.PaymentStatusPaid),
	}
	if email != "" {
		values["email"] = email
	}
	if err := s.client.HSet(ctx, sessionKey(sessionID), values).Err(); err != nil {
		return fmt.Errorf("mark paid %s: %w", sessionID, err)
	}
	return nil
}
