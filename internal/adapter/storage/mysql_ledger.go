package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/AFRIENDLYHACKER/shadow.cc-website/internal/core/domain"
)

const insertBatch = 200

var ledgerSchema = []string{
	`CREATE TABLE IF NOT EXISTS license_keys (
		product_id VARCHAR(64) NOT NULL,
		key_value VARCHAR(255) NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (product_id, key_value)
	)`,
	`CREATE TABLE IF NOT EXISTS claimed_keys (
		product_id VARCHAR(64) NOT NULL,
		key_value VARCHAR(255) NOT NULL,
		session_id VARCHAR(255) NOT NULL,
		event_id VARCHAR(64) NOT NULL,
		outcome VARCHAR(16) NOT NULL,
		email VARCHAR(320) NOT NULL DEFAULT '',
		claimed_at TIMESTAMP NOT NULL,
		PRIMARY KEY (product_id, key_value),
		KEY idx_claimed_keys_session (session_id)
	)`,
}

// MySQLLedger is the durable record of provisioned and issued keys.
type MySQLLedger struct {
	db *sql.DB
}

func NewMySQLLedger(db *sql.DB) *MySQLLedger {
	return &MySQLLedger{db: db}
}

func (m *MySQLLedger) EnsureSchema(ctx context.Context) error {
	for _, stmt := range ledgerSchema {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// SeedKeys stores the keys of products the ledger has never seen. A product
// that already has keys keeps them, so generated keys are not re-added on
// every start.
func (m *MySQLLedger) SeedKeys(ctx context.Context, pools []domain.KeyPool) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, p := range pools {
		var existing int
		err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM license_keys WHERE product_id = ?`, p.ProductID,
		).Scan(&existing)
		if err != nil {
			return fmt.Errorf("count keys for %s: %w", p.ProductID, err)
		}
		if existing > 0 {
			continue
		}

		for start := 0; start < len(p.Unclaimed); start += insertBatch {
			end := min(start+insertBatch, len(p.Unclaimed))
			batch := p.Unclaimed[start:end]

			args := make([]interface{}, 0, len(batch)*2)
			for _, k := range batch {
				args = append(args, p.ProductID, k)
			}
			stmt := `INSERT IGNORE INTO license_keys (product_id, key_value) VALUES ` + placeholders(len(batch), 2)
			if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
				return fmt.Errorf("seed keys for %s: %w", p.ProductID, err)
			}
		}
	}

	return tx.Commit()
}

// LoadPools rebuilds pools as provisioned keys minus issued keys.
func (m *MySQLLedger) LoadPools(ctx context.Context, productIDs []string) ([]domain.KeyPool, error) {
	pools := make([]domain.KeyPool, 0, len(productIDs))
	for _, id := range productIDs {
		rows, err := m.db.QueryContext(ctx, `
			SELECT lk.key_value
			FROM license_keys lk
			LEFT JOIN claimed_keys ck
				ON ck.product_id = lk.product_id AND ck.key_value = lk.key_value
			WHERE lk.product_id = ? AND ck.key_value IS NULL
			ORDER BY lk.key_value`, id)
		if err != nil {
			return nil, fmt.Errorf("query unclaimed keys for %s: %w", id, err)
		}

		pool := domain.KeyPool{ProductID: id}
		for rows.Next() {
			var k string
			if err := rows.Scan(&k); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan key: %w", err)
			}
			pool.Unclaimed = append(pool.Unclaimed, k)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("iterate keys for %s: %w", id, err)
		}
		rows.Close()

		err = m.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM claimed_keys WHERE product_id = ?`, id,
		).Scan(&pool.Claimed)
		if err != nil {
			return nil, fmt.Errorf("count claimed keys for %s: %w", id, err)
		}

		pools = append(pools, pool)
	}
	return pools, nil
}

func (m *MySQLLedger) RecordClaim(ctx context.Context, event domain.ClaimEvent) error {
	if len(event.Keys) == 0 {
		return nil
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	args := make([]interface{}, 0, len(event.Keys)*7)
	for _, k := range event.Keys {
		args = append(args, k.ProductID, k.Key, event.SessionID, event.ID, string(event.Outcome), event.Email, event.OccurredAt)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT IGNORE INTO claimed_keys
			(product_id, key_value, session_id, event_id, outcome, email, claimed_at)
		VALUES `+placeholders(len(event.Keys), 7), args...)
	if err != nil {
		return fmt.Errorf("insert claimed keys: %w", err)
	}

	return tx.Commit()
}

func (m *MySQLLedger) ClaimsForSession(ctx context.Context, sessionID string) ([]domain.ClaimedKey, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT product_id, key_value
		FROM claimed_keys
		WHERE session_id = ?
		ORDER BY claimed_at, product_id, key_value`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query claims: %w", err)
	}
	defer rows.Close()

	var keys []domain.ClaimedKey
	for rows.Next() {
		var k domain.ClaimedKey
		if err := rows.Scan(&k.ProductID, &k.Key); err != nil {
			return nil, fmt.Errorf("scan claim: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// placeholders renders n value tuples of width columns.
func placeholders(n, width int) string {
	tuple := "(" + strings.TrimSuffix(strings.Repeat("?, ", width), ", ") + ")"
	tuples := make([]string, n)
	for i := range tuples {
		tuples[i] = tuple
	}
	return strings.Join(tuples, ", ")
}
