package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// IdempotencyPort is the key reservation used by services.
type IdempotencyPort interface {
	Claim(ctx context.Context, key, module, owner string) error
	Delete(ctx context.Context, key string) error
}

// IdempotencyStore persists processed keys.
type IdempotencyStore struct {
	pool *pgxpool.Pool
}

// NewIdempotencyStore constructs the store.
func NewIdempotencyStore(pool *pgxpool.Pool) *IdempotencyStore {
	return &IdempotencyStore{pool: pool}
}

// ErrIdempotencyConflict indicates a duplicate key.
var ErrIdempotencyConflict = errors.New("idempotent request already processed")

// Claim reserves key for owner. Claiming a key the same owner already holds
// succeeds again, so an interrupted owner can resume its work; a key held by
// another owner returns ErrIdempotencyConflict.
func (s *IdempotencyStore) Claim(ctx context.Context, key, module, owner string) error {
	if s == nil {
		return errors.New("idempotency store not initialised")
	}
	if key == "" {
		return errors.New("idempotency key required")
	}
	if module == "" || owner == "" {
		return errors.New("idempotency module and owner required")
	}
	var holder string
	err := s.pool.QueryRow(ctx, `INSERT INTO idempotency_keys (key, module, owner, created_at) VALUES ($1, $2, $3, $4)
ON CONFLICT (key) DO UPDATE SET created_at = EXCLUDED.created_at
WHERE idempotency_keys.owner = EXCLUDED.owner
RETURNING owner`, key, module, owner, time.Now()).Scan(&holder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrIdempotencyConflict
		}
		return err
	}
	return nil
}

// Cleanup removes entries older than retention and reports how many were removed.
func (s *IdempotencyStore) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	if s == nil {
		return 0, nil
	}
	cutoff := time.Now().Add(-olderThan)
	tag, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Delete removes a key, typically used to roll back failed processing.
func (s *IdempotencyStore) Delete(ctx context.Context, key string) error {
	if s == nil {
		return nil
	}
	if key == "" {
		return errors.New("idempotency key required")
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE key=$1`, key)
	return err
}

// ReceptionCommitKey builds the key guarding the commit of one supplier delivery.
func ReceptionCommitKey(tenantID, supplierID int64, deliveryRef string) string {
	return fmt.Sprintf("RECEPTION:%d:%d:%s", tenantID, supplierID, deliveryRef)
}
