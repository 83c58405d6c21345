package shared

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// IdempotencyPort remembers request keys so a resubmitted create is refused.
// A key is claimed before the work starts and released if the work fails.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// ErrIdempotencyConflict indicates the key was already claimed.
var ErrIdempotencyConflict = wrapKind("idempotent request already processed", ErrConflict)

var errIdempotencyKey = wrapKind("idempotency key and module required", ErrValidation)

// IdempotencyStore claims keys in the idempotency_keys table.
type IdempotencyStore struct {
	pool *pgxpool.Pool
}

// NewIdempotencyStore constructs the store.
func NewIdempotencyStore(pool *pgxpool.Pool) *IdempotencyStore {
	return &IdempotencyStore{pool: pool}
}

// CheckAndInsert claims key for module. The claim commits on its own so that
// two concurrent requests with the same key cannot both pass.
func (s *IdempotencyStore) CheckAndInsert(ctx context.Context, key, module string) error {
	key, module = strings.TrimSpace(key), strings.TrimSpace(module)
	if key == "" || module == "" {
		return errIdempotencyKey
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO idempotency_keys (key, module) VALUES ($1, $2) ON CONFLICT (key) DO NOTHING`,
		key, module)
	if err != nil {
		return fmt.Errorf("claim idempotency key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrIdempotencyConflict, key)
	}
	return nil
}

// Delete releases a claimed key.
func (s *IdempotencyStore) Delete(ctx context.Context, key string) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("idempotency key required")
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE key = $1`, key)
	return err
}
