package services

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-mpesa-checkout/internal/domain"
	"github.com/tbourn/go-mpesa-checkout/internal/repo"
)

// DefaultIdempotencyTTL is how long a recorded result answers retries.
const DefaultIdempotencyTTL = 24 * time.Hour

// IdempotencyService records and looks up Idempotency-Key results per scope.
type IdempotencyService struct {
	DB  *gorm.DB
	TTL time.Duration
}

// Lookup returns the live record for (scope, key), or nil when there is none.
func (s *IdempotencyService) Lookup(ctx context.Context, scope, key string, now time.Time) (*domain.Idempotency, error) {
	rec, err := repo.GetIdempotency(ctx, s.DB, scope, key, now)
	if err != nil {
		if repo.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return rec, nil
}

// Exists has the middleware.IdempotencyLookup shape.
func (s *IdempotencyService) Exists(ctx context.Context, scope, key string, now time.Time) (bool, error) {
	rec, err := s.Lookup(ctx, scope, key, now)
	return rec != nil, err
}

// Remember stores the result of the first request. A concurrent first request
// that already stored the key is not an error.
func (s *IdempotencyService) Remember(ctx context.Context, scope, key, resourceID string, status int) error {
	ttl := s.TTL
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	_, err := repo.CreateIdempotency(ctx, s.DB, scope, key, resourceID, status, ttl)
	if errors.Is(err, repo.ErrDuplicate) {
		return nil
	}
	return err
}
