package cache

import (
	"context"
	"time"
)

// BalanceCache fronts account balance lookups. The store remains the source
// of truth; a miss or error simply falls through to the repository.
type BalanceCache interface {
	Get(ctx context.Context, accountID string) (int64, bool, error)
	Set(ctx context.Context, accountID string, balanceCents int64, ttl time.Duration) error
	Invalidate(ctx context.Context, accountIDs ...string) error
}

type NoopBalanceCache struct{}

func (NoopBalanceCache) Get(_ context.Context, _ string) (int64, bool, error) {
	return 0, false, nil
}

func (NoopBalanceCache) Set(_ context.Context, _ string, _ int64, _ time.Duration) error {
	return nil
}

func (NoopBalanceCache) Invalidate(_ context.Context, _ ...string) error {
	return nil
}
