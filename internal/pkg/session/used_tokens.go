// internal/pkg/session/used_tokens.go
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// UsedTokenSet is a shared single-use guard for action tokens. SET NX makes
// the insert-if-absent atomic across every instance using the same Redis.
type UsedTokenSet struct {
	client redis.UniversalClient
	now    func() time.Time
}

func NewUsedTokenSet(client redis.UniversalClient) *UsedTokenSet {
	return &UsedTokenSet{client: client, now: time.Now}
}

// MarkUsed records tokenID until retainUntil. It returns false when the id
// was already recorded.
func (s *UsedTokenSet) MarkUsed(ctx context.Context, tokenID string, retainUntil time.Time) (bool, error) {
	ttl := retainUntil.Sub(s.now())
	if ttl < time.Second {
		ttl = time.Second
	}

	ok, err := s.client.SetNX(ctx, s.usedKey(tokenID), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark action token used: %w", err)
	}
	return ok, nil
}

// Sweep is a no-op: keys carry their own TTL.
func (s *UsedTokenSet) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	return 0, nil
}

func (s *UsedTokenSet) usedKey(tokenID string) string {
	return fmt.Sprintf("action_token:used:%s", tokenID)
}
