package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the hold only when the caller still owns it, so a
// hold that expired and was re-taken by someone else is never clobbered.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// SlotHold keeps a short-lived soft reservation in Redis while a checkout is
// pending. It reduces the odds of paying for a slot that is already spoken
// for; the database unique index remains the actual guarantee.
type SlotHold struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewSlotHold(client redis.UniversalClient, ttl time.Duration) *SlotHold {
	if client == nil {
		panic("settlement: redis client is required")
	}
	return &SlotHold{client: client, ttl: ttl}
}

func holdKey(therapistID uuid.UUID, date, startTime string) string {
	return fmt.Sprintf("slothold:%s:%s:%s", therapistID, date, startTime)
}

// Acquire takes the hold for the given slot. It returns a release token and
// false if someone else already holds it.
func (h *SlotHold) Acquire(ctx context.Context, therapistID uuid.UUID, date, startTime string) (string, bool, error) {
	token := uuid.NewString()
	ok, err := h.client.SetNX(ctx, holdKey(therapistID, date, startTime), token, h.ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("settlement: acquire hold: %w", err)
	}
	return token, ok, nil
}

// Release frees the hold if the token still owns it. Expired or re-taken
// holds are left alone.
func (h *SlotHold) Release(ctx context.Context, therapistID uuid.UUID, date, startTime, token string) error {
	err := releaseScript.Run(ctx, h.client, []string{holdKey(therapistID, date, startTime)}, token).Err()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("settlement: release hold: %w", err)
	}
	return nil
}
