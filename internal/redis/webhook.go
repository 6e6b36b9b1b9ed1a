package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// WebhookEventTTL bounds how long a handled event id is remembered. Providers
// stop redelivering well within a day.
const WebhookEventTTL = 24 * time.Hour

// WebhookStore records which webhook events have been claimed for processing.
type WebhookStore struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewWebhookStore creates a new WebhookStore.
func NewWebhookStore(client redis.Cmdable) *WebhookStore {
	return &WebhookStore{client: client, ttl: WebhookEventTTL}
}

func webhookKey(provider, eventID string) string {
	return fmt.Sprintf("webhook:%s:%s", provider, eventID)
}

// Claim marks an event as being processed.
// Returns true if this caller claimed it, false if it was already claimed.
func (s *WebhookStore) Claim(ctx context.Context, provider, eventID string) (bool, error) {
	ok, err := s.client.SetNX(ctx, webhookKey(provider, eventID), time.Now().UTC().Format(time.RFC3339), s.ttl).Result()
	if err != nil {
		return false, err
	}

	return ok, nil
}

// Release forgets a claim so the provider's redelivery is processed again.
func (s *WebhookStore) Release(ctx context.Context, provider, eventID string) error {
	return s.client.Del(ctx, webhookKey(provider, eventID)).Err()
}
