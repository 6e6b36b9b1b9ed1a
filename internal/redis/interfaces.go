package redis

import "context"

// WebhookStoreInterface defines the interface for webhook event deduplication.
type WebhookStoreInterface interface {
	Claim(ctx context.Context, provider, eventID string) (bool, error)
	Release(ctx context.Context, provider, eventID string) error
}

// CacheStoreInterface defines the interface for the provider dashboard cache.
type CacheStoreInterface interface {
	GetProviderStatus(ctx context.Context, dest any) (bool, error)
	SetProviderStatus(ctx context.Context, status any) error
	InvalidateProviderStatus(ctx context.Context) error
}

// Ensure concrete types implement interfaces.
var (
	_ WebhookStoreInterface = (*WebhookStore)(nil)
	_ CacheStoreInterface   = (*CacheStore)(nil)
)
