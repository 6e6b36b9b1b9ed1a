package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"payments/internal/domain"
	"payments/internal/flags"
	"payments/internal/provider"
	"payments/internal/providererr"
)

const routerName = "router"

// FlagEvaluator assigns callers to experiment variants.
type FlagEvaluator interface {
	Variant(name string, fc flags.Context) (string, bool)
}

// Selection describes who a routed call is for and what they asked for.
type Selection struct {
	// Type requests a specific provider. Empty means "let the router pick".
	Type   provider.Type
	UserID string
	Groups []string
	// Currency, when set, must be supported by the chosen provider.
	Currency domain.Currency
}

// ProviderStatus is one row of the provider dashboard.
type ProviderStatus struct {
	Type                provider.Type     `json:"type"`
	Name                string            `json:"name"`
	Healthy             bool              `json:"healthy"`
	Primary             bool              `json:"primary"`
	Fallback            bool              `json:"fallback"`
	CircuitState        string            `json:"circuit_state"`
	SupportedCurrencies []domain.Currency `json:"supported_currencies"`
	Metrics             provider.Snapshot `json:"metrics"`
}

// PaymentService owns the configured providers and decides which one serves
// each call. It is built once by the composition root and passed around.
type PaymentService struct {
	logger        *zap.Logger
	flags         FlagEvaluator
	healthTimeout time.Duration

	mu        sync.RWMutex
	providers map[provider.Type]provider.Provider
	order     []provider.Type
	primary   provider.Type
	fallback  provider.Type

	health singleflight.Group
}

// Option configures a PaymentService.
type Option func(*PaymentService)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *PaymentService) { s.logger = l }
}

// WithFlags enables the provider routing experiment.
func WithFlags(f FlagEvaluator) Option {
	return func(s *PaymentService) { s.flags = f }
}

// WithHealthTimeout bounds each provider health check.
func WithHealthTimeout(d time.Duration) Option {
	return func(s *PaymentService) { s.healthTimeout = d }
}

// NewPaymentService creates an empty router.
func NewPaymentService(opts ...Option) *PaymentService {
	s := &PaymentService{
		logger:        zap.NewNop(),
		healthTimeout: 5 * time.Second,
		providers:     make(map[provider.Type]provider.Provider),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds a provider. Registering the same type twice replaces the
// instance but keeps its position.
func (s *PaymentService) Register(p provider.Provider) error {
	if p == nil {
		return ErrNilProvider
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.providers[p.Type()]; !ok {
		s.order = append(s.order, p.Type())
	}
	s.providers[p.Type()] = p
	s.logger.Info("payment provider registered",
		zap.String("type", string(p.Type())),
		zap.String("name", p.Name()),
	)
	return nil
}

// SetPrimary designates the default provider. Operator action; the type
// does not have to be registered yet.
func (s *PaymentService) SetPrimary(t provider.Type) error {
	if _, err := provider.ParseType(string(t)); err != nil {
		return fmt.Errorf("%w: %v", ErrUnknownProviderType, err)
	}
	s.mu.Lock()
	prev := s.primary
	s.primary = t
	_, registered := s.providers[t]
	s.mu.Unlock()

	s.logger.Warn("primary payment provider changed",
		zap.String("from", string(prev)),
		zap.String("to", string(t)),
		zap.Bool("registered", registered),
	)
	return nil
}

// SetFallback designates the provider used when the primary is not
// registered. An empty type clears it.
func (s *PaymentService) SetFallback(t provider.Type) error {
	if t != "" {
		if _, err := provider.ParseType(string(t)); err != nil {
			return fmt.Errorf("%w: %v", ErrUnknownProviderType, err)
		}
	}
	s.mu.Lock()
	prev := s.fallback
	s.fallback = t
	s.mu.Unlock()

	s.logger.Warn("fallback payment provider changed",
		zap.String("from", string(prev)),
		zap.String("to", string(t)),
	)
	return nil
}

// Primary returns the configured primary type.
func (s *PaymentService) Primary() provider.Type {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.primary
}

// Fallback returns the configured fallback type.
func (s *PaymentService) Fallback() provider.Type {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fallback
}

// Providers returns the registered providers in registration order.
func (s *PaymentService) Providers() []provider.Provider {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]provider.Provider, 0, len(s.order))
	for _, t := range s.order {
		out = append(out, s.providers[t])
	}
	return out
}

// Lookup returns the provider registered for t without any routing. Follow-up
// operations on an existing transaction use it to stay on the owning provider.
func (s *PaymentService) Lookup(t provider.Type) (provider.Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.providers[t]; ok {
		return p, nil
	}
	return nil, providererr.Newf(routerName, providererr.CodeNoProviderAvailable, "provider %q is not registered", t)
}

// GetProvider resolves a provider in order: routing experiment variant,
// explicitly requested type, primary, fallback.
func (s *PaymentService) GetProvider(ctx context.Context, sel Selection) (provider.Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if t, ok := s.experimentLocked(sel); ok {
		if p, ok := s.providers[t]; ok {
			return p, nil
		}
	}
	if sel.Type != "" {
		if p, ok := s.providers[sel.Type]; ok {
			return p, nil
		}
	}
	if p, ok := s.providers[s.primary]; ok && s.primary != "" {
		return p, nil
	}
	if p, ok := s.providers[s.fallback]; ok && s.fallback != "" {
		return p, nil
	}
	return nil, providererr.New(routerName, providererr.CodeNoProviderAvailable, "no payment provider is available")
}

func (s *PaymentService) experimentLocked(sel Selection) (provider.Type, bool) {
	if s.flags == nil || sel.UserID == "" {
		return "", false
	}
	variant, ok := s.flags.Variant(flags.ProviderRouting, flags.Context{UserID: sel.UserID, Groups: sel.Groups})
	if !ok || variant == flags.Control || variant == "" {
		return "", false
	}
	return provider.Type(variant), true
}

// GetProviderForCurrency returns the first registered provider that supports
// c and passes a live health check.
func (s *PaymentService) GetProviderForCurrency(ctx context.Context, c domain.Currency) (provider.Provider, error) {
	for _, p := range s.Providers() {
		if !p.SupportsCurrency(c) {
			continue
		}
		if s.healthy(ctx, p) {
			return p, nil
		}
	}
	return nil, providererr.Newf(routerName, providererr.CodeNoProviderAvailable, "no healthy provider supports %s", c)
}

// GetHealthyProvider checks the primary first, then every other provider in
// registration order. Types in exclude are skipped.
func (s *PaymentService) GetHealthyProvider(ctx context.Context, exclude ...provider.Type) (provider.Provider, error) {
	skip := make(map[provider.Type]bool, len(exclude))
	for _, t := range exclude {
		skip[t] = true
	}

	s.mu.RLock()
	candidates := make([]provider.Provider, 0, len(s.order))
	if p, ok := s.providers[s.primary]; ok && !skip[s.primary] {
		candidates = append(candidates, p)
	}
	for _, t := range s.order {
		if t != s.primary && !skip[t] {
			candidates = append(candidates, s.providers[t])
		}
	}
	s.mu.RUnlock()

	for _, p := range candidates {
		if s.healthy(ctx, p) {
			return p, nil
		}
	}
	return nil, providererr.New(routerName, providererr.CodeNoHealthyProvider, "no healthy payment providers")
}

// GetProviderMetrics health-checks every provider concurrently and returns
// its status and metrics snapshot in registration order.
func (s *PaymentService) GetProviderMetrics(ctx context.Context) ([]ProviderStatus, error) {
	providers := s.Providers()
	primary, fallback := s.Primary(), s.Fallback()
	out := make([]ProviderStatus, len(providers))

	g, gctx := errgroup.WithContext(ctx)
	for i, p := range providers {
		i, p := i, p
		g.Go(func() error {
			out[i] = ProviderStatus{
				Type:                p.Type(),
				Name:                p.Name(),
				Healthy:             s.healthy(gctx, p),
				Primary:             p.Type() == primary,
				Fallback:            p.Type() == fallback,
				CircuitState:        p.BreakerState(),
				SupportedCurrencies: p.SupportedCurrencies(),
				Metrics:             p.Metrics(),
			}
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// ResetCircuit closes a provider's breaker. Operator action.
func (s *PaymentService) ResetCircuit(t provider.Type) error {
	p, err := s.Lookup(t)
	if err != nil {
		return err
	}
	p.ResetBreaker()
	s.logger.Warn("circuit breaker reset by operator", zap.String("type", string(t)))
	return nil
}

// healthy runs one health check per provider at a time; concurrent callers
// share the in-flight result. The shared call is detached from any single
// caller's cancellation.
func (s *PaymentService) healthy(ctx context.Context, p provider.Provider) bool {
	ch := s.health.DoChan(string(p.Type()), func() (any, error) {
		hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.healthTimeout)
		defer cancel()
		return nil, p.HealthCheck(hctx)
	})

	select {
	case <-ctx.Done():
		return false
	case res := <-ch:
		if res.Err != nil {
			s.logger.Debug("provider health check failed",
				zap.String("type", string(p.Type())),
				zap.Error(res.Err),
			)
			return false
		}
		return true
	}
}
