package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"payments/internal/apperror"
	"payments/internal/provider"
	"payments/internal/providererr"
	"payments/internal/result"
)

// Operation is one call against a provider.
type Operation[T any] func(ctx context.Context, p provider.Provider) (T, error)

// Execute runs op on the provider chosen for sel. When the chosen provider's
// circuit is open the call never reached it, so Execute moves on to the next
// healthy provider. Any other failure is returned as is.
func Execute[T any](ctx context.Context, s *PaymentService, sel Selection, name string, op Operation[T]) result.Result[T] {
	p, err := s.selectProvider(ctx, sel)
	if err != nil {
		return result.Err[T](err)
	}

	tried := []provider.Type{p.Type()}
	for {
		res := invoke(ctx, s, p, name, op)
		if !providererr.IsCode(res.Error(), providererr.CodeCircuitOpen) {
			return res
		}

		next, err := s.GetHealthyProvider(ctx, tried...)
		if err != nil {
			s.logger.Warn("failover exhausted",
				zap.String("operation", name),
				zap.Strings("tried", typeStrings(tried)),
			)
			return res
		}
		if sel.Currency != "" && !next.SupportsCurrency(sel.Currency) {
			tried = append(tried, next.Type())
			continue
		}
		s.logger.Warn("failing over to another provider",
			zap.String("operation", name),
			zap.String("from", string(p.Type())),
			zap.String("to", string(next.Type())),
		)
		tried = append(tried, next.Type())
		p = next
	}
}

// ExecuteOn runs op on the provider registered for t. Operations on an
// existing transaction or customer use it because only the owning provider
// knows about them.
func ExecuteOn[T any](ctx context.Context, s *PaymentService, t provider.Type, name string, op Operation[T]) result.Result[T] {
	p, err := s.Lookup(t)
	if err != nil {
		return result.Err[T](err)
	}
	return invoke(ctx, s, p, name, op)
}

func (s *PaymentService) selectProvider(ctx context.Context, sel Selection) (provider.Provider, error) {
	p, err := s.GetProvider(ctx, sel)
	if err != nil {
		return nil, err
	}
	if sel.Currency == "" || p.SupportsCurrency(sel.Currency) {
		return p, nil
	}
	return s.GetProviderForCurrency(ctx, sel.Currency)
}

// invoke converts a panic in op into a non-operational internal error.
func invoke[T any](ctx context.Context, s *PaymentService, p provider.Provider, name string, op Operation[T]) (res result.Result[T]) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("provider operation panicked",
				zap.String("operation", name),
				zap.String("provider", p.Name()),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			res = result.Err[T](apperror.Internal(fmt.Errorf("%s on %s panicked: %v", name, p.Name(), r)))
		}
	}()

	v, err := op(ctx, p)
	return result.From(v, err)
}

func typeStrings(ts []provider.Type) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = string(t)
	}
	return out
}
